package observability

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ghalamif/aegis-poller/internal/ports"
)

// PromObs logs through zap and exports counters, latencies and the last
// value of every metric to Prometheus.
type PromObs struct {
	log      *zap.Logger
	counters map[string]*prometheus.CounterVec
	histos   map[string]*prometheus.HistogramVec
	gauges   map[string]*prometheus.GaugeVec
}

func NewPromObs(logger *zap.Logger, reg prometheus.Registerer) *PromObs {
	if logger == nil {
		logger = zap.NewNop()
	}

	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"group"})
	}
	latency := func(name, help string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"group"})
	}

	p := &PromObs{
		log: logger,
		counters: map[string]*prometheus.CounterVec{
			ports.PollsTotal:             counter(ports.PollsTotal, "Successful sensor group polls."),
			ports.PollFailuresTotal:      counter(ports.PollFailuresTotal, "Failed sensor group polls."),
			ports.PollingMissedTotal:     counter(ports.PollingMissedTotal, "Polling iterations missed due to drift or failures."),
			ports.RecordingsTotal:        counter(ports.RecordingsTotal, "Recording cycles completed."),
			ports.RecordingFailuresTotal: counter(ports.RecordingFailuresTotal, "Recording cycles aborted by transport errors."),
			ports.RecordingRejectedTotal: counter(ports.RecordingRejectedTotal, "Recorded values refused by the endpoint."),
			ports.RecordingMissedTotal:   counter(ports.RecordingMissedTotal, "Recording iterations missed."),
			ports.WorkerDeathsTotal:      counter(ports.WorkerDeathsTotal, "Pollers that terminated before shutdown."),
		},
		histos: map[string]*prometheus.HistogramVec{
			ports.PollLatency:      latency(ports.PollLatency, "Duration of one sensor adapter invocation."),
			ports.RecordingLatency: latency(ports.RecordingLatency, "Duration of one recording cycle."),
		},
		gauges: map[string]*prometheus.GaugeVec{
			ports.SensorValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: ports.SensorValue,
				Help: "Last polled value of a metric.",
			}, []string{"metric"}),
		},
	}

	if reg != nil {
		for _, c := range p.counters {
			reg.MustRegister(c)
		}
		for _, h := range p.histos {
			reg.MustRegister(h)
		}
		for _, g := range p.gauges {
			reg.MustRegister(g)
		}
	}
	return p
}

// NewLogger builds the console logger used by the daemon. Level is one of
// debug, info, warn (warning is accepted too).
func NewLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch strings.ToLower(level) {
	case "warning":
		lvl = zapcore.WarnLevel
	case "":
		lvl = zapcore.InfoLevel
	default:
		if err := lvl.Set(strings.ToLower(level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	cfg.Sampling = nil
	return cfg.Build()
}

func (p *PromObs) Logger() *zap.Logger { return p.log }

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.log.Debug(msg, toZap(fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, toZap(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, toZap(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(toZap(fields), zap.Error(err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.DPanic(msg, append(toZap(fields), zap.Error(err))...)
}

func (p *PromObs) IncCounter(name, group string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.WithLabelValues(group).Add(v)
	}
}

func (p *PromObs) ObserveLatency(name, group string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.WithLabelValues(group).Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name, metric string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.WithLabelValues(metric).Set(v)
	}
}

func toZap(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
