package aegispoll

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ghalamif/aegis-poller/internal/adapters/command"
	"github.com/ghalamif/aegis-poller/internal/adapters/observability"
	"github.com/ghalamif/aegis-poller/internal/adapters/opcua"
	"github.com/ghalamif/aegis-poller/internal/adapters/recorder"
	"github.com/ghalamif/aegis-poller/internal/adapters/store"
	"github.com/ghalamif/aegis-poller/internal/app/poller"
	"github.com/ghalamif/aegis-poller/internal/app/query"
	"github.com/ghalamif/aegis-poller/internal/app/supervisor"
	"github.com/ghalamif/aegis-poller/internal/ports"
)

const shutdownTimeout = 5 * time.Second

// ReaderFactory builds the SensorReader of a group. Returning (nil, nil)
// falls back to the built-in readers for that group.
type ReaderFactory func(g SensorGroup) (SensorReader, error)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	store         MetricStore
	recorder      Recorder
	observability Observability
	logger        *zap.Logger
	readers       ReaderFactory
	clock         func() time.Time
}

// WithStore shares a metric store with the caller, e.g. to read values in-process.
func WithStore(s MetricStore) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.store = s
	}
}

// WithRecorder replaces the HTTP recorder so values can be sent to any database or API.
func WithRecorder(r Recorder) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.recorder = r
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithLogger sets the zap logger of the default observability backend.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithReaderFactory lets callers supply readers for custom sources (MQTT, Modbus, simulators, etc.).
func WithReaderFactory(f ReaderFactory) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.readers = f
	}
}

// WithClock replaces time.Now in every poller.
func WithClock(now func() time.Time) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.clock = now
	}
}

// Runtime wires one poller per sensor group, the query server and the
// Prometheus listener, and exposes simple lifecycle hooks for embedding the
// poller inside any Go service.
type Runtime struct {
	cfg        *Config
	obs        ports.Observability
	store      ports.MetricStore
	recorder   ports.Recorder
	readers    []ports.SensorReader
	workers    []*poller.Worker
	query      *query.Server
	sup        *supervisor.Supervisor
	registry   *prometheus.Registry
	metricsSrv *http.Server
	metricsLn  net.Listener
}

// NewRuntime builds the default adapters (command or OPC UA readers, in-memory
// store, HTTP recorder, zap + Prometheus observability). Callers can use
// RuntimeOption values to override any dependency.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	obs := overrides.observability
	if obs == nil {
		logger := overrides.logger
		if logger == nil {
			var err error
			if logger, err = observability.NewLogger("info"); err != nil {
				return nil, err
			}
		}
		obs = observability.NewPromObs(logger, registry)
	}

	st := overrides.store
	if st == nil {
		st = store.NewMemStore()
	}

	rec := overrides.recorder
	if rec == nil {
		var err error
		rec, err = recorder.NewHTTPRecorder(recorder.Config{
			PostURL:   cfg.PostURL,
			APIKey:    cfg.RecordingAPIKey,
			UserAgent: cfg.Recording.UserAgent,
			Timeout:   cfg.Recording.Timeout.Std(),
		})
		if err != nil {
			return nil, err
		}
	}

	var pollerOpts []poller.Option
	if overrides.clock != nil {
		pollerOpts = append(pollerOpts, poller.WithClock(overrides.clock))
	}

	rt := &Runtime{
		cfg:      cfg,
		obs:      obs,
		store:    st,
		recorder: rec,
		registry: registry,
	}

	runners := make([]supervisor.Runner, 0, len(cfg.SensorGroups))
	for _, g := range cfg.SensorGroups {
		reader, err := buildReader(g, overrides.readers)
		if err != nil {
			return nil, err
		}
		rt.readers = append(rt.readers, reader)

		w, err := poller.NewWorker(poller.Group{
			Name:              g.Name,
			Metrics:           g.Metrics,
			PollingInterval:   g.Polling(),
			RecordingInterval: g.Recording(),
		}, reader, st, rec, obs, pollerOpts...)
		if err != nil {
			return nil, err
		}
		rt.workers = append(rt.workers, w)
		runners = append(runners, w)
	}

	rt.query = query.NewServer(cfg.QueryAddr(), query.NewHandler(cfg.MetricNames(), st), obs)

	sup, err := supervisor.New(runners, rt.query, obs, supervisor.WithShutdownTimeout(shutdownTimeout))
	if err != nil {
		return nil, err
	}
	rt.sup = sup
	return rt, nil
}

// Conf loads YAML from disk and builds a runtime in one step.
func Conf(path string, opts ...RuntimeOption) (*Runtime, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewRuntime(cfg, opts...)
}

// Store gives read access to the latest sample of every metric.
func (r *Runtime) Store() MetricStore { return r.store }

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *Config { return r.cfg }

// Run starts the metrics listener and blocks in the supervisor until ctx is
// cancelled, then releases everything the runtime opened.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	if err := r.startMetrics(); err != nil {
		return err
	}

	runErr := r.sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, r.Shutdown(shutdownCtx))
}

// Shutdown stops the metrics server and closes readers holding sessions.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	for _, reader := range r.readers {
		if c, ok := reader.(interface{ Close(context.Context) error }); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close reader %s: %w", reader.Name(), err))
			}
		}
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() error {
	if !r.cfg.MetricsEnabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", r.cfg.Metrics.Addr, err)
	}
	r.metricsLn = ln
	r.metricsSrv = &http.Server{Handler: mux}

	go func() {
		if err := r.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err, ports.Field{Key: "addr", Value: ln.Addr().String()})
		}
	}()
	return nil
}

// MetricsAddr is the bound Prometheus listener address, empty when disabled
// or not started.
func (r *Runtime) MetricsAddr() string {
	if r.metricsLn == nil {
		return ""
	}
	return r.metricsLn.Addr().String()
}

func buildReader(g SensorGroup, factory ReaderFactory) (SensorReader, error) {
	if factory != nil {
		reader, err := factory(g)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}
		if reader != nil {
			return reader, nil
		}
	}

	switch g.Source {
	case SourceOPCUA:
		nodes := make([]opcua.Node, 0, len(g.Metrics))
		for _, m := range g.Metrics {
			nodes = append(nodes, opcua.Node{Metric: m.Name, NodeID: m.NodeID})
		}
		return opcua.NewReader(g.Name, g.OPCUA, nodes, g.Timeout.Std())
	case SourceExec, "":
		return command.NewReader(g.Name, command.Config{
			Executable: g.Executable,
			Arguments:  g.Arguments,
			Timeout:    g.Timeout.Std(),
		})
	default:
		return nil, fmt.Errorf("%w: group %q: unknown source %q", ErrConfig, g.Name, g.Source)
	}
}

// QueryAddr is the address of the query server, bound once Run started.
func (r *Runtime) QueryAddr() string { return r.query.Addr() }
