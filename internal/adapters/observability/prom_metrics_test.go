package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ghalamif/aegis-poller/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(zap.NewNop(), reg)

	obs.IncCounter(ports.PollsTotal, "kitchen", 2)
	if got := testutil.ToFloat64(obs.counters[ports.PollsTotal].WithLabelValues("kitchen")); got != 2 {
		t.Fatalf("expected polls counter 2, got %f", got)
	}

	obs.IncCounter(ports.PollingMissedTotal, "cellar", 3)
	if got := testutil.ToFloat64(obs.counters[ports.PollingMissedTotal].WithLabelValues("cellar")); got != 3 {
		t.Fatalf("expected missed counter 3, got %f", got)
	}

	obs.SetGauge(ports.SensorValue, "temp", 21.4)
	if got := testutil.ToFloat64(obs.gauges[ports.SensorValue].WithLabelValues("temp")); got != 21.4 {
		t.Fatalf("expected sensor gauge 21.4, got %f", got)
	}

	obs.ObserveLatency(ports.PollLatency, "kitchen", 0.5)
	if samples := testutil.CollectAndCount(obs.histos[ports.PollLatency]); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 series, got %d", samples)
	}

	obs.IncCounter("unknown_metric", "kitchen", 1)
	obs.SetGauge("unknown_gauge", "temp", 1)

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestPromObsLogsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	obs := NewPromObs(zap.New(core), nil)

	obs.LogWarn("polling_missed", ports.Field{Key: "group", Value: "kitchen"}, ports.Field{Key: "missed", Value: 2})
	obs.LogError("poll_failed", errors.New("boom"), ports.Field{Key: "group", Value: "kitchen"})

	warns := logs.FilterMessage("polling_missed").All()
	if len(warns) != 1 || warns[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warning, got %+v", warns)
	}
	if warns[0].ContextMap()["group"] != "kitchen" {
		t.Fatalf("expected group field, got %v", warns[0].ContextMap())
	}

	errs := logs.FilterMessage("poll_failed").All()
	if len(errs) != 1 || errs[0].ContextMap()["error"] != "boom" {
		t.Fatalf("expected error entry with error field, got %+v", errs)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "WARNING", ""} {
		if _, err := NewLogger(level); err != nil {
			t.Fatalf("level %q: %v", level, err)
		}
	}
	if _, err := NewLogger("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
