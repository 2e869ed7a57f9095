package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ghalamif/aegis-poller/internal/adapters/observability"
	"github.com/ghalamif/aegis-poller/internal/ports"
)

func TestSupervisorStopsEveryPollerAndServer(t *testing.T) {
	obs, logs := newObs(t)
	srv := &stubServer{}
	a, b := &blockingRunner{name: "kitchen"}, &blockingRunner{name: "meter"}

	sup, err := New([]Runner{a, b}, srv, obs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, func() bool { return a.started.Load() && b.started.Load() })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	if !srv.started.Load() || !srv.stopped.Load() {
		t.Fatalf("expected query server to be started and shut down")
	}
	entries := logs.FilterMessage("polling").All()
	if len(entries) != 1 {
		t.Fatalf("expected one polling log line, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["groups"]; got == nil || !strings.Contains(toString(got), "kitchen") {
		t.Fatalf("expected group names in polling line, got %v", got)
	}
	if logs.FilterMessage("worker_died").Len() != 0 {
		t.Fatalf("no poller should be reported dead on a clean stop")
	}
}

func TestSupervisorReportsPanickedPollerWithoutRestart(t *testing.T) {
	reg := prometheus.NewRegistry()
	core, logs := observer.New(zapcore.DebugLevel)
	obs := observability.NewPromObs(zap.New(core), reg)

	crashing := &panicRunner{name: "broken"}
	healthy := &blockingRunner{name: "kitchen"}
	sup, err := New([]Runner{crashing, healthy}, &stubServer{}, obs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, func() bool { return logs.FilterMessage("worker_died").Len() == 1 && healthy.started.Load() })

	time.Sleep(20 * time.Millisecond)
	if n := crashing.calls.Load(); n != 1 {
		t.Fatalf("crashed poller must not be restarted, ran %d times", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	died := logs.FilterMessage("worker_died").All()[0]
	if died.ContextMap()["group"] != "broken" {
		t.Fatalf("expected group field, got %v", died.ContextMap())
	}
	if msg, _ := died.ContextMap()["error"].(string); !strings.Contains(msg, "sensor exploded") {
		t.Fatalf("expected panic value in error, got %q", msg)
	}

	expected := `
# HELP aegis_worker_deaths_total Pollers that terminated before shutdown.
# TYPE aegis_worker_deaths_total counter
aegis_worker_deaths_total{group="broken"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), ports.WorkerDeathsTotal); err != nil {
		t.Fatalf("unexpected worker death counter: %v", err)
	}
}

func TestSupervisorReportsEarlyReturn(t *testing.T) {
	obs, logs := newObs(t)
	sup, err := New([]Runner{&returningRunner{name: "quitter", err: errors.New("adapter gone")}}, &stubServer{}, obs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, func() bool { return logs.FilterMessage("worker_died").Len() == 1 })

	select {
	case <-done:
		t.Fatal("supervisor must keep serving until stopped")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestSupervisorServerStartFailure(t *testing.T) {
	obs, _ := newObs(t)
	r := &blockingRunner{name: "kitchen"}
	sup, err := New([]Runner{r}, &stubServer{startErr: errors.New("address in use")}, obs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := sup.Run(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if r.started.Load() {
		t.Fatalf("pollers must not start when the query server fails")
	}
}

func TestSupervisorJoinsShutdownError(t *testing.T) {
	obs, _ := newObs(t)
	sup, err := New([]Runner{&blockingRunner{name: "kitchen"}}, &stubServer{stopErr: errors.New("boom")}, obs,
		WithShutdownTimeout(time.Second))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sup.Run(ctx); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected shutdown error, got %v", err)
	}
}

func TestNewRequiresPollers(t *testing.T) {
	obs, _ := newObs(t)
	if _, err := New(nil, &stubServer{}, obs); err == nil {
		t.Fatalf("expected error without pollers")
	}
}

func newObs(t *testing.T) (*observability.PromObs, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return observability.NewPromObs(zap.New(core), nil), logs
}

func toString(v any) string {
	switch s := v.(type) {
	case []string:
		return strings.Join(s, ",")
	case []any:
		parts := make([]string, 0, len(s))
		for _, p := range s {
			if str, ok := p.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

type blockingRunner struct {
	name    string
	started atomic.Bool
}

func (r *blockingRunner) Name() string { return r.name }

func (r *blockingRunner) Run(ctx context.Context) error {
	r.started.Store(true)
	<-ctx.Done()
	return nil
}

type panicRunner struct {
	name  string
	calls atomic.Int32
}

func (r *panicRunner) Name() string { return r.name }

func (r *panicRunner) Run(context.Context) error {
	r.calls.Add(1)
	panic("sensor exploded")
}

type returningRunner struct {
	name string
	err  error
}

func (r *returningRunner) Name() string              { return r.name }
func (r *returningRunner) Run(context.Context) error { return r.err }

type stubServer struct {
	startErr error
	stopErr  error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (s *stubServer) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started.Store(true)
	return nil
}

func (s *stubServer) Shutdown(context.Context) error {
	s.stopped.Store(true)
	return s.stopErr
}
