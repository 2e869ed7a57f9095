package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/aegis-poller/internal/adapters/store"
	"github.com/ghalamif/aegis-poller/internal/domain"
	"github.com/ghalamif/aegis-poller/internal/ports"
)

func TestWorkerPollsAndRecordsOnFirstOpportunity(t *testing.T) {
	st := store.NewMemStore()
	reader := &stubReader{results: []readResult{{reading: domain.Reading{"temp": 21.4}}}}
	rec := &stubRecorder{}
	obs := &stubObs{}

	w := newTestWorker(t, Group{
		Name:              "kitchen",
		Metrics:           []domain.MetricSpec{{Name: "temp", Type: "temperature"}},
		PollingInterval:   20 * time.Millisecond,
		RecordingInterval: time.Hour,
	}, reader, st, rec, obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := runWorker(ctx, w)

	waitFor(t, func() bool { return rec.count() >= 1 && reader.count() >= 3 })
	cancel()
	waitDone(t, done)

	got, ok := st.Get("temp")
	if !ok || got.Value != 21.4 {
		t.Fatalf("expected temp 21.4 in store, got %+v (ok=%v)", got, ok)
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("expected a single recording within the hour window, got %d", len(records))
	}
	if records[0].Metric != "temp" || records[0].Type != "temperature" || records[0].Value != 21.4 {
		t.Fatalf("unexpected record %+v", records[0])
	}
	if records[0].Time.IsZero() || records[0].Time.Location() != time.UTC {
		t.Fatalf("expected UTC poll timestamp on the record, got %s", records[0].Time)
	}
	if w.State().LastRecording.IsZero() || w.State().LastPoll.IsZero() {
		t.Fatalf("expected poll and recording times to be set, got %+v", w.State())
	}
}

func TestWorkerAdapterFailureLeavesStoreAndContinues(t *testing.T) {
	st := store.NewMemStore()
	reader := &stubReader{
		results: []readResult{
			{err: domain.ErrAdapterInvocation},
			{reading: domain.Reading{"temp": 19}},
		},
	}
	var absentOnSecondCall bool
	reader.onCall = func(call int) {
		if call == 2 {
			_, ok := st.Get("temp")
			absentOnSecondCall = !ok
		}
	}
	rec := &stubRecorder{}
	obs := &stubObs{}

	w := newTestWorker(t, Group{
		Name:              "cellar",
		Metrics:           []domain.MetricSpec{{Name: "temp", Type: "temperature"}},
		PollingInterval:   20 * time.Millisecond,
		RecordingInterval: time.Hour,
	}, reader, st, rec, obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := runWorker(ctx, w)
	waitFor(t, func() bool { return rec.count() >= 1 })
	cancel()
	waitDone(t, done)

	if !absentOnSecondCall {
		t.Fatalf("failed poll must not write to the store")
	}
	if obs.errorCount("poll_failed") != 1 {
		t.Fatalf("expected exactly one poll_failed, got %d", obs.errorCount("poll_failed"))
	}
	if got, _ := st.Get("temp"); got.Value != 19 {
		t.Fatalf("expected next iteration to populate the store, got %+v", got)
	}
}

func TestWorkerNeverRecordsWithoutSuccessfulPoll(t *testing.T) {
	st := store.NewMemStore()
	reader := &stubReader{results: []readResult{{err: domain.ErrAdapterInvocation}}}
	rec := &stubRecorder{}

	w := newTestWorker(t, Group{
		Name:              "broken",
		Metrics:           []domain.MetricSpec{{Name: "temp", Type: "temperature"}},
		PollingInterval:   10 * time.Millisecond,
		RecordingInterval: time.Millisecond,
	}, reader, st, rec, &stubObs{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runWorker(ctx, w)
	waitFor(t, func() bool { return reader.count() >= 4 })
	cancel()
	waitDone(t, done)

	if rec.count() != 0 {
		t.Fatalf("expected no recording, got %d", rec.count())
	}
}

func TestWorkerPartialDecodeKeepsEarlierMetrics(t *testing.T) {
	st := store.NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	reader := &stubReader{
		results: []readResult{{reading: domain.Reading{"main_power": 1200}}},
		onCall:  func(int) { cancel() },
	}
	rec := &stubRecorder{}
	obs := &stubObs{}

	w := newTestWorker(t, Group{
		Name: "meter",
		Metrics: []domain.MetricSpec{
			{Name: "main_power", Type: "power"},
			{Name: "energy_index", Type: "power"},
		},
		PollingInterval:   time.Minute,
		RecordingInterval: time.Minute,
	}, reader, st, rec, obs)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, ok := st.Get("main_power"); !ok {
		t.Fatalf("expected metric before the missing field to be written")
	}
	if _, ok := st.Get("energy_index"); ok {
		t.Fatalf("expected missing metric to stay absent")
	}
	if !w.State().LastPoll.IsZero() {
		t.Fatalf("partial poll must not count as successful")
	}
	if rec.count() != 0 {
		t.Fatalf("expected no recording after a partial poll")
	}
	if !errors.Is(obs.firstError("poll_failed"), domain.ErrAdapterDecode) {
		t.Fatalf("expected ErrAdapterDecode to be logged, got %v", obs.firstError("poll_failed"))
	}
}

func TestWorkerRejectedRecordDoesNotAbortCycle(t *testing.T) {
	st := store.NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	reader := &stubReader{
		results: []readResult{{reading: domain.Reading{"a": 1, "b": 2}}},
		onCall:  func(int) { cancel() },
	}
	rec := &stubRecorder{errs: map[string]error{
		"a": &domain.RejectedError{Metric: "a", StatusCode: 500, Status: "500 Internal Server Error"},
	}}
	obs := &stubObs{}

	w := newTestWorker(t, Group{
		Name:              "pair",
		Metrics:           []domain.MetricSpec{{Name: "a", Type: "t"}, {Name: "b", Type: "t"}},
		PollingInterval:   time.Minute,
		RecordingInterval: time.Minute,
	}, reader, st, rec, obs)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if rec.count() != 2 {
		t.Fatalf("expected both metrics to be posted, got %d", rec.count())
	}
	if obs.errorCount("recording_rejected") != 1 {
		t.Fatalf("expected one rejection logged, got %d", obs.errorCount("recording_rejected"))
	}
	if w.State().LastRecording.IsZero() {
		t.Fatalf("expected the cycle to count as recorded")
	}
}

func TestWorkerTransportErrorAbortsCycle(t *testing.T) {
	st := store.NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	reader := &stubReader{
		results: []readResult{{reading: domain.Reading{"a": 1, "b": 2}}},
		onCall:  func(int) { cancel() },
	}
	rec := &stubRecorder{errs: map[string]error{"a": domain.ErrForwardTransport}}
	obs := &stubObs{}

	w := newTestWorker(t, Group{
		Name:              "pair",
		Metrics:           []domain.MetricSpec{{Name: "a", Type: "t"}, {Name: "b", Type: "t"}},
		PollingInterval:   time.Minute,
		RecordingInterval: time.Minute,
	}, reader, st, rec, obs)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected the cycle to stop after the transport error, got %d posts", rec.count())
	}
	if !w.State().LastRecording.IsZero() {
		t.Fatalf("expected LastRecording to stay unset after a transport error")
	}
	if obs.errorCount("recording_failed") != 1 {
		t.Fatalf("expected recording_failed to be logged")
	}
}

func TestWorkerWarnsAboutMissedIterations(t *testing.T) {
	interval := time.Minute
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			return t0
		}
		return t0.Add(3*interval + time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reader := &stubReader{
		results: []readResult{{err: domain.ErrAdapterInvocation}},
		onCall:  func(int) { cancel() },
	}
	obs := &stubObs{}

	w := newTestWorker(t, Group{
		Name:              "slow",
		Metrics:           []domain.MetricSpec{{Name: "temp", Type: "temperature"}},
		PollingInterval:   interval,
		RecordingInterval: 2 * interval,
	}, reader, store.NewMemStore(), &stubRecorder{}, obs, WithClock(clock))

	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := obs.warnValue("polling_missed", "missed"); got != 3 {
		t.Fatalf("expected 3 missed polling iterations, got %v", got)
	}
	if got := obs.warnValue("recording_missed", "missed"); got != 1 {
		t.Fatalf("expected 1 missed recording iteration, got %v", got)
	}
}

func TestWorkerStopInterruptsSleep(t *testing.T) {
	reader := &stubReader{results: []readResult{{reading: domain.Reading{"temp": 1}}}}
	w := newTestWorker(t, Group{
		Name:              "hourly",
		Metrics:           []domain.MetricSpec{{Name: "temp", Type: "temperature"}},
		PollingInterval:   time.Hour,
		RecordingInterval: time.Hour,
	}, reader, store.NewMemStore(), &stubRecorder{}, &stubObs{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runWorker(ctx, w)
	waitFor(t, func() bool { return reader.count() == 1 })

	start := time.Now()
	cancel()
	waitDone(t, done)
	if time.Since(start) > time.Second {
		t.Fatalf("expected stop to interrupt the sleep promptly")
	}
}

func TestNewWorkerValidates(t *testing.T) {
	good := Group{Name: "g", PollingInterval: time.Second, RecordingInterval: time.Second}
	if _, err := NewWorker(Group{}, &stubReader{}, store.NewMemStore(), &stubRecorder{}, &stubObs{}); err == nil {
		t.Fatalf("expected error for unnamed group")
	}
	if _, err := NewWorker(Group{Name: "g"}, &stubReader{}, store.NewMemStore(), &stubRecorder{}, &stubObs{}); err == nil {
		t.Fatalf("expected error for zero intervals")
	}
	if _, err := NewWorker(good, nil, store.NewMemStore(), &stubRecorder{}, &stubObs{}); err == nil {
		t.Fatalf("expected error for nil reader")
	}
}

func newTestWorker(t *testing.T, g Group, r ports.SensorReader, st ports.MetricStore, rec ports.Recorder, obs ports.Observability, opts ...Option) *Worker {
	t.Helper()
	w, err := NewWorker(g, r, st, rec, obs, opts...)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func runWorker(ctx context.Context, w *Worker) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
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

type readResult struct {
	reading domain.Reading
	err     error
}

// stubReader replays results in order and repeats the last one.
type stubReader struct {
	mu      sync.Mutex
	results []readResult
	calls   int
	onCall  func(call int)
}

func (s *stubReader) Read(context.Context) (domain.Reading, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	idx := call - 1
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	var res readResult
	if idx >= 0 {
		res = s.results[idx]
	}
	onCall := s.onCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(call)
	}
	return res.reading, res.err
}

func (s *stubReader) Name() string { return "stub" }

func (s *stubReader) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubRecorder struct {
	mu      sync.Mutex
	errs    map[string]error
	records []domain.Record
}

func (s *stubRecorder) Record(_ context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.errs[rec.Metric]
}

func (s *stubRecorder) Name() string { return "stub" }

func (s *stubRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *stubRecorder) all() []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Record(nil), s.records...)
}

type logEntry struct {
	msg    string
	err    error
	fields []ports.Field
}

type stubObs struct {
	mu     sync.Mutex
	warns  []logEntry
	errors []logEntry
}

func (s *stubObs) LogDebug(string, ...ports.Field) {}
func (s *stubObs) LogInfo(string, ...ports.Field)  {}

func (s *stubObs) LogWarn(msg string, fields ...ports.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warns = append(s.warns, logEntry{msg: msg, fields: fields})
}

func (s *stubObs) LogError(msg string, err error, fields ...ports.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, logEntry{msg: msg, err: err, fields: fields})
}

func (s *stubObs) LogCritical(msg string, err error, fields ...ports.Field) {
	s.LogError(msg, err, fields...)
}

func (s *stubObs) IncCounter(string, string, float64)     {}
func (s *stubObs) ObserveLatency(string, string, float64) {}
func (s *stubObs) SetGauge(string, string, float64)       {}

func (s *stubObs) errorCount(msg string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.errors {
		if e.msg == msg {
			n++
		}
	}
	return n
}

func (s *stubObs) firstError(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.errors {
		if e.msg == msg {
			return e.err
		}
	}
	return nil
}

func (s *stubObs) warnValue(msg, key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.warns {
		if e.msg != msg {
			continue
		}
		for _, f := range e.fields {
			if f.Key == key {
				return f.Value
			}
		}
	}
	return nil
}
