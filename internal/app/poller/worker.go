// Package poller runs one cadence loop per sensor group: poll the adapter,
// cache the values, decide whether to forward them, then sleep until the
// next phase-aligned tick.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/aegis-poller/internal/domain"
	"github.com/ghalamif/aegis-poller/internal/ports"
)

// Group is the immutable per-worker view of a sensor group configuration.
type Group struct {
	Name              string
	Metrics           []domain.MetricSpec
	PollingInterval   time.Duration
	RecordingInterval time.Duration
}

// Option tunes a Worker at construction.
type Option func(*Worker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker polls and records one sensor group.
type Worker struct {
	group    Group
	reader   ports.SensorReader
	store    ports.MetricStore
	recorder ports.Recorder
	obs      ports.Observability
	now      func() time.Time

	state State
}

// NewWorker checks the group and its collaborators; it does not start polling.
func NewWorker(g Group, reader ports.SensorReader, store ports.MetricStore, rec ports.Recorder, obs ports.Observability, opts ...Option) (*Worker, error) {
	switch {
	case g.Name == "":
		return nil, errors.New("poller: group name is required")
	case g.PollingInterval <= 0 || g.RecordingInterval <= 0:
		return nil, fmt.Errorf("poller %s: intervals must be positive", g.Name)
	case reader == nil || store == nil || rec == nil || obs == nil:
		return nil, fmt.Errorf("poller %s: reader, store, recorder and observability are required", g.Name)
	}

	w := &Worker{
		group:    g,
		reader:   reader,
		store:    store,
		recorder: rec,
		obs:      obs,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

func (w *Worker) Name() string { return w.group.Name }

// State returns a copy of the worker bookkeeping. Only safe once Run returned.
func (w *Worker) State() State { return w.state }

// Run loops until ctx is cancelled. Poll and record calls already in flight
// are not interrupted; cancellation is observed before each iteration and
// during the sleep.
func (w *Worker) Run(ctx context.Context) error {
	w.state = State{Start: w.now()}
	callCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			w.obs.LogInfo("poller_stopping", w.field())
			return nil
		}

		now := w.now()
		w.obs.LogDebug("poller_iteration", w.field())

		w.poll(callCtx, now)
		if missed := MissedIterations(now, w.state.pollReference(), w.group.PollingInterval); missed > 0 {
			w.obs.LogWarn("polling_missed", w.field(), ports.Field{Key: "missed", Value: missed})
			w.obs.IncCounter(ports.PollingMissedTotal, w.group.Name, float64(missed))
		}

		w.record(callCtx, now)
		if missed := MissedIterations(now, w.state.recordingReference(), w.group.RecordingInterval); missed > 0 {
			w.obs.LogWarn("recording_missed", w.field(), ports.Field{Key: "missed", Value: missed})
			w.obs.IncCounter(ports.RecordingMissedTotal, w.group.Name, float64(missed))
		}

		if !w.sleep(ctx) {
			w.obs.LogInfo("poller_stopping", w.field())
			return nil
		}
	}
}

// poll reads the adapter and writes every declared metric. A missing field
// aborts the group after the metrics before it were already written.
func (w *Worker) poll(ctx context.Context, now time.Time) {
	start := time.Now()
	reading, err := w.reader.Read(ctx)
	w.obs.ObserveLatency(ports.PollLatency, w.group.Name, time.Since(start).Seconds())
	if err != nil {
		w.pollFailed(err)
		return
	}
	w.obs.LogDebug("poll_result", w.field(), ports.Field{Key: "reading", Value: reading})

	for _, m := range w.group.Metrics {
		v, ok := reading[m.Name]
		if !ok {
			w.pollFailed(fmt.Errorf("%w: field %q missing from %s output", domain.ErrAdapterDecode, m.Name, w.reader.Name()))
			return
		}
		w.store.Set(m.Name, v, now)
		w.obs.SetGauge(ports.SensorValue, m.Name, v)
	}

	w.state.LastPoll = w.now()
	w.obs.IncCounter(ports.PollsTotal, w.group.Name, 1)
}

func (w *Worker) pollFailed(err error) {
	w.obs.LogError("poll_failed", err, w.field())
	w.obs.IncCounter(ports.PollFailuresTotal, w.group.Name, 1)
}

// record forwards the cached value of every metric of the group. A refused
// value is logged and the cycle goes on; any other error aborts the cycle
// and keeps LastRecording so the next attempt follows the normal cadence.
func (w *Worker) record(ctx context.Context, now time.Time) {
	if !ShouldRecord(w.state, now, w.group.RecordingInterval) {
		return
	}

	start := time.Now()
	defer func() {
		w.obs.ObserveLatency(ports.RecordingLatency, w.group.Name, time.Since(start).Seconds())
	}()

	for _, m := range w.group.Metrics {
		sample, ok := w.store.Get(m.Name)
		if !ok {
			w.obs.LogError("recording_skipped", fmt.Errorf("no sample cached for %s", m.Name), w.field())
			continue
		}

		w.obs.LogDebug("recording_post", w.field(), ports.Field{Key: "metric", Value: m.Name})
		err := w.recorder.Record(ctx, domain.Record{
			Metric: m.Name,
			Type:   m.Type,
			Value:  sample.Value,
			Time:   sample.Timestamp,
		})
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrForwardRejected):
			w.obs.LogError("recording_rejected", err, w.field(), ports.Field{Key: "metric", Value: m.Name})
			w.obs.IncCounter(ports.RecordingRejectedTotal, w.group.Name, 1)
		default:
			w.obs.LogError("recording_failed", err, w.field(), ports.Field{Key: "metric", Value: m.Name})
			w.obs.IncCounter(ports.RecordingFailuresTotal, w.group.Name, 1)
			return
		}
	}

	w.state.LastRecording = now
	w.obs.IncCounter(ports.RecordingsTotal, w.group.Name, 1)
}

func (w *Worker) sleep(ctx context.Context) bool {
	d := SleepDuration(w.now(), w.state.Start, w.group.PollingInterval)
	w.obs.LogDebug("poller_sleeping", w.field(), ports.Field{Key: "duration", Value: d})

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) field() ports.Field {
	return ports.Field{Key: "group", Value: w.group.Name}
}
