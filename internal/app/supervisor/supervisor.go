// Package supervisor starts the query server and one poller per sensor
// group, and tears everything down when the stop request arrives.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/ghalamif/aegis-poller/internal/ports"
)

const defaultShutdownTimeout = 5 * time.Second

// Runner is one long-lived poller. Run must return once ctx is cancelled.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Server is the query endpoint lifecycle.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

type Option func(*Supervisor)

// WithShutdownTimeout bounds the query server shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

type Supervisor struct {
	workers         []Runner
	server          Server
	obs             ports.Observability
	shutdownTimeout time.Duration
}

func New(workers []Runner, server Server, obs ports.Observability, opts ...Option) (*Supervisor, error) {
	if len(workers) == 0 {
		return nil, errors.New("supervisor: no pollers to run")
	}
	if server == nil || obs == nil {
		return nil, errors.New("supervisor: server and observability are required")
	}
	s := &Supervisor{
		workers:         workers,
		server:          server,
		obs:             obs,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

type exit struct {
	name string
	err  error
}

// Run blocks until ctx is cancelled and every poller has returned. A poller
// that exits early is reported and left stopped; the others keep going.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.server.Start(); err != nil {
		return err
	}

	names := make([]string, len(s.workers))
	for i, w := range s.workers {
		names[i] = w.Name()
	}
	s.obs.LogInfo("polling", ports.Field{Key: "groups", Value: names})

	exits := make(chan exit, len(s.workers))
	for _, w := range s.workers {
		go func(w Runner) {
			exits <- exit{name: w.Name(), err: runGuarded(ctx, w)}
		}(w)
	}

	var errs []error
	running := len(s.workers)
	done := ctx.Done()
	stopping := false

	for running > 0 || !stopping {
		select {
		case e := <-exits:
			running--
			if stopping || ctx.Err() != nil {
				if e.err != nil {
					errs = append(errs, fmt.Errorf("poller %s: %w", e.name, e.err))
				}
				continue
			}
			err := e.err
			if err == nil {
				err = errors.New("poller returned before stop")
			}
			s.obs.LogError("worker_died", err, ports.Field{Key: "group", Value: e.name})
			s.obs.IncCounter(ports.WorkerDeathsTotal, e.name, 1)
		case <-done:
			stopping = true
			done = nil
			s.obs.LogInfo("stopping", ports.Field{Key: "waiting", Value: running})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	s.obs.LogInfo("stopped")
	return errors.Join(errs...)
}

func runGuarded(ctx context.Context, w Runner) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = w.Run(ctx) })
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}
