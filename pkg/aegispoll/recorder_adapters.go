package aegispoll

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelRecorderClosed is returned when a channel recorder is written to after being closed.
var ErrChannelRecorderClosed = errors.New("aegispoll: channel recorder closed")

// RecordFunc handles one value leaving the poller.
type RecordFunc func(ctx context.Context, rec Record) error

// NewCallbackRecorder adapts a RecordFunc into a Recorder so callers can plug
// arbitrary functions without defining structs. Returning an error wrapping
// ErrForwardRejected skips only that value; any other error ends the cycle.
func NewCallbackRecorder(name string, fn RecordFunc) Recorder {
	if name == "" {
		name = "callback"
	}
	return &callbackRecorder{name: name, fn: fn}
}

// NewChannelRecorder exposes records via a channel; it returns the recorder, the read-only
// channel, and a close function that the caller should invoke during shutdown.
func NewChannelRecorder(name string, buffer int) (Recorder, <-chan Record, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Record, buffer)
	r := &channelRecorder{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return r, ch, func() { r.close() }
}

type callbackRecorder struct {
	name string
	fn   RecordFunc
}

func (r *callbackRecorder) Record(ctx context.Context, rec Record) error {
	if r.fn == nil {
		return fmt.Errorf("callback recorder %q: nil handler", r.name)
	}
	return r.fn(ctx, rec)
}

func (r *callbackRecorder) Name() string { return r.name }

type channelRecorder struct {
	name   string
	ch     chan Record
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (r *channelRecorder) Record(ctx context.Context, rec Record) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	select {
	case <-r.closed:
		return ErrChannelRecorderClosed
	default:
	}

	select {
	case <-r.closed:
		return ErrChannelRecorderClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrForwardTransport, ctx.Err())
	case r.ch <- rec:
		return nil
	}
}

func (r *channelRecorder) Name() string { return r.name }

func (r *channelRecorder) close() {
	r.once.Do(func() {
		close(r.closed)
		r.mu.Lock()
		close(r.ch)
		r.mu.Unlock()
	})
}
