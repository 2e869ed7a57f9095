package aegispoll

import (
	"time"

	"go.uber.org/zap"

	base "github.com/ghalamif/aegis-poller/pkg/aegispoll"
)

// Re-exported errors for convenience.
var (
	ErrAdapterInvocation     = base.ErrAdapterInvocation
	ErrAdapterDecode         = base.ErrAdapterDecode
	ErrForwardTransport      = base.ErrForwardTransport
	ErrForwardRejected       = base.ErrForwardRejected
	ErrConfig                = base.ErrConfig
	ErrChannelRecorderClosed = base.ErrChannelRecorderClosed
)

// Type aliases so consumers can import github.com/ghalamif/aegis-poller directly.
type (
	Config          = base.Config
	SensorGroup     = base.SensorGroup
	MetricSpec      = base.MetricSpec
	OPCUAConfig     = base.OPCUAConfig
	RecordingConfig = base.RecordingConfig
	MetricsConfig   = base.MetricsConfig
	Duration        = base.Duration
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	ReaderFactory   = base.ReaderFactory
	Reading         = base.Reading
	MetricSample    = base.MetricSample
	Record          = base.Record
	RecordFunc      = base.RecordFunc
	RejectedError   = base.RejectedError
	SensorReader    = base.SensorReader
	Recorder        = base.Recorder
	MetricStore     = base.MetricStore
	Observability   = base.Observability
	Field           = base.Field
)

const (
	SourceExec  = base.SourceExec
	SourceOPCUA = base.SourceOPCUA
	MetricsOff  = base.MetricsOff
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Runtime and options.
func Conf(path string, opts ...RuntimeOption) (*Runtime, error) {
	return base.Conf(path, opts...)
}

func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithStore(s MetricStore) RuntimeOption {
	return base.WithStore(s)
}

func WithRecorder(r Recorder) RuntimeOption {
	return base.WithRecorder(r)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithLogger(l *zap.Logger) RuntimeOption {
	return base.WithLogger(l)
}

func WithReaderFactory(f ReaderFactory) RuntimeOption {
	return base.WithReaderFactory(f)
}

func WithClock(now func() time.Time) RuntimeOption {
	return base.WithClock(now)
}

// Recorder adapters.
func NewCallbackRecorder(name string, fn RecordFunc) Recorder {
	return base.NewCallbackRecorder(name, fn)
}

func NewChannelRecorder(name string, buffer int) (Recorder, <-chan Record, func()) {
	return base.NewChannelRecorder(name, buffer)
}
