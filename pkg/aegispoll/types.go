package aegispoll

import (
	"github.com/ghalamif/aegis-poller/internal/domain"
	"github.com/ghalamif/aegis-poller/internal/ports"
)

// Reading is one decoded adapter output: metric name to value.
type Reading = domain.Reading

// MetricSample is the latest cached value of a metric and the time it was polled.
type MetricSample = domain.MetricSample

// Record is a single value handed to a Recorder.
type Record = domain.Record

// SensorReader produces one Reading per poll (external command, OPC UA, simulators, etc.).
type SensorReader = ports.SensorReader

// Recorder forwards cached values to a recording backend.
type Recorder = ports.Recorder

// MetricStore holds the latest sample of every metric.
type MetricStore = ports.MetricStore

// Observability emits logs and metrics about polling and recording.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// RejectedError carries the status of a recording the endpoint refused.
type RejectedError = domain.RejectedError

// Error taxonomy, usable with errors.Is.
var (
	ErrAdapterInvocation = domain.ErrAdapterInvocation
	ErrAdapterDecode     = domain.ErrAdapterDecode
	ErrForwardTransport  = domain.ErrForwardTransport
	ErrForwardRejected   = domain.ErrForwardRejected
	ErrConfig            = domain.ErrConfig
)
