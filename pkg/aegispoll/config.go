package aegispoll

import (
	"github.com/ghalamif/aegis-poller/internal/adapters/opcua"
	"github.com/ghalamif/aegis-poller/internal/app/config"
	"github.com/ghalamif/aegis-poller/internal/domain"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// SensorGroup is one poller: an adapter plus the metrics it produces.
	SensorGroup = config.SensorGroup
	// MetricSpec names a metric and the recording type it is posted as.
	MetricSpec = domain.MetricSpec
	// OPCUAConfig holds the session details of an opcua group.
	OPCUAConfig = opcua.Config
	// RecordingConfig tunes the HTTP recorder.
	RecordingConfig = config.RecordingConfig
	// MetricsConfig configures the Prometheus listener.
	MetricsConfig = config.MetricsConfig
	// Duration accepts seconds or Go duration strings in YAML.
	Duration = config.Duration
)

const (
	SourceExec  = config.SourceExec
	SourceOPCUA = config.SourceOPCUA
	MetricsOff  = config.MetricsOff
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes and validates an in-memory document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
