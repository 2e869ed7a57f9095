package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/aegis-poller/internal/adapters/opcua"
	"github.com/ghalamif/aegis-poller/internal/domain"
)

const (
	SourceExec  = "exec"
	SourceOPCUA = "opcua"

	MetricsOff = "off"
)

type Config struct {
	SensorGroups             []SensorGroup     `yaml:"polling_conf"`
	HTTPPort                 int               `yaml:"http_port"`
	DefaultPollingInterval   Duration          `yaml:"default_polling_interval"`
	DefaultRecordingInterval Duration          `yaml:"default_recording_interval"`
	RecordingAPIKey          string            `yaml:"recording_api_key"`
	PostURL                  map[string]string `yaml:"post_url"`
	Recording                RecordingConfig   `yaml:"recording"`
	Metrics                  MetricsConfig     `yaml:"metrics"`
}

type SensorGroup struct {
	Name              string              `yaml:"name"`
	Source            string              `yaml:"source"`
	Executable        string              `yaml:"executable"`
	Arguments         []string            `yaml:"arguments"`
	OPCUA             opcua.Config        `yaml:"opcua"`
	Metrics           []domain.MetricSpec `yaml:"metrics"`
	PollingInterval   Duration            `yaml:"polling_interval"`
	RecordingInterval Duration            `yaml:"recording_interval"`
	Timeout           Duration            `yaml:"timeout"`
}

type RecordingConfig struct {
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document strictly, fills defaults and validates it.
func Parse(raw []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", domain.ErrConfig)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	for i := range c.SensorGroups {
		g := &c.SensorGroups[i]
		if g.Source == "" {
			g.Source = SourceExec
		}
		if g.PollingInterval == 0 {
			g.PollingInterval = c.DefaultPollingInterval
		}
		if g.RecordingInterval == 0 {
			g.RecordingInterval = c.DefaultRecordingInterval
		}
		if g.Source == SourceOPCUA {
			g.OPCUA.ApplyDefaults()
		}
	}
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be within 1..65535, got %d", c.HTTPPort)
	}
	if len(c.SensorGroups) == 0 {
		return errors.New("polling_conf must list at least one sensor group")
	}

	groups := make(map[string]struct{}, len(c.SensorGroups))
	metrics := make(map[string]string)
	for i, g := range c.SensorGroups {
		if g.Name == "" {
			return fmt.Errorf("polling_conf[%d].name is required", i)
		}
		if _, dup := groups[g.Name]; dup {
			return fmt.Errorf("polling_conf[%d]: duplicate group name %q", i, g.Name)
		}
		groups[g.Name] = struct{}{}

		switch g.Source {
		case SourceExec:
			if g.Executable == "" {
				return fmt.Errorf("group %q: executable is required", g.Name)
			}
		case SourceOPCUA:
			if err := g.OPCUA.Validate(); err != nil {
				return fmt.Errorf("group %q: opcua: %w", g.Name, err)
			}
		default:
			return fmt.Errorf("group %q: unknown source %q", g.Name, g.Source)
		}

		if g.PollingInterval <= 0 {
			return fmt.Errorf("group %q: polling_interval missing and no default_polling_interval", g.Name)
		}
		if g.RecordingInterval <= 0 {
			return fmt.Errorf("group %q: recording_interval missing and no default_recording_interval", g.Name)
		}
		if g.Timeout < 0 {
			return fmt.Errorf("group %q: timeout must not be negative", g.Name)
		}

		if len(g.Metrics) == 0 {
			return fmt.Errorf("group %q: at least one metric is required", g.Name)
		}
		for j, m := range g.Metrics {
			if m.Name == "" || m.Type == "" {
				return fmt.Errorf("group %q: metrics[%d] needs name and type", g.Name, j)
			}
			if owner, dup := metrics[m.Name]; dup {
				return fmt.Errorf("metric %q declared by both %q and %q", m.Name, owner, g.Name)
			}
			metrics[m.Name] = g.Name
			if c.PostURL[m.Type] == "" {
				return fmt.Errorf("metric %q: no post_url for type %q", m.Name, m.Type)
			}
			if g.Source == SourceOPCUA {
				if m.NodeID == "" {
					return fmt.Errorf("metric %q: node_id is required for opcua groups", m.Name)
				}
				if _, err := opcua.ParseNodeID(m.NodeID); err != nil {
					return fmt.Errorf("metric %q: %w", m.Name, err)
				}
			}
		}
	}

	if c.Recording.Timeout < 0 {
		return errors.New("recording.timeout must not be negative")
	}
	return nil
}

// MetricNames lists every configured metric in declaration order.
func (c *Config) MetricNames() []string {
	var names []string
	for _, g := range c.SensorGroups {
		for _, m := range g.Metrics {
			names = append(names, m.Name)
		}
	}
	return names
}

// QueryAddr is the listen address of the query server.
func (c *Config) QueryAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// MetricsEnabled reports whether the Prometheus listener should run.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Addr != MetricsOff
}

func (g SensorGroup) Polling() time.Duration   { return g.PollingInterval.Std() }
func (g SensorGroup) Recording() time.Duration { return g.RecordingInterval.Std() }
