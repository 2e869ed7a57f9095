// Package cli resolves the daemon runtime options. Flags win over
// AEGIS_POLLER_* environment variables, which win over defaults.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "AEGIS_POLLER"

const (
	keyConfig          = "config"
	keyLogLevel        = "log-level"
	keyRecordingAPIKey = "recording-api-key"
	keyMetricsAddr     = "metrics-addr"
)

// DefaultConfigPath matches the file the poller has always read from its
// working directory.
const DefaultConfigPath = "./conf.yml"

// Options are the settings that live outside the configuration document.
// Empty RecordingAPIKey and MetricsAddr keep the document values.
type Options struct {
	ConfigPath      string
	LogLevel        string
	RecordingAPIKey string
	MetricsAddr     string
}

// NewFlagSet declares the runtime flags of a subcommand.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP(keyConfig, "c", DefaultConfigPath, "Path to the polling configuration file")
	fs.StringP(keyLogLevel, "v", "info", "Log level: debug, info or warn")
	fs.String(keyRecordingAPIKey, "", "Recording API key, overrides recording_api_key")
	fs.String(keyMetricsAddr, "", `Prometheus listener address, overrides metrics.addr ("off" disables)`)
	return fs
}

// Resolve parses args into fs and merges the environment.
func Resolve(fs *pflag.FlagSet, args []string) (Options, error) {
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Options{}, fmt.Errorf("bind flags: %w", err)
	}

	opts := Options{
		ConfigPath:      v.GetString(keyConfig),
		LogLevel:        strings.ToLower(v.GetString(keyLogLevel)),
		RecordingAPIKey: v.GetString(keyRecordingAPIKey),
		MetricsAddr:     v.GetString(keyMetricsAddr),
	}
	switch opts.LogLevel {
	case "debug", "info", "warn", "warning":
	default:
		return Options{}, fmt.Errorf("unknown log level %q", opts.LogLevel)
	}
	if opts.ConfigPath == "" {
		return Options{}, fmt.Errorf("config path is empty")
	}
	return opts, nil
}
