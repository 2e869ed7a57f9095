package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ghalamif/aegis-poller"
	"github.com/ghalamif/aegis-poller/internal/adapters/observability"
	"github.com/ghalamif/aegis-poller/internal/app/cli"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "watch":
		err = watchCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("aegis-poller %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	opts, err := cli.Resolve(cli.NewFlagSet("run"), args)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := aegispoll.LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.RecordingAPIKey != "" {
		cfg.RecordingAPIKey = opts.RecordingAPIKey
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}

	rt, err := aegispoll.NewRuntime(cfg, aegispoll.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("config", opts.ConfigPath),
		zap.Int("groups", len(cfg.SensorGroups)),
		zap.String("query_addr", cfg.QueryAddr()),
		zap.String("metrics_addr", cfg.Metrics.Addr),
	)
	err = rt.Run(ctx)
	logger.Info("shutdown")
	return err
}

func validateCommand(args []string) error {
	opts, err := cli.Resolve(cli.NewFlagSet("validate"), args)
	if err != nil {
		return err
	}

	cfg, err := aegispoll.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	fmt.Printf("config %s looks good\n", opts.ConfigPath)
	fmt.Printf("query server on %s, metrics on %s\n", cfg.QueryAddr(), cfg.Metrics.Addr)
	for _, g := range cfg.SensorGroups {
		names := make([]string, len(g.Metrics))
		for i, m := range g.Metrics {
			names[i] = m.Name + ":" + m.Type
		}
		fmt.Printf("  %-16s source=%s polling=%s recording=%s metrics=%s\n",
			g.Name, g.Source, g.Polling(), g.Recording(), strings.Join(names, ","))
	}
	return nil
}

func watchCommand(args []string) error {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	url := fs.String("url", "http://localhost:8081", "Query server base URL")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	base := strings.TrimSuffix(*url, "/")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	fmt.Printf("Watching %s (Ctrl+C to stop)\n", base)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printSnapshot(ctx, client, base); err != nil {
				fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
			}
		}
	}
}

func printSnapshot(ctx context.Context, client *http.Client, base string) error {
	names, err := listMetrics(ctx, client, base)
	if err != nil {
		return err
	}

	fmt.Printf("[%s]\n", time.Now().Format(time.RFC3339))
	for _, name := range names {
		sample, ok, err := fetchSample(ctx, client, base+"/"+name)
		switch {
		case err != nil:
			fmt.Printf("  %-16s error: %v\n", name, err)
		case !ok:
			fmt.Printf("  %-16s (no value yet)\n", name)
		default:
			fmt.Printf("  %-16s %g at %s\n", name, sample.Value, sample.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

func listMetrics(ctx context.Context, client *http.Client, base string) ([]string, error) {
	resp, err := get(ctx, client, base+"/")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names = append(names, line)
		}
	}
	return names, scanner.Err()
}

func fetchSample(ctx context.Context, client *http.Client, url string) (aegispoll.MetricSample, bool, error) {
	var sample aegispoll.MetricSample
	resp, err := get(ctx, client, url)
	if err != nil {
		return sample, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return sample, false, nil
	default:
		return sample, false, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return sample, false, err
	}
	return sample, true, nil
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func printUsage() {
	fmt.Printf(`aegis-poller CLI

Usage:
  aegis-poller <command> [flags]

Commands:
  run        Poll every sensor group of the config and serve the latest values
  validate   Load and validate a config file without starting the pollers
  watch      Poll a running query server and print the latest values

Flags of run and validate (also read from AEGIS_POLLER_<NAME>):
  -c, --config              Path to the polling configuration (default ./conf.yml)
  -v, --log-level           debug, info or warn (default info)
      --recording-api-key   Overrides recording_api_key
      --metrics-addr        Overrides metrics.addr ("off" disables)

Examples:
  aegis-poller run -c ./data/config.yaml
  aegis-poller validate -c ./data/config.yaml
  aegis-poller watch --url http://localhost:8081 --interval 1s
`)
}
