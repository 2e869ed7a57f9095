// Package command runs external sensor adapters. An adapter is any
// executable that prints a single JSON object on stdout and exits 0.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ghalamif/aegis-poller/internal/domain"
	"github.com/ghalamif/aegis-poller/internal/ports"
)

const (
	stderrTail = 512
	waitDelay  = time.Second
)

type Config struct {
	Executable string
	Arguments  []string
	// Timeout bounds a single invocation; zero waits for the adapter indefinitely.
	Timeout time.Duration
}

type Reader struct {
	name string
	cfg  Config
}

func NewReader(name string, cfg Config) (*Reader, error) {
	if cfg.Executable == "" {
		return nil, fmt.Errorf("%w: group %q: executable is required", domain.ErrConfig, name)
	}
	return &Reader{name: name, cfg: cfg}, nil
}

func (r *Reader) Name() string { return r.name }

func (r *Reader) Read(ctx context.Context) (domain.Reading, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cfg.Executable, r.cfg.Arguments...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s exited with %d: %s",
				domain.ErrAdapterInvocation, r.cfg.Executable, exitErr.ExitCode(), tail(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrAdapterInvocation, r.cfg.Executable, err)
	}

	return Decode(stdout.Bytes())
}

// Decode parses one JSON object and keeps its numeric fields. Non-numeric
// fields are dropped; a declared metric missing from the result is the
// caller's concern.
func Decode(out []byte) (domain.Reading, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(out), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v (output %q)", domain.ErrAdapterDecode, err, tail(string(out)))
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: output is null", domain.ErrAdapterDecode)
	}

	reading := make(domain.Reading, len(raw))
	for key, msg := range raw {
		var v float64
		if err := json.Unmarshal(msg, &v); err != nil {
			continue
		}
		reading[key] = v
	}
	return reading, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return "..." + s[len(s)-stderrTail:]
	}
	return s
}

var _ ports.SensorReader = (*Reader)(nil)
