package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/ghalamif/aegis-poller/internal/domain"
	"github.com/ghalamif/aegis-poller/internal/ports"
)

const DefaultUserAgent = "aegis-poller/1 (+sensor recording)"

type Config struct {
	// PostURL maps a metric type to its recording endpoint.
	PostURL   map[string]string
	APIKey    string
	UserAgent string
	// Timeout bounds one POST; zero means no client-side timeout.
	Timeout time.Duration
}

type payload struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Time   string  `json:"time"`
}

// HTTPRecorder posts single values to the recording API. Only 201 Created
// counts as accepted.
type HTTPRecorder struct {
	cfg    Config
	client *http.Client
}

func NewHTTPRecorder(cfg Config) (*HTTPRecorder, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	client, err := newHTTPClient(cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &HTTPRecorder{cfg: cfg, client: client}, nil
}

// NewHTTPRecorderWithClient is used when the caller owns the transport.
func NewHTTPRecorderWithClient(cfg Config, client *http.Client) *HTTPRecorder {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &HTTPRecorder{cfg: cfg, client: client}
}

func (h *HTTPRecorder) Name() string { return "http" }

func (h *HTTPRecorder) Record(ctx context.Context, rec domain.Record) error {
	url, ok := h.cfg.PostURL[rec.Type]
	if !ok || url == "" {
		return fmt.Errorf("%w: no post_url for metric type %q", domain.ErrConfig, rec.Type)
	}

	body, err := json.Marshal(payload{
		Metric: rec.Metric,
		Value:  rec.Value,
		Time:   rec.Time.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrForwardTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	req.Header.Set("X-API-KEY", h.cfg.APIKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post %s: %v", domain.ErrForwardTransport, rec.Metric, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusCreated {
		return &domain.RejectedError{
			Metric:     rec.Metric,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}
	return nil
}

// newHTTPClient keeps one pooled transport per recorder and lets TLS
// endpoints negotiate HTTP/2.
func newHTTPClient(timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

var _ ports.Recorder = (*HTTPRecorder)(nil)
