// Package query serves the latest cached value of every configured metric
// over plain HTTP.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ghalamif/aegis-poller/internal/ports"
)

// Handler answers GET / with the configured metric names and GET /<metric>
// with the cached sample. Everything else is a 404.
type Handler struct {
	names []string
	known map[string]struct{}
	store ports.MetricStore
}

// NewHandler keeps names in the given order; it is the order of the listing.
func NewHandler(names []string, store ports.MetricStore) *Handler {
	known := make(map[string]struct{}, len(names))
	ordered := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := known[n]; dup {
			continue
		}
		known[n] = struct{}{}
		ordered = append(ordered, n)
	}
	return &Handler{names: ordered, known: known, store: store}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		h.list(w)
		return
	}
	if strings.Contains(path, "/") {
		http.NotFound(w, r)
		return
	}
	if _, ok := h.known[path]; !ok {
		http.NotFound(w, r)
		return
	}
	sample, ok := h.store.Get(path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := json.Marshal(sample)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) list(w http.ResponseWriter) {
	var b strings.Builder
	for _, n := range h.names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

// Server owns the listener of the query endpoint.
type Server struct {
	addr string
	obs  ports.Observability
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func NewServer(addr string, h http.Handler, obs ports.Observability) *Server {
	return &Server{
		addr: addr,
		obs:  obs,
		srv:  &http.Server{Handler: h},
	}
}

// Start binds the listener synchronously so a busy port is reported to the
// caller, then serves in the background.
func (s *Server) Start() error {
	if s.ln != nil {
		return errors.New("query server already started")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("query server listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.done = make(chan struct{})

	s.obs.LogInfo("query_server_listening", ports.Field{Key: "addr", Value: ln.Addr().String()})
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.obs.LogError("query_server_exited", err)
		}
	}()
	return nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("query server shutdown: %w", err)
	}
	<-s.done
	return nil
}
