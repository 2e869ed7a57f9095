package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ghalamif/aegis-poller/internal/domain"
	"github.com/ghalamif/aegis-poller/internal/ports"
)

// MemStore keeps the latest sample per metric name. A single RWMutex is
// enough: each metric is written at most once per polling interval.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]domain.MetricSample
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]domain.MetricSample)}
}

func (s *MemStore) Set(name string, value float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = domain.MetricSample{Value: value, Timestamp: ts.UTC()}
}

func (s *MemStore) Get(name string) (domain.MetricSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.data[name]
	return sample, ok
}

// Names returns the sampled metric names in lexical order.
func (s *MemStore) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

var _ ports.MetricStore = (*MemStore)(nil)
