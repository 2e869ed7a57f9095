package ports

import (
	"time"

	"github.com/ghalamif/aegis-poller/internal/domain"
)

// MetricStore keeps the latest sample per metric name.
type MetricStore interface {
	Set(name string, value float64, ts time.Time)
	Get(name string) (domain.MetricSample, bool)
	Names() []string
}
