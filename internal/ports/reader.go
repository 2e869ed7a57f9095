package ports

import (
	"context"

	"github.com/ghalamif/aegis-poller/internal/domain"
)

// SensorReader performs one blocking read of a sensor group.
type SensorReader interface {
	Read(ctx context.Context) (domain.Reading, error)
	Name() string
}
