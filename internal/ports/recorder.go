package ports

import (
	"context"

	"github.com/ghalamif/aegis-poller/internal/domain"
)

// Recorder forwards one cached value to the remote recording endpoint.
type Recorder interface {
	Record(ctx context.Context, rec domain.Record) error
	Name() string
}
