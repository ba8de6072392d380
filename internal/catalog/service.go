// internal/catalog/service.go
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher reads the current full snapshot of the source feed.
type Fetcher interface {
	Fetch(ctx context.Context) (*Table, error)
}

// Store is the persistent side of the reconciliation.
type Store interface {
	Index(ctx context.Context) ([]IndexEntry, error)
	Insert(ctx context.Context, rec Record, syncedAt time.Time) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, rec Record, syncedAt time.Time) error
	DeleteMany(ctx context.Context, ids []uuid.UUID) (int64, error)
}
