package repository

import (
	"context"
)

// SnapshotStore keeps the latest trade payload per symbol. This is
// current state for the admin surface, not trade history.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, symbol string, payload []byte) error
	GetSnapshots(ctx context.Context, symbols []string) ([]string, error)
	Close() error
}
