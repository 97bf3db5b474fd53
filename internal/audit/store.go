// Package audit persists the mutation history.
package audit

import (
	"context"

	"github.com/tkingovr/adminsync/api"
)

// Store defines the interface for mutation record persistence and retrieval.
type Store interface {
	// Write appends a mutation record.
	Write(ctx context.Context, record *api.MutationRecord) error

	// Query retrieves records matching the filter, oldest first.
	Query(ctx context.Context, filter api.QueryFilter) ([]*api.MutationRecord, error)

	// Stats returns aggregate statistics.
	Stats(ctx context.Context) (*api.AuditStats, error)

	// Subscribe returns a channel that receives new records in real time.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context) (<-chan *api.MutationRecord, func())

	// Close shuts down the store and flushes any buffers.
	Close() error
}
