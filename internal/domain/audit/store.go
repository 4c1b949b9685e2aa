package audit

import "context"

// Store persists audit records.
// Implementations handle their own buffering; AuditService batches calls.
type Store interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...Record) error
	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// QueryStore provides read access to audit records, newest first.
type QueryStore interface {
	// Query returns records matching filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Record, error)
}
