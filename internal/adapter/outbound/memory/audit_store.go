// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore keeps the most recent audit records in a ring buffer and
// optionally mirrors each record as a JSON line to a writer.
type AuditStore struct {
	mu      sync.Mutex
	encoder *json.Encoder // nil when not mirroring
	writer  io.Writer
	ring    []audit.Record
	next    int // slot for the next record
	full    bool
}

// NewAuditStore creates a ring-buffer-only store holding capacity records
// (default 1000 when capacity <= 0).
func NewAuditStore(capacity int) *AuditStore {
	return NewAuditStoreWithWriter(nil, capacity)
}

// NewAuditStoreWithWriter creates a store that also writes JSON lines to w.
func NewAuditStoreWithWriter(w io.Writer, capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	s := &AuditStore{
		writer: w,
		ring:   make([]audit.Record, capacity),
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append writes records to the mirror, if any, and the ring buffer.
func (s *AuditStore) Append(_ context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return err
			}
		}
		s.ring[s.next] = r
		s.next = (s.next + 1) % len(s.ring)
		if s.next == 0 {
			s.full = true
		}
	}
	return nil
}

// Flush is a no-op; writes are unbuffered.
func (s *AuditStore) Flush(context.Context) error { return nil }

// Close closes the mirror if it is a file other than stdout or stderr.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Len returns the number of buffered records.
func (s *AuditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return len(s.ring)
	}
	return s.next
}

// GetRecent returns up to n records, newest first.
func (s *AuditStore) GetRecent(n int) []audit.Record {
	return s.collect(audit.Filter{Limit: n}, n)
}

// Query returns buffered records matching filter, newest first.
func (s *AuditStore) Query(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	return s.collect(filter, filter.EffectiveLimit()), nil
}

func (s *AuditStore) collect(filter audit.Filter, limit int) []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = len(s.ring)
	}
	if limit <= 0 || size == 0 {
		return nil
	}

	var result []audit.Record
	for i := 0; i < size && len(result) < limit; i++ {
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		if r := s.ring[idx]; filter.Matches(r) {
			result = append(result, r)
		}
	}
	return result
}

var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
