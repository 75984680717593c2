package actions

import (
	"context"
	"sync"

	"github.com/kr1s57/tkguard/internal/entity"
)

// MemoryAudit keeps the most recent ban records in a ring buffer. It backs
// the audit endpoint when no ClickHouse is configured.
type MemoryAudit struct {
	mu      sync.Mutex
	records []entity.AuditRecord
	next    int
	full    bool
}

// NewMemoryAudit keeps up to capacity records
func NewMemoryAudit(capacity int) *MemoryAudit {
	if capacity <= 0 {
		capacity = 500
	}
	return &MemoryAudit{records: make([]entity.AuditRecord, capacity)}
}

func (m *MemoryAudit) RecordBan(ctx context.Context, rec *entity.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[m.next] = *rec
	m.next = (m.next + 1) % len(m.records)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// ListRecent returns up to limit records, newest first
func (m *MemoryAudit) ListRecent(ctx context.Context, limit int) ([]entity.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.full {
		size = len(m.records)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]entity.AuditRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.records)) % len(m.records)
		out = append(out, m.records[idx])
	}
	return out, nil
}
