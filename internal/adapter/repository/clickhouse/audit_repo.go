package clickhouse

import (
	"context"
	"fmt"

	"github.com/kr1s57/tkguard/internal/entity"
)

const auditTableDDL = `
	CREATE TABLE IF NOT EXISTS tk_ban_audit (
		id               UUID,
		timestamp        DateTime64(3, 'UTC'),
		verdict_id       UUID,
		player_id        String,
		player_name      String,
		reason           String,
		duration_seconds Int64,
		blacklist_id     Nullable(Int32),
		team_kill_count  UInt32,
		status           LowCardinality(String),
		error            String,
		attempts         UInt8,
		performed_by     LowCardinality(String)
	) ENGINE = MergeTree()
	ORDER BY (timestamp, player_id)
	TTL toDateTime(timestamp) + INTERVAL 1 YEAR
`

// AuditRepository stores the ban audit trail
type AuditRepository struct {
	conn *Connection
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(conn *Connection) *AuditRepository {
	return &AuditRepository{conn: conn}
}

// EnsureSchema creates the audit table if missing
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, auditTableDDL); err != nil {
		return fmt.Errorf("create tk_ban_audit: %w", err)
	}
	return nil
}

// RecordBan inserts one audit record
func (r *AuditRepository) RecordBan(ctx context.Context, rec *entity.AuditRecord) error {
	query := `
		INSERT INTO tk_ban_audit (
			id, timestamp, verdict_id, player_id, player_name, reason,
			duration_seconds, blacklist_id, team_kill_count, status,
			error, attempts, performed_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if err := r.conn.Exec(ctx, query,
		rec.ID,
		rec.Timestamp,
		rec.VerdictID,
		rec.PlayerID,
		rec.PlayerName,
		rec.Reason,
		rec.DurationSeconds,
		rec.BlacklistID,
		rec.TeamKillCount,
		rec.Status,
		rec.Error,
		rec.Attempts,
		rec.PerformedBy,
	); err != nil {
		return fmt.Errorf("record ban audit: %w", err)
	}

	return nil
}

// ListRecent returns the latest audit records, newest first
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]entity.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			id, timestamp, verdict_id, player_id, player_name, reason,
			duration_seconds, blacklist_id, team_kill_count, status,
			error, attempts, performed_by
		FROM tk_ban_audit
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query ban audit: %w", err)
	}
	defer rows.Close()

	records := []entity.AuditRecord{}
	for rows.Next() {
		var rec entity.AuditRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&rec.VerdictID,
			&rec.PlayerID,
			&rec.PlayerName,
			&rec.Reason,
			&rec.DurationSeconds,
			&rec.BlacklistID,
			&rec.TeamKillCount,
			&rec.Status,
			&rec.Error,
			&rec.Attempts,
			&rec.PerformedBy,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
