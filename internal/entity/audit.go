package entity

import (
	"time"

	"github.com/google/uuid"
)

// AuditActor identifies bans issued by the engine in the audit trail
const AuditActor = "policy-engine"

// Audit record status
const (
	AuditStatusIssued = "issued"
	AuditStatusFailed = "failed"
)

// BanCommand is sent to the moderation backend
type BanCommand struct {
	PlayerID        string
	PlayerName      string
	DurationSeconds int64
	BlacklistID     *int
	Reason          string
	By              string
}

// AuditRecord is written for every ban verdict, whatever the backend outcome
type AuditRecord struct {
	ID              uuid.UUID `json:"id" ch:"id"`
	Timestamp       time.Time `json:"timestamp" ch:"timestamp"`
	VerdictID       uuid.UUID `json:"verdict_id" ch:"verdict_id"`
	PlayerID        string    `json:"player_id" ch:"player_id"`
	PlayerName      string    `json:"player_name" ch:"player_name"`
	Reason          string    `json:"reason" ch:"reason"`
	DurationSeconds int64     `json:"duration_seconds" ch:"duration_seconds"`
	BlacklistID     *int32    `json:"blacklist_id" ch:"blacklist_id"`
	TeamKillCount   uint32    `json:"team_kill_count" ch:"team_kill_count"`
	Status          string    `json:"status" ch:"status"`
	Error           string    `json:"error" ch:"error"`
	Attempts        uint8     `json:"attempts" ch:"attempts"`
	PerformedBy     string    `json:"performed_by" ch:"performed_by"`
}
