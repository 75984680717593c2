package entity

import (
	"time"

	"github.com/google/uuid"
)

// VerdictAction is the outcome of evaluating one team kill
type VerdictAction string

const (
	VerdictIgnore VerdictAction = "ignore"
	VerdictWarn   VerdictAction = "warn"
	VerdictBan    VerdictAction = "ban"
)

// Verdict reasons
const (
	ReasonDisabled          = "disabled"
	ReasonOutsideWindow     = "outside connect window"
	ReasonBanAlreadyIssued  = "ban already issued"
	ReasonExcludedWeapon    = "excluded weapon"
	ReasonWhitelisted       = "whitelisted"
	ReasonEstablishedPlayer = "established player"
	ReasonWithinTolerance   = "team kill within tolerance"
	ReasonToleranceExceeded = "team kill tolerance exceeded"
)

// Verdict is the decision taken for one team kill. DurationSeconds and
// BlacklistID are only meaningful for bans; a non-nil BlacklistID takes
// precedence over the duration.
type Verdict struct {
	ID              uuid.UUID     `json:"id"`
	Action          VerdictAction `json:"action"`
	Reason          string        `json:"reason"`
	PlayerID        string        `json:"player_id"`
	PlayerName      string        `json:"player_name"`
	Weapon          string        `json:"weapon"`
	TeamKillCount   int           `json:"team_kill_count"`
	DurationSeconds int64         `json:"duration_seconds,omitempty"`
	BlacklistID     *int          `json:"blacklist_id,omitempty"`
	EvaluatedAt     time.Time     `json:"evaluated_at"`
}

// IsPermanent returns true for a ban with no expiry and no blacklist entry
func (v *Verdict) IsPermanent() bool {
	return v.Action == VerdictBan && v.BlacklistID == nil && v.DurationSeconds == 0
}
