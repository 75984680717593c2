// Package tkpolicy decides what happens to a player who team-kills shortly
// after connecting. Everything here is pure: callers own the session
// snapshot and apply counter changes themselves.
package tkpolicy

import (
	"github.com/kr1s57/tkguard/internal/entity"
)

// Decision is the evaluator output. When Tally is true the caller must
// increment the session's team kill counter and call Resolve with the new
// count to obtain the final Warn or Ban verdict.
type Decision struct {
	Verdict entity.Verdict
	Tally   bool
}

// Evaluate runs the exemption chain for one team kill. Rules apply in order
// and the first match wins:
//
//	disabled, outside connect window, ban already issued, excluded weapon,
//	whitelist (flags, VIP, session count), established player.
//
// A team kill that passes every rule is tallied.
func Evaluate(cfg *entity.PolicyConfig, session *entity.PlayerSession, ev *entity.TeamKillEvent) Decision {
	if !cfg.Enabled {
		return ignore(session, ev, entity.ReasonDisabled)
	}

	// The window gates everything, late team kills are never counted
	elapsed := ev.Timestamp.Sub(session.ConnectedAt)
	if elapsed > cfg.MaxTimeAfterConnect() {
		return ignore(session, ev, entity.ReasonOutsideWindow)
	}

	if session.BanIssued {
		return ignore(session, ev, entity.ReasonBanAlreadyIssued)
	}

	if cfg.IsWeaponExcluded(ev.Weapon) {
		return ignore(session, ev, entity.ReasonExcludedWeapon)
	}

	if IsWhitelisted(cfg, session) {
		return ignore(session, ev, entity.ReasonWhitelisted)
	}

	if session.KillCount >= cfg.IgnoreTKAfterNKills || session.DeathCount >= cfg.IgnoreTKAfterNDeaths {
		return ignore(session, ev, entity.ReasonEstablishedPlayer)
	}

	d := ignore(session, ev, "")
	d.Tally = true
	return d
}

// IsWhitelisted applies the whitelist rules: shared flag, VIP exemption,
// then minimum session count.
func IsWhitelisted(cfg *entity.PolicyConfig, session *entity.PlayerSession) bool {
	if session.HasAnyFlag(cfg.Whitelist.HasFlag) {
		return true
	}
	if cfg.Whitelist.IsVIP && session.IsVIP {
		return true
	}
	return session.TotalSessionsPlayed >= cfg.Whitelist.HasAtLeastNSessions
}

// Resolve turns a tallied team kill into Warn or Ban. teamKillCount is the
// counter value after the increment; tolerance is inclusive so only a count
// strictly above it bans.
func Resolve(cfg *entity.PolicyConfig, teamKillCount int) entity.Verdict {
	if teamKillCount <= cfg.TeamkillToleranceCount {
		return entity.Verdict{
			Action:        entity.VerdictWarn,
			Reason:        entity.ReasonWithinTolerance,
			TeamKillCount: teamKillCount,
		}
	}

	v := entity.Verdict{
		Action:          entity.VerdictBan,
		Reason:          entity.ReasonToleranceExceeded,
		TeamKillCount:   teamKillCount,
		DurationSeconds: cfg.BanDurationSeconds(),
	}
	if cfg.BlacklistID != nil {
		id := *cfg.BlacklistID
		v.BlacklistID = &id
	}
	return v
}

func ignore(session *entity.PlayerSession, ev *entity.TeamKillEvent, reason string) Decision {
	return Decision{
		Verdict: entity.Verdict{
			Action:        entity.VerdictIgnore,
			Reason:        reason,
			PlayerID:      session.PlayerID,
			PlayerName:    session.DisplayName(),
			Weapon:        ev.Weapon,
			TeamKillCount: session.TeamKillCount,
			EvaluatedAt:   ev.Timestamp,
		},
	}
}
