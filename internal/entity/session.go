package entity

import "time"

// PlayerProfile is what the player history store knows about a player.
// It is read once on connect and never written by the engine.
type PlayerProfile struct {
	PlayerID      string   `json:"player_id"`
	Flags         []string `json:"flags"`
	IsVIP         bool     `json:"is_vip"`
	SessionsCount int      `json:"sessions_count"`
}

// SessionMetadata is supplied when a player connects
type SessionMetadata struct {
	PlayerName  string
	ConnectedAt time.Time
	Profile     PlayerProfile
}

// PlayerSession tracks one connection of one player. Counters only ever
// grow while the connection lives; a reconnect starts a fresh session.
type PlayerSession struct {
	PlayerID            string    `json:"player_id"`
	PlayerName          string    `json:"player_name"`
	ConnectedAt         time.Time `json:"connected_at"`
	KillCount           int       `json:"kill_count"`
	DeathCount          int       `json:"death_count"`
	TeamKillCount       int       `json:"team_kill_count"`
	Flags               []string  `json:"flags"`
	IsVIP               bool      `json:"is_vip"`
	TotalSessionsPlayed int       `json:"total_sessions_played"`
	BanIssued           bool      `json:"ban_issued"`
}

// DisplayName returns the identity used in ban and webhook messages
func (s *PlayerSession) DisplayName() string {
	if s.PlayerName != "" {
		return s.PlayerName
	}
	return s.PlayerID
}

// HasAnyFlag reports whether the session carries one of flags
func (s *PlayerSession) HasAnyFlag(flags []string) bool {
	for _, want := range flags {
		for _, have := range s.Flags {
			if have == want {
				return true
			}
		}
	}
	return false
}
