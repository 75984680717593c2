package entity

import "time"

// Raw event types accepted from the game log stream
const (
	EventTypeConnect    = "connect"
	EventTypeDisconnect = "disconnect"
	EventTypeKill       = "kill"
	EventTypeTeamKill   = "team_kill"
	EventTypeDeath      = "death"
)

// RawEvent is one record of the game event stream, before classification.
// For kill events PlayerID is the aggressor and VictimID the victim.
type RawEvent struct {
	Type       string    `json:"type"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name,omitempty"`
	PlayerTeam string    `json:"player_team,omitempty"`
	VictimID   string    `json:"victim_id,omitempty"`
	VictimName string    `json:"victim_name,omitempty"`
	VictimTeam string    `json:"victim_team,omitempty"`
	Weapon     string    `json:"weapon,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TeamKillEvent is a kill where aggressor and victim share a team
type TeamKillEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	AggressorID   string    `json:"aggressor_id"`
	AggressorName string    `json:"aggressor_name"`
	VictimID      string    `json:"victim_id"`
	VictimName    string    `json:"victim_name"`
	Weapon        string    `json:"weapon"`
	SameTeam      bool      `json:"same_team"`
}

// EventKind is the classifier output
type EventKind string

const (
	KindConnect    EventKind = "connect"
	KindDisconnect EventKind = "disconnect"
	KindKill       EventKind = "kill" // team kill, carries a TeamKillEvent
	KindIgnored    EventKind = "ignored"
)

// CounterUpdate lists the plain kill/death counters an ignored event still feeds
type CounterUpdate struct {
	KillerID string
	VictimID string
}

// ClassifiedEvent is the typed form of a RawEvent
type ClassifiedEvent struct {
	Kind       EventKind
	PlayerID   string
	PlayerName string
	Timestamp  time.Time
	TeamKill   *TeamKillEvent
	Counters   *CounterUpdate
	Reason     string // why an event was ignored
}
