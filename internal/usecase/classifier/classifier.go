package classifier

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/kr1s57/tkguard/internal/entity"
)

// Ignore reasons
const (
	ReasonCrossTeamKill = "cross-team kill"
	ReasonSelfKill      = "self kill"
	ReasonDeath         = "death"
	ReasonUnknownType   = "unknown event type"
)

// Stats counts classifier outcomes since startup
type Stats struct {
	Connects    int64 `json:"connects"`
	Disconnects int64 `json:"disconnects"`
	TeamKills   int64 `json:"team_kills"`
	Ignored     int64 `json:"ignored"`
	Malformed   int64 `json:"malformed"`
}

// Classifier turns raw game events into typed events. It holds no session
// state and is safe for concurrent use.
type Classifier struct {
	connects    atomic.Int64
	disconnects atomic.Int64
	teamKills   atomic.Int64
	ignored     atomic.Int64
	malformed   atomic.Int64
}

// New creates a classifier
func New() *Classifier {
	return &Classifier{}
}

// Classify validates raw and returns exactly one classified event. Invalid
// input returns an error wrapping entity.ErrMalformedEvent.
func (c *Classifier) Classify(raw entity.RawEvent) (entity.ClassifiedEvent, error) {
	ev, err := classify(raw)
	if err != nil {
		c.malformed.Add(1)
		return entity.ClassifiedEvent{}, err
	}

	switch ev.Kind {
	case entity.KindConnect:
		c.connects.Add(1)
	case entity.KindDisconnect:
		c.disconnects.Add(1)
	case entity.KindKill:
		c.teamKills.Add(1)
	default:
		c.ignored.Add(1)
	}
	return ev, nil
}

// Stats returns a snapshot of the outcome counters
func (c *Classifier) Stats() Stats {
	return Stats{
		Connects:    c.connects.Load(),
		Disconnects: c.disconnects.Load(),
		TeamKills:   c.teamKills.Load(),
		Ignored:     c.ignored.Load(),
		Malformed:   c.malformed.Load(),
	}
}

func classify(raw entity.RawEvent) (entity.ClassifiedEvent, error) {
	typ := strings.ToLower(strings.TrimSpace(raw.Type))
	if typ == "" {
		return entity.ClassifiedEvent{}, malformed("type")
	}
	if raw.PlayerID == "" {
		return entity.ClassifiedEvent{}, malformed("player_id")
	}
	if raw.Timestamp.IsZero() {
		return entity.ClassifiedEvent{}, malformed("timestamp")
	}

	ev := entity.ClassifiedEvent{
		PlayerID:   raw.PlayerID,
		PlayerName: raw.PlayerName,
		Timestamp:  raw.Timestamp,
	}

	switch typ {
	case entity.EventTypeConnect:
		ev.Kind = entity.KindConnect
	case entity.EventTypeDisconnect:
		ev.Kind = entity.KindDisconnect
	case entity.EventTypeDeath:
		ev.Kind = entity.KindIgnored
		ev.Reason = ReasonDeath
		ev.Counters = &entity.CounterUpdate{VictimID: raw.PlayerID}
	case entity.EventTypeKill, entity.EventTypeTeamKill:
		if raw.VictimID == "" {
			return entity.ClassifiedEvent{}, malformed("victim_id")
		}
		if strings.TrimSpace(raw.Weapon) == "" {
			return entity.ClassifiedEvent{}, malformed("weapon")
		}
		classifyKill(&ev, raw, typ == entity.EventTypeTeamKill)
	default:
		ev.Kind = entity.KindIgnored
		ev.Reason = ReasonUnknownType
	}

	return ev, nil
}

func classifyKill(ev *entity.ClassifiedEvent, raw entity.RawEvent, flaggedTeamKill bool) {
	if raw.PlayerID == raw.VictimID {
		ev.Kind = entity.KindIgnored
		ev.Reason = ReasonSelfKill
		ev.Counters = &entity.CounterUpdate{VictimID: raw.VictimID}
		return
	}

	sameTeam := flaggedTeamKill ||
		(raw.PlayerTeam != "" && strings.EqualFold(raw.PlayerTeam, raw.VictimTeam))
	if !sameTeam {
		ev.Kind = entity.KindIgnored
		ev.Reason = ReasonCrossTeamKill
		ev.Counters = &entity.CounterUpdate{KillerID: raw.PlayerID, VictimID: raw.VictimID}
		return
	}

	ev.Kind = entity.KindKill
	ev.TeamKill = &entity.TeamKillEvent{
		Timestamp:     raw.Timestamp,
		AggressorID:   raw.PlayerID,
		AggressorName: raw.PlayerName,
		VictimID:      raw.VictimID,
		VictimName:    raw.VictimName,
		Weapon:        strings.TrimSpace(raw.Weapon),
		SameTeam:      true,
	}
}

func malformed(field string) error {
	return fmt.Errorf("%w: missing %s", entity.ErrMalformedEvent, field)
}
