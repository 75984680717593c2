package tkban

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kr1s57/tkguard/internal/domain/tkpolicy"
	"github.com/kr1s57/tkguard/internal/entity"
	"github.com/kr1s57/tkguard/internal/usecase/classifier"
	"github.com/kr1s57/tkguard/internal/usecase/sessions"
)

// PolicyProvider returns the active policy snapshot
type PolicyProvider interface {
	Current() *entity.PolicyConfig
}

// ActionDispatcher carries out Warn and Ban verdicts asynchronously.
// Execute must not block. It returns false when a ban could not be
// scheduled.
type ActionDispatcher interface {
	Execute(verdict entity.Verdict, session entity.PlayerSession, policy *entity.PolicyConfig) bool
}

// ProfileProvider supplies the player history read on connect
type ProfileProvider interface {
	GetProfile(ctx context.Context, playerID string) (entity.PlayerProfile, error)
}

// VerdictPublisher receives every verdict for live display
type VerdictPublisher interface {
	PublishVerdict(v entity.Verdict)
}

// EventSource streams raw game events into out until ctx is done. It must
// not close out and must stop sending once ctx is cancelled.
type EventSource interface {
	Stream(ctx context.Context, out chan<- entity.RawEvent) error
	Name() string
}

// Config holds engine configuration
type Config struct {
	Partitions      int
	PartitionBuffer int
	ProfileTimeout  time.Duration
}

// Engine runs every game event through classification, session tracking
// and policy evaluation, then hands actionable verdicts to the dispatcher.
type Engine struct {
	cfg        Config
	policy     PolicyProvider
	store      *sessions.Store
	classifier *classifier.Classifier
	actions    ActionDispatcher
	profiles   ProfileProvider  // optional
	publisher  VerdictPublisher // optional
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	source    string

	warns          atomic.Int64
	bans           atomic.Int64
	ignores        atomic.Int64
	unknownSession atomic.Int64
}

// NewEngine creates a new team kill engine
func NewEngine(cfg Config, policy PolicyProvider, store *sessions.Store, cls *classifier.Classifier, actions ActionDispatcher, logger *slog.Logger) *Engine {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 8
	}
	if cfg.PartitionBuffer <= 0 {
		cfg.PartitionBuffer = 128
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		policy:     policy,
		store:      store,
		classifier: cls,
		actions:    actions,
		logger:     logger,
	}
}

// SetProfileProvider sets the player history lookup used on connect
func (e *Engine) SetProfileProvider(p ProfileProvider) {
	e.profiles = p
}

// SetPublisher sets the live verdict feed
func (e *Engine) SetPublisher(p VerdictPublisher) {
	e.publisher = p
}

// HandleEvent processes one raw event. A verdict is returned only for team
// kills. Malformed events and events for untracked players are returned as
// errors after being logged; they never affect other sessions.
func (e *Engine) HandleEvent(ctx context.Context, raw entity.RawEvent) (*entity.Verdict, error) {
	ev, err := e.classifier.Classify(raw)
	if err != nil {
		e.logger.Warn("Dropping malformed event", "type", raw.Type, "player_id", raw.PlayerID, "error", err)
		return nil, err
	}
	return e.apply(ctx, ev, ownsAll)
}

// owner reports whether the caller owns the state of playerID
type owner func(playerID string) bool

func ownsAll(string) bool { return true }

// apply runs the parts of ev that touch players accepted by owns. A team
// kill touches both the aggressor and the victim, so under partitioning
// each of them is updated by the worker that owns that player.
func (e *Engine) apply(ctx context.Context, ev entity.ClassifiedEvent, owns owner) (*entity.Verdict, error) {
	switch ev.Kind {
	case entity.KindConnect:
		if owns(ev.PlayerID) {
			e.handleConnect(ctx, ev)
		}
	case entity.KindDisconnect:
		if owns(ev.PlayerID) && e.store.OnDisconnect(ev.PlayerID) {
			e.logger.Debug("Player disconnected", "player_id", ev.PlayerID)
		}
	case entity.KindKill:
		return e.handleTeamKill(ev.TeamKill, owns)
	case entity.KindIgnored:
		return nil, e.applyCounters(ev, owns)
	}
	return nil, nil
}

// players lists the players whose session state ev changes
func players(ev entity.ClassifiedEvent) []string {
	switch ev.Kind {
	case entity.KindConnect, entity.KindDisconnect:
		return []string{ev.PlayerID}
	case entity.KindKill:
		return []string{ev.TeamKill.AggressorID, ev.TeamKill.VictimID}
	case entity.KindIgnored:
		if ev.Counters == nil {
			return nil
		}
		var ids []string
		if ev.Counters.KillerID != "" {
			ids = append(ids, ev.Counters.KillerID)
		}
		if ev.Counters.VictimID != "" {
			ids = append(ids, ev.Counters.VictimID)
		}
		return ids
	}
	return nil
}

func (e *Engine) handleConnect(ctx context.Context, ev entity.ClassifiedEvent) {
	profile := entity.PlayerProfile{PlayerID: ev.PlayerID}
	if e.profiles != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.ProfileTimeout)
		p, err := e.profiles.GetProfile(lookupCtx, ev.PlayerID)
		cancel()
		if err != nil {
			// Degrade to an unknown player rather than losing the connect
			e.logger.Warn("Player profile lookup failed", "player_id", ev.PlayerID, "error", err)
		} else {
			profile = p
		}
	}

	e.store.OnConnect(ev.PlayerID, entity.SessionMetadata{
		PlayerName:  ev.PlayerName,
		ConnectedAt: ev.Timestamp,
		Profile:     profile,
	})
	e.logger.Debug("Player connected",
		"player_id", ev.PlayerID,
		"player_name", ev.PlayerName,
		"vip", profile.IsVIP,
		"sessions", profile.SessionsCount,
	)
}

func (e *Engine) applyCounters(ev entity.ClassifiedEvent, owns owner) error {
	if ev.Counters == nil {
		return nil
	}
	var errs []error
	if ev.Counters.KillerID != "" && owns(ev.Counters.KillerID) {
		if _, err := e.store.RecordKill(ev.Counters.KillerID); err != nil {
			errs = append(errs, e.unknown("kill", ev.Counters.KillerID, err))
		}
	}
	if ev.Counters.VictimID != "" && owns(ev.Counters.VictimID) {
		if _, err := e.store.RecordDeath(ev.Counters.VictimID); err != nil {
			errs = append(errs, e.unknown("death", ev.Counters.VictimID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) unknown(what, playerID string, err error) error {
	if errors.Is(err, sessions.ErrSessionNotFound) {
		e.unknownSession.Add(1)
		e.logger.Warn("Event for untracked player", "event", what, "player_id", playerID)
	}
	return fmt.Errorf("%s for %s: %w", what, playerID, err)
}

func (e *Engine) handleTeamKill(tk *entity.TeamKillEvent, owns owner) (*entity.Verdict, error) {
	// The victim died whatever the verdict on the aggressor
	if owns(tk.VictimID) {
		if _, err := e.store.RecordDeath(tk.VictimID); err != nil {
			_ = e.unknown("death", tk.VictimID, err)
		}
	}
	if !owns(tk.AggressorID) {
		return nil, nil
	}

	policy := e.policy.Current()
	var (
		verdict  entity.Verdict
		snapshot entity.PlayerSession
	)

	err := e.store.WithSession(tk.AggressorID, func(tx *sessions.Tx) error {
		sess := tx.Snapshot()
		d := tkpolicy.Evaluate(policy, &sess, tk)
		verdict = d.Verdict

		if d.Tally {
			resolved := tkpolicy.Resolve(policy, tx.IncrementTeamKills())
			resolved.PlayerID = verdict.PlayerID
			resolved.PlayerName = verdict.PlayerName
			resolved.Weapon = verdict.Weapon
			resolved.EvaluatedAt = verdict.EvaluatedAt
			if resolved.Action == entity.VerdictBan {
				tx.MarkBanIssued()
			}
			verdict = resolved
		}

		snapshot = tx.Snapshot()
		return nil
	})
	if err != nil {
		return nil, e.unknown("team kill", tk.AggressorID, err)
	}

	verdict.ID = uuid.New()
	if verdict.PlayerName == "" || verdict.PlayerName == verdict.PlayerID {
		if tk.AggressorName != "" {
			verdict.PlayerName = tk.AggressorName
			snapshot.PlayerName = tk.AggressorName
		}
	}

	e.record(verdict, tk)

	if e.publisher != nil {
		e.publisher.PublishVerdict(verdict)
	}
	if verdict.Action != entity.VerdictIgnore {
		if !e.actions.Execute(verdict, snapshot, policy) && verdict.Action == entity.VerdictBan {
			// Leave the session open to a later ban
			if _, err := e.store.ClearBanIssued(tk.AggressorID); err != nil {
				_ = e.unknown("ban rollback", tk.AggressorID, err)
			}
			e.logger.Warn("Ban not scheduled, session left open", "player_id", tk.AggressorID, "verdict_id", verdict.ID)
		}
	}
	return &verdict, nil
}

func (e *Engine) record(v entity.Verdict, tk *entity.TeamKillEvent) {
	attrs := []any{
		"player_id", v.PlayerID,
		"player_name", v.PlayerName,
		"victim_id", tk.VictimID,
		"weapon", tk.Weapon,
		"team_kills", v.TeamKillCount,
		"reason", v.Reason,
	}

	switch v.Action {
	case entity.VerdictBan:
		e.bans.Add(1)
		e.logger.Info("Team kill ban", append(attrs, "duration_seconds", v.DurationSeconds, "blacklist_id", v.BlacklistID)...)
	case entity.VerdictWarn:
		e.warns.Add(1)
		e.logger.Info("Team kill warning", attrs...)
	default:
		e.ignores.Add(1)
		e.logger.Debug("Team kill ignored", attrs...)
	}
}

// Run consumes source until ctx is cancelled or the source ends. Events
// are classified once, then handed to the partition of every player they
// touch, so each player's state changes in stream order while different
// players are processed concurrently. Events already buffered when the
// source ends are still processed.
func (e *Engine) Run(ctx context.Context, source EventSource) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.running = true
	e.startedAt = time.Now()
	e.source = source.Name()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	n := e.cfg.Partitions
	parts := make([]chan entity.ClassifiedEvent, n)
	var wg sync.WaitGroup
	for i := range parts {
		parts[i] = make(chan entity.ClassifiedEvent, e.cfg.PartitionBuffer)
		owns := func(playerID string) bool { return Partition(playerID, n) == i }
		wg.Add(1)
		go func(in <-chan entity.ClassifiedEvent) {
			defer wg.Done()
			for ev := range in {
				// errors are logged by apply
				_, _ = e.apply(ctx, ev, owns)
			}
		}(parts[i])
	}

	dispatch := func(raw entity.RawEvent) bool {
		ev, err := e.classifier.Classify(raw)
		if err != nil {
			e.logger.Warn("Dropping malformed event", "type", raw.Type, "player_id", raw.PlayerID, "error", err)
			return true
		}
		sent := make(map[int]bool, 2)
		for _, id := range players(ev) {
			idx := Partition(id, n)
			if sent[idx] {
				continue
			}
			sent[idx] = true
			select {
			case parts[idx] <- ev:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	in := make(chan entity.RawEvent, e.cfg.PartitionBuffer)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- source.Stream(ctx, in)
	}()

	e.logger.Info("Team kill engine started", "source", source.Name(), "partitions", n)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-streamErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				runErr = fmt.Errorf("event source %s: %w", source.Name(), err)
			}
			// the source has returned, nothing else will be sent
		drain:
			for {
				select {
				case raw := <-in:
					if !dispatch(raw) {
						break drain
					}
				default:
					break drain
				}
			}
			break loop
		case raw := <-in:
			if !dispatch(raw) {
				break loop
			}
		}
	}

	for _, p := range parts {
		close(p)
	}
	wg.Wait()

	e.logger.Info("Team kill engine stopped", "source", source.Name())
	return runErr
}

// Partition maps a player id to one of n partitions
func Partition(playerID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(playerID))
	return int(h.Sum32() % uint32(n))
}

// Sessions returns the tracked sessions
func (e *Engine) Sessions() []entity.PlayerSession {
	return e.store.List()
}

// EngineStatus represents the engine status
type EngineStatus struct {
	Running        bool             `json:"running"`
	Source         string           `json:"source,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	Partitions     int              `json:"partitions"`
	ActiveSessions int              `json:"active_sessions"`
	PolicyEnabled  bool             `json:"policy_enabled"`
	Warns          int64            `json:"warns"`
	Bans           int64            `json:"bans"`
	Ignored        int64            `json:"ignored"`
	UnknownSession int64            `json:"unknown_session"`
	Events         classifier.Stats `json:"events"`
}

// GetStatus returns engine status
func (e *Engine) GetStatus() *EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := &EngineStatus{
		Running:        e.running,
		Source:         e.source,
		Partitions:     e.cfg.Partitions,
		ActiveSessions: e.store.Count(),
		PolicyEnabled:  e.policy.Current().Enabled,
		Warns:          e.warns.Load(),
		Bans:           e.bans.Load(),
		Ignored:        e.ignores.Load(),
		UnknownSession: e.unknownSession.Load(),
		Events:         e.classifier.Stats(),
	}
	if e.running {
		started := e.startedAt
		st.StartedAt = &started
	}
	return st
}
