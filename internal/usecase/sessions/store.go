package sessions

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/kr1s57/tkguard/internal/entity"
)

// ErrSessionNotFound is returned for players with no tracked connect
var ErrSessionNotFound = errors.New("session not found")

const defaultShards = 32

type shard struct {
	mu       sync.Mutex
	sessions map[string]*entity.PlayerSession
}

// Store keeps one session per connected player. Sessions are spread over
// shards keyed by player id so unrelated players never contend on a lock.
// Every method returns copies; callers never hold a pointer into the store.
type Store struct {
	shards []*shard
}

// NewStore creates a store with n shards (32 when n <= 0)
func NewStore(n int) *Store {
	if n <= 0 {
		n = defaultShards
	}
	s := &Store{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*entity.PlayerSession)}
	}
	return s
}

func (s *Store) shardFor(playerID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(playerID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// OnConnect starts a fresh session, replacing any stale one for the same player
func (s *Store) OnConnect(playerID string, meta entity.SessionMetadata) entity.PlayerSession {
	sess := &entity.PlayerSession{
		PlayerID:            playerID,
		PlayerName:          meta.PlayerName,
		ConnectedAt:         meta.ConnectedAt,
		Flags:               append([]string{}, meta.Profile.Flags...),
		IsVIP:               meta.Profile.IsVIP,
		TotalSessionsPlayed: meta.Profile.SessionsCount,
	}

	sh := s.shardFor(playerID)
	sh.mu.Lock()
	sh.sessions[playerID] = sess
	sh.mu.Unlock()

	return copySession(sess)
}

// OnDisconnect discards the session. Returns false if none was tracked.
func (s *Store) OnDisconnect(playerID string) bool {
	sh := s.shardFor(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.sessions[playerID]; !ok {
		return false
	}
	delete(sh.sessions, playerID)
	return true
}

// Get returns a snapshot of the player's session
func (s *Store) Get(playerID string) (entity.PlayerSession, error) {
	sh := s.shardFor(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[playerID]
	if !ok {
		return entity.PlayerSession{}, ErrSessionNotFound
	}
	return copySession(sess), nil
}

// RecordKill increments the kill counter
func (s *Store) RecordKill(playerID string) (entity.PlayerSession, error) {
	return s.update(playerID, func(sess *entity.PlayerSession) { sess.KillCount++ })
}

// RecordDeath increments the death counter
func (s *Store) RecordDeath(playerID string) (entity.PlayerSession, error) {
	return s.update(playerID, func(sess *entity.PlayerSession) { sess.DeathCount++ })
}

// RecordTeamKill increments the team kill counter
func (s *Store) RecordTeamKill(playerID string) (entity.PlayerSession, error) {
	return s.update(playerID, func(sess *entity.PlayerSession) { sess.TeamKillCount++ })
}

// MarkBanIssued moves the session to its terminal state
func (s *Store) MarkBanIssued(playerID string) (entity.PlayerSession, error) {
	return s.update(playerID, func(sess *entity.PlayerSession) { sess.BanIssued = true })
}

// ClearBanIssued reopens a session whose ban was never carried out
func (s *Store) ClearBanIssued(playerID string) (entity.PlayerSession, error) {
	return s.update(playerID, func(sess *entity.PlayerSession) { sess.BanIssued = false })
}

func (s *Store) update(playerID string, fn func(*entity.PlayerSession)) (entity.PlayerSession, error) {
	sh := s.shardFor(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[playerID]
	if !ok {
		return entity.PlayerSession{}, ErrSessionNotFound
	}
	fn(sess)
	return copySession(sess), nil
}

// Tx gives WithSession callbacks mutating access to one session while
// its shard lock is held. It must not escape the callback.
type Tx struct {
	sess *entity.PlayerSession
}

// Snapshot returns the current state
func (tx *Tx) Snapshot() entity.PlayerSession { return copySession(tx.sess) }

// IncrementTeamKills bumps the team kill counter and returns the new value
func (tx *Tx) IncrementTeamKills() int {
	tx.sess.TeamKillCount++
	return tx.sess.TeamKillCount
}

// MarkBanIssued flags the session as banned
func (tx *Tx) MarkBanIssued() { tx.sess.BanIssued = true }

// WithSession runs fn under the player's shard lock so a read, a decision
// and the resulting counter update happen as one step. fn must not call
// back into the store.
func (s *Store) WithSession(playerID string, fn func(tx *Tx) error) error {
	sh := s.shardFor(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[playerID]
	if !ok {
		return ErrSessionNotFound
	}
	return fn(&Tx{sess: sess})
}

// List returns all sessions ordered by connect time
func (s *Store) List() []entity.PlayerSession {
	var out []entity.PlayerSession
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, sess := range sh.sessions {
			out = append(out, copySession(sess))
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].PlayerID < out[j].PlayerID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Count returns the number of tracked sessions
func (s *Store) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

func copySession(sess *entity.PlayerSession) entity.PlayerSession {
	c := *sess
	c.Flags = append([]string{}, sess.Flags...)
	return c
}
