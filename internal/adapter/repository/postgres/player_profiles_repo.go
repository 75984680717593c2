package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pq "github.com/lib/pq"

	"github.com/kr1s57/tkguard/internal/entity"
)

// PlayerProfilesRepo reads player history used by the whitelist rules
type PlayerProfilesRepo struct{ db *sql.DB }

func NewPlayerProfilesRepo(db *sql.DB) *PlayerProfilesRepo { return &PlayerProfilesRepo{db: db} }

// GetProfile returns the stored profile. Unknown players get an empty
// profile, they have simply never played here.
func (r *PlayerProfilesRepo) GetProfile(ctx context.Context, playerID string) (entity.PlayerProfile, error) {
	p := entity.PlayerProfile{PlayerID: playerID, Flags: []string{}}
	var flags pq.StringArray
	err := r.db.QueryRowContext(ctx, `
SELECT flags, is_vip, sessions_count
  FROM player_profiles
 WHERE player_id = $1
`, playerID).Scan(&flags, &p.IsVIP, &p.SessionsCount)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return entity.PlayerProfile{}, fmt.Errorf("get profile %s: %w", playerID, err)
	}
	p.Flags = append(p.Flags, flags...)
	return p, nil
}
