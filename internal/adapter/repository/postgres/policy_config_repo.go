package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kr1s57/tkguard/internal/entity"
	"github.com/kr1s57/tkguard/internal/usecase/policyconfig"
)

// PolicyConfigKey is the user_config row holding the team kill policy
const PolicyConfigKey = "ban_tk_on_connect"

// PolicyConfigRepo stores the policy document as JSON in user_config
type PolicyConfigRepo struct{ db *sql.DB }

func NewPolicyConfigRepo(db *sql.DB) *PolicyConfigRepo { return &PolicyConfigRepo{db: db} }

func (r *PolicyConfigRepo) Name() string { return "postgres" }

func (r *PolicyConfigRepo) Load(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
SELECT value
  FROM user_config
 WHERE key = $1
`, PolicyConfigKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPolicyNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", PolicyConfigKey, err)
	}
	return raw, nil
}

func (r *PolicyConfigRepo) Save(ctx context.Context, cfg *entity.PolicyConfig) error {
	raw, err := policyconfig.Serialize(cfg)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO user_config (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET
  value      = EXCLUDED.value,
  updated_at = now()
`, PolicyConfigKey, string(raw))
	if err != nil {
		return fmt.Errorf("save %s: %w", PolicyConfigKey, err)
	}
	return nil
}
