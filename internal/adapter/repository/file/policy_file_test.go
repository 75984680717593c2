package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kr1s57/tkguard/internal/entity"
	"github.com/kr1s57/tkguard/internal/usecase/policyconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyFile_LoadMissing(t *testing.T) {
	f := NewPolicyFile(filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := f.Load(context.Background())

	assert.ErrorIs(t, err, entity.ErrPolicyNotStored)
}

func TestPolicyFile_SaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ban_tk_on_connect.yaml")
	f := NewPolicyFile(path)

	cfg := entity.DefaultPolicyConfig()
	cfg.Enabled = true
	cfg.ExcludedWeapons = []string{"SATCHEL"}
	id := 2
	cfg.BlacklistID = &id
	hook := "https://discord.com/api/webhooks/1/abc"
	cfg.WebhookURL = &hook

	require.NoError(t, f.Save(context.Background(), cfg))

	raw, err := f.Load(context.Background())
	require.NoError(t, err)
	loaded, err := policyconfig.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestPolicyFile_WorksWithManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	f := NewPolicyFile(path)
	m := policyconfig.NewManager(f, nil)

	cfg, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)

	_, err = m.SetEnabled(context.Background(), true)
	require.NoError(t, err)

	other := policyconfig.NewManager(f, nil)
	cfg, err = other.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
}
