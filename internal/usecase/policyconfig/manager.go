package policyconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kr1s57/tkguard/internal/entity"
)

// Source persists the raw policy document
type Source interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, cfg *entity.PolicyConfig) error
	Name() string
}

// Info describes the state of the active config
type Info struct {
	Source       string    `json:"source"`
	LoadedAt     time.Time `json:"loaded_at"`
	FromDefaults bool      `json:"from_defaults"`
	LastError    string    `json:"last_error,omitempty"`
}

// Manager owns the active policy snapshot. Readers get the current pointer
// without locking; writers build a new snapshot and swap it in whole.
type Manager struct {
	source  Source
	logger  *slog.Logger
	current atomic.Pointer[entity.PolicyConfig]

	mu   sync.Mutex // serializes writers and guards info
	info Info
}

// NewManager starts with the built-in defaults until Reload succeeds
func NewManager(source Source, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		source: source,
		logger: logger,
		info: Info{
			Source:       source.Name(),
			LoadedAt:     time.Now(),
			FromDefaults: true,
		},
	}
	m.current.Store(entity.DefaultPolicyConfig())
	return m
}

// Current returns the active snapshot. Callers must treat it as read-only.
func (m *Manager) Current() *entity.PolicyConfig {
	return m.current.Load()
}

// Info returns where the active config came from
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Reload re-reads the source. An invalid document leaves the active config
// in place and is returned as ValidationErrors. A source with nothing stored
// keeps the current config.
func (m *Manager) Reload(ctx context.Context) (*entity.PolicyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.source.Load(ctx)
	if errors.Is(err, entity.ErrPolicyNotStored) {
		m.logger.Info("No stored policy config, keeping active one", "source", m.source.Name())
		return m.current.Load(), nil
	}
	if err != nil {
		m.info.LastError = err.Error()
		return nil, fmt.Errorf("load policy from %s: %w", m.source.Name(), err)
	}

	cfg, err := Validate(raw)
	if err != nil {
		m.info.LastError = err.Error()
		m.logger.Warn("Rejected policy config", "source", m.source.Name(), "error", err)
		return nil, err
	}

	m.swap(cfg)
	m.logger.Info("Policy config loaded",
		"source", m.source.Name(),
		"enabled", cfg.Enabled,
		"window_minutes", cfg.MaxTimeAfterConnectMinutes,
		"tolerance", cfg.TeamkillToleranceCount,
	)
	return cfg, nil
}

// Update validates raw and, unless dryRun, persists it and makes it active
func (m *Manager) Update(ctx context.Context, raw []byte, dryRun bool) (*entity.PolicyConfig, error) {
	cfg, err := Validate(raw)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return cfg, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.source.Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save policy to %s: %w", m.source.Name(), err)
	}
	m.swap(cfg)
	m.logger.Info("Policy config updated", "source", m.source.Name(), "enabled", cfg.Enabled)
	return cfg, nil
}

// SetEnabled toggles enforcement, persisting the change
func (m *Manager) SetEnabled(ctx context.Context, enabled bool) (*entity.PolicyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.current.Load().Clone()
	cfg.Enabled = enabled

	if err := m.source.Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save policy to %s: %w", m.source.Name(), err)
	}
	m.swap(cfg)
	m.logger.Info("Team kill policy toggled", "enabled", enabled)
	return cfg, nil
}

// swap must be called with mu held
func (m *Manager) swap(cfg *entity.PolicyConfig) {
	m.current.Store(cfg)
	m.info = Info{
		Source:   m.source.Name(),
		LoadedAt: time.Now(),
	}
}
