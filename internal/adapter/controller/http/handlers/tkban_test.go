package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kr1s57/tkguard/internal/config"
	"github.com/kr1s57/tkguard/internal/entity"
	"github.com/kr1s57/tkguard/internal/usecase/actions"
	"github.com/kr1s57/tkguard/internal/usecase/policyconfig"
	"github.com/kr1s57/tkguard/internal/usecase/sessions"
	"github.com/kr1s57/tkguard/internal/usecase/tkban"
)

// =============================================================================
// Mocks
// =============================================================================

type MockPolicy struct {
	mock.Mock
}

func (m *MockPolicy) Current() *entity.PolicyConfig {
	args := m.Called()
	return args.Get(0).(*entity.PolicyConfig)
}

func (m *MockPolicy) Info() policyconfig.Info {
	args := m.Called()
	return args.Get(0).(policyconfig.Info)
}

func (m *MockPolicy) Reload(ctx context.Context) (*entity.PolicyConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.PolicyConfig), args.Error(1)
}

func (m *MockPolicy) Update(ctx context.Context, raw []byte, dryRun bool) (*entity.PolicyConfig, error) {
	args := m.Called(ctx, raw, dryRun)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.PolicyConfig), args.Error(1)
}

func (m *MockPolicy) SetEnabled(ctx context.Context, enabled bool) (*entity.PolicyConfig, error) {
	args := m.Called(ctx, enabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.PolicyConfig), args.Error(1)
}

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) GetStatus() *tkban.EngineStatus {
	args := m.Called()
	return args.Get(0).(*tkban.EngineStatus)
}

func (m *MockEngine) Sessions() []entity.PlayerSession {
	args := m.Called()
	return args.Get(0).([]entity.PlayerSession)
}

func (m *MockEngine) HandleEvent(ctx context.Context, raw entity.RawEvent) (*entity.Verdict, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Verdict), args.Error(1)
}

type MockAudit struct {
	mock.Mock
}

func (m *MockAudit) ListRecent(ctx context.Context, limit int) ([]entity.AuditRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.AuditRecord), args.Error(1)
}

type fixedStats actions.Stats

func (s fixedStats) Stats() actions.Stats { return actions.Stats(s) }

// =============================================================================
// Helpers
// =============================================================================

func newRouter(h *TKBanHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/tkban", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/enable", h.Enable)
		r.Post("/disable", h.Disable)
		r.Get("/config", h.GetConfig)
		r.Put("/config", h.UpdateConfig)
		r.Post("/reload", h.Reload)
		r.Get("/sessions", h.GetSessions)
		r.Get("/audit", h.GetAudit)
	})
	return r
}

func do(t *testing.T, handler http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func enabledPolicy() *entity.PolicyConfig {
	cfg := entity.DefaultPolicyConfig()
	cfg.Enabled = true
	return cfg
}

// =============================================================================
// Tests
// =============================================================================

func TestTKBanHandler_GetStatus(t *testing.T) {
	engine := new(MockEngine)
	policy := new(MockPolicy)
	engine.On("GetStatus").Return(&tkban.EngineStatus{Running: true, Partitions: 8, Bans: 2})
	policy.On("Info").Return(policyconfig.Info{Source: "file:/tmp/p.yaml"})

	h := NewTKBanHandler(engine, policy, fixedStats{Succeeded: 3, Dropped: 1}, nil)
	rec, body := do(t, newRouter(h), http.MethodGet, "/tkban/status", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["engine"].(map[string]interface{})["running"])
	assert.EqualValues(t, 2, body["engine"].(map[string]interface{})["bans"])
	assert.Equal(t, "file:/tmp/p.yaml", body["policy"].(map[string]interface{})["source"])
	assert.EqualValues(t, 3, body["executor"].(map[string]interface{})["succeeded"])
	assert.EqualValues(t, 1, body["executor"].(map[string]interface{})["dropped"])
}

func TestTKBanHandler_Toggle(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		current        *entity.PolicyConfig
		setupMock      func(*MockPolicy)
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:    "enable persists",
			path:    "/tkban/enable",
			current: entity.DefaultPolicyConfig(),
			setupMock: func(p *MockPolicy) {
				p.On("SetEnabled", mock.Anything, true).Return(enabledPolicy(), nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "Team kill policy enabled",
		},
		{
			name:           "enable when already enabled is a no-op",
			path:           "/tkban/enable",
			current:        enabledPolicy(),
			setupMock:      func(p *MockPolicy) {},
			expectedStatus: http.StatusOK,
			expectedMsg:    "Team kill policy unchanged",
		},
		{
			name:    "disable persists",
			path:    "/tkban/disable",
			current: enabledPolicy(),
			setupMock: func(p *MockPolicy) {
				p.On("SetEnabled", mock.Anything, false).Return(entity.DefaultPolicyConfig(), nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "Team kill policy disabled",
		},
		{
			name:    "persist failure",
			path:    "/tkban/disable",
			current: enabledPolicy(),
			setupMock: func(p *MockPolicy) {
				p.On("SetEnabled", mock.Anything, false).Return(nil, errors.New("disk full"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := new(MockPolicy)
			policy.On("Current").Return(tt.current)
			tt.setupMock(policy)

			h := NewTKBanHandler(new(MockEngine), policy, nil, nil)
			rec, body := do(t, newRouter(h), http.MethodPost, tt.path, "")

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedMsg != "" {
				assert.Equal(t, tt.expectedMsg, body["message"])
			}
			policy.AssertExpectations(t)
		})
	}
}

func TestTKBanHandler_UpdateConfig(t *testing.T) {
	doc := `{"enabled": true}`

	tests := []struct {
		name           string
		target         string
		dryRun         bool
		result         *entity.PolicyConfig
		err            error
		expectedStatus int
		checkBody      func(*testing.T, map[string]interface{})
	}{
		{
			name:           "applied",
			target:         "/tkban/config",
			result:         enabledPolicy(),
			expectedStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "Policy config applied", body["message"])
				assert.Equal(t, true, body["data"].(map[string]interface{})["enabled"])
			},
		},
		{
			name:           "dry run",
			target:         "/tkban/config?dry_run=true",
			dryRun:         true,
			result:         enabledPolicy(),
			expectedStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "Policy config is valid", body["message"])
			},
		},
		{
			name:   "validation errors are listed per field",
			target: "/tkban/config",
			err: policyconfig.ValidationErrors{
				{Field: "teamkill_tolerance_count", Message: "must be >= 0"},
				{Field: "message", Message: "required"},
			},
			expectedStatus: http.StatusUnprocessableEntity,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				fields := body["fields"].([]interface{})
				require.Len(t, fields, 2)
				assert.Equal(t, "teamkill_tolerance_count", fields[0].(map[string]interface{})["field"])
			},
		},
		{
			name:           "source failure",
			target:         "/tkban/config",
			err:            errors.New("connection refused"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := new(MockPolicy)
			if tt.err != nil {
				policy.On("Update", mock.Anything, []byte(doc), tt.dryRun).Return(nil, tt.err)
			} else {
				policy.On("Update", mock.Anything, []byte(doc), tt.dryRun).Return(tt.result, nil)
			}

			h := NewTKBanHandler(new(MockEngine), policy, nil, nil)
			rec, body := do(t, newRouter(h), http.MethodPut, tt.target, doc)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.checkBody != nil {
				tt.checkBody(t, body)
			}
			policy.AssertExpectations(t)
		})
	}
}

func TestTKBanHandler_Reload(t *testing.T) {
	policy := new(MockPolicy)
	policy.On("Reload", mock.Anything).Return(nil, policyconfig.ValidationErrors{{Field: "enabled", Message: "required"}}).Once()

	h := NewTKBanHandler(new(MockEngine), policy, nil, nil)
	rec, _ := do(t, newRouter(h), http.MethodPost, "/tkban/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	policy.On("Reload", mock.Anything).Return(enabledPolicy(), nil).Once()
	rec, body := do(t, newRouter(h), http.MethodPost, "/tkban/reload", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Policy config reloaded", body["message"])
}

func TestTKBanHandler_GetConfigAndSessions(t *testing.T) {
	engine := new(MockEngine)
	policy := new(MockPolicy)
	policy.On("Current").Return(entity.DefaultPolicyConfig())
	engine.On("Sessions").Return([]entity.PlayerSession{
		{PlayerID: "p1", PlayerName: "Alice"},
		{PlayerID: "p2"},
	})

	router := newRouter(NewTKBanHandler(engine, policy, nil, nil))

	rec, body := do(t, router, http.MethodGet, "/tkban/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, body["max_time_after_connect_minutes"])
	assert.Nil(t, body["discord_webhook_url"])

	rec, body = do(t, router, http.MethodGet, "/tkban/sessions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
}

func TestTKBanHandler_GetAudit(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		setupMock      func(*MockAudit)
		expectedStatus int
		expectedCount  int
	}{
		{
			name:   "default limit",
			target: "/tkban/audit",
			setupMock: func(a *MockAudit) {
				a.On("ListRecent", mock.Anything, 50).Return([]entity.AuditRecord{{PlayerID: "p1"}}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  1,
		},
		{
			name:   "explicit limit",
			target: "/tkban/audit?limit=5",
			setupMock: func(a *MockAudit) {
				a.On("ListRecent", mock.Anything, 5).Return(nil, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  0,
		},
		{
			name:   "bad limit falls back to default",
			target: "/tkban/audit?limit=-1",
			setupMock: func(a *MockAudit) {
				a.On("ListRecent", mock.Anything, 50).Return([]entity.AuditRecord{}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "store failure",
			target: "/tkban/audit",
			setupMock: func(a *MockAudit) {
				a.On("ListRecent", mock.Anything, 50).Return(nil, errors.New("clickhouse down"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := new(MockAudit)
			tt.setupMock(audit)

			h := NewTKBanHandler(new(MockEngine), new(MockPolicy), nil, audit)
			rec, body := do(t, newRouter(h), http.MethodGet, tt.target, "")

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if rec.Code == http.StatusOK {
				assert.Len(t, body["records"], tt.expectedCount)
			}
			audit.AssertExpectations(t)
		})
	}
}

func TestEventsHandler_Ingest(t *testing.T) {
	verdict := &entity.Verdict{Action: entity.VerdictBan, PlayerID: "p1", Reason: entity.ReasonToleranceExceeded}

	tests := []struct {
		name           string
		body           string
		result         *entity.Verdict
		err            error
		expectedStatus int
		expectVerdict  bool
		expectTracked  bool
	}{
		{
			name:           "team kill returns verdict",
			body:           `{"type":"team_kill","player_id":"p1","victim_id":"p2","weapon":"M1","timestamp":"2024-05-01T20:00:00Z"}`,
			result:         verdict,
			expectedStatus: http.StatusAccepted,
			expectVerdict:  true,
			expectTracked:  true,
		},
		{
			name:           "connect has no verdict",
			body:           `{"type":"connect","player_id":"p1","timestamp":"2024-05-01T20:00:00Z"}`,
			expectedStatus: http.StatusAccepted,
			expectTracked:  true,
		},
		{
			name:           "untracked player",
			body:           `{"type":"death","player_id":"p9","timestamp":"2024-05-01T20:00:00Z"}`,
			err:            sessions.ErrSessionNotFound,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "malformed event",
			body:           `{"type":"kill","player_id":"p1","timestamp":"2024-05-01T20:00:00Z"}`,
			err:            entity.ErrMalformedEvent,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "not json",
			body:           `connect p1`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := new(MockEngine)
			if tt.result != nil {
				engine.On("HandleEvent", mock.Anything, mock.Anything).Return(tt.result, nil)
			} else {
				engine.On("HandleEvent", mock.Anything, mock.Anything).Return(nil, tt.err)
			}

			r := chi.NewRouter()
			r.Post("/events", NewEventsHandler(engine).Ingest)
			rec, body := do(t, r, http.MethodPost, "/events", tt.body)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusAccepted {
				assert.Equal(t, tt.expectTracked, body["tracked"])
				_, hasVerdict := body["verdict"]
				assert.Equal(t, tt.expectVerdict, hasVerdict)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	t.Run("healthy", func(t *testing.T) {
		h := HealthCheck(cfg, map[string]DependencyCheck{
			"postgres": func(ctx context.Context) error { return nil },
		})
		rec, body := do(t, h, http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "ok", body["checks"].(map[string]interface{})["postgres"])
	})

	t.Run("degraded", func(t *testing.T) {
		h := HealthCheck(cfg, map[string]DependencyCheck{
			"clickhouse": func(ctx context.Context) error { return errors.New("dial tcp: refused") },
		})
		rec, body := do(t, h, http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "dial tcp: refused", body["checks"].(map[string]interface{})["clickhouse"])
	})
}
