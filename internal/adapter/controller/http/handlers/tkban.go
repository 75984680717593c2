package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/kr1s57/tkguard/internal/entity"
	"github.com/kr1s57/tkguard/internal/usecase/actions"
	"github.com/kr1s57/tkguard/internal/usecase/policyconfig"
	"github.com/kr1s57/tkguard/internal/usecase/tkban"
)

// PolicyStore is the admin view of the active policy
type PolicyStore interface {
	Current() *entity.PolicyConfig
	Info() policyconfig.Info
	Reload(ctx context.Context) (*entity.PolicyConfig, error)
	Update(ctx context.Context, raw []byte, dryRun bool) (*entity.PolicyConfig, error)
	SetEnabled(ctx context.Context, enabled bool) (*entity.PolicyConfig, error)
}

// EngineView exposes engine state to the API
type EngineView interface {
	GetStatus() *tkban.EngineStatus
	Sessions() []entity.PlayerSession
}

// ExecutorView exposes executor counters
type ExecutorView interface {
	Stats() actions.Stats
}

// AuditReader lists recent ban attempts
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]entity.AuditRecord, error)
}

// TKBanHandler serves the team-kill auto-ban admin endpoints
type TKBanHandler struct {
	engine   EngineView
	policy   PolicyStore
	executor ExecutorView
	audit    AuditReader
}

// NewTKBanHandler creates the handler. executor and audit may be nil.
func NewTKBanHandler(engine EngineView, policy PolicyStore, executor ExecutorView, audit AuditReader) *TKBanHandler {
	return &TKBanHandler{
		engine:   engine,
		policy:   policy,
		executor: executor,
		audit:    audit,
	}
}

// TKBanStatus represents the status response
type TKBanStatus struct {
	Engine   *tkban.EngineStatus `json:"engine"`
	Policy   policyconfig.Info   `json:"policy"`
	Executor *actions.Stats      `json:"executor,omitempty"`
}

// GetStatus returns engine, policy and executor state
// GET /api/v1/tkban/status
func (h *TKBanHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := TKBanStatus{
		Engine: h.engine.GetStatus(),
		Policy: h.policy.Info(),
	}
	if h.executor != nil {
		st := h.executor.Stats()
		resp.Executor = &st
	}
	JSONResponse(w, http.StatusOK, resp)
}

// Enable turns enforcement on
// POST /api/v1/tkban/enable
func (h *TKBanHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

// Disable turns enforcement off. Sessions keep being tracked.
// POST /api/v1/tkban/disable
func (h *TKBanHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *TKBanHandler) toggle(w http.ResponseWriter, r *http.Request, enabled bool) {
	if h.policy.Current().Enabled == enabled {
		SuccessResponse(w, "Team kill policy unchanged", map[string]bool{"enabled": enabled})
		return
	}

	if _, err := h.policy.SetEnabled(r.Context(), enabled); err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to persist policy", err)
		return
	}

	msg := "Team kill policy disabled"
	if enabled {
		msg = "Team kill policy enabled"
	}
	SuccessResponse(w, msg, map[string]bool{"enabled": enabled})
}

// GetConfig returns the active policy
// GET /api/v1/tkban/config
func (h *TKBanHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, h.policy.Current())
}

// UpdateConfig validates and applies a full policy document (JSON or YAML).
// With ?dry_run=true the document is only validated.
// PUT /api/v1/tkban/config
func (h *TKBanHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	dryRun := r.URL.Query().Get("dry_run") == "true"
	cfg, err := h.policy.Update(r.Context(), raw, dryRun)
	if err != nil {
		ValidationErrorResponse(w, err)
		return
	}

	msg := "Policy config applied"
	if dryRun {
		msg = "Policy config is valid"
	}
	SuccessResponse(w, msg, cfg)
}

// Reload re-reads the policy from its source
// POST /api/v1/tkban/reload
func (h *TKBanHandler) Reload(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.policy.Reload(r.Context())
	if err != nil {
		ValidationErrorResponse(w, err)
		return
	}
	SuccessResponse(w, "Policy config reloaded", cfg)
}

// GetSessions lists tracked player sessions
// GET /api/v1/tkban/sessions
func (h *TKBanHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	list := h.engine.Sessions()
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"sessions": list,
		"count":    len(list),
	})
}

// GetAudit lists the most recent ban attempts
// GET /api/v1/tkban/audit?limit=50
func (h *TKBanHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		JSONResponse(w, http.StatusOK, map[string]interface{}{
			"records": []entity.AuditRecord{},
		})
		return
	}

	records, err := h.audit.ListRecent(r.Context(), QueryInt(r, "limit", 50))
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to list audit records", err)
		return
	}
	if records == nil {
		records = []entity.AuditRecord{}
	}
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"records": records,
	})
}
