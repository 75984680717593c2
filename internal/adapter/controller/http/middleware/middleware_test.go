package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kr1s57/tkguard/internal/usecase/auth"
)

func TestJWTAuth(t *testing.T) {
	svc, err := auth.NewService("middleware-test-secret")
	require.NoError(t, err)

	adminToken, _, err := svc.IssueToken("alice", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	ingestToken, _, err := svc.IssueToken("forwarder", auth.RoleIngest, time.Hour)
	require.NoError(t, err)

	var seenUser, seenRole string
	protected := JWTAuth(svc)(RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = GetUsername(r.Context())
		seenRole = GetRole(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name           string
		header         string
		query          string
		expectedStatus int
		expectedUser   string
	}{
		{
			name:           "bearer header",
			header:         "Bearer " + adminToken,
			expectedStatus: http.StatusNoContent,
			expectedUser:   "alice",
		},
		{
			name:           "lowercase scheme",
			header:         "bearer " + adminToken,
			expectedStatus: http.StatusNoContent,
			expectedUser:   "alice",
		},
		{
			name:           "query token for websocket",
			query:          "?token=" + adminToken,
			expectedStatus: http.StatusNoContent,
			expectedUser:   "alice",
		},
		{
			name:           "missing token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "garbage token",
			header:         "Bearer nope",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong role",
			header:         "Bearer " + ingestToken,
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenUser, seenRole = "", ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tkban/status"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, tt.expectedUser, seenUser)
			if tt.expectedUser != "" {
				assert.Equal(t, auth.RoleAdmin, seenRole)
			}
		})
	}
}

func TestRequireRole_AllowsAnyListedRole(t *testing.T) {
	svc, err := auth.NewService("middleware-test-secret")
	require.NoError(t, err)
	token, _, err := svc.IssueToken("forwarder", auth.RoleIngest, time.Hour)
	require.NoError(t, err)

	h := JWTAuth(svc)(RequireRole(auth.RoleAdmin, auth.RoleIngest)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		status   int
		expected string
	}{
		{name: "ok", path: "/api/v1/tkban/status", status: http.StatusOK, expected: "level=INFO"},
		{name: "client error", path: "/api/v1/tkban/config", status: http.StatusUnprocessableEntity, expected: "level=WARN"},
		{name: "server error", path: "/api/v1/tkban/audit", status: http.StatusInternalServerError, expected: "level=ERROR"},
		{name: "health", path: "/health", status: http.StatusOK, expected: "level=DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Contains(t, buf.String(), tt.expected)
			assert.Contains(t, buf.String(), "path="+tt.path)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tkban/config", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tkban/config", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=31536000")
}
