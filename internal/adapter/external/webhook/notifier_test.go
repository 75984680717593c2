package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/kr1s57/tkguard/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiscordURL(t *testing.T) {
	tests := []struct {
		url           string
		expectedID    string
		expectedToken string
		expectedOK    bool
	}{
		{"https://discord.com/api/webhooks/123456/abc-DEF_9", "123456", "abc-DEF_9", true},
		{"https://discordapp.com/api/webhooks/1/t/", "1", "t", true},
		{"https://ptb.discord.com/api/webhooks/42/tok", "42", "tok", true},
		{"http://discord.com/api/webhooks/1/t", "", "", false},
		{"https://hooks.slack.com/services/T/B/X", "", "", false},
		{"https://discord.com/api/webhooks/notanumber/t", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, token, ok := ParseDiscordURL(tt.url)
			assert.Equal(t, tt.expectedOK, ok)
			assert.Equal(t, tt.expectedID, id)
			assert.Equal(t, tt.expectedToken, token)
		})
	}
}

func TestPostWebhook_Generic(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := NewNotifier(0, "")
	require.NoError(t, err)

	err = n.PostWebhook(context.Background(), srv.URL+"/hook", "rookie banned for TK right after connecting")

	require.NoError(t, err)
	assert.Equal(t, "rookie banned for TK right after connecting", body["content"])
	assert.NotContains(t, body, "username")
}

func TestPostWebhook_GenericErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedError error
	}{
		{"server error", http.StatusServiceUnavailable, entity.ErrTransientSink},
		{"rate limited", http.StatusTooManyRequests, entity.ErrTransientSink},
		{"not found", http.StatusNotFound, entity.ErrPermanentSink},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			n, err := NewNotifier(0, "tkguard")
			require.NoError(t, err)

			err = n.PostWebhook(context.Background(), srv.URL, "x")
			assert.ErrorIs(t, err, tt.expectedError)
		})
	}
}

func TestClassifyDiscordError(t *testing.T) {
	notFound := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	assert.ErrorIs(t, classifyDiscordError(notFound), entity.ErrPermanentSink)

	unavailable := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	assert.ErrorIs(t, classifyDiscordError(unavailable), entity.ErrTransientSink)

	assert.ErrorIs(t, classifyDiscordError(errors.New("dial tcp: timeout")), entity.ErrTransientSink)
}
