package rcon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kr1s57/tkguard/internal/entity"
)

// Config holds configuration for the RCON web API client
type Config struct {
	BaseURL   string
	APIToken  string
	Timeout   time.Duration
	RateLimit int // requests per minute
}

// Client issues moderation commands through the RCON web API
type Client struct {
	baseURL     string
	apiToken    string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

type tempBanRequest struct {
	PlayerID      string `json:"player_id"`
	PlayerName    string `json:"player_name"`
	DurationHours int64  `json:"duration_hours"`
	Reason        string `json:"reason"`
	By            string `json:"by"`
}

type permaBanRequest struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Reason     string `json:"reason"`
	By         string `json:"by"`
}

type blacklistRequest struct {
	PlayerID    string `json:"player_id"`
	BlacklistID int    `json:"blacklist_id"`
	Reason      string `json:"reason"`
	AdminName   string `json:"admin_name"`
}

// apiResponse is the envelope every RCON endpoint answers with
type apiResponse struct {
	Result  json.RawMessage `json:"result"`
	Command string          `json:"command"`
	Failed  bool            `json:"failed"`
	Error   string          `json:"error"`
}

// NewClient creates a new RCON web API client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 120
	}

	// Create rate limiter (requests per second)
	limiter := rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), 5)

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiToken: cfg.APIToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rateLimiter: limiter,
	}
}

// Ban applies cmd. A blacklist id wins over the duration; a zero duration
// is a permanent ban.
func (c *Client) Ban(ctx context.Context, cmd entity.BanCommand) error {
	switch {
	case cmd.BlacklistID != nil:
		return c.post(ctx, "/api/add_blacklist_record", blacklistRequest{
			PlayerID:    cmd.PlayerID,
			BlacklistID: *cmd.BlacklistID,
			Reason:      cmd.Reason,
			AdminName:   cmd.By,
		})
	case cmd.DurationSeconds == 0:
		return c.post(ctx, "/api/perma_ban", permaBanRequest{
			PlayerID:   cmd.PlayerID,
			PlayerName: cmd.PlayerName,
			Reason:     cmd.Reason,
			By:         cmd.By,
		})
	default:
		return c.post(ctx, "/api/temp_ban", tempBanRequest{
			PlayerID:      cmd.PlayerID,
			PlayerName:    cmd.PlayerName,
			DurationHours: DurationHours(cmd.DurationSeconds),
			Reason:        cmd.Reason,
			By:            cmd.By,
		})
	}
}

// DurationHours converts seconds to whole hours, rounding up so a short
// ban is never turned into no ban
func DurationHours(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 3599) / 3600
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	// Apply rate limiting
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", entity.ErrTransientSink, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", entity.ErrPermanentSink, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", entity.ErrPermanentSink, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tkguard/1.0")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", entity.ErrTransientSink, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if err := classifyStatus(resp.StatusCode); err != nil {
		return fmt.Errorf("%w: %s returned %d: %s", err, path, resp.StatusCode, truncate(string(respBody), 200))
	}

	var envelope apiResponse
	if len(respBody) > 0 && json.Unmarshal(respBody, &envelope) == nil && envelope.Failed {
		return fmt.Errorf("%w: %s failed: %s", entity.ErrPermanentSink, path, envelope.Error)
	}
	return nil
}

// classifyStatus maps an HTTP status to a sink error, nil on success
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return entity.ErrTransientSink
	default:
		return entity.ErrPermanentSink
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
