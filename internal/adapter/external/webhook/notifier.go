package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/kr1s57/tkguard/internal/entity"
)

var discordWebhookRe = regexp.MustCompile(`^https://(?:(?:canary|ptb)\.)?discord(?:app)?\.com/api/webhooks/(\d+)/([\w-]+)/?$`)

// Notifier posts {content} messages to webhooks. Discord webhook URLs go
// through discordgo, which handles Discord's rate limit buckets; any other
// URL gets a plain JSON POST with the same body.
type Notifier struct {
	session    *discordgo.Session
	httpClient *http.Client
	username   string
}

// NewNotifier creates a notifier. username overrides the webhook's
// display name when not empty.
func NewNotifier(timeout time.Duration, username string) (*Notifier, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	// Webhook execution needs no bot token
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	client := &http.Client{Timeout: timeout}
	s.Client = client
	s.UserAgent = "tkguard/1.0"

	return &Notifier{
		session:    s,
		httpClient: client,
		username:   username,
	}, nil
}

// ParseDiscordURL extracts the webhook id and token of a Discord webhook URL
func ParseDiscordURL(url string) (id, token string, ok bool) {
	m := discordWebhookRe.FindStringSubmatch(url)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// PostWebhook sends content to url
func (n *Notifier) PostWebhook(ctx context.Context, url, content string) error {
	params := &discordgo.WebhookParams{
		Content:  content,
		Username: n.username,
	}

	if id, token, ok := ParseDiscordURL(url); ok {
		_, err := n.session.WebhookExecute(id, token, false, params, discordgo.WithContext(ctx))
		if err != nil {
			return classifyDiscordError(err)
		}
		return nil
	}
	return n.postJSON(ctx, url, params)
}

func (n *Notifier) postJSON(ctx context.Context, url string, params *discordgo.WebhookParams) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: marshal webhook body: %v", entity.ErrPermanentSink, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: create webhook request: %v", entity.ErrPermanentSink, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post webhook: %v", entity.ErrTransientSink, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if err := statusError(resp.StatusCode); err != nil {
		return fmt.Errorf("%w: webhook returned %d", err, resp.StatusCode)
	}
	return nil
}

func classifyDiscordError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		if sinkErr := statusError(restErr.Response.StatusCode); sinkErr != nil {
			return fmt.Errorf("%w: discord webhook: %v", sinkErr, err)
		}
	}
	return fmt.Errorf("%w: discord webhook: %v", entity.ErrTransientSink, err)
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return entity.ErrTransientSink
	default:
		return entity.ErrPermanentSink
	}
}
