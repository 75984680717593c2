package entity

import (
	"strings"
	"time"
)

// Default texts for the team-kill-on-connect policy
const (
	DefaultBanMessage     = "Your first action on the server was a TEAM KILL you were banned as a result"
	DefaultAuthorName     = "HATERS GONNA HATE"
	DefaultWebhookMessage = "{player} banned for TK right after connecting"

	// WarnWebhookMessage is posted for Warn verdicts
	WarnWebhookMessage = "{player} warned for TK right after connecting"

	// PlayerPlaceholder is replaced by the player's name in message templates
	PlayerPlaceholder = "{player}"
)

// TimeFrame is an admin-facing ban duration broken into calendar units
type TimeFrame struct {
	Minutes int `json:"minutes" yaml:"minutes"`
	Hours   int `json:"hours" yaml:"hours"`
	Days    int `json:"days" yaml:"days"`
	Weeks   int `json:"weeks" yaml:"weeks"`
	Years   int `json:"years" yaml:"years"`
}

// TotalSeconds returns the ban length in seconds, 0 meaning permanent.
// Years are accepted and validated but are not part of the computed
// duration, matching the behaviour admins already rely on.
func (t TimeFrame) TotalSeconds() int64 {
	return int64(t.Minutes)*60 +
		int64(t.Hours)*3600 +
		int64(t.Days)*86400 +
		int64(t.Weeks)*604800
}

// Duration returns TotalSeconds as a time.Duration
func (t TimeFrame) Duration() time.Duration {
	return time.Duration(t.TotalSeconds()) * time.Second
}

// PolicyWhitelist holds the exemption rules of the policy
type PolicyWhitelist struct {
	HasFlag             []string `json:"has_flag" yaml:"has_flag"`
	IsVIP               bool     `json:"is_vip" yaml:"is_vip"`
	HasAtLeastNSessions int      `json:"has_at_least_n_sessions" yaml:"has_at_least_n_sessions"`
}

// PolicyConfig is an immutable snapshot of the team-kill-on-connect settings.
// A new snapshot is built on every reload; never modify one that has been published.
type PolicyConfig struct {
	Enabled                    bool            `json:"enabled" yaml:"enabled"`
	Message                    string          `json:"message" yaml:"message"`
	AuthorName                 string          `json:"author_name" yaml:"author_name"`
	BlacklistID                *int            `json:"blacklist_id" yaml:"blacklist_id"`
	BanDuration                TimeFrame       `json:"ban_duration" yaml:"ban_duration"`
	ExcludedWeapons            []string        `json:"excluded_weapons" yaml:"excluded_weapons"`
	MaxTimeAfterConnectMinutes int             `json:"max_time_after_connect_minutes" yaml:"max_time_after_connect_minutes"`
	IgnoreTKAfterNKills        int             `json:"ignore_tk_after_n_kills" yaml:"ignore_tk_after_n_kills"`
	IgnoreTKAfterNDeaths       int             `json:"ignore_tk_after_n_deaths" yaml:"ignore_tk_after_n_deaths"`
	Whitelist                  PolicyWhitelist `json:"whitelist_players" yaml:"whitelist_players"`
	TeamkillToleranceCount     int             `json:"teamkill_tolerance_count" yaml:"teamkill_tolerance_count"`
	WebhookURL                 *string         `json:"discord_webhook_url" yaml:"discord_webhook_url"`
	WebhookMessage             string          `json:"discord_webhook_message" yaml:"discord_webhook_message"`
}

// DefaultPolicyConfig returns the policy used until an admin stores one
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		Enabled:                    false,
		Message:                    DefaultBanMessage,
		AuthorName:                 DefaultAuthorName,
		BanDuration:                TimeFrame{},
		ExcludedWeapons:            []string{},
		MaxTimeAfterConnectMinutes: 5,
		IgnoreTKAfterNKills:        1,
		IgnoreTKAfterNDeaths:       2,
		Whitelist: PolicyWhitelist{
			HasFlag:             []string{},
			IsVIP:               true,
			HasAtLeastNSessions: 10,
		},
		TeamkillToleranceCount: 1,
		WebhookMessage:         DefaultWebhookMessage,
	}
}

// BanDurationSeconds returns the computed ban length, 0 meaning permanent
func (p *PolicyConfig) BanDurationSeconds() int64 {
	return p.BanDuration.TotalSeconds()
}

// MaxTimeAfterConnect returns the connect window
func (p *PolicyConfig) MaxTimeAfterConnect() time.Duration {
	return time.Duration(p.MaxTimeAfterConnectMinutes) * time.Minute
}

// IsWeaponExcluded reports whether kills with weapon never count
func (p *PolicyConfig) IsWeaponExcluded(weapon string) bool {
	for _, w := range p.ExcludedWeapons {
		if w == weapon {
			return true
		}
	}
	return false
}

// HasWebhook reports whether notifications are enabled. An absent URL
// disables them entirely.
func (p *PolicyConfig) HasWebhook() bool {
	return p.WebhookURL != nil && *p.WebhookURL != ""
}

// Clone returns a deep copy, used to derive a new snapshot from the active one
func (p *PolicyConfig) Clone() *PolicyConfig {
	c := *p
	c.ExcludedWeapons = append([]string{}, p.ExcludedWeapons...)
	c.Whitelist.HasFlag = append([]string{}, p.Whitelist.HasFlag...)
	if p.BlacklistID != nil {
		id := *p.BlacklistID
		c.BlacklistID = &id
	}
	if p.WebhookURL != nil {
		u := *p.WebhookURL
		c.WebhookURL = &u
	}
	return &c
}

// ExpandPlayerTemplate substitutes the player placeholder in a message template
func ExpandPlayerTemplate(template, player string) string {
	return strings.ReplaceAll(template, PlayerPlaceholder, player)
}
