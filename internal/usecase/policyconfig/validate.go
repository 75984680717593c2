package policyconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kr1s57/tkguard/internal/entity"
)

// ErrConfigValidation is matched by every ValidationErrors value
var ErrConfigValidation = errors.New("invalid policy config")

// FieldError describes one rejected field. Field is a dotted path such as
// "ban_duration.weeks", empty for document level problems.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors lists every problem found in a raw config
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.String()
	}
	return fmt.Sprintf("%s: %s", ErrConfigValidation.Error(), strings.Join(parts, "; "))
}

func (v ValidationErrors) Is(target error) bool {
	return target == ErrConfigValidation
}

var (
	requiredKeys = []string{
		"enabled",
		"message",
		"author_name",
		"ban_duration",
		"excluded_weapons",
		"max_time_after_connect_minutes",
		"ignore_tk_after_n_kills",
		"ignore_tk_after_n_deaths",
		"whitelist_players",
		"teamkill_tolerance_count",
		"discord_webhook_message",
	}
	optionalKeys = []string{
		"blacklist_id",
		"discord_webhook_url",
	}
	durationKeys  = []string{"minutes", "hours", "days", "weeks", "years"}
	whitelistKeys = []string{"has_flag", "is_vip", "has_at_least_n_sessions"}
)

// decoder walks a generic document and accumulates field errors
type decoder struct {
	errs ValidationErrors
}

func (d *decoder) fail(field, format string, args ...interface{}) {
	d.errs = append(d.errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// checkKeys reports missing required keys and unknown keys
func (d *decoder) checkKeys(doc map[string]interface{}, prefix string, required, optional []string) {
	known := make(map[string]bool, len(required)+len(optional))
	for _, k := range required {
		known[k] = true
		if _, ok := doc[k]; !ok {
			d.fail(join(prefix, k), "required key is missing")
		}
	}
	for _, k := range optional {
		known[k] = true
	}

	var unknown []string
	for k := range doc {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		d.fail(join(prefix, k), "unknown key")
	}
}

func (d *decoder) boolean(doc map[string]interface{}, field, path string) bool {
	v, ok := doc[field]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		d.fail(path, "must be a boolean")
	}
	return b
}

func (d *decoder) str(doc map[string]interface{}, field, path string) string {
	v, ok := doc[field]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(path, "must be a string")
	}
	return s
}

// Per unit ceilings keep a ban duration well inside an int64 of seconds
const (
	maxMinutes = 525600
	maxHours   = 87600
	maxDays    = 3650
	maxWeeks   = 520
	maxYears   = 100
)

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return n, true
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func (d *decoder) integer(doc map[string]interface{}, field, path string, min int) int {
	return d.intRange(doc, field, path, min, math.MaxInt32)
}

func (d *decoder) intRange(doc map[string]interface{}, field, path string, min, max int) int {
	v, ok := doc[field]
	if !ok {
		return 0
	}
	n, ok := toInt(v)
	if !ok {
		d.fail(path, "must be an integer")
		return 0
	}
	if n < min {
		d.fail(path, "must be greater than or equal to %d", min)
	}
	if n > max {
		d.fail(path, "must be less than or equal to %d", max)
	}
	return n
}

// stringSet decodes a list of strings, dropping duplicates but keeping order
func (d *decoder) stringSet(doc map[string]interface{}, field, path string) []string {
	out := []string{}
	v, ok := doc[field]
	if !ok || v == nil {
		return out
	}
	items, ok := v.([]interface{})
	if !ok {
		d.fail(path, "must be a list of strings")
		return out
	}
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			d.fail(fmt.Sprintf("%s[%d]", path, i), "must be a string")
			continue
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (d *decoder) object(doc map[string]interface{}, field string) (map[string]interface{}, bool) {
	v, ok := doc[field]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		d.fail(field, "must be an object")
		return nil, false
	}
	return m, true
}

// Validate parses a raw policy document (JSON or YAML) and checks every
// constraint. On failure the returned error is a ValidationErrors and no
// config is returned, so nothing is ever partially applied.
func Validate(raw []byte) (*entity.PolicyConfig, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, ValidationErrors{{Message: fmt.Sprintf("malformed document: %v", err)}}
	}
	if doc == nil {
		return nil, ValidationErrors{{Message: "empty document"}}
	}

	d := &decoder{}
	d.checkKeys(doc, "", requiredKeys, optionalKeys)

	cfg := &entity.PolicyConfig{
		Enabled:                    d.boolean(doc, "enabled", "enabled"),
		Message:                    d.str(doc, "message", "message"),
		AuthorName:                 d.str(doc, "author_name", "author_name"),
		ExcludedWeapons:            d.stringSet(doc, "excluded_weapons", "excluded_weapons"),
		MaxTimeAfterConnectMinutes: d.integer(doc, "max_time_after_connect_minutes", "max_time_after_connect_minutes", 1),
		IgnoreTKAfterNKills:        d.integer(doc, "ignore_tk_after_n_kills", "ignore_tk_after_n_kills", 1),
		IgnoreTKAfterNDeaths:       d.integer(doc, "ignore_tk_after_n_deaths", "ignore_tk_after_n_deaths", 1),
		TeamkillToleranceCount:     d.integer(doc, "teamkill_tolerance_count", "teamkill_tolerance_count", 0),
		WebhookMessage:             d.str(doc, "discord_webhook_message", "discord_webhook_message"),
		Whitelist:                  entity.PolicyWhitelist{HasFlag: []string{}},
	}

	if v, ok := doc["blacklist_id"]; ok && v != nil {
		if id, ok := toInt(v); ok {
			if id < 0 {
				d.fail("blacklist_id", "must be greater than or equal to 0")
			}
			cfg.BlacklistID = &id
		} else {
			d.fail("blacklist_id", "must be an integer or null")
		}
	}

	if dur, ok := d.object(doc, "ban_duration"); ok {
		d.checkKeys(dur, "ban_duration", durationKeys, nil)
		cfg.BanDuration = entity.TimeFrame{
			Minutes: d.intRange(dur, "minutes", "ban_duration.minutes", 0, maxMinutes),
			Hours:   d.intRange(dur, "hours", "ban_duration.hours", 0, maxHours),
			Days:    d.intRange(dur, "days", "ban_duration.days", 0, maxDays),
			Weeks:   d.intRange(dur, "weeks", "ban_duration.weeks", 0, maxWeeks),
			Years:   d.intRange(dur, "years", "ban_duration.years", 0, maxYears),
		}
	}

	if wl, ok := d.object(doc, "whitelist_players"); ok {
		d.checkKeys(wl, "whitelist_players", whitelistKeys, nil)
		cfg.Whitelist = entity.PolicyWhitelist{
			HasFlag:             d.stringSet(wl, "has_flag", "whitelist_players.has_flag"),
			IsVIP:               d.boolean(wl, "is_vip", "whitelist_players.is_vip"),
			HasAtLeastNSessions: d.integer(wl, "has_at_least_n_sessions", "whitelist_players.has_at_least_n_sessions", 0),
		}
	}

	if v, ok := doc["discord_webhook_url"]; ok && v != nil {
		s, isStr := v.(string)
		switch {
		case !isStr:
			d.fail("discord_webhook_url", "must be a string or null")
		case s == "":
			// empty means notifications off, same as null
		default:
			if err := checkWebhookURL(s); err != nil {
				d.fail("discord_webhook_url", "%s", err.Error())
			} else {
				cfg.WebhookURL = &s
			}
		}
	}

	if _, ok := doc["discord_webhook_message"]; ok && !strings.Contains(cfg.WebhookMessage, entity.PlayerPlaceholder) {
		d.fail("discord_webhook_message", "must contain %s", entity.PlayerPlaceholder)
	}

	if len(d.errs) > 0 {
		return nil, d.errs
	}
	return cfg, nil
}

func checkWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// Serialize renders cfg as canonical JSON. Validate(Serialize(cfg)) yields
// a config equal to cfg.
func Serialize(cfg *entity.PolicyConfig) ([]byte, error) {
	return json.MarshalIndent(normalize(cfg), "", "  ")
}

// SerializeYAML renders cfg in the format used by policy files
func SerializeYAML(cfg *entity.PolicyConfig) ([]byte, error) {
	return yaml.Marshal(normalize(cfg))
}

func normalize(cfg *entity.PolicyConfig) *entity.PolicyConfig {
	c := cfg.Clone()
	if c.ExcludedWeapons == nil {
		c.ExcludedWeapons = []string{}
	}
	if c.Whitelist.HasFlag == nil {
		c.Whitelist.HasFlag = []string{}
	}
	return c
}
