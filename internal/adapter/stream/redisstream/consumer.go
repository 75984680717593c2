package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kr1s57/tkguard/internal/entity"
)

// Config holds the stream consumer configuration
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	StartID  string // "$" for new entries only, "0" to replay
	Count    int64
	Block    time.Duration
}

// Consumer reads game events from a Redis stream with XREAD
type Consumer struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
	lastID string
}

// NewConsumer connects to Redis and checks the server answers
func NewConsumer(ctx context.Context, cfg Config, logger *slog.Logger) (*Consumer, error) {
	if cfg.Stream == "" {
		return nil, errors.New("redis stream name is required")
	}
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Connected to Redis", "addr", cfg.Addr, "stream", cfg.Stream)

	return &Consumer{
		client: client,
		cfg:    cfg,
		logger: logger,
		lastID: cfg.StartID,
	}, nil
}

func (c *Consumer) Name() string { return "redis:" + c.cfg.Stream }

// Ping checks the Redis connection
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *Consumer) Close() error {
	return c.client.Close()
}

// Stream blocks reading the stream and sends decoded events to out until
// ctx is cancelled. Undecodable entries are logged and skipped.
func (c *Consumer) Stream(ctx context.Context, out chan<- entity.RawEvent) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.cfg.Stream, c.lastID},
			Count:   c.cfg.Count,
			Block:   c.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Redis stream read failed", "stream", c.cfg.Stream, "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.lastID = msg.ID
				ev, err := DecodeMessage(msg.Values)
				if err != nil {
					c.logger.Warn("Skipping undecodable stream entry", "id", msg.ID, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// DecodeMessage turns stream entry fields into a RawEvent. Entries either
// carry the whole event as JSON in a "data" field or one field per
// attribute.
func DecodeMessage(values map[string]interface{}) (entity.RawEvent, error) {
	var ev entity.RawEvent

	if data, ok := values["data"]; ok {
		s := fmt.Sprint(data)
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			return ev, fmt.Errorf("decode data field: %w", err)
		}
		return ev, nil
	}

	str := func(key string) string {
		if v, ok := values[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}

	ev.Type = str("type")
	ev.PlayerID = str("player_id")
	ev.PlayerName = str("player_name")
	ev.PlayerTeam = str("player_team")
	ev.VictimID = str("victim_id")
	ev.VictimName = str("victim_name")
	ev.VictimTeam = str("victim_team")
	ev.Weapon = str("weapon")

	if ts := str("timestamp"); ts != "" {
		t, err := parseTimestamp(ts)
		if err != nil {
			return ev, err
		}
		ev.Timestamp = t
	}
	return ev, nil
}

// parseTimestamp accepts RFC 3339 or unix time in seconds or milliseconds
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
