package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kr1s57/tkguard/internal/entity"
)

var (
	// ErrTransient marks sink failures worth retrying
	ErrTransient = entity.ErrTransientSink
	// ErrPermanent marks sink failures that are never retried
	ErrPermanent = entity.ErrPermanentSink

	ErrQueueFull       = errors.New("action queue full")
	ErrExecutorStopped = errors.New("action executor stopped")
)

// Moderator issues bans on the game server
type Moderator interface {
	Ban(ctx context.Context, cmd entity.BanCommand) error
}

// Notifier posts a message to a webhook
type Notifier interface {
	PostWebhook(ctx context.Context, url, content string) error
}

// AuditTrail stores one record per ban verdict
type AuditTrail interface {
	RecordBan(ctx context.Context, rec *entity.AuditRecord) error
}

// Config bounds the executor's resource use
type Config struct {
	Workers        int
	QueueSize      int
	BanTimeout     time.Duration
	WebhookTimeout time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.BanTimeout <= 0 {
		c.BanTimeout = 10 * time.Second
	}
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
}

// Stats counts jobs since startup
type Stats struct {
	Queued     int64 `json:"queued"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Retries    int64 `json:"retries"`
	QueueDepth int   `json:"queue_depth"`
}

type jobKind string

const (
	jobBan     jobKind = "ban"
	jobWebhook jobKind = "webhook"
)

type job struct {
	kind       jobKind
	verdict    entity.Verdict
	playerName string
	policy     *entity.PolicyConfig
}

// Executor carries out verdicts off the ingestion path. Execute never
// blocks: when the queue is full the job is dropped and logged.
type Executor struct {
	cfg       Config
	moderator Moderator
	notifier  Notifier
	audit     AuditTrail
	logger    *slog.Logger

	jobs   chan job
	mu     sync.RWMutex // guards closed against Execute racing Stop
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context

	auditWG sync.WaitGroup // audit writes for dropped bans

	queued    atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	retries   atomic.Int64
}

// NewExecutor creates an executor. notifier and audit may be nil.
func NewExecutor(cfg Config, moderator Moderator, notifier Notifier, audit AuditTrail, logger *slog.Logger) *Executor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:       cfg,
		moderator: moderator,
		notifier:  notifier,
		audit:     audit,
		logger:    logger,
		jobs:      make(chan job, cfg.QueueSize),
		ctx:       context.Background(),
	}
}

// Start launches the worker pool. ctx cancels in-flight retries.
func (e *Executor) Start(ctx context.Context) {
	e.ctx = ctx
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Info("Action executor started", "workers", e.cfg.Workers, "queue_size", e.cfg.QueueSize)
}

// Stop stops accepting jobs and waits for queued ones to finish
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.jobs)
	e.mu.Unlock()

	e.wg.Wait()
	e.auditWG.Wait()
	e.logger.Info("Action executor stopped")
}

// Execute schedules the side effects of verdict: a ban request for Ban
// verdicts and a webhook notification whenever the policy has a webhook URL.
// It returns false when a ban could not be queued; the drop is written to
// the audit trail as failed.
func (e *Executor) Execute(verdict entity.Verdict, session entity.PlayerSession, policy *entity.PolicyConfig) bool {
	name := session.DisplayName()

	accepted := true
	if verdict.Action == entity.VerdictBan {
		j := job{kind: jobBan, verdict: verdict, playerName: name, policy: policy}
		if err := e.enqueue(j); err != nil {
			accepted = false
			e.auditDropped(j, err)
		}
	}
	if policy.HasWebhook() && e.notifier != nil {
		_ = e.enqueue(job{kind: jobWebhook, verdict: verdict, playerName: name, policy: policy})
	}
	return accepted
}

func (e *Executor) enqueue(j job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.dropped.Add(1)
		e.logger.Warn("Executor stopped, dropping job", "kind", j.kind, "player_id", j.verdict.PlayerID)
		return ErrExecutorStopped
	}

	select {
	case e.jobs <- j:
		e.queued.Add(1)
		return nil
	default:
		e.dropped.Add(1)
		e.logger.Error("Action queue full, dropping job",
			"kind", j.kind,
			"player_id", j.verdict.PlayerID,
			"verdict_id", j.verdict.ID,
		)
		return ErrQueueFull
	}
}

// auditDropped records a ban that never reached a worker. The write runs
// off the ingestion path and Stop waits for it.
func (e *Executor) auditDropped(j job, reason error) {
	if e.audit == nil {
		return
	}
	rec := e.auditRecord(j, 0, reason)

	e.auditWG.Add(1)
	go func() {
		defer e.auditWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.BanTimeout)
		defer cancel()
		if err := e.audit.RecordBan(ctx, rec); err != nil {
			e.logger.Error("Failed to record dropped ban", "player_id", rec.PlayerID, "error", err)
		}
	}()
}

func (e *Executor) auditRecord(j job, attempts int, err error) *entity.AuditRecord {
	rec := &entity.AuditRecord{
		ID:              uuid.New(),
		Timestamp:       time.Now().UTC(),
		VerdictID:       j.verdict.ID,
		PlayerID:        j.verdict.PlayerID,
		PlayerName:      j.playerName,
		Reason:          entity.ExpandPlayerTemplate(j.policy.Message, j.playerName),
		DurationSeconds: j.verdict.DurationSeconds,
		TeamKillCount:   uint32(j.verdict.TeamKillCount),
		Status:          entity.AuditStatusIssued,
		Attempts:        uint8(attempts),
		PerformedBy:     entity.AuditActor,
	}
	if j.verdict.BlacklistID != nil {
		id := int32(*j.verdict.BlacklistID)
		rec.BlacklistID = &id
	}
	if err != nil {
		rec.Status = entity.AuditStatusFailed
		rec.Error = err.Error()
	}
	return rec
}

// Stats returns the job counters
func (e *Executor) Stats() Stats {
	return Stats{
		Queued:     e.queued.Load(),
		Succeeded:  e.succeeded.Load(),
		Failed:     e.failed.Load(),
		Dropped:    e.dropped.Load(),
		Retries:    e.retries.Load(),
		QueueDepth: len(e.jobs),
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for j := range e.jobs {
		switch j.kind {
		case jobBan:
			e.runBan(j)
		case jobWebhook:
			e.runWebhook(j)
		}
	}
}

func (e *Executor) runBan(j job) {
	cmd := entity.BanCommand{
		PlayerID:        j.verdict.PlayerID,
		PlayerName:      j.playerName,
		DurationSeconds: j.verdict.DurationSeconds,
		BlacklistID:     j.verdict.BlacklistID,
		Reason:          entity.ExpandPlayerTemplate(j.policy.Message, j.playerName),
		By:              j.policy.AuthorName,
	}

	attempts, err := e.withRetry(e.cfg.BanTimeout, func(ctx context.Context) error {
		if e.moderator == nil {
			return fmt.Errorf("%w: no moderation backend configured", ErrPermanent)
		}
		return e.moderator.Ban(ctx, cmd)
	})

	rec := e.auditRecord(j, attempts, err)
	if err != nil {
		e.failed.Add(1)
		e.logger.Error("Ban failed",
			"player_id", cmd.PlayerID,
			"player_name", cmd.PlayerName,
			"attempts", attempts,
			"error", err,
		)
	} else {
		e.succeeded.Add(1)
		e.logger.Info("Player banned",
			"player_id", cmd.PlayerID,
			"player_name", cmd.PlayerName,
			"duration_seconds", cmd.DurationSeconds,
			"blacklist_id", cmd.BlacklistID,
		)
	}

	if e.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.BanTimeout)
	defer cancel()
	if err := e.audit.RecordBan(ctx, rec); err != nil {
		e.logger.Error("Failed to record ban audit", "player_id", cmd.PlayerID, "error", err)
	}
}

func (e *Executor) runWebhook(j job) {
	url := *j.policy.WebhookURL
	template := j.policy.WebhookMessage
	if j.verdict.Action != entity.VerdictBan {
		template = entity.WarnWebhookMessage
	}
	content := entity.ExpandPlayerTemplate(template, j.playerName)

	attempts, err := e.withRetry(e.cfg.WebhookTimeout, func(ctx context.Context) error {
		return e.notifier.PostWebhook(ctx, url, content)
	})
	if err != nil {
		e.failed.Add(1)
		e.logger.Warn("Webhook notification failed",
			"player_id", j.verdict.PlayerID,
			"attempts", attempts,
			"error", err,
		)
		return
	}
	e.succeeded.Add(1)
	e.logger.Debug("Webhook notification sent", "player_id", j.verdict.PlayerID, "action", j.verdict.Action)
}

// withRetry runs op with a per-attempt timeout, retrying everything except
// permanent errors up to MaxRetries times. Returns the number of attempts.
func (e *Executor) withRetry(timeout time.Duration, op func(ctx context.Context) error) (int, error) {
	var err error
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(e.ctx, timeout)
		err = op(ctx)
		cancel()

		if err == nil {
			return attempt + 1, nil
		}
		if errors.Is(err, ErrPermanent) || attempt >= e.cfg.MaxRetries {
			return attempt + 1, err
		}

		e.retries.Add(1)
		select {
		case <-e.ctx.Done():
			return attempt + 1, e.ctx.Err()
		case <-time.After(e.backoff(attempt)):
		}
	}
}

// backoff doubles the base delay per attempt, capped at MaxBackoff
func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.cfg.BaseBackoff
	for i := 0; i < attempt && delay < e.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > e.cfg.MaxBackoff {
		delay = e.cfg.MaxBackoff
	}
	return delay
}
