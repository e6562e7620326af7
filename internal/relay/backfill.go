package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"threadrelay/internal/domain"
	"threadrelay/internal/mapping"
	"threadrelay/internal/metrics"
)

// ErrBackfillRunning is returned when a backfill is requested for a thread
// that already has one in flight.
var ErrBackfillRunning = errors.New("a backfill is already running for this thread")

const defaultPageSize = 100

// Backfill replays a thread's full history to its destination, oldest message
// first, through the same transform/delivery path as the live dispatcher.
// Delivery is strictly sequential within a run so destination order matches
// source order, and at most one run per thread is in flight at a time. A run
// holds its thread's delivery lock from start to finish; the dispatcher takes
// the same lock per live message, so live traffic queues behind the replay
// instead of landing between history messages.
//
// A run is not transactional: a crash or cancellation mid-run leaves a prefix
// of the history copied, and a fresh run replays from the beginning. The relay
// keeps no checkpoint and does not deduplicate on re-run.
type Backfill struct {
	sender
	store   *mapping.Store
	fetcher domain.HistoryFetcher

	pageSize  int
	postDelay time.Duration

	mu          sync.Mutex
	inflight    map[string]bool
	threadLocks map[string]*sync.Mutex
}

// BackfillConfig holds the engine's collaborators and pacing knobs.
type BackfillConfig struct {
	Store     *mapping.Store
	Fetcher   domain.HistoryFetcher
	Deliverer domain.Deliverer
	Journal   Journal // optional
	Logger    *slog.Logger
	PageSize  int           // history page size, default 100
	PostDelay time.Duration // pause between posts, 0 = none
}

// NewBackfill creates a backfill engine.
func NewBackfill(cfg BackfillConfig) *Backfill {
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.PostDelay < 0 {
		cfg.PostDelay = 0
	}
	return &Backfill{
		sender: sender{
			deliverer: cfg.Deliverer,
			journal:   cfg.Journal,
			logger:    cfg.Logger,
		},
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		pageSize:    cfg.PageSize,
		postDelay:   cfg.PostDelay,
		inflight:    make(map[string]bool),
		threadLocks: make(map[string]*sync.Mutex),
	}
}

// Run copies threadID's entire history to its mapped destination and returns
// the number of messages delivered. It fails fast with ErrNotMapped for
// unmapped threads and ErrBackfillRunning when a run for the same thread is
// already in flight. Run blocks until the history is exhausted, a fetch fails,
// or ctx is cancelled.
func (b *Backfill) Run(ctx context.Context, threadID string) (int, error) {
	rule := b.store.Resolve(threadID)
	if rule == nil {
		return 0, domain.ErrNotMapped
	}
	if !b.begin(threadID) {
		return 0, ErrBackfillRunning
	}
	defer b.end(threadID)

	lock := b.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	metrics.BackfillRuns.Inc()
	metrics.ActiveBackfills.Inc()
	defer metrics.ActiveBackfills.Dec()

	b.logger.Info("backfill started", "thread_id", threadID, "channel_id", rule.ChannelID)
	b.reply(ctx, rule.ChannelID, "🔄 Copying this thread's message history...")

	delivered := 0
	afterID := ""
	for {
		page, err := b.fetchPage(ctx, threadID, afterID)
		if err != nil {
			b.reply(ctx, rule.ChannelID, fmt.Sprintf("❌ History fetch failed after %d messages: %v", delivered, err))
			return delivered, fmt.Errorf("fetch history of thread %s: %w", threadID, err)
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		n, err := b.replayPage(ctx, rule, page)
		delivered += n
		if err != nil {
			return delivered, err
		}
	}

	b.reply(ctx, rule.ChannelID, fmt.Sprintf("✅ Copied %d messages from the thread.", delivered))
	b.logger.Info("backfill complete", "thread_id", threadID, "messages", delivered)
	return delivered, nil
}

// fetchPage reads one history page, suspending and retrying on a rate-limit
// signal.
func (b *Backfill) fetchPage(ctx context.Context, threadID, afterID string) ([]domain.InboundMessage, error) {
	for {
		page, err := b.fetcher.FetchPage(ctx, threadID, afterID, b.pageSize)
		if err == nil {
			return page, nil
		}
		var rl *domain.RateLimitedError
		if !errors.As(err, &rl) {
			return nil, err
		}
		if werr := b.cooldown(ctx, threadID, rl.RetryAfter); werr != nil {
			return nil, werr
		}
	}
}

// replayPage delivers one page sequentially. A rate-limit signal suspends the
// run and retries the same message; any other delivery failure is logged and
// the message skipped, so one bad message never ends the run.
func (b *Backfill) replayPage(ctx context.Context, rule *domain.RoutingRule, page []domain.InboundMessage) (int, error) {
	delivered := 0
	for i := 0; i < len(page); {
		msg := page[i]
		if msg.FromBot {
			i++
			continue
		}

		err := b.send(ctx, rule, msg, true)
		if err != nil {
			var rl *domain.RateLimitedError
			if errors.As(err, &rl) {
				if werr := b.cooldown(ctx, rule.ThreadID, rl.RetryAfter); werr != nil {
					return delivered, werr
				}
				continue // retry the same message
			}
			metrics.DeliveriesFailed.Inc()
			b.logger.Error("backfill delivery failed, skipping message",
				"thread_id", rule.ThreadID,
				"message_id", msg.ID,
				"err", err,
			)
			i++
			continue
		}

		metrics.BackfillMessages.Inc()
		delivered++
		i++

		if b.postDelay > 0 {
			if err := sleepCtx(ctx, b.postDelay); err != nil {
				return delivered, err
			}
		}
	}
	return delivered, nil
}

// cooldown suspends the run for the platform-indicated period.
func (b *Backfill) cooldown(ctx context.Context, threadID string, wait time.Duration) error {
	if wait <= 0 {
		wait = time.Second
	}
	metrics.RateLimitWaits.Inc()
	b.logger.Warn("rate limited, suspending backfill", "thread_id", threadID, "retry_after", wait)
	return sleepCtx(ctx, wait)
}

// threadLock returns threadID's delivery mutex, creating it on first use.
// Whoever holds it is the only writer to the thread's destination.
func (b *Backfill) threadLock(threadID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.threadLocks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		b.threadLocks[threadID] = lock
	}
	return lock
}

// Running reports whether a backfill for threadID is in flight.
func (b *Backfill) Running(threadID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inflight[threadID]
}

func (b *Backfill) begin(threadID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight[threadID] {
		return false
	}
	b.inflight[threadID] = true
	return true
}

func (b *Backfill) end(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, threadID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
