// Package relay contains the core engine: the live dispatcher that forwards
// thread messages as they arrive, the operator command surface, and the
// backfill engine that replays a thread's history in order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"threadrelay/internal/domain"
	"threadrelay/internal/mapping"
	"threadrelay/internal/metrics"
)

// Dispatcher reacts to live inbound messages: operator commands are executed,
// everything else is resolved against the mapping store and relayed. A failed
// delivery is logged and dropped; it never blocks later messages. Live
// delivery takes the thread's delivery lock, so a message arriving during a
// backfill of its thread waits for the replay to finish instead of
// interleaving with it.
type Dispatcher struct {
	sender
	store    *mapping.Store
	backfill *Backfill
}

// DispatcherConfig holds the dispatcher's collaborators.
type DispatcherConfig struct {
	Store     *mapping.Store
	Deliverer domain.Deliverer
	Backfill  *Backfill
	Journal   Journal // optional
	Logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		sender: sender{
			deliverer: cfg.Deliverer,
			journal:   cfg.Journal,
			logger:    cfg.Logger,
		},
		store:    cfg.Store,
		backfill: cfg.Backfill,
	}
}

// OnMessage handles one live inbound message. Messages from bots (including
// the relay's own posts) are ignored to prevent loops; messages in unmapped
// threads are ignored silently, since most threads are unmapped.
func (d *Dispatcher) OnMessage(ctx context.Context, msg domain.InboundMessage) {
	if msg.FromBot {
		return
	}

	if cmd := ParseCommand(msg.Content); cmd.Kind != CommandNone {
		d.handleCommand(ctx, cmd, msg.ThreadID)
		return
	}

	rule := d.store.Resolve(msg.ThreadID)
	if rule == nil {
		d.logger.Debug("message in unmapped thread ignored", "thread_id", msg.ThreadID)
		return
	}

	// Held by a backfill run for its whole duration; live messages queue
	// behind it rather than landing between replayed history posts.
	lock := d.backfill.threadLock(msg.ThreadID)
	lock.Lock()
	err := d.send(ctx, rule, msg, false)
	lock.Unlock()

	if err != nil {
		// Live relay failures are dropped, not retried: retrying an
		// out-of-order message would break destination ordering against
		// messages that already landed.
		metrics.DeliveriesFailed.Inc()
		d.logger.Error("relay delivery failed",
			"thread_id", msg.ThreadID,
			"channel_id", rule.ChannelID,
			"message_id", msg.ID,
			"err", err,
		)
		return
	}

	metrics.MessagesRelayed.Inc()
	d.logger.Info("message relayed",
		"thread_id", msg.ThreadID,
		"channel_id", rule.ChannelID,
		"mode", rule.Mode().String(),
	)
}

// handleCommand executes an operator command issued inside threadID and
// reports the outcome back into the thread.
func (d *Dispatcher) handleCommand(ctx context.Context, cmd Command, threadID string) {
	if cmd.Invalid {
		d.reply(ctx, threadID, cmd.Usage)
		return
	}

	switch cmd.Kind {
	case CommandSetChannel:
		rule := d.store.SetDestination(threadID, cmd.ChannelID, cmd.Backfill)
		d.logger.Info("destination set", "thread_id", threadID, "channel_id", cmd.ChannelID, "backfill", cmd.Backfill)
		d.reply(ctx, threadID, fmt.Sprintf("Relaying this thread to <#%s>.", rule.ChannelID))

	case CommandSetWebhook:
		if _, err := d.store.SetWebhook(threadID, cmd.Endpoint); err != nil {
			if errors.Is(err, domain.ErrNotMapped) {
				d.reply(ctx, threadID, "This thread has no destination yet. Use setchannel first.")
				return
			}
			d.logger.Error("setwebhook failed", "thread_id", threadID, "err", err)
			return
		}
		d.logger.Info("webhook endpoint set", "thread_id", threadID)
		d.reply(ctx, threadID, "Webhook delivery enabled. Messages will keep their author's name and avatar.")

	case CommandStartBackfill:
		go func() {
			count, err := d.backfill.Run(ctx, threadID)
			switch {
			case errors.Is(err, domain.ErrNotMapped):
				d.reply(ctx, threadID, "This thread has no destination yet. Use setchannel first.")
			case errors.Is(err, ErrBackfillRunning):
				d.reply(ctx, threadID, "A backfill for this thread is already running.")
			case err != nil:
				d.logger.Error("backfill failed", "thread_id", threadID, "err", err)
				d.reply(ctx, threadID, fmt.Sprintf("Backfill failed: %v", err))
			default:
				d.logger.Info("backfill finished", "thread_id", threadID, "messages", count)
			}
		}()
	}
}
