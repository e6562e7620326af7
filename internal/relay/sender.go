package relay

import (
	"context"
	"log/slog"
	"time"

	"threadrelay/internal/domain"
	"threadrelay/internal/transform"
)

// Journal records successful deliveries. Recording is best effort: a journal
// failure never fails the delivery it describes.
type Journal interface {
	Record(ctx context.Context, rec domain.DeliveryRecord) error
}

// sender is the delivery path shared by the live dispatcher and the backfill
// engine: transform the message per the rule's mode, post it, journal it.
type sender struct {
	deliverer domain.Deliverer
	journal   Journal // nil when journaling is disabled
	logger    *slog.Logger
}

// send transforms msg and delivers it once through the rule's delivery mode.
// A failure comes back wrapped with its routing context; the transport error
// stays reachable through errors.As, so callers can still detect a rate-limit
// signal.
func (s *sender) send(ctx context.Context, rule *domain.RoutingRule, msg domain.InboundMessage, backfill bool) error {
	mode := rule.Mode()
	payload := transform.Transform(msg, mode)

	var err error
	if mode == domain.IdentityPreservingPost {
		err = s.deliverer.PostWebhook(ctx, rule.Endpoint, payload)
	} else {
		err = s.deliverer.PostMessage(ctx, rule.ChannelID, payload)
	}
	if err != nil {
		return &domain.DeliveryError{ThreadID: rule.ThreadID, ChannelID: rule.ChannelID, Err: err}
	}

	if s.journal != nil {
		rec := domain.DeliveryRecord{
			ThreadID:    rule.ThreadID,
			ChannelID:   rule.ChannelID,
			MessageID:   msg.ID,
			Mode:        mode,
			Backfill:    backfill,
			DeliveredAt: time.Now(),
		}
		if jerr := s.journal.Record(ctx, rec); jerr != nil {
			s.logger.Warn("journal write failed", "thread_id", rule.ThreadID, "message_id", msg.ID, "err", jerr)
		}
	}
	return nil
}

// reply posts an operator-facing notice into a channel or thread under the
// relay's own identity.
func (s *sender) reply(ctx context.Context, channelID, text string) {
	if err := s.deliverer.PostMessage(ctx, channelID, domain.OutboundPayload{Content: text}); err != nil {
		s.logger.Warn("notice delivery failed", "channel_id", channelID, "err", err)
	}
}
