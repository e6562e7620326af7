// Package channel adapts the Discord gateway and REST API to the relay's
// domain interfaces: inbound thread messages, both delivery paths, and the
// paged history fetch used by backfill.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"threadrelay/internal/domain"
)

const discordMaxMsgLen = 2000

// Handler consumes inbound messages from the gateway.
type Handler interface {
	OnMessage(ctx context.Context, msg domain.InboundMessage)
}

// Discord connects to the Discord gateway and implements domain.Deliverer and
// domain.HistoryFetcher against the REST API.
type Discord struct {
	token   string
	session *discordgo.Session
	handler Handler
	logger  *slog.Logger
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token  string
	Logger *slog.Logger
}

// NewDiscord creates a Discord adapter. The session is opened by Start, but
// the REST-side methods (PostMessage, PostWebhook, FetchPage) are usable as
// soon as Connect has been called.
func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:  cfg.Token,
		logger: cfg.Logger,
	}
}

// Connect builds the session without opening the gateway. Split from Start so
// the caller can wire the adapter into collaborators before events flow.
func (d *Discord) Connect() error {
	if d.token == "" {
		return fmt.Errorf("discord bot token not configured")
	}
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	// The backfill engine owns rate-limit cooldowns; surface 429s instead of
	// letting the library block on them internally.
	session.ShouldRetryOnRateLimit = false
	d.session = session
	return nil
}

// Start opens the gateway, forwards MessageCreate events to the handler, and
// blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, handler Handler) error {
	d.handler = handler
	if d.session == nil {
		if err := d.Connect(); err != nil {
			return err
		}
	}

	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		// The relay's own posts come back as MessageCreate events; marking
		// them handles loop prevention in the dispatcher.
		msg := inboundFromMessage(m.Message)
		if m.Author.ID == s.State.User.ID {
			msg.FromBot = true
		}
		d.handler.OnMessage(ctx, msg)
	})

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord gateway connected", "user", d.session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord gateway disconnecting")
	return d.session.Close()
}

// PostMessage posts into a channel under the bot's own identity, splitting
// content that exceeds Discord's message length limit.
func (d *Discord) PostMessage(ctx context.Context, channelID string, payload domain.OutboundPayload) error {
	for _, chunk := range splitMessage(payload.Content, discordMaxMsgLen) {
		_, err := d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			return mapDiscordError(err)
		}
	}
	return nil
}

// PostWebhook executes the webhook with the payload's username and avatar.
// Passing Username explicitly overrides any display name configured on the
// endpoint, so the per-message identity always takes effect.
func (d *Discord) PostWebhook(ctx context.Context, endpoint string, payload domain.OutboundPayload) error {
	id, token, err := ParseWebhookURL(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEndpointNotConfigured, err)
	}
	for _, chunk := range splitMessage(payload.Content, discordMaxMsgLen) {
		params := &discordgo.WebhookParams{
			Content:   chunk,
			Username:  payload.Username,
			AvatarURL: payload.AvatarURL,
		}
		if _, err := d.session.WebhookExecute(id, token, true, params, discordgo.WithContext(ctx)); err != nil {
			return mapDiscordError(err)
		}
	}
	return nil
}

// FetchPage reads up to limit messages strictly after afterID, oldest first.
// Discord does not document the in-page ordering for "after" queries, so the
// page is sorted by snowflake before returning.
func (d *Discord) FetchPage(ctx context.Context, threadID, afterID string, limit int) ([]domain.InboundMessage, error) {
	msgs, err := d.session.ChannelMessages(threadID, limit, "", afterID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapDiscordError(err)
	}
	sort.Slice(msgs, func(i, j int) bool {
		return snowflakeLess(msgs[i].ID, msgs[j].ID)
	})
	page := make([]domain.InboundMessage, 0, len(msgs))
	for _, m := range msgs {
		page = append(page, inboundFromMessage(m))
	}
	return page, nil
}

func inboundFromMessage(m *discordgo.Message) domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:        m.ID,
		ThreadID:  m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorName = m.Author.Username
		msg.AuthorAvatar = m.Author.AvatarURL("")
		msg.FromBot = m.Author.Bot
	}
	// System messages (pins, joins) are treated like bot traffic: not relayed.
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		msg.FromBot = true
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, a.URL)
	}
	return msg
}

// mapDiscordError converts the library's rate-limit error into the domain's
// typed signal so the backfill engine can suspend and retry.
func mapDiscordError(err error) error {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return &domain.RateLimitedError{RetryAfter: rl.RetryAfter}
	}
	return err
}

// ParseWebhookURL extracts the webhook id and token from a Discord webhook
// URL of the form https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhookURL(endpoint string) (id, token string, err error) {
	const marker = "/webhooks/"
	idx := strings.Index(endpoint, marker)
	if idx < 0 {
		return "", "", fmt.Errorf("not a webhook URL: %q", endpoint)
	}
	rest := strings.Trim(endpoint[idx+len(marker):], "/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("webhook URL missing id or token: %q", endpoint)
	}
	if _, perr := strconv.ParseUint(parts[0], 10, 64); perr != nil {
		return "", "", fmt.Errorf("webhook id is not numeric: %q", parts[0])
	}
	return parts[0], parts[1], nil
}

// snowflakeLess orders Discord snowflake ids chronologically.
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// splitMessage splits content into chunks that fit within the max length,
// preferring newline boundaries.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
