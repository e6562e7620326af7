package domain

import "context"

// Deliverer posts payloads to a destination. Implementations block until the
// platform accepts or rejects the post; callers decide what a failure means.
type Deliverer interface {
	// PostMessage posts into a channel under the relay's own identity.
	PostMessage(ctx context.Context, channelID string, payload OutboundPayload) error
	// PostWebhook posts through a webhook endpoint, carrying the payload's
	// per-message username and avatar. Any display name configured on the
	// endpoint itself is overridden.
	PostWebhook(ctx context.Context, endpoint string, payload OutboundPayload) error
}

// HistoryFetcher reads a thread's message history one page at a time.
// FetchPage returns up to limit messages strictly after afterID (the empty
// string means the start of the thread), ordered oldest first. An empty page
// with a nil error means the history is exhausted.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, threadID, afterID string, limit int) ([]InboundMessage, error)
}
