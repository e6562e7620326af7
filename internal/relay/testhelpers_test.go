package relay

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"threadrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// post is one recorded delivery on the fake deliverer.
type post struct {
	Target  string // channel id or webhook endpoint
	Payload domain.OutboundPayload
	Webhook bool
}

// fakeDeliverer records posts and can be scripted to fail. Errs is consumed
// one error per PostMessage/PostWebhook call; a nil entry means success.
type fakeDeliverer struct {
	mu    sync.Mutex
	posts []post
	errs  []error
}

func (f *fakeDeliverer) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeDeliverer) PostMessage(ctx context.Context, channelID string, payload domain.OutboundPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return err
	}
	f.posts = append(f.posts, post{Target: channelID, Payload: payload})
	return nil
}

func (f *fakeDeliverer) PostWebhook(ctx context.Context, endpoint string, payload domain.OutboundPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return err
	}
	f.posts = append(f.posts, post{Target: endpoint, Payload: payload, Webhook: true})
	return nil
}

func (f *fakeDeliverer) recorded() []post {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]post, len(f.posts))
	copy(out, f.posts)
	return out
}

// fakeFetcher serves a fixed chronological history in pages.
type fakeFetcher struct {
	history []domain.InboundMessage
	calls   int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, threadID, afterID string, limit int) ([]domain.InboundMessage, error) {
	f.calls++
	start := 0
	if afterID != "" {
		for i, m := range f.history {
			if m.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.history) {
		end = len(f.history)
	}
	if start >= len(f.history) {
		return nil, nil
	}
	return f.history[start:end], nil
}

// fakeJournal records delivery records in memory.
type fakeJournal struct {
	mu   sync.Mutex
	recs []domain.DeliveryRecord
}

func (f *fakeJournal) Record(ctx context.Context, rec domain.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func userMessage(id, threadID, content string, at time.Time) domain.InboundMessage {
	return domain.InboundMessage{
		ID:         id,
		ThreadID:   threadID,
		AuthorName: "alice",
		Content:    content,
		Timestamp:  at,
	}
}
