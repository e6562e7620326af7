package journal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"threadrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, threadID := range []string{"111", "111", "333"} {
		err := s.Record(ctx, domain.DeliveryRecord{
			ThreadID:    threadID,
			ChannelID:   "222",
			MessageID:   string(rune('a' + i)),
			Mode:        domain.DirectPost,
			DeliveredAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	n, err := s.CountByThread(ctx, "111")
	if err != nil {
		t.Fatalf("CountByThread: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 deliveries for thread 111, got %d", n)
	}

	n, err = s.CountByThread(ctx, "unknown")
	if err != nil {
		t.Fatalf("CountByThread: %v", err)
	}
	if n != 0 {
		t.Fatalf("want 0 for unknown thread, got %d", n)
	}
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.Record(ctx, domain.DeliveryRecord{
			ThreadID:    "111",
			ChannelID:   "222",
			MessageID:   []string{"first", "second", "third"}[i],
			Mode:        domain.IdentityPreservingPost,
			Backfill:    true,
			DeliveredAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}
	if recs[0].MessageID != "third" || recs[1].MessageID != "second" {
		t.Fatalf("records not newest-first: %+v", recs)
	}
	if recs[0].Mode != domain.IdentityPreservingPost || !recs[0].Backfill {
		t.Fatalf("mode or backfill flag lost in round trip: %+v", recs[0])
	}
}
