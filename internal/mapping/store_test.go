package mapping

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"threadrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const testEndpoint = "https://discord.com/api/webhooks/42/s3cret"

func TestParseEntry_Forms(t *testing.T) {
	cases := []struct {
		name  string
		entry string
		want  domain.RoutingRule
	}{
		{
			name:  "plain",
			entry: "111:222",
			want:  domain.RoutingRule{ThreadID: "111", ChannelID: "222"},
		},
		{
			name:  "with backfill flag",
			entry: "111:222:all",
			want:  domain.RoutingRule{ThreadID: "111", ChannelID: "222", Backfill: true},
		},
		{
			name:  "with endpoint",
			entry: "111:222:" + testEndpoint,
			want:  domain.RoutingRule{ThreadID: "111", ChannelID: "222", Endpoint: testEndpoint},
		},
		{
			name:  "with endpoint and backfill flag",
			entry: "111:222:" + testEndpoint + ":all",
			want:  domain.RoutingRule{ThreadID: "111", ChannelID: "222", Endpoint: testEndpoint, Backfill: true},
		},
		{
			name:  "surrounding whitespace",
			entry: "  111:222  ",
			want:  domain.RoutingRule{ThreadID: "111", ChannelID: "222"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseEntry(tc.entry)
			if err != nil {
				t.Fatalf("ParseEntry(%q): %v", tc.entry, err)
			}
			if got != tc.want {
				t.Fatalf("ParseEntry(%q) = %+v, want %+v", tc.entry, got, tc.want)
			}
		})
	}
}

func TestParseEntry_Malformed(t *testing.T) {
	entries := []string{
		"",
		"111",
		"notanumber:222",
		"111:notanumber",
		"111:222:ftp://example.com/hook",
		":222",
		"111:",
	}
	for _, entry := range entries {
		if _, err := ParseEntry(entry); err == nil {
			t.Errorf("ParseEntry(%q): want error, got nil", entry)
		}
	}
}

func TestStore_LoadSkipsMalformedEntries(t *testing.T) {
	s := New(testLogger())
	errs := s.Load([]string{
		"111:222",
		"garbage",
		"333:444:all",
	})

	if len(errs) != 1 {
		t.Fatalf("want 1 parse error, got %d: %v", len(errs), errs)
	}
	var pe *ParseError
	if !errors.As(errs[0], &pe) {
		t.Fatalf("want *ParseError, got %T", errs[0])
	}
	if s.Len() != 2 {
		t.Fatalf("want 2 rules loaded, got %d", s.Len())
	}
}

func TestStore_LoadLastWriteWins(t *testing.T) {
	s := New(testLogger())
	s.Load([]string{"111:222", "111:999:all"})

	rule := s.Resolve("111")
	if rule == nil {
		t.Fatal("rule not found")
	}
	if rule.ChannelID != "999" || !rule.Backfill {
		t.Fatalf("last write did not win: %+v", rule)
	}
}

func TestStore_ResolveDeterministic(t *testing.T) {
	s := New(testLogger())
	s.Load([]string{"111:222:" + testEndpoint})

	first := s.Resolve("111")
	second := s.Resolve("111")
	if first == nil || second == nil {
		t.Fatal("rule not found")
	}
	if *first != *second {
		t.Fatalf("resolve not deterministic: %+v vs %+v", *first, *second)
	}
}

func TestStore_ResolveUnmapped(t *testing.T) {
	s := New(testLogger())
	if rule := s.Resolve("nope"); rule != nil {
		t.Fatalf("want nil for unmapped thread, got %+v", rule)
	}
}

func TestStore_ResolveReturnsCopy(t *testing.T) {
	s := New(testLogger())
	s.Load([]string{"111:222"})

	rule := s.Resolve("111")
	rule.ChannelID = "mutated"

	if got := s.Resolve("111"); got.ChannelID != "222" {
		t.Fatalf("caller mutation leaked into store: %+v", got)
	}
}

func TestStore_SetDestinationPreservesEndpoint(t *testing.T) {
	s := New(testLogger())
	s.Load([]string{"111:222:" + testEndpoint})

	s.SetDestination("111", "555", true)

	rule := s.Resolve("111")
	if rule.ChannelID != "555" {
		t.Fatalf("destination not replaced: %+v", rule)
	}
	if rule.Endpoint != testEndpoint {
		t.Fatalf("endpoint lost on SetDestination: %+v", rule)
	}
	if !rule.Backfill {
		t.Fatalf("backfill flag not set: %+v", rule)
	}
}

func TestStore_SetDestinationCreates(t *testing.T) {
	s := New(testLogger())
	s.SetDestination("777", "888", false)

	rule := s.Resolve("777")
	if rule == nil || rule.ChannelID != "888" {
		t.Fatalf("rule not created: %+v", rule)
	}
	if rule.Mode() != domain.DirectPost {
		t.Fatalf("new rule without endpoint should be direct, got %s", rule.Mode())
	}
}

func TestStore_SetWebhook(t *testing.T) {
	s := New(testLogger())

	if _, err := s.SetWebhook("111", testEndpoint); !errors.Is(err, domain.ErrNotMapped) {
		t.Fatalf("want ErrNotMapped for unknown thread, got %v", err)
	}

	s.SetDestination("111", "222", false)
	rule, err := s.SetWebhook("111", testEndpoint)
	if err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	if rule.Mode() != domain.IdentityPreservingPost {
		t.Fatalf("webhook rule should deliver identity-preserving, got %s", rule.Mode())
	}
}
