// Package mapping holds the thread-to-channel routing table. The store is
// shared between the live dispatcher and the backfill engine; all mutations
// are applied under a lock so readers never observe a half-written rule.
// Rules live for the process lifetime only.
package mapping

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"threadrelay/internal/domain"
)

const (
	entrySeparator = ":"
	backfillFlag   = "all"
	endpointPrefix = "https://"
)

// ParseError describes one rejected mapping entry. A bad entry never aborts
// loading of the remaining entries.
type ParseError struct {
	Entry  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mapping entry %q: %s", e.Entry, e.Reason)
}

// Store is the routing table. The zero value is not usable; create with New.
type Store struct {
	mu     sync.RWMutex
	rules  map[string]domain.RoutingRule
	logger *slog.Logger
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	return &Store{
		rules:  make(map[string]domain.RoutingRule),
		logger: logger,
	}
}

// Load parses configuration entries of the form
//
//	sourceThreadId:destChannelId[:endpoint][:all]
//
// and installs a rule per well-formed entry, last write winning on duplicate
// thread ids. Malformed entries are skipped, logged, and returned; they are
// never fatal.
func (s *Store) Load(entries []string) []error {
	var errs []error
	for _, entry := range entries {
		rule, err := ParseEntry(entry)
		if err != nil {
			s.logger.Warn("skipping malformed mapping entry", "entry", entry, "err", err)
			errs = append(errs, err)
			continue
		}
		s.mu.Lock()
		s.rules[rule.ThreadID] = rule
		s.mu.Unlock()
		s.logger.Info("mapping loaded",
			"thread_id", rule.ThreadID,
			"channel_id", rule.ChannelID,
			"mode", rule.Mode().String(),
			"backfill", rule.Backfill,
		)
	}
	return errs
}

// ParseEntry parses a single mapping entry. The endpoint is recognized by its
// URL prefix and may itself contain the separator; the backfill flag is the
// literal "all" in the trailing position, with or without an endpoint.
func ParseEntry(entry string) (domain.RoutingRule, error) {
	trimmed := strings.TrimSpace(entry)
	parts := strings.SplitN(trimmed, entrySeparator, 3)
	if len(parts) < 2 {
		return domain.RoutingRule{}, &ParseError{Entry: entry, Reason: "want sourceThreadId:destChannelId[:endpoint][:all]"}
	}

	rule := domain.RoutingRule{
		ThreadID:  parts[0],
		ChannelID: parts[1],
	}
	if !isSnowflake(rule.ThreadID) {
		return domain.RoutingRule{}, &ParseError{Entry: entry, Reason: "source thread id must be a numeric identifier"}
	}
	if !isSnowflake(rule.ChannelID) {
		return domain.RoutingRule{}, &ParseError{Entry: entry, Reason: "destination channel id must be a numeric identifier"}
	}

	if len(parts) == 3 {
		rest := parts[2]
		switch {
		case rest == backfillFlag:
			rule.Backfill = true
		case strings.HasSuffix(rest, entrySeparator+backfillFlag):
			rule.Backfill = true
			rule.Endpoint = strings.TrimSuffix(rest, entrySeparator+backfillFlag)
		default:
			rule.Endpoint = rest
		}
		if rule.Endpoint != "" && !strings.HasPrefix(rule.Endpoint, endpointPrefix) {
			return domain.RoutingRule{}, &ParseError{Entry: entry, Reason: "delivery endpoint must be an https URL"}
		}
	}
	return rule, nil
}

// SetDestination creates or replaces the rule for threadID. A previously
// configured webhook endpoint survives the replacement.
func (s *Store) SetDestination(threadID, channelID string, backfill bool) domain.RoutingRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule := domain.RoutingRule{
		ThreadID:  threadID,
		ChannelID: channelID,
		Backfill:  backfill,
	}
	if prev, ok := s.rules[threadID]; ok {
		rule.Endpoint = prev.Endpoint
	}
	s.rules[threadID] = rule
	return rule
}

// SetWebhook attaches a webhook endpoint to an existing rule, upgrading its
// delivery mode to identity-preserving. Returns ErrNotMapped when the thread
// has no rule.
func (s *Store) SetWebhook(threadID, endpoint string) (domain.RoutingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[threadID]
	if !ok {
		return domain.RoutingRule{}, domain.ErrNotMapped
	}
	rule.Endpoint = endpoint
	s.rules[threadID] = rule
	return rule, nil
}

// Resolve returns a copy of the rule for threadID, or nil when the thread is
// unmapped. Pure lookup, no side effects.
func (s *Store) Resolve(threadID string) *domain.RoutingRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[threadID]
	if !ok {
		return nil
	}
	return &rule
}

// Len returns the number of installed rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Rules returns a snapshot of all installed rules.
func (s *Store) Rules() []domain.RoutingRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RoutingRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// isSnowflake reports whether s is a non-empty string of ASCII digits.
func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
