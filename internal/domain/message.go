package domain

import "time"

// DeliveryMode selects how a payload reaches the destination channel.
type DeliveryMode int

const (
	// DirectPost posts into the destination channel under the relay's own
	// identity.
	DirectPost DeliveryMode = iota
	// IdentityPreservingPost posts through a webhook endpoint so the
	// destination shows the original author's name and avatar.
	IdentityPreservingPost
)

func (m DeliveryMode) String() string {
	if m == IdentityPreservingPost {
		return "webhook"
	}
	return "direct"
}

// InboundMessage is a read-only view of a message posted in a source thread.
type InboundMessage struct {
	ID           string
	ThreadID     string
	AuthorName   string
	AuthorAvatar string
	Content      string
	Attachments  []string // attachment URLs, original order
	Timestamp    time.Time
	FromBot      bool
}

// OutboundPayload is the transformed message ready for delivery. Username and
// AvatarURL are set only for IdentityPreservingPost; for DirectPost the
// destination posts under its own identity.
type OutboundPayload struct {
	Username  string
	AvatarURL string
	Content   string
}

// RoutingRule maps one source thread to its destination channel. Endpoint is
// the credentialed webhook URL; when set, the rule delivers via
// IdentityPreservingPost.
type RoutingRule struct {
	ThreadID  string
	ChannelID string
	Endpoint  string
	Backfill  bool // history copy requested at configuration time
}

// Mode returns the delivery mode implied by the rule's endpoint.
func (r RoutingRule) Mode() DeliveryMode {
	if r.Endpoint != "" {
		return IdentityPreservingPost
	}
	return DirectPost
}

// DeliveryRecord is one journal row: a message that was delivered to its
// destination, live or during a backfill run.
type DeliveryRecord struct {
	ThreadID    string
	ChannelID   string
	MessageID   string
	Mode        DeliveryMode
	Backfill    bool
	DeliveredAt time.Time
}
