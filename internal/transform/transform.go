// Package transform converts an inbound thread message into the payload
// posted to the destination channel. Transform is pure: no clock, no I/O,
// identical input always yields an identical payload.
package transform

import (
	"regexp"
	"strings"
	"time"

	"threadrelay/internal/domain"
)

// timestampLayout renders message creation time in the destination's local
// convention.
const timestampLayout = "2006/01/02 15:04:05"

// jst is the fixed UTC+9 zone used for the appended timestamp.
var jst = time.FixedZone("JST", 9*60*60)

// zeroWidthSpace breaks mention syntax without changing how the text reads.
const zeroWidthSpace = "​"

// mentionPattern matches every substring Discord would resolve to a
// notification: user mentions <@id> and <@!id>, role mentions <@&id>, and the
// broadcast forms @everyone / @here.
var mentionPattern = regexp.MustCompile(`<@[!&]?\d+>|@everyone|@here`)

// NeutralizeMentions rewrites every mention-shaped substring so it no longer
// triggers a notification, by inserting a zero-width space after the "@".
// Non-mention text passes through byte for byte.
func NeutralizeMentions(s string) string {
	return mentionPattern.ReplaceAllStringFunc(s, func(m string) string {
		at := strings.IndexByte(m, '@')
		return m[:at+1] + zeroWidthSpace + m[at+1:]
	})
}

// Transform builds the outbound payload for one message.
//
// The content is the mention-neutralized body followed by the creation time in
// JST, with attachment URLs appended one per line in their original order.
// Direct posts carry a bold author prefix since the destination shows the
// relay's identity; webhook posts carry the author in the payload's identity
// fields instead.
func Transform(msg domain.InboundMessage, mode domain.DeliveryMode) domain.OutboundPayload {
	var b strings.Builder

	if mode == domain.DirectPost {
		b.WriteString("**")
		b.WriteString(msg.AuthorName)
		b.WriteString("**: ")
	}
	b.WriteString(NeutralizeMentions(msg.Content))
	b.WriteString(" (")
	b.WriteString(msg.Timestamp.In(jst).Format(timestampLayout))
	b.WriteString(")")
	for _, url := range msg.Attachments {
		b.WriteString("\n")
		b.WriteString(url)
	}

	payload := domain.OutboundPayload{Content: b.String()}
	if mode == domain.IdentityPreservingPost {
		payload.Username = msg.AuthorName
		payload.AvatarURL = msg.AuthorAvatar
	}
	return payload
}
