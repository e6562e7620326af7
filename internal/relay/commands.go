package relay

import "strings"

// CommandKind tags the operator commands recognized inside a thread.
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandSetChannel
	CommandSetWebhook
	CommandStartBackfill
)

// Command is the classified form of an operator message. Invalid marks a
// recognized verb whose arguments did not validate; the dispatcher reports
// usage instead of relaying the message.
type Command struct {
	Kind      CommandKind
	ChannelID string // setchannel
	Backfill  bool   // setchannel trailing "all"
	Endpoint  string // setwebhook
	Invalid   bool
	Usage     string
}

const (
	usageSetChannel    = "usage: setchannel <destChannelId> [all]"
	usageSetWebhook    = "usage: setwebhook <webhookURL>"
	usageStartBackfill = "usage: startbackfill"
)

// ParseCommand classifies a plain-text message. It is pure and independent of
// the transport that received the text; anything that is not a recognized
// command verb comes back as CommandNone and is relayed like any other
// message.
func ParseCommand(text string) Command {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{Kind: CommandNone}
	}

	switch strings.ToLower(fields[0]) {
	case "setchannel":
		cmd := Command{Kind: CommandSetChannel, Usage: usageSetChannel}
		switch len(fields) {
		case 2:
			cmd.ChannelID = fields[1]
		case 3:
			if fields[2] != "all" {
				cmd.Invalid = true
				return cmd
			}
			cmd.ChannelID = fields[1]
			cmd.Backfill = true
		default:
			cmd.Invalid = true
			return cmd
		}
		if !isNumeric(cmd.ChannelID) {
			cmd.Invalid = true
		}
		return cmd

	case "setwebhook":
		cmd := Command{Kind: CommandSetWebhook, Usage: usageSetWebhook}
		if len(fields) != 2 || !strings.HasPrefix(fields[1], "https://") {
			cmd.Invalid = true
			return cmd
		}
		cmd.Endpoint = fields[1]
		return cmd

	case "startbackfill":
		cmd := Command{Kind: CommandStartBackfill, Usage: usageStartBackfill}
		if len(fields) != 1 {
			cmd.Invalid = true
		}
		return cmd
	}

	return Command{Kind: CommandNone}
}

func isNumeric(s string) bool {
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
