// Package chat holds the command handling shared by the chat bots.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/mklimuk/frontdesk/pkg/contacts"
	"github.com/mklimuk/frontdesk/pkg/notify"
	"github.com/mklimuk/frontdesk/pkg/passon"
)

// Commands understood by the bots, without their prefix.
const (
	CmdNotes    = "notes"
	CmdContacts = "contacts"
	CmdStatus   = "status"
	CmdHelp     = "help"
)

// ParseCommand splits a message into a known command and its arguments.
// Messages that are not commands return an empty command. Telegram style
// suffixes (/notes@deskbot) are ignored.
func ParseCommand(text, prefix string) (command, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, prefix) {
		return "", text
	}
	head, rest, _ := strings.Cut(strings.TrimPrefix(text, prefix), " ")
	head, _, _ = strings.Cut(head, "@")
	switch head {
	case CmdNotes, CmdContacts, CmdStatus, CmdHelp:
		return head, strings.TrimSpace(rest)
	}
	return "", text
}

// Desk is what the bots can read.
type Desk struct {
	Notes    func() []passon.Note
	Contacts []contacts.Contact
	// Status returns a one-line summary of the desk.
	Status func(ctx context.Context) string
}

// Reply answers a command. ok is false for messages that are not commands.
func (d Desk) Reply(ctx context.Context, text, prefix string) (reply string, ok bool) {
	cmd, args := ParseCommand(text, prefix)
	switch cmd {
	case CmdNotes:
		return d.notes(args == "all"), true
	case CmdContacts:
		return FormatContacts(d.Contacts), true
	case CmdStatus:
		if d.Status == nil {
			return "Front desk is online.", true
		}
		return d.Status(ctx), true
	case CmdHelp:
		return fmt.Sprintf("%[1]snotes [all] - open pass-on notes\n%[1]scontacts - phone directory\n%[1]sstatus - desk summary", prefix), true
	}
	return "", false
}

func (d Desk) notes(all bool) string {
	if d.Notes == nil {
		return "No pass-on notes."
	}
	return FormatNotes(d.Notes(), all)
}

var urgencyMark = map[passon.Urgency]string{
	passon.High:   "[HIGH]",
	passon.Medium: "[MED]",
	passon.Low:    "[low]",
}

// FormatNotes lists notes in board order. Completed notes are left out
// unless all is set.
func FormatNotes(notes []passon.Note, all bool) string {
	var sb strings.Builder
	for _, n := range notes {
		if n.Completed && !all {
			continue
		}
		done := ""
		if n.Completed {
			done = " (done)"
		}
		fmt.Fprintf(&sb, "%s %s%s\n", urgencyMark[n.Urgency], n.Text, done)
	}
	if sb.Len() == 0 {
		return "No open pass-on notes."
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatContacts(list []contacts.Contact) string {
	if len(list) == 0 {
		return "No contacts."
	}
	var sb strings.Builder
	for _, c := range list {
		fmt.Fprintf(&sb, "%s: %s\n", c.Name, c.Phone)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatNotice renders a notice as a single chat message.
func FormatNotice(n notify.Notice) string {
	mark := map[notify.Level]string{
		notify.LevelError:   "ERROR",
		notify.LevelWarning: "WARNING",
		notify.LevelSuccess: "OK",
	}[n.Level]
	if mark == "" {
		mark = "INFO"
	}
	if n.Title == "" {
		return fmt.Sprintf("[%s] %s", mark, n.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", mark, n.Title, n.Message)
}
