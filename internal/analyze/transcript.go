package analyze

import (
	"fmt"
	"strings"

	"github.com/mpontes/wavault/internal/store"
)

// Transcript renders messages as plain text for an LLM prompt, one line per
// message:
//
//	[2025-03-01 12:04:05] Alice: see you tomorrow
//
// Outbound messages are attributed to "You"; media messages get a bracketed
// placeholder with the caption appended when present.
func Transcript(msgs []store.Message) string {
	if len(msgs) == 0 {
		return "No messages found."
	}

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s",
			m.Timestamp.Format("2006-01-02 15:04:05"), senderLabel(m), contentLabel(m)))
	}
	return b.String()
}

func senderLabel(m store.Message) string {
	if m.IsFromMe {
		return "You"
	}
	if m.ChatName != "" {
		return m.ChatName
	}
	return m.Sender
}

func contentLabel(m store.Message) string {
	if m.MediaType != "" {
		label := fmt.Sprintf("[%s message]", strings.ToUpper(m.MediaType))
		if m.Content != "" {
			label += ": " + m.Content
		}
		return label
	}
	if m.Content == "" {
		return "[No content]"
	}
	return m.Content
}
