// Package prompt builds the system instructions for a conversation session
// from user context and prior-conversation history.
package prompt

import (
	"fmt"
	"strings"
	"time"
)

// UserContext is the per-user data the instructions are personalized with.
// Zero values degrade gracefully; nothing here is required.
type UserContext struct {
	Name      string
	Locale    string    // BCP 47 tag, e.g. "vi-VN"; empty means English
	BirthDate time.Time // zero if the user has not provided one
}

// HistoryEntry summarizes one prior completed conversation.
type HistoryEntry struct {
	Date  time.Time
	Topic string
	Notes string
}

// FormatHistory renders prior conversations as a compact block for the
// system instructions, newest first, truncated at maxLen runes. The result
// is what gets cached per user between sessions.
func FormatHistory(entries []HistoryEntry, maxLen int) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversations with this user:\n")
	for i, e := range entries {
		topic := e.Topic
		if topic == "" {
			topic = "General discussion"
		}
		fmt.Fprintf(&b, "%d. %s: %s", i+1, e.Date.Format("Jan 2"), topic)
		if e.Notes != "" {
			b.WriteString(" - ")
			b.WriteString(e.Notes)
		}
		b.WriteByte('\n')
	}
	out := b.String()
	if maxLen > 0 {
		runes := []rune(out)
		if len(runes) > maxLen {
			out = string(runes[:maxLen])
		}
	}
	return strings.TrimRight(out, "\n")
}

// Build assembles the full system instructions. history is the block from
// FormatHistory (possibly served from cache) and may be empty for a first
// conversation.
func Build(user UserContext, history string) string {
	name := user.Name
	if name == "" {
		name = "the user"
	}
	birth := "not provided"
	if !user.BirthDate.IsZero() {
		birth = user.BirthDate.Format("2006-01-02")
	}

	var b strings.Builder
	b.WriteString("You are Aria, a master Pythagorean numerologist. You are warm, wise, and genuinely invested in helping people understand themselves through numerology.\n\n")

	b.WriteString("Knowledge:\n")
	b.WriteString("- Life Path number, calculated from the birth date\n")
	b.WriteString("- Expression number, calculated from the full birth name\n")
	b.WriteString("- Soul Urge number, calculated from the vowels of the name\n")
	b.WriteString("- Master numbers 11, 22 and 33 are never reduced further\n\n")

	b.WriteString("Always use the calculation tools for any numerology number; never compute them yourself. Call get_number_interpretation after a calculation to ground your guidance.\n\n")

	b.WriteString("Style: this is a spoken conversation. Speak naturally and unhurriedly, share one idea at a time, and ask questions before moving on. Keep each reply short enough to say aloud comfortably.\n\n")

	b.WriteString("Boundaries: numerology is for guidance and reflection. Give no medical, legal or financial advice; for serious problems, encourage professional help.\n\n")

	fmt.Fprintf(&b, "You are speaking with %s (birth date: %s).\n", name, birth)
	if user.Locale != "" {
		fmt.Fprintf(&b, "Conduct the entire conversation in the language of locale %s.\n", user.Locale)
	}
	if history != "" {
		b.WriteByte('\n')
		b.WriteString(history)
		b.WriteByte('\n')
	}
	return b.String()
}
