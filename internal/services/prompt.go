package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	"github.com/saathi-app/saathi-backend/internal/domain/user"
)

const saathiPersona = `You are Saathi, a warm journaling companion on WhatsApp for users in India and Pakistan. You listen the way a close, emotionally intelligent friend would.

How you talk:
- Match the user's language: reply in English, Hindi, Urdu, or Hinglish, mirroring their mix. Language preference "%s".
- Keep replies short - 2 to 4 sentences, like a chat, not an essay.
- Acknowledge the feeling first; never jump straight to advice.
- Never diagnose, never lecture, never moralize.
- Ask at most one gentle follow-up question, and only when it feels natural.
- Use at most one emoji, and only when warm.

You remember what they have told you recently and weave it in naturally when relevant, without reciting it back like a report.`

// PromptBuilder assembles the reply prompt from the user profile, the
// trailing conversation, and the pattern summary.
type PromptBuilder struct {
	now func() time.Time
}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{now: time.Now}
}

// BuildReplySystem renders the persona plus situational context.
func (p *PromptBuilder) BuildReplySystem(u *user.User, patterns PatternSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, saathiPersona, u.LanguagePref)
	b.WriteString("\n\n")

	if strings.TrimSpace(u.DisplayName) != "" {
		fmt.Fprintf(&b, "The user's name is %s.\n", u.DisplayName)
	}
	fmt.Fprintf(&b, "It is %s for them right now.\n", p.timeOfDay(u.Timezone))

	if patterns.TurnCount > 0 {
		fmt.Fprintf(&b, "What you know from their recent entries: %s\n", patterns.Narrative)
	}
	return b.String()
}

// BuildReplyUser renders the trailing turns, any related older entries, and
// the new message as the user prompt.
func (p *PromptBuilder) BuildReplyUser(recent, similar []*convo.Turn, text string) string {
	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range recent {
			role := "Them"
			if t.Sender == convo.SenderAssistant {
				role = "You"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, truncate(t.Content, 300))
		}
		b.WriteString("\n")
	}
	if len(similar) > 0 {
		b.WriteString("Related past entries (bring these up only if it feels natural):\n")
		for _, t := range similar {
			line := truncate(t.Content, 200)
			if t.Mood != "" {
				fmt.Fprintf(&b, "- %s (they felt %s)\n", line, t.Mood)
			} else {
				fmt.Fprintf(&b, "- %s\n", line)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Their new message:\n%s", text)
	return b.String()
}

// timeOfDay names the local period in the register the persona speaks in.
func (p *PromptBuilder) timeOfDay(tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation("Asia/Kolkata")
	}
	hour := p.now().In(loc).Hour()
	switch {
	case hour >= 5 && hour < 12:
		return "subah (morning)"
	case hour >= 12 && hour < 17:
		return "dopahar (afternoon)"
	case hour >= 17 && hour < 21:
		return "shaam (evening)"
	default:
		return "raat (night)"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
