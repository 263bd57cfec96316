package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/saathi-app/saathi-backend/internal/domain/user"
	"github.com/saathi-app/saathi-backend/internal/pkg/errors"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
	"github.com/saathi-app/saathi-backend/internal/repos"
)

// OnboardingService walks a new user through guided setup: name, timezone,
// summary time, language. Steps only advance; an explicit reset is the one
// way back. While a user is not done, the pipeline routes every turn here
// and skips classification entirely.
type OnboardingService struct {
	log   *logger.Logger
	users repos.UserRepo
}

func NewOnboardingService(baseLog *logger.Logger, users repos.UserRepo) *OnboardingService {
	return &OnboardingService{
		log:   baseLog.With("service", "OnboardingService"),
		users: users,
	}
}

// Advance interprets turnText as the answer to the current step's prompt,
// stores the collected field, and moves forward. Malformed answers re-send
// the same prompt with a clarification and do not advance. Every input
// produces a next reply; there are no fatal paths.
func (s *OnboardingService) Advance(ctx context.Context, u *user.User, turnText string) (string, error) {
	if u == nil {
		return "", errors.ErrValidation
	}
	if u.OnboardingDone {
		// Terminal state is idempotent.
		return "", nil
	}

	answer := strings.TrimSpace(turnText)
	lower := strings.ToLower(answer)

	var reply string
	switch u.OnboardingStep {
	case user.StepNotStarted:
		u.OnboardingStep = user.StepName
		reply = promptName

	case user.StepName:
		name := answer
		// Truncate on rune boundaries; names are often Devanagari or Urdu
		// script and a byte slice could split a character.
		if runes := []rune(name); len(runes) > 50 {
			name = string(runes[:50])
		}
		if name == "" {
			reply = "I didn't catch that. " + promptName
			break
		}
		u.DisplayName = name
		u.OnboardingStep = user.StepTimezone
		reply = fmt.Sprintf(promptTimezone, name)

	case user.StepTimezone:
		tz, ok := parseTimezone(lower)
		if !ok {
			reply = clarifyTimezone
			break
		}
		u.Timezone = tz
		u.OnboardingStep = user.StepSummaryTime
		reply = promptSummaryTime

	case user.StepSummaryTime:
		t, ok := parseTimePreference(lower)
		if !ok {
			reply = clarifySummaryTime
			break
		}
		u.SummaryTime = t
		u.OnboardingStep = user.StepLanguage
		reply = promptLanguage

	case user.StepLanguage:
		switch {
		case strings.Contains(lower, "english"):
			u.LanguagePref = "english"
		case strings.Contains(lower, "hindi"), strings.Contains(lower, "urdu"):
			u.LanguagePref = "hindi"
		default:
			u.LanguagePref = "mixed"
		}
		u.OnboardingStep = user.StepComplete
		u.OnboardingDone = true
		reply = fmt.Sprintf(promptComplete, displayTime(u.SummaryTime))

	default:
		// Unknown step value: recover by restarting the name question
		// rather than failing the turn.
		s.log.Warn("Unknown onboarding step, restarting",
			"user_id", u.ID,
			"step", u.OnboardingStep,
		)
		u.OnboardingStep = user.StepName
		reply = promptName
	}

	if err := s.users.SaveOnboardingState(ctx, nil, u); err != nil {
		return "", err
	}
	return reply, nil
}

// Reset puts the user back at the start of setup. This is the only
// backward transition the state machine allows.
func (s *OnboardingService) Reset(ctx context.Context, u *user.User) (string, error) {
	if u == nil {
		return "", errors.ErrValidation
	}
	u.OnboardingStep = user.StepName
	u.OnboardingDone = false
	if err := s.users.SaveOnboardingState(ctx, nil, u); err != nil {
		return "", err
	}
	return promptName, nil
}

// ---------- answer parsing ----------

var timezoneAliases = map[string]string{
	"india":    "Asia/Kolkata",
	"ist":      "Asia/Kolkata",
	"pakistan": "Asia/Karachi",
	"uk":       "Europe/London",
	"london":   "Europe/London",
	"dubai":    "Asia/Dubai",
	"uae":      "Asia/Dubai",
}

func parseTimezone(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	if tz, ok := timezoneAliases[answer]; ok {
		return tz, true
	}
	// IANA names are case-sensitive; normalize the usual Region/City shape.
	candidate := canonicalZoneName(answer)
	if _, err := time.LoadLocation(candidate); err != nil {
		return "", false
	}
	return candidate, true
}

func canonicalZoneName(s string) string {
	parts := strings.Split(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"), "/")
	for i, p := range parts {
		segs := strings.Split(p, "_")
		for j, seg := range segs {
			if seg == "" {
				continue
			}
			segs[j] = strings.ToUpper(seg[:1]) + strings.ToLower(seg[1:])
		}
		parts[i] = strings.Join(segs, "_")
	}
	return strings.Join(parts, "/")
}

var (
	timeWithMinutes = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*(am|pm)?`)
	timeHourPeriod  = regexp.MustCompile(`(\d{1,2})\s*(am|pm)`)
	timeBareHour    = regexp.MustCompile(`^\d{1,2}$`)
)

// parseTimePreference turns a free-form time answer into "HH:MM" 24h.
// "yes"/"ok"/"fine" keeps the 22:00 default.
func parseTimePreference(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	if strings.Contains(answer, "yes") || strings.Contains(answer, "ok") || strings.Contains(answer, "fine") {
		return "22:00", true
	}

	if m := timeWithMinutes.FindStringSubmatch(answer); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		hour = adjustPeriod(hour, m[3])
		if hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59 {
			return fmt.Sprintf("%02d:%02d", hour, minute), true
		}
		return "", false
	}

	if m := timeHourPeriod.FindStringSubmatch(answer); m != nil {
		hour, _ := strconv.Atoi(m[1])
		hour = adjustPeriod(hour, m[2])
		if hour >= 0 && hour <= 23 {
			return fmt.Sprintf("%02d:00", hour), true
		}
		return "", false
	}

	if timeBareHour.MatchString(answer) {
		hour, _ := strconv.Atoi(answer)
		// A bare small number almost always means evening.
		if hour >= 1 && hour <= 11 {
			hour += 12
		}
		if hour >= 0 && hour <= 23 {
			return fmt.Sprintf("%02d:00", hour), true
		}
	}

	return "", false
}

func adjustPeriod(hour int, period string) int {
	switch period {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour
}

func displayTime(hhmm string) string {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return hhmm
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return hhmm
	}
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	h12 := hour % 12
	if h12 == 0 {
		h12 = 12
	}
	if parts[1] == "00" {
		return fmt.Sprintf("%d %s", h12, period)
	}
	return fmt.Sprintf("%d:%s %s", h12, parts[1], period)
}

// ---------- prompts ----------

const promptName = `Hey! I'm Saathi 🌙

Think of me as your journaling companion - someone who listens, remembers, and cares.

What should I call you?

(Your first name or nickname is perfect)`

const promptTimezone = `Nice to meet you, %s!

So my check-ins land at the right hour - which timezone are you in?

(Something like "Asia/Kolkata", or just "India")`

const clarifyTimezone = `Hmm, I couldn't place that timezone. Could you try again?

A city name like "Asia/Kolkata" or "Europe/London" works best - or just say "India".`

const promptSummaryTime = `Got it! ✅

Every night I'll send you a warm summary of your day. 10 PM by default - does that work?

Reply:
• "Yes" to keep 10 PM
• Or tell me your preferred time (like "9 PM" or "11:30 PM")`

const clarifySummaryTime = `Sorry, I couldn't read that as a time. Try something like "9 PM", "21:30", or just "Yes" to keep 10 PM.`

const promptLanguage = `Perfect!

One more thing - how would you like me to talk?

Reply with:
• "English" - mostly English
• "Urdu/Hindi" - mostly Hindi/Urdu
• "Mixed" - natural mix (recommended)

(You can always change this later by saying "settings")`

const promptComplete = `All set! 🎉

From now on:
• Message me anytime about how you're feeling
• I'll listen and respond with care
• Every night at %s, I'll send a summary of your day
• Say "settings" anytime to change preferences

Privacy note: your messages are stored privately and never shared.

So... kya haal hai? How are you feeling today? 😊`
