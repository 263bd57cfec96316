package services

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/saathi-app/saathi-backend/internal/domain/user"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

func TestParseTimePreference(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"yes", "22:00", true},
		{"ok sure", "22:00", true},
		{"9 pm", "21:00", true},
		{"9pm", "21:00", true},
		{"11:30 pm", "23:30", true},
		{"21:30", "21:30", true},
		{"12 am", "00:00", true},
		{"12 pm", "12:00", true},
		{"9", "21:00", true},
		{"22", "22:00", true},
		{"25:00", "", false},
		{"whenever", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseTimePreference(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("parseTimePreference(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseTimezone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"india", "Asia/Kolkata", true},
		{"pakistan", "Asia/Karachi", true},
		{"asia/kolkata", "Asia/Kolkata", true},
		{"europe/london", "Europe/London", true},
		{"america/new_york", "America/New_York", true},
		{"narnia/wardrobe", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseTimezone(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("parseTimezone(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestOnboardingFullFlow(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserRepo()
	svc := NewOnboardingService(logger.NewNop(), users)

	u, err := users.GetOrCreateByPhone(ctx, nil, "911111111111")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	// First contact asks for the name.
	reply, err := svc.Advance(ctx, u, "hi")
	if err != nil {
		t.Fatalf("step 0: %v", err)
	}
	if !strings.Contains(reply, "What should I call you") {
		t.Fatalf("step 0 reply = %q", reply)
	}
	if u.OnboardingStep != user.StepName {
		t.Fatalf("step after greeting = %d", u.OnboardingStep)
	}

	reply, err = svc.Advance(ctx, u, "Priya")
	if err != nil {
		t.Fatalf("name step: %v", err)
	}
	if u.DisplayName != "Priya" || u.OnboardingStep != user.StepTimezone {
		t.Fatalf("after name: name=%q step=%d", u.DisplayName, u.OnboardingStep)
	}
	if !strings.Contains(reply, "timezone") {
		t.Fatalf("timezone prompt = %q", reply)
	}

	reply, err = svc.Advance(ctx, u, "Asia/Kolkata")
	if err != nil {
		t.Fatalf("timezone step: %v", err)
	}
	if u.Timezone != "Asia/Kolkata" || u.OnboardingStep != user.StepSummaryTime {
		t.Fatalf("after timezone: tz=%q step=%d", u.Timezone, u.OnboardingStep)
	}
	_ = reply

	reply, err = svc.Advance(ctx, u, "9 PM")
	if err != nil {
		t.Fatalf("time step: %v", err)
	}
	if u.SummaryTime != "21:00" || u.OnboardingStep != user.StepLanguage {
		t.Fatalf("after time: summary=%q step=%d", u.SummaryTime, u.OnboardingStep)
	}
	_ = reply

	reply, err = svc.Advance(ctx, u, "Mixed")
	if err != nil {
		t.Fatalf("language step: %v", err)
	}
	if u.LanguagePref != "mixed" || !u.OnboardingDone {
		t.Fatalf("after language: pref=%q done=%v", u.LanguagePref, u.OnboardingDone)
	}
	if !strings.Contains(reply, "9 PM") {
		t.Fatalf("completion reply should confirm summary time, got %q", reply)
	}

	// Persisted state matches.
	stored, err := users.GetByPhone(ctx, nil, "911111111111")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !stored.OnboardingDone || stored.DisplayName != "Priya" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestOnboardingLongNameTruncatedOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserRepo()
	svc := NewOnboardingService(logger.NewNop(), users)

	u, _ := users.GetOrCreateByPhone(ctx, nil, "944444444444")
	u.OnboardingStep = user.StepName

	// 60 Devanagari characters, 3 bytes each.
	longName := strings.Repeat("प्", 30)
	if _, err := svc.Advance(ctx, u, longName); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if !utf8.ValidString(u.DisplayName) {
		t.Fatalf("truncated name is not valid UTF-8: %q", u.DisplayName)
	}
	if got := utf8.RuneCountInString(u.DisplayName); got != 50 {
		t.Fatalf("truncated name has %d runes, want 50", got)
	}
	if u.OnboardingStep != user.StepTimezone {
		t.Fatalf("long name did not advance, step = %d", u.OnboardingStep)
	}
}

func TestOnboardingMalformedAnswerDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserRepo()
	svc := NewOnboardingService(logger.NewNop(), users)

	u, _ := users.GetOrCreateByPhone(ctx, nil, "922222222222")
	u.OnboardingStep = user.StepTimezone

	reply, err := svc.Advance(ctx, u, "somewhere nice")
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if u.OnboardingStep != user.StepTimezone {
		t.Fatalf("malformed timezone advanced to step %d", u.OnboardingStep)
	}
	if !strings.Contains(reply, "couldn't place that timezone") {
		t.Fatalf("clarification reply = %q", reply)
	}

	u.OnboardingStep = user.StepSummaryTime
	reply, err = svc.Advance(ctx, u, "whenever works")
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if u.OnboardingStep != user.StepSummaryTime {
		t.Fatalf("malformed time advanced to step %d", u.OnboardingStep)
	}
	if !strings.Contains(reply, "couldn't read that as a time") {
		t.Fatalf("clarification reply = %q", reply)
	}
}

func TestOnboardingReset(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserRepo()
	svc := NewOnboardingService(logger.NewNop(), users)

	u, _ := users.GetOrCreateByPhone(ctx, nil, "933333333333")
	u.OnboardingStep = user.StepComplete
	u.OnboardingDone = true

	reply, err := svc.Reset(ctx, u)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if u.OnboardingDone || u.OnboardingStep != user.StepName {
		t.Fatalf("after reset: done=%v step=%d", u.OnboardingDone, u.OnboardingStep)
	}
	if !strings.Contains(reply, "What should I call you") {
		t.Fatalf("reset reply = %q", reply)
	}
}
