package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/saathi-app/saathi-backend/internal/clients/llm"
	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

func TestCrisisKeywordLadder(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantCrisis   bool
		wantSeverity string
		wantType     string
	}{
		{"suicidal phrase", "I want to end it all", true, convo.SeverityCritical, convo.CrisisSuicidal},
		{"direct", "thinking about suicide again", true, convo.SeverityCritical, convo.CrisisSuicidal},
		{"mixed case", "I Want To DIE", true, convo.SeverityCritical, convo.CrisisSuicidal},
		{"self harm", "I cut myself last night", true, convo.SeverityHigh, convo.CrisisSelfHarm},
		{"distress", "I can't go on like this", true, convo.SeverityMedium, convo.CrisisSevereDistress},
		{"strongest wins", "I can't go on, I want to die", true, convo.SeverityCritical, convo.CrisisSuicidal},
		{"benign", "work was exhausting today", false, "", ""},
		{"benign with deadline", "this deadline is killing me", false, "", ""},
	}

	svc := NewCrisisService(logger.NewNop(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := svc.scanKeywords(tt.text)
			if ok != tt.wantCrisis {
				t.Fatalf("scanKeywords(%q) hit = %v, want %v", tt.text, ok, tt.wantCrisis)
			}
			if !ok {
				return
			}
			if got.Severity != tt.wantSeverity || got.CrisisType != tt.wantType {
				t.Fatalf("assessment = %s/%s, want %s/%s", got.Severity, got.CrisisType, tt.wantSeverity, tt.wantType)
			}
			if got.Source != convo.SignalKeyword {
				t.Fatalf("source = %q", got.Source)
			}
			if convo.SeverityRank(got.Severity) < convo.SeverityRank(convo.SeverityMedium) {
				t.Fatalf("keyword hit below medium floor: %s", got.Severity)
			}
		})
	}
}

func TestCrisisKeywordHitSkipsModel(t *testing.T) {
	fake := &fakeLLM{}
	svc := NewCrisisService(logger.NewNop(), fake)

	got, err := svc.Assess(context.Background(), "I want to end it all")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !got.IsCrisis || got.Severity != convo.SeverityCritical {
		t.Fatalf("assessment = %+v", got)
	}
	if fake.jsonCalls() != 0 {
		t.Fatalf("model consulted despite keyword hit")
	}
}

func TestCrisisModelStage(t *testing.T) {
	fake := &fakeLLM{
		jsonFn: func(llm.Request) (map[string]any, error) {
			return map[string]any{
				"is_crisis":   true,
				"severity":    "high",
				"crisis_type": "severe_distress",
			}, nil
		},
	}
	svc := NewCrisisService(logger.NewNop(), fake)

	got, err := svc.Assess(context.Background(), "nothing matters anymore, everything is pointless")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !got.IsCrisis || got.Severity != convo.SeverityHigh || got.Source != convo.SignalModel {
		t.Fatalf("assessment = %+v", got)
	}
}

func TestCrisisModelFailureFailsOpen(t *testing.T) {
	fake := &fakeLLM{
		jsonFn: func(llm.Request) (map[string]any, error) {
			return nil, errors.New("upstream down")
		},
	}
	svc := NewCrisisService(logger.NewNop(), fake)

	got, err := svc.Assess(context.Background(), "feeling a bit low today")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if got.IsCrisis {
		t.Fatalf("model outage produced a crisis flag: %+v", got)
	}
}

func TestCrisisModelBadSeverityDefaultsToHigh(t *testing.T) {
	fake := &fakeLLM{
		jsonFn: func(llm.Request) (map[string]any, error) {
			return map[string]any{
				"is_crisis":   true,
				"severity":    "catastrophic",
				"crisis_type": "panic",
			}, nil
		},
	}
	svc := NewCrisisService(logger.NewNop(), fake)

	got, _ := svc.Assess(context.Background(), "some worrying text")
	if got.Severity != convo.SeverityHigh || got.CrisisType != convo.CrisisSevereDistress {
		t.Fatalf("normalized assessment = %+v", got)
	}
}

func TestCrisisModelLowSeverityFloorsToMedium(t *testing.T) {
	fake := &fakeLLM{
		jsonFn: func(llm.Request) (map[string]any, error) {
			return map[string]any{
				"is_crisis":   true,
				"severity":    "low",
				"crisis_type": "severe_distress",
			}, nil
		},
	}
	svc := NewCrisisService(logger.NewNop(), fake)

	got, _ := svc.Assess(context.Background(), "some worrying text")
	if !got.IsCrisis || got.Severity != convo.SeverityMedium {
		t.Fatalf("assessment = %+v, want medium floor", got)
	}
}

func TestBuildCrisisReplyRegions(t *testing.T) {
	svc := NewCrisisService(logger.NewNop(), nil)
	assessment := CrisisAssessment{IsCrisis: true, Severity: convo.SeverityCritical, CrisisType: convo.CrisisSuicidal}

	tests := []struct {
		phone    string
		helpline string
	}{
		{"911234567890", "iCall"},
		{"923001234567", "Umang"},
		{"14155551212", "988"},
		{"447700900123", "Samaritans"},
		{"61234567890", "iCall"}, // unknown region defaults to India
	}
	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			reply, resources := svc.BuildCrisisReply(assessment, "Asha", tt.phone)
			if !strings.Contains(reply, tt.helpline) {
				t.Fatalf("reply for %s missing %q:\n%s", tt.phone, tt.helpline, reply)
			}
			if len(resources) == 0 {
				t.Fatalf("no resources recorded")
			}
			if !strings.Contains(reply, "Asha") {
				t.Fatalf("reply does not address the user by name")
			}
		})
	}
}

func TestBuildCrisisReplyVariesBySeverity(t *testing.T) {
	svc := NewCrisisService(logger.NewNop(), nil)

	critical, _ := svc.BuildCrisisReply(CrisisAssessment{Severity: convo.SeverityCritical}, "", "911")
	medium, _ := svc.BuildCrisisReply(CrisisAssessment{Severity: convo.SeverityMedium}, "", "911")
	if critical == medium {
		t.Fatalf("critical and medium replies identical")
	}
	if !strings.Contains(critical, "right now") {
		t.Fatalf("critical reply lacks urgency: %s", critical)
	}
}
