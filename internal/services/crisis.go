package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/saathi-app/saathi-backend/internal/clients/llm"
	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

// CrisisAssessment is the outcome of screening one logical turn.
type CrisisAssessment struct {
	IsCrisis   bool
	Severity   string
	CrisisType string
	Source     string
	// MatchedPhrase is set only for keyword hits; kept for incident review.
	MatchedPhrase string
}

// CrisisService screens turns for self-harm risk in two stages. Stage one is
// a deterministic keyword scan: a hit is conclusive and the model is never
// consulted. Stage two asks the model only when no keyword fired, and any
// model failure resolves to non-crisis so an outage cannot silence a user.
type CrisisService struct {
	log *logger.Logger
	llm llm.Client
}

func NewCrisisService(baseLog *logger.Logger, llmClient llm.Client) *CrisisService {
	return &CrisisService{
		log: baseLog.With("service", "CrisisService"),
		llm: llmClient,
	}
}

type keywordRule struct {
	phrase     string
	severity   string
	crisisType string
}

// Ordered most-severe first so the strongest matching phrase wins when a
// turn contains several.
var keywordRules = []keywordRule{
	{"suicide", convo.SeverityCritical, convo.CrisisSuicidal},
	{"kill myself", convo.SeverityCritical, convo.CrisisSuicidal},
	{"end my life", convo.SeverityCritical, convo.CrisisSuicidal},
	{"end it all", convo.SeverityCritical, convo.CrisisSuicidal},
	{"want to die", convo.SeverityCritical, convo.CrisisSuicidal},
	{"better off dead", convo.SeverityCritical, convo.CrisisSuicidal},
	{"no reason to live", convo.SeverityCritical, convo.CrisisSuicidal},
	{"self harm", convo.SeverityHigh, convo.CrisisSelfHarm},
	{"self-harm", convo.SeverityHigh, convo.CrisisSelfHarm},
	{"cut myself", convo.SeverityHigh, convo.CrisisSelfHarm},
	{"hurt myself", convo.SeverityHigh, convo.CrisisSelfHarm},
	{"can't go on", convo.SeverityMedium, convo.CrisisSevereDistress},
	{"cant go on", convo.SeverityMedium, convo.CrisisSevereDistress},
	{"give up on life", convo.SeverityMedium, convo.CrisisSevereDistress},
}

// Assess screens the turn text. The returned error is always nil today; the
// signature leaves room for a future hard-fail stage.
func (s *CrisisService) Assess(ctx context.Context, text string) (CrisisAssessment, error) {
	if hit, ok := s.scanKeywords(text); ok {
		s.log.Warn("Crisis keyword matched",
			"severity", hit.Severity,
			"crisis_type", hit.CrisisType,
		)
		return hit, nil
	}
	return s.assessWithModel(ctx, text), nil
}

// scanKeywords runs the deterministic stage. Keyword hits carry a severity
// floor of medium: the scan never downgrades below what its rule says.
func (s *CrisisService) scanKeywords(text string) (CrisisAssessment, bool) {
	lower := strings.ToLower(text)
	for _, rule := range keywordRules {
		if strings.Contains(lower, rule.phrase) {
			return CrisisAssessment{
				IsCrisis:      true,
				Severity:      rule.severity,
				CrisisType:    rule.crisisType,
				Source:        convo.SignalKeyword,
				MatchedPhrase: rule.phrase,
			}, true
		}
	}
	return CrisisAssessment{}, false
}

const crisisModelSystem = `You are a safety screening system for a mental-wellbeing journaling app used in India and Pakistan. Users write in English, Hindi, Urdu, or a mix (Hinglish).

Assess whether the message indicates a mental health crisis. Respond with ONLY a JSON object, no other text:
{"is_crisis": true/false, "severity": "low"/"medium"/"high"/"critical", "crisis_type": "suicidal"/"self_harm"/"severe_distress"/"none"}

Guidance:
- "critical": active suicidal intent or plan
- "high": self-harm, strong hopelessness
- "medium": severe distress, passive ideation
- "low"/non-crisis: ordinary sadness, stress, venting
Err on the side of caution for ambiguous messages.`

func (s *CrisisService) assessWithModel(ctx context.Context, text string) CrisisAssessment {
	none := CrisisAssessment{Severity: convo.SeverityLow, CrisisType: "none"}
	if s.llm == nil {
		return none
	}

	obj, err := s.llm.CompleteJSON(ctx, llm.Request{
		System:      crisisModelSystem,
		User:        fmt.Sprintf("Message: %q", text),
		Temperature: 0,
		MaxTokens:   100,
	})
	if err != nil {
		// Fail open: an unreachable or malformed model must not block the
		// reply, and the mood stage still sees the turn.
		s.log.Warn("Crisis model stage failed, treating as non-crisis", "error", err.Error())
		return none
	}

	isCrisis, _ := obj["is_crisis"].(bool)
	if !isCrisis {
		return none
	}

	severity, _ := obj["severity"].(string)
	if convo.SeverityRank(severity) == 0 {
		// The model said crisis but gave no usable severity; treat it as
		// serious rather than guessing low.
		severity = convo.SeverityHigh
	}
	// A confirmed crisis is never filed below medium, whatever the model
	// labeled it.
	severity = convo.MaxSeverity(severity, convo.SeverityMedium)
	crisisType, _ := obj["crisis_type"].(string)
	switch crisisType {
	case convo.CrisisSuicidal, convo.CrisisSelfHarm, convo.CrisisSevereDistress:
	default:
		crisisType = convo.CrisisSevereDistress
	}

	s.log.Warn("Crisis model stage flagged turn",
		"severity", severity,
		"crisis_type", crisisType,
	)
	return CrisisAssessment{
		IsCrisis:   true,
		Severity:   severity,
		CrisisType: crisisType,
		Source:     convo.SignalModel,
	}
}

// ---------- crisis replies ----------

type helpline struct {
	name   string
	number string
}

var helplinesByRegion = map[string][]helpline{
	"IN": {
		{"iCall", "9152987821"},
		{"AASRA", "+91-9820466726"},
		{"Vandrevala Foundation", "1860-2662-345"},
	},
	"PK": {
		{"Umang", "0311-7786264"},
		{"Rozan", "0800-22444"},
	},
	"US": {
		{"988 Suicide & Crisis Lifeline", "988"},
	},
	"UK": {
		{"Samaritans", "116 123"},
	},
}

// regionForPhone maps an E.164-ish number to a helpline region, defaulting
// to India.
func regionForPhone(phone string) string {
	p := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	switch {
	case strings.HasPrefix(p, "91"):
		return "IN"
	case strings.HasPrefix(p, "92"):
		return "PK"
	case strings.HasPrefix(p, "1"):
		return "US"
	case strings.HasPrefix(p, "44"):
		return "UK"
	default:
		return "IN"
	}
}

// BuildCrisisReply renders the templated support message for an assessment.
// Crisis replies are never model-generated.
func (s *CrisisService) BuildCrisisReply(assessment CrisisAssessment, displayName, phone string) (string, []string) {
	region := regionForPhone(phone)
	lines := helplinesByRegion[region]
	if len(lines) == 0 {
		lines = helplinesByRegion["IN"]
	}

	var hb strings.Builder
	resources := make([]string, 0, len(lines))
	for _, h := range lines {
		fmt.Fprintf(&hb, "• %s: %s\n", h.name, h.number)
		resources = append(resources, fmt.Sprintf("%s: %s", h.name, h.number))
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "dost"
	}

	var reply string
	switch assessment.Severity {
	case convo.SeverityCritical:
		reply = fmt.Sprintf(`%s, I'm really glad you told me. What you're feeling right now matters, and you don't have to carry it alone. 💙

Please reach out to someone right now:
%s
These lines are free and confidential, and the people there want to help.

If you can, tell someone near you how you're feeling - a family member, a friend, anyone you trust.

I'm here too. Will you tell me a little more about what's going on?`, name, hb.String())

	case convo.SeverityHigh:
		reply = fmt.Sprintf(`%s, thank you for trusting me with this. What you're going through sounds incredibly heavy. 💙

Please consider talking to someone who can really support you:
%s
Hurting yourself isn't the only way through this, even when it feels like it.

I'm listening. What's been happening?`, name, hb.String())

	default:
		reply = fmt.Sprintf(`%s, that sounds really hard, and I'm glad you shared it with me. 💙

If things start to feel like too much, these people are there any time:
%s
You matter, and this feeling will not stay this strong forever.

I'm right here. Do you want to talk about what's weighing on you?`, name, hb.String())
	}

	return reply, resources
}
