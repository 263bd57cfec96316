package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/saathi-app/saathi-backend/internal/clients/llm"
	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	"github.com/saathi-app/saathi-backend/internal/pkg/errors"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

// MoodReading is the structured emotional annotation attached to a turn.
type MoodReading struct {
	Mood           string
	Intensity      int
	Themes         []string
	NeedsSupport   bool
	SecondaryMoods []string
}

// NeutralMood is the substitute annotation when analysis fails or times
// out. The pipeline stores it and keeps going.
func NeutralMood() MoodReading {
	return MoodReading{
		Mood:      "neutral",
		Intensity: 5,
		Themes:    []string{},
	}
}

// MoodService annotates turns with a mood label, intensity, and themes via
// one model call. It is advisory: every failure maps to the neutral default
// upstream, never to a dropped reply.
type MoodService struct {
	log *logger.Logger
	llm llm.Client
}

func NewMoodService(baseLog *logger.Logger, llmClient llm.Client) *MoodService {
	return &MoodService{
		log: baseLog.With("service", "MoodService"),
		llm: llmClient,
	}
}

const moodSystem = `You analyze the emotional content of journal messages from users in India and Pakistan. Messages may be English, Hindi, Urdu, or mixed (Hinglish).

Respond with ONLY a JSON object, no other text:
{"mood": "<primary mood, one word>", "intensity": <1-10>, "themes": ["<life area>", ...], "needs_support": true/false, "secondary_moods": ["<mood>", ...]}

Moods: happy, sad, anxious, angry, stressed, excited, calm, lonely, grateful, frustrated, hopeful, tired, neutral.
Themes: work, family, relationships, health, money, studies, friends, sleep, self.
needs_support: true when the user sounds like they want comfort or acknowledgment, not just logging their day.`

// Analyze reads the turn's emotional content. Recent turns sharpen the
// reading (a "fine." after three heavy entries is not fine). Malformed
// model output maps to ErrValidation so the caller can substitute the
// neutral default.
func (s *MoodService) Analyze(ctx context.Context, text string, recent []*convo.Turn) (MoodReading, error) {
	if s.llm == nil {
		return MoodReading{}, fmt.Errorf("mood: no completion client configured")
	}

	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("Recent messages for context (do not analyze these):\n")
		for _, t := range recent {
			if t.Sender != convo.SenderUser {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", t.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Message to analyze: %q", text)

	obj, err := s.llm.CompleteJSON(ctx, llm.Request{
		System:      moodSystem,
		User:        b.String(),
		Temperature: 0.2,
		MaxTokens:   200,
	})
	if err != nil {
		return MoodReading{}, err
	}
	return parseMoodObject(obj)
}

func parseMoodObject(obj map[string]any) (MoodReading, error) {
	mood, _ := obj["mood"].(string)
	mood = strings.ToLower(strings.TrimSpace(mood))
	if mood == "" {
		return MoodReading{}, fmt.Errorf("%w: missing mood", errors.ErrValidation)
	}

	rawIntensity, ok := obj["intensity"].(float64)
	if !ok {
		return MoodReading{}, fmt.Errorf("%w: missing intensity", errors.ErrValidation)
	}
	intensity := int(rawIntensity)
	if intensity < 1 {
		intensity = 1
	}
	if intensity > 10 {
		intensity = 10
	}

	reading := MoodReading{
		Mood:           mood,
		Intensity:      intensity,
		Themes:         stringSlice(obj["themes"]),
		SecondaryMoods: stringSlice(obj["secondary_moods"]),
	}
	reading.NeedsSupport, _ = obj["needs_support"].(bool)
	return reading, nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
