package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saathi-app/saathi-backend/internal/clients/llm"
	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
	"github.com/saathi-app/saathi-backend/internal/repos"
)

const (
	TrendInsufficient = "insufficient_data"
	TrendImproving    = "improving"
	TrendStable       = "stable"
	TrendWorsening    = "worsening"
)

// Moods that count against the user when judging trend direction.
var negativeMoods = map[string]bool{
	"sad":        true,
	"anxious":    true,
	"angry":      true,
	"stressed":   true,
	"lonely":     true,
	"frustrated": true,
	"tired":      true,
	"crisis":     true,
}

// PatternSummary condenses the recent window of a user's turns into the
// trend facts the reply prompt and the nightly summary both draw from.
type PatternSummary struct {
	TurnCount        int
	DominantMood     string
	MoodCounts       map[string]int
	ThemeFrequencies map[string]int
	TrendDirection   string
	AvgIntensity     float64
	NeedsSupportRate float64
	// StressTriggers are themes that co-occur with negative moods at least
	// twice in the window.
	StressTriggers []string
	Narrative      string
}

// PatternService derives trend context from stored turns. Summarize is pure
// over its input slice so it stays trivially testable; RecentWindow does the
// repo read.
type PatternService struct {
	log    *logger.Logger
	turns  repos.TurnRepo
	llm    llm.Client
	window time.Duration
}

func NewPatternService(baseLog *logger.Logger, turns repos.TurnRepo, llmClient llm.Client, window time.Duration) *PatternService {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &PatternService{
		log:    baseLog.With("service", "PatternService"),
		turns:  turns,
		llm:    llmClient,
		window: window,
	}
}

// RecentWindow summarizes the user's own turns from the trailing window.
// Callers invoke this before persisting the turn in flight, so a window
// never includes the turn being processed.
func (s *PatternService) RecentWindow(ctx context.Context, userID uuid.UUID) (PatternSummary, error) {
	since := time.Now().Add(-s.window)
	turns, err := s.turns.ListUserTurnsSince(ctx, nil, userID, since)
	if err != nil {
		return PatternSummary{}, err
	}
	return Summarize(turns), nil
}

const maxSimilarCandidates = 20

const similarSystem = `You connect a new journal message to related past entries from the same person. Related means the same situation, person, or worry - not just the same mood.

Respond with ONLY a JSON object, no other text:
{"indices": [<0-based entry numbers, most related first>]}

List at most %d entries. Use an empty list when nothing is genuinely related.`

// FindSimilar asks the model which past entries relate to the new message
// and returns them most-related-first. Entirely advisory: every failure
// path returns an empty slice and the reply goes out without the section.
func (s *PatternService) FindSimilar(ctx context.Context, userID uuid.UUID, text string, limit int) []*convo.Turn {
	if s.llm == nil || limit <= 0 {
		return nil
	}

	since := time.Now().Add(-s.window)
	candidates, err := s.turns.ListUserTurnsSince(ctx, nil, userID, since)
	if err != nil {
		s.log.Warn("Similar entry candidates unavailable", "error", err.Error())
		return nil
	}
	if len(candidates) > maxSimilarCandidates {
		candidates = candidates[len(candidates)-maxSimilarCandidates:]
	}
	if len(candidates) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Past entries:\n")
	for i, t := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i, truncate(t.Content, 200))
	}
	fmt.Fprintf(&b, "\nNew message: %q", text)

	obj, err := s.llm.CompleteJSON(ctx, llm.Request{
		System:      fmt.Sprintf(similarSystem, limit),
		User:        b.String(),
		Temperature: 0.3,
		MaxTokens:   50,
	})
	if err != nil {
		s.log.Warn("Similar entry ranking failed", "error", err.Error())
		return nil
	}

	raw, ok := obj["indices"].([]any)
	if !ok {
		return nil
	}
	seen := make(map[int]bool, len(raw))
	var out []*convo.Turn
	for _, item := range raw {
		f, ok := item.(float64)
		if !ok {
			continue
		}
		i := int(f)
		if i < 0 || i >= len(candidates) || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, candidates[i])
		if len(out) == limit {
			break
		}
	}
	return out
}

// Summarize reduces an oldest-first turn slice to a PatternSummary. Fewer
// than two annotated turns yields insufficient_data.
func Summarize(turns []*convo.Turn) PatternSummary {
	out := PatternSummary{
		MoodCounts:       map[string]int{},
		ThemeFrequencies: map[string]int{},
		StressTriggers:   []string{},
		TrendDirection:   TrendInsufficient,
	}

	annotated := make([]*convo.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Mood != "" {
			annotated = append(annotated, t)
		}
	}
	out.TurnCount = len(annotated)
	if out.TurnCount == 0 {
		out.Narrative = "No recent entries."
		return out
	}

	negativeThemeHits := map[string]int{}
	supportCount := 0
	intensitySum := 0
	for _, t := range annotated {
		out.MoodCounts[t.Mood]++
		intensitySum += t.Intensity
		if t.NeedsSupport {
			supportCount++
		}
		for _, theme := range turnThemes(t) {
			out.ThemeFrequencies[theme]++
			if negativeMoods[t.Mood] {
				negativeThemeHits[theme]++
			}
		}
	}

	out.DominantMood = dominantKey(out.MoodCounts)
	out.AvgIntensity = float64(intensitySum) / float64(out.TurnCount)
	out.NeedsSupportRate = float64(supportCount) / float64(out.TurnCount)

	for theme, n := range negativeThemeHits {
		if n >= 2 {
			out.StressTriggers = append(out.StressTriggers, theme)
		}
	}
	sort.Strings(out.StressTriggers)

	if out.TurnCount >= 2 {
		out.TrendDirection = trendDirection(annotated)
	}
	out.Narrative = buildNarrative(out)
	return out
}

// trendDirection splits the window into halves and compares how heavy the
// negative moods run, weighted by intensity. A shift past the threshold in
// either direction breaks "stable".
func trendDirection(turns []*convo.Turn) string {
	const threshold = 1.5

	mid := len(turns) / 2
	older, newer := turns[:mid], turns[mid:]
	if len(older) == 0 || len(newer) == 0 {
		return TrendStable
	}

	diff := negativeLoad(newer) - negativeLoad(older)
	switch {
	case diff >= threshold:
		return TrendWorsening
	case diff <= -threshold:
		return TrendImproving
	default:
		return TrendStable
	}
}

// negativeLoad averages signed intensity: negative moods add their
// intensity, everything else subtracts it.
func negativeLoad(turns []*convo.Turn) float64 {
	if len(turns) == 0 {
		return 0
	}
	sum := 0
	for _, t := range turns {
		if negativeMoods[t.Mood] {
			sum += t.Intensity
		} else {
			sum -= t.Intensity
		}
	}
	return float64(sum) / float64(len(turns))
}

func turnThemes(t *convo.Turn) []string {
	if len(t.Themes) == 0 {
		return nil
	}
	var themes []string
	if err := json.Unmarshal(t.Themes, &themes); err != nil {
		return nil
	}
	return themes
}

func dominantKey(counts map[string]int) string {
	best, bestN := "", -1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	// Deterministic tie-break.
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

// buildNarrative renders the summary as a compact sentence for prompt
// injection.
func buildNarrative(p PatternSummary) string {
	if p.TurnCount == 0 {
		return "No recent entries."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Over the last week: %d entries, mostly feeling %s (avg intensity %.1f).", p.TurnCount, p.DominantMood, p.AvgIntensity)

	if len(p.ThemeFrequencies) > 0 {
		topThemes := make([]string, 0, len(p.ThemeFrequencies))
		for theme := range p.ThemeFrequencies {
			topThemes = append(topThemes, theme)
		}
		sort.Slice(topThemes, func(i, j int) bool {
			if p.ThemeFrequencies[topThemes[i]] != p.ThemeFrequencies[topThemes[j]] {
				return p.ThemeFrequencies[topThemes[i]] > p.ThemeFrequencies[topThemes[j]]
			}
			return topThemes[i] < topThemes[j]
		})
		if len(topThemes) > 3 {
			topThemes = topThemes[:3]
		}
		fmt.Fprintf(&b, " Frequent topics: %s.", strings.Join(topThemes, ", "))
	}

	switch p.TrendDirection {
	case TrendWorsening:
		b.WriteString(" The mood has been getting heavier recently.")
	case TrendImproving:
		b.WriteString(" Things seem to be looking up compared to earlier in the week.")
	case TrendStable:
		b.WriteString(" The overall mood has held steady.")
	}

	if len(p.StressTriggers) > 0 {
		fmt.Fprintf(&b, " Recurring stress around: %s.", strings.Join(p.StressTriggers, ", "))
	}
	return b.String()
}
