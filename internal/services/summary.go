package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saathi-app/saathi-backend/internal/clients/llm"
	"github.com/saathi-app/saathi-backend/internal/domain/user"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
	"github.com/saathi-app/saathi-backend/internal/repos"
)

type SummaryConfig struct {
	// DueSlack is how far past the preferred time a user still counts as
	// due. Matches the scheduler tick so nobody is skipped.
	DueSlack time.Duration
	// MaxConcurrent bounds the fan-out across users.
	MaxConcurrent int
}

// SummaryService composes and delivers the nightly recap for each user at
// their preferred local time.
type SummaryService struct {
	log     *logger.Logger
	cfg     SummaryConfig
	users   repos.UserRepo
	turns   repos.TurnRepo
	llm     llm.Client
	deliver Deliverer
	now     func() time.Time
}

func NewSummaryService(
	baseLog *logger.Logger,
	cfg SummaryConfig,
	users repos.UserRepo,
	turns repos.TurnRepo,
	llmClient llm.Client,
	deliver Deliverer,
) *SummaryService {
	if cfg.DueSlack <= 0 {
		cfg.DueSlack = 15 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &SummaryService{
		log:     baseLog.With("service", "SummaryService"),
		cfg:     cfg,
		users:   users,
		turns:   turns,
		llm:     llmClient,
		deliver: deliver,
		now:     time.Now,
	}
}

// RunDue sends summaries to every user who is due right now: active in the
// last day, summaries enabled, onboarded, and inside their preferred-time
// window. Per-user failures are logged and do not stop the sweep.
func (s *SummaryService) RunDue(ctx context.Context) (int, error) {
	ids, err := s.turns.ActiveUserIDsSince(ctx, nil, s.now().Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)

	sent := make(chan struct{}, len(ids))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			u, err := s.users.GetByID(gctx, nil, id)
			if err != nil {
				s.log.Warn("Summary user lookup failed", "user_id", id, "error", err.Error())
				return nil
			}
			if !u.SummaryEnabled || !u.OnboardingDone {
				return nil
			}
			if !s.isDue(u) || s.sentToday(u) {
				return nil
			}
			if err := s.SendSummary(gctx, u); err != nil {
				s.log.Warn("Summary send failed", "user_id", id, "error", err.Error())
				return nil
			}
			sent <- struct{}{}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(sent), err
	}
	return len(sent), nil
}

// isDue checks whether the user's local clock is within the slack window
// after their preferred time.
func (s *SummaryService) isDue(u *user.User) bool {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		loc, _ = time.LoadLocation("Asia/Kolkata")
	}
	now := s.now().In(loc)

	parts := strings.SplitN(u.SummaryTime, ":", 2)
	if len(parts) != 2 {
		return false
	}
	var hour, minute int
	if _, err := fmt.Sscanf(u.SummaryTime, "%d:%d", &hour, &minute); err != nil {
		return false
	}

	due := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	return !now.Before(due) && now.Sub(due) < s.cfg.DueSlack
}

// sentToday reports whether this user already got a summary during their
// current local day. Keeps a manual sweep inside the due window from
// double-sending.
func (s *SummaryService) sentToday(u *user.User) bool {
	if u.LastSummaryAt.IsZero() {
		return false
	}
	return !u.LastSummaryAt.Before(s.startOfLocalDay(u))
}

const summarySystem = `You are Saathi, a warm journaling companion. Write the user's end-of-day summary as a short WhatsApp message (4-6 sentences).

Rules:
- Reflect the day back gently: what they felt, what came up, one thing to appreciate.
- Match their language preference ("%s") - English, Hindi/Urdu, or a natural mix.
- Warm and personal, never clinical. No bullet points, no headers.
- End with one soft question or wish for tomorrow.
- At most two emojis.`

// SendSummary composes and delivers one user's recap of today's entries.
// Users with no entries today are skipped silently.
func (s *SummaryService) SendSummary(ctx context.Context, u *user.User) error {
	since := s.startOfLocalDay(u)
	turns, err := s.turns.ListUserTurnsSince(ctx, nil, u.ID, since)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	patterns := Summarize(turns)

	var entries strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&entries, "- [%s, intensity %d] %s\n", t.Mood, t.Intensity, truncate(t.Content, 200))
	}

	name := strings.TrimSpace(u.DisplayName)
	if name == "" {
		name = "dost"
	}

	body, err := s.llm.Complete(ctx, llm.Request{
		System:      fmt.Sprintf(summarySystem, u.LanguagePref),
		User:        fmt.Sprintf("User's name: %s\nToday's entries:\n%s\nPattern context: %s", name, entries.String(), patterns.Narrative),
		Temperature: 0.7,
		MaxTokens:   400,
	})
	if err != nil {
		return err
	}

	if err := s.deliver.SendText(ctx, u.PhoneNumber, body); err != nil {
		return err
	}
	if err := s.users.MarkSummarySent(ctx, nil, u.ID, s.now()); err != nil {
		s.log.Warn("Summary marker update failed", "user_id", u.ID, "error", err.Error())
	}
	s.log.Info("Daily summary sent", "user_id", u.ID, "entries", len(turns))
	return nil
}

func (s *SummaryService) startOfLocalDay(u *user.User) time.Time {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		loc, _ = time.LoadLocation("Asia/Kolkata")
	}
	now := s.now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}
