package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
	"github.com/saathi-app/saathi-backend/internal/services"
)

// Scheduler ticks the due-summary sweep. Ticks run every 15 minutes, which
// matches the summary service's due-slack window, so each user's preferred
// time is hit exactly once per day.
type Scheduler struct {
	log       *logger.Logger
	cron      *cron.Cron
	summaries *services.SummaryService
}

func NewScheduler(baseLog *logger.Logger, summaries *services.SummaryService) *Scheduler {
	return &Scheduler{
		log:       baseLog.With("job", "Scheduler"),
		cron:      cron.New(),
		summaries: summaries,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("*/15 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		sent, err := s.summaries.RunDue(ctx)
		if err != nil {
			s.log.Error("Summary sweep failed", "error", err.Error())
			return
		}
		if sent > 0 {
			s.log.Info("Summary sweep complete", "sent", sent)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("Summary scheduler started", "cadence", "15m")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
