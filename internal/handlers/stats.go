package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/saathi-app/saathi-backend/internal/pkg/errors"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
	"github.com/saathi-app/saathi-backend/internal/repos"
	"github.com/saathi-app/saathi-backend/internal/services"
)

// StatsHandler serves the per-user trend snapshot for operator debugging.
type StatsHandler struct {
	log      *logger.Logger
	users    repos.UserRepo
	turns    repos.TurnRepo
	patterns *services.PatternService
}

func NewStatsHandler(baseLog *logger.Logger, users repos.UserRepo, turns repos.TurnRepo, patterns *services.PatternService) *StatsHandler {
	return &StatsHandler{
		log:      baseLog.With("handler", "StatsHandler"),
		users:    users,
		turns:    turns,
		patterns: patterns,
	}
}

func (h *StatsHandler) GetUserStats(c *gin.Context) {
	phone := c.Param("phone")
	ctx := c.Request.Context()

	u, err := h.users.GetByPhone(ctx, nil, phone)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "user_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}

	total, err := h.turns.CountForUser(ctx, nil, u.ID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "count_failed", err)
		return
	}

	window, err := h.patterns.RecentWindow(ctx, u.ID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "patterns_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"phone_number":    u.PhoneNumber,
		"display_name":    u.DisplayName,
		"onboarding_done": u.OnboardingDone,
		"language_pref":   u.LanguagePref,
		"summary_time":    u.SummaryTime,
		"timezone":        u.Timezone,
		"last_active_at":  u.LastActiveAt.Format(time.RFC3339),
		"total_turns":     total,
		"week": gin.H{
			"entries":            window.TurnCount,
			"dominant_mood":      window.DominantMood,
			"avg_intensity":      window.AvgIntensity,
			"trend":              window.TrendDirection,
			"themes":             window.ThemeFrequencies,
			"stress_triggers":    window.StressTriggers,
			"needs_support_rate": window.NeedsSupportRate,
		},
	})
}
