package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
	"github.com/saathi-app/saathi-backend/internal/services"
)

// SummariesHandler exposes the manual trigger the external scheduler (or an
// operator) hits to run the due-summary sweep outside the cron tick.
type SummariesHandler struct {
	log       *logger.Logger
	summaries *services.SummaryService
}

func NewSummariesHandler(baseLog *logger.Logger, summaries *services.SummaryService) *SummariesHandler {
	return &SummariesHandler{
		log:       baseLog.With("handler", "SummariesHandler"),
		summaries: summaries,
	}
}

func (h *SummariesHandler) TriggerSummaries(c *gin.Context) {
	sent, err := h.summaries.RunDue(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "summaries_failed", err)
		return
	}
	RespondOK(c, gin.H{"sent": sent})
}
