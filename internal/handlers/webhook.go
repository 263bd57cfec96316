package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saathi-app/saathi-backend/internal/clients/whatsapp"
	apperrors "github.com/saathi-app/saathi-backend/internal/pkg/errors"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
	"github.com/saathi-app/saathi-backend/internal/services"
)

// WebhookHandler terminates the WhatsApp Cloud API webhook: the GET
// subscription handshake and the POST message notifications.
type WebhookHandler struct {
	log         *logger.Logger
	pipeline    *services.PipelineService
	wa          whatsapp.Client
	verifyToken string
}

func NewWebhookHandler(baseLog *logger.Logger, pipeline *services.PipelineService, wa whatsapp.Client, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		log:         baseLog.With("handler", "WebhookHandler"),
		pipeline:    pipeline,
		wa:          wa,
		verifyToken: verifyToken,
	}
}

// Verify answers Meta's subscription handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken && h.verifyToken != "" {
		c.String(http.StatusOK, challenge)
		return
	}
	c.String(http.StatusForbidden, "verification failed")
}

// webhookPayload mirrors the slice of the Cloud API notification shape the
// pipeline consumes.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Receive ingests message notifications. The gateway retries anything but
// 200, so every parseable request acks 200 even when individual messages
// are rejected.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_payload", err)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if h.wa != nil && msg.ID != "" {
					// Read receipts are cosmetic.
					_ = h.wa.MarkAsRead(ctx, msg.ID)
				}

				if msg.Type != "text" {
					h.pipeline.HandleUnsupported(ctx, msg.From)
					continue
				}

				ev := services.InboundEvent{
					MessageID: msg.ID,
					Phone:     msg.From,
					Text:      msg.Text.Body,
					SentAt:    parseWATimestamp(msg.Timestamp),
				}
				if err := h.pipeline.HandleEvent(ctx, ev); err != nil {
					if errors.Is(err, apperrors.ErrDuplicateEvent) {
						continue
					}
					h.log.Warn("Inbound event rejected",
						"message_id", msg.ID,
						"error", err.Error(),
					)
				}
			}
		}
	}

	RespondOK(c, gin.H{"status": "received"})
}

// parseWATimestamp converts the gateway's unix-seconds string; a malformed
// value falls back to now.
func parseWATimestamp(ts string) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
