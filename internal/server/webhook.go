package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/botdesk/internal/auth"
	"github.com/MarcoPoloResearchLab/botdesk/internal/ingest"
	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

const maxWebhookBodyBytes = 32 << 20

func (h *httpHandler) handleWebhook(c *gin.Context) {
	if err := h.webhook.Verify(c.GetHeader(auth.WebhookSecretHeader)); err != nil {
		h.logger.Warn("webhook secret rejected",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.String("remote_addr", c.ClientIP()))
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event, err := ingest.Decode(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.ingester.Ingest(c.Request.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnknownEventType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ingest.ErrInvalidEvent),
			errors.Is(err, store.ErrInvalidTelegramID),
			errors.Is(err, store.ErrInvalidDirection):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to ingest event",
				zap.String("request_id", c.GetString(requestIDContextKey)),
				zap.String("type", string(event.Type())),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest_failed"})
		}
		return
	}

	switch result.Type {
	case ingest.EventTypePing:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": result.Time.Format(time.RFC3339Nano)})
	case ingest.EventTypeImportUsers, ingest.EventTypeImportMessages:
		c.JSON(http.StatusOK, gin.H{"imported": result.Imported})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
