package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/botdesk/internal/broadcast"
	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

type submitBroadcastPayload struct {
	Text string `json:"text"`
}

type submitBroadcastResponse struct {
	BroadcastID int64  `json:"broadcastId"`
	SentCount   int    `json:"sentCount"`
	FailedCount int    `json:"failedCount"`
	Status      string `json:"status"`
}

type broadcastSummaryPayload struct {
	ID          int64  `json:"id"`
	Text        string `json:"text"`
	SentCount   int    `json:"sentCount"`
	FailedCount int    `json:"failedCount"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	Stuck       bool   `json:"stuck"`
}

type directMessagePayload struct {
	Text string `json:"text"`
}

type blockUserPayload struct {
	Block *bool `json:"block"`
}

func (h *httpHandler) handleSubmitBroadcast(c *gin.Context) {
	var request submitBroadcastPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	operator := operatorFromContext(c)
	// A dropped operator connection must not strand the campaign mid-dispatch.
	outcome, err := h.broadcasts.Submit(context.WithoutCancel(c.Request.Context()), request.Text)
	if err != nil {
		switch {
		case errors.Is(err, broadcast.ErrEmptyText):
			c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		case errors.Is(err, broadcast.ErrSenderUnconfigured):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "bot token is not configured"})
		default:
			h.logger.Error("broadcast failed",
				zap.String("request_id", c.GetString(requestIDContextKey)),
				zap.String("operator", operator.Name),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "broadcast_failed"})
		}
		return
	}

	h.logger.Info("broadcast submitted",
		zap.String("operator", operator.Name),
		zap.Int64("broadcast_id", outcome.CampaignID),
		zap.Int("sent", outcome.Sent),
		zap.Int("failed", outcome.Failed))
	c.JSON(http.StatusOK, submitBroadcastResponse{
		BroadcastID: outcome.CampaignID,
		SentCount:   outcome.Sent,
		FailedCount: outcome.Failed,
		Status:      string(outcome.Status),
	})
}

func (h *httpHandler) handleListBroadcasts(c *gin.Context) {
	limit := store.DefaultCampaignListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	summaries, err := h.broadcasts.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list broadcasts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	payload := make([]broadcastSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, broadcastSummaryPayload{
			ID:          summary.ID,
			Text:        summary.Text,
			SentCount:   summary.SentCount,
			FailedCount: summary.FailedCount,
			Status:      string(summary.Status),
			CreatedAt:   summary.CreatedAt.UTC().Format(time.RFC3339),
			Stuck:       summary.Stuck,
		})
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": payload})
}

func (h *httpHandler) handleBlockUser(c *gin.Context) {
	telegramID, err := strconv.ParseInt(c.Param("telegram_id"), 10, 64)
	if err != nil || telegramID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_telegram_id"})
		return
	}
	var request blockUserPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Block == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.users.SetBlocked(c.Request.Context(), telegramID, *request.Block); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		h.logger.Error("failed to update blocked flag", zap.Int64("telegram_id", telegramID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "block_failed"})
		return
	}

	h.logger.Info("user moderation updated",
		zap.String("operator", operatorFromContext(c).Name),
		zap.Int64("telegram_id", telegramID),
		zap.Bool("blocked", *request.Block))
	c.JSON(http.StatusOK, gin.H{"ok": true, "telegramId": telegramID, "blocked": *request.Block})
}

func (h *httpHandler) handleSendDirect(c *gin.Context) {
	telegramID, err := strconv.ParseInt(c.Param("telegram_id"), 10, 64)
	if err != nil || telegramID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_telegram_id"})
		return
	}
	var request directMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	message, err := h.broadcasts.SendDirect(c.Request.Context(), telegramID, request.Text)
	if err != nil {
		var deliveryErr *broadcast.DirectDeliveryError
		switch {
		case errors.Is(err, broadcast.ErrEmptyText):
			c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		case errors.Is(err, broadcast.ErrSenderUnconfigured):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "bot token is not configured"})
		case errors.As(err, &deliveryErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": "delivery_failed", "detail": deliveryErr.Err.Error()})
		default:
			h.logger.Error("direct message failed",
				zap.String("request_id", c.GetString(requestIDContextKey)),
				zap.Int64("telegram_id", telegramID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "send_failed"})
		}
		return
	}

	h.logger.Info("direct message sent",
		zap.String("operator", operatorFromContext(c).Name),
		zap.Int64("telegram_id", telegramID))
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"telegramId": telegramID,
		"messageId":  message.ID,
		"createdAt":  message.CreatedAt.UTC().Format(time.RFC3339),
	})
}
