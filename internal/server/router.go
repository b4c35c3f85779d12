package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/botdesk/internal/auth"
	"github.com/MarcoPoloResearchLab/botdesk/internal/broadcast"
	"github.com/MarcoPoloResearchLab/botdesk/internal/ingest"
	"github.com/MarcoPoloResearchLab/botdesk/internal/metrics"
	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

const (
	operatorContextKey  = "botdesk_operator"
	requestIDContextKey = "botdesk_request_id"
	requestIDHeader     = "X-Request-ID"
	accessTokenQuery    = "access_token"
)

var (
	errMissingIngester  = errors.New("event ingester dependency required")
	errMissingBroadcast = errors.New("broadcast service dependency required")
	errMissingUsers     = errors.New("user moderation dependency required")
	errMissingOperators = errors.New("operator authorizer dependency required")
	errMissingWebhook   = errors.New("webhook verifier dependency required")
	errInvalidAuth      = errors.New("authorization header missing or invalid")
)

type EventIngester interface {
	Ingest(ctx context.Context, event ingest.Event) (ingest.Result, error)
}

type BroadcastService interface {
	Submit(ctx context.Context, text string) (broadcast.Outcome, error)
	List(ctx context.Context, limit int) ([]broadcast.Summary, error)
	SendDirect(ctx context.Context, chatID int64, text string) (store.BotMessage, error)
}

type UserModerator interface {
	SetBlocked(ctx context.Context, telegramID int64, blocked bool) error
}

type OperatorAuthorizer interface {
	Authorize(token string) (auth.Operator, error)
	AuthorizeRequest(r *http.Request) (auth.Operator, error)
}

type WebhookVerifier interface {
	Verify(secret string) error
}

type Dependencies struct {
	Ingester   EventIngester
	Broadcasts BroadcastService
	Users      UserModerator
	Operators  OperatorAuthorizer
	Webhook    WebhookVerifier
	Feed       *CampaignFeed
	Logger     *zap.Logger
	// Heartbeat is the keep-alive cadence of the campaign event stream.
	Heartbeat time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Ingester == nil {
		return nil, errMissingIngester
	}
	if deps.Broadcasts == nil {
		return nil, errMissingBroadcast
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Operators == nil {
		return nil, errMissingOperators
	}
	if deps.Webhook == nil {
		return nil, errMissingWebhook
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(corsMiddleware())
	router.Use(metrics.Middleware())

	handler := &httpHandler{
		ingester:   deps.Ingester,
		broadcasts: deps.Broadcasts,
		users:      deps.Users,
		operators:  deps.Operators,
		webhook:    deps.Webhook,
		feed:       deps.Feed,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.POST("/webhook", handler.handleWebhook)

	protected := router.Group("/")
	protected.Use(handler.authorizeOperator)
	protected.POST("/broadcasts", handler.handleSubmitBroadcast)
	protected.GET("/broadcasts", handler.handleListBroadcasts)
	if handler.feed != nil {
		protected.GET("/broadcasts/events", handler.handleCampaignStream)
	}
	protected.POST("/users/:telegram_id/block", handler.handleBlockUser)
	protected.POST("/users/:telegram_id/messages", handler.handleSendDirect)

	return router, nil
}

type httpHandler struct {
	ingester   EventIngester
	broadcasts BroadcastService
	users      UserModerator
	operators  OperatorAuthorizer
	webhook    WebhookVerifier
	feed       *CampaignFeed
	heartbeat  time.Duration
	logger     *zap.Logger
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", auth.WebhookSecretHeader, requestIDHeader},
		ExposeHeaders:   []string{requestIDHeader},
		MaxAge:          12 * time.Hour,
	})
}

// requestIDMiddleware propagates the caller's X-Request-ID or assigns a fresh one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			if generated, err := uuid.NewV7(); err == nil {
				requestID = generated.String()
			} else {
				requestID = uuid.NewString()
			}
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func (h *httpHandler) authorizeOperator(c *gin.Context) {
	var (
		operator auth.Operator
		err      error
	)
	queryToken := strings.TrimSpace(c.Query(accessTokenQuery))
	switch {
	case strings.TrimSpace(c.GetHeader("Authorization")) != "":
		operator, err = h.operators.AuthorizeRequest(c.Request)
	case c.Request.Method == http.MethodGet && queryToken != "":
		// EventSource clients cannot set headers.
		operator, err = h.operators.Authorize(queryToken)
	default:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	if err != nil {
		fields := []zap.Field{zap.String("request_id", c.GetString(requestIDContextKey)), zap.Error(err)}
		if errors.Is(err, auth.ErrTokenExpired) {
			h.logger.Info("operator token rejected", fields...)
		} else {
			h.logger.Warn("operator token rejected", fields...)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(operatorContextKey, operator)
	c.Next()
}

func operatorFromContext(c *gin.Context) auth.Operator {
	value, ok := c.Get(operatorContextKey)
	if !ok {
		return auth.Operator{}
	}
	operator, _ := value.(auth.Operator)
	return operator
}
