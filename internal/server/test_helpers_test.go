package server

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/botdesk/internal/auth"
	"github.com/MarcoPoloResearchLab/botdesk/internal/broadcast"
	"github.com/MarcoPoloResearchLab/botdesk/internal/ingest"
	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

const testWebhookSecret = "webhook-secret"

type testEnvironment struct {
	handler http.Handler
	store   *store.Service
	tokens  *auth.OperatorTokens
	sender  *stubSender
	feed    *CampaignFeed
}

type environmentOptions struct {
	withoutSender bool
	logger        *zap.Logger
	heartbeat     time.Duration
}

func newTestEnvironment(t *testing.T, options environmentOptions) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(store.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	eventStore, err := store.NewService(store.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	router, err := ingest.NewRouter(ingest.RouterConfig{Store: eventStore})
	if err != nil {
		t.Fatalf("failed to create ingest router: %v", err)
	}

	feed := NewCampaignFeed()
	sender := &stubSender{failFor: map[int64]bool{}}
	broadcastConfig := broadcast.Config{Store: eventStore, Notifier: feed}
	if !options.withoutSender {
		broadcastConfig.Sender = sender
	}
	broadcasts, err := broadcast.NewService(broadcastConfig)
	if err != nil {
		t.Fatalf("failed to create broadcast service: %v", err)
	}

	tokens, err := auth.NewOperatorTokens(auth.OperatorTokensConfig{
		SigningSecret: []byte("test-signing-secret-0123456789"),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create operator tokens: %v", err)
	}
	gate, err := auth.NewWebhookGate(testWebhookSecret)
	if err != nil {
		t.Fatalf("failed to create webhook gate: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Ingester:   router,
		Broadcasts: broadcasts,
		Users:      eventStore,
		Operators:  tokens,
		Webhook:    gate,
		Feed:       feed,
		Logger:     options.logger,
		Heartbeat:  options.heartbeat,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testEnvironment{
		handler: handler,
		store:   eventStore,
		tokens:  tokens,
		sender:  sender,
		feed:    feed,
	}
}

func (e *testEnvironment) operatorToken(t *testing.T) string {
	t.Helper()
	token, _, err := e.tokens.Issue(auth.Operator{Name: "ops", Role: auth.RoleOwner})
	if err != nil {
		t.Fatalf("failed to issue operator token: %v", err)
	}
	return token
}

func (e *testEnvironment) seedUsers(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if _, err := e.store.UpsertUser(context.Background(), store.UserUpsert{TelegramID: id}); err != nil {
			t.Fatalf("failed to seed user %d: %v", id, err)
		}
	}
}

type stubSender struct {
	mu      sync.Mutex
	failFor map[int64]bool
	sent    []int64
}

func (s *stubSender) Send(_ context.Context, chatID int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, chatID)
	if s.failFor[chatID] {
		return errStubDelivery
	}
	return nil
}

type stubError string

func (e stubError) Error() string { return string(e) }

const errStubDelivery = stubError("chat not found")
