package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

var errDeliveryRefused = errors.New("chat not found")

func newTestStore(t *testing.T, clock func() time.Time) *store.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "broadcast.db")), &gorm.Config{
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
	service, err := store.NewService(store.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return service
}

func seedUsers(t *testing.T, eventStore *store.Service, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if _, err := eventStore.UpsertUser(context.Background(), store.UserUpsert{TelegramID: id}); err != nil {
			t.Fatalf("failed to seed user %d: %v", id, err)
		}
	}
}

type fakeSender struct {
	mu      sync.Mutex
	calls   []int64
	failFor map[int64]bool
	onSend  func(ctx context.Context, chatID int64) error
}

func (s *fakeSender) Send(ctx context.Context, chatID int64, _ string) error {
	s.mu.Lock()
	s.calls = append(s.calls, chatID)
	fail := s.failFor[chatID]
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, chatID); err != nil {
			return err
		}
	}
	if fail {
		return errDeliveryRefused
	}
	return nil
}

func (s *fakeSender) attempted() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.calls...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []CampaignEvent
}

func (n *recordingNotifier) PublishCampaign(event CampaignEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) published() []CampaignEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]CampaignEvent(nil), n.events...)
}
