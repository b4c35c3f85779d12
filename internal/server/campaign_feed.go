package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MarcoPoloResearchLab/botdesk/internal/broadcast"
)

const (
	streamEventReady       = "ready"
	streamEventHeartbeat   = "heartbeat"
	streamSourceBackend    = "botdesk-backend"
	defaultStreamHeartbeat = 25 * time.Second
	defaultFeedBuffer      = 16
)

// CampaignFeed fans campaign lifecycle events out to connected operator streams.
// Slow subscribers miss events rather than block the dispatcher.
type CampaignFeed struct {
	mu          sync.RWMutex
	subscribers map[string]*feedSubscriber
	bufferSize  int
}

type feedSubscriber struct {
	id     string
	stream chan broadcast.CampaignEvent
}

func NewCampaignFeed() *CampaignFeed {
	return &CampaignFeed{
		subscribers: make(map[string]*feedSubscriber),
		bufferSize:  defaultFeedBuffer,
	}
}

// Subscribe registers a stream that lives until ctx is done or cleanup is called.
func (f *CampaignFeed) Subscribe(ctx context.Context) (<-chan broadcast.CampaignEvent, func()) {
	subscriber := &feedSubscriber{
		id:     uuid.NewString(),
		stream: make(chan broadcast.CampaignEvent, f.bufferSize),
	}
	f.mu.Lock()
	f.subscribers[subscriber.id] = subscriber
	f.mu.Unlock()

	cleanup := func() {
		f.mu.Lock()
		delete(f.subscribers, subscriber.id)
		f.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishCampaign implements broadcast.Notifier.
func (f *CampaignFeed) PublishCampaign(event broadcast.CampaignEvent) {
	if event.Type == "" {
		return
	}
	f.mu.RLock()
	copies := make([]*feedSubscriber, 0, len(f.subscribers))
	for _, subscriber := range f.subscribers {
		copies = append(copies, subscriber)
	}
	f.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of connected streams.
func (f *CampaignFeed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

type campaignEventPayload struct {
	BroadcastID int64  `json:"broadcastId"`
	Recipients  int    `json:"recipients"`
	SentCount   int    `json:"sentCount"`
	FailedCount int    `json:"failedCount"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Source      string `json:"source"`
}

func newCampaignEventPayload(event broadcast.CampaignEvent) campaignEventPayload {
	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return campaignEventPayload{
		BroadcastID: event.CampaignID,
		Recipients:  event.Recipients,
		SentCount:   event.Sent,
		FailedCount: event.Failed,
		Status:      string(event.Status),
		Timestamp:   timestamp.UTC().Format(time.RFC3339Nano),
		Source:      streamSourceBackend,
	}
}

func (h *httpHandler) handleCampaignStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.feed.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(streamEventReady, gin.H{"source": streamSourceBackend})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event := <-stream:
			c.SSEvent(string(event.Type), newCampaignEventPayload(event))
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"timestamp": tick.UTC().Format(time.RFC3339), "source": streamSourceBackend})
			return true
		}
	})
}
