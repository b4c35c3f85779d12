package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MarcoPoloResearchLab/botdesk/internal/metrics"
	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

const (
	defaultWorkers     = 1
	defaultSendTimeout = 10 * time.Second
)

var (
	errMissingStore = errors.New("broadcast: campaign store is required")
	// ErrEmptyText rejects a campaign whose text is blank after trimming.
	ErrEmptyText = errors.New("broadcast: message text is required")
	// ErrSenderUnconfigured rejects a campaign while no message sender credential is configured.
	ErrSenderUnconfigured = errors.New("broadcast: message sender is not configured")
	// ErrSenderPanic marks a delivery whose sender panicked.
	ErrSenderPanic = errors.New("broadcast: sender panicked")
)

// Sender delivers one text to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Store is the subset of the event store the campaign controller needs.
type Store interface {
	RecipientSource
	CreateCampaign(ctx context.Context, text string) (store.BroadcastCampaign, error)
	CompleteCampaign(ctx context.Context, campaignID int64, sent, failed int) (store.BroadcastCampaign, error)
	ListCampaigns(ctx context.Context, limit int) ([]store.BroadcastCampaign, error)
	ListStuckCampaigns(ctx context.Context, cutoff time.Time) ([]store.BroadcastCampaign, error)
	AppendMessage(ctx context.Context, input store.MessageAppend) (store.BotMessage, error)
}

// Outcome is returned to the operator once a campaign reaches done.
type Outcome struct {
	CampaignID int64
	Sent       int
	Failed     int
	Status     store.CampaignStatus
}

// Summary is a campaign as listed to operators.
type Summary struct {
	ID          int64
	Text        string
	SentCount   int
	FailedCount int
	Status      store.CampaignStatus
	CreatedAt   time.Time
	Stuck       bool
}

// Config describes the dependencies and tuning of the campaign controller.
type Config struct {
	Store         Store
	Sender        Sender
	Notifier      Notifier
	Workers       int
	RatePerSecond float64
	SendTimeout   time.Duration
	StuckAfter    time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service runs broadcast campaigns: one row per submission, one send attempt per
// snapshotted recipient, one terminal update with the folded counts.
type Service struct {
	store       Store
	snapshot    *Snapshot
	sender      Sender
	notifier    Notifier
	workers     int
	limiter     *rate.Limiter
	sendTimeout time.Duration
	stuckAfter  time.Duration
	clock       func() time.Time
	logger      *zap.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	snapshot, err := NewSnapshot(cfg.Store)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       cfg.Store,
		snapshot:    snapshot,
		sender:      cfg.Sender,
		notifier:    notifier,
		workers:     workers,
		limiter:     limiter,
		sendTimeout: sendTimeout,
		stuckAfter:  cfg.StuckAfter,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Submit validates the text, records a sending campaign, delivers it to every
// snapshotted recipient and moves the campaign to done with the final counts.
// Delivery failures never fail the campaign. When ctx is cancelled before the
// terminal update the campaign stays sending and the context error is returned.
func (s *Service) Submit(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, ErrEmptyText
	}
	if s.sender == nil {
		return Outcome{}, ErrSenderUnconfigured
	}

	campaign, err := s.store.CreateCampaign(ctx, text)
	if err != nil {
		return Outcome{}, err
	}
	recipients, err := s.snapshot.Take(ctx)
	if err != nil {
		s.logger.Error("broadcast snapshot failed",
			zap.Int64("campaign_id", campaign.ID),
			zap.Error(err))
		return Outcome{}, err
	}
	s.notifier.PublishCampaign(CampaignEvent{
		Type:       CampaignStarted,
		CampaignID: campaign.ID,
		Recipients: len(recipients),
		Status:     store.CampaignStatusSending,
		Timestamp:  s.clock().UTC(),
	})

	tally, err := s.dispatch(ctx, text, recipients)
	if err != nil {
		s.logger.Warn("broadcast interrupted",
			zap.Int64("campaign_id", campaign.ID),
			zap.Int("attempted", tally.Total()),
			zap.Int("recipients", len(recipients)),
			zap.Error(err))
		return Outcome{}, err
	}

	completed, err := s.store.CompleteCampaign(ctx, campaign.ID, tally.Sent, tally.Failed)
	if err != nil {
		return Outcome{}, err
	}
	metrics.ObserveCampaignCompleted()

	fields := []zap.Field{
		zap.Int64("campaign_id", completed.ID),
		zap.Int("recipients", len(recipients)),
		zap.Int("sent", completed.SentCount),
		zap.Int("failed", completed.FailedCount),
	}
	if completed.FailedCount > 0 {
		s.logger.Warn("broadcast finished with failed deliveries", fields...)
	} else {
		s.logger.Info("broadcast finished", fields...)
	}
	s.notifier.PublishCampaign(CampaignEvent{
		Type:       CampaignCompleted,
		CampaignID: completed.ID,
		Recipients: len(recipients),
		Sent:       completed.SentCount,
		Failed:     completed.FailedCount,
		Status:     completed.Status,
		Timestamp:  s.clock().UTC(),
	})

	return Outcome{
		CampaignID: completed.ID,
		Sent:       completed.SentCount,
		Failed:     completed.FailedCount,
		Status:     completed.Status,
	}, nil
}

// dispatch attempts every recipient exactly once, at most s.workers at a time.
// Workers never fail the group; outcomes go through the aggregator instead.
func (s *Service) dispatch(ctx context.Context, text string, recipients []int64) (Tally, error) {
	aggregator := NewAggregator(s.workers, s.logger)
	var group errgroup.Group
	group.SetLimit(s.workers)
	for _, recipient := range recipients {
		if ctx.Err() != nil {
			break
		}
		recipient := recipient
		group.Go(func() error {
			aggregator.Record(Delivery{Recipient: recipient, Err: s.deliver(ctx, recipient, text)})
			return nil
		})
	}
	_ = group.Wait()
	tally := aggregator.Close()
	if err := ctx.Err(); err != nil {
		return tally, err
	}
	return tally, nil
}

func (s *Service) deliver(ctx context.Context, recipient int64, text string) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrSenderPanic, recovered)
		}
	}()
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	return s.sender.Send(sendCtx, recipient, text)
}

// List returns the most recent campaigns, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Summary, error) {
	campaigns, err := s.store.ListCampaigns(ctx, limit)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	summaries := make([]Summary, 0, len(campaigns))
	for _, campaign := range campaigns {
		summaries = append(summaries, Summary{
			ID:          campaign.ID,
			Text:        campaign.Text,
			SentCount:   campaign.SentCount,
			FailedCount: campaign.FailedCount,
			Status:      campaign.Status,
			CreatedAt:   campaign.CreatedAt.UTC(),
			Stuck:       s.isStuck(campaign, now),
		})
	}
	return summaries, nil
}

func (s *Service) isStuck(campaign store.BroadcastCampaign, now time.Time) bool {
	if s.stuckAfter <= 0 || campaign.Status != store.CampaignStatusSending {
		return false
	}
	return now.Sub(campaign.CreatedAt) > s.stuckAfter
}
