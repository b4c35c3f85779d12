package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/botdesk/internal/metrics"
	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

const (
	defaultStuckAfter    = 30 * time.Minute
	defaultStuckInterval = 5 * time.Minute
	stuckCheckTimeout    = 30 * time.Second
	stuckJobName         = "broadcast-stuck-campaigns"
)

var errMissingStuckSource = errors.New("broadcast: stuck campaign source is required")

// StuckCampaignSource lists campaigns still sending that were created before cutoff.
type StuckCampaignSource interface {
	ListStuckCampaigns(ctx context.Context, cutoff time.Time) ([]store.BroadcastCampaign, error)
}

// StuckReporterConfig describes the periodic stuck-campaign check.
type StuckReporterConfig struct {
	Source   StuckCampaignSource
	After    time.Duration
	Interval time.Duration
	Notifier Notifier
	Clock    func() time.Time
	Logger   *zap.Logger
}

// StuckReporter surfaces campaigns that never reached done, typically because the
// process died mid-dispatch. Campaigns are reported, never resumed.
type StuckReporter struct {
	source    StuckCampaignSource
	after     time.Duration
	interval  time.Duration
	notifier  Notifier
	clock     func() time.Time
	logger    *zap.Logger
	scheduler gocron.Scheduler
}

func NewStuckReporter(cfg StuckReporterConfig) (*StuckReporter, error) {
	if cfg.Source == nil {
		return nil, errMissingStuckSource
	}
	after := cfg.After
	if after <= 0 {
		after = defaultStuckAfter
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultStuckInterval
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
	return &StuckReporter{
		source:   cfg.Source,
		after:    after,
		interval: interval,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Check reports every stuck campaign once and returns how many were found.
func (r *StuckReporter) Check(ctx context.Context) (int, error) {
	now := r.clock().UTC()
	campaigns, err := r.source.ListStuckCampaigns(ctx, now.Add(-r.after))
	if err != nil {
		r.logger.Error("stuck campaign check failed", zap.Error(err))
		return 0, err
	}
	metrics.SetStuckCampaigns(len(campaigns))
	for _, campaign := range campaigns {
		r.logger.Warn("broadcast campaign stuck in sending",
			zap.Int64("campaign_id", campaign.ID),
			zap.Time("created_at", campaign.CreatedAt),
			zap.Duration("age", now.Sub(campaign.CreatedAt)))
		r.notifier.PublishCampaign(CampaignEvent{
			Type:       CampaignStuck,
			CampaignID: campaign.ID,
			Status:     campaign.Status,
			Timestamp:  now,
		})
	}
	return len(campaigns), nil
}

// Start schedules Check every interval. The first check runs immediately.
func (r *StuckReporter) Start() error {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogger{logger: r.logger}),
	)
	if err != nil {
		return fmt.Errorf("broadcast: create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), stuckCheckTimeout)
			defer cancel()
			_, _ = r.Check(ctx)
		}),
		gocron.WithName(stuckJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("broadcast: schedule stuck check: %w", err)
	}
	scheduler.Start()
	r.scheduler = scheduler
	r.logger.Info("stuck campaign reporter started",
		zap.Duration("after", r.after),
		zap.Duration("interval", r.interval))
	return nil
}

// Stop waits for a running check to finish and stops the schedule.
func (r *StuckReporter) Stop() error {
	if r.scheduler == nil {
		return nil
	}
	err := r.scheduler.Shutdown()
	r.scheduler = nil
	return err
}

type gocronLogger struct {
	logger *zap.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.logger.Sugar().Debugw(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.logger.Sugar().Infow(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.logger.Sugar().Warnw(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.logger.Sugar().Errorw(msg, args...) }
