package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultCampaignListLimit = 20
	MaxCampaignListLimit     = 100
)

// CreateCampaign inserts a campaign in the sending state with zero counts.
func (s *Service) CreateCampaign(ctx context.Context, text string) (BroadcastCampaign, error) {
	campaign := BroadcastCampaign{
		Text:      text,
		Status:    CampaignStatusSending,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&campaign).Error; err != nil {
		return BroadcastCampaign{}, s.fail(opCreateCampaign, "insert_failed", err)
	}
	return campaign, nil
}

// CompleteCampaign writes the final counts and moves the campaign to done.
// Only a campaign that is still sending can be completed.
func (s *Service) CompleteCampaign(ctx context.Context, campaignID int64, sent, failed int) (BroadcastCampaign, error) {
	result := s.db.WithContext(ctx).
		Model(&BroadcastCampaign{}).
		Where("id = ? AND status = ?", campaignID, CampaignStatusSending).
		Updates(map[string]interface{}{
			"sent_count":   sent,
			"failed_count": failed,
			"status":       CampaignStatusDone,
		})
	if result.Error != nil {
		return BroadcastCampaign{}, s.fail(opCompleteCampaign, "update_failed", result.Error, zap.Int64("campaign_id", campaignID))
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetCampaign(ctx, campaignID); err != nil {
			return BroadcastCampaign{}, err
		}
		return BroadcastCampaign{}, newServiceError(opCompleteCampaign, "not_sending", ErrCampaignNotSending)
	}
	return s.GetCampaign(ctx, campaignID)
}

// GetCampaign loads a campaign by id.
func (s *Service) GetCampaign(ctx context.Context, campaignID int64) (BroadcastCampaign, error) {
	var campaign BroadcastCampaign
	err := s.db.WithContext(ctx).Where("id = ?", campaignID).Take(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BroadcastCampaign{}, newServiceError(opGetCampaign, "not_found", ErrCampaignNotFound)
	}
	if err != nil {
		return BroadcastCampaign{}, s.fail(opGetCampaign, "query_failed", err, zap.Int64("campaign_id", campaignID))
	}
	return campaign, nil
}

// ListCampaigns returns campaigns newest first. The limit is clamped to
// [1, MaxCampaignListLimit]; non-positive values select DefaultCampaignListLimit.
func (s *Service) ListCampaigns(ctx context.Context, limit int) ([]BroadcastCampaign, error) {
	if limit <= 0 {
		limit = DefaultCampaignListLimit
	}
	if limit > MaxCampaignListLimit {
		limit = MaxCampaignListLimit
	}
	var campaigns []BroadcastCampaign
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&campaigns).Error; err != nil {
		return nil, s.fail(opListCampaigns, "query_failed", err)
	}
	return campaigns, nil
}

// ListStuckCampaigns returns campaigns still sending that were created before cutoff.
func (s *Service) ListStuckCampaigns(ctx context.Context, cutoff time.Time) ([]BroadcastCampaign, error) {
	var campaigns []BroadcastCampaign
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", CampaignStatusSending, cutoff.UTC()).
		Order("created_at ASC").
		Find(&campaigns).Error; err != nil {
		return nil, s.fail(opListStuckCampaigns, "query_failed", err)
	}
	return campaigns, nil
}
