package broadcast

import (
	"time"

	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

// CampaignEventType names a campaign lifecycle transition.
type CampaignEventType string

const (
	CampaignStarted   CampaignEventType = "campaign-started"
	CampaignCompleted CampaignEventType = "campaign-completed"
	CampaignStuck     CampaignEventType = "campaign-stuck"
)

// CampaignEvent describes a campaign at one lifecycle transition.
type CampaignEvent struct {
	Type       CampaignEventType
	CampaignID int64
	Recipients int
	Sent       int
	Failed     int
	Status     store.CampaignStatus
	Timestamp  time.Time
}

// Notifier receives campaign lifecycle events. PublishCampaign must not block.
type Notifier interface {
	PublishCampaign(event CampaignEvent)
}

type noopNotifier struct{}

func (noopNotifier) PublishCampaign(CampaignEvent) {}
