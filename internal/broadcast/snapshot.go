package broadcast

import (
	"context"
	"errors"
)

var errMissingRecipientSource = errors.New("broadcast: recipient source is required")

// RecipientSource lists the users eligible for delivery at call time.
type RecipientSource interface {
	DeliverableRecipients(ctx context.Context) ([]int64, error)
}

// Snapshot freezes the recipient list of one campaign. Users that join, block or
// unblock after Take returns do not affect the campaign being dispatched.
type Snapshot struct {
	source RecipientSource
}

func NewSnapshot(source RecipientSource) (*Snapshot, error) {
	if source == nil {
		return nil, errMissingRecipientSource
	}
	return &Snapshot{source: source}, nil
}

// Take returns the non-blocked users in a slice owned by the caller.
func (s *Snapshot) Take(ctx context.Context) ([]int64, error) {
	recipients, err := s.source.DeliverableRecipients(ctx)
	if err != nil {
		return nil, err
	}
	frozen := make([]int64, len(recipients))
	copy(frozen, recipients)
	return frozen, nil
}
