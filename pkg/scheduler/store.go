package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pumba68/qatering-journeys/pkg/persistence"
)

// DefaultClaimLease is how long a claimed participant may go without a
// write-back before the claim is considered orphaned by a crash.
const DefaultClaimLease = 5 * time.Minute

// StoreDueScanner adapts the participant store to the sweeper's DueScanner.
// The store is the durable source of wakes; the queue is only a hint. Each
// scan first releases claims older than the lease, so a participant whose
// executor died between claim and update becomes due again.
type StoreDueScanner struct {
	participants persistence.ParticipantRepository
	lease        time.Duration
}

func NewStoreDueScanner(participants persistence.ParticipantRepository) *StoreDueScanner {
	return &StoreDueScanner{participants: participants, lease: DefaultClaimLease}
}

// WithClaimLease overrides the orphaned-claim lease.
func (s *StoreDueScanner) WithClaimLease(lease time.Duration) *StoreDueScanner {
	s.lease = lease
	return s
}

func (s *StoreDueScanner) DueParticipants(ctx context.Context, now time.Time, limit int) ([]Wake, error) {
	if _, err := s.participants.ReleaseExpiredClaims(ctx, now.Add(-s.lease)); err != nil {
		return nil, fmt.Errorf("releasing expired claims: %w", err)
	}

	due, err := s.participants.Due(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	wakes := make([]Wake, 0, len(due))

	for _, participant := range due {
		if participant.NextRunAt == nil {
			continue
		}

		wakes = append(wakes, Wake{ParticipantID: participant.ID, At: *participant.NextRunAt})
	}

	return wakes, nil
}
