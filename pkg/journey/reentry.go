package journey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
)

// Guard decides whether a user may (re-)enter a journey. The decision is
// advisory: a concurrent admission for the same user is still caught by
// the store's single-active constraint, the guard only avoids the common
// cases without a write.
type Guard struct {
	participants persistence.ParticipantRepository
}

func NewGuard(participants persistence.ParticipantRepository) *Guard {
	return &Guard{participants: participants}
}

// Admit reports whether userID may enter the journey now. When admission
// is denied the returned reason names the rule that blocked it.
func (g *Guard) Admit(ctx context.Context, journey *models.Journey, userID string, now time.Time) (bool, string, error) {
	previous, err := g.participants.LatestByJourneyAndUser(ctx, journey.ID, userID)
	if errors.Is(err, persistence.ErrParticipantNotFound) {
		return true, "", nil
	}

	if err != nil {
		return false, "", err
	}

	if !previous.Status.Terminal() {
		return false, "participation still in flight", nil
	}

	switch journey.ReEntry.Mode {
	case models.ReEntryNever:
		return false, "re-entry disallowed", nil
	case models.ReEntryAlways:
		return true, "", nil
	case models.ReEntryAfterDays:
		if previous.EndedAt == nil {
			return false, "previous run missing end timestamp", nil
		}

		eligibleAt := previous.EndedAt.AddDate(0, 0, journey.ReEntry.AfterDays)
		if now.Before(eligibleAt) {
			return false, fmt.Sprintf("re-entry cooldown until %s", eligibleAt.Format(time.RFC3339)), nil
		}

		return true, "", nil
	default:
		return false, "", fmt.Errorf("unknown re-entry mode %q", journey.ReEntry.Mode)
	}
}
