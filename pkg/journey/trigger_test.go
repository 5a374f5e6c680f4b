package journey

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumba68/qatering-journeys/pkg/events"
	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence/memory"
	"github.com/pumba68/qatering-journeys/pkg/scheduler"
	"github.com/pumba68/qatering-journeys/pkg/segment"
)

type listenerHarness struct {
	store    *memory.Persistence
	resolver *segment.StaticResolver
	listener *Listener
	now      time.Time
}

func newListenerHarness(t *testing.T) *listenerHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	h := &listenerHarness{
		store:    memory.NewPersistence(),
		resolver: segment.NewStaticResolver(nil, nil),
		now:      base,
	}

	h.listener = NewListener("eng-test", h.store, h.resolver, scheduler.NewMemoryWakeQueue(), nil, logger).
		WithClock(func() time.Time { return base })

	return h
}

func registeredEvent(id, userID string, at time.Time) *events.DomainEvent {
	return &events.DomainEvent{
		ID:         id,
		Type:       events.UserRegisteredEvent,
		UserID:     userID,
		OccurredAt: at,
	}
}

func TestListener_AdmitsUserOnTriggerEvent(t *testing.T) {
	ctx := context.Background()
	h := newListenerHarness(t)

	require.NoError(t, h.store.Journeys().SaveJourney(ctx, validJourney()))

	require.NoError(t, h.listener.HandleDomainEvent(ctx, registeredEvent("e1", "u1", h.now)))

	actives, err := h.store.Participants().ActiveByJourney(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, "u1", actives[0].UserID)
	assert.Equal(t, "n1", actives[0].CurrentNodeID)
	require.NotNil(t, actives[0].NextRunAt)
}

func TestListener_QueuedWakeMatchesStoredDueTime(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// A clock with sub-millisecond precision; the stored due time and the
	// queued wake must still agree or the later claim never matches.
	base := time.Date(2025, 4, 1, 12, 0, 0, 123456789, time.UTC)
	store := memory.NewPersistence()
	queue := scheduler.NewMemoryWakeQueue()
	listener := NewListener("eng-test", store, segment.NewStaticResolver(nil, nil), queue, nil, logger).
		WithClock(func() time.Time { return base })

	require.NoError(t, store.Journeys().SaveJourney(ctx, validJourney()))
	require.NoError(t, listener.HandleDomainEvent(ctx, registeredEvent("e1", "u1", base)))

	actives, err := store.Participants().ActiveByJourney(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, actives, 1)
	require.NotNil(t, actives[0].NextRunAt)

	stored := *actives[0].NextRunAt

	due, err := queue.Due(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, due[0].At.Equal(stored), "queued wake %v must equal stored due time %v", due[0].At, stored)
}

func TestListener_IgnoresNonMatchingEventType(t *testing.T) {
	ctx := context.Background()
	h := newListenerHarness(t)

	require.NoError(t, h.store.Journeys().SaveJourney(ctx, validJourney()))

	event := &events.DomainEvent{
		ID:         "e1",
		Type:       events.OrderPlacedEvent,
		UserID:     "u1",
		OccurredAt: h.now,
	}

	require.NoError(t, h.listener.HandleDomainEvent(ctx, event))

	actives, err := h.store.Participants().ActiveByJourney(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, actives)
}

func TestListener_SecondEventKeepsSingleActiveRun(t *testing.T) {
	ctx := context.Background()
	h := newListenerHarness(t)

	require.NoError(t, h.store.Journeys().SaveJourney(ctx, validJourney()))

	require.NoError(t, h.listener.HandleDomainEvent(ctx, registeredEvent("e1", "u1", h.now)))
	require.NoError(t, h.listener.HandleDomainEvent(ctx, registeredEvent("e2", "u1", h.now.Add(time.Minute))))

	actives, err := h.store.Participants().ActiveByJourney(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, actives, 1)
}

func TestListener_RespectsValidityWindow(t *testing.T) {
	ctx := context.Background()
	h := newListenerHarness(t)

	journey := validJourney()
	ended := h.now.AddDate(0, 0, -1)
	journey.EndDate = &ended
	require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

	require.NoError(t, h.listener.HandleDomainEvent(ctx, registeredEvent("e1", "u1", h.now)))

	actives, err := h.store.Participants().ActiveByJourney(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, actives)
}

func TestListener_AppendsObservedEventLog(t *testing.T) {
	ctx := context.Background()
	h := newListenerHarness(t)

	require.NoError(t, h.listener.HandleDomainEvent(ctx, registeredEvent("e1", "u1", h.now)))

	seen, err := h.store.EventLog().HasEventSince(ctx, "u1", string(events.UserRegisteredEvent), h.now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestListener_DropsMalformedEvent(t *testing.T) {
	ctx := context.Background()
	h := newListenerHarness(t)

	require.NoError(t, h.store.Journeys().SaveJourney(ctx, validJourney()))

	require.NoError(t, h.listener.HandleDomainEvent(ctx, &events.DomainEvent{ID: "e1"}))

	actives, err := h.store.Participants().ActiveByJourney(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, actives)
}

func TestListener_HandleTickAdmitsSegmentMembers(t *testing.T) {
	ctx := context.Background()
	h := newListenerHarness(t)

	journey := validJourney()
	journey.TriggerType = models.TriggerTypeSegmentEntry
	journey.TriggerEvent = ""
	journey.SegmentID = "seg-inactive"
	journey.TickCron = "0 * * * *"
	require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

	h.resolver.SetMember("seg-inactive", "u1", true)
	h.resolver.SetMember("seg-inactive", "u2", true)

	tick := &events.JourneyTick{
		ID:        "t1",
		Type:      events.SegmentTickEvent,
		JourneyID: "j1",
		FiredAt:   h.now,
	}

	require.NoError(t, h.listener.HandleTick(ctx, tick))

	actives, err := h.store.Participants().ActiveByJourney(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, actives, 2)

	// A second tick admits nobody new while the runs are active.
	require.NoError(t, h.listener.HandleTick(ctx, tick))

	actives, err = h.store.Participants().ActiveByJourney(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, actives, 2)
}
