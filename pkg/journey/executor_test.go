package journey

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumba68/qatering-journeys/pkg/dispatch"
	"github.com/pumba68/qatering-journeys/pkg/events"
	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence/memory"
	"github.com/pumba68/qatering-journeys/pkg/scheduler"
	"github.com/pumba68/qatering-journeys/pkg/segment"
)

// scriptedSender returns configured outcomes per template and records
// every call.
type scriptedSender struct {
	mu       sync.Mutex
	outcomes map[string]dispatch.Outcome
	calls    []string
}

func (s *scriptedSender) Send(_ context.Context, _ string, _ dispatch.Channel, templateID string, _ map[string]any) (dispatch.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, templateID)

	if outcome, ok := s.outcomes[templateID]; ok {
		return outcome, nil
	}

	return dispatch.Outcome{Status: dispatch.StatusSent}, nil
}

func (s *scriptedSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.calls)
}

type executorHarness struct {
	store    *memory.Persistence
	sender   *scriptedSender
	resolver *segment.StaticResolver
	queue    *scheduler.MemoryWakeQueue
	executor *Executor
	listener *Listener
	now      time.Time
	clock    *time.Time
}

func newExecutorHarness(t *testing.T) *executorHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := base

	h := &executorHarness{
		store:    memory.NewPersistence(),
		sender:   &scriptedSender{outcomes: map[string]dispatch.Outcome{}},
		resolver: segment.NewStaticResolver(nil, nil),
		queue:    scheduler.NewMemoryWakeQueue(),
		now:      base,
		clock:    &clock,
	}

	nowFn := func() time.Time { return *h.clock }

	dispatcher := dispatch.NewDispatcher(h.sender, dispatch.NewLogIssuer(logger), time.Second, logger)

	h.executor = NewExecutor("eng-test", h.store, dispatcher, h.resolver, h.resolver, h.queue, nil, logger).
		WithClock(nowFn)
	h.listener = NewListener("eng-test", h.store, h.resolver, h.queue, nil, logger).
		WithClock(nowFn)

	return h
}

func (h *executorHarness) advance(d time.Duration) {
	*h.clock = h.clock.Add(d)
}

func welcomeJourney() *models.Journey {
	journey := validJourney()
	journey.Conversion = &models.ConversionGoal{EventType: "order.first", WindowDays: 14}

	return journey
}

func TestExecutor_WelcomeFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)

	require.NoError(t, h.store.Journeys().SaveJourney(ctx, welcomeJourney()))

	h.sender.outcomes["welcome"] = dispatch.Outcome{Status: dispatch.StatusSkipped, Reason: "no consent"}

	err := h.listener.HandleDomainEvent(ctx, &events.DomainEvent{
		ID:         "e1",
		Type:       events.UserRegisteredEvent,
		UserID:     "u1",
		OccurredAt: h.now,
	})
	require.NoError(t, err)

	actives, err := h.store.Participants().ActiveByJourney(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, actives, 1)

	participant := actives[0]
	assert.Equal(t, "n1", participant.CurrentNodeID)
	require.NotNil(t, participant.NextRunAt)

	// First wake: start node, then park on the one-day delay.
	require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

	participant, err = h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantActive, participant.Status)
	assert.Equal(t, "n2", participant.CurrentNodeID)
	require.NotNil(t, participant.NextRunAt)
	assert.Equal(t, h.now.Add(24*time.Hour), *participant.NextRunAt)
	assert.Zero(t, h.sender.sentCount())

	// Second wake a day later: the email is skipped for consent, the run
	// still completes.
	h.advance(25 * time.Hour)
	require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

	participant, err = h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantCompleted, participant.Status)
	require.NotNil(t, participant.EndedAt)
	assert.Nil(t, participant.NextRunAt)

	require.Len(t, participant.History, 3)
	assert.Equal(t, "n2", participant.History[0].NodeID)
	assert.Equal(t, "scheduled", participant.History[0].Outcome)
	assert.Equal(t, "n3", participant.History[1].NodeID)
	assert.Equal(t, string(dispatch.StatusSkipped), participant.History[1].Outcome)
	assert.Equal(t, "no consent", participant.History[1].Detail)
	assert.Equal(t, string(models.ParticipantCompleted), participant.History[2].Outcome)
}

func TestExecutor_DuplicateWakesSendOnce(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)

	journey := validJourney()
	journey.Graph = &models.Graph{
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeEmail, Message: &models.MessageConfig{TemplateID: "welcome"}},
			{ID: "n3", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "n1", Target: "n2", Handle: models.HandleOutput},
			{Source: "n2", Target: "n3", Handle: models.HandleOutput},
		},
	}
	require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

	participant := models.NewParticipant("j1", "u1", "n1", h.now)
	require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

	dueAt := *participant.NextRunAt

	var wg sync.WaitGroup

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, dueAt))
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, h.sender.sentCount())

	final, err := h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantCompleted, final.Status)
}

func TestExecutor_BranchRoutesOnAttribute(t *testing.T) {
	ctx := context.Background()

	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeBranch, Branch: &models.BranchConfig{
				Condition: models.BranchAttribute,
				Attribute: "order_count",
				Operator:  models.OperatorGte,
				Value:     3,
			}},
			{ID: "n3", Type: models.NodeTypeEmail, Message: &models.MessageConfig{TemplateID: "loyal"}},
			{ID: "n4", Type: models.NodeTypeEmail, Message: &models.MessageConfig{TemplateID: "nudge"}},
			{ID: "n5", Type: models.NodeTypeEnd},
			{ID: "n6", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "n1", Target: "n2", Handle: models.HandleOutput},
			{Source: "n2", Target: "n3", Handle: models.HandleYes},
			{Source: "n2", Target: "n4", Handle: models.HandleNo},
			{Source: "n3", Target: "n5", Handle: models.HandleOutput},
			{Source: "n4", Target: "n6", Handle: models.HandleOutput},
		},
	}

	cases := []struct {
		name       string
		orderCount int
		template   string
	}{
		{name: "yes path", orderCount: 5, template: "loyal"},
		{name: "no path", orderCount: 1, template: "nudge"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newExecutorHarness(t)

			journey := validJourney()
			journey.Graph = graph
			require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

			h.resolver.SetAttribute("u1", "order_count", tc.orderCount)

			participant := models.NewParticipant("j1", "u1", "n1", h.now)
			require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

			require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

			assert.Equal(t, []string{tc.template}, h.sender.calls)

			final, err := h.store.Participants().ParticipantByID(ctx, participant.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ParticipantCompleted, final.Status)
		})
	}
}

func TestExecutor_CycleHitsHopLimit(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)

	journey := validJourney()
	journey.Graph = &models.Graph{
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeBranch, Branch: &models.BranchConfig{
				Condition: models.BranchAttribute,
				Attribute: "order_count",
				Operator:  models.OperatorGte,
				Value:     0,
			}},
			{ID: "n3", Type: models.NodeTypeEmail, Message: &models.MessageConfig{TemplateID: "again"}},
			{ID: "n4", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "n1", Target: "n2", Handle: models.HandleOutput},
			{Source: "n2", Target: "n3", Handle: models.HandleYes},
			{Source: "n2", Target: "n4", Handle: models.HandleNo},
			{Source: "n3", Target: "n2", Handle: models.HandleOutput},
		},
	}
	require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

	h.resolver.SetAttribute("u1", "order_count", 10)

	participant := models.NewParticipant("j1", "u1", "n1", h.now)
	require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

	require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

	final, err := h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantFailed, final.Status)

	terminal := final.History[len(final.History)-1]
	assert.Contains(t, terminal.Detail, "cycle")
}

func TestExecutor_SendFailureStopsWhenConfigured(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)

	journey := validJourney()
	journey.Graph.Nodes[2].Message = &models.MessageConfig{TemplateID: "welcome", OnFailure: models.FailureStop}
	require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

	h.sender.outcomes["welcome"] = dispatch.Outcome{Status: dispatch.StatusFailed, Reason: "smtp down"}

	participant := models.NewParticipant("j1", "u1", "n3", h.now)
	require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

	require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

	final, err := h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantFailed, final.Status)

	terminal := final.History[len(final.History)-1]
	assert.Contains(t, terminal.Detail, "send failed")
}

func TestExecutor_SendFailureContinuesByDefault(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)

	require.NoError(t, h.store.Journeys().SaveJourney(ctx, validJourney()))

	h.sender.outcomes["welcome"] = dispatch.Outcome{Status: dispatch.StatusFailed, Reason: "smtp down"}

	participant := models.NewParticipant("j1", "u1", "n3", h.now)
	require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

	require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

	final, err := h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantCompleted, final.Status)
}

// convertingSender converts the participant while its send is in flight,
// the way the evaluator does when the conversion event lands mid-wake.
type convertingSender struct {
	store         *memory.Persistence
	participantID string
	at            time.Time
}

func (s *convertingSender) Send(ctx context.Context, _ string, _ dispatch.Channel, _ string, _ map[string]any) (dispatch.Outcome, error) {
	_, err := s.store.Participants().TerminateFromActive(ctx, s.participantID, models.ParticipantConverted, "order.first", s.at)
	if err != nil {
		return dispatch.Outcome{}, err
	}

	return dispatch.Outcome{Status: dispatch.StatusSent}, nil
}

func TestExecutor_ConversionDuringWakeWins(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)

	require.NoError(t, h.store.Journeys().SaveJourney(ctx, welcomeJourney()))

	participant := models.NewParticipant("j1", "u1", "n3", h.now)
	require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

	sender := &convertingSender{store: h.store, participantID: participant.ID, at: h.now}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	dispatcher := dispatch.NewDispatcher(sender, dispatch.NewLogIssuer(logger), time.Second, logger)
	executor := NewExecutor("eng-test", h.store, dispatcher, h.resolver, h.resolver, h.queue, nil, logger).
		WithClock(func() time.Time { return *h.clock })

	require.NoError(t, executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

	final, err := h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantConverted, final.Status)
	assert.Nil(t, final.NextRunAt)
	require.NotNil(t, final.EndedAt)
}

func TestExecutor_MissingEdgeFailsParticipant(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)

	journey := validJourney()
	journey.Graph = &models.Graph{
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeEmail, Message: &models.MessageConfig{TemplateID: "welcome"}},
		},
		Edges: []models.Edge{
			{Source: "n1", Target: "n2", Handle: models.HandleOutput},
		},
	}
	require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

	participant := models.NewParticipant("j1", "u1", "n1", h.now)
	require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

	require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

	final, err := h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantFailed, final.Status)
}

func TestExecutor_PausedJourneyLeavesParticipantParked(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)

	journey := validJourney()
	journey.Status = models.JourneyStatusPaused
	require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

	participant := models.NewParticipant("j1", "u1", "n1", h.now)
	require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

	require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

	final, err := h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantActive, final.Status)
	assert.Equal(t, "n1", final.CurrentNodeID)
	require.NotNil(t, final.NextRunAt, "due time must survive the pause")
	assert.Zero(t, h.sender.sentCount())
}

func TestExecutor_BranchEventWindowUsesObservedLog(t *testing.T) {
	ctx := context.Background()

	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeBranch, Branch: &models.BranchConfig{
				Condition:  models.BranchEvent,
				EventType:  "order.placed",
				WindowDays: 7,
			}},
			{ID: "n3", Type: models.NodeTypeEmail, Message: &models.MessageConfig{TemplateID: "thanks"}},
			{ID: "n4", Type: models.NodeTypeEmail, Message: &models.MessageConfig{TemplateID: "miss-you"}},
			{ID: "n5", Type: models.NodeTypeEnd},
			{ID: "n6", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "n1", Target: "n2", Handle: models.HandleOutput},
			{Source: "n2", Target: "n3", Handle: models.HandleYes},
			{Source: "n2", Target: "n4", Handle: models.HandleNo},
			{Source: "n3", Target: "n5", Handle: models.HandleOutput},
			{Source: "n4", Target: "n6", Handle: models.HandleOutput},
		},
	}

	cases := []struct {
		name     string
		eventAge time.Duration
		template string
	}{
		{name: "event inside window", eventAge: 3 * 24 * time.Hour, template: "thanks"},
		{name: "event outside window", eventAge: 10 * 24 * time.Hour, template: "miss-you"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newExecutorHarness(t)

			journey := validJourney()
			journey.Graph = graph
			require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

			require.NoError(t, h.store.EventLog().Append(ctx, "u1", "order.placed", h.now.Add(-tc.eventAge)))

			participant := models.NewParticipant("j1", "u1", "n1", h.now)
			require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

			require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

			assert.Equal(t, []string{tc.template}, h.sender.calls)
		})
	}
}

func TestExecutor_IncentiveGrantRecordedOnce(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)

	journey := validJourney()
	journey.Graph = &models.Graph{
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeIncentive, Incentive: &models.IncentiveConfig{
				Kind:   models.IncentiveWalletCredit,
				Amount: 5,
			}},
			{ID: "n3", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "n1", Target: "n2", Handle: models.HandleOutput},
			{Source: "n2", Target: "n3", Handle: models.HandleOutput},
		},
	}
	require.NoError(t, h.store.Journeys().SaveJourney(ctx, journey))

	participant := models.NewParticipant("j1", "u1", "n1", h.now)
	require.NoError(t, h.store.Participants().CreateActive(ctx, participant))

	require.NoError(t, h.executor.ExecuteDue(ctx, participant.ID, *participant.NextRunAt))

	final, err := h.store.Participants().ParticipantByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantCompleted, final.Status)

	require.GreaterOrEqual(t, len(final.History), 2)
	assert.Equal(t, string(dispatch.StatusGranted), final.History[0].Outcome)
}
