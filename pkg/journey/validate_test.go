package journey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumba68/qatering-journeys/pkg/models"
)

func validJourney() *models.Journey {
	return &models.Journey{
		ID:           "j1",
		TenantID:     "t1",
		Name:         "Welcome flow",
		Status:       models.JourneyStatusActive,
		TriggerType:  models.TriggerTypeEvent,
		TriggerEvent: "user.registered",
		ReEntry:      models.ReEntryPolicy{Mode: models.ReEntryNever},
		Graph: &models.Graph{
			Nodes: []*models.Node{
				{ID: "n1", Type: models.NodeTypeStart},
				{ID: "n2", Type: models.NodeTypeDelay, Delay: &models.DelayConfig{Amount: 1, Unit: models.DelayUnitDays}},
				{ID: "n3", Type: models.NodeTypeEmail, Message: &models.MessageConfig{TemplateID: "welcome"}},
				{ID: "n4", Type: models.NodeTypeEnd},
			},
			Edges: []models.Edge{
				{Source: "n1", Target: "n2", Handle: models.HandleOutput},
				{Source: "n2", Target: "n3", Handle: models.HandleOutput},
				{Source: "n3", Target: "n4", Handle: models.HandleOutput},
			},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestValidate_AcceptsWellFormedJourney(t *testing.T) {
	require.NoError(t, Validate(validJourney()))
}

func TestValidate_RejectsEventJourneyWithoutTriggerEvent(t *testing.T) {
	journey := validJourney()
	journey.TriggerEvent = ""

	err := Validate(journey)
	require.ErrorIs(t, err, ErrInvalidJourney)
}

func TestValidateGraph_RejectsMultipleStartNodes(t *testing.T) {
	journey := validJourney()
	journey.Graph.Nodes = append(journey.Graph.Nodes, &models.Node{ID: "n5", Type: models.NodeTypeStart})
	journey.Graph.Edges = append(journey.Graph.Edges, models.Edge{Source: "n5", Target: "n2", Handle: models.HandleOutput})

	err := ValidateGraph(journey.Graph)
	require.ErrorIs(t, err, ErrInvalidJourney)
}

func TestValidateGraph_RejectsStartWithIncomingEdge(t *testing.T) {
	journey := validJourney()
	journey.Graph.Edges = append(journey.Graph.Edges, models.Edge{Source: "n3", Target: "n1", Handle: models.HandleOutput})

	err := ValidateGraph(journey.Graph)
	require.ErrorIs(t, err, ErrInvalidJourney)
	assert.Contains(t, err.Error(), "incoming")
}

func TestValidateGraph_RejectsBranchMissingNoEdge(t *testing.T) {
	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeBranch, Branch: &models.BranchConfig{
				Condition: models.BranchAttribute,
				Attribute: "orders",
				Operator:  models.OperatorGte,
				Value:     3,
			}},
			{ID: "n3", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "n1", Target: "n2", Handle: models.HandleOutput},
			{Source: "n2", Target: "n3", Handle: models.HandleYes},
		},
	}

	err := ValidateGraph(graph)
	require.ErrorIs(t, err, ErrInvalidJourney)
	assert.Contains(t, err.Error(), "yes and no")
}

func TestValidateGraph_RejectsEndWithOutgoingEdge(t *testing.T) {
	journey := validJourney()
	journey.Graph.Edges = append(journey.Graph.Edges, models.Edge{Source: "n4", Target: "n2", Handle: models.HandleOutput})

	err := ValidateGraph(journey.Graph)
	require.ErrorIs(t, err, ErrInvalidJourney)
}

func TestValidateGraph_RejectsMissingNodeConfig(t *testing.T) {
	journey := validJourney()
	journey.Graph.Nodes[2].Message = nil

	err := ValidateGraph(journey.Graph)
	require.ErrorIs(t, err, ErrInvalidJourney)
	assert.Contains(t, err.Error(), "config")
}

func TestValidateGraph_RejectsConfigSchemaViolation(t *testing.T) {
	journey := validJourney()
	journey.Graph.Nodes[1].Delay = &models.DelayConfig{Amount: 0, Unit: models.DelayUnitDays}

	err := ValidateGraph(journey.Graph)
	require.ErrorIs(t, err, ErrInvalidJourney)
}
