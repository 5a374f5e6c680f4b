// Package journey implements the execution engine: trigger intake, step
// execution, scheduling glue, conversion/exit evaluation and re-entry
// admission over authored journey graphs.
package journey

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pumba68/qatering-journeys/pkg/models"
)

// Graph validation is an editor-side responsibility; the engine still
// defends itself here so a malformed definition fails one journey's
// configuration step instead of surfacing mid-run.

var ErrInvalidJourney = errors.New("invalid journey definition")

var configSchemas = map[models.NodeType]string{
	models.NodeTypeDelay: `{
		"type": "object",
		"properties": {
			"amount": {"type": "integer", "minimum": 1},
			"unit": {"enum": ["minutes", "hours", "days"]},
			"wait_until": {
				"type": "object",
				"properties": {
					"weekday": {"type": "integer", "minimum": 0, "maximum": 6},
					"hour": {"type": "integer", "minimum": 0, "maximum": 23}
				},
				"required": ["weekday", "hour"]
			}
		},
		"required": ["amount", "unit"]
	}`,
	models.NodeTypeEmail: messageSchema,
	models.NodeTypeInApp: messageSchema,
	models.NodeTypePush:  messageSchema,
	models.NodeTypeBranch: `{
		"type": "object",
		"properties": {
			"condition": {"enum": ["attribute", "event", "segment"]},
			"attribute": {"type": "string"},
			"operator": {"enum": ["eq", "ne", "gt", "lt", "gte", "lte", "contains"]},
			"event_type": {"type": "string"},
			"window_days": {"type": "integer", "minimum": 1},
			"segment_id": {"type": "string"}
		},
		"required": ["condition"]
	}`,
	models.NodeTypeIncentive: `{
		"type": "object",
		"properties": {
			"kind": {"enum": ["wallet_credit", "coupon"]},
			"amount": {"type": "number", "minimum": 0},
			"coupon_id": {"type": "string"}
		},
		"required": ["kind"]
	}`,
}

const messageSchema = `{
	"type": "object",
	"properties": {
		"template_id": {"type": "string", "minLength": 1},
		"overrides": {"type": "object"},
		"on_failure": {"enum": ["continue", "stop"]}
	},
	"required": ["template_id"]
}`

var (
	schemaOnce     sync.Once
	compiledSchema map[models.NodeType]*gojsonschema.Schema
	structValidate = validator.New(validator.WithRequiredStructEnabled())
)

func compiledSchemas() map[models.NodeType]*gojsonschema.Schema {
	schemaOnce.Do(func() {
		compiledSchema = make(map[models.NodeType]*gojsonschema.Schema, len(configSchemas))

		for nodeType, raw := range configSchemas {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
			if err != nil {
				panic(fmt.Sprintf("invalid built-in schema for %s: %v", nodeType, err))
			}

			compiledSchema[nodeType] = schema
		}
	})

	return compiledSchema
}

// Validate checks a journey definition end to end: struct tags, re-entry
// policy, graph shape and per-node config schemas.
func Validate(journey *models.Journey) error {
	if err := structValidate.Struct(journey); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJourney, err)
	}

	if err := journey.ReEntry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJourney, err)
	}

	if journey.TriggerType == models.TriggerTypeEvent && journey.TriggerEvent == "" {
		return fmt.Errorf("%w: event journey without trigger event", ErrInvalidJourney)
	}

	return ValidateGraph(journey.Graph)
}

// ValidateGraph checks the structural invariants the executor relies on:
// exactly one start node with no incoming edges, branch nodes with both
// yes and no edges, single output edges elsewhere, none on end nodes, and
// node configs matching their type's schema.
func ValidateGraph(graph *models.Graph) error {
	if graph == nil || len(graph.Nodes) == 0 {
		return fmt.Errorf("%w: empty graph", ErrInvalidJourney)
	}

	start, err := graph.Start()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJourney, err)
	}

	if graph.HasIncoming(start.ID) {
		return fmt.Errorf("%w: start node %s has incoming edges", ErrInvalidJourney, start.ID)
	}

	for _, node := range graph.Nodes {
		if err := validateNodeEdges(graph, node); err != nil {
			return err
		}

		if err := validateNodeConfig(node); err != nil {
			return err
		}
	}

	return nil
}

func validateNodeEdges(graph *models.Graph, node *models.Node) error {
	outgoing := graph.Outgoing(node.ID)

	switch node.Type {
	case models.NodeTypeBranch:
		_, hasYes := outgoing[models.HandleYes]
		_, hasNo := outgoing[models.HandleNo]

		if !hasYes || !hasNo || len(outgoing) != 2 {
			return fmt.Errorf("%w: branch node %s must have exactly yes and no edges", ErrInvalidJourney, node.ID)
		}
	case models.NodeTypeEnd:
		if len(outgoing) != 0 {
			return fmt.Errorf("%w: end node %s has outgoing edges", ErrInvalidJourney, node.ID)
		}
	default:
		if _, ok := outgoing[models.HandleOutput]; !ok || len(outgoing) != 1 {
			return fmt.Errorf("%w: node %s must have exactly one output edge", ErrInvalidJourney, node.ID)
		}
	}

	return nil
}

func validateNodeConfig(node *models.Node) error {
	schema, ok := compiledSchemas()[node.Type]
	if !ok {
		// start and end carry no config
		return nil
	}

	var config any

	switch node.Type {
	case models.NodeTypeDelay:
		config = node.Delay
	case models.NodeTypeEmail, models.NodeTypeInApp, models.NodeTypePush:
		config = node.Message
	case models.NodeTypeBranch:
		config = node.Branch
	case models.NodeTypeIncentive:
		config = node.Incentive
	}

	raw, err := json.Marshal(config)
	if err != nil || string(raw) == "null" {
		return fmt.Errorf("%w: node %s is missing its config", ErrInvalidJourney, node.ID)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: node %s config: %w", ErrInvalidJourney, node.ID, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: node %s config: %s", ErrInvalidJourney, node.ID, result.Errors()[0].String())
	}

	return nil
}
