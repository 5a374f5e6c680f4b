package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NodeType identifies a journey step. The set is closed; the step executor
// switches over it exhaustively.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeDelay     NodeType = "delay"
	NodeTypeEmail     NodeType = "email"
	NodeTypeInApp     NodeType = "inapp"
	NodeTypePush      NodeType = "push"
	NodeTypeBranch    NodeType = "branch"
	NodeTypeIncentive NodeType = "incentive"
	NodeTypeEnd       NodeType = "end"
)

// IsMessage reports whether the node dispatches to a send channel.
func (t NodeType) IsMessage() bool {
	return t == NodeTypeEmail || t == NodeTypeInApp || t == NodeTypePush
}

func (t NodeType) known() bool {
	switch t {
	case NodeTypeStart, NodeTypeDelay, NodeTypeEmail, NodeTypeInApp,
		NodeTypePush, NodeTypeBranch, NodeTypeIncentive, NodeTypeEnd:
		return true
	default:
		return false
	}
}

// Node is one step in a journey graph. The authored JSON carries a
// polymorphic "config" object; it decodes into exactly one of the typed
// config fields below, selected by Type. Start and end nodes carry none.
type Node struct {
	ID   string   `json:"id"   validate:"required"`
	Type NodeType `json:"type" validate:"required"`

	Delay     *DelayConfig     `json:"-"`
	Message   *MessageConfig   `json:"-"`
	Branch    *BranchConfig    `json:"-"`
	Incentive *IncentiveConfig `json:"-"`
}

var ErrUnknownNodeType = errors.New("unknown node type")

type nodeEnvelope struct {
	ID     string          `json:"id"`
	Type   NodeType        `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON decodes the tagged config variant.
func (n *Node) UnmarshalJSON(data []byte) error {
	var env nodeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	n.ID = env.ID
	n.Type = env.Type

	if !env.Type.known() {
		return fmt.Errorf("%w: %q", ErrUnknownNodeType, env.Type)
	}

	if len(env.Config) == 0 {
		return nil
	}

	switch env.Type {
	case NodeTypeStart, NodeTypeEnd:
		return nil
	case NodeTypeDelay:
		n.Delay = &DelayConfig{}

		return json.Unmarshal(env.Config, n.Delay)
	case NodeTypeEmail, NodeTypeInApp, NodeTypePush:
		n.Message = &MessageConfig{}

		return json.Unmarshal(env.Config, n.Message)
	case NodeTypeBranch:
		n.Branch = &BranchConfig{}

		return json.Unmarshal(env.Config, n.Branch)
	case NodeTypeIncentive:
		n.Incentive = &IncentiveConfig{}

		return json.Unmarshal(env.Config, n.Incentive)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNodeType, env.Type)
	}
}

// MarshalJSON encodes the active config variant back into the authored shape.
func (n *Node) MarshalJSON() ([]byte, error) {
	env := nodeEnvelope{ID: n.ID, Type: n.Type}

	var (
		config any
		err    error
	)

	switch n.Type {
	case NodeTypeDelay:
		config = n.Delay
	case NodeTypeEmail, NodeTypeInApp, NodeTypePush:
		config = n.Message
	case NodeTypeBranch:
		config = n.Branch
	case NodeTypeIncentive:
		config = n.Incentive
	case NodeTypeStart, NodeTypeEnd:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, n.Type)
	}

	if config != nil {
		env.Config, err = json.Marshal(config)
		if err != nil {
			return nil, err
		}
	}

	return json.Marshal(env)
}

// DelayUnit is the unit of a delay node's amount.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// WaitUntil optionally snaps a delay forward to the next matching
// weekday and hour, for sends that should land at a friendly time.
type WaitUntil struct {
	Weekday time.Weekday `json:"weekday"`
	Hour    int          `json:"hour"`
}

// DelayConfig configures a delay node.
type DelayConfig struct {
	Amount    int        `json:"amount" validate:"required,gt=0"`
	Unit      DelayUnit  `json:"unit"   validate:"required"`
	WaitUntil *WaitUntil `json:"wait_until,omitempty"`
}

// Duration converts the amount and unit into a duration.
func (c *DelayConfig) Duration() time.Duration {
	switch c.Unit {
	case DelayUnitMinutes:
		return time.Duration(c.Amount) * time.Minute
	case DelayUnitHours:
		return time.Duration(c.Amount) * time.Hour
	case DelayUnitDays:
		return time.Duration(c.Amount) * 24 * time.Hour
	default:
		return 0
	}
}

// NextRunAfter computes the wake time for a delay entered at the given
// instant, snapped forward to the wait_until slot when configured.
func (c *DelayConfig) NextRunAfter(enteredAt time.Time) time.Time {
	next := enteredAt.Add(c.Duration())

	if c.WaitUntil == nil {
		return next
	}

	snapped := time.Date(next.Year(), next.Month(), next.Day(), c.WaitUntil.Hour, 0, 0, 0, next.Location())
	for snapped.Weekday() != c.WaitUntil.Weekday || snapped.Before(next) {
		snapped = snapped.AddDate(0, 0, 1)
	}

	return snapped
}

// FailurePolicy decides what a send node does when its dispatch fails.
type FailurePolicy string

const (
	FailureContinue FailurePolicy = "continue"
	FailureStop     FailurePolicy = "stop"
)

// MessageConfig configures email, inapp and push nodes.
type MessageConfig struct {
	TemplateID string         `json:"template_id" validate:"required"`
	Overrides  map[string]any `json:"overrides,omitempty"`
	OnFailure  FailurePolicy  `json:"on_failure,omitempty"`
}

// StopOnFailure reports whether a failed dispatch terminates the
// participant. An unset policy continues; skips never stop.
func (c *MessageConfig) StopOnFailure() bool {
	return c.OnFailure == FailureStop
}

// BranchCondition identifies how a branch node evaluates.
type BranchCondition string

const (
	BranchAttribute BranchCondition = "attribute" // Compare a user attribute against a value
	BranchEvent     BranchCondition = "event"     // Event of a type occurred within a lookback window
	BranchSegment   BranchCondition = "segment"   // User is currently a segment member
)

// CompareOperator is the operator for attribute branch conditions.
type CompareOperator string

const (
	OperatorEq       CompareOperator = "eq"
	OperatorNe       CompareOperator = "ne"
	OperatorGt       CompareOperator = "gt"
	OperatorLt       CompareOperator = "lt"
	OperatorGte      CompareOperator = "gte"
	OperatorLte      CompareOperator = "lte"
	OperatorContains CompareOperator = "contains"
)

// BranchConfig configures a branch node. Exactly the fields of the active
// condition kind are meaningful.
type BranchConfig struct {
	Condition BranchCondition `json:"condition" validate:"required"`

	Attribute string          `json:"attribute,omitempty"`
	Operator  CompareOperator `json:"operator,omitempty"`
	Value     any             `json:"value,omitempty"`

	EventType  string `json:"event_type,omitempty"`
	WindowDays int    `json:"window_days,omitempty"`

	SegmentID string `json:"segment_id,omitempty"`
}

// IncentiveKind identifies the reward an incentive node grants.
type IncentiveKind string

const (
	IncentiveWalletCredit IncentiveKind = "wallet_credit"
	IncentiveCoupon       IncentiveKind = "coupon"
)

// IncentiveConfig configures an incentive node. Grants are best-effort;
// failures never block the journey.
type IncentiveConfig struct {
	Kind     IncentiveKind `json:"kind" validate:"required"`
	Amount   float64       `json:"amount,omitempty"`
	CouponID string        `json:"coupon_id,omitempty"`
}
