// Package models defines the core domain models for journey automation.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JourneyStatus represents the lifecycle state of a journey definition.
type JourneyStatus string

const (
	JourneyStatusDraft    JourneyStatus = "draft"    // Editable, not executable
	JourneyStatusActive   JourneyStatus = "active"   // Published, executable
	JourneyStatusPaused   JourneyStatus = "paused"   // No new triggers, no step execution
	JourneyStatusArchived JourneyStatus = "archived" // Historical, not executable
)

// TriggerType determines how participants are admitted into a journey.
type TriggerType string

const (
	TriggerTypeEvent        TriggerType = "event"         // A domain event admits the event's user
	TriggerTypeSegmentEntry TriggerType = "segment_entry" // Periodic segment evaluation admits members
	TriggerTypeDateBased    TriggerType = "date_based"    // A scheduled date admits the audience segment
)

// ConversionGoal is a target event that ends a participant as converted
// regardless of graph position, within a lookback window from journey entry.
type ConversionGoal struct {
	EventType  string `json:"event_type"  validate:"required"`
	WindowDays int    `json:"window_days" validate:"required,gt=0"`
}

// ExitRuleKind identifies the condition type of an exit rule.
type ExitRuleKind string

const (
	ExitRuleEvent       ExitRuleKind = "event"        // A matching domain event removes the participant
	ExitRuleSegmentExit ExitRuleKind = "segment_exit" // Leaving a segment removes the participant
	ExitRuleConversion  ExitRuleKind = "conversion"   // The conversion event removes the participant without conversion credit
)

// ExitRule removes a participant early without counting as conversion.
type ExitRule struct {
	Kind      ExitRuleKind `json:"kind"                 validate:"required"`
	EventType string       `json:"event_type,omitempty"`
	SegmentID string       `json:"segment_id,omitempty"`
}

// Journey is an authored automation definition: trigger configuration,
// the node graph and the participation lifecycle rules around it.
// The engine only reads journeys; authoring happens elsewhere.
type Journey struct {
	ID          string        `json:"id"           validate:"required"`
	TenantID    string        `json:"tenant_id"    validate:"required"`
	Name        string        `json:"name"         validate:"required,min=3"`
	Status      JourneyStatus `json:"status"       validate:"required"`
	TriggerType TriggerType   `json:"trigger_type" validate:"required"`

	// TriggerEvent is the domain event type for event journeys.
	TriggerEvent string `json:"trigger_event,omitempty"`
	// SegmentID is the audience for segment_entry and date_based journeys.
	SegmentID string `json:"segment_id,omitempty"`
	// TickCron schedules segment/date evaluation for non-event journeys
	// (standard 5-field cron).
	TickCron string `json:"tick_cron,omitempty"`

	Graph *Graph `json:"graph" validate:"required"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	ReEntry    ReEntryPolicy   `json:"re_entry_policy"`
	Conversion *ConversionGoal `json:"conversion_goal,omitempty"`
	ExitRules  []ExitRule      `json:"exit_rules,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExecutable reports whether the engine may admit and advance participants.
func (j *Journey) IsExecutable() bool {
	return j.Status == JourneyStatusActive
}

// InValidityWindow reports whether now falls inside the optional
// start/end window of the journey.
func (j *Journey) InValidityWindow(now time.Time) bool {
	if j.StartDate != nil && now.Before(*j.StartDate) {
		return false
	}

	if j.EndDate != nil && now.After(*j.EndDate) {
		return false
	}

	return true
}

// ReEntryMode enumerates the admission policies for repeat participation.
type ReEntryMode string

const (
	ReEntryNever     ReEntryMode = "never"
	ReEntryAlways    ReEntryMode = "always"
	ReEntryAfterDays ReEntryMode = "after_days"
)

// ReEntryPolicy governs whether a user may start a new run of a journey
// they already participated in. It is a structured value; the authored
// string form ("NEVER", "ALWAYS", "AFTER_DAYS:30") is accepted on decode.
type ReEntryPolicy struct {
	Mode      ReEntryMode `json:"mode"`
	AfterDays int         `json:"after_days,omitempty"`
}

var ErrInvalidReEntryPolicy = errors.New("invalid re-entry policy")

// ParseReEntryPolicy parses the string-encoded tag used by authored data.
func ParseReEntryPolicy(raw string) (ReEntryPolicy, error) {
	switch {
	case strings.EqualFold(raw, "NEVER"):
		return ReEntryPolicy{Mode: ReEntryNever}, nil
	case strings.EqualFold(raw, "ALWAYS"):
		return ReEntryPolicy{Mode: ReEntryAlways}, nil
	case strings.HasPrefix(strings.ToUpper(raw), "AFTER_DAYS:"):
		days, err := strconv.Atoi(raw[len("AFTER_DAYS:"):])
		if err != nil || days <= 0 {
			return ReEntryPolicy{}, fmt.Errorf("%w: %q", ErrInvalidReEntryPolicy, raw)
		}

		return ReEntryPolicy{Mode: ReEntryAfterDays, AfterDays: days}, nil
	default:
		return ReEntryPolicy{}, fmt.Errorf("%w: %q", ErrInvalidReEntryPolicy, raw)
	}
}

// UnmarshalJSON accepts both the structured object form and the authored
// string tag.
func (p *ReEntryPolicy) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		raw := strings.Trim(string(data), `"`)

		parsed, err := ParseReEntryPolicy(raw)
		if err != nil {
			return err
		}

		*p = parsed

		return nil
	}

	type alias ReEntryPolicy

	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	*p = ReEntryPolicy(a)

	return nil
}

// Validate checks internal consistency of the policy.
func (p ReEntryPolicy) Validate() error {
	switch p.Mode {
	case ReEntryNever, ReEntryAlways:
		return nil
	case ReEntryAfterDays:
		if p.AfterDays <= 0 {
			return fmt.Errorf("%w: after_days must be positive", ErrInvalidReEntryPolicy)
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidReEntryPolicy, p.Mode)
	}
}
