package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantStatus is the lifecycle state of one user's run through a
// journey. Terminal states are retained for analytics, never deleted.
type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantConverted ParticipantStatus = "converted"
	ParticipantExited    ParticipantStatus = "exited"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantFailed    ParticipantStatus = "failed"
	ParticipantPaused    ParticipantStatus = "paused"
)

// Terminal reports whether the status ends the run.
func (s ParticipantStatus) Terminal() bool {
	switch s {
	case ParticipantConverted, ParticipantExited, ParticipantCompleted, ParticipantFailed:
		return true
	default:
		return false
	}
}

// HistoryEntry is one append-only record of a node execution or a
// lifecycle transition, kept for debugging and branch-window queries.
type HistoryEntry struct {
	NodeID  string    `json:"node_id"`
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// Participant is one user's single run through a journey. Mutated only by
// the step executor and the conversion/exit evaluator. At most one active
// row may exist per (journey, user) pair at a time.
type Participant struct {
	ID        string            `json:"id"`
	JourneyID string            `json:"journey_id"`
	UserID    string            `json:"user_id"`
	Status    ParticipantStatus `json:"status"`

	CurrentNodeID string `json:"current_node_id"`

	// EnteredNodeAt is when the current node was entered; branch event
	// windows and delay computations anchor on it.
	EnteredNodeAt    time.Time `json:"entered_node_at"`
	EnteredJourneyAt time.Time `json:"entered_journey_at"`

	// NextRunAt is the scheduled wake time. Nil means either waiting on an
	// external event or claimed by an executor; wakes are rebuilt from this
	// column after a restart.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	History []HistoryEntry `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewParticipant creates an active participant positioned at the graph's
// start node, due for immediate execution.
func NewParticipant(journeyID, userID, startNodeID string, now time.Time) *Participant {
	// Wake times travel through queue backends with millisecond scores and
	// must compare equal to the stored value at claim time.
	due := now.Truncate(time.Millisecond)

	return &Participant{
		ID:               "prt-" + uuid.New().String(),
		JourneyID:        journeyID,
		UserID:           userID,
		Status:           ParticipantActive,
		CurrentNodeID:    startNodeID,
		EnteredNodeAt:    now,
		EnteredJourneyAt: now,
		NextRunAt:        &due,
		History:          []HistoryEntry{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Record appends a history entry.
func (p *Participant) Record(nodeID, outcome, detail string, at time.Time) {
	p.History = append(p.History, HistoryEntry{
		NodeID:  nodeID,
		At:      at,
		Outcome: outcome,
		Detail:  detail,
	})
}

// Clone returns a deep copy, used by in-memory persistence to keep stored
// state isolated from callers.
func (p *Participant) Clone() *Participant {
	clone := *p

	if p.NextRunAt != nil {
		at := *p.NextRunAt
		clone.NextRunAt = &at
	}

	if p.EndedAt != nil {
		at := *p.EndedAt
		clone.EndedAt = &at
	}

	clone.History = make([]HistoryEntry, len(p.History))
	copy(clone.History, p.History)

	return &clone
}
