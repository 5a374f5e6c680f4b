package persistence

import "errors"

var (
	// ErrJourneyNotFound is returned when a journey id resolves to nothing.
	ErrJourneyNotFound = errors.New("journey not found")

	// ErrParticipantNotFound is returned when a participant lookup misses.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrActiveParticipantExists is returned by CreateActive when the
	// (journey, user) pair already has an active run.
	ErrActiveParticipantExists = errors.New("active participant already exists for journey and user")

	// ErrParticipantNotActive is returned by Update when the participant
	// reached a terminal status since it was loaded, so the executor's
	// state must not be written over it.
	ErrParticipantNotActive = errors.New("participant is no longer active")

	// ErrTickScheduleNotFound is returned when a tick schedule lookup misses.
	ErrTickScheduleNotFound = errors.New("tick schedule not found")
)
