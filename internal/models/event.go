package models

import (
	"fmt"
	"time"
)

// RecurrenceRule is the coarse recurrence vocabulary accepted by the
// scheduling surface. Providers translate it to their own grammar.
type RecurrenceRule string

const (
	RecurrenceNone     RecurrenceRule = "none"
	RecurrenceDaily    RecurrenceRule = "daily"
	RecurrenceWeekly   RecurrenceRule = "weekly"
	RecurrenceBiweekly RecurrenceRule = "biweekly"
	RecurrenceMonthly  RecurrenceRule = "monthly"
)

// Validate checks the rule against the supported vocabulary. An empty rule
// is accepted and treated as RecurrenceNone.
func (r RecurrenceRule) Validate() error {
	switch r {
	case "", RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceBiweekly, RecurrenceMonthly:
		return nil
	}
	return fmt.Errorf("unsupported recurrence rule %q", r)
}

// LocalEvent is the application-side event record that gets materialized
// at a provider. The tracker's own CRUD around it lives elsewhere; the
// engine only needs the fields that cross the provider boundary.
type LocalEvent struct {
	ID                string         `json:"id"`
	OrganizerID       string         `json:"organizer_id"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	Start             time.Time      `json:"start"`
	End               time.Time      `json:"end"`
	AttendeeEmails    []string       `json:"attendee_emails,omitempty"`
	WantsConferencing bool           `json:"wants_conferencing"`
	Recurrence        RecurrenceRule `json:"recurrence,omitempty"`
}

// Validate checks the fields required to materialize the event.
func (e *LocalEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.OrganizerID == "" {
		return fmt.Errorf("organizer id is required")
	}
	if e.Title == "" {
		return fmt.Errorf("title is required")
	}
	if e.Start.IsZero() || e.End.IsZero() || !e.End.After(e.Start) {
		return fmt.Errorf("event end must be after event start")
	}
	return e.Recurrence.Validate()
}
