// Package events materializes local events at the external calendar
// provider and maintains the durable local-to-provider event mapping used
// for idempotent re-sync.
package events

import (
	"context"
	"time"

	"github.com/calsched/calsched/internal/logging"
	"github.com/calsched/calsched/internal/metrics"
	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/provider"
	"github.com/calsched/calsched/internal/store"
	"github.com/calsched/calsched/internal/token"
)

// UserDirectory resolves participant IDs to contact emails for provider
// event payloads.
type UserDirectory interface {
	Email(userID string) (string, bool)
}

// CreateInput describes an event to materialize at the provider.
type CreateInput struct {
	Title             string
	Description       string
	Start             time.Time
	End               time.Time
	AttendeeIDs       []string
	AttendeeEmails    []string
	WantsConferencing bool
	Recurrence        models.RecurrenceRule
}

// Materializer owns provider-side event operations. Every operation
// refreshes the acting user's credential first and fails closed: callers
// get a nil result or false instead of an error when the user has no
// usable integration, so they can degrade gracefully.
type Materializer struct {
	store     store.Store
	provider  provider.CalendarProvider
	tokens    *token.Manager
	directory UserDirectory
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// MaterializerOption configures a Materializer.
type MaterializerOption func(*Materializer)

// WithMetrics attaches metrics recording.
func WithMetrics(m *metrics.Metrics) MaterializerOption {
	return func(mat *Materializer) {
		mat.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) MaterializerOption {
	return func(mat *Materializer) {
		mat.logger = logger
	}
}

// NewMaterializer creates an event materializer.
func NewMaterializer(s store.Store, p provider.CalendarProvider, tokens *token.Manager, directory UserDirectory, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		store:     s,
		provider:  p,
		tokens:    tokens,
		directory: directory,
		logger:    logging.NewLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// credentialFor refreshes and loads the user's credential. Returns nil
// when the user has no usable integration.
func (m *Materializer) credentialFor(ctx context.Context, userID string) *models.Credential {
	if !m.tokens.Refresh(ctx, userID) {
		return nil
	}
	cred, ok := m.store.GetActiveCredential(userID, m.provider.ID())
	if !ok {
		return nil
	}
	return cred
}

// resolveAttendees maps attendee IDs through the user directory and
// appends any literal emails. Unresolvable IDs are skipped, not fatal.
func (m *Materializer) resolveAttendees(ctx context.Context, input CreateInput) []string {
	emails := make([]string, 0, len(input.AttendeeIDs)+len(input.AttendeeEmails))
	for _, id := range input.AttendeeIDs {
		if m.directory == nil {
			break
		}
		email, ok := m.directory.Email(id)
		if !ok {
			m.logger.DebugWithContext(ctx, "attendee has no resolvable email", "user_id", id)
			continue
		}
		emails = append(emails, email)
	}
	emails = append(emails, input.AttendeeEmails...)
	return emails
}

// Create materializes a new provider event on the organizer's calendar.
// Returns nil when the organizer has no usable integration or the provider
// call fails.
func (m *Materializer) Create(ctx context.Context, organizerID string, input CreateInput) *provider.EventResult {
	cred := m.credentialFor(ctx, organizerID)
	if cred == nil {
		m.record("create", "skipped")
		return nil
	}

	result, err := m.provider.CreateEvent(ctx, cred, provider.EventRequest{
		Title:             input.Title,
		Description:       input.Description,
		Start:             input.Start,
		End:               input.End,
		AttendeeEmails:    m.resolveAttendees(ctx, input),
		WantsConferencing: input.WantsConferencing,
		Recurrence:        input.Recurrence,
	})
	if err != nil {
		m.logger.WarnWithContext(ctx, "provider event create failed",
			"user_id", organizerID, "error", err.Error())
		m.record("create", "failure")
		return nil
	}

	m.record("create", "success")
	return result
}

// Update applies a partial update to an existing provider event. Returns
// false on missing integration or provider failure; callers treat false as
// skipped, not fatal.
func (m *Materializer) Update(ctx context.Context, userID, providerEventID string, patch provider.EventPatch) bool {
	if patch.IsZero() {
		// Nothing to send; the provider copy is already current.
		m.record("update", "success")
		return true
	}

	cred := m.credentialFor(ctx, userID)
	if cred == nil {
		m.record("update", "skipped")
		return false
	}

	if _, err := m.provider.UpdateEvent(ctx, cred, providerEventID, patch); err != nil {
		m.logger.WarnWithContext(ctx, "provider event update failed",
			"user_id", userID, "provider_event_id", providerEventID, "error", err.Error())
		m.record("update", "failure")
		return false
	}

	m.record("update", "success")
	return true
}

// Delete removes a provider event. Idempotent: deleting an already-absent
// event reports success.
func (m *Materializer) Delete(ctx context.Context, userID, providerEventID string) bool {
	cred := m.credentialFor(ctx, userID)
	if cred == nil {
		m.record("delete", "skipped")
		return false
	}

	if err := m.provider.DeleteEvent(ctx, cred, providerEventID); err != nil {
		m.logger.WarnWithContext(ctx, "provider event delete failed",
			"user_id", userID, "provider_event_id", providerEventID, "error", err.Error())
		m.record("delete", "failure")
		return false
	}

	m.record("delete", "success")
	return true
}

// SyncLocalEvent creates or updates the provider-side counterpart of a
// local event. When a mapping already exists the provider event is
// updated; otherwise a new provider event is created and the mapping
// persisted. Idempotent under retries: a second call for the same local
// event updates, never duplicates.
func (m *Materializer) SyncLocalEvent(ctx context.Context, event models.LocalEvent) (*models.EventMapping, bool) {
	if existing, ok := m.store.GetMapping(event.ID, m.provider.ID()); ok {
		patch := provider.EventPatch{
			Title:       &event.Title,
			Description: &event.Description,
			Start:       &event.Start,
			End:         &event.End,
		}
		if len(event.AttendeeEmails) > 0 {
			patch.AttendeeEmails = event.AttendeeEmails
		}
		if !m.Update(ctx, event.OrganizerID, existing.ProviderEventID, patch) {
			return nil, false
		}

		existing.LastSyncedAt = time.Now().UTC()
		if err := m.store.SetMapping(existing); err != nil {
			m.logger.ErrorWithContext(ctx, "failed to persist mapping after update",
				"local_event_id", event.ID, "error", err.Error())
			return nil, false
		}
		return existing, true
	}

	result := m.Create(ctx, event.OrganizerID, CreateInput{
		Title:             event.Title,
		Description:       event.Description,
		Start:             event.Start,
		End:               event.End,
		AttendeeEmails:    event.AttendeeEmails,
		WantsConferencing: event.WantsConferencing,
		Recurrence:        event.Recurrence,
	})
	if result == nil {
		return nil, false
	}

	mapping := &models.EventMapping{
		LocalEventID:    event.ID,
		Provider:        m.provider.ID(),
		ProviderEventID: result.EventID,
		Etag:            result.Etag,
		LastSyncedAt:    time.Now().UTC(),
	}
	if err := m.store.SetMapping(mapping); err != nil {
		m.logger.ErrorWithContext(ctx, "failed to persist mapping after create",
			"local_event_id", event.ID, "error", err.Error())
		return nil, false
	}
	return mapping, true
}

// UnsyncLocalEvent removes the provider-side counterpart and its mapping.
// A never-synced local event is a no-op, not an error.
func (m *Materializer) UnsyncLocalEvent(ctx context.Context, userID, localEventID string) bool {
	mapping, ok := m.store.GetMapping(localEventID, m.provider.ID())
	if !ok {
		return true
	}

	if !m.Delete(ctx, userID, mapping.ProviderEventID) {
		return false
	}
	m.store.DeleteMapping(localEventID, m.provider.ID())
	return true
}

func (m *Materializer) record(operation, status string) {
	if m.metrics != nil {
		m.metrics.RecordEventOperation(operation, status)
	}
}
