package provider

import (
	"context"
	"time"

	"github.com/calsched/calsched/internal/models"
)

// TokenResult is the outcome of a successful refresh handshake.
type TokenResult struct {
	AccessToken string
	ExpiresAt   time.Time
}

// ConnectResult is the outcome of an authorization-code exchange.
type ConnectResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	AccountEmail string
}

// EventRequest carries everything needed to create a provider-side event.
type EventRequest struct {
	Title             string
	Description       string
	Start             time.Time
	End               time.Time
	AttendeeEmails    []string
	WantsConferencing bool
	Recurrence        models.RecurrenceRule
}

// EventPatch applies a partial update. Nil fields are left untouched.
type EventPatch struct {
	Title          *string
	Description    *string
	Start          *time.Time
	End            *time.Time
	AttendeeEmails []string
}

// IsZero reports whether the patch carries no changes.
func (p EventPatch) IsZero() bool {
	return p.Title == nil && p.Description == nil && p.Start == nil && p.End == nil && p.AttendeeEmails == nil
}

// EventResult identifies a provider-side event after create or update.
type EventResult struct {
	EventID  string
	Etag     string
	MeetLink string
	HTMLLink string
}

// CalendarProvider is the narrow boundary to one external calendar
// provider. Implementations must be safe for concurrent use; every method
// honors context cancellation.
type CalendarProvider interface {
	// ID identifies the provider for credential and mapping scoping.
	ID() models.ProviderID

	// RefreshToken performs the OAuth refresh handshake. Only called
	// with a non-empty refresh token.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error)

	// QueryBusy returns the user's busy intervals inside [start, end).
	QueryBusy(ctx context.Context, cred *models.Credential, start, end time.Time) ([]models.BusyInterval, error)

	// CreateEvent materializes an event on the credential owner's
	// calendar.
	CreateEvent(ctx context.Context, cred *models.Credential, req EventRequest) (*EventResult, error)

	// UpdateEvent applies a partial update to an existing event.
	UpdateEvent(ctx context.Context, cred *models.Credential, providerEventID string, patch EventPatch) (*EventResult, error)

	// DeleteEvent removes an event. Deleting an already-absent event is
	// not an error.
	DeleteEvent(ctx context.Context, cred *models.Credential, providerEventID string) error

	// AuthCodeURL returns the consent URL that starts the authorization
	// handshake.
	AuthCodeURL(state string) string

	// ExchangeCode swaps an authorization code for tokens and resolves
	// the account email.
	ExchangeCode(ctx context.Context, code string) (*ConnectResult, error)
}
