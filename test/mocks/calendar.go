// Package mocks provides test doubles shared by unit and integration
// tests.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/provider"
)

// FakeCalendarProvider is an in-memory CalendarProvider with per-user
// scripted behavior. The zero value succeeds on everything.
type FakeCalendarProvider struct {
	mu sync.Mutex

	// RefreshErr fails RefreshToken when set.
	RefreshErr error
	// RefreshErrFor fails RefreshToken for specific refresh tokens.
	RefreshErrFor map[string]error
	// TokenTTL is the lifetime of tokens minted by RefreshToken.
	TokenTTL time.Duration

	// BusyByUser scripts QueryBusy results keyed by user ID.
	BusyByUser map[string][]models.BusyInterval
	// BusyErrFor fails QueryBusy for specific user IDs.
	BusyErrFor map[string]error

	// CreateErr, UpdateErr, DeleteErr fail the respective event calls.
	CreateErr error
	UpdateErr error
	DeleteErr error

	// Events records created events by generated ID.
	Events map[string]provider.EventRequest

	RefreshCalls int
	QueryCalls   int
	CreateCalls  int
	UpdateCalls  int
	DeleteCalls  int

	nextEventID int
}

// NewFakeCalendarProvider creates a fake with empty scripts.
func NewFakeCalendarProvider() *FakeCalendarProvider {
	return &FakeCalendarProvider{
		RefreshErrFor: make(map[string]error),
		BusyByUser:    make(map[string][]models.BusyInterval),
		BusyErrFor:    make(map[string]error),
		Events:        make(map[string]provider.EventRequest),
		TokenTTL:      time.Hour,
	}
}

// ID implements provider.CalendarProvider.
func (f *FakeCalendarProvider) ID() models.ProviderID {
	return models.ProviderGoogle
}

// RefreshToken implements provider.CalendarProvider.
func (f *FakeCalendarProvider) RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.RefreshCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	if err, ok := f.RefreshErrFor[refreshToken]; ok {
		return nil, err
	}
	return &provider.TokenResult{
		AccessToken: "refreshed-" + refreshToken,
		ExpiresAt:   time.Now().Add(f.TokenTTL),
	}, nil
}

// QueryBusy implements provider.CalendarProvider.
func (f *FakeCalendarProvider) QueryBusy(ctx context.Context, cred *models.Credential, start, end time.Time) ([]models.BusyInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.QueryCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.BusyErrFor[cred.UserID]; ok {
		return nil, err
	}
	return f.BusyByUser[cred.UserID], nil
}

// CreateEvent implements provider.CalendarProvider.
func (f *FakeCalendarProvider) CreateEvent(ctx context.Context, cred *models.Credential, req provider.EventRequest) (*provider.EventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	f.nextEventID++
	eventID := fmt.Sprintf("evt-%d", f.nextEventID)
	f.Events[eventID] = req

	result := &provider.EventResult{
		EventID: eventID,
		Etag:    fmt.Sprintf("etag-%d", f.nextEventID),
	}
	if req.WantsConferencing {
		result.MeetLink = "https://meet.example.com/" + eventID
	}
	result.HTMLLink = "https://calendar.example.com/" + eventID
	return result, nil
}

// UpdateEvent implements provider.CalendarProvider.
func (f *FakeCalendarProvider) UpdateEvent(ctx context.Context, cred *models.Credential, providerEventID string, patch provider.EventPatch) (*provider.EventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.UpdateCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}

	event, ok := f.Events[providerEventID]
	if ok {
		if patch.Title != nil {
			event.Title = *patch.Title
		}
		if patch.Description != nil {
			event.Description = *patch.Description
		}
		if patch.Start != nil {
			event.Start = *patch.Start
		}
		if patch.End != nil {
			event.End = *patch.End
		}
		if patch.AttendeeEmails != nil {
			event.AttendeeEmails = patch.AttendeeEmails
		}
		f.Events[providerEventID] = event
	}
	return &provider.EventResult{EventID: providerEventID, Etag: "etag-updated"}, nil
}

// DeleteEvent implements provider.CalendarProvider. Deleting an unknown
// event succeeds, matching provider semantics.
func (f *FakeCalendarProvider) DeleteEvent(ctx context.Context, cred *models.Credential, providerEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.DeleteCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.Events, providerEventID)
	return nil
}

// AuthCodeURL implements provider.CalendarProvider.
func (f *FakeCalendarProvider) AuthCodeURL(state string) string {
	return "https://auth.example.com/consent?state=" + state
}

// ExchangeCode implements provider.CalendarProvider.
func (f *FakeCalendarProvider) ExchangeCode(ctx context.Context, code string) (*provider.ConnectResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	expiry := time.Now().Add(f.TokenTTL)
	return &provider.ConnectResult{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    &expiry,
		AccountEmail: code + "@example.com",
	}, nil
}

// Counts returns a snapshot of call counters.
func (f *FakeCalendarProvider) Counts() (refresh, query, create, update, del int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RefreshCalls, f.QueryCalls, f.CreateCalls, f.UpdateCalls, f.DeleteCalls
}
