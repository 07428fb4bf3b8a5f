package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/calsched/calsched/internal/config"
	calerrors "github.com/calsched/calsched/internal/errors"
	"github.com/calsched/calsched/internal/models"
)

// GoogleProvider talks to the Google Calendar API on behalf of stored
// credentials. Token refresh is managed by the token lifecycle manager,
// so API calls use a static token source and never self-refresh.
type GoogleProvider struct {
	oauth      *oauth2.Config
	calendarID string
}

// NewGoogleProvider builds a provider from the configured OAuth client.
func NewGoogleProvider(cfg config.GoogleConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google OAuth client is not configured (client_id / client_secret)")
	}

	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     google.Endpoint,
		},
		calendarID: calendarID,
	}, nil
}

// ID identifies the provider.
func (g *GoogleProvider) ID() models.ProviderID {
	return models.ProviderGoogle
}

// service creates a Calendar API client bound to the credential's current
// access token.
func (g *GoogleProvider) service(ctx context.Context, cred *models.Credential) (*calendar.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return svc, nil
}

// RefreshToken performs the OAuth refresh handshake.
func (g *GoogleProvider) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	source := g.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh handshake failed: %w", err)
	}
	return &TokenResult{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.Expiry.UTC(),
	}, nil
}

// QueryBusy fetches the user's busy intervals via the free/busy endpoint.
func (g *GoogleProvider) QueryBusy(ctx context.Context, cred *models.Credential, start, end time.Time) ([]models.BusyInterval, error) {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: g.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, &calerrors.ErrProviderQuery{UserID: cred.UserID, Operation: "freebusy", Err: err}
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, nil
	}

	var busy []models.BusyInterval
	for _, period := range cal.Busy {
		intervalStart, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			continue
		}
		intervalEnd, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			continue
		}
		busy = append(busy, models.BusyInterval{Start: intervalStart.UTC(), End: intervalEnd.UTC()})
	}
	return busy, nil
}

// recurrenceToRRULE maps the coarse recurrence vocabulary to the RRULE
// grammar the Calendar API accepts. "none" and empty yield no rule.
func recurrenceToRRULE(rule models.RecurrenceRule) []string {
	switch rule {
	case models.RecurrenceDaily:
		return []string{"RRULE:FREQ=DAILY"}
	case models.RecurrenceWeekly:
		return []string{"RRULE:FREQ=WEEKLY"}
	case models.RecurrenceBiweekly:
		return []string{"RRULE:FREQ=WEEKLY;INTERVAL=2"}
	case models.RecurrenceMonthly:
		return []string{"RRULE:FREQ=MONTHLY"}
	default:
		return nil
	}
}

// CreateEvent materializes an event on the credential owner's calendar.
func (g *GoogleProvider) CreateEvent(ctx context.Context, cred *models.Credential, req EventRequest) (*EventResult, error) {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	event := &calendar.Event{
		Summary:     req.Title,
		Description: req.Description,
		Start:       &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339)},
		Recurrence:  recurrenceToRRULE(req.Recurrence),
	}
	for _, email := range req.AttendeeEmails {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	call := svc.Events.Insert(g.calendarID, event).Context(ctx).SendUpdates("all")
	if req.WantsConferencing {
		event.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId: uuid.New().String(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{
					Type: "hangoutsMeet",
				},
			},
		}
		call = call.ConferenceDataVersion(1)
	}

	created, err := call.Do()
	if err != nil {
		return nil, &calerrors.ErrProviderQuery{UserID: cred.UserID, Operation: "event_insert", Err: err}
	}

	return &EventResult{
		EventID:  created.Id,
		Etag:     created.Etag,
		MeetLink: created.HangoutLink,
		HTMLLink: created.HtmlLink,
	}, nil
}

// UpdateEvent applies a partial update via the patch endpoint.
func (g *GoogleProvider) UpdateEvent(ctx context.Context, cred *models.Credential, providerEventID string, patch EventPatch) (*EventResult, error) {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	event := &calendar.Event{}
	if patch.Title != nil {
		event.Summary = *patch.Title
	}
	if patch.Description != nil {
		event.Description = *patch.Description
	}
	if patch.Start != nil {
		event.Start = &calendar.EventDateTime{DateTime: patch.Start.Format(time.RFC3339)}
	}
	if patch.End != nil {
		event.End = &calendar.EventDateTime{DateTime: patch.End.Format(time.RFC3339)}
	}
	for _, email := range patch.AttendeeEmails {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	updated, err := svc.Events.Patch(g.calendarID, providerEventID, event).
		Context(ctx).SendUpdates("all").Do()
	if err != nil {
		return nil, &calerrors.ErrProviderQuery{UserID: cred.UserID, Operation: "event_patch", Err: err}
	}

	return &EventResult{
		EventID:  updated.Id,
		Etag:     updated.Etag,
		MeetLink: updated.HangoutLink,
		HTMLLink: updated.HtmlLink,
	}, nil
}

// DeleteEvent removes an event. 404/410 responses mean the event is
// already gone, which callers treat as success.
func (g *GoogleProvider) DeleteEvent(ctx context.Context, cred *models.Credential, providerEventID string) error {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return err
	}

	err = svc.Events.Delete(g.calendarID, providerEventID).Context(ctx).SendUpdates("all").Do()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && (apiErr.Code == 404 || apiErr.Code == 410) {
			return nil
		}
		return &calerrors.ErrProviderQuery{UserID: cred.UserID, Operation: "event_delete", Err: err}
	}
	return nil
}

// AuthCodeURL returns the consent URL that starts the authorization flow.
func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode swaps an authorization code for tokens and resolves the
// account email from the primary calendar.
func (g *GoogleProvider) ExchangeCode(ctx context.Context, code string) (*ConnectResult, error) {
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	result := &ConnectResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		result.ExpiresAt = &expiry
	}

	// The primary calendar's ID is the account email.
	svc, err := g.service(ctx, &models.Credential{AccessToken: token.AccessToken})
	if err != nil {
		return nil, err
	}
	info, err := svc.CalendarList.Get("primary").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account email: %w", err)
	}
	result.AccountEmail = info.Id

	return result, nil
}
