// Package integration exercises the full scheduling flow end to end over
// HTTP: consent, suggestion, booking, event sync, and disconnect.
package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calsched/calsched/internal/api"
	"github.com/calsched/calsched/internal/config"
	"github.com/calsched/calsched/internal/engine"
	"github.com/calsched/calsched/internal/events"
	"github.com/calsched/calsched/internal/freebusy"
	"github.com/calsched/calsched/internal/metrics"
	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/store"
	"github.com/calsched/calsched/internal/token"
	"github.com/calsched/calsched/test/mocks"
)

var clockNow = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)

type env struct {
	server   *api.Server
	store    *store.MemoryStore
	provider *mocks.FakeCalendarProvider
}

func newEnv(t *testing.T) *env {
	t.Helper()

	s := store.NewMemoryStore()
	p := mocks.NewFakeCalendarProvider()
	clock := func() time.Time { return clockNow }

	tokens := token.NewManager(s, p, token.WithClock(clock))
	aggregator := freebusy.NewAggregator(s, p)
	materializer := events.NewMaterializer(s, p, tokens, &store.CredentialDirectory{Store: s, Provider: p.ID()})
	eng := engine.New(tokens, aggregator, materializer, config.SchedulerConfig{}, engine.WithClock(clock))

	server := api.NewServer(
		config.ServerConfig{HTTPPort: 8421},
		config.APIConfig{},
		s, eng, tokens, p,
		metrics.NewMetrics("integration"),
		0,
	)
	return &env{server: server, store: s, provider: p}
}

func (e *env) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

// connectViaOAuth runs the consent flow over HTTP for one user.
func (e *env) connectViaOAuth(t *testing.T, userID string) {
	t.Helper()

	w := e.request(t, http.MethodGet, "/integrations/google/connect?user_id="+userID, "")
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	w = e.request(t, http.MethodGet,
		"/integrations/google/callback?code="+userID+"-code&state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestFullSchedulingFlow(t *testing.T) {
	e := newEnv(t)

	// Two users grant calendar access.
	e.connectViaOAuth(t, "alice")
	e.connectViaOAuth(t, "bob")

	w := e.request(t, http.MethodGet, "/integrations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var integrations []api.IntegrationStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &integrations))
	assert.Len(t, integrations, 2)

	// Alice has a conflict on the requested Tuesday morning.
	e.provider.BusyByUser["alice"] = []models.BusyInterval{
		{
			Start: time.Date(2025, 12, 9, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 12, 9, 12, 0, 0, 0, time.UTC),
		},
	}

	// Ask for meeting suggestions.
	w = e.request(t, http.MethodPost, "/meetings/suggest",
		`{"participant_ids":["alice","bob"],"start_date":"2025-12-09","end_date":"2025-12-09"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var suggestion models.SuggestionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &suggestion))
	assert.Equal(t, 2, suggestion.TotalParticipants)
	assert.Equal(t, 2, suggestion.ParticipantsWithCalendar)
	require.NotEmpty(t, suggestion.Suggestions)

	top := suggestion.Suggestions[0]
	assert.Equal(t, 100, top.Score)
	assert.False(t, top.Start.Before(time.Date(2025, 12, 9, 12, 0, 0, 0, time.UTC)),
		"the best slot avoids alice's morning conflict")

	// Book the top suggestion.
	bookBody := fmt.Sprintf(`{
		"organizer_id": "alice",
		"attendee_ids": ["bob"],
		"title": "Sprint planning",
		"start": %q,
		"end": %q,
		"wants_conferencing": true
	}`, top.Start.Format(time.RFC3339), top.End.Format(time.RFC3339))

	w = e.request(t, http.MethodPost, "/meetings/book", bookBody)
	require.Equal(t, http.StatusCreated, w.Code)

	var booking models.BookingResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &booking))
	assert.NotEmpty(t, booking.EventID)
	assert.NotEmpty(t, booking.MeetLink)

	// The provider event carries bob's resolved email.
	created, ok := e.provider.Events[booking.EventID]
	require.True(t, ok)
	assert.Contains(t, created.AttendeeEmails, "bob-code@example.com")

	// Disconnect alice; she no longer counts as a usable calendar.
	w = e.request(t, http.MethodDelete, "/integrations/alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = e.request(t, http.MethodPost, "/meetings/suggest",
		`{"participant_ids":["alice"],"start_date":"2025-12-09","end_date":"2025-12-09"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestEventSyncLifecycle(t *testing.T) {
	e := newEnv(t)
	e.connectViaOAuth(t, "alice")

	syncBody := `{
		"organizer_id": "alice",
		"title": "Design review",
		"start": "2025-12-09T14:00:00Z",
		"end": "2025-12-09T15:00:00Z",
		"attendee_emails": ["guest@example.com"]
	}`

	// First sync creates the provider event.
	w := e.request(t, http.MethodPost, "/events/task-42/sync", syncBody)
	require.Equal(t, http.StatusOK, w.Code)

	var mapping models.EventMapping
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mapping))
	providerEventID := mapping.ProviderEventID
	require.NotEmpty(t, providerEventID)

	// A retitled second sync updates the same provider event.
	w = e.request(t, http.MethodPost, "/events/task-42/sync",
		strings.Replace(syncBody, "Design review", "Design review (rescheduled)", 1))
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mapping))
	assert.Equal(t, providerEventID, mapping.ProviderEventID)

	event := e.provider.Events[providerEventID]
	assert.Equal(t, "Design review (rescheduled)", event.Title)
	_, _, create, update, _ := e.provider.Counts()
	assert.Equal(t, 1, create)
	assert.Equal(t, 1, update)

	// Unsync removes both the provider event and the mapping.
	w = e.request(t, http.MethodDelete, "/events/task-42/sync?user_id=alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, e.provider.Events, providerEventID)
	assert.Empty(t, e.store.ListMappings(models.ProviderGoogle))
}
