package api

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

var (
	apiNow = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	// A Tuesday after apiNow, used as the requested scheduling day.
	apiDay = "2025-12-09"
)

type apiFixture struct {
	server   *Server
	store    *store.MemoryStore
	provider *mocks.FakeCalendarProvider
}

func newAPIFixture(t *testing.T, apiCfg config.APIConfig) *apiFixture {
	t.Helper()

	s := store.NewMemoryStore()
	p := mocks.NewFakeCalendarProvider()
	clock := func() time.Time { return apiNow }

	tokens := token.NewManager(s, p, token.WithClock(clock))
	aggregator := freebusy.NewAggregator(s, p)
	materializer := events.NewMaterializer(s, p, tokens, &store.CredentialDirectory{Store: s, Provider: p.ID()})
	eng := engine.New(tokens, aggregator, materializer, config.SchedulerConfig{}, engine.WithClock(clock))
	m := metrics.NewMetrics("test")

	server := NewServer(config.ServerConfig{HTTPPort: 8421}, apiCfg, s, eng, tokens, p, m, 0)
	return &apiFixture{server: server, store: s, provider: p}
}

func (f *apiFixture) connect(t *testing.T, userID string) {
	t.Helper()
	expiry := apiNow.Add(time.Hour)
	require.NoError(t, f.store.UpsertCredential(&models.Credential{
		UserID:       userID,
		Provider:     models.ProviderGoogle,
		AccessToken:  "access-" + userID,
		RefreshToken: "rt-" + userID,
		ExpiresAt:    &expiry,
		Status:       models.CredentialActive,
		AccountEmail: userID + "@example.com",
	}))
}

func (f *apiFixture) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, values := range header {
		for _, v := range values {
			req.Header.Set(k, v)
		}
	}
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	f.connect(t, "alice")

	w := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, float64(1), resp["credentials"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	w := f.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSuggestValidationErrors(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	f.connect(t, "alice")

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing participants", fmt.Sprintf(`{"start_date":%q,"end_date":%q}`, apiDay, apiDay)},
		{"bad date format", `{"participant_ids":["alice"],"start_date":"12/09/2025","end_date":"12/10/2025"}`},
		{"duration out of range", fmt.Sprintf(`{"participant_ids":["alice"],"start_date":%q,"end_date":%q,"duration_minutes":5}`, apiDay, apiDay)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/meetings/suggest", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSuggestNoUsableCalendars(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	body := fmt.Sprintf(`{"participant_ids":["alice","bob"],"start_date":%q,"end_date":%q}`, apiDay, apiDay)
	w := f.do(http.MethodPost, "/meetings/suggest", body, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "usable calendar")
}

func TestSuggestHappyPath(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	f.connect(t, "alice")
	f.connect(t, "bob")
	f.provider.BusyByUser["alice"] = []models.BusyInterval{
		{
			Start: time.Date(2025, 12, 9, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 12, 9, 11, 0, 0, 0, time.UTC),
		},
	}

	body := fmt.Sprintf(`{"participant_ids":["alice","bob"],"start_date":%q,"end_date":%q}`, apiDay, apiDay)
	w := f.do(http.MethodPost, "/meetings/suggest", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SuggestionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalParticipants)
	assert.Equal(t, 2, resp.ParticipantsWithCalendar)
	require.NotEmpty(t, resp.Suggestions)
	assert.Equal(t, 100, resp.Suggestions[0].Score)
}

func TestSuggestWeekendOnlyRangeIs422(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	f.connect(t, "alice")

	body := `{"participant_ids":["alice"],"start_date":"2025-12-13","end_date":"2025-12-14"}`
	w := f.do(http.MethodPost, "/meetings/suggest", body, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "no candidate slots")
}

func TestBookMeeting(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	f.connect(t, "alice")

	body := `{
		"organizer_id": "alice",
		"title": "Sprint planning",
		"start": "2025-12-09T10:00:00Z",
		"end": "2025-12-09T11:00:00Z",
		"wants_conferencing": true
	}`
	w := f.do(http.MethodPost, "/meetings/book", body, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var result models.BookingResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.EventID)
	assert.NotEmpty(t, result.MeetLink)
}

func TestBookMeetingWithoutIntegration(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	body := `{
		"organizer_id": "alice",
		"title": "Sprint planning",
		"start": "2025-12-09T10:00:00Z",
		"end": "2025-12-09T11:00:00Z"
	}`
	w := f.do(http.MethodPost, "/meetings/book", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSyncAndUnsyncEvent(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	f.connect(t, "alice")

	body := `{
		"organizer_id": "alice",
		"title": "Design review",
		"start": "2025-12-09T14:00:00Z",
		"end": "2025-12-09T15:00:00Z"
	}`
	w := f.do(http.MethodPost, "/events/local-1/sync", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var mapping models.EventMapping
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mapping))
	assert.Equal(t, "local-1", mapping.LocalEventID)
	assert.NotEmpty(t, mapping.ProviderEventID)

	// Re-sync updates in place.
	w = f.do(http.MethodPost, "/events/local-1/sync", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.store.ListMappings(models.ProviderGoogle), 1)

	w = f.do(http.MethodDelete, "/events/local-1/sync?user_id=alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.store.ListMappings(models.ProviderGoogle))
}

func TestUnsyncRequiresUserID(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	w := f.do(http.MethodDelete, "/events/local-1/sync", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnsyncNeverSyncedEvent(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	w := f.do(http.MethodDelete, "/events/never-synced/sync?user_id=alice", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIntegrationEndpoints(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	f.connect(t, "alice")

	w := f.do(http.MethodGet, "/integrations", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []IntegrationStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].UserID)
	assert.Equal(t, "ACTIVE", list[0].Status)

	w = f.do(http.MethodGet, "/integrations/alice", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/integrations/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/integrations/alice", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// The credential is kept as REVOKED for auditability.
	cred, ok := f.store.GetCredential("alice", models.ProviderGoogle)
	require.True(t, ok)
	assert.Equal(t, models.CredentialRevoked, cred.Status)

	w = f.do(http.MethodDelete, "/integrations/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIKeyAuthentication(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{
		Auth: config.AuthConfig{
			Enabled: true,
			APIKeys: []string{"secret-key"},
		},
	})
	f.connect(t, "alice")

	body := fmt.Sprintf(`{"participant_ids":["alice"],"start_date":%q,"end_date":%q}`, apiDay, apiDay)

	w := f.do(http.MethodPost, "/meetings/suggest", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/meetings/suggest", body, http.Header{"X-API-Key": []string{"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/meetings/suggest", body, http.Header{"X-API-Key": []string{"secret-key"}})
	assert.Equal(t, http.StatusOK, w.Code)

	// Health and metrics stay open.
	w = f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOAuthConnectFlow(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	w := f.do(http.MethodGet, "/integrations/google/connect?user_id=alice", "", nil)
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	// Complete the flow with the state the consent screen carried.
	callback := "/integrations/google/callback?code=authcode&state=" + url.QueryEscape(state)
	w = f.do(http.MethodGet, callback, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "connected", resp["status"])
	assert.Equal(t, "alice", resp["user_id"])

	cred, ok := f.store.GetActiveCredential("alice", models.ProviderGoogle)
	require.True(t, ok)
	assert.Equal(t, "access-authcode", cred.AccessToken)
	assert.Equal(t, "refresh-authcode", cred.RefreshToken)
}

func TestOAuthConnectRequiresUserID(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	w := f.do(http.MethodGet, "/integrations/google/connect", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuthCallbackRejectsTamperedState(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	w := f.do(http.MethodGet, "/integrations/google/callback?code=authcode&state=forged.state", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuthCallbackConsentDenied(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	w := f.do(http.MethodGet, "/integrations/google/callback?error=access_denied", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStateSignerRoundTrip(t *testing.T) {
	var s stateSigner

	state := s.sign("alice")
	userID, ok := s.verify(state)
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)

	_, ok = s.verify(state + "x")
	assert.False(t, ok)
	_, ok = s.verify("no-dot")
	assert.False(t, ok)
}
