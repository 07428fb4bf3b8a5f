package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calsched/calsched/internal/config"
	calerrors "github.com/calsched/calsched/internal/errors"
	"github.com/calsched/calsched/internal/events"
	"github.com/calsched/calsched/internal/freebusy"
	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/store"
	"github.com/calsched/calsched/internal/token"
	"github.com/calsched/calsched/test/mocks"
)

var (
	engineNow = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	// A Tuesday well after engineNow.
	requestDay = time.Date(2025, 12, 9, 0, 0, 0, 0, time.UTC)
)

type engineFixture struct {
	store    *store.MemoryStore
	provider *mocks.FakeCalendarProvider
	engine   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	s := store.NewMemoryStore()
	p := mocks.NewFakeCalendarProvider()
	clock := func() time.Time { return engineNow }
	tokens := token.NewManager(s, p, token.WithClock(clock))
	aggregator := freebusy.NewAggregator(s, p)
	materializer := events.NewMaterializer(s, p, tokens, nil)
	eng := New(tokens, aggregator, materializer, config.SchedulerConfig{}, WithClock(clock))
	return &engineFixture{store: s, provider: p, engine: eng}
}

func (f *engineFixture) connect(t *testing.T, userID string) {
	t.Helper()
	expiry := engineNow.Add(time.Hour)
	require.NoError(t, f.store.UpsertCredential(&models.Credential{
		UserID:       userID,
		Provider:     models.ProviderGoogle,
		AccessToken:  "access-" + userID,
		RefreshToken: "rt-" + userID,
		ExpiresAt:    &expiry,
		Status:       models.CredentialActive,
	}))
}

func suggestRequest(participants ...string) SuggestRequest {
	return SuggestRequest{
		ParticipantIDs: participants,
		StartDate:      requestDay,
		EndDate:        requestDay,
	}
}

func TestSuggestValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   SuggestRequest
		field string
	}{
		{"no participants", SuggestRequest{StartDate: requestDay, EndDate: requestDay}, "participant_ids"},
		{"missing dates", SuggestRequest{ParticipantIDs: []string{"alice"}}, "date_range"},
		{
			"end before start",
			SuggestRequest{ParticipantIDs: []string{"alice"}, StartDate: requestDay, EndDate: requestDay.AddDate(0, 0, -1)},
			"date_range",
		},
		{
			"duration too short",
			SuggestRequest{ParticipantIDs: []string{"alice"}, StartDate: requestDay, EndDate: requestDay, DurationMinutes: 5},
			"duration_minutes",
		},
		{
			"duration too long",
			SuggestRequest{ParticipantIDs: []string{"alice"}, StartDate: requestDay, EndDate: requestDay, DurationMinutes: 481},
			"duration_minutes",
		},
		{
			"too many suggestions",
			SuggestRequest{ParticipantIDs: []string{"alice"}, StartDate: requestDay, EndDate: requestDay, MaxSuggestions: 11},
			"max_suggestions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.SuggestMeetingTimes(ctx, tt.req)
			var verr *calerrors.ErrSlotValidation
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSuggestNoUsableCalendars(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.SuggestMeetingTimes(context.Background(), suggestRequest("alice", "bob"))

	var nerr *calerrors.ErrNoUsableCalendars
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, 2, nerr.Total)
}

func TestSuggestHappyPath(t *testing.T) {
	f := newEngineFixture(t)
	f.connect(t, "alice")
	f.connect(t, "bob")
	f.provider.BusyByUser["alice"] = []models.BusyInterval{
		{Start: requestDay.Add(10 * time.Hour), End: requestDay.Add(11 * time.Hour)},
	}

	resp, err := f.engine.SuggestMeetingTimes(context.Background(), suggestRequest("alice", "bob"))
	require.NoError(t, err)

	assert.Equal(t, 2, resp.TotalParticipants)
	assert.Equal(t, 2, resp.ParticipantsWithCalendar)
	require.NotEmpty(t, resp.Suggestions)
	assert.Equal(t, 100, resp.Suggestions[0].Score)
	assert.Empty(t, resp.Recommendations)
	assert.Equal(t, requestDay, resp.CheckedRange.Start)
	assert.Equal(t, requestDay.AddDate(0, 0, 1), resp.CheckedRange.End)
}

func TestSuggestUsesConfiguredDefaults(t *testing.T) {
	s := store.NewMemoryStore()
	p := mocks.NewFakeCalendarProvider()
	clock := func() time.Time { return engineNow }
	tokens := token.NewManager(s, p, token.WithClock(clock))
	aggregator := freebusy.NewAggregator(s, p)
	materializer := events.NewMaterializer(s, p, tokens, nil)
	eng := New(tokens, aggregator, materializer, config.SchedulerConfig{
		DefaultDuration: 30,
		MaxSuggestions:  2,
	}, WithClock(clock))
	f := &engineFixture{store: s, provider: p, engine: eng}
	f.connect(t, "alice")

	resp, err := eng.SuggestMeetingTimes(context.Background(), suggestRequest("alice"))
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 2)
	for _, slot := range resp.Suggestions {
		assert.Equal(t, 30*time.Minute, slot.End.Sub(slot.Start))
	}

	// Explicit request values still win over the configured defaults.
	req := suggestRequest("alice")
	req.DurationMinutes = 60
	req.MaxSuggestions = 3
	resp, err = eng.SuggestMeetingTimes(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 3)
	assert.Equal(t, time.Hour, resp.Suggestions[0].End.Sub(resp.Suggestions[0].Start))
}

func TestSuggestAssumesDisconnectedParticipantsFree(t *testing.T) {
	f := newEngineFixture(t)
	f.connect(t, "alice")

	resp, err := f.engine.SuggestMeetingTimes(context.Background(), suggestRequest("alice", "bob"))
	require.NoError(t, err)

	assert.Equal(t, 2, resp.TotalParticipants)
	assert.Equal(t, 1, resp.ParticipantsWithCalendar)
	require.NotEmpty(t, resp.Suggestions)
	// Bob is assumed free and still appears in the slot partitions.
	assert.Contains(t, resp.Suggestions[0].AvailableUsers, "bob")
	require.Len(t, resp.Recommendations, 1)
	assert.Contains(t, resp.Recommendations[0], "no connected calendar")
}

func TestSuggestReportsUnreachableParticipants(t *testing.T) {
	f := newEngineFixture(t)
	f.connect(t, "alice")
	f.connect(t, "carol")
	_, err := f.store.SetCredentialStatus("carol", models.ProviderGoogle, models.CredentialExpired)
	require.NoError(t, err)

	resp, err := f.engine.SuggestMeetingTimes(context.Background(), suggestRequest("alice", "carol"))
	require.NoError(t, err)

	assert.Equal(t, 1, resp.ParticipantsWithCalendar)
	require.NotEmpty(t, resp.Suggestions)
	// Carol is excluded from scoring entirely.
	assert.NotContains(t, resp.Suggestions[0].AvailableUsers, "carol")
	assert.NotContains(t, resp.Suggestions[0].UnavailableUsers, "carol")
	require.Len(t, resp.Recommendations, 1)
	assert.Contains(t, resp.Recommendations[0], "could not be checked")
}

func TestSuggestNoCandidateSlots(t *testing.T) {
	f := newEngineFixture(t)
	f.connect(t, "alice")

	// Saturday and Sunday only.
	req := SuggestRequest{
		ParticipantIDs: []string{"alice"},
		StartDate:      time.Date(2025, 12, 13, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2025, 12, 14, 0, 0, 0, 0, time.UTC),
	}
	_, err := f.engine.SuggestMeetingTimes(context.Background(), req)

	var nerr *calerrors.ErrNoCandidateSlots
	require.ErrorAs(t, err, &nerr)
}

func TestSuggestImperfectScoreRecommendation(t *testing.T) {
	f := newEngineFixture(t)
	f.connect(t, "alice")
	f.connect(t, "bob")
	// Alice is blocked for the whole working day, so no slot scores 100.
	f.provider.BusyByUser["alice"] = []models.BusyInterval{
		{Start: requestDay.Add(9 * time.Hour), End: requestDay.Add(18 * time.Hour)},
	}

	resp, err := f.engine.SuggestMeetingTimes(context.Background(), suggestRequest("alice", "bob"))
	require.NoError(t, err)

	require.NotEmpty(t, resp.Suggestions)
	assert.Less(t, resp.Suggestions[0].Score, 100)
	require.Len(t, resp.Recommendations, 1)
	assert.Contains(t, resp.Recommendations[0], "widening the date range")
}

func TestSuggestCancelledContext(t *testing.T) {
	f := newEngineFixture(t)
	f.connect(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.SuggestMeetingTimes(ctx, suggestRequest("alice"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBookMeeting(t *testing.T) {
	f := newEngineFixture(t)
	f.connect(t, "alice")

	result, err := f.engine.BookMeeting(context.Background(), BookRequest{
		OrganizerID:       "alice",
		Title:             "Sprint planning",
		Start:             requestDay.Add(10 * time.Hour),
		End:               requestDay.Add(11 * time.Hour),
		WantsConferencing: true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.EventID)
	assert.NotEmpty(t, result.MeetLink)
	_, _, create, _, _ := f.provider.Counts()
	assert.Equal(t, 1, create)
}

func TestBookMeetingValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.BookMeeting(ctx, BookRequest{Title: "x", Start: engineNow, End: engineNow.Add(time.Hour)})
	var verr *calerrors.ErrSlotValidation
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "organizer_id", verr.Field)

	_, err = f.engine.BookMeeting(ctx, BookRequest{OrganizerID: "alice", Start: engineNow, End: engineNow.Add(time.Hour)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	_, err = f.engine.BookMeeting(ctx, BookRequest{OrganizerID: "alice", Title: "x", Start: engineNow, End: engineNow})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "slot", verr.Field)

	_, err = f.engine.BookMeeting(ctx, BookRequest{
		OrganizerID: "alice", Title: "x",
		Start: engineNow, End: engineNow.Add(time.Hour),
		Recurrence: "yearly",
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "recurrence", verr.Field)
}

func TestBookMeetingWithoutIntegration(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.BookMeeting(context.Background(), BookRequest{
		OrganizerID: "alice",
		Title:       "Sprint planning",
		Start:       requestDay.Add(10 * time.Hour),
		End:         requestDay.Add(11 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrBookingFailed)
}

func TestDisconnect(t *testing.T) {
	f := newEngineFixture(t)
	f.connect(t, "alice")

	assert.True(t, f.engine.Disconnect(context.Background(), "alice"))
	assert.False(t, f.engine.Disconnect(context.Background(), "ghost"))

	// A revoked integration no longer counts toward usable calendars.
	_, err := f.engine.SuggestMeetingTimes(context.Background(), suggestRequest("alice"))
	var nerr *calerrors.ErrNoUsableCalendars
	assert.ErrorAs(t, err, &nerr)
}
