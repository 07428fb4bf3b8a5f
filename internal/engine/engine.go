// Package engine orchestrates the scheduling pipeline: refresh
// credentials for every participant, aggregate their busy intervals,
// generate and rank candidate slots, and book the chosen one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calsched/calsched/internal/config"
	calerrors "github.com/calsched/calsched/internal/errors"
	"github.com/calsched/calsched/internal/events"
	"github.com/calsched/calsched/internal/freebusy"
	"github.com/calsched/calsched/internal/logging"
	"github.com/calsched/calsched/internal/metrics"
	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/slots"
	"github.com/calsched/calsched/internal/token"
)

// ErrBookingFailed indicates the organizer's provider event could not be
// created, usually because the organizer has no usable integration.
var ErrBookingFailed = errors.New("meeting could not be booked on the organizer's calendar")

// SuggestRequest is the input to SuggestMeetingTimes.
type SuggestRequest struct {
	ParticipantIDs  []string
	StartDate       time.Time
	EndDate         time.Time
	DurationMinutes int
	MaxSuggestions  int
}

// BookRequest is the input to BookMeeting.
type BookRequest struct {
	OrganizerID       string
	AttendeeIDs       []string
	Start             time.Time
	End               time.Time
	Title             string
	Description       string
	WantsConferencing bool
	Recurrence        models.RecurrenceRule
}

// Engine ties the pipeline phases together. Phases run strictly in order
// (refresh, aggregate, score) while each phase fans out across
// participants internally.
type Engine struct {
	tokens       *token.Manager
	aggregator   *freebusy.Aggregator
	materializer *events.Materializer
	cfg          config.SchedulerConfig
	metrics      *metrics.Metrics
	logger       *logging.Logger
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches metrics recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a scheduling engine.
func New(tokens *token.Manager, aggregator *freebusy.Aggregator, materializer *events.Materializer, cfg config.SchedulerConfig, opts ...Option) *Engine {
	e := &Engine{
		tokens:       tokens,
		aggregator:   aggregator,
		materializer: materializer,
		cfg:          cfg,
		logger:       logging.NewLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SuggestMeetingTimes runs the full pipeline for one scheduling request.
//
// Per-participant failures (missing credential, refresh failure,
// unreachable calendar) degrade the result instead of aborting it; only
// two total-failure conditions escalate as client errors: no participant
// has a usable calendar, or no candidate slot exists at all.
func (e *Engine) SuggestMeetingTimes(ctx context.Context, req SuggestRequest) (*models.SuggestionResponse, error) {
	if err := e.validateSuggest(req); err != nil {
		return nil, err
	}

	loc := e.location()
	windowStart := startOfDay(req.StartDate, loc)
	windowEnd := startOfDay(req.EndDate, loc).AddDate(0, 0, 1)

	refreshed := e.tokens.RefreshMany(ctx, req.ParticipantIDs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	withCalendar := 0
	for _, ok := range refreshed {
		if ok {
			withCalendar++
		}
	}
	if withCalendar == 0 {
		return nil, &calerrors.ErrNoUsableCalendars{Total: len(req.ParticipantIDs)}
	}

	busy := e.aggregator.Aggregate(ctx, req.ParticipantIDs, refreshed, windowStart, windowEnd)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = e.cfg.DefaultDuration
	}
	maxSuggestions := req.MaxSuggestions
	if maxSuggestions == 0 {
		maxSuggestions = e.cfg.MaxSuggestions
	}
	suggestions := slots.Generate(busy, req.ParticipantIDs, req.StartDate, req.EndDate, slots.Options{
		DurationMinutes:    duration,
		WorkingHoursStart:  e.cfg.WorkingHoursStart,
		WorkingHoursEnd:    e.cfg.WorkingHoursEnd,
		GranularityMinutes: e.cfg.GranularityMinutes,
		MaxSuggestions:     maxSuggestions,
		MinScore:           e.cfg.MinScore,
		Location:           loc,
		Now:                e.now(),
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordSlotsGenerated(len(suggestions))
	}
	if len(suggestions) == 0 {
		return nil, &calerrors.ErrNoCandidateSlots{
			Reason: "no schedulable slot in the requested range",
		}
	}

	resp := &models.SuggestionResponse{
		Suggestions:             suggestions,
		TotalParticipants:       len(req.ParticipantIDs),
		ParticipantsWithCalendar: withCalendar,
		CheckedRange: models.DateRange{
			Start: windowStart,
			End:   windowEnd,
		},
		Recommendations: e.recommendations(req.ParticipantIDs, refreshed, busy, suggestions),
	}

	e.logger.InfoWithContext(ctx, "meeting suggestions generated",
		"participants", len(req.ParticipantIDs),
		"with_calendar", withCalendar,
		"suggestions", len(suggestions),
		"top_score", suggestions[0].Score)
	return resp, nil
}

// BookMeeting materializes the chosen slot on the organizer's calendar.
func (e *Engine) BookMeeting(ctx context.Context, req BookRequest) (*models.BookingResult, error) {
	if err := e.validateBook(req); err != nil {
		return nil, err
	}

	result := e.materializer.Create(ctx, req.OrganizerID, events.CreateInput{
		Title:             req.Title,
		Description:       req.Description,
		Start:             req.Start,
		End:               req.End,
		AttendeeIDs:       req.AttendeeIDs,
		WantsConferencing: req.WantsConferencing,
		Recurrence:        req.Recurrence,
	})
	if result == nil {
		return nil, ErrBookingFailed
	}

	e.logger.InfoWithContext(ctx, "meeting booked",
		"organizer_id", req.OrganizerID,
		"event_id", result.EventID,
		"attendees", len(req.AttendeeIDs))
	return &models.BookingResult{
		EventID:  result.EventID,
		MeetLink: result.MeetLink,
		HTMLLink: result.HTMLLink,
	}, nil
}

// Disconnect revokes the user's integration. Returns false when the user
// had no credential to revoke.
func (e *Engine) Disconnect(ctx context.Context, userID string) bool {
	return e.tokens.Disconnect(ctx, userID)
}

// SyncLocalEvent creates or updates the provider-side counterpart of a
// local event.
func (e *Engine) SyncLocalEvent(ctx context.Context, event models.LocalEvent) (*models.EventMapping, bool) {
	return e.materializer.SyncLocalEvent(ctx, event)
}

// UnsyncLocalEvent removes the provider-side counterpart of a local
// event. A never-synced event is a no-op.
func (e *Engine) UnsyncLocalEvent(ctx context.Context, userID, localEventID string) bool {
	return e.materializer.UnsyncLocalEvent(ctx, userID, localEventID)
}

func (e *Engine) validateSuggest(req SuggestRequest) error {
	if len(req.ParticipantIDs) == 0 {
		return &calerrors.ErrSlotValidation{Field: "participant_ids", Err: errors.New("at least one participant is required")}
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return &calerrors.ErrSlotValidation{Field: "date_range", Err: errors.New("start and end dates are required")}
	}
	if req.EndDate.Before(req.StartDate) {
		return &calerrors.ErrSlotValidation{Field: "date_range", Err: errors.New("end date is before start date")}
	}
	if req.DurationMinutes != 0 && (req.DurationMinutes < slots.MinDurationMinutes || req.DurationMinutes > slots.MaxDurationMinutes) {
		return &calerrors.ErrSlotValidation{
			Field: "duration_minutes",
			Err:   fmt.Errorf("must be between %d and %d", slots.MinDurationMinutes, slots.MaxDurationMinutes),
		}
	}
	if req.MaxSuggestions != 0 && (req.MaxSuggestions < slots.MinMaxSuggestions || req.MaxSuggestions > slots.MaxMaxSuggestions) {
		return &calerrors.ErrSlotValidation{
			Field: "max_suggestions",
			Err:   fmt.Errorf("must be between %d and %d", slots.MinMaxSuggestions, slots.MaxMaxSuggestions),
		}
	}
	return nil
}

func (e *Engine) validateBook(req BookRequest) error {
	if req.OrganizerID == "" {
		return &calerrors.ErrSlotValidation{Field: "organizer_id", Err: errors.New("organizer is required")}
	}
	if req.Title == "" {
		return &calerrors.ErrSlotValidation{Field: "title", Err: errors.New("title is required")}
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.End.After(req.Start) {
		return &calerrors.ErrSlotValidation{Field: "slot", Err: errors.New("slot end must be after slot start")}
	}
	if err := req.Recurrence.Validate(); err != nil {
		return &calerrors.ErrSlotValidation{Field: "recurrence", Err: err}
	}
	return nil
}

// recommendations summarizes degraded conditions so partial results are
// explainable to the caller.
func (e *Engine) recommendations(participantIDs []string, refreshed map[string]bool, busy map[string]models.UserBusy, suggestions []models.TimeSlot) []string {
	recs := make([]string, 0, 3)

	noCalendar := 0
	unreachable := 0
	for _, id := range participantIDs {
		if refreshed[id] {
			continue
		}
		if ub, ok := busy[id]; ok && ub.Available {
			noCalendar++
		} else {
			unreachable++
		}
	}
	if noCalendar > 0 {
		recs = append(recs, fmt.Sprintf("%d participant(s) have no connected calendar and were assumed free", noCalendar))
	}
	if unreachable > 0 {
		recs = append(recs, fmt.Sprintf("%d participant(s) calendar could not be checked and were excluded from scoring", unreachable))
	}
	if len(suggestions) > 0 && suggestions[0].Score < 100 {
		recs = append(recs, "no slot fits every participant; consider widening the date range")
	}
	return recs
}

func (e *Engine) location() *time.Location {
	if e.cfg.Timezone != "" {
		if loc, err := time.LoadLocation(e.cfg.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	tt := t.In(loc)
	return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, loc)
}
