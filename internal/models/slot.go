package models

import "time"

// ScoreLabel is an informational tier attached to a slot score. It is
// never used for ordering.
type ScoreLabel string

const (
	ScoreExcellent ScoreLabel = "Excellent"
	ScoreGood      ScoreLabel = "Good"
	ScoreFair      ScoreLabel = "Fair"
	ScorePoor      ScoreLabel = "Poor"
)

// LabelForScore maps a 0-100 score to its tier.
func LabelForScore(score int) ScoreLabel {
	switch {
	case score >= 90:
		return ScoreExcellent
	case score >= 70:
		return ScoreGood
	case score >= 50:
		return ScoreFair
	default:
		return ScorePoor
	}
}

// TimeSlot is a generated candidate meeting slot. Immutable once returned;
// the caller re-submits the chosen slot to book it.
type TimeSlot struct {
	Start            time.Time  `json:"start"`
	End              time.Time  `json:"end"`
	AvailableUsers   []string   `json:"available_users"`
	UnavailableUsers []string   `json:"unavailable_users"`
	Score            int        `json:"score"`
	Label            ScoreLabel `json:"label"`
}

// SuggestionResponse is the engine's answer to a suggest-meeting-times
// request. Degraded results are explainable through the participant counts
// and recommendations, never silent.
type SuggestionResponse struct {
	Suggestions              []TimeSlot `json:"suggestions"`
	TotalParticipants        int        `json:"total_participants"`
	ParticipantsWithCalendar int        `json:"participants_with_calendar"`
	CheckedRange             DateRange  `json:"checked_range"`
	Recommendations          []string   `json:"recommendations,omitempty"`
}

// DateRange is the inclusive date window a suggestion request covered.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BookingResult is returned after a meeting has been materialized at the
// provider.
type BookingResult struct {
	EventID  string `json:"event_id"`
	MeetLink string `json:"meet_link,omitempty"`
	HTMLLink string `json:"html_link,omitempty"`
}
