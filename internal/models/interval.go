package models

import "time"

// BusyInterval is a half-open [Start, End) range during which a
// participant's calendar reports them unavailable. Intervals are sourced
// fresh on every aggregation call and never persisted.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the interval intersects the half-open range
// [start, end).
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

// UserBusy is the per-user outcome of a free/busy aggregation.
// Available:false means the user's calendar could not be queried and the
// user must be excluded from scoring. A user with no integration at all is
// reported Available:true with an empty busy list.
type UserBusy struct {
	UserID    string         `json:"user_id"`
	Busy      []BusyInterval `json:"busy"`
	Available bool           `json:"available"`
}
