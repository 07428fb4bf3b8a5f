// Package slots generates and scores candidate meeting slots. It is pure
// computation: all calendar data arrives pre-aggregated and no I/O happens
// here.
package slots

import (
	"math"
	"sort"
	"time"

	"github.com/calsched/calsched/internal/models"
)

// Defaults and bounds for slot generation.
const (
	DefaultDurationMinutes = 60
	MinDurationMinutes     = 15
	MaxDurationMinutes     = 480

	DefaultMaxSuggestions = 5
	MinMaxSuggestions     = 1
	MaxMaxSuggestions     = 10

	DefaultWorkingHoursStart = 9
	DefaultWorkingHoursEnd   = 18

	// DefaultGranularityMinutes is the spacing between candidate slot
	// starts.
	DefaultGranularityMinutes = 30

	// DefaultMinScore is the majority-availability cutoff. Slots scoring
	// below it are dropped unless that would leave no candidates at all,
	// in which case the cutoff is removed entirely.
	DefaultMinScore = 50
)

// Options control slot enumeration and scoring. Zero values fall back to
// the documented defaults.
type Options struct {
	DurationMinutes    int
	WorkingHoursStart  int
	WorkingHoursEnd    int
	GranularityMinutes int
	MaxSuggestions     int
	MinScore           int
	Location           *time.Location
	Now                time.Time
}

// normalized returns a copy with defaults applied.
func (o Options) normalized() Options {
	if o.DurationMinutes == 0 {
		o.DurationMinutes = DefaultDurationMinutes
	}
	if o.WorkingHoursStart == 0 && o.WorkingHoursEnd == 0 {
		o.WorkingHoursStart = DefaultWorkingHoursStart
		o.WorkingHoursEnd = DefaultWorkingHoursEnd
	}
	if o.GranularityMinutes == 0 {
		o.GranularityMinutes = DefaultGranularityMinutes
	}
	if o.MaxSuggestions == 0 {
		o.MaxSuggestions = DefaultMaxSuggestions
	}
	if o.MinScore == 0 {
		o.MinScore = DefaultMinScore
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Generate enumerates candidate slots across the inclusive date range,
// scores them against the aggregated busy data, and returns a ranked,
// capped list.
//
// Participants whose aggregation marked them unreachable (Available:false)
// are excluded from both partitions and from the scoring denominator.
// Weekends are skipped. A slot is valid only if it fits entirely within
// working hours and does not start before Options.Now.
func Generate(busy map[string]models.UserBusy, participantIDs []string, startDate, endDate time.Time, opts Options) []models.TimeSlot {
	o := opts.normalized()

	considered := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		entry, ok := busy[id]
		if ok && !entry.Available {
			continue
		}
		considered = append(considered, id)
	}

	var candidates []models.TimeSlot
	duration := time.Duration(o.DurationMinutes) * time.Minute
	granularity := time.Duration(o.GranularityMinutes) * time.Minute

	for day := dateOf(startDate, o.Location); !day.After(dateOf(endDate, o.Location)); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}

		dayStart := time.Date(day.Year(), day.Month(), day.Day(), o.WorkingHoursStart, 0, 0, 0, o.Location)
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), o.WorkingHoursEnd, 0, 0, 0, o.Location)

		for slotStart := dayStart; !slotStart.Add(duration).After(dayEnd); slotStart = slotStart.Add(granularity) {
			if slotStart.Before(o.Now) {
				continue
			}
			candidates = append(candidates, scoreSlot(slotStart, slotStart.Add(duration), considered, busy))
		}
	}

	ranked := rank(candidates, o.MinScore)
	if len(ranked) > o.MaxSuggestions {
		ranked = ranked[:o.MaxSuggestions]
	}
	return ranked
}

// scoreSlot partitions the considered participants by half-open interval
// overlap and computes the availability score.
func scoreSlot(slotStart, slotEnd time.Time, considered []string, busy map[string]models.UserBusy) models.TimeSlot {
	available := make([]string, 0, len(considered))
	unavailable := make([]string, 0)

	for _, id := range considered {
		if hasConflict(busy[id].Busy, slotStart, slotEnd) {
			unavailable = append(unavailable, id)
		} else {
			available = append(available, id)
		}
	}

	score := 0
	if len(considered) > 0 {
		score = int(math.Round(100 * float64(len(available)) / float64(len(considered))))
	}

	return models.TimeSlot{
		Start:            slotStart,
		End:              slotEnd,
		AvailableUsers:   available,
		UnavailableUsers: unavailable,
		Score:            score,
		Label:            models.LabelForScore(score),
	}
}

// hasConflict reports whether any busy interval intersects the half-open
// slot range: slotStart < busyEnd && slotEnd > busyStart.
func hasConflict(busy []models.BusyInterval, slotStart, slotEnd time.Time) bool {
	for _, interval := range busy {
		if interval.Overlaps(slotStart, slotEnd) {
			return true
		}
	}
	return false
}

// rank filters by the score cutoff and sorts descending by score with
// earliest-start tie-break. When the cutoff would eliminate every
// candidate, it is removed entirely so callers never receive an empty
// result while at least one slot exists.
func rank(candidates []models.TimeSlot, minScore int) []models.TimeSlot {
	filtered := make([]models.TimeSlot, 0, len(candidates))
	for _, slot := range candidates {
		if slot.Score >= minScore {
			filtered = append(filtered, slot)
		}
	}
	if len(filtered) == 0 {
		filtered = append(filtered, candidates...)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].Start.Before(filtered[j].Start)
	})
	return filtered
}

// dateOf truncates a time to its date in the given location.
func dateOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
