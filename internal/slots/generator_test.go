package slots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calsched/calsched/internal/models"
)

// tuesday is a fixed weekday used throughout the tests.
var tuesday = time.Date(2025, 12, 9, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
}

func busyFor(id string, intervals ...models.BusyInterval) models.UserBusy {
	return models.UserBusy{UserID: id, Busy: intervals, Available: true}
}

func TestGenerateRanksConflictFreeSlotsFirst(t *testing.T) {
	busy := map[string]models.UserBusy{
		"alice": busyFor("alice", models.BusyInterval{Start: at(tuesday, 10, 0), End: at(tuesday, 11, 0)}),
		"bob":   busyFor("bob", models.BusyInterval{Start: at(tuesday, 14, 0), End: at(tuesday, 15, 0)}),
		"carol": busyFor("carol"),
	}

	slots := Generate(busy, []string{"alice", "bob", "carol"}, tuesday, tuesday, Options{
		Now: tuesday.Add(-24 * time.Hour),
	})

	require.Len(t, slots, DefaultMaxSuggestions)
	for _, slot := range slots {
		assert.Equal(t, 100, slot.Score)
		assert.Equal(t, models.ScoreExcellent, slot.Label)
		assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, slot.AvailableUsers)
		assert.Empty(t, slot.UnavailableUsers)
	}

	// Equal scores break ties by earliest start.
	assert.Equal(t, at(tuesday, 9, 0), slots[0].Start)
	assert.Equal(t, at(tuesday, 10, 0), slots[0].End)
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i-1].Start.Before(slots[i].Start))
	}
}

func TestGeneratePartialConflictScoring(t *testing.T) {
	// Alice is blocked for the whole morning. With two participants a
	// morning slot scores 50 and an afternoon slot scores 100.
	busy := map[string]models.UserBusy{
		"alice": busyFor("alice", models.BusyInterval{Start: at(tuesday, 9, 0), End: at(tuesday, 12, 0)}),
		"bob":   busyFor("bob"),
	}

	slots := Generate(busy, []string{"alice", "bob"}, tuesday, tuesday, Options{
		Now:                tuesday.Add(-24 * time.Hour),
		GranularityMinutes: 60,
		MaxSuggestions:     MaxMaxSuggestions,
	})

	// Hourly starts give six conflict-free afternoon slots and three
	// morning slots where only bob is free.
	require.Len(t, slots, 9)
	assert.Equal(t, 100, slots[0].Score)
	assert.Equal(t, at(tuesday, 12, 0), slots[0].Start, "first conflict-free start is noon")

	halfScored := 0
	for _, slot := range slots {
		if slot.Score == 50 {
			halfScored++
			assert.Equal(t, []string{"bob"}, slot.AvailableUsers)
			assert.Equal(t, []string{"alice"}, slot.UnavailableUsers)
			assert.Equal(t, models.ScoreFair, slot.Label)
		}
	}
	assert.Equal(t, 3, halfScored)
}

func TestGenerateSkipsWeekends(t *testing.T) {
	saturday := time.Date(2025, 12, 13, 0, 0, 0, 0, time.UTC)
	sunday := saturday.AddDate(0, 0, 1)

	slots := Generate(nil, []string{"alice"}, saturday, sunday, Options{
		Now: saturday.Add(-24 * time.Hour),
	})
	assert.Empty(t, slots)
}

func TestGenerateSlotMustFitWorkingHours(t *testing.T) {
	// An 8 hour meeting in a 9-18 window leaves exactly three starts:
	// 09:00, 09:30 and 10:00.
	slots := Generate(nil, []string{"alice"}, tuesday, tuesday, Options{
		DurationMinutes: 480,
		MaxSuggestions:  MaxMaxSuggestions,
		Now:             tuesday.Add(-24 * time.Hour),
	})

	require.Len(t, slots, 3)
	assert.Equal(t, at(tuesday, 9, 0), slots[0].Start)
	assert.Equal(t, at(tuesday, 9, 30), slots[1].Start)
	assert.Equal(t, at(tuesday, 10, 0), slots[2].Start)
	assert.Equal(t, at(tuesday, 18, 0), slots[2].End)
}

func TestGenerateFiltersPastSlots(t *testing.T) {
	now := at(tuesday, 13, 10)

	slots := Generate(nil, []string{"alice"}, tuesday, tuesday, Options{
		Now:            now,
		MaxSuggestions: MaxMaxSuggestions,
	})

	require.NotEmpty(t, slots)
	for _, slot := range slots {
		assert.False(t, slot.Start.Before(now))
	}
	assert.Equal(t, at(tuesday, 13, 30), slots[0].Start)
}

func TestGenerateRelaxesCutoffWhenNothingPasses(t *testing.T) {
	// Both participants are busy all day, so every slot scores 0. The
	// majority cutoff would return nothing, so it is dropped.
	allDay := models.BusyInterval{Start: at(tuesday, 0, 0), End: at(tuesday, 23, 59)}
	busy := map[string]models.UserBusy{
		"alice": busyFor("alice", allDay),
		"bob":   busyFor("bob", allDay),
	}

	slots := Generate(busy, []string{"alice", "bob"}, tuesday, tuesday, Options{
		Now: tuesday.Add(-24 * time.Hour),
	})

	require.Len(t, slots, DefaultMaxSuggestions)
	for _, slot := range slots {
		assert.Equal(t, 0, slot.Score)
		assert.Equal(t, models.ScorePoor, slot.Label)
	}
}

func TestGenerateExcludesUnreachableParticipants(t *testing.T) {
	// Dave's calendar could not be checked. His busy data must not count
	// against any slot, and he appears in neither partition.
	busy := map[string]models.UserBusy{
		"alice": busyFor("alice"),
		"dave": {
			UserID:    "dave",
			Busy:      []models.BusyInterval{{Start: at(tuesday, 9, 0), End: at(tuesday, 18, 0)}},
			Available: false,
		},
	}

	slots := Generate(busy, []string{"alice", "dave"}, tuesday, tuesday, Options{
		Now: tuesday.Add(-24 * time.Hour),
	})

	require.NotEmpty(t, slots)
	for _, slot := range slots {
		assert.Equal(t, 100, slot.Score)
		assert.Equal(t, []string{"alice"}, slot.AvailableUsers)
		assert.NotContains(t, slot.UnavailableUsers, "dave")
	}
}

func TestGenerateCapsSuggestions(t *testing.T) {
	slots := Generate(nil, []string{"alice"}, tuesday, tuesday.AddDate(0, 0, 2), Options{
		MaxSuggestions: 2,
		Now:            tuesday.Add(-24 * time.Hour),
	})
	assert.Len(t, slots, 2)
}

func TestGenerateEmptyRangeInThePast(t *testing.T) {
	// Every slot on the requested day is already behind the clock.
	slots := Generate(nil, []string{"alice"}, tuesday, tuesday, Options{
		Now: tuesday.AddDate(0, 0, 1),
	})
	assert.Empty(t, slots)
}

func TestOptionsNormalized(t *testing.T) {
	o := Options{}.normalized()
	assert.Equal(t, DefaultDurationMinutes, o.DurationMinutes)
	assert.Equal(t, DefaultWorkingHoursStart, o.WorkingHoursStart)
	assert.Equal(t, DefaultWorkingHoursEnd, o.WorkingHoursEnd)
	assert.Equal(t, DefaultGranularityMinutes, o.GranularityMinutes)
	assert.Equal(t, DefaultMaxSuggestions, o.MaxSuggestions)
	assert.Equal(t, DefaultMinScore, o.MinScore)
	assert.Equal(t, time.UTC, o.Location)
	assert.False(t, o.Now.IsZero())
}
