package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecurrenceRuleValidate(t *testing.T) {
	for _, rule := range []RecurrenceRule{"", RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceBiweekly, RecurrenceMonthly} {
		assert.NoError(t, rule.Validate(), "rule %q", rule)
	}
	assert.Error(t, RecurrenceRule("yearly").Validate())
	assert.Error(t, RecurrenceRule("WEEKLY").Validate())
}

func TestLocalEventValidate(t *testing.T) {
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	valid := LocalEvent{
		ID:          "evt-1",
		OrganizerID: "alice",
		Title:       "Sprint planning",
		Start:       start,
		End:         start.Add(time.Hour),
	}
	assert.NoError(t, valid.Validate())

	missingID := valid
	missingID.ID = ""
	assert.Error(t, missingID.Validate())

	missingOrganizer := valid
	missingOrganizer.OrganizerID = ""
	assert.Error(t, missingOrganizer.Validate())

	missingTitle := valid
	missingTitle.Title = ""
	assert.Error(t, missingTitle.Validate())

	endBeforeStart := valid
	endBeforeStart.End = start.Add(-time.Hour)
	assert.Error(t, endBeforeStart.Validate())

	zeroLength := valid
	zeroLength.End = start
	assert.Error(t, zeroLength.Validate())

	badRecurrence := valid
	badRecurrence.Recurrence = "hourly"
	assert.Error(t, badRecurrence.Validate())
}

func TestEventMappingValidate(t *testing.T) {
	valid := EventMapping{
		LocalEventID:    "evt-1",
		Provider:        ProviderGoogle,
		ProviderEventID: "google-evt-1",
	}
	assert.NoError(t, valid.Validate())

	missingLocal := valid
	missingLocal.LocalEventID = ""
	assert.Error(t, missingLocal.Validate())

	missingProvider := valid
	missingProvider.Provider = ""
	assert.Error(t, missingProvider.Validate())

	missingProviderEvent := valid
	missingProviderEvent.ProviderEventID = ""
	assert.Error(t, missingProviderEvent.Validate())
}
