package models

import (
	"fmt"
	"time"
)

// EventMapping is the durable correspondence between a local event record
// and its provider-side counterpart. At most one active mapping exists per
// (LocalEventID, Provider).
type EventMapping struct {
	LocalEventID    string     `json:"local_event_id"`
	Provider        ProviderID `json:"provider"`
	ProviderEventID string     `json:"provider_event_id"`
	Etag            string     `json:"etag,omitempty"`
	LastSyncedAt    time.Time  `json:"last_synced_at"`
}

// Validate checks if the mapping is well-formed.
func (m *EventMapping) Validate() error {
	if m.LocalEventID == "" {
		return fmt.Errorf("local event ID is required")
	}
	if m.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if m.ProviderEventID == "" {
		return fmt.Errorf("provider event ID is required")
	}
	return nil
}
