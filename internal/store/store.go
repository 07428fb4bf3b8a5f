package store

import (
	"time"

	"github.com/calsched/calsched/internal/models"
)

// Store is the persistence boundary for credentials and event mappings.
// Credential rows are mutated only by the token lifecycle manager; the
// aggregator and materializer read them. Event mappings are owned by the
// materializer.
type Store interface {
	// GetCredential returns the credential for (userID, provider) in any
	// status.
	GetCredential(userID string, provider models.ProviderID) (*models.Credential, bool)
	// GetActiveCredential returns the credential only when its status is
	// ACTIVE.
	GetActiveCredential(userID string, provider models.ProviderID) (*models.Credential, bool)
	// UpsertCredential creates or replaces the credential row for
	// (UserID, Provider).
	UpsertCredential(cred *models.Credential) error
	// SetCredentialStatus transitions the credential to the given status.
	// Returns false when no row exists.
	SetCredentialStatus(userID string, provider models.ProviderID, status models.CredentialStatus) (bool, error)
	// ListCredentials returns all credentials for a provider, or all
	// credentials when provider is empty.
	ListCredentials(provider models.ProviderID) []*models.Credential
	// DeleteCredential removes the row entirely. Used by retention cleanup.
	DeleteCredential(userID string, provider models.ProviderID) bool

	// GetMapping returns the event mapping for (localEventID, provider).
	GetMapping(localEventID string, provider models.ProviderID) (*models.EventMapping, bool)
	// SetMapping creates or replaces the mapping, preserving the at most
	// one active mapping per (localEventID, provider) invariant.
	SetMapping(mapping *models.EventMapping) error
	// DeleteMapping removes the mapping. Deleting an absent mapping is
	// not an error and returns false.
	DeleteMapping(localEventID string, provider models.ProviderID) bool
	// ListMappings returns all mappings for a provider, or all mappings
	// when provider is empty.
	ListMappings(provider models.ProviderID) []*models.EventMapping

	// Stats returns row counts for diagnostics.
	Stats() StoreStats
	// Close releases underlying resources.
	Close() error
}

// StoreStats holds row counts for diagnostics and the doctor command.
type StoreStats struct {
	Credentials       int            `json:"credentials"`
	CredentialsByStat map[string]int `json:"credentials_by_status"`
	Mappings          int            `json:"mappings"`
}

// CredentialDirectory resolves participant IDs to contact emails using the
// stored credential's account email. It satisfies the user directory
// dependency of the event materializer for deployments where the tracker's
// own directory is not wired in.
type CredentialDirectory struct {
	Store    Store
	Provider models.ProviderID
}

// Email returns the account email recorded for the user's integration, or
// false when the user has none.
func (d *CredentialDirectory) Email(userID string) (string, bool) {
	cred, ok := d.Store.GetCredential(userID, d.Provider)
	if !ok || cred.AccountEmail == "" {
		return "", false
	}
	return cred.AccountEmail, true
}

// nowUTC is the single time source for persistence timestamps.
func nowUTC() time.Time {
	return time.Now().UTC()
}
