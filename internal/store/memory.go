package store

import (
	"sync"
	"time"

	"github.com/calsched/calsched/internal/models"
)

// MemoryStore is an in-memory Store implementation used in tests and
// single-shot CLI commands that do not need persistence.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[credKey]*models.Credential
	mappings    map[mapKey]*models.EventMapping
}

type credKey struct {
	userID   string
	provider models.ProviderID
}

type mapKey struct {
	localEventID string
	provider     models.ProviderID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[credKey]*models.Credential),
		mappings:    make(map[mapKey]*models.EventMapping),
	}
}

// GetCredential returns the credential for (userID, provider) in any status.
func (s *MemoryStore) GetCredential(userID string, provider models.ProviderID) (*models.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[credKey{userID, provider}]
	if !ok {
		return nil, false
	}
	copied := *cred
	return &copied, true
}

// GetActiveCredential returns the credential only when its status is ACTIVE.
func (s *MemoryStore) GetActiveCredential(userID string, provider models.ProviderID) (*models.Credential, bool) {
	cred, ok := s.GetCredential(userID, provider)
	if !ok || cred.Status != models.CredentialActive {
		return nil, false
	}
	return cred, true
}

// UpsertCredential creates or replaces the credential row.
func (s *MemoryStore) UpsertCredential(cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *cred
	now := nowUTC()
	if existing, ok := s.credentials[credKey{cred.UserID, cred.Provider}]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.credentials[credKey{cred.UserID, cred.Provider}] = &copied
	return nil
}

// SetCredentialStatus transitions the credential to the given status.
func (s *MemoryStore) SetCredentialStatus(userID string, provider models.ProviderID, status models.CredentialStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[credKey{userID, provider}]
	if !ok {
		return false, nil
	}
	cred.Status = status
	cred.UpdatedAt = nowUTC()
	return true, nil
}

// ListCredentials returns all credentials for a provider, or everything
// when provider is empty.
func (s *MemoryStore) ListCredentials(provider models.ProviderID) []*models.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var creds []*models.Credential
	for key, cred := range s.credentials {
		if provider != "" && key.provider != provider {
			continue
		}
		copied := *cred
		creds = append(creds, &copied)
	}
	return creds
}

// DeleteCredential removes the row entirely.
func (s *MemoryStore) DeleteCredential(userID string, provider models.ProviderID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credKey{userID, provider}
	if _, ok := s.credentials[key]; !ok {
		return false
	}
	delete(s.credentials, key)
	return true
}

// GetMapping returns the event mapping for (localEventID, provider).
func (s *MemoryStore) GetMapping(localEventID string, provider models.ProviderID) (*models.EventMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[mapKey{localEventID, provider}]
	if !ok {
		return nil, false
	}
	copied := *m
	return &copied, true
}

// SetMapping creates or replaces the mapping.
func (s *MemoryStore) SetMapping(mapping *models.EventMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *mapping
	if copied.LastSyncedAt.IsZero() {
		copied.LastSyncedAt = nowUTC()
	}
	s.mappings[mapKey{mapping.LocalEventID, mapping.Provider}] = &copied
	return nil
}

// DeleteMapping removes the mapping; absent rows return false.
func (s *MemoryStore) DeleteMapping(localEventID string, provider models.ProviderID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mapKey{localEventID, provider}
	if _, ok := s.mappings[key]; !ok {
		return false
	}
	delete(s.mappings, key)
	return true
}

// ListMappings returns all mappings for a provider, or everything when
// provider is empty.
func (s *MemoryStore) ListMappings(provider models.ProviderID) []*models.EventMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mappings []*models.EventMapping
	for key, m := range s.mappings {
		if provider != "" && key.provider != provider {
			continue
		}
		copied := *m
		mappings = append(mappings, &copied)
	}
	return mappings
}

// DeleteCredentialsByStatusBefore removes credentials in the given status
// last updated before the cutoff.
func (s *MemoryStore) DeleteCredentialsByStatusBefore(status models.CredentialStatus, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, cred := range s.credentials {
		if cred.Status == status && cred.UpdatedAt.Before(cutoff) {
			delete(s.credentials, key)
			removed++
		}
	}
	return removed, nil
}

// DeleteMappingsSyncedBefore removes mappings last synced before the cutoff.
func (s *MemoryStore) DeleteMappingsSyncedBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, m := range s.mappings {
		if m.LastSyncedAt.Before(cutoff) {
			delete(s.mappings, key)
			removed++
		}
	}
	return removed, nil
}

// Clear removes everything. Test helper.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = make(map[credKey]*models.Credential)
	s.mappings = make(map[mapKey]*models.EventMapping)
}

// Stats returns row counts for diagnostics.
func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{CredentialsByStat: make(map[string]int)}
	for _, cred := range s.credentials {
		stats.Credentials++
		stats.CredentialsByStat[string(cred.Status)]++
	}
	stats.Mappings = len(s.mappings)
	return stats
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
