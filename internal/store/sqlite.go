package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/calsched/calsched/internal/errors"
	"github.com/calsched/calsched/internal/logging"
	"github.com/calsched/calsched/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists credentials and event mappings in SQLite with WAL
// mode. It is thread-safe and supports concurrent access.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteStore creates a new SQLite store with WAL mode enabled
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.NewLogger(),
	}, nil
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS credentials (
					user_id TEXT NOT NULL,
					provider TEXT NOT NULL,
					access_token TEXT NOT NULL,
					refresh_token TEXT,
					expires_at DATETIME,
					status TEXT NOT NULL DEFAULT 'ACTIVE',
					account_email TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user_id, provider)
				);

				CREATE TABLE IF NOT EXISTS event_mappings (
					local_event_id TEXT NOT NULL,
					provider TEXT NOT NULL,
					provider_event_id TEXT NOT NULL,
					last_synced_at DATETIME NOT NULL,
					PRIMARY KEY (local_event_id, provider)
				);

				CREATE INDEX IF NOT EXISTS idx_credentials_status ON credentials(status);
				CREATE INDEX IF NOT EXISTS idx_mappings_provider_event ON event_mappings(provider_event_id);
			`,
		},
		{
			version: 2,
			up: `
				ALTER TABLE event_mappings ADD COLUMN etag TEXT DEFAULT '';
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// GetCredential returns the credential for (userID, provider) in any status.
func (s *SQLiteStore) GetCredential(userID string, provider models.ProviderID) (*models.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT user_id, provider, access_token, refresh_token, expires_at, status, account_email, created_at, updated_at
		FROM credentials WHERE user_id = ? AND provider = ?`,
		userID, string(provider))
	return scanCredential(row)
}

// GetActiveCredential returns the credential only when its status is ACTIVE.
func (s *SQLiteStore) GetActiveCredential(userID string, provider models.ProviderID) (*models.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT user_id, provider, access_token, refresh_token, expires_at, status, account_email, created_at, updated_at
		FROM credentials WHERE user_id = ? AND provider = ? AND status = ?`,
		userID, string(provider), string(models.CredentialActive))
	return scanCredential(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredential(row rowScanner) (*models.Credential, bool) {
	var cred models.Credential
	var provider, status string
	var refreshToken sql.NullString
	var expiresAt sql.NullTime

	err := row.Scan(&cred.UserID, &provider, &cred.AccessToken, &refreshToken,
		&expiresAt, &status, &cred.AccountEmail, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return nil, false
	}

	cred.Provider = models.ProviderID(provider)
	cred.Status = models.CredentialStatus(status)
	if refreshToken.Valid {
		cred.RefreshToken = refreshToken.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		cred.ExpiresAt = &t
	}
	return &cred, true
}

// UpsertCredential creates or replaces the credential row.
func (s *SQLiteStore) UpsertCredential(cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var refreshToken sql.NullString
	if cred.RefreshToken != "" {
		refreshToken = sql.NullString{String: cred.RefreshToken, Valid: true}
	}
	var expiresAt sql.NullTime
	if cred.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: cred.ExpiresAt.UTC(), Valid: true}
	}

	now := nowUTC()
	_, err := s.db.Exec(`
		INSERT INTO credentials (user_id, provider, access_token, refresh_token, expires_at, status, account_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			status = excluded.status,
			account_email = excluded.account_email,
			updated_at = excluded.updated_at`,
		cred.UserID, string(cred.Provider), cred.AccessToken, refreshToken,
		expiresAt, string(cred.Status), cred.AccountEmail, now, now)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "upsert credential", Err: err}
	}
	return nil
}

// SetCredentialStatus transitions the credential to the given status.
func (s *SQLiteStore) SetCredentialStatus(userID string, provider models.ProviderID, status models.CredentialStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE credentials SET status = ?, updated_at = ? WHERE user_id = ? AND provider = ?`,
		string(status), nowUTC(), userID, string(provider))
	if err != nil {
		return false, &errors.ErrDatabaseQuery{Operation: "set credential status", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, &errors.ErrDatabaseQuery{Operation: "set credential status", Err: err}
	}
	return affected > 0, nil
}

// ListCredentials returns all credentials for a provider, or all rows when
// provider is empty.
func (s *SQLiteStore) ListCredentials(provider models.ProviderID) []*models.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT user_id, provider, access_token, refresh_token, expires_at, status, account_email, created_at, updated_at
		FROM credentials`
	args := []interface{}{}
	if provider != "" {
		query += " WHERE provider = ?"
		args = append(args, string(provider))
	}
	query += " ORDER BY user_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.logger.Error("failed to list credentials", "error", err.Error())
		return nil
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		if cred, ok := scanCredential(rows); ok {
			creds = append(creds, cred)
		}
	}
	return creds
}

// DeleteCredential removes a credential row entirely.
func (s *SQLiteStore) DeleteCredential(userID string, provider models.ProviderID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM credentials WHERE user_id = ? AND provider = ?",
		userID, string(provider))
	if err != nil {
		return false
	}
	affected, _ := res.RowsAffected()
	return affected > 0
}

// GetMapping returns the event mapping for (localEventID, provider).
func (s *SQLiteStore) GetMapping(localEventID string, provider models.ProviderID) (*models.EventMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT local_event_id, provider, provider_event_id, etag, last_synced_at
		FROM event_mappings WHERE local_event_id = ? AND provider = ?`,
		localEventID, string(provider))

	var m models.EventMapping
	var providerStr string
	var etag sql.NullString
	if err := row.Scan(&m.LocalEventID, &providerStr, &m.ProviderEventID, &etag, &m.LastSyncedAt); err != nil {
		return nil, false
	}
	m.Provider = models.ProviderID(providerStr)
	if etag.Valid {
		m.Etag = etag.String
	}
	m.LastSyncedAt = m.LastSyncedAt.UTC()
	return &m, true
}

// SetMapping creates or replaces the mapping. The primary key keeps the
// one-mapping-per-(localEventID, provider) invariant.
func (s *SQLiteStore) SetMapping(mapping *models.EventMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	syncedAt := mapping.LastSyncedAt
	if syncedAt.IsZero() {
		syncedAt = nowUTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO event_mappings (local_event_id, provider, provider_event_id, etag, last_synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(local_event_id, provider) DO UPDATE SET
			provider_event_id = excluded.provider_event_id,
			etag = excluded.etag,
			last_synced_at = excluded.last_synced_at`,
		mapping.LocalEventID, string(mapping.Provider), mapping.ProviderEventID,
		mapping.Etag, syncedAt.UTC())
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set mapping", Err: err}
	}
	return nil
}

// DeleteMapping removes the mapping. Absent rows are not an error.
func (s *SQLiteStore) DeleteMapping(localEventID string, provider models.ProviderID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM event_mappings WHERE local_event_id = ? AND provider = ?",
		localEventID, string(provider))
	if err != nil {
		return false
	}
	affected, _ := res.RowsAffected()
	return affected > 0
}

// ListMappings returns all mappings for a provider, or all rows when
// provider is empty.
func (s *SQLiteStore) ListMappings(provider models.ProviderID) []*models.EventMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT local_event_id, provider, provider_event_id, etag, last_synced_at FROM event_mappings"
	args := []interface{}{}
	if provider != "" {
		query += " WHERE provider = ?"
		args = append(args, string(provider))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.logger.Error("failed to list mappings", "error", err.Error())
		return nil
	}
	defer rows.Close()

	var mappings []*models.EventMapping
	for rows.Next() {
		var m models.EventMapping
		var providerStr string
		var etag sql.NullString
		if err := rows.Scan(&m.LocalEventID, &providerStr, &m.ProviderEventID, &etag, &m.LastSyncedAt); err != nil {
			continue
		}
		m.Provider = models.ProviderID(providerStr)
		if etag.Valid {
			m.Etag = etag.String
		}
		m.LastSyncedAt = m.LastSyncedAt.UTC()
		mappings = append(mappings, &m)
	}
	return mappings
}

// DeleteCredentialsByStatusBefore removes credentials in the given status
// whose last update is older than the cutoff. Used by retention cleanup.
func (s *SQLiteStore) DeleteCredentialsByStatusBefore(status models.CredentialStatus, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM credentials WHERE status = ? AND updated_at < ?",
		string(status), cutoff.UTC())
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "delete credentials by status", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "delete credentials by status", Err: err}
	}
	return int(affected), nil
}

// DeleteMappingsSyncedBefore removes mappings whose last sync is older than
// the cutoff. Used by retention cleanup.
func (s *SQLiteStore) DeleteMappingsSyncedBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM event_mappings WHERE last_synced_at < ?", cutoff.UTC())
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "delete mappings synced before", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "delete mappings synced before", Err: err}
	}
	return int(affected), nil
}

// Stats returns row counts for diagnostics.
func (s *SQLiteStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{CredentialsByStat: make(map[string]int)}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM credentials GROUP BY status")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var status string
			var count int
			if rows.Scan(&status, &count) == nil {
				stats.CredentialsByStat[status] = count
				stats.Credentials += count
			}
		}
	}

	_ = s.db.QueryRow("SELECT COUNT(*) FROM event_mappings").Scan(&stats.Mappings)
	return stats
}
