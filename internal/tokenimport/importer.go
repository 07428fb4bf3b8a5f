// Package tokenimport synchronizes exported OAuth token files into the
// credential store. Deployments that obtain Google tokens out of band
// (a CLI auth helper, a migration dump) drop one JSON file per user into
// a directory and the importer picks them up, immediately via fsnotify
// and periodically as a fallback.
package tokenimport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/calsched/calsched/internal/logging"
	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/store"
)

// TokenFile is the on-disk shape of an exported credential. The user id
// falls back to the file name (without extension) when the field is
// absent.
type TokenFile struct {
	UserID       string `json:"user_id,omitempty"`
	Provider     string `json:"provider,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Expiry       string `json:"expiry,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	AccountEmail string `json:"account_email,omitempty"`
	Email        string `json:"email,omitempty"`
	Path         string `json:"-"`
}

// ResolveTokenDir resolves the token directory from the preferred path or
// the CALSCHED_TOKEN_DIR environment variable.
func ResolveTokenDir(preferred string) string {
	if preferred != "" {
		return preferred
	}
	return os.Getenv("CALSCHED_TOKEN_DIR")
}

// DiscoverTokenFiles scans a directory for token files. Missing or
// inaccessible directories yield an empty result, not an error.
func DiscoverTokenFiles(dir string) ([]TokenFile, error) {
	var tokens []TokenFile

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return []TokenFile{}, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}

		var tf TokenFile
		if json.Unmarshal(data, &tf) != nil {
			continue
		}
		if tf.AccessToken == "" {
			continue
		}
		if tf.UserID == "" {
			tf.UserID = strings.TrimSuffix(entry.Name(), ".json")
		}
		if tf.AccountEmail == "" {
			tf.AccountEmail = tf.Email
		}

		tf.Path = filepath.Join(dir, entry.Name())
		tokens = append(tokens, tf)
	}

	return tokens, nil
}

// ToCredential converts a token file into a credential record. Unknown
// providers default to Google.
func ToCredential(tf TokenFile) *models.Credential {
	provider := models.ProviderGoogle
	if tf.Provider != "" {
		provider = models.ProviderID(tf.Provider)
	}

	var expiresAt *time.Time
	if tf.Expiry != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, tf.Expiry); err == nil {
			expiresAt = &parsed
		}
	}
	if expiresAt == nil && tf.ExpiresIn > 0 {
		t := time.Now().UTC().Add(time.Duration(tf.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	return &models.Credential{
		UserID:       tf.UserID,
		Provider:     provider,
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		ExpiresAt:    expiresAt,
		Status:       models.CredentialActive,
		AccountEmail: tf.AccountEmail,
	}
}

// Importer syncs token files into the credential store.
type Importer struct {
	store    store.Store
	tokenDir string
	interval time.Duration
	logger   *logging.Logger
	lastScan time.Time
}

// NewImporter creates a token-file importer.
func NewImporter(s store.Store, tokenDir string, scanInterval time.Duration, logger *logging.Logger) *Importer {
	if scanInterval == 0 {
		scanInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	return &Importer{
		store:    s,
		tokenDir: tokenDir,
		interval: scanInterval,
		logger:   logger,
	}
}

// ScanAndSync imports all token files, upserting each as an ACTIVE
// credential. A user disconnect is not undone: REVOKED credentials are
// left untouched unless the file is newer than the revocation.
func (im *Importer) ScanAndSync(ctx context.Context) (imported int, err error) {
	tokens, err := DiscoverTokenFiles(im.tokenDir)
	if err != nil {
		return 0, err
	}

	for _, tf := range tokens {
		cred := ToCredential(tf)
		if existing, ok := im.store.GetCredential(cred.UserID, cred.Provider); ok {
			if existing.Status == models.CredentialRevoked {
				info, statErr := os.Stat(tf.Path)
				if statErr != nil || !info.ModTime().After(existing.UpdatedAt) {
					continue
				}
			}
		}
		if err := im.store.UpsertCredential(cred); err != nil {
			im.logger.WarnWithContext(ctx, "token file import failed",
				"user_id", cred.UserID, "path", tf.Path, "error", err.Error())
			continue
		}
		imported++
	}

	im.lastScan = time.Now()
	if imported > 0 {
		im.logger.InfoWithContext(ctx, "token files imported",
			"count", imported, "dir", im.tokenDir)
	}
	return imported, nil
}

// WatchTokens starts a file watcher on the token directory.
func (im *Importer) WatchTokens(ctx context.Context) error {
	if im.tokenDir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(im.tokenDir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					_, _ = im.ScanAndSync(ctx)
				}
			case <-watcher.Errors:
				// Periodic scan covers anything the watcher misses.
			}
		}
	}()

	return nil
}

// StartAutoSync performs an initial scan and starts watcher-based and
// periodic sync.
func (im *Importer) StartAutoSync(ctx context.Context) error {
	if _, err := im.ScanAndSync(ctx); err != nil {
		return err
	}
	if err := im.WatchTokens(ctx); err != nil {
		return err
	}
	if im.interval <= 0 {
		return nil
	}

	go func() {
		ticker := time.NewTicker(im.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = im.ScanAndSync(ctx)
			}
		}
	}()

	return nil
}

// TokenDir returns the watched directory.
func (im *Importer) TokenDir() string {
	return im.tokenDir
}

// LastScan returns the time of the most recent scan.
func (im *Importer) LastScan() time.Time {
	return im.lastScan
}
