// Package cleanup prunes stale rows in the background: credentials a user
// revoked long ago and event mappings that have not been synced within the
// retention window.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calsched/calsched/internal/config"
	"github.com/calsched/calsched/internal/logging"
	"github.com/calsched/calsched/internal/models"
)

// RetentionStore is the slice of the store the cleanup job needs.
type RetentionStore interface {
	DeleteCredentialsByStatusBefore(status models.CredentialStatus, cutoff time.Time) (int, error)
	DeleteMappingsSyncedBefore(cutoff time.Time) (int, error)
}

// Result summarizes one cleanup pass.
type Result struct {
	RevokedCredentials int           `json:"revoked_credentials"`
	StaleMappings      int           `json:"stale_mappings"`
	Duration           time.Duration `json:"duration"`
	RanAt              time.Time     `json:"ran_at"`
}

// Stats accumulates across runs.
type Stats struct {
	TotalRuns    int    `json:"total_runs"`
	TotalDeleted int    `json:"total_deleted"`
	LastRun      Result `json:"last_run"`
}

// Manager runs retention cleanup on a fixed interval.
type Manager struct {
	store  RetentionStore
	cfg    config.CleanupConfig
	logger *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	ticker  *time.Ticker
	running bool
	stats   Stats
}

// NewManager creates a cleanup manager. It does nothing until Start.
func NewManager(s RetentionStore, cfg config.CleanupConfig, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Manager{
		store:  s,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins the periodic cleanup loop. The loop stops when the context
// is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cleanup manager is already running")
	}
	if !m.cfg.Enabled || m.cfg.Interval <= 0 {
		return nil
	}

	m.running = true
	m.ticker = time.NewTicker(m.cfg.Interval)
	go m.loop(ctx)
	return nil
}

// Stop halts the periodic loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.running = false
}

func (m *Manager) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-m.ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass.
func (m *Manager) RunOnce(ctx context.Context) Result {
	started := m.now()
	result := Result{RanAt: started}

	if m.cfg.RevokedRetentionDays > 0 {
		cutoff := started.AddDate(0, 0, -m.cfg.RevokedRetentionDays)
		n, err := m.store.DeleteCredentialsByStatusBefore(models.CredentialRevoked, cutoff)
		if err != nil {
			m.logger.WarnWithContext(ctx, "revoked credential cleanup failed", "error", err.Error())
		} else {
			result.RevokedCredentials = n
		}
	}

	if m.cfg.MappingRetentionDays > 0 {
		cutoff := started.AddDate(0, 0, -m.cfg.MappingRetentionDays)
		n, err := m.store.DeleteMappingsSyncedBefore(cutoff)
		if err != nil {
			m.logger.WarnWithContext(ctx, "stale mapping cleanup failed", "error", err.Error())
		} else {
			result.StaleMappings = n
		}
	}

	result.Duration = m.now().Sub(started)

	m.mu.Lock()
	m.stats.TotalRuns++
	m.stats.TotalDeleted += result.RevokedCredentials + result.StaleMappings
	m.stats.LastRun = result
	m.mu.Unlock()

	if result.RevokedCredentials > 0 || result.StaleMappings > 0 {
		m.logger.InfoWithContext(ctx, "cleanup pass completed",
			"revoked_credentials", result.RevokedCredentials,
			"stale_mappings", result.StaleMappings,
			"duration_ms", result.Duration.Milliseconds())
	}
	return result
}

// GetStats returns a snapshot of accumulated statistics.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
