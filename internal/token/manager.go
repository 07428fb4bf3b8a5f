package token

import (
	"context"
	"sync"
	"time"

	calerrors "github.com/calsched/calsched/internal/errors"
	"github.com/calsched/calsched/internal/logging"
	"github.com/calsched/calsched/internal/metrics"
	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/provider"
	"github.com/calsched/calsched/internal/store"
)

// DefaultConcurrency bounds the refresh fan-out when no explicit limit is
// configured, keeping provider rate limits in check.
const DefaultConcurrency = 20

// Manager owns the credential lifecycle: it is the only component that
// mutates credential rows. Refresh failures are terminal for the row
// (EXPIRED) and surface to callers as booleans, never as errors.
type Manager struct {
	store       store.Store
	provider    provider.CalendarProvider
	metrics     *metrics.Metrics
	logger      *logging.Logger
	concurrency int
	now         func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConcurrency caps the number of simultaneous refresh handshakes.
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithMetrics attaches metrics recording.
func WithMetrics(met *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = met
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a token lifecycle manager.
func NewManager(s store.Store, p provider.CalendarProvider, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       s,
		provider:    p,
		logger:      logging.NewLogger(),
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh ensures the user's access token is usable. Returns true when the
// token is fresh (either already, or after a successful handshake) and
// false when the user has no usable integration. The caller decides
// whether false means "exclude the user" or "fail the request".
func (m *Manager) Refresh(ctx context.Context, userID string) bool {
	cred, ok := m.store.GetActiveCredential(userID, m.provider.ID())
	if !ok {
		m.record("no_credential")
		return false
	}

	if !cred.NeedsRefresh(m.now()) {
		// Fast path: skip the handshake while the token has more than
		// the safety margin left.
		m.record("fast_path")
		return true
	}

	if !cred.Refreshable() {
		m.record("no_refresh_token")
		return false
	}

	start := m.now()
	result, err := m.provider.RefreshToken(ctx, cred.RefreshToken)
	if m.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		m.metrics.RecordProviderCall("refresh", outcome, m.now().Sub(start).Seconds())
	}
	if err != nil {
		// Non-retryable within this call: demote the credential and let
		// the user re-authorize.
		rerr := &calerrors.ErrProviderRefresh{UserID: userID, Err: err}
		m.logger.WarnWithContext(ctx, "token refresh failed, marking credential expired",
			"user_id", userID, "error", rerr.Error())
		if _, serr := m.store.SetCredentialStatus(userID, m.provider.ID(), models.CredentialExpired); serr != nil {
			m.logger.ErrorWithContext(ctx, "failed to mark credential expired",
				"user_id", userID, "error", serr.Error())
		}
		m.record("failure")
		return false
	}

	expiresAt := result.ExpiresAt
	cred.AccessToken = result.AccessToken
	cred.ExpiresAt = &expiresAt
	cred.Status = models.CredentialActive
	if err := m.store.UpsertCredential(cred); err != nil {
		m.logger.ErrorWithContext(ctx, "failed to persist refreshed credential",
			"user_id", userID, "error", err.Error())
		m.record("failure")
		return false
	}

	m.record("success")
	return true
}

// RefreshMany fans Refresh out across all given users and collects results
// into a map. One user's failure never affects another; the result always
// has exactly one entry per distinct input user. Once the context is
// cancelled, users whose refresh has not started are reported false
// without contacting the provider.
func (m *Manager) RefreshMany(ctx context.Context, userIDs []string) map[string]bool {
	results := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return results
	}

	if m.metrics != nil {
		m.metrics.RecordRefreshFanout(len(userIDs))
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, m.concurrency)

	for _, userID := range userIDs {
		mu.Lock()
		if _, dup := results[userID]; dup {
			mu.Unlock()
			continue
		}
		results[userID] = false
		mu.Unlock()

		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}

			ok := m.Refresh(ctx, id)
			mu.Lock()
			results[id] = ok
			mu.Unlock()
		}(userID)
	}

	wg.Wait()
	return results
}

// Disconnect revokes the user's integration. The row is kept (REVOKED,
// terminal) so the disconnect is auditable until retention cleanup prunes
// it. Returns false when the user had no integration.
func (m *Manager) Disconnect(ctx context.Context, userID string) bool {
	ok, err := m.store.SetCredentialStatus(userID, m.provider.ID(), models.CredentialRevoked)
	if err != nil {
		m.logger.ErrorWithContext(ctx, "failed to revoke credential",
			"user_id", userID, "error", err.Error())
		return false
	}
	if ok {
		m.logger.InfoWithContext(ctx, "credential revoked", "user_id", userID)
	}
	return ok
}

func (m *Manager) record(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordRefresh(outcome)
	}
}
