package freebusy

import (
	"context"
	"sync"
	"time"

	"github.com/calsched/calsched/internal/logging"
	"github.com/calsched/calsched/internal/metrics"
	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/provider"
	"github.com/calsched/calsched/internal/store"
)

// DefaultConcurrency bounds the free/busy fan-out.
const DefaultConcurrency = 20

// Aggregator collects busy intervals for a set of users. Per-user failures
// are isolated: the point of the subsystem is to produce useful output even
// when some participants' calendars are unreachable.
type Aggregator struct {
	store       store.Store
	provider    provider.CalendarProvider
	metrics     *metrics.Metrics
	logger      *logging.Logger
	concurrency int
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithConcurrency caps simultaneous provider queries.
func WithConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithMetrics attaches metrics recording.
func WithMetrics(m *metrics.Metrics) AggregatorOption {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator creates a free/busy aggregator.
func NewAggregator(s store.Store, p provider.CalendarProvider, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		store:       s,
		provider:    p,
		logger:      logging.NewLogger(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate returns one UserBusy entry per distinct input user for the
// window [windowStart, windowEnd). The refreshed map is the outcome of the
// preceding refresh phase:
//
//   - refresh succeeded: the provider is queried; a query failure marks
//     the user unreachable (Available:false), it never aborts the batch.
//   - no stored credential: the user has no integration and is modeled as
//     having no known conflicts (Available:true, empty busy list).
//   - credential present but refresh failed: the calendar is unreachable,
//     the user is excluded from scoring (Available:false).
func (a *Aggregator) Aggregate(ctx context.Context, userIDs []string, refreshed map[string]bool, windowStart, windowEnd time.Time) map[string]models.UserBusy {
	results := make(map[string]models.UserBusy, len(userIDs))
	if len(userIDs) == 0 {
		return results
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, a.concurrency)

	for _, userID := range userIDs {
		mu.Lock()
		if _, dup := results[userID]; dup {
			mu.Unlock()
			continue
		}
		results[userID] = models.UserBusy{UserID: userID, Available: false}
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

			entry := a.collect(ctx, id, refreshed[id], windowStart, windowEnd)
			mu.Lock()
			results[id] = entry
			mu.Unlock()
		}(userID)
	}

	wg.Wait()
	return results
}

func (a *Aggregator) collect(ctx context.Context, userID string, refreshed bool, windowStart, windowEnd time.Time) models.UserBusy {
	cred, hasCred := a.store.GetActiveCredential(userID, a.provider.ID())
	if !hasCred {
		if _, exists := a.store.GetCredential(userID, a.provider.ID()); exists {
			// Integration exists but is expired or revoked.
			a.record("failure")
			return models.UserBusy{UserID: userID, Available: false}
		}
		// No integration at all: no known conflicts.
		a.record("no_credential")
		return models.UserBusy{UserID: userID, Busy: []models.BusyInterval{}, Available: true}
	}

	if !refreshed {
		a.record("failure")
		return models.UserBusy{UserID: userID, Available: false}
	}

	start := time.Now()
	busy, err := a.provider.QueryBusy(ctx, cred, windowStart, windowEnd)
	if a.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		a.metrics.RecordProviderCall("freebusy", outcome, time.Since(start).Seconds())
	}
	if err != nil {
		a.logger.WarnWithContext(ctx, "free/busy query failed, excluding user from scoring",
			"user_id", userID, "error", err.Error())
		a.record("failure")
		return models.UserBusy{UserID: userID, Available: false}
	}

	if busy == nil {
		busy = []models.BusyInterval{}
	}
	a.record("success")
	return models.UserBusy{UserID: userID, Busy: busy, Available: true}
}

func (a *Aggregator) record(outcome string) {
	if a.metrics != nil {
		a.metrics.RecordBusyQuery(outcome)
	}
}
