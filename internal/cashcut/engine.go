package cashcut

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"cajaflow/backend/internal/domain"
	"cajaflow/backend/internal/metrics"
	"cajaflow/backend/internal/notify"
	"cajaflow/backend/internal/store"
)

var (
	ErrOperationTimeout = errors.New("cash cut operation timed out")
	ErrAggregation      = errors.New("cash cut aggregation failed")
	ErrPersistence      = errors.New("cash cut persistence failed")
)

const pollInterval = 150 * time.Millisecond

type opStatus int

const (
	opPending opStatus = iota
	opCompleted
	opFailed
)

type operation struct {
	status opStatus
	cut    *domain.CashCut
	err    error
}

// Engine serializes cash cut execution. The in-flight map is process-local
// and only collapses concurrent triggers within this instance; the durable
// idempotency key in the repository is what guarantees exactly-once across
// restarts and replicas.
type Engine struct {
	repo     store.Repository
	notifier notify.Notifier
	metrics  *metrics.Registry

	keyTTL         time.Duration
	manualLookback time.Duration
	waitTimeout    time.Duration
	purgeAfter     time.Duration
	cutInterval    time.Duration

	now func() time.Time

	mu          sync.Mutex
	inFlight    map[string]*operation
	lastCutTime time.Time
	startedAt   time.Time

	// runMu serializes cut execution. Triggers with distinct keys would
	// otherwise read the same watermark and persist overlapping periods.
	runMu sync.Mutex
}

type Options struct {
	KeyTTL         time.Duration
	ManualLookback time.Duration
	WaitTimeout    time.Duration
	PurgeAfter     time.Duration
	CutInterval    time.Duration
}

func NewEngine(repo store.Repository, notifier notify.Notifier, reg *metrics.Registry, opts Options) *Engine {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if opts.KeyTTL <= 0 {
		opts.KeyTTL = 24 * time.Hour
	}
	if opts.ManualLookback <= 0 {
		opts.ManualLookback = 12 * time.Hour
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 30 * time.Second
	}
	if opts.PurgeAfter <= 0 {
		opts.PurgeAfter = 5 * time.Minute
	}
	if opts.CutInterval <= 0 {
		opts.CutInterval = 12 * time.Hour
	}

	e := &Engine{
		repo:           repo,
		notifier:       notifier,
		metrics:        reg,
		keyTTL:         opts.KeyTTL,
		manualLookback: opts.ManualLookback,
		waitTimeout:    opts.WaitTimeout,
		purgeAfter:     opts.PurgeAfter,
		cutInterval:    opts.CutInterval,
		now:            time.Now,
		inFlight:       make(map[string]*operation),
	}
	e.startedAt = e.now().UTC()
	return e
}

// TriggerManual runs a cut on behalf of an operator. Rapid retries within the
// same minute derive the same key and return the same cut record.
func (e *Engine) TriggerManual(ctx context.Context, actor domain.Actor, notes string) (*domain.CashCut, error) {
	now := e.now().UTC()
	key := deriveKey(actor.Username, domain.CutTypeManual, notes, manualBucket(now))
	return e.trigger(ctx, domain.CutTypeManual, actor.Username, notes, key, now)
}

// TriggerAutomatic runs a scheduled cut. Ticks that land in the same hour
// derive the same key and collapse to one record.
func (e *Engine) TriggerAutomatic(ctx context.Context) (*domain.CashCut, error) {
	now := e.now().UTC()
	key := deriveKey("scheduler", domain.CutTypeAutomatic, "", automaticBucket(now))
	return e.trigger(ctx, domain.CutTypeAutomatic, "scheduler", "", key, now)
}

func (e *Engine) trigger(ctx context.Context, cutType string, principal string, notes string, key string, now time.Time) (*domain.CashCut, error) {
	e.mu.Lock()
	if op, exists := e.inFlight[key]; exists {
		if op.status != opPending {
			cut, err := op.cut, op.err
			e.mu.Unlock()
			return cut, err
		}
		e.mu.Unlock()
		return e.await(ctx, key)
	}

	op := &operation{status: opPending}
	e.inFlight[key] = op
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.CutsInFlight.Inc()
	}
	cut, err := e.run(ctx, cutType, principal, notes, key, now)
	e.finish(key, op, cut, err)
	return cut, err
}

func (e *Engine) run(ctx context.Context, cutType string, principal string, notes string, key string, now time.Time) (*domain.CashCut, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	started := e.now()

	// A cut persisted by a previous process instance wins over anything this
	// instance would compute.
	if existing, err := e.repo.FindCashCutByIdempotency(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// A watermark at or past the trigger time yields an empty period rather
	// than re-covering any part of the previous cut.
	start := e.periodStart(cutType, now)
	if start.After(now) {
		start = now
	}

	orders, err := e.repo.ListOrdersInPeriod(ctx, start, now)
	if err != nil {
		return nil, fmt.Errorf("%w: listing orders: %v", ErrAggregation, err)
	}
	expenses, err := e.repo.ListExpensesInPeriod(ctx, start, now)
	if err != nil {
		return nil, fmt.Errorf("%w: listing expenses: %v", ErrAggregation, err)
	}

	stats := Aggregate(orders, expenses)

	cut := domain.CashCut{
		PeriodStart:    start,
		PeriodEnd:      now,
		Type:           cutType,
		Stats:          stats,
		Notes:          notes,
		CreatedBy:      principal,
		IdempotencyKey: key,
		Status:         domain.CutStatusCompleted,
		CreatedAt:      now,
	}

	saved, err := e.repo.SaveCashCut(ctx, cut, e.keyTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// The watermark moves only after the cut is durable. A failed persistence
	// leaves it untouched so the next cut re-covers the same period.
	e.mu.Lock()
	if saved.PeriodEnd.After(e.lastCutTime) {
		e.lastCutTime = saved.PeriodEnd
	}
	e.mu.Unlock()

	if err := e.notifier.CashCutCompleted(ctx, *saved); err != nil {
		log.Printf("[cashcut] WARN: failed to publish completed cut id=%s: %v", saved.ID, err)
	}
	if e.metrics != nil {
		e.metrics.CutsCompleted.Inc()
		e.metrics.CutLatencySec.Observe(e.now().Sub(started).Seconds())
	}
	log.Printf("[cashcut] completed cut id=%s type=%s period=[%s, %s) orders=%d income=%d",
		saved.ID, saved.Type, saved.PeriodStart.Format(time.RFC3339), saved.PeriodEnd.Format(time.RFC3339),
		saved.Stats.OrderCount, saved.Stats.IncomeCents)

	return saved, nil
}

// periodStart returns the inclusive lower bound of the next cut period. The
// first manual cut of a fresh instance looks back a fixed window; the first
// automatic cut starts at engine start so a scheduler restart cannot
// double-count history.
func (e *Engine) periodStart(cutType string, now time.Time) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastCutTime.IsZero() {
		return e.lastCutTime
	}
	if cutType == domain.CutTypeManual {
		return now.Add(-e.manualLookback)
	}
	return e.startedAt
}

func (e *Engine) finish(key string, op *operation, cut *domain.CashCut, err error) {
	e.mu.Lock()
	op.cut = cut
	op.err = err
	if err != nil {
		op.status = opFailed
	} else {
		op.status = opCompleted
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.CutsInFlight.Dec()
		if err != nil {
			e.metrics.CutsFailed.Inc()
		}
	}

	// Terminal entries linger so immediate retries resolve without touching
	// the repository, then get purged to bound the map.
	time.AfterFunc(e.purgeAfter, func() {
		e.mu.Lock()
		if current, exists := e.inFlight[key]; exists && current == op {
			delete(e.inFlight, key)
		}
		e.mu.Unlock()
	})
}

// await polls the in-flight entry until it reaches a terminal state, the
// caller's context is cancelled, or the wait budget runs out.
func (e *Engine) await(ctx context.Context, key string) (*domain.CashCut, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(e.waitTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrOperationTimeout
		case <-ticker.C:
			e.mu.Lock()
			op, exists := e.inFlight[key]
			if !exists {
				e.mu.Unlock()
				// Purged between polls; the durable record has the answer.
				existing, err := e.repo.FindCashCutByIdempotency(ctx, key)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
				}
				return existing, nil
			}
			if op.status != opPending {
				cut, err := op.cut, op.err
				e.mu.Unlock()
				return cut, err
			}
			e.mu.Unlock()
		}
	}
}

func (e *Engine) Status() domain.CashCutStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending := 0
	for _, op := range e.inFlight {
		if op.status == opPending {
			pending++
		}
	}

	status := domain.CashCutStatus{
		InFlightCount: pending,
		Schedule:      fmt.Sprintf("every %s", e.cutInterval),
	}
	if !e.lastCutTime.IsZero() {
		status.LastCutTime = e.lastCutTime.UTC().Format(time.RFC3339)
	}
	return status
}

func (e *Engine) ListRecent(ctx context.Context, limit int) ([]domain.CashCut, error) {
	if limit < 1 {
		limit = 20
	}
	return e.repo.ListRecentCashCuts(ctx, limit)
}
