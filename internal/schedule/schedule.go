package schedule

import (
	"context"
	"log"
	"time"

	"cajaflow/backend/internal/cashcut"
	"cajaflow/backend/internal/metrics"
	"cajaflow/backend/internal/store"
)

// Runner drives the periodic background work: automatic cash cuts on the
// configured interval and expired idempotency key sweeps. A failed tick is
// logged and retried on the next interval; the engine's idempotency keys
// make a re-fired tick harmless.
type Runner struct {
	engine        *cashcut.Engine
	repo          store.Repository
	metrics       *metrics.Registry
	cutInterval   time.Duration
	sweepInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

func New(engine *cashcut.Engine, repo store.Repository, reg *metrics.Registry, cutInterval time.Duration, sweepInterval time.Duration) *Runner {
	if cutInterval <= 0 {
		cutInterval = 12 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}

	return &Runner{
		engine:        engine,
		repo:          repo,
		metrics:       reg,
		cutInterval:   cutInterval,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (r *Runner) Start() {
	go r.loop()
	log.Printf("[schedule] started: cuts every %s, key sweep every %s", r.cutInterval, r.sweepInterval)
}

func (r *Runner) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Runner) loop() {
	defer close(r.done)

	cutTicker := time.NewTicker(r.cutInterval)
	defer cutTicker.Stop()
	sweepTicker := time.NewTicker(r.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-cutTicker.C:
			r.runCut()
		case <-sweepTicker.C:
			r.runSweep()
		}
	}
}

func (r *Runner) runCut() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cut, err := r.engine.TriggerAutomatic(ctx)
	if err != nil {
		log.Printf("[schedule] automatic cash cut failed: %v", err)
		return
	}
	log.Printf("[schedule] automatic cash cut id=%s period_end=%s", cut.ID, cut.PeriodEnd.Format(time.RFC3339))
}

func (r *Runner) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := r.repo.SweepExpiredIdempotency(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("[schedule] idempotency sweep failed: %v", err)
		return
	}
	if removed > 0 {
		if r.metrics != nil {
			r.metrics.IdempotencyKeysSwept.Add(float64(removed))
		}
		log.Printf("[schedule] swept %d expired idempotency keys", removed)
	}
}
