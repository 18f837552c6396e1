package service

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"
)

var (
	reconcilerSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_reconciler_sweeps_total",
		Help: "Reconciler sweep iterations.",
	})

	reconciledSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_reconciled_sessions_total",
		Help: "Settled-but-unapplied sessions re-driven by the reconciler.",
	}, []string{"result"})
)

// Reconciler periodically re-drives settled sessions whose domain effect
// never ran (crash between the settle transition and the effect, or a
// transient store failure during the effect). Effects are idempotent, so
// re-driving is always safe; the sweep repeats until each session carries
// an applied-at stamp.
type Reconciler struct {
	engine   *SettlementEngine
	sessions SessionStore
	interval time.Duration
	batch    int
}

// NewReconciler constructs a Reconciler sweeping at the given interval.
func NewReconciler(engine *SettlementEngine, sessions SessionStore, interval time.Duration) *Reconciler {
	return &Reconciler{engine: engine, sessions: sessions, interval: interval, batch: 100}
}

// Run sweeps until ctx is cancelled. Meant to run as a goroutine next to
// the HTTP server.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("reconciler: sweeping every %s", r.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				log.Printf("reconciler: sweep failed: %v", err)
			}
		}
	}
}

// Sweep re-drives one batch of unapplied sessions with exponential backoff
// per session. A session that keeps failing is left for the next sweep;
// nothing is ever skipped permanently.
func (r *Reconciler) Sweep(ctx context.Context) error {
	reconcilerSweeps.Inc()

	pending, err := r.sessions.ListUnapplied(ctx, r.batch)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	log.Printf("reconciler: %d settled sessions awaiting their effect", len(pending))

	for i := range pending {
		session := &pending[i]

		backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if _, err := r.engine.applyEffect(ctx, session); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			reconciledSessions.WithLabelValues("deferred").Inc()
			log.Printf("reconciler: session %s still unapplied: %v", session.ID, err)
			continue
		}
		reconciledSessions.WithLabelValues("applied").Inc()
		log.Printf("reconciler: session %s effect applied", session.ID)
	}
	return nil
}
