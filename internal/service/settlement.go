package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/repository"
)

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_settlements_total",
		Help: "Settlement callbacks by result.",
	}, []string{"result"})

	effectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_settlement_effect_failures_total",
		Help: "Domain effects that failed after a session settled (left for reconciliation).",
	})
)

// Confirmer confirms a pending registration after its payment settled, and
// resolves registrations for failure notifications.
type Confirmer interface {
	ConfirmAfterPayment(ctx context.Context, registrationID string) (*model.Registration, error)
	Get(ctx context.Context, registrationID string) (*model.Registration, error)
}

// TopUpApplier applies a settled top-up to the wallet ledger.
type TopUpApplier interface {
	ApplyTopUp(ctx context.Context, accountID string, amountCents int64, sourceSessionID string) (int64, error)
}

// FeeMarker records a vendor application's fee capture.
type FeeMarker interface {
	MarkPaid(ctx context.Context, applicationID, sessionID string) (*repository.Application, error)
}

// SettlementEngine turns provider confirmation callbacks into exactly one
// domain effect each. The payment session record is the idempotency
// boundary: the pending→terminal compare-and-set decides a single winner
// among concurrent or replayed callbacks, and the applied-at stamp tracks
// whether the winner's effect has run.
type SettlementEngine struct {
	sessions      SessionStore
	registrations Confirmer
	wallet        TopUpApplier
	applications  FeeMarker
	notify        *Dispatcher
}

// NewSettlementEngine constructs a SettlementEngine.
func NewSettlementEngine(sessions SessionStore, registrations Confirmer, wallet TopUpApplier, applications FeeMarker, notify *Dispatcher) *SettlementEngine {
	return &SettlementEngine{
		sessions:      sessions,
		registrations: registrations,
		wallet:        wallet,
		applications:  applications,
		notify:        notify,
	}
}

// HandleCallback processes one provider confirmation. Client-initiated
// "I paid" redirects go through here as well and count as replays.
//
// On first-seen success the session is settled durably before the domain
// effect runs. If the effect then fails (or we crash), the session sits in
// the settled-but-unapplied state until the reconciler re-drives it, so the
// effect happens exactly once rather than zero or two times.
func (e *SettlementEngine) HandleCallback(ctx context.Context, externalSessionID string, outcome model.CallbackOutcome) (*model.SettlementResult, error) {
	if externalSessionID == "" {
		return nil, fmt.Errorf("session_id is required: %w", ErrValidation)
	}

	var terminal model.SessionStatus
	switch outcome {
	case model.OutcomeSucceeded:
		terminal = model.SessionSettled
	case model.OutcomeFailed:
		terminal = model.SessionFailed
	default:
		return nil, fmt.Errorf("unknown outcome %q: %w", outcome, ErrValidation)
	}

	session, transitioned, err := e.sessions.Settle(ctx, externalSessionID, terminal)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownSession) {
			// Provider error or replay attack; log and surface, never retry.
			log.Printf("settlement: callback for unknown session %s", externalSessionID)
		}
		return nil, err
	}

	result := &model.SettlementResult{
		SessionID: externalSessionID,
		Status:    session.Status,
		Kind:      session.Kind,
	}

	if !transitioned {
		// Already terminal: report the recorded outcome and run nothing.
		// A settled-but-unapplied session is the reconciler's job, not a
		// second externally-triggerable mutation path.
		result.Replayed = true
		settlementsTotal.WithLabelValues("replayed").Inc()
		return result, nil
	}

	if session.Status == model.SessionFailed {
		settlementsTotal.WithLabelValues("failed").Inc()
		e.notifyFailure(ctx, session)
		return result, nil
	}

	refund, err := e.applyEffect(ctx, session)
	if err != nil {
		// The settlement itself is durable; the reconciler re-drives the
		// effect. Report success for the settlement, not the effect.
		effectFailures.Inc()
		log.Printf("settlement: effect for session %s deferred to reconciler: %v", session.ID, err)
		settlementsTotal.WithLabelValues("deferred").Inc()
		return result, nil
	}

	result.RefundRequired = refund
	settlementsTotal.WithLabelValues("settled").Inc()
	return result, nil
}

// applyEffect runs the settled session's domain effect and stamps it
// applied. Every effect is idempotent on its own, so a crash between the
// effect and the stamp is recovered by a harmless re-run.
func (e *SettlementEngine) applyEffect(ctx context.Context, session *model.PaymentSession) (refundRequired bool, err error) {
	switch session.Kind {
	case model.KindEventRegistration:
		reg, err := e.registrations.ConfirmAfterPayment(ctx, session.ReferenceID)
		switch {
		case err == nil:
			refundRequired = reg.Status == model.RegistrationWaitlisted
		case errors.Is(err, repository.ErrInvalidState):
			// The registration already left pending: an earlier re-drive
			// got here first, or the user cancelled while paying. Either
			// way the effect is spent; operations reviews cancelled-paid
			// sessions for refunds.
			log.Printf("settlement: registration %s not pending, session %s treated as applied", session.ReferenceID, session.ID)
		default:
			return false, err
		}

	case model.KindWalletTopUp:
		if _, err := e.wallet.ApplyTopUp(ctx, session.ReferenceID, session.AmountCents, session.ExternalSessionID); err != nil {
			return false, err
		}

	case model.KindApplicationFee:
		app, err := e.applications.MarkPaid(ctx, session.ReferenceID, session.ID)
		if err != nil {
			return false, err
		}
		e.notify.Emit(ctx, app.VendorUserID, "Your application fee has been received.")

	default:
		return false, fmt.Errorf("unknown session kind %q", session.Kind)
	}

	if _, err := e.sessions.MarkApplied(ctx, session.ID); err != nil {
		return refundRequired, err
	}
	return refundRequired, nil
}

// notifyFailure tells the affected user their payment did not go through.
// Resolution failures only cost the notification, never the settlement.
func (e *SettlementEngine) notifyFailure(ctx context.Context, session *model.PaymentSession) {
	switch session.Kind {
	case model.KindWalletTopUp:
		e.notify.Emit(ctx, session.ReferenceID, "Your wallet top-up payment failed.")
	case model.KindEventRegistration:
		reg, err := e.registrations.Get(ctx, session.ReferenceID)
		if err != nil {
			log.Printf("settlement: cannot resolve registration %s for failure notice: %v", session.ReferenceID, err)
			return
		}
		e.notify.Emit(ctx, reg.UserID, "Your payment didn't go through. Your spot is not confirmed.")
	case model.KindApplicationFee:
		log.Printf("settlement: fee payment failed for application %s (session %s)", session.ReferenceID, session.ID)
	}
}
