// Package payment applies external payment events to reservation state
// exactly once.  Delivery from the processor is at-least-once; the
// uniqueness of recorded event identifiers plus the ledger's conditional
// promotion make redeliveries and concurrent confirmations harmless.
package payment

import (
    "context"
    "encoding/json"
    "time"

    "go.uber.org/zap"

    "github.com/rentalworks/machine-booking/internal/model"
)

// Outcome values carried by a payment notification.
const (
    OutcomeSucceeded = "succeeded"
    OutcomeFailed    = "failed"
)

// Notification is the distilled payment event after signature
// verification: the processor's unique event identifier, the reservation
// it correlates to and the payment reference.
type Notification struct {
    ExternalEventID   string
    ReservationID     uint64
    Outcome           string
    ExternalPaymentID string
}

// EventStore records processed event identifiers.  Insert returns false
// when the identifier was seen before.
type EventStore interface {
    Insert(ctx context.Context, externalEventID string) (bool, error)
}

// Ledger is the slice of the reservation store reconciliation needs.
type Ledger interface {
    TryPromote(ctx context.Context, id uint64, externalPaymentID string) (bool, error)
}

// WorkEnqueuer creates work items idempotently.
type WorkEnqueuer interface {
    CreateIfAbsent(ctx context.Context, reservationID uint64, typ string, payload []byte, maxAttempts int) (bool, error)
}

// Kicker nudges the job runner after new work is enqueued.  It is a
// best-effort signal; the runner's periodic sweep picks up anything a
// lost kick leaves behind.
type Kicker interface {
    Kick(ctx context.Context)
}

// Reconciler drives the PENDING -> CONFIRMED transition from payment
// events.
type Reconciler struct {
    events      EventStore
    ledger      Ledger
    work        WorkEnqueuer
    kicker      Kicker // may be nil
    log         *zap.Logger
    maxAttempts int
}

// NewReconciler wires a Reconciler.  kicker may be nil when no broker is
// configured.
func NewReconciler(events EventStore, ledger Ledger, work WorkEnqueuer, kicker Kicker, log *zap.Logger, maxAttempts int) *Reconciler {
    if events == nil || ledger == nil || work == nil || log == nil {
        panic("nil dependency passed to payment.NewReconciler")
    }
    if maxAttempts <= 0 {
        maxAttempts = 5
    }
    return &Reconciler{events: events, ledger: ledger, work: work, kicker: kicker, log: log, maxAttempts: maxAttempts}
}

// JobPayload is the JSON payload attached to enqueued work items.
type JobPayload struct {
    ReservationID     uint64 `json:"reservation_id"`
    ExternalPaymentID string `json:"external_payment_id,omitempty"`
    ConfirmedAt       string `json:"confirmed_at,omitempty"`
}

// Handle processes one verified payment notification.  The protocol:
//
//  1. Record the external event id unconditionally.  A duplicate means
//     this delivery was seen before — it suppresses nothing by itself,
//     because step 2 must still run: a prior attempt may have recorded
//     the event and then failed transiently before promoting, and the
//     redelivery is the only chance to finish the job.
//  2. Conditionally promote the reservation.  Re-running the promotion
//     on a duplicate is harmless (zero rows affected when the earlier
//     attempt finished), and losing the race against a concurrent
//     worker is equally fine.  A promotion error is returned so the
//     processor redelivers; that redelivery retries the promotion via
//     the duplicate path.
//  3. On winning the promotion, enqueue the payment side effects.
//     Enqueueing is keyed on (reservation, type) uniqueness, so even a
//     buggy double-call stays safe.
//
// Downstream failures of invoicing or e-mail never surface here; they
// belong to the job queue.  The caller should acknowledge the
// notification whenever Handle returns nil.
func (r *Reconciler) Handle(ctx context.Context, n Notification) error {
    fresh, err := r.events.Insert(ctx, n.ExternalEventID)
    if err != nil {
        return err
    }
    if !fresh {
        r.log.Info("payment:duplicate", zap.String("event_id", n.ExternalEventID))
    }
    if n.Outcome != OutcomeSucceeded {
        // Failed payments leave the hold in place; it lapses on its own.
        r.log.Info("payment:ignored",
            zap.String("event_id", n.ExternalEventID),
            zap.String("outcome", n.Outcome),
            zap.Uint64("reservation_id", n.ReservationID),
        )
        return nil
    }

    won, err := r.ledger.TryPromote(ctx, n.ReservationID, n.ExternalPaymentID)
    if err != nil {
        return err
    }
    if !won {
        r.log.Info("promote:noop", zap.Uint64("reservation_id", n.ReservationID))
        return nil
    }
    r.log.Info("promote:confirmed",
        zap.Uint64("reservation_id", n.ReservationID),
        zap.String("external_payment_id", n.ExternalPaymentID),
    )

    // The event is durably recorded and the ledger transitioned; from
    // here on the notification is acknowledged no matter what.  Enqueue
    // trouble is logged for investigation instead of bouncing the
    // webhook: a redelivery would find the promotion already done and
    // never reach this block again.
    payload, _ := json.Marshal(JobPayload{
        ReservationID:     n.ReservationID,
        ExternalPaymentID: n.ExternalPaymentID,
        ConfirmedAt:       time.Now().UTC().Format(time.RFC3339),
    })
    for _, typ := range []string{model.JobIssueInvoice, model.JobCustomerNotify, model.JobInternalNotify} {
        created, err := r.work.CreateIfAbsent(ctx, n.ReservationID, typ, payload, r.maxAttempts)
        if err != nil {
            r.log.Error("job:enqueue-failed",
                zap.Uint64("reservation_id", n.ReservationID),
                zap.String("type", typ),
                zap.Error(err),
            )
            continue
        }
        if created {
            r.log.Info("job:enqueued", zap.Uint64("reservation_id", n.ReservationID), zap.String("type", typ))
        }
    }
    if r.kicker != nil {
        r.kicker.Kick(ctx)
    }
    return nil
}
