package repository

import (
    "context"
    "database/sql"
)

// PaymentEventRepo records processed external payment events.  The
// external event identifier carries a unique index, which makes the
// table the idempotency ledger for webhook delivery: the first insert
// wins, every redelivery hits the duplicate-key path.
type PaymentEventRepo struct {
    db *sql.DB
}

// NewPaymentEventRepo returns a new PaymentEventRepo bound to the given database.
func NewPaymentEventRepo(db *sql.DB) *PaymentEventRepo { return &PaymentEventRepo{db: db} }

// Insert attempts to record the external event identifier
// unconditionally.  It returns true when this call inserted the row and
// false when the identifier was already recorded — the duplicate case is
// not an error, it means the event was handled before and the caller
// must skip all side effects.
func (r *PaymentEventRepo) Insert(ctx context.Context, externalEventID string) (bool, error) {
    _, err := r.db.ExecContext(ctx,
        `INSERT INTO payment_events (external_event_id, received_at) VALUES (?, UTC_TIMESTAMP())`,
        externalEventID,
    )
    if err != nil {
        if isDuplicateKey(err) {
            return false, nil
        }
        return false, err
    }
    return true, nil
}
