package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/rentalworks/machine-booking/internal/model"
)

// ReservationRepo provides data access for reservations and their line
// items.  All timestamp comparisons happen in UTC; date columns carry
// calendar days only.  Status transitions are implemented as conditional
// updates so two callers racing to transition the same reservation can
// never both win: exactly one update affects a row, the other observes
// zero rows affected.
type ReservationRepo struct {
    db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying handle for callers that need to compose
// repository calls into a wider transaction.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

// NewReservation carries everything needed to persist a fresh PENDING
// hold: the target machine and range, the customer identity, the pricing
// snapshot and the line items computed at checkout.
type NewReservation struct {
    Reference     string
    MachineID     uint64
    StartDate     time.Time
    EndDate       time.Time
    HoldExpiresAt time.Time
    CustomerName  string
    CustomerEmail string
    CustomerPhone *string
    CompanyTaxID  *string
    SubtotalCents int64
    DiscountPct   int
    TotalCents    int64
    Lines         []model.ReservationLineItem
}

const reservationColumns = `id, reference, machine_id, start_date, end_date, status, hold_expires_at,
       customer_name, customer_email, customer_phone, company_tax_id,
       subtotal_cents, discount_pct, total_cents, external_payment_id, created_at, updated_at`

func scanReservation(row *sql.Row) (*model.Reservation, error) {
    var res model.Reservation
    var phone, taxID, payID sql.NullString
    err := row.Scan(
        &res.ID, &res.Reference, &res.MachineID, &res.StartDate, &res.EndDate, &res.Status, &res.HoldExpiresAt,
        &res.CustomerName, &res.CustomerEmail, &phone, &taxID,
        &res.SubtotalCents, &res.DiscountPct, &res.TotalCents, &payID, &res.CreatedAt, &res.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    if phone.Valid {
        v := phone.String
        res.CustomerPhone = &v
    }
    if taxID.Valid {
        v := taxID.String
        res.CompanyTaxID = &v
    }
    if payID.Valid {
        v := payID.String
        res.ExternalPaymentID = &v
    }
    return &res, nil
}

// CreateOrReusePending creates a PENDING hold for the given machine and
// date range, or extends an existing identical hold.  The whole flow
// runs in one transaction:
//
//  1. PENDING rows for the machine whose hold already lapsed are
//     cancelled, so a stale hold never blocks a fresh request between
//     sweep runs.
//  2. A PENDING row with the exact same machine, range and customer
//     e-mail is reused: its hold expiry is pushed forward (never
//     backward) and the row is returned with reused=true.  This makes
//     resubmission during a multi-step checkout idempotent.
//  3. Otherwise the new row is inserted and the active overlap count for
//     the range is re-checked inside the same transaction.  More than
//     one active row means a concurrent writer got there first; the
//     transaction rolls back and ErrOverlap is returned.  This recheck,
//     not the advisory lock around the call, is the final arbiter of the
//     overlap invariant.
//
// Callers are expected to wrap this in MachineLockRepo.WithMachineLock
// to serialize writers per machine and avoid rollback churn under load.
func (r *ReservationRepo) CreateOrReusePending(ctx context.Context, n NewReservation) (*model.Reservation, bool, error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return nil, false, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    // Release lapsed holds for this machine before checking availability.
    _, err = tx.ExecContext(ctx,
        `UPDATE reservations SET status = 'CANCELLED', updated_at = UTC_TIMESTAMP()
         WHERE machine_id = ? AND status = 'PENDING' AND hold_expires_at <= UTC_TIMESTAMP()`,
        n.MachineID,
    )
    if err != nil {
        return nil, false, err
    }

    start := n.StartDate.Format("2006-01-02")
    end := n.EndDate.Format("2006-01-02")

    // Reuse an identical pending hold from the same customer.
    var existingID uint64
    err = tx.QueryRowContext(ctx,
        `SELECT id FROM reservations
         WHERE machine_id = ? AND start_date = ? AND end_date = ? AND customer_email = ? AND status = 'PENDING'
         FOR UPDATE`,
        n.MachineID, start, end, n.CustomerEmail,
    ).Scan(&existingID)
    switch {
    case err == nil:
        // Forward-only extension: GREATEST keeps the later expiry.
        _, err = tx.ExecContext(ctx,
            `UPDATE reservations
             SET hold_expires_at = GREATEST(hold_expires_at, ?), updated_at = UTC_TIMESTAMP()
             WHERE id = ?`,
            n.HoldExpiresAt.UTC().Format("2006-01-02 15:04:05"), existingID,
        )
        if err != nil {
            return nil, false, err
        }
        res, err := r.getByIDTx(ctx, tx, existingID)
        if err != nil {
            return nil, false, err
        }
        if err := tx.Commit(); err != nil {
            return nil, false, err
        }
        committed = true
        return res, true, nil
    case err != sql.ErrNoRows:
        return nil, false, err
    }

    // Cheap pre-check: lock and count active rows overlapping the range.
    // Two inclusive ranges overlap when each starts before the other ends.
    const overlapQ = `SELECT COUNT(*) FROM reservations
                      WHERE machine_id = ? AND status IN ('PENDING','CONFIRMED')
                        AND start_date <= ? AND end_date >= ?
                      FOR UPDATE`
    var active int
    if err := tx.QueryRowContext(ctx, overlapQ, n.MachineID, end, start).Scan(&active); err != nil {
        return nil, false, err
    }
    if active > 0 {
        return nil, false, ErrOverlap
    }

    result, err := tx.ExecContext(ctx,
        `INSERT INTO reservations
         (reference, machine_id, start_date, end_date, status, hold_expires_at,
          customer_name, customer_email, customer_phone, company_tax_id,
          subtotal_cents, discount_pct, total_cents)
         VALUES (?, ?, ?, ?, 'PENDING', ?, ?, ?, ?, ?, ?, ?, ?)`,
        n.Reference, n.MachineID, start, end, n.HoldExpiresAt.UTC().Format("2006-01-02 15:04:05"),
        n.CustomerName, n.CustomerEmail, n.CustomerPhone, n.CompanyTaxID,
        n.SubtotalCents, n.DiscountPct, n.TotalCents,
    )
    if err != nil {
        return nil, false, err
    }
    id, err := result.LastInsertId()
    if err != nil {
        return nil, false, err
    }

    // Final arbiter: with our row inserted, exactly one active row may
    // cover the range.  Anything more means a concurrent writer won.
    if err := tx.QueryRowContext(ctx, overlapQ, n.MachineID, end, start).Scan(&active); err != nil {
        return nil, false, err
    }
    if active > 1 {
        return nil, false, ErrOverlap
    }

    if err := r.createLinesTx(ctx, tx, uint64(id), n.Lines); err != nil {
        return nil, false, err
    }
    res, err := r.getByIDTx(ctx, tx, uint64(id))
    if err != nil {
        return nil, false, err
    }
    if err := tx.Commit(); err != nil {
        return nil, false, err
    }
    committed = true
    return res, false, nil
}

// createLinesTx inserts the line items for a reservation in a single
// statement.  Passing an empty slice has no effect and returns nil.
func (r *ReservationRepo) createLinesTx(ctx context.Context, tx *sql.Tx, reservationID uint64, lines []model.ReservationLineItem) error {
    if len(lines) == 0 {
        return nil
    }
    query := `INSERT INTO reservation_line_items
              (reservation_id, item_key, name, unit_cents, quantity, charge_model, time_unit, is_primary) VALUES `
    args := make([]interface{}, 0, len(lines)*8)
    for i, l := range lines {
        if i > 0 {
            query += ","
        }
        query += "(?, ?, ?, ?, ?, ?, ?, ?)"
        args = append(args, reservationID, l.ItemKey, l.Name, l.UnitCents, l.Quantity, l.ChargeModel, l.TimeUnit, l.Primary)
    }
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

func (r *ReservationRepo) getByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error) {
    return scanReservation(tx.QueryRowContext(ctx,
        `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
}

// GetByID returns a reservation by primary key.  sql.ErrNoRows is
// returned when it does not exist.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
    return scanReservation(r.db.QueryRowContext(ctx,
        `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
}

// GetByReference returns a reservation by its public opaque reference.
func (r *ReservationRepo) GetByReference(ctx context.Context, reference string) (*model.Reservation, error) {
    return scanReservation(r.db.QueryRowContext(ctx,
        `SELECT `+reservationColumns+` FROM reservations WHERE reference = ?`, reference))
}

// TryPromote transitions a reservation from PENDING to CONFIRMED and
// records the external payment reference.  It returns true when this
// call performed the transition and false when the reservation was not
// PENDING anymore (already confirmed or cancelled) — callers treat the
// false case as "someone else already did this", not as an error.
func (r *ReservationRepo) TryPromote(ctx context.Context, id uint64, externalPaymentID string) (bool, error) {
    result, err := r.db.ExecContext(ctx,
        `UPDATE reservations
         SET status = 'CONFIRMED', external_payment_id = ?, updated_at = UTC_TIMESTAMP()
         WHERE id = ? AND status = 'PENDING'`,
        externalPaymentID, id,
    )
    if err != nil {
        return false, err
    }
    affected, err := result.RowsAffected()
    if err != nil {
        return false, err
    }
    return affected == 1, nil
}

// TryCancel transitions a reservation from PENDING to CANCELLED.  Like
// TryPromote it reports whether this call won the transition; cancelling
// a reservation that is not PENDING is a no-op.
func (r *ReservationRepo) TryCancel(ctx context.Context, id uint64) (bool, error) {
    result, err := r.db.ExecContext(ctx,
        `UPDATE reservations
         SET status = 'CANCELLED', updated_at = UTC_TIMESTAMP()
         WHERE id = ? AND status = 'PENDING'`,
        id,
    )
    if err != nil {
        return false, err
    }
    affected, err := result.RowsAffected()
    if err != nil {
        return false, err
    }
    return affected == 1, nil
}

// ListDuePending returns the IDs of PENDING reservations whose hold has
// lapsed.  The expiry sweep cancels each via TryCancel, which is safe to
// race against concurrent promotions: whichever transition wins, the
// other affects zero rows.
func (r *ReservationRepo) ListDuePending(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id FROM reservations
         WHERE status = 'PENDING' AND hold_expires_at <= ?
         ORDER BY hold_expires_at LIMIT ?`,
        now.UTC().Format("2006-01-02 15:04:05"), limit,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var ids []uint64
    for rows.Next() {
        var id uint64
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        ids = append(ids, id)
    }
    return ids, rows.Err()
}

// LineItems returns the line items of a reservation ordered by their
// stable item key.
func (r *ReservationRepo) LineItems(ctx context.Context, reservationID uint64) ([]model.ReservationLineItem, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id, reservation_id, item_key, name, unit_cents, quantity, charge_model, time_unit, is_primary, created_at
         FROM reservation_line_items WHERE reservation_id = ? ORDER BY item_key`,
        reservationID,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var lines []model.ReservationLineItem
    for rows.Next() {
        var l model.ReservationLineItem
        if err := rows.Scan(&l.ID, &l.ReservationID, &l.ItemKey, &l.Name, &l.UnitCents, &l.Quantity, &l.ChargeModel, &l.TimeUnit, &l.Primary, &l.CreatedAt); err != nil {
            return nil, err
        }
        lines = append(lines, l)
    }
    return lines, rows.Err()
}

// ListRecent returns the newest reservations for operator review.
func (r *ReservationRepo) ListRecent(ctx context.Context, limit int) ([]model.Reservation, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+reservationColumns+` FROM reservations ORDER BY created_at DESC LIMIT ?`, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make([]model.Reservation, 0)
    for rows.Next() {
        var res model.Reservation
        var phone, taxID, payID sql.NullString
        if err := rows.Scan(
            &res.ID, &res.Reference, &res.MachineID, &res.StartDate, &res.EndDate, &res.Status, &res.HoldExpiresAt,
            &res.CustomerName, &res.CustomerEmail, &phone, &taxID,
            &res.SubtotalCents, &res.DiscountPct, &res.TotalCents, &payID, &res.CreatedAt, &res.UpdatedAt,
        ); err != nil {
            return nil, err
        }
        if phone.Valid {
            v := phone.String
            res.CustomerPhone = &v
        }
        if taxID.Valid {
            v := taxID.String
            res.CompanyTaxID = &v
        }
        if payID.Valid {
            v := payID.String
            res.ExternalPaymentID = &v
        }
        out = append(out, res)
    }
    return out, rows.Err()
}
