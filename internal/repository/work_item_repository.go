package repository

import (
    "context"
    "database/sql"

    "github.com/rentalworks/machine-booking/internal/model"
)

// WorkItemRepo stores durable units of asynchronous work.  The table
// carries a unique index on (reservation_id, type), so enqueueing the
// same job twice is a no-op, and claims are compare-and-swap updates, so
// two workers racing for the same item resolve without any external
// coordination.
type WorkItemRepo struct {
    db *sql.DB
}

// NewWorkItemRepo returns a new WorkItemRepo bound to the given database.
func NewWorkItemRepo(db *sql.DB) *WorkItemRepo { return &WorkItemRepo{db: db} }

// CreateIfAbsent enqueues a work item unless one already exists for the
// (reservation, type) pair.  It returns true when this call created the
// row; a duplicate is reported as false with no error.
func (r *WorkItemRepo) CreateIfAbsent(ctx context.Context, reservationID uint64, typ string, payload []byte, maxAttempts int) (bool, error) {
    _, err := r.db.ExecContext(ctx,
        `INSERT INTO work_items (reservation_id, type, status, attempts, max_attempts, payload)
         VALUES (?, ?, 'pending', 0, ?, ?)`,
        reservationID, typ, maxAttempts, payload,
    )
    if err != nil {
        if isDuplicateKey(err) {
            return false, nil
        }
        return false, err
    }
    return true, nil
}

const workItemColumns = `id, reservation_id, type, status, attempts, max_attempts, payload, result, last_error, completed_at, created_at, updated_at`

func scanWorkItem(scan func(dest ...interface{}) error) (model.WorkItem, error) {
    var w model.WorkItem
    var result []byte
    var lastErr sql.NullString
    var completedAt sql.NullTime
    err := scan(&w.ID, &w.ReservationID, &w.Type, &w.Status, &w.Attempts, &w.MaxAttempts,
        &w.Payload, &result, &lastErr, &completedAt, &w.CreatedAt, &w.UpdatedAt)
    if err != nil {
        return model.WorkItem{}, err
    }
    w.Result = result
    if lastErr.Valid {
        v := lastErr.String
        w.LastError = &v
    }
    if completedAt.Valid {
        t := completedAt.Time
        w.CompletedAt = &t
    }
    return w, nil
}

// OldestPending returns up to limit pending work items, oldest first.
// The returned items are candidates only; each must still be won with
// TryClaim before execution.
func (r *WorkItemRepo) OldestPending(ctx context.Context, limit int) ([]model.WorkItem, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+workItemColumns+` FROM work_items WHERE status = 'pending' ORDER BY created_at, id LIMIT ?`,
        limit,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var items []model.WorkItem
    for rows.Next() {
        w, err := scanWorkItem(rows.Scan)
        if err != nil {
            return nil, err
        }
        items = append(items, w)
    }
    return items, rows.Err()
}

// TryClaim flips a pending item to claimed.  Zero rows affected means
// another worker claimed it first; the caller skips the item silently.
func (r *WorkItemRepo) TryClaim(ctx context.Context, id uint64) (bool, error) {
    result, err := r.db.ExecContext(ctx,
        `UPDATE work_items SET status = 'claimed', updated_at = UTC_TIMESTAMP()
         WHERE id = ? AND status = 'pending'`,
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

// MarkCompleted records a successful execution together with its result.
func (r *WorkItemRepo) MarkCompleted(ctx context.Context, id uint64, result []byte) error {
    _, err := r.db.ExecContext(ctx,
        `UPDATE work_items
         SET status = 'completed', result = ?, completed_at = UTC_TIMESTAMP(), updated_at = UTC_TIMESTAMP()
         WHERE id = ? AND status = 'claimed'`,
        result, id,
    )
    return err
}

// RecordFailure increments the attempt counter of a claimed item and
// routes it in the same statement: back to pending while the retry
// budget lasts, parked as failed once it is exhausted.  The decision
// reads the row's own counters, so a stale snapshot held by the worker
// can never grant an execution beyond max_attempts.  The status column
// is assigned before attempts so the comparison sees the pre-increment
// value.  The resulting status is returned for logging; failed items
// are left for manual investigation.
func (r *WorkItemRepo) RecordFailure(ctx context.Context, id uint64, cause string) (string, error) {
    _, err := r.db.ExecContext(ctx,
        `UPDATE work_items
         SET status = IF(attempts + 1 >= max_attempts, 'failed', 'pending'),
             attempts = attempts + 1, last_error = ?, updated_at = UTC_TIMESTAMP()
         WHERE id = ? AND status = 'claimed'`,
        cause, id,
    )
    if err != nil {
        return "", err
    }
    var status string
    if err := r.db.QueryRowContext(ctx,
        `SELECT status FROM work_items WHERE id = ?`, id,
    ).Scan(&status); err != nil {
        return "", err
    }
    return status, nil
}

// ListByReservation returns all work items attached to a reservation,
// oldest first.  Used by the operator queue-inspection endpoint.
func (r *WorkItemRepo) ListByReservation(ctx context.Context, reservationID uint64) ([]model.WorkItem, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+workItemColumns+` FROM work_items WHERE reservation_id = ? ORDER BY created_at, id`,
        reservationID,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var items []model.WorkItem
    for rows.Next() {
        w, err := scanWorkItem(rows.Scan)
        if err != nil {
            return nil, err
        }
        items = append(items, w)
    }
    return items, rows.Err()
}

// ListRecent returns the newest work items across all reservations.
func (r *WorkItemRepo) ListRecent(ctx context.Context, limit int) ([]model.WorkItem, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+workItemColumns+` FROM work_items ORDER BY created_at DESC, id DESC LIMIT ?`,
        limit,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    items := make([]model.WorkItem, 0)
    for rows.Next() {
        w, err := scanWorkItem(rows.Scan)
        if err != nil {
            return nil, err
        }
        items = append(items, w)
    }
    return items, rows.Err()
}
