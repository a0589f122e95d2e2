package model

import "time"

// WorkItem types.  The set is closed: the job runner owns a fixed
// dispatch table and unknown types are permanently failed.
const (
    JobIssueInvoice       = "issue-invoice"
    JobCustomerNotify     = "send-customer-notification"
    JobInternalNotify     = "send-internal-notification"
    JobInvoiceReadyNotify = "send-invoice-ready"
)

// WorkItem status values.  A pending item may be claimed by exactly one
// worker; a claimed item either completes or returns to pending with an
// incremented attempt counter until attempts are exhausted.
const (
    WorkPending   = "pending"
    WorkClaimed   = "claimed"
    WorkCompleted = "completed"
    WorkFailed    = "failed"
)

// WorkItem is a durable unit of asynchronous work attached to a
// reservation.  At most one item exists per (reservation, type) pair,
// which makes enqueueing idempotent even when the caller retries.
//
// Fields:
//  ID            – primary key identifier.
//  ReservationID – reservation the work belongs to.
//  Type          – one of the Job* constants.
//  Status        – pending, claimed, completed or failed.
//  Attempts      – number of executions so far.
//  MaxAttempts   – retry budget before the item is parked as failed.
//  Payload       – JSON payload decoded by the type's handler.
//  Result        – JSON result recorded on success (nullable).
//  LastError     – cause of the most recent failure (nullable).
//  CompletedAt   – completion timestamp (nullable).
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type WorkItem struct {
    ID            uint64     // work_items.id
    ReservationID uint64     // work_items.reservation_id
    Type          string     // work_items.type
    Status        string     // work_items.status
    Attempts      int        // work_items.attempts
    MaxAttempts   int        // work_items.max_attempts
    Payload       []byte     // work_items.payload (JSON)
    Result        []byte     // work_items.result (JSON, nullable)
    LastError     *string    // work_items.last_error (nullable)
    CompletedAt   *time.Time // work_items.completed_at (nullable)
    CreatedAt     time.Time  // work_items.created_at
    UpdatedAt     time.Time  // work_items.updated_at
}
