// Package jobs executes payment-triggered side effects durably.  Work
// items live in the database; workers claim them with conditional
// updates, so any number of runner processes can share the table without
// a lock manager.  Execution is at-least-once with bounded retries —
// the external collaborators are the place where effects become visible,
// and enqueueing follow-ups is guarded by the same (reservation, type)
// uniqueness that makes enqueueing idempotent everywhere else.
package jobs

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "go.uber.org/zap"

    "github.com/rentalworks/machine-booking/internal/model"
)

// Mail template names used by the notification jobs.
const (
    TemplateCustomerConfirmed = "booking-confirmed-customer"
    TemplateInternalConfirmed = "booking-confirmed-internal"
    TemplateInvoiceReady      = "invoice-ready"
)

// ItemStore is the slice of the work item repository the runner needs.
type ItemStore interface {
    CreateIfAbsent(ctx context.Context, reservationID uint64, typ string, payload []byte, maxAttempts int) (bool, error)
    OldestPending(ctx context.Context, limit int) ([]model.WorkItem, error)
    TryClaim(ctx context.Context, id uint64) (bool, error)
    MarkCompleted(ctx context.Context, id uint64, result []byte) error
    RecordFailure(ctx context.Context, id uint64, cause string) (status string, err error)
}

// ReservationReader loads the reservation facts job handlers need.
type ReservationReader interface {
    GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
    LineItems(ctx context.Context, reservationID uint64) ([]model.ReservationLineItem, error)
}

// confirmPayload is the payload attached to work items enqueued on
// payment confirmation.  Decoded at the queue boundary so handlers never
// poke at raw JSON.
type confirmPayload struct {
    ReservationID     uint64 `json:"reservation_id"`
    ExternalPaymentID string `json:"external_payment_id,omitempty"`
    ConfirmedAt       string `json:"confirmed_at,omitempty"`
}

// invoiceReadyPayload is the payload of the follow-up item enqueued once
// the invoicing vendor returned a document.
type invoiceReadyPayload struct {
    ReservationID uint64  `json:"reservation_id"`
    Invoice       Invoice `json:"invoice"`
}

// Runner claims and executes pending work items.  A periodic sweep
// guarantees progress; Kick lets the payment path nudge the runner for
// low latency without ever depending on it.
type Runner struct {
    items        ItemStore
    reservations ReservationReader
    invoicer     Invoicer
    mailer       Mailer
    log          *zap.Logger
    batch        int
    sweep        time.Duration
    kick         chan struct{}
}

// NewRunner wires a Runner.  All dependencies must be non-nil.
func NewRunner(items ItemStore, reservations ReservationReader, invoicer Invoicer, mailer Mailer, log *zap.Logger, batch int, sweep time.Duration) *Runner {
    if items == nil || reservations == nil || invoicer == nil || mailer == nil || log == nil {
        panic("nil dependency passed to jobs.NewRunner")
    }
    if batch <= 0 {
        batch = 10
    }
    if sweep <= 0 {
        sweep = time.Minute
    }
    return &Runner{
        items:        items,
        reservations: reservations,
        invoicer:     invoicer,
        mailer:       mailer,
        log:          log,
        batch:        batch,
        sweep:        sweep,
        kick:         make(chan struct{}, 1),
    }
}

// Kick requests an immediate sweep.  It never blocks: if a kick is
// already queued the new one is dropped, which is fine because one sweep
// drains everything pending.
func (r *Runner) Kick() {
    select {
    case r.kick <- struct{}{}:
    default:
    }
}

// Run processes work items until ctx is cancelled, waking on the sweep
// ticker or on Kick.
func (r *Runner) Run(ctx context.Context) {
    ticker := time.NewTicker(r.sweep)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
        case <-r.kick:
        }
        if _, err := r.RunOnce(ctx); err != nil {
            r.log.Error("job:sweep-error", zap.Error(err))
        }
    }
}

// RunOnce claims and executes one batch of the oldest pending items,
// returning the number of items this worker executed.  Items that fail
// retryably go back to pending and wait for a later sweep, which spaces
// retries out instead of hammering a struggling collaborator.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
    items, err := r.items.OldestPending(ctx, r.batch)
    if err != nil {
        return 0, err
    }
    executed := 0
    for _, item := range items {
        won, err := r.items.TryClaim(ctx, item.ID)
        if err != nil {
            return executed, err
        }
        if !won {
            // Another worker got there first.
            continue
        }
        r.log.Info("job:claimed",
            zap.Uint64("work_item_id", item.ID),
            zap.Uint64("reservation_id", item.ReservationID),
            zap.String("type", item.Type),
            zap.Int("attempt", item.Attempts+1),
        )
        r.finish(ctx, item, r.execute(ctx, item))
        executed++
    }
    return executed, nil
}

type result struct {
    body []byte
    err  error
}

// finish records the outcome of one claimed execution: completed on
// success, back to pending while the retry budget lasts, failed after.
// The retry-vs-failed decision belongs to the store, which reads the
// row's live attempt count; the snapshot in item predates the claim and
// may be stale under concurrent workers.
func (r *Runner) finish(ctx context.Context, item model.WorkItem, res result) {
    if res.err == nil {
        if err := r.items.MarkCompleted(ctx, item.ID, res.body); err != nil {
            r.log.Error("job:complete-error", zap.Uint64("work_item_id", item.ID), zap.Error(err))
            return
        }
        r.log.Info("job:completed", zap.Uint64("work_item_id", item.ID), zap.String("type", item.Type))
        return
    }
    cause := res.err.Error()
    status, err := r.items.RecordFailure(ctx, item.ID, cause)
    if err != nil {
        r.log.Error("job:failure-record-error", zap.Uint64("work_item_id", item.ID), zap.Error(err))
        return
    }
    if status == model.WorkFailed {
        r.log.Error("job:failed",
            zap.Uint64("work_item_id", item.ID),
            zap.String("type", item.Type),
            zap.String("cause", cause),
        )
        return
    }
    r.log.Warn("job:retry",
        zap.Uint64("work_item_id", item.ID),
        zap.String("type", item.Type),
        zap.String("cause", cause),
    )
}

// execute dispatches one claimed item to its type handler.
func (r *Runner) execute(ctx context.Context, item model.WorkItem) result {
    switch item.Type {
    case model.JobIssueInvoice:
        return r.issueInvoice(ctx, item)
    case model.JobCustomerNotify:
        return r.notifyConfirmed(ctx, item, TemplateCustomerConfirmed)
    case model.JobInternalNotify:
        return r.notifyConfirmed(ctx, item, TemplateInternalConfirmed)
    case model.JobInvoiceReadyNotify:
        return r.notifyInvoiceReady(ctx, item)
    default:
        // Closed enum: anything else is a bug and can never succeed; it
        // burns through its budget and parks as failed.
        return result{err: fmt.Errorf("unknown work item type %q", item.Type)}
    }
}

func (r *Runner) issueInvoice(ctx context.Context, item model.WorkItem) result {
    var p confirmPayload
    if err := json.Unmarshal(item.Payload, &p); err != nil {
        return result{err: fmt.Errorf("decode payload: %w", err)}
    }
    res, err := r.reservations.GetByID(ctx, item.ReservationID)
    if err != nil {
        return result{err: fmt.Errorf("load reservation: %w", err)}
    }
    lines, err := r.reservations.LineItems(ctx, item.ReservationID)
    if err != nil {
        return result{err: fmt.Errorf("load line items: %w", err)}
    }
    inv, err := r.invoicer.IssueInvoice(ctx, InvoiceFacts{
        ReservationID:     res.ID,
        Reference:         res.Reference,
        CustomerName:      res.CustomerName,
        CustomerEmail:     res.CustomerEmail,
        CompanyTaxID:      res.CompanyTaxID,
        Lines:             lines,
        TotalCents:        res.TotalCents,
        ExternalPaymentID: p.ExternalPaymentID,
    })
    if err != nil {
        return result{err: fmt.Errorf("issue invoice: %w", err)}
    }

    // Enqueue the invoice-ready notification before completing; the
    // (reservation, type) uniqueness absorbs a re-run after a crash in
    // between.
    followUp, err := json.Marshal(invoiceReadyPayload{ReservationID: res.ID, Invoice: *inv})
    if err != nil {
        return result{err: err}
    }
    if _, err := r.items.CreateIfAbsent(ctx, res.ID, model.JobInvoiceReadyNotify, followUp, item.MaxAttempts); err != nil {
        return result{err: fmt.Errorf("enqueue invoice-ready: %w", err)}
    }

    body, err := json.Marshal(inv)
    if err != nil {
        return result{err: err}
    }
    return result{body: body}
}

func (r *Runner) notifyConfirmed(ctx context.Context, item model.WorkItem, template string) result {
    var p confirmPayload
    if err := json.Unmarshal(item.Payload, &p); err != nil {
        return result{err: fmt.Errorf("decode payload: %w", err)}
    }
    res, err := r.reservations.GetByID(ctx, item.ReservationID)
    if err != nil {
        return result{err: fmt.Errorf("load reservation: %w", err)}
    }
    data := map[string]interface{}{
        "reference":      res.Reference,
        "customer_name":  res.CustomerName,
        "customer_email": res.CustomerEmail,
        "machine_id":     res.MachineID,
        "start_date":     res.StartDate.Format("2006-01-02"),
        "end_date":       res.EndDate.Format("2006-01-02"),
        "total_cents":    res.TotalCents,
        "confirmed_at":   p.ConfirmedAt,
    }
    if err := r.mailer.Send(ctx, template, data); err != nil {
        return result{err: fmt.Errorf("send %s: %w", template, err)}
    }
    return result{}
}

func (r *Runner) notifyInvoiceReady(ctx context.Context, item model.WorkItem) result {
    var p invoiceReadyPayload
    if err := json.Unmarshal(item.Payload, &p); err != nil {
        return result{err: fmt.Errorf("decode payload: %w", err)}
    }
    res, err := r.reservations.GetByID(ctx, item.ReservationID)
    if err != nil {
        return result{err: fmt.Errorf("load reservation: %w", err)}
    }
    data := map[string]interface{}{
        "reference":      res.Reference,
        "customer_name":  res.CustomerName,
        "customer_email": res.CustomerEmail,
        "invoice_number": p.Invoice.Number,
        "invoice_pdf":    p.Invoice.PDFURL,
    }
    if err := r.mailer.Send(ctx, TemplateInvoiceReady, data); err != nil {
        return result{err: fmt.Errorf("send %s: %w", TemplateInvoiceReady, err)}
    }
    return result{}
}
