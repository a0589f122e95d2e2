// Package vendors holds the local implementations of the external
// collaborators the job runner talks to.  Production deployments swap
// these for real vendor clients; the core only sees the interfaces.
package vendors

import (
    "context"
    "fmt"

    "go.uber.org/zap"

    "github.com/rentalworks/machine-booking/internal/jobs"
)

// DevInvoicer issues deterministic placeholder invoices and logs them.
// It keeps the full pipeline runnable in environments without an
// invoicing vendor account: numbers derive from the reservation so a
// re-run produces the same document identifiers.
type DevInvoicer struct {
    Log *zap.Logger
}

// IssueInvoice implements jobs.Invoicer.
func (v *DevInvoicer) IssueInvoice(_ context.Context, facts jobs.InvoiceFacts) (*jobs.Invoice, error) {
    inv := &jobs.Invoice{
        ProviderID:        fmt.Sprintf("dev-%d", facts.ReservationID),
        Number:            fmt.Sprintf("INV-%d", facts.ReservationID),
        PDFURL:            fmt.Sprintf("https://invoices.local/%s.pdf", facts.Reference),
        TaxValidationCode: "",
    }
    v.Log.Info("invoice:issued",
        zap.Uint64("reservation_id", facts.ReservationID),
        zap.String("number", inv.Number),
        zap.Int64("total_cents", facts.TotalCents),
    )
    return inv, nil
}
