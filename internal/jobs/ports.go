package jobs

import (
    "context"

    "github.com/rentalworks/machine-booking/internal/model"
)

// InvoiceFacts is everything the invoicing vendor needs to build the
// document for a confirmed reservation.
type InvoiceFacts struct {
    ReservationID     uint64
    Reference         string
    CustomerName      string
    CustomerEmail     string
    CompanyTaxID      *string
    Lines             []model.ReservationLineItem
    TotalCents        int64
    ExternalPaymentID string
}

// Invoice is the vendor's response for an issued invoice.
type Invoice struct {
    ProviderID        string `json:"provider_id"`
    Number            string `json:"number"`
    PDFURL            string `json:"pdf_url"`
    TaxValidationCode string `json:"tax_validation_code"`
}

// Invoicer is the external invoicing collaborator.  Implementations live
// outside this core; tests use fakes.
type Invoicer interface {
    IssueInvoice(ctx context.Context, facts InvoiceFacts) (*Invoice, error)
}

// Mailer is the external transactional-mail collaborator.  Template
// rendering happens on the vendor side; this core only names the
// template and supplies its data.
type Mailer interface {
    Send(ctx context.Context, template string, data map[string]interface{}) error
}
