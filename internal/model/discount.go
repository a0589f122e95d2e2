package model

import "time"

// CompanyDiscount maps a business tax identifier to a negotiated
// percentage.  The booking core only reads these records; they are
// maintained by pricing configuration outside this service.
//
// Fields:
//  TaxID     – business tax identifier (primary key).
//  Percent   – discount percentage, 0–100.
//  CreatedAt – creation timestamp.
type CompanyDiscount struct {
    TaxID     string    // company_discounts.tax_id
    Percent   int       // company_discounts.percent
    CreatedAt time.Time // company_discounts.created_at
}
