package repository

import (
    "context"
    "database/sql"
    "errors"
)

// DiscountRepo reads negotiated company discounts.  The records are
// owned by pricing configuration; the booking core never writes them.
type DiscountRepo struct {
    db *sql.DB
}

// NewDiscountRepo returns a new DiscountRepo bound to the given database.
func NewDiscountRepo(db *sql.DB) *DiscountRepo { return &DiscountRepo{db: db} }

// PercentForTaxID returns the discount percentage for a business tax
// identifier.  An unknown identifier simply gets no discount.
func (r *DiscountRepo) PercentForTaxID(ctx context.Context, taxID string) (int, error) {
    var pct int
    err := r.db.QueryRowContext(ctx,
        `SELECT percent FROM company_discounts WHERE tax_id = ?`, taxID,
    ).Scan(&pct)
    if errors.Is(err, sql.ErrNoRows) {
        return 0, nil
    }
    if err != nil {
        return 0, err
    }
    if pct < 0 {
        pct = 0
    }
    if pct > 100 {
        pct = 100
    }
    return pct, nil
}
