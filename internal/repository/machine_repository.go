package repository

import (
    "context"
    "database/sql"

    "github.com/rentalworks/machine-booking/internal/model"
)

// MachineRepo provides read access to the machine catalog.  Machines are
// configured out of band; the booking core only needs their pricing and
// lead-time attributes.
type MachineRepo struct {
    db *sql.DB
}

// NewMachineRepo returns a new MachineRepo bound to the given database.
func NewMachineRepo(db *sql.DB) *MachineRepo { return &MachineRepo{db: db} }

const machineColumns = `id, name, category, day_rate_cents, delivery_fee_cents, lead_time_required, active, created_at`

// GetByID returns a machine by primary key.  sql.ErrNoRows is returned
// when it does not exist.
func (r *MachineRepo) GetByID(ctx context.Context, id uint64) (*model.Machine, error) {
    var m model.Machine
    err := r.db.QueryRowContext(ctx,
        `SELECT `+machineColumns+` FROM machines WHERE id = ?`, id,
    ).Scan(&m.ID, &m.Name, &m.Category, &m.DayRateCents, &m.DeliveryFeeCents, &m.LeadTimeRequired, &m.Active, &m.CreatedAt)
    if err != nil {
        return nil, err
    }
    return &m, nil
}

// ListActive returns all machines currently accepting reservations,
// ordered by name.
func (r *MachineRepo) ListActive(ctx context.Context) ([]model.Machine, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+machineColumns+` FROM machines WHERE active = 1 ORDER BY name`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    machines := make([]model.Machine, 0)
    for rows.Next() {
        var m model.Machine
        if err := rows.Scan(&m.ID, &m.Name, &m.Category, &m.DayRateCents, &m.DeliveryFeeCents, &m.LeadTimeRequired, &m.Active, &m.CreatedAt); err != nil {
            return nil, err
        }
        machines = append(machines, m)
    }
    return machines, rows.Err()
}
