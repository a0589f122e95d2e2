// Package booking implements the reservation ledger's business rules:
// the per-machine concurrency gate, hold creation and reuse, the
// lead-time pre-check and the hold expiry sweep.  Persistence and
// locking are injected as narrow interfaces so the rules can be
// exercised without a database.
package booking

import (
    "context"
    "database/sql"
    "errors"
    "strings"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/rentalworks/machine-booking/internal/model"
    "github.com/rentalworks/machine-booking/internal/pricing"
    "github.com/rentalworks/machine-booking/internal/repository"
)

// ReservationStore is the slice of the reservation repository the
// service needs.  *repository.ReservationRepo satisfies it.
type ReservationStore interface {
    CreateOrReusePending(ctx context.Context, n repository.NewReservation) (*model.Reservation, bool, error)
    TryCancel(ctx context.Context, id uint64) (bool, error)
    GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
    GetByReference(ctx context.Context, reference string) (*model.Reservation, error)
    ListDuePending(ctx context.Context, now time.Time, limit int) ([]uint64, error)
    LineItems(ctx context.Context, reservationID uint64) ([]model.ReservationLineItem, error)
    ListRecent(ctx context.Context, limit int) ([]model.Reservation, error)
}

// Locker serializes reservation writes per machine.  Implementations may
// use a database advisory lock, a distributed lock service or an
// in-process mutex map; the store's overlap recheck stays the final
// arbiter either way.
type Locker interface {
    WithMachineLock(ctx context.Context, machineID uint64, fn func(context.Context) error) error
}

// MachineStore reads the machine catalog.
type MachineStore interface {
    GetByID(ctx context.Context, id uint64) (*model.Machine, error)
    ListActive(ctx context.Context) ([]model.Machine, error)
}

// DiscountStore resolves company discount percentages.
type DiscountStore interface {
    PercentForTaxID(ctx context.Context, taxID string) (int, error)
}

// Options carries the tunables of the booking rules.
type Options struct {
    HoldWindow     time.Duration  // how long a PENDING hold reserves its range
    LeadTimeDays   int            // minimum calendar days of lead time
    LeadCutoffHour int            // local hour after which one extra day is required
    Location       *time.Location // zone for the cutoff comparison
    Now            func() time.Time
}

// Service implements reservation creation and lifecycle operations.
type Service struct {
    store     ReservationStore
    locker    Locker
    machines  MachineStore
    discounts DiscountStore
    log       *zap.Logger
    opts      Options
}

// NewService wires a booking service.  All dependencies must be non-nil.
func NewService(store ReservationStore, locker Locker, machines MachineStore, discounts DiscountStore, log *zap.Logger, opts Options) *Service {
    if store == nil || locker == nil || machines == nil || discounts == nil || log == nil {
        panic("nil dependency passed to booking.NewService")
    }
    if opts.HoldWindow <= 0 {
        opts.HoldWindow = 30 * time.Minute
    }
    if opts.Location == nil {
        opts.Location = time.UTC
    }
    if opts.Now == nil {
        opts.Now = time.Now
    }
    return &Service{store: store, locker: locker, machines: machines, discounts: discounts, log: log, opts: opts}
}

// HoldRequest is a customer's (or operator's) request to reserve a
// machine for an inclusive date range.  Operator requests may bypass the
// lead-time rule; nothing else differs between the two paths.
type HoldRequest struct {
    MachineID     uint64
    StartDate     time.Time
    EndDate       time.Time
    CustomerName  string
    CustomerEmail string
    CustomerPhone *string
    CompanyTaxID  *string
    Operator      bool
}

// Quote is the priced breakdown of a requested rental before any hold is
// written.  Lines sum exactly to TotalCents.
type Quote struct {
    Lines         []model.ReservationLineItem
    SubtotalCents int64
    DiscountPct   int
    TotalCents    int64
}

// ReservationView bundles a reservation with its line items for callers
// that render the full record.
type ReservationView struct {
    Reservation model.Reservation
    Lines       []model.ReservationLineItem
}

// day truncates t to a UTC calendar day.
func day(t time.Time) time.Time {
    y, m, d := t.UTC().Date()
    return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// earliestAllowedStart computes the first start day the lead-time rule
// accepts: leadDays calendar days out, or one more once the local
// time-of-day has reached the cutoff hour.
func earliestAllowedStart(now time.Time, leadDays, cutoffHour int, loc *time.Location) time.Time {
    local := now.In(loc)
    days := leadDays
    if local.Hour() >= cutoffHour {
        days++
    }
    return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
}

func (s *Service) validate(req HoldRequest) error {
    if req.MachineID == 0 || req.StartDate.IsZero() || req.EndDate.IsZero() {
        return ErrInvalidRange
    }
    if day(req.EndDate).Before(day(req.StartDate)) {
        return ErrInvalidRange
    }
    if strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.CustomerEmail) == "" {
        return ErrInvalidRange
    }
    return nil
}

// QuoteFor prices the requested rental: the machine's day rate over the
// inclusive range, a flat delivery fee when configured, and the
// company's negotiated discount distributed cent-exactly across lines.
func (s *Service) QuoteFor(ctx context.Context, req HoldRequest) (*Quote, error) {
    if err := s.validate(req); err != nil {
        return nil, err
    }
    machine, err := s.machines.GetByID(ctx, req.MachineID)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrMachineUnavailable
    }
    if err != nil {
        return nil, err
    }
    if !machine.Active {
        return nil, ErrMachineUnavailable
    }

    days := int64(day(req.EndDate).Sub(day(req.StartDate))/(24*time.Hour)) + 1
    lines := []pricing.Line{{
        Key:       "machine-rental",
        Name:      machine.Name,
        UnitCents: machine.DayRateCents,
        Quantity:  days,
    }}
    if machine.DeliveryFeeCents > 0 {
        lines = append(lines, pricing.Line{
            Key:       "delivery",
            Name:      "Delivery & pick-up",
            UnitCents: machine.DeliveryFeeCents,
            Quantity:  1,
        })
    }

    pct := 0
    if req.CompanyTaxID != nil && *req.CompanyTaxID != "" {
        pct, err = s.discounts.PercentForTaxID(ctx, *req.CompanyTaxID)
        if err != nil {
            return nil, err
        }
    }
    subtotal := pricing.Total(lines)
    allocated, err := pricing.Allocate(lines, pct)
    if err != nil {
        // A failed allocation is a pricing bug, never something to work
        // around; the caller aborts checkout construction.
        return nil, err
    }

    out := make([]model.ReservationLineItem, len(allocated))
    for i, l := range allocated {
        item := model.ReservationLineItem{
            ItemKey:     l.Key,
            Name:        l.Name,
            UnitCents:   l.UnitCents,
            Quantity:    l.Quantity,
            ChargeModel: model.ChargePerUnit,
            TimeUnit:    model.TimeUnitDay,
            Primary:     l.Key == "machine-rental",
        }
        if l.Key == "delivery" {
            item.ChargeModel = model.ChargeFlat
            item.TimeUnit = model.TimeUnitNone
        }
        out[i] = item
    }
    return &Quote{
        Lines:         out,
        SubtotalCents: subtotal,
        DiscountPct:   pct,
        TotalCents:    pricing.Total(allocated),
    }, nil
}

// PlaceHold admits a reservation request through the concurrency gate.
// Inside the per-machine lock it either extends an identical existing
// hold (forward only) or inserts a fresh PENDING reservation; an
// overlapping active reservation surfaces as *OverlapError and a
// lead-time violation as *LeadTimeError.  Both are expected user-facing
// outcomes.
func (s *Service) PlaceHold(ctx context.Context, req HoldRequest) (*model.Reservation, error) {
    if err := s.validate(req); err != nil {
        return nil, err
    }
    machine, err := s.machines.GetByID(ctx, req.MachineID)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrMachineUnavailable
    }
    if err != nil {
        return nil, err
    }
    if !machine.Active {
        return nil, ErrMachineUnavailable
    }

    now := s.opts.Now().UTC()
    if machine.LeadTimeRequired && !req.Operator {
        earliest := earliestAllowedStart(now, s.opts.LeadTimeDays, s.opts.LeadCutoffHour, s.opts.Location)
        if day(req.StartDate).Before(earliest) {
            return nil, &LeadTimeError{EarliestStart: earliest, LeadDays: s.opts.LeadTimeDays}
        }
    }

    quote, err := s.QuoteFor(ctx, req)
    if err != nil {
        return nil, err
    }

    n := repository.NewReservation{
        Reference:     uuid.NewString(),
        MachineID:     req.MachineID,
        StartDate:     day(req.StartDate),
        EndDate:       day(req.EndDate),
        HoldExpiresAt: now.Add(s.opts.HoldWindow),
        CustomerName:  strings.TrimSpace(req.CustomerName),
        CustomerEmail: strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
        CustomerPhone: req.CustomerPhone,
        CompanyTaxID:  req.CompanyTaxID,
        SubtotalCents: quote.SubtotalCents,
        DiscountPct:   quote.DiscountPct,
        TotalCents:    quote.TotalCents,
        Lines:         quote.Lines,
    }

    var res *model.Reservation
    var reused bool
    err = s.locker.WithMachineLock(ctx, req.MachineID, func(ctx context.Context) error {
        var err error
        res, reused, err = s.store.CreateOrReusePending(ctx, n)
        return err
    })
    if errors.Is(err, repository.ErrOverlap) {
        return nil, &OverlapError{MachineID: req.MachineID, StartDate: day(req.StartDate), EndDate: day(req.EndDate)}
    }
    if err != nil {
        return nil, err
    }

    event := "hold:create"
    if reused {
        event = "hold:extend"
    }
    s.log.Info(event,
        zap.Uint64("reservation_id", res.ID),
        zap.Uint64("machine_id", res.MachineID),
        zap.String("reference", res.Reference),
        zap.Time("hold_expires_at", res.HoldExpiresAt),
        zap.Int64("total_cents", res.TotalCents),
    )
    return res, nil
}

// Get returns a reservation with its line items by public reference.
func (s *Service) Get(ctx context.Context, reference string) (*ReservationView, error) {
    res, err := s.store.GetByReference(ctx, reference)
    if err != nil {
        return nil, err
    }
    lines, err := s.store.LineItems(ctx, res.ID)
    if err != nil {
        return nil, err
    }
    return &ReservationView{Reservation: *res, Lines: lines}, nil
}

// ListRecent returns the newest reservations for operator review.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]model.Reservation, error) {
    if limit <= 0 || limit > 200 {
        limit = 50
    }
    return s.store.ListRecent(ctx, limit)
}

// CancelPending cancels a PENDING reservation.  Cancelling a reservation
// in any other state is a no-op and reported as won=false.
func (s *Service) CancelPending(ctx context.Context, id uint64) (bool, error) {
    won, err := s.store.TryCancel(ctx, id)
    if err != nil {
        return false, err
    }
    if won {
        s.log.Info("cancel:done", zap.Uint64("reservation_id", id))
    }
    return won, nil
}

// ExpireDue cancels PENDING reservations whose hold has lapsed.  It is
// safe to run concurrently with promotions: each cancellation is a
// conditional update and simply loses the race when payment confirmed
// the reservation first.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
    ids, err := s.store.ListDuePending(ctx, s.opts.Now().UTC(), 100)
    if err != nil {
        return 0, err
    }
    cancelled := 0
    for _, id := range ids {
        won, err := s.store.TryCancel(ctx, id)
        if err != nil {
            return cancelled, err
        }
        if won {
            cancelled++
        }
    }
    if cancelled > 0 {
        s.log.Info("sweep:cancelled", zap.Int("count", cancelled))
    }
    return cancelled, nil
}

// Machines lists the active machine catalog.
func (s *Service) Machines(ctx context.Context) ([]model.Machine, error) {
    return s.machines.ListActive(ctx)
}
