package model

import "time"

// Reservation status values.  PENDING reservations hold a date range
// until their hold expires or payment confirms them.  CONFIRMED and
// CANCELLED are terminal.
const (
    ReservationPending   = "PENDING"
    ReservationConfirmed = "CONFIRMED"
    ReservationCancelled = "CANCELLED"
)

// Reservation records a booking of one machine for an inclusive date
// range.  At most one reservation in {PENDING, CONFIRMED} may cover any
// given day of a machine's calendar.  While the reservation is PENDING
// the row also acts as a hold: HoldExpiresAt marks the moment the range
// is released again if payment never arrives.
//
// Fields:
//  ID                – primary key identifier.
//  Reference         – opaque public identifier handed to the customer.
//  MachineID         – machine being rented.
//  StartDate         – first rental day (inclusive, date only, UTC).
//  EndDate           – last rental day (inclusive, date only, UTC).
//  Status            – PENDING, CONFIRMED or CANCELLED.
//  HoldExpiresAt     – hold expiry; meaningful only while PENDING.
//  CustomerName      – customer display name.
//  CustomerEmail     – customer e-mail; identity key for hold reuse.
//  CustomerPhone     – optional phone number.
//  CompanyTaxID      – optional business tax identifier for discounts.
//  SubtotalCents     – pre-discount total in cents.
//  DiscountPct       – discount percentage snapshot applied at checkout.
//  TotalCents        – authoritative charged total in cents.
//  ExternalPaymentID – payment processor reference once confirmed.
//  CreatedAt         – creation timestamp.
//  UpdatedAt         – last update timestamp.
type Reservation struct {
    ID                uint64     // reservations.id
    Reference         string     // reservations.reference
    MachineID         uint64     // reservations.machine_id
    StartDate         time.Time  // reservations.start_date
    EndDate           time.Time  // reservations.end_date
    Status            string     // reservations.status
    HoldExpiresAt     time.Time  // reservations.hold_expires_at
    CustomerName      string     // reservations.customer_name
    CustomerEmail     string     // reservations.customer_email
    CustomerPhone     *string    // reservations.customer_phone (nullable)
    CompanyTaxID      *string    // reservations.company_tax_id (nullable)
    SubtotalCents     int64      // reservations.subtotal_cents
    DiscountPct       int        // reservations.discount_pct
    TotalCents        int64      // reservations.total_cents
    ExternalPaymentID *string    // reservations.external_payment_id (nullable)
    CreatedAt         time.Time  // reservations.created_at
    UpdatedAt         time.Time  // reservations.updated_at
}

// Charge models for line items.  Flat lines are billed once per
// reservation regardless of quantity or duration; per-unit lines are
// billed per quantity unit.
const (
    ChargeFlat    = "FLAT"
    ChargePerUnit = "PER_UNIT"
)

// Time units for line items.
const (
    TimeUnitNone = "NONE"
    TimeUnitDay  = "DAY"
    TimeUnitHour = "HOUR"
)

// ReservationLineItem snapshots one priced component of a reservation
// (the machine itself or an add-on) at the moment the hold was created.
// Line items are immutable once the hold's reuse window closes; their
// summed value equals the reservation's TotalCents to the cent.
//
// Fields:
//  ID            – primary key identifier.
//  ReservationID – owning reservation.
//  ItemKey       – stable key used for deterministic ordering.
//  Name          – display name shown on invoices.
//  UnitCents     – unit price in cents (post-discount).
//  Quantity      – number of units.
//  ChargeModel   – FLAT or PER_UNIT.
//  TimeUnit      – NONE, DAY or HOUR.
//  Primary       – marks the machine line as opposed to add-ons.
//  CreatedAt     – creation timestamp.
type ReservationLineItem struct {
    ID            uint64    // reservation_line_items.id
    ReservationID uint64    // reservation_line_items.reservation_id
    ItemKey       string    // reservation_line_items.item_key
    Name          string    // reservation_line_items.name
    UnitCents     int64     // reservation_line_items.unit_cents
    Quantity      int64     // reservation_line_items.quantity
    ChargeModel   string    // reservation_line_items.charge_model
    TimeUnit      string    // reservation_line_items.time_unit
    Primary       bool      // reservation_line_items.is_primary
    CreatedAt     time.Time // reservation_line_items.created_at
}
