package model

import "time"

// Machine is one physical rental unit.  Machines are non-fungible:
// reservations target a specific machine ID, never a pool.
//
// Fields:
//  ID               – primary key identifier.
//  Name             – display name.
//  Category         – category slug used for lead-time configuration.
//  DayRateCents     – rental price per day in cents.
//  DeliveryFeeCents – flat delivery fee in cents (0 when pick-up only).
//  LeadTimeRequired – whether the lead-time rule applies to this machine.
//  Active           – inactive machines reject new holds.
//  CreatedAt        – creation timestamp.
type Machine struct {
    ID               uint64    // machines.id
    Name             string    // machines.name
    Category         string    // machines.category
    DayRateCents     int64     // machines.day_rate_cents
    DeliveryFeeCents int64     // machines.delivery_fee_cents
    LeadTimeRequired bool      // machines.lead_time_required
    Active           bool      // machines.active
    CreatedAt        time.Time // machines.created_at
}
