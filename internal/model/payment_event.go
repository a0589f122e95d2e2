package model

import "time"

// PaymentEvent records an external payment notification that has been
// processed.  The external event identifier carries a unique index; an
// insert that violates it means the event was already handled and the
// redelivery must be treated as a no-op, not an error.
//
// Fields:
//  ID              – primary key identifier.
//  ExternalEventID – processor-assigned event identifier (unique).
//  ReceivedAt      – when the event was first recorded.
type PaymentEvent struct {
    ID              uint64    // payment_events.id
    ExternalEventID string    // payment_events.external_event_id
    ReceivedAt      time.Time // payment_events.received_at
}
