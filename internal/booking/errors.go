package booking

import (
    "errors"
    "fmt"
    "time"
)

// ErrMachineUnavailable is returned when the requested machine does not
// exist or no longer accepts reservations.
var ErrMachineUnavailable = errors.New("machine unavailable")

// ErrInvalidRange is returned when the requested date range is malformed
// (missing dates, end before start) or required customer fields are empty.
var ErrInvalidRange = errors.New("invalid reservation request")

// OverlapError reports that the requested date range collides with an
// active reservation for the same machine.  It is an expected domain
// outcome, not a system failure: handlers map it to an actionable
// conflict response, never to a generic 500.
type OverlapError struct {
    MachineID uint64
    StartDate time.Time
    EndDate   time.Time
}

func (e *OverlapError) Error() string {
    return fmt.Sprintf("machine %d is already reserved between %s and %s",
        e.MachineID, e.StartDate.Format("2006-01-02"), e.EndDate.Format("2006-01-02"))
}

// LeadTimeError reports that the requested start date violates the
// machine's lead-time rule.  EarliestStart carries the first day that
// would be accepted so callers can render a precise remediation message.
type LeadTimeError struct {
    EarliestStart time.Time
    LeadDays      int
}

func (e *LeadTimeError) Error() string {
    return fmt.Sprintf("start date requires %d day(s) of lead time; earliest allowed is %s",
        e.LeadDays, e.EarliestStart.Format("2006-01-02"))
}
