package handler

import (
    "database/sql"
    "errors"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/rentalworks/machine-booking/internal/booking"
    "github.com/rentalworks/machine-booking/internal/model"
    "github.com/rentalworks/machine-booking/internal/repository"
)

// ReservationHandler exposes the customer-facing reservation flow:
// quoting, placing holds and reading reservations back by reference.
// Expected domain outcomes (overlap, lead time) map to structured 4xx
// responses with enough detail to render an actionable message; they are
// never logged or returned as server failures.
type ReservationHandler struct {
    Service *booking.Service
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(svc *booking.Service) *ReservationHandler {
    if svc == nil {
        panic("nil service passed to NewReservationHandler")
    }
    return &ReservationHandler{Service: svc}
}

// holdBody is the JSON body shared by hold and quote requests.
type holdBody struct {
    StartDate     string  `json:"start_date"` // YYYY-MM-DD, inclusive
    EndDate       string  `json:"end_date"`   // YYYY-MM-DD, inclusive
    CustomerName  string  `json:"customer_name"`
    CustomerEmail string  `json:"customer_email"`
    CustomerPhone *string `json:"customer_phone,omitempty"`
    CompanyTaxID  *string `json:"company_tax_id,omitempty"`
}

func (b holdBody) toRequest(machineID uint64) (booking.HoldRequest, error) {
    start, err := time.Parse("2006-01-02", b.StartDate)
    if err != nil {
        return booking.HoldRequest{}, err
    }
    end, err := time.Parse("2006-01-02", b.EndDate)
    if err != nil {
        return booking.HoldRequest{}, err
    }
    return booking.HoldRequest{
        MachineID:     machineID,
        StartDate:     start,
        EndDate:       end,
        CustomerName:  b.CustomerName,
        CustomerEmail: b.CustomerEmail,
        CustomerPhone: b.CustomerPhone,
        CompanyTaxID:  b.CompanyTaxID,
    }, nil
}

// writeDomainError maps the expected booking errors onto HTTP responses.
// It returns false when err is not a domain outcome and the caller
// should fall through to a 500.
func writeDomainError(c echo.Context, err error) (bool, error) {
    var overlap *booking.OverlapError
    if errors.As(err, &overlap) {
        return true, c.JSON(http.StatusConflict, echo.Map{
            "error":      "dates_unavailable",
            "machine_id": overlap.MachineID,
            "start_date": overlap.StartDate.Format("2006-01-02"),
            "end_date":   overlap.EndDate.Format("2006-01-02"),
        })
    }
    var lead *booking.LeadTimeError
    if errors.As(err, &lead) {
        return true, c.JSON(http.StatusUnprocessableEntity, echo.Map{
            "error":          "insufficient_lead_time",
            "lead_days":      lead.LeadDays,
            "earliest_start": lead.EarliestStart.Format("2006-01-02"),
        })
    }
    if errors.Is(err, booking.ErrMachineUnavailable) {
        return true, c.JSON(http.StatusNotFound, echo.Map{"error": "machine unavailable"})
    }
    if errors.Is(err, booking.ErrInvalidRange) {
        return true, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation request"})
    }
    if errors.Is(err, repository.ErrLockTimeout) {
        // Transient contention on the machine's lock; the client may retry.
        c.Response().Header().Set("Retry-After", "2")
        return true, c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "busy, retry shortly"})
    }
    return false, nil
}

func reservationJSON(res model.Reservation) echo.Map {
    return echo.Map{
        "reference":       res.Reference,
        "machine_id":      res.MachineID,
        "start_date":      res.StartDate.Format("2006-01-02"),
        "end_date":        res.EndDate.Format("2006-01-02"),
        "status":          res.Status,
        "hold_expires_at": res.HoldExpiresAt.UTC().Format(time.RFC3339),
        "subtotal_cents":  res.SubtotalCents,
        "discount_pct":    res.DiscountPct,
        "total_cents":     res.TotalCents,
    }
}

func lineItemsJSON(lines []model.ReservationLineItem) []echo.Map {
    out := make([]echo.Map, len(lines))
    for i, l := range lines {
        out[i] = echo.Map{
            "item_key":     l.ItemKey,
            "name":         l.Name,
            "unit_cents":   l.UnitCents,
            "quantity":     l.Quantity,
            "charge_model": l.ChargeModel,
            "time_unit":    l.TimeUnit,
            "primary":      l.Primary,
        }
    }
    return out
}

func machineJSON(m model.Machine) echo.Map {
    return echo.Map{
        "id":                 m.ID,
        "name":               m.Name,
        "category":           m.Category,
        "day_rate_cents":     m.DayRateCents,
        "delivery_fee_cents": m.DeliveryFeeCents,
        "lead_time_required": m.LeadTimeRequired,
    }
}

// PlaceHold handles POST /v1/machines/:id/holds.  It creates a PENDING
// hold for the requested range, or extends an identical existing hold
// from the same customer.  Returns 201 with the reservation either way;
// the response carries the (possibly extended) hold expiry.
func (h *ReservationHandler) PlaceHold(c echo.Context) error {
    machineID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || machineID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid machine id"})
    }
    var body holdBody
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    req, err := body.toRequest(machineID)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "dates must be YYYY-MM-DD"})
    }
    res, err := h.Service.PlaceHold(c.Request().Context(), req)
    if err != nil {
        if handled, werr := writeDomainError(c, err); handled {
            return werr
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to place hold"})
    }
    return c.JSON(http.StatusCreated, reservationJSON(*res))
}

// Quote handles POST /v1/machines/:id/quote.  It prices the requested
// range without writing anything, so the storefront can display the
// exact charge before the customer commits.
func (h *ReservationHandler) Quote(c echo.Context) error {
    machineID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || machineID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid machine id"})
    }
    var body holdBody
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    req, err := body.toRequest(machineID)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "dates must be YYYY-MM-DD"})
    }
    quote, err := h.Service.QuoteFor(c.Request().Context(), req)
    if err != nil {
        if handled, werr := writeDomainError(c, err); handled {
            return werr
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to quote"})
    }
    return c.JSON(http.StatusOK, echo.Map{
        "lines":          lineItemsJSON(quote.Lines),
        "subtotal_cents": quote.SubtotalCents,
        "discount_pct":   quote.DiscountPct,
        "total_cents":    quote.TotalCents,
    })
}

// GetReservation handles GET /v1/reservations/:reference.  The opaque
// reference is the only handle customers receive, so there is nothing to
// authorize beyond possession of it.
func (h *ReservationHandler) GetReservation(c echo.Context) error {
    reference := c.Param("reference")
    if reference == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reference"})
    }
    view, err := h.Service.Get(c.Request().Context(), reference)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch reservation"})
    }
    out := reservationJSON(view.Reservation)
    out["lines"] = lineItemsJSON(view.Lines)
    return c.JSON(http.StatusOK, echo.Map{"item": out})
}

// ListMachines handles GET /v1/machines.
func (h *ReservationHandler) ListMachines(c echo.Context) error {
    machines, err := h.Service.Machines(c.Request().Context())
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list machines"})
    }
    items := make([]echo.Map, len(machines))
    for i, m := range machines {
        items[i] = machineJSON(m)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}
