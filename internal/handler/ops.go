package handler

import (
    "context"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/rentalworks/machine-booking/internal/booking"
    "github.com/rentalworks/machine-booking/internal/model"
    "github.com/rentalworks/machine-booking/internal/utils"
)

// Promoter confirms a reservation out of band, e.g. for a phone booking
// paid by invoice.  *repository.ReservationRepo satisfies it.
type Promoter interface {
    TryPromote(ctx context.Context, id uint64, externalPaymentID string) (bool, error)
}

// WorkItemLister exposes the job queue for inspection.
// *repository.WorkItemRepo satisfies it.
type WorkItemLister interface {
    ListRecent(ctx context.Context, limit int) ([]model.WorkItem, error)
    ListByReservation(ctx context.Context, reservationID uint64) ([]model.WorkItem, error)
}

// OpsHandler serves the operator back office: login, direct reservation
// management and work queue inspection.  There is a single operations
// account, configured through the environment; all routes except login
// sit behind JWT auth.
type OpsHandler struct {
    Service       *booking.Service
    Promoter      Promoter
    WorkItems     WorkItemLister
    Log           *zap.Logger
    JWTSecret     string
    OperatorEmail string
    PasswordHash  string
    AccessTTLMin  int
}

type opsLoginBody struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}

// Login handles POST /v1/ops/login.  Invalid e-mail and invalid password
// produce the same response so the endpoint leaks nothing about which
// part was wrong.
func (h *OpsHandler) Login(c echo.Context) error {
    var body opsLoginBody
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.Email != h.OperatorEmail || !utils.VerifyPassword(h.PasswordHash, body.Password) {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
    }
    token, err := utils.NewAccessToken(h.JWTSecret, h.OperatorEmail, h.AccessTTLMin)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to issue token"})
    }
    h.Log.Info("ops:login", zap.String("operator", h.OperatorEmail))
    return c.JSON(http.StatusOK, echo.Map{
        "access_token": token.Token,
        "expires_at":   token.Exp.Format(time.RFC3339),
    })
}

type opsReservationBody struct {
    MachineID     uint64  `json:"machine_id"`
    StartDate     string  `json:"start_date"`
    EndDate       string  `json:"end_date"`
    CustomerName  string  `json:"customer_name"`
    CustomerEmail string  `json:"customer_email"`
    CustomerPhone *string `json:"customer_phone,omitempty"`
    CompanyTaxID  *string `json:"company_tax_id,omitempty"`
    Confirm       bool    `json:"confirm,omitempty"` // confirm immediately (paid out of band)
}

// CreateReservation handles POST /v1/ops/reservations.  Operator
// bookings bypass the lead-time rule; the overlap invariant still holds.
// With confirm set, the hold is promoted straight to CONFIRMED with a
// manual payment marker, for rentals paid by invoice or over the phone.
func (h *OpsHandler) CreateReservation(c echo.Context) error {
    var body opsReservationBody
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    start, err := time.Parse("2006-01-02", body.StartDate)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "dates must be YYYY-MM-DD"})
    }
    end, err := time.Parse("2006-01-02", body.EndDate)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "dates must be YYYY-MM-DD"})
    }
    req := booking.HoldRequest{
        MachineID:     body.MachineID,
        StartDate:     start,
        EndDate:       end,
        CustomerName:  body.CustomerName,
        CustomerEmail: body.CustomerEmail,
        CustomerPhone: body.CustomerPhone,
        CompanyTaxID:  body.CompanyTaxID,
        Operator:      true,
    }
    res, err := h.Service.PlaceHold(c.Request().Context(), req)
    if err != nil {
        if handled, werr := writeDomainError(c, err); handled {
            return werr
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create reservation"})
    }

    if body.Confirm {
        operator, _ := c.Get("operator").(string)
        won, err := h.Promoter.TryPromote(c.Request().Context(), res.ID, "manual:"+operator)
        if err != nil {
            return c.JSON(http.StatusInternalServerError, echo.Map{"error": "created but failed to confirm"})
        }
        if won {
            res.Status = model.ReservationConfirmed
            h.Log.Info("ops:confirmed", zap.Uint64("reservation_id", res.ID), zap.String("operator", operator))
        }
    }
    return c.JSON(http.StatusCreated, reservationJSON(*res))
}

// ListReservations handles GET /v1/ops/reservations.
func (h *OpsHandler) ListReservations(c echo.Context) error {
    limit, _ := strconv.Atoi(c.QueryParam("limit"))
    items, err := h.Service.ListRecent(c.Request().Context(), limit)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list reservations"})
    }
    out := make([]echo.Map, len(items))
    for i, res := range items {
        m := reservationJSON(res)
        m["id"] = res.ID
        m["customer_name"] = res.CustomerName
        m["customer_email"] = res.CustomerEmail
        out[i] = m
    }
    return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// CancelReservation handles DELETE /v1/ops/reservations/:id.  Only
// PENDING reservations can be cancelled; anything else reports a
// conflict so the operator knows payment already confirmed it.
func (h *OpsHandler) CancelReservation(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    won, err := h.Service.CancelPending(c.Request().Context(), id)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cancel"})
    }
    if !won {
        return c.JSON(http.StatusConflict, echo.Map{"error": "reservation is not pending"})
    }
    return c.NoContent(http.StatusNoContent)
}

func workItemJSON(w model.WorkItem) echo.Map {
    m := echo.Map{
        "id":             w.ID,
        "reservation_id": w.ReservationID,
        "type":           w.Type,
        "status":         w.Status,
        "attempts":       w.Attempts,
        "max_attempts":   w.MaxAttempts,
        "created_at":     w.CreatedAt.UTC().Format(time.RFC3339),
        "updated_at":     w.UpdatedAt.UTC().Format(time.RFC3339),
    }
    if w.LastError != nil {
        m["last_error"] = *w.LastError
    }
    if w.CompletedAt != nil {
        m["completed_at"] = w.CompletedAt.UTC().Format(time.RFC3339)
    }
    return m
}

// ListWorkItems handles GET /v1/ops/work-items.  With a reservation_id
// query parameter it narrows to one reservation's jobs, otherwise it
// returns the newest items across the queue.
func (h *OpsHandler) ListWorkItems(c echo.Context) error {
    var items []model.WorkItem
    var err error
    if raw := c.QueryParam("reservation_id"); raw != "" {
        id, perr := strconv.ParseUint(raw, 10, 64)
        if perr != nil || id == 0 {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
        }
        items, err = h.WorkItems.ListByReservation(c.Request().Context(), id)
    } else {
        limit, _ := strconv.Atoi(c.QueryParam("limit"))
        if limit <= 0 || limit > 200 {
            limit = 50
        }
        items, err = h.WorkItems.ListRecent(c.Request().Context(), limit)
    }
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list work items"})
    }
    out := make([]echo.Map, len(items))
    for i, w := range items {
        out[i] = workItemJSON(w)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": out})
}
