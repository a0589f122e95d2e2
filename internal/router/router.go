package router // package router defines how HTTP routes are registered for the API

import (
    "github.com/labstack/echo/v4"

    "github.com/rentalworks/machine-booking/internal/handler"
    "github.com/rentalworks/machine-booking/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
    // Used by load balancers and monitoring to verify the service is up.
    e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the customer-facing storefront routes: the
// machine catalog, quoting, hold placement and reservation lookup by
// reference.  None of these require authentication; the hold endpoint is
// additionally guarded by the rate limiter so a single client cannot
// saturate a machine's calendar with holds.
func RegisterPublic(e *echo.Echo, r *handler.ReservationHandler, limiter echo.MiddlewareFunc) {
    e.GET("/v1/machines", r.ListMachines)
    e.POST("/v1/machines/:id/quote", r.Quote)
    e.POST("/v1/machines/:id/holds", r.PlaceHold, limiter)
    e.GET("/v1/reservations/:reference", r.GetReservation)
}

// RegisterWebhooks registers the payment processor callback.  Signature
// verification happens inside the handler because it needs the raw
// request body.
func RegisterWebhooks(e *echo.Echo, w *handler.WebhookHandler) {
    e.POST("/v1/payments/webhook", w.HandleStripe)
}

// RegisterOps registers the operator back office under /v1/ops.  Login
// is the only unauthenticated route; everything else requires a valid
// operator access token.
func RegisterOps(e *echo.Echo, o *handler.OpsHandler, jwtSecret string) {
    e.POST("/v1/ops/login", o.Login)

    g := e.Group("/v1/ops")
    g.Use(middleware.JWTAuth(jwtSecret))
    g.POST("/reservations", o.CreateReservation)
    g.GET("/reservations", o.ListReservations)
    g.DELETE("/reservations/:id", o.CancelReservation)
    g.GET("/work-items", o.ListWorkItems)
}
