package handler

import (
    "encoding/json"
    "io"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"
    "github.com/stripe/stripe-go/v76"
    "github.com/stripe/stripe-go/v76/webhook"
    "go.uber.org/zap"

    "github.com/rentalworks/machine-booking/internal/payment"
)

// maxWebhookBody bounds the request body read.  Stripe events are small;
// anything larger is not a legitimate notification.
const maxWebhookBody = 1 << 16

// WebhookHandler receives payment processor notifications, verifies the
// request signature and hands the distilled event to the reconciler.
// Status codes follow the processor's retry contract: a non-2xx response
// triggers redelivery, so only verification failures and transient
// internal errors reject the request.
type WebhookHandler struct {
    Reconciler *payment.Reconciler
    Secret     string
    Log        *zap.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(rec *payment.Reconciler, secret string, log *zap.Logger) *WebhookHandler {
    if rec == nil || log == nil {
        panic("nil dependency passed to NewWebhookHandler")
    }
    return &WebhookHandler{Reconciler: rec, Secret: secret, Log: log}
}

// HandleStripe handles POST /v1/payments/webhook.
//
// The raw body is read before any parsing because signature verification
// covers the exact bytes sent.  Events other than payment intent
// success/failure are acknowledged and dropped; unknown event types from
// a processor must never cause redelivery storms.
func (h *WebhookHandler) HandleStripe(c echo.Context) error {
    body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
    }

    event, err := webhook.ConstructEvent(body, c.Request().Header.Get("Stripe-Signature"), h.Secret)
    if err != nil {
        h.Log.Warn("webhook:bad-signature", zap.Error(err))
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
    }

    var outcome string
    switch string(event.Type) {
    case "payment_intent.succeeded":
        outcome = payment.OutcomeSucceeded
    case "payment_intent.payment_failed":
        outcome = payment.OutcomeFailed
    default:
        return c.NoContent(http.StatusOK)
    }

    var intent stripe.PaymentIntent
    if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
        h.Log.Warn("webhook:bad-payload", zap.String("event_id", event.ID), zap.Error(err))
        return c.NoContent(http.StatusOK)
    }
    reservationID, err := strconv.ParseUint(intent.Metadata["reservation_id"], 10, 64)
    if err != nil || reservationID == 0 {
        // Payment for something that is not one of our reservations;
        // acknowledge so the processor stops resending it.
        h.Log.Warn("webhook:no-reservation", zap.String("event_id", event.ID))
        return c.NoContent(http.StatusOK)
    }

    n := payment.Notification{
        ExternalEventID:   event.ID,
        ReservationID:     reservationID,
        Outcome:           outcome,
        ExternalPaymentID: intent.ID,
    }
    if err := h.Reconciler.Handle(c.Request().Context(), n); err != nil {
        // Nothing durable was recorded; a redelivery will retry cleanly.
        h.Log.Error("webhook:handle-failed", zap.String("event_id", event.ID), zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "temporary failure"})
    }
    return c.NoContent(http.StatusOK)
}
