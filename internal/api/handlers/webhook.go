package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dropbot/backend/internal/finalize"
	"github.com/dropbot/backend/internal/payment"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/logger"
)

// maxIPNBodyBytes bounds the NOWPayments webhook body; anything larger is
// rejected outright rather than parsed.
const maxIPNBodyBytes = 10 * 1024

// WebhookHandler handles the PaymentGateway's inbound IPN.
type WebhookHandler struct {
	gateway   *payment.Gateway
	finalizer *finalize.Finalizer
	logger    *logger.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(gateway *payment.Gateway, finalizer *finalize.Finalizer, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, finalizer: finalizer, logger: log}
}

// Handle processes POST /webhook. It is idempotent: an event for a deposit
// that no longer exists (already finalized and deleted) is reported back as
// accepted rather than an error.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) > maxIPNBodyBytes {
		return sendError(c, errors.ErrPayloadTooLarge)
	}

	sig := c.Get("x-nowpayments-sig")
	if sig == "" {
		sig = c.Get("X-Nowpayments-Sig")
	}

	event, err := h.gateway.ParseIPN(body, sig)
	if err != nil {
		h.logger.Warn("webhook signature/parse failure", "error", err)
		return sendError(c, err)
	}

	if err := h.finalizer.OnPaymentEvent(c.Context(), *event); err != nil {
		h.logger.Error("webhook finalize failed", "payment_id", event.PaymentID, "error", err)
		return sendError(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}
