package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dropbot/backend/internal/botconv"
	"github.com/dropbot/backend/internal/botfleet"
	"github.com/dropbot/backend/pkg/logger"
)

// telegramUpdate is the minimal subset of Telegram's Update envelope this
// sink reads: a text message from a chat.
type telegramUpdate struct {
	Message *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
		Text string `json:"text"`
	} `json:"message"`
}

// TelegramHandler is the inbound update sink for every live bot identity,
// mounted at POST /telegram/:token.
type TelegramHandler struct {
	fleet  *botfleet.Fleet
	router *botconv.Router
	logger *logger.Logger
}

// NewTelegramHandler constructs a TelegramHandler.
func NewTelegramHandler(fleet *botfleet.Fleet, router *botconv.Router, log *logger.Logger) *TelegramHandler {
	return &TelegramHandler{fleet: fleet, router: router, logger: log}
}

// Handle processes one inbound webhook call. The path's :token segment
// identifies which bot identity Telegram is delivering on; an unknown
// token (a stale webhook registration left over from a failover) is
// accepted with 200 so Telegram doesn't retry it forever, but otherwise
// ignored.
func (h *TelegramHandler) Handle(c *fiber.Ctx) error {
	token := c.Params("token")
	botID, ok := h.fleet.ResolveToken(token)
	if !ok {
		h.logger.Warn("inbound update for unknown bot token")
		return c.SendStatus(fiber.StatusOK)
	}

	var upd telegramUpdate
	if err := c.BodyParser(&upd); err != nil {
		return c.SendStatus(fiber.StatusOK)
	}
	if upd.Message == nil || upd.Message.Text == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	h.router.Handle(c.Context(), botID, botconv.Update{
		ChatID:   upd.Message.Chat.ID,
		Text:     upd.Message.Text,
		Username: upd.Message.From.Username,
	})

	return c.SendStatus(fiber.StatusOK)
}
