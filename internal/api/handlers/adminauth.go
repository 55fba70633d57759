package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dropbot/backend/internal/adminauth"
	"github.com/dropbot/backend/internal/api/dto"
	"github.com/dropbot/backend/pkg/config"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/telegraminit"
	"github.com/dropbot/backend/pkg/validator"
)

// AdminAuthHandler issues admin dashboard sessions.
type AdminAuthHandler struct {
	cfg       *config.Config
	auth      *adminauth.Service
	botToken  string
	validator *validator.Validator
}

// NewAdminAuthHandler constructs an AdminAuthHandler. botToken is whichever
// primary bot identity's token the Mini App was launched from, needed to
// verify the init-data signature.
func NewAdminAuthHandler(cfg *config.Config, auth *adminauth.Service, botToken string, v *validator.Validator) *AdminAuthHandler {
	return &AdminAuthHandler{cfg: cfg, auth: auth, botToken: botToken, validator: v}
}

// Login handles POST /admin/v1/auth/login.
func (h *AdminAuthHandler) Login(c *fiber.Ctx) error {
	var req dto.AdminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}
	if errs := h.validator.Validate(req); errs != nil {
		return sendValidationError(c, errs)
	}

	data, err := telegraminit.Validate(req.InitData, h.botToken)
	if err != nil {
		return sendError(c, err)
	}
	if data.User == nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("missing user in init data"))
	}
	if !h.cfg.IsAdmin(data.User.ID) {
		return sendError(c, errors.ErrNotAdmin)
	}

	token, err := h.auth.IssueToken(data.User.ID, h.cfg.IsPrimaryAdmin(data.User.ID))
	if err != nil {
		return sendError(c, errors.ErrInternal.WithCause(err))
	}

	return c.JSON(dto.AdminLoginResponse{
		Token:      token,
		TelegramID: data.User.ID,
		Primary:    h.cfg.IsPrimaryAdmin(data.User.ID),
	})
}
