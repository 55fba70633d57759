package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/internal/adminweb"
	"github.com/dropbot/backend/internal/botfleet"
	"github.com/dropbot/backend/internal/catalog"
	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/internal/finalize"
	"github.com/dropbot/backend/internal/repository"
	"github.com/dropbot/backend/internal/api/dto"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/logger"
	"github.com/dropbot/backend/pkg/validator"
)

// AdminHandler serves the /admin/v1 surface backing the dashboard: catalog
// management, discount codes, reseller rules, user moderation, manual
// recovery, broadcast, and headline stats.
type AdminHandler struct {
	products     *repository.ProductRepository
	discounts    *repository.DiscountRepository
	users        *repository.UserRepository
	catalog      *catalog.Catalog
	finalizer    *finalize.Finalizer
	fleet        *botfleet.Fleet
	events       *adminweb.Hub
	validator    *validator.Validator
	logger       *logger.Logger
}

// NewAdminHandler constructs an AdminHandler. events may be nil (the live
// feed is optional; every mutation still succeeds without a connected
// dashboard).
func NewAdminHandler(
	products *repository.ProductRepository,
	discounts *repository.DiscountRepository,
	users *repository.UserRepository,
	cat *catalog.Catalog,
	finalizer *finalize.Finalizer,
	fleet *botfleet.Fleet,
	events *adminweb.Hub,
	v *validator.Validator,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		products:  products,
		discounts: discounts,
		users:     users,
		catalog:   cat,
		finalizer: finalizer,
		fleet:     fleet,
		events:    events,
		validator: v,
		logger:    log,
	}
}

// publish forwards an event to the admin live feed if one is wired.
func (h *AdminHandler) publish(kind adminweb.EventKind, data any) {
	if h.events != nil {
		h.events.Publish(kind, data)
	}
}

func toProductResponse(p domain.Product) dto.ProductResponse {
	return dto.ProductResponse{
		ID:          p.ID,
		City:        p.City,
		District:    p.District,
		ProductType: p.ProductType,
		Size:        p.Size,
		Price:       p.Price,
		Available:   p.Available,
		Reserved:    p.Reserved,
		Details:     p.Details,
		CreatedAt:   p.CreatedAt,
	}
}

// ListProducts handles GET /admin/v1/products?city=&district=&product_type=
func (h *AdminHandler) ListProducts(c *fiber.Ctx) error {
	city := c.Query("city")
	district := c.Query("district")
	productType := c.Query("product_type")

	products, err := h.products.ListByCityDistrictType(c.Context(), city, district, productType)
	if err != nil {
		return sendError(c, err)
	}

	out := make([]dto.ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return c.JSON(out)
}

// CreateProduct handles POST /admin/v1/products.
func (h *AdminHandler) CreateProduct(c *fiber.Ctx) error {
	var req dto.CreateProductRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}
	if errs := h.validator.Validate(req); errs != nil {
		return sendValidationError(c, errs)
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return sendError(c, errors.ErrInvalidInput.WithMessage("price is not a valid decimal"))
	}

	product := &domain.Product{
		City:         req.City,
		District:     req.District,
		ProductType:  req.ProductType,
		Size:         req.Size,
		Price:        price,
		Available:    req.Available,
		Details:      req.Details,
		MediaFileIDs: req.MediaFileIDs,
	}
	if err := h.products.Create(c.Context(), product); err != nil {
		return sendError(c, err)
	}
	h.catalog.Refresh(c.Context())
	h.publish(adminweb.EventProductCreated, toProductResponse(*product))

	return c.Status(fiber.StatusCreated).JSON(toProductResponse(*product))
}

// UpdatePrice handles PATCH /admin/v1/products/:id/price.
func (h *AdminHandler) UpdatePrice(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid product id"))
	}

	var req dto.UpdatePriceRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}
	if errs := h.validator.Validate(req); errs != nil {
		return sendValidationError(c, errs)
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return sendError(c, errors.ErrInvalidInput.WithMessage("price is not a valid decimal"))
	}

	if err := h.products.UpdatePrice(c.Context(), id, price); err != nil {
		return sendError(c, err)
	}
	h.publish(adminweb.EventProductUpdated, fiber.Map{"id": id, "price": price})
	return c.JSON(dto.SuccessResponse{Message: "price updated"})
}

// AdjustAvailable handles PATCH /admin/v1/products/:id/available.
func (h *AdminHandler) AdjustAvailable(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid product id"))
	}

	var req dto.AdjustAvailableRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}
	if errs := h.validator.Validate(req); errs != nil {
		return sendValidationError(c, errs)
	}

	if err := h.products.AdjustAvailable(c.Context(), id, req.Delta); err != nil {
		return sendError(c, err)
	}
	h.catalog.Refresh(c.Context())
	h.publish(adminweb.EventProductUpdated, fiber.Map{"id": id, "delta": req.Delta})
	return c.JSON(dto.SuccessResponse{Message: "availability updated"})
}

// DeleteProduct handles DELETE /admin/v1/products/:id.
func (h *AdminHandler) DeleteProduct(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid product id"))
	}
	if err := h.products.Delete(c.Context(), id); err != nil {
		return sendError(c, err)
	}
	h.catalog.Refresh(c.Context())
	h.publish(adminweb.EventProductDeleted, fiber.Map{"id": id})
	return c.JSON(dto.SuccessResponse{Message: "product deleted"})
}

func toDiscountCodeResponse(d domain.DiscountCode) dto.DiscountCodeResponse {
	return dto.DiscountCodeResponse{
		Code:                d.Code,
		Kind:                string(d.Kind),
		Value:               d.Value,
		Active:              d.Active,
		TotalCap:            d.TotalCap,
		PerUserCap:          d.PerUserCap,
		UsesCount:           d.UsesCount,
		ExpiresAt:           d.ExpiresAt,
		AllowedCities:       d.AllowedCities,
		AllowedProductTypes: d.AllowedProductTypes,
		AllowedSizes:        d.AllowedSizes,
	}
}

// ListDiscountCodes handles GET /admin/v1/discounts.
func (h *AdminHandler) ListDiscountCodes(c *fiber.Ctx) error {
	codes, err := h.discounts.ListCodes(c.Context())
	if err != nil {
		return sendError(c, err)
	}
	out := make([]dto.DiscountCodeResponse, 0, len(codes))
	for _, code := range codes {
		out = append(out, toDiscountCodeResponse(code))
	}
	return c.JSON(out)
}

// CreateDiscountCode handles POST /admin/v1/discounts.
func (h *AdminHandler) CreateDiscountCode(c *fiber.Ctx) error {
	var req dto.CreateDiscountCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}
	if errs := h.validator.Validate(req); errs != nil {
		return sendValidationError(c, errs)
	}

	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		return sendError(c, errors.ErrInvalidInput.WithMessage("value is not a valid decimal"))
	}

	code := &domain.DiscountCode{
		Code:                req.Code,
		Kind:                domain.DiscountKind(req.Kind),
		Value:               value,
		Active:              true,
		TotalCap:            req.TotalCap,
		PerUserCap:          req.PerUserCap,
		ExpiresAt:           req.ExpiresAt,
		AllowedCities:       req.AllowedCities,
		AllowedProductTypes: req.AllowedProductTypes,
		AllowedSizes:        req.AllowedSizes,
	}
	if err := h.discounts.CreateCode(c.Context(), code); err != nil {
		return sendError(c, err)
	}
	h.publish(adminweb.EventDiscountCreated, toDiscountCodeResponse(*code))
	return c.Status(fiber.StatusCreated).JSON(toDiscountCodeResponse(*code))
}

// SetCodeActive handles PATCH /admin/v1/discounts/:code/active.
func (h *AdminHandler) SetCodeActive(c *fiber.Ctx) error {
	code := c.Params("code")

	var req dto.SetCodeActiveRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}

	if err := h.discounts.SetCodeActive(c.Context(), code, req.Active); err != nil {
		return sendError(c, err)
	}
	h.publish(adminweb.EventDiscountUpdated, fiber.Map{"code": code, "active": req.Active})
	return c.JSON(dto.SuccessResponse{Message: "code updated"})
}

// ListResellerRules handles GET /admin/v1/resellers/:user_id/rules.
func (h *AdminHandler) ListResellerRules(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("user_id"), 10, 64)
	if err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid user id"))
	}

	rules, err := h.discounts.ListResellerRules(c.Context(), userID)
	if err != nil {
		return sendError(c, err)
	}
	out := make([]dto.ResellerRuleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, dto.ResellerRuleResponse{
			ResellerUserID: r.ResellerUserID,
			ProductType:    r.ProductType,
			PercentOff:     r.PercentOff,
		})
	}
	return c.JSON(out)
}

// UpsertResellerRule handles PUT /admin/v1/resellers/:user_id/rules.
func (h *AdminHandler) UpsertResellerRule(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("user_id"), 10, 64)
	if err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid user id"))
	}

	var req dto.UpsertResellerRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}
	if errs := h.validator.Validate(req); errs != nil {
		return sendValidationError(c, errs)
	}

	percentOff, err := decimal.NewFromString(req.PercentOff)
	if err != nil {
		return sendError(c, errors.ErrInvalidInput.WithMessage("percent_off is not a valid decimal"))
	}

	rule := domain.ResellerRule{
		ResellerUserID: userID,
		ProductType:    req.ProductType,
		PercentOff:     percentOff,
	}
	if err := h.discounts.UpsertResellerRule(c.Context(), rule); err != nil {
		return sendError(c, err)
	}
	return c.JSON(dto.ResellerRuleResponse{
		ResellerUserID: rule.ResellerUserID,
		ProductType:    rule.ProductType,
		PercentOff:     rule.PercentOff,
	})
}

func toUserResponse(u domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:             u.ID,
		Balance:        u.Balance,
		TotalPurchases: u.TotalPurchases,
		IsReseller:     u.IsReseller,
		Banned:         u.Banned,
		LastSeen:       u.LastSeen,
		CreatedAt:      u.CreatedAt,
	}
}

// GetUser handles GET /admin/v1/users/:id.
func (h *AdminHandler) GetUser(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid user id"))
	}
	user, err := h.users.GetByID(c.Context(), id)
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(toUserResponse(*user))
}

// SetBanned handles PATCH /admin/v1/users/:id/banned.
func (h *AdminHandler) SetBanned(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid user id"))
	}

	var req dto.SetBannedRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}

	if err := h.users.SetBanned(c.Context(), id, req.Banned); err != nil {
		return sendError(c, err)
	}
	h.publish(adminweb.EventUserModerated, fiber.Map{"id": id, "banned": req.Banned})
	return c.JSON(dto.SuccessResponse{Message: "user updated"})
}

// SetReseller handles PATCH /admin/v1/users/:id/reseller.
func (h *AdminHandler) SetReseller(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid user id"))
	}

	var req dto.SetResellerRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}

	if err := h.users.SetReseller(c.Context(), id, req.IsReseller); err != nil {
		return sendError(c, err)
	}
	return c.JSON(dto.SuccessResponse{Message: "user updated"})
}

// ManualRecover handles POST /admin/v1/recover.
func (h *AdminHandler) ManualRecover(c *fiber.Ctx) error {
	var req dto.ManualRecoverRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}
	if errs := h.validator.Validate(req); errs != nil {
		return sendValidationError(c, errs)
	}

	if err := h.finalizer.ManualRecover(c.Context(), req.PaymentID); err != nil {
		return sendError(c, err)
	}
	h.logger.Info("manual recovery performed", "payment_id", req.PaymentID, "reason", req.Reason)
	return c.JSON(dto.SuccessResponse{Message: "recovery triggered"})
}

// Broadcast handles POST /admin/v1/broadcast, fanning a message out to
// every known user across every live bot identity.
func (h *AdminHandler) Broadcast(c *fiber.Ctx) error {
	var req dto.BroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrBadRequest.WithMessage("invalid request body"))
	}
	if errs := h.validator.Validate(req); errs != nil {
		return sendValidationError(c, errs)
	}

	ids, err := h.users.ListAllIDs(c.Context())
	if err != nil {
		return sendError(c, err)
	}
	for _, id := range ids {
		h.fleet.NotifyUser(c.Context(), "", id, req.Message)
	}
	return c.JSON(dto.BroadcastResponse{Recipients: len(ids)})
}

// Stats handles GET /admin/v1/stats.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	total, err := h.users.CountAll(c.Context())
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(dto.StatsResponse{TotalUsers: total})
}
