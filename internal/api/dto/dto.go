package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================
// Common DTOs
// ============================================

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// PaginatedResponse represents a paginated response
type PaginatedResponse[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// ============================================
// Admin auth DTOs
// ============================================

// AdminLoginRequest carries the Telegram Mini App init-data the admin
// dashboard collected from window.Telegram.WebApp.initData.
type AdminLoginRequest struct {
	InitData string `json:"init_data" validate:"required"`
}

// AdminLoginResponse is the session issued once init-data validates and the
// caller's Telegram ID is on the admin allow-list.
type AdminLoginResponse struct {
	Token      string `json:"token"`
	TelegramID int64  `json:"telegram_id"`
	Primary    bool   `json:"primary"`
}

// ============================================
// Catalog DTOs
// ============================================

// ProductResponse represents one drop listing.
type ProductResponse struct {
	ID          int64           `json:"id"`
	City        string          `json:"city"`
	District    string          `json:"district"`
	ProductType string          `json:"product_type"`
	Size        string          `json:"size"`
	Price       decimal.Decimal `json:"price"`
	Available   int             `json:"available"`
	Reserved    int             `json:"reserved"`
	Details     string          `json:"details"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CreateProductRequest creates a new drop listing. Price is a decimal
// string ("12.50") rather than a decimal.Decimal so the "money" validator
// tag (which inspects the raw field string) can check it before parsing.
type CreateProductRequest struct {
	City         string   `json:"city" validate:"required,iso_city"`
	District     string   `json:"district" validate:"required"`
	ProductType  string   `json:"product_type" validate:"required"`
	Size         string   `json:"size" validate:"required"`
	Price        string   `json:"price" validate:"required,money"`
	Available    int      `json:"available" validate:"required,gt=0"`
	Details      string   `json:"details"`
	MediaFileIDs []string `json:"media_file_ids,omitempty"`
}

// UpdatePriceRequest reprices an existing product.
type UpdatePriceRequest struct {
	Price string `json:"price" validate:"required,money"`
}

// AdjustAvailableRequest adds or removes stock from an existing product.
type AdjustAvailableRequest struct {
	Delta int `json:"delta" validate:"required"`
}

// ============================================
// Discount DTOs
// ============================================

// DiscountCodeResponse represents a general discount code.
type DiscountCodeResponse struct {
	Code                string          `json:"code"`
	Kind                string          `json:"kind"`
	Value               decimal.Decimal `json:"value"`
	Active              bool            `json:"active"`
	TotalCap            *int            `json:"total_cap,omitempty"`
	PerUserCap          *int            `json:"per_user_cap,omitempty"`
	UsesCount           int             `json:"uses_count"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
	AllowedCities       []string        `json:"allowed_cities,omitempty"`
	AllowedProductTypes []string        `json:"allowed_product_types,omitempty"`
	AllowedSizes        []string        `json:"allowed_sizes,omitempty"`
}

// CreateDiscountCodeRequest creates a general discount code.
type CreateDiscountCodeRequest struct {
	Code                string     `json:"code" validate:"required"`
	Kind                string     `json:"kind" validate:"required,discount_kind"`
	Value               string     `json:"value" validate:"required,money"`
	TotalCap            *int       `json:"total_cap,omitempty"`
	PerUserCap          *int       `json:"per_user_cap,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	AllowedCities       []string   `json:"allowed_cities,omitempty"`
	AllowedProductTypes []string   `json:"allowed_product_types,omitempty"`
	AllowedSizes        []string   `json:"allowed_sizes,omitempty"`
}

// SetCodeActiveRequest activates or deactivates a discount code.
type SetCodeActiveRequest struct {
	Active bool `json:"active"`
}

// ResellerRuleResponse represents one reseller's standing discount on a
// product type.
type ResellerRuleResponse struct {
	ResellerUserID int64           `json:"reseller_user_id"`
	ProductType    string          `json:"product_type"`
	PercentOff     decimal.Decimal `json:"percent_off"`
}

// UpsertResellerRuleRequest creates or updates a reseller's rule for one
// product type.
type UpsertResellerRuleRequest struct {
	ProductType string `json:"product_type" validate:"required"`
	PercentOff  string `json:"percent_off" validate:"required,money"`
}

// ============================================
// User / recovery DTOs
// ============================================

// UserResponse represents a customer account.
type UserResponse struct {
	ID             int64           `json:"id"`
	Balance        decimal.Decimal `json:"balance"`
	TotalPurchases int             `json:"total_purchases"`
	IsReseller     bool            `json:"is_reseller"`
	Banned         bool            `json:"banned"`
	LastSeen       time.Time       `json:"last_seen"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SetBannedRequest bans or unbans a user.
type SetBannedRequest struct {
	Banned bool `json:"banned"`
}

// SetResellerRequest grants or revokes reseller status.
type SetResellerRequest struct {
	IsReseller bool `json:"is_reseller"`
}

// ManualRecoverRequest drives PurchaseFinalizer.ManualRecover for one
// payment ID, with an audit reason recorded alongside the action.
type ManualRecoverRequest struct {
	PaymentID string `json:"payment_id" validate:"required"`
	Reason    string `json:"reason"`
}

// ============================================
// Broadcast / stats DTOs
// ============================================

// BroadcastRequest fans a message out to every known user across every bot
// identity.
type BroadcastRequest struct {
	Message string `json:"message" validate:"required"`
}

// BroadcastResponse reports how many recipients the broadcast reached.
type BroadcastResponse struct {
	Recipients int `json:"recipients"`
}

// StatsResponse is the admin dashboard's headline numbers.
type StatsResponse struct {
	TotalUsers int `json:"total_users"`
}
