// Package domain holds the entities described in the data model: Product,
// User, BasketEntry, PendingDeposit, DiscountCode, DiscountUsage,
// ResellerRule, Purchase and AdminLog. These are plain structs; all
// behavior lives in the packages that operate on them (reservation,
// discount, finalize, ...).
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is one physical unit listed at a (city, district, product_type,
// size, price) tuple — a "drop". Available and Reserved are maintained by
// ReservationEngine and PurchaseFinalizer; 0 <= Reserved <= Available holds
// at every observable state.
type Product struct {
	ID          int64
	City        string
	District    string
	ProductType string
	Size        string
	Price       decimal.Decimal
	Available   int
	Reserved    int
	Details     string
	MediaFileIDs []string
	CreatedAt   time.Time
}

// Purchasable reports whether at least one unit of this product can still
// be reserved.
func (p Product) Purchasable() bool {
	return p.Available > p.Reserved
}

// User is an external Telegram account.
type User struct {
	ID             int64
	Balance        decimal.Decimal
	TotalPurchases int
	LanguageCode   string
	IsReseller     bool
	Banned         bool
	LastSeen       time.Time
	CreatedAt      time.Time
}

// BasketEntry is one reserved-but-unpaid product held by a user, owned by
// the user aggregate. Snapshot fields stabilize the discount math even if
// the product's live price or type changes after the entry was added.
type BasketEntry struct {
	ProductID         int64
	ReservedAt        time.Time
	SnapshotPrice     decimal.Decimal
	SnapshotProductType string
}

// DepositKind distinguishes a balance top-up from a basket checkout.
type DepositKind string

const (
	DepositKindRefill   DepositKind = "refill"
	DepositKindPurchase DepositKind = "purchase"
)

// BasketSnapshotItem is a frozen BasketEntry augmented with display detail,
// captured at payment-intent issuance so finalize never needs to re-read
// live product rows that may have changed or vanished.
type BasketSnapshotItem struct {
	ProductID    int64
	Name         string
	ProductType  string
	Size         string
	City         string
	District     string
	Details      string
	PricePaid    decimal.Decimal
	MediaFileIDs []string
}

// PendingDeposit is a committed intent to pay, identified by the payment
// gateway's own payment ID. While it exists with Kind=Purchase, every
// product unit in BasketSnapshot remains reserved for User regardless of
// basket timeout.
type PendingDeposit struct {
	PaymentID           string
	UserID              int64
	Currency            string
	TargetEURAmount     decimal.Decimal
	ExpectedCryptoAmount decimal.Decimal
	Kind                DepositKind
	BasketSnapshot      []BasketSnapshotItem
	DiscountCodeUsed    string
	DiscountAmount      decimal.Decimal
	BotID               string
	CreatedAt           time.Time
}

// DiscountKind selects the discount math a DiscountCode applies.
type DiscountKind string

const (
	DiscountKindPercentage DiscountKind = "percentage"
	DiscountKindFixed      DiscountKind = "fixed"
)

// DiscountCode is a general, user-applied checkout code: scoped, capped,
// and atomically consumed.
type DiscountCode struct {
	Code               string
	Kind               DiscountKind
	Value              decimal.Decimal
	Active             bool
	TotalCap           *int
	PerUserCap         *int
	UsesCount          int
	ExpiresAt          *time.Time
	AllowedCities      []string
	AllowedProductTypes []string
	AllowedSizes       []string
}

// DiscountUsage is an append-only audit row written in the same
// transaction as the uses_count increment it corresponds to.
type DiscountUsage struct {
	UserID          int64
	Code            string
	AppliedAt       time.Time
	DiscountAmount  decimal.Decimal
}

// ResellerRule maps (reseller_user_id, product_type) to a percentage
// discount in [0, 100]. A missing rule implies 0.
type ResellerRule struct {
	ResellerUserID int64
	ProductType    string
	PercentOff     decimal.Decimal
}

// Purchase is an append-only, denormalized record of one delivered item.
type Purchase struct {
	ID          int64
	UserID      int64
	BotID       string
	Name        string
	ProductType string
	Size        string
	City        string
	District    string
	PricePaid   decimal.Decimal
	PurchasedAt time.Time
}

// AdminLog is an append-only audit of administrative mutations and
// system-detected anomalies (e.g. a reservation clamp).
type AdminLog struct {
	ID        int64
	ActorID   int64
	Kind      string
	Detail    string
	CreatedAt time.Time
}
