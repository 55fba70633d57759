// Package botconv turns one inbound Telegram update into calls against the
// core components (ReservationEngine, DiscountResolver, PaymentGateway,
// PurchaseFinalizer, catalog.Catalog) and a reply sent back through
// BotFleet. The conversational wizard UX around this (multi-screen
// keyboards, localized copy, review pagination) is explicitly out of
// scope; Router covers just enough command surface to exercise every core
// API end to end, via plain text commands rather than inline keyboards.
package botconv

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/internal/adminflow"
	"github.com/dropbot/backend/internal/catalog"
	"github.com/dropbot/backend/internal/discount"
	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/internal/finalize"
	"github.com/dropbot/backend/internal/payment"
	"github.com/dropbot/backend/internal/priceoracle"
	"github.com/dropbot/backend/internal/repository"
	"github.com/dropbot/backend/internal/reservation"
	"github.com/dropbot/backend/pkg/config"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/logger"
	"github.com/dropbot/backend/pkg/money"
)

// Replier is the slice of BotFleet the router needs to answer a chat —
// declared locally exactly as finalize.Notifier is, so this package
// doesn't need the whole botfleet import graph.
type Replier interface {
	NotifyUser(ctx context.Context, botID string, userID int64, text string)
}

// Update is the minimal subset of a Telegram Bot API update this router
// acts on: a plain text message from a known chat.
type Update struct {
	ChatID   int64
	Text     string
	Username string
}

// Router dispatches inbound updates to customer and admin commands.
type Router struct {
	cfg          *config.Config
	catalog      *catalog.Catalog
	users        *repository.UserRepository
	products     *repository.ProductRepository
	deposits     *repository.PendingDepositRepository
	discountRepo *repository.DiscountRepository
	resEngine    *reservation.Engine
	discounts    *discount.Resolver
	gateway      *payment.Gateway
	oracle       *priceoracle.Oracle
	flows        *adminflow.Store
	manualRecoverer *finalize.Finalizer
	replier      Replier
	logger       *logger.Logger
	webhookURL   string
}

// New constructs a Router.
func New(cfg *config.Config, cat *catalog.Catalog, users *repository.UserRepository, products *repository.ProductRepository,
	deposits *repository.PendingDepositRepository, discountRepo *repository.DiscountRepository, resEngine *reservation.Engine,
	discounts *discount.Resolver, gateway *payment.Gateway, oracle *priceoracle.Oracle, flows *adminflow.Store,
	manualRecoverer *finalize.Finalizer, replier Replier, log *logger.Logger, webhookURL string) *Router {
	return &Router{
		cfg: cfg, catalog: cat, users: users, products: products, deposits: deposits, discountRepo: discountRepo,
		resEngine: resEngine, discounts: discounts, gateway: gateway, oracle: oracle, flows: flows,
		manualRecoverer: manualRecoverer, replier: replier, logger: log, webhookURL: webhookURL,
	}
}

// Handle processes one update for botID, the bot identity it arrived on.
func (r *Router) Handle(ctx context.Context, botID string, u Update) {
	userID := u.ChatID
	if _, err := r.users.GetOrCreate(ctx, userID, "en"); err != nil {
		if r.logger != nil {
			r.logger.Error("failed to touch user on inbound update", "user_id", userID, "error", err)
		}
		return
	}

	if r.cfg.IsAdmin(userID) {
		if st, ok := r.flows.Get(userID); ok {
			r.continueAdminFlow(ctx, botID, userID, st, u.Text)
			return
		}
		if r.dispatchAdmin(ctx, botID, userID, u.Text) {
			return
		}
	}

	r.dispatchCustomer(ctx, botID, userID, u.Text)
}

func (r *Router) reply(ctx context.Context, botID string, userID int64, text string) {
	if r.replier != nil {
		r.replier.NotifyUser(ctx, botID, userID, text)
	}
}

func fields(text string) []string {
	return strings.Fields(strings.TrimSpace(text))
}

// dispatchCustomer handles the browse/basket/checkout/balance command set.
func (r *Router) dispatchCustomer(ctx context.Context, botID string, userID int64, text string) {
	parts := fields(text)
	if len(parts) == 0 {
		return
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/start":
		cities := r.catalog.Cities()
		r.reply(ctx, botID, userID, "Welcome. Available cities: "+strings.Join(cities, ", "))

	case "/cities":
		r.reply(ctx, botID, userID, strings.Join(r.catalog.Cities(), ", "))

	case "/districts":
		if len(args) < 1 {
			r.reply(ctx, botID, userID, "usage: /districts <city>")
			return
		}
		r.reply(ctx, botID, userID, strings.Join(r.catalog.Districts(args[0]), ", "))

	case "/types":
		if len(args) < 2 {
			r.reply(ctx, botID, userID, "usage: /types <city> <district>")
			return
		}
		r.reply(ctx, botID, userID, strings.Join(r.catalog.ProductTypes(args[0], args[1]), ", "))

	case "/sizes":
		if len(args) < 3 {
			r.reply(ctx, botID, userID, "usage: /sizes <city> <district> <type>")
			return
		}
		products, err := r.products.ListByCityDistrictType(ctx, args[0], args[1], args[2])
		if err != nil {
			r.reply(ctx, botID, userID, "lookup failed, try again")
			return
		}
		var b strings.Builder
		for _, p := range products {
			fmt.Fprintf(&b, "#%d %s — €%s\n", p.ID, p.Size, p.Price.StringFixed(2))
		}
		if b.Len() == 0 {
			b.WriteString("nothing available right now")
		}
		r.reply(ctx, botID, userID, b.String())

	case "/add":
		if len(args) < 1 {
			r.reply(ctx, botID, userID, "usage: /add <product_id>")
			return
		}
		productID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			r.reply(ctx, botID, userID, "invalid product id")
			return
		}
		if err := r.resEngine.AddToBasket(ctx, userID, productID); err != nil {
			r.reply(ctx, botID, userID, customerFacingError(err))
			return
		}
		r.reply(ctx, botID, userID, "added to basket")

	case "/remove":
		if len(args) < 1 {
			r.reply(ctx, botID, userID, "usage: /remove <product_id>")
			return
		}
		productID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			r.reply(ctx, botID, userID, "invalid product id")
			return
		}
		if err := r.resEngine.RemoveFromBasket(ctx, userID, productID); err != nil {
			r.reply(ctx, botID, userID, customerFacingError(err))
			return
		}
		r.reply(ctx, botID, userID, "removed from basket")

	case "/basket":
		r.showBasket(ctx, botID, userID)

	case "/balance":
		user, err := r.users.GetByID(ctx, userID)
		if err != nil {
			r.reply(ctx, botID, userID, customerFacingError(err))
			return
		}
		r.reply(ctx, botID, userID, fmt.Sprintf("Balance: €%s, purchases: %d", user.Balance.StringFixed(2), user.TotalPurchases))

	case "/deposit":
		if len(args) < 2 {
			r.reply(ctx, botID, userID, "usage: /deposit <amount_eur> <currency>")
			return
		}
		r.startRefillDeposit(ctx, botID, userID, args[0], args[1])

	case "/checkout":
		currency := "sol"
		code := ""
		if len(args) >= 1 {
			currency = strings.ToLower(args[0])
		}
		if len(args) >= 2 {
			code = args[1]
		}
		r.startCheckout(ctx, botID, userID, currency, code)

	default:
		r.reply(ctx, botID, userID, "unrecognized command")
	}
}

func (r *Router) showBasket(ctx context.Context, botID string, userID int64) {
	entries, err := r.resEngine.ListBasket(ctx, userID)
	if err != nil {
		r.reply(ctx, botID, userID, customerFacingError(err))
		return
	}
	if len(entries) == 0 {
		r.reply(ctx, botID, userID, "your basket is empty")
		return
	}
	var b strings.Builder
	total := decimal.Zero
	for _, e := range entries {
		fmt.Fprintf(&b, "#%d %s — €%s\n", e.ProductID, e.SnapshotProductType, e.SnapshotPrice.StringFixed(2))
		total = total.Add(e.SnapshotPrice)
	}
	fmt.Fprintf(&b, "Total: €%s", total.StringFixed(2))
	r.reply(ctx, botID, userID, b.String())
}

func (r *Router) startRefillDeposit(ctx context.Context, botID string, userID int64, amountStr, currency string) {
	amount, err := decimal.NewFromString(amountStr)
	if err != nil || amount.Sign() <= 0 {
		r.reply(ctx, botID, userID, "invalid amount")
		return
	}
	amount = money.RoundDownCents(amount)
	currency = strings.ToLower(currency)

	paymentID, result, err := r.gateway.CreatePayment(ctx, amount, currency, "", r.webhookURL+"/webhook")
	if err != nil {
		r.reply(ctx, botID, userID, customerFacingError(err))
		return
	}

	deposit := &domain.PendingDeposit{
		PaymentID:            paymentID,
		UserID:               userID,
		Currency:             currency,
		TargetEURAmount:      amount,
		ExpectedCryptoAmount: result.PayAmountCrypto,
		Kind:                 domain.DepositKindRefill,
		BotID:                botID,
	}
	if err := r.deposits.Create(ctx, deposit); err != nil {
		r.reply(ctx, botID, userID, customerFacingError(err))
		return
	}
	r.reply(ctx, botID, userID, fmt.Sprintf("Send %s %s to %s", result.PayAmountCrypto.String(), strings.ToUpper(currency), result.PayAddress))
}

// startCheckout prices the live basket, issues a purchase-kind payment
// intent, and freezes the basket into the deposit's snapshot so the
// reservation survives the basket-timeout sweep while payment is pending.
func (r *Router) startCheckout(ctx context.Context, botID string, userID int64, currency, code string) {
	entries, err := r.resEngine.ListBasket(ctx, userID)
	if err != nil {
		r.reply(ctx, botID, userID, customerFacingError(err))
		return
	}
	if len(entries) == 0 {
		r.reply(ctx, botID, userID, "your basket is empty")
		return
	}

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		r.reply(ctx, botID, userID, customerFacingError(err))
		return
	}

	productByID := make(map[int64]*domain.Product, len(entries))
	items := make([]discount.LineItem, 0, len(entries))
	for _, e := range entries {
		p, err := r.products.GetByID(ctx, nil, e.ProductID)
		if err != nil {
			r.reply(ctx, botID, userID, customerFacingError(err))
			return
		}
		productByID[e.ProductID] = p
		items = append(items, discount.LineItem{
			ProductID: p.ID, ProductType: e.SnapshotProductType, City: p.City, Size: p.Size, BasePrice: e.SnapshotPrice,
		})
	}

	quote, err := r.discounts.Price(ctx, userID, user.IsReseller, items, code)
	if err != nil {
		r.reply(ctx, botID, userID, customerFacingError(err))
		return
	}

	currency = strings.ToLower(currency)
	paymentID, result, err := r.gateway.CreatePayment(ctx, quote.Total, currency, "", r.webhookURL+"/webhook")
	if err != nil {
		r.reply(ctx, botID, userID, customerFacingError(err))
		return
	}

	snapshot := make([]domain.BasketSnapshotItem, 0, len(quote.Items))
	discountAmount := decimal.Zero
	for _, line := range quote.Items {
		p := productByID[line.ProductID]
		snapshot = append(snapshot, domain.BasketSnapshotItem{
			ProductID: p.ID, Name: p.ProductType + " " + p.Size, ProductType: p.ProductType, Size: p.Size,
			City: p.City, District: p.District, Details: p.Details, PricePaid: line.FinalPrice, MediaFileIDs: p.MediaFileIDs,
		})
		discountAmount = discountAmount.Add(line.CodeDiscount)
	}

	deposit := &domain.PendingDeposit{
		PaymentID:            paymentID,
		UserID:               userID,
		Currency:             currency,
		TargetEURAmount:      quote.Total,
		ExpectedCryptoAmount: result.PayAmountCrypto,
		Kind:                 domain.DepositKindPurchase,
		BasketSnapshot:       snapshot,
		DiscountCodeUsed:     quote.CodeApplied,
		DiscountAmount:       discountAmount,
		BotID:                botID,
	}
	if err := r.deposits.Create(ctx, deposit); err != nil {
		r.reply(ctx, botID, userID, customerFacingError(err))
		return
	}
	if err := r.resEngine.FreezeBasketStandalone(ctx, userID); err != nil && r.logger != nil {
		r.logger.Error("failed to freeze basket after checkout deposit creation", "user_id", userID, "error", err)
	}

	r.reply(ctx, botID, userID, fmt.Sprintf("Send %s %s to %s — total €%s",
		result.PayAmountCrypto.String(), strings.ToUpper(currency), result.PayAddress, quote.Total.StringFixed(2)))
}

// customerFacingError renders the parts of an AppError safe to show a
// customer directly; anything not recognized falls back to a generic
// message so infrastructure detail never leaks into a chat reply.
func customerFacingError(err error) string {
	switch {
	case errors.Is(err, errors.ErrOutOfStock):
		return "that item just sold out"
	case errors.Is(err, errors.ErrProductNotFound):
		return "no such product"
	case errors.Is(err, errors.ErrUserNotFound):
		return "account not found, try /start"
	case errors.Is(err, errors.ErrCodeNotFound), errors.Is(err, errors.ErrCodeInactive),
		errors.Is(err, errors.ErrCodeExpired), errors.Is(err, errors.ErrCodeLimitReached),
		errors.Is(err, errors.ErrCodeScopeMismatch):
		return "discount code not valid"
	case errors.Is(err, errors.ErrMinAmountExceeded):
		return "amount is below the gateway minimum for that currency"
	default:
		return "something went wrong, please try again"
	}
}
