package botconv

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"context"

	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/internal/adminflow"
	"github.com/dropbot/backend/internal/domain"
)

// dispatchAdmin handles the single-line admin command set. It returns false
// for anything it doesn't recognize, so callers fall through to the
// customer command set — an admin is still a customer.
func (r *Router) dispatchAdmin(ctx context.Context, botID string, adminID int64, text string) bool {
	parts := fields(text)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/newdrop":
		st := r.flows.Start(adminID, adminflow.StepAddDropCity)
		_ = st
		r.reply(ctx, botID, adminID, "City?")
		return true

	case "/bulkadd":
		r.flows.Start(adminID, adminflow.StepBulkAddAwaitingText)
		r.reply(ctx, botID, adminID, "Paste one drop per line: city;district;type;size;price;details")
		return true

	case "/newcode":
		r.flows.Start(adminID, adminflow.StepDiscountCode)
		r.reply(ctx, botID, adminID, "Discount code string?")
		return true

	case "/recover":
		if len(args) < 1 {
			r.reply(ctx, botID, adminID, "usage: /recover <payment_id>")
			return true
		}
		if err := r.manualRecoverer.ManualRecover(ctx, args[0]); err != nil {
			r.reply(ctx, botID, adminID, "recovery failed: "+err.Error())
			return true
		}
		r.reply(ctx, botID, adminID, "recovery applied")
		return true

	case "/ban":
		if len(args) < 1 {
			r.reply(ctx, botID, adminID, "usage: /ban <user_id>")
			return true
		}
		r.setBanned(ctx, botID, adminID, args[0], true)
		return true

	case "/unban":
		if len(args) < 1 {
			r.reply(ctx, botID, adminID, "usage: /unban <user_id>")
			return true
		}
		r.setBanned(ctx, botID, adminID, args[0], false)
		return true

	case "/makereseller":
		if len(args) < 1 {
			r.reply(ctx, botID, adminID, "usage: /makereseller <user_id>")
			return true
		}
		r.setReseller(ctx, botID, adminID, args[0], true)
		return true

	case "/resellerrule":
		if len(args) < 3 {
			r.reply(ctx, botID, adminID, "usage: /resellerrule <user_id> <product_type> <percent_off>")
			return true
		}
		r.setResellerRule(ctx, botID, adminID, args[0], args[1], args[2])
		return true

	case "/stats":
		r.showStats(ctx, botID, adminID)
		return true

	case "/broadcast":
		if len(args) < 1 {
			r.reply(ctx, botID, adminID, "usage: /broadcast <message>")
			return true
		}
		r.broadcast(ctx, botID, adminID, strings.Join(args, " "))
		return true

	case "/cancel":
		r.flows.Clear(adminID)
		r.reply(ctx, botID, adminID, "cancelled")
		return true

	default:
		return false
	}
}

func (r *Router) setBanned(ctx context.Context, botID string, adminID int64, userIDStr string, banned bool) {
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		r.reply(ctx, botID, adminID, "invalid user id")
		return
	}
	if err := r.users.SetBanned(ctx, userID, banned); err != nil {
		r.reply(ctx, botID, adminID, "failed: "+err.Error())
		return
	}
	r.reply(ctx, botID, adminID, "ok")
}

func (r *Router) setReseller(ctx context.Context, botID string, adminID int64, userIDStr string, isReseller bool) {
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		r.reply(ctx, botID, adminID, "invalid user id")
		return
	}
	if err := r.users.SetReseller(ctx, userID, isReseller); err != nil {
		r.reply(ctx, botID, adminID, "failed: "+err.Error())
		return
	}
	r.reply(ctx, botID, adminID, "ok")
}

func (r *Router) setResellerRule(ctx context.Context, botID string, adminID int64, userIDStr, productType, percentStr string) {
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		r.reply(ctx, botID, adminID, "invalid user id")
		return
	}
	percent, err := decimal.NewFromString(percentStr)
	if err != nil {
		r.reply(ctx, botID, adminID, "invalid percent")
		return
	}
	rule := domain.ResellerRule{ResellerUserID: userID, ProductType: productType, PercentOff: percent}
	if err := r.discountRepo.UpsertResellerRule(ctx, rule); err != nil {
		r.reply(ctx, botID, adminID, "failed: "+err.Error())
		return
	}
	r.reply(ctx, botID, adminID, "ok")
}

func (r *Router) showStats(ctx context.Context, botID string, adminID int64) {
	count, err := r.users.CountAll(ctx)
	if err != nil {
		r.reply(ctx, botID, adminID, "failed: "+err.Error())
		return
	}
	r.reply(ctx, botID, adminID, fmt.Sprintf("users: %d", count))
}

func (r *Router) broadcast(ctx context.Context, botID string, adminID int64, message string) {
	ids, err := r.users.ListAllIDs(ctx)
	if err != nil {
		r.reply(ctx, botID, adminID, "failed: "+err.Error())
		return
	}
	for _, id := range ids {
		r.reply(ctx, botID, id, message)
	}
	r.reply(ctx, botID, adminID, fmt.Sprintf("broadcast sent to %d users", len(ids)))
}

// continueAdminFlow advances adminID's in-progress flow by one step using
// the freeform text they just sent, committing the draft once every step is
// answered.
func (r *Router) continueAdminFlow(ctx context.Context, botID string, adminID int64, st *adminflow.FlowState, text string) {
	text = strings.TrimSpace(text)

	switch st.Step {
	case adminflow.StepAddDropCity:
		st.AddDrop.City = text
		r.flows.Advance(adminID, adminflow.StepAddDropDistrict)
		r.reply(ctx, botID, adminID, "District?")

	case adminflow.StepAddDropDistrict:
		st.AddDrop.District = text
		r.flows.Advance(adminID, adminflow.StepAddDropType)
		r.reply(ctx, botID, adminID, "Product type?")

	case adminflow.StepAddDropType:
		st.AddDrop.ProductType = text
		r.flows.Advance(adminID, adminflow.StepAddDropSize)
		r.reply(ctx, botID, adminID, "Size?")

	case adminflow.StepAddDropSize:
		st.AddDrop.Size = text
		r.flows.Advance(adminID, adminflow.StepAddDropPrice)
		r.reply(ctx, botID, adminID, "Price (EUR)?")

	case adminflow.StepAddDropPrice:
		if _, err := decimal.NewFromString(text); err != nil {
			r.reply(ctx, botID, adminID, "invalid price, try again")
			return
		}
		st.AddDrop.PriceEUR = text
		r.flows.Advance(adminID, adminflow.StepAddDropDetails)
		r.reply(ctx, botID, adminID, "Details text?")

	case adminflow.StepAddDropDetails:
		st.AddDrop.Details = text
		r.flows.Advance(adminID, adminflow.StepAddDropMedia)
		r.reply(ctx, botID, adminID, "Media file id, or \"-\" to skip?")

	case adminflow.StepAddDropMedia:
		if text != "-" {
			st.AddDrop.MediaFileID = text
		}
		r.commitAddDrop(ctx, botID, adminID, st.AddDrop)
		r.flows.Clear(adminID)

	case adminflow.StepDiscountCode:
		st.Discount.Code = text
		r.flows.Advance(adminID, adminflow.StepDiscountKind)
		r.reply(ctx, botID, adminID, "Kind: percentage or fixed?")

	case adminflow.StepDiscountKind:
		kind := strings.ToLower(text)
		if kind != "percentage" && kind != "fixed" {
			r.reply(ctx, botID, adminID, "must be percentage or fixed")
			return
		}
		st.Discount.Kind = kind
		r.flows.Advance(adminID, adminflow.StepDiscountValue)
		r.reply(ctx, botID, adminID, "Value?")

	case adminflow.StepDiscountValue:
		if _, err := decimal.NewFromString(text); err != nil {
			r.reply(ctx, botID, adminID, "invalid value, try again")
			return
		}
		st.Discount.Value = text
		r.flows.Advance(adminID, adminflow.StepDiscountScope)
		r.reply(ctx, botID, adminID, "City scope (or \"-\" for all)?")

	case adminflow.StepDiscountScope:
		if text != "-" {
			st.Discount.ScopeCity = text
		}
		r.flows.Advance(adminID, adminflow.StepDiscountMaxUses)
		r.reply(ctx, botID, adminID, "Max uses (0 for unlimited)?")

	case adminflow.StepDiscountMaxUses:
		n, err := strconv.Atoi(text)
		if err != nil || n < 0 {
			r.reply(ctx, botID, adminID, "invalid number, try again")
			return
		}
		st.Discount.MaxUses = n
		r.flows.Advance(adminID, adminflow.StepDiscountExpiry)
		r.reply(ctx, botID, adminID, "Expiry in days from now (0 for never)?")

	case adminflow.StepDiscountExpiry:
		days, err := strconv.Atoi(text)
		if err != nil || days < 0 {
			r.reply(ctx, botID, adminID, "invalid number, try again")
			return
		}
		if days > 0 {
			expiry := time.Now().AddDate(0, 0, days)
			st.Discount.ExpiresAt = &expiry
		}
		r.commitDiscount(ctx, botID, adminID, st.Discount)
		r.flows.Clear(adminID)

	case adminflow.StepBulkAddAwaitingText:
		for i, line := range strings.Split(text, "\n") {
			f := strings.Split(line, ";")
			if len(f) != 6 {
				r.reply(ctx, botID, adminID, fmt.Sprintf("line %d skipped: expected 6 fields", i+1))
				continue
			}
			r.commitAddDrop(ctx, botID, adminID, adminflow.AddDropDraft{
				City: strings.TrimSpace(f[0]), District: strings.TrimSpace(f[1]), ProductType: strings.TrimSpace(f[2]),
				Size: strings.TrimSpace(f[3]), PriceEUR: strings.TrimSpace(f[4]), Details: strings.TrimSpace(f[5]),
			})
		}
		r.flows.Clear(adminID)

	default:
		r.flows.Clear(adminID)
		r.reply(ctx, botID, adminID, "flow reset, unrecognized step")
	}
}

func (r *Router) commitAddDrop(ctx context.Context, botID string, adminID int64, draft adminflow.AddDropDraft) {
	price, err := decimal.NewFromString(draft.PriceEUR)
	if err != nil {
		r.reply(ctx, botID, adminID, "internal error: bad draft price")
		return
	}
	var media []string
	if draft.MediaFileID != "" {
		media = []string{draft.MediaFileID}
	}
	product := &domain.Product{
		City: draft.City, District: draft.District, ProductType: draft.ProductType, Size: draft.Size,
		Price: price, Available: 1, Details: draft.Details, MediaFileIDs: media,
	}
	if err := r.products.Create(ctx, product); err != nil {
		r.reply(ctx, botID, adminID, "failed to create drop: "+err.Error())
		return
	}
	if err := r.catalog.Refresh(ctx); err != nil && r.logger != nil {
		r.logger.Error("catalog refresh after admin add failed", "error", err)
	}
	r.reply(ctx, botID, adminID, fmt.Sprintf("drop #%d created", product.ID))
}

func (r *Router) commitDiscount(ctx context.Context, botID string, adminID int64, draft adminflow.DiscountDraft) {
	value, err := decimal.NewFromString(draft.Value)
	if err != nil {
		r.reply(ctx, botID, adminID, "internal error: bad draft value")
		return
	}
	code := &domain.DiscountCode{
		Code: strings.ToUpper(draft.Code), Kind: domain.DiscountKind(draft.Kind), Value: value, Active: true,
		ExpiresAt: draft.ExpiresAt,
	}
	if draft.MaxUses > 0 {
		code.TotalCap = &draft.MaxUses
	}
	if draft.ScopeCity != "" {
		code.AllowedCities = []string{draft.ScopeCity}
	}
	if err := r.discountRepo.CreateCode(ctx, code); err != nil {
		r.reply(ctx, botID, adminID, "failed to create code: "+err.Error())
		return
	}
	r.reply(ctx, botID, adminID, "code "+code.Code+" created")
}
