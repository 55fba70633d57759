package botfleet

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropbot/backend/internal/domain"
)

// NotifyUser sends text to userID via the transport owning botID (or its
// failover replacement, transparently, via the registry's alias chain).
// Delivery failures are logged but never returned: a notification is
// best-effort and must not block or fail the caller's own transaction.
func (f *Fleet) NotifyUser(ctx context.Context, botID string, userID int64, text string) {
	t, ok := f.resolve(botID)
	if !ok {
		f.logger.Error("notify: unknown bot_id, cannot route", "bot_id", botID, "user_id", userID)
		return
	}
	if err := t.SendText(ctx, userID, text); err != nil {
		f.logger.Error("notify user failed", "bot_id", botID, "user_id", userID, "error", err)
	}
}

// NotifyAdmins broadcasts text to every configured primary admin, via any
// transport that can currently deliver it — used for critical-invariant
// alerts (finalize exhausted, reservation skew, failover failure).
func (f *Fleet) NotifyAdmins(ctx context.Context, text string) {
	f.notifyAdminsInternal(ctx, text)
}

// DeliverPurchase sends the delivery text and any attached media for each
// item in items to userID via botID's transport. Per spec, delivery is
// "at least once": a failure on one item is logged and surfaced to the
// caller as an error (so it can alert admins), but does not roll back the
// already-committed purchase.
func (f *Fleet) DeliverPurchase(ctx context.Context, botID string, userID int64, items []domain.BasketSnapshotItem) error {
	t, ok := f.resolve(botID)
	if !ok {
		return fmt.Errorf("deliver purchase: unknown bot_id %s", botID)
	}

	var failures []string
	for _, item := range items {
		caption := formatDeliveryText(item)
		var err error
		if len(item.MediaFileIDs) > 0 {
			err = t.SendMediaGroup(ctx, userID, item.MediaFileIDs, caption)
		} else {
			err = t.SendText(ctx, userID, caption)
		}
		if err != nil {
			f.logger.Error("delivery item dispatch failed", "bot_id", botID, "user_id", userID,
				"product_id", item.ProductID, "error", err)
			failures = append(failures, item.Name)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("delivery failed for: %s", strings.Join(failures, ", "))
	}
	return nil
}

func formatDeliveryText(item domain.BasketSnapshotItem) string {
	var b strings.Builder
	b.WriteString("✅ <b>Delivery</b>\n\n")
	fmt.Fprintf(&b, "<b>%s</b>\n", item.Name)
	fmt.Fprintf(&b, "%s / %s — %s, %s\n", item.ProductType, item.Size, item.City, item.District)
	if item.Details != "" {
		b.WriteString(item.Details)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nPaid: €%s", item.PricePaid.StringFixed(2))
	return b.String()
}
