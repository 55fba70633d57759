package botfleet

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/pkg/errors"
)

func TestClassify_TransportError(t *testing.T) {
	err := classify(nil, assert.AnError)
	assert.True(t, errors.Is(err, errors.ErrTransientBusy))
}

func TestClassify_Unauthorized(t *testing.T) {
	resp := &apiResponse{OK: false, ErrorCode: http.StatusUnauthorized, Description: "Unauthorized"}
	err := classify(resp, nil)
	assert.True(t, errors.Is(err, errors.ErrBotTokenRevoked))
}

func TestClassify_Forbidden(t *testing.T) {
	resp := &apiResponse{OK: false, ErrorCode: http.StatusForbidden, Description: "bot was blocked by the user"}
	err := classify(resp, nil)
	assert.True(t, errors.Is(err, errors.ErrBotTokenRevoked))
}

func TestClassify_OtherErrorIsTransient(t *testing.T) {
	resp := &apiResponse{OK: false, ErrorCode: http.StatusTooManyRequests, Description: "retry later"}
	err := classify(resp, nil)
	assert.True(t, errors.Is(err, errors.ErrTransientBusy))
	assert.False(t, errors.Is(err, errors.ErrBotTokenRevoked))
}

func TestClassify_OK(t *testing.T) {
	resp := &apiResponse{OK: true}
	assert.NoError(t, classify(resp, nil))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "12345:***", maskToken("12345:AAFakeTokenSegment"))
	assert.Equal(t, "***", maskToken("no-colon-here"))
}

func TestFormatDeliveryText(t *testing.T) {
	item := domain.BasketSnapshotItem{
		ProductID:   7,
		Name:        "Sample Product",
		ProductType: "weed",
		Size:        "5g",
		City:        "Berlin",
		District:    "Mitte",
		Details:     "pickup near the fountain",
		PricePaid:   decimal.RequireFromString("42.50"),
	}
	text := formatDeliveryText(item)
	assert.Contains(t, text, "Sample Product")
	assert.Contains(t, text, "weed / 5g — Berlin, Mitte")
	assert.Contains(t, text, "pickup near the fountain")
	assert.Contains(t, text, "€42.50")
}

func TestFormatDeliveryText_NoDetails(t *testing.T) {
	item := domain.BasketSnapshotItem{
		Name:        "No Details Product",
		ProductType: "hash",
		Size:        "1g",
		City:        "Hamburg",
		District:    "Altona",
		PricePaid:   decimal.RequireFromString("10"),
	}
	text := formatDeliveryText(item)
	assert.Contains(t, text, "No Details Product")
	assert.NotContains(t, text, "<nil>")
}

func TestRegistry_AliasResolvesToSameTransport(t *testing.T) {
	r := newRegistry()
	original := newTransport("111:orig", nil)
	r.set("bot-0", original)

	replacement := newTransport("222:replacement", nil)
	r.set("bot-0-r1", replacement)
	r.alias("bot-0", "bot-0-r1")

	got, ok := r.get("bot-0")
	assert.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestRegistry_AliasUnknownTargetIsNoop(t *testing.T) {
	r := newRegistry()
	original := newTransport("111:orig", nil)
	r.set("bot-0", original)

	r.alias("bot-0", "bot-does-not-exist")

	got, ok := r.get("bot-0")
	assert.True(t, ok)
	assert.Same(t, original, got)
}
