package finalize

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dropbot/backend/internal/domain"
)

func TestMeetsTolerance_RatioAboveFloor(t *testing.T) {
	deposit := &domain.PendingDeposit{TargetEURAmount: decimal.NewFromInt(100)}
	paid := decimal.NewFromInt(99) // 99% >= 98% floor
	assert.True(t, meetsTolerance(deposit, paid))
}

func TestMeetsTolerance_RatioBelowFloorButGapSmall(t *testing.T) {
	deposit := &domain.PendingDeposit{TargetEURAmount: decimal.NewFromFloat(10.00)}
	paid := decimal.NewFromFloat(9.60) // ratio 96%, gap 0.40 <= 0.50
	assert.True(t, meetsTolerance(deposit, paid))
}

func TestMeetsTolerance_BothRatioAndGapFail(t *testing.T) {
	deposit := &domain.PendingDeposit{TargetEURAmount: decimal.NewFromInt(100)}
	paid := decimal.NewFromInt(50)
	assert.False(t, meetsTolerance(deposit, paid))
}

func TestMeetsTolerance_ZeroTargetAlwaysPasses(t *testing.T) {
	deposit := &domain.PendingDeposit{TargetEURAmount: decimal.Zero}
	assert.True(t, meetsTolerance(deposit, decimal.NewFromInt(5)))
}
