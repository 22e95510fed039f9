// Package commission computes the platform fee deducted from a store's gross
// sale amount before funds are settled.
package commission

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vendimo/marketplace-core/internal/domain/money"
)

// ErrNegativeAmount is returned when the caller passes a negative gross
// amount. That is a data-integrity bug upstream, never a user error.
var ErrNegativeAmount = errors.New("commission: negative amount")

// Config holds the fee schedule. Value is a percentage expressed in percent
// points (8.25 means 8.25%).
type Config struct {
	FeePercent       decimal.Decimal
	FlatFee          money.Cents
	FlatFeeThreshold money.Cents
	FeeCap           money.Cents
}

// DefaultConfig is the platform fee schedule: 8.25% plus a 200 minor-unit
// flat fee on amounts of 2500 and above, capped at 3000.
func DefaultConfig() Config {
	return Config{
		FeePercent:       decimal.RequireFromString("8.25"),
		FlatFee:          200,
		FlatFeeThreshold: 2500,
		FeeCap:           3000,
	}
}

// Result is the outcome of a commission calculation.
type Result struct {
	Commission   money.Cents
	SettleAmount money.Cents
}

// Calculator applies a fee schedule to gross amounts.
type Calculator struct {
	cfg     Config
	hundred decimal.Decimal
}

// NewCalculator returns a Calculator for the given fee schedule.
func NewCalculator(cfg Config) Calculator {
	return Calculator{cfg: cfg, hundred: decimal.NewFromInt(100)}
}

// FeePercent returns the percentage component of the fee schedule, for
// snapshotting into settlement records.
func (c Calculator) FeePercent() decimal.Decimal {
	return c.cfg.FeePercent
}

// Calculate returns the platform commission and the net settle amount for a
// gross sale amount. The flat fee is waived below the threshold and the total
// fee is capped. All arithmetic is exact decimal on minor units, rounded half
// away from zero to whole units at the end.
func (c Calculator) Calculate(amount money.Cents) (Result, error) {
	if amount < 0 {
		return Result{}, ErrNegativeAmount
	}

	fee := amount.Decimal().Mul(c.cfg.FeePercent).Div(c.hundred)
	if amount >= c.cfg.FlatFeeThreshold {
		fee = fee.Add(c.cfg.FlatFee.Decimal())
	}

	commission := money.FromDecimal(fee)
	if commission > c.cfg.FeeCap {
		commission = c.cfg.FeeCap
	}

	return Result{
		Commission:   commission,
		SettleAmount: amount - commission,
	}, nil
}
