// Package leverage sizes looping positions: it derives the maximum leverage
// a deposit/borrow bank pair supports from their initial risk weights, and
// the deposit/borrow split needed to reach a target leverage.
package leverage

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/openlend/risk-engine/internal/model"
)

// ErrInvalidLeverage is returned when the requested target leverage is
// below 1 or above what the bank pair supports. Programming misuse, not a
// market condition.
var ErrInvalidLeverage = errors.New("leverage: target leverage out of range")

// MaxLeverage describes the bound for one deposit/borrow bank pair.
type MaxLeverage struct {
	// LTV is depositAssetWeightInit / borrowLiabilityWeightInit.
	LTV decimal.Decimal `json:"ltv"`
	// MaxLeverage is 1 / (1 - LTV). Zero when LTV >= 1: no finite bound
	// exists for such a pair and looping is rejected.
	MaxLeverage decimal.Decimal `json:"max_leverage"`
}

// LoopingParams is the sizing for one looping setup: deposit principal,
// lever it to TotalDeposit, and borrow BorrowAmount of the borrow asset to
// fund the difference.
type LoopingParams struct {
	TotalDeposit decimal.Decimal `json:"total_deposit"`
	BorrowAmount decimal.Decimal `json:"borrow_amount"`
}

// ComputeMaxLeverage derives the leverage bound from the deposit bank's
// initial asset weight and the borrow bank's initial liability weight.
func ComputeMaxLeverage(depositBank, borrowBank *model.Bank) MaxLeverage {
	ltv := depositBank.Config.AssetWeightInit.Div(borrowBank.Config.LiabilityWeightInit)
	bound := MaxLeverage{LTV: ltv}
	// ltv >= 1 means every borrowed unit fully collateralizes itself, so
	// 1/(1-ltv) is undefined or negative. Leave the bound at zero.
	if ltv.GreaterThanOrEqual(model.One) {
		return bound
	}
	bound.MaxLeverage = model.One.Div(model.One.Sub(ltv))
	return bound
}

// ComputeLoopingParams sizes a loop from principal to targetLeverage. The
// incremental deposit converts to a borrow amount priced conservatively in
// both directions: deposit asset at its lowest price, borrow asset at its
// highest.
func ComputeLoopingParams(
	principal, targetLeverage decimal.Decimal,
	depositBank, borrowBank *model.Bank,
	depositPrice, borrowPrice *model.OraclePrice,
) (LoopingParams, error) {
	bound := ComputeMaxLeverage(depositBank, borrowBank)
	if targetLeverage.LessThan(model.One) || targetLeverage.GreaterThan(bound.MaxLeverage) {
		return LoopingParams{}, ErrInvalidLeverage
	}

	totalDeposit := principal.Mul(targetLeverage)

	depositLow := depositPrice.Select(model.BiasLow, false)
	borrowHigh := borrowPrice.Select(model.BiasHigh, false)

	borrowAmount := totalDeposit.Sub(principal).Mul(depositLow).Div(borrowHigh)

	return LoopingParams{
		TotalDeposit: totalDeposit,
		BorrowAmount: borrowAmount,
	}, nil
}
