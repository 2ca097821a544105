// Package health implements position valuation and the account health
// engine: health components, free collateral, max-action sizing and
// liquidation-price solving.
//
// Every function is a pure transformation over an immutable snapshot of
// banks, oracle prices and one account. The engine holds no state and is
// safe to call concurrently on independent snapshots.
package health

import (
	"github.com/shopspring/decimal"

	"github.com/openlend/risk-engine/internal/model"
)

// weightedPrice reports whether the time-weighted observation prices a
// valuation. Initial-margin checks use the weighted price; maintenance and
// equity use real-time.
func weightedPrice(rt model.RequirementType) bool {
	return rt == model.Initial
}

// assetWeight resolves the effective asset weight for a bank, folding in
// the USD soft-limit discount on the initial weight.
func assetWeight(bank *model.Bank, rt model.RequirementType, price *model.OraclePrice) decimal.Decimal {
	w, _ := bank.Config.Weights(rt)
	if rt == model.Initial {
		mid := price.Select(model.BiasNone, false)
		w = w.Mul(bank.AssetWeightInitDiscount(mid))
	}
	return w
}

// usdValue converts a native-unit quantity to a USD value:
// quantity × price × weight / 10^decimals.
func usdValue(quantity, price, weight, scale decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Mul(weight).Div(scale)
}

// AssetUsdValue values asset shares under a requirement type and price
// bias.
func AssetUsdValue(bank *model.Bank, price *model.OraclePrice, shares decimal.Decimal, rt model.RequirementType, bias model.PriceBias) decimal.Decimal {
	quantity := bank.AssetQuantity(shares)
	weight := assetWeight(bank, rt, price)
	p := price.Select(bias, weightedPrice(rt))
	return usdValue(quantity, p, weight, bank.ScaleFactor())
}

// LiabilityUsdValue values liability shares under a requirement type and
// price bias.
func LiabilityUsdValue(bank *model.Bank, price *model.OraclePrice, shares decimal.Decimal, rt model.RequirementType, bias model.PriceBias) decimal.Decimal {
	quantity := bank.LiabilityQuantity(shares)
	_, weight := bank.Config.Weights(rt)
	p := price.Select(bias, weightedPrice(rt))
	return usdValue(quantity, p, weight, bank.ScaleFactor())
}

// BalanceUsdValues returns the biased USD values of one balance: assets at
// the lowest price, liabilities at the highest. This is the conservative
// pairing used by every solvency check.
func BalanceUsdValues(bal *model.Balance, bank *model.Bank, price *model.OraclePrice, rt model.RequirementType) (assets, liabilities decimal.Decimal) {
	assets = AssetUsdValue(bank, price, bal.AssetShares, rt, model.BiasLow)
	liabilities = LiabilityUsdValue(bank, price, bal.LiabilityShares, rt, model.BiasHigh)
	return assets, liabilities
}

// BalanceUsdValuesUnbiased values both legs at the mid price. Used for
// equity and APY display, never for solvency.
func BalanceUsdValuesUnbiased(bal *model.Balance, bank *model.Bank, price *model.OraclePrice, rt model.RequirementType) (assets, liabilities decimal.Decimal) {
	assets = AssetUsdValue(bank, price, bal.AssetShares, rt, model.BiasNone)
	liabilities = LiabilityUsdValue(bank, price, bal.LiabilityShares, rt, model.BiasNone)
	return assets, liabilities
}

// BalanceQuantities converts both share legs of a balance to native-unit
// quantities.
func BalanceQuantities(bal *model.Balance, bank *model.Bank) (assetQuantity, liabilityQuantity decimal.Decimal) {
	return bank.AssetQuantity(bal.AssetShares), bank.LiabilityQuantity(bal.LiabilityShares)
}

// ClaimedEmissions returns the emissions claimable on a balance at the
// given time: the outstanding amount plus pro-rata accrual since the
// balance's last update, capped at the bank's remaining emissions budget.
func ClaimedEmissions(bal *model.Balance, bank *model.Bank, now int64) decimal.Decimal {
	total := bal.EmissionsOutstanding
	if !bal.Active || bank.EmissionsRate.IsZero() {
		return total
	}

	elapsed := now - bal.LastUpdate
	if elapsed > 0 {
		var quantity decimal.Decimal
		switch bal.Side() {
		case model.SideAssets:
			quantity = bank.AssetQuantity(bal.AssetShares)
		case model.SideLiabilities:
			quantity = bank.LiabilityQuantity(bal.LiabilityShares)
		default:
			return total
		}

		denom := decimal.NewFromInt(model.SecondsPerYear).Mul(decimal.New(1, bank.EmissionsDecimals))
		accrued := decimal.NewFromInt(elapsed).Mul(quantity).Mul(bank.EmissionsRate).Div(denom)
		total = total.Add(accrued)
	}

	if total.GreaterThan(bank.EmissionsRemaining) {
		return bank.EmissionsRemaining
	}
	return total
}
