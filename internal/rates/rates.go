// Package rates implements the utilization-based interest rate model. Two
// curve families are supported: the legacy 3-point optimal/plateau/max
// curve and the multipoint curve interpolating through up to seven
// configured vertices.
//
// All functions are pure transformations over bank snapshots.
package rates

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/openlend/risk-engine/internal/model"
)

// ErrNegativeRate is returned when a curve configuration produces a
// negative rate. This is a configuration defect, not a market condition.
var ErrNegativeRate = errors.New("rates: negative interest rate")

var two = decimal.NewFromInt(2)

// Rates bundles the per-bank APRs derived from one utilization reading.
type Rates struct {
	Base          decimal.Decimal `json:"base"`
	Lending       decimal.Decimal `json:"lending"`
	Borrowing     decimal.Decimal `json:"borrowing"`
	GroupFees     decimal.Decimal `json:"group_fees"`
	InsuranceFees decimal.Decimal `json:"insurance_fees"`
}

// Utilization is totalLiabilityQuantity / totalAssetQuantity, defined as
// zero when the pool holds no assets.
func Utilization(b *model.Bank) decimal.Decimal {
	totalAssets := b.TotalAssetQuantity()
	if totalAssets.IsZero() {
		return decimal.Zero
	}
	return b.TotalLiabilityQuantity().Div(totalAssets)
}

// BaseRate evaluates the configured curve at the given utilization.
func BaseRate(c *model.InterestRateConfig, utilization decimal.Decimal) decimal.Decimal {
	if c.Curve == model.CurveMultipoint {
		return multipointRate(c, utilization)
	}
	return legacyRate(c, utilization)
}

// legacyRate is piecewise-linear through (0,0), (optimal,plateau), (1,max).
func legacyRate(c *model.InterestRateConfig, utilization decimal.Decimal) decimal.Decimal {
	if utilization.LessThanOrEqual(c.OptimalUtilizationRate) {
		return utilization.Mul(c.PlateauInterestRate).Div(c.OptimalUtilizationRate)
	}
	span := model.One.Sub(c.OptimalUtilizationRate)
	rise := c.MaxInterestRate.Sub(c.PlateauInterestRate)
	return utilization.Sub(c.OptimalUtilizationRate).Div(span).Mul(rise).Add(c.PlateauInterestRate)
}

// multipointRate interpolates through (0, zeroUtilRate), the configured
// ascending points, and (1, hundredUtilRate). Utilization is clamped to
// [0,1] and each segment's result is clamped to its endpoint values.
func multipointRate(c *model.InterestRateConfig, utilization decimal.Decimal) decimal.Decimal {
	if utilization.IsNegative() {
		utilization = decimal.Zero
	}
	if utilization.GreaterThan(model.One) {
		utilization = model.One
	}

	points := c.TrimmedPoints()
	vertices := make([]model.RatePoint, 0, len(points)+2)
	vertices = append(vertices, model.RatePoint{Utilization: decimal.Zero, Rate: c.ZeroUtilRate})
	vertices = append(vertices, points...)
	vertices = append(vertices, model.RatePoint{Utilization: model.One, Rate: c.HundredUtilRate})

	for i := 1; i < len(vertices); i++ {
		lo, hi := vertices[i-1], vertices[i]
		if utilization.GreaterThan(hi.Utilization) {
			continue
		}
		span := hi.Utilization.Sub(lo.Utilization)
		if span.IsZero() {
			return lo.Rate
		}
		t := utilization.Sub(lo.Utilization).Div(span)
		rate := lo.Rate.Add(t.Mul(hi.Rate.Sub(lo.Rate)))
		return clampToSegment(rate, lo.Rate, hi.Rate)
	}
	return c.HundredUtilRate
}

// clampToSegment bounds an interpolated rate to the segment's endpoint
// values so rounding cannot extrapolate past either vertex.
func clampToSegment(rate, a, b decimal.Decimal) decimal.Decimal {
	lo, hi := a, b
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	if rate.LessThan(lo) {
		return lo
	}
	if rate.GreaterThan(hi) {
		return hi
	}
	return rate
}

// Compute derives the full APR set for one utilization reading:
//
//	lending   = base × utilization
//	borrowing = base × (1 + insuranceIR + protocolIR) + fixed fee APRs
func Compute(c *model.InterestRateConfig, utilization decimal.Decimal) (Rates, error) {
	base := BaseRate(c, utilization)

	irFees := c.InsuranceIRFee.Add(c.ProtocolIRFee)
	fixedFees := c.InsuranceFeeFixedAPR.Add(c.ProtocolFixedFeeAPR)

	r := Rates{
		Base:          base,
		Lending:       base.Mul(utilization),
		Borrowing:     base.Mul(model.One.Add(irFees)).Add(fixedFees),
		GroupFees:     base.Mul(c.ProtocolIRFee).Add(c.ProtocolFixedFeeAPR),
		InsuranceFees: base.Mul(c.InsuranceIRFee).Add(c.InsuranceFeeFixedAPR),
	}

	if r.Lending.IsNegative() || r.Borrowing.IsNegative() ||
		r.GroupFees.IsNegative() || r.InsuranceFees.IsNegative() {
		return Rates{}, ErrNegativeRate
	}
	return r, nil
}

// RemainingCapacity returns how much can still be deposited and borrowed.
// Interest accrued since the bank's last update has not yet been folded
// into the share values, so both capacities are haircut by twice the
// pro-rata accrued interest to stay on the safe side of the caps.
func RemainingCapacity(b *model.Bank, now int64) (depositCapacity, borrowCapacity decimal.Decimal) {
	totalAssets := b.TotalAssetQuantity()
	totalLiabilities := b.TotalLiabilityQuantity()

	depositCapacity = decimal.Max(decimal.Zero, b.Config.DepositLimit.Sub(totalAssets))
	borrowCapacity = decimal.Max(decimal.Zero, b.Config.LiabilityLimit.Sub(totalLiabilities))

	elapsed := now - b.LastUpdate
	if elapsed <= 0 {
		return depositCapacity, borrowCapacity
	}

	r, err := Compute(&b.Config.InterestRateConfig, Utilization(b))
	if err != nil {
		return decimal.Zero, decimal.Zero
	}

	fraction := decimal.NewFromInt(elapsed).Div(decimal.NewFromInt(model.SecondsPerYear))
	accruedLending := r.Lending.Mul(fraction).Mul(totalAssets)
	accruedBorrow := r.Borrowing.Mul(fraction).Mul(totalLiabilities)

	depositCapacity = depositCapacity.Sub(accruedLending.Mul(two))
	borrowCapacity = borrowCapacity.Sub(accruedBorrow.Mul(two))
	return depositCapacity, borrowCapacity
}

// ProjectedShareValues returns the asset and liability share values after
// folding in simple pro-rata interest since the bank's last update. The
// snapshot itself is not modified; callers use this for display previews.
func ProjectedShareValues(b *model.Bank, now int64) (assetShareValue, liabilityShareValue decimal.Decimal, err error) {
	elapsed := now - b.LastUpdate
	if elapsed <= 0 {
		return b.AssetShareValue, b.LiabilityShareValue, nil
	}
	if b.TotalAssetQuantity().IsZero() || b.TotalLiabilityQuantity().IsZero() {
		return b.AssetShareValue, b.LiabilityShareValue, nil
	}

	r, err := Compute(&b.Config.InterestRateConfig, Utilization(b))
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	fraction := decimal.NewFromInt(elapsed).Div(decimal.NewFromInt(model.SecondsPerYear))
	assetShareValue = b.AssetShareValue.Mul(model.One.Add(r.Lending.Mul(fraction)))
	liabilityShareValue = b.LiabilityShareValue.Mul(model.One.Add(r.Borrowing.Mul(fraction)))
	return assetShareValue, liabilityShareValue, nil
}
