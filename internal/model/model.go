// Package model defines the immutable value types shared across the risk
// engine: banks, balances, accounts, oracle prices and e-mode pairs.
// All monetary values use shopspring/decimal, never float64 for money.
//
// The engine computes over read-only snapshots of these types. Refreshing a
// snapshot replaces values wholesale; nothing here is mutated in place by
// the computation packages.
package model

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// MaxBalances is the fixed number of balance slots per account. Inactive
// slots are reusable capacity, not deletions.
const MaxBalances = 16

// SecondsPerYear uses a 365.25-day year, matching the on-chain accrual math.
const SecondsPerYear = 31_557_600

// One is the decimal unit, shared by weight and rate arithmetic.
var One = decimal.NewFromInt(1)

var (
	ErrInvalidConfig        = errors.New("model: invalid bank config")
	ErrBankPaused           = errors.New("model: bank is paused")
	ErrBankReduceOnly       = errors.New("model: bank is reduce-only")
	ErrAssetCapExceeded     = errors.New("model: deposit cap exceeded")
	ErrLiabilityCapExceeded = errors.New("model: borrow cap exceeded")
)

// RequirementType selects which margin weights apply to a valuation.
type RequirementType uint8

const (
	// Initial margin is the strictest requirement and gates new actions.
	Initial RequirementType = iota
	// Maintenance margin is looser and gates liquidation.
	Maintenance
	// Equity applies no weights; used for display and APY math.
	Equity
)

func (rt RequirementType) String() string {
	switch rt {
	case Initial:
		return "initial"
	case Maintenance:
		return "maintenance"
	case Equity:
		return "equity"
	default:
		return "unknown"
	}
}

// PriceBias selects which edge of the oracle confidence interval to price
// at. Solvency checks price assets Low and liabilities High to absorb
// oracle uncertainty; display paths use None (the mid price).
type PriceBias uint8

const (
	BiasNone PriceBias = iota
	BiasLow
	BiasHigh
)

// RiskTier partitions banks by how their collateral may be used.
type RiskTier uint8

const (
	// TierCollateral banks back borrows across the whole account.
	TierCollateral RiskTier = iota
	// TierIsolated banks cannot back borrows elsewhere; their asset weights
	// are zero outside their own pair.
	TierIsolated
)

// OperationalState gates which actions a bank currently accepts.
type OperationalState uint8

const (
	StatePaused OperationalState = iota
	StateOperational
	StateReduceOnly
)

// BalanceSide reports which leg of a balance is populated.
type BalanceSide uint8

const (
	SideAssets BalanceSide = iota
	SideLiabilities
	SideEmpty
)

// OracleKind identifies the price-feed family backing a bank.
type OracleKind string

const (
	OracleKindPythPush        OracleKind = "pyth-push"
	OracleKindSwitchboardPull OracleKind = "switchboard-pull"
)

// OracleConfig names the feed family and the feed account keys for a bank.
// The keys are opaque to this engine; the fetch layer resolves them.
type OracleConfig struct {
	Setup OracleKind `json:"setup"`
	Keys  []string   `json:"keys"`
}

// PriceObservation is one normalized price reading. LowestPrice and
// HighestPrice are the mid price shifted by the kind-specific confidence
// interval; all four values are non-negative.
type PriceObservation struct {
	Price        decimal.Decimal `json:"price"`
	Confidence   decimal.Decimal `json:"confidence"`
	LowestPrice  decimal.Decimal `json:"lowest_price"`
	HighestPrice decimal.Decimal `json:"highest_price"`
}

// OraclePrice fuses the real-time and time-weighted observations for one
// bank. Snapshots replace it wholesale on every refresh.
type OraclePrice struct {
	Realtime PriceObservation `json:"realtime"`
	Weighted PriceObservation `json:"weighted"`
}

// Select returns the price under the given bias. Weighted selects the
// time-weighted observation.
func (op *OraclePrice) Select(bias PriceBias, weighted bool) decimal.Decimal {
	obs := op.Realtime
	if weighted {
		obs = op.Weighted
	}
	switch bias {
	case BiasLow:
		return obs.LowestPrice
	case BiasHigh:
		return obs.HighestPrice
	default:
		return obs.Price
	}
}

// RatePoint is one configured vertex of the multipoint interest curve.
// Points with zero utilization are layout padding and are trimmed before
// use.
type RatePoint struct {
	Utilization decimal.Decimal `json:"utilization"`
	Rate        decimal.Decimal `json:"rate"`
}

// CurveKind selects the interest-rate curve family.
type CurveKind uint8

const (
	// CurveLegacy is the 3-point optimal/plateau/max curve.
	CurveLegacy CurveKind = iota
	// CurveMultipoint interpolates through up to seven configured points.
	CurveMultipoint
)

// InterestRateConfig holds the curve parameters and the four fee components
// layered on top of the base rate.
type InterestRateConfig struct {
	Curve CurveKind `json:"curve"`

	// Legacy curve parameters.
	OptimalUtilizationRate decimal.Decimal `json:"optimal_utilization_rate"`
	PlateauInterestRate    decimal.Decimal `json:"plateau_interest_rate"`
	MaxInterestRate        decimal.Decimal `json:"max_interest_rate"`

	// Multipoint curve parameters.
	ZeroUtilRate    decimal.Decimal `json:"zero_util_rate"`
	HundredUtilRate decimal.Decimal `json:"hundred_util_rate"`
	Points          []RatePoint     `json:"points"`

	InsuranceFeeFixedAPR decimal.Decimal `json:"insurance_fee_fixed_apr"`
	InsuranceIRFee       decimal.Decimal `json:"insurance_ir_fee"`
	ProtocolFixedFeeAPR  decimal.Decimal `json:"protocol_fixed_fee_apr"`
	ProtocolIRFee        decimal.Decimal `json:"protocol_ir_fee"`
}

// TrimmedPoints returns the configured curve points with zero-utilization
// padding entries removed.
func (c *InterestRateConfig) TrimmedPoints() []RatePoint {
	points := make([]RatePoint, 0, len(c.Points))
	for _, p := range c.Points {
		if p.Utilization.IsPositive() {
			points = append(points, p)
		}
	}
	return points
}

// Validate checks curve parameters for the configured family.
func (c *InterestRateConfig) Validate() error {
	switch c.Curve {
	case CurveLegacy:
		if c.OptimalUtilizationRate.LessThanOrEqual(decimal.Zero) || c.OptimalUtilizationRate.GreaterThanOrEqual(One) {
			return ErrInvalidConfig
		}
		if c.PlateauInterestRate.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidConfig
		}
		if c.MaxInterestRate.LessThanOrEqual(c.PlateauInterestRate) {
			return ErrInvalidConfig
		}
	case CurveMultipoint:
		if c.ZeroUtilRate.IsNegative() || c.HundredUtilRate.IsNegative() {
			return ErrInvalidConfig
		}
		points := c.TrimmedPoints()
		if len(points) > 7 {
			return ErrInvalidConfig
		}
		prev := decimal.Zero
		for _, p := range points {
			if p.Utilization.LessThanOrEqual(prev) || p.Utilization.GreaterThanOrEqual(One) {
				return ErrInvalidConfig
			}
			if p.Rate.IsNegative() {
				return ErrInvalidConfig
			}
			prev = p.Utilization
		}
	default:
		return ErrInvalidConfig
	}
	if c.InsuranceFeeFixedAPR.IsNegative() || c.InsuranceIRFee.IsNegative() ||
		c.ProtocolFixedFeeAPR.IsNegative() || c.ProtocolIRFee.IsNegative() {
		return ErrInvalidConfig
	}
	return nil
}

// BankConfig carries the risk parameters for one bank.
type BankConfig struct {
	AssetWeightInit  decimal.Decimal `json:"asset_weight_init"`
	AssetWeightMaint decimal.Decimal `json:"asset_weight_maint"`

	LiabilityWeightInit  decimal.Decimal `json:"liability_weight_init"`
	LiabilityWeightMaint decimal.Decimal `json:"liability_weight_maint"`

	DepositLimit   decimal.Decimal `json:"deposit_limit"`
	LiabilityLimit decimal.Decimal `json:"liability_limit"`

	InterestRateConfig InterestRateConfig `json:"interest_rate_config"`

	OperationalState OperationalState `json:"operational_state"`

	RiskTier                 RiskTier        `json:"risk_tier"`
	TotalAssetValueInitLimit decimal.Decimal `json:"total_asset_value_init_limit"`

	Oracle OracleConfig `json:"oracle"`
}

// Weights returns the asset and liability weights for a requirement type.
// Equity is unweighted.
func (bc *BankConfig) Weights(rt RequirementType) (assetWeight, liabilityWeight decimal.Decimal) {
	switch rt {
	case Initial:
		return bc.AssetWeightInit, bc.LiabilityWeightInit
	case Maintenance:
		return bc.AssetWeightMaint, bc.LiabilityWeightMaint
	case Equity:
		return One, One
	default:
		return decimal.Zero, decimal.Zero
	}
}

// Weight returns the single weight for one side of a balance.
func (bc *BankConfig) Weight(rt RequirementType, side BalanceSide) decimal.Decimal {
	assetWeight, liabilityWeight := bc.Weights(rt)
	if side == SideLiabilities {
		return liabilityWeight
	}
	return assetWeight
}

// Validate enforces weight ordering and the isolated-tier invariant.
func (bc *BankConfig) Validate() error {
	if bc.AssetWeightInit.IsNegative() || bc.AssetWeightInit.GreaterThan(One) {
		return ErrInvalidConfig
	}
	if bc.AssetWeightMaint.LessThan(bc.AssetWeightInit) {
		return ErrInvalidConfig
	}
	if bc.LiabilityWeightInit.LessThan(One) {
		return ErrInvalidConfig
	}
	if bc.LiabilityWeightMaint.GreaterThan(bc.LiabilityWeightInit) || bc.LiabilityWeightMaint.LessThan(One) {
		return ErrInvalidConfig
	}
	if bc.RiskTier == TierIsolated {
		// Isolated collateral cannot back borrows elsewhere.
		if !bc.AssetWeightInit.IsZero() || !bc.AssetWeightMaint.IsZero() {
			return ErrInvalidConfig
		}
	}
	return bc.InterestRateConfig.Validate()
}

// IsDepositLimitActive reports whether the deposit cap is configured.
// MaxUint64 is the sentinel for "no cap".
func (bc *BankConfig) IsDepositLimitActive() bool {
	return !bc.DepositLimit.Equal(decimal.NewFromUint64(math.MaxUint64))
}

// IsBorrowLimitActive reports whether the borrow cap is configured.
func (bc *BankConfig) IsBorrowLimitActive() bool {
	return !bc.LiabilityLimit.Equal(decimal.NewFromUint64(math.MaxUint64))
}

// IsInitLimitActive reports whether the USD init-weight soft limit is set.
func (bc *BankConfig) IsInitLimitActive() bool {
	return bc.TotalAssetValueInitLimit.IsPositive()
}

// Bank is one lending pool for one asset. Quantities are in native units
// (10^Decimals per whole token); total quantities are shares times the
// matching share value.
type Bank struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	MintID  string `json:"mint_id"`

	Decimals int32 `json:"decimals"`

	AssetShareValue     decimal.Decimal `json:"asset_share_value"`
	LiabilityShareValue decimal.Decimal `json:"liability_share_value"`

	TotalAssetShares     decimal.Decimal `json:"total_asset_shares"`
	TotalLiabilityShares decimal.Decimal `json:"total_liability_shares"`

	// Vault addresses are opaque here; the transaction layer resolves them.
	LiquidityVault string `json:"liquidity_vault"`
	InsuranceVault string `json:"insurance_vault"`
	FeeVault       string `json:"fee_vault"`

	Config BankConfig `json:"config"`

	EmissionsMint      string          `json:"emissions_mint"`
	EmissionsRate      decimal.Decimal `json:"emissions_rate"`
	EmissionsRemaining decimal.Decimal `json:"emissions_remaining"`
	EmissionsDecimals  int32           `json:"emissions_decimals"`

	LastUpdate int64 `json:"last_update"`
}

// AssetQuantity converts asset shares to a native-unit quantity.
func (b *Bank) AssetQuantity(shares decimal.Decimal) decimal.Decimal {
	return shares.Mul(b.AssetShareValue)
}

// LiabilityQuantity converts liability shares to a native-unit quantity.
func (b *Bank) LiabilityQuantity(shares decimal.Decimal) decimal.Decimal {
	return shares.Mul(b.LiabilityShareValue)
}

// AssetShares converts a native-unit quantity back to asset shares.
func (b *Bank) AssetShares(quantity decimal.Decimal) decimal.Decimal {
	return quantity.Div(b.AssetShareValue)
}

// LiabilityShares converts a native-unit quantity back to liability shares.
func (b *Bank) LiabilityShares(quantity decimal.Decimal) decimal.Decimal {
	return quantity.Div(b.LiabilityShareValue)
}

// TotalAssetQuantity is the pool's total deposits in native units.
func (b *Bank) TotalAssetQuantity() decimal.Decimal {
	return b.AssetQuantity(b.TotalAssetShares)
}

// TotalLiabilityQuantity is the pool's total borrows in native units.
func (b *Bank) TotalLiabilityQuantity() decimal.Decimal {
	return b.LiabilityQuantity(b.TotalLiabilityShares)
}

// ScaleFactor is 10^Decimals, the divisor between native units and whole
// tokens.
func (b *Bank) ScaleFactor() decimal.Decimal {
	return decimal.New(1, b.Decimals)
}

// AssertOperationalState rejects actions the bank's state disallows.
// increasing reports whether the action grows an asset or liability amount.
func (b *Bank) AssertOperationalState(increasing bool) error {
	switch b.Config.OperationalState {
	case StatePaused:
		return ErrBankPaused
	case StateReduceOnly:
		if increasing {
			return ErrBankReduceOnly
		}
	}
	return nil
}

// CheckAssetCap validates that adding shares keeps total deposits within
// the configured cap.
func (b *Bank) CheckAssetCap(addedShares decimal.Decimal) error {
	if !addedShares.IsPositive() || !b.Config.IsDepositLimitActive() {
		return nil
	}
	total := b.AssetQuantity(b.TotalAssetShares.Add(addedShares))
	if total.GreaterThan(b.Config.DepositLimit) {
		return ErrAssetCapExceeded
	}
	return nil
}

// CheckLiabilityCap validates that adding shares keeps total borrows within
// the configured cap.
func (b *Bank) CheckLiabilityCap(addedShares decimal.Decimal) error {
	if !addedShares.IsPositive() || !b.Config.IsBorrowLimitActive() {
		return nil
	}
	total := b.LiabilityQuantity(b.TotalLiabilityShares.Add(addedShares))
	if total.GreaterThanOrEqual(b.Config.LiabilityLimit) {
		return ErrLiabilityCapExceeded
	}
	return nil
}

// AssetWeightInitDiscount returns the multiplier applied to the initial
// asset weight when the bank's total collateral value exceeds the USD soft
// limit. Returns 1 when no discount applies.
func (b *Bank) AssetWeightInitDiscount(price decimal.Decimal) decimal.Decimal {
	if !b.Config.IsInitLimitActive() {
		return One
	}
	totalValue := b.TotalAssetQuantity().Mul(price).Div(b.ScaleFactor())
	if totalValue.LessThanOrEqual(b.Config.TotalAssetValueInitLimit) {
		return One
	}
	return b.Config.TotalAssetValueInitLimit.Div(totalValue)
}

// Balance is one account's position in one bank. At most one of the two
// share legs is non-zero in normal operation; an inactive balance is a
// zero-valued placeholder and is never counted.
type Balance struct {
	Active               bool            `json:"active"`
	BankID               string          `json:"bank_id"`
	AssetShares          decimal.Decimal `json:"asset_shares"`
	LiabilityShares      decimal.Decimal `json:"liability_shares"`
	EmissionsOutstanding decimal.Decimal `json:"emissions_outstanding"`
	LastUpdate           int64           `json:"last_update"`
}

// Side reports which leg of the balance is populated.
func (bal *Balance) Side() BalanceSide {
	switch {
	case bal.AssetShares.IsPositive():
		return SideAssets
	case bal.LiabilityShares.IsPositive():
		return SideLiabilities
	default:
		return SideEmpty
	}
}

// IsEmpty reports whether both legs are zero.
func (bal *Balance) IsEmpty() bool {
	return bal.AssetShares.IsZero() && bal.LiabilityShares.IsZero()
}

// Account holds up to MaxBalances balance slots for one authority.
type Account struct {
	ID        string    `json:"id"`
	Authority string    `json:"authority"`
	GroupID   string    `json:"group_id"`
	Balances  []Balance `json:"balances"`
}

// Balance returns the active balance for a bank, or nil when the account
// holds no active position there.
func (a *Account) Balance(bankID string) *Balance {
	for i := range a.Balances {
		if a.Balances[i].Active && a.Balances[i].BankID == bankID {
			return &a.Balances[i]
		}
	}
	return nil
}

// ActiveBalances returns the active slots in slot order.
func (a *Account) ActiveBalances() []Balance {
	active := make([]Balance, 0, len(a.Balances))
	for _, bal := range a.Balances {
		if bal.Active {
			active = append(active, bal)
		}
	}
	return active
}

// EmodeTag groups banks for efficiency-mode pairing. Tag zero means
// unconfigured.
type EmodeTag uint16

// EmodePair grants a preferential asset weight to specific collateral banks
// when borrowing against a specific liability tag. Immutable configuration
// data, fetched alongside banks.
type EmodePair struct {
	LiabilityBankID   string          `json:"liability_bank_id"`
	LiabilityTag      EmodeTag        `json:"liability_tag"`
	CollateralBankIDs []string        `json:"collateral_bank_ids"`
	CollateralTag     EmodeTag        `json:"collateral_tag"`
	AssetWeightInit   decimal.Decimal `json:"asset_weight_init"`
	AssetWeightMaint  decimal.Decimal `json:"asset_weight_maint"`
}
