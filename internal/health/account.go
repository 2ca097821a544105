package health

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openlend/risk-engine/internal/model"
)

var (
	// ErrBankNotFound is returned when an active balance references a bank
	// missing from the snapshot. Fatal to the call; retrying without
	// fresher data cannot succeed.
	ErrBankNotFound = errors.New("health: bank not found")

	// ErrPriceNotFound is returned when a referenced bank has no oracle
	// price in the snapshot.
	ErrPriceNotFound = errors.New("health: price not found")
)

// liquidatorDiscount is the fixed 5% bonus a liquidator receives: they buy
// collateral at 95 cents on the dollar.
var liquidatorDiscount = decimal.NewFromFloat(0.95)

// Components are the aggregated biased USD totals of an account.
type Components struct {
	Assets      decimal.Decimal `json:"assets"`
	Liabilities decimal.Decimal `json:"liabilities"`
}

// Snapshot is one immutable view of the lending group: banks and oracle
// prices keyed by bank id. Both maps must cover every bank an account's
// active balances reference.
type Snapshot struct {
	Banks  map[string]*model.Bank
	Prices map[string]*model.OraclePrice
}

// lookup resolves the bank and price for an id, mapping missing entries to
// the data-integrity sentinels.
func (s *Snapshot) lookup(bankID string) (*model.Bank, *model.OraclePrice, error) {
	bank, ok := s.Banks[bankID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrBankNotFound, bankID)
	}
	price, ok := s.Prices[bankID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPriceNotFound, bankID)
	}
	return bank, price, nil
}

// ComputeHealthComponents sums the biased asset and liability values of all
// active balances, skipping any bank listed in excluded.
func ComputeHealthComponents(account *model.Account, snap *Snapshot, rt model.RequirementType, excluded []string) (Components, error) {
	return componentsForBalances(account.ActiveBalances(), snap, rt, excluded, true)
}

// ComputeHealthComponentsUnbiased sums both legs at the mid price. Used for
// equity display, never for solvency.
func ComputeHealthComponentsUnbiased(account *model.Account, snap *Snapshot, rt model.RequirementType) (Components, error) {
	return componentsForBalances(account.ActiveBalances(), snap, rt, nil, false)
}

func componentsForBalances(balances []model.Balance, snap *Snapshot, rt model.RequirementType, excluded []string, biased bool) (Components, error) {
	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	var comps Components
	for i := range balances {
		bal := &balances[i]
		if skip[bal.BankID] {
			continue
		}
		bank, price, err := snap.lookup(bal.BankID)
		if err != nil {
			return Components{}, err
		}
		var assets, liabilities decimal.Decimal
		if biased {
			assets, liabilities = BalanceUsdValues(bal, bank, price, rt)
		} else {
			assets, liabilities = BalanceUsdValuesUnbiased(bal, bank, price, rt)
		}
		comps.Assets = comps.Assets.Add(assets)
		comps.Liabilities = comps.Liabilities.Add(liabilities)
	}
	return comps, nil
}

// ComputeFreeCollateral is biased initial assets minus biased initial
// liabilities. With clamp, the result floors at zero; unclamped callers see
// the raw (possibly negative) margin.
func ComputeFreeCollateral(account *model.Account, snap *Snapshot, clamp bool) (decimal.Decimal, error) {
	comps, err := ComputeHealthComponents(account, snap, model.Initial, nil)
	if err != nil {
		return decimal.Zero, err
	}
	free := comps.Assets.Sub(comps.Liabilities)
	if clamp && free.IsNegative() {
		return decimal.Zero, nil
	}
	return free, nil
}

// ComputeEquity is unbiased assets minus unbiased liabilities, unweighted.
func ComputeEquity(account *model.Account, snap *Snapshot) (decimal.Decimal, error) {
	comps, err := ComputeHealthComponentsUnbiased(account, snap, model.Equity)
	if err != nil {
		return decimal.Zero, err
	}
	return comps.Assets.Sub(comps.Liabilities), nil
}

// ComputeMaxBorrowForBank returns the largest native-unit amount the
// account can borrow from a bank without breaching initial margin.
//
// Free collateral is split into the portion untied from the account's own
// deposit in the target bank (which converts back at the deposit-side
// weight) and the remainder (which converts at the borrow cost). A
// zero-asset-weight bank contributes its existing balance plus the
// remainder capacity.
func ComputeMaxBorrowForBank(account *model.Account, snap *Snapshot, bankID string) (decimal.Decimal, error) {
	bank, price, err := snap.lookup(bankID)
	if err != nil {
		return decimal.Zero, err
	}

	freeCollateral, err := ComputeFreeCollateral(account, snap, true)
	if err != nil {
		return decimal.Zero, err
	}

	var balanceAssetShares, balanceAssetQuantity decimal.Decimal
	if bal := account.Balance(bankID); bal != nil {
		balanceAssetShares = bal.AssetShares
		balanceAssetQuantity = bank.AssetQuantity(bal.AssetShares)
	}

	collateralForBank := AssetUsdValue(bank, price, balanceAssetShares, model.Initial, model.BiasLow)
	untied := decimal.Min(collateralForBank, freeCollateral)
	remainder := freeCollateral.Sub(untied)

	priceLow := price.Select(model.BiasLow, true)
	priceHigh := price.Select(model.BiasHigh, true)
	aWeight := assetWeight(bank, model.Initial, price)
	liabWeight := bank.Config.LiabilityWeightInit
	scale := bank.ScaleFactor()

	remainderQuantity := decimal.Zero
	if denom := priceHigh.Mul(liabWeight); denom.IsPositive() {
		remainderQuantity = remainder.Div(denom).Mul(scale)
	}

	if aWeight.IsZero() {
		// Isolated or retiring collateral frees nothing by being borrowed
		// against; only the existing balance and the untied remainder count.
		return balanceAssetQuantity.Add(remainderQuantity), nil
	}

	untiedQuantity := untied.Div(priceLow.Mul(aWeight)).Mul(scale)
	return untiedQuantity.Add(remainderQuantity), nil
}

// ComputeMaxWithdrawForBank returns the largest native-unit amount the
// account can withdraw from a bank. volatilityFactor in (0,1] shrinks the
// result defensively against price movement between preview and execution;
// 1 applies no buffer.
//
// Isolated and zero-weighted banks use an end-state-only rule: the full
// balance when the account has no liabilities or positive free collateral,
// otherwise zero. This mirrors the on-chain check, which validates the
// post-action state rather than the delta, and is deliberately conservative
// even when the withdrawal itself would not affect health.
func ComputeMaxWithdrawForBank(account *model.Account, snap *Snapshot, bankID string, volatilityFactor decimal.Decimal) (decimal.Decimal, error) {
	bank, price, err := snap.lookup(bankID)
	if err != nil {
		return decimal.Zero, err
	}

	bal := account.Balance(bankID)
	if bal == nil || !bal.AssetShares.IsPositive() {
		return decimal.Zero, nil
	}
	balanceQuantity := bank.AssetQuantity(bal.AssetShares)

	initWeight := assetWeight(bank, model.Initial, price)
	maintWeight := bank.Config.AssetWeightMaint
	scale := bank.ScaleFactor()

	if initWeight.IsZero() && maintWeight.IsZero() {
		comps, err := ComputeHealthComponents(account, snap, model.Initial, nil)
		if err != nil {
			return decimal.Zero, err
		}
		free := comps.Assets.Sub(comps.Liabilities)
		if comps.Liabilities.IsZero() || free.IsPositive() {
			return balanceQuantity, nil
		}
		return decimal.Zero, nil
	}

	if initWeight.IsZero() {
		// Bank being retired: initial weight already zeroed, maintenance
		// weight still live, so size the withdrawal against maintenance
		// margin instead.
		comps, err := ComputeHealthComponents(account, snap, model.Maintenance, nil)
		if err != nil {
			return decimal.Zero, err
		}
		free := decimal.Max(decimal.Zero, comps.Assets.Sub(comps.Liabilities))
		priceLow := price.Select(model.BiasLow, false)
		quantity := free.Div(priceLow.Mul(maintWeight)).Mul(scale)
		return decimal.Min(balanceQuantity, quantity), nil
	}

	freeCollateral, err := ComputeFreeCollateral(account, snap, true)
	if err != nil {
		return decimal.Zero, err
	}
	collateralForBank := AssetUsdValue(bank, price, bal.AssetShares, model.Initial, model.BiasLow)

	if collateralForBank.LessThanOrEqual(freeCollateral) {
		return balanceQuantity, nil
	}

	buffer := collateralForBank.Sub(freeCollateral).Mul(model.One.Sub(volatilityFactor))
	withdrawable := decimal.Max(decimal.Zero, freeCollateral.Sub(buffer))

	priceLow := price.Select(model.BiasLow, true)
	quantity := withdrawable.Div(priceLow.Mul(initWeight)).Mul(scale)
	return decimal.Min(balanceQuantity, quantity), nil
}

// ComputeMaxLiquidatableAssetAmount returns the largest native-unit amount
// of assetBank collateral that can be seized against liabBank debt. Zero
// when the account is healthy at maintenance margin.
//
// The health-zeroing USD amount x satisfies
// x·(liabWeightMaint·discount − assetWeightMaint) = liabilities − assets,
// then x is clamped by the available collateral and the repayable debt.
func ComputeMaxLiquidatableAssetAmount(account *model.Account, snap *Snapshot, assetBankID, liabBankID string) (decimal.Decimal, error) {
	assetBank, assetPrice, err := snap.lookup(assetBankID)
	if err != nil {
		return decimal.Zero, err
	}
	liabBank, liabPrice, err := snap.lookup(liabBankID)
	if err != nil {
		return decimal.Zero, err
	}

	comps, err := ComputeHealthComponents(account, snap, model.Maintenance, nil)
	if err != nil {
		return decimal.Zero, err
	}
	currentHealth := comps.Assets.Sub(comps.Liabilities)
	if !currentHealth.IsNegative() {
		return decimal.Zero, nil
	}

	assetWeightMaint := assetBank.Config.AssetWeightMaint
	liabWeightMaint := liabBank.Config.LiabilityWeightMaint

	denom := liabWeightMaint.Mul(liquidatorDiscount).Sub(assetWeightMaint)
	if !denom.IsPositive() {
		return decimal.Zero, nil
	}
	healthZeroUsd := currentHealth.Neg().Div(denom)

	assetPriceLow := assetPrice.Select(model.BiasLow, false)
	liabPriceHigh := liabPrice.Select(model.BiasHigh, false)

	var collateralUsd decimal.Decimal
	if bal := account.Balance(assetBankID); bal != nil {
		quantity := assetBank.AssetQuantity(bal.AssetShares)
		collateralUsd = quantity.Mul(assetPriceLow).Div(assetBank.ScaleFactor())
	}

	var debtUsd decimal.Decimal
	if bal := account.Balance(liabBankID); bal != nil {
		quantity := liabBank.LiabilityQuantity(bal.LiabilityShares)
		// The full debt converts to this much collateral at the discount.
		debtUsd = quantity.Mul(liabPriceHigh).Div(liabBank.ScaleFactor()).Div(liquidatorDiscount)
	}

	maxUsd := decimal.Min(healthZeroUsd, collateralUsd, debtUsd)
	if !maxUsd.IsPositive() {
		return decimal.Zero, nil
	}
	return maxUsd.Div(assetPriceLow).Mul(assetBank.ScaleFactor()), nil
}

// ComputeLiquidationPriceForBank solves the single price of the given bank
// at which maintenance health reaches zero, holding every other price
// fixed. Nil when the account holds no active position in the bank, or the
// position has nothing to offset it (a deposit with no debt anywhere, or no
// liquidation level above zero).
func ComputeLiquidationPriceForBank(account *model.Account, snap *Snapshot, bankID string) (*decimal.Decimal, error) {
	bal := account.Balance(bankID)
	if bal == nil {
		return nil, nil
	}
	isLending := bal.Side() == model.SideAssets
	var amount decimal.Decimal
	bank, _, err := snap.lookup(bankID)
	if err != nil {
		return nil, err
	}
	if isLending {
		amount = bank.AssetQuantity(bal.AssetShares)
	} else {
		amount = bank.LiabilityQuantity(bal.LiabilityShares)
	}
	return ComputeLiquidationPriceForBankAmount(account, snap, bankID, isLending, amount)
}

// ComputeLiquidationPriceForBankAmount is the amount-parameterized variant:
// it prices liquidation for a hypothetical position size in native units.
func ComputeLiquidationPriceForBankAmount(account *model.Account, snap *Snapshot, bankID string, isLending bool, amount decimal.Decimal) (*decimal.Decimal, error) {
	bank, price, err := snap.lookup(bankID)
	if err != nil {
		return nil, err
	}
	if account.Balance(bankID) == nil || !amount.IsPositive() {
		return nil, nil
	}

	comps, err := ComputeHealthComponents(account, snap, model.Maintenance, []string{bankID})
	if err != nil {
		return nil, err
	}

	mid := price.Select(model.BiasNone, false)
	amountUi := amount.Div(bank.ScaleFactor())

	var liquidationPrice decimal.Decimal
	if isLending {
		if comps.Liabilities.IsZero() {
			return nil, nil
		}
		weighted := amountUi.Mul(bank.Config.AssetWeightMaint)
		if !weighted.IsPositive() {
			return nil, nil
		}
		confidence := mid.Sub(price.Select(model.BiasLow, false))
		liquidationPrice = comps.Liabilities.Sub(comps.Assets).Div(weighted).Add(confidence)
	} else {
		weighted := amountUi.Mul(bank.Config.LiabilityWeightMaint)
		if !weighted.IsPositive() {
			return nil, nil
		}
		confidence := price.Select(model.BiasHigh, false).Sub(mid)
		liquidationPrice = comps.Assets.Sub(comps.Liabilities).Div(weighted).Sub(confidence)
	}

	if !liquidationPrice.IsPositive() {
		return nil, nil
	}
	return &liquidationPrice, nil
}
