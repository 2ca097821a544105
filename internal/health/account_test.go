package health

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openlend/risk-engine/internal/model"
)

func snapshot(banks []*model.Bank, prices map[string]*model.OraclePrice) *Snapshot {
	snap := &Snapshot{
		Banks:  make(map[string]*model.Bank, len(banks)),
		Prices: prices,
	}
	for _, b := range banks {
		snap.Banks[b.ID] = b
	}
	return snap
}

func account(balances ...model.Balance) *model.Account {
	return &model.Account{
		ID:        "acc-1",
		Authority: "auth-1",
		GroupID:   "group-main",
		Balances:  balances,
	}
}

// --- Health component tests ---

func TestComputeHealthComponents_DepositOnly(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank()},
		map[string]*model.OraclePrice{"usdc": flatPrice(1)},
	)
	acc := account(assetBalance("usdc", 100))

	comps, err := ComputeHealthComponents(acc, snap, model.Initial, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !comps.Assets.Equal(d(79.2)) { // 100 × 0.99 × 0.8
		t.Errorf("expected assets 79.2, got %s", comps.Assets)
	}
	if !comps.Liabilities.IsZero() {
		t.Errorf("expected zero liabilities, got %s", comps.Liabilities)
	}
}

func TestComputeHealthComponents_MixedPosition(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  bandPrice(100, 99, 101),
		},
	)
	acc := account(
		assetBalance("usdc", 100),
		liabilityBalance("sol", 2),
	)

	comps, err := ComputeHealthComponents(acc, snap, model.Maintenance, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !comps.Assets.Equal(d(89.1)) { // 99 × 1 × 0.9
		t.Errorf("expected assets 89.1, got %s", comps.Assets)
	}
	if !comps.Liabilities.Equal(d(222.2)) { // 2 × 101 × 1.1
		t.Errorf("expected liabilities 222.2, got %s", comps.Liabilities)
	}
}

func TestComputeHealthComponents_ExcludesBank(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	acc := account(
		assetBalance("usdc", 100),
		assetBalance("sol", 10),
	)

	comps, err := ComputeHealthComponents(acc, snap, model.Initial, []string{"sol"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !comps.Assets.Equal(d(79.2)) {
		t.Errorf("excluded bank must not contribute, got %s", comps.Assets)
	}
}

func TestComputeHealthComponents_MissingBank(t *testing.T) {
	snap := snapshot(nil, map[string]*model.OraclePrice{})
	acc := account(assetBalance("usdc", 100))

	_, err := ComputeHealthComponents(acc, snap, model.Initial, nil)
	if !errors.Is(err, ErrBankNotFound) {
		t.Errorf("expected ErrBankNotFound, got %v", err)
	}
}

func TestComputeHealthComponents_MissingPrice(t *testing.T) {
	snap := snapshot([]*model.Bank{usdcBank()}, map[string]*model.OraclePrice{})
	acc := account(assetBalance("usdc", 100))

	_, err := ComputeHealthComponents(acc, snap, model.Initial, nil)
	if !errors.Is(err, ErrPriceNotFound) {
		t.Errorf("expected ErrPriceNotFound, got %v", err)
	}
}

// --- Free collateral and equity tests ---

func TestComputeFreeCollateral_Clamped(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	acc := account(
		assetBalance("usdc", 100),       // 79.2 weighted
		liabilityBalance("sol", 2),      // 250 weighted
	)

	free, err := ComputeFreeCollateral(acc, snap, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !free.IsZero() {
		t.Errorf("clamped free collateral must floor at zero, got %s", free)
	}

	raw, err := ComputeFreeCollateral(acc, snap, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !raw.Equal(d(-170.8)) { // 79.2 − 250
		t.Errorf("expected raw margin -170.8, got %s", raw)
	}
}

func TestComputeEquity_UnweightedMid(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  bandPrice(100, 99, 101),
		},
	)
	acc := account(
		assetBalance("usdc", 100),  // 99 at mid, unweighted
		liabilityBalance("sol", 0.2), // 20 at mid, unweighted
	)

	equity, err := ComputeEquity(acc, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equity.Equal(d(79)) {
		t.Errorf("expected equity 79, got %s", equity)
	}
}

// --- Max borrow tests ---

func TestComputeMaxBorrowForBank_FreshBank(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	acc := account(assetBalance("usdc", 100)) // free collateral 79.2

	// No sol deposit, so everything converts at the borrow cost:
	// 79.2 / (100 × 1.25) = 0.6336.
	amount, err := ComputeMaxBorrowForBank(acc, snap, "sol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(d(0.6336)) {
		t.Errorf("expected 0.6336, got %s", amount)
	}
}

func TestComputeMaxBorrowForBank_OwnDepositUnwinds(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank()},
		map[string]*model.OraclePrice{"usdc": flatPrice(1)},
	)
	acc := account(assetBalance("usdc", 100))

	// All free collateral is tied to the usdc deposit, so it converts back
	// at the deposit weight: 79.2 / (1 × 0.8) = 99, the full quantity.
	amount, err := ComputeMaxBorrowForBank(acc, snap, "usdc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(d(99)) {
		t.Errorf("expected 99, got %s", amount)
	}
}

func TestComputeMaxBorrowForBank_ZeroWeightBank(t *testing.T) {
	isolated := solBank()
	isolated.ID = "iso"
	isolated.Config.RiskTier = model.TierIsolated
	isolated.Config.AssetWeightInit = decimal.Zero
	isolated.Config.AssetWeightMaint = decimal.Zero

	snap := snapshot(
		[]*model.Bank{usdcBank(), isolated},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"iso":  flatPrice(100),
		},
	)
	acc := account(
		assetBalance("usdc", 100),
		assetBalance("iso", 3),
	)

	// The iso deposit carries no weight, so free collateral is still 79.2
	// and converts entirely at the borrow cost; the existing balance
	// quantity is addable on top: 3 + 79.2/125 = 3.6336.
	amount, err := ComputeMaxBorrowForBank(acc, snap, "iso")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(d(3.6336)) {
		t.Errorf("expected 3.6336, got %s", amount)
	}
}

// --- Max withdraw tests ---

func TestComputeMaxWithdrawForBank_NoLiabilities(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank()},
		map[string]*model.OraclePrice{"usdc": flatPrice(1)},
	)
	acc := account(assetBalance("usdc", 100))

	amount, err := ComputeMaxWithdrawForBank(acc, snap, "usdc", model.One)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(d(99)) {
		t.Errorf("expected full balance 99, got %s", amount)
	}
}

func TestComputeMaxWithdrawForBank_NoBalance(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank()},
		map[string]*model.OraclePrice{"usdc": flatPrice(1)},
	)
	acc := account()

	amount, err := ComputeMaxWithdrawForBank(acc, snap, "usdc", model.One)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.IsZero() {
		t.Errorf("expected zero for missing balance, got %s", amount)
	}
}

func TestComputeMaxWithdrawForBank_PartialWithLiabilities(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	// Free collateral = 79.2 − 0.3136 × 100 × 1.25 = 79.2 − 39.2 = 40.
	acc := account(
		assetBalance("usdc", 100),
		liabilityBalance("sol", 0.3136),
	)

	// No volatility buffer: withdrawable = 40, quantity = 40 / 0.8 = 50.
	amount, err := ComputeMaxWithdrawForBank(acc, snap, "usdc", model.One)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(d(50)) {
		t.Errorf("expected 50, got %s", amount)
	}
}

func TestComputeMaxWithdrawForBank_VolatilityBufferShrinks(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	acc := account(
		assetBalance("usdc", 100),
		liabilityBalance("sol", 0.3136),
	)

	// vf 0.5: buffer = (79.2 − 40) × 0.5 = 19.6, withdrawable = 20.4,
	// quantity = 20.4 / 0.8 = 25.5.
	amount, err := ComputeMaxWithdrawForBank(acc, snap, "usdc", d(0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(d(25.5)) {
		t.Errorf("expected 25.5, got %s", amount)
	}
}

func TestComputeMaxWithdrawForBank_StaysHealthy(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	acc := account(
		assetBalance("usdc", 100),
		liabilityBalance("sol", 0.3136),
	)

	amount, err := ComputeMaxWithdrawForBank(acc, snap, "usdc", model.One)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Withdraw exactly the preview and re-check initial health.
	withdrawn := *acc
	withdrawn.Balances = append([]model.Balance(nil), acc.Balances...)
	bank := snap.Banks["usdc"]
	withdrawn.Balances[0].AssetShares = withdrawn.Balances[0].AssetShares.Sub(bank.AssetShares(amount))

	free, err := ComputeFreeCollateral(&withdrawn, snap, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Share conversion rounds at division precision; allow that residue.
	if free.LessThan(d(-0.000001)) {
		t.Errorf("max withdraw breached initial margin: free=%s", free)
	}
}

func TestComputeMaxWithdrawForBank_ZeroWeightEndState(t *testing.T) {
	isolated := solBank()
	isolated.ID = "iso"
	isolated.Config.RiskTier = model.TierIsolated
	isolated.Config.AssetWeightInit = decimal.Zero
	isolated.Config.AssetWeightMaint = decimal.Zero

	snap := snapshot(
		[]*model.Bank{usdcBank(), isolated},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"iso":  flatPrice(100),
		},
	)

	// No liabilities: the full balance comes out.
	acc := account(assetBalance("iso", 3))
	amount, err := ComputeMaxWithdrawForBank(acc, snap, "iso", model.One)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(d(3)) {
		t.Errorf("expected full balance 3, got %s", amount)
	}

	// Underwater elsewhere: nothing comes out, even though the zero-weight
	// deposit contributes nothing to margin.
	acc = account(
		assetBalance("iso", 3),
		assetBalance("usdc", 100),
		liabilityBalance("sol", 2),
	)
	snap.Banks["sol"] = solBank()
	snap.Prices["sol"] = flatPrice(100)
	amount, err = ComputeMaxWithdrawForBank(acc, snap, "iso", model.One)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.IsZero() {
		t.Errorf("expected zero for underwater account, got %s", amount)
	}
}

// --- Max liquidatable tests ---

func TestComputeMaxLiquidatableAssetAmount_HealthyAccount(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	acc := account(
		assetBalance("usdc", 100),
		liabilityBalance("sol", 0.1),
	)

	amount, err := ComputeMaxLiquidatableAssetAmount(acc, snap, "usdc", "sol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.IsZero() {
		t.Errorf("healthy account must not be liquidatable, got %s", amount)
	}
}

func TestComputeMaxLiquidatableAssetAmount_CollateralClamped(t *testing.T) {
	sol := solBank()
	sol.Config.LiabilityWeightMaint = d(1) // denom = 0.95 − 0.9 = 0.05

	snap := snapshot(
		[]*model.Bank{usdcBank(), sol},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	// Maintenance: assets 89.1, liabilities 100 → health −10.9.
	// Health-zeroing amount = 10.9 / 0.05 = 218 USD, but only 99 USD of
	// collateral exists, so the clamp wins: 99 / price 1 = 99 tokens.
	acc := account(
		assetBalance("usdc", 100),
		liabilityBalance("sol", 1),
	)

	amount, err := ComputeMaxLiquidatableAssetAmount(acc, snap, "usdc", "sol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(d(99)) {
		t.Errorf("expected 99, got %s", amount)
	}
}

func TestComputeMaxLiquidatableAssetAmount_NonPositiveDenom(t *testing.T) {
	usdc := usdcBank()
	usdc.Config.AssetWeightMaint = d(1)
	sol := solBank()
	sol.Config.LiabilityWeightMaint = d(1) // denom = 0.95 − 1 < 0

	snap := snapshot(
		[]*model.Bank{usdc, sol},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	acc := account(
		assetBalance("usdc", 100),
		liabilityBalance("sol", 1),
	)

	amount, err := ComputeMaxLiquidatableAssetAmount(acc, snap, "usdc", "sol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.IsZero() {
		t.Errorf("liquidation cannot improve health, expected 0, got %s", amount)
	}
}

// --- Liquidation price tests ---

func TestComputeLiquidationPriceForBank_LendingSide(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  bandPrice(100, 99, 101),
		},
	)
	// Excluding sol: liabilities = 400 × 1.01 × 1.1 = 444.4, assets = 0.
	// Lending price = 444.4 / (10 × 0.55) + (100 − 99) = 80.8 + 1 = 81.8.
	acc := account(
		assetBalance("sol", 10),
		liabilityBalance("usdc", 400),
	)

	price, err := ComputeLiquidationPriceForBank(acc, snap, "sol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price == nil {
		t.Fatal("expected a liquidation price")
	}
	if !price.Equal(d(81.8)) {
		t.Errorf("expected 81.8, got %s", price)
	}
}

func TestComputeLiquidationPriceForBank_BorrowingSide(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  bandPrice(100, 99, 101),
		},
	)
	// Excluding sol: assets = 100 × 0.99 × 0.9 = 89.1.
	// Borrowing price = 89.1 / (2 × 1.1) − (101 − 100) = 40.5 − 1 = 39.5.
	acc := account(
		assetBalance("usdc", 100),
		liabilityBalance("sol", 2),
	)

	price, err := ComputeLiquidationPriceForBank(acc, snap, "sol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price == nil {
		t.Fatal("expected a liquidation price")
	}
	if !price.Equal(d(39.5)) {
		t.Errorf("expected 39.5, got %s", price)
	}
}

func TestComputeLiquidationPriceForBank_DepositWithoutDebt(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{solBank()},
		map[string]*model.OraclePrice{"sol": flatPrice(100)},
	)
	acc := account(assetBalance("sol", 10))

	price, err := ComputeLiquidationPriceForBank(acc, snap, "sol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != nil {
		t.Errorf("a deposit with no debt has no liquidation level, got %s", price)
	}
}

func TestComputeLiquidationPriceForBank_NoPosition(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{solBank()},
		map[string]*model.OraclePrice{"sol": flatPrice(100)},
	)
	acc := account()

	price, err := ComputeLiquidationPriceForBank(acc, snap, "sol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != nil {
		t.Errorf("expected nil for missing position, got %s", price)
	}
}

func TestComputeLiquidationPriceForBankAmount_NonPositiveAmount(t *testing.T) {
	snap := snapshot(
		[]*model.Bank{usdcBank(), solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	acc := account(
		assetBalance("sol", 10),
		liabilityBalance("usdc", 400),
	)

	price, err := ComputeLiquidationPriceForBankAmount(acc, snap, "sol", true, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != nil {
		t.Errorf("expected nil for zero amount, got %s", price)
	}
}

func TestComputeLiquidationPriceForBankAmount_NegativeSolutionIsNil(t *testing.T) {
	usdt := usdcBank()
	usdt.ID = "usdt"
	snap := snapshot(
		[]*model.Bank{usdcBank(), usdt, solBank()},
		map[string]*model.OraclePrice{
			"usdc": flatPrice(1),
			"usdt": flatPrice(1),
			"sol":  flatPrice(100),
		},
	)
	// Heavy collateral elsewhere and a tiny debt: the sol deposit's
	// liquidation level solves far below zero.
	acc := account(
		assetBalance("sol", 10),
		assetBalance("usdc", 100000),
		liabilityBalance("usdt", 1),
	)

	price, err := ComputeLiquidationPriceForBank(acc, snap, "sol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != nil {
		t.Errorf("expected nil when solution is non-positive, got %s", price)
	}
}
