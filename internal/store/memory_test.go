package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openlend/risk-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedBank(id, groupID string) *model.Bank {
	return &model.Bank{
		ID:                  id,
		GroupID:             groupID,
		Decimals:            6,
		AssetShareValue:     d(1),
		LiabilityShareValue: d(1),
	}
}

func TestMemoryStore_BankRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.UpsertBank(ctx, seedBank("usdc", "g1")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	bank, err := s.GetBank(ctx, "usdc")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if bank.ID != "usdc" || bank.GroupID != "g1" {
		t.Errorf("unexpected bank: %+v", bank)
	}
}

func TestMemoryStore_GetBankNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetBank(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListBanksFiltersByGroup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.UpsertBank(ctx, seedBank("usdc", "g1"))
	s.UpsertBank(ctx, seedBank("sol", "g1"))
	s.UpsertBank(ctx, seedBank("eth", "g2"))

	banks, err := s.ListBanks(ctx, "g1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(banks) != 2 {
		t.Errorf("expected 2 banks in g1, got %d", len(banks))
	}

	all, err := s.ListBanks(ctx, "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 banks total, got %d", len(all))
	}
}

func TestMemoryStore_UpsertOverwrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	bank := seedBank("usdc", "g1")
	s.UpsertBank(ctx, bank)

	bank.AssetShareValue = d(1.5)
	s.UpsertBank(ctx, bank)

	got, _ := s.GetBank(ctx, "usdc")
	if !got.AssetShareValue.Equal(d(1.5)) {
		t.Errorf("expected overwritten value 1.5, got %s", got.AssetShareValue)
	}
}

func TestMemoryStore_GetBankReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.UpsertBank(ctx, seedBank("usdc", "g1"))

	first, _ := s.GetBank(ctx, "usdc")
	first.GroupID = "mutated"

	second, _ := s.GetBank(ctx, "usdc")
	if second.GroupID != "g1" {
		t.Error("store must not expose internal state to mutation")
	}
}

func TestMemoryStore_PriceRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	price := &model.OraclePrice{
		Realtime: model.PriceObservation{Price: d(100), LowestPrice: d(99), HighestPrice: d(101)},
	}
	if err := s.UpsertPrice(ctx, "sol", price); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := s.GetPrice(ctx, "sol")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Realtime.Price.Equal(d(100)) {
		t.Errorf("unexpected price: %s", got.Realtime.Price)
	}

	prices, err := s.ListPrices(ctx, []string{"sol", "missing"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(prices) != 1 {
		t.Errorf("expected 1 price, got %d", len(prices))
	}
	if _, ok := prices["missing"]; ok {
		t.Error("missing bank must not appear in the result")
	}
}

func TestMemoryStore_AccountsByAuthority(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.UpsertAccount(ctx, &model.Account{ID: "a1", Authority: "alice"})
	s.UpsertAccount(ctx, &model.Account{ID: "a2", Authority: "alice"})
	s.UpsertAccount(ctx, &model.Account{ID: "b1", Authority: "bob"})

	accounts, err := s.ListAccountsByAuthority(ctx, "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Errorf("expected 2 accounts for alice, got %d", len(accounts))
	}
}

func TestMemoryStore_EmodePairsReplaceWholesale(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pairs := []model.EmodePair{
		{LiabilityBankID: "sol", LiabilityTag: 1, CollateralTag: 1, CollateralBankIDs: []string{"jitosol"}},
	}
	if err := s.ReplaceEmodePairs(ctx, "g1", pairs); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	got, err := s.ListEmodePairs(ctx, "g1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(got))
	}

	// Replacement swaps the whole set.
	if err := s.ReplaceEmodePairs(ctx, "g1", nil); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	got, _ = s.ListEmodePairs(ctx, "g1")
	if len(got) != 0 {
		t.Errorf("expected empty set after replacement, got %d", len(got))
	}
}
