package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/openlend/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	banks    map[string]*model.Bank
	prices   map[string]*model.OraclePrice
	accounts map[string]*model.Account
	pairs    map[string][]model.EmodePair
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		banks:    make(map[string]*model.Bank),
		prices:   make(map[string]*model.OraclePrice),
		accounts: make(map[string]*model.Account),
		pairs:    make(map[string][]model.EmodePair),
	}
}

func (s *MemoryStore) UpsertBank(_ context.Context, bank *model.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *bank
	s.banks[bank.ID] = &copy
	return nil
}

func (s *MemoryStore) GetBank(_ context.Context, id string) (*model.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.banks[id]
	if !ok {
		return nil, fmt.Errorf("%w: bank %s", ErrNotFound, id)
	}
	copy := *b
	return &copy, nil
}

func (s *MemoryStore) ListBanks(_ context.Context, groupID string) ([]model.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	banks := make([]model.Bank, 0, len(s.banks))
	for _, b := range s.banks {
		if groupID == "" || b.GroupID == groupID {
			banks = append(banks, *b)
		}
	}
	return banks, nil
}

func (s *MemoryStore) UpsertPrice(_ context.Context, bankID string, price *model.OraclePrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *price
	s.prices[bankID] = &copy
	return nil
}

func (s *MemoryStore) GetPrice(_ context.Context, bankID string) (*model.OraclePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[bankID]
	if !ok {
		return nil, fmt.Errorf("%w: price for bank %s", ErrNotFound, bankID)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPrices(_ context.Context, bankIDs []string) (map[string]*model.OraclePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prices := make(map[string]*model.OraclePrice, len(bankIDs))
	for _, id := range bankIDs {
		if p, ok := s.prices[id]; ok {
			copy := *p
			prices[id] = &copy
		}
	}
	return prices, nil
}

func (s *MemoryStore) UpsertAccount(_ context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *account
	copy.Balances = append([]model.Balance(nil), account.Balances...)
	s.accounts[account.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	copy := *a
	copy.Balances = append([]model.Balance(nil), a.Balances...)
	return &copy, nil
}

func (s *MemoryStore) ListAccountsByAuthority(_ context.Context, authority string) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []model.Account
	for _, a := range s.accounts {
		if a.Authority == authority {
			copy := *a
			copy.Balances = append([]model.Balance(nil), a.Balances...)
			accounts = append(accounts, copy)
		}
	}
	return accounts, nil
}

func (s *MemoryStore) ReplaceEmodePairs(_ context.Context, groupID string, pairs []model.EmodePair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pairs[groupID] = append([]model.EmodePair(nil), pairs...)
	return nil
}

func (s *MemoryStore) ListEmodePairs(_ context.Context, groupID string) ([]model.EmodePair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.EmodePair(nil), s.pairs[groupID]...), nil
}
