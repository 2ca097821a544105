package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openlend/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, re-populate or invalidate cache) ---

func (s *CachedStore) UpsertBank(ctx context.Context, bank *model.Bank) error {
	if err := s.primary.UpsertBank(ctx, bank); err != nil {
		return err
	}
	s.cacheSet(ctx, bankKey(bank.ID), bank)
	return nil
}

func (s *CachedStore) UpsertPrice(ctx context.Context, bankID string, price *model.OraclePrice) error {
	if err := s.primary.UpsertPrice(ctx, bankID, price); err != nil {
		return err
	}
	s.cacheSet(ctx, priceKey(bankID), price)
	return nil
}

func (s *CachedStore) UpsertAccount(ctx context.Context, account *model.Account) error {
	if err := s.primary.UpsertAccount(ctx, account); err != nil {
		return err
	}
	s.cacheSet(ctx, accountKey(account.ID), account)
	return nil
}

func (s *CachedStore) ReplaceEmodePairs(ctx context.Context, groupID string, pairs []model.EmodePair) error {
	if err := s.primary.ReplaceEmodePairs(ctx, groupID, pairs); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, emodeKey(groupID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetBank(ctx context.Context, id string) (*model.Bank, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, bankKey(id)).Bytes()
	if err == nil {
		var bank model.Bank
		if json.Unmarshal(data, &bank) == nil {
			return &bank, nil
		}
	}

	// Cache miss: read from primary.
	bank, err := s.primary.GetBank(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, bankKey(id), bank)
	return bank, nil
}

func (s *CachedStore) GetPrice(ctx context.Context, bankID string) (*model.OraclePrice, error) {
	data, err := s.rdb.Get(ctx, priceKey(bankID)).Bytes()
	if err == nil {
		var price model.OraclePrice
		if json.Unmarshal(data, &price) == nil {
			return &price, nil
		}
	}

	price, err := s.primary.GetPrice(ctx, bankID)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, priceKey(bankID), price)
	return price, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var account model.Account
		if json.Unmarshal(data, &account) == nil {
			return &account, nil
		}
	}

	account, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, accountKey(id), account)
	return account, nil
}

func (s *CachedStore) ListEmodePairs(ctx context.Context, groupID string) ([]model.EmodePair, error) {
	data, err := s.rdb.Get(ctx, emodeKey(groupID)).Bytes()
	if err == nil {
		var pairs []model.EmodePair
		if json.Unmarshal(data, &pairs) == nil {
			return pairs, nil
		}
	}

	pairs, err := s.primary.ListEmodePairs(ctx, groupID)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, emodeKey(groupID), pairs)
	return pairs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListBanks(ctx context.Context, groupID string) ([]model.Bank, error) {
	return s.primary.ListBanks(ctx, groupID)
}

func (s *CachedStore) ListPrices(ctx context.Context, bankIDs []string) (map[string]*model.OraclePrice, error) {
	return s.primary.ListPrices(ctx, bankIDs)
}

func (s *CachedStore) ListAccountsByAuthority(ctx context.Context, authority string) ([]model.Account, error) {
	return s.primary.ListAccountsByAuthority(ctx, authority)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func bankKey(id string) string     { return fmt.Sprintf("bank:%s", id) }
func priceKey(id string) string    { return fmt.Sprintf("price:%s", id) }
func accountKey(id string) string  { return fmt.Sprintf("account:%s", id) }
func emodeKey(gid string) string   { return fmt.Sprintf("emode:%s", gid) }
