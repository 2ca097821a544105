// Package store defines snapshot persistence for the risk engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The store holds caller-supplied snapshots of banks, oracle prices,
// accounts and e-mode pairs; nothing in this package talks to a chain.
package store

import (
	"context"
	"errors"

	"github.com/openlend/risk-engine/internal/model"
)

// ErrNotFound is returned when a requested snapshot entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Bank snapshots ---

	// UpsertBank replaces the stored snapshot for one bank.
	UpsertBank(ctx context.Context, bank *model.Bank) error

	// GetBank retrieves a bank by its ID.
	GetBank(ctx context.Context, id string) (*model.Bank, error)

	// ListBanks returns all banks in a group.
	ListBanks(ctx context.Context, groupID string) ([]model.Bank, error)

	// --- Oracle price snapshots ---

	// UpsertPrice replaces the stored price for one bank wholesale.
	UpsertPrice(ctx context.Context, bankID string, price *model.OraclePrice) error

	// GetPrice retrieves the price for a bank.
	GetPrice(ctx context.Context, bankID string) (*model.OraclePrice, error)

	// ListPrices returns prices keyed by bank ID for a set of banks.
	ListPrices(ctx context.Context, bankIDs []string) (map[string]*model.OraclePrice, error)

	// --- Account snapshots ---

	// UpsertAccount replaces the stored snapshot for one account.
	UpsertAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// ListAccountsByAuthority returns all accounts owned by an authority.
	ListAccountsByAuthority(ctx context.Context, authority string) ([]model.Account, error)

	// --- E-mode configuration ---

	// ReplaceEmodePairs swaps the configured pair set for a group.
	ReplaceEmodePairs(ctx context.Context, groupID string, pairs []model.EmodePair) error

	// ListEmodePairs returns the configured pairs for a group.
	ListEmodePairs(ctx context.Context, groupID string) ([]model.EmodePair, error)
}
