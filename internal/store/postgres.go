package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlend/risk-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Snapshots are deeply nested value objects with decimal fields, so each
// entity is stored as a JSONB document alongside its lookup keys; decimals
// serialize as JSON strings and survive the round trip exactly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertBank(ctx context.Context, bank *model.Bank) error {
	data, err := json.Marshal(bank)
	if err != nil {
		return fmt.Errorf("marshal bank %s: %w", bank.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO banks (id, group_id, snapshot, updated_at)
		 VALUES ($1, $2, $3::JSONB, NOW())
		 ON CONFLICT (id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
		bank.ID, bank.GroupID, data,
	)
	return err
}

func (s *PostgresStore) GetBank(ctx context.Context, id string) (*model.Bank, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM banks WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: bank %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bank %s: %w", id, err)
	}

	var bank model.Bank
	if err := json.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("unmarshal bank %s: %w", id, err)
	}
	return &bank, nil
}

func (s *PostgresStore) ListBanks(ctx context.Context, groupID string) ([]model.Bank, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT snapshot FROM banks WHERE $1 = '' OR group_id = $1 ORDER BY id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var banks []model.Bank
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var bank model.Bank
		if err := json.Unmarshal(data, &bank); err != nil {
			return nil, err
		}
		banks = append(banks, bank)
	}
	return banks, rows.Err()
}

func (s *PostgresStore) UpsertPrice(ctx context.Context, bankID string, price *model.OraclePrice) error {
	data, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("marshal price for bank %s: %w", bankID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO oracle_prices (bank_id, snapshot, updated_at)
		 VALUES ($1, $2::JSONB, NOW())
		 ON CONFLICT (bank_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
		bankID, data,
	)
	return err
}

func (s *PostgresStore) GetPrice(ctx context.Context, bankID string) (*model.OraclePrice, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM oracle_prices WHERE bank_id = $1`, bankID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: price for bank %s", ErrNotFound, bankID)
	}
	if err != nil {
		return nil, fmt.Errorf("get price for bank %s: %w", bankID, err)
	}

	var price model.OraclePrice
	if err := json.Unmarshal(data, &price); err != nil {
		return nil, fmt.Errorf("unmarshal price for bank %s: %w", bankID, err)
	}
	return &price, nil
}

func (s *PostgresStore) ListPrices(ctx context.Context, bankIDs []string) (map[string]*model.OraclePrice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bank_id, snapshot FROM oracle_prices WHERE bank_id = ANY($1)`, bankIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make(map[string]*model.OraclePrice, len(bankIDs))
	for rows.Next() {
		var bankID string
		var data []byte
		if err := rows.Scan(&bankID, &data); err != nil {
			return nil, err
		}
		var price model.OraclePrice
		if err := json.Unmarshal(data, &price); err != nil {
			return nil, err
		}
		prices[bankID] = &price
	}
	return prices, rows.Err()
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, account *model.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("marshal account %s: %w", account.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (id, authority, group_id, snapshot, updated_at)
		 VALUES ($1, $2, $3, $4::JSONB, NOW())
		 ON CONFLICT (id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
		account.ID, account.Authority, account.GroupID, data,
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM accounts WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}

	var account model.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("unmarshal account %s: %w", id, err)
	}
	return &account, nil
}

func (s *PostgresStore) ListAccountsByAuthority(ctx context.Context, authority string) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT snapshot FROM accounts WHERE authority = $1 ORDER BY id`, authority)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var account model.Account
		if err := json.Unmarshal(data, &account); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) ReplaceEmodePairs(ctx context.Context, groupID string, pairs []model.EmodePair) error {
	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("marshal emode pairs for group %s: %w", groupID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO emode_pairs (group_id, pairs, updated_at)
		 VALUES ($1, $2::JSONB, NOW())
		 ON CONFLICT (group_id) DO UPDATE SET pairs = EXCLUDED.pairs, updated_at = NOW()`,
		groupID, data,
	)
	return err
}

func (s *PostgresStore) ListEmodePairs(ctx context.Context, groupID string) ([]model.EmodePair, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT pairs FROM emode_pairs WHERE group_id = $1`, groupID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get emode pairs for group %s: %w", groupID, err)
	}

	var pairs []model.EmodePair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("unmarshal emode pairs for group %s: %w", groupID, err)
	}
	return pairs, nil
}
