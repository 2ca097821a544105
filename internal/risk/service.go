// Package risk provides the HTTP handlers for snapshot ingestion and the
// read-side risk queries: health, free collateral, borrow/withdraw sizing,
// liquidation pricing, leverage previews and e-mode impacts.
//
// All monetary values use shopspring/decimal, never float64 for money.
package risk

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openlend/risk-engine/internal/emode"
	"github.com/openlend/risk-engine/internal/health"
	"github.com/openlend/risk-engine/internal/leverage"
	"github.com/openlend/risk-engine/internal/metrics"
	"github.com/openlend/risk-engine/internal/model"
	"github.com/openlend/risk-engine/internal/oracle"
	"github.com/openlend/risk-engine/internal/rates"
	"github.com/openlend/risk-engine/internal/store"
)

// defaultVolatilityFactor shrinks max-withdraw previews against price
// movement between preview and execution.
var defaultVolatilityFactor = decimal.NewFromFloat(0.95)

// Service handles snapshot ingestion and risk queries. All computation runs
// over immutable snapshots loaded from the store, so reads need no locking.
type Service struct {
	store store.Store
	wsHub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new risk service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *WSHub) *Service {
	return &Service{
		store: st,
		wsHub: hub,
	}
}

// --- Request/Response types ---

// PriceIngestRequest is the JSON body for price ingestion. Data carries the
// raw oracle account payload, base64-encoded; Kind selects the decoder.
type PriceIngestRequest struct {
	Kind model.OracleKind `json:"kind"`
	Data string           `json:"data"`
}

// EmodeIngestRequest is the JSON body for replacing a group's e-mode pairs.
type EmodeIngestRequest struct {
	Pairs []model.EmodePair `json:"pairs"`
}

// BankRatesResponse bundles the derived per-bank rate state.
type BankRatesResponse struct {
	BankID              string          `json:"bank_id"`
	Utilization         decimal.Decimal `json:"utilization"`
	Rates               rates.Rates     `json:"rates"`
	DepositCapacity     decimal.Decimal `json:"deposit_capacity"`
	BorrowCapacity      decimal.Decimal `json:"borrow_capacity"`
	AssetShareValue     decimal.Decimal `json:"asset_share_value"`
	LiabilityShareValue decimal.Decimal `json:"liability_share_value"`
}

// HealthResponse reports the weighted components for one requirement type.
type HealthResponse struct {
	AccountID   string          `json:"account_id"`
	Requirement string          `json:"requirement"`
	Assets      decimal.Decimal `json:"assets"`
	Liabilities decimal.Decimal `json:"liabilities"`
	Healthy     bool            `json:"healthy"`
	Equity      decimal.Decimal `json:"equity"`
}

// MaxBorrowResponse is the sizing result for one borrow preview.
type MaxBorrowResponse struct {
	AccountID string          `json:"account_id"`
	BankID    string          `json:"bank_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// MaxWithdrawResponse is the sizing result for one withdraw preview.
type MaxWithdrawResponse struct {
	AccountID        string          `json:"account_id"`
	BankID           string          `json:"bank_id"`
	Amount           decimal.Decimal `json:"amount"`
	VolatilityFactor decimal.Decimal `json:"volatility_factor"`
}

// LiquidationPriceResponse carries the solved price, null when no
// liquidation level exists for the position.
type LiquidationPriceResponse struct {
	AccountID        string           `json:"account_id"`
	BankID           string           `json:"bank_id"`
	LiquidationPrice *decimal.Decimal `json:"liquidation_price"`
}

// MaxLiquidatableResponse sizes the largest seizable collateral amount.
type MaxLiquidatableResponse struct {
	AccountID   string          `json:"account_id"`
	AssetBankID string          `json:"asset_bank_id"`
	LiabBankID  string          `json:"liab_bank_id"`
	Amount      decimal.Decimal `json:"amount"`
}

// LeveragePreviewRequest is the JSON body for POST /leverage/preview.
type LeveragePreviewRequest struct {
	DepositBankID  string          `json:"deposit_bank_id"`
	BorrowBankID   string          `json:"borrow_bank_id"`
	Principal      decimal.Decimal `json:"principal"`
	TargetLeverage decimal.Decimal `json:"target_leverage"`
}

// LeveragePreviewResponse is the sizing for one looping setup.
type LeveragePreviewResponse struct {
	DepositBankID string          `json:"deposit_bank_id"`
	BorrowBankID  string          `json:"borrow_bank_id"`
	LTV           decimal.Decimal `json:"ltv"`
	MaxLeverage   decimal.Decimal `json:"max_leverage"`
	TotalDeposit  decimal.Decimal `json:"total_deposit"`
	BorrowAmount  decimal.Decimal `json:"borrow_amount"`
}

// EmodeResponse reports the active pairs plus per-bank action impacts.
type EmodeResponse struct {
	AccountID   string                  `json:"account_id"`
	Active      bool                    `json:"active"`
	ActivePairs []model.EmodePair       `json:"active_pairs"`
	Impacts     map[string]emode.Impact `json:"impacts"`
}

// --- Ingestion handlers ---

// IngestBank handles PUT /api/v1/banks
func (s *Service) IngestBank(w http.ResponseWriter, r *http.Request) {
	var bank model.Bank
	if err := json.NewDecoder(r.Body).Decode(&bank); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if bank.ID == "" {
		writeError(w, "bank id is required", http.StatusBadRequest)
		return
	}
	if err := bank.Config.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.UpsertBank(r.Context(), &bank); err != nil {
		writeError(w, "failed to store bank", http.StatusInternalServerError)
		return
	}
	metrics.SnapshotIngests.WithLabelValues("bank").Inc()

	slog.Info("bank snapshot ingested",
		"id", bank.ID,
		"group", bank.GroupID,
		"mint", bank.MintID,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(bank)
}

// IngestPrice handles PUT /api/v1/banks/{bankID}/price
// Decodes the raw oracle payload and stores the normalized price.
func (s *Service) IngestPrice(w http.ResponseWriter, r *http.Request) {
	bankID := chi.URLParam(r, "bankID")

	var req PriceIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, "data must be base64", http.StatusBadRequest)
		return
	}

	price, err := oracle.Parse(req.Kind, raw)
	if err != nil {
		metrics.OracleParses.WithLabelValues(string(req.Kind), "error").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.OracleParses.WithLabelValues(string(req.Kind), "ok").Inc()

	if err := s.store.UpsertPrice(r.Context(), bankID, price); err != nil {
		writeError(w, "failed to store price", http.StatusInternalServerError)
		return
	}
	metrics.SnapshotIngests.WithLabelValues("price").Inc()

	slog.Info("price ingested",
		"bank", bankID,
		"kind", req.Kind,
		"price", price.Realtime.Price.String(),
		"confidence", price.Realtime.Confidence.String(),
	)

	// Broadcast the refreshed price via WebSocket.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "price_updated",
			BankID:       bankID,
			Price:        price.Realtime.Price.String(),
			LowestPrice:  price.Realtime.LowestPrice.String(),
			HighestPrice: price.Realtime.HighestPrice.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(price)
}

// IngestAccount handles PUT /api/v1/accounts
func (s *Service) IngestAccount(w http.ResponseWriter, r *http.Request) {
	var account model.Account
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if len(account.Balances) > model.MaxBalances {
		writeError(w, "too many balance slots", http.StatusBadRequest)
		return
	}

	if err := s.store.UpsertAccount(r.Context(), &account); err != nil {
		writeError(w, "failed to store account", http.StatusInternalServerError)
		return
	}
	metrics.SnapshotIngests.WithLabelValues("account").Inc()

	slog.Info("account snapshot ingested",
		"id", account.ID,
		"authority", account.Authority,
		"balances", len(account.ActiveBalances()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// IngestEmodePairs handles PUT /api/v1/groups/{groupID}/emode
func (s *Service) IngestEmodePairs(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req EmodeIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.ReplaceEmodePairs(r.Context(), groupID, req.Pairs); err != nil {
		writeError(w, "failed to store emode pairs", http.StatusInternalServerError)
		return
	}
	metrics.SnapshotIngests.WithLabelValues("emode").Inc()

	slog.Info("emode pairs replaced", "group", groupID, "pairs", len(req.Pairs))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req.Pairs)
}

// --- Bank handlers ---

// ListBanks handles GET /api/v1/banks
// Optionally filtered by ?group_id=<groupID>.
func (s *Service) ListBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := s.store.ListBanks(r.Context(), r.URL.Query().Get("group_id"))
	if err != nil {
		writeError(w, "failed to list banks", http.StatusInternalServerError)
		return
	}
	if banks == nil {
		banks = []model.Bank{}
	}
	metrics.TrackedBanks.Set(float64(len(banks)))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(banks)
}

// GetBank handles GET /api/v1/banks/{bankID}
func (s *Service) GetBank(w http.ResponseWriter, r *http.Request) {
	bankID := chi.URLParam(r, "bankID")

	bank, err := s.store.GetBank(r.Context(), bankID)
	if err != nil {
		writeError(w, "bank not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bank)
}

// GetBankRates handles GET /api/v1/banks/{bankID}/rates
// Returns utilization, the derived APR set, remaining capacity and
// interest-projected share values.
func (s *Service) GetBankRates(w http.ResponseWriter, r *http.Request) {
	bankID := chi.URLParam(r, "bankID")

	bank, err := s.store.GetBank(r.Context(), bankID)
	if err != nil {
		writeError(w, "bank not found", http.StatusNotFound)
		return
	}

	utilization := rates.Utilization(bank)
	rs, err := rates.Compute(&bank.Config.InterestRateConfig, utilization)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	now := time.Now().UTC().Unix()
	depositCap, borrowCap := rates.RemainingCapacity(bank, now)
	assetSV, liabSV, err := rates.ProjectedShareValues(bank, now)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := BankRatesResponse{
		BankID:              bank.ID,
		Utilization:         utilization,
		Rates:               rs,
		DepositCapacity:     depositCap,
		BorrowCapacity:      borrowCap,
		AssetShareValue:     assetSV,
		LiabilityShareValue: liabSV,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Account handlers ---

// ListAccounts handles GET /api/v1/accounts?authority=<authority>
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	authority := r.URL.Query().Get("authority")
	if authority == "" {
		writeError(w, "authority is required", http.StatusBadRequest)
		return
	}

	accounts, err := s.store.ListAccountsByAuthority(r.Context(), authority)
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// GetHealth handles GET /api/v1/accounts/{accountID}/health
// ?requirement=initial|maintenance selects the weight set (default
// maintenance).
func (s *Service) GetHealth(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	rt := model.Maintenance
	if r.URL.Query().Get("requirement") == "initial" {
		rt = model.Initial
	}

	account, snap, err := s.loadAccountSnapshot(r, accountID)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	comps, err := health.ComputeHealthComponents(account, snap, rt, nil)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	equity, err := health.ComputeEquity(account, snap)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	metrics.HealthComputations.WithLabelValues(rt.String()).Inc()

	resp := HealthResponse{
		AccountID:   accountID,
		Requirement: rt.String(),
		Assets:      comps.Assets,
		Liabilities: comps.Liabilities,
		Healthy:     comps.Assets.GreaterThanOrEqual(comps.Liabilities),
		Equity:      equity,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetFreeCollateral handles GET /api/v1/accounts/{accountID}/free-collateral
// ?clamp=false returns the raw, possibly negative margin.
func (s *Service) GetFreeCollateral(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	clamp := r.URL.Query().Get("clamp") != "false"

	account, snap, err := s.loadAccountSnapshot(r, accountID)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	free, err := health.ComputeFreeCollateral(account, snap, clamp)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	metrics.HealthComputations.WithLabelValues(model.Initial.String()).Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{"free_collateral": free})
}

// GetMaxBorrow handles GET /api/v1/accounts/{accountID}/max-borrow/{bankID}
func (s *Service) GetMaxBorrow(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	bankID := chi.URLParam(r, "bankID")

	account, snap, err := s.loadAccountSnapshot(r, accountID, bankID)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	amount, err := health.ComputeMaxBorrowForBank(account, snap, bankID)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := MaxBorrowResponse{AccountID: accountID, BankID: bankID, Amount: amount}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetMaxWithdraw handles GET /api/v1/accounts/{accountID}/max-withdraw/{bankID}
// ?volatility_factor=<0..1> overrides the default 0.95 safety shrink.
func (s *Service) GetMaxWithdraw(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	bankID := chi.URLParam(r, "bankID")

	vf := defaultVolatilityFactor
	if raw := r.URL.Query().Get("volatility_factor"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || !parsed.IsPositive() || parsed.GreaterThan(model.One) {
			writeError(w, "volatility_factor must be in (0,1]", http.StatusBadRequest)
			return
		}
		vf = parsed
	}

	account, snap, err := s.loadAccountSnapshot(r, accountID, bankID)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	amount, err := health.ComputeMaxWithdrawForBank(account, snap, bankID, vf)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := MaxWithdrawResponse{
		AccountID:        accountID,
		BankID:           bankID,
		Amount:           amount,
		VolatilityFactor: vf,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetLiquidationPrice handles
// GET /api/v1/accounts/{accountID}/liquidation-price/{bankID}
// ?amount=<native units>&side=lending|borrowing prices a hypothetical size.
func (s *Service) GetLiquidationPrice(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	bankID := chi.URLParam(r, "bankID")

	account, snap, err := s.loadAccountSnapshot(r, accountID, bankID)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	var price *decimal.Decimal
	if raw := r.URL.Query().Get("amount"); raw != "" {
		amount, parseErr := decimal.NewFromString(raw)
		if parseErr != nil {
			writeError(w, "invalid amount", http.StatusBadRequest)
			return
		}
		isLending := r.URL.Query().Get("side") != "borrowing"
		price, err = health.ComputeLiquidationPriceForBankAmount(account, snap, bankID, isLending, amount)
	} else {
		price, err = health.ComputeLiquidationPriceForBank(account, snap, bankID)
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := LiquidationPriceResponse{
		AccountID:        accountID,
		BankID:           bankID,
		LiquidationPrice: price,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetMaxLiquidatable handles
// GET /api/v1/accounts/{accountID}/max-liquidatable?asset_bank=..&liab_bank=..
func (s *Service) GetMaxLiquidatable(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	assetBankID := r.URL.Query().Get("asset_bank")
	liabBankID := r.URL.Query().Get("liab_bank")
	if assetBankID == "" || liabBankID == "" {
		writeError(w, "asset_bank and liab_bank are required", http.StatusBadRequest)
		return
	}

	account, snap, err := s.loadAccountSnapshot(r, accountID, assetBankID, liabBankID)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	amount, err := health.ComputeMaxLiquidatableAssetAmount(account, snap, assetBankID, liabBankID)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	metrics.LiquidationChecks.WithLabelValues(boolLabel(amount.IsPositive())).Inc()

	resp := MaxLiquidatableResponse{
		AccountID:   accountID,
		AssetBankID: assetBankID,
		LiabBankID:  liabBankID,
		Amount:      amount,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Leverage handlers ---

// PreviewLeverage handles POST /api/v1/leverage/preview
func (s *Service) PreviewLeverage(w http.ResponseWriter, r *http.Request) {
	var req LeveragePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Principal.IsPositive() {
		writeError(w, "principal must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	depositBank, err := s.store.GetBank(ctx, req.DepositBankID)
	if err != nil {
		writeError(w, "deposit bank not found", http.StatusNotFound)
		return
	}
	borrowBank, err := s.store.GetBank(ctx, req.BorrowBankID)
	if err != nil {
		writeError(w, "borrow bank not found", http.StatusNotFound)
		return
	}
	depositPrice, err := s.store.GetPrice(ctx, req.DepositBankID)
	if err != nil {
		writeError(w, "deposit price not found", http.StatusNotFound)
		return
	}
	borrowPrice, err := s.store.GetPrice(ctx, req.BorrowBankID)
	if err != nil {
		writeError(w, "borrow price not found", http.StatusNotFound)
		return
	}

	bound := leverage.ComputeMaxLeverage(depositBank, borrowBank)
	params, err := leverage.ComputeLoopingParams(
		req.Principal, req.TargetLeverage,
		depositBank, borrowBank,
		depositPrice, borrowPrice,
	)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	resp := LeveragePreviewResponse{
		DepositBankID: req.DepositBankID,
		BorrowBankID:  req.BorrowBankID,
		LTV:           bound.LTV,
		MaxLeverage:   bound.MaxLeverage,
		TotalDeposit:  params.TotalDeposit,
		BorrowAmount:  params.BorrowAmount,
	}

	slog.Info("leverage preview",
		"deposit_bank", req.DepositBankID,
		"borrow_bank", req.BorrowBankID,
		"target", req.TargetLeverage.String(),
		"total_deposit", params.TotalDeposit.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetMaxLeverage handles GET /api/v1/leverage/max?deposit_bank=..&borrow_bank=..
func (s *Service) GetMaxLeverage(w http.ResponseWriter, r *http.Request) {
	depositBankID := r.URL.Query().Get("deposit_bank")
	borrowBankID := r.URL.Query().Get("borrow_bank")
	if depositBankID == "" || borrowBankID == "" {
		writeError(w, "deposit_bank and borrow_bank are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	depositBank, err := s.store.GetBank(ctx, depositBankID)
	if err != nil {
		writeError(w, "deposit bank not found", http.StatusNotFound)
		return
	}
	borrowBank, err := s.store.GetBank(ctx, borrowBankID)
	if err != nil {
		writeError(w, "borrow bank not found", http.StatusNotFound)
		return
	}

	bound := leverage.ComputeMaxLeverage(depositBank, borrowBank)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bound)
}

// --- E-mode handlers ---

// GetEmode handles GET /api/v1/accounts/{accountID}/emode
// ?candidates=a,b,c limits impact simulation to specific banks; by default
// every bank in the account's group is simulated.
func (s *Service) GetEmode(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	pairs, err := s.store.ListEmodePairs(ctx, account.GroupID)
	if err != nil {
		writeError(w, "failed to load emode pairs", http.StatusInternalServerError)
		return
	}

	var liabilities, collateral []string
	for _, bal := range account.ActiveBalances() {
		switch bal.Side() {
		case model.SideAssets:
			collateral = append(collateral, bal.BankID)
		case model.SideLiabilities:
			liabilities = append(liabilities, bal.BankID)
		}
	}

	var candidates []string
	if raw := r.URL.Query().Get("candidates"); raw != "" {
		candidates = splitCSV(raw)
	} else {
		banks, err := s.store.ListBanks(ctx, account.GroupID)
		if err != nil {
			writeError(w, "failed to list banks", http.StatusInternalServerError)
			return
		}
		for _, b := range banks {
			candidates = append(candidates, b.ID)
		}
	}

	active := emode.ComputeActiveEmodePairs(pairs, liabilities, collateral)
	impacts := emode.ComputeEmodeImpacts(pairs, liabilities, collateral, candidates)

	resp := EmodeResponse{
		AccountID:   accountID,
		Active:      len(active) > 0,
		ActivePairs: active,
		Impacts:     impacts,
	}
	if resp.ActivePairs == nil {
		resp.ActivePairs = []model.EmodePair{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Helpers ---

// loadAccountSnapshot fetches the account plus a snapshot covering every
// bank its active balances reference and any extra banks the query needs.
func (s *Service) loadAccountSnapshot(r *http.Request, accountID string, extraBanks ...string) (*model.Account, *health.Snapshot, error) {
	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool)
	var bankIDs []string
	for _, bal := range account.ActiveBalances() {
		if !seen[bal.BankID] {
			seen[bal.BankID] = true
			bankIDs = append(bankIDs, bal.BankID)
		}
	}
	for _, id := range extraBanks {
		if !seen[id] {
			seen[id] = true
			bankIDs = append(bankIDs, id)
		}
	}

	snap := &health.Snapshot{
		Banks:  make(map[string]*model.Bank, len(bankIDs)),
		Prices: make(map[string]*model.OraclePrice, len(bankIDs)),
	}
	for _, id := range bankIDs {
		bank, err := s.store.GetBank(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		snap.Banks[id] = bank
	}
	prices, err := s.store.ListPrices(ctx, bankIDs)
	if err != nil {
		return nil, nil, err
	}
	snap.Prices = prices

	return account, snap, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
