package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/observability"
	"solana-curve-indexer/internal/storage"
)

const dbLabel = "postgres"

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool    *Pool
	metrics *observability.Metrics
}

// NewStore creates a new Store. metrics may be nil.
func NewStore(pool *Pool, metrics *observability.Metrics) *Store {
	return &Store{pool: pool, metrics: metrics}
}

// Compile-time interface checks.
var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*pgTx)(nil)
)

func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.RecordDBQuery(dbLabel, op, time.Since(start), err)
}

// GetCheckpoint returns the last committed slot.
func (s *Store) GetCheckpoint(ctx context.Context) (slot uint64, err error) {
	defer func(start time.Time) { s.observe("get_checkpoint", start, err) }(time.Now())
	return getCheckpoint(ctx, s.pool)
}

// GetCurveState returns the stored state for key.
func (s *Store) GetCurveState(ctx context.Context, key domain.CurveKey) (st *domain.CurveState, err error) {
	defer func(start time.Time) { s.observe("get_curve_state", start, err) }(time.Now())
	return getCurveState(ctx, s.pool, key)
}

// GetToken returns a token by mint.
func (s *Store) GetToken(ctx context.Context, mint string) (*domain.TokenRecord, error) {
	query := `
		SELECT mint, name, symbol, uri, bonding_curve, creator, signature, slot, block_time
		FROM tokens
		WHERE mint = $1
	`

	var t domain.TokenRecord
	err := s.pool.QueryRow(ctx, query, mint).Scan(
		&t.Mint, &t.Name, &t.Symbol, &t.URI, &t.BondingCurve, &t.Creator, &t.Signature, &t.Slot, &t.BlockTime,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &t, nil
}

// ListTrades returns trades with slot in [fromSlot, toSlot].
func (s *Store) ListTrades(ctx context.Context, fromSlot, toSlot uint64) (out []*domain.TradeRecord, err error) {
	defer func(start time.Time) { s.observe("list_trades", start, err) }(time.Now())

	query := `
		SELECT signature, outer_index, inner_index, slot, block_time, source, tx_failed,
			mint, user_address, is_buy, sol_amount, token_amount,
			virtual_sol_reserves, virtual_token_reserves, event_timestamp
		FROM trades
		WHERE slot >= $1 AND slot <= $2
		ORDER BY slot ASC, signature ASC, outer_index ASC, inner_index ASC
	`

	rows, err := s.pool.Query(ctx, query, fromSlot, toSlot)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t      domain.TradeRecord
			source string
		)
		err := rows.Scan(
			&t.Signature, &t.Outer, &t.Inner, &t.Slot, &t.BlockTime, &source, &t.TxFailed,
			&t.Mint, &t.User, &t.IsBuy, u64(&t.SolAmount), u64(&t.TokenAmount),
			u64(&t.VirtualSolReserves), u64(&t.VirtualTokenReserves), &t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if t.Source, err = domain.ParseSource(source); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.Signature, err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}

// ListSwaps returns swaps with slot in [fromSlot, toSlot].
func (s *Store) ListSwaps(ctx context.Context, fromSlot, toSlot uint64) (out []*domain.SwapRecord, err error) {
	defer func(start time.Time) { s.observe("list_swaps", start, err) }(time.Now())

	query := `
		SELECT signature, outer_index, inner_index, slot, block_time, tx_failed,
			amm, input_mint, input_amount, output_mint, output_amount, signer
		FROM swaps
		WHERE slot >= $1 AND slot <= $2
		ORDER BY slot ASC, signature ASC, outer_index ASC, inner_index ASC
	`

	rows, err := s.pool.Query(ctx, query, fromSlot, toSlot)
	if err != nil {
		return nil, fmt.Errorf("query swaps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sw domain.SwapRecord
		err := rows.Scan(
			&sw.Signature, &sw.Outer, &sw.Inner, &sw.Slot, &sw.BlockTime, &sw.TxFailed,
			&sw.AMM, &sw.InputMint, u64(&sw.InputAmount), &sw.OutputMint, u64(&sw.OutputAmount), &sw.Signer,
		)
		if err != nil {
			return nil, fmt.Errorf("scan swap: %w", err)
		}
		out = append(out, &sw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swaps: %w", err)
	}
	return out, nil
}

// InTx runs fn in a database transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	defer func(start time.Time) { s.observe("tx", start, err) }(time.Now())
	return s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// pgTx implements storage.Tx on a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetCheckpoint(ctx context.Context) (uint64, error) {
	return getCheckpoint(ctx, t.tx)
}

// SetCheckpoint upserts the single checkpoint row. The conditional update
// touches no row when slot is below the stored one.
func (t *pgTx) SetCheckpoint(ctx context.Context, slot uint64) error {
	query := `
		INSERT INTO indexer_checkpoint (id, slot, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE
		SET slot = EXCLUDED.slot, updated_at = EXCLUDED.updated_at
		WHERE indexer_checkpoint.slot <= EXCLUDED.slot
	`

	tag, err := t.tx.Exec(ctx, query, slot)
	if err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrCheckpointRegression
	}
	return nil
}

func (t *pgTx) GetCurveState(ctx context.Context, key domain.CurveKey) (*domain.CurveState, error) {
	return getCurveState(ctx, t.tx, key)
}

// UpsertCurveState applies state when it is newer than the stored row.
// RETURNING yields no row when the update condition fails; the stored row is
// then read back under the lock taken by ON CONFLICT.
func (t *pgTx) UpsertCurveState(ctx context.Context, state *domain.CurveState) (*domain.CurveState, bool, error) {
	if state == nil || state.BaseMint == "" || state.QuoteMint == "" {
		return nil, false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO curve_states (
			base_mint, quote_mint, slot, virtual_base_reserves, virtual_quote_reserves,
			real_base_reserves, progress, complete, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (base_mint, quote_mint) DO UPDATE SET
			slot = EXCLUDED.slot,
			virtual_base_reserves = EXCLUDED.virtual_base_reserves,
			virtual_quote_reserves = EXCLUDED.virtual_quote_reserves,
			real_base_reserves = EXCLUDED.real_base_reserves,
			progress = EXCLUDED.progress,
			complete = EXCLUDED.complete,
			updated_at = EXCLUDED.updated_at
		WHERE curve_states.slot < EXCLUDED.slot
		RETURNING ` + curveColumns

	row := t.tx.QueryRow(ctx, query,
		state.BaseMint,
		state.QuoteMint,
		state.Slot,
		numeric(state.VirtualBaseReserves),
		numeric(state.VirtualQuoteReserves),
		numeric(state.RealBaseReserves),
		state.Progress,
		state.Complete,
		state.UpdatedAt,
	)
	stored, err := scanCurveState(row)
	if err == nil {
		return stored, true, nil
	}
	if !isNotFoundError(err) {
		return nil, false, fmt.Errorf("upsert curve state: %w", err)
	}

	stored, err = getCurveState(ctx, t.tx, state.Key())
	if err != nil {
		return nil, false, fmt.Errorf("read stale curve state: %w", err)
	}
	return stored, false, nil
}

func (t *pgTx) UpsertToken(ctx context.Context, r *domain.TokenRecord) error {
	if r == nil || r.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tokens (mint, name, symbol, uri, bonding_curve, creator, signature, slot, block_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (mint) DO NOTHING
	`

	_, err := t.tx.Exec(ctx, query,
		r.Mint, r.Name, r.Symbol, r.URI, r.BondingCurve, r.Creator, r.Signature, r.Slot, r.BlockTime,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertTrade(ctx context.Context, r *domain.TradeRecord) error {
	if r == nil || r.Signature == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trades (
			signature, outer_index, inner_index, slot, block_time, source, tx_failed,
			mint, user_address, is_buy, sol_amount, token_amount,
			virtual_sol_reserves, virtual_token_reserves, event_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (signature, outer_index, inner_index) DO NOTHING
	`

	_, err := t.tx.Exec(ctx, query,
		r.Signature,
		r.Outer,
		r.Inner,
		r.Slot,
		r.BlockTime,
		r.Source.String(),
		r.TxFailed,
		r.Mint,
		r.User,
		r.IsBuy,
		numeric(r.SolAmount),
		numeric(r.TokenAmount),
		numeric(r.VirtualSolReserves),
		numeric(r.VirtualTokenReserves),
		r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert trade: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertSwap(ctx context.Context, r *domain.SwapRecord) error {
	if r == nil || r.Signature == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO swaps (
			signature, outer_index, inner_index, slot, block_time, tx_failed,
			amm, input_mint, input_amount, output_mint, output_amount, signer
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (signature, outer_index, inner_index) DO NOTHING
	`

	_, err := t.tx.Exec(ctx, query,
		r.Signature,
		r.Outer,
		r.Inner,
		r.Slot,
		r.BlockTime,
		r.TxFailed,
		r.AMM,
		r.InputMint,
		numeric(r.InputAmount),
		r.OutputMint,
		numeric(r.OutputAmount),
		r.Signer,
	)
	if err != nil {
		return fmt.Errorf("upsert swap: %w", err)
	}
	return nil
}

const curveColumns = `base_mint, quote_mint, slot, virtual_base_reserves, virtual_quote_reserves,
	real_base_reserves, progress, complete, updated_at`

func getCheckpoint(ctx context.Context, q querier) (uint64, error) {
	var slot uint64
	err := q.QueryRow(ctx, `SELECT slot FROM indexer_checkpoint WHERE id = 1`).Scan(&slot)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get checkpoint: %w", err)
	}
	return slot, nil
}

func getCurveState(ctx context.Context, q querier, key domain.CurveKey) (*domain.CurveState, error) {
	query := `SELECT ` + curveColumns + ` FROM curve_states WHERE base_mint = $1 AND quote_mint = $2`

	st, err := scanCurveState(q.QueryRow(ctx, query, key.BaseMint, key.QuoteMint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get curve state: %w", err)
	}
	return st, nil
}

func scanCurveState(row pgx.Row) (*domain.CurveState, error) {
	var st domain.CurveState
	err := row.Scan(
		&st.BaseMint,
		&st.QuoteMint,
		&st.Slot,
		u64(&st.VirtualBaseReserves),
		u64(&st.VirtualQuoteReserves),
		u64(&st.RealBaseReserves),
		&st.Progress,
		&st.Complete,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}
