package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/observability"
	"solana-curve-indexer/internal/storage"
)

const dbLabel = "clickhouse"

// Archive copies committed rows into ClickHouse for analytics.
// Rows are keyed by their natural key in ReplacingMergeTree tables, so
// sending a block twice is harmless.
type Archive struct {
	conn    *Conn
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewArchive creates an Archive. logger and metrics may be nil.
func NewArchive(conn *Conn, logger *zap.Logger, metrics *observability.Metrics) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{conn: conn, logger: logger, metrics: metrics}
}

// Name identifies the archive in logs and metrics.
func (a *Archive) Name() string { return "clickhouse_archive" }

// AfterCommit archives the rows of a committed block.
func (a *Archive) AfterCommit(ctx context.Context, b *domain.CommittedBlock) error {
	if b == nil || b.Empty() {
		return nil
	}
	if err := a.InsertTrades(ctx, b.Trades); err != nil {
		return err
	}
	if err := a.InsertSwaps(ctx, b.Swaps); err != nil {
		return err
	}
	return a.InsertCurveStates(ctx, b.Curves)
}

// InsertTrades appends trades in one batch.
func (a *Archive) InsertTrades(ctx context.Context, trades []*domain.TradeRecord) (err error) {
	if len(trades) == 0 {
		return nil
	}
	defer func(start time.Time) { a.metrics.RecordDBQuery(dbLabel, "insert_trades", time.Since(start), err) }(time.Now())

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO trades_archive (
			signature, outer_index, inner_index, slot, block_time, source, tx_failed,
			mint, user_address, is_buy, sol_amount, token_amount,
			virtual_sol_reserves, virtual_token_reserves
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			t.Signature, int32(t.Outer), int32(t.Inner), t.Slot, dateTime(t.Time()), t.Source.String(), boolToUInt8(t.TxFailed),
			t.Mint, t.User, boolToUInt8(t.IsBuy), t.SolAmount, t.TokenAmount,
			t.VirtualSolReserves, t.VirtualTokenReserves,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InsertSwaps appends swaps in one batch.
func (a *Archive) InsertSwaps(ctx context.Context, swaps []*domain.SwapRecord) (err error) {
	if len(swaps) == 0 {
		return nil
	}
	defer func(start time.Time) { a.metrics.RecordDBQuery(dbLabel, "insert_swaps", time.Since(start), err) }(time.Now())

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO swaps_archive (
			signature, outer_index, inner_index, slot, block_time, tx_failed,
			amm, input_mint, input_amount, output_mint, output_amount, signer
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, s := range swaps {
		err = batch.Append(
			s.Signature, int32(s.Outer), int32(s.Inner), s.Slot, dateTime(s.Time()), boolToUInt8(s.TxFailed),
			s.AMM, s.InputMint, s.InputAmount, s.OutputMint, s.OutputAmount, s.Signer,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InsertCurveStates appends curve states. The table keeps the highest slot per curve.
func (a *Archive) InsertCurveStates(ctx context.Context, states []*domain.CurveState) (err error) {
	if len(states) == 0 {
		return nil
	}
	defer func(start time.Time) { a.metrics.RecordDBQuery(dbLabel, "insert_curves", time.Since(start), err) }(time.Now())

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO curve_states_archive (
			base_mint, quote_mint, slot, virtual_base_reserves, virtual_quote_reserves,
			real_base_reserves, progress, complete, updated_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, s := range states {
		err = batch.Append(
			s.BaseMint, s.QuoteMint, s.Slot, s.VirtualBaseReserves, s.VirtualQuoteReserves,
			s.RealBaseReserves, s.Progress, boolToUInt8(s.Complete), dateTime(s.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ExportStats counts rows copied by Export.
type ExportStats struct {
	Trades int
	Swaps  int
}

// Export copies committed trades and swaps with slot in [fromSlot, toSlot]
// from src, in chunks of chunkSlots slots.
func (a *Archive) Export(ctx context.Context, src storage.Store, fromSlot, toSlot, chunkSlots uint64) (ExportStats, error) {
	var stats ExportStats
	if fromSlot > toSlot {
		return stats, fmt.Errorf("export range [%d, %d]: %w", fromSlot, toSlot, storage.ErrInvalidInput)
	}
	if chunkSlots == 0 {
		chunkSlots = 1000
	}

	for lo := fromSlot; lo <= toSlot; {
		hi := toSlot
		if toSlot-lo >= chunkSlots {
			hi = lo + chunkSlots - 1
		}

		trades, err := src.ListTrades(ctx, lo, hi)
		if err != nil {
			return stats, fmt.Errorf("list trades [%d, %d]: %w", lo, hi, err)
		}
		if err := a.InsertTrades(ctx, trades); err != nil {
			return stats, err
		}
		swaps, err := src.ListSwaps(ctx, lo, hi)
		if err != nil {
			return stats, fmt.Errorf("list swaps [%d, %d]: %w", lo, hi, err)
		}
		if err := a.InsertSwaps(ctx, swaps); err != nil {
			return stats, err
		}

		stats.Trades += len(trades)
		stats.Swaps += len(swaps)
		a.logger.Info("exported range",
			zap.Uint64("from_slot", lo),
			zap.Uint64("to_slot", hi),
			zap.Int("trades", len(trades)),
			zap.Int("swaps", len(swaps)),
		)

		if hi == toSlot {
			break
		}
		lo = hi + 1
	}
	return stats, nil
}

// CountTrades returns the number of distinct archived trades for mint.
func (a *Archive) CountTrades(ctx context.Context, mint string) (uint64, error) {
	query := `
		SELECT count() FROM (
			SELECT signature, outer_index, inner_index FROM trades_archive FINAL
			WHERE mint = ?
		)
	`
	var n uint64
	if err := a.conn.QueryRow(ctx, query, mint).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// LatestCurve returns the archived curve state with the highest slot.
func (a *Archive) LatestCurve(ctx context.Context, key domain.CurveKey) (*domain.CurveState, error) {
	query := `
		SELECT base_mint, quote_mint, slot, virtual_base_reserves, virtual_quote_reserves,
			real_base_reserves, progress, complete, updated_at
		FROM curve_states_archive FINAL
		WHERE base_mint = ? AND quote_mint = ?
	`
	rows, err := a.conn.Query(ctx, query, key.BaseMint, key.QuoteMint)
	if err != nil {
		return nil, fmt.Errorf("query curve: %w", err)
	}
	defer rows.Close()

	states, err := scanCurveStates(rows)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, storage.ErrNotFound
	}
	return states[0], nil
}

func scanCurveStates(rows chRows) ([]*domain.CurveState, error) {
	var states []*domain.CurveState

	for rows.Next() {
		var s domain.CurveState
		var complete uint8

		err := rows.Scan(
			&s.BaseMint, &s.QuoteMint, &s.Slot, &s.VirtualBaseReserves, &s.VirtualQuoteReserves,
			&s.RealBaseReserves, &s.Progress, &complete, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan curve state row: %w", err)
		}
		s.Complete = complete == 1
		s.UpdatedAt = s.UpdatedAt.UTC()
		states = append(states, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate curve state rows: %w", err)
	}
	return states, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// dateTime maps an unknown time to the epoch; DateTime cannot hold year 1.
func dateTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t
}
