// Package decoder turns raw block transactions into venue-specific domain instructions.
package decoder

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/observability"
	"solana-curve-indexer/internal/solana"
)

// TxMeta carries the block context of a transaction.
type TxMeta struct {
	Slot      uint64
	BlockTime int64
}

// Decoder decodes one venue. Decode is pure and never fails the caller:
// malformed instructions are reported through the ErrorHandler and skipped.
type Decoder interface {
	Venue() domain.Venue
	Decode(tx *solana.Transaction, meta TxMeta) []domain.Instruction
}

// DecodeError describes one instruction or log line that failed to decode.
type DecodeError struct {
	Venue     domain.Venue
	Signature string
	Position  domain.Position
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %s at %s: %v", e.Venue, e.Signature, e.Position, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives decode errors.
type ErrorHandler func(*DecodeError)

// Options configures a Set.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Set runs a fixed list of venue decoders over blocks.
type Set struct {
	decoders []Decoder
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewSet creates a Set for venues. No venues means all venues.
func NewSet(opts Options, venues ...domain.Venue) (*Set, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Set{
		logger:  logger.Named("decoder"),
		metrics: opts.Metrics,
	}

	if len(venues) == 0 {
		venues = domain.AllVenues
	}
	seen := make(map[domain.Venue]bool, len(venues))
	for _, v := range venues {
		if seen[v] {
			continue
		}
		seen[v] = true

		switch v {
		case domain.VenuePumpFun:
			s.decoders = append(s.decoders, NewPumpFun(s.report))
		case domain.VenueRaydiumAMMV4:
			s.decoders = append(s.decoders, NewRaydium(s.report))
		default:
			return nil, fmt.Errorf("unsupported venue %q", v)
		}
	}
	return s, nil
}

// Venues returns the venues decoded by the set.
func (s *Set) Venues() []domain.Venue {
	out := make([]domain.Venue, 0, len(s.decoders))
	for _, d := range s.decoders {
		out = append(out, d.Venue())
	}
	return out
}

func (s *Set) report(e *DecodeError) {
	s.logger.Warn("decode failed",
		zap.String("signature", e.Signature),
		zap.String("venue", e.Venue.String()),
		zap.String("position", e.Position.String()),
		zap.Error(e.Err),
	)
	s.metrics.RecordDecodeError(e.Venue.String())
}

// DecodeTransaction runs every venue over tx and merges results in call order.
func (s *Set) DecodeTransaction(tx *solana.Transaction, meta TxMeta) []domain.Instruction {
	var out []domain.Instruction
	for _, d := range s.decoders {
		out = append(out, d.Decode(tx, meta)...)
	}
	sortByPosition(out)
	return out
}

// DecodeBlock decodes every transaction of block in order.
// A nil block yields nil.
func (s *Set) DecodeBlock(block *solana.Block) []domain.Instruction {
	if block == nil {
		return nil
	}
	meta := TxMeta{Slot: block.Slot, BlockTime: block.Time()}

	var out []domain.Instruction
	for i := range block.Transactions {
		out = append(out, s.DecodeTransaction(&block.Transactions[i], meta)...)
	}

	if s.metrics != nil {
		counts := make(map[[2]string]int)
		for i := range out {
			counts[[2]string{out[i].Venue.String(), out[i].Kind.String()}]++
		}
		for k, n := range counts {
			s.metrics.RecordDecoded(k[0], k[1], n)
		}
	}
	return out
}

func sortByPosition(ixs []domain.Instruction) {
	sort.SliceStable(ixs, func(i, j int) bool {
		return ixs[i].Position.Less(ixs[j].Position)
	})
}

// base fills the envelope shared by every instruction of a transaction.
func base(venue domain.Venue, kind domain.Kind, source domain.Source, tx *solana.Transaction, meta TxMeta, pos domain.Position) domain.Instruction {
	return domain.Instruction{
		Venue:     venue,
		Kind:      kind,
		Source:    source,
		Signature: tx.Signature,
		Slot:      meta.Slot,
		BlockTime: meta.BlockTime,
		Position:  pos,
		TxFailed:  tx.Failed(),
	}
}
