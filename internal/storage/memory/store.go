package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/storage"
)

// ErrInjectedCommit is returned by InTx while commit failures are injected.
var ErrInjectedCommit = errors.New("memory: injected commit failure")

type recordKey struct {
	signature string
	outer     int
	inner     int
}

// Store is an in-memory implementation of storage.Store.
// Transactions are serialized; writes are staged and applied on commit.
type Store struct {
	mu         sync.RWMutex
	txMu       sync.Mutex
	checkpoint *uint64
	curves     map[domain.CurveKey]*domain.CurveState
	tokens     map[string]*domain.TokenRecord
	trades     map[recordKey]*domain.TradeRecord
	swaps      map[recordKey]*domain.SwapRecord

	failCommits int
	commits     int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		curves: make(map[domain.CurveKey]*domain.CurveState),
		tokens: make(map[string]*domain.TokenRecord),
		trades: make(map[recordKey]*domain.TradeRecord),
		swaps:  make(map[recordKey]*domain.SwapRecord),
	}
}

var _ storage.Store = (*Store)(nil)

// FailCommits makes the next n commits fail with ErrInjectedCommit after fn
// has run. Staged writes are discarded.
func (s *Store) FailCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

// Commits returns the number of successful commits.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// GetCheckpoint returns the last committed slot.
func (s *Store) GetCheckpoint(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkpoint == nil {
		return 0, storage.ErrNotFound
	}
	return *s.checkpoint, nil
}

// GetCurveState returns a copy of the stored state.
func (s *Store) GetCurveState(_ context.Context, key domain.CurveKey) (*domain.CurveState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.curves[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return st.Clone(), nil
}

// GetToken returns a token by mint.
func (s *Store) GetToken(_ context.Context, mint string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *t
	return &c, nil
}

// ListTrades returns trades with slot in [fromSlot, toSlot].
func (s *Store) ListTrades(_ context.Context, fromSlot, toSlot uint64) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.trades {
		if t.Slot >= fromSlot && t.Slot <= toSlot {
			c := *t
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return lessRecord(result[i].Slot, result[i].Signature, result[i].Outer, result[i].Inner,
			result[j].Slot, result[j].Signature, result[j].Outer, result[j].Inner)
	})
	return result, nil
}

// ListSwaps returns swaps with slot in [fromSlot, toSlot].
func (s *Store) ListSwaps(_ context.Context, fromSlot, toSlot uint64) ([]*domain.SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapRecord
	for _, sw := range s.swaps {
		if sw.Slot >= fromSlot && sw.Slot <= toSlot {
			c := *sw
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return lessRecord(result[i].Slot, result[i].Signature, result[i].Outer, result[i].Inner,
			result[j].Slot, result[j].Signature, result[j].Outer, result[j].Inner)
	})
	return result, nil
}

func lessRecord(slotA uint64, sigA string, outerA, innerA int, slotB uint64, sigB string, outerB, innerB int) bool {
	if slotA != slotB {
		return slotA < slotB
	}
	if sigA != sigB {
		return sigA < sigB
	}
	if outerA != outerB {
		return outerA < outerB
	}
	return innerA < innerB
}

// InTx runs fn against a staging view. Staged writes are applied only when
// fn returns nil and the context is still live.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:  s,
		curves: make(map[domain.CurveKey]*domain.CurveState),
		tokens: make(map[string]*domain.TokenRecord),
		trades: make(map[recordKey]*domain.TradeRecord),
		swaps:  make(map[recordKey]*domain.SwapRecord),
	}
	s.mu.RLock()
	if s.checkpoint != nil {
		cp := *s.checkpoint
		tx.checkpoint = &cp
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommits > 0 {
		s.failCommits--
		return ErrInjectedCommit
	}

	s.checkpoint = tx.checkpoint
	for k, v := range tx.curves {
		s.curves[k] = v
	}
	for k, v := range tx.tokens {
		s.tokens[k] = v
	}
	for k, v := range tx.trades {
		s.trades[k] = v
	}
	for k, v := range tx.swaps {
		s.swaps[k] = v
	}
	s.commits++
	return nil
}

// memTx overlays staged writes on the committed state. Only one memTx exists
// at a time, so committed state cannot change underneath it.
type memTx struct {
	store      *Store
	checkpoint *uint64
	curves     map[domain.CurveKey]*domain.CurveState
	tokens     map[string]*domain.TokenRecord
	trades     map[recordKey]*domain.TradeRecord
	swaps      map[recordKey]*domain.SwapRecord
}

func (t *memTx) GetCheckpoint(_ context.Context) (uint64, error) {
	if t.checkpoint == nil {
		return 0, storage.ErrNotFound
	}
	return *t.checkpoint, nil
}

func (t *memTx) SetCheckpoint(_ context.Context, slot uint64) error {
	if t.checkpoint != nil && slot < *t.checkpoint {
		return storage.ErrCheckpointRegression
	}
	t.checkpoint = &slot
	return nil
}

func (t *memTx) curve(key domain.CurveKey) (*domain.CurveState, bool) {
	if st, ok := t.curves[key]; ok {
		return st, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	st, ok := t.store.curves[key]
	return st, ok
}

func (t *memTx) GetCurveState(_ context.Context, key domain.CurveKey) (*domain.CurveState, error) {
	st, ok := t.curve(key)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return st.Clone(), nil
}

func (t *memTx) UpsertCurveState(_ context.Context, state *domain.CurveState) (*domain.CurveState, bool, error) {
	if state == nil || state.BaseMint == "" || state.QuoteMint == "" {
		return nil, false, storage.ErrInvalidInput
	}
	key := state.Key()
	if cur, ok := t.curve(key); ok && cur.Slot >= state.Slot {
		return cur.Clone(), false, nil
	}
	t.curves[key] = state.Clone()
	return state.Clone(), true, nil
}

func (t *memTx) UpsertToken(_ context.Context, r *domain.TokenRecord) error {
	if r == nil || r.Mint == "" {
		return storage.ErrInvalidInput
	}
	if _, ok := t.tokens[r.Mint]; ok {
		return nil
	}
	t.store.mu.RLock()
	_, exists := t.store.tokens[r.Mint]
	t.store.mu.RUnlock()
	if exists {
		return nil
	}
	c := *r
	t.tokens[r.Mint] = &c
	return nil
}

func (t *memTx) UpsertTrade(_ context.Context, r *domain.TradeRecord) error {
	if r == nil || r.Signature == "" {
		return storage.ErrInvalidInput
	}
	k := recordKey{r.Signature, r.Outer, r.Inner}
	if _, ok := t.trades[k]; ok {
		return nil
	}
	t.store.mu.RLock()
	_, exists := t.store.trades[k]
	t.store.mu.RUnlock()
	if exists {
		return nil
	}
	c := *r
	t.trades[k] = &c
	return nil
}

func (t *memTx) UpsertSwap(_ context.Context, r *domain.SwapRecord) error {
	if r == nil || r.Signature == "" {
		return storage.ErrInvalidInput
	}
	k := recordKey{r.Signature, r.Outer, r.Inner}
	if _, ok := t.swaps[k]; ok {
		return nil
	}
	t.store.mu.RLock()
	_, exists := t.store.swaps[k]
	t.store.mu.RUnlock()
	if exists {
		return nil
	}
	c := *r
	t.swaps[k] = &c
	return nil
}
