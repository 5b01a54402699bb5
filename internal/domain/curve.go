package domain

import "time"

// CurveKey identifies a bonding curve by its token pair.
type CurveKey struct {
	BaseMint  string
	QuoteMint string
}

// String returns "base/quote".
func (k CurveKey) String() string {
	return k.BaseMint + "/" + k.QuoteMint
}

// CurveState is the derived bonding-curve state for one token pair.
// Slot only ever increases for a given key.
type CurveState struct {
	BaseMint             string    `json:"base_mint"`
	QuoteMint            string    `json:"quote_mint"`
	Slot                 uint64    `json:"slot"`
	VirtualBaseReserves  uint64    `json:"virtual_base_reserves"`  // token base units
	VirtualQuoteReserves uint64    `json:"virtual_quote_reserves"` // lamports
	RealBaseReserves     uint64    `json:"real_base_reserves"`
	Progress             float64   `json:"progress"` // 0..100
	Complete             bool      `json:"complete"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Key returns the curve identity.
func (s *CurveState) Key() CurveKey {
	return CurveKey{BaseMint: s.BaseMint, QuoteMint: s.QuoteMint}
}

// Clone returns a copy of the state.
func (s *CurveState) Clone() *CurveState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
