package domain

import "fmt"

// Kind tags the payload carried by an Instruction.
type Kind uint8

const (
	KindCreate Kind = iota + 1
	KindTrade
	KindSwap
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindTrade:
		return "trade"
	case KindSwap:
		return "swap"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Source records which decode path produced an instruction.
type Source uint8

const (
	SourceInstruction Source = iota + 1 // instruction payload
	SourceEventCPI                      // self-invoked event instruction
	SourceLog                           // program log line
)

// String returns the string representation of Source.
func (s Source) String() string {
	switch s {
	case SourceInstruction:
		return "instruction"
	case SourceEventCPI:
		return "event_cpi"
	case SourceLog:
		return "log"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// ParseSource parses the string form produced by Source.String.
func ParseSource(s string) (Source, error) {
	switch s {
	case "instruction":
		return SourceInstruction, nil
	case "event_cpi":
		return SourceEventCPI, nil
	case "log":
		return SourceLog, nil
	default:
		return 0, fmt.Errorf("unknown source %q", s)
	}
}

// Position locates an instruction in call order inside a block.
// Inner is -1 for top-level instructions.
type Position struct {
	TxIndex int // transaction index within the block
	Outer   int // top-level instruction index
	Inner   int // index within the inner group of Outer, -1 when top-level
}

// TopLevel reports whether the position refers to a top-level instruction.
func (p Position) TopLevel() bool {
	return p.Inner < 0
}

// Less orders positions by (tx, outer, inner), top-level before its inner group.
func (p Position) Less(o Position) bool {
	if p.TxIndex != o.TxIndex {
		return p.TxIndex < o.TxIndex
	}
	if p.Outer != o.Outer {
		return p.Outer < o.Outer
	}
	return p.Inner < o.Inner
}

// String returns "tx:outer.inner".
func (p Position) String() string {
	if p.TopLevel() {
		return fmt.Sprintf("%d:%d", p.TxIndex, p.Outer)
	}
	return fmt.Sprintf("%d:%d.%d", p.TxIndex, p.Outer, p.Inner)
}

// Instruction is a decoded, venue-specific program call.
// Exactly one of Create, Trade or Swap is set, matching Kind.
type Instruction struct {
	Venue     Venue
	Kind      Kind
	Source    Source
	Signature string // transaction signature
	Slot      uint64
	BlockTime int64 // Unix seconds, 0 when the node did not report one
	Position  Position
	TxFailed  bool // owning transaction failed on chain

	Create *Create
	Trade  *Trade
	Swap   *Swap
}

// Validate checks that the payload matches Kind.
func (i *Instruction) Validate() error {
	if i == nil {
		return fmt.Errorf("nil instruction")
	}
	if i.Signature == "" {
		return fmt.Errorf("instruction missing signature")
	}
	var ok bool
	switch i.Kind {
	case KindCreate:
		ok = i.Create != nil && i.Trade == nil && i.Swap == nil
	case KindTrade:
		ok = i.Trade != nil && i.Create == nil && i.Swap == nil
	case KindSwap:
		ok = i.Swap != nil && i.Create == nil && i.Trade == nil
	}
	if !ok {
		return fmt.Errorf("instruction %s at %s: payload does not match kind %s", i.Signature, i.Position, i.Kind)
	}
	return nil
}

// Create is a pump.fun token launch.
type Create struct {
	Mint         string
	Name         string
	Symbol       string
	URI          string
	BondingCurve string
	User         string
}

// Trade is a pump.fun bonding-curve buy or sell.
type Trade struct {
	Mint                 string
	SolAmount            uint64 // lamports
	TokenAmount          uint64 // base units
	IsBuy                bool
	User                 string
	Timestamp            int64 // Unix seconds reported by the program
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64

	// Set when the event carries real reserves.
	HasRealReserves   bool
	RealSolReserves   uint64
	RealTokenReserves uint64
}

// Swap is a Raydium AMM v4 swap.
type Swap struct {
	AMM          string
	InputMint    string
	InputAmount  uint64
	OutputMint   string
	OutputAmount uint64
	Signer       string
}
