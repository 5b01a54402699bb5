package decoder

import (
	"encoding/base64"
	"fmt"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/solana"
)

// pump.fun anchor discriminators.
var (
	pumpCreateDisc      = []byte{0x18, 0x1e, 0xc8, 0x28, 0x05, 0x1c, 0x07, 0x77}
	pumpBuyDisc         = []byte{0x66, 0x06, 0x3d, 0x12, 0x01, 0xda, 0xeb, 0xea}
	pumpSellDisc        = []byte{0x33, 0xe6, 0x85, 0xa4, 0x01, 0x7f, 0x83, 0xad}
	pumpEventCPIPrefix  = []byte{0xe4, 0x45, 0xa5, 0x2e, 0x51, 0xcb, 0x9a, 0x1d}
	pumpTradeEventDisc  = []byte{0xbd, 0xdb, 0x7f, 0xd3, 0x4e, 0xe6, 0x61, 0xee}
	pumpCreateEventDisc = []byte{0x1b, 0x72, 0xa9, 0x4d, 0xde, 0xeb, 0x63, 0x76}
)

// Account positions in pump.fun instructions.
const (
	pumpCreateMintAccount  = 0
	pumpCreateCurveAccount = 2
	pumpCreateUserAccount  = 7

	pumpTradeMintAccount = 2
	pumpTradeUserAccount = 6
)

const pumpLogMarker = "Program data: "

// PumpFun decodes pump.fun create, buy and sell instructions.
type PumpFun struct {
	programID string
	report    ErrorHandler
}

var _ Decoder = (*PumpFun)(nil)

// NewPumpFun creates a pump.fun decoder. report may be nil.
func NewPumpFun(report ErrorHandler) *PumpFun {
	if report == nil {
		report = func(*DecodeError) {}
	}
	return &PumpFun{programID: domain.PumpFunProgramID, report: report}
}

// Venue implements Decoder.
func (p *PumpFun) Venue() domain.Venue {
	return domain.VenuePumpFun
}

// pumpTradeCall is a buy or sell instruction waiting for its event.
type pumpTradeCall struct {
	pos    domain.Position
	isBuy  bool
	mint   string
	user   string
	amount uint64
}

// pumpEvent is a decoded TradeEvent with its origin.
type pumpEvent struct {
	pos   domain.Position
	trade domain.Trade
	used  bool
}

// Decode implements Decoder.
//
// Buy and sell instructions are paired with the next unconsumed TradeEvent
// self-CPI of the same mint in their inner group. Instructions left without
// one fall back to "Program data:" log events in order, then to their
// arguments. Unpaired CPI events are emitted on their own.
func (p *PumpFun) Decode(tx *solana.Transaction, meta TxMeta) []domain.Instruction {
	var (
		out    []domain.Instruction
		trades []pumpTradeCall
		events []*pumpEvent
	)

	for _, c := range programCalls(tx, p.programID) {
		r := NewReader(c.ix.Data)
		switch {
		case r.Expect(pumpEventCPIPrefix):
			if r.Expect(pumpCreateEventDisc) {
				// Duplicates the create instruction.
				continue
			}
			if !r.Expect(pumpTradeEventDisc) {
				continue
			}
			t, err := readTradeEvent(r)
			if err != nil {
				p.fail(tx, c.pos, fmt.Errorf("trade event: %w", err))
				continue
			}
			events = append(events, &pumpEvent{pos: c.pos, trade: t})

		case r.Expect(pumpCreateDisc):
			create, err := p.decodeCreate(tx, c.ix, r)
			if err != nil {
				p.fail(tx, c.pos, fmt.Errorf("create: %w", err))
				continue
			}
			ix := base(domain.VenuePumpFun, domain.KindCreate, domain.SourceInstruction, tx, meta, c.pos)
			ix.Create = create
			out = append(out, ix)

		case r.Expect(pumpBuyDisc):
			t, err := p.decodeTradeCall(tx, c, r, true)
			if err != nil {
				p.fail(tx, c.pos, fmt.Errorf("buy: %w", err))
				continue
			}
			trades = append(trades, t)

		case r.Expect(pumpSellDisc):
			t, err := p.decodeTradeCall(tx, c, r, false)
			if err != nil {
				p.fail(tx, c.pos, fmt.Errorf("sell: %w", err))
				continue
			}
			trades = append(trades, t)
		}
	}

	var logEvents []*pumpEvent
	if len(trades) > 0 {
		logEvents = p.logEvents(tx)
	}

	for _, t := range trades {
		source := domain.SourceEventCPI
		ev := pairCPI(events, t)
		if ev == nil {
			source = domain.SourceLog
			ev = pairLog(logEvents, t)
		}

		ix := base(domain.VenuePumpFun, domain.KindTrade, source, tx, meta, t.pos)
		if ev != nil {
			ev.used = true
			trade := ev.trade
			ix.Trade = &trade
		} else {
			ix.Source = domain.SourceInstruction
			ix.Trade = tradeFromArgs(t, meta)
		}
		out = append(out, ix)
	}

	for _, ev := range events {
		if ev.used {
			continue
		}
		ix := base(domain.VenuePumpFun, domain.KindTrade, domain.SourceEventCPI, tx, meta, ev.pos)
		trade := ev.trade
		ix.Trade = &trade
		out = append(out, ix)
	}

	sortByPosition(out)
	return out
}

func (p *PumpFun) fail(tx *solana.Transaction, pos domain.Position, err error) {
	p.report(&DecodeError{Venue: domain.VenuePumpFun, Signature: tx.Signature, Position: pos, Err: err})
}

func (p *PumpFun) decodeCreate(tx *solana.Transaction, ix *solana.Instruction, r *Reader) (*domain.Create, error) {
	name, err := r.String("name")
	if err != nil {
		return nil, err
	}
	symbol, err := r.String("symbol")
	if err != nil {
		return nil, err
	}
	uri, err := r.String("uri")
	if err != nil {
		return nil, err
	}

	c := &domain.Create{
		Name:         name,
		Symbol:       symbol,
		URI:          uri,
		Mint:         ix.AccountAt(tx, pumpCreateMintAccount),
		BondingCurve: ix.AccountAt(tx, pumpCreateCurveAccount),
		User:         ix.AccountAt(tx, pumpCreateUserAccount),
	}
	if c.Mint == "" || c.BondingCurve == "" {
		return nil, fmt.Errorf("%w: need %d accounts, have %d", errMissingAccount, pumpCreateUserAccount+1, len(ix.Accounts))
	}
	return c, nil
}

func (p *PumpFun) decodeTradeCall(tx *solana.Transaction, c call, r *Reader, isBuy bool) (pumpTradeCall, error) {
	amount, err := r.U64("amount")
	if err != nil {
		return pumpTradeCall{}, err
	}
	// max_sol_cost for buy, min_sol_output for sell.
	if _, err := r.U64("sol_limit"); err != nil {
		return pumpTradeCall{}, err
	}

	t := pumpTradeCall{
		pos:    c.pos,
		isBuy:  isBuy,
		amount: amount,
		mint:   c.ix.AccountAt(tx, pumpTradeMintAccount),
		user:   c.ix.AccountAt(tx, pumpTradeUserAccount),
	}
	if t.mint == "" {
		return pumpTradeCall{}, fmt.Errorf("%w: need %d accounts, have %d", errMissingAccount, pumpTradeUserAccount+1, len(c.ix.Accounts))
	}
	return t, nil
}

// logEvents decodes TradeEvents emitted as "Program data:" lines by pump.fun.
func (p *PumpFun) logEvents(tx *solana.Transaction) []*pumpEvent {
	var out []*pumpEvent
	for i, payload := range programLogs(tx.LogMessages, p.programID, pumpLogMarker) {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			continue
		}
		r := NewReader(data)
		if !r.Expect(pumpTradeEventDisc) {
			continue
		}
		t, err := readTradeEvent(r)
		if err != nil {
			p.fail(tx, logPosition(tx), fmt.Errorf("log event %d: %w", i, err))
			continue
		}
		out = append(out, &pumpEvent{pos: logPosition(tx), trade: t})
	}
	return out
}

// readTradeEvent reads a TradeEvent body after its discriminator.
// Real reserves are read when the event is long enough to carry them.
func readTradeEvent(r *Reader) (domain.Trade, error) {
	var (
		t   domain.Trade
		err error
	)
	if t.Mint, err = r.Pubkey("mint"); err != nil {
		return t, err
	}
	if t.SolAmount, err = r.U64("sol_amount"); err != nil {
		return t, err
	}
	if t.TokenAmount, err = r.U64("token_amount"); err != nil {
		return t, err
	}
	if t.IsBuy, err = r.Bool("is_buy"); err != nil {
		return t, err
	}
	if t.User, err = r.Pubkey("user"); err != nil {
		return t, err
	}
	if t.Timestamp, err = r.I64("timestamp"); err != nil {
		return t, err
	}
	if t.VirtualSolReserves, err = r.U64("virtual_sol_reserves"); err != nil {
		return t, err
	}
	if t.VirtualTokenReserves, err = r.U64("virtual_token_reserves"); err != nil {
		return t, err
	}

	if r.Remaining() >= 16 {
		if t.RealSolReserves, err = r.U64("real_sol_reserves"); err != nil {
			return t, err
		}
		if t.RealTokenReserves, err = r.U64("real_token_reserves"); err != nil {
			return t, err
		}
		t.HasRealReserves = true
	}
	return t, nil
}

// pairCPI finds the next unconsumed CPI event after t in the same inner group.
func pairCPI(events []*pumpEvent, t pumpTradeCall) *pumpEvent {
	for _, ev := range events {
		if ev.used || ev.pos.Outer != t.pos.Outer || ev.pos.Inner <= t.pos.Inner {
			continue
		}
		if matches(ev, t) {
			return ev
		}
	}
	return nil
}

// pairLog finds the next unconsumed log event for t.
func pairLog(events []*pumpEvent, t pumpTradeCall) *pumpEvent {
	for _, ev := range events {
		if !ev.used && matches(ev, t) {
			return ev
		}
	}
	return nil
}

func matches(ev *pumpEvent, t pumpTradeCall) bool {
	if ev.trade.Mint != t.mint || ev.trade.IsBuy != t.isBuy {
		return false
	}
	return t.user == "" || ev.trade.User == t.user
}

// tradeFromArgs builds a trade from instruction arguments alone.
// Sol amount and reserves are unknown without an event.
func tradeFromArgs(t pumpTradeCall, meta TxMeta) *domain.Trade {
	return &domain.Trade{
		Mint:        t.mint,
		TokenAmount: t.amount,
		IsBuy:       t.isBuy,
		User:        t.user,
		Timestamp:   meta.BlockTime,
	}
}
