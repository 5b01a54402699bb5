package decoder

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"

	"github.com/mr-tron/base58"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/solana"
)

// key returns a deterministic 32-byte public key.
func key(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

// enc builds little-endian payloads.
type enc struct {
	buf bytes.Buffer
}

func (e *enc) raw(b []byte) *enc {
	e.buf.Write(b)
	return e
}

func (e *enc) u8(v uint8) *enc {
	e.buf.WriteByte(v)
	return e
}

func (e *enc) u64(v uint64) *enc {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
	return e
}

func (e *enc) boolean(v bool) *enc {
	if v {
		return e.u8(1)
	}
	return e.u8(0)
}

func (e *enc) pubkey(s string) *enc {
	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		panic("bad test pubkey " + s)
	}
	e.buf.Write(b)
	return e
}

func (e *enc) str(s string) *enc {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	e.buf.Write(b[:])
	e.buf.WriteString(s)
	return e
}

func (e *enc) bytes() []byte {
	return append([]byte(nil), e.buf.Bytes()...)
}

// Account layout shared by the fixtures.
var (
	userKey    = key(1)
	mintKey    = key(2)
	curveKey   = key(3)
	globalKey  = key(4)
	feeKey     = key(5)
	eventAuth  = key(6)
	routerKey  = key(7)
	ammKey     = key(8)
	srcATA     = key(9)
	dstATA     = key(10)
	vaultA     = key(11)
	vaultB     = key(12)
	otherMint  = key(13)
	unrelated  = key(14)
	accountSet = []string{
		userKey,                      // 0
		mintKey,                      // 1
		domain.PumpFunProgramID,      // 2
		curveKey,                     // 3
		globalKey,                    // 4
		feeKey,                       // 5
		eventAuth,                    // 6
		routerKey,                    // 7
		domain.RaydiumAMMV4ProgramID, // 8
		ammKey,                       // 9
		srcATA,                       // 10
		dstATA,                       // 11
		vaultA,                       // 12
		vaultB,                       // 13
		unrelated,                    // 14
	}
)

const (
	idxUser    = 0
	idxMint    = 1
	idxPump    = 2
	idxCurve   = 3
	idxRouter  = 7
	idxRaydium = 8
	idxUnrel   = 14
)

// pumpTradeAccounts places mint at 2 and user at 6.
func pumpTradeAccounts() []int {
	return []int{4, 5, idxMint, idxCurve, 12, 13, idxUser, 14, 14, 14, 6, idxPump}
}

func pumpCreateAccounts() []int {
	return []int{idxMint, 4, idxCurve, 12, 4, 5, 5, idxUser, 5, 5, 5, 6, idxPump}
}

func buyData(amount, maxSol uint64) []byte {
	return new(enc).raw(pumpBuyDisc).u64(amount).u64(maxSol).bytes()
}

func sellData(amount, minSol uint64) []byte {
	return new(enc).raw(pumpSellDisc).u64(amount).u64(minSol).bytes()
}

func createData(name, symbol, uri string) []byte {
	return new(enc).raw(pumpCreateDisc).str(name).str(symbol).str(uri).bytes()
}

type tradeEvent struct {
	mint, user         string
	sol, token         uint64
	isBuy              bool
	ts                 int64
	vsol, vtoken       uint64
	withReal           bool
	realSol, realToken uint64
}

func (t tradeEvent) body() []byte {
	e := new(enc).raw(pumpTradeEventDisc).
		pubkey(t.mint).u64(t.sol).u64(t.token).boolean(t.isBuy).
		pubkey(t.user).u64(uint64(t.ts)).u64(t.vsol).u64(t.vtoken)
	if t.withReal {
		e.u64(t.realSol).u64(t.realToken)
	}
	return e.bytes()
}

func (t tradeEvent) cpi() []byte {
	return new(enc).raw(pumpEventCPIPrefix).raw(t.body()).bytes()
}

func (t tradeEvent) log() string {
	return "Program data: " + base64.StdEncoding.EncodeToString(t.body())
}

func pumpIx(data []byte, accounts []int) solana.Instruction {
	return solana.Instruction{ProgramIDIndex: idxPump, Accounts: accounts, Data: data}
}

func eventIx(t tradeEvent) solana.Instruction {
	return solana.Instruction{ProgramIDIndex: idxPump, Accounts: []int{6}, Data: t.cpi()}
}

func newTx(index int, sig string) solana.Transaction {
	return solana.Transaction{
		Index:       index,
		Signature:   sig,
		AccountKeys: append([]string(nil), accountSet...),
	}
}

func defaultEvent(isBuy bool) tradeEvent {
	return tradeEvent{
		mint:   mintKey,
		user:   userKey,
		sol:    1_000_000_000,
		token:  35_000_000_000_000,
		isBuy:  isBuy,
		ts:     1_700_000_000,
		vsol:   31_000_000_000,
		vtoken: 1_038_000_000_000_000,
	}
}

// raydiumSwapAccounts is the v4 layout without market accounts.
func raydiumSwapAccounts() []int {
	return []int{4, 9, 5, 12, 13, 10, 11, idxUser}
}

func raydiumSwapData(tag uint8, a, b uint64) []byte {
	return new(enc).u8(tag).u64(a).u64(b).bytes()
}

func rayLogLine(logType uint8, f [7]uint64) string {
	e := new(enc).u8(logType)
	for _, v := range f {
		e.u64(v)
	}
	return "Program log: ray_log: " + base64.StdEncoding.EncodeToString(e.bytes())
}

func raydiumBalances() []solana.TokenBalance {
	return []solana.TokenBalance{
		{AccountIndex: 10, Mint: domain.WSOLMint, Owner: userKey},
		{AccountIndex: 11, Mint: otherMint, Owner: userKey},
	}
}
