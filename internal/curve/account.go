package curve

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
)

// ErrNotBondingCurve is returned when account data does not carry the bonding curve discriminator.
var ErrNotBondingCurve = errors.New("not a bonding curve account")

var bondingCurveDisc = mustHex("17b7f83760d8ac60")

const (
	bondingCurveFixedLen = 8 + 5*8 + 1
	pubkeyLen            = 32
)

// BondingCurveAccount is the on-chain pump.fun bonding curve account.
type BondingCurveAccount struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
	Creator              string // empty on accounts created before the field existed
}

// bondingCurveLayout is the fixed borsh layout after the discriminator.
type bondingCurveLayout struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// DecodeBondingCurve decodes raw bonding curve account data.
func DecodeBondingCurve(data []byte) (acct *BondingCurveAccount, err error) {
	if len(data) < len(bondingCurveDisc) || !bytes.Equal(data[:len(bondingCurveDisc)], bondingCurveDisc) {
		return nil, ErrNotBondingCurve
	}
	if len(data) < bondingCurveFixedLen {
		return nil, fmt.Errorf("bonding curve account: need %d bytes, have %d", bondingCurveFixedLen, len(data))
	}

	defer func() {
		if r := recover(); r != nil {
			acct, err = nil, fmt.Errorf("bonding curve account: borsh panic: %v", r)
		}
	}()

	var layout bondingCurveLayout
	if err := borsh.Deserialize(&layout, data[len(bondingCurveDisc):bondingCurveFixedLen]); err != nil {
		return nil, fmt.Errorf("bonding curve account: %w", err)
	}
	out := BondingCurveAccount{
		VirtualTokenReserves: layout.VirtualTokenReserves,
		VirtualSolReserves:   layout.VirtualSolReserves,
		RealTokenReserves:    layout.RealTokenReserves,
		RealSolReserves:      layout.RealSolReserves,
		TokenTotalSupply:     layout.TokenTotalSupply,
		Complete:             layout.Complete,
	}
	if len(data) >= bondingCurveFixedLen+pubkeyLen {
		out.Creator = base58.Encode(data[bondingCurveFixedLen : bondingCurveFixedLen+pubkeyLen])
	}
	return &out, nil
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
