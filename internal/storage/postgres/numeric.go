package postgres

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

var errNumericRange = errors.New("numeric value out of uint64 range")

// numeric encodes v for a NUMERIC(20,0) column.
func numeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

// u64 scans a NUMERIC(20,0) column into dst.
func u64(dst *uint64) *numericU64 {
	return &numericU64{dst: dst}
}

type numericU64 struct {
	dst *uint64
}

// ScanNumeric implements pgtype.NumericScanner.
func (n *numericU64) ScanNumeric(v pgtype.Numeric) error {
	if !v.Valid {
		return errors.New("cannot scan NULL numeric into uint64")
	}
	if v.NaN || v.InfinityModifier != pgtype.Finite {
		return errNumericRange
	}

	i := new(big.Int)
	if v.Int != nil {
		i.Set(v.Int)
	}
	// pgx strips trailing zeros into Exp.
	if v.Exp != 0 {
		pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs32(v.Exp))), nil)
		if v.Exp > 0 {
			i.Mul(i, pow)
		} else {
			var rem big.Int
			i.QuoRem(i, pow, &rem)
			if rem.Sign() != 0 {
				return fmt.Errorf("numeric %s has a fractional part", v.Int)
			}
		}
	}
	if !i.IsUint64() {
		return fmt.Errorf("%w: %s", errNumericRange, i)
	}
	*n.dst = i.Uint64()
	return nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
