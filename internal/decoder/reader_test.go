package decoder

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Fields(t *testing.T) {
	data := new(enc).
		raw([]byte{1, 2, 3, 4, 5, 6, 7, 8}).
		u8(7).
		boolean(true).
		u64(math.MaxUint64).
		u64(uint64(math.MaxUint64)). // -1 as i64
		pubkey(mintKey).
		str("héllo").
		bytes()

	r := NewReader(data)
	require.True(t, r.Expect([]byte{1, 2, 3, 4, 5, 6, 7, 8}))

	u8, err := r.U8("u8")
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	b, err := r.Bool("bool")
	require.NoError(t, err)
	assert.True(t, b)

	u64, err := r.U64("u64")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), u64)

	i64, err := r.I64("i64")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), i64)

	pk, err := r.Pubkey("pubkey")
	require.NoError(t, err)
	assert.Equal(t, mintKey, pk)

	s, err := r.String("string")
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	assert.Zero(t, r.Remaining())
	assert.Equal(t, len(data), r.Offset())
}

func TestReader_ExpectMismatchConsumesNothing(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	assert.False(t, r.Expect([]byte{1, 9}))
	assert.False(t, r.Expect([]byte{1, 2, 3, 4}))
	assert.Equal(t, 0, r.Offset())
	assert.True(t, r.Expect([]byte{1, 2}))
	assert.Equal(t, 2, r.Offset())
}

func TestReader_ShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	_, err := r.U64("amount")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortBuffer))

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "amount", fe.Field)
	assert.Equal(t, 0, fe.Offset)
	assert.Equal(t, 8, fe.Need)
	assert.Equal(t, 3, fe.Have)

	_, err = NewReader(nil).Pubkey("mint")
	assert.True(t, errors.Is(err, ErrShortBuffer))
	_, err = NewReader(nil).U8("tag")
	assert.True(t, errors.Is(err, ErrShortBuffer))
	assert.Error(t, NewReader([]byte{1}).Skip("pad", 2))
}

func TestReader_InvalidBool(t *testing.T) {
	_, err := NewReader([]byte{2}).Bool("flag")
	assert.True(t, errors.Is(err, ErrInvalidBool))
}

func TestReader_Strings(t *testing.T) {
	// Length prefix larger than the remaining bytes.
	_, err := NewReader([]byte{10, 0, 0, 0, 'a'}).String("name")
	assert.True(t, errors.Is(err, ErrShortBuffer))

	// Length prefix over the bound.
	_, err = NewReader([]byte{0xff, 0xff, 0, 0}).String("name")
	assert.True(t, errors.Is(err, ErrInvalidString))

	// Invalid UTF-8.
	_, err = NewReader([]byte{2, 0, 0, 0, 0xc3, 0x28}).String("name")
	assert.True(t, errors.Is(err, ErrInvalidString))

	s, err := NewReader([]byte{0, 0, 0, 0}).String("empty")
	require.NoError(t, err)
	assert.Equal(t, "", s)
}
