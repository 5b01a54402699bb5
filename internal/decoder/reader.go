package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mr-tron/base58"
)

// Reader errors.
var (
	// ErrShortBuffer is returned when fewer bytes remain than the next field needs.
	ErrShortBuffer = errors.New("short buffer")
	// ErrInvalidString is returned for strings that are too long or not UTF-8.
	ErrInvalidString = errors.New("invalid string")
	// ErrInvalidBool is returned for a bool byte other than 0 or 1.
	ErrInvalidBool = errors.New("invalid bool")
)

// MaxStringLen bounds length-prefixed strings.
const MaxStringLen = 1024

const pubkeyLen = 32

// FieldError reports which field failed to decode and where.
type FieldError struct {
	Field  string
	Offset int
	Need   int
	Have   int
	Err    error
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrShortBuffer) {
		return fmt.Sprintf("field %s at offset %d: need %d bytes, have %d: %v", e.Field, e.Offset, e.Need, e.Have, e.Err)
	}
	return fmt.Sprintf("field %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Reader reads fixed-width little-endian fields from a payload in order.
// Every method returns a *FieldError instead of panicking on short input.
type Reader struct {
	data []byte
	off  int
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) take(field string, n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, &FieldError{Field: field, Offset: r.off, Need: n, Have: r.Remaining(), Err: ErrShortBuffer}
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Expect consumes len(prefix) bytes and reports whether they equal prefix.
// On mismatch or short input nothing is consumed.
func (r *Reader) Expect(prefix []byte) bool {
	if r.Remaining() < len(prefix) || !bytes.Equal(r.data[r.off:r.off+len(prefix)], prefix) {
		return false
	}
	r.off += len(prefix)
	return true
}

// Skip advances past n bytes.
func (r *Reader) Skip(field string, n int) error {
	_, err := r.take(field, n)
	return err
}

// U8 reads one byte.
func (r *Reader) U8(field string) (uint8, error) {
	b, err := r.take(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool reads a strict 0/1 byte.
func (r *Reader) Bool(field string) (bool, error) {
	off := r.off
	v, err := r.U8(field)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, &FieldError{Field: field, Offset: off, Err: fmt.Errorf("%w: %d", ErrInvalidBool, v)}
	}
}

// U64 reads a little-endian uint64.
func (r *Reader) U64(field string) (uint64, error) {
	b, err := r.take(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// I64 reads a little-endian int64.
func (r *Reader) I64(field string) (int64, error) {
	v, err := r.U64(field)
	return int64(v), err
}

// Pubkey reads a 32-byte public key and returns it base58-encoded.
func (r *Reader) Pubkey(field string) (string, error) {
	b, err := r.take(field, pubkeyLen)
	if err != nil {
		return "", err
	}
	return base58.Encode(b), nil
}

// String reads a u32 little-endian length prefix followed by UTF-8 bytes.
func (r *Reader) String(field string) (string, error) {
	off := r.off
	lb, err := r.take(field, 4)
	if err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lb)
	if n > MaxStringLen {
		r.off = off
		return "", &FieldError{Field: field, Offset: off, Err: fmt.Errorf("%w: length %d exceeds %d", ErrInvalidString, n, MaxStringLen)}
	}
	b, err := r.take(field, int(n))
	if err != nil {
		r.off = off
		return "", err
	}
	if !utf8.Valid(b) {
		return "", &FieldError{Field: field, Offset: off, Err: fmt.Errorf("%w: not utf-8", ErrInvalidString)}
	}
	return string(b), nil
}
