package solana

import (
	"crypto/sha256"
	"testing"

	"github.com/mr-tron/base58"
)

const testMint = "So11111111111111111111111111111111111111112"

func TestBondingCurveAddress_Deterministic(t *testing.T) {
	a, err := BondingCurveAddress(testMint, "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	if err != nil {
		t.Fatalf("BondingCurveAddress: %v", err)
	}
	b, err := BondingCurveAddress(testMint, "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	if err != nil {
		t.Fatalf("BondingCurveAddress: %v", err)
	}
	if a != b {
		t.Errorf("expected deterministic address, got %s and %s", a, b)
	}
	if _, err := DecodePubkey(a); err != nil {
		t.Errorf("derived address is not a valid pubkey: %v", err)
	}
}

func TestFindProgramAddress_OffCurveAndReproducible(t *testing.T) {
	programID := "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	seeds := [][]byte{[]byte("seed"), []byte("other")}

	addr, bump, err := FindProgramAddress(seeds, programID)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}

	raw, _ := base58.Decode(addr)
	if isOnCurve(raw) {
		t.Error("program address must be off curve")
	}

	program, _ := DecodePubkey(programID)
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write([]byte{bump})
	h.Write(program)
	h.Write([]byte(pdaMarker))
	if got := base58.Encode(h.Sum(nil)); got != addr {
		t.Errorf("recomputed address %s != %s", got, addr)
	}
}

func TestFindProgramAddress_InvalidInput(t *testing.T) {
	if _, _, err := FindProgramAddress(nil, "not-base58-0OIl"); err == nil {
		t.Error("expected error for invalid program id")
	}

	long := make([]byte, maxSeedLength+1)
	if _, _, err := FindProgramAddress([][]byte{long}, testMint); err == nil {
		t.Error("expected error for oversized seed")
	}

	if _, err := BondingCurveAddress("short", testMint); err == nil {
		t.Error("expected error for invalid mint")
	}
}
