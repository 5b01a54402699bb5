package curve

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/solana"
	"solana-curve-indexer/internal/solana/stub"
	"solana-curve-indexer/internal/storage"
	"solana-curve-indexer/internal/storage/memory"
)

func accountData(a BondingCurveAccount, creator []byte) []byte {
	buf := append([]byte(nil), bondingCurveDisc...)
	for _, v := range []uint64{a.VirtualTokenReserves, a.VirtualSolReserves, a.RealTokenReserves, a.RealSolReserves, a.TokenTotalSupply} {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	if a.Complete {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return append(buf, creator...)
}

func TestDecodeBondingCurve(t *testing.T) {
	want := BondingCurveAccount{
		VirtualTokenReserves: 900_000_000_000_000,
		VirtualSolReserves:   35_000_000_000,
		RealTokenReserves:    620_100_000_000_000,
		RealSolReserves:      5_000_000_000,
		TokenTotalSupply:     1_000_000_000_000_000,
	}

	got, err := DecodeBondingCurve(accountData(want, nil))
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	creator := bytes.Repeat([]byte{3}, 32)
	want.Complete = true
	got, err = DecodeBondingCurve(accountData(want, creator))
	require.NoError(t, err)
	assert.True(t, got.Complete)
	assert.Equal(t, base58.Encode(creator), got.Creator)
}

func TestDecodeBondingCurve_Invalid(t *testing.T) {
	_, err := DecodeBondingCurve([]byte{1, 2, 3})
	assert.True(t, errors.Is(err, ErrNotBondingCurve))

	_, err = DecodeBondingCurve(append(make([]byte, 8), make([]byte, 41)...))
	assert.True(t, errors.Is(err, ErrNotBondingCurve))

	_, err = DecodeBondingCurve(append(append([]byte(nil), bondingCurveDisc...), 1, 2))
	assert.Error(t, err)
}

func setupReconcile(t *testing.T, acct *BondingCurveAccount) (*Reconciler, *memory.Store) {
	t.Helper()

	rpc := stub.NewRPCClient()
	if acct != nil {
		addr, err := solana.BondingCurveAddress(testMint, domain.PumpFunProgramID)
		require.NoError(t, err)
		rpc.Accounts[addr] = &solana.AccountInfo{
			Owner: domain.PumpFunProgramID,
			Data:  base64.StdEncoding.EncodeToString(accountData(*acct, nil)),
		}
	}
	store := memory.NewStore()
	return NewReconciler(rpc, store, newDeriver(t), nil), store
}

func TestReconciler_InSync(t *testing.T) {
	acct := &BondingCurveAccount{VirtualTokenReserves: offset + 10, VirtualSolReserves: 40_000_000_000, RealTokenReserves: 10}
	r, store := setupReconcile(t, acct)
	ctx := context.Background()

	st, err := newDeriver(t).Derive(trade(70, acct.VirtualTokenReserves, acct.VirtualSolReserves))
	require.NoError(t, err)
	require.NoError(t, store.InTx(ctx, func(tx storage.Tx) error {
		_, _, err := tx.UpsertCurveState(ctx, st)
		return err
	}))

	report, err := r.Reconcile(ctx, testMint)
	require.NoError(t, err)
	assert.True(t, report.InSync())
	assert.Equal(t, uint64(70), report.Stored.Slot)
	assert.NotEmpty(t, report.Address)
}

func TestReconciler_Drift(t *testing.T) {
	acct := &BondingCurveAccount{VirtualTokenReserves: offset + 10, VirtualSolReserves: 40_000_000_000, Complete: true}
	r, store := setupReconcile(t, acct)
	ctx := context.Background()

	st, err := newDeriver(t).Derive(trade(70, offset+500, 39_000_000_000))
	require.NoError(t, err)
	require.NoError(t, store.InTx(ctx, func(tx storage.Tx) error {
		_, _, err := tx.UpsertCurveState(ctx, st)
		return err
	}))

	report, err := r.Reconcile(ctx, testMint)
	require.NoError(t, err)
	assert.False(t, report.InSync())
	assert.Equal(t, int64(-490), report.VirtualBaseDelta)
	assert.Equal(t, int64(1_000_000_000), report.VirtualQuoteDelta)
	assert.True(t, report.CompleteMismatch)
}

func TestReconciler_NoStoredState(t *testing.T) {
	r, _ := setupReconcile(t, &BondingCurveAccount{VirtualTokenReserves: 1, VirtualSolReserves: 1})

	report, err := r.Reconcile(context.Background(), testMint)
	require.NoError(t, err)
	assert.Nil(t, report.Stored)
	assert.False(t, report.InSync())
}

func TestReconciler_AccountMissing(t *testing.T) {
	r, _ := setupReconcile(t, nil)

	_, err := r.Reconcile(context.Background(), testMint)
	assert.True(t, errors.Is(err, ErrAccountNotFound))
}

func TestReconciler_InvalidMint(t *testing.T) {
	r, _ := setupReconcile(t, nil)

	_, err := r.Reconcile(context.Background(), "not-base58-0OIl")
	assert.Error(t, err)
}
