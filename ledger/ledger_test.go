package ledger

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"settler/bridge"
	"settler/tracker"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	// A unique shared-cache name keeps tests from seeing each other's rows.
	store, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordDepositAndObserve(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return submitted }

	approve := common.HexToHash("0x01")
	result := bridge.DepositResult{
		ApproveTx: &approve,
		DepositTx: common.HexToHash("0x02"),
		HookData:  "0xaabbccddeeff00112233445566778899",
	}
	row, err := store.RecordDeposit(ctx, "0x1111111111111111111111111111111111111111", "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM", big.NewInt(10_000_000), result)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, row.ID)
	require.Equal(t, string(tracker.StatusPending), row.Status)
	require.Equal(t, approve.Hex(), row.ApprovalTx)

	_, err = store.RecordDeposit(ctx, "", "", big.NewInt(1), result)
	require.ErrorIs(t, err, ErrDuplicate)

	done := submitted.Add(14 * time.Minute)
	require.NoError(t, store.Observe(ctx, result.DepositTx.Hex(), tracker.State{
		Status:          tracker.StatusComplete,
		DestinationTxID: "0xabc",
		MatchedBy:       tracker.MatchHookData,
		LastChecked:     done,
	}))

	got, err := store.Get(ctx, result.DepositTx.Hex())
	require.NoError(t, err)
	require.Equal(t, string(tracker.StatusComplete), got.Status)
	require.Equal(t, "0xabc", got.DestinationTx)
	require.Equal(t, "hook-data", got.MatchedBy)
	require.NotNil(t, got.SettledAt)
	require.True(t, done.Equal(*got.SettledAt))
	require.Equal(t, "10000000", got.AmountBaseUnits)
}

func TestObserveUnknownIsNoop(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.Observe(context.Background(), "0xmissing", tracker.State{Status: tracker.StatusBridging}))
	_, err := store.Get(context.Background(), "0xmissing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordBurnAndList(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		store.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		req, err := bridge.BuildBurnRequest(bridge.Sepolia(), "5", "0x2222222222222222222222222222222222222222", "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM")
		require.NoError(t, err)
		_, err = store.RecordBurn(ctx, req, fmt.Sprintf("0x%064x", i+1))
		require.NoError(t, err)
	}
	require.NoError(t, store.Observe(ctx, fmt.Sprintf("0x%064x", 2), tracker.State{Status: tracker.StatusFailed, Error: "Burn transaction failed on Stacks"}))

	rows, err := store.List(ctx, Filter{Kind: KindBurn})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, fmt.Sprintf("0x%064x", 3), rows[0].SourceTx, "newest first")
	require.Equal(t, "5000000", rows[0].AmountBaseUnits)

	rows, err = store.List(ctx, Filter{Status: string(tracker.StatusFailed)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Burn transaction failed on Stacks", rows[0].Error)

	rows, err = store.List(ctx, Filter{Since: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = store.List(ctx, Filter{Kind: KindDeposit})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRecordRequiresSourceTx(t *testing.T) {
	store := setupStore(t)
	_, err := store.Record(context.Background(), Transfer{AmountBaseUnits: "1"})
	require.Error(t, err)
}

func TestExportParquet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	_, err := store.Record(ctx, Transfer{Kind: KindDeposit, SourceTx: "0x01", AmountBaseUnits: "1000000"})
	require.NoError(t, err)
	_, err = store.Record(ctx, Transfer{Kind: KindBurn, SourceTx: "0x02", AmountBaseUnits: "4800000"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := store.ExportParquet(ctx, &buf, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PAR1")))
	require.True(t, bytes.HasSuffix(buf.Bytes(), []byte("PAR1")))
}

func TestAttachInvoice(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	_, err := store.Record(ctx, Transfer{Kind: KindDeposit, SourceTx: "0x0a", AmountBaseUnits: "1"})
	require.NoError(t, err)

	require.NoError(t, store.AttachInvoice(ctx, "0x0a", "eyJkaXJlY3Rpb24iOiJFVEhfVE9fU1RYIn0="))
	got, err := store.Get(ctx, "0x0a")
	require.NoError(t, err)
	require.Equal(t, "eyJkaXJlY3Rpb24iOiJFVEhfVE9fU1RYIn0=", got.InvoiceToken)

	require.ErrorIs(t, store.AttachInvoice(ctx, "0x0b", "x"), ErrNotFound)
}
