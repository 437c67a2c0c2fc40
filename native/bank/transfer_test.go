package bank

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"jobescrow/core/events"
	"jobescrow/core/state"
	"jobescrow/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *state.Manager, *events.Collector) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	require.NoError(t, mgr.RegisterToken("USDC", "USD Coin", 6))
	collector := &events.Collector{}
	return NewLedger(mgr, collector), mgr, collector
}

func TestCustodyAddressIsDeterministic(t *testing.T) {
	a, err := CustodyAddress("usdc")
	require.NoError(t, err)
	b, err := CustodyAddress(" USDC ")
	require.NoError(t, err)
	require.Equal(t, a, b)
	other, err := CustodyAddress("EURC")
	require.NoError(t, err)
	require.NotEqual(t, a, other)
	_, err = CustodyAddress("")
	require.Error(t, err)
}

func TestTransferMovesBalance(t *testing.T) {
	ledger, mgr, collector := newTestLedger(t)
	from := [20]byte{0x01}
	to := [20]byte{0x02}
	require.NoError(t, ledger.Mint(from, "USDC", big.NewInt(100)))

	require.NoError(t, ledger.Transfer(from, to, "usdc", big.NewInt(60)))
	fromBal, _ := mgr.Balance(from[:], "USDC")
	toBal, _ := mgr.Balance(to[:], "USDC")
	require.Equal(t, int64(40), fromBal.Int64())
	require.Equal(t, int64(60), toBal.Int64())

	emitted := collector.Drain()
	require.Len(t, emitted, 2, "mint and transfer")
	evt := emitted[1].(events.Payload).Event()
	require.Equal(t, events.TypeTransfer, evt.Type)
	require.Equal(t, "60", evt.Attributes["amount"])
}

func TestTransferFailures(t *testing.T) {
	ledger, mgr, _ := newTestLedger(t)
	from := [20]byte{0x01}
	to := [20]byte{0x02}
	require.NoError(t, ledger.Mint(from, "USDC", big.NewInt(10)))

	require.ErrorIs(t, ledger.Transfer(from, to, "USDC", big.NewInt(11)), ErrInsufficientBalance)
	require.ErrorIs(t, ledger.Transfer(from, to, "DOGE", big.NewInt(1)), ErrUnknownToken)
	require.Error(t, ledger.Transfer(from, to, "USDC", big.NewInt(0)))
	require.ErrorIs(t, ledger.Mint(to, "DOGE", big.NewInt(1)), ErrUnknownToken)

	bal, _ := mgr.Balance(from[:], "USDC")
	require.Equal(t, int64(10), bal.Int64())
}
