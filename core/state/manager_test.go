package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"jobescrow/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func tokenExists(t *testing.T, m *Manager, symbol string) bool {
	t.Helper()
	ok, err := m.TokenExists(symbol)
	require.NoError(t, err)
	return ok
}

type failingStore struct{ err error }

func (s failingStore) Get([]byte) ([]byte, error) { return nil, s.err }
func (s failingStore) Put([]byte, []byte) error   { return s.err }

func TestTokenExistsReportsStorageFaults(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.write(tokenMetadataKey("USDC"), []byte{0xff, 0x01}))
	_, err := mgr.TokenExists("usdc")
	require.Error(t, err)

	boom := errors.New("disk gone")
	_, err = NewManager(failingStore{err: boom}).TokenExists("USDC")
	require.ErrorIs(t, err, boom)

	ok, err := mgr.TokenExists(" ")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTokenRegistry(t *testing.T) {
	mgr := newTestManager(t)
	require.False(t, tokenExists(t, mgr, "usdc"))

	require.NoError(t, mgr.RegisterToken(" usdc", "USD Coin", 6))
	require.NoError(t, mgr.RegisterToken("EURC", "Euro Coin", 6))
	require.Error(t, mgr.RegisterToken("USDC", "again", 6))
	require.Error(t, mgr.RegisterToken("", "blank", 6))
	require.Error(t, mgr.RegisterToken("EUR", " ", 2))

	require.True(t, tokenExists(t, mgr, "usdc"))
	meta, err := mgr.Token("USDC")
	require.NoError(t, err)
	require.Equal(t, &TokenMetadata{Symbol: "USDC", Name: "USD Coin", Decimals: 6}, meta)

	list, err := mgr.TokenList()
	require.NoError(t, err)
	require.Equal(t, []string{"EURC", "USDC"}, list)
}

func TestBalances(t *testing.T) {
	mgr := newTestManager(t)
	addr := []byte{0x01, 0x02}

	require.Error(t, mgr.SetBalance(addr, "USDC", big.NewInt(1)), "unregistered token")
	require.NoError(t, mgr.RegisterToken("USDC", "USD Coin", 6))

	bal, err := mgr.Balance(addr, "USDC")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	require.NoError(t, mgr.SetBalance(addr, "usdc", big.NewInt(250)))
	bal, err = mgr.Balance(addr, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(250), bal.Int64())

	require.Error(t, mgr.SetBalance(addr, "USDC", big.NewInt(-1)))
	require.Error(t, mgr.SetBalance(nil, "USDC", big.NewInt(1)))
}

func TestKVHelpers(t *testing.T) {
	mgr := newTestManager(t)

	var missing uint64
	ok, err := mgr.KVGet([]byte("absent"), &missing)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.KVPut([]byte("answer"), uint64(42)))
	var got uint64
	ok, err = mgr.KVGet([]byte("answer"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), got)

	require.NoError(t, mgr.KVAppend([]byte("list"), []byte{0x01}))
	require.NoError(t, mgr.KVAppend([]byte("list"), []byte{0x02}))
	require.NoError(t, mgr.KVAppend([]byte("list"), []byte{0x01}))
	var list [][]byte
	require.NoError(t, mgr.KVGetList([]byte("list"), &list))
	require.Equal(t, [][]byte{{0x01}, {0x02}}, list)

	var empty [][]byte
	require.NoError(t, mgr.KVGetList([]byte("none"), &empty))
	require.NotNil(t, empty)
	require.Empty(t, empty)

	require.Error(t, mgr.KVPut(nil, 1))
}

func TestManagerOverTransaction(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	txn, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, NewManager(txn).RegisterToken("USDC", "USD Coin", 6))
	txn.Discard()
	require.False(t, tokenExists(t, NewManager(db), "USDC"))

	txn, err = db.Begin()
	require.NoError(t, err)
	require.NoError(t, NewManager(txn).RegisterToken("USDC", "USD Coin", 6))
	require.NoError(t, txn.Commit())
	require.True(t, tokenExists(t, NewManager(db), "USDC"))
}
