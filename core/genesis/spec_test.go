package genesis

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"jobescrow/core/state"
	"jobescrow/crypto"
	"jobescrow/native/bank"
	"jobescrow/storage"
)

func testAccount(fill byte) string {
	return crypto.MustNewAddress(crypto.JobPrefix, bytes.Repeat([]byte{fill}, 20)).String()
}

func testSpec() *Spec {
	return &Spec{
		Tokens: []TokenSpec{
			{Symbol: "usdc", Name: "USD Coin", Decimals: 6},
			{Symbol: "EURC", Name: "Euro Coin", Decimals: 6},
		},
		Balances: []BalanceSpec{
			{Account: testAccount(0x01), Token: "USDC", Amount: "1000"},
			{Account: testAccount(0x02), Token: "eurc", Amount: "0"},
		},
	}
}

func TestSpecValidate(t *testing.T) {
	allocs, err := testSpec().Validate()
	require.NoError(t, err)
	require.Len(t, allocs, 1, "zero allocations are skipped")
	require.Equal(t, "USDC", allocs[0].Token)
	require.Equal(t, int64(1000), allocs[0].Amount.Int64())

	bad := testSpec()
	bad.Balances[0].Token = "EUR"
	_, err = bad.Validate()
	require.ErrorContains(t, err, "not declared")

	bad = testSpec()
	bad.Balances[0].Amount = "-1"
	_, err = bad.Validate()
	require.Error(t, err)

	bad = testSpec()
	bad.Tokens = append(bad.Tokens, TokenSpec{Symbol: "USDC", Name: "dup"})
	_, err = bad.Validate()
	require.ErrorContains(t, err, "duplicate")

	bad = testSpec()
	bad.Balances[0].Account = crypto.MustNewAddress("acct", bytes.Repeat([]byte{0x01}, 20)).String()
	_, err = bad.Validate()
	require.Error(t, err)
}

func TestApplyRunsOnce(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := state.NewManager(db)
	ledger := bank.NewLedger(mgr, nil)

	applied, err := Apply(testSpec(), mgr, ledger)
	require.NoError(t, err)
	require.True(t, applied)

	tokens, err := mgr.TokenList()
	require.NoError(t, err)
	require.Equal(t, []string{"EURC", "USDC"}, tokens)

	account, err := crypto.ParseAccount(testAccount(0x01))
	require.NoError(t, err)
	bal, err := mgr.Balance(account[:], "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(1000), bal.Int64())

	applied, err = Apply(testSpec(), mgr, ledger)
	require.NoError(t, err)
	require.False(t, applied)
	bal, _ = mgr.Balance(account[:], "USDC")
	require.Equal(t, 0, bal.Cmp(big.NewInt(1000)), "second apply must not re-credit")
}
