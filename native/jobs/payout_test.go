package jobs

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputePayoutBoundaries(t *testing.T) {
	terms := testTerms(1000, 100, 200, 10)
	cases := []struct {
		now         uint64
		payout      int64
		secondsLate uint64
	}{
		{now: 0, payout: 1000},
		{now: 100, payout: 1000},
		{now: 101, payout: 990, secondsLate: 1},
		{now: 150, payout: 500, secondsLate: 50},
		{now: 199, payout: 10, secondsLate: 99},
		{now: 200, payout: 0, secondsLate: 100},
		{now: 10_000, payout: 0, secondsLate: 9_900},
	}
	for _, tc := range cases {
		got, err := ComputePayout(terms, tc.now)
		require.NoError(t, err, "now=%d", tc.now)
		require.Equal(t, tc.payout, got.Payout.Int64(), "now=%d", tc.now)
		require.Equal(t, 1000-tc.payout, got.Refund.Int64(), "now=%d", tc.now)
		require.Equal(t, tc.secondsLate, got.SecondsLate, "now=%d", tc.now)
		require.Equal(t, tc.now, got.Now)
	}
}

func TestComputePayoutPenaltyCapsAtAmount(t *testing.T) {
	got, err := ComputePayout(testTerms(1000, 100, 200, 50), 150)
	require.NoError(t, err)
	require.Zero(t, got.Payout.Sign())
	require.Equal(t, int64(1000), got.Refund.Int64())
	require.Equal(t, int64(2500), got.Penalty.Int64())
}

func TestComputePayoutZeroPenalty(t *testing.T) {
	got, err := ComputePayout(testTerms(1000, 100, 200, 0), 199)
	require.NoError(t, err)
	require.Equal(t, int64(1000), got.Payout.Int64())
	require.Zero(t, got.Refund.Sign())
}

func TestComputePayoutOverflow(t *testing.T) {
	terms := Terms{Amount: MaxInt128(), SoftDeadline: 0, HardDeadline: 1 << 40, PenaltyPerSec: MaxInt128()}
	_, err := ComputePayout(terms, 2)
	require.True(t, errors.Is(err, ErrOverflow), "got %v", err)

	// Just under the int128 limit is still representable.
	half := new(big.Int).Rsh(MaxInt128(), 1)
	terms.PenaltyPerSec = half
	got, err := ComputePayout(terms, 2)
	require.NoError(t, err)
	require.Equal(t, 1, got.Payout.Sign())
}

func TestComputePayoutRejectsOutOfRangeTerms(t *testing.T) {
	tooBig := new(big.Int).Add(MaxInt128(), big.NewInt(1))
	_, err := ComputePayout(Terms{Amount: tooBig, SoftDeadline: 1, HardDeadline: 2, PenaltyPerSec: big.NewInt(0)}, 0)
	require.ErrorIs(t, err, ErrInvalidTerms)

	_, err = ComputePayout(Terms{Amount: big.NewInt(1), SoftDeadline: 1, HardDeadline: 2, PenaltyPerSec: big.NewInt(-1)}, 0)
	require.ErrorIs(t, err, ErrInvalidTerms)
}

func TestComputePayoutSumsToAmount(t *testing.T) {
	terms := testTerms(12_345, 1_000, 5_000, 7)
	for now := uint64(900); now <= 5_100; now += 37 {
		got, err := ComputePayout(terms, now)
		require.NoError(t, err)
		sum := new(big.Int).Add(got.Payout, got.Refund)
		require.Equal(t, int64(12_345), sum.Int64())
		require.GreaterOrEqual(t, got.Payout.Sign(), 0)
		require.GreaterOrEqual(t, got.Refund.Sign(), 0)
	}
}
