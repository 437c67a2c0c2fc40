package jobs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryExtendsLifetimeOnlyWhenLow(t *testing.T) {
	state := newMockState()
	now := uint64(1_000)
	reg := NewRegistry(state, Lifetime{Min: 10, Max: 100}, func() uint64 { return now })
	job := &Job{ID: 1, Client: client, Token: "USDC", Amount: testTerms(1, 1, 2, 0).Amount, SoftDeadline: 1, HardDeadline: 2, PenaltyPerSec: testTerms(1, 1, 2, 0).PenaltyPerSec}

	require.NoError(t, reg.Put(job))
	until, err := reg.LiveUntil(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1_100), until)

	now = 1_050
	require.NoError(t, reg.Put(job))
	until, _ = reg.LiveUntil(1)
	require.Equal(t, uint64(1_100), until, "plenty of lifetime left, no extension")

	now = 1_095
	require.NoError(t, reg.Put(job))
	until, _ = reg.LiveUntil(1)
	require.Equal(t, uint64(1_195), until)
}

func TestRegistryAllocateIDOverflow(t *testing.T) {
	state := newMockState()
	state.counter = math.MaxUint64
	reg := NewRegistry(state, DefaultLifetime, nil)
	_, err := reg.AllocateID()
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, uint64(math.MaxUint64), state.counter)
}

func TestRegistryGetMissing(t *testing.T) {
	reg := NewRegistry(newMockState(), DefaultLifetime, nil)
	_, err := reg.Get(4)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = reg.LiveUntil(4)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLifetimeValidate(t *testing.T) {
	require.NoError(t, DefaultLifetime.Validate())
	require.Error(t, Lifetime{Min: 0, Max: 1}.Validate())
	require.Error(t, Lifetime{Min: 5, Max: 1}.Validate())
}
