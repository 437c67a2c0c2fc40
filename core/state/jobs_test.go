package state

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"jobescrow/native/jobs"
	"jobescrow/storage"
)

func testJob(id uint64) *jobs.Job {
	return &jobs.Job{
		ID:            id,
		Client:        [20]byte{0x11},
		Token:         "usdc",
		Amount:        big.NewInt(1000),
		SoftDeadline:  100,
		HardDeadline:  200,
		PenaltyPerSec: big.NewInt(10),
		State:         jobs.JobOpen,
		CreatedAt:     5,
		UpdatedAt:     5,
	}
}

func TestJobRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	_, ok, err := mgr.JobGet(1)
	require.NoError(t, err)
	require.False(t, ok)

	job := testJob(1)
	job.Freelancer = [20]byte{0x22}
	job.State = jobs.JobFunded
	job.Direct = true
	require.NoError(t, mgr.JobPut(job))

	got, ok, err := mgr.JobGet(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "USDC", got.Token)
	require.Equal(t, job.Client, got.Client)
	require.Equal(t, job.Freelancer, got.Freelancer)
	require.Equal(t, 0, got.Amount.Cmp(job.Amount))
	require.Equal(t, 0, got.PenaltyPerSec.Cmp(job.PenaltyPerSec))
	require.Equal(t, jobs.JobFunded, got.State)
	require.True(t, got.Direct)
	require.Equal(t, uint64(200), got.HardDeadline)
}

func TestJobPutRejectsInvalidRecord(t *testing.T) {
	mgr := newTestManager(t)
	bad := testJob(0)
	require.Error(t, mgr.JobPut(bad))
	bad = testJob(1)
	bad.HardDeadline = bad.SoftDeadline
	require.Error(t, mgr.JobPut(bad))
}

func TestJobCounter(t *testing.T) {
	mgr := newTestManager(t)
	n, err := mgr.JobCounter()
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mgr.SetJobCounter(7))
	n, err = mgr.JobCounter()
	require.NoError(t, err)
	require.Equal(t, uint64(7), n)
}

func TestJobLifetime(t *testing.T) {
	mgr := newTestManager(t)
	_, ok, err := mgr.JobLiveUntil(3)
	require.NoError(t, err)
	require.False(t, ok)

	until, err := mgr.JobExtendLifetime(3, 10, 100, 1_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_100), until)

	until, err = mgr.JobExtendLifetime(3, 10, 100, 1_050)
	require.NoError(t, err)
	require.Equal(t, uint64(1_100), until)

	until, err = mgr.JobExtendLifetime(3, 10, 100, 1_091)
	require.NoError(t, err)
	require.Equal(t, uint64(1_191), until)

	until, err = mgr.JobExtendLifetime(4, 10, 100, math.MaxUint64-5)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), until)
}

func TestJobIDsByAccount(t *testing.T) {
	mgr := newTestManager(t)
	first := testJob(1)
	second := testJob(2)
	second.Freelancer = [20]byte{0x22}
	second.State = jobs.JobAssigned
	require.NoError(t, mgr.JobPut(first))
	require.NoError(t, mgr.JobPut(second))
	require.NoError(t, mgr.JobPut(second))

	ids, err := mgr.JobIDsByAccount([20]byte{0x11})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, ids)

	ids, err = mgr.JobIDsByAccount([20]byte{0x22})
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, ids)

	ids, err = mgr.JobIDsByAccount([20]byte{0x99})
	require.NoError(t, err)
	require.Empty(t, ids)
}

type countingStore struct {
	Store
	puts map[string]int
}

func (s *countingStore) Put(key, value []byte) error {
	s.puts[string(key)]++
	return s.Store.Put(key, value)
}

func TestJobPutTouchesAccountIndexOnlyForNewParties(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	store := &countingStore{Store: db, puts: map[string]int{}}
	mgr := NewManager(store)
	clientKey := string(kvKey(jobAccountKey([20]byte{0x11})))
	freelancerKey := string(kvKey(jobAccountKey([20]byte{0x22})))

	job := testJob(1)
	require.NoError(t, mgr.JobPut(job))
	require.Equal(t, 1, store.puts[clientKey])

	for _, next := range []jobs.JobState{jobs.JobOpen, jobs.JobOpen} {
		job.State = next
		job.UpdatedAt++
		require.NoError(t, mgr.JobPut(job))
	}
	require.Equal(t, 1, store.puts[clientKey])

	job.Freelancer = [20]byte{0x22}
	job.State = jobs.JobAssigned
	require.NoError(t, mgr.JobPut(job))
	for _, next := range []jobs.JobState{jobs.JobAccepted, jobs.JobFunded, jobs.JobCompleted} {
		job.State = next
		require.NoError(t, mgr.JobPut(job))
	}
	require.Equal(t, 1, store.puts[clientKey])
	require.Equal(t, 1, store.puts[freelancerKey])

	ids, err := mgr.JobIDsByAccount([20]byte{0x22})
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, ids)
	ids, err = mgr.JobIDsByAccount([20]byte{0x11})
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, ids)
}
