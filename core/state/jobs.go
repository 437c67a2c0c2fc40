package state

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"jobescrow/native/jobs"
)

var (
	jobCounterKey    = []byte("jobs/counter")
	jobRecordPrefix  = "jobs/record/"
	jobLifetimePfx   = "jobs/ttl/"
	jobAccountPrefix = "jobs/account/"
)

func jobRecordKey(id uint64) []byte {
	return []byte(jobRecordPrefix + strconv.FormatUint(id, 10))
}

func jobLifetimeKey(id uint64) []byte {
	return []byte(jobLifetimePfx + strconv.FormatUint(id, 10))
}

func jobAccountKey(addr [20]byte) []byte {
	return []byte(jobAccountPrefix + hex.EncodeToString(addr[:]))
}

type storedJob struct {
	ID            uint64
	Client        [20]byte
	Freelancer    [20]byte
	Token         string
	Amount        *big.Int
	SoftDeadline  uint64
	HardDeadline  uint64
	PenaltyPerSec *big.Int
	State         uint8
	Direct        bool
	CreatedAt     uint64
	UpdatedAt     uint64
}

func newStoredJob(j *jobs.Job) *storedJob {
	return &storedJob{
		ID:            j.ID,
		Client:        j.Client,
		Freelancer:    j.Freelancer,
		Token:         j.Token,
		Amount:        j.Amount,
		SoftDeadline:  j.SoftDeadline,
		HardDeadline:  j.HardDeadline,
		PenaltyPerSec: j.PenaltyPerSec,
		State:         uint8(j.State),
		Direct:        j.Direct,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func (s *storedJob) toJob() *jobs.Job {
	job := &jobs.Job{
		ID:            s.ID,
		Client:        s.Client,
		Freelancer:    s.Freelancer,
		Token:         s.Token,
		Amount:        s.Amount,
		SoftDeadline:  s.SoftDeadline,
		HardDeadline:  s.HardDeadline,
		PenaltyPerSec: s.PenaltyPerSec,
		State:         jobs.JobState(s.State),
		Direct:        s.Direct,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if job.Amount == nil {
		job.Amount = big.NewInt(0)
	}
	if job.PenaltyPerSec == nil {
		job.PenaltyPerSec = big.NewInt(0)
	}
	return job
}

// JobPut validates and stores the job record. A party is added to the
// account index only when it first appears on the record.
func (m *Manager) JobPut(j *jobs.Job) error {
	sanitized, err := jobs.SanitizeJob(j)
	if err != nil {
		return err
	}
	previous, existed, err := m.JobGet(sanitized.ID)
	if err != nil {
		return err
	}
	if err := m.KVPut(jobRecordKey(sanitized.ID), newStoredJob(sanitized)); err != nil {
		return err
	}
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], sanitized.ID)
	if !existed || previous.Client != sanitized.Client {
		if err := m.KVAppend(jobAccountKey(sanitized.Client), idBytes[:]); err != nil {
			return err
		}
	}
	if sanitized.HasFreelancer() && (!existed || previous.Freelancer != sanitized.Freelancer) {
		if err := m.KVAppend(jobAccountKey(sanitized.Freelancer), idBytes[:]); err != nil {
			return err
		}
	}
	return nil
}

// JobGet loads the job record for id.
func (m *Manager) JobGet(id uint64) (*jobs.Job, bool, error) {
	var stored storedJob
	ok, err := m.KVGet(jobRecordKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toJob(), true, nil
}

// JobCounter returns the last allocated job id.
func (m *Manager) JobCounter() (uint64, error) {
	var n uint64
	if _, err := m.KVGet(jobCounterKey, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// SetJobCounter persists the last allocated job id.
func (m *Manager) SetJobCounter(n uint64) error {
	return m.KVPut(jobCounterKey, n)
}

// JobExtendLifetime refreshes the retention window of a record. When fewer
// than min units remain the record lives until now+max; otherwise the stored
// value is kept.
func (m *Manager) JobExtendLifetime(id uint64, min, max, now uint64) (uint64, error) {
	until, ok, err := m.JobLiveUntil(id)
	if err != nil {
		return 0, err
	}
	if ok && until >= now && until-now >= min {
		return until, nil
	}
	if now > math.MaxUint64-max {
		until = math.MaxUint64
	} else {
		until = now + max
	}
	if err := m.KVPut(jobLifetimeKey(id), until); err != nil {
		return 0, err
	}
	return until, nil
}

// JobLiveUntil reports the stored retention deadline for a record.
func (m *Manager) JobLiveUntil(id uint64) (uint64, bool, error) {
	var until uint64
	ok, err := m.KVGet(jobLifetimeKey(id), &until)
	if err != nil {
		return 0, false, err
	}
	return until, ok, nil
}

// JobIDsByAccount lists the ids of every job the account is party to, in the
// order the account first appeared on them.
func (m *Manager) JobIDsByAccount(addr [20]byte) ([]uint64, error) {
	var raw [][]byte
	if err := m.KVGetList(jobAccountKey(addr), &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 8 {
			return nil, fmt.Errorf("jobs index: malformed entry of %d bytes", len(entry))
		}
		ids = append(ids, binary.BigEndian.Uint64(entry))
	}
	return ids, nil
}
