package jobs

import (
	"fmt"
	"math"
)

// Lifetime is the retention window applied to job records on every write:
// when fewer than Min ledger units remain the record is extended to Max.
type Lifetime struct {
	Min uint64
	Max uint64
}

// DefaultLifetime keeps a record alive for roughly two days of five-second
// ledgers and refreshes it once less than one day remains.
var DefaultLifetime = Lifetime{Min: 17280, Max: 34560}

// Validate rejects zero or inverted windows.
func (l Lifetime) Validate() error {
	if l.Min == 0 || l.Max == 0 {
		return fmt.Errorf("lifetime window must be non-zero")
	}
	if l.Min > l.Max {
		return fmt.Errorf("lifetime min %d exceeds max %d", l.Min, l.Max)
	}
	return nil
}

// registryState is the slice of state the registry needs. It is satisfied by
// core/state.Manager.
type registryState interface {
	JobGet(id uint64) (*Job, bool, error)
	JobPut(job *Job) error
	JobCounter() (uint64, error)
	SetJobCounter(n uint64) error
	JobExtendLifetime(id uint64, min, max, now uint64) (uint64, error)
	JobLiveUntil(id uint64) (uint64, bool, error)
}

// Registry owns the job id counter and the id → job mapping. It runs inside
// the caller's unit of work, so allocation is as isolated as the surrounding
// transaction.
type Registry struct {
	state    registryState
	lifetime Lifetime
	nowFn    func() uint64
}

// NewRegistry binds a registry to a state backend.
func NewRegistry(state registryState, lifetime Lifetime, now func() uint64) *Registry {
	if lifetime.Validate() != nil {
		lifetime = DefaultLifetime
	}
	return &Registry{state: state, lifetime: lifetime, nowFn: now}
}

func (r *Registry) now() uint64 {
	if r == nil || r.nowFn == nil {
		return 0
	}
	return r.nowFn()
}

// AllocateID increments and persists the job counter, returning the new id.
// Ids start at 1 and are never reused.
func (r *Registry) AllocateID() (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	current, err := r.state.JobCounter()
	if err != nil {
		return 0, err
	}
	if current == math.MaxUint64 {
		return 0, newError("allocate id", 0, ErrOverflow, "jobCounter", nil)
	}
	next := current + 1
	if err := r.state.SetJobCounter(next); err != nil {
		return 0, err
	}
	return next, nil
}

// Put writes the record and extends its lifetime.
func (r *Registry) Put(job *Job) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if job == nil {
		return fmt.Errorf("jobs registry: nil job")
	}
	if err := r.state.JobPut(job); err != nil {
		return err
	}
	_, err := r.state.JobExtendLifetime(job.ID, r.lifetime.Min, r.lifetime.Max, r.now())
	return err
}

// Get loads the record for id or fails with ErrNotFound.
func (r *Registry) Get(id uint64) (*Job, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	job, ok, err := r.state.JobGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError("get", id, ErrNotFound, "", nil)
	}
	return job, nil
}

// LiveUntil reports the ledger time at which the record's retention lapses.
func (r *Registry) LiveUntil(id uint64) (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	until, ok, err := r.state.JobLiveUntil(id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, newError("lifetime", id, ErrNotFound, "", nil)
	}
	return until, nil
}
