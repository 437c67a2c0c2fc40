package jobs

import (
	"fmt"
	"math/big"
	"strings"
)

// JobState enumerates the lifecycle states of a job. General-flow jobs move
// Open → Assigned → Accepted → Funded → Completed (or Failed); direct-flow
// jobs start Funded and end Completed or Cancelled.
type JobState uint8

const (
	JobOpen JobState = iota
	JobAssigned
	JobAccepted
	JobFunded
	JobCompleted
	JobFailed
	JobCancelled
)

// Valid reports whether the state value is within the supported range.
func (s JobState) Valid() bool {
	switch s {
	case JobOpen, JobAssigned, JobAccepted, JobFunded, JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is permitted.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

func (s JobState) String() string {
	switch s {
	case JobOpen:
		return "open"
	case JobAssigned:
		return "assigned"
	case JobAccepted:
		return "accepted"
	case JobFunded:
		return "funded"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseJobState converts the lower-case state name used over RPC back into a
// JobState.
func ParseJobState(value string) (JobState, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for s := JobOpen; s <= JobCancelled; s++ {
		if s.String() == normalized {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown job state %q", value)
}

// Job is the persisted record of a single contract between a client and a
// freelancer. A zero Freelancer means none has been assigned yet.
type Job struct {
	ID            uint64
	Client        [20]byte
	Freelancer    [20]byte
	Token         string
	Amount        *big.Int
	SoftDeadline  uint64
	HardDeadline  uint64
	PenaltyPerSec *big.Int
	State         JobState
	Direct        bool
	CreatedAt     uint64
	UpdatedAt     uint64
}

// HasFreelancer reports whether a freelancer has been assigned.
func (j *Job) HasFreelancer() bool {
	return j != nil && j.Freelancer != ([20]byte{})
}

// FailureState is the terminal state used when the job is withdrawn or
// misses its hard deadline.
func (j *Job) FailureState() JobState {
	if j != nil && j.Direct {
		return JobCancelled
	}
	return JobFailed
}

// Terms returns the negotiable portion of the job.
func (j *Job) Terms() Terms {
	return Terms{
		Amount:        cloneBigInt(j.Amount),
		SoftDeadline:  j.SoftDeadline,
		HardDeadline:  j.HardDeadline,
		PenaltyPerSec: cloneBigInt(j.PenaltyPerSec),
	}
}

func (j *Job) applyTerms(t Terms) {
	j.Amount = cloneBigInt(t.Amount)
	j.SoftDeadline = t.SoftDeadline
	j.HardDeadline = t.HardDeadline
	j.PenaltyPerSec = cloneBigInt(t.PenaltyPerSec)
}

// Clone returns a deep copy of the job so callers can safely mutate the copy
// without affecting the stored instance.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Amount = cloneBigInt(j.Amount)
	clone.PenaltyPerSec = cloneBigInt(j.PenaltyPerSec)
	return &clone
}

// Terms captures the price, deadlines and lateness penalty negotiated for a
// job.
type Terms struct {
	Amount        *big.Int
	SoftDeadline  uint64
	HardDeadline  uint64
	PenaltyPerSec *big.Int
}

// Validate checks the terms and returns the offending field name alongside a
// human readable reason.
func (t Terms) Validate() (field string, err error) {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return "amount", fmt.Errorf("amount must be positive")
	}
	if !FitsInt128(t.Amount) {
		return "amount", fmt.Errorf("amount exceeds 128-bit range")
	}
	if t.HardDeadline <= t.SoftDeadline {
		return "hardDeadline", fmt.Errorf("hard deadline must be after soft deadline")
	}
	if t.PenaltyPerSec == nil {
		return "penaltyPerSec", fmt.Errorf("penalty per second required")
	}
	if t.PenaltyPerSec.Sign() < 0 {
		return "penaltyPerSec", fmt.Errorf("penalty per second must not be negative")
	}
	if !FitsInt128(t.PenaltyPerSec) {
		return "penaltyPerSec", fmt.Errorf("penalty per second exceeds 128-bit range")
	}
	return "", nil
}

// NormalizeToken returns the canonical upper-case form of a token symbol.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("token symbol required")
	}
	if len(trimmed) > 16 {
		return "", fmt.Errorf("token symbol %q too long", symbol)
	}
	return trimmed, nil
}

// SanitizeJob validates a job before it is written to state, returning a
// cloned instance with canonical token casing. The original is not mutated.
func SanitizeJob(j *Job) (*Job, error) {
	if j == nil {
		return nil, fmt.Errorf("nil job")
	}
	if j.ID == 0 {
		return nil, fmt.Errorf("job id must be non-zero")
	}
	clone := j.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Client == ([20]byte{}) {
		return nil, fmt.Errorf("job %d: client required", j.ID)
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("job %d: invalid state %d", j.ID, clone.State)
	}
	if _, err := clone.Terms().Validate(); err != nil {
		return nil, fmt.Errorf("job %d: %w", j.ID, err)
	}
	return clone, nil
}

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// FitsInt128 reports whether v is representable as a signed 128-bit integer.
func FitsInt128(v *big.Int) bool {
	if v == nil {
		return false
	}
	return v.Cmp(maxInt128) <= 0 && v.Cmp(minInt128) >= 0
}

// MaxInt128 returns a copy of the largest signed 128-bit value.
func MaxInt128() *big.Int {
	return new(big.Int).Set(maxInt128)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
