package jobs

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"jobescrow/core/events"
	"jobescrow/core/types"
)

const (
	opPost         = "post"
	opAssign       = "assign"
	opAccept       = "accept"
	opUpdate       = "update"
	opFund         = "fund"
	opCreateFunded = "create funded"
	opComplete     = "complete"
	opCancel       = "cancel"
	opExpire       = "expire"
	opQuote        = "quote"
	opGet          = "get"
)

type engineState interface {
	registryState
	TokenExists(symbol string) (bool, error)
}

// Transferer moves value between accounts. Implementations must be
// all-or-nothing per call.
type Transferer interface {
	Transfer(from, to [20]byte, token string, amount *big.Int) error
	CustodyAddress(token string) ([20]byte, error)
}

// Authorizer fails when the invoking context cannot prove control of the
// supplied account.
type Authorizer interface {
	Require(account [20]byte) error
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(account [20]byte) error

// Require implements Authorizer.
func (f AuthorizerFunc) Require(account [20]byte) error { return f(account) }

// Engine implements the job state machine and settlement rules against an
// injected state backend, transfer primitive, authorizer and clock. An engine
// is bound to one unit of work; the caller commits or discards that unit
// based on the returned error, so the engine never undoes partial work
// itself.
type Engine struct {
	state     engineState
	registry  *Registry
	transfers Transferer
	auth      Authorizer
	emitter   events.Emitter
	lifetime  Lifetime
	nowFn     func() uint64
}

// NewEngine creates an engine with a no-op emitter, the wall clock and the
// default record lifetime.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		lifetime: DefaultLifetime,
		nowFn:    wallClock,
	}
}

func wallClock() uint64 { return uint64(time.Now().Unix()) }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.registry = NewRegistry(state, e.lifetime, e.now)
}

// SetTransferer configures the primitive used to move funds.
func (e *Engine) SetTransferer(t Transferer) { e.transfers = t }

// SetAuthorizer configures the capability check for the current caller.
func (e *Engine) SetAuthorizer(a Authorizer) { e.auth = a }

// SetLifetime overrides the retention window applied on each record write.
func (e *Engine) SetLifetime(l Lifetime) {
	if l.Validate() != nil {
		l = DefaultLifetime
	}
	e.lifetime = l
	if e.state != nil {
		e.registry = NewRegistry(e.state, l, e.now)
	}
}

// SetNowFunc overrides the ledger clock. Passing nil restores the wall clock.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = wallClock
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(jobEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return wallClock()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.registry == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) load(op string, id uint64) (*Job, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	job, err := e.registry.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(op, id, ErrNotFound, "", nil)
		}
		return nil, err
	}
	return job, nil
}

func (e *Engine) store(job *Job) error {
	job.UpdatedAt = e.now()
	return e.registry.Put(job)
}

func (e *Engine) requireAuth(op string, id uint64, field string, account [20]byte) error {
	if e.auth == nil {
		return newError(op, id, ErrUnauthorized, field, errors.New("no authorizer configured"))
	}
	if err := e.auth.Require(account); err != nil {
		return newError(op, id, ErrUnauthorized, field, err)
	}
	return nil
}

func requireState(op string, job *Job, allowed ...JobState) error {
	for _, s := range allowed {
		if job.State == s {
			return nil
		}
	}
	return newError(op, job.ID, ErrInvalidState, "state", fmt.Errorf("job is %s", job.State))
}

func requireTerms(op string, id uint64, terms Terms) error {
	if field, err := terms.Validate(); err != nil {
		return newError(op, id, ErrInvalidTerms, field, err)
	}
	return nil
}

func (e *Engine) requireToken(op string, token string) (string, error) {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return "", newError(op, 0, ErrInvalidTerms, "token", err)
	}
	ok, err := e.state.TokenExists(normalized)
	if err != nil {
		return "", newError(op, 0, nil, "token", err)
	}
	if !ok {
		return "", newError(op, 0, ErrInvalidTerms, "token", fmt.Errorf("token %s not registered", normalized))
	}
	return normalized, nil
}

func requireFreelancer(op string, id uint64, client, freelancer [20]byte) error {
	if freelancer == ([20]byte{}) {
		return newError(op, id, ErrInvalidTerms, "freelancer", errors.New("freelancer required"))
	}
	if freelancer == client {
		return newError(op, id, ErrInvalidTerms, "freelancer", errors.New("client cannot hire themselves"))
	}
	return nil
}

// move performs a single transfer leg; zero amounts are skipped.
func (e *Engine) move(op string, id uint64, from, to [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.transfers == nil {
		return newError(op, id, ErrTransferFailed, "", errors.New("transfer primitive not configured"))
	}
	if err := e.transfers.Transfer(from, to, token, amount); err != nil {
		return newError(op, id, ErrTransferFailed, "", err)
	}
	return nil
}

func (e *Engine) custody(op string, id uint64, token string) ([20]byte, error) {
	if e.transfers == nil {
		return [20]byte{}, newError(op, id, ErrTransferFailed, "", errors.New("transfer primitive not configured"))
	}
	addr, err := e.transfers.CustodyAddress(token)
	if err != nil {
		return [20]byte{}, newError(op, id, ErrTransferFailed, "custody", err)
	}
	return addr, nil
}

// PostJob creates an Open job owned by client and returns its id. No id is
// consumed when validation fails.
func (e *Engine) PostJob(client [20]byte, token string, terms Terms) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := e.requireAuth(opPost, 0, "client", client); err != nil {
		return 0, err
	}
	if client == ([20]byte{}) {
		return 0, newError(opPost, 0, ErrInvalidTerms, "client", errors.New("client required"))
	}
	normalized, err := e.requireToken(opPost, token)
	if err != nil {
		return 0, err
	}
	if err := requireTerms(opPost, 0, terms); err != nil {
		return 0, err
	}
	id, err := e.registry.AllocateID()
	if err != nil {
		return 0, err
	}
	job := &Job{
		ID:        id,
		Client:    client,
		Token:     normalized,
		State:     JobOpen,
		CreatedAt: e.now(),
	}
	job.applyTerms(terms)
	if err := e.store(job); err != nil {
		return 0, err
	}
	e.emit(NewPostedEvent(job))
	return id, nil
}

// AssignFreelancer selects the freelancer and fixes the final terms. Only
// the client may assign and only while the job is Open.
func (e *Engine) AssignFreelancer(id uint64, freelancer [20]byte, terms Terms) error {
	job, err := e.load(opAssign, id)
	if err != nil {
		return err
	}
	if err := e.requireAuth(opAssign, id, "client", job.Client); err != nil {
		return err
	}
	if err := requireState(opAssign, job, JobOpen); err != nil {
		return err
	}
	if err := requireFreelancer(opAssign, id, job.Client, freelancer); err != nil {
		return err
	}
	if err := requireTerms(opAssign, id, terms); err != nil {
		return err
	}
	job.Freelancer = freelancer
	job.applyTerms(terms)
	job.State = JobAssigned
	if err := e.store(job); err != nil {
		return err
	}
	e.emit(NewAssignedEvent(job))
	return nil
}

// AcceptJob records the freelancer's agreement. After this point no term can
// change.
func (e *Engine) AcceptJob(id uint64) error {
	job, err := e.load(opAccept, id)
	if err != nil {
		return err
	}
	if err := requireState(opAccept, job, JobAssigned); err != nil {
		return err
	}
	if !job.HasFreelancer() {
		return newError(opAccept, id, ErrInvalidState, "freelancer", errors.New("no freelancer assigned"))
	}
	if err := e.requireAuth(opAccept, id, "freelancer", job.Freelancer); err != nil {
		return err
	}
	job.State = JobAccepted
	if err := e.store(job); err != nil {
		return err
	}
	e.emit(NewAcceptedEvent(job))
	return nil
}

// UpdateJob amends the terms of an Open job.
func (e *Engine) UpdateJob(id uint64, terms Terms) error {
	job, err := e.load(opUpdate, id)
	if err != nil {
		return err
	}
	if err := e.requireAuth(opUpdate, id, "client", job.Client); err != nil {
		return err
	}
	if err := requireState(opUpdate, job, JobOpen); err != nil {
		return err
	}
	if err := requireTerms(opUpdate, id, terms); err != nil {
		return err
	}
	job.applyTerms(terms)
	if err := e.store(job); err != nil {
		return err
	}
	e.emit(NewUpdatedEvent(job))
	return nil
}

// FundJob pulls the agreed amount from the client into custody and marks the
// job Funded.
func (e *Engine) FundJob(id uint64) error {
	job, err := e.load(opFund, id)
	if err != nil {
		return err
	}
	if err := e.requireAuth(opFund, id, "client", job.Client); err != nil {
		return err
	}
	if err := requireState(opFund, job, JobAccepted); err != nil {
		return err
	}
	vault, err := e.custody(opFund, id, job.Token)
	if err != nil {
		return err
	}
	if err := e.move(opFund, id, job.Client, vault, job.Token, job.Amount); err != nil {
		return err
	}
	job.State = JobFunded
	if err := e.store(job); err != nil {
		return err
	}
	e.emit(NewFundedEvent(job))
	return nil
}

// CreateFundedJob is the direct flow: the job is created already assigned
// and Funded, with the custody transfer in the same unit of work.
func (e *Engine) CreateFundedJob(client, freelancer [20]byte, token string, terms Terms) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := e.requireAuth(opCreateFunded, 0, "client", client); err != nil {
		return 0, err
	}
	if client == ([20]byte{}) {
		return 0, newError(opCreateFunded, 0, ErrInvalidTerms, "client", errors.New("client required"))
	}
	if err := requireFreelancer(opCreateFunded, 0, client, freelancer); err != nil {
		return 0, err
	}
	normalized, err := e.requireToken(opCreateFunded, token)
	if err != nil {
		return 0, err
	}
	if err := requireTerms(opCreateFunded, 0, terms); err != nil {
		return 0, err
	}
	vault, err := e.custody(opCreateFunded, 0, normalized)
	if err != nil {
		return 0, err
	}
	id, err := e.registry.AllocateID()
	if err != nil {
		return 0, err
	}
	if err := e.move(opCreateFunded, id, client, vault, normalized, terms.Amount); err != nil {
		return 0, err
	}
	job := &Job{
		ID:         id,
		Client:     client,
		Freelancer: freelancer,
		Token:      normalized,
		State:      JobFunded,
		Direct:     true,
		CreatedAt:  e.now(),
	}
	job.applyTerms(terms)
	if err := e.store(job); err != nil {
		return 0, err
	}
	e.emit(NewFundedEvent(job))
	return id, nil
}

// CompleteJob settles a Funded job: the payout goes to the freelancer, the
// remainder back to the client, and the job becomes Completed.
func (e *Engine) CompleteJob(id uint64) (Payout, error) {
	job, err := e.load(opComplete, id)
	if err != nil {
		return Payout{}, err
	}
	if err := e.requireAuth(opComplete, id, "client", job.Client); err != nil {
		return Payout{}, err
	}
	if err := requireState(opComplete, job, JobFunded); err != nil {
		return Payout{}, err
	}
	split, err := e.quote(opComplete, job)
	if err != nil {
		return Payout{}, err
	}
	vault, err := e.custody(opComplete, id, job.Token)
	if err != nil {
		return Payout{}, err
	}
	if err := e.move(opComplete, id, vault, job.Freelancer, job.Token, split.Payout); err != nil {
		return Payout{}, err
	}
	if err := e.move(opComplete, id, vault, job.Client, job.Token, split.Refund); err != nil {
		return Payout{}, err
	}
	job.State = JobCompleted
	if err := e.store(job); err != nil {
		return Payout{}, err
	}
	e.emit(NewCompletedEvent(job, split))
	return split, nil
}

// CancelJob withdraws a job that has not completed. Funded jobs are refunded
// in full before the terminal state is written.
func (e *Engine) CancelJob(id uint64) error {
	job, err := e.load(opCancel, id)
	if err != nil {
		return err
	}
	if err := e.requireAuth(opCancel, id, "client", job.Client); err != nil {
		return err
	}
	if err := requireState(opCancel, job, JobOpen, JobAssigned, JobAccepted, JobFunded); err != nil {
		return err
	}
	refund, err := e.refundIfFunded(opCancel, job)
	if err != nil {
		return err
	}
	job.State = job.FailureState()
	if err := e.store(job); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(job, refund.String()))
	return nil
}

// ExpireJob fails a job whose hard deadline has passed without completion.
// Anyone may invoke it; Funded jobs are refunded to the client.
func (e *Engine) ExpireJob(id uint64) error {
	job, err := e.load(opExpire, id)
	if err != nil {
		return err
	}
	if err := requireState(opExpire, job, JobOpen, JobAssigned, JobAccepted, JobFunded); err != nil {
		return err
	}
	if now := e.now(); now < job.HardDeadline {
		return newError(opExpire, id, ErrInvalidState, "hardDeadline", fmt.Errorf("hard deadline %d not reached at %d", job.HardDeadline, now))
	}
	refund, err := e.refundIfFunded(opExpire, job)
	if err != nil {
		return err
	}
	job.State = job.FailureState()
	if err := e.store(job); err != nil {
		return err
	}
	e.emit(NewExpiredEvent(job, refund.String()))
	return nil
}

func (e *Engine) refundIfFunded(op string, job *Job) (*big.Int, error) {
	if job.State != JobFunded {
		return big.NewInt(0), nil
	}
	vault, err := e.custody(op, job.ID, job.Token)
	if err != nil {
		return nil, err
	}
	amount := cloneBigInt(job.Amount)
	if err := e.move(op, job.ID, vault, job.Client, job.Token, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Quote previews the settlement split if the job were completed now.
func (e *Engine) Quote(id uint64) (Payout, error) {
	job, err := e.load(opQuote, id)
	if err != nil {
		return Payout{}, err
	}
	if job.State.Terminal() {
		return Payout{}, newError(opQuote, id, ErrInvalidState, "state", fmt.Errorf("job is %s", job.State))
	}
	return e.quote(opQuote, job)
}

func (e *Engine) quote(op string, job *Job) (Payout, error) {
	split, err := ComputePayout(job.Terms(), e.now())
	if err != nil {
		kind := KindOf(err)
		if kind == nil {
			kind = ErrOverflow
		}
		return Payout{}, newError(op, job.ID, kind, "penaltyPerSec", err)
	}
	return split, nil
}

// Job returns a copy of the stored record.
func (e *Engine) Job(id uint64) (*Job, error) {
	job, err := e.load(opGet, id)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// LiveUntil reports when the record's retention window lapses.
func (e *Engine) LiveUntil(id uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.registry.LiveUntil(id)
}
