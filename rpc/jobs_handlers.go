package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"

	"jobescrow/crypto"
	"jobescrow/native/jobs"
	"jobescrow/storage/index"
)

const (
	codeJobInternal       = -32030
	codeJobInvalidTerms   = -32031
	codeJobUnauthorized   = -32032
	codeJobNotFound       = -32033
	codeJobInvalidState   = -32034
	codeJobTransferFailed = -32035
	codeJobOverflow       = -32036
)

const defaultListLimit = 100

type termsParams struct {
	Amount        string `json:"amount"`
	SoftDeadline  uint64 `json:"softDeadline"`
	HardDeadline  uint64 `json:"hardDeadline"`
	PenaltyPerSec string `json:"penaltyPerSec"`
}

type jobsPostParams struct {
	Client string `json:"client,omitempty"`
	Token  string `json:"token"`
	termsParams
}

type jobsAssignParams struct {
	ID         uint64 `json:"id"`
	Freelancer string `json:"freelancer"`
	termsParams
}

type jobsUpdateParams struct {
	ID uint64 `json:"id"`
	termsParams
}

type jobsCreateFundedParams struct {
	Client     string `json:"client,omitempty"`
	Freelancer string `json:"freelancer"`
	Token      string `json:"token"`
	termsParams
}

type jobsIDParams struct {
	ID uint64 `json:"id"`
}

type jobsListParams struct {
	Account string `json:"account"`
	State   string `json:"state,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type jobsCreateResult struct {
	ID uint64 `json:"id"`
}

type jobJSON struct {
	ID            uint64 `json:"id"`
	Client        string `json:"client"`
	Freelancer    string `json:"freelancer,omitempty"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	SoftDeadline  uint64 `json:"softDeadline"`
	HardDeadline  uint64 `json:"hardDeadline"`
	PenaltyPerSec string `json:"penaltyPerSec"`
	State         string `json:"state"`
	Direct        bool   `json:"direct"`
	CreatedAt     uint64 `json:"createdAt,omitempty"`
	UpdatedAt     uint64 `json:"updatedAt"`
	LiveUntil     uint64 `json:"liveUntil,omitempty"`
}

type payoutJSON struct {
	Payout      string `json:"payout"`
	Refund      string `json:"refund"`
	Penalty     string `json:"penalty"`
	SecondsLate uint64 `json:"secondsLate"`
	Now         uint64 `json:"now"`
}

func formatJob(job *jobs.Job) jobJSON {
	out := jobJSON{
		ID:            job.ID,
		Client:        crypto.FromRaw(job.Client).String(),
		Token:         job.Token,
		Amount:        bigString(job.Amount),
		SoftDeadline:  job.SoftDeadline,
		HardDeadline:  job.HardDeadline,
		PenaltyPerSec: bigString(job.PenaltyPerSec),
		State:         job.State.String(),
		Direct:        job.Direct,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if job.HasFreelancer() {
		out.Freelancer = crypto.FromRaw(job.Freelancer).String()
	}
	return out
}

func formatRow(row index.JobRow) jobJSON {
	return jobJSON{
		ID:            row.ID,
		Client:        row.Client,
		Freelancer:    row.Freelancer,
		Token:         row.Token,
		Amount:        row.Amount,
		SoftDeadline:  index.Uint(row.SoftDeadline),
		HardDeadline:  index.Uint(row.HardDeadline),
		PenaltyPerSec: row.PenaltyPerSec,
		State:         row.State,
		Direct:        row.Direct,
		UpdatedAt:     index.Uint(row.LedgerUpdatedAt),
	}
}

func formatPayout(p jobs.Payout) payoutJSON {
	return payoutJSON{
		Payout:      bigString(p.Payout),
		Refund:      bigString(p.Refund),
		Penalty:     bigString(p.Penalty),
		SecondsLate: p.SecondsLate,
		Now:         p.Now,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(field, value string, allowZero bool) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if allowZero {
			return new(big.Int), nil
		}
		return nil, invalidParams("%s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams("%s must be a base-10 integer", field)
	}
	return amount, nil
}

func (p termsParams) terms() (jobs.Terms, *RPCError) {
	amount, rpcErr := parseAmount("amount", p.Amount, false)
	if rpcErr != nil {
		return jobs.Terms{}, rpcErr
	}
	penalty, rpcErr := parseAmount("penaltyPerSec", p.PenaltyPerSec, true)
	if rpcErr != nil {
		return jobs.Terms{}, rpcErr
	}
	return jobs.Terms{
		Amount:        amount,
		SoftDeadline:  p.SoftDeadline,
		HardDeadline:  p.HardDeadline,
		PenaltyPerSec: penalty,
	}, nil
}

func parseAccountParam(field, value string) ([20]byte, *RPCError) {
	account, err := crypto.ParseAccount(value)
	if err != nil {
		return [20]byte{}, invalidParams("%s: %v", field, err)
	}
	return account, nil
}

// accountOrCaller defaults an omitted account to the authenticated caller.
func accountOrCaller(field, value string, caller *Principal) ([20]byte, *RPCError) {
	if strings.TrimSpace(value) == "" && caller != nil {
		return caller.Account, nil
	}
	return parseAccountParam(field, value)
}

func requireID(id uint64) *RPCError {
	if id == 0 {
		return invalidParams("id must be greater than zero")
	}
	return nil
}

// jobError maps engine failures onto stable JSON-RPC codes.
func jobError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	code := codeJobInternal
	message := "internal error"
	switch kind := jobs.KindOf(err); {
	case errors.Is(kind, jobs.ErrInvalidTerms):
		code, message = codeJobInvalidTerms, kind.Error()
	case errors.Is(kind, jobs.ErrUnauthorized):
		code, message = codeJobUnauthorized, kind.Error()
	case errors.Is(kind, jobs.ErrNotFound):
		code, message = codeJobNotFound, kind.Error()
	case errors.Is(kind, jobs.ErrInvalidState):
		code, message = codeJobInvalidState, kind.Error()
	case errors.Is(kind, jobs.ErrTransferFailed):
		code, message = codeJobTransferFailed, kind.Error()
	case errors.Is(kind, jobs.ErrOverflow):
		code, message = codeJobOverflow, kind.Error()
	}
	data := map[string]string{"detail": err.Error()}
	if field := jobs.FieldOf(err); field != "" {
		data["field"] = field
	}
	return &RPCError{Code: code, Message: message, Data: data}
}

// mutate runs fn as the caller and returns the record as fn left it, read
// inside the same unit of work.
func (s *Server) mutate(ctx context.Context, caller *Principal, id uint64, fn func(*jobs.Engine) error) (interface{}, *RPCError) {
	var out jobJSON
	err := s.node.WithJobs(ctx, caller, func(e *jobs.Engine) error {
		if err := fn(e); err != nil {
			return err
		}
		job, err := e.Job(id)
		if err != nil {
			return err
		}
		out = formatJob(job)
		if until, err := e.LiveUntil(id); err == nil {
			out.LiveUntil = until
		}
		return nil
	})
	if err != nil {
		return nil, jobError(err)
	}
	return out, nil
}

func (s *Server) jobResult(id uint64) (interface{}, *RPCError) {
	job, err := s.node.Job(id)
	if err != nil {
		return nil, jobError(err)
	}
	out := formatJob(job)
	if until, err := s.node.LiveUntil(id); err == nil {
		out.LiveUntil = until
	}
	return out, nil
}

func (s *Server) handleJobsPost(ctx context.Context, caller *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params jobsPostParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	client, rpcErr := accountOrCaller("client", params.Client, caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	terms, rpcErr := params.terms()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var id uint64
	err := s.node.WithJobs(ctx, caller, func(e *jobs.Engine) error {
		var err error
		id, err = e.PostJob(client, params.Token, terms)
		return err
	})
	if err != nil {
		return nil, jobError(err)
	}
	return jobsCreateResult{ID: id}, nil
}

func (s *Server) handleJobsAssign(ctx context.Context, caller *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params jobsAssignParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	freelancer, rpcErr := parseAccountParam("freelancer", params.Freelancer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	terms, rpcErr := params.terms()
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.mutate(ctx, caller, params.ID, func(e *jobs.Engine) error {
		return e.AssignFreelancer(params.ID, freelancer, terms)
	})
}

func (s *Server) handleJobsAccept(ctx context.Context, caller *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	return s.withID(ctx, caller, raw, func(e *jobs.Engine, id uint64) error { return e.AcceptJob(id) })
}

func (s *Server) handleJobsUpdate(ctx context.Context, caller *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params jobsUpdateParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	terms, rpcErr := params.terms()
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.mutate(ctx, caller, params.ID, func(e *jobs.Engine) error {
		return e.UpdateJob(params.ID, terms)
	})
}

func (s *Server) handleJobsFund(ctx context.Context, caller *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	return s.withID(ctx, caller, raw, func(e *jobs.Engine, id uint64) error { return e.FundJob(id) })
}

func (s *Server) handleJobsCreateFunded(ctx context.Context, caller *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params jobsCreateFundedParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	client, rpcErr := accountOrCaller("client", params.Client, caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	freelancer, rpcErr := parseAccountParam("freelancer", params.Freelancer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	terms, rpcErr := params.terms()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var id uint64
	err := s.node.WithJobs(ctx, caller, func(e *jobs.Engine) error {
		var err error
		id, err = e.CreateFundedJob(client, freelancer, params.Token, terms)
		return err
	})
	if err != nil {
		return nil, jobError(err)
	}
	return jobsCreateResult{ID: id}, nil
}

func (s *Server) handleJobsComplete(ctx context.Context, caller *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params jobsIDParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	var split jobs.Payout
	err := s.node.WithJobs(ctx, caller, func(e *jobs.Engine) error {
		var err error
		split, err = e.CompleteJob(params.ID)
		return err
	})
	if err != nil {
		return nil, jobError(err)
	}
	return formatPayout(split), nil
}

func (s *Server) handleJobsCancel(ctx context.Context, caller *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	return s.withID(ctx, caller, raw, func(e *jobs.Engine, id uint64) error { return e.CancelJob(id) })
}

func (s *Server) handleJobsExpire(ctx context.Context, caller *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	return s.withID(ctx, caller, raw, func(e *jobs.Engine, id uint64) error { return e.ExpireJob(id) })
}

func (s *Server) withID(ctx context.Context, caller *Principal, raw []json.RawMessage, fn func(*jobs.Engine, uint64) error) (interface{}, *RPCError) {
	var params jobsIDParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	return s.mutate(ctx, caller, params.ID, func(e *jobs.Engine) error { return fn(e, params.ID) })
}

func (s *Server) handleJobsGet(_ context.Context, _ *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params jobsIDParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	return s.jobResult(params.ID)
}

func (s *Server) handleJobsQuote(_ context.Context, _ *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params jobsIDParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(params.ID); rpcErr != nil {
		return nil, rpcErr
	}
	split, err := s.node.Quote(params.ID)
	if err != nil {
		return nil, jobError(err)
	}
	return formatPayout(split), nil
}

func (s *Server) handleJobsList(ctx context.Context, _ *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params jobsListParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccountParam("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	state := strings.TrimSpace(params.State)
	if state != "" {
		parsed, err := jobs.ParseJobState(state)
		if err != nil {
			return nil, invalidParams("state: %v", err)
		}
		state = parsed.String()
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > index.MaxListLimit {
		return nil, invalidParams("limit must not exceed %d", index.MaxListLimit)
	}

	out := make([]jobJSON, 0)
	if s.index != nil {
		rows, err := s.index.ListByAccount(ctx, crypto.FromRaw(account).String(), state, limit)
		if err != nil {
			return nil, jobError(err)
		}
		for _, row := range rows {
			out = append(out, formatRow(row))
		}
		return out, nil
	}
	listed, err := s.node.JobsByAccount(account)
	if err != nil {
		return nil, jobError(err)
	}
	for i := len(listed) - 1; i >= 0 && len(out) < limit; i-- {
		if state != "" && listed[i].State.String() != state {
			continue
		}
		out = append(out, formatJob(listed[i]))
	}
	return out, nil
}
