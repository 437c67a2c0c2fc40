package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jobescrow/core/events"
	"jobescrow/core/genesis"
	"jobescrow/core/state"
	"jobescrow/core/types"
	"jobescrow/native/bank"
	"jobescrow/native/jobs"
	"jobescrow/observability"
	"jobescrow/storage"
)

// ErrReadOnly is returned when a read-only view attempts a write.
var ErrReadOnly = errors.New("core: read-only view")

// Indexer consumes committed job events, e.g. to maintain a query projection.
type Indexer interface {
	Apply(ctx context.Context, evt *types.Event) error
}

// Node owns the ledger database and runs every state change as a single unit
// of work: commit on success, discard on any error. Committed events are
// then fanned out to the indexer, metrics and subscribers.
type Node struct {
	db       storage.Database
	clock    *LedgerClock
	lifetime jobs.Lifetime
	logger   *slog.Logger
	indexer  Indexer
	tracer   trace.Tracer

	stateMu sync.Mutex

	subsMu  sync.Mutex
	nextSub uint64
	subs    map[uint64]chan *types.Event
}

func NewNode(db storage.Database) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	return &Node{
		db:       db,
		clock:    NewLedgerClock(),
		lifetime: jobs.DefaultLifetime,
		logger:   slog.Default(),
		tracer:   otel.Tracer("jobescrow/core"),
		subs:     make(map[uint64]chan *types.Event),
	}, nil
}

func (n *Node) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
}

// SetLifetime overrides the job record retention window.
func (n *Node) SetLifetime(l jobs.Lifetime) error {
	if err := l.Validate(); err != nil {
		return err
	}
	n.lifetime = l
	return nil
}

func (n *Node) SetIndexer(idx Indexer) { n.indexer = idx }

// Clock exposes the ledger clock, mainly so tests can pin time.
func (n *Node) Clock() *LedgerClock { return n.clock }

type unit struct {
	manager *state.Manager
	ledger  *bank.Ledger
	events  *events.Collector
	now     uint64
}

func (n *Node) execute(ctx context.Context, name string, fn func(*unit) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := n.tracer.Start(ctx, "core."+name)
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := time.Now()
	committed := false
	defer func() { observability.JobMetrics().ObserveUnit(committed, time.Since(start)) }()

	txn, err := n.db.Begin()
	if err != nil {
		return fmt.Errorf("core: begin %s: %w", name, err)
	}
	defer txn.Discard()

	collector := &events.Collector{}
	manager := state.NewManager(txn)
	u := &unit{
		manager: manager,
		ledger:  bank.NewLedger(manager, collector),
		events:  collector,
		now:     n.clock.Now(),
	}
	span.SetAttributes(attribute.Int64("ledger.now", int64(u.now)))
	if err := fn(u); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := txn.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return fmt.Errorf("core: commit %s: %w", name, err)
	}
	committed = true
	n.publish(ctx, collector.Drain())
	return nil
}

// Execute runs fn against state inside one unit of work.
func (n *Node) Execute(ctx context.Context, fn func(*state.Manager) error) error {
	return n.execute(ctx, "execute", func(u *unit) error { return fn(u.manager) })
}

// WithJobs runs fn with a jobs engine bound to a fresh unit of work. auth
// answers the engine's capability checks for the duration of the call.
func (n *Node) WithJobs(ctx context.Context, auth jobs.Authorizer, fn func(*jobs.Engine) error) error {
	return n.execute(ctx, "jobs", func(u *unit) error {
		return fn(n.newJobsEngine(u.manager, u.ledger, u.events, auth, u.now))
	})
}

func (n *Node) newJobsEngine(manager *state.Manager, ledger *bank.Ledger, emitter events.Emitter, auth jobs.Authorizer, now uint64) *jobs.Engine {
	engine := jobs.NewEngine()
	engine.SetLifetime(n.lifetime)
	engine.SetNowFunc(func() uint64 { return now })
	engine.SetState(manager)
	engine.SetTransferer(ledger)
	engine.SetAuthorizer(auth)
	engine.SetEmitter(emitter)
	return engine
}

type readOnlyStore struct {
	inner state.Store
}

func (s readOnlyStore) Get(key []byte) ([]byte, error) { return s.inner.Get(key) }

func (readOnlyStore) Put([]byte, []byte) error { return ErrReadOnly }

func (n *Node) viewManager() *state.Manager {
	return state.NewManager(readOnlyStore{inner: n.db})
}

// View runs fn with an engine over committed state. Writes fail with
// ErrReadOnly and no authorizer is installed.
func (n *Node) View(fn func(*jobs.Engine) error) error {
	manager := n.viewManager()
	return fn(n.newJobsEngine(manager, bank.NewLedger(manager, nil), nil, nil, n.clock.Now()))
}

// Job returns the committed record for id.
func (n *Node) Job(id uint64) (*jobs.Job, error) {
	var job *jobs.Job
	err := n.View(func(e *jobs.Engine) error {
		var err error
		job, err = e.Job(id)
		return err
	})
	return job, err
}

// Quote previews settlement of id at the current ledger time.
func (n *Node) Quote(id uint64) (jobs.Payout, error) {
	var split jobs.Payout
	err := n.View(func(e *jobs.Engine) error {
		var err error
		split, err = e.Quote(id)
		return err
	})
	return split, err
}

// LiveUntil reports the retention deadline of a job record.
func (n *Node) LiveUntil(id uint64) (uint64, error) {
	var until uint64
	err := n.View(func(e *jobs.Engine) error {
		var err error
		until, err = e.LiveUntil(id)
		return err
	})
	return until, err
}

// JobsByAccount lists every job the account is client or freelancer on.
func (n *Node) JobsByAccount(addr [20]byte) ([]*jobs.Job, error) {
	manager := n.viewManager()
	ids, err := manager.JobIDsByAccount(addr)
	if err != nil {
		return nil, err
	}
	out := make([]*jobs.Job, 0, len(ids))
	for _, id := range ids {
		job, ok, err := manager.JobGet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, job)
		}
	}
	return out, nil
}

func (n *Node) Balance(addr [20]byte, token string) (*big.Int, error) {
	return n.viewManager().Balance(addr[:], token)
}

func (n *Node) Tokens() ([]string, error) {
	return n.viewManager().TokenList()
}

// RegisterToken adds a token to the ledger.
func (n *Node) RegisterToken(ctx context.Context, symbol, name string, decimals uint8) error {
	return n.execute(ctx, "register_token", func(u *unit) error {
		return u.manager.RegisterToken(symbol, name, decimals)
	})
}

// Deposit credits an account with freshly minted funds.
func (n *Node) Deposit(ctx context.Context, to [20]byte, token string, amount *big.Int) error {
	return n.execute(ctx, "deposit", func(u *unit) error {
		return u.ledger.Mint(to, token, amount)
	})
}

// ApplyGenesis seeds tokens and balances the first time a ledger is opened.
func (n *Node) ApplyGenesis(ctx context.Context, spec *genesis.Spec) error {
	return n.execute(ctx, "genesis", func(u *unit) error {
		applied, err := genesis.Apply(spec, u.manager, u.ledger)
		if err != nil {
			return err
		}
		if applied {
			n.logger.Info("genesis applied", "component", "core")
		}
		return nil
	})
}

// Subscribe returns a channel of committed events. Slow subscribers miss
// events rather than stalling the node. The cancel function closes the
// channel.
func (n *Node) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *types.Event, buffer)
	n.subsMu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = ch
	n.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.subsMu.Lock()
			if _, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(ch)
			}
			n.subsMu.Unlock()
		})
	}
}

// Close drops every subscriber.
func (n *Node) Close() {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}

func (n *Node) publish(ctx context.Context, emitted []events.Event) {
	for _, evt := range emitted {
		payload, ok := evt.(events.Payload)
		if !ok {
			continue
		}
		rendered := payload.Event()
		if rendered == nil {
			continue
		}
		if transfer, ok := evt.(events.Transfer); ok {
			kind := "transfer"
			if transfer.From == ([20]byte{}) {
				kind = "mint"
			}
			observability.Events().RecordTransfer(transfer.Token, kind)
		}
		if strings.HasPrefix(rendered.Type, "jobs.") {
			observability.JobMetrics().RecordTransition(rendered.Type)
			if rendered.Type == jobs.EventTypeJobCompleted {
				attrs := rendered.Attributes
				observability.JobMetrics().RecordSettlement(attrs["token"], attrs["payout"], attrs["refund"])
			}
			if n.indexer != nil {
				if err := n.indexer.Apply(ctx, rendered.Clone()); err != nil {
					n.logger.Warn("index update failed", "component", "core", "job", rendered.Attributes["id"], "error", err)
				}
			}
		}
		n.broadcast(rendered)
	}
}

func (n *Node) broadcast(evt *types.Event) {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- evt.Clone():
		default:
			observability.JobMetrics().RecordDrop()
		}
	}
}
