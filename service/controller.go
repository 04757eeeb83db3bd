package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"feemarket/domain/collateral"
	"feemarket/domain/orderbook"
	"feemarket/domain/relayer"
	"feemarket/domain/validation"
	"feemarket/infra/chain"
	"feemarket/infra/journal"
	"feemarket/infra/logging"
	"feemarket/infra/sequence"
)

/*
LifecycleController is the ONLY write path for one relayer identity.

Every mutating operation:
- claims the single-flight guard (or fails with OperationInProgress)
- reads a fresh snapshot, balances and minimums
- validates, plans and submits one chain write
- awaits confirmation and settles the state

Reads for display go through package snapshot and never touch the guard.
*/
type LifecycleController struct {
	gw   chain.Gateway
	plan planner
	self common.Address

	state atomic.Uint32
	guard flightGuard

	journal journal.Store
	jmu     sync.Mutex
	seq     *sequence.Sequencer
	metrics *Metrics
	logger  logging.Logger
	hooks   []func(relayer.Event)
	refresh chan struct{}
	now     func() time.Time

	// lifetime of background confirmation waiters
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Result describes one finished (or detached) operation.
// Tx is zero when nothing was submitted.
type Result struct {
	OpID    string
	Op      relayer.Op
	From    relayer.State
	To      relayer.State
	Tx      chain.TxHandle
	Receipt *chain.Receipt
}

// Submitted reports whether a chain write was sent.
func (r Result) Submitted() bool {
	return r.Tx.Hash != (common.Hash{})
}

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("controller closed")

type Option func(*LifecycleController)

func WithLogger(l logging.Logger) Option {
	return func(c *LifecycleController) { c.logger = l }
}

// WithJournal records submissions and appends events to the outbox.
func WithJournal(j journal.Store) Option {
	return func(c *LifecycleController) { c.journal = j }
}

func WithMetrics(m *Metrics) Option {
	return func(c *LifecycleController) { c.metrics = m }
}

// WithEventHook calls fn, synchronously, for every finished transition.
func WithEventHook(fn func(relayer.Event)) Option {
	return func(c *LifecycleController) { c.hooks = append(c.hooks, fn) }
}

// NewLifecycleController reads the registration of self once to pick the
// initial state, and picks the mutation planner once from gw.Kind().
// ctx bounds the initial read only; background work lives until Close.
func NewLifecycleController(ctx context.Context, gw chain.Gateway, self common.Address, opts ...Option) (*LifecycleController, error) {
	plan, err := newPlanner(gw, self)
	if err != nil {
		return nil, err
	}

	c := &LifecycleController{
		gw:      gw,
		plan:    plan,
		self:    self,
		metrics: NopMetrics(),
		logger:  logging.NewNopLogger(),
		refresh: make(chan struct{}, 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("module", "lifecycle", "relayer", self.Hex(), "chain", gw.Kind().String())

	registered, err := gw.IsRegistered(ctx, self)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read registration")
	}
	initial := relayer.Unregistered
	if registered {
		initial = relayer.Registered
	}
	c.state.Store(uint32(initial))

	var last uint64
	if c.journal != nil {
		if last, err = c.journal.LastEventSeq(); err != nil {
			return nil, pkgerrors.Wrap(err, "read event sequence")
		}
	}
	c.seq = sequence.New(last)

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.logger.Info("controller ready", "state", initial)
	return c, nil
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

func (c *LifecycleController) State() relayer.State {
	return relayer.State(c.state.Load())
}

func (c *LifecycleController) Identity() common.Address { return c.self }

func (c *LifecycleController) Kind() chain.ChainKind { return c.gw.Kind() }

// Refresh fires after every settled transition. Consumers should refetch
// balances and registration state. Signals coalesce.
func (c *LifecycleController) Refresh() <-chan struct{} {
	return c.refresh
}

// Acknowledge clears a surfaced enroll failure: Failed becomes Unregistered.
// It reports whether the state changed.
func (c *LifecycleController) Acknowledge() bool {
	return c.state.CompareAndSwap(uint32(relayer.Failed), uint32(relayer.Unregistered))
}

// Close stops waiting on submissions still in flight and waits for the
// waiters to exit. Their journal records stay open for Resume. Commands
// issued after Close fail with ErrClosed and submit nothing.
func (c *LifecycleController) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.wg.Wait()
		c.logger.Info("controller closed", "state", c.State())
	})
	return nil
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Enroll registers self with fee and collateral. It is valid from
// Unregistered, and from Failed, which it clears first.
func (c *LifecycleController) Enroll(ctx context.Context, fee, coll *big.Int) (Result, error) {
	const op = relayer.OpEnroll
	return c.transition(ctx, op, canEnroll, func(ctx context.Context) (*submission, error) {
		minFee, minColl, err := c.minimums(ctx)
		if err != nil {
			return nil, err
		}
		bal, err := c.gw.FetchBalance(ctx, c.self)
		if err != nil {
			return nil, err
		}
		if err := validation.ValidateRegistrationForm(fee, coll, minFee, minColl, bal.Available).Err(op.String()); err != nil {
			return nil, err
		}

		snap, err := c.fetchSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		sub := c.plan.enroll(snap, fee, coll)
		sub.amount = fee
		return &sub, nil
	})
}

// Reposition moves self to a new fee quote.
func (c *LifecycleController) Reposition(ctx context.Context, fee *big.Int) (Result, error) {
	const op = relayer.OpReposition
	return c.transition(ctx, op, isRegistered, func(ctx context.Context) (*submission, error) {
		if err := validation.ValidateNonNegative(fee).Err(op.String()); err != nil {
			return nil, err
		}
		minFee, err := c.gw.MinimumFee(ctx)
		if err != nil {
			return nil, err
		}
		if err := validation.ValidateFee(fee, minFee).Err(op.String()); err != nil {
			return nil, err
		}

		snap, err := c.fetchSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		if _, ok := snap.IndexOf(c.self); !ok {
			return nil, notPresent(op, c.self)
		}
		sub, err := c.plan.reposition(snap, fee)
		if err != nil {
			return nil, err
		}
		sub.amount = fee
		return &sub, nil
	})
}

// Remove deregisters self. A relayer missing from a fresh snapshot is
// reported as NotPresent without submitting.
func (c *LifecycleController) Remove(ctx context.Context) (Result, error) {
	const op = relayer.OpRemove
	return c.transition(ctx, op, isRegistered, func(ctx context.Context) (*submission, error) {
		snap, err := c.fetchSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		if _, ok := snap.IndexOf(c.self); !ok {
			return nil, notPresent(op, c.self)
		}
		sub, err := c.plan.remove(snap)
		if err != nil {
			return nil, err
		}
		return &sub, nil
	})
}

// AdjustCollateral moves self's collateral to target. A target equal to
// the current collateral returns without submitting.
func (c *LifecycleController) AdjustCollateral(ctx context.Context, target *big.Int) (Result, error) {
	const op = relayer.OpAdjustCollateral
	return c.transition(ctx, op, isRegistered, func(ctx context.Context) (*submission, error) {
		if err := validation.ValidateNonNegative(target).Err(op.String()); err != nil {
			return nil, err
		}
		snap, err := c.fetchSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		entry, ok := snap.Lookup(c.self)
		if !ok {
			return nil, notPresent(op, c.self)
		}
		bal, err := c.gw.FetchBalance(ctx, c.self)
		if err != nil {
			return nil, err
		}

		delta := collateral.ComputeAction(entry.Collateral, target, bal.Available)
		if delta.Action == collateral.NoOp {
			return nil, nil
		}

		_, minColl, err := c.minimums(ctx)
		if err != nil {
			return nil, err
		}
		if err := validation.ValidateCollateralFloor(target, minColl).Err(op.String()); err != nil {
			return nil, err
		}
		switch delta.Action {
		case collateral.Increase:
			err = validation.ValidateCollateralIncrease(delta.Amount, bal.Available).Err(op.String())
		case collateral.Decrease:
			err = validation.ValidateWithdrawable(target, entry.Locked).Err(op.String())
		}
		if err != nil {
			return nil, err
		}

		sub := c.plan.adjust(delta, target)
		sub.amount = delta.Amount
		return &sub, nil
	})
}

func canEnroll(s relayer.State) bool {
	return s == relayer.Unregistered || s == relayer.Failed
}

func isRegistered(s relayer.State) bool {
	return s == relayer.Registered
}

//
// ──────────────────────────────────────────────────────────
// Transition
// ──────────────────────────────────────────────────────────
//

// flight is a submitted write awaiting confirmation.
type flight struct {
	opID    string
	op      relayer.Op
	from    relayer.State
	handle  chain.TxHandle
	amount  *big.Int
	started time.Time
}

type outcome struct {
	res Result
	err error
}

// transition is the shared body of the four commands. prepare reads,
// validates and plans; a nil submission with a nil error is a no-op.
func (c *LifecycleController) transition(
	ctx context.Context,
	op relayer.Op,
	allowed func(relayer.State) bool,
	prepare func(ctx context.Context) (*submission, error),
) (Result, error) {
	if err := c.guard.acquire(op); err != nil {
		s := c.State()
		return Result{Op: op, From: s, To: s}, err
	}
	if c.closed.Load() {
		c.guard.release()
		s := c.State()
		return Result{Op: op, From: s, To: s}, relayer.WrapError(relayer.InvalidState, op.String(), ErrClosed)
	}

	from := c.State()
	if !allowed(from) {
		c.guard.release()
		return Result{Op: op, From: from, To: from},
			relayer.NewError(relayer.InvalidState, op.String(), "not allowed while "+from.String())
	}
	if from == relayer.Failed {
		c.setState(relayer.Unregistered)
		from = relayer.Unregistered
	}
	res := Result{Op: op, From: from, To: from}

	sub, err := prepare(ctx)
	if err != nil || sub == nil {
		c.guard.release()
		if err != nil {
			c.metrics.Failures.With("op", op.String(), "kind", relayer.KindOf(err).String()).Add(1)
			c.logger.Info("operation rejected", "op", op, "err", err)
		}
		return res, err
	}

	f := flight{opID: uuid.NewString(), op: op, from: from, amount: sub.amount}
	res.OpID = f.opID

	c.setState(relayer.Submitting)
	c.metrics.InFlight.Set(1)
	f.started = c.now()

	h, err := sub.send(ctx)
	if err != nil {
		if isContextErr(err) {
			// Never left the process.
			c.setState(from)
			c.metrics.InFlight.Set(0)
			c.guard.release()
			return res, err
		}
		o := c.finish(f, nil, err)
		c.guard.release()
		c.signalRefresh()
		return o.res, o.err
	}
	f.handle = h
	res.Tx = h
	c.logger.Info("submitted", "op", op, "op_id", f.opID, "write", sub.desc, "tx", h.String())
	c.record(f, journal.StatePending)

	done := make(chan outcome, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		o := c.await(f)
		c.guard.release()
		c.signalRefresh()
		done <- o
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		c.metrics.Detached.Add(1)
		c.detach(f.opID)
		c.logger.Info("caller detached", "op", op, "op_id", f.opID, "tx", h.String())
		res.To = relayer.Submitting
		return res, relayer.WrapError(relayer.Detached, op.String(), ctx.Err())
	}
}

// await blocks until f confirms, fails, or the controller closes.
// The caller releases the guard.
func (c *LifecycleController) await(f flight) outcome {
	rcpt, err := c.gw.AwaitConfirmation(c.ctx, f.handle)
	if err != nil && c.ctx.Err() != nil {
		c.metrics.InFlight.Set(0)
		c.logger.Info("stopped awaiting confirmation", "op", f.op, "op_id", f.opID, "tx", f.handle.String())
		res := Result{OpID: f.opID, Op: f.op, From: f.from, To: relayer.Submitting, Tx: f.handle}
		return outcome{res, relayer.WrapError(relayer.Detached, f.op.String(), err)}
	}
	return c.finish(f, rcpt, err)
}

// finish settles the state after the chain has answered for f.
func (c *LifecycleController) finish(f flight, rcpt *chain.Receipt, err error) outcome {
	to := f.op.Settled(err == nil)
	c.setState(to)
	c.metrics.InFlight.Set(0)

	ev := relayer.Event{
		OpID:    f.opID,
		Relayer: c.self,
		Op:      f.op,
		From:    f.from,
		To:      to,
		Amount:  f.amount,
		Time:    c.now().Unix(),
	}
	if f.handle.Hash != (common.Hash{}) {
		ev.TxHash = f.handle.Hash.Hex()
	}

	if err != nil {
		ev.Kind = relayer.KindOf(err)
		ev.Err = err.Error()
		c.metrics.Transitions.With("op", f.op.String(), "outcome", "failed").Add(1)
		c.metrics.Failures.With("op", f.op.String(), "kind", ev.Kind.String()).Add(1)
		c.logger.Error("operation failed", "op", f.op, "op_id", f.opID, "state", to, "err", err)
		if f.handle.Hash != (common.Hash{}) {
			c.record(f, journal.StateFailed, err.Error())
		}
	} else {
		c.metrics.Transitions.With("op", f.op.String(), "outcome", "ok").Add(1)
		c.metrics.ConfirmationSeconds.With("op", f.op.String()).Observe(c.now().Sub(f.started).Seconds())
		var block uint64
		if rcpt != nil {
			block = rcpt.BlockNumber
		}
		c.logger.Info("operation confirmed", "op", f.op, "op_id", f.opID, "state", to, "block", block)
		c.record(f, journal.StateConfirmed)
	}
	c.emit(ev)

	res := Result{OpID: f.opID, Op: f.op, From: f.from, To: to, Tx: f.handle, Receipt: rcpt}
	return outcome{res, err}
}

//
// ──────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────
//

func (c *LifecycleController) setState(s relayer.State) {
	c.state.Store(uint32(s))
}

func (c *LifecycleController) signalRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

func (c *LifecycleController) minimums(ctx context.Context) (fee, coll *big.Int, err error) {
	if fee, err = c.gw.MinimumFee(ctx); err != nil {
		return nil, nil, err
	}
	if coll, err = c.gw.MinimumCollateral(ctx); err != nil {
		return nil, nil, err
	}
	return fee, coll, nil
}

// fetchSnapshot reads the order book for one transition. Snapshots are
// never shared between transitions.
func (c *LifecycleController) fetchSnapshot(ctx context.Context) (*orderbook.Snapshot, error) {
	snap, err := c.gw.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	c.metrics.SnapshotSize.Set(float64(snap.Len()))
	c.logger.Debug("read order book", "height", snap.Height(), "relayers", snap.Len())
	return snap, nil
}

// record writes f's journal entry. Journal failures are logged, not
// returned: the chain write has already happened.
func (c *LifecycleController) record(f flight, state journal.State, errMsg ...string) {
	if c.journal == nil {
		return
	}
	c.jmu.Lock()
	defer c.jmu.Unlock()

	r := journal.Record{
		OpID:    f.opID,
		Op:      f.op,
		Relayer: c.self,
		Chain:   f.handle.Kind,
		TxHash:  f.handle.Hash,
		Method:  f.handle.Method,
		From:    f.from,
		Amount:  f.amount,
		State:   state,
		Created: f.started.UnixNano(),
	}
	if len(errMsg) > 0 {
		r.Err = errMsg[0]
	}
	if err := c.journal.Put(r); err != nil {
		c.logger.Error("journal write failed", "op_id", f.opID, "state", state, "err", err)
	}
}

// detach marks an open record as detached. A record that already settled
// is left alone.
func (c *LifecycleController) detach(opID string) {
	if c.journal == nil {
		return
	}
	c.jmu.Lock()
	defer c.jmu.Unlock()

	r, err := c.journal.Get(opID)
	if err != nil || !r.State.Open() {
		return
	}
	if err := c.journal.Update(opID, journal.StateDetached, ""); err != nil {
		c.logger.Error("journal write failed", "op_id", opID, "err", err)
	}
}

func (c *LifecycleController) emit(ev relayer.Event) {
	ev.Seq = c.seq.Next()
	if c.journal != nil {
		if err := c.journal.AppendEvent(ev); err != nil {
			c.logger.Error("outbox append failed", "seq", ev.Seq, "err", err)
		}
	}
	for _, fn := range c.hooks {
		fn(ev)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
