package optimistic

import (
	"context"
	"sync"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/metrics"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"go.uber.org/zap"
)

// Remote performs the confirmed version of a toggle. on is the desired
// state after the call.
type Remote interface {
	Toggle(ctx context.Context, kind Kind, target Target, on bool) error
}

// States reads and writes the engagement of targets.
type States interface {
	Load(t Target) Engagement
	Store(t Target, e Engagement)
}

// Executor runs actions with eager local mutation and exact rollback.
// While an action on a target is in flight, further actions on the same
// target are dropped.
type Executor struct {
	states States
	remote Remote
	bus    *bus.Bus
	logger *zap.Logger

	mu   sync.Mutex
	busy map[Target]bool
}

// NewExecutor creates an executor.
func NewExecutor(states States, remote Remote, b *bus.Bus, logger *zap.Logger) *Executor {
	return &Executor{
		states: states,
		remote: remote,
		bus:    b,
		logger: logger,
		busy:   make(map[Target]bool),
	}
}

func (x *Executor) acquire(t Target) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.busy[t] {
		return false
	}
	x.busy[t] = true
	return true
}

func (x *Executor) release(t Target) {
	x.mu.Lock()
	delete(x.busy, t)
	x.mu.Unlock()
}

// Busy reports whether an action on t is in flight.
func (x *Executor) Busy(t Target) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.busy[t]
}

// Perform runs a. It returns true when the remote call confirmed the
// change and false when the action was dropped or rolled back.
func (x *Executor) Perform(ctx context.Context, a Action) bool {
	if !x.acquire(a.Target) {
		metrics.OptimisticActions.WithLabelValues(string(a.Kind), "busy").Inc()
		return false
	}
	defer x.release(a.Target)

	snapshot := x.states.Load(a.Target)
	next, on := a.apply(snapshot)
	x.states.Store(a.Target, next)
	x.bus.Emit(bus.KindEngagementChanged, a.Target)

	success, failure := a.messages(on)
	if err := x.remote.Toggle(ctx, a.Kind, a.Target, on); err != nil {
		x.states.Store(a.Target, snapshot)
		x.bus.Emit(bus.KindEngagementChanged, a.Target)
		x.bus.Notify(bus.KindNotifyError, failure, a.Target.String())
		metrics.OptimisticActions.WithLabelValues(string(a.Kind), "rolled_back").Inc()
		x.logger.Warn("interaction rolled back",
			zap.String("kind", string(a.Kind)),
			zap.String("target", a.Target.String()),
			zap.Error(err))
		return false
	}

	x.bus.Notify(bus.KindNotifySuccess, success, a.Target.String())
	metrics.OptimisticActions.WithLabelValues(string(a.Kind), "confirmed").Inc()
	return true
}

// ToggleLike likes or unlikes t.
func (x *Executor) ToggleLike(ctx context.Context, t Target) bool {
	return x.Perform(ctx, Action{Kind: Like, Target: t})
}

// ToggleCollect adds t to or removes it from the user's collection.
func (x *Executor) ToggleCollect(ctx context.Context, t Target) bool {
	return x.Perform(ctx, Action{Kind: Collect, Target: t})
}

// ToggleFollow follows or unfollows the user t.
func (x *Executor) ToggleFollow(ctx context.Context, t Target) bool {
	return x.Perform(ctx, Action{Kind: Follow, Target: t})
}

// Ledger holds engagement for targets that are not messages.
type Ledger struct {
	mu    sync.RWMutex
	state map[Target]Engagement
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{state: make(map[Target]Engagement)}
}

func (l *Ledger) Load(t Target) Engagement {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state[t]
}

func (l *Ledger) Store(t Target, e Engagement) {
	l.mu.Lock()
	l.state[t] = e
	l.mu.Unlock()
}

// Router keeps message engagement in the message store and everything
// else in a ledger.
type Router struct {
	Messages *msgstore.Store
	Others   *Ledger
}

func (r Router) Load(t Target) Engagement {
	if t.Type == TargetMessage {
		rx, _ := r.Messages.Reactions(t.ID)
		return Engagement{Liked: rx.Liked, LikeCount: rx.LikeCount, Collected: rx.Collected}
	}
	return r.Others.Load(t)
}

func (r Router) Store(t Target, e Engagement) {
	if t.Type == TargetMessage {
		r.Messages.SetReactions(t.ID, msgstore.Reactions{Liked: e.Liked, LikeCount: e.LikeCount, Collected: e.Collected})
		return
	}
	r.Others.Store(t, e)
}
