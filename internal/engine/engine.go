// Package engine owns the in-memory event collection and keeps it consistent
// with local and remote persistence.
//
// Every mutation is applied in memory, written to the local store, and then,
// only while online, pushed to the remote store in the background. A drift
// watch re-reads the local store on a timer and on change notifications, and
// replaces the collection wholesale when another writer changed it. Conflicts
// resolve as last-writer-wins over whole snapshots.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// DefaultDriftSchedule re-reads the local store once a second.
const DefaultDriftSchedule = "@every 1s"

var (
	ErrNotStarted     = errors.New("engine: not started")
	ErrAlreadyStarted = errors.New("engine: already started")
	ErrClosed         = errors.New("engine: closed")
	ErrDuplicateID    = errors.New("engine: duplicate event id")
)

// State is the connectivity/sync state of the engine.
type State string

const (
	StateOffline       State = "offline"
	StateOnlineIdle    State = "online_idle"
	StateOnlineSyncing State = "online_syncing"
)

// LocalStore is the local persistence adapter.
type LocalStore interface {
	// Load is the strict read used by the drift watch.
	Load(ctx context.Context) ([]model.Event, error)
	// LoadSnapshot never fails; errors yield an empty collection.
	LoadSnapshot(ctx context.Context) []model.Event
	SaveSnapshot(ctx context.Context, events []model.Event) error
	// Watch signals out-of-band changes to the stored snapshot.
	Watch() (<-chan struct{}, func())
}

// RemoteStore is the remote persistence adapter.
type RemoteStore interface {
	FetchSnapshot(ctx context.Context) ([]model.Event, bool)
	PushSnapshot(ctx context.Context, events []model.Event) error
}

// Connectivity exposes the current state and edge-triggered transitions.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Options tune an Engine. The zero value is usable.
type Options struct {
	// DriftSchedule is a cron spec for the drift watch; empty means
	// DefaultDriftSchedule.
	DriftSchedule string
	// OnChange receives the new collection after every replacement or
	// mutation. It runs on the goroutine that caused the change and must
	// not call back into mutating Engine methods synchronously.
	OnChange func(events []model.Event)
	// Now stamps createdAt/updatedAt; defaults to time.Now.
	Now func() time.Time
}

// Engine is the sync engine. Create one with New, call Start once, and Close
// at shutdown.
type Engine struct {
	local  LocalStore
	remote RemoteStore
	net    Connectivity
	opts   Options

	// mu covers read-current / replace / persist as one critical section.
	mu       sync.Mutex
	coll     *model.Collection
	online   bool
	syncing  bool
	inflight int
	starting bool
	started  bool
	closed   bool

	bg      context.Context
	cron    *cron.Cron
	stop    chan struct{}
	loops   sync.WaitGroup
	pushes  sync.WaitGroup
	cancels []func()
}

// New builds an engine. remote may be nil, in which case the engine never
// leaves the local path.
func New(local LocalStore, remote RemoteStore, net Connectivity, opts Options) *Engine {
	if opts.DriftSchedule == "" {
		opts.DriftSchedule = DefaultDriftSchedule
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		local:  local,
		remote: remote,
		net:    net,
		opts:   opts,
		coll:   model.NewCollection(nil),
		stop:   make(chan struct{}),
	}
}

// Start loads the local snapshot, overlays a non-empty remote snapshot when
// online, and starts the drift watch and connectivity listener. Mutations
// fail with ErrNotStarted until Start returns, so the remote overlay never
// discards an accepted change. If Close runs meanwhile, Start returns
// ErrClosed without starting anything.
func (e *Engine) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started || e.starting {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}

	e.bg = context.WithoutCancel(ctx)
	if _, err := c.AddFunc(e.opts.DriftSchedule, func() { e.CheckDrift(e.bg) }); err != nil {
		e.mu.Unlock()
		return err
	}

	// Subscribe before reading the flag so no transition is missed.
	netCh, cancelNet := e.net.Subscribe()
	watchCh, cancelWatch := e.local.Watch()

	e.coll = model.NewCollection(e.local.LoadSnapshot(ctx))
	e.online = e.net.Online()
	e.starting = true
	fetch := e.online && e.remote != nil
	if fetch {
		e.syncing = true
	}
	loaded := e.coll.Len()
	e.mu.Unlock()

	appLog.Info("engine starting", "local_count", loaded, "online", e.Online())

	if fetch {
		e.initialFetch(ctx)
	}

	e.mu.Lock()
	e.starting = false
	if e.closed {
		e.mu.Unlock()
		cancelNet()
		cancelWatch()
		appLog.Warn("engine closed during startup")
		return ErrClosed
	}
	e.cancels = append(e.cancels, cancelNet, cancelWatch)
	e.cron = c
	e.started = true
	// Under mu so a concurrent Close either sees nothing started or stops
	// everything started here.
	e.loops.Add(1)
	go e.listen(netCh, watchCh)
	c.Start()
	e.mu.Unlock()

	appLog.Info("engine started", "state", string(e.State()), "count", e.Len(), "drift_schedule", e.opts.DriftSchedule)
	return nil
}

// initialFetch treats the remote as authoritative when it returns data.
func (e *Engine) initialFetch(ctx context.Context) {
	events, ok := e.remote.FetchSnapshot(ctx)

	e.mu.Lock()
	e.syncing = false
	if e.closed {
		e.mu.Unlock()
		return
	}
	if !ok || len(events) == 0 {
		e.mu.Unlock()
		appLog.Info("remote snapshot unavailable or empty; keeping local snapshot", "ok", ok)
		return
	}
	e.coll = model.NewCollection(events)
	snapshot := e.coll.Events()
	err := e.local.SaveSnapshot(ctx, snapshot)
	e.mu.Unlock()

	if err != nil {
		appLog.Error("persisting remote snapshot locally failed", err)
	}
	appLog.Info("replaced local snapshot with remote", "count", len(snapshot))
	e.notify(snapshot)
}

func (e *Engine) listen(netCh <-chan bool, watchCh <-chan struct{}) {
	defer e.loops.Done()
	for netCh != nil || watchCh != nil {
		select {
		case <-e.stop:
			return
		case online, ok := <-netCh:
			if !ok {
				netCh = nil
				continue
			}
			e.setOnline(online)
		case _, ok := <-watchCh:
			if !ok {
				watchCh = nil
				continue
			}
			e.CheckDrift(e.bg)
		}
	}
	<-e.stop
}

// setOnline applies a connectivity edge. Regaining connectivity pushes the
// current collection.
func (e *Engine) setOnline(online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.online == online {
		return
	}
	e.online = online
	if !online {
		appLog.Info("working offline")
		return
	}
	appLog.Info("back online; pushing snapshot", "count", e.coll.Len())
	if e.remote != nil {
		e.pushLocked(e.coll.Events())
	}
}

// CheckDrift re-reads the local store and replaces the in-memory collection
// if it differs by value. It reports whether a replacement happened. An
// unreadable store is skipped until the next check.
func (e *Engine) CheckDrift(ctx context.Context) bool {
	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return false
	}
	loaded, err := e.local.Load(ctx)
	if err != nil {
		e.mu.Unlock()
		appLog.Warn("drift watch: local snapshot unreadable; retrying next tick", "err", err.Error())
		return false
	}
	next := model.NewCollection(loaded)
	if model.EqualEvents(next.Events(), e.coll.Events()) {
		e.mu.Unlock()
		return false
	}
	e.coll = next
	snapshot := next.Events()
	e.mu.Unlock()

	appLog.Info("drift watch: local snapshot changed externally", "count", len(snapshot))
	e.notify(snapshot)
	return true
}

// Create appends ev. Missing timestamps are filled in; an id already in the
// collection is rejected with ErrDuplicateID.
func (e *Engine) Create(ctx context.Context, ev model.Event) (model.Event, error) {
	now := e.opts.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = now
	}
	if err := ev.Validate(); err != nil {
		return model.Event{}, err
	}
	_, err := e.mutate(ctx, "create", func(c *model.Collection) (bool, error) {
		if !c.Append(ev) {
			return false, ErrDuplicateID
		}
		return true, nil
	})
	if err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// Update fully replaces the event with ev.ID and stamps updatedAt. An
// unknown id leaves the collection unchanged and returns false.
func (e *Engine) Update(ctx context.Context, ev model.Event) (model.Event, bool, error) {
	ev.UpdatedAt = e.opts.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = ev.UpdatedAt
	}
	if err := ev.Validate(); err != nil {
		return model.Event{}, false, err
	}
	found, err := e.mutate(ctx, "update", func(c *model.Collection) (bool, error) {
		return c.Replace(ev), nil
	})
	if err != nil || !found {
		return model.Event{}, false, err
	}
	return ev, true, nil
}

// Delete removes id. Deleting an absent id is a no-op returning false.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	return e.mutate(ctx, "delete", func(c *model.Collection) (bool, error) {
		return c.Remove(id), nil
	})
}

// mutate runs apply under the lock, then persists locally and pushes when
// online. A failed local write is logged; the in-memory change stands and
// the next successful save carries it.
func (e *Engine) mutate(ctx context.Context, op string, apply func(*model.Collection) (bool, error)) (bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	if !e.started {
		e.mu.Unlock()
		return false, ErrNotStarted
	}

	changed, err := apply(e.coll)
	if err != nil || !changed {
		e.mu.Unlock()
		return false, err
	}

	snapshot := e.coll.Events()
	if err := e.local.SaveSnapshot(ctx, snapshot); err != nil {
		appLog.Error("local save failed; change kept in memory", err, "op", op)
	}
	if e.online && e.remote != nil {
		e.pushLocked(snapshot)
	}
	e.mu.Unlock()

	appLog.Debug("event mutation applied", "op", op, "count", len(snapshot))
	e.notify(snapshot)
	return true, nil
}

// pushLocked starts a background push of snapshot. Overlapping pushes are
// not ordered. Callers hold mu.
func (e *Engine) pushLocked(snapshot []model.Event) {
	e.inflight++
	e.pushes.Add(1)
	go func() {
		defer e.pushes.Done()
		err := e.remote.PushSnapshot(e.bg, snapshot)

		e.mu.Lock()
		e.inflight--
		e.mu.Unlock()

		if err != nil {
			appLog.Warn("remote push failed; local snapshot kept", "err", err.Error(), "count", len(snapshot))
			return
		}
		appLog.Debug("remote push done", "count", len(snapshot))
	}()
}

func (e *Engine) notify(snapshot []model.Event) {
	if e.opts.OnChange != nil {
		e.opts.OnChange(snapshot)
	}
}

// State reports Offline, OnlineIdle or OnlineSyncing.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case !e.online:
		return StateOffline
	case e.syncing || e.inflight > 0:
		return StateOnlineSyncing
	default:
		return StateOnlineIdle
	}
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Events returns a copy of the collection in insertion order.
func (e *Engine) Events() []model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coll.Events()
}

func (e *Engine) Get(id string) (model.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coll.Get(id)
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coll.Len()
}

// Close stops the drift watch and listeners, waits for in-flight pushes
// (bounded by ctx), and writes the collection one final time.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.started
	e.mu.Unlock()

	if !started {
		return nil
	}

	<-e.cron.Stop().Done()
	close(e.stop)
	for _, cancel := range e.cancels {
		cancel()
	}
	e.loops.Wait()

	done := make(chan struct{})
	go func() {
		e.pushes.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		appLog.Warn("engine close: gave up waiting for remote pushes", "err", ctx.Err().Error())
	}

	e.mu.Lock()
	snapshot := e.coll.Events()
	e.mu.Unlock()

	if err := e.local.SaveSnapshot(context.WithoutCancel(ctx), snapshot); err != nil {
		appLog.Error("final local save failed", err)
		return err
	}
	appLog.Info("engine closed", "count", len(snapshot))
	return nil
}
