package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"backend-vehiclecare/internal/shared/geo"
)

type Options struct {
	Watch WatchOptions
	// MaxJumpKm is the jump-rejection threshold. Zero keeps every fix.
	MaxJumpKm float64
	// OnChange runs after every state change, outside the tracker lock.
	OnChange func(Snapshot)
}

func DefaultOptions() Options {
	return Options{Watch: DefaultWatchOptions()}
}

// Snapshot is the observable state of a tracker.
type Snapshot struct {
	Permission PermissionState `json:"permission"`
	Tracking   bool            `json:"is_tracking"`
	DistanceKm float64         `json:"distance_km"`
	Fixes      int             `json:"fixes"`
	Rejected   int             `json:"rejected,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Tracker accumulates distance travelled between Start and Stop.
//
// Every successful Start mints a session token. Fix and error callbacks are
// bound to the token of the session that opened the watch, so callbacks from a
// stopped or failed watch never touch a newer session.
type Tracker struct {
	source PositionSource
	perms  PermissionMonitor
	opts   Options

	mu         sync.Mutex
	permission PermissionState
	stopPerms  func()
	tracking   bool
	session    uint64
	watchID    WatchID
	hasWatch   bool
	acc        Accumulator
	fixes      int
	err        error
	changes    uint64

	// notifyMu orders OnChange calls. It is never taken while holding mu.
	notifyMu sync.Mutex
	notified uint64
}

func New(source PositionSource, perms PermissionMonitor, opts Options) *Tracker {
	return &Tracker{
		source:     source,
		perms:      perms,
		opts:       opts,
		permission: PermissionPrompt,
		acc:        Accumulator{MaxJumpKm: opts.MaxJumpKm},
	}
}

// Init queries the current permission and keeps it live through the monitor.
// It may be called again to re-attach after the device changes.
func (t *Tracker) Init(ctx context.Context) error {
	if !t.source.Supported() {
		t.replacePermissionWatch(nil)
		t.setPermission(PermissionUnsupported)
		return nil
	}

	cancel := t.perms.Watch(t.setPermission)
	state, err := t.perms.Query(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("query location permission: %w", err)
	}
	t.setPermission(state)
	t.replacePermissionWatch(cancel)
	return nil
}

func (t *Tracker) replacePermissionWatch(cancel func()) {
	t.mu.Lock()
	old := t.stopPerms
	t.stopPerms = cancel
	t.mu.Unlock()

	if old != nil {
		old()
	}
}

func (t *Tracker) setPermission(state PermissionState) {
	t.mu.Lock()
	if t.permission == state {
		t.mu.Unlock()
		return
	}
	t.permission = state
	seq, snap := t.changeLocked()
	t.mu.Unlock()

	t.notify(seq, snap)
}

func (t *Tracker) Permission() PermissionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.permission
}

// Start opens a new session. Precondition failures are returned and also
// recorded in the snapshot error.
func (t *Tracker) Start() error {
	t.mu.Lock()
	if t.tracking {
		t.mu.Unlock()
		return ErrAlreadyTracking
	}
	if !t.source.Supported() || t.permission == PermissionUnsupported {
		return t.rejectLocked(ErrUnsupported)
	}
	if t.permission != PermissionGranted {
		return t.rejectLocked(ErrPermissionDenied)
	}

	t.session++
	token := t.session
	t.tracking = true
	t.hasWatch = false
	t.acc.Reset()
	t.fixes = 0
	t.err = nil
	t.mu.Unlock()

	id, err := t.source.Watch(t.opts.Watch,
		func(f geo.Fix) { t.onFix(token, f) },
		func(err error) { t.onError(token, err) },
	)

	t.mu.Lock()
	if err != nil {
		if !errors.Is(err, ErrUnsupported) && !IsAcquisition(err) {
			err = &AcquisitionError{Code: CodePositionUnavailable, Message: err.Error()}
		}
		if t.session == token {
			t.session++
			t.tracking = false
			t.err = err
		}
		seq, snap := t.changeLocked()
		t.mu.Unlock()
		t.notify(seq, snap)
		return err
	}
	if t.session != token {
		// Stopped or failed before the watch id came back.
		t.mu.Unlock()
		t.source.ClearWatch(id)
		return nil
	}
	t.watchID = id
	t.hasWatch = true
	seq, snap := t.changeLocked()
	t.mu.Unlock()

	t.notify(seq, snap)
	return nil
}

func (t *Tracker) rejectLocked(err error) error {
	t.err = err
	seq, snap := t.changeLocked()
	t.mu.Unlock()
	t.notify(seq, snap)
	return err
}

// Stop closes the active watch. Distance is kept until the next Start.
func (t *Tracker) Stop() Snapshot {
	t.mu.Lock()
	if !t.tracking {
		snap := t.snapshotLocked()
		t.mu.Unlock()
		return snap
	}
	id, hasWatch := t.retireLocked()
	seq, snap := t.changeLocked()
	t.mu.Unlock()

	if hasWatch {
		t.source.ClearWatch(id)
	}
	t.notify(seq, snap)
	return snap
}

// retireLocked ends the current session and invalidates its token.
func (t *Tracker) retireLocked() (WatchID, bool) {
	t.session++
	t.tracking = false
	id, hasWatch := t.watchID, t.hasWatch
	t.watchID = 0
	t.hasWatch = false
	return id, hasWatch
}

func (t *Tracker) onFix(token uint64, f geo.Fix) {
	t.mu.Lock()
	if token != t.session || !t.tracking {
		t.mu.Unlock()
		return
	}
	if _, ok := t.acc.Add(f); ok {
		t.fixes++
	}
	seq, snap := t.changeLocked()
	t.mu.Unlock()

	t.notify(seq, snap)
}

func (t *Tracker) onError(token uint64, err error) {
	t.mu.Lock()
	if token != t.session || !t.tracking {
		t.mu.Unlock()
		return
	}
	if !IsAcquisition(err) {
		err = &AcquisitionError{Code: CodePositionUnavailable, Message: err.Error()}
	}
	t.err = err
	id, hasWatch := t.retireLocked()
	seq, snap := t.changeLocked()
	t.mu.Unlock()

	if hasWatch {
		t.source.ClearWatch(id)
	}
	t.notify(seq, snap)
}

// Close ends tracking and stops following permission changes.
func (t *Tracker) Close() {
	t.Stop()
	t.replacePermissionWatch(nil)
}

func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

func (t *Tracker) DistanceKm() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acc.TotalKm()
}

func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		Permission: t.permission,
		Tracking:   t.tracking,
		DistanceKm: t.acc.TotalKm(),
		Fixes:      t.fixes,
		Rejected:   t.acc.Rejected(),
	}
	if t.err != nil {
		snap.Error = t.err.Error()
	}
	return snap
}

// changeLocked numbers a state change and captures its snapshot.
func (t *Tracker) changeLocked() (uint64, Snapshot) {
	t.changes++
	return t.changes, t.snapshotLocked()
}

// notify hands snap to OnChange unless a later change was already delivered,
// so observers never end on a stale state.
func (t *Tracker) notify(seq uint64, snap Snapshot) {
	if t.opts.OnChange == nil {
		return
	}
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if seq <= t.notified {
		return
	}
	t.notified = seq
	t.opts.OnChange(snap)
}
