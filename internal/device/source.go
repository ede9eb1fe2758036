package device

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"backend-vehiclecare/internal/shared/geo"
	"backend-vehiclecare/internal/tracker"
)

var ErrInvalidFix = errors.New("invalid coordinates")

const commandBuffer = 32

// Reading is a fix as pushed by the device. Timestamp is optional.
type Reading struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

type watch struct {
	opts    tracker.WatchOptions
	started time.Time
	onFix   func(geo.Fix)
	onError func(error)
	timer   *time.Timer
	gen     uint64
}

// Source is a tracker.PositionSource fed by readings a device pushes over
// the wire. Watch and clear requests are queued on Commands for the device.
type Source struct {
	mu        sync.Mutex
	supported bool
	nextID    tracker.WatchID
	watches   map[tracker.WatchID]*watch
	commands  chan Command
}

func NewSource() *Source {
	return &Source{
		watches:  map[tracker.WatchID]*watch{},
		commands: make(chan Command, commandBuffer),
	}
}

func (s *Source) Supported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supported
}

// SetSupported records whether a device with geolocation is attached.
// Losing support fails every open watch.
func (s *Source) SetSupported(ok bool) {
	s.mu.Lock()
	s.supported = ok
	s.mu.Unlock()

	if !ok {
		s.Fail(tracker.CodePositionUnavailable, "device disconnected")
	}
}

func (s *Source) Watch(opts tracker.WatchOptions, onFix func(geo.Fix), onError func(error)) (tracker.WatchID, error) {
	s.mu.Lock()
	if !s.supported {
		s.mu.Unlock()
		return 0, tracker.ErrUnsupported
	}
	s.nextID++
	id := s.nextID
	w := &watch{
		opts:    opts,
		started: time.Now(),
		onFix:   onFix,
		onError: onError,
	}
	s.watches[id] = w
	s.armLocked(id, w)
	s.mu.Unlock()

	s.emit(watchCommand(id, opts))
	return id, nil
}

func (s *Source) ClearWatch(id tracker.WatchID) {
	s.mu.Lock()
	w, ok := s.watches[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	delete(s.watches, id)
	s.mu.Unlock()

	s.emit(Command{Type: CommandClearWatch, WatchID: id})
}

// Push delivers a reading to every open watch that accepts it and returns how
// many watches received it. Readings older than a watch's start minus its
// MaximumAge are skipped for that watch.
func (s *Source) Push(r Reading) (int, error) {
	fix := geo.Fix{Lat: r.Lat, Lng: r.Lng}
	if !fix.Valid() {
		return 0, fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidFix, r.Lat, r.Lng)
	}

	s.mu.Lock()
	deliver := make([]func(geo.Fix), 0, len(s.watches))
	for id, w := range s.watches {
		if !r.Timestamp.IsZero() && r.Timestamp.Before(w.started.Add(-w.opts.MaximumAge)) {
			continue
		}
		s.armLocked(id, w)
		deliver = append(deliver, w.onFix)
	}
	s.mu.Unlock()

	for _, fn := range deliver {
		fn(fix)
	}
	return len(deliver), nil
}

// Fail reports an acquisition error to every open watch. The watches stay open
// until their owners clear them.
func (s *Source) Fail(code tracker.AcquisitionCode, message string) {
	s.mu.Lock()
	notify := make([]func(error), 0, len(s.watches))
	for _, w := range s.watches {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.gen++
		notify = append(notify, w.onError)
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn(&tracker.AcquisitionError{Code: code, Message: message})
	}
}

// Resync replaces whatever is queued with one watch command per open watch,
// so a newly attached device starts from the current state.
func (s *Source) Resync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for drained := false; !drained; {
		select {
		case <-s.commands:
		default:
			drained = true
		}
	}

	ids := make([]tracker.WatchID, 0, len(s.watches))
	for id := range s.watches {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		s.emit(watchCommand(id, s.watches[id].opts))
	}
}

// Commands yields watch and clear requests for the attached device.
func (s *Source) Commands() <-chan Command {
	return s.commands
}

// Active returns the number of open watches.
func (s *Source) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Close stops every pending fix timer.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watches {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.gen++
	}
}

// armLocked restarts the per-fix timeout of w.
func (s *Source) armLocked(id tracker.WatchID, w *watch) {
	if w.opts.Timeout <= 0 {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.opts.Timeout, func() { s.expire(id, gen) })
}

func (s *Source) expire(id tracker.WatchID, gen uint64) {
	s.mu.Lock()
	w, ok := s.watches[id]
	if !ok || w.gen != gen {
		s.mu.Unlock()
		return
	}
	onError := w.onError
	s.mu.Unlock()

	onError(&tracker.AcquisitionError{Code: tracker.CodeTimeout, Message: "timeout expired"})
}

func (s *Source) emit(cmd Command) {
	select {
	case s.commands <- cmd:
	default:
		// no device is draining the queue
	}
}
