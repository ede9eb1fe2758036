package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-vehiclecare/internal/shared/geo"
	"backend-vehiclecare/internal/tracker"
)

func nextCommand(t *testing.T, s *Source) Command {
	t.Helper()
	select {
	case cmd := <-s.Commands():
		return cmd
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for command")
	}
	return Command{}
}

func TestSourceWatchUnsupported(t *testing.T) {
	s := NewSource()
	_, err := s.Watch(tracker.DefaultWatchOptions(), func(geo.Fix) {}, func(error) {})
	if !errors.Is(err, tracker.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestSourceWatchPushClear(t *testing.T) {
	s := NewSource()
	s.SetSupported(true)

	var got []geo.Fix
	id, err := s.Watch(tracker.WatchOptions{HighAccuracy: true}, func(f geo.Fix) { got = append(got, f) }, func(error) {})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	cmd := nextCommand(t, s)
	if cmd.Type != CommandWatch || cmd.WatchID != id || cmd.WatchParams == nil || !cmd.HighAccuracy {
		t.Fatalf("unexpected watch command: %+v", cmd)
	}

	n, err := s.Push(Reading{Lat: 45.46, Lng: 9.19})
	if err != nil || n != 1 {
		t.Fatalf("push: n=%d err=%v", n, err)
	}
	if len(got) != 1 || got[0].Lat != 45.46 {
		t.Fatalf("fix not delivered: %+v", got)
	}

	s.ClearWatch(id)
	cmd = nextCommand(t, s)
	if cmd.Type != CommandClearWatch || cmd.WatchID != id {
		t.Fatalf("unexpected clear command: %+v", cmd)
	}
	if s.Active() != 0 {
		t.Fatalf("watch still active")
	}

	n, _ = s.Push(Reading{Lat: 45.47, Lng: 9.19})
	if n != 0 || len(got) != 1 {
		t.Fatalf("fix delivered after clear")
	}

	// clearing twice is harmless
	s.ClearWatch(id)
}

func TestSourcePushInvalid(t *testing.T) {
	s := NewSource()
	s.SetSupported(true)
	if _, err := s.Push(Reading{Lat: 91, Lng: 0}); !errors.Is(err, ErrInvalidFix) {
		t.Fatalf("expected invalid fix, got %v", err)
	}
}

func TestSourceSkipsCachedReadings(t *testing.T) {
	s := NewSource()
	s.SetSupported(true)

	fresh := 0
	if _, err := s.Watch(tracker.WatchOptions{}, func(geo.Fix) { fresh++ }, func(error) {}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	lenient := 0
	if _, err := s.Watch(tracker.WatchOptions{MaximumAge: 5 * time.Minute}, func(geo.Fix) { lenient++ }, func(error) {}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	n, err := s.Push(Reading{Lat: 1, Lng: 1, Timestamp: time.Now().Add(-time.Minute)})
	if err != nil || n != 1 {
		t.Fatalf("push: n=%d err=%v", n, err)
	}
	if fresh != 0 || lenient != 1 {
		t.Fatalf("fresh=%d lenient=%d", fresh, lenient)
	}

	n, _ = s.Push(Reading{Lat: 1, Lng: 1, Timestamp: time.Now()})
	if n != 2 {
		t.Fatalf("current reading delivered to %d watches", n)
	}
}

func TestSourceFixTimeout(t *testing.T) {
	s := NewSource()
	s.SetSupported(true)

	errs := make(chan error, 1)
	_, err := s.Watch(tracker.WatchOptions{Timeout: 20 * time.Millisecond}, func(geo.Fix) {}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	select {
	case err := <-errs:
		var ae *tracker.AcquisitionError
		if !errors.As(err, &ae) || ae.Code != tracker.CodeTimeout {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout error never fired")
	}
}

func TestSourceFixResetsTimeout(t *testing.T) {
	s := NewSource()
	s.SetSupported(true)

	errs := make(chan error, 1)
	id, err := s.Watch(tracker.WatchOptions{Timeout: 150 * time.Millisecond}, func(geo.Fix) {}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	for i := 0; i < 5; i++ {
		time.Sleep(40 * time.Millisecond)
		if _, err := s.Push(Reading{Lat: 1, Lng: float64(i)}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	select {
	case err := <-errs:
		t.Fatalf("timeout fired while fixes kept arriving: %v", err)
	default:
	}

	s.ClearWatch(id)
	time.Sleep(200 * time.Millisecond)
	select {
	case err := <-errs:
		t.Fatalf("timeout fired after clear: %v", err)
	default:
	}
}

func TestSourceDisconnectFailsWatches(t *testing.T) {
	s := NewSource()
	s.SetSupported(true)

	var got error
	if _, err := s.Watch(tracker.WatchOptions{}, func(geo.Fix) {}, func(err error) { got = err }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	s.SetSupported(false)
	var ae *tracker.AcquisitionError
	if !errors.As(got, &ae) || ae.Code != tracker.CodePositionUnavailable {
		t.Fatalf("unexpected error: %v", got)
	}
	if s.Supported() {
		t.Fatalf("expected unsupported after disconnect")
	}
}

func TestPermissionsSetAndWatch(t *testing.T) {
	p := NewPermissions()
	state, err := p.Query(context.Background())
	if err != nil || state != tracker.PermissionPrompt {
		t.Fatalf("initial state = %s err=%v", state, err)
	}

	var seen []tracker.PermissionState
	cancel := p.Watch(func(s tracker.PermissionState) { seen = append(seen, s) })

	if err := p.Set(tracker.PermissionGranted); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := p.Set(tracker.PermissionGranted); err != nil {
		t.Fatalf("set again: %v", err)
	}
	if len(seen) != 1 || seen[0] != tracker.PermissionGranted {
		t.Fatalf("unexpected notifications: %v", seen)
	}

	cancel()
	cancel()
	_ = p.Set(tracker.PermissionDenied)
	if len(seen) != 1 {
		t.Fatalf("listener called after cancel")
	}

	if err := p.Set("maybe"); !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("expected invalid permission, got %v", err)
	}
}

func TestPermissionsQueryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewPermissions().Query(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestSourceResyncDropsStaleCommands(t *testing.T) {
	s := NewSource()
	s.SetSupported(true)

	noop := func(geo.Fix) {}
	first, err := s.Watch(tracker.WatchOptions{}, noop, func(error) {})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	second, err := s.Watch(tracker.WatchOptions{HighAccuracy: true}, noop, func(error) {})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	s.ClearWatch(first)

	s.Resync()
	cmd := nextCommand(t, s)
	if cmd.Type != CommandWatch || cmd.WatchID != second || !cmd.HighAccuracy {
		t.Fatalf("unexpected command after resync: %+v", cmd)
	}
	select {
	case cmd := <-s.Commands():
		t.Fatalf("stale command replayed: %+v", cmd)
	default:
	}
}

func TestSourceResyncAfterFullQueue(t *testing.T) {
	s := NewSource()
	s.SetSupported(true)

	var last tracker.WatchID
	for i := 0; i < commandBuffer+8; i++ {
		id, err := s.Watch(tracker.WatchOptions{}, func(geo.Fix) {}, func(error) {})
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
		if last != 0 {
			s.ClearWatch(last)
		}
		last = id
	}

	s.Resync()
	if cmd := nextCommand(t, s); cmd.Type != CommandWatch || cmd.WatchID != last {
		t.Fatalf("expected watch for newest session, got %+v", cmd)
	}
	select {
	case cmd := <-s.Commands():
		t.Fatalf("stale command replayed: %+v", cmd)
	default:
	}
}
