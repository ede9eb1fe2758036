package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"backend-vehiclecare/internal/db"
	"backend-vehiclecare/internal/device"
	"backend-vehiclecare/internal/tracker"
	"backend-vehiclecare/internal/vehicle"

	"github.com/google/uuid"
)

var (
	ErrNoSession      = errors.New("no tracking session open")
	ErrSessionPending = errors.New("previous session not saved, stop it again to retry")
	ErrDeviceAttached = errors.New("a device is already attached to this vehicle")
	ErrClosed         = errors.New("tracking service closed")
)

// defaultIdleTTL is how long an untouched, idle vehicle keeps its tracker.
const defaultIdleTTL = 30 * time.Minute

// VehicleStore reads baselines and receives the new mileage.
type VehicleStore interface {
	GetVehicle(ctx context.Context, userID, id string) (vehicle.Vehicle, error)
	UpdateKilometers(ctx context.Context, userID, id string, km int64) (vehicle.Vehicle, error)
}

type Broadcaster interface {
	Broadcast(key string, payload []byte)
}

type entry struct {
	owner   string
	device  *device.Device
	tracker *tracker.Tracker

	attached atomic.Bool

	// lastUsed is guarded by Service.mu.
	lastUsed time.Time

	// mu serializes start and stop for the vehicle.
	mu      sync.Mutex
	session *Session
}

type Service struct {
	db       db.Querier
	vehicles VehicleStore
	hub      Broadcaster
	opts     tracker.Options
	idleTTL  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	closed  bool
	entries map[string]*entry
}

func NewService(db db.Querier, vehicles VehicleStore, hub Broadcaster, opts tracker.Options) *Service {
	return &Service{
		db:       db,
		vehicles: vehicles,
		hub:      hub,
		opts:     opts,
		idleTTL:  defaultIdleTTL,
		now:      time.Now,
		entries:  map[string]*entry{},
	}
}

// entry returns the tracker state of a vehicle owned by userID, creating it
// on first use.
func (s *Service) entry(ctx context.Context, userID, vehicleID string) (*entry, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := s.entries[vehicleID]
	if ok {
		e.lastUsed = s.now()
	}
	s.mu.Unlock()
	if ok {
		if e.owner != userID {
			return nil, vehicle.ErrNotFound
		}
		return e, nil
	}

	v, err := s.vehicles.GetVehicle(ctx, userID, vehicleID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if e, ok := s.entries[vehicleID]; ok {
		e.lastUsed = s.now()
		return e, nil
	}
	s.evictIdleLocked()
	e = s.newEntry(v.UserID, vehicleID)
	e.lastUsed = s.now()
	s.entries[vehicleID] = e
	return e, nil
}

// evictIdleLocked drops vehicles untouched for idleTTL. Vehicles that are
// tracking, hold an unsaved session or have a device attached are kept.
func (s *Service) evictIdleLocked() {
	now := s.now()
	for id, e := range s.entries {
		if now.Sub(e.lastUsed) < s.idleTTL || e.attached.Load() || e.tracker.Tracking() {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		pending := e.session != nil
		e.mu.Unlock()
		if pending {
			continue
		}

		delete(s.entries, id)
		e.tracker.Close()
		e.device.Source.Close()
	}
}

func (s *Service) newEntry(owner, vehicleID string) *entry {
	d := device.New()
	opts := s.opts
	opts.OnChange = func(snap tracker.Snapshot) { s.publish(vehicleID, snap) }
	trk := tracker.New(d.Source, d.Permissions, opts)
	d.OnAttach = trk.Init
	return &entry{owner: owner, device: d, tracker: trk}
}

func (s *Service) publish(vehicleID string, snap tracker.Snapshot) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(Event{VehicleID: vehicleID, Snapshot: snap})
	if err != nil {
		log.Printf("tracking event encode error: %v", err)
		return
	}
	s.hub.Broadcast(vehicleID, payload)
}

// StartSession opens a session with the vehicle's current mileage as baseline.
// A previous session that ended on an acquisition failure is saved first.
func (s *Service) StartSession(ctx context.Context, userID, vehicleID string) (Session, error) {
	e, err := s.entry(ctx, userID, vehicleID)
	if err != nil {
		return Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracker.Tracking() {
		return Session{}, tracker.ErrAlreadyTracking
	}
	if e.session != nil {
		if !tracker.IsAcquisition(e.tracker.Err()) {
			return Session{}, ErrSessionPending
		}
		if _, err := s.finishLocked(ctx, userID, vehicleID, e); err != nil {
			return Session{}, err
		}
	}

	v, err := s.vehicles.GetVehicle(ctx, userID, vehicleID)
	if err != nil {
		return Session{}, err
	}
	if err := e.tracker.Start(); err != nil {
		return Session{}, err
	}

	session := Session{
		ID:         uuid.NewString(),
		VehicleID:  vehicleID,
		UserID:     userID,
		StartedAt:  time.Now(),
		BaselineKm: v.Km,
		Status:     StatusActive,
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO track_sessions (id, vehicle_id, user_id, started_at, baseline_km, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING started_at
	`, session.ID, session.VehicleID, session.UserID, session.StartedAt, session.BaselineKm, session.Status)
	if err := row.Scan(&session.StartedAt); err != nil {
		e.tracker.Stop()
		return Session{}, err
	}

	e.session = &session
	log.Printf("tracking started vehicle=%s session=%s baseline_km=%d", vehicleID, session.ID, session.BaselineKm)
	return session, nil
}

// StopSession ends tracking and writes round(baseline + distance) as the new
// mileage. A session that already ended on an acquisition failure is saved
// with its partial distance. When the mileage update fails the session stays
// open so the call can be retried.
func (s *Service) StopSession(ctx context.Context, userID, vehicleID string) (StopResult, error) {
	e, err := s.entry(ctx, userID, vehicleID)
	if err != nil {
		return StopResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return StopResult{}, ErrNoSession
	}
	return s.finishLocked(ctx, userID, vehicleID, e)
}

// finishLocked stops the tracker and saves the open session. e.mu is held.
func (s *Service) finishLocked(ctx context.Context, userID, vehicleID string, e *entry) (StopResult, error) {
	snap := e.tracker.Stop()
	status := StatusCompleted
	if tracker.IsAcquisition(e.tracker.Err()) {
		status = StatusFailed
	}

	session := *e.session
	finalKm := int64(math.Round(float64(session.BaselineKm) + snap.DistanceKm))
	v, err := s.vehicles.UpdateKilometers(ctx, userID, vehicleID, finalKm)
	if err != nil {
		return StopResult{}, fmt.Errorf("update kilometers: %w", err)
	}

	endedAt := time.Now()
	session.EndedAt = &endedAt
	session.DistanceKm = snap.DistanceKm
	session.FinalKm = &finalKm
	session.Status = status

	_, err = s.db.Exec(ctx, `
		UPDATE track_sessions
		SET ended_at=$2, distance_km=$3, final_km=$4, status=$5
		WHERE id=$1
	`, session.ID, endedAt, session.DistanceKm, finalKm, status)
	if err != nil {
		log.Printf("track session %s update error: %v", session.ID, err)
	}

	e.session = nil
	log.Printf("tracking stopped vehicle=%s session=%s distance_km=%.3f final_km=%d status=%s",
		vehicleID, session.ID, session.DistanceKm, finalKm, status)
	return StopResult{Session: session, Vehicle: v}, nil
}

func (s *Service) Status(ctx context.Context, userID, vehicleID string) (Status, error) {
	e, err := s.entry(ctx, userID, vehicleID)
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	var session *Session
	if e.session != nil {
		cp := *e.session
		session = &cp
	}
	e.mu.Unlock()

	return Status{
		VehicleID:      vehicleID,
		DeviceAttached: e.attached.Load(),
		Snapshot:       e.tracker.Snapshot(),
		Session:        session,
	}, nil
}

// Sessions lists the vehicle's session history, newest first.
func (s *Service) Sessions(ctx context.Context, userID, vehicleID string) ([]Session, error) {
	if _, err := s.entry(ctx, userID, vehicleID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, vehicle_id, user_id, started_at, ended_at, baseline_km, COALESCE(distance_km, 0), final_km, status
		FROM track_sessions
		WHERE vehicle_id=$1
		ORDER BY started_at DESC
		LIMIT 50
	`, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.VehicleID, &sess.UserID, &sess.StartedAt, &sess.EndedAt, &sess.BaselineKm, &sess.DistanceKm, &sess.FinalKm, &sess.Status); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// AttachDevice claims the vehicle's device slot. release frees it.
func (s *Service) AttachDevice(ctx context.Context, userID, vehicleID string) (*device.Device, func(), error) {
	e, err := s.entry(ctx, userID, vehicleID)
	if err != nil {
		return nil, nil, err
	}
	if !e.attached.CompareAndSwap(false, true) {
		return nil, nil, ErrDeviceAttached
	}
	return e.device, func() { e.attached.Store(false) }, nil
}

// PushFix feeds one reading from a device without a websocket.
func (s *Service) PushFix(ctx context.Context, userID, vehicleID string, r device.Reading) (int, error) {
	e, err := s.entry(ctx, userID, vehicleID)
	if err != nil {
		return 0, err
	}
	return e.device.Source.Push(r)
}

// ReportPermission declares the device capability and permission state, the
// same way a websocket hello does.
func (s *Service) ReportPermission(ctx context.Context, userID, vehicleID string, state tracker.PermissionState, geolocation bool) (tracker.Snapshot, error) {
	e, err := s.entry(ctx, userID, vehicleID)
	if err != nil {
		return tracker.Snapshot{}, err
	}
	msg := device.Message{Type: device.TypeHello, Geolocation: &geolocation, Permission: state}
	if err := e.device.Handle(ctx, msg); err != nil {
		return tracker.Snapshot{}, err
	}
	return e.tracker.Snapshot(), nil
}

// Close ends every tracker and refuses further calls. Open sessions are left
// unsaved.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	entries := make([]*entry, 0, len(s.entries))
	for id, e := range s.entries {
		entries = append(entries, e)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.tracker.Close()
		e.device.Source.Close()
	}
}
