package tracking

import (
	"time"

	"backend-vehiclecare/internal/tracker"
	"backend-vehiclecare/internal/vehicle"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Session is one start-to-stop tracking run of a vehicle.
type Session struct {
	ID         string     `json:"id"`
	VehicleID  string     `json:"vehicle_id"`
	UserID     string     `json:"user_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	BaselineKm int64      `json:"baseline_km"`
	DistanceKm float64    `json:"distance_km"`
	FinalKm    *int64     `json:"final_km,omitempty"`
	Status     string     `json:"status"`
}

// Event is the payload broadcast to watchers on every tracker change.
type Event struct {
	VehicleID string `json:"vehicle_id"`
	tracker.Snapshot
}

type Status struct {
	VehicleID      string `json:"vehicle_id"`
	DeviceAttached bool   `json:"device_attached"`
	tracker.Snapshot
	Session *Session `json:"session,omitempty"`
}

type StopResult struct {
	Session Session         `json:"session"`
	Vehicle vehicle.Vehicle `json:"vehicle"`
}
