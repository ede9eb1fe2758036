package vehicle

import "time"

type Vehicle struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	TypeID           string     `json:"vehicle_type_id"`
	Model            string     `json:"model"`
	Plate            string     `json:"plate"`
	RegistrationDate *time.Time `json:"registration_date,omitempty"`
	Km               int64      `json:"km"`
	KmRecordedAt     time.Time  `json:"km_recorded_at"`
}

// Intervention is one entry of a vehicle's service history.
type Intervention struct {
	ID                string    `json:"id"`
	VehicleID         string    `json:"vehicle_id"`
	CheckID           string    `json:"periodic_check_id"`
	CheckDescription  string    `json:"check_description"`
	StatusDescription string    `json:"status_description"`
	Done              bool      `json:"done"`
	Km                int64     `json:"km"`
	PerformedAt       time.Time `json:"performed_at"`
}

// Alert is a maintenance notice addressed to a vehicle's owner.
type Alert struct {
	ID        string    `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	Content   string    `json:"content"`
	PostedAt  time.Time `json:"posted_at"`
}

type Detail struct {
	Vehicle       Vehicle        `json:"vehicle"`
	Interventions []Intervention `json:"interventions"`
	Alerts        []Alert        `json:"alerts"`
}
