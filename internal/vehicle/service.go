package vehicle

import (
	"context"
	"errors"
	"fmt"

	"backend-vehiclecare/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound       = errors.New("vehicle not found")
	ErrInvalidVehicle = errors.New("model and plate required")
	ErrInvalidKm      = errors.New("km must not be negative")
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) ListVehicles(ctx context.Context, userID string) ([]Vehicle, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, COALESCE(vehicle_type_id, ''), model, plate, registration_date, km, km_recorded_at
		FROM vehicles WHERE user_id=$1
		ORDER BY model, plate
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := []Vehicle{}
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.UserID, &v.TypeID, &v.Model, &v.Plate, &v.RegistrationDate, &v.Km, &v.KmRecordedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// GetVehicle loads one vehicle owned by userID.
func (s *Service) GetVehicle(ctx context.Context, userID, id string) (Vehicle, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, COALESCE(vehicle_type_id, ''), model, plate, registration_date, km, km_recorded_at
		FROM vehicles WHERE id=$1 AND user_id=$2
	`, id, userID)
	var v Vehicle
	if err := row.Scan(&v.ID, &v.UserID, &v.TypeID, &v.Model, &v.Plate, &v.RegistrationDate, &v.Km, &v.KmRecordedAt); err != nil {
		return Vehicle{}, notFound(err)
	}
	return v, nil
}

func (s *Service) AddVehicle(ctx context.Context, userID string, input Vehicle) (Vehicle, error) {
	if input.Model == "" || input.Plate == "" {
		return Vehicle{}, ErrInvalidVehicle
	}
	if input.Km < 0 {
		return Vehicle{}, ErrInvalidKm
	}
	input.ID = uuid.NewString()
	input.UserID = userID

	row := s.db.QueryRow(ctx, `
		INSERT INTO vehicles (id, user_id, vehicle_type_id, model, plate, registration_date, km, km_recorded_at)
		VALUES ($1,$2,NULLIF($3, ''),$4,$5,$6,$7,now())
		RETURNING km_recorded_at
	`, input.ID, input.UserID, input.TypeID, input.Model, input.Plate, input.RegistrationDate, input.Km)
	if err := row.Scan(&input.KmRecordedAt); err != nil {
		return Vehicle{}, err
	}
	return input, nil
}

// UpdateKilometers stores a new odometer reading stamped with the current time.
func (s *Service) UpdateKilometers(ctx context.Context, userID, id string, km int64) (Vehicle, error) {
	if km < 0 {
		return Vehicle{}, ErrInvalidKm
	}
	row := s.db.QueryRow(ctx, `
		UPDATE vehicles
		SET km=$3, km_recorded_at=now()
		WHERE id=$1 AND user_id=$2
		RETURNING id, user_id, COALESCE(vehicle_type_id, ''), model, plate, registration_date, km, km_recorded_at
	`, id, userID, km)
	var v Vehicle
	if err := row.Scan(&v.ID, &v.UserID, &v.TypeID, &v.Model, &v.Plate, &v.RegistrationDate, &v.Km, &v.KmRecordedAt); err != nil {
		return Vehicle{}, notFound(err)
	}
	return v, nil
}

// Interventions lists the service history, newest first.
func (s *Service) Interventions(ctx context.Context, userID, vehicleID string) ([]Intervention, error) {
	rows, err := s.db.Query(ctx, `
		SELECT i.id, i.vehicle_id, COALESCE(i.periodic_check_id, ''), COALESCE(i.check_description, ''),
		       COALESCE(i.status_description, ''), i.done, COALESCE(i.km, 0), i.performed_at
		FROM interventions i
		JOIN vehicles v ON v.id = i.vehicle_id
		WHERE i.vehicle_id=$1 AND v.user_id=$2
		ORDER BY i.performed_at DESC
	`, vehicleID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	interventions := []Intervention{}
	for rows.Next() {
		var i Intervention
		if err := rows.Scan(&i.ID, &i.VehicleID, &i.CheckID, &i.CheckDescription, &i.StatusDescription, &i.Done, &i.Km, &i.PerformedAt); err != nil {
			return nil, err
		}
		interventions = append(interventions, i)
	}
	return interventions, rows.Err()
}

// Alerts lists maintenance notices, newest first.
func (s *Service) Alerts(ctx context.Context, userID, vehicleID string) ([]Alert, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.id, a.vehicle_id, a.content, a.posted_at
		FROM alerts a
		JOIN vehicles v ON v.id = a.vehicle_id
		WHERE a.vehicle_id=$1 AND v.user_id=$2
		ORDER BY a.posted_at DESC
	`, vehicleID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.VehicleID, &a.Content, &a.PostedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Detail loads a vehicle with its history and alerts in parallel.
func (s *Service) Detail(ctx context.Context, userID, id string) (Detail, error) {
	var detail Detail
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := s.GetVehicle(gctx, userID, id)
		if err != nil {
			return err
		}
		detail.Vehicle = v
		return nil
	})
	g.Go(func() error {
		interventions, err := s.Interventions(gctx, userID, id)
		if err != nil {
			return fmt.Errorf("load interventions: %w", err)
		}
		detail.Interventions = interventions
		return nil
	})
	g.Go(func() error {
		alerts, err := s.Alerts(gctx, userID, id)
		if err != nil {
			return fmt.Errorf("load alerts: %w", err)
		}
		detail.Alerts = alerts
		return nil
	})

	if err := g.Wait(); err != nil {
		return Detail{}, err
	}
	return detail, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
