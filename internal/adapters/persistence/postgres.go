package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lab-dispatch-service/internal/domain"
	"lab-dispatch-service/internal/ports"
)

// Postgres implements the persistence API over a postgres database
// (pgx stdlib driver, see internal/platform/db).
type Postgres struct {
	DB *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{DB: db} }

func (p *Postgres) Routes() ports.RouteStore       { return &pgRoutes{p.DB} }
func (p *Postgres) Pickups() ports.PickupStore     { return &pgPickups{p.DB} }
func (p *Postgres) Vehicles() ports.VehicleStore   { return &pgVehicles{p.DB} }
func (p *Postgres) Providers() ports.ProviderStore { return &pgProviders{p.DB} }
func (p *Postgres) Cases() ports.CaseUpdater       { return &pgCases{p.DB} }

// whereClause renders filters as parameterized SQL. Scalar values become
// equality checks; []string values become ANY-style inclusion checks.
// Column names come from the fixed allow-list, never from caller input.
func whereClause(f ports.Filters, allowed map[string]string) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, nil
	}

	conds := make([]string, 0, len(f))
	args := make([]any, 0, len(f))
	for key, want := range f {
		col, ok := allowed[key]
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter %q", key)
		}

		switch w := want.(type) {
		case string:
			args = append(args, w)
			conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
		case []string:
			ph := make([]string, 0, len(w))
			for _, v := range w {
				args = append(args, v)
				ph = append(ph, fmt.Sprintf("$%d", len(args)))
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ",")))
		default:
			return "", nil, fmt.Errorf("unsupported filter value for %q", key)
		}
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

type pgRoutes struct{ db *sql.DB }

var routeColumns = map[string]string{
	"id":        "id",
	"lab_id":    "lab_id",
	"status":    "status",
	"driver_id": "driver_id",
	"date":      "date",
}

const routeSelect = `SELECT id, lab_id, name, driver_id, date, status, stops,
	total_distance_km, estimated_duration_min FROM routes`

func scanRoute(scan func(...any) error) (*domain.Route, error) {
	var r domain.Route
	var stops []byte
	if err := scan(&r.ID, &r.LabID, &r.Name, &r.DriverID, &r.Date, &r.Status,
		&stops, &r.Metrics.TotalDistanceKm, &r.Metrics.EstimatedDurationMin); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stops, &r.Stops); err != nil {
		return nil, fmt.Errorf("decode stops: %w", err)
	}
	return &r, nil
}

func (s *pgRoutes) GetAll(ctx context.Context, f ports.Filters) ([]*domain.Route, error) {
	where, args, err := whereClause(f, routeColumns)
	if err != nil {
		return nil, fmt.Errorf("get routes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, routeSelect+where, args...)
	if err != nil {
		return nil, fmt.Errorf("get routes: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Route, 0)
	for rows.Next() {
		r, err := scanRoute(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("get routes: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get routes: %w", err)
	}
	return out, nil
}

func (s *pgRoutes) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	row := s.db.QueryRowContext(ctx, routeSelect+" WHERE id = $1", id)
	r, err := scanRoute(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "route", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	return r, nil
}

func (s *pgRoutes) Create(ctx context.Context, r *domain.Route) (*domain.Route, error) {
	stops, err := json.Marshal(r.Stops)
	if err != nil {
		return nil, fmt.Errorf("create route: encode stops: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routes (id, lab_id, name, driver_id, date, status, stops,
			total_distance_km, estimated_duration_min)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.LabID, r.Name, r.DriverID, r.Date, r.Status, stops,
		r.Metrics.TotalDistanceKm, r.Metrics.EstimatedDurationMin)
	if err != nil {
		return nil, fmt.Errorf("create route: %w", err)
	}
	return r, nil
}

func (s *pgRoutes) Update(ctx context.Context, r *domain.Route) (*domain.Route, error) {
	stops, err := json.Marshal(r.Stops)
	if err != nil {
		return nil, fmt.Errorf("update route: encode stops: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE routes SET name = $2, driver_id = $3, date = $4, status = $5,
			stops = $6, total_distance_km = $7, estimated_duration_min = $8
		WHERE id = $1`,
		r.ID, r.Name, r.DriverID, r.Date, r.Status, stops,
		r.Metrics.TotalDistanceKm, r.Metrics.EstimatedDurationMin)
	if err != nil {
		return nil, fmt.Errorf("update route: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &domain.NotFoundError{Kind: "route", ID: r.ID}
	}
	return r, nil
}

func (s *pgRoutes) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM routes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete route: %w", err)
	}
	return nil
}

type pgPickups struct{ db *sql.DB }

var pickupColumns = map[string]string{
	"id":        "id",
	"lab_id":    "lab_id",
	"clinic_id": "clinic_id",
	"status":    "status",
}

const pickupSelect = `SELECT id, lab_id, clinic_id, status, request_time,
	is_rush, window_start, lat, lng FROM pickups`

func scanPickup(scan func(...any) error) (*domain.Pickup, error) {
	var p domain.Pickup
	var lat, lng sql.NullFloat64
	if err := scan(&p.ID, &p.LabID, &p.ClinicID, &p.Status, &p.RequestTime,
		&p.IsRush, &p.WindowStart, &lat, &lng); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		p.Coordinates = &domain.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &p, nil
}

func (s *pgPickups) GetAll(ctx context.Context, f ports.Filters) ([]*domain.Pickup, error) {
	where, args, err := whereClause(f, pickupColumns)
	if err != nil {
		return nil, fmt.Errorf("get pickups: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, pickupSelect+where, args...)
	if err != nil {
		return nil, fmt.Errorf("get pickups: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Pickup, 0)
	for rows.Next() {
		p, err := scanPickup(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("get pickups: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get pickups: %w", err)
	}
	return out, nil
}

func (s *pgPickups) GetByID(ctx context.Context, id string) (*domain.Pickup, error) {
	row := s.db.QueryRowContext(ctx, pickupSelect+" WHERE id = $1", id)
	p, err := scanPickup(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "pickup", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get pickup: %w", err)
	}
	return p, nil
}

func (s *pgPickups) Create(ctx context.Context, p *domain.Pickup) (*domain.Pickup, error) {
	var lat, lng any
	if p.Coordinates != nil {
		lat, lng = p.Coordinates.Lat, p.Coordinates.Lng
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pickups (id, lab_id, clinic_id, status, request_time,
			is_rush, window_start, lat, lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.LabID, p.ClinicID, p.Status, p.RequestTime,
		p.IsRush, p.WindowStart, lat, lng)
	if err != nil {
		return nil, fmt.Errorf("create pickup: %w", err)
	}
	return p, nil
}

func (s *pgPickups) Update(ctx context.Context, p *domain.Pickup) (*domain.Pickup, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pickups SET status = $2, window_start = $3 WHERE id = $1`,
		p.ID, p.Status, p.WindowStart)
	if err != nil {
		return nil, fmt.Errorf("update pickup: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &domain.NotFoundError{Kind: "pickup", ID: p.ID}
	}
	return p, nil
}

func (s *pgPickups) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pickups WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pickup: %w", err)
	}
	return nil
}

type pgVehicles struct{ db *sql.DB }

var vehicleColumns = map[string]string{
	"lab_id": "lab_id",
	"status": "status",
}

func (s *pgVehicles) GetAll(ctx context.Context, f ports.Filters) ([]*domain.Vehicle, error) {
	where, args, err := whereClause(f, vehicleColumns)
	if err != nil {
		return nil, fmt.Errorf("get vehicles: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lab_id, status, assigned_driver_id FROM vehicles`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("get vehicles: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Vehicle, 0)
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.LabID, &v.Status, &v.AssignedDriverID); err != nil {
			return nil, fmt.Errorf("get vehicles: %w", err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get vehicles: %w", err)
	}
	return out, nil
}

type pgProviders struct{ db *sql.DB }

var providerColumns = map[string]string{
	"type":   "type",
	"status": "status",
}

func (s *pgProviders) GetAll(ctx context.Context, f ports.Filters) ([]*domain.Provider, error) {
	where, args, err := whereClause(f, providerColumns)
	if err != nil {
		return nil, fmt.Errorf("get providers: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, max_weight_kg, temperature_control,
			fragile_handling, fallback_priority
		FROM providers`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("get providers: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Provider, 0)
	for rows.Next() {
		var p domain.Provider
		if err := rows.Scan(&p.ID, &p.Type, &p.Status, &p.Capabilities.MaxWeightKg,
			&p.Capabilities.TemperatureControl, &p.Capabilities.FragileHandling,
			&p.Integration.FallbackPriority); err != nil {
			return nil, fmt.Errorf("get providers: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get providers: %w", err)
	}
	return out, nil
}

type pgCases struct{ db *sql.DB }

// Update applies a partial case update. Only the provided fields change;
// delivery metadata is merged into the existing jsonb document.
func (s *pgCases) Update(ctx context.Context, caseID string, patch ports.CasePatch) error {
	meta, err := json.Marshal(map[string]any{
		"deliveredAt": patch.DeliveredAt,
		"routeId":     patch.RouteID,
		"routeName":   patch.RouteName,
		"stopId":      patch.StopID,
		"proof":       patch.Proof,
	})
	if err != nil {
		return fmt.Errorf("update case: encode metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE cases SET status = $2, delivery_meta = delivery_meta || $3::jsonb
		WHERE id = $1`,
		caseID, patch.Status, meta)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "case", ID: caseID}
	}
	return nil
}
