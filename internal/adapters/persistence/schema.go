package persistence

import (
	"database/sql"
	"fmt"
)

// InitSchema creates the dispatch tables when they do not exist. Stops
// travel as a jsonb document inside their route row: the route is the
// aggregate and stop order matters more than per-stop queryability.
func InitSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			lab_id TEXT NOT NULL,
			name TEXT NOT NULL,
			driver_id TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			status TEXT NOT NULL,
			stops JSONB NOT NULL DEFAULT '[]',
			total_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
			estimated_duration_min DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS routes_lab_date_idx ON routes (lab_id, date)`,
		`CREATE TABLE IF NOT EXISTS pickups (
			id TEXT PRIMARY KEY,
			lab_id TEXT NOT NULL,
			clinic_id TEXT NOT NULL,
			status TEXT NOT NULL,
			request_time TIMESTAMPTZ NOT NULL,
			is_rush BOOLEAN NOT NULL DEFAULT FALSE,
			window_start TIMESTAMPTZ,
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS vehicles (
			id TEXT PRIMARY KEY,
			lab_id TEXT NOT NULL,
			status TEXT NOT NULL,
			assigned_driver_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			max_weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
			temperature_control BOOLEAN NOT NULL DEFAULT FALSE,
			fragile_handling BOOLEAN NOT NULL DEFAULT FALSE,
			fallback_priority INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			delivery_meta JSONB NOT NULL DEFAULT '{}'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
