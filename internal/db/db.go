// Package db caches remote data in a local SQLite file so the popup and the
// report command keep working while offline. The remote API stays
// authoritative; rows here are replaced on every sync.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT,
		is_archived BOOLEAN NOT NULL DEFAULT 0,
		is_billable BOOLEAN NOT NULL DEFAULT 0,
		FOREIGN KEY (organization_id) REFERENCES organizations(id)
	);

	CREATE TABLE IF NOT EXISTS time_entries (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		project_id TEXT,
		description TEXT NOT NULL,
		start TIMESTAMP NOT NULL,
		end TIMESTAMP,
		duration INTEGER,
		billable BOOLEAN NOT NULL DEFAULT 0,
		FOREIGN KEY (organization_id) REFERENCES organizations(id)
	);

	CREATE TABLE IF NOT EXISTS sync_metadata (
		organization TEXT PRIMARY KEY,
		last_sync_time TIMESTAMP NOT NULL
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveOrganization saves an organization to the database
func (db *DB) SaveOrganization(org *models.Organization) error {
	query := `
	INSERT INTO organizations (id, name, currency)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		currency = excluded.currency
	`

	_, err := db.Exec(query, org.ID, org.Name, org.Currency)
	if err != nil {
		return fmt.Errorf("failed to save organization: %w", err)
	}

	return nil
}

// SaveProject saves a project to the database
func (db *DB) SaveProject(project *models.Project, orgID string) error {
	query := `
	INSERT INTO projects (id, organization_id, name, color, is_archived, is_billable)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		color = excluded.color,
		is_archived = excluded.is_archived,
		is_billable = excluded.is_billable
	`

	_, err := db.Exec(query, project.ID, orgID, project.Name, project.Color, project.IsArchived, project.IsBillable)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}

	return nil
}

// SaveTimeEntry saves a time entry to the database
func (db *DB) SaveTimeEntry(entry *models.TimeEntry) error {
	query := `
	INSERT INTO time_entries (id, organization_id, project_id, description, start, end, duration, billable)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		project_id = excluded.project_id,
		description = excluded.description,
		start = excluded.start,
		end = excluded.end,
		duration = excluded.duration,
		billable = excluded.billable
	`

	_, err := db.Exec(query, entry.ID, entry.OrganizationID, entry.ProjectID,
		entry.Description, entry.Start, entry.End, entry.Duration, entry.Billable)
	if err != nil {
		return fmt.Errorf("failed to save time entry: %w", err)
	}

	return nil
}

// GetLastSyncTime gets the last sync time for an organization
func (db *DB) GetLastSyncTime(orgID string) (time.Time, error) {
	var lastSync time.Time
	err := db.QueryRow(
		"SELECT last_sync_time FROM sync_metadata WHERE organization = ?", orgID,
	).Scan(&lastSync)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}
	return lastSync, nil
}

// UpdateLastSyncTime updates the last sync time for an organization
func (db *DB) UpdateLastSyncTime(orgID string, t time.Time) error {
	query := `
	INSERT INTO sync_metadata (organization, last_sync_time)
	VALUES (?, ?)
	ON CONFLICT(organization) DO UPDATE SET
		last_sync_time = excluded.last_sync_time
	`

	_, err := db.Exec(query, orgID, t)
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}
	return nil
}

// DayTotal is one row of a per-day tracked time report.
type DayTotal struct {
	Day     string
	Seconds int64
	Entries int
}

// DailyTotals sums tracked seconds per day for an organization, most recent
// day first. Running entries (no end) are excluded.
func (db *DB) DailyTotals(orgID string, limit int) ([]DayTotal, error) {
	rows, err := db.Query(`
	SELECT date(start) AS day, COALESCE(SUM(duration), 0), COUNT(*)
	FROM time_entries
	WHERE organization_id = ? AND end IS NOT NULL
	GROUP BY day
	ORDER BY day DESC
	LIMIT ?`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily totals: %w", err)
	}
	defer rows.Close()

	var totals []DayTotal
	for rows.Next() {
		var t DayTotal
		if err := rows.Scan(&t.Day, &t.Seconds, &t.Entries); err != nil {
			return nil, fmt.Errorf("failed to scan daily total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
