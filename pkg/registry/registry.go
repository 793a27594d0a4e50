// Package registry resolves vehicle VINs to internal vehicle identifiers.
package registry

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrUnknownVehicle reports a VIN with no registered vehicle.
var ErrUnknownVehicle = errors.New("registry: unknown vehicle")

// Registry wraps the SQLite vehicle table. The first VIN resolved
// successfully is treated as the fleet's primary vehicle and served from
// cache; other VINs are looked up on demand.
type Registry struct {
	conn *sql.DB

	mu         sync.RWMutex
	primaryVIN string
	primaryID  string
}

// Open creates the registry database connection
func Open(path string) (*Registry, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL", path)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	r := &Registry{conn: conn}
	if err := r.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return r, nil
}

// initialize creates tables and indexes
func (r *Registry) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		vin TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_vehicles_vin ON vehicles(vin);
	`
	_, err := r.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (r *Registry) Close() error {
	return r.conn.Close()
}

// ResolveVIN returns the internal vehicle id for a VIN.
// Returns ErrUnknownVehicle when no vehicle is registered under the VIN.
func (r *Registry) ResolveVIN(vin string) (string, error) {
	r.mu.RLock()
	if vin != "" && vin == r.primaryVIN {
		id := r.primaryID
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	var id string
	err := r.conn.QueryRow(`SELECT id FROM vehicles WHERE vin = ?`, vin).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownVehicle, vin)
	}
	if err != nil {
		return "", err
	}

	// First resolved vehicle becomes the cached primary.
	r.mu.Lock()
	if r.primaryVIN == "" {
		r.primaryVIN = vin
		r.primaryID = id
	}
	r.mu.Unlock()

	return id, nil
}

// EnsureVehicle registers a vehicle if it does not exist and returns its
// internal id. Used for fleet seeding.
func (r *Registry) EnsureVehicle(vin, displayName string) (string, error) {
	var id string
	err := r.conn.QueryRow(`SELECT id FROM vehicles WHERE vin = ?`, vin).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id = newVehicleID()
	_, err = r.conn.Exec(
		`INSERT INTO vehicles (id, vin, display_name) VALUES (?, ?, ?)`,
		id, vin, displayName,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert vehicle: %w", err)
	}
	return id, nil
}

// ListVehicles returns all registered VINs with their ids
func (r *Registry) ListVehicles() (map[string]string, error) {
	rows, err := r.conn.Query(`SELECT vin, id FROM vehicles ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := make(map[string]string)
	for rows.Next() {
		var vin, id string
		if err := rows.Scan(&vin, &id); err != nil {
			return nil, err
		}
		vehicles[vin] = id
	}
	return vehicles, rows.Err()
}

func newVehicleID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
