package gate

import (
	"context"
	"database/sql"
	"fmt"
)

// DeviceRepository persists the last successful device discovery.
//
// The repository is a warm-start cache, not the source of truth: the backend
// is authoritative and every successful discovery replaces the stored set
// wholesale.
type DeviceRepository interface {
	// ReplaceAll atomically replaces the stored device set.
	ReplaceAll(ctx context.Context, devices []Device) error

	// List returns all stored devices, ordered by gateway then slot.
	List(ctx context.Context) ([]Device, error)
}

// SQLiteDeviceRepository implements DeviceRepository using SQLite.
type SQLiteDeviceRepository struct {
	db *sql.DB
}

// NewSQLiteDeviceRepository creates a new SQLite device repository.
func NewSQLiteDeviceRepository(db *sql.DB) *SQLiteDeviceRepository {
	return &SQLiteDeviceRepository{db: db}
}

// ReplaceAll atomically replaces the stored device set with the given one.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - devices: The full discovery result (may be empty)
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteDeviceRepository) ReplaceAll(ctx context.Context, devices []Device) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM doors"); err != nil {
		return fmt.Errorf("clearing doors: %w", err)
	}

	for _, d := range devices {
		if d.ID == "" {
			return fmt.Errorf("device id is required")
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO doors (id, name, gateway_id, slot, shared, updated_at)
			 VALUES (?, ?, ?, ?, ?, datetime('now'))`,
			d.ID, d.Name, d.GatewayID, d.Slot, d.Shared,
		)
		if err != nil {
			return fmt.Errorf("inserting door %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing doors: %w", err)
	}
	return nil
}

// List returns all stored devices, ordered by gateway then slot.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - []Device: The stored devices (may be empty, never nil on success)
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteDeviceRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, gateway_id, slot, shared
		 FROM doors
		 ORDER BY gateway_id, slot`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying doors: %w", err)
	}
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Name, &d.GatewayID, &d.Slot, &d.Shared); err != nil {
			return nil, fmt.Errorf("scanning door: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating doors: %w", err)
	}
	return devices, nil
}
