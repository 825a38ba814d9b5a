package device

import (
	"context"
	"database/sql"
	"fmt"
)

// Directory is the read-only source of device records.
//
// Implementations must be safe for concurrent use. The cache calls
// FetchAll for every initial load and refresh.
type Directory interface {
	// FetchAll returns every known device. Any error means the directory
	// could not be read; partial results are never returned.
	FetchAll(ctx context.Context) ([]Device, error)
}

// SQLiteDirectory implements Directory over the switch_devices table.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory creates a directory backed by an open SQLite connection.
// The schema is created by the embedded migrations.
func NewSQLiteDirectory(db *sql.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

// FetchAll retrieves all device records ordered by room then alias.
func (r *SQLiteDirectory) FetchAll(ctx context.Context) ([]Device, error) {
	query := `
		SELECT id, topic, alias, room, payload_on, payload_off, device_type
		FROM switch_devices
		ORDER BY room, alias, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Topic, &d.Alias, &d.Room, &d.PayloadOn, &d.PayloadOff, &d.Type); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}

	return devices, nil
}

// Create inserts a device record and sets its ID.
// Used for seeding and tests; the skill itself never writes to the directory.
func (r *SQLiteDirectory) Create(ctx context.Context, d *Device) error {
	if err := ValidateDevice(*d); err != nil {
		return err
	}
	*d = d.withDefaults()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO switch_devices (topic, alias, room, payload_on, payload_off, device_type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.Topic, d.Alias, d.Room, d.PayloadOn, d.PayloadOff, d.Type,
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	d.ID = id
	return nil
}
