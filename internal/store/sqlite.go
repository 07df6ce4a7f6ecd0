package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"fleetgate/internal/types"
)

// OpenDB opens (and if necessary creates) the sqlite database at path.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS machines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		os TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'unknown',
		last_seen INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);`)
	return err
}

// SQLiteStore is the sqlite-backed MachineStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const machineColumns = `id, name, display_name, hostname, ip_address, os, status, last_seen, created_at`

// ListMachines returns all machine records.
func (s *SQLiteStore) ListMachines(ctx context.Context) ([]types.MachineRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+machineColumns+` FROM machines ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	defer rows.Close()

	var records []types.MachineRecord
	for rows.Next() {
		rec, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetMachine returns the record with the given id, or (nil, nil) when absent.
func (s *SQLiteStore) GetMachine(ctx context.Context, id string) (*types.MachineRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE id = ?`, id)
	rec, err := scanMachine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// CreateMachine inserts a record, assigning a uuid when rec.ID is empty.
func (s *SQLiteStore) CreateMachine(ctx context.Context, rec types.MachineRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = types.StatusUnknown
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO machines (`+machineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.DisplayName, rec.Hostname, rec.IPAddress, rec.OS,
		string(rec.Status), rec.LastSeen.Unix(), rec.CreatedAt.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create machine: %w", err)
	}
	return rec.ID, nil
}

// UpdateMachine replaces the stored fields of rec.ID (including status and
// lastSeen).
func (s *SQLiteStore) UpdateMachine(ctx context.Context, rec types.MachineRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE machines
		 SET name=?, display_name=?, hostname=?, ip_address=?, os=?, status=?, last_seen=?
		 WHERE id=?`,
		rec.Name, rec.DisplayName, rec.Hostname, rec.IPAddress, rec.OS,
		string(rec.Status), rec.LastSeen.Unix(), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update machine %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update machine %s: %w", rec.ID, types.ErrMachineNotFound)
	}
	return nil
}

// DeleteMachine removes a record by id.
func (s *SQLiteStore) DeleteMachine(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM machines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete machine %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (types.MachineRecord, error) {
	var rec types.MachineRecord
	var status string
	var lastSeen, createdAt int64
	if err := row.Scan(&rec.ID, &rec.Name, &rec.DisplayName, &rec.Hostname,
		&rec.IPAddress, &rec.OS, &status, &lastSeen, &createdAt); err != nil {
		return types.MachineRecord{}, err
	}
	rec.Status = types.MachineStatus(status)
	if lastSeen > 0 {
		rec.LastSeen = time.Unix(lastSeen, 0)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return rec, nil
}
