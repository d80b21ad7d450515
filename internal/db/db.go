package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the SQLite connection pool.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

var (
	ErrNotFound             = errors.New("not found")
	ErrReservationsPaused   = errors.New("reservations are paused")
	ErrReservationsDisabled = errors.New("business does not accept direct reservations")
	ErrSlotNotFound         = errors.New("no such slot on this date")
	ErrSlotClosed           = errors.New("slot is closed")
	ErrSlotFull             = errors.New("slot is fully booked")
	ErrPartyTooLarge        = errors.New("party size exceeds slot maximum")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrCheckInNotAllowed    = errors.New("reservation cannot be checked in")
	ErrAlreadyCheckedIn     = errors.New("reservation already checked in")
)

// NewDB opens the database at path and applies migrations.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Writers take the lock at BEGIN so capacity checks see a stable count.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: conn, path: path, logger: logger}
	if err := instance.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS businesses (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			accepts_direct_reservations BOOLEAN NOT NULL DEFAULT 0,
			reservations_paused BOOLEAN NOT NULL DEFAULT 0,
			staff_chat_id INTEGER NOT NULL DEFAULT 0,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			time_slots TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			title TEXT NOT NULL,
			starts_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (business_id) REFERENCES businesses(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			business_id TEXT,
			event_id TEXT,
			offer_purchase_id TEXT,
			user_id TEXT,
			guest_name TEXT NOT NULL,
			guest_email TEXT,
			guest_phone TEXT,
			notes TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			party_size INTEGER NOT NULL,
			preferred_time DATETIME NOT NULL,
			reservation_date TEXT NOT NULL,
			slot_time TEXT NOT NULL DEFAULT '',
			seating_preference TEXT NOT NULL DEFAULT 'no_preference',
			confirmation_code TEXT NOT NULL UNIQUE,
			qr_code_token TEXT NOT NULL UNIQUE,
			checked_in_at DATETIME,
			checked_in_by TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (event_id) REFERENCES events(id)
		)`,
		`CREATE TABLE IF NOT EXISTS slot_closures (
			business_id TEXT NOT NULL,
			closure_date TEXT NOT NULL,
			slot_time TEXT NOT NULL,
			closed_by TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (business_id, closure_date, slot_time)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			business_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT,
			details TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_events_business ON events(business_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_slot ON reservations(business_id, reservation_date, slot_time, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_event ON reservations(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status_time ON reservations(status, preferred_time)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_business_time ON audit_logs(business_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", trimSQL(query), err)
		}
	}
	return db.ensureNewColumns()
}

// ensureNewColumns adds columns introduced after the first schema version.
func (db *DB) ensureNewColumns() error {
	migrations := []string{
		`ALTER TABLE reservations ADD COLUMN offer_purchase_id TEXT`,
		`ALTER TABLE reservations ADD COLUMN notes TEXT`,
		`ALTER TABLE reservations ADD COLUMN checked_in_by TEXT`,
		`ALTER TABLE businesses ADD COLUMN staff_chat_id INTEGER NOT NULL DEFAULT 0`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration %q: %w", m, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func trimSQL(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 60 {
		return q[:60] + "..."
	}
	return q
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrFromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
