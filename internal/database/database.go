package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"socialqueue/internal/constants"
	"socialqueue/internal/migrations"
	"socialqueue/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the SQLite queue store.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	now       func() time.Time
}

func New(dbPath string, opts EncryptionOptions) (*Database, error) {
	if len(dbPath) == 0 || strings.ContainsRune(dbPath, '\x00') {
		return nil, fmt.Errorf("invalid database path")
	}

	encryptor, err := newEncryptor(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultDatabaseFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: concurrent completions queue here instead of on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db, encryptor: encryptor, now: time.Now}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

const entryColumns = `id, channel, owner_id, created_at, scheduled_at, credentials,
	payload, payload_key, source_block_ref, status, result_message, completed_at`

// Put inserts a new entry.
func (d *Database) Put(ctx context.Context, entry *models.QueueEntry) error {
	credentials, err := d.encryptor.Encrypt(entry.Credentials)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	query := `
		INSERT INTO scheduled_posts (
			id, channel, owner_id, created_at, scheduled_at, credentials,
			payload, payload_key, source_block_ref, status, result_message, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = withRetry(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			entry.ID,
			string(entry.Channel),
			entry.OwnerID,
			entry.CreatedAt.UnixMilli(),
			entry.ScheduledAt.UnixMilli(),
			credentials,
			nullString(entry.Payload),
			nullString(entry.PayloadKey),
			nullString(entry.SourceBlockRef),
			string(entry.Status),
			nullString(entry.ResultMessage),
			d.now().UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save queue entry: %w", err)
	}
	return nil
}

// Get returns the entry with the given id, or nil when there is none.
func (d *Database) Get(ctx context.Context, id string) (*models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM scheduled_posts WHERE id = ?`

	entry, err := d.scanEntry(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return entry, nil
}

// QueryDue returns the entries of a channel scheduled within [from, to),
// whatever their status.
func (d *Database) QueryDue(ctx context.Context, channel models.Channel, from, to time.Time) ([]*models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM scheduled_posts
		WHERE channel = ? AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at ASC`

	entries, err := d.queryEntries(ctx, query, string(channel), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}
	return entries, nil
}

// ListByOwner returns every entry an owner has scheduled on a channel.
func (d *Database) ListByOwner(ctx context.Context, owner string, channel models.Channel) ([]*models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM scheduled_posts
		WHERE owner_id = ? AND channel = ?
		ORDER BY scheduled_at ASC`

	entries, err := d.queryEntries(ctx, query, owner, string(channel))
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, nil
}

// Update rewrites the schedule, payload and credentials of a PENDING entry.
func (d *Database) Update(ctx context.Context, entry *models.QueueEntry) error {
	credentials, err := d.encryptor.Encrypt(entry.Credentials)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	query := `
		UPDATE scheduled_posts
		SET scheduled_at = ?, credentials = ?, payload = ?, payload_key = ?,
			source_block_ref = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	var affected int64
	err = withRetry(ctx, func() error {
		result, err := d.db.ExecContext(ctx, query,
			entry.ScheduledAt.UnixMilli(),
			credentials,
			nullString(entry.Payload),
			nullString(entry.PayloadKey),
			nullString(entry.SourceBlockRef),
			d.now().UnixMilli(),
			entry.ID,
			string(models.StatusPending),
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	if affected == 0 {
		return d.missOrCompleted(ctx, entry.ID)
	}
	return nil
}

// Complete moves a PENDING entry to its terminal status. It returns
// models.ErrAlreadyCompleted when the entry has left PENDING already.
func (d *Database) Complete(ctx context.Context, id string, status models.Status, message string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	now := d.now().UnixMilli()
	query := `
		UPDATE scheduled_posts
		SET status = ?, result_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	var affected int64
	err := withRetry(ctx, func() error {
		result, err := d.db.ExecContext(ctx, query,
			string(status), message, now, now, id, string(models.StatusPending))
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to complete queue entry: %w", err)
	}
	if affected == 0 {
		return d.missOrCompleted(ctx, id)
	}
	return nil
}

// Delete removes an entry. Deleting a missing id is not an error.
func (d *Database) Delete(ctx context.Context, id string) error {
	err := withRetry(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	return nil
}

func (d *Database) missOrCompleted(ctx context.Context, id string) error {
	var exists int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM scheduled_posts WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return models.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check queue entry: %w", err)
	}
	return models.ErrAlreadyCompleted
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*models.QueueEntry, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := d.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (d *Database) scanEntry(row rowScanner) (*models.QueueEntry, error) {
	var (
		entry                         models.QueueEntry
		channel, status, credentials  string
		createdAt, scheduledAt        int64
		payload, payloadKey, blockRef sql.NullString
		resultMessage                 sql.NullString
		completedAt                   sql.NullInt64
	)

	if err := row.Scan(
		&entry.ID,
		&channel,
		&entry.OwnerID,
		&createdAt,
		&scheduledAt,
		&credentials,
		&payload,
		&payloadKey,
		&blockRef,
		&status,
		&resultMessage,
		&completedAt,
	); err != nil {
		return nil, err
	}

	decrypted, err := d.encryptor.Decrypt(credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	entry.Channel = models.Channel(channel)
	entry.Status = models.Status(status)
	entry.Credentials = decrypted
	entry.CreatedAt = time.UnixMilli(createdAt).UTC()
	entry.ScheduledAt = time.UnixMilli(scheduledAt).UTC()
	entry.Payload = payload.String
	entry.PayloadKey = payloadKey.String
	entry.SourceBlockRef = blockRef.String
	entry.ResultMessage = resultMessage.String
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		entry.CompletedAt = &t
	}
	return &entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
