// Package sqlite provides a SQLite implementation of storage.Store using the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/contactdir/contactdir-server/database"
	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/storage"
)

// timeLayout is fixed width so that text comparison follows time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// maxBatch keeps IN lists below the SQLite host parameter limit
const maxBatch = 500

const contactColumns = `id, external_id, display_name, phone_numbers, organization,
	email_addresses, created_at, updated_at, deleted_at`

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type store struct {
	db *sql.DB
}

var _ storage.Store = (*store)(nil)

// Open opens (creating if needed) the database at path and applies pending migrations
func Open(ctx context.Context, path string) (storage.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	m, err := database.NewSQLiteMigrator(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := database.MigrateUp(m); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("SQLite contact store opened", "path", path)
	return &store{db: db}, nil
}

// withTx runs fn in a transaction, rolling back on error or panic
func (s *store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = storage.Wrap("commit", tx.Commit())
	}()

	return fn(tx)
}

type tx struct {
	q dbtx
}

func (t *tx) FindByExternalID(ctx context.Context, externalID string) (*contacts.ContactRecord, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE external_id = ?`, externalID)
	r, err := scanContact(row)
	return r, storage.Wrap("find contact", err)
}

func (t *tx) Upsert(ctx context.Context, r *contacts.ContactRecord) error {
	phones, err := json.Marshal(nonNil(r.PhoneNumbers))
	if err != nil {
		return fmt.Errorf("failed to marshal phone numbers: %w", err)
	}
	emails, err := json.Marshal(nonNil(r.EmailAddresses))
	if err != nil {
		return fmt.Errorf("failed to marshal email addresses: %w", err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			display_name = excluded.display_name,
			phone_numbers = excluded.phone_numbers,
			organization = excluded.organization,
			email_addresses = excluded.email_addresses,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at`,
		r.ID.String(), r.ExternalID, r.DisplayName, string(phones), r.Organization, string(emails),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), formatTimePtr(r.DeletedAt),
	)
	return storage.Wrap("upsert contact", err)
}

func (s *store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.withTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(&tx{q: sqlTx})
	})
}

func (s *store) ListActiveExternalIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM contacts WHERE deleted_at IS NULL ORDER BY external_id`)
	if err != nil {
		return nil, storage.Wrap("list active ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storage.Wrap("list active ids", err)
		}
		ids = append(ids, id)
	}
	return ids, storage.Wrap("list active ids", rows.Err())
}

func (s *store) MarkDeleted(ctx context.Context, externalIDs []string, at time.Time) (int, error) {
	ts := formatTime(at)
	marked := 0
	err := s.withTx(ctx, func(sqlTx *sql.Tx) error {
		for start := 0; start < len(externalIDs); start += maxBatch {
			batch := externalIDs[start:min(start+maxBatch, len(externalIDs))]
			args := make([]any, 0, len(batch)+2)
			args = append(args, ts, ts)
			for _, id := range batch {
				args = append(args, id)
			}
			res, err := sqlTx.ExecContext(ctx, `
				UPDATE contacts SET deleted_at = ?, updated_at = MAX(updated_at, ?)
				WHERE deleted_at IS NULL AND external_id IN (`+placeholders(len(batch))+`)`,
				args...)
			if err != nil {
				return storage.Wrap("mark deleted", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return storage.Wrap("mark deleted", err)
			}
			marked += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

func (s *store) GetContact(ctx context.Context, externalID string) (*contacts.ContactRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE external_id = ? AND deleted_at IS NULL`, externalID)
	r, err := scanContact(row)
	return r, storage.Wrap("get contact", err)
}

func (s *store) ListContacts(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	cursorName, cursorID, err := storage.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE deleted_at IS NULL`
	var args []any
	if cursorID != "" {
		query += ` AND (display_name, external_id) > (?, ?)`
		args = append(args, cursorName, cursorID)
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		pattern := "%" + storage.EscapeLike(search) + "%"
		query += ` AND (display_name LIKE ? ESCAPE '\' OR organization LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	limit := opts.GetLimit()
	query += ` ORDER BY display_name, external_id LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap("list contacts", err)
	}
	defer rows.Close()

	result := &storage.ListResult{}
	for rows.Next() {
		r, err := scanContact(rows)
		if err != nil {
			return nil, storage.Wrap("list contacts", err)
		}
		result.Contacts = append(result.Contacts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("list contacts", err)
	}

	if len(result.Contacts) > limit {
		result.Contacts = result.Contacts[:limit]
		last := result.Contacts[limit-1]
		result.NextCursor = storage.EncodeCursor(last.DisplayName, last.ExternalID)
	}
	return result, nil
}

func (s *store) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts WHERE deleted_at IS NULL`).Scan(&count)
	return count, storage.Wrap("count contacts", err)
}

func (s *store) LoadSyncState(ctx context.Context) (*status.SyncState, error) {
	var (
		st                    status.SyncState
		statusStr             string
		lastSyncAt, startedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, last_sync_at, last_error, last_error_kind, started_at, attempt_id,
			records_processed, records_created, records_updated, records_deleted
		FROM sync_state WHERE id = 1`).Scan(
		&statusStr, &lastSyncAt, &st.LastError, &st.LastErrorKind, &startedAt, &st.AttemptID,
		&st.RecordsProcessed, &st.RecordsCreated, &st.RecordsUpdated, &st.RecordsDeleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &status.SyncState{}, nil
	}
	if err != nil {
		return nil, storage.Wrap("load sync state", err)
	}
	st.Status = status.Status(statusStr)
	if st.LastSyncAt, err = parseTimePtr(lastSyncAt); err != nil {
		return nil, storage.Wrap("load sync state", err)
	}
	if st.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, storage.Wrap("load sync state", err)
	}
	return &st, nil
}

func (s *store) SaveSyncState(ctx context.Context, st *status.SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, status, last_sync_at, last_error, last_error_kind, started_at,
			attempt_id, records_processed, records_created, records_updated, records_deleted)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			last_sync_at = excluded.last_sync_at,
			last_error = excluded.last_error,
			last_error_kind = excluded.last_error_kind,
			started_at = excluded.started_at,
			attempt_id = excluded.attempt_id,
			records_processed = excluded.records_processed,
			records_created = excluded.records_created,
			records_updated = excluded.records_updated,
			records_deleted = excluded.records_deleted`,
		string(st.Status), formatTimePtr(st.LastSyncAt), st.LastError, st.LastErrorKind,
		formatTimePtr(st.StartedAt), st.AttemptID,
		st.RecordsProcessed, st.RecordsCreated, st.RecordsUpdated, st.RecordsDeleted,
	)
	return storage.Wrap("save sync state", err)
}

func (s *store) Ping(ctx context.Context) error {
	return storage.Wrap("ping", s.db.PingContext(ctx))
}

func (s *store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(row scanner) (*contacts.ContactRecord, error) {
	var (
		r                    contacts.ContactRecord
		id                   string
		phones, emails       string
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	err := row.Scan(&id, &r.ExternalID, &r.DisplayName, &phones, &r.Organization, &emails,
		&createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid contact id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(phones), &r.PhoneNumbers); err != nil {
		return nil, fmt.Errorf("invalid phone numbers for %s: %w", r.ExternalID, err)
	}
	if err := json.Unmarshal([]byte(emails), &r.EmailAddresses); err != nil {
		return nil, fmt.Errorf("invalid email addresses for %s: %w", r.ExternalID, err)
	}
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, err
	}
	if r.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, err
	}
	r.NormalizeTimes()
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
