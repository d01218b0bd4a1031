// Package postgres provides a PostgreSQL implementation of storage.Store
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/storage"
)

const contactColumns = `id, external_id, display_name, phone_numbers, organization,
	email_addresses, created_at, updated_at, deleted_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*store)(nil)

// New creates a store over the given pool. The store owns the pool and
// closes it on Close.
func New(pool *pgxpool.Pool) (storage.Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &store{pool: pool}, nil
}

type tx struct {
	q querier
}

func (t *tx) FindByExternalID(ctx context.Context, externalID string) (*contacts.ContactRecord, error) {
	row := t.q.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE external_id = $1`, externalID)
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

	_, err = t.q.Exec(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			phone_numbers = EXCLUDED.phone_numbers,
			organization = EXCLUDED.organization,
			email_addresses = EXCLUDED.email_addresses,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at`,
		r.ID, r.ExternalID, r.DisplayName, phones, r.Organization, emails,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(), utcPtr(r.DeletedAt),
	)
	return storage.Wrap("upsert contact", err)
}

// InTx applies fn within a read-committed transaction
func (s *store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return storage.Wrap("begin", err)
	}
	defer func() {
		if rollbackErr := rollback(ctx, pgTx); rollbackErr != nil {
			slog.Warn("Failed to roll back page transaction", "error", rollbackErr)
		}
	}()

	if err := fn(&tx{q: pgTx}); err != nil {
		return err
	}

	return storage.Wrap("commit", pgTx.Commit(ctx))
}

// rollback ends an uncommitted transaction, also after ctx was cancelled
func rollback(ctx context.Context, pgTx pgx.Tx) error {
	err := pgTx.Rollback(context.WithoutCancel(ctx))
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (s *store) ListActiveExternalIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT external_id FROM contacts WHERE deleted_at IS NULL ORDER BY external_id`)
	if err != nil {
		return nil, storage.Wrap("list active ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, storage.Wrap("list active ids", err)
}

func (s *store) MarkDeleted(ctx context.Context, externalIDs []string, at time.Time) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE contacts SET deleted_at = $1, updated_at = GREATEST(updated_at, $1)
		WHERE deleted_at IS NULL AND external_id = ANY($2)`,
		at.UTC(), externalIDs)
	if err != nil {
		return 0, storage.Wrap("mark deleted", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *store) GetContact(ctx context.Context, externalID string) (*contacts.ContactRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE external_id = $1 AND deleted_at IS NULL`, externalID)
	r, err := scanContact(row)
	return r, storage.Wrap("get contact", err)
}

func (s *store) ListContacts(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	cursorName, cursorID, err := storage.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}

	var (
		conds = []string{"deleted_at IS NULL"}
		args  []any
	)
	if cursorID != "" {
		args = append(args, cursorName, cursorID)
		conds = append(conds, fmt.Sprintf(
			`(display_name COLLATE "C" > $%d OR (display_name = $%d AND external_id COLLATE "C" > $%d))`,
			len(args)-1, len(args)-1, len(args)))
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		args = append(args, "%"+storage.EscapeLike(search)+"%")
		conds = append(conds, fmt.Sprintf(`(display_name ILIKE $%d OR organization ILIKE $%d)`, len(args), len(args)))
	}
	limit := opts.GetLimit()
	args = append(args, limit+1)

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(` ORDER BY display_name COLLATE "C", external_id COLLATE "C" LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
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
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contacts WHERE deleted_at IS NULL`).Scan(&count)
	return count, storage.Wrap("count contacts", err)
}

func (s *store) LoadSyncState(ctx context.Context) (*status.SyncState, error) {
	var (
		st        status.SyncState
		statusStr string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT status, last_sync_at, last_error, last_error_kind, started_at, attempt_id,
			records_processed, records_created, records_updated, records_deleted
		FROM sync_state WHERE id = 1`).Scan(
		&statusStr, &st.LastSyncAt, &st.LastError, &st.LastErrorKind, &st.StartedAt, &st.AttemptID,
		&st.RecordsProcessed, &st.RecordsCreated, &st.RecordsUpdated, &st.RecordsDeleted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &status.SyncState{}, nil
	}
	if err != nil {
		return nil, storage.Wrap("load sync state", err)
	}
	st.Status = status.Status(statusStr)
	st.LastSyncAt = utcPtr(st.LastSyncAt)
	st.StartedAt = utcPtr(st.StartedAt)
	return &st, nil
}

func (s *store) SaveSyncState(ctx context.Context, st *status.SyncState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (id, status, last_sync_at, last_error, last_error_kind, started_at,
			attempt_id, records_processed, records_created, records_updated, records_deleted)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_sync_at = EXCLUDED.last_sync_at,
			last_error = EXCLUDED.last_error,
			last_error_kind = EXCLUDED.last_error_kind,
			started_at = EXCLUDED.started_at,
			attempt_id = EXCLUDED.attempt_id,
			records_processed = EXCLUDED.records_processed,
			records_created = EXCLUDED.records_created,
			records_updated = EXCLUDED.records_updated,
			records_deleted = EXCLUDED.records_deleted`,
		string(st.Status), utcPtr(st.LastSyncAt), st.LastError, st.LastErrorKind,
		utcPtr(st.StartedAt), st.AttemptID,
		st.RecordsProcessed, st.RecordsCreated, st.RecordsUpdated, st.RecordsDeleted,
	)
	return storage.Wrap("save sync state", err)
}

func (s *store) Ping(ctx context.Context) error {
	return storage.Wrap("ping", s.pool.Ping(ctx))
}

func (s *store) Close() error {
	slog.Info("Closing database connection pool")
	s.pool.Close()
	return nil
}

func scanContact(row pgx.Row) (*contacts.ContactRecord, error) {
	var (
		r              contacts.ContactRecord
		id             uuid.UUID
		phones, emails []byte
	)
	err := row.Scan(&id, &r.ExternalID, &r.DisplayName, &phones, &r.Organization, &emails,
		&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ID = id
	if err := json.Unmarshal(phones, &r.PhoneNumbers); err != nil {
		return nil, fmt.Errorf("invalid phone numbers for %s: %w", r.ExternalID, err)
	}
	if err := json.Unmarshal(emails, &r.EmailAddresses); err != nil {
		return nil, fmt.Errorf("invalid email addresses for %s: %w", r.ExternalID, err)
	}
	r.NormalizeTimes()
	return &r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
