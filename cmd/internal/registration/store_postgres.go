package registration

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists registrations in PostgreSQL.
//
// The uniqueness invariant lives in the uq_registrations_user_event
// constraint; the capacity invariant is enforced by locking the event row
// and recounting inside the insert transaction. The application never
// trusts its own pre-checks.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "public").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

const regColumns = `id, user_id, event_id, status, credential, metadata, registered_at, scanned_at`

// Create inserts a new registration, holding the event row lock across the
// capacity recheck so concurrent creators for the same event serialize.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Registration, error) {
	if s == nil || s.pool == nil {
		return Registration{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Registration{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.UserID) == "" ||
		strings.TrimSpace(in.EventID) == "" || strings.TrimSpace(in.Credential) == "" {
		return Registration{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Registration{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	events := pgIdent(s.schema, "events")
	registrations := pgIdent(s.schema, "registrations")

	var capacity *int32
	err = tx.QueryRow(ctx,
		`SELECT capacity FROM `+events+` WHERE id = $1 FOR UPDATE`,
		in.EventID,
	).Scan(&capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Registration{}, ErrEventNotFound
		}
		return Registration{}, err
	}

	if capacity != nil {
		var count int64
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM `+registrations+` WHERE event_id = $1`,
			in.EventID,
		).Scan(&count)
		if err != nil {
			return Registration{}, err
		}
		if count >= int64(*capacity) {
			return Registration{}, ErrCapacityExceeded
		}
	}

	var metadata map[string]string
	if len(in.Metadata) > 0 {
		metadata = in.Metadata
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+registrations+` (id, user_id, event_id, status, credential, metadata, registered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ID, in.UserID, in.EventID, string(StatusPending), in.Credential, metadata, now,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Registration{}, ErrAlreadyRegistered
		}
		if pgIsForeignKeyViolation(err) {
			return Registration{}, ErrInvalidInput
		}
		return Registration{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Registration{}, err
	}

	return Registration{
		ID:           in.ID,
		UserID:       in.UserID,
		EventID:      in.EventID,
		Status:       StatusPending,
		Credential:   in.Credential,
		Metadata:     metadata,
		RegisteredAt: now,
	}, nil
}

// Get fetches a registration by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Registration, error) {
	if s == nil || s.pool == nil {
		return Registration{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Registration{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Registration{}, ErrInvalidInput
	}

	registrations := pgIdent(s.schema, "registrations")
	row := s.pool.QueryRow(ctx,
		`SELECT `+regColumns+` FROM `+registrations+` WHERE id = $1`, id)
	out, err := scanRegistration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Registration{}, ErrNotFound
		}
		return Registration{}, err
	}
	return out, nil
}

// MarkAttended performs the one-way pending->attended transition.
// The conditional UPDATE keyed on the current status guarantees that of two
// concurrent scans exactly one returns the updated row.
func (s *PostgresStore) MarkAttended(ctx context.Context, id string, now time.Time) (Registration, error) {
	if s == nil || s.pool == nil {
		return Registration{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Registration{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Registration{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	registrations := pgIdent(s.schema, "registrations")
	row := s.pool.QueryRow(ctx,
		`UPDATE `+registrations+`
		    SET status = $1,
		        scanned_at = $2
		  WHERE id = $3
		    AND status = $4
		RETURNING `+regColumns,
		string(StatusAttended), now, id, string(StatusPending),
	)
	out, err := scanRegistration(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Registration{}, err
	}

	// Distinguish not-found vs already-attended.
	existing, selErr := s.Get(ctx, id)
	if selErr != nil {
		return Registration{}, selErr
	}
	if existing.Status == StatusAttended {
		return existing, ErrAlreadyAttended
	}
	return Registration{}, ErrNotFound
}

// DeletePending removes a registration while it is still pending.
func (s *PostgresStore) DeletePending(ctx context.Context, id string) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}

	registrations := pgIdent(s.schema, "registrations")
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+registrations+` WHERE id = $1 AND status = $2`,
		id, string(StatusPending),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish not-found vs already-attended.
	existing, selErr := s.Get(ctx, id)
	if selErr != nil {
		return selErr
	}
	if existing.Status == StatusAttended {
		return ErrAlreadyAttended
	}
	return ErrNotFound
}

// DeleteAllForEvent removes all registrations for an event (cascade path).
func (s *PostgresStore) DeleteAllForEvent(ctx context.Context, eventID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return 0, ErrInvalidInput
	}

	registrations := pgIdent(s.schema, "registrations")
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+registrations+` WHERE event_id = $1`, eventID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListForUser returns a user's registrations in creation order.
func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]Registration, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}

	registrations := pgIdent(s.schema, "registrations")
	rows, err := s.pool.Query(ctx,
		`SELECT `+regColumns+` FROM `+registrations+` WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRegistrations(rows)
}

// ListAll returns every registration in creation order (administrative).
func (s *PostgresStore) ListAll(ctx context.Context) ([]Registration, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	registrations := pgIdent(s.schema, "registrations")
	rows, err := s.pool.Query(ctx,
		`SELECT `+regColumns+` FROM `+registrations+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRegistrations(rows)
}

// CountForEvent returns the current registration count for an event.
func (s *PostgresStore) CountForEvent(ctx context.Context, eventID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return 0, ErrInvalidInput
	}

	registrations := pgIdent(s.schema, "registrations")
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+registrations+` WHERE event_id = $1`, eventID,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func scanRegistration(row pgx.Row) (Registration, error) {
	var out Registration
	var status string
	err := row.Scan(
		&out.ID,
		&out.UserID,
		&out.EventID,
		&status,
		&out.Credential,
		&out.Metadata,
		&out.RegisteredAt,
		&out.ScannedAt,
	)
	if err != nil {
		return Registration{}, err
	}
	out.Status = Status(status)
	return out, nil
}

func collectRegistrations(rows pgx.Rows) ([]Registration, error) {
	var out []Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}
