package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"qrpass/cmd/internal/ids"
	"qrpass/cmd/security/password"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements UserDirectory and EventCatalog over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must not close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string

	// Dummy hash for timing-resistant authentication of unknown usernames.
	dummyHash string
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

	if hash, err := password.Hash("dummy-password-for-timing-only", password.DefaultParams()); err == nil {
		st.dummyHash = hash
	}

	return st, nil
}

// FindUser fetches a user by its reference.
func (s *PostgresStore) FindUser(ctx context.Context, ref string) (UserSummary, error) {
	if s == nil || s.pool == nil {
		return UserSummary{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return UserSummary{}, err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return UserSummary{}, ErrInvalidInput
	}

	users := pgIdent(s.schema, "users")
	var out UserSummary
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, is_admin, created_at
		   FROM `+users+`
		  WHERE id = $1`,
		ref,
	).Scan(&out.ID, &out.Username, &out.DisplayName, &out.IsAdmin, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserSummary{}, ErrNotFound
		}
		return UserSummary{}, err
	}
	return out, nil
}

// Authenticate verifies a username/password pair.
func (s *PostgresStore) Authenticate(ctx context.Context, username, pw string) (UserSummary, error) {
	if s == nil || s.pool == nil {
		return UserSummary{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return UserSummary{}, err
	}
	username = normalizeUsername(username)
	if username == "" || pw == "" {
		return UserSummary{}, ErrAuthFailed
	}

	users := pgIdent(s.schema, "users")
	var out UserSummary
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, is_admin, created_at, password_hash
		   FROM `+users+`
		  WHERE username = $1`,
		username,
	).Scan(&out.ID, &out.Username, &out.DisplayName, &out.IsAdmin, &out.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Timing resistance: perform a dummy verify when the user is missing.
			if s.dummyHash != "" {
				_, _ = password.Verify(s.dummyHash, pw)
			}
			return UserSummary{}, ErrAuthFailed
		}
		return UserSummary{}, err
	}

	ok, err := password.Verify(hash, pw)
	if err != nil || !ok {
		return UserSummary{}, ErrAuthFailed
	}
	return out, nil
}

// CreateUser inserts a new user with a freshly hashed password.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (UserSummary, error) {
	if s == nil || s.pool == nil {
		return UserSummary{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return UserSummary{}, err
	}

	username := normalizeUsername(in.Username)
	if username == "" {
		return UserSummary{}, ErrInvalidInput
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	hash, err := password.Hash(in.Password, password.DefaultParams())
	if err != nil {
		return UserSummary{}, err
	}

	userID, err := ids.NewULID(now)
	if err != nil {
		return UserSummary{}, err
	}

	users := pgIdent(s.schema, "users")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, username, password_hash, display_name, is_admin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, username, hash, displayName, in.IsAdmin, now,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return UserSummary{}, ErrConflict
		}
		return UserSummary{}, err
	}

	return UserSummary{
		ID:          userID,
		Username:    username,
		DisplayName: displayName,
		IsAdmin:     in.IsAdmin,
		CreatedAt:   now,
	}, nil
}

// IssueSession creates a bearer session and returns the plain token.
// The plain token is shown to the client exactly once and never stored.
func (s *PostgresStore) IssueSession(ctx context.Context, userRef string, ttl time.Duration, now time.Time) (string, error) {
	if s == nil || s.pool == nil {
		return "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	userRef = strings.TrimSpace(userRef)
	if userRef == "" {
		return "", ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	sessionID, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	plain, err := ids.NewOpaqueToken(32)
	if err != nil {
		return "", err
	}

	sessions := pgIdent(s.schema, "sessions")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+sessions+` (id, user_id, token_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sessionID, userRef, hashSessionToken(plain), now, now.Add(ttl),
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return plain, nil
}

// ResolveSession maps a bearer token back to its user.
// Expired or unknown tokens return ErrNotFound, indistinguishably.
func (s *PostgresStore) ResolveSession(ctx context.Context, token string, now time.Time) (UserSummary, error) {
	if s == nil || s.pool == nil {
		return UserSummary{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return UserSummary{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return UserSummary{}, ErrNotFound
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")
	sessions := pgIdent(s.schema, "sessions")

	var out UserSummary
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.username, u.display_name, u.is_admin, u.created_at
		   FROM `+sessions+` s
		   JOIN `+users+` u ON u.id = s.user_id
		  WHERE s.token_hash = $1
		    AND s.expires_at > $2`,
		hashSessionToken(token), now,
	).Scan(&out.ID, &out.Username, &out.DisplayName, &out.IsAdmin, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserSummary{}, ErrNotFound
		}
		return UserSummary{}, err
	}
	return out, nil
}

// GetEvent fetches an event by its reference.
func (s *PostgresStore) GetEvent(ctx context.Context, ref string) (EventSummary, error) {
	if s == nil || s.pool == nil {
		return EventSummary{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return EventSummary{}, err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return EventSummary{}, ErrInvalidInput
	}

	events := pgIdent(s.schema, "events")
	var out EventSummary
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, location, starts_at, capacity, status, created_by, created_at
		   FROM `+events+`
		  WHERE id = $1`,
		ref,
	).Scan(&out.ID, &out.Name, &out.Description, &out.Location, &out.StartsAt,
		&out.Capacity, &out.Status, &out.CreatedBy, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EventSummary{}, ErrNotFound
		}
		return EventSummary{}, err
	}
	return out, nil
}

// CreateEvent inserts a new event record.
func (s *PostgresStore) CreateEvent(ctx context.Context, in CreateEventInput) (EventSummary, error) {
	if s == nil || s.pool == nil {
		return EventSummary{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return EventSummary{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return EventSummary{}, ErrInvalidInput
	}
	if in.Capacity != nil && *in.Capacity < 0 {
		return EventSummary{}, ErrInvalidInput
	}
	status := in.Status
	switch status {
	case EventUpcoming, EventActive, EventCompleted:
	default:
		status = EventUpcoming
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	eventID, err := ids.NewULID(now)
	if err != nil {
		return EventSummary{}, err
	}

	events := pgIdent(s.schema, "events")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+events+` (id, name, description, location, starts_at, capacity, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		eventID, name, strings.TrimSpace(in.Description), strings.TrimSpace(in.Location),
		in.StartsAt, in.Capacity, string(status), strings.TrimSpace(in.CreatedBy), now,
	)
	if err != nil {
		return EventSummary{}, err
	}

	return EventSummary{
		ID:          eventID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Location:    strings.TrimSpace(in.Location),
		StartsAt:    in.StartsAt,
		Capacity:    in.Capacity,
		Status:      status,
		CreatedBy:   strings.TrimSpace(in.CreatedBy),
		CreatedAt:   now,
	}, nil
}

// ListEvents returns all events ordered by start time.
func (s *PostgresStore) ListEvents(ctx context.Context) ([]EventSummary, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	events := pgIdent(s.schema, "events")
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, location, starts_at, capacity, status, created_by, created_at
		   FROM `+events+`
		  ORDER BY starts_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventSummary
	for rows.Next() {
		var e EventSummary
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.Location, &e.StartsAt,
			&e.Capacity, &e.Status, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEvent removes an event row. Registrations referencing it are removed
// by the FK cascade; callers should still invoke the ledger cascade so the
// memory-backed deployment behaves identically.
func (s *PostgresStore) DeleteEvent(ctx context.Context, ref string) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ErrInvalidInput
	}

	events := pgIdent(s.schema, "events")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+events+` WHERE id = $1`, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
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
