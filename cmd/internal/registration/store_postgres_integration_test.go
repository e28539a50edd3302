package registration

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when QRPASS_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_CreateGetMarkDelete(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	user := newTestULID(t)
	event := newTestULID(t)
	mustInsertUser(t, pool, schema, user)
	mustInsertEvent(t, pool, schema, event, nil)

	regID := newTestULID(t)
	created, err := store.Create(ctx, CreateRecord{
		ID:         regID,
		UserID:     user,
		EventID:    event,
		Credential: "cred-" + regID,
		Metadata:   map[string]string{"seat": "B2"},
		Now:        now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != StatusPending {
		t.Fatalf("expected pending status, got %q", created.Status)
	}

	got, err := store.Get(ctx, regID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credential != "cred-"+regID || got.Metadata["seat"] != "B2" {
		t.Fatalf("unexpected row: %+v", got)
	}

	marked, err := store.MarkAttended(ctx, regID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("mark attended: %v", err)
	}
	if marked.Status != StatusAttended || marked.ScannedAt == nil {
		t.Fatalf("expected attended row, got %+v", marked)
	}

	if _, err := store.MarkAttended(ctx, regID, now.Add(2*time.Minute)); !errors.Is(err, ErrAlreadyAttended) {
		t.Fatalf("expected ErrAlreadyAttended, got %v", err)
	}
	if err := store.DeletePending(ctx, regID); !errors.Is(err, ErrAlreadyAttended) {
		t.Fatalf("expected ErrAlreadyAttended on delete, got %v", err)
	}
}

func TestPostgresStore_UniquePerUserEvent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	user := newTestULID(t)
	event := newTestULID(t)
	mustInsertUser(t, pool, schema, user)
	mustInsertEvent(t, pool, schema, event, nil)

	first := newTestULID(t)
	if _, err := store.Create(ctx, CreateRecord{ID: first, UserID: user, EventID: event, Credential: "c1"}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	second := newTestULID(t)
	if _, err := store.Create(ctx, CreateRecord{ID: second, UserID: user, EventID: event, Credential: "c2"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestPostgresStore_ConcurrentCapacity(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	capacity := int32(3)
	const attempts = 12

	ctx := context.Background()
	event := newTestULID(t)
	mustInsertEvent(t, pool, schema, event, &capacity)

	users := make([]string, attempts)
	for i := range users {
		users[i] = newTestULID(t)
		mustInsertUser(t, pool, schema, users[i])
	}

	var (
		wins atomic.Int64
		full atomic.Int64
		wg   sync.WaitGroup
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Create(ctx, CreateRecord{
				ID:         newTestULID(t),
				UserID:     users[i],
				EventID:    event,
				Credential: fmt.Sprintf("cred-%d", i),
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrCapacityExceeded):
				full.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != int64(capacity) {
		t.Fatalf("expected exactly %d wins, got %d", capacity, wins.Load())
	}

	n, err := store.CountForEvent(ctx, event)
	if err != nil || n != int64(capacity) {
		t.Fatalf("count = %d, %v; want %d, nil", n, err, capacity)
	}
}

func TestPostgresStore_EventDeleteCascades(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	user := newTestULID(t)
	event := newTestULID(t)
	mustInsertUser(t, pool, schema, user)
	mustInsertEvent(t, pool, schema, event, nil)

	regID := newTestULID(t)
	if _, err := store.Create(ctx, CreateRecord{ID: regID, UserID: user, EventID: event, Credential: "c"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	events := pgIdent(schema, "events")
	if _, err := pool.Exec(ctx, `DELETE FROM `+events+` WHERE id = $1`, event); err != nil {
		t.Fatalf("delete event: %v", err)
	}

	if _, err := store.Get(ctx, regID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected registration to cascade away, got %v", err)
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("QRPASS_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: QRPASS_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse QRPASS_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (QRPASS_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "qrpass_reg_it_" + strings.ToLower(newTestULID(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := pgIdent(schema, "users")
	events := pgIdent(schema, "events")
	registrations := pgIdent(schema, "registrations")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  capacity INT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_events_capacity CHECK (capacity IS NULL OR capacity >= 0)
);

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  event_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  status TEXT NOT NULL DEFAULT 'pending',
  credential TEXT NOT NULL,
  metadata JSONB NULL,
  registered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  scanned_at TIMESTAMPTZ NULL,
  CONSTRAINT uq_registrations_user_event UNIQUE (user_id, event_id),
  CONSTRAINT chk_registrations_status CHECK (status IN ('pending', 'attended')),
  CONSTRAINT chk_registrations_id_ulid_len CHECK (char_length(id) = 26)
);
`, users, events, registrations, users, events)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustInsertUser(t *testing.T, pool *pgxpool.Pool, schema, userID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	users := pgIdent(schema, "users")
	if _, err := pool.Exec(ctx, `INSERT INTO `+users+` (id, created_at) VALUES ($1, now())`, userID); err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func mustInsertEvent(t *testing.T, pool *pgxpool.Pool, schema, eventID string, capacity *int32) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events := pgIdent(schema, "events")
	if _, err := pool.Exec(ctx, `INSERT INTO `+events+` (id, capacity, created_at) VALUES ($1, $2, now())`, eventID, capacity); err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

func newTestULID(t *testing.T) string {
	t.Helper()
	id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), ulid.Monotonic(rand.Reader, 0)).String()
	if len(id) != 26 {
		t.Fatalf("expected ULID length 26, got %d", len(id))
	}
	return id
}
