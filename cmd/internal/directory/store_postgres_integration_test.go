package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when QRPASS_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_UserLifecycle(t *testing.T) {
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

	u, err := store.CreateUser(ctx, CreateUserInput{
		Username:    "Alice",
		Password:    "correct horse battery",
		DisplayName: "Alice A.",
		IsAdmin:     true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Username != "alice" {
		t.Fatalf("username not normalized: %q", u.Username)
	}

	if _, err := store.CreateUser(ctx, CreateUserInput{Username: "ALICE", Password: "other password"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username err = %v, want ErrConflict", err)
	}

	got, err := store.Authenticate(ctx, "alice", "correct horse battery")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID || !got.IsAdmin {
		t.Fatalf("authenticate returned %+v", got)
	}

	if _, err := store.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("bad password err = %v, want ErrAuthFailed", err)
	}
	if _, err := store.Authenticate(ctx, "nobody", "whatever pw"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("unknown user err = %v, want ErrAuthFailed", err)
	}
}

func TestPostgresStore_SessionLifecycle(t *testing.T) {
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
	now := time.Now().UTC()

	u, err := store.CreateUser(ctx, CreateUserInput{Username: "bob", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	token, err := store.IssueSession(ctx, u.ID, time.Hour, now)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	got, err := store.ResolveSession(ctx, token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("resolve returned %+v", got)
	}

	if _, err := store.ResolveSession(ctx, token, now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session err = %v, want ErrNotFound", err)
	}
	if _, err := store.ResolveSession(ctx, "bogus-token", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bogus token err = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_EventLifecycle(t *testing.T) {
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
	capacity := int32(25)

	ev, err := store.CreateEvent(ctx, CreateEventInput{
		Name:     "Opening Keynote",
		Location: "Hall A",
		StartsAt: time.Now().UTC().Add(24 * time.Hour),
		Capacity: &capacity,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if ev.Status != EventUpcoming {
		t.Fatalf("default status = %q", ev.Status)
	}

	got, err := store.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Capacity == nil || *got.Capacity != 25 || got.Location != "Hall A" {
		t.Fatalf("get returned %+v", got)
	}

	list, err := store.ListEvents(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %d events, %v; want 1, nil", len(list), err)
	}

	if err := store.DeleteEvent(ctx, ev.ID); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	if _, err := store.GetEvent(ctx, ev.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
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

	schema := fmt.Sprintf("qrpass_dir_it_%d", time.Now().UnixNano())

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
	sessions := pgIdent(schema, "sessions")
	events := pgIdent(schema, "events")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  is_admin BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT uq_users_username UNIQUE (username)
);

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  token_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  expires_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT uq_sessions_token_hash UNIQUE (token_hash)
);

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  starts_at TIMESTAMPTZ NULL,
  capacity INT NULL,
  status TEXT NOT NULL DEFAULT 'upcoming',
  created_by TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_events_capacity CHECK (capacity IS NULL OR capacity >= 0),
  CONSTRAINT chk_events_status CHECK (status IN ('upcoming', 'active', 'completed'))
);
`, users, sessions, users, events)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
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
