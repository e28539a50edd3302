// Package app wires the qrpass server runtime: config, logging, storage,
// HTTP routes, and the live feed gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"qrpass/cmd/internal/api"
	"qrpass/cmd/internal/attendance"
	"qrpass/cmd/internal/directory"
	"qrpass/cmd/internal/feed"
	"qrpass/cmd/internal/notify"
	"qrpass/cmd/internal/registration"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App owns the HTTP server wiring and the lifecycle of shared resources
// (database pool, notification sink).
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	dbEnabled bool

	users   directory.UserDirectory
	sink    notify.Sink
	hub     *feed.Hub
	handler *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	var (
		pool      *pgxpool.Pool
		dbEnabled bool

		users   directory.UserDirectory
		catalog directory.EventCatalog
		store   registration.Store
	)

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		dir := directory.NewMemoryStore()
		users, catalog = dir, dir
		store = registration.NewMemoryStore(dir)
	} else {
		p, err := NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store")

		dir, err := directory.NewPostgresStore(p)
		if err != nil {
			p.Close()
			return nil, err
		}
		regStore, err := registration.NewPostgresStore(p)
		if err != nil {
			p.Close()
			return nil, err
		}
		pool, dbEnabled = p, true
		users, catalog = dir, dir
		store = regStore
	}

	var sink notify.Sink
	if cfg.NATSURL != "" {
		ns, err := notify.NewNATSSink(cfg.NATSURL)
		if err != nil {
			if pool != nil {
				pool.Close()
			}
			return nil, err
		}
		log.Info("notify.enabled.nats", "url", cfg.NATSURL)
		sink = ns
	} else {
		sink = notify.NewLogSink(log)
	}

	hub := feed.NewHub(log)
	gateway := feed.NewGateway(log, hub)

	ledger, err := registration.NewService(log, store, catalog, sink)
	if err != nil {
		return nil, err
	}
	scanner, err := attendance.NewService(log, store, hub, sink)
	if err != nil {
		return nil, err
	}

	handler, err := api.NewHandler(log, api.LoadConfigFromEnv(), users, catalog, ledger, scanner, gateway)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		dbEnabled: dbEnabled,
		users:     users,
		sink:      sink,
		hub:       hub,
		handler:   handler,
	}

	if err := a.bootstrapAdmin(context.Background()); err != nil {
		return nil, err
	}

	return a, nil
}

// bootstrapAdmin creates the configured admin user if it does not exist yet.
func (a *App) bootstrapAdmin(ctx context.Context) error {
	user := a.cfg.BootstrapAdminUser
	pass := a.cfg.BootstrapAdminPassword
	if user == "" || pass == "" {
		return nil
	}

	created, err := a.users.CreateUser(ctx, directory.CreateUserInput{
		Username: user,
		Password: pass,
		IsAdmin:  true,
	})
	if err != nil {
		if errors.Is(err, directory.ErrConflict) {
			a.log.Debug("bootstrap.admin.exists", "username", user)
			return nil
		}
		return err
	}

	a.log.Info("bootstrap.admin.created", "username", created.Username, "user_id", created.ID)
	return nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.dbEnabled, a.handler)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithCORS(WithSecurityHeaders(mux), a.cfg, a.log), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.sink.Close(); err != nil {
		a.log.Error("sink.close.fail", "err", err)
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
