package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/litimahmed/universal-hub/pkg/authsdk"
	"github.com/litimahmed/universal-hub/pkg/cryptox"
	"github.com/litimahmed/universal-hub/pkg/routeguard"
	"github.com/litimahmed/universal-hub/pkg/session"
	"github.com/litimahmed/universal-hub/pkg/tokenstore"
	tokensqlite "github.com/litimahmed/universal-hub/pkg/tokenstore/sqlite"
)

// BuildVersion is overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

const (
	adminPrefix = "/admin"
	loginPath   = "/admin/login"
)

// Application wires one process's view of the admin session: the shared
// token database, the controller, the API client and the HTTP shell.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db         *tokensqlite.Store
	store      tokenstore.Store
	sdk        *authsdk.SDKClient
	signal     *session.Signal
	controller *session.Controller
	api        *authsdk.Session
	guard      *routeguard.Guard
	metrics    *Metrics

	router  *Router
	server  *http.Server
	cancels []func()
}

// New opens the token database and builds every component. Nothing runs
// until Start.
func New(cfg Config, logger *slog.Logger) (*Application, error) {
	db, err := tokensqlite.Open(cfg.TokenDB, tokensqlite.Options{
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	app := &Application{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		store:   db,
		signal:  session.NewSignal(),
		guard:   routeguard.New(adminPrefix, loginPath),
		metrics: NewMetrics(),
	}

	if cfg.SealPassphrase != "" {
		sealed, err := tokenstore.NewSealed(db, cryptox.DeriveSealKey(cfg.SealPassphrase))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		app.store = sealed
	}

	app.sdk = authsdk.NewSDKClient(cfg.AuthorityURL, cfg.ClientID)
	if cfg.RequestTimeout > 0 {
		app.sdk.HTTPClient.Timeout = cfg.RequestTimeout
	}

	app.controller = session.New(app.store, app.sdk, session.Options{
		Skew:                cfg.Skew,
		MaintenanceInterval: cfg.MaintenanceInterval,
		Logger:              logger,
		Signal:              app.signal,
		OnRefresh:           app.metrics.ObserveRefresh,
	})
	app.api = app.sdk.NewSession(app.controller, app.signal)

	app.cancels = append(app.cancels,
		app.controller.Subscribe(app.metrics.ObserveState),
		app.controller.Subscribe(app.guard.Observe),
	)

	app.router = NewRouter(app, logger)
	app.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return app, nil
}

// Start restores the stored session and begins background maintenance.
func (app *Application) Start(ctx context.Context) {
	app.controller.Start(ctx)
}

func (app *Application) Handler() http.Handler { return app.router }

func (app *Application) State() session.State { return app.controller.State() }

func (app *Application) Phase() session.Phase { return app.controller.Phase() }

// Login signs in against the authority and stores the issued tokens.
func (app *Application) Login(ctx context.Context, username, password, otpCode string) error {
	resp, err := app.sdk.PasswordGrant(ctx, username, password, otpCode)
	if err != nil {
		return err
	}
	if err := app.controller.Login(ctx, resp.Pair()); err != nil {
		return err
	}
	app.logger.Info("signed in", "username", username)
	return nil
}

// Logout revokes the refresh token at the authority when it can, then
// clears the local session regardless.
func (app *Application) Logout(ctx context.Context) error {
	if refresh, err := app.store.Get(ctx, tokenstore.RefreshKey); err == nil && refresh != "" {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := app.sdk.RevokeToken(rctx, refresh); err != nil {
			app.logger.Warn("server-side revoke failed; clearing local session anyway", "error", err)
		}
		cancel()
	}
	return app.controller.Logout(ctx)
}

// Validate settles the session now instead of waiting for Start's
// background check.
func (app *Application) Validate(ctx context.Context) error {
	return app.controller.ValidateAndRefresh(ctx)
}

// UserInfo asks the authority who is signed in.
func (app *Application) UserInfo(ctx context.Context) (*authsdk.UserInfoResponse, error) {
	return app.api.GetUserInfo(ctx)
}

// StatusReport is a one-off view of the session for the command line.
type StatusReport struct {
	Phase string `json:"phase"`
	// ExpiresIn is how many seconds the access token stays usable.
	ExpiresIn int64                     `json:"expires_in,omitempty"`
	User      *authsdk.UserInfoResponse `json:"user,omitempty"`
}

// Status settles the session, asks the authority who is signed in and
// reports what is left of the access token. It starts the controller, so a
// revocation seen by the API call signs this process out too.
func (app *Application) Status(ctx context.Context) StatusReport {
	if err := app.Validate(ctx); err != nil {
		app.logger.Debug("session validation failed", "error", err)
	}
	app.Start(ctx)

	var report StatusReport
	if app.State().Authenticated {
		info, err := app.UserInfo(ctx)
		if err != nil {
			app.logger.Debug("userinfo failed", "error", err)
		}
		report.User = info
	}

	p := app.Phase()
	report.Phase = p.String()
	if p == session.PhaseAuthenticated {
		report.ExpiresIn = int64(app.controller.Remaining(ctx) / time.Second)
	}
	return report
}

// Run serves HTTP until SIGINT/SIGTERM.
func (app *Application) Run(ctx context.Context) error {
	app.Start(ctx)
	app.logger.Info("hubadmin starting", "listen", app.cfg.Listen, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}

// Shutdown drains the HTTP server and releases everything.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down hubadmin...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.Close(); err != nil {
		app.logger.Error("error closing token store", "error", err)
		return err
	}
	app.logger.Info("hubadmin stopped")
	return nil
}

// Close stops the controller and closes the token database. CLI commands
// call it directly; the server reaches it through Shutdown.
func (app *Application) Close() error {
	app.controller.Stop()
	for _, cancel := range app.cancels {
		cancel()
	}
	app.cancels = nil
	return app.db.Close()
}
