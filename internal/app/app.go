// Package app wires the service graph and owns its lifecycle: open the
// store, stand the services up, serve HTTP, and unwind in reverse order
// on shutdown.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"chatrelay/internal/retention"
	"chatrelay/pkg/api"
	"chatrelay/pkg/blob"
	"chatrelay/pkg/broker"
	"chatrelay/pkg/config"
	"chatrelay/pkg/directory"
	"chatrelay/pkg/gateway"
	"chatrelay/pkg/identity"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/msglog"
	"chatrelay/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	store     *store.Store
	directory *directory.Service
	broker    *broker.Broker
	retention *retention.Scheduler
	srv       *http.Server
}

// New builds the full service graph but does not start anything that
// needs a running context; call Run to serve and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	logger.InitWithLevel(cfg.Logging.Level)

	st, err := store.Open(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// ephemeral signing key; sessions die with the process
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			st.Close()
			return nil, fmt.Errorf("generate ephemeral jwt secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}
	tokens := identity.NewTokenManager(secret, time.Duration(cfg.Auth.TokenTTL))
	ident := identity.New(st, tokens)
	dir := directory.New(st)

	log := msglog.New(st, msglog.Options{
		AppendTimeout:   time.Duration(cfg.Storage.AppendTimeout),
		MaxMessageBytes: int64(cfg.Storage.MaxMessageBytes),
	})
	br := broker.New(log, broker.Options{
		SubscriberBuffer: cfg.Broker.SubscriberBuffer,
		ReplayBatch:      cfg.Broker.ReplayBatch,
	})
	log.SetNotifier(br)

	blobs, err := blob.NewFSStore(cfg.Blob.Dir, int64(cfg.Blob.MaxBlobBytes))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	gw := gateway.New(ident, dir, log, br)

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     st,
		directory: dir,
		broker:    br,
		retention: retention.New(st, cfg.Retention),
	}
	apiSrv := api.NewServer(gw, ident, blobs, cfg, st.Ready)
	a.srv = &http.Server{Addr: eff.Addr, Handler: apiSrv.Router()}
	return a, nil
}

// Run seeds the default conversation, starts retention and the HTTP
// server, and blocks until ctx is canceled or a fatal server error
// occurs. Shutdown drains HTTP first, then the broker, then the store.
func (a *App) Run(ctx context.Context) error {
	if err := a.seedDefault(ctx); err != nil {
		return err
	}

	stopRetention, err := a.retention.Start(ctx)
	if err != nil {
		return err
	}
	defer stopRetention()

	a.printBanner()
	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			a.shutdown()
			return err
		}
		return nil
	}
}

func (a *App) seedDefault(ctx context.Context) error {
	if err := a.directory.EnsureDefault(ctx); err != nil {
		return fmt.Errorf("seed default conversation: %w", err)
	}
	return nil
}

func (a *App) shutdown() {
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http_shutdown_error", "error", err.Error())
	}
	a.broker.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn("store_close_error", "error", err.Error())
	}
	logger.Info("shutdown_complete")
}
