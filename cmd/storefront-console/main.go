// Package main boots the storefront console HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/storefront-console/internal/api"
	"github.com/fairyhunter13/storefront-console/internal/catalog"
	"github.com/fairyhunter13/storefront-console/internal/config"
	httpapi "github.com/fairyhunter13/storefront-console/internal/http"
	"github.com/fairyhunter13/storefront-console/internal/identity"
	"github.com/fairyhunter13/storefront-console/internal/notify"
	"github.com/fairyhunter13/storefront-console/internal/obs"
	"github.com/fairyhunter13/storefront-console/internal/session"
	"github.com/fairyhunter13/storefront-console/internal/state"
	"github.com/fairyhunter13/storefront-console/internal/upload"
)

func main() {
	obs.InitLogger()
	cfg, err := config.Load()
	if err != nil {
		obs.Logger.Error("config_error", "error", err)
		os.Exit(1)
	}
	obs.Logger.Info("service_starting", "project_id", cfg.ProjectID)

	db, err := state.Open(cfg.StatePath)
	if err != nil {
		obs.Logger.Error("state_open_error", "path", cfg.StatePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	backend := api.New(cfg.BackendBaseURL, cfg.BackendRequestsPerMinute)

	store := catalog.NewStore(db)
	products, err := db.LoadProducts()
	if err != nil {
		obs.Logger.Error("state_load_error", "error", err)
		os.Exit(1)
	}
	store.Load(products)
	obs.Logger.Info("catalog_loaded", "product_count", store.Len())

	notifier := notify.New(cfg.ToastTTL)
	orch := catalog.NewOrchestrator(store, notifier, backend, cfg.ProjectID)

	q := upload.NewQueue(128)
	mgr := upload.NewManager(cfg, q, upload.NewPipeline(backend, orch, cfg.ProjectID, cfg.UploadMaxBytes))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	sess := session.New(backend, db, func(pc api.ProviderConfig) (identity.Provider, error) {
		return identity.NewRestProvider(pc, "")
	}, cfg.ProjectID)
	go func() {
		// Initialization failure is terminal for the session but not for
		// the process: the storefront routes keep serving.
		if err := sess.Initialize(context.Background()); err != nil {
			obs.Logger.Error("session_init_error", "error", err)
		}
	}()
	defer sess.Close()

	app := httpapi.NewApp(cfg, sess, orch, store, mgr, notifier)
	mux := httpapi.NewRouter(app)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("http_server_error", "error", err)
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", s.String())

	app.StartShutdown()
	obs.Logger.Info("shutdown_drain_begin", "backlog_size", mgr.BacklogSize(), "worker_count", mgr.WorkerCount())

	ctxDrain, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if drained := mgr.DrainUntil(ctxDrain); !drained {
		obs.Logger.Warn("shutdown_drain_timeout")
	} else {
		obs.Logger.Info("shutdown_drain_complete")
	}

	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err)
	}
	mgr.Stop()
	obs.Logger.Info("service_stopped")
}
