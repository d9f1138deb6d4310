package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"uploadhub/internal/api"
	"uploadhub/internal/mirror"
	"uploadhub/internal/progress"
	"uploadhub/internal/redis"
	"uploadhub/internal/storage"
	"uploadhub/internal/upload"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return runServer(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":3333", "listen address")
	serveCmd.Flags().String("dest", "./downloads", "destination directory, must exist")
	serveCmd.Flags().Int("throttle-ms", 2000, "minimum milliseconds between progress events per file")
	_ = v.BindPFlag("server.address", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("upload.destination_dir", serveCmd.Flags().Lookup("dest"))
	_ = v.BindPFlag("upload.throttle_window_ms", serveCmd.Flags().Lookup("throttle-ms"))
}

func runServer(ctx context.Context) error {
	log := logrus.WithField("component", "server")

	info, err := os.Stat(cfg.Upload.DestinationDir)
	if err != nil {
		return fmt.Errorf("destination directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination %s is not a directory", cfg.Upload.DestinationDir)
	}

	opts := api.Options{
		Dir:             cfg.Upload.DestinationDir,
		Window:          cfg.Upload.ThrottleWindow(),
		Partial:         upload.PartialPolicy(cfg.Upload.PartialPolicy),
		Collision:       upload.CollisionPolicy(cfg.Upload.CollisionPolicy),
		MaxRequestBytes: cfg.Upload.MaxRequestBytes,
	}

	if cfg.Database.Driver != "none" {
		db, err := openLedger()
		if err != nil {
			return err
		}
		defer db.Close()
		ledger := storage.NewLedger(db)
		opts.Recorder = ledger
		if retention := cfg.Upload.Retention(); retention > 0 {
			storage.NewSweeper(ledger, retention).Start(ctx, retention/2)
		}
	}

	if cfg.Mirror.Enabled {
		m, err := mirror.New(cfg.Mirror)
		if err != nil {
			return err
		}
		opts.Replicator = m
	}

	hub := progress.NewHub(progress.NewRegistry())
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
		if err := hub.UseRelay(ctx, progress.NewRedisRelay(rdb)); err != nil {
			return fmt.Errorf("start progress relay: %w", err)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	api.NewHandler(hub, opts).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
		// event streams end when the server is asked to stop
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		tls := cfg.Server.TLSCert != "" && cfg.Server.TLSKey != ""
		log.WithFields(logrus.Fields{
			"addr": cfg.Server.Address,
			"tls":  tls,
			"dest": cfg.Upload.DestinationDir,
		}).Info("app running")
		if tls {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openLedger() (*sql.DB, error) {
	if storage.NormalizeDriver(cfg.Database.Driver) == "sqlite3" && cfg.Database.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, cfg.Database.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
