package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/cotrans/gateway/blobstore"
	"github.com/cotrans/gateway/config"
	"github.com/cotrans/gateway/ingest"
	"github.com/cotrans/gateway/metrics"
	"github.com/cotrans/gateway/mitworker"
	"github.com/cotrans/gateway/router"
	"github.com/cotrans/gateway/scheduler"
	"github.com/cotrans/gateway/store/postgres"
	"github.com/cotrans/gateway/subscriber"
)

var version = "dev"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	port := env("PORT", "3000")

	dbDSN := os.Getenv("DB_DSN")
	if dbDSN == "" {
		log.Fatal("DB_DSN environment variable is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	workerSecret := os.Getenv("MIT_WORKER_SECRET")
	if workerSecret == "" {
		log.Fatal("MIT_WORKER_SECRET environment variable is required")
	}

	fmt.Printf("cotrans-gateway %s\n", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open postgres store + run migrations.
	db, err := postgres.Open(ctx, dbDSN)
	if err != nil {
		log.WithError(err).Fatal("database")
	}
	defer db.Close()

	// Seed admin user if ADMIN_PASSWORD is set and no users exist yet.
	adminUser := env("ADMIN_USERNAME", "admin")
	if adminPass := os.Getenv("ADMIN_PASSWORD"); adminPass != "" {
		if err := db.SeedAdminUser(ctx, adminUser, adminPass); err != nil {
			log.WithError(err).Fatal("seed admin user")
		}
		log.WithField("username", adminUser).Info("seeded admin user")
	} else {
		log.Info("ADMIN_PASSWORD not set; skipping admin user seeding")
	}

	// Load config (seeds defaults into DB if first run).
	cfg, err := config.Load(ctx, db)
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	data := cfg.Get()

	if lvl, err := logrus.ParseLevel(data.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	blob, err := blobstore.New(ctx, blobstore.Config{
		Endpoint:        data.BlobEndpoint,
		Region:          data.BlobRegion,
		Bucket:          data.BlobBucket,
		AccessKeyID:     os.Getenv("BLOB_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("BLOB_SECRET_ACCESS_KEY"),
		PublicBaseURL:   data.BlobPublicBaseURL,
	})
	if err != nil {
		log.WithError(err).Fatal("blobstore")
	}

	inactivityTimeout, err := time.ParseDuration(data.WorkerInactivityTimeout)
	if err != nil {
		inactivityTimeout = 30 * time.Second
	}

	reg := metrics.New(prometheus.DefaultRegisterer)
	sched := scheduler.New(db, blob, ingest.NewLoader(blob), reg, log, data.CurrentWorkerRevision, data.MaxFailedAttempts)

	// Recovery must finish before any worker connection is accepted, so it
	// runs here, before the HTTP server starts listening.
	log.Info("replaying in-flight tasks from the database")
	if err := sched.Recover(ctx); err != nil {
		log.WithError(err).Fatal("recovery")
	}

	workerSrv := mitworker.NewServer(sched, workerSecret, inactivityTimeout, log)
	subHandler := subscriber.New(sched, blob, log)

	// Periodically delete expired sessions (every hour).
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := db.DeleteExpiredSessions(ctx); err != nil {
					log.WithError(err).Warn("delete expired sessions")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := &http.Server{
		Addr: ":" + port,
		Handler: router.New(router.Deps{
			Scheduler:  sched,
			Store:      db,
			Blob:       blob,
			Metrics:    reg,
			Log:        log,
			JWTSecret:  []byte(jwtSecret),
			WorkerWS:   workerSrv,
			Subscriber: subHandler,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.WithField("port", port).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http")
		}
	}()

	<-sigCh
	log.Info("shutting down")
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
