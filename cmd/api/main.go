package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shipflow/api/internal/app"
	"shipflow/api/internal/blobstore"
	"shipflow/api/internal/config"
	"shipflow/api/internal/email"
	"shipflow/api/internal/events"
	"shipflow/api/internal/export"
	"shipflow/api/internal/ledger"
	"shipflow/api/internal/rbac"
	"shipflow/api/internal/search"
	"shipflow/api/internal/session"
	"shipflow/api/internal/store"
	"shipflow/api/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	var (
		repo   workflow.Repository
		grants rbac.GrantStore
		deps   app.Dependencies
		opts   []workflow.Option
		pgfts  search.Searcher
	)

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		dataStore := store.NewPostgresStore(db)
		repo = dataStore
		grants = dataStore
		deps.Database = dataStore
		deps.Events = dataStore
		opts = append(opts, workflow.WithObserver(dataStore))
		pgfts = search.NewPgFTS(db)
	} else {
		log.Printf("DATABASE_URL not set, keeping shipments in memory")
		repo = workflow.NewMemoryRepository()
		grants = rbac.NewMemoryStore()
	}

	registry := rbac.NewRegistry(grants)
	if err := registry.Bootstrap(ctx, cfg.Admins...); err != nil {
		log.Fatalf("bootstrap administrators: %v", err)
	}
	if len(cfg.Admins) == 0 {
		log.Printf("WARNING: SHIPFLOW_ADMINS is empty; no one can create shipments")
	}

	if err := os.MkdirAll(cfg.LedgerDir, 0o755); err != nil {
		log.Fatalf("failed to create ledger dir: %v", err)
	}
	ledgerService := ledger.New(cfg.LedgerDir)
	deps.Ledger = ledgerService
	opts = append(opts, workflow.WithObserver(ledgerService))

	if strings.TrimSpace(cfg.RedisURL) != "" {
		feed, err := events.NewRedisFeed(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer feed.Close()
		log.Printf("Publishing workflow events on %s", feed.Channel())
		deps.Feed = feed
		deps.Checks = append(deps.Checks, app.ReadinessCheck{Name: "redis", Check: feed.Ping})
		opts = append(opts, workflow.WithObserver(feed))

		revoked, err := session.NewRedisRevocations(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer revoked.Close()
		deps.Revoked = revoked
	} else {
		deps.Revoked = session.NewMemoryRevocations()
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	deps.Search = searchService
	opts = append(opts, workflow.WithObserver(searchService))

	if strings.TrimSpace(cfg.Blob.Endpoint) != "" {
		blobs, err := blobstore.NewMinio(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			UseSSL:    cfg.Blob.UseSSL,
			MaxBytes:  cfg.MaxUploadBytes(),
		})
		if err != nil {
			log.Fatalf("object storage failed: %v", err)
		}
		deps.Blobs = blobs
		deps.Checks = append(deps.Checks, app.ReadinessCheck{Name: "blobstore", Check: func(ctx context.Context) error {
			if !blobs.Healthy(ctx) {
				return errors.New("bucket unreachable")
			}
			return nil
		}})
	} else {
		log.Printf("MINIO_ENDPOINT not set, keeping document content in memory")
		deps.Blobs = blobstore.NewMemory(cfg.MaxUploadBytes())
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
		BaseURL:  cfg.SMTP.BaseURL,
	})
	if mailer.IsConfigured() {
		opts = append(opts, workflow.WithObserver(mailer))
	}

	engine := workflow.NewEngine(repo, registry, opts...)
	deps.Export = export.NewService(engine, ledgerService)

	if meiliClient != nil {
		go reindex(ctx, engine, searchService)
	}

	service := app.New(cfg, engine, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Shipflow API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	mailer.Wait()
}

// reindex pushes every stored shipment to Meilisearch once at startup.
func reindex(ctx context.Context, engine *workflow.Engine, searchService *search.Service) {
	summaries, err := engine.ListShipments(ctx)
	if err != nil {
		log.Printf("search: reindex list failed: %v", err)
		return
	}
	shipments := make([]workflow.Shipment, 0, len(summaries))
	for _, summary := range summaries {
		shipment, err := engine.Shipment(ctx, summary.ID)
		if err != nil {
			log.Printf("search: reindex load %s failed: %v", summary.ID, err)
			continue
		}
		shipments = append(shipments, shipment)
	}
	searchService.ReindexAll(shipments)
}
