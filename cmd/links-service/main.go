package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/racegraph/platform/pkg/common/config"
	"github.com/racegraph/platform/pkg/common/database"
	"github.com/racegraph/platform/pkg/common/kafka"
	"github.com/racegraph/platform/pkg/common/logger"
	"github.com/racegraph/platform/pkg/common/middleware"
	"github.com/racegraph/platform/pkg/identity"
	"github.com/racegraph/platform/pkg/links"
	"github.com/racegraph/platform/pkg/matching"
	"github.com/racegraph/platform/pkg/observability/metrics"
	"github.com/racegraph/platform/pkg/registry"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	linkRepo := links.NewRepository(db)
	if err := linkRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate link tables")
	}

	identityRepo := identity.NewRepository(db)
	identityCache := identity.NewCache(identityRepo, database.GetRedis(), cfg.IdentityCacheTTL)
	registryRepo := registry.NewRepository(db)

	mcfg := matching.DefaultConfig()
	if cfg.MatcherConfigPath != "" {
		mcfg, err = matching.LoadConfig(cfg.MatcherConfigPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load matcher config")
		}
	}

	producer := kafka.NewProducer(cfg.LinkUpdatedTopic)
	defer producer.Close()

	var dlq links.Publisher
	if cfg.LinkDLQTopic != "" {
		dlqProducer := kafka.NewProducer(cfg.LinkDLQTopic)
		defer dlqProducer.Close()
		dlq = dlqProducer
	}

	svc := links.NewService(linkRepo, mcfg, identityCache, registryRepo, producer, dlq)
	handler := links.NewHTTPHandler(svc, cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	handler.Register(router.PathPrefix("/api/v1").Subrouter())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8087"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": "8087",
		}).Info("Links Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Links Service...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Links Service stopped")
}
