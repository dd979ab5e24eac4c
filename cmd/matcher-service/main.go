package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/racegraph/platform/pkg/common/config"
	"github.com/racegraph/platform/pkg/common/database"
	"github.com/racegraph/platform/pkg/common/kafka"
	"github.com/racegraph/platform/pkg/common/logger"
	"github.com/racegraph/platform/pkg/common/middleware"
	"github.com/racegraph/platform/pkg/common/models"
	"github.com/racegraph/platform/pkg/identity"
	"github.com/racegraph/platform/pkg/links"
	"github.com/racegraph/platform/pkg/matching"
	"github.com/racegraph/platform/pkg/observability/metrics"
	"github.com/racegraph/platform/pkg/registry"
)

type MatcherApp struct {
	classifier *matching.Classifier
	identities *identity.Cache
	registry   *registry.Repository
	links      *links.Service
	consumer   *kafka.Consumer
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	identityRepo := identity.NewRepository(db)
	if err := identityRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate profile tables")
	}
	registryRepo := registry.NewRepository(db)
	if err := registryRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate registry tables")
	}
	linkRepo := links.NewRepository(db)
	if err := linkRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate link tables")
	}

	mcfg := matching.DefaultConfig()
	if cfg.MatcherConfigPath != "" {
		mcfg, err = matching.LoadConfig(cfg.MatcherConfigPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load matcher config")
		}
	} else {
		mcfg.AutoConfirmMin = cfg.MatcherAutoConfirm
		mcfg.SuggestMin = cfg.MatcherSuggest
		mcfg.Workers = cfg.MatcherWorkers
	}
	classifier := matching.NewClassifier(mcfg)

	identityCache := identity.NewCache(identityRepo, database.GetRedis(), cfg.IdentityCacheTTL)

	producer := kafka.NewProducer(cfg.LinkUpdatedTopic)
	defer producer.Close()

	var dlq *kafka.Producer
	if cfg.LinkDLQTopic != "" {
		dlq = kafka.NewProducer(cfg.LinkDLQTopic)
		defer dlq.Close()
	}

	linkSvc := newLinkService(linkRepo, classifier.Config(), identityCache, registryRepo, producer, dlq)

	app := &MatcherApp{
		classifier: classifier,
		identities: identityCache,
		registry:   registryRepo,
		links:      linkSvc,
	}
	app.consumer = kafka.NewConsumer(cfg.EntryDiscoveredTopic, "matcher-service")
	defer app.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := app.consumer.Consume(ctx, app.handleEvent); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("consumer error")
		}
	}()

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

	router.HandleFunc("/api/v1/match", app.handleMatch).Methods(http.MethodPost)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, "8086"),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": "8086",
		}).Info("Matcher Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Matcher Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Matcher Service stopped")
}

func newLinkService(repo *links.Repository, mcfg matching.Config, identities *identity.Cache, reg *registry.Repository, producer, dlq *kafka.Producer) *links.Service {
	var dlqPub links.Publisher
	if dlq != nil {
		dlqPub = dlq
	}
	return links.NewService(repo, mcfg, identities, reg, producer, dlqPub)
}

// handleEvent matches one discovered driver entry against every registered
// profile and persists the verdicts.
func (a *MatcherApp) handleEvent(ctx context.Context, event models.Event) error {
	discovered, err := parseEntryDiscovered(event.Data)
	if err != nil {
		return err
	}

	identities, err := a.identities.ListIdentities(ctx)
	if err != nil {
		return err
	}

	for _, user := range identities {
		metrics.IncClassified()
		verdict, ok := a.classifier.Classify(user, discovered.Driver, false)
		if !ok {
			continue
		}
		if _, err := a.links.RecordMatch(ctx, user, discovered.EventID, discovered.Driver, verdict); err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"user_id":   user.UserID,
				"driver_id": discovered.Driver.ID,
				"event_id":  discovered.EventID,
			}).Error("failed to record match")
		}
	}
	return nil
}

type matchRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	EventID uuid.UUID `json:"event_id"`
}

func (a *MatcherApp) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	user, err := a.identities.GetIdentity(r.Context(), req.UserID)
	if err != nil {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}

	drivers, err := a.registry.DriversByEvent(r.Context(), req.EventID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list event drivers")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	results := a.classifier.FindMatches(r.Context(), user, drivers)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func parseEntryDiscovered(data map[string]interface{}) (*models.EntryDiscovered, error) {
	payload, ok := data["entry"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("entry payload missing")
	}
	bytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var discovered models.EntryDiscovered
	if err := json.Unmarshal(bytes, &discovered); err != nil {
		return nil, err
	}
	return &discovered, nil
}
