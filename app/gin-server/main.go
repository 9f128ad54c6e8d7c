package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/yoockh/anamnesi/config"
	"github.com/yoockh/anamnesi/internal/analysis"
	"github.com/yoockh/anamnesi/internal/api/handlers"
	"github.com/yoockh/anamnesi/internal/api/middleware"
	"github.com/yoockh/anamnesi/internal/api/routes"
	"github.com/yoockh/anamnesi/internal/cache"
	"github.com/yoockh/anamnesi/internal/capture"
	"github.com/yoockh/anamnesi/internal/flows"
	"github.com/yoockh/anamnesi/internal/logger"
	"github.com/yoockh/anamnesi/internal/metrics"
	"github.com/yoockh/anamnesi/internal/providers/llm"
	"github.com/yoockh/anamnesi/internal/providers/stt"
	"github.com/yoockh/anamnesi/internal/pubsub"
	mongorepo "github.com/yoockh/anamnesi/internal/repositories/mongo"
	pgrepo "github.com/yoockh/anamnesi/internal/repositories/postgres"
	"github.com/yoockh/anamnesi/internal/services"
	"github.com/yoockh/anamnesi/internal/session"
	"github.com/yoockh/anamnesi/internal/storage"
	"github.com/yoockh/anamnesi/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log := logger.New()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Optional stores
	if err := config.InitRedis(); err != nil {
		optionalStore(log, "redis", err)
	}
	if err := config.InitMongo(); err != nil {
		optionalStore(log, "mongodb", err)
	} else if err := config.EnsureMongoIndexes(cfg.MongoDB); err != nil {
		log.WithError(err).Fatal("mongodb index setup failed")
	}
	if err := config.InitPostgres(); err != nil {
		optionalStore(log, "postgres", err)
	} else if err := config.MigratePostgres(); err != nil {
		log.WithError(err).Fatal("postgres migration failed")
	}

	// Google clients
	var gopts []option.ClientOption
	if cfg.CredentialsFile != "" {
		gopts = append(gopts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	gemini, err := llm.NewVertexGemini(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.GeminiModel, gopts...)
	if err != nil {
		log.WithError(err).Fatal("vertex ai client init failed")
	}
	defer gemini.Close()

	var speech stt.Provider
	switch cfg.STTProvider {
	case "gemini":
		speech = &stt.GeminiTranscriber{LLM: gemini}
	default:
		gs, err := stt.NewGoogleSpeech(ctx, gopts...)
		if err != nil {
			log.WithError(err).Fatal("speech client init failed")
		}
		speech = gs
	}
	defer speech.Close()

	var (
		extractor analysis.Extractor = &flows.Extraction{LLM: gemini}
		suggester analysis.Suggester = &flows.Suggestion{LLM: gemini}
		formatter analysis.Formatter = &flows.Formatting{LLM: gemini}
	)
	if config.RedisClient != nil {
		cached := &flows.Cached{
			Extractor: extractor,
			Suggester: suggester,
			Formatter: formatter,
			Cache:     cache.NewRedisCache(config.RedisClient, "anamnesi:"),
			TTL:       cfg.FlowCacheTTL,
			Logger:    log,
		}
		extractor, suggester, formatter = cached, cached, cached
	}
	coordinator := analysis.NewCoordinator(extractor, suggester, formatter, log)

	// Snapshot fan-out
	var broker pubsub.Broker = pubsub.NewMemoryBroker()
	if config.RedisClient != nil {
		broker = pubsub.NewRedisBroker(config.RedisClient)
	}

	// Mongo: interview registry and chunk ledger
	var (
		metaRepo mongorepo.InterviewRepository
		ledger   services.ChunkLedgerService
	)
	if config.MongoClient != nil {
		db := config.MongoClient.Database(cfg.MongoDB)
		metaRepo = mongorepo.NewInterviewRepo(db)
		ledger = services.NewChunkLedgerService(mongorepo.NewChunkRepo(db), cfg.ChunkTTL)
	}

	// Postgres archive, queued through Redis when available
	var recordRepo pgrepo.InterviewRecordRepo
	if config.PostgresDB != nil {
		recordRepo = pgrepo.NewInterviewRecordRepo(config.PostgresDB)
	}
	archive := services.NewArchiveService(recordRepo, config.RedisClient, cfg.ArchiveStream)
	if config.RedisClient != nil && recordRepo != nil {
		pool := &workers.ArchiveWorkerPool{
			Redis:      config.RedisClient,
			Archive:    archive,
			NumWorkers: cfg.ArchiveWorkers,
			Logger:     log,
			Stream:     cfg.ArchiveStream,
		}
		if err := pool.Start(ctx); err != nil {
			log.WithError(err).Fatal("archive workers failed to start")
		}
	}

	// Live interviews
	deps := session.ManagerDeps{
		Transcriber: &stt.DataURITranscriber{Provider: speech, Language: cfg.Language},
		Analyzer:    coordinator,
		Publisher:   broker,
		Metrics:     m,
		Logger:      log,
	}
	if ledger != nil {
		deps.Ledger = ledger
	}
	if recordRepo != nil {
		deps.Archiver = archive
	}
	manager := session.NewManager(deps, session.Options{
		Mode:             cfg.AnalysisMode,
		ScreeningSection: cfg.ScreeningSection,
		SettleTimeout:    cfg.SettleTimeout,
		CallTimeout:      cfg.CallTimeout,
	}, capture.Config{
		Interval:   cfg.ChunkInterval,
		SampleRate: cfg.SampleRate,
	})
	defer manager.Close()

	svcDeps := services.InterviewServiceDeps{
		Manager: manager,
		Meta:    metaRepo,
		Ledger:  ledger,
		Logger:  log,
	}
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSUploader(ctx, cfg.GCSBucket, gopts...)
		if err != nil {
			log.WithError(err).Fatal("gcs client init failed")
		}
		defer gcs.Close()
		svcDeps.Uploader = gcs
		svcDeps.Signer = gcs
	}
	interviews := services.NewInterviewService(svcDeps)

	// HTTP
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log, m))
	routes.RegisterRoutes(r, routes.Deps{
		Interview: handlers.NewInterviewHandler(interviews),
		Archive:   handlers.NewArchiveHandler(archive),
		WS:        handlers.NewWSHandler(interviews, broker, log, cfg.AllowedOrigins),
		JWT: middleware.JWTConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
		Metrics: m.Handler(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
}

func optionalStore(log *logrus.Logger, name string, err error) {
	if errors.Is(err, config.ErrNotConfigured) {
		log.WithField("store", name).Info("store not configured; feature disabled")
		return
	}
	log.WithError(err).WithField("store", name).Fatal("store init failed")
}
