package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outboundlab/conviction/internal/api/handlers"
	mw "github.com/outboundlab/conviction/internal/api/middleware"
	"github.com/outboundlab/conviction/internal/buildconfig"
	"github.com/outboundlab/conviction/internal/cache"
	"github.com/outboundlab/conviction/internal/config"
	"github.com/outboundlab/conviction/internal/domain"
	"github.com/outboundlab/conviction/internal/ledger"
	"github.com/outboundlab/conviction/internal/reasoning"
	"github.com/outboundlab/conviction/internal/service"
	"github.com/outboundlab/conviction/internal/store"
	"go.uber.org/zap"
)

// App holds the router and background workers for lifecycle management.
type App struct {
	Router     *chi.Mux
	Governance *service.GovernanceService
	Cache      *cache.HypothesisCache

	db           *pgxpool.Pool
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewApp wires stores, services, and handlers. A nil db runs everything on
// in-memory stores, which is how tests and single-process deployments run.
func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	var (
		bindingStore domain.BindingStore
		statsStore   domain.ClusterStatsStore
		templStore   domain.TemplateStore
		reportStore  domain.ReportStore
		stateStore   domain.EntityStateStore
		ledgerLog    domain.LedgerLog
	)
	if db != nil {
		bindingStore = store.NewBindingStore(db)
		statsStore = store.NewClusterStatsStore(db)
		templStore = store.NewTemplateStore(db)
		reportStore = store.NewReportStore(db)
		stateStore = store.NewEntityStateStore(db)
		ledgerLog = store.NewLedgerLog(db)
	} else {
		bindingStore = store.NewMemBindingStore()
		statsStore = store.NewMemClusterStatsStore()
		templStore = store.NewMemTemplateStore()
		reportStore = store.NewMemReportStore()
		stateStore = store.NewMemEntityStateStore()
		ledgerLog = store.NewMemLedgerLog()
	}

	evidenceQueue := store.NewEvidenceQueue()

	// External reasoning client via provider factory
	reasoningProvider := config.ReasoningProvider()
	reasoningClient, err := reasoning.NewClient(reasoningProvider, config.ReasoningURL())
	if err != nil {
		logger.Warn("reasoning client initialization failed", zap.String("provider", reasoningProvider), zap.Error(err))
	} else if reasoningClient != nil {
		logger.Info("reasoning client initialized", zap.String("provider", reasoningProvider))
	}

	// Services
	evidenceLedger := ledger.New(ledgerLog, logger)

	hypothesisCache := cache.New(config.CacheMaxBytes(), config.CacheTTL(), logger)

	engine := service.NewConfidenceEngine(evidenceLedger, statsStore, reasoningClient, logger)
	engine.BaselineConfidence = config.BaselineConfidence()
	engine.ConfidenceCeiling = config.ConfidenceCeiling()
	engine.AcceptDelta = config.AcceptDelta()
	engine.WeakAcceptDelta = config.WeakAcceptDelta()
	engine.SetHypothesisCache(hypothesisCache)

	runner := service.NewEntityRunner(engine, stateStore, evidenceQueue, logger)
	runner.MaxConcurrent = config.MaxConcurrentEntities()

	governanceSvc := service.NewGovernanceService(bindingStore, logger)
	governanceSvc.FreezeAfter = config.BindingFreezeAfter()

	promotionSvc := service.NewPromotionService(runner, governanceSvc, stateStore, reportStore, templStore, bindingStore, logger)
	promotionSvc.SampleSize = config.SampleSize()
	promotionSvc.ReplicationDiscount = config.ReplicationDiscount()

	// Handlers
	entityHandler := handlers.NewEntityHandler(runner, evidenceQueue)
	hypothesisHandler := handlers.NewHypothesisHandler(hypothesisCache)
	clusterHandler := handlers.NewClusterHandler(promotionSvc, reportStore, templStore, evidenceLedger)
	bindingHandler := handlers.NewBindingHandler(promotionSvc, governanceSvc, bindingStore, templStore)

	r := chi.NewRouter()

	app := &App{
		Router:     r,
		Governance: governanceSvc,
		Cache:      hypothesisCache,
		db:         db,
		startTime:  time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", app.healthHandler())
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		// Entities
		r.Route("/entities/{id}", func(r chi.Router) {
			r.Post("/evidence", entityHandler.Ingest)
			r.Post("/evidence/queue", entityHandler.Enqueue)
			r.Get("/state", entityHandler.GetState)
		})

		// Clusters
		r.Route("/clusters/{id}", func(r chi.Router) {
			r.Post("/explore", clusterHandler.Explore)
			r.Post("/promote", clusterHandler.Promote)
			r.Get("/templates", clusterHandler.ListTemplates)
			r.Get("/ledger", clusterHandler.Ledger)
			r.Post("/ledger/verify", clusterHandler.VerifyLedger)
		})

		// Hot hypothesis lookups served from the cache
		r.Get("/hypotheses/{id}", hypothesisHandler.Get)

		// Templates and runtime bindings
		r.Route("/templates/{templateID}", func(r chi.Router) {
			r.Post("/replicate", bindingHandler.Replicate)
			r.Get("/bindings", bindingHandler.List)
			r.Route("/bindings/{entityID}", func(r chi.Router) {
				r.Post("/use", bindingHandler.RecordUse)
				r.Get("/drift", bindingHandler.Drift)
			})
		})
	})

	return app
}

// Start launches the background workers: the governance drift sweep and the
// hypothesis cache expiry sweeper.
func (app *App) Start() {
	app.Governance.Start()
	app.Cache.Start(cache.DefaultSweepInterval)
}

// Stop halts the background workers and waits for them to exit.
func (app *App) Stop() {
	app.Governance.Stop()
	app.Cache.Stop()
}

func (app *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if app.db != nil {
			if err := app.db.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)
		cacheStats := app.Cache.Stats()

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"cache": map[string]any{
				"hits":        cacheStats.Hits,
				"misses":      cacheStats.Misses,
				"evictions":   cacheStats.Evictions,
				"expirations": cacheStats.Expirations,
				"entries":     cacheStats.Entries,
				"bytes":       cacheStats.Bytes,
			},
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
			"build":      buildconfig.VersionInfo(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores satisfy their interfaces at compile time.
var (
	_ domain.BindingStore      = (*store.BindingStore)(nil)
	_ domain.BindingStore      = (*store.MemBindingStore)(nil)
	_ domain.ClusterStatsStore = (*store.ClusterStatsStore)(nil)
	_ domain.ClusterStatsStore = (*store.MemClusterStatsStore)(nil)
	_ domain.TemplateStore     = (*store.TemplateStore)(nil)
	_ domain.TemplateStore     = (*store.MemTemplateStore)(nil)
	_ domain.ReportStore       = (*store.ReportStore)(nil)
	_ domain.ReportStore       = (*store.MemReportStore)(nil)
	_ domain.EntityStateStore  = (*store.EntityStateStore)(nil)
	_ domain.EntityStateStore  = (*store.MemEntityStateStore)(nil)
	_ domain.LedgerLog         = (*store.LedgerLog)(nil)
	_ domain.LedgerLog         = (*store.MemLedgerLog)(nil)
	_ domain.EvidenceLedger    = (*ledger.Ledger)(nil)
	_ domain.EvidenceSource    = (*store.EvidenceQueue)(nil)
	_ domain.ReasoningClient   = (*reasoning.HTTPClient)(nil)
	_ domain.ReasoningClient   = (*reasoning.MockClient)(nil)
)
