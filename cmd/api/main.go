package main

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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"messgate/internal/attendance"
	"messgate/internal/auth"
	"messgate/internal/config"
	"messgate/internal/credential"
	"messgate/internal/handler"
	"messgate/internal/httpmiddleware"
	"messgate/internal/logger"
	"messgate/internal/metrics"
	"messgate/internal/queue"
	"messgate/internal/store"
	"messgate/internal/tally"
)

func main() {
	cfg := config.Load()
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Error("http server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, log *slog.Logger) error {
	ctx := context.Background()

	classifier, err := cfg.Classifier()
	if err != nil {
		return err
	}
	codec, err := credential.NewCodec(cfg.CredentialSecret, cfg.CredentialMaxAge)
	if err != nil {
		return err
	}

	if cfg.MigrateOnStart {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		if db == nil {
			return err
		}
		// Scans fail with PERSISTENCE_ERROR until the database comes back.
		log.Warn("db not reachable", slog.Any("error", err))
	}
	defer db.Close()

	var redisClient *store.Redis
	if cfg.NeedsRedis() {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			log.Warn("redis not reachable", slog.String("addr", cfg.RedisAddr))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	// Live tallies are kept in Redis for both queue backends; the memory
	// backend only replaces the transport between api and worker.
	var tallies handler.Tallies
	var q queue.Queue
	switch {
	case cfg.QueueBackend == "redis":
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		if cfg.LiveTallies {
			tallies = tally.NewStore(redisClient.Client)
		}
	case cfg.LiveTallies:
		// No separate worker process; apply events in-process.
		ts := tally.NewStore(redisClient.Client)
		mem := queue.NewInMemory(256)
		msgs, err := mem.Consume(workerCtx)
		if err != nil {
			return err
		}
		go tally.NewWorker(ts, collector, log).Run(workerCtx, msgs)
		q, tallies = mem, ts
	default:
		log.Info("live tallies disabled; scan events are not published")
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, repo, codec, classifier,
		attendance.WithStoreTimeout(cfg.StoreTimeout),
		attendance.WithRecorder(collector),
		attendance.WithLogger(log),
	)

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, httpmiddleware.ClientIP, 5*time.Minute)
	defer limiter.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(log, collector, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(limiter.Middleware())

	r.GET("/metrics", gin.WrapH(metrics.Handler(reg)))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":   http.StatusText(status),
			"db":       dbHealthy,
			"redis":    redisHealthy,
			"timezone": classifier.Location().String(),
		})
	})

	principalLimiter := httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, httpmiddleware.PrincipalOrIP, 5*time.Minute)
	defer principalLimiter.Stop()

	h := handler.New(svc, q, tallies, log)
	h.Register(r, auth.Authenticate(cfg.JWTSigningKey, cfg.JWTIssuer), principalLimiter.Middleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("addr", srv.Addr), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", slog.Any("error", err))
	}

	log.Info("server exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
