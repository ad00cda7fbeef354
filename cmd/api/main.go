package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"volunteerattendance/internal/attendance"
	"volunteerattendance/internal/auth"
	"volunteerattendance/internal/config"
	"volunteerattendance/internal/event"
	"volunteerattendance/internal/httpapi"
	"volunteerattendance/internal/httpmiddleware"
	"volunteerattendance/internal/live"
	"volunteerattendance/internal/queue"
	"volunteerattendance/internal/record"
	"volunteerattendance/internal/store"
	"volunteerattendance/internal/telemetry"
	"volunteerattendance/internal/token"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// backend is the storage the service runs on.
type backend struct {
	events  event.Store
	regs    event.Registrations
	records record.Store
	tokens  token.Store
	db      *store.DB
}

func openBackend(ctx context.Context, cfg config.App) (*backend, error) {
	if cfg.StoreBackend == "memory" {
		catalog, err := event.LoadCatalogFile(cfg.EventCatalogFile)
		if err != nil {
			return nil, err
		}
		log.Printf("memory backend catalog=%s events=%d", cfg.EventCatalogFile, len(catalog.EventIDs()))
		return &backend{
			events:  catalog,
			regs:    catalog,
			records: record.NewMemoryStore(),
			tokens:  token.NewMemoryStore(),
		}, nil
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	events := event.NewPostgresStore(db.Client)
	return &backend{
		events:  events,
		regs:    events,
		records: attendance.NewRepository(db.Client),
		tokens:  token.NewPostgresStore(db.Client),
		db:      db,
	}, nil
}

func runHTTP(cfg config.App) error {
	shutdownTracing := telemetry.Setup("attendance-api", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = be.db.Close() }()

	var (
		q           queue.Queue
		redisClient *store.Redis
		redisQueue  *queue.RedisQueue
	)
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		redisQueue = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
		q = redisQueue
	}
	notifier := queue.NewNotifier(q, 256)
	go func() {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("notifier stopped err=%v", err)
		}
	}()

	tokens := token.NewManager(be.tokens, cfg.TokenGrace)
	if n, err := tokens.Warm(ctx, be.events); err != nil {
		log.Printf("warning: token warm-up failed: %v", err)
	} else {
		log.Printf("tokens warmed events=%d", n)
	}

	svc := attendance.NewService(attendance.Deps{
		Events:        be.events,
		Registrations: be.regs,
		Records:       be.records,
		Tokens:        tokens,
		Live:          live.New(cfg.SubscriberBuffer),
		Notifier:      notifier,
	}, attendance.Options{
		SweepGrace:      cfg.SweepGrace,
		ConflictRetries: cfg.ConflictRetries,
		ClockSkew:       cfg.ClockSkew,
	})
	go func() {
		if err := svc.RunReconciler(ctx, cfg.ResyncInterval); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("reconciler stopped err=%v", err)
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok", "store": cfg.StoreBackend, "queue": cfg.QueueBackend}
		status := http.StatusOK
		if be.db != nil {
			healthy := be.db.Healthy(c.Request.Context())
			body["db"] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
			}
		}
		if redisClient != nil {
			healthy := redisClient.Healthy(c.Request.Context())
			body["redis"] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
			} else if depth, err := redisQueue.Depth(c.Request.Context()); err == nil {
				body["queue_depth"] = depth
			}
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	if cfg.Env == "dev" {
		r.POST("/v1/dev/tokens", devTokens(cfg))
	}

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	httpapi.NewHandler(svc, cfg.JWTSigningKey, cfg.JWTIssuer, limiter).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(r, "attendance-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s store=%s queue=%s", cfg.HTTPPort, cfg.StoreBackend, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// devTokens issues tokens for local testing; identity lives elsewhere in production.
func devTokens(cfg config.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			if errors.Is(err, auth.ErrUnknownRole) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	}
}

// CORS middleware for browser dashboards
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
