package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campuscard/internal/attendance"
	"campuscard/internal/auth"
	"campuscard/internal/config"
	"campuscard/internal/directory"
	"campuscard/internal/httpmiddleware"
	"campuscard/internal/logging"
	"campuscard/internal/payment"
	"campuscard/internal/provision"
	"campuscard/internal/relay"
	"campuscard/internal/store"
	"campuscard/migrations"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	logger := logging.NewText()
	ctx := context.Background()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(db.Client, migrations.FS); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	hub := relay.NewHub(logger, relay.NewRedisStatusCache(redisClient.Client, 24*time.Hour))

	students := directory.NewRepository(db.Client)
	attSvc := attendance.NewService(logger, attendance.NewRepository(db.Client), students)
	payStore := payment.NewStore(db.Client)
	engine := payment.NewEngine(logger, payStore)
	provisioner := provision.NewCoordinator(logger, hub, students, payStore)

	runConsumers(ctx, logger, hub, attSvc, engine, provisioner)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// The relay websocket is open by design: the bridge and the portal pages
	// attach here without a token.
	r.GET("/ws", relay.WSHandler(hub, logger))

	r.POST("/v1/staff/login", func(c *gin.Context) {
		var req struct {
			StaffID string `json:"staff_id" binding:"required"`
			Role    string `json:"role" binding:"required"`
			Secret  string `json:"secret" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Secret != cfg.StaffSecret {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		tokens, err := auth.Issue(req.StaffID, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	registerAttendanceRoutes(authGroup, attSvc)
	registerPOSRoutes(authGroup, engine)
	registerCardRoutes(authGroup, provisioner, payStore)
	registerDirectoryRoutes(authGroup, students)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(ctx, "starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "forced shutdown", "error", err)
	}
	return nil
}

func registerAttendanceRoutes(g *gin.RouterGroup, svc *attendance.Service) {
	g.POST("/attendance/sessions", func(c *gin.Context) {
		var req struct {
			CourseID string `json:"course_id" binding:"required"`
			Hall     string `json:"hall" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		lecturer := claimsSubject(c)
		sess, err := svc.Start(c.Request.Context(), uuid.NewString(), lecturer, req.CourseID, req.Hall)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"session_id": sess.ID,
			"course_id":  sess.CourseID,
			"hall":       sess.Hall,
			"started_at": sess.StartedAt,
			"summary":    sess.Summary(),
		})
	})

	g.GET("/attendance/sessions/:id", func(c *gin.Context) {
		sess, ok := svc.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": sess.ID,
			"state":      sess.State(),
			"summary":    sess.Summary(),
		})
	})

	g.DELETE("/attendance/sessions/:id", func(c *gin.Context) {
		if err := svc.Stop(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func registerPOSRoutes(g *gin.RouterGroup, engine *payment.Engine) {
	g.POST("/pos/checkouts", func(c *gin.Context) {
		var req struct {
			Items []payment.CartItem `json:"items" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		co, err := engine.Begin(c.Request.Context(), uuid.NewString(), req.Items)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, co.Snapshot())
	})

	g.GET("/pos/checkouts/:id", func(c *gin.Context) {
		co, err := engine.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, co.Snapshot())
	})

	g.POST("/pos/checkouts/:id/manual", func(c *gin.Context) {
		var req struct {
			AmountCents int64 `json:"amount_cents"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		update, err := engine.ManualPayment(c.Request.Context(), c.Param("id"), req.AmountCents)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, update)
	})

	g.DELETE("/pos/checkouts/:id", func(c *gin.Context) {
		engine.Close(c.Param("id"))
		c.Status(http.StatusNoContent)
	})
}

func registerCardRoutes(g *gin.RouterGroup, provisioner *provision.Coordinator, payStore *payment.Store) {
	g.POST("/cards/provision", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		intent, err := provisioner.Request(c.Request.Context(), req.StudentID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"awaiting_card": true, "student_identifier": intent.StudentIdentifier})
	})

	g.GET("/cards/:uid", func(c *gin.Context) {
		account, err := payStore.AccountByUID(c.Request.Context(), c.Param("uid"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, account)
	})

	g.POST("/cards/:uid/recharge", func(c *gin.Context) {
		var req struct {
			AmountCents int64  `json:"amount_cents" binding:"required"`
			Description string `json:"description"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entry, err := payStore.Recharge(c.Request.Context(), c.Param("uid"), req.AmountCents, req.Description)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, entry)
	})

	g.GET("/cards/:uid/ledger", func(c *gin.Context) {
		entries, err := payStore.LedgerByCard(c.Request.Context(), c.Param("uid"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		balance, err := payment.ReplayBalance(entries)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"entries": entries, "replay_error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "replayed_balance_cents": balance})
	})
}

// registerDirectoryRoutes exposes the student lookups the admin and POS
// portals need before they can provision or inspect a card.
func registerDirectoryRoutes(g *gin.RouterGroup, students *directory.Repository) {
	g.GET("/students/:id", func(c *gin.Context) {
		student, err := students.ByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, student)
	})

	g.GET("/students/by-register/:register", func(c *gin.Context) {
		student, err := students.ByRegisterNumber(c.Request.Context(), c.Param("register"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, student)
	})
}

func claimsSubject(c *gin.Context) string {
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	return claims.Subject
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
