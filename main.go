package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"disputeflow-backend/controllers"
	"disputeflow-backend/database"
	"disputeflow-backend/jobs"
	"disputeflow-backend/middlewares"
	"disputeflow-backend/models"
	"disputeflow-backend/routes"
	"disputeflow-backend/scheduler"
	"disputeflow-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	// ---- Database (public)
	database.Connect()
	database.AutoMigrate()

	// ---- External collaborators
	crypto, err := services.NewEncryptorFromEnv()
	if err != nil {
		log.Fatalf("encryption: %v", err)
	}
	lob, err := services.NewLobClient()
	if err != nil {
		log.Fatalf("lob: %v", err)
	}
	credit, err := services.NewSmartCreditClient()
	if err != nil {
		log.Fatalf("smartcredit: %v", err)
	}
	renderer, err := services.NewHTTPRenderer()
	if err != nil {
		log.Fatalf("renderer: %v", err)
	}
	blobs, err := services.NewHTTPBlobStore()
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	// ---- Background workers
	runner := jobs.NewRunner(envInt("JOB_QUEUE_SIZE", 256))
	runner.Start(envInt("JOB_WORKERS", 4))
	defer runner.Shutdown()

	tasks := &jobs.Tasks{
		Runner:   runner,
		InTenant: database.WithTenant,
		Renderer: renderer,
		Blobs:    blobs,
		Mail:     lob,
		Credit:   credit,
		Crypto:   crypto,
		Parser:   services.SmartCreditReportParser{},
	}

	controllers.Init(tasks, lob, credit, crypto, lob.WebhookSecret, credit.WebhookSecret)

	// ---- Periodic sweeps (SLA deadlines, token refresh, ledger cleanup)
	sched := &scheduler.Scheduler{
		Tenants: func() ([]models.Tenant, error) {
			var tenants []models.Tenant
			err := database.DB.Table("public.tenants").Find(&tenants).Error
			return tenants, err
		},
		InTenant: database.WithTenant,
		Tasks:    tasks,
	}
	sched.Start()
	defer sched.Stop()

	// ---- Limits (configurable via env)
	bodyLimitBytes := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimitBytes <= 0 {
		bodyLimitBytes = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler,
		BodyLimit:    bodyLimitBytes,
	})

	// ---- CORS
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
	}))

	// ---- Global rate limiter (applies to all routes; tune via env)
	rlMax := envInt("RATE_LIMIT_MAX", 60)
	rlWindow := time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
	app.Use(limiter.New(limiter.Config{
		Max:        rlMax,
		Expiration: rlWindow,
		// Default KeyGenerator = client IP; default 429 handler is fine.
	}))

	// ---- Routes
	routes.Register(app)

	// ---- Start
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := app.Listen(":" + port); err != nil {
		log.Fatal(err)
	}
}
