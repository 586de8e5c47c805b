package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"pillpal/internal/audio"
	"pillpal/internal/config"
	"pillpal/internal/database"
	"pillpal/internal/escalation"
	"pillpal/internal/handlers"
	"pillpal/internal/jobs"
	"pillpal/internal/logging"
	"pillpal/internal/middleware"
	"pillpal/internal/models"
	"pillpal/internal/preflight"
	"pillpal/internal/reminder"
	"pillpal/internal/services"
	"pillpal/pkg/auth"
)

// doseStore is the dose log as used across the server
type doseStore interface {
	reminder.DoseLog
	escalation.OutcomeLog
	handlers.DoseHistory
	TerminalEvents(ctx context.Context, from, to time.Time) ([]*models.DoseEvent, error)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting PillPal reminder server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Timezone: %s, Medications: %s)", cfg.Port, loc, cfg.MedicationsFile)

	if cfg.IsProduction() && cfg.JWTSecret == "" {
		log.Fatal("❌ CRITICAL SECURITY ERROR: JWT_SECRET must be set in production")
	}

	clock := clockwork.NewRealClock()

	// SQL database: preferences always, dose log unless MongoDB is configured
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	if preflight.HasFailures(preflight.NewChecker(db, cfg).RunAll()) {
		log.Fatal("❌ Pre-flight checks failed")
	}

	healthChecks := map[string]handlers.HealthCheck{
		"database": db.PingContext,
	}

	var doses doseStore = services.NewDoseLogService(db)
	var mongoDB *database.MongoDB
	if cfg.MongoDBURI != "" {
		mongoDB, err = database.NewMongoDB(cfg.MongoDBURI)
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		if err := mongoDB.Initialize(context.Background()); err != nil {
			log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
		}
		doses = services.NewMongoDoseLog(mongoDB)
		healthChecks["mongodb"] = mongoDB.Ping
		log.Println("🍃 Dose log stored in MongoDB")
	}

	prefService := services.NewPreferenceService(db, clock)
	if err := prefService.Load(context.Background()); err != nil {
		log.Printf("⚠️  %v (using defaults)", err)
	}

	// Metrics
	var metrics *services.Metrics
	var reminderService *reminder.Service
	if cfg.MetricsEnabled {
		metrics = services.InitMetrics(prometheus.DefaultRegisterer, func() float64 {
			if reminderService == nil {
				return 0
			}
			return float64(reminderService.OpenCount())
		})
	}

	// Reminder feed hub shows notices on connected devices
	var feedRecorder services.FeedRecorder
	if metrics != nil {
		feedRecorder = metrics
	}
	connManager := services.NewConnectionManager(feedRecorder)
	prefService.OnChange(connManager.PreferencesChanged)

	// Redis (optional): fire guard and notice relay across replicas
	var redisService *services.RedisService
	var fireGuard reminder.FireGuard
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL, cfg.ReplicaID)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, running single-replica: %v", err)
		} else {
			fireGuard = redisService
			publisher := services.NewNoticePublisher(redisService)
			connManager.Forward(publisher.Notify)
			go publisher.Relay(relayCtx, connManager.Deliver)
			healthChecks["redis"] = redisService.Ping
			log.Printf("🔗 Redis fire guard enabled (replica %s)", cfg.ReplicaID)
		}
	}

	// Medication file
	medStore := services.NewMedicationStore(cfg.MedicationsFile)
	if _, err := medStore.Reload(); err != nil {
		log.Fatalf("❌ Failed to load medications: %v", err)
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := medStore.Watch(watchCtx); err != nil {
			log.Printf("⚠️  [MEDICATIONS] File watcher stopped: %v", err)
		}
	}()

	// Speech
	var speaker reminder.Speaker = audio.LogSpeaker{}
	if cfg.TTSAPIKey != "" {
		speaker = audio.NewService(audio.Config{
			BaseURL:   cfg.TTSBaseURL,
			APIKey:    cfg.TTSAPIKey,
			Model:     cfg.TTSModel,
			Voice:     cfg.TTSVoice,
			OutputDir: cfg.TTSOutputDir,
			Player:    cfg.TTSPlayer,
		})
		log.Printf("🔊 Text-to-speech enabled (model: %s, voice: %s)", cfg.TTSModel, cfg.TTSVoice)
	}

	// Reminder core
	localScheduler, err := reminder.NewGocronScheduler(loc, clock)
	if err != nil {
		log.Fatalf("❌ Failed to create scheduler: %v", err)
	}
	localScheduler.Start()

	outcomes := make(chan models.DoseOutcome, 64)
	var transitionRecorder reminder.Recorder
	if metrics != nil {
		transitionRecorder = metrics
	}
	reminderService = reminder.NewService(reminder.TrackerConfig{
		Clock:     clock,
		Location:  loc,
		Scheduler: localScheduler,
		Log:       doses,
		Notifier:  connManager,
		Speaker:   speaker,
		Guard:     fireGuard,
		Recorder:  transitionRecorder,
		Outcomes:  outcomes,
	}, medStore, prefService)

	if err := reminderService.Start(context.Background()); err != nil {
		log.Fatalf("❌ Failed to start reminder service: %v", err)
	}

	// Caretaker escalation
	var smsChannel escalation.MessageChannel = services.LogChannel{}
	if cfg.TwilioConfigured() {
		twilio, err := services.NewTwilioChannel(services.TwilioConfig{
			AccountSID:    cfg.TwilioAccountSID,
			AuthToken:     cfg.TwilioAuthToken,
			FromNumber:    cfg.TwilioFromNumber,
			RatePerSecond: cfg.TwilioRatePerSecond,
			BaseURL:       cfg.TwilioBaseURL,
		})
		if err != nil {
			log.Fatalf("❌ Invalid Twilio configuration: %v", err)
		}
		smsChannel = twilio
		log.Println("📱 Twilio SMS escalation enabled")
	} else {
		log.Println("⚠️  Twilio not configured, caretaker messages will only be logged")
	}

	var escalationRecorder escalation.Recorder
	if metrics != nil {
		escalationRecorder = metrics
	}
	dispatcher := escalation.NewDispatcher(escalation.Config{
		Channel:     smsChannel,
		Directory:   medStore,
		Log:         doses,
		Prefs:       prefService,
		Recorder:    escalationRecorder,
		Clock:       clock,
		Location:    loc,
		Concurrency: cfg.EscalationConcurrency,
	})
	dispatchDone := make(chan struct{})
	go func() {
		dispatcher.Run(context.Background(), outcomes)
		close(dispatchDone)
	}()

	// Housekeeping jobs
	jobScheduler := jobs.NewJobScheduler(clock)
	jobScheduler.Register("medication-sync", jobs.NewMedicationSyncJob(medStore, cfg.MedicationSyncInterval))
	jobScheduler.Register("dose-retention", jobs.NewDoseRetentionJob(reminderService, cfg.RetentionDays, loc, clock))
	if err := jobScheduler.Start(); err != nil {
		log.Printf("⚠️  Failed to start job scheduler: %v", err)
	}

	// Device tokens
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Invalid JWT_SECRET: %v", err)
		}
		log.Println("🔐 Device token authentication enabled")
	} else {
		log.Println("⚠️  JWT_SECRET not set, API is open to the local network")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "PillPal v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	if cfg.MetricsEnabled {
		prom := fiberprometheus.New("pillpal")
		prom.RegisterAt(app, "/metrics")
		app.Use(prom.Middleware)
		log.Println("📊 Prometheus metrics endpoint enabled at /metrics")
	}

	rateLimitConfig := middleware.LoadRateLimitConfig()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	// Handlers
	healthHandler := handlers.NewHealthHandler(connManager, reminderService, healthChecks)
	doseHandler := handlers.NewDoseHandler(reminderService, doses, clock, loc)
	prefsHandler := handlers.NewPreferencesHandler(reminderService)
	medHandler := handlers.NewMedicationHandler(medStore, reminderService)
	adherenceHandler := handlers.NewAdherenceHandler(services.NewAdherenceService(doses, loc), clock, loc)
	feedHandler := handlers.NewReminderFeedHandler(connManager, reminderService, func() string {
		return clock.Now().In(loc).Format(models.DateLayout)
	})

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api", middleware.DeviceAuthMiddleware(jwtAuth), middleware.GlobalAPIRateLimiter(rateLimitConfig))

	api.Get("/doses", doseHandler.List)
	api.Get("/doses/:id", doseHandler.Get)
	api.Get("/doses/:id/history", doseHandler.History)
	api.Post("/doses/:id/taken", doseHandler.Taken)
	api.Post("/doses/:id/skip", doseHandler.Skip)
	api.Post("/doses/:id/snooze", doseHandler.Snooze)

	api.Get("/preferences", prefsHandler.Get)
	api.Patch("/preferences", middleware.RequireRole("patient"), prefsHandler.Update)

	api.Get("/medications", medHandler.List)
	api.Get("/medications/upcoming", medHandler.Upcoming)
	api.Post("/medications/reconcile", medHandler.Reconcile)
	api.Get("/caretakers", medHandler.Caretakers)

	api.Get("/adherence", adherenceHandler.Report)
	api.Get("/adherence/export", middleware.ExportRateLimiter(rateLimitConfig), adherenceHandler.Export)

	// WebSocket reminder feed
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("client_ip", c.IP())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Use("/ws/reminders", middleware.WebSocketRateLimiter(rateLimitConfig))
	app.Use("/ws/reminders", middleware.DeviceAuthMiddleware(jwtAuth))
	app.Get("/ws/reminders", websocket.New(feedHandler.Handle, websocket.Config{
		Origins: strings.Split(allowedOrigins, ","),
	}))

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 Reminder feed: ws://localhost:%s/ws/reminders", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("💊 %d reminder slots armed", reminderService.TriggerCount())

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}

	// Feed connections hijacked from HTTP can still deliver dose actions;
	// the stopped reminder service refuses them with ErrStopped
	jobScheduler.Stop()
	stopWatch()

	// Stop firing before closing outcomes so nothing sends on a closed channel
	if err := localScheduler.Shutdown(); err != nil {
		log.Printf("⚠️ Error stopping scheduler: %v", err)
	}
	reminderService.Stop()

	// Let queued and in-flight caretaker messages finish
	close(outcomes)
	<-dispatchDone

	stopRelay()
	if redisService != nil {
		redisService.Close()
	}
	if mongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mongoDB.Close(ctx); err != nil {
			log.Printf("⚠️ Error closing MongoDB: %v", err)
		}
		cancel()
	}

	log.Println("👋 Server stopped")
}
