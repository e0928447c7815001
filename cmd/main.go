package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"member-service/internal/handler"
	"member-service/internal/middleware"
	"member-service/internal/model"
	"member-service/internal/reconcile"
	"member-service/internal/sideeffect"
	"member-service/internal/store"
	"member-service/pkg/config"
	"member-service/pkg/database"
	"member-service/pkg/jwtutil"
	"member-service/pkg/logger"
	"member-service/prometheus"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found or error loading: %v\n", err)
	}

	// Load configuration
	conf, err := config.Load("member")
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	err = logger.InitLogger(&logger.LogConfig{
		Level:       conf.Log.Level,
		Environment: conf.Server.Env,
		ServiceName: conf.ServiceName,
	})
	if err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger()

	// Initialize the record store. Postgres is the production driver; the
	// in-memory store exists for local runs and tests.
	var records store.Store
	switch conf.DB.Driver {
	case "memory":
		records = store.NewMemoryStore()
		log.Info("Using in-memory store")
	default:
		if _, err := database.InitDB(&conf.DB); err != nil {
			log.Fatal("Failed to initialize database", zap.Error(err))
		}
		if err := database.MigrateModels(
			&model.Member{},
			&model.Identity{},
			&model.Invitation{},
			&model.RoleProfile{},
			&model.PermissionGrant{},
			&model.OperatorFlag{},
		); err != nil {
			log.Fatal("Failed to migrate database models", zap.Error(err))
		}
		records = store.NewGormStore(database.GetDB())
	}

	// Initialize JWT utility
	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      conf.JWT.SigningKey,
		ExpirationHours: conf.JWT.ExpirationHours,
	})

	// Side-effect pipeline: RabbitMQ when configured, log-only otherwise.
	var publisher sideeffect.Publisher
	if conf.AMQP.URL != "" {
		rabbit, err := sideeffect.NewRabbitPublisher(conf.AMQP.URL, conf.AMQP.Exchange, conf.AMQP.Queue, conf.AMQP.RoutingKey)
		if err != nil {
			log.Fatal("Failed to connect to message broker", zap.Error(err))
		}
		defer rabbit.Close()
		publisher = rabbit
		log.Info("Side effects routed to message broker", zap.String("exchange", conf.AMQP.Exchange))
	} else {
		publisher = sideeffect.NewLogPublisher(log)
		log.Info("AMQP_URL not set, side effects routed to log")
	}
	dispatcher := sideeffect.NewDispatcher(publisher, log)
	defer dispatcher.Close()

	// Reconciliation engine
	engine := reconcile.NewEngine(records, dispatcher, log)
	engine.SetInviteTTL(conf.Invite.TTL)

	handler.Init(engine, records)

	// Initialize Echo framework
	e := echo.New()

	// Apply middleware
	e.Use(middleware.RequestIDMiddleware())
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Metrics endpoint
	e.GET("/metrics", echo.WrapHandler(prometheus.GetPrometheusHandler()))

	// Public routes
	e.GET("/member/hello", handler.Hello)
	e.GET("/health", handler.HealthCheck)

	// Event webhooks - delivered by upstream services with a service token
	events := e.Group("/events")
	events.Use(middleware.JWTAuthMiddleware(jwt))
	events.POST("/identity-created", handler.IdentityCreatedEvent)
	events.POST("/first-login", handler.FirstLoginEvent)

	// Invited self-registration completion
	registrations := e.Group("/registrations")
	registrations.Use(middleware.JWTAuthMiddleware(jwt))
	registrations.POST("", handler.InviteRegistrationEvent)

	// Secured admin routes
	members := e.Group("/members")
	members.Use(middleware.JWTAuthMiddleware(jwt))
	members.POST("", handler.CreateMember)
	members.GET("/:id", handler.GetMember)
	members.GET("", handler.ListMembers)

	invitations := e.Group("/invitations")
	invitations.Use(middleware.JWTAuthMiddleware(jwt))
	invitations.POST("/:token/send", handler.SendInvitation)
	invitations.GET("", handler.ListInvitations)

	profiles := e.Group("/profiles")
	profiles.Use(middleware.JWTAuthMiddleware(jwt))
	profiles.POST("", handler.CreateProfile)
	profiles.GET("", handler.ListProfiles)

	flags := e.Group("/flags")
	flags.Use(middleware.JWTAuthMiddleware(jwt))
	flags.GET("", handler.ListFlags)

	// Start server
	log.Info("Starting member-service on port " + conf.Server.Port)
	e.Logger.Fatal(e.Start(":" + conf.Server.Port))
}
