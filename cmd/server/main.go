package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/jackc/pgx/v5/stdlib"

	"booking-engine/internal/api"
	"booking-engine/internal/config"
	"booking-engine/internal/engine"
	"booking-engine/internal/events"
	"booking-engine/internal/repository"
	"booking-engine/internal/service"
	"booking-engine/internal/tracing"
	_ "booking-engine/migrations"
)

func main() {
	if err := godotenv.Load(".env.dev"); err != nil {
		fmt.Println("No .env.dev file found, reading from environment variables provided by Docker")
	}

	api.SetupGlobalHandler("booking-engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracer, err := tracing.InitTracerProvider("booking-engine", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		}
	}()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		handleMigrations(cfg)
		return
	}

	db := connectDB(cfg)
	defer db.Close()

	eventPublisher, err := events.NewNatsPublisher(cfg.NatsURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	log.Println("Successfully connected to NATS.")

	sessionRepo := repository.NewPostgresSessionRepository(db)
	ledger := repository.NewPostgresReservationLedger(db)
	memberRepo := repository.NewPostgresMemberRepository(db)

	_, err = events.NewMemberSubscriber(cfg.NatsURL, memberRepo)
	if err != nil {
		log.Printf("WARNING: Failed to start member subscriber: %v", err)
		// Continue running even if subscriber fails, NATS may not be ready
	}

	bookingEngine := engine.New(ledger, memberRepo)
	bookingService := service.NewBookingService(bookingEngine, sessionRepo, ledger, eventPublisher)

	// The capacity and schedule projections must be warm before the
	// first booking request arrives.
	if err := bookingService.RestoreState(context.Background()); err != nil {
		log.Fatalf("Failed to restore booking state: %v", err)
	}

	go service.RunCompletionSweep(context.Background(), bookingService, cfg.CompletionSweepInterval)

	bookingHandler := api.NewBookingHandler(bookingService)

	app := fiber.New()
	app.Use(otelfiber.Middleware())
	app.Use(api.PrometheusMiddleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "booking-engine"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")

	v1.Post("/reservations", bookingHandler.BookReservation)
	v1.Delete("/reservations/:id", bookingHandler.CancelReservation)
	v1.Get("/reservations/:id", bookingHandler.GetReservation)

	v1.Get("/members/:id/reservations", bookingHandler.ListMemberReservations)
	v1.Get("/sessions/:id/availability", bookingHandler.GetSessionAvailability)

	internalRoutes := v1.Group("/internal")
	internalRoutes.Use(api.InternalAuthMiddleware(cfg.InternalSharedSecret))
	internalRoutes.Post("/sessions", bookingHandler.CreateSession)
	internalRoutes.Post("/sessions/:id/close", bookingHandler.CloseSession)

	log.Printf("Listening booking-engine on port %s", cfg.AppPort)
	log.Fatal(app.Listen(":" + cfg.AppPort))
}

func connectDB(cfg config.App) *sqlx.DB {
	db, err := sqlx.Connect("pgx", cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Successfully connected to the database.")
	return db
}

func handleMigrations(cfg config.App) {
	fmt.Println("Running database migrations...")

	db, err := sql.Open("pgx", cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("failed to connect to database for migration: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("failed to set goose dialect: %v", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		log.Fatalf("goose: failed to run migrations: %v", err)
	}

	fmt.Println("Migrations applied successfully!")
}
