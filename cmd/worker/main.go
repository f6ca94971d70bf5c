package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"booking-engine/internal/config"
	"booking-engine/internal/worker"
)

func main() {
	godotenv.Load(".env.dev")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Notification worker connected to the database.")

	if err := worker.Start(cfg.NatsURL, db); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	log.Println("Notification worker started, waiting for events...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down notification worker...")
}
