package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/honeynil/safedeal/internal/config"
	"github.com/honeynil/safedeal/internal/db"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	conn, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		log.Fatalf("Postgres is not reachable: %v", err)
	}
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migration complete")
}
