package main

import (
	"flag"
	"log"

	"gamehub/internal/config"
	"gamehub/internal/db"
)

func main() {
	status := flag.Bool("status", false, "print the applied schema version and exit")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	dsn := config.Load().DatabaseURL

	if *status {
		version, dirty, err := db.SchemaVersion(dsn)
		if err != nil {
			log.Fatalf("read schema version: %v", err)
		}
		log.Printf("schema version %d dirty=%t", version, dirty)
		return
	}

	if err := db.Migrate(dsn); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	version, _, err := db.SchemaVersion(dsn)
	if err != nil {
		log.Fatalf("read schema version: %v", err)
	}
	log.Printf("database migrations applied, schema version %d", version)
}
