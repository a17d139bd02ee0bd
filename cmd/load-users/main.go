package main

import (
	"flag"
	"log"

	"gamehub/internal/config"
	"gamehub/internal/db"
)

func main() {
	filePath := flag.String("file", "users.csv", "path to users csv (name,friend;friend)")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}

	conn, err := db.Open(config.Load())
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	loaded, err := db.LoadUsers(conn, *filePath)
	if err != nil {
		log.Fatalf("failed to load users: %v", err)
	}
	log.Printf("loaded %d users", loaded)
}
