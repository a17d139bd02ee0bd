package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var migrationName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func main() {
	name := flag.String("name", "", "migration name, snake_case")
	dir := flag.String("dir", filepath.Join("internal", "db", "migrations"), "migrations directory")
	flag.Parse()

	if *name == "" {
		log.Fatal("migration name is required")
	}
	if !migrationName.MatchString(*name) {
		log.Fatal("migration name must be snake_case")
	}
	// The directory is embedded by internal/db, so it must already exist.
	if info, err := os.Stat(*dir); err != nil || !info.IsDir() {
		log.Fatalf("migrations dir %s not found; run from the repository root", *dir)
	}

	version := time.Now().UTC().Format("20060102150405")
	base := fmt.Sprintf("%s_%s", version, *name)
	upPath := filepath.Join(*dir, base+".up.sql")
	downPath := filepath.Join(*dir, base+".down.sql")

	if err := writeFile(upPath, fmt.Sprintf("-- %s: up\n", *name)); err != nil {
		log.Fatalf("create up migration: %v", err)
	}
	if err := writeFile(downPath, fmt.Sprintf("-- %s: down\n", *name)); err != nil {
		log.Fatalf("create down migration: %v", err)
	}

	log.Printf("created %s and %s", upPath, downPath)
}

func writeFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("file already exists: %s", path)
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}
