package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/evaltra/evaltra-backend/internal/config"
)

// Schema migration runner. Usage:
//
//	migrate [-path migrations] up|down|version|force <v>
func main() {
	dir := flag.String("path", "migrations", "directory holding migration files")
	flag.Parse()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open migrations: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return
	}

	switch args[0] {
	case "up":
		run(m.Up(), "migrated up")
	case "down":
		run(m.Down(), "migrated down")
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("version: %v", err)
		}
		fmt.Printf("version %d (dirty=%t)\n", v, dirty)
	case "force":
		if len(args) < 2 {
			log.Fatal("force requires a version argument")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("bad version %q: %v", args[1], err)
		}
		run(m.Force(v), fmt.Sprintf("forced version to %d", v))
	default:
		usage()
	}
}

func run(err error, done string) {
	if err != nil && err != migrate.ErrNoChange {
		log.Fatalf("migration: %v", err)
	}
	if err == migrate.ErrNoChange {
		fmt.Println("no change")
		return
	}
	fmt.Println(done)
}

func usage() {
	fmt.Println("usage: migrate [flags] up|down|version|force <version>")
	flag.PrintDefaults()
}
