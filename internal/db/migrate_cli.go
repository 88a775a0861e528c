package db

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand dispatches the 'migrate' subcommand.
func RunMigrateCommand(args []string, dbPath, migrationsDir string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}
	action := args[0]

	database, err := NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		log.Printf("Running migrations from %s...", migrationsDir)
		if err := database.MigrateUp(migrationsDir); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("✓ All migrations applied")

	case "down":
		log.Printf("Rolling back the most recent migration...")
		if err := database.MigrateDown(migrationsDir); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("✓ Rolled back one migration")

	case "status":
		version, dirty, err := database.MigrateVersion(migrationsDir)
		if err != nil {
			log.Fatalf("Failed to read migration version: %v", err)
		}
		latest, err := LatestMigrationVersion(migrationsDir)
		if err != nil {
			log.Fatalf("Failed to read migrations directory: %v", err)
		}
		fmt.Printf("Database version: %d (dirty: %v)\n", version, dirty)
		fmt.Printf("Latest available: %d\n", latest)
		if err := database.CheckMigrations(migrationsDir); err != nil {
			fmt.Printf("Status: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Status: up to date")

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: activity-report migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version %q: %v", args[1], err)
		}
		if err := database.MigrateForce(migrationsDir, version); err != nil {
			log.Fatalf("Force failed: %v", err)
		}
		log.Printf("✓ Version forced to %d", version)

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Println(`Usage: activity-report migrate <action>

Actions:
  up               Apply all pending migrations
  down             Roll back the most recent migration
  status           Show current and latest migration versions
  force <version>  Pin the version without running migrations (recovery only)
  help             Show this help`)
}
