package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/config"
	"github.com/frostdev-ops/botpanel-monitor/internal/database"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config path] up|down|version\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logrus.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := database.Initialize(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	switch command := flag.Arg(0); command {
	case "up":
		if err := database.Migrate(db.DB); err != nil {
			log.WithError(err).Fatal("An error occurred while migrating up")
		}
		log.Info("Migrations applied successfully")
	case "down":
		if err := database.MigrateDown(db.DB); err != nil {
			log.WithError(err).Fatal("An error occurred while migrating down")
		}
		log.Info("Migrations rolled back successfully")
	case "version":
		v, dirty, err := database.MigrationVersion(db.DB)
		if err != nil {
			log.WithError(err).Fatal("Failed to read migration version")
		}
		log.WithFields(logrus.Fields{"version": v, "dirty": dirty}).Info("Current migration version")
	default:
		log.Fatalf("Unknown command: %s. Use up, down or version", command)
	}
}
