// Command seed populates the document store with synthetic test accounts and
// matching queue entries, or purges everything it previously created.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"cdi-alert-engine/internal/config"
	"cdi-alert-engine/internal/repository/mongodb"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	create := flag.Int("create", 0, "number of test accounts to create")
	purge := flag.Bool("delete", false, "delete all previously seeded test data")
	flag.Parse()

	if *create <= 0 && !*purge {
		log.Fatal("nothing to do: pass -create N or -delete")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := mongodb.Connect(ctx, cfg.Mongo.URL, cfg.Mongo.Database)
	if err != nil {
		logger.Fatal("Failed to connect to document store", zap.Error(err))
	}
	defer func() { _ = store.Close(ctx) }()

	if *purge {
		if err := store.PurgeTestData(ctx); err != nil {
			logger.Fatal("Purge failed", zap.Error(err))
		}
		logger.Info("Test data purged")
	}

	if *create > 0 {
		if err := store.SeedTestAccounts(ctx, *create); err != nil {
			logger.Fatal("Seeding failed", zap.Error(err))
		}
		logger.Info("Test accounts seeded", zap.Int("count", *create))
	}
}
