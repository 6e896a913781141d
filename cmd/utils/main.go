package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aquamarinepk/aqm"
	"github.com/joho/godotenv"

	"github.com/appetiteclub/delivery/cmd/utils/internal/commands"
)

const (
	appName    = "delivery-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	config, err := aqm.LoadConfig("UTILS", os.Args[2:])
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logger := aqm.NewLogger(config.GetStringOrDef("log.level", "info"))

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "token":
		if err := commands.Token(os.Stdout, config); err != nil {
			log.Fatalf("Token issue failed: %v", err)
		}

	case "clear-demo":
		if err := commands.ClearDemo(ctx, config, logger); err != nil {
			log.Fatalf("Clear demo data failed: %v", err)
		}
		logger.Info("Demo data cleared successfully")

	case "reset-db":
		if err := commands.ResetDB(ctx, config, logger); err != nil {
			log.Fatalf("Database reset failed: %v", err)
		}
		logger.Info("Database reset completed successfully")

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - delivery utility commands

Usage:
  %s <command> [options]

Commands:
  token        Issue a development credential for an actor
  clear-demo   Remove demo orders and remittances so they are seeded again
  reset-db     Drop the order store (USE WITH CAUTION)
  version      Print version information
  help         Show this help message

Environment Variables:
  UTILS_AUTH_JWT_SECRET   Secret shared with the order service (token)
  UTILS_ACTOR_ROLE        restaurant, courier, customer or admin (token, default: restaurant)
  UTILS_ACTOR_ID          Actor id (token, default: the demo actor of the role)
  UTILS_TOKEN_TTL         Credential lifetime (token, default: 720h)
  UTILS_DB_DRIVER         mongo or postgres (reset-db, default: mongo)
  UTILS_DB_MONGO_URL      MongoDB connection URL
  UTILS_DB_MONGO_NAME     MongoDB database (default: delivery_order)
  UTILS_DB_POSTGRES_URL   Postgres connection URL
  UTILS_LOG_LEVEL         Log level: debug, info, error (default: info)

Examples:
  UTILS_ACTOR_ROLE=courier %s token
  %s clear-demo
  UTILS_DB_DRIVER=postgres %s reset-db

`, appName, appName, appName, appName, appName)
}
