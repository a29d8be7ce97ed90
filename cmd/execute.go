// Package cmd contains the application entry points and wiring. main.go stays
// a minimal shim, following the pattern of kubectl and hugo.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/knova/knova/internal/log"
)

// Execute is the main entry point. It handles flag parsing and command
// routing; version and help work even when configuration is invalid.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			return printVersionInfo()
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "migrate":
			return executeMigrate()
		case "serve":
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
			printHelp()
			return fmt.Errorf("unknown command: %s", os.Args[1])
		}
	}

	return executeServe()
}

// initLogger builds the process logger. DEBUG enables debug level; JSON
// output is the default since logs feed the audit/analytics pipeline.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo, JSON: true}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

func printHelp() {
	fmt.Println(`knova - internal knowledge assistant platform core

Usage:
  knova [command]

Commands:
  serve       Start the HTTP API server (default)
  migrate     Run pending database migrations and exit
  version     Print version information
  help        Show this help

Environment:
  GEMINI_API_KEY            Generation provider API key (required)
  KNOVA_POSTGRES_HOST       PostgreSQL host
  KNOVA_POSTGRES_PASSWORD   PostgreSQL password
  KNOVA_LISTEN_ADDR         HTTP listen address (default :8080)
  KNOVA_API_TOKENS          Static API tokens: token:user-id:role[,...]
  DEBUG                     Enable debug logging`)
}
