package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"tresen/internal/config"
	"tresen/internal/importer"
	"tresen/internal/log"
	"tresen/internal/storage"
)

// user-import reconciles the user table with a users.json member dump.
// Usage: user-import [path], the path defaults to USERS_JSON_PATH.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	path := cfg.UsersJSONPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	users, err := importer.LoadUsersFile(path)
	if err != nil {
		logger.Error("Failed to load users file", "error", err, "path", path)
		os.Exit(1)
	}
	if len(users) == 0 {
		logger.Info("No users to import", "path", path)
		return
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	created, updated, err := importer.New(repo).Import(context.Background(), users)
	if err != nil {
		logger.Error("Import failed", "error", err, "created", created, "updated", updated)
		os.Exit(1)
	}

	logger.Info("Import completed",
		log.FieldOperation, log.OpImport,
		"total", len(users), "created", created, "updated", updated)
}
