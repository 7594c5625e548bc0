package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tresen/internal/amqp"
	"tresen/internal/config"
	"tresen/internal/export"
	"tresen/internal/log"
	"tresen/internal/mail"
	"tresen/internal/sheets"
	gsheet "tresen/internal/sheets/google"
	"tresen/internal/storage"
	"tresen/internal/tickets"
	"tresen/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logCfg := log.DefaultConfig()
	logCfg.Component = log.ComponentWorker
	logger := log.New(logCfg)
	log.SetDefault(logger)

	logger.Info("Starting tresen-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if len(cfg.BillRecipients) == 0 {
		logger.Error("No bill recipients configured (set BILL_RECIPIENTS)")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Oversight archival into a spreadsheet is optional
	var appender sheets.RowAppender
	if cfg.SpreadsheetID != "" {
		client, err := gsheet.New(context.Background(), cfg.SpreadsheetID)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		appender = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.SpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	deliveryWorker := worker.NewDeliveryWorker(worker.Config{
		Store:  repo,
		Engine: export.New(export.Options{
			LegacyNegativeMoneyFormat: cfg.LegacyNegativeMoneyFormat,
			LegacyIsSpecialSemantics:  cfg.LegacyIsSpecialSemantics,
		}),
		Mailer: mail.New(mail.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SenderAddress,
		}),
		Tickets:        tickets.NewManager(cfg.TicketSecret, cfg.TicketTTL),
		Appender:       appender,
		Recipients:     cfg.BillRecipients,
		PublicBaseURL:  cfg.PublicBaseURL,
		OversightSheet: cfg.OversightSheet,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = amqpClient.ConsumeBillFinalized(ctx, func(msg *amqp.BillFinalizedMessage) error {
		return deliveryWorker.HandleBillFinalized(ctx, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Worker stopped gracefully")
}
