package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"scalebridge/config"
	"scalebridge/monitoring"
	"scalebridge/output"
	"scalebridge/sale"
	"scalebridge/scale"
	"scalebridge/serial"
	"scalebridge/session"
	"scalebridge/store"
)

const (
	appName    = "ScaleBridge"
	appVersion = "1.0.0"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	if *configPath == "" {
		log.Fatal("Error: -config flag is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogging(cfg, *debug)
	logger.Info("Starting ScaleBridge",
		"version", appVersion,
		"instance", cfg.App.InstanceID,
		"config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Open the product and sales store
	st, err := store.Open(store.Config{
		Path:        cfg.Store.Path,
		WALMode:     cfg.Store.WALMode,
		BusyTimeout: cfg.Store.BusyTimeout(),
	})
	if err != nil {
		logger.Error("Failed to open store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}

	// NATS feed is optional: a failed connection leaves publishing
	// disabled but the scale still works
	var natsConn *output.NATSConnection
	var publisher *output.ReadingPublisher
	if cfg.NATS.Enabled {
		natsConn, err = output.NewNATSConnection(&cfg.NATS, logger)
		if err != nil {
			logger.Warn("NATS unavailable, POS feed disabled", "error", err)
		} else {
			publisher = output.NewReadingPublisher(
				natsConn.Conn(), cfg.NATS.SubjectPrefix, cfg.App.InstanceID, logger)
		}
	}

	txlog := output.NewTransactionLog(&output.TransactionLogConfig{
		BasePath:   cfg.Logging.BasePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Logger:     logger,
	})

	var monServer *monitoring.Server

	sess := session.New(cfg, serial.NewHostProvider(), session.Events{
		OnReading: func(w scale.WeightData) {
			monServer.BroadcastReading(w)
		},
		OnStable: func(w scale.WeightData) {
			monServer.BroadcastStable(w)
			publisher.PublishStable(w)
		},
		OnStateChange: func(state scale.State) {
			monServer.BroadcastState(state)
		},
		OnError: func(err error) {
			publisher.PublishEvent(output.EventConnectionLost,
				cfg.Serial.Device, err.Error(), nil)
		},
	}, logger)

	committer := sale.NewCommitter(st, st, st, sess.ResetDetector, logger)

	monServer = monitoring.NewServer(&monitoring.ServerConfig{
		Config:     cfg,
		ConfigPath: *configPath,
		Session:    sess,
		Store:      st,
		Committer:  committer,
		TxLog:      txlog,
		OnSale: func(rec store.SaleRecord, productName string) {
			publisher.PublishSale(rec, productName)
		},
		Version: appVersion,
		Logger:  logger,
	})

	if err := monServer.Start(); err != nil {
		logger.Error("Failed to start monitoring server", "error", err)
		os.Exit(1)
	}

	publisher.PublishEvent(output.EventServiceStart, "", "ScaleBridge service started",
		map[string]any{"version": appVersion})

	// Fleet heartbeat rides the same NATS connection
	var health *output.HealthPublisher
	if natsConn != nil {
		health = output.NewHealthPublisher(&output.HealthPublisherConfig{
			Conn:       natsConn,
			Subject:    output.BuildSubject(cfg.NATS.SubjectPrefix, "health", cfg.App.InstanceID),
			InstanceID: cfg.App.InstanceID,
			Logger:     logger,
			StatsFunc: func() output.HealthStats {
				stats := sess.Stats()
				lastLineAgo := int64(-1)
				if !stats.LastLine.IsZero() {
					lastLineAgo = int64(time.Since(stats.LastLine).Seconds())
				}
				return output.HealthStats{
					State:       sess.State().String(),
					Device:      cfg.Serial.Device,
					Connected:   sess.IsConnected(),
					BytesRead:   stats.BytesRead,
					LinesRead:   stats.LinesRead,
					Errors:      stats.Errors,
					Reconnects:  stats.Reconnects,
					LastLineAgo: lastLineAgo,
				}
			},
		})
		health.Start()
	}

	// Silently reopen the previously configured port if enabled
	sess.AutoResume(ctx)

	logger.Info("ScaleBridge started successfully",
		"instance", cfg.App.InstanceID,
		"monitoring_port", cfg.Monitoring.Port,
		"device", cfg.Serial.Device)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down gracefully...")

	publisher.PublishEvent(output.EventServiceStop, "", "ScaleBridge service stopping",
		map[string]any{"reason": sig.String()})

	if health != nil {
		health.Stop()
	}

	if err := monServer.Stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping monitoring server", "error", err)
	}

	done := make(chan struct{})
	go func() {
		sess.Disconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timed out, forcing exit")
	}

	if err := txlog.Close(); err != nil {
		logger.Warn("Error closing transaction log", "error", err)
	}
	if natsConn != nil {
		natsConn.Close()
	}
	if err := st.Close(); err != nil {
		logger.Warn("Error closing store", "error", err)
	}

	logger.Info("ScaleBridge stopped")
}

// setupLogging configures logging with optional file rotation
func setupLogging(cfg *config.Config, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler

	// If log base path is configured, write to a rotating log file
	if cfg.Logging.BasePath != "" {
		if err := os.MkdirAll(cfg.Logging.BasePath, 0755); err != nil {
			log.Printf("Warning: failed to create log directory: %v", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			logPath := filepath.Join(cfg.Logging.BasePath, "scalebridge.log")
			writer := &lumberjack.Logger{
				Filename:   logPath,
				MaxSize:    cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				Compress:   cfg.Logging.Compress,
			}
			handler = slog.NewJSONHandler(writer, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
