package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wfunc/triviaserver/config"
	"github.com/wfunc/triviaserver/events"
	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/monitor"
	"github.com/wfunc/triviaserver/persistence"
	"github.com/wfunc/triviaserver/room"
	"github.com/wfunc/triviaserver/server"
	"github.com/wfunc/triviaserver/services"
	"github.com/wfunc/triviaserver/trivia"
)

type store interface {
	persistence.RoomStore
	persistence.HighScoreStore
}

func openStore(cfg config.DatabaseConfig) (store, func() error, error) {
	if cfg.Driver == "memory" {
		logger.Log.Warn("Using the in-memory store; rooms are lost on restart and not shared between instances.")
		return persistence.NewMemoryStore(), func() error { return nil }, nil
	}

	db, err := persistence.NewGormPostgreSQL(cfg.Postgres.DSN())
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	// Initialize logger
	logger.Init("info")

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	// Initialize Database
	db, closeStore, err := openStore(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer closeStore()
	logger.Log.Infof("Store %s ready.", cfg.Database.Driver)

	mon := monitor.NewMonitor(cfg.Metrics.Namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	mon.PublishExpvar()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to event broker: %v", err)
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	rooms := room.NewRoomManager(db, trivia.NewOpenTDB(cfg.Trivia.BaseURL, cfg.Trivia.Timeout, cfg.Trivia.RequestInterval), room.Options{
		CodeLength:    cfg.Game.RoomCodeLength,
		MaxRetries:    cfg.Game.MaxUpdateRetries,
		AllowShortage: cfg.Game.AllowQuestionShortage,
		MaxQuestions:  cfg.Game.MaxQuestions,
		Metrics:       mon,
		Events:        publisher,
	})

	// Initialize Game Server
	gameServer := server.NewGameServer(cfg, rooms, services.NewHighScoreService(db, cfg.Game.HighScoreLimit), mon)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		// Start Server
		logger.Log.Infof("Starting trivia server on %s", cfg.Server.HTTPAddress)
		errCh <- gameServer.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Log.Errorf("Server stopped: %v", err)
		}
	case <-ctx.Done():
		logger.Log.Info("Shutting down.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gameServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorf("Shutdown: %v", err)
	}
}
