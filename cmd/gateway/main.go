package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Viktorio135/vpn/internal/config"
	"github.com/Viktorio135/vpn/internal/gateway"
	"github.com/Viktorio135/vpn/internal/http_api"
	"github.com/Viktorio135/vpn/internal/outbox"
	"github.com/Viktorio135/vpn/internal/repository"
	"github.com/Viktorio135/vpn/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "VPN gateway: provisions configs on edge nodes and settles payments",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"P"}, Usage: "API port"},
			&cli.StringFlag{Name: "database-driver", Usage: "postgres or sqlite"},
			&cli.StringFlag{Name: "sqlite-path", Usage: "SQLite database file"},
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.StringFlag{Name: "queue-backend", Usage: "redis or memory"},
			&cli.StringFlag{Name: "redis-addr", Usage: "Redis address"},
			&cli.StringFlag{Name: "configs-dir", Usage: "Directory for transient client configs"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadGatewayConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("port") {
		cfg.APIPort = c.Int("port")
	}
	if c.IsSet("database-driver") {
		cfg.DatabaseDriver = c.String("database-driver")
	}
	if c.IsSet("sqlite-path") {
		cfg.SQLitePath = c.String("sqlite-path")
	}
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("queue-backend") {
		cfg.QueueBackend = c.String("queue-backend")
	}
	if c.IsSet("redis-addr") {
		cfg.RedisAddr = c.String("redis-addr")
	}
	if c.IsSet("configs-dir") {
		cfg.ConfigsDir = c.String("configs-dir")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	var db *repository.DB
	if cfg.DatabaseDriver == "sqlite" {
		db, err = repository.NewSQLiteDB(cfg.SQLitePath, log, repository.GatewayModels...)
	} else {
		db, err = repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize queue
	var queue outbox.Queue
	if cfg.QueueBackend == "memory" {
		log.Warn("Using in-memory queue, messages are lost on restart")
		queue = outbox.NewMemoryQueue()
	} else {
		client, err := outbox.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %v", err)
		}
		defer client.Close()
		queue = outbox.NewRedisQueue(client)
	}

	gw, err := gateway.New(cfg, db, queue, log)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %v", err)
	}
	apiServer := http_api.NewHTTPServer(gw, cfg.APIKey, cfg.PostbackRateLimit, cfg.APIPort, log.Named("api"))

	gw.Start()
	go apiServer.Start()

	<-ctx.Done()
	log.Info("Shutting down gateway...")
	if err := apiServer.Shutdown(); err != nil {
		log.Errorw("Failed to shut down API", "error", err)
	}
	gw.Stop()
	return nil
}
