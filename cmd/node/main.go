package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Viktorio135/vpn/internal/auth"
	"github.com/Viktorio135/vpn/internal/config"
	"github.com/Viktorio135/vpn/internal/node"
	"github.com/Viktorio135/vpn/internal/nodeapi"
	"github.com/Viktorio135/vpn/internal/pool"
	"github.com/Viktorio135/vpn/internal/repository"
	"github.com/Viktorio135/vpn/internal/wireguard"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const statusSampleWindow = time.Second

func main() {
	app := &cli.App{
		Name:  "node",
		Usage: "VPN edge node: manages WireGuard peers for the gateway",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"P"}, Usage: "API port"},
			&cli.StringFlag{Name: "server-id", Aliases: []string{"i"}, Usage: "Node identifier declared to the gateway"},
			&cli.StringFlag{Name: "public-url", Usage: "Base URL of this node's API"},
			&cli.StringFlag{Name: "gateway-url", Aliases: []string{"g"}, Usage: "Gateway base URL"},
			&cli.StringFlag{Name: "subnet", Aliases: []string{"s"}, Usage: "Client address subnet"},
			&cli.StringFlag{Name: "interface", Usage: "WireGuard interface"},
			&cli.IntFlag{Name: "max-clients", Aliases: []string{"m"}, Usage: "Declared client capacity"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database file"},
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
	cfg, err := config.LoadNodeConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("port") {
		cfg.APIPort = c.Int("port")
	}
	if c.IsSet("server-id") {
		cfg.ExternalID = c.String("server-id")
	}
	if c.IsSet("public-url") {
		cfg.PublicURL = c.String("public-url")
	}
	if c.IsSet("gateway-url") {
		cfg.GatewayURL = c.String("gateway-url")
	}
	if c.IsSet("subnet") {
		cfg.Subnet = c.String("subnet")
	}
	if c.IsSet("interface") {
		cfg.Interface = c.String("interface")
	}
	if c.IsSet("max-clients") {
		cfg.MaxClients = c.Int("max-clients")
	}
	if c.IsSet("db-path") {
		cfg.DBPath = c.String("db-path")
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
	db, err := repository.NewSQLiteDB(cfg.DBPath, log, repository.NodeModels...)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	// Seed the address pool on first start
	addresses := pool.New(db, log.Named("pool"))
	if _, err := addresses.Init(ctx, cfg.Subnet); err != nil {
		return fmt.Errorf("failed to initialize address pool: %v", err)
	}

	wg := wireguard.NewCommandExecutor(cfg.Interface, cfg.ServerPublicKey, log.Named("wireguard"))
	peers := node.NewService(cfg, addresses, db, wg, log.Named("peers"))
	status := node.NewStatusReporter(node.NewHostSampler(statusSampleWindow), addresses)

	identity := node.NewIdentityStore(cfg.IdentityPath)
	if _, err := identity.Load(); err != nil {
		return fmt.Errorf("failed to load node identity: %v", err)
	}
	registrar := node.NewRegistrar(cfg, identity, log.Named("registrar"))

	tokens := auth.NewIssuer(cfg.NodeTokenSecret, 0)
	apiServer := nodeapi.NewHTTPServer(peers, status, tokens, cfg.ExternalID, cfg.APIPort, log.Named("api"))

	go apiServer.Start()
	registrar.Start()

	<-ctx.Done()
	log.Info("Shutting down node...")
	registrar.Stop()
	if err := apiServer.Shutdown(); err != nil {
		log.Errorw("Failed to shut down node API", "error", err)
	}
	return nil
}
