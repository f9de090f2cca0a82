// Package gateway wires the gateway components together and serves the
// business operations behind the gateway API.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Viktorio135/vpn/internal/auth"
	"github.com/Viktorio135/vpn/internal/blockchain"
	"github.com/Viktorio135/vpn/internal/config"
	"github.com/Viktorio135/vpn/internal/ledger"
	"github.com/Viktorio135/vpn/internal/lifecycle"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/internal/nodeclient"
	"github.com/Viktorio135/vpn/internal/notificator"
	"github.com/Viktorio135/vpn/internal/outbox"
	"github.com/Viktorio135/vpn/internal/payment"
	"github.com/Viktorio135/vpn/internal/provisioner"
	"github.com/Viktorio135/vpn/internal/registry"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const (
	trialConfigName = "default"
	invoiceTimeout  = 15 * time.Second

	currencyUSDT = "USDT"
	currencyCTN  = "CTN"
)

// Gateway is the main struct of the gateway application.
// It owns every component and serves the business logic behind the API.
type Gateway struct {
	logger *logger.Logger
	config *config.GatewayConfig

	repo        models.Repository
	registry    *registry.Registry
	health      *registry.HealthPoller
	provisioner *provisioner.Provisioner
	lifecycle   *lifecycle.Manager
	ledger      *ledger.Ledger
	payments    *payment.Reconciler
	outbox      *outbox.Outbox
	consumers   []*outbox.Consumer
	telegram    *notificator.TelegramNotificator
	core        *blockchain.Gocore
}

// Option customizes a Gateway before its components are built.
type Option func(*options)

type options struct {
	telegram *notificator.TelegramNotificator
}

// WithTelegram uses an already built bot instead of creating one from the config.
func WithTelegram(t *notificator.TelegramNotificator) Option {
	return func(o *options) { o.telegram = t }
}

// New builds the gateway on top of repo and queue.
func New(cfg *config.GatewayConfig, repo models.Repository, queue outbox.Queue, logger *logger.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{logger: logger, config: cfg, repo: repo}

	tokens := auth.NewIssuer(cfg.NodeTokenSecret, cfg.NodeTokenTTL)
	g.registry = registry.New(repo, tokens, cfg.ProvisioningSecret, cfg.SingleNodeOverflow, logger.Named("registry"))
	nodes := nodeclient.New(g.registry, cfg.NodeRequestTimeout, logger.Named("nodeclient"))
	g.health = registry.NewHealthPoller(repo, repo, nodes, cfg.HealthInterval, logger.Named("health"))

	artifacts, err := provisioner.NewArtifactStore(cfg.ConfigsDir)
	if err != nil {
		return nil, err
	}
	g.provisioner = provisioner.New(repo, repo, repo, g.registry, nodes, artifacts, logger.Named("provisioner"))

	g.outbox = outbox.New(queue, logger.Named("outbox"))
	g.lifecycle = lifecycle.NewManager(repo, repo, g.provisioner, g.outbox, cfg.SweepInterval, cfg.ReminderWindow, logger.Named("lifecycle"))
	g.ledger = ledger.New(repo, logger.Named("ledger"))

	g.telegram = o.telegram
	if g.telegram == nil && cfg.TelegramBotToken != "" {
		g.telegram, err = notificator.NewTelegramNotificator(cfg.TelegramBotToken, logger.Named("telegram"))
		if err != nil {
			return nil, err
		}
	}

	g.payments = payment.NewReconciler(g.ledger, repo, g.lifecycle, g.rails(), g.outbox, g.provisioner, logger.Named("payments"))

	g.consumers = append(g.consumers, outbox.NewConsumer(queue, outbox.Postbacks, g.handlePostback, logger.Named("postbacks")))
	if g.telegram != nil {
		g.telegram.SetPaymentConfirmer(g.payments)
		delivery := notificator.NewNotificator(g.telegram, logger.Named("notificator"))
		g.consumers = append(g.consumers, outbox.NewConsumer(queue, outbox.Notifications, delivery.Handle, logger.Named("notifications")))
		g.consumers = append(g.consumers, outbox.NewConsumer(queue, outbox.PaymentEvents, delivery.HandlePaymentEvent, logger.Named("payment-events")))
	}
	return g, nil
}

// rails builds the payment rails the configuration enables.
func (g *Gateway) rails() payment.Rails {
	cfg := g.config
	rails := payment.Rails{}

	if cfg.CryptoCloudAPIKey != "" {
		rails[models.MethodCustodial] = payment.NewCryptoCloud(
			cfg.CryptoCloudAPIURL, cfg.CryptoCloudAPIKey, cfg.CryptoCloudShopID, cfg.CryptoCloudSecret,
			invoiceTimeout, g.logger.Named("cryptocloud"))
	}

	chains := make(map[string]payment.Chain)
	if cfg.TronDepositAddress != "" {
		chains[currencyUSDT] = payment.Chain{
			Explorer: blockchain.NewTronGrid(cfg.TronGridURL, cfg.TronGridAPIKey, cfg.TronDepositAddress, cfg.TronUSDTContract, g.logger.Named("trongrid")),
			Deposit:  cfg.TronDepositAddress,
		}
	}
	if cfg.CoreRPCURL != "" {
		g.core = blockchain.NewGocore(cfg.CoreRPCURL, cfg.CoreDepositAddress, cfg.CoreTokenContract,
			cfg.CoreNetworkID, cfg.CoreLookbackBlocks, g.logger.Named("gocore"))
		chains[currencyCTN] = payment.Chain{Explorer: g.core, Deposit: cfg.CoreDepositAddress}
	}
	if len(chains) > 0 {
		rails[models.MethodOnChain] = payment.NewOnChain(chains, cfg.PaymentTolerance, g.ledger, g.logger.Named("onchain"))
	}

	if g.telegram != nil {
		rails[models.MethodInApp] = payment.NewInApp(g.telegram, g.logger.Named("inapp"))
	}

	methods := make([]string, 0, len(rails))
	for m := range rails {
		methods = append(methods, string(m))
	}
	g.logger.Infow("Payment rails configured", "methods", strings.Join(methods, ","))
	return rails
}

// Start starts the background jobs of the gateway
func (g *Gateway) Start() {
	g.health.Start()
	g.lifecycle.Start()
	for _, c := range g.consumers {
		c.Start()
	}
	if g.telegram != nil {
		g.telegram.Start()
	}
	g.logger.Info("Gateway started")
}

// Stop stops the background jobs and waits for them to finish.
func (g *Gateway) Stop() {
	if g.telegram != nil {
		g.telegram.Stop()
	}
	for _, c := range g.consumers {
		c.Stop()
	}
	g.lifecycle.Stop()
	g.health.Stop()
	if g.core != nil {
		if err := g.core.Close(); err != nil {
			g.logger.Errorw("Failed to close Core RPC client", "error", err)
		}
	}
	g.logger.Info("Gateway stopped")
}

func (g *Gateway) CreateUser(ctx context.Context, id int64) (*models.User, bool, error) {
	if id <= 0 {
		return nil, false, fmt.Errorf("%w: user id must be positive", models.ErrInvalidInput)
	}
	return g.repo.EnsureUser(ctx, id)
}

func (g *Gateway) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return g.repo.GetUser(ctx, id)
}

func (g *Gateway) ListSubscriptions(ctx context.Context, ownerID int64) ([]*models.Subscription, error) {
	if _, err := g.repo.GetUser(ctx, ownerID); err != nil {
		return nil, err
	}
	return g.repo.ListSubscriptionsByOwner(ctx, ownerID)
}

func (g *Gateway) GetSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	return g.repo.GetSubscription(ctx, id)
}

// CreateSubscription provisions a config without a payment. The trial gets the
// name "default" and a paid config without a name gets a generated one.
func (g *Gateway) CreateSubscription(ctx context.Context, ownerID int64, name string, months int) (*models.ProvisionResult, error) {
	if name == "" {
		name = configName(months)
	}
	return g.lifecycle.Create(ctx, ownerID, name, months)
}

func configName(months int) string {
	if months == 0 {
		return trialConfigName
	}
	return "vpn-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func (g *Gateway) RenewSubscription(ctx context.Context, id uint, months int) (*models.Subscription, error) {
	return g.lifecycle.Renew(ctx, id, months)
}

func (g *Gateway) ReinstallSubscription(ctx context.Context, id uint) (*models.ProvisionResult, error) {
	return g.provisioner.Reinstall(ctx, id)
}

// DeleteSubscription tears a subscription down. Unlike a repeated teardown, an
// unknown id is reported as not found.
func (g *Gateway) DeleteSubscription(ctx context.Context, id uint) error {
	if _, err := g.repo.GetSubscription(ctx, id); err != nil {
		return err
	}
	return g.provisioner.Teardown(ctx, id)
}

func (g *Gateway) DiscardArtifact(result *models.ProvisionResult) {
	g.provisioner.DiscardArtifact(result)
}

func (g *Gateway) OpenTransaction(ctx context.Context, req models.OpenTransactionRequest) (*models.Transaction, *models.Checkout, error) {
	return g.payments.Open(ctx, req)
}

func (g *Gateway) GetTransaction(ctx context.Context, id uint) (*models.Transaction, error) {
	return g.ledger.Get(ctx, id)
}

func (g *Gateway) ConfirmTransaction(ctx context.Context, conf models.PaymentConfirmation) (*models.PaymentOutcome, error) {
	return g.payments.Confirm(ctx, conf)
}

func (g *Gateway) FailTransaction(ctx context.Context, id uint, comment string) (*models.Transaction, error) {
	return g.payments.Fail(ctx, id, comment)
}

func (g *Gateway) CheckTransaction(ctx context.Context, id uint) (*models.PaymentOutcome, error) {
	return g.payments.Check(ctx, id)
}

// EnqueuePostback stores a custodial postback for the postback consumer.
func (g *Gateway) EnqueuePostback(ctx context.Context, postback models.Postback) error {
	return g.outbox.PublishPostback(ctx, postback)
}

// Notify queues a text for the user. Delivery problems are logged only.
func (g *Gateway) Notify(ctx context.Context, ownerID int64, text string) {
	if err := g.outbox.Publish(ctx, ownerID, text); err != nil {
		g.logger.Errorw("Failed to queue notification", "owner_id", ownerID, "error", err)
	}
}

func (g *Gateway) RegisterNode(ctx context.Context, desc models.NodeDescriptor, proof string) (string, error) {
	return g.registry.Register(ctx, desc, proof)
}

func (g *Gateway) NodeStatuses(ctx context.Context) ([]*models.Node, error) {
	return g.registry.Statuses(ctx)
}

var _ models.GatewayService = (*Gateway)(nil)
