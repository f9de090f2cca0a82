package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const (
	healthLockName     = "node-health"
	maxConcurrentPolls = 8
)

// StatusFetcher reads a node's health report.
type StatusFetcher interface {
	Status(ctx context.Context, node *models.Node) (*models.NodeStatus, error)
}

// HealthPoller periodically polls every node. Reachable nodes get their metrics
// stored and their client counter recomputed from the pool occupancy they report.
// Unreachable nodes are deactivated until they answer again.
type HealthPoller struct {
	logger   *logger.Logger
	store    models.NodeRepository
	locks    models.LockRepository
	fetcher  StatusFetcher
	interval time.Duration
	holder   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHealthPoller(store models.NodeRepository, locks models.LockRepository, fetcher StatusFetcher, interval time.Duration, logger *logger.Logger) *HealthPoller {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthPoller{
		logger:   logger,
		store:    store,
		locks:    locks,
		fetcher:  fetcher,
		interval: interval,
		holder:   uuid.NewString(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// PollOnce polls all nodes concurrently. Only the instance holding the health
// lease polls; others return immediately.
func (p *HealthPoller) PollOnce(ctx context.Context) error {
	ok, err := p.locks.AcquireLock(ctx, healthLockName, p.holder, p.interval*2)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Debug("Health lease held by another instance, skipping poll")
		return nil
	}

	nodes, err := p.store.ListNodes(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)

	var (
		mu     sync.Mutex
		active int
	)
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			up := p.pollNode(gctx, node)
			if up {
				mu.Lock()
				active++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	metrics.ActiveNodes.Set(float64(active))
	return nil
}

func (p *HealthPoller) pollNode(ctx context.Context, node *models.Node) bool {
	status, err := p.fetcher.Status(ctx, node)
	if err != nil {
		if ctx.Err() != nil {
			return node.Active
		}
		if errors.Is(err, models.ErrNodeUnreachable) && node.Active {
			p.logger.Warnw("Node unreachable, deactivating", "node_id", node.ID, "server_id", node.ExternalID, "error", err)
			if err := p.store.SetNodeActive(ctx, node.ID, false); err != nil {
				p.logger.Errorw("Failed to deactivate node", "node_id", node.ID, "error", err)
			}
			return false
		}
		p.logger.Errorw("Failed to poll node", "node_id", node.ID, "error", err)
		return node.Active
	}

	if err := p.store.SaveNodeStatus(ctx, node.ID, *status, time.Now().UTC()); err != nil {
		p.logger.Errorw("Failed to save node status", "node_id", node.ID, "error", err)
	}
	if !node.Active {
		p.logger.Infow("Node reachable again, reactivating", "node_id", node.ID, "server_id", node.ExternalID)
		if err := p.store.SetNodeActive(ctx, node.ID, true); err != nil {
			p.logger.Errorw("Failed to reactivate node", "node_id", node.ID, "error", err)
			return false
		}
	}
	return true
}

// Start polls immediately and then on every interval until Stop is called.
func (p *HealthPoller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			if err := p.PollOnce(p.ctx); err != nil {
				p.logger.Errorw("Health poll failed", "error", err)
			}
			select {
			case <-ticker.C:
			case <-p.ctx.Done():
				p.logger.Info("Health poller stopped")
				return
			}
		}
	}()
}

func (p *HealthPoller) Stop() {
	p.cancel()
	p.wg.Wait()
	if err := p.locks.ReleaseLock(context.Background(), healthLockName, p.holder); err != nil {
		p.logger.Errorw("Failed to release health lease", "error", err)
	}
}
