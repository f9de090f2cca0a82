// Package pool manages a node's WireGuard client address range.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

// maxClaimAttempts bounds retries when another writer wins the compare-and-set.
const maxClaimAttempts = 16

// Pool hands out addresses. The store is the source of truth; the mutex only
// serialises allocations made by this process.
type Pool struct {
	logger *logger.Logger
	store  models.AddressRepository

	mu sync.Mutex
}

func New(store models.AddressRepository, logger *logger.Logger) *Pool {
	return &Pool{store: store, logger: logger}
}

// Init seeds an empty pool with the host addresses of subnet. The first host is
// left out because it belongs to the server interface.
func (p *Pool) Init(ctx context.Context, subnet string) (int, error) {
	count, err := p.store.CountAddresses(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	hosts, err := Hosts(subnet)
	if err != nil {
		return 0, err
	}
	if len(hosts) < 2 {
		return 0, fmt.Errorf("subnet %s is too small", subnet)
	}
	if err := p.store.SeedAddresses(ctx, hosts[1:]); err != nil {
		return 0, err
	}
	p.logger.Infow("Address pool seeded", "subnet", subnet, "addresses", len(hosts)-1)
	return len(hosts) - 1, nil
}

// Allocate binds the lowest free address to clientID.
func (p *Pool) Allocate(ctx context.Context, clientID int64) (*models.Address, error) {
	if clientID == 0 {
		return nil, fmt.Errorf("client id is required: %w", models.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		addr, err := p.store.FirstFreeAddress(ctx)
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrPoolExhausted
		}
		if err != nil {
			return nil, err
		}

		ok, err := p.store.ClaimAddress(ctx, addr.ID, clientID)
		if err != nil {
			return nil, err
		}
		if ok {
			addr.Used = true
			addr.ClientID = clientID
			return addr, nil
		}
		p.logger.Debugw("Address claimed concurrently, retrying", "ip", addr.IP)
	}
	return nil, fmt.Errorf("could not claim a free address after %d attempts: %w", maxClaimAttempts, models.ErrPoolExhausted)
}

// Bind claims a specific free address for clientID.
func (p *Pool) Bind(ctx context.Context, addr *models.Address, clientID int64) error {
	if clientID == 0 {
		return fmt.Errorf("client id is required: %w", models.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ok, err := p.store.ClaimAddress(ctx, addr.ID, clientID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("address %s is already bound: %w", addr.IP, models.ErrInvalidState)
	}
	addr.Used = true
	addr.ClientID = clientID
	return nil
}

// Release frees addr. Releasing an address that is free or bound to another
// client is a no-op, so a retried release never frees someone else's address.
func (p *Pool) Release(ctx context.Context, addr *models.Address) error {
	released, err := p.store.ReleaseAddress(ctx, addr.ID, addr.ClientID)
	if err != nil {
		return err
	}
	if !released {
		p.logger.Debugw("Address already released", "ip", addr.IP, "client_id", addr.ClientID)
	}
	addr.Used = false
	addr.ClientID = 0
	return nil
}

// Occupancy returns the number of used and total addresses.
func (p *Pool) Occupancy(ctx context.Context) (int64, int64, error) {
	return p.store.Occupancy(ctx)
}

// Hosts lists the usable host addresses of an IPv4 prefix, excluding the network
// and broadcast addresses.
func Hosts(subnet string) ([]string, error) {
	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet %q: %w", subnet, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("only IPv4 subnets are supported, got %s", subnet)
	}
	if prefix.Bits() > 30 {
		return nil, fmt.Errorf("subnet %s has no usable hosts", subnet)
	}
	if prefix.Bits() < 16 {
		return nil, fmt.Errorf("subnet %s is too large", subnet)
	}

	prefix = prefix.Masked()
	var hosts []string
	for addr := prefix.Addr().Next(); prefix.Contains(addr); addr = addr.Next() {
		if !prefix.Contains(addr.Next()) {
			break // broadcast
		}
		hosts = append(hosts, addr.String())
	}
	return hosts, nil
}
