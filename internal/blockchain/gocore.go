package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/core-coin/go-core/v2/common"
	"github.com/core-coin/go-core/v2/core/types"
	"github.com/core-coin/go-core/v2/xcbclient"

	"github.com/Viktorio135/vpn/pkg/logger"
	"github.com/Viktorio135/vpn/pkg/validation"
)

const rpcTimeout = 10 * time.Second

// Gocore scans recent Core blocks for CBC-20 transfers into the deposit address.
type Gocore struct {
	logger   *logger.Logger
	apiURL   string
	deposit  string
	token    string
	lookback uint64
	signer   types.Signer

	mu     sync.Mutex
	client *xcbclient.Client
}

// NewGocore creates a new Gocore instance. The RPC connection is opened on first use.
func NewGocore(apiURL, deposit, tokenContract string, networkID int64, lookback int, logger *logger.Logger) *Gocore {
	return &Gocore{
		logger:   logger,
		apiURL:   apiURL,
		deposit:  validation.NormalizeAddress(deposit),
		token:    validation.NormalizeAddress(tokenContract),
		lookback: uint64(lookback),
		signer:   types.NewNucleusSigner(big.NewInt(networkID)),
	}
}

func (g *Gocore) connect() (*xcbclient.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	client, err := xcbclient.Dial(g.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the core RPC server: %w", err)
	}
	g.client = client
	return client, nil
}

func (g *Gocore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
	return nil
}

// IncomingTransfers walks back from the head block until it passes since or
// the lookback limit, collecting token transfers into the deposit address.
func (g *Gocore) IncomingTransfers(ctx context.Context, since time.Time) ([]Transfer, error) {
	client, err := g.connect()
	if err != nil {
		return nil, err
	}

	headCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	head, err := client.HeaderByNumber(headCtx, nil)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to get head block: %w", err)
	}

	var transfers []Transfer
	top := head.Number.Uint64()
	for i := uint64(0); i < g.lookback && i <= top; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		block, err := g.getBlockByNumber(ctx, client, top-i)
		if err != nil {
			return nil, err
		}
		blockTime := time.Unix(int64(block.Time()), 0).UTC()
		if blockTime.Before(since) {
			break
		}

		for _, tx := range block.Transactions() {
			found, err := g.checkForTokenTransfer(tx)
			if err != nil {
				g.logger.Debugw("Skipping undecodable transaction", "hash", tx.Hash().Hex(), "error", err)
				continue
			}
			for _, t := range found {
				if !validation.SameAddress(t.To, g.deposit) {
					continue
				}
				t.Hash = tx.Hash().Hex()
				t.Timestamp = blockTime
				transfers = append(transfers, t)
			}
		}
	}
	return transfers, nil
}

func (g *Gocore) getBlockByNumber(ctx context.Context, client *xcbclient.Client, number uint64) (*types.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	block, err := client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, fmt.Errorf("failed to get block by number: %w", err)
	}
	return block, nil
}

func (g *Gocore) checkForTokenTransfer(tx *types.Transaction) ([]Transfer, error) {
	if tx.To() == nil || !validation.SameAddress(tx.To().Hex(), g.token) {
		return nil, nil
	}
	sender, err := g.signer.Sender(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sender: %w", err)
	}
	return DecodeTokenTransfers(common.Bytes2Hex(tx.Data()), validation.NormalizeAddress(sender.Hex()))
}
