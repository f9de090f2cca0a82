// Package blockchain finds incoming token transfers to the service's deposit
// addresses on the chains it accepts payments on.
package blockchain

import (
	"context"
	"time"
)

// Transfer is a token transfer as seen on chain.
type Transfer struct {
	Hash      string
	From      string
	To        string
	Amount    float64
	Timestamp time.Time
}

// Explorer lists confirmed transfers into the deposit address made at or after since.
type Explorer interface {
	IncomingTransfers(ctx context.Context, since time.Time) ([]Transfer, error)
}
