package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/Viktorio135/vpn/internal/blockchain"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
	"github.com/Viktorio135/vpn/pkg/validation"
)

// amountEpsilon absorbs float noise in explorer amounts.
const amountEpsilon = 1e-9

// Chain is one on-chain currency: where to look and where the money goes.
type Chain struct {
	Explorer blockchain.Explorer
	Deposit  string
}

// HashChecker tells whether a transfer already settled another transaction.
type HashChecker interface {
	ExternalIDUsed(ctx context.Context, externalID string, id uint) (bool, error)
}

// OnChain is the rail where the client sends tokens straight to the deposit
// address from an address declared up front.
type OnChain struct {
	logger    *logger.Logger
	chains    map[string]Chain
	tolerance float64
	used      HashChecker
}

// NewOnChain creates the rail. chains is keyed by currency code.
func NewOnChain(chains map[string]Chain, tolerance float64, used HashChecker, logger *logger.Logger) *OnChain {
	normalized := make(map[string]Chain, len(chains))
	for currency, chain := range chains {
		normalized[strings.ToUpper(currency)] = chain
	}
	return &OnChain{logger: logger, chains: normalized, tolerance: tolerance, used: used}
}

func (o *OnChain) chain(currency string) (Chain, error) {
	chain, ok := o.chains[strings.ToUpper(currency)]
	if !ok {
		return Chain{}, fmt.Errorf("%w: on-chain payments in %s are not accepted", models.ErrInvalidInput, currency)
	}
	return chain, nil
}

func (o *OnChain) Open(ctx context.Context, txn *models.Transaction) (*models.Checkout, error) {
	chain, err := o.chain(txn.Currency)
	if err != nil {
		return nil, err
	}
	return &models.Checkout{
		DepositAddress: chain.Deposit,
		OrderID:        OrderFor(txn).String(),
		Amount:         txn.Amount,
		Currency:       txn.Currency,
	}, nil
}

// Confirm looks for the transfer on chain. The inbound confirmation, if any,
// is ignored: only the chain is trusted.
func (o *OnChain) Confirm(ctx context.Context, txn *models.Transaction, _ *models.PaymentConfirmation) (*Receipt, error) {
	chain, err := o.chain(txn.Currency)
	if err != nil {
		return nil, err
	}
	transfers, err := chain.Explorer.IncomingTransfers(ctx, txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	fresh := transfers[:0]
	for _, t := range transfers {
		used, err := o.used.ExternalIDUsed(ctx, t.Hash, txn.ID)
		if err != nil {
			return nil, err
		}
		if !used {
			fresh = append(fresh, t)
		}
	}

	match, err := MatchTransfer(txn, chain.Deposit, fresh, o.tolerance)
	if err != nil {
		return nil, err
	}
	o.logger.Infow("Transfer matched", "transaction_id", txn.ID, "hash", match.Hash, "amount", match.Amount)
	return &Receipt{ExternalID: match.Hash, Amount: match.Amount, Currency: txn.Currency}, nil
}

func (o *OnChain) Close(ctx context.Context, txn *models.Transaction, comment string) error {
	return nil
}

// MatchTransfer picks the first transfer that pays txn: sent from the declared
// payer to deposit no earlier than the transaction was opened, carrying at
// least the amount minus tolerance. A transfer from the payer with too little
// value yields models.ErrAmountMismatch, no transfer at all
// models.ErrPaymentNotFound.
func MatchTransfer(txn *models.Transaction, deposit string, transfers []blockchain.Transfer, tolerance float64) (*blockchain.Transfer, error) {
	var short *blockchain.Transfer
	for i := range transfers {
		t := &transfers[i]
		if !validation.SameAddress(t.From, txn.PayerAddress) || !validation.SameAddress(t.To, deposit) {
			continue
		}
		if t.Timestamp.Before(txn.CreatedAt) {
			continue
		}
		if t.Amount+amountEpsilon >= txn.Amount-tolerance {
			return t, nil
		}
		if short == nil {
			short = t
		}
	}
	if short != nil {
		return nil, fmt.Errorf("transfer %s carries %.6f %s, expected %.6f: %w",
			short.Hash, short.Amount, txn.Currency, txn.Amount, models.ErrAmountMismatch)
	}
	return nil, fmt.Errorf("no transfer from %s for transaction %d: %w", txn.PayerAddress, txn.ID, models.ErrPaymentNotFound)
}
