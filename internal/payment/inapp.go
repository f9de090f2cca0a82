package payment

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

// StarsCurrency is the Telegram Stars currency code.
const StarsCurrency = "XTR"

// InvoiceSender posts a Stars invoice into the user's chat.
type InvoiceSender interface {
	SendInvoice(ctx context.Context, chatID int64, title, description, payload string, stars int) error
}

// InApp is the Telegram Stars rail. The bot sends the invoice, Telegram asks
// for a pre-checkout answer and finally reports the settled charge.
type InApp struct {
	logger  *logger.Logger
	invoice InvoiceSender
}

func NewInApp(invoice InvoiceSender, logger *logger.Logger) *InApp {
	return &InApp{logger: logger, invoice: invoice}
}

func stars(amount float64) (int, bool) {
	n := math.Round(amount)
	return int(n), n >= 1 && math.Abs(n-amount) < amountEpsilon
}

func (a *InApp) Open(ctx context.Context, txn *models.Transaction) (*models.Checkout, error) {
	if !strings.EqualFold(txn.Currency, StarsCurrency) {
		return nil, fmt.Errorf("%w: in-app payments are in %s", models.ErrInvalidInput, StarsCurrency)
	}
	amount, ok := stars(txn.Amount)
	if !ok {
		return nil, fmt.Errorf("%w: stars amount must be a whole number", models.ErrInvalidInput)
	}

	order := OrderFor(txn).String()
	title := "VPN subscription"
	description := fmt.Sprintf("%d month(s) of VPN access", txn.Months)
	if txn.Type == models.TypeRenewal {
		title = "VPN renewal"
	}
	if err := a.invoice.SendInvoice(ctx, txn.OwnerID, title, description, order, amount); err != nil {
		return nil, fmt.Errorf("failed to send invoice: %w", err)
	}
	return &models.Checkout{OrderID: order, Amount: txn.Amount, Currency: StarsCurrency}, nil
}

// Confirm accepts the settlement reported by Telegram. Stars come in whole
// units, so the amount must match exactly.
func (a *InApp) Confirm(ctx context.Context, txn *models.Transaction, conf *models.PaymentConfirmation) (*Receipt, error) {
	if conf == nil {
		return nil, fmt.Errorf("no settlement for transaction %d yet: %w", txn.ID, models.ErrPaymentNotFound)
	}
	if conf.ExternalID == "" {
		return nil, fmt.Errorf("%w: settlement carries no charge id", models.ErrInvalidInput)
	}
	if !strings.EqualFold(conf.Currency, StarsCurrency) || math.Abs(conf.Amount-txn.Amount) > amountEpsilon {
		return nil, fmt.Errorf("charge %s paid %v %s, expected %v %s: %w",
			conf.ExternalID, conf.Amount, conf.Currency, txn.Amount, StarsCurrency, models.ErrAmountMismatch)
	}
	return &Receipt{ExternalID: conf.ExternalID, Amount: conf.Amount, Currency: StarsCurrency}, nil
}

func (a *InApp) Close(ctx context.Context, txn *models.Transaction, comment string) error {
	return nil
}
