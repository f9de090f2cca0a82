package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const (
	invoiceCreatePath = "/v2/invoice/create"
	invoiceCancelPath = "/v2/invoice/merchant/canceled"

	invoiceCurrency = "USD"
)

type invoiceRequest struct {
	ShopID   string  `json:"shop_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	OrderID  string  `json:"order_id"`
}

type invoiceResponse struct {
	Status string `json:"status"`
	Result struct {
		UUID string `json:"uuid"`
		Link string `json:"link"`
	} `json:"result"`
}

// CryptoCloud is the custodial invoice rail. Payments are confirmed by the
// processor's postback, whose token is an HS256 JWT signed with the shop secret.
type CryptoCloud struct {
	logger  *logger.Logger
	baseURL string
	apiKey  string
	shopID  string
	secret  []byte
	client  *http.Client
}

func NewCryptoCloud(baseURL, apiKey, shopID, secret string, timeout time.Duration, logger *logger.Logger) *CryptoCloud {
	return &CryptoCloud{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		shopID:  shopID,
		secret:  []byte(secret),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *CryptoCloud) Open(ctx context.Context, txn *models.Transaction) (*models.Checkout, error) {
	order := OrderFor(txn).String()
	var out invoiceResponse
	err := c.post(ctx, invoiceCreatePath, invoiceRequest{
		ShopID:   c.shopID,
		Amount:   txn.Amount,
		Currency: invoiceCurrency,
		OrderID:  order,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	if out.Status != "success" || out.Result.UUID == "" || out.Result.Link == "" {
		return nil, fmt.Errorf("invoice was not created: status %q", out.Status)
	}

	c.logger.Infow("Invoice created", "transaction_id", txn.ID, "invoice_id", out.Result.UUID)
	return &models.Checkout{
		URL:       out.Result.Link,
		InvoiceID: out.Result.UUID,
		OrderID:   order,
		Amount:    txn.Amount,
		Currency:  invoiceCurrency,
	}, nil
}

// Confirm checks the postback token. The processor has no lookup the gateway
// relies on, so without a postback the payment is not found.
func (c *CryptoCloud) Confirm(ctx context.Context, txn *models.Transaction, conf *models.PaymentConfirmation) (*Receipt, error) {
	if conf == nil {
		return nil, fmt.Errorf("invoice for transaction %d has not been paid yet: %w", txn.ID, models.ErrPaymentNotFound)
	}
	if conf.ExternalID == "" {
		return nil, fmt.Errorf("%w: postback carries no invoice id", models.ErrInvalidInput)
	}
	if err := c.verifyToken(conf.Signature, conf.ExternalID); err != nil {
		return nil, err
	}
	return &Receipt{ExternalID: conf.ExternalID, Amount: conf.Amount, Currency: conf.Currency}, nil
}

func (c *CryptoCloud) verifyToken(token, invoiceID string) error {
	if token == "" {
		return fmt.Errorf("%w: postback token is missing", models.ErrUnauthorized)
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.ErrTokenExpired
		}
		return fmt.Errorf("%w: bad postback token", models.ErrUnauthorized)
	}
	// The token names the invoice it was issued for, with or without the INV- prefix.
	if id, ok := claims["id"].(string); ok && id != "" {
		if strings.TrimPrefix(id, "INV-") != strings.TrimPrefix(invoiceID, "INV-") {
			return fmt.Errorf("%w: postback token was issued for another invoice", models.ErrUnauthorized)
		}
	}
	return nil
}

// Close cancels the invoice when its id is known.
func (c *CryptoCloud) Close(ctx context.Context, txn *models.Transaction, comment string) error {
	if txn.ExternalID == nil || *txn.ExternalID == "" {
		return nil
	}
	body := map[string][]string{"uuids": {*txn.ExternalID}}
	if err := c.post(ctx, invoiceCancelPath, body, nil); err != nil {
		return fmt.Errorf("failed to cancel invoice %s: %w", *txn.ExternalID, err)
	}
	return nil
}

func (c *CryptoCloud) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("cryptocloud returned status %d: %s", resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
