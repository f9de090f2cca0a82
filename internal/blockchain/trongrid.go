package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Viktorio135/vpn/pkg/logger"
)

const (
	tronPageLimit    = 50
	tronMaxPages     = 20
	defaultTRC20Unit = 6
)

type trc20Response struct {
	Success bool            `json:"success"`
	Data    []trc20Transfer `json:"data"`
	Error   string          `json:"error,omitempty"`
	Meta    struct {
		Fingerprint string `json:"fingerprint,omitempty"`
	} `json:"meta"`
}

type trc20Transfer struct {
	TransactionID  string `json:"transaction_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"`
	BlockTimestamp int64  `json:"block_timestamp"`
	TokenInfo      struct {
		Address  string `json:"address"`
		Decimals int    `json:"decimals"`
	} `json:"token_info"`
}

// TronGrid lists TRC-20 transfers into the deposit address through the TronGrid API.
type TronGrid struct {
	logger   *logger.Logger
	baseURL  string
	apiKey   string
	deposit  string
	contract string
	client   *http.Client
}

func NewTronGrid(baseURL, apiKey, deposit, contract string, logger *logger.Logger) *TronGrid {
	return &TronGrid{
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		deposit:  deposit,
		contract: contract,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// IncomingTransfers pages through the transfers newer than since, following
// the fingerprint cursor TronGrid returns with every full page.
func (t *TronGrid) IncomingTransfers(ctx context.Context, since time.Time) ([]Transfer, error) {
	var (
		transfers   []Transfer
		fingerprint string
	)
	for page := 0; page < tronMaxPages; page++ {
		out, err := t.fetchPage(ctx, since, fingerprint)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t.decodePage(out.Data)...)

		fingerprint = out.Meta.Fingerprint
		if fingerprint == "" || len(out.Data) == 0 {
			return transfers, nil
		}
	}
	t.logger.Warnw("Transfer history truncated", "deposit", t.deposit, "pages", tronMaxPages, "since", since)
	return transfers, nil
}

func (t *TronGrid) fetchPage(ctx context.Context, since time.Time, fingerprint string) (*trc20Response, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(tronPageLimit))
	q.Set("contract_address", t.contract)
	q.Set("only_confirmed", "true")
	q.Set("only_to", "true")
	q.Set("order_by", "block_timestamp,desc")
	q.Set("min_timestamp", strconv.FormatInt(since.UnixMilli(), 10))
	if fingerprint != "" {
		q.Set("fingerprint", fingerprint)
	}
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?%s", t.baseURL, url.PathEscape(t.deposit), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transfers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var out trc20Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode transfers: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("trongrid error: %s", out.Error)
	}
	return &out, nil
}

func (t *TronGrid) decodePage(items []trc20Transfer) []Transfer {
	transfers := make([]Transfer, 0, len(items))
	for _, item := range items {
		if item.To != t.deposit {
			continue
		}
		decimals := item.TokenInfo.Decimals
		if decimals == 0 {
			decimals = defaultTRC20Unit
		}
		amount, err := scaleAmount(item.Value, decimals)
		if err != nil {
			t.logger.Warnw("Skipping transfer with bad value", "hash", item.TransactionID, "value", item.Value, "error", err)
			continue
		}
		transfers = append(transfers, Transfer{
			Hash:      item.TransactionID,
			From:      item.From,
			To:        item.To,
			Amount:    amount,
			Timestamp: time.UnixMilli(item.BlockTimestamp).UTC(),
		})
	}
	return transfers
}

// scaleAmount turns an integer token amount into units.
func scaleAmount(value string, decimals int) (float64, error) {
	raw, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return 0, fmt.Errorf("not an integer: %q", value)
	}
	unit := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	amount, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), unit).Float64()
	return amount, nil
}
