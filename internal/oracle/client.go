// Package oracle fetches asset prices from the external price oracle HTTP API
// and caches the latest quote per asset with staleness tracking.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

// Client queries the price oracle HTTP API for USD quotes. Requests are
// rate-limited so a burst of tracked assets does not trip the API's limits.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client for the given API base URL. requestTimeout bounds
// each HTTP call; rps caps the request rate across all assets.
func NewClient(baseURL, apiKey string, requestTimeout time.Duration, rps float64) *Client {
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// quoteResponse is the API envelope for one pair. The price is a hex-encoded
// fixed-point integer scaled by 10^decimals.
type quoteResponse struct {
	Price     string `json:"price"`
	Decimals  int32  `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
}

// FetchUSDPrice requests the latest USD quote for one asset symbol. Non-2xx
// responses and timeouts are returned as errors; the caller treats them as a
// refresh failure, not as fatal.
func (c *Client) FetchUSDPrice(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: rate limit wait: %w", err)
	}

	url := fmt.Sprintf("%s/node/v1/data/%s/usd?interval=1min&aggregation=median",
		c.baseURL, strings.ToLower(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: read response for %s: %w", symbol, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.PriceQuote{}, fmt.Errorf("oracle: fetch %s: HTTP %d: %s", symbol, resp.StatusCode, string(body))
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: decode response for %s: %w", symbol, err)
	}

	price, err := hexPriceToDecimal(qr.Price, qr.Decimals)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("oracle: %s: %w", symbol, err)
	}

	observed := time.Unix(qr.Timestamp, 0).UTC()
	if qr.Timestamp == 0 {
		observed = time.Now().UTC()
	}

	return domain.PriceQuote{
		Symbol:     strings.ToLower(symbol),
		Price:      price,
		Decimals:   qr.Decimals,
		ObservedAt: observed,
	}, nil
}

// hexPriceToDecimal converts a hex-encoded fixed-point price into a decimal
// scaled down by 10^decimals.
func hexPriceToDecimal(hexPrice string, decimals int32) (decimal.Decimal, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(hexPrice), "0x")
	raw, ok := new(big.Int).SetString(cleaned, 16)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: price %q is not valid hex", domain.ErrMalformedEvent, hexPrice)
	}
	return decimal.NewFromBigInt(raw, -decimals), nil
}
