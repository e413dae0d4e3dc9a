package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ibwt-market/settler/internal/core/ports"
)

// coinId is the quoted asset on the price API.
const coinId = "solana"

type rateSource struct {
	baseUrl    string
	httpClient *http.Client
}

func NewRateSource(baseUrl string) (ports.RateSource, error) {
	if len(baseUrl) <= 0 {
		return nil, fmt.Errorf("missing price oracle url")
	}
	return &rateSource{
		baseUrl:    strings.TrimSuffix(baseUrl, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Rate returns the native token price in the given fiat currency. A currency
// the oracle does not quote is a hard error, never a default rate.
func (s *rateSource) Rate(
	ctx context.Context, fiatCurrency string,
) (decimal.Decimal, error) {
	currency := strings.ToLower(fiatCurrency)
	url := fmt.Sprintf(
		"%s/simple/price?ids=%s&vs_currencies=%s", s.baseUrl, coinId, currency,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to reach price oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decimal.Zero, fmt.Errorf(
			"price oracle returned %d: %s", resp.StatusCode, string(body),
		)
	}

	prices := make(map[string]map[string]decimal.Decimal)
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode oracle response: %s", err)
	}

	rate, ok := prices[coinId][currency]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("no %s rate for %s", coinId, fiatCurrency)
	}
	return rate, nil
}
