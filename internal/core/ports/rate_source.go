package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateSource quotes the current exchange rate between a fiat currency and
// the settlement token. A missing or unreachable price is a hard error, no
// stale value is ever served.
type RateSource interface {
	Rate(ctx context.Context, fiatCurrency string) (decimal.Decimal, error)
}
