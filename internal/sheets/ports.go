package sheets

import (
	"context"

	"condominio/internal/core"
)

// BalancePublisher is the outbound port for balance sheet export. Publishing
// the same period twice overwrites the previous export, so a re-closed
// period ends up with its latest numbers.
type BalancePublisher interface {
	PublishBalanceSheet(ctx context.Context, period core.Period, sheet *core.BalanceSheet) (ref string, err error)
}
