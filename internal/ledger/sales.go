package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kassza/internal/domain"
)

type Scope string

const (
	ScopeDaily   Scope = "daily"
	ScopeMonthly Scope = "monthly"
	ScopeAll     Scope = "all"
)

func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeDaily:
		return ScopeDaily, nil
	case ScopeMonthly:
		return ScopeMonthly, nil
	case ScopeAll:
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("unknown sales scope %q", raw)
	}
}

// FilterSales keeps the sales whose local calendar date starts with the
// day's (daily) or month's (monthly) prefix. Newest first.
func FilterSales(sales []domain.Sale, scope Scope, day time.Time, loc *time.Location) []domain.Sale {
	if loc == nil {
		loc = time.UTC
	}
	prefix := ""
	switch scope {
	case ScopeDaily:
		prefix = day.In(loc).Format("2006-01-02")
	case ScopeMonthly:
		prefix = day.In(loc).Format("2006-01")
	}

	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if prefix != "" && !strings.HasPrefix(sale.Timestamp.In(loc).Format("2006-01-02"), prefix) {
			continue
		}
		out = append(out, sale)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func SalesTotal(sales []domain.Sale) decimal.Decimal {
	total := decimal.Zero
	for _, sale := range sales {
		total = total.Add(sale.Total)
	}
	return total
}
