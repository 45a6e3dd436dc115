// Package ledger holds the pure till arithmetic: which sales and extra
// transactions belong to a shift, the expected balance, and the
// reconciliation against the counted cash. Nothing here touches storage.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"kassza/internal/domain"
)

// Summary is the running state of one shift.
type Summary struct {
	ShiftID         string                                   `json:"shift_id"`
	OpeningBalance  decimal.Decimal                          `json:"opening_balance"`
	SalesTotal      decimal.Decimal                          `json:"sales_total"`
	SalesCount      int                                      `json:"sales_count"`
	ByPayment       map[domain.PaymentMethod]decimal.Decimal `json:"by_payment"`
	ExtraIncome     decimal.Decimal                          `json:"extra_income"`
	ExtraExpense    decimal.Decimal                          `json:"extra_expense"`
	ExpectedBalance decimal.Decimal                          `json:"expected_balance"`
}

// NetExtra is income minus expense.
func (s Summary) NetExtra() decimal.Decimal {
	return s.ExtraIncome.Sub(s.ExtraExpense)
}

// ActiveShift returns the open shift and how many shifts are open. With more
// than one open (two writers raced) the most recently opened one wins.
func ActiveShift(shifts []domain.Shift) (*domain.Shift, int) {
	var active *domain.Shift
	open := 0
	for i := range shifts {
		if !shifts[i].IsOpen() {
			continue
		}
		open++
		if active == nil || shifts[i].OpenedAt.After(active.OpenedAt) {
			active = &shifts[i]
		}
	}
	if active == nil {
		return nil, 0
	}
	found := *active
	return &found, open
}

// OpenShifts returns every open shift, most recently opened first.
func OpenShifts(shifts []domain.Shift) []domain.Shift {
	var open []domain.Shift
	for _, shift := range shifts {
		if shift.IsOpen() {
			open = append(open, shift)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].OpenedAt.After(open[j].OpenedAt)
	})
	return open
}

// BelongsToShift reports whether a sale counts toward shift. Sales carry the
// id of the shift that was open when they were recorded; older records
// without one fall back to the shift's time window.
func BelongsToShift(sale domain.Sale, shift domain.Shift, now time.Time) bool {
	if sale.ShiftID != "" {
		return sale.ShiftID == shift.ID
	}
	if sale.Timestamp.Before(shift.OpenedAt) {
		return false
	}
	upper := now
	if shift.ClosedAt != nil {
		upper = *shift.ClosedAt
	}
	return !sale.Timestamp.After(upper)
}

func ShiftSales(shift domain.Shift, sales []domain.Sale, now time.Time) []domain.Sale {
	out := make([]domain.Sale, 0)
	for _, sale := range sales {
		if BelongsToShift(sale, shift, now) {
			out = append(out, sale)
		}
	}
	return out
}

func ShiftExtras(shift domain.Shift, extras []domain.ExtraTransaction) []domain.ExtraTransaction {
	out := make([]domain.ExtraTransaction, 0)
	for _, extra := range extras {
		if extra.ShiftID == shift.ID {
			out = append(out, extra)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Summarize computes the shift's totals and expected balance:
// opening + sales + extra income - extra expense.
func Summarize(shift domain.Shift, sales []domain.Sale, extras []domain.ExtraTransaction, now time.Time) Summary {
	summary := Summary{
		ShiftID:        shift.ID,
		OpeningBalance: shift.OpeningBalance,
		SalesTotal:     decimal.Zero,
		ByPayment:      make(map[domain.PaymentMethod]decimal.Decimal, len(domain.PaymentMethods)),
		ExtraIncome:    decimal.Zero,
		ExtraExpense:   decimal.Zero,
	}
	for _, method := range domain.PaymentMethods {
		summary.ByPayment[method] = decimal.Zero
	}

	for _, sale := range ShiftSales(shift, sales, now) {
		summary.SalesTotal = summary.SalesTotal.Add(sale.Total)
		summary.SalesCount++
		summary.ByPayment[sale.PaymentMethod] = summary.ByPayment[sale.PaymentMethod].Add(sale.Total)
	}

	for _, extra := range ShiftExtras(shift, extras) {
		switch extra.Type {
		case domain.ExtraIncome:
			summary.ExtraIncome = summary.ExtraIncome.Add(extra.Amount)
		case domain.ExtraExpense:
			summary.ExtraExpense = summary.ExtraExpense.Add(extra.Amount)
		}
	}

	summary.ExpectedBalance = summary.OpeningBalance.
		Add(summary.SalesTotal).
		Add(summary.ExtraIncome).
		Sub(summary.ExtraExpense)
	return summary
}

// Reconcile returns actual - expected. Positive is surplus cash, negative a
// shortfall.
func Reconcile(summary Summary, actual decimal.Decimal) decimal.Decimal {
	return actual.Sub(summary.ExpectedBalance)
}

// CloseShift stamps every closing field on a copy of shift.
func CloseShift(shift domain.Shift, summary Summary, actual decimal.Decimal, closedBy string, closedAt time.Time) domain.Shift {
	discrepancy := Reconcile(summary, actual)
	salesTotal := summary.SalesTotal
	income := summary.ExtraIncome
	expense := summary.ExtraExpense
	expected := summary.ExpectedBalance

	closed := shift
	closed.Status = domain.ShiftStatusClosed
	closed.ClosedAt = &closedAt
	closed.ClosedBy = closedBy
	closed.SalesTotal = &salesTotal
	closed.SalesCount = summary.SalesCount
	closed.ExtraIncome = &income
	closed.ExtraExpense = &expense
	closed.ExpectedBalance = &expected
	closed.ActualBalance = &actual
	closed.Discrepancy = &discrepancy
	return closed
}

// SummaryOfClosed rebuilds the summary from the fields stamped at close time.
func SummaryOfClosed(shift domain.Shift, sales []domain.Sale) Summary {
	summary := Summarize(shift, sales, nil, derefTime(shift.ClosedAt))
	if shift.SalesTotal != nil {
		summary.SalesTotal = *shift.SalesTotal
		summary.SalesCount = shift.SalesCount
	}
	if shift.ExtraIncome != nil {
		summary.ExtraIncome = *shift.ExtraIncome
	}
	if shift.ExtraExpense != nil {
		summary.ExtraExpense = *shift.ExtraExpense
	}
	if shift.ExpectedBalance != nil {
		summary.ExpectedBalance = *shift.ExpectedBalance
	}
	return summary
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
