package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassza/internal/domain"
	"kassza/internal/store"
	"kassza/internal/store/memory"
)

var opened = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

func huf(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func openShift() domain.Shift {
	return domain.Shift{
		ID:             "shift-1",
		Status:         domain.ShiftStatusOpen,
		Date:           "2026-10-15",
		OpenedAt:       opened,
		OpeningBalance: huf(10000),
		StaffOnDuty:    []string{"Anna"},
	}
}

func sale(id string, shiftID string, at time.Time, qty int64, price int64, method domain.PaymentMethod) domain.Sale {
	return domain.Sale{
		ID:            id,
		ItemType:      domain.ItemKindBook,
		ItemID:        "book-1",
		Quantity:      int(qty),
		UnitPrice:     huf(price),
		Total:         huf(qty * price),
		PaymentMethod: method,
		Timestamp:     at,
		ShiftID:       shiftID,
	}
}

func TestSummarizeBalanceIdentity(t *testing.T) {
	shift := openShift()
	sales := []domain.Sale{
		sale("s1", "shift-1", opened.Add(time.Hour), 2, 1500, domain.PaymentCash),
		sale("s2", "shift-1", opened.Add(2*time.Hour), 1, 4000, domain.PaymentCard),
		sale("s3", "other", opened.Add(2*time.Hour), 1, 9999, domain.PaymentCash),
	}
	extras := []domain.ExtraTransaction{
		{ID: "e1", ShiftID: "shift-1", Type: domain.ExtraExpense, Amount: huf(500), Description: "Tisztítószer"},
		{ID: "e2", ShiftID: "shift-1", Type: domain.ExtraIncome, Amount: huf(200), Description: "Borravaló"},
		{ID: "e3", ShiftID: "other", Type: domain.ExtraIncome, Amount: huf(1000), Description: "x"},
	}

	summary := Summarize(shift, sales, extras, opened.Add(3*time.Hour))

	assert.True(t, huf(7000).Equal(summary.SalesTotal))
	assert.Equal(t, 2, summary.SalesCount)
	assert.True(t, huf(3000).Equal(summary.ByPayment[domain.PaymentCash]))
	assert.True(t, huf(4000).Equal(summary.ByPayment[domain.PaymentCard]))
	assert.True(t, huf(200).Equal(summary.ExtraIncome))
	assert.True(t, huf(500).Equal(summary.ExtraExpense))
	want := summary.OpeningBalance.Add(summary.SalesTotal).Add(summary.ExtraIncome).Sub(summary.ExtraExpense)
	assert.True(t, want.Equal(summary.ExpectedBalance))
	assert.True(t, huf(16700).Equal(summary.ExpectedBalance))
}

func TestReconcileSign(t *testing.T) {
	summary := Summary{ExpectedBalance: huf(12500)}
	assert.True(t, Reconcile(summary, huf(13000)).IsPositive())
	assert.True(t, Reconcile(summary, huf(12000)).Equal(huf(-500)))
	assert.True(t, Reconcile(summary, huf(12500)).IsZero())
}

func TestLegacySalesUseTimeWindow(t *testing.T) {
	shift := openShift()
	closedAt := opened.Add(8 * time.Hour)
	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = &closedAt

	assert.False(t, BelongsToShift(sale("a", "", opened.Add(-time.Minute), 1, 1, domain.PaymentCash), shift, closedAt))
	assert.True(t, BelongsToShift(sale("b", "", opened, 1, 1, domain.PaymentCash), shift, closedAt))
	assert.True(t, BelongsToShift(sale("c", "", closedAt, 1, 1, domain.PaymentCash), shift, closedAt))
	assert.False(t, BelongsToShift(sale("d", "", closedAt.Add(time.Second), 1, 1, domain.PaymentCash), shift, closedAt.Add(time.Hour)))
}

func TestActiveShiftPrefersLatestOpen(t *testing.T) {
	first := openShift()
	second := openShift()
	second.ID = "shift-2"
	second.OpenedAt = opened.Add(time.Hour)
	closed := openShift()
	closed.ID = "shift-0"
	closed.Status = domain.ShiftStatusClosed

	active, open := ActiveShift([]domain.Shift{closed, first, second})
	require.NotNil(t, active)
	assert.Equal(t, "shift-2", active.ID)
	assert.Equal(t, 2, open)

	none, open := ActiveShift([]domain.Shift{closed})
	assert.Nil(t, none)
	assert.Zero(t, open)
}

func TestOpenShiftsNewestFirst(t *testing.T) {
	first := openShift()
	second := openShift()
	second.ID = "shift-2"
	second.OpenedAt = opened.Add(time.Hour)
	closed := openShift()
	closed.ID = "shift-0"
	closed.Status = domain.ShiftStatusClosed

	open := OpenShifts([]domain.Shift{first, closed, second})
	require.Len(t, open, 2)
	assert.Equal(t, "shift-2", open[0].ID)
	assert.Equal(t, first.ID, open[1].ID)
	assert.Empty(t, OpenShifts([]domain.Shift{closed}))
}

func TestFilterSalesByScope(t *testing.T) {
	sales := []domain.Sale{
		sale("a", "", time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC), 1, 100, domain.PaymentCash),
		sale("b", "", time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), 1, 100, domain.PaymentCash),
		sale("c", "", time.Date(2026, 9, 30, 9, 0, 0, 0, time.UTC), 1, 100, domain.PaymentCash),
	}
	day := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	assert.Len(t, FilterSales(sales, ScopeDaily, day, time.UTC), 1)
	monthly := FilterSales(sales, ScopeMonthly, day, time.UTC)
	require.Len(t, monthly, 2)
	assert.Equal(t, "a", monthly[0].ID)
	assert.Len(t, FilterSales(sales, ScopeAll, day, time.UTC), 3)
}

func TestFilterSalesUsesShopTimeZone(t *testing.T) {
	budapest, err := time.LoadLocation("Europe/Budapest")
	require.NoError(t, err)
	// 23:30 UTC on the 14th is already the 15th in Budapest.
	late := sale("late", "", time.Date(2026, 10, 14, 23, 30, 0, 0, time.UTC), 1, 100, domain.PaymentCash)
	day := time.Date(2026, 10, 15, 10, 0, 0, 0, budapest)

	assert.Len(t, FilterSales([]domain.Sale{late}, ScopeDaily, day, budapest), 1)
	assert.Empty(t, FilterSales([]domain.Sale{late}, ScopeDaily, day, time.UTC))
}

func TestParseScope(t *testing.T) {
	scope, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeDaily, scope)
	scope, err = ParseScope("Monthly")
	require.NoError(t, err)
	assert.Equal(t, ScopeMonthly, scope)
	_, err = ParseScope("weekly")
	assert.Error(t, err)
}

func TestRenderClosingReportShortfall(t *testing.T) {
	shift := openShift()
	sales := []domain.Sale{sale("s1", "shift-1", opened.Add(time.Hour), 2, 1500, domain.PaymentCash)}
	extras := []domain.ExtraTransaction{
		{ID: "e1", ShiftID: "shift-1", Type: domain.ExtraExpense, Amount: huf(500), Description: "Tisztítószer", Timestamp: opened.Add(time.Hour)},
	}
	summary := Summarize(shift, sales, extras, opened.Add(2*time.Hour))
	closed := CloseShift(shift, summary, huf(12000), "Anna", opened.Add(10*time.Hour))

	report := RenderClosingReport(closed, summary, extras, time.UTC)

	assert.Contains(t, report, "Dátum: 2026. 10. 15.")
	assert.Contains(t, report, "Műszakban: Anna")
	assert.Contains(t, report, "Nyitó egyenleg: 10 000 Ft")
	assert.Contains(t, report, "Tisztítószer: -500 Ft")
	assert.Contains(t, report, "Várt egyenleg: 12 500 Ft")
	assert.Contains(t, report, "Tényleges egyenleg: 12 000 Ft")
	assert.Contains(t, report, "Eltérés: -500 Ft (hiány)")
	assert.Contains(t, report, "Zárta: Anna")
	assert.True(t, strings.HasPrefix(report, "Kasszazárás\n"))
}

func TestRenderClosingReportSurplusAndExact(t *testing.T) {
	shift := openShift()
	summary := Summarize(shift, nil, nil, opened)

	surplus := CloseShift(shift, summary, huf(10500), "Béla", opened.Add(time.Hour))
	assert.Contains(t, RenderClosingReport(surplus, summary, nil, time.UTC), "Eltérés: +500 Ft (többlet)")

	exact := CloseShift(shift, summary, huf(10000), "Béla", opened.Add(time.Hour))
	assert.Contains(t, RenderClosingReport(exact, summary, nil, time.UTC), "Eltérés: 0 Ft (egyezik)")
}

func TestCloseShiftStampsClosingFields(t *testing.T) {
	shift := openShift()
	summary := Summarize(shift, []domain.Sale{sale("s1", "shift-1", opened, 2, 1500, domain.PaymentCash)}, nil, opened)
	closedAt := opened.Add(time.Hour)

	closed := CloseShift(shift, summary, huf(13000), "Anna", closedAt)

	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)
	assert.True(t, shift.IsOpen(), "input shift must not be mutated")
	require.NotNil(t, closed.Discrepancy)
	assert.True(t, huf(0).Equal(*closed.Discrepancy))
	assert.True(t, huf(13000).Equal(*closed.ExpectedBalance))
	assert.Equal(t, closedAt, *closed.ClosedAt)
	assert.Equal(t, 1, closed.SalesCount)
}

func TestProjectionTracksStreams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	port := memory.New()
	projection := NewProjection(port, nil, time.UTC)
	projection.now = func() time.Time { return opened.Add(time.Hour) }

	done := make(chan error, 1)
	go func() { done <- projection.Run(ctx) }()

	watch := projection.Watch(ctx)
	shift := openShift()
	require.NoError(t, port.Write(ctx, store.Path(store.Shifts, shift.ID), shift))
	require.NoError(t, port.Write(ctx, store.Path(store.Sales, "s1"), sale("s1", shift.ID, opened.Add(30*time.Minute), 2, 1500, domain.PaymentCash)))

	require.Eventually(t, func() bool {
		select {
		case state := <-watch:
			return state.Summary != nil && state.Summary.SalesTotal.Equal(huf(3000))
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	current := projection.Current()
	require.NotNil(t, current.ActiveShift)
	assert.Equal(t, shift.ID, current.ActiveShift.ID)
	assert.True(t, huf(13000).Equal(current.Summary.ExpectedBalance))
	assert.Equal(t, 1, current.TodaySalesCount)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("projection did not stop")
	}
}
