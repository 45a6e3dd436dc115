package ledger

import (
	"fmt"
	"strings"
	"time"

	"kassza/internal/domain"
	"kassza/internal/huformat"
)

var paymentLabels = map[domain.PaymentMethod]string{
	domain.PaymentCash:     "Készpénz",
	domain.PaymentCard:     "Bankkártya",
	domain.PaymentTransfer: "Átutalás",
}

// RenderClosingReport prints the Hungarian closing summary of a closed
// shift. The discrepancy keeps its sign: "+" surplus, "-" shortfall.
func RenderClosingReport(shift domain.Shift, summary Summary, extras []domain.ExtraTransaction, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	lines := []string{
		"Kasszazárás",
		"========================",
		"Dátum: " + huformat.Date(shift.OpenedAt.In(loc)),
		"Nyitás: " + huformat.DateTime(shift.OpenedAt.In(loc)),
	}
	if shift.ClosedAt != nil {
		lines = append(lines, "Zárás: "+huformat.DateTime(shift.ClosedAt.In(loc)))
	}
	lines = append(lines,
		"Műszakban: "+strings.Join(shift.StaffOnDuty, ", "),
		"------------------------",
		"Nyitó egyenleg: "+huformat.Currency(summary.OpeningBalance),
		fmt.Sprintf("Eladások (%d db): %s", summary.SalesCount, huformat.Currency(summary.SalesTotal)),
	)
	for _, method := range domain.PaymentMethods {
		amount, ok := summary.ByPayment[method]
		if !ok || amount.IsZero() {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", paymentLabels[method], huformat.Currency(amount)))
	}

	lines = append(lines, "Egyéb mozgás: "+huformat.SignedCurrency(summary.NetExtra()))
	for _, extra := range ShiftExtras(shift, extras) {
		amount := extra.Amount
		if extra.Type == domain.ExtraExpense {
			amount = amount.Neg()
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", extra.Description, huformat.SignedCurrency(amount)))
	}

	lines = append(lines,
		"------------------------",
		"Várt egyenleg: "+huformat.Currency(summary.ExpectedBalance),
	)
	if shift.ActualBalance != nil {
		lines = append(lines, "Tényleges egyenleg: "+huformat.Currency(*shift.ActualBalance))
	}
	if shift.Discrepancy != nil {
		lines = append(lines, "Eltérés: "+huformat.SignedCurrency(*shift.Discrepancy)+discrepancyLabel(shift))
	}
	if shift.ClosedBy != "" {
		lines = append(lines, "Zárta: "+shift.ClosedBy)
	}
	lines = append(lines, "========================", "")

	return strings.Join(lines, "\n")
}

func discrepancyLabel(shift domain.Shift) string {
	d := shift.Discrepancy.Round(0)
	switch {
	case d.IsPositive():
		return " (többlet)"
	case d.IsNegative():
		return " (hiány)"
	default:
		return " (egyezik)"
	}
}
