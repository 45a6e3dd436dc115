// Package huformat renders forint amounts and dates the way Hungarian
// receipts and reports print them: "12 500 Ft", "2026. 10. 15.".
package huformat

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	DateLayout     = "2006. 01. 02."
	DateTimeLayout = "2006. 01. 02. 15:04"
)

var printer = message.NewPrinter(language.Hungarian)

// Currency formats an amount rounded to whole forints. Negative amounts
// keep a plain "-" sign.
func Currency(amount decimal.Decimal) string {
	whole := amount.Round(0)
	text := groupDigits(whole.Abs().IntPart()) + " Ft"
	if whole.IsNegative() {
		return "-" + text
	}
	return text
}

// SignedCurrency is Currency with an explicit "+" on positive amounts. Zero
// has no sign.
func SignedCurrency(amount decimal.Decimal) string {
	if amount.Round(0).IsPositive() {
		return "+" + Currency(amount)
	}
	return Currency(amount)
}

func Date(t time.Time) string {
	return t.Format(DateLayout)
}

func DateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// groupDigits applies the locale's thousands grouping with a plain space
// as separator.
func groupDigits(n int64) string {
	grouped := printer.Sprintf("%d", n)
	return strings.NewReplacer("\u00a0", " ", "\u202f", " ").Replace(grouped)
}
