// Package lending does the due-date arithmetic for library loans.
package lending

import (
	"time"

	"kassza/internal/domain"
)

const DefaultLoanDays = 14

// DueDate is lentAt plus days calendar days; non-positive days fall back to
// fallbackDays, and then to DefaultLoanDays.
func DueDate(lentAt time.Time, days int, fallbackDays int) time.Time {
	if days <= 0 {
		days = fallbackDays
	}
	if days <= 0 {
		days = DefaultLoanDays
	}
	return lentAt.AddDate(0, 0, days)
}

func IsOverdue(loan domain.Loan, now time.Time) bool {
	return loan.ReturnedAt == nil && now.After(loan.DueAt)
}

// DaysOverdue counts started days past the due date.
func DaysOverdue(loan domain.Loan, now time.Time) int {
	if !IsOverdue(loan, now) {
		return 0
	}
	late := now.Sub(loan.DueAt)
	days := int(late / (24 * time.Hour))
	if late%(24*time.Hour) > 0 {
		days++
	}
	return days
}

func View(loan domain.Loan, now time.Time) domain.LoanView {
	return domain.LoanView{
		Loan:        loan,
		Overdue:     IsOverdue(loan, now),
		DaysOverdue: DaysOverdue(loan, now),
	}
}
