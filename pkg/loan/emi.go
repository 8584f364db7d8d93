package loan

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/shopspring/decimal"
)

// powPrecision bounds the digits kept while compounding (1+r)^n.
const powPrecision = 24

var (
	monthsInYear = decimal.NewFromInt(12)
	hundred      = decimal.NewFromInt(100)
)

// MonthlyRate converts an annual percentage rate into a monthly fraction.
func MonthlyRate(annualRate decimal.Decimal) decimal.Decimal {
	return annualRate.Div(monthsInYear).Div(hundred)
}

// CalculateEMI returns the reducing-balance installment for principal over months at
// annualRate percent, rounded half-up to cents.
//
//	EMI = P*r*(1+r)^n / ((1+r)^n - 1), r = annualRate/12/100
//
// A zero rate degenerates to P/n.
func CalculateEMI(principal, annualRate decimal.Decimal, months int) decimal.Decimal {
	if months <= 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(months))
	r := MonthlyRate(annualRate)
	if r.IsZero() {
		return principal.Div(n).Round(models.MoneyPlaces)
	}

	growth := compound(decimal.NewFromInt(1).Add(r), months)
	emi := principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
	return emi.Round(models.MoneyPlaces)
}

func compound(base decimal.Decimal, n int) decimal.Decimal {
	result := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		result = result.Mul(base).Round(powPrecision)
	}
	return result
}

// Quote summarizes the cost of a loan without persisting anything.
type Quote struct {
	Principal     decimal.Decimal `json:"principal"`
	InterestRate  decimal.Decimal `json:"interest_rate"`
	TenureMonths  int             `json:"tenure_months"`
	MonthlyEMI    decimal.Decimal `json:"monthly_emi"`
	TotalPayable  decimal.Decimal `json:"total_payable"`
	TotalInterest decimal.Decimal `json:"total_interest"`
}

// NewQuote validates the loan terms and prices them.
func NewQuote(principal, annualRate decimal.Decimal, months int) (*Quote, error) {
	if err := ValidateTerms(principal, annualRate, months); err != nil {
		return nil, err
	}
	emi := CalculateEMI(principal, annualRate, months)
	total := emi.Mul(decimal.NewFromInt(int64(months)))
	return &Quote{
		Principal:     principal,
		InterestRate:  annualRate,
		TenureMonths:  months,
		MonthlyEMI:    emi,
		TotalPayable:  total,
		TotalInterest: total.Sub(principal),
	}, nil
}

// FirstDueDate is the first day of the month following appliedAt, in UTC.
func FirstDueDate(appliedAt time.Time) time.Time {
	t := appliedAt.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// BuildSchedule lays out months installments of emi each, due on consecutive month starts
// beginning with FirstDueDate(appliedAt). The last installment is not adjusted for rounding.
func BuildSchedule(loanID uuid.UUID, emi decimal.Decimal, months int, appliedAt time.Time) []*models.LoanInstallment {
	first := FirstDueDate(appliedAt)
	schedule := make([]*models.LoanInstallment, 0, months)
	for i := 0; i < months; i++ {
		schedule = append(schedule, &models.LoanInstallment{
			ID:         uuid.New(),
			LoanID:     loanID,
			Number:     i + 1,
			DueDate:    first.AddDate(0, i, 0),
			Amount:     emi,
			PaidAmount: decimal.Zero,
			Status:     models.InstallmentStatusPending,
			Penalty:    decimal.Zero,
		})
	}
	return schedule
}
