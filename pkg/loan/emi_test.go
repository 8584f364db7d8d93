package loan

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateEMI(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		rate      string
		months    int
		want      string
	}{
		{"one percent monthly", "12000", "12", 12, "1066.19"},
		{"twenty year home loan", "100000", "8.5", 240, "867.82"},
		{"short tenure", "5000", "10", 6, "857.81"},
		{"fractional rate", "50000", "7.25", 60, "995.97"},
		{"upper bounds", "1000000", "99.99", 360, "83325.00"},
		{"zero rate divides evenly", "12000", "0", 12, "1000.00"},
		{"zero rate rounds half up", "10000", "0", 7, "1428.57"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateEMI(decimal.RequireFromString(tt.principal), decimal.RequireFromString(tt.rate), tt.months)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestCalculateEMI_NonPositiveTenure(t *testing.T) {
	assert.True(t, CalculateEMI(decimal.NewFromInt(1000), decimal.NewFromInt(5), 0).IsZero())
}

func TestBuildSchedule(t *testing.T) {
	loanID := uuid.New()
	applied := time.Date(2025, time.November, 17, 15, 4, 5, 0, time.UTC)
	emi := decimal.RequireFromString("1066.19")

	schedule := BuildSchedule(loanID, emi, 12, applied)
	require.Len(t, schedule, 12)

	assert.Equal(t, time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC), schedule[0].DueDate)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), schedule[1].DueDate)
	assert.Equal(t, time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC), schedule[11].DueDate)

	for i, inst := range schedule {
		assert.Equal(t, loanID, inst.LoanID)
		assert.Equal(t, i+1, inst.Number)
		assert.True(t, inst.Amount.Equal(emi), "installment %d amount %s", inst.Number, inst.Amount)
		assert.Equal(t, models.InstallmentStatusPending, inst.Status)
		assert.True(t, inst.PaidAmount.IsZero())
		if i > 0 {
			assert.True(t, inst.DueDate.After(schedule[i-1].DueDate))
		}
	}
}

func TestBuildSchedule_LastInstallmentIsNotAdjusted(t *testing.T) {
	principal := decimal.NewFromInt(10000)
	emi := CalculateEMI(principal, decimal.Zero, 7)
	schedule := BuildSchedule(uuid.New(), emi, 7, time.Now())

	total := decimal.Zero
	for _, inst := range schedule {
		total = total.Add(inst.Amount)
	}
	// 7 x 1428.57 leaves one cent of drift against the principal.
	assert.Equal(t, "9999.99", total.StringFixed(2))
	assert.True(t, schedule[6].Amount.Equal(emi))
}

func TestFirstDueDate_NormalizesToUTC(t *testing.T) {
	tz := time.FixedZone("UTC+10", 10*60*60)
	// Still December 31st in UTC.
	applied := time.Date(2026, time.January, 1, 5, 0, 0, 0, tz)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), FirstDueDate(applied))
}

func TestNewQuote(t *testing.T) {
	q, err := NewQuote(decimal.NewFromInt(12000), decimal.NewFromInt(12), 12)
	require.NoError(t, err)
	assert.Equal(t, "1066.19", q.MonthlyEMI.StringFixed(2))
	assert.Equal(t, "12794.28", q.TotalPayable.StringFixed(2))
	assert.Equal(t, "794.28", q.TotalInterest.StringFixed(2))
}

func TestValidateTerms(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		rate      string
		months    int
		field     string
	}{
		{"valid lower bounds", "1000", "0", 6, ""},
		{"valid upper bounds", "1000000", "99.99", 360, ""},
		{"principal too small", "999.99", "5", 12, "principal"},
		{"principal too large", "1000000.01", "5", 12, "principal"},
		{"principal sub-cent", "1000.001", "5", 12, "principal"},
		{"negative rate", "5000", "-1", 12, "interest_rate"},
		{"rate too high", "5000", "100", 12, "interest_rate"},
		{"rate finer than basis points", "5000", "8.125", 12, "interest_rate"},
		{"rate with trailing zeros", "5000", "8.500", 12, ""},
		{"tenure too short", "5000", "5", 5, "tenure_months"},
		{"tenure too long", "5000", "5", 361, "tenure_months"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTerms(decimal.RequireFromString(tt.principal), decimal.RequireFromString(tt.rate), tt.months)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *models.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}
