package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanType string

const (
	LoanTypePersonal  LoanType = "personal"
	LoanTypeHome      LoanType = "home"
	LoanTypeAuto      LoanType = "auto"
	LoanTypeBusiness  LoanType = "business"
	LoanTypeEducation LoanType = "education"
)

func (t LoanType) Valid() bool {
	switch t {
	case LoanTypePersonal, LoanTypeHome, LoanTypeAuto, LoanTypeBusiness, LoanTypeEducation:
		return true
	}
	return false
}

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusRejected  LoanStatus = "rejected"
	LoanStatusClosed    LoanStatus = "closed"
	LoanStatusDefaulted LoanStatus = "defaulted" // Set externally; no transition in this core leads here
)

type Loan struct {
	ID                 uuid.UUID       `json:"id"`
	OwnerID            uuid.UUID       `json:"owner_id"`
	Type               LoanType        `json:"loan_type"`
	Principal          decimal.Decimal `json:"principal"`
	InterestRate       decimal.Decimal `json:"interest_rate"` // Annual, in percent
	TenureMonths       int             `json:"tenure_months"`
	MonthlyEMI         decimal.Decimal `json:"monthly_emi"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	Status             LoanStatus      `json:"status"`
	AppliedAt          time.Time       `json:"applied_at"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy         string          `json:"approved_by,omitempty"`
	DisbursedAt        *time.Time      `json:"disbursed_at,omitempty"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty"`
	NextDueDate        *time.Time      `json:"next_due_date,omitempty"`
	Remarks            string          `json:"remarks,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ReviewState maps the loan lifecycle onto the approval workflow's states.
func (l *Loan) ReviewState() ReviewState {
	switch l.Status {
	case LoanStatusPending:
		return ReviewPending
	case LoanStatusRejected:
		return ReviewRejected
	}
	return ReviewApproved
}

// ApplyReview records an approval decision. Approved loans become active.
func (l *Loan) ApplyReview(r Review) {
	if r.Outcome == ReviewApproved {
		l.Status = LoanStatusActive
	} else {
		l.Status = LoanStatusRejected
	}
	at := r.ReviewedAt
	l.ApprovedAt = &at
	l.ApprovedBy = r.Reviewer.ID.String()
	l.Remarks = r.Remarks
	l.UpdatedAt = r.ReviewedAt
}

type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	InstallmentStatusOverdue InstallmentStatus = "overdue"
	InstallmentStatusPartial InstallmentStatus = "partial"
)

// LoanInstallment is one scheduled monthly repayment.
type LoanInstallment struct {
	ID          uuid.UUID         `json:"id"`
	LoanID      uuid.UUID         `json:"loan_id"`
	Number      int               `json:"number"`
	DueDate     time.Time         `json:"due_date"`
	Amount      decimal.Decimal   `json:"amount"`
	PaidAmount  decimal.Decimal   `json:"paid_amount"`
	PaidDate    *time.Time        `json:"paid_date,omitempty"`
	Status      InstallmentStatus `json:"status"`
	Penalty     decimal.Decimal   `json:"penalty"`
	DaysOverdue int               `json:"days_overdue"`
}

// Payable reports whether a payment may still be applied to the installment.
func (i *LoanInstallment) Payable() bool {
	return i.Status == InstallmentStatusPending || i.Status == InstallmentStatusOverdue
}

type TransactionType string

const (
	TransactionTypeDisbursement TransactionType = "disbursement"
	TransactionTypePayment      TransactionType = "payment"
)

// LoanTransaction journals money moving against a loan.
type LoanTransaction struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	InstallmentID *uuid.UUID      `json:"installment_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TransactionType `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewLoan builds a pending loan whose outstanding balance starts at the principal.
func NewLoan(owner uuid.UUID, loanType LoanType, principal, annualRate decimal.Decimal, tenureMonths int, emi decimal.Decimal, now time.Time) *Loan {
	return &Loan{
		ID:                 uuid.New(),
		OwnerID:            owner,
		Type:               loanType,
		Principal:          principal,
		InterestRate:       annualRate,
		TenureMonths:       tenureMonths,
		MonthlyEMI:         emi,
		OutstandingBalance: principal,
		Status:             LoanStatusPending,
		AppliedAt:          now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
