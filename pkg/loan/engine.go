// Package loan prices loans, lays out their repayment schedule and applies payments against it.
// Loans are tracked as payables; crediting the principal into an account is left to an
// optional Disburser.
package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/audit"
	"github.com/mcclellann/fredBank/pkg/ledger"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/notify"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("loan")

const (
	MinTenureMonths = 6
	MaxTenureMonths = 360

	// RatePlaces matches the stored precision of loans.interest_rate.
	RatePlaces = 2
)

var (
	MinPrincipal = decimal.NewFromInt(1_000)
	MaxPrincipal = decimal.NewFromInt(1_000_000)
	MaxRate      = decimal.RequireFromString("99.99")
)

// ValidateTerms checks principal, rate and tenure ranges.
func ValidateTerms(principal, annualRate decimal.Decimal, months int) error {
	if principal.LessThan(MinPrincipal) || principal.GreaterThan(MaxPrincipal) {
		return models.NewValidationError("principal", fmt.Sprintf("must be between %s and %s", MinPrincipal, MaxPrincipal))
	}
	if !principal.Equal(principal.Round(models.MoneyPlaces)) {
		return models.NewValidationError("principal", "must have at most two decimal places")
	}
	if annualRate.IsNegative() || annualRate.GreaterThan(MaxRate) {
		return models.NewValidationError("interest_rate", fmt.Sprintf("must be between 0 and %s", MaxRate))
	}
	if !annualRate.Equal(annualRate.Round(RatePlaces)) {
		return models.NewValidationError("interest_rate", "must have at most two decimal places")
	}
	if months < MinTenureMonths || months > MaxTenureMonths {
		return models.NewValidationError("tenure_months", fmt.Sprintf("must be between %d and %d", MinTenureMonths, MaxTenureMonths))
	}
	return nil
}

// PaymentReceipt describes the effect of one ApplyPayment call.
type PaymentReceipt struct {
	Loan        *models.Loan            `json:"loan"`
	Installment *models.LoanInstallment `json:"installment"`
	Transaction *models.LoanTransaction `json:"transaction"`
	// Overpayment is the part of the payment that exceeded the outstanding balance.
	Overpayment decimal.Decimal `json:"overpayment"`
}

// Engine owns the loan lifecycle after approval.
type Engine struct {
	storage     store.Storage
	metrics     *observability.Metrics
	logger      *zap.Logger
	notifier    notify.Dispatcher
	auditor     audit.Recorder
	retry       store.RetryPolicy
	now         func() time.Time
	defaultRate decimal.Decimal
	penaltyRate decimal.Decimal
}

type Option func(*Engine)

func WithNotifier(d notify.Dispatcher) Option {
	return func(e *Engine) { e.notifier = d }
}

func WithAuditor(r audit.Recorder) Option {
	return func(e *Engine) { e.auditor = r }
}

func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultRate sets the annual rate used when an application omits one.
func WithDefaultRate(rate decimal.Decimal) Option {
	return func(e *Engine) { e.defaultRate = rate }
}

// WithPenaltyRate sets the one-time late fee, in percent of the installment amount.
func WithPenaltyRate(rate decimal.Decimal) Option {
	return func(e *Engine) { e.penaltyRate = rate }
}

func NewEngine(s store.Storage, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		storage:     s,
		metrics:     metrics,
		logger:      logger,
		notifier:    notify.Nop{},
		auditor:     audit.Nop{},
		retry:       store.DefaultRetryPolicy,
		now:         time.Now,
		defaultRate: decimal.RequireFromString("8.5"),
		penaltyRate: decimal.Zero,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func (e *Engine) atomically(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	return store.Atomically(ctx, e.storage, e.retry, fn, func(err error, attempt int) {
		e.metrics.IncrConflictRetry(op)
		e.logger.Debug("retrying unit of work after conflict",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})
}

// Quote prices a loan without persisting it. A nil rate uses the default rate.
func (e *Engine) Quote(principal decimal.Decimal, annualRate *decimal.Decimal, months int) (*Quote, error) {
	return NewQuote(principal, e.rateOrDefault(annualRate), months)
}

func (e *Engine) rateOrDefault(rate *decimal.Decimal) decimal.Decimal {
	if rate == nil {
		return e.defaultRate
	}
	return *rate
}

// ApplyForLoan creates a pending loan together with its full installment schedule.
// A nil annualRate uses the default rate.
func (e *Engine) ApplyForLoan(ctx context.Context, owner uuid.UUID, loanType models.LoanType, principal decimal.Decimal, months int, annualRate *decimal.Decimal) (loan *models.Loan, err error) {
	ctx, span := tracer.Start(ctx, "Engine.ApplyForLoan")
	span.SetAttributes(
		attribute.String("owner_id", owner.String()),
		attribute.String("principal", principal.String()),
		attribute.Int("tenure_months", months),
	)
	start := time.Now()
	defer func() {
		e.metrics.ObserveOperation("apply_for_loan", start, err)
		observability.EndSpan(span, err)
	}()

	if !loanType.Valid() {
		return nil, models.NewValidationError("loan_type", fmt.Sprintf("unsupported loan type %q", loanType))
	}
	rate := e.rateOrDefault(annualRate)
	if err := ValidateTerms(principal, rate, months); err != nil {
		return nil, err
	}

	now := e.clock()
	emi := CalculateEMI(principal, rate, months)
	err = e.atomically(ctx, "apply_for_loan", func(tx store.Tx) error {
		loan = models.NewLoan(owner, loanType, principal, rate, months, emi, now)
		schedule := BuildSchedule(loan.ID, emi, months, now)
		due := schedule[0].DueDate
		loan.NextDueDate = &due

		if err := tx.CreateLoan(ctx, loan); err != nil {
			return err
		}
		return tx.CreateInstallments(ctx, schedule)
	})
	if err != nil {
		return nil, err
	}

	e.auditor.Record(ctx, audit.Record{
		EntityID:   loan.ID,
		EntityType: "Loan",
		Action:     audit.ActionCreate,
		After:      loan,
		ActorID:    owner,
		At:         now,
	})
	e.logger.Info("loan application submitted",
		zap.String("loan_id", loan.ID.String()),
		zap.String("owner_id", owner.String()),
		zap.String("principal", principal.StringFixed(models.MoneyPlaces)),
		zap.String("monthly_emi", emi.StringFixed(models.MoneyPlaces)),
		zap.Int("tenure_months", months),
	)
	return loan, nil
}

// ApplyPayment settles the earliest pending or overdue installment of one of owner's active
// loans and reduces the outstanding balance by the full amount. The loan closes once nothing
// is outstanding.
func (e *Engine) ApplyPayment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, owner uuid.UUID) (receipt *PaymentReceipt, err error) {
	ctx, span := tracer.Start(ctx, "Engine.ApplyPayment")
	span.SetAttributes(
		attribute.String("loan_id", loanID.String()),
		attribute.String("amount", amount.String()),
	)
	start := time.Now()
	defer func() {
		e.metrics.ObserveOperation("loan_payment", start, err)
		observability.EndSpan(span, err)
	}()

	if err := ledger.ValidateAmount("amount", amount); err != nil {
		return nil, err
	}

	var before models.Loan
	err = e.atomically(ctx, "loan_payment", func(tx store.Tx) error {
		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.OwnerID != owner {
			return models.ErrLoanNotFound
		}
		if loan.Status != models.LoanStatusActive {
			return models.ErrLoanNotActive
		}
		before = *loan

		inst, err := tx.NextPayableInstallment(ctx, loan.ID)
		if err != nil {
			return err
		}

		now := e.clock()
		inst.PaidAmount = amount
		inst.PaidDate = &now
		if amount.GreaterThanOrEqual(inst.Amount) {
			inst.Status = models.InstallmentStatusPaid
		} else {
			inst.Status = models.InstallmentStatusPartial
		}
		if err := tx.UpdateInstallment(ctx, inst); err != nil {
			return err
		}

		overpayment := decimal.Zero
		loan.OutstandingBalance = loan.OutstandingBalance.Sub(amount)
		if !loan.OutstandingBalance.IsPositive() {
			overpayment = loan.OutstandingBalance.Neg()
			loan.OutstandingBalance = decimal.Zero
			loan.Status = models.LoanStatusClosed
			loan.ClosedAt = &now
		}

		next, err := tx.NextPayableInstallment(ctx, loan.ID)
		switch {
		case errors.Is(err, models.ErrNoPendingInstallments) || loan.Status == models.LoanStatusClosed:
			loan.NextDueDate = nil
		case err != nil:
			return err
		default:
			due := next.DueDate
			loan.NextDueDate = &due
		}
		loan.UpdatedAt = now
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		instID := inst.ID
		transaction := &models.LoanTransaction{
			ID:            uuid.New(),
			LoanID:        loan.ID,
			InstallmentID: &instID,
			Amount:        amount,
			Type:          models.TransactionTypePayment,
			Timestamp:     now,
		}
		if err := tx.CreateTransaction(ctx, transaction); err != nil {
			return err
		}

		receipt = &PaymentReceipt{
			Loan:        loan,
			Installment: inst,
			Transaction: transaction,
			Overpayment: overpayment,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	loan := receipt.Loan
	e.logger.Info("loan payment applied",
		zap.String("loan_id", loan.ID.String()),
		zap.Int("installment", receipt.Installment.Number),
		zap.String("amount", amount.StringFixed(models.MoneyPlaces)),
		zap.String("outstanding_balance", loan.OutstandingBalance.StringFixed(models.MoneyPlaces)),
		zap.String("status", string(loan.Status)),
	)
	e.auditor.Record(ctx, audit.Record{
		EntityID:   loan.ID,
		EntityType: "Loan",
		Action:     audit.ActionUpdate,
		Before:     &before,
		After:      loan,
		ActorID:    owner,
		At:         receipt.Transaction.Timestamp,
	})
	e.notifyPayment(ctx, receipt)
	return receipt, nil
}

func (e *Engine) notifyPayment(ctx context.Context, r *PaymentReceipt) {
	amount := r.Transaction.Amount.StringFixed(models.MoneyPlaces)
	n := notify.Notification{
		UserID:  r.Loan.OwnerID,
		Kind:    notify.KindLoan,
		Title:   "Loan Payment Received",
		Message: fmt.Sprintf("Payment of %s received. Outstanding balance: %s", amount, r.Loan.OutstandingBalance.StringFixed(models.MoneyPlaces)),
		Data: map[string]string{
			"loan_id":        r.Loan.ID.String(),
			"installment_id": r.Installment.ID.String(),
			"amount":         amount,
		},
		SentAt: r.Transaction.Timestamp,
	}
	if r.Loan.Status == models.LoanStatusClosed {
		n.Title = "Loan Closed"
		n.Message = fmt.Sprintf("Payment of %s received. Your loan is fully repaid.", amount)
		if r.Overpayment.IsPositive() {
			n.Data["overpayment"] = r.Overpayment.StringFixed(models.MoneyPlaces)
		}
	}
	e.notifier.Dispatch(ctx, n)
}

// GetLoan returns one of owner's loans. Loans of other owners are reported as missing.
func (e *Engine) GetLoan(ctx context.Context, owner, loanID uuid.UUID) (*models.Loan, error) {
	loan, err := e.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.OwnerID != owner {
		return nil, models.ErrLoanNotFound
	}
	return loan, nil
}

// ListLoans returns owner's loans, newest first.
func (e *Engine) ListLoans(ctx context.Context, owner uuid.UUID) ([]*models.Loan, error) {
	return e.storage.ListLoansByOwner(ctx, owner)
}

// ListByStatus returns loans in the given status, or every loan when status is empty.
func (e *Engine) ListByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error) {
	return e.storage.ListLoansByStatus(ctx, status)
}

// Schedule returns a loan's installments ordered by due date.
func (e *Engine) Schedule(ctx context.Context, loanID uuid.UUID) ([]*models.LoanInstallment, error) {
	if _, err := e.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return e.storage.ListInstallments(ctx, loanID)
}

// Transactions returns the payment and disbursement journal of a loan.
func (e *Engine) Transactions(ctx context.Context, loanID uuid.UUID) ([]*models.LoanTransaction, error) {
	return e.storage.GetTransactionsForLoan(ctx, loanID)
}

// MarkOverdue flags every pending installment of an active loan that fell due before asOf and
// refreshes the day count of installments already overdue. Newly overdue installments are
// charged the late penalty once. It returns the number of installments newly marked.
func (e *Engine) MarkOverdue(ctx context.Context, asOf time.Time) (marked int, err error) {
	ctx, span := tracer.Start(ctx, "Engine.MarkOverdue")
	start := time.Now()
	defer func() {
		e.metrics.ObserveOperation("mark_overdue", start, err)
		observability.EndSpan(span, err)
	}()

	asOf = asOf.UTC()
	err = e.atomically(ctx, "mark_overdue", func(tx store.Tx) error {
		marked = 0
		due, err := tx.ListInstallmentsDueBefore(ctx, asOf)
		if err != nil {
			return err
		}
		for _, inst := range due {
			inst.DaysOverdue = int(asOf.Sub(inst.DueDate).Hours() / 24)
			if inst.Status == models.InstallmentStatusPending {
				inst.Status = models.InstallmentStatusOverdue
				inst.Penalty = inst.Amount.Mul(e.penaltyRate).Div(hundred).Round(models.MoneyPlaces)
				marked++
			}
			if err := tx.UpdateInstallment(ctx, inst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int("marked", marked))
	e.metrics.AddOverdue(marked)
	e.logger.Info("overdue sweep complete",
		zap.Time("as_of", asOf),
		zap.Int("marked", marked),
	)
	return marked, nil
}
