package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/audit"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("ledger")

const maxAccountNumberAttempts = 5

// Ledger is the only component allowed to change an account balance. Every change is written
// together with the ledger entry that explains it.
type Ledger struct {
	storage store.Storage
	metrics *observability.Metrics
	logger  *zap.Logger
	auditor audit.Recorder
	retry   store.RetryPolicy
	now     func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithRetryPolicy overrides store.DefaultRetryPolicy.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(l *Ledger) { l.retry = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithAuditor(r audit.Recorder) Option {
	return func(l *Ledger) { l.auditor = r }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		metrics: metrics,
		logger:  logger,
		auditor: audit.Nop{},
		retry:   store.DefaultRetryPolicy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Posting describes one side of a balance change made inside a caller-owned unit of work.
type Posting struct {
	Kind        models.EntryKind
	Amount      decimal.Decimal
	Description string
	Counterpart *uuid.UUID
	TransferID  *uuid.UUID
}

// ValidateAmount requires a positive amount with at most two fraction digits.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return models.NewValidationError(field, "must be greater than zero")
	}
	if !amount.Equal(amount.Round(models.MoneyPlaces)) {
		return models.NewValidationError(field, "must have at most two decimal places")
	}
	return nil
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC()
}

func (l *Ledger) atomically(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	return store.Atomically(ctx, l.storage, l.retry, fn, func(err error, attempt int) {
		l.metrics.IncrConflictRetry(op)
		l.logger.Debug("retrying unit of work after conflict",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})
}

// PostDebit removes p.Amount from account inside tx and appends the matching entry.
// account must have been read through tx.LockAccount.
func (l *Ledger) PostDebit(ctx context.Context, tx store.Tx, account *models.Account, p Posting) (*models.LedgerEntry, error) {
	if err := ValidateAmount("amount", p.Amount); err != nil {
		return nil, err
	}
	if p.Kind == "" {
		p.Kind = models.EntryKindWithdrawal
	}
	if !p.Kind.IsDebit() {
		return nil, fmt.Errorf("entry kind %s is not a debit", p.Kind)
	}
	if account.Status != models.AccountStatusActive {
		return nil, fmt.Errorf("account %s: %w", account.AccountNumber, models.ErrAccountInactive)
	}
	if account.Balance.LessThan(p.Amount) {
		return nil, fmt.Errorf("account %s: %w", account.AccountNumber, models.ErrInsufficientFunds)
	}
	return l.post(ctx, tx, account, account.Balance.Sub(p.Amount), p)
}

// PostCredit adds p.Amount to account inside tx and appends the matching entry.
func (l *Ledger) PostCredit(ctx context.Context, tx store.Tx, account *models.Account, p Posting) (*models.LedgerEntry, error) {
	if err := ValidateAmount("amount", p.Amount); err != nil {
		return nil, err
	}
	if p.Kind == "" {
		p.Kind = models.EntryKindDeposit
	}
	if p.Kind.IsDebit() {
		return nil, fmt.Errorf("entry kind %s is not a credit", p.Kind)
	}
	if account.Status != models.AccountStatusActive {
		return nil, fmt.Errorf("account %s: %w", account.AccountNumber, models.ErrAccountInactive)
	}
	return l.post(ctx, tx, account, account.Balance.Add(p.Amount), p)
}

func (l *Ledger) post(ctx context.Context, tx store.Tx, account *models.Account, newBalance decimal.Decimal, p Posting) (*models.LedgerEntry, error) {
	now := l.clock()
	account.Balance = newBalance
	account.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry := models.NewLedgerEntry(account, p.Kind, p.Amount, p.Description, now)
	entry.CounterpartAccountID = p.Counterpart
	entry.TransferID = p.TransferID
	if err := tx.CreateLedgerEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return entry, nil
}

// Debit withdraws amount from an active account with sufficient funds.
func (l *Ledger) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*models.LedgerEntry, error) {
	if description == "" {
		description = "Withdrawal"
	}
	return l.single(ctx, "debit", accountID, Posting{Kind: models.EntryKindWithdrawal, Amount: amount, Description: description}, l.PostDebit)
}

// Credit deposits amount into an active account.
func (l *Ledger) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*models.LedgerEntry, error) {
	if description == "" {
		description = "Deposit"
	}
	return l.single(ctx, "credit", accountID, Posting{Kind: models.EntryKindDeposit, Amount: amount, Description: description}, l.PostCredit)
}

type postFunc func(ctx context.Context, tx store.Tx, account *models.Account, p Posting) (*models.LedgerEntry, error)

func (l *Ledger) single(ctx context.Context, op string, accountID uuid.UUID, p Posting, post postFunc) (entry *models.LedgerEntry, err error) {
	ctx, span := tracer.Start(ctx, "Ledger."+op)
	span.SetAttributes(attribute.String("account_id", accountID.String()), attribute.String("amount", p.Amount.String()))
	start := time.Now()
	defer func() {
		l.metrics.ObserveOperation(op, start, err)
		observability.EndSpan(span, err)
	}()

	if err := ValidateAmount("amount", p.Amount); err != nil {
		return nil, err
	}

	err = l.atomically(ctx, op, func(tx store.Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		entry, err = post(ctx, tx, account, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("balance changed",
		zap.String("operation", op),
		zap.String("account_id", accountID.String()),
		zap.String("amount", p.Amount.StringFixed(models.MoneyPlaces)),
		zap.String("balance_after", entry.BalanceAfter.StringFixed(models.MoneyPlaces)),
	)
	return entry, nil
}

// OpenAccount creates an account for owner, crediting initialDeposit in the same unit of work
// when it is positive.
func (l *Ledger) OpenAccount(ctx context.Context, owner uuid.UUID, accountType models.AccountType, currency string, initialDeposit decimal.Decimal) (account *models.Account, err error) {
	ctx, span := tracer.Start(ctx, "Ledger.OpenAccount")
	start := time.Now()
	defer func() {
		l.metrics.ObserveOperation("open_account", start, err)
		observability.EndSpan(span, err)
	}()

	if initialDeposit.IsNegative() {
		return nil, models.NewValidationError("initial_deposit", "must not be negative")
	}
	if initialDeposit.IsPositive() {
		if err := ValidateAmount("initial_deposit", initialDeposit); err != nil {
			return nil, err
		}
	}
	if _, err := models.NewAccount(owner, accountType, currency, l.clock()); err != nil {
		return nil, err
	}

	err = l.atomically(ctx, "open_account", func(tx store.Tx) error {
		account, err = l.newAccount(ctx, tx, owner, accountType, currency)
		if err != nil {
			return err
		}
		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		if initialDeposit.IsPositive() {
			if _, err := l.PostCredit(ctx, tx, account, Posting{Kind: models.EntryKindDeposit, Amount: initialDeposit, Description: "Initial deposit"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.auditor.Record(ctx, audit.Record{
		EntityID:   account.ID,
		EntityType: "Account",
		Action:     audit.ActionCreate,
		After:      account,
		ActorID:    owner,
		At:         l.clock(),
	})
	l.logger.Info("account opened",
		zap.String("account_id", account.ID.String()),
		zap.String("account_number", account.AccountNumber),
		zap.String("owner_id", owner.String()),
	)
	return account, nil
}

func (l *Ledger) newAccount(ctx context.Context, tx store.Tx, owner uuid.UUID, accountType models.AccountType, currency string) (*models.Account, error) {
	for i := 0; i < maxAccountNumberAttempts; i++ {
		account, err := models.NewAccount(owner, accountType, currency, l.clock())
		if err != nil {
			return nil, err
		}
		taken, err := tx.AccountNumberExists(ctx, account.AccountNumber)
		if err != nil {
			return nil, err
		}
		if !taken {
			return account, nil
		}
	}
	return nil, fmt.Errorf("could not allocate an account number: %w", models.ErrConcurrencyConflict)
}

// GetAccount returns one of owner's accounts. Accounts of other owners are reported as missing.
func (l *Ledger) GetAccount(ctx context.Context, owner, accountID uuid.UUID) (*models.Account, error) {
	account, err := l.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != owner {
		return nil, models.ErrAccountNotFound
	}
	return account, nil
}

// ListAccounts returns owner's accounts, oldest first.
func (l *Ledger) ListAccounts(ctx context.Context, owner uuid.UUID) ([]*models.Account, error) {
	return l.storage.ListAccounts(ctx, owner)
}

// SetStatus freezes, reactivates or closes an account. Closed is terminal and requires a zero
// balance.
func (l *Ledger) SetStatus(ctx context.Context, accountID uuid.UUID, status models.AccountStatus, actor uuid.UUID) (account *models.Account, err error) {
	ctx, span := tracer.Start(ctx, "Ledger.SetStatus")
	start := time.Now()
	defer func() {
		l.metrics.ObserveOperation("set_status", start, err)
		observability.EndSpan(span, err)
	}()

	var before models.AccountStatus
	err = l.atomically(ctx, "set_status", func(tx store.Tx) error {
		account, err = tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		before = account.Status
		if !account.Status.CanTransitionTo(status) {
			return fmt.Errorf("%s -> %s: %w", account.Status, status, models.ErrInvalidStatusTransition)
		}
		if status == models.AccountStatusClosed && !account.Balance.IsZero() {
			return models.NewValidationError("status", "account balance must be zero before closing")
		}
		account.Status = status
		account.UpdatedAt = l.clock()
		return tx.UpdateAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	l.auditor.Record(ctx, audit.Record{
		EntityID:   account.ID,
		EntityType: "Account",
		Action:     audit.ActionUpdate,
		Before:     map[string]string{"status": string(before)},
		After:      map[string]string{"status": string(status)},
		ActorID:    actor,
		At:         l.clock(),
	})
	return account, nil
}

// Entries returns the owner's account history, newest first. A positive limit keeps only the
// most recent entries.
func (l *Ledger) Entries(ctx context.Context, owner, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if _, err := l.GetAccount(ctx, owner, accountID); err != nil {
		return nil, err
	}
	entries, err := l.storage.ListLedgerEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.LedgerEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Reconciliation compares an account balance with its replayed log.
type Reconciliation struct {
	AccountID uuid.UUID       `json:"account_id"`
	Actual    decimal.Decimal `json:"actual"`
	Expected  decimal.Decimal `json:"expected"`
	Entries   int             `json:"entries"`
	// BrokenSeq is the first entry whose BalanceAfter disagrees with the running total.
	BrokenSeq int64 `json:"broken_seq,omitempty"`
	Balanced  bool  `json:"balanced"`
}

// Reconcile replays an account's log and checks it against the stored balance.
func (l *Ledger) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Reconcile")
	defer span.End()

	account, err := l.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := l.storage.ListLedgerEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}

	r := &Reconciliation{AccountID: accountID, Actual: account.Balance, Entries: len(entries)}
	running := decimal.Zero
	for _, e := range entries {
		running = running.Add(e.SignedAmount())
		if r.BrokenSeq == 0 && !running.Equal(e.BalanceAfter) {
			r.BrokenSeq = e.Seq
		}
	}
	r.Expected = running
	r.Balanced = r.BrokenSeq == 0 && running.Equal(account.Balance)
	if !r.Balanced {
		l.logger.Warn("ledger out of balance",
			zap.String("account_id", accountID.String()),
			zap.String("actual", r.Actual.String()),
			zap.String("expected", r.Expected.String()),
			zap.Int64("broken_seq", r.BrokenSeq),
		)
	}
	return r, nil
}

// ReplayBalance sums entries with their signed amounts.
func ReplayBalance(entries []*models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.SignedAmount())
	}
	return total
}
