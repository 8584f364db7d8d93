// Package transfer moves money between two accounts as one unit of work: a debit leg, a
// credit leg and the transfer record that ties them together.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

var tracer = otel.Tracer("transfer")

const maxReferenceAttempts = 5

// Orchestrator validates and executes transfers.
type Orchestrator struct {
	storage      store.Storage
	ledger       *ledger.Ledger
	metrics      *observability.Metrics
	logger       *zap.Logger
	notifier     notify.Dispatcher
	auditor      audit.Recorder
	retry        store.RetryPolicy
	now          func() time.Time
	newReference func(time.Time) string
}

type Option func(*Orchestrator)

func WithNotifier(d notify.Dispatcher) Option {
	return func(o *Orchestrator) { o.notifier = d }
}

func WithAuditor(r audit.Recorder) Option {
	return func(o *Orchestrator) { o.auditor = r }
}

func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithReferenceGenerator replaces models.GenerateReference.
func WithReferenceGenerator(gen func(time.Time) string) Option {
	return func(o *Orchestrator) { o.newReference = gen }
}

func NewOrchestrator(s store.Storage, l *ledger.Ledger, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		storage:      s,
		ledger:       l,
		metrics:      metrics,
		logger:       logger,
		notifier:     notify.Nop{},
		auditor:      audit.Nop{},
		retry:        store.DefaultRetryPolicy,
		now:          time.Now,
		newReference: models.GenerateReference,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// destination is the resolved credit side of a transfer.
type destination struct {
	account      *models.Account
	transferType models.TransferType
	// unavailable is returned when the destination turns out inactive once locked.
	unavailable error
}

type resolver func(ctx context.Context, tx store.Tx) (*destination, error)

// TransferOwnAccounts moves money between two accounts held by owner.
func (o *Orchestrator) TransferOwnAccounts(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, description string, owner uuid.UUID) (*models.Transfer, error) {
	if fromID == toID {
		return nil, models.ErrSameAccount
	}
	return o.execute(ctx, "transfer_own_accounts", owner, fromID, amount, description, func(ctx context.Context, tx store.Tx) (*destination, error) {
		to, err := tx.GetAccount(ctx, toID)
		if err != nil {
			return nil, err
		}
		if to.OwnerID != owner {
			return nil, models.ErrAccountNotFound
		}
		return &destination{account: to, transferType: models.TransferTypeAccountToAccount, unavailable: models.ErrAccountInactive}, nil
	})
}

// TransferToUser credits the active savings account of the user registered under
// recipientEmail.
func (o *Orchestrator) TransferToUser(ctx context.Context, fromID uuid.UUID, recipientEmail string, amount decimal.Decimal, description string, owner uuid.UUID) (*models.Transfer, error) {
	recipientEmail = strings.ToLower(strings.TrimSpace(recipientEmail))
	if recipientEmail == "" {
		return nil, models.NewValidationError("recipient_email", "is required")
	}
	return o.execute(ctx, "transfer_to_user", owner, fromID, amount, description, func(ctx context.Context, tx store.Tx) (*destination, error) {
		recipient, err := tx.GetUserByEmail(ctx, recipientEmail)
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrRecipientNotFound
		}
		if err != nil {
			return nil, err
		}
		if recipient.ID == owner {
			return nil, models.ErrSelfTransfer
		}
		to, err := tx.FindAccountByType(ctx, recipient.ID, models.AccountTypeSavings)
		if errors.Is(err, models.ErrAccountNotFound) {
			return nil, models.ErrRecipientAccountUnavailable
		}
		if err != nil {
			return nil, err
		}
		return &destination{account: to, transferType: models.TransferTypeUserToUser, unavailable: models.ErrRecipientAccountUnavailable}, nil
	})
}

// TransferToAccountNumber credits the account with the given number. The transfer is
// account-to-account when owner holds the destination and user-to-user otherwise.
func (o *Orchestrator) TransferToAccountNumber(ctx context.Context, fromID uuid.UUID, accountNumber string, amount decimal.Decimal, description string, owner uuid.UUID) (*models.Transfer, error) {
	accountNumber = strings.TrimSpace(accountNumber)
	if accountNumber == "" {
		return nil, models.NewValidationError("to_account_number", "is required")
	}
	return o.execute(ctx, "transfer_to_account", owner, fromID, amount, description, func(ctx context.Context, tx store.Tx) (*destination, error) {
		to, err := tx.GetAccountByNumber(ctx, accountNumber)
		if errors.Is(err, models.ErrAccountNotFound) {
			return nil, models.ErrRecipientAccountUnavailable
		}
		if err != nil {
			return nil, err
		}
		if to.ID == fromID {
			return nil, models.ErrSameAccount
		}
		transferType := models.TransferTypeUserToUser
		if to.OwnerID == owner {
			transferType = models.TransferTypeAccountToAccount
		}
		return &destination{account: to, transferType: transferType, unavailable: models.ErrRecipientAccountUnavailable}, nil
	})
}

func (o *Orchestrator) execute(ctx context.Context, op string, owner, fromID uuid.UUID, amount decimal.Decimal, description string, resolve resolver) (transfer *models.Transfer, err error) {
	ctx, span := tracer.Start(ctx, "Orchestrator."+op)
	span.SetAttributes(
		attribute.String("from_account_id", fromID.String()),
		attribute.String("amount", amount.String()),
	)
	start := time.Now()
	defer func() {
		o.metrics.ObserveOperation(op, start, err)
		observability.EndSpan(span, err)
	}()

	if err := ledger.ValidateAmount("amount", amount); err != nil {
		return nil, err
	}
	description = strings.TrimSpace(description)

	var from, to *models.Account
	err = store.Atomically(ctx, o.storage, o.retry, func(tx store.Tx) error {
		dest, err := resolve(ctx, tx)
		if err != nil {
			return err
		}

		from, to, err = lockPair(ctx, tx, fromID, dest.account.ID)
		if err != nil {
			return err
		}
		if from.OwnerID != owner {
			return models.ErrAccountNotFound
		}
		if from.Status != models.AccountStatusActive {
			return fmt.Errorf("source account: %w", models.ErrAccountInactive)
		}
		if to.Status != models.AccountStatusActive {
			return dest.unavailable
		}
		if from.Currency != to.Currency {
			return models.ErrCurrencyMismatch
		}
		if from.Balance.LessThan(amount) {
			return models.ErrInsufficientFunds
		}

		reference, err := o.uniqueReference(ctx, tx)
		if err != nil {
			return err
		}

		now := o.now().UTC()
		transfer = models.NewTransfer(from, to, to.OwnerID, amount, dest.transferType, description, reference, now)
		if err := tx.CreateTransfer(ctx, transfer); err != nil {
			return err
		}

		debitText, creditText := description, description
		if debitText == "" {
			debitText = "Transfer to " + to.AccountNumber
			creditText = "Transfer from " + from.AccountNumber
		}
		if _, err := o.ledger.PostDebit(ctx, tx, from, ledger.Posting{
			Kind:        models.EntryKindTransferDebit,
			Amount:      amount,
			Description: debitText,
			Counterpart: &to.ID,
			TransferID:  &transfer.ID,
		}); err != nil {
			return err
		}
		if _, err := o.ledger.PostCredit(ctx, tx, to, ledger.Posting{
			Kind:        models.EntryKindTransferCredit,
			Amount:      amount,
			Description: creditText,
			Counterpart: &from.ID,
			TransferID:  &transfer.ID,
		}); err != nil {
			return err
		}
		return nil
	}, func(err error, attempt int) {
		o.metrics.IncrConflictRetry(op)
		o.logger.Debug("retrying transfer after conflict", zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}

	o.metrics.AddTransferVolume(transfer.Type, transfer.Amount)
	o.logger.Info("transfer completed",
		zap.String("reference", transfer.ReferenceNumber),
		zap.String("type", string(transfer.Type)),
		zap.String("from_account_id", transfer.FromAccountID.String()),
		zap.String("to_account_id", transfer.ToAccountID.String()),
		zap.String("amount", transfer.Amount.StringFixed(models.MoneyPlaces)),
	)
	o.afterCommit(ctx, transfer, from, to, owner)
	return transfer, nil
}

// lockPair locks both accounts in ascending id order so opposing transfers cannot deadlock.
func lockPair(ctx context.Context, tx store.Tx, fromID, toID uuid.UUID) (from, to *models.Account, err error) {
	first, second := fromID, toID
	if strings.Compare(toID.String(), fromID.String()) < 0 {
		first, second = toID, fromID
	}
	a, err := tx.LockAccount(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := tx.LockAccount(ctx, second)
	if err != nil {
		return nil, nil, err
	}
	if a.ID == fromID {
		return a, b, nil
	}
	return b, a, nil
}

func (o *Orchestrator) uniqueReference(ctx context.Context, tx store.Tx) (string, error) {
	for i := 0; i < maxReferenceAttempts; i++ {
		ref := o.newReference(o.now())
		taken, err := tx.ReferenceExists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !taken {
			return ref, nil
		}
		o.logger.Debug("reference number collision, regenerating", zap.String("reference", ref))
	}
	return "", models.ErrDuplicateReference
}

func (o *Orchestrator) afterCommit(ctx context.Context, t *models.Transfer, from, to *models.Account, owner uuid.UUID) {
	amount := t.Amount.StringFixed(models.MoneyPlaces)
	data := map[string]string{
		"transfer_id": t.ID.String(),
		"reference":   t.ReferenceNumber,
		"amount":      amount,
	}
	o.notifier.Dispatch(ctx, notify.Notification{
		UserID:  owner,
		Kind:    notify.KindTransfer,
		Title:   "Money Sent",
		Message: fmt.Sprintf("You sent %s %s to account %s", amount, from.Currency, to.AccountNumber),
		Data:    data,
		SentAt:  t.TransferredAt,
	})
	if t.ToUserID != owner {
		o.notifier.Dispatch(ctx, notify.Notification{
			UserID:  t.ToUserID,
			Kind:    notify.KindTransfer,
			Title:   "Money Received",
			Message: fmt.Sprintf("You received %s %s from account %s", amount, to.Currency, from.AccountNumber),
			Data:    data,
			SentAt:  t.TransferredAt,
		})
	}
	o.auditor.Record(ctx, audit.Record{
		EntityID:   t.ID,
		EntityType: "Transfer",
		Action:     audit.ActionCreate,
		After:      t,
		ActorID:    owner,
		At:         t.TransferredAt,
	})
}

// ListTransfers returns transfers sent from or addressed to user, newest first.
func (o *Orchestrator) ListTransfers(ctx context.Context, user uuid.UUID) ([]*models.Transfer, error) {
	return o.storage.ListTransfersForUser(ctx, user)
}
