package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/ledger"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/store"
	"go.uber.org/zap"
)

// Disburser moves an approved loan's principal to the borrower. It runs inside the approval
// unit of work, so a failure leaves the loan pending.
type Disburser interface {
	Disburse(ctx context.Context, tx store.Tx, loan *models.Loan) error
}

// LedgerDisburser credits the principal to the borrower's active savings account.
type LedgerDisburser struct {
	ledger *ledger.Ledger
	logger *zap.Logger
	now    func() time.Time
}

func NewLedgerDisburser(l *ledger.Ledger, logger *zap.Logger) *LedgerDisburser {
	return &LedgerDisburser{ledger: l, logger: logger, now: time.Now}
}

func (d *LedgerDisburser) Disburse(ctx context.Context, tx store.Tx, loan *models.Loan) error {
	savings, err := tx.FindAccountByType(ctx, loan.OwnerID, models.AccountTypeSavings)
	if errors.Is(err, models.ErrAccountNotFound) {
		return fmt.Errorf("no active savings account to disburse into: %w", models.ErrAccountNotFound)
	}
	if err != nil {
		return err
	}
	account, err := tx.LockAccount(ctx, savings.ID)
	if err != nil {
		return err
	}

	entry, err := d.ledger.PostCredit(ctx, tx, account, ledger.Posting{
		Kind:        models.EntryKindDeposit,
		Amount:      loan.Principal,
		Description: fmt.Sprintf("Loan disbursement %s", loan.ID),
	})
	if err != nil {
		return fmt.Errorf("failed to credit loan principal: %w", err)
	}

	now := d.now().UTC()
	loan.DisbursedAt = &now
	if err := tx.CreateTransaction(ctx, &models.LoanTransaction{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Amount:    loan.Principal,
		Type:      models.TransactionTypeDisbursement,
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("failed to store disbursement transaction: %w", err)
	}

	d.logger.Info("loan disbursed",
		zap.String("loan_id", loan.ID.String()),
		zap.String("account_id", account.ID.String()),
		zap.String("balance_after", entry.BalanceAfter.StringFixed(models.MoneyPlaces)),
	)
	return nil
}
