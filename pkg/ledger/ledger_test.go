package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/audit"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *store.SQLiteStore, *observability.Metrics) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := observability.NewMetrics()
	return NewLedger(s, m, zap.NewNop(), opts...), s, m
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOpenAccount_WithInitialDeposit(t *testing.T) {
	rec := &audit.Memory{}
	l, s, _ := newTestLedger(t, WithAuditor(rec))
	ctx := context.Background()
	owner := uuid.New()

	acc, err := l.OpenAccount(ctx, owner, models.AccountTypeSavings, "", dec("100"))
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusActive, acc.Status)
	assert.Equal(t, models.DefaultCurrency, acc.Currency)
	assert.True(t, acc.Balance.Equal(dec("100")))
	assert.Regexp(t, `^ACC\d{16}$`, acc.AccountNumber)

	entries, err := s.ListLedgerEntries(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryKindDeposit, entries[0].Kind)
	assert.Equal(t, "Initial deposit", entries[0].Description)

	require.Len(t, rec.All(), 1)
	assert.Equal(t, audit.ActionCreate, rec.All()[0].Action)
}

func TestOpenAccount_Validation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.OpenAccount(ctx, uuid.New(), "crypto", "", decimal.Zero)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = l.OpenAccount(ctx, uuid.New(), models.AccountTypeChecking, "", dec("-1"))
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "initial_deposit", vErr.Field)

	_, err = l.OpenAccount(ctx, uuid.New(), models.AccountTypeChecking, "DOLLARS", decimal.Zero)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "currency", vErr.Field)

	_, err = l.OpenAccount(ctx, uuid.New(), models.AccountTypeChecking, "ZZZ", decimal.Zero)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "currency", vErr.Field)
}

func TestDebitCredit(t *testing.T) {
	l, s, m := newTestLedger(t)
	ctx := context.Background()
	acc, err := l.OpenAccount(ctx, uuid.New(), models.AccountTypeSavings, "", dec("100"))
	require.NoError(t, err)

	entry, err := l.Debit(ctx, acc.ID, dec("30"), "")
	require.NoError(t, err)
	assert.Equal(t, models.EntryKindWithdrawal, entry.Kind)
	assert.True(t, entry.BalanceAfter.Equal(dec("70")), "balance after %s", entry.BalanceAfter)
	assert.Equal(t, "Withdrawal", entry.Description)

	entry, err = l.Credit(ctx, acc.ID, dec("5.25"), "salary")
	require.NoError(t, err)
	assert.True(t, entry.BalanceAfter.Equal(dec("75.25")))

	fetched, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Balance.Equal(dec("75.25")))

	assert.Equal(t, float64(1), m.OperationCount("debit", observability.OutcomeSuccess))
	assert.Equal(t, float64(1), m.OperationCount("credit", observability.OutcomeSuccess))
}

func TestDebit_Errors(t *testing.T) {
	l, s, _ := newTestLedger(t)
	ctx := context.Background()
	acc, err := l.OpenAccount(ctx, uuid.New(), models.AccountTypeSavings, "", dec("50"))
	require.NoError(t, err)

	frozen, err := l.OpenAccount(ctx, uuid.New(), models.AccountTypeChecking, "", dec("50"))
	require.NoError(t, err)
	_, err = l.SetStatus(ctx, frozen.ID, models.AccountStatusFrozen, uuid.New())
	require.NoError(t, err)

	tests := []struct {
		name    string
		account uuid.UUID
		amount  string
		want    error
	}{
		{"zero amount", acc.ID, "0", models.ErrValidation},
		{"negative amount", acc.ID, "-5", models.ErrValidation},
		{"sub-cent amount", acc.ID, "1.005", models.ErrValidation},
		{"missing account", uuid.New(), "5", models.ErrAccountNotFound},
		{"inactive account", frozen.ID, "5", models.ErrAccountInactive},
		{"insufficient funds", acc.ID, "50.01", models.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Debit(ctx, tt.account, dec(tt.amount), "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// None of the failures left a trace.
	fetched, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Balance.Equal(dec("50")))
	entries, err := s.ListLedgerEntries(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDebit_ExactBalanceAllowed(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	acc, err := l.OpenAccount(ctx, uuid.New(), models.AccountTypeSavings, "", dec("20"))
	require.NoError(t, err)

	entry, err := l.Debit(ctx, acc.ID, dec("20"), "")
	require.NoError(t, err)
	assert.True(t, entry.BalanceAfter.IsZero())
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	l, s, _ := newTestLedger(t)
	ctx := context.Background()
	acc, err := l.OpenAccount(ctx, uuid.New(), models.AccountTypeSavings, "", dec("100"))
	require.NoError(t, err)

	results := make([]error, 2)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			_, results[i] = l.Debit(ctx, acc.ID, dec("60"), "")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded, refused := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrInsufficientFunds):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, refused)

	fetched, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Balance.Equal(dec("40")), "balance %s", fetched.Balance)
}

func TestCredit_ConcurrentDepositsAllLand(t *testing.T) {
	l, s, _ := newTestLedger(t)
	ctx := context.Background()
	acc, err := l.OpenAccount(ctx, uuid.New(), models.AccountTypeSavings, "", decimal.Zero)
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := l.Credit(ctx, acc.ID, dec("10"), "")
			return err
		})
	}
	require.NoError(t, g.Wait())

	fetched, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Balance.Equal(dec("100")), "balance %s", fetched.Balance)

	entries, err := s.ListLedgerEntries(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
	assert.True(t, ReplayBalance(entries).Equal(fetched.Balance))
}

func TestSetStatus_Transitions(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	actor := uuid.New()

	acc, err := l.OpenAccount(ctx, uuid.New(), models.AccountTypeBusiness, "eur", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "EUR", acc.Currency)

	acc, err = l.SetStatus(ctx, acc.ID, models.AccountStatusFrozen, actor)
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusFrozen, acc.Status)

	acc, err = l.SetStatus(ctx, acc.ID, models.AccountStatusActive, actor)
	require.NoError(t, err)

	acc, err = l.SetStatus(ctx, acc.ID, models.AccountStatusClosed, actor)
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusClosed, acc.Status)

	_, err = l.SetStatus(ctx, acc.ID, models.AccountStatusActive, actor)
	assert.ErrorIs(t, err, models.ErrInvalidStatusTransition)

	funded, err := l.OpenAccount(ctx, uuid.New(), models.AccountTypeSavings, "", dec("1"))
	require.NoError(t, err)
	_, err = l.SetStatus(ctx, funded.ID, models.AccountStatusClosed, actor)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestEntriesAndOwnership(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _, _ := newTestLedger(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	owner := uuid.New()

	acc, err := l.OpenAccount(ctx, owner, models.AccountTypeSavings, "", dec("10"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.Credit(ctx, acc.ID, dec("1"), "")
		require.NoError(t, err)
	}

	entries, err := l.Entries(ctx, owner, acc.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Greater(t, entries[0].Seq, entries[1].Seq)
	assert.True(t, entries[0].BalanceAfter.Equal(dec("13")))
	assert.True(t, fixed.Equal(entries[0].CreatedAt), "created at %s", entries[0].CreatedAt)

	_, err = l.Entries(ctx, uuid.New(), acc.ID, 0)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
	_, err = l.GetAccount(ctx, uuid.New(), acc.ID)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestReconcile(t *testing.T) {
	l, s, _ := newTestLedger(t)
	ctx := context.Background()
	acc, err := l.OpenAccount(ctx, uuid.New(), models.AccountTypeSavings, "", dec("100"))
	require.NoError(t, err)
	_, err = l.Debit(ctx, acc.ID, dec("40"), "")
	require.NoError(t, err)

	r, err := l.Reconcile(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, r.Balanced)
	assert.True(t, r.Expected.Equal(dec("60")))
	assert.Equal(t, 2, r.Entries)

	// Tamper with the balance outside the ledger.
	tampered, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	tampered.Balance = dec("999")
	require.NoError(t, s.UpdateAccount(ctx, tampered))

	r, err = l.Reconcile(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, r.Balanced)
	assert.True(t, r.Actual.Equal(dec("999")))
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		amount string
		ok     bool
	}{
		{"0.01", true},
		{"10", true},
		{"10.50", true},
		{"10.500", true},
		{"0", false},
		{"-0.01", false},
		{"0.001", false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := ValidateAmount("amount", dec(tt.amount))
			assert.Equal(t, tt.ok, err == nil, "ValidateAmount(%s) = %v", tt.amount, err)
		})
	}
}
