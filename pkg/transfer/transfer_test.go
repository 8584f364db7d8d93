package transfer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/audit"
	"github.com/mcclellann/fredBank/pkg/ledger"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/notify"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type fixture struct {
	store    *store.SQLiteStore
	ledger   *ledger.Ledger
	metrics  *observability.Metrics
	notifier *notify.Recorder
	auditor  *audit.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "transfer.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := observability.NewMetrics()
	return &fixture{
		store:    s,
		ledger:   ledger.NewLedger(s, m, zap.NewNop()),
		metrics:  m,
		notifier: &notify.Recorder{},
		auditor:  &audit.Memory{},
	}
}

func (f *fixture) orchestrator(s store.Storage, opts ...Option) *Orchestrator {
	opts = append([]Option{WithNotifier(f.notifier), WithAuditor(f.auditor)}, opts...)
	return NewOrchestrator(s, f.ledger, f.metrics, zap.NewNop(), opts...)
}

func (f *fixture) user(t *testing.T, email string) *models.User {
	t.Helper()
	u, err := models.NewUser(email, "Test", "User", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) account(t *testing.T, owner uuid.UUID, accountType models.AccountType, balance string) *models.Account {
	t.Helper()
	acc, err := f.ledger.OpenAccount(context.Background(), owner, accountType, "", dec(balance))
	require.NoError(t, err)
	return acc
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTransferOwnAccounts(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(f.store)
	ctx := context.Background()
	owner := uuid.New()
	savings := f.account(t, owner, models.AccountTypeSavings, "500")
	checking := f.account(t, owner, models.AccountTypeChecking, "0")

	tr, err := o.TransferOwnAccounts(ctx, savings.ID, checking.ID, dec("200"), "rent", owner)
	require.NoError(t, err)
	assert.Equal(t, models.TransferTypeAccountToAccount, tr.Type)
	assert.Equal(t, models.TransferStatusCompleted, tr.Status)
	assert.Equal(t, owner, tr.ToUserID)
	assert.Regexp(t, `^TRF\d{13}[0-9A-Z]{9}$`, tr.ReferenceNumber)

	assert.True(t, f.balance(t, savings.ID).Equal(dec("300")))
	assert.True(t, f.balance(t, checking.ID).Equal(dec("200")))

	debits, err := f.store.ListLedgerEntries(ctx, savings.ID)
	require.NoError(t, err)
	last := debits[len(debits)-1]
	assert.Equal(t, models.EntryKindTransferDebit, last.Kind)
	require.NotNil(t, last.TransferID)
	assert.Equal(t, tr.ID, *last.TransferID)
	require.NotNil(t, last.CounterpartAccountID)
	assert.Equal(t, checking.ID, *last.CounterpartAccountID)

	credits, err := f.store.ListLedgerEntries(ctx, checking.ID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, models.EntryKindTransferCredit, credits[0].Kind)
	assert.Equal(t, tr.ID, *credits[0].TransferID)

	// Own-account transfers only notify the sender.
	assert.Len(t, f.notifier.All(), 1)
	assert.Len(t, f.auditor.All(), 1)
	assert.Equal(t, 200.0, f.metrics.TransferVolume(models.TransferTypeAccountToAccount))
}

func TestTransferOwnAccounts_Rejections(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(f.store)
	ctx := context.Background()
	owner := uuid.New()
	savings := f.account(t, owner, models.AccountTypeSavings, "100")
	checking := f.account(t, owner, models.AccountTypeChecking, "0")
	foreign := f.account(t, uuid.New(), models.AccountTypeChecking, "0")
	frozen := f.account(t, owner, models.AccountTypeBusiness, "0")
	_, err := f.ledger.SetStatus(ctx, frozen.ID, models.AccountStatusFrozen, owner)
	require.NoError(t, err)
	euro, err := f.ledger.OpenAccount(ctx, owner, models.AccountTypeSavings, "EUR", decimal.Zero)
	require.NoError(t, err)

	tests := []struct {
		name   string
		from   uuid.UUID
		to     uuid.UUID
		amount string
		want   error
	}{
		{"same account", savings.ID, savings.ID, "10", models.ErrSameAccount},
		{"zero amount", savings.ID, checking.ID, "0", models.ErrValidation},
		{"insufficient funds", savings.ID, checking.ID, "100.01", models.ErrInsufficientFunds},
		{"destination of another owner", savings.ID, foreign.ID, "10", models.ErrAccountNotFound},
		{"source of another owner", foreign.ID, savings.ID, "10", models.ErrAccountNotFound},
		{"missing destination", savings.ID, uuid.New(), "10", models.ErrAccountNotFound},
		{"frozen destination", savings.ID, frozen.ID, "10", models.ErrAccountInactive},
		{"different currency", savings.ID, euro.ID, "10", models.ErrCurrencyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.TransferOwnAccounts(ctx, tt.from, tt.to, dec(tt.amount), "", owner)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.True(t, f.balance(t, savings.ID).Equal(dec("100")))
	transfers, err := o.ListTransfers(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, transfers)
	assert.Empty(t, f.notifier.All())
}

func TestTransferToUser(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(f.store)
	ctx := context.Background()

	alice := f.user(t, "alice@example.com")
	bob := f.user(t, "bob@example.com")
	aliceChecking := f.account(t, alice.ID, models.AccountTypeChecking, "100")
	bobSavings := f.account(t, bob.ID, models.AccountTypeSavings, "5")

	tr, err := o.TransferToUser(ctx, aliceChecking.ID, " Bob@Example.com ", dec("40"), "", alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferTypeUserToUser, tr.Type)
	assert.Equal(t, bob.ID, tr.ToUserID)
	assert.Equal(t, bobSavings.ID, tr.ToAccountID)

	assert.True(t, f.balance(t, aliceChecking.ID).Equal(dec("60")))
	assert.True(t, f.balance(t, bobSavings.ID).Equal(dec("45")))

	if got := f.notifier.For(bob.ID); assert.Len(t, got, 1) {
		assert.Equal(t, "Money Received", got[0].Title)
	}
	if got := f.notifier.For(alice.ID); assert.Len(t, got, 1) {
		assert.Equal(t, "Money Sent", got[0].Title)
	}

	// Both sides see the transfer.
	for _, u := range []uuid.UUID{alice.ID, bob.ID} {
		transfers, err := o.ListTransfers(ctx, u)
		require.NoError(t, err)
		require.Len(t, transfers, 1)
		assert.Equal(t, tr.ID, transfers[0].ID)
	}
}

func TestTransferToUser_Rejections(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(f.store)
	ctx := context.Background()

	alice := f.user(t, "alice@example.com")
	carol := f.user(t, "carol@example.com") // checking only
	dave := f.user(t, "dave@example.com")   // frozen savings
	from := f.account(t, alice.ID, models.AccountTypeSavings, "100")
	f.account(t, carol.ID, models.AccountTypeChecking, "0")
	daveSavings := f.account(t, dave.ID, models.AccountTypeSavings, "0")
	_, err := f.ledger.SetStatus(ctx, daveSavings.ID, models.AccountStatusFrozen, dave.ID)
	require.NoError(t, err)

	tests := []struct {
		name  string
		email string
		want  error
	}{
		{"blank email", "  ", models.ErrValidation},
		{"unknown recipient", "nobody@example.com", models.ErrRecipientNotFound},
		{"self transfer", "alice@example.com", models.ErrSelfTransfer},
		{"no savings account", "carol@example.com", models.ErrRecipientAccountUnavailable},
		{"frozen savings account", "dave@example.com", models.ErrRecipientAccountUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.TransferToUser(ctx, from.ID, tt.email, dec("10"), "", alice.ID)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.True(t, f.balance(t, from.ID).Equal(dec("100")))
}

func TestTransferToAccountNumber(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(f.store)
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()
	from := f.account(t, owner, models.AccountTypeSavings, "100")
	mine := f.account(t, owner, models.AccountTypeChecking, "0")
	theirs := f.account(t, other, models.AccountTypeChecking, "0")

	tr, err := o.TransferToAccountNumber(ctx, from.ID, mine.AccountNumber, dec("10"), "", owner)
	require.NoError(t, err)
	assert.Equal(t, models.TransferTypeAccountToAccount, tr.Type)

	tr, err = o.TransferToAccountNumber(ctx, from.ID, theirs.AccountNumber, dec("15"), "", owner)
	require.NoError(t, err)
	assert.Equal(t, models.TransferTypeUserToUser, tr.Type)
	assert.Equal(t, other, tr.ToUserID)

	_, err = o.TransferToAccountNumber(ctx, from.ID, "ACC000", dec("1"), "", owner)
	assert.ErrorIs(t, err, models.ErrRecipientAccountUnavailable)
	_, err = o.TransferToAccountNumber(ctx, from.ID, from.AccountNumber, dec("1"), "", owner)
	assert.ErrorIs(t, err, models.ErrSameAccount)

	assert.True(t, f.balance(t, from.ID).Equal(dec("75")))
}

// failingStorage hands out transactions whose ledger appends fail for one entry kind.
type failingStorage struct {
	store.Storage
	failOn models.EntryKind
}

func (f failingStorage) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := f.Storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingTx{Tx: tx, failOn: f.failOn}, nil
}

type failingTx struct {
	store.Tx
	failOn models.EntryKind
}

var errDiskFull = errors.New("disk full")

func (f failingTx) CreateLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	if e.Kind == f.failOn {
		return errDiskFull
	}
	return f.Tx.CreateLedgerEntry(ctx, e)
}

func TestTransfer_CreditLegFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(failingStorage{Storage: f.store, failOn: models.EntryKindTransferCredit})
	ctx := context.Background()
	owner := uuid.New()
	from := f.account(t, owner, models.AccountTypeSavings, "100")
	to := f.account(t, owner, models.AccountTypeChecking, "0")

	_, err := o.TransferOwnAccounts(ctx, from.ID, to.ID, dec("30"), "", owner)
	require.ErrorIs(t, err, errDiskFull)

	assert.True(t, f.balance(t, from.ID).Equal(dec("100")))
	assert.True(t, f.balance(t, to.ID).Equal(dec("0")))

	entries, err := f.store.ListLedgerEntries(ctx, from.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the opening deposit should remain")

	transfers, err := o.ListTransfers(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, transfers)
	assert.Empty(t, f.notifier.All())
	assert.Equal(t, float64(1), f.metrics.OperationCount("transfer_own_accounts", observability.OutcomeError))
}

func TestTransfer_ReferenceCollisionRegenerates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	from := f.account(t, owner, models.AccountTypeSavings, "100")
	to := f.account(t, owner, models.AccountTypeChecking, "0")

	seeded := f.orchestrator(f.store, WithReferenceGenerator(func(time.Time) string { return "TRFDUPLICATE" }))
	_, err := seeded.TransferOwnAccounts(ctx, from.ID, to.ID, dec("1"), "", owner)
	require.NoError(t, err)

	calls := 0
	o := f.orchestrator(f.store, WithReferenceGenerator(func(now time.Time) string {
		calls++
		if calls <= 2 {
			return "TRFDUPLICATE"
		}
		return models.GenerateReference(now)
	}))
	tr, err := o.TransferOwnAccounts(ctx, from.ID, to.ID, dec("1"), "", owner)
	require.NoError(t, err)
	assert.NotEqual(t, "TRFDUPLICATE", tr.ReferenceNumber)
	assert.Equal(t, 3, calls)

	stuck := f.orchestrator(f.store, WithReferenceGenerator(func(time.Time) string { return "TRFDUPLICATE" }))
	_, err = stuck.TransferOwnAccounts(ctx, from.ID, to.ID, dec("1"), "", owner)
	assert.ErrorIs(t, err, models.ErrDuplicateReference)
	assert.True(t, f.balance(t, from.ID).Equal(dec("98")))
}

func TestTransfer_OpposingTransfersConserveMoney(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(f.store)
	ctx := context.Background()
	owner := uuid.New()
	a := f.account(t, owner, models.AccountTypeSavings, "100")
	b := f.account(t, owner, models.AccountTypeChecking, "100")

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		from, to := a.ID, b.ID
		if i%2 == 1 {
			from, to = b.ID, a.ID
		}
		g.Go(func() error {
			_, err := o.TransferOwnAccounts(ctx, from, to, dec("7"), "", owner)
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := f.balance(t, a.ID).Add(f.balance(t, b.ID))
	assert.True(t, total.Equal(dec("200")), "total %s", total)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		r, err := f.ledger.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.True(t, r.Balanced)
	}
}
