package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/models"
)

// Queries lists every read and write primitive of the store. Both Storage (autocommit) and Tx
// (one unit of work) implement it, so the same code runs inside and outside a transaction.
//
// Lookups that find nothing return the matching models sentinel (ErrAccountNotFound,
// ErrLoanNotFound, ...). Competing writes surface as models.ErrConcurrencyConflict. A second
// user with the same email is models.ErrDuplicateEmail, and a second pending card application
// for the same owner and card type is models.ErrDuplicateApplication.
type Queries interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	// LockAccount reads an account and holds it against concurrent writers until the
	// surrounding transaction ends.
	LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*models.Account, error)
	AccountNumberExists(ctx context.Context, number string) (bool, error)
	// FindAccountByType returns the owner's oldest active account of the given type.
	FindAccountByType(ctx context.Context, owner uuid.UUID, accountType models.AccountType) (*models.Account, error)
	ListAccounts(ctx context.Context, owner uuid.UUID) ([]*models.Account, error)
	// UpdateAccount writes balance and status if account.Version still matches the stored row,
	// then bumps account.Version.
	UpdateAccount(ctx context.Context, account *models.Account) error

	// CreateLedgerEntry appends an entry and sets its Seq.
	CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	// ListLedgerEntries returns an account's entries in creation order.
	ListLedgerEntries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)

	CreateTransfer(ctx context.Context, transfer *models.Transfer) error
	GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	// ListTransfersForUser returns transfers sent from the user's accounts or addressed to the
	// user, newest first.
	ListTransfersForUser(ctx context.Context, userID uuid.UUID) ([]*models.Transfer, error)

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	ListLoansByOwner(ctx context.Context, owner uuid.UUID) ([]*models.Loan, error)
	// ListLoansByStatus returns every loan when status is empty.
	ListLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error)

	CreateInstallments(ctx context.Context, installments []*models.LoanInstallment) error
	ListInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.LoanInstallment, error)
	// NextPayableInstallment returns the earliest pending or overdue installment by due date.
	NextPayableInstallment(ctx context.Context, loanID uuid.UUID) (*models.LoanInstallment, error)
	UpdateInstallment(ctx context.Context, installment *models.LoanInstallment) error
	// ListInstallmentsDueBefore returns pending or overdue installments of active loans due
	// strictly before asOf. Inside a Tx the returned rows stay locked until it ends.
	ListInstallmentsDueBefore(ctx context.Context, asOf time.Time) ([]*models.LoanInstallment, error)

	CreateTransaction(ctx context.Context, transaction *models.LoanTransaction) error
	GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.LoanTransaction, error)

	CreateApplication(ctx context.Context, app *models.CardApplication) error
	GetApplication(ctx context.Context, id uuid.UUID) (*models.CardApplication, error)
	LockApplication(ctx context.Context, id uuid.UUID) (*models.CardApplication, error)
	UpdateApplication(ctx context.Context, app *models.CardApplication) error
	DeleteApplication(ctx context.Context, id uuid.UUID) error
	ListApplicationsByOwner(ctx context.Context, owner uuid.UUID) ([]*models.CardApplication, error)
	// ListApplicationsByStatus returns every application when status is empty.
	ListApplicationsByStatus(ctx context.Context, status models.ApplicationStatus) ([]*models.CardApplication, error)
	PendingApplicationExists(ctx context.Context, owner uuid.UUID, cardType models.CardType) (bool, error)
}

// Tx is one unit of work. Its writes become visible together on Commit or not at all.
type Tx interface {
	Queries
	Commit() error
	Rollback() error
}

// Storage is a transactional store handle. It is injected into every service constructor.
type Storage interface {
	Queries
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
