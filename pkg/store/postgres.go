package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcclellann/fredBank/pkg/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	tableUsers            = "users"
	tableAccounts         = "accounts"
	tableLedgerEntries    = "ledger_entries"
	tableTransfers        = "transfers"
	tableLoans            = "loans"
	tableInstallments     = "loan_installments"
	tableLoanTransactions = "loan_transactions"
	tableApplications     = "card_applications"
)

// Unique constraints whose violation means a business rule, not a lost race.
const (
	usersEmailConstraint    = "users_email_key"
	pendingApplicationIndex = "card_applications_one_pending"
)

// PostgresStore is the gorm-backed store used in deployments. Rows touched by a unit of work
// are locked with SELECT ... FOR UPDATE.
type PostgresStore struct {
	gormQueries
	db *gorm.DB
}

type gormQueries struct {
	db *gorm.DB
}

type gormTx struct {
	gormQueries
}

func (t *gormTx) Commit() error {
	return mapPostgresError(t.db.Commit().Error)
}

func (t *gormTx) Rollback() error {
	return t.db.Rollback().Error
}

// NewPostgresStore connects to PostgreSQL and creates missing tables.
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to postgres: %w", err)
	}

	s := &PostgresStore{gormQueries: gormQueries{db: db}, db: db}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.Info("database connection established and schema initialized",
		zap.String("driver", "postgres"),
	)
	return s, nil
}

func (s *PostgresStore) migrate() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, stmt := range postgresSchema {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL CONSTRAINT ` + usersEmailConstraint + ` UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		account_number TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		balance NUMERIC(19,2) NOT NULL CHECK (balance >= 0),
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		owner_id UUID NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id UUID PRIMARY KEY,
		from_account_id UUID NOT NULL REFERENCES accounts(id),
		to_account_id UUID NOT NULL REFERENCES accounts(id),
		to_user_id UUID NOT NULL,
		amount NUMERIC(19,2) NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference_number TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		transferred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		account_id UUID NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		amount NUMERIC(19,2) NOT NULL,
		counterpart_account_id UUID,
		transfer_id UUID REFERENCES transfers(id),
		description TEXT NOT NULL DEFAULT '',
		balance_after NUMERIC(19,2) NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id, seq)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		type TEXT NOT NULL,
		principal NUMERIC(19,2) NOT NULL,
		interest_rate NUMERIC(5,2) NOT NULL,
		tenure_months INTEGER NOT NULL,
		monthly_emi NUMERIC(19,2) NOT NULL,
		outstanding_balance NUMERIC(19,2) NOT NULL,
		status TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL,
		approved_at TIMESTAMPTZ,
		approved_by TEXT NOT NULL DEFAULT '',
		disbursed_at TIMESTAMPTZ,
		closed_at TIMESTAMPTZ,
		next_due_date TIMESTAMPTZ,
		remarks TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_owner ON loans(owner_id)`,
	`CREATE TABLE IF NOT EXISTS loan_installments (
		id UUID PRIMARY KEY,
		loan_id UUID NOT NULL REFERENCES loans(id),
		number INTEGER NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		amount NUMERIC(19,2) NOT NULL,
		paid_amount NUMERIC(19,2) NOT NULL DEFAULT 0,
		paid_date TIMESTAMPTZ,
		status TEXT NOT NULL,
		penalty NUMERIC(19,2) NOT NULL DEFAULT 0,
		days_overdue INTEGER NOT NULL DEFAULT 0,
		UNIQUE (loan_id, number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loan_installments_due ON loan_installments(loan_id, status, due_date)`,
	`CREATE TABLE IF NOT EXISTS loan_transactions (
		id UUID PRIMARY KEY,
		loan_id UUID NOT NULL REFERENCES loans(id),
		installment_id UUID,
		amount NUMERIC(19,2) NOT NULL,
		type TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS card_applications (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		card_type TEXT NOT NULL,
		card_name TEXT NOT NULL,
		annual_income NUMERIC(19,2) NOT NULL,
		employment_status TEXT NOT NULL,
		credit_limit NUMERIC(19,2) NOT NULL,
		status TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL,
		reviewed_by TEXT NOT NULL DEFAULT '',
		reviewed_at TIMESTAMPTZ,
		remarks TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + pendingApplicationIndex + `
		ON card_applications(owner_id, card_type) WHERE status = 'pending'`,
}

// Begin starts a unit of work.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, mapPostgresError(tx.Error)
	}
	return &gormTx{gormQueries{db: tx}}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// mapPostgresError folds serialization failures, deadlocks, lock timeouts and unique-key races
// into models.ErrConcurrencyConflict.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == usersEmailConstraint:
			return fmt.Errorf("%w: %v", models.ErrDuplicateEmail, err)
		case pgErr.Code == "23505" && pgErr.ConstraintName == pendingApplicationIndex:
			return fmt.Errorf("%w: %v", models.ErrDuplicateApplication, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03", pgErr.Code == "23505":
			return fmt.Errorf("%w: %v", models.ErrConcurrencyConflict, err)
		}
	}
	return err
}

func (q gormQueries) table(ctx context.Context, name string) *gorm.DB {
	return q.db.WithContext(ctx).Table(name)
}

func (q gormQueries) take(ctx context.Context, table string, lock bool, dest any, notFound error, query string, args ...any) error {
	db := q.table(ctx, table)
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := db.Where(query, args...).Take(dest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound
		}
		return fmt.Errorf("failed to read %s: %w", table, mapPostgresError(err))
	}
	return nil
}

func (q gormQueries) create(ctx context.Context, table string, value any) error {
	if err := q.table(ctx, table).Create(value).Error; err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, mapPostgresError(err))
	}
	return nil
}

func (q gormQueries) exists(ctx context.Context, table string, query string, args ...any) (bool, error) {
	var n int64
	if err := q.table(ctx, table).Where(query, args...).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to count %s: %w", table, mapPostgresError(err))
	}
	return n > 0, nil
}

func (q gormQueries) CreateUser(ctx context.Context, user *models.User) error {
	return q.create(ctx, tableUsers, user)
}

func (q gormQueries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := q.take(ctx, tableUsers, false, &u, models.ErrUserNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (q gormQueries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := q.take(ctx, tableUsers, false, &u, models.ErrUserNotFound, "email = ?", strings.ToLower(strings.TrimSpace(email))); err != nil {
		return nil, err
	}
	return &u, nil
}

func (q gormQueries) CreateAccount(ctx context.Context, account *models.Account) error {
	return q.create(ctx, tableAccounts, account)
}

func (q gormQueries) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	if err := q.take(ctx, tableAccounts, false, &a, models.ErrAccountNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (q gormQueries) LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	if err := q.take(ctx, tableAccounts, true, &a, models.ErrAccountNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (q gormQueries) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	var a models.Account
	if err := q.take(ctx, tableAccounts, false, &a, models.ErrAccountNotFound, "account_number = ?", number); err != nil {
		return nil, err
	}
	return &a, nil
}

func (q gormQueries) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	return q.exists(ctx, tableAccounts, "account_number = ?", number)
}

func (q gormQueries) FindAccountByType(ctx context.Context, owner uuid.UUID, accountType models.AccountType) (*models.Account, error) {
	var a models.Account
	err := q.table(ctx, tableAccounts).
		Where("owner_id = ? AND type = ? AND status = ?", owner, accountType, models.AccountStatusActive).
		Order("created_at ASC, id ASC").
		Take(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", mapPostgresError(err))
	}
	return &a, nil
}

func (q gormQueries) ListAccounts(ctx context.Context, owner uuid.UUID) ([]*models.Account, error) {
	var accounts []*models.Account
	if err := q.table(ctx, tableAccounts).Where("owner_id = ?", owner).Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", mapPostgresError(err))
	}
	return accounts, nil
}

func (q gormQueries) UpdateAccount(ctx context.Context, a *models.Account) error {
	result := q.table(ctx, tableAccounts).
		Where("id = ? AND version = ?", a.ID, a.Version).
		Updates(map[string]any{
			"balance":    a.Balance,
			"status":     a.Status,
			"version":    gorm.Expr("version + 1"),
			"updated_at": a.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update account: %w", mapPostgresError(result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account %s changed since it was read: %w", a.ID, models.ErrConcurrencyConflict)
	}
	a.Version++
	return nil
}

func (q gormQueries) CreateLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	err := q.table(ctx, tableLedgerEntries).
		Omit("seq").
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "seq"}}}).
		Create(e).Error
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", mapPostgresError(err))
	}
	return nil
}

func (q gormQueries) ListLedgerEntries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	if err := q.table(ctx, tableLedgerEntries).Where("account_id = ?", accountID).Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get ledger entries for account %s: %w", accountID, mapPostgresError(err))
	}
	return entries, nil
}

func (q gormQueries) CreateTransfer(ctx context.Context, t *models.Transfer) error {
	return q.create(ctx, tableTransfers, t)
}

func (q gormQueries) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	var t models.Transfer
	if err := q.take(ctx, tableTransfers, false, &t, fmt.Errorf("transfer %s not found", id), "id = ?", id); err != nil {
		return nil, err
	}
	return &t, nil
}

func (q gormQueries) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	return q.exists(ctx, tableTransfers, "reference_number = ?", reference)
}

func (q gormQueries) ListTransfersForUser(ctx context.Context, userID uuid.UUID) ([]*models.Transfer, error) {
	var transfers []*models.Transfer
	err := q.table(ctx, tableTransfers).
		Where("to_user_id = ? OR from_account_id IN (SELECT id FROM accounts WHERE owner_id = ?)", userID, userID).
		Order("transferred_at DESC").
		Find(&transfers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", mapPostgresError(err))
	}
	return transfers, nil
}

func (q gormQueries) CreateLoan(ctx context.Context, loan *models.Loan) error {
	return q.create(ctx, tableLoans, loan)
}

func (q gormQueries) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	if err := q.take(ctx, tableLoans, false, &loan, models.ErrLoanNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (q gormQueries) LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	if err := q.take(ctx, tableLoans, true, &loan, models.ErrLoanNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (q gormQueries) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result := q.table(ctx, tableLoans).Where("id = ?", loan.ID).Updates(map[string]any{
		"outstanding_balance": loan.OutstandingBalance,
		"status":              loan.Status,
		"approved_at":         loan.ApprovedAt,
		"approved_by":         loan.ApprovedBy,
		"disbursed_at":        loan.DisbursedAt,
		"closed_at":           loan.ClosedAt,
		"next_due_date":       loan.NextDueDate,
		"remarks":             loan.Remarks,
		"updated_at":          loan.UpdatedAt.UTC(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update loan: %w", mapPostgresError(result.Error))
	}
	if result.RowsAffected == 0 {
		return models.ErrLoanNotFound
	}
	return nil
}

func (q gormQueries) ListLoansByOwner(ctx context.Context, owner uuid.UUID) ([]*models.Loan, error) {
	var loans []*models.Loan
	if err := q.table(ctx, tableLoans).Where("owner_id = ?", owner).Order("applied_at DESC").Find(&loans).Error; err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", mapPostgresError(err))
	}
	return loans, nil
}

func (q gormQueries) ListLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error) {
	db := q.table(ctx, tableLoans)
	if status != "" {
		db = db.Where("status = ?", status)
	}
	var loans []*models.Loan
	if err := db.Order("applied_at DESC").Find(&loans).Error; err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", mapPostgresError(err))
	}
	return loans, nil
}

var payableStatuses = []models.InstallmentStatus{models.InstallmentStatusPending, models.InstallmentStatusOverdue}

func (q gormQueries) CreateInstallments(ctx context.Context, installments []*models.LoanInstallment) error {
	if len(installments) == 0 {
		return nil
	}
	return q.create(ctx, tableInstallments, installments)
}

func (q gormQueries) ListInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.LoanInstallment, error) {
	var installments []*models.LoanInstallment
	if err := q.table(ctx, tableInstallments).Where("loan_id = ?", loanID).Order("due_date ASC, number ASC").Find(&installments).Error; err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", mapPostgresError(err))
	}
	return installments, nil
}

func (q gormQueries) NextPayableInstallment(ctx context.Context, loanID uuid.UUID) (*models.LoanInstallment, error) {
	var inst models.LoanInstallment
	err := q.table(ctx, tableInstallments).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("loan_id = ? AND status IN ?", loanID, payableStatuses).
		Order("due_date ASC, number ASC").
		Take(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNoPendingInstallments
		}
		return nil, fmt.Errorf("failed to get next installment: %w", mapPostgresError(err))
	}
	return &inst, nil
}

func (q gormQueries) UpdateInstallment(ctx context.Context, inst *models.LoanInstallment) error {
	err := q.table(ctx, tableInstallments).Where("id = ?", inst.ID).Updates(map[string]any{
		"paid_amount":  inst.PaidAmount,
		"paid_date":    inst.PaidDate,
		"status":       inst.Status,
		"penalty":      inst.Penalty,
		"days_overdue": inst.DaysOverdue,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", mapPostgresError(err))
	}
	return nil
}

func (q gormQueries) ListInstallmentsDueBefore(ctx context.Context, asOf time.Time) ([]*models.LoanInstallment, error) {
	var installments []*models.LoanInstallment
	err := q.db.WithContext(ctx).
		Table(tableInstallments+" AS i").
		Select("i.*").
		Joins("JOIN loans l ON l.id = i.loan_id").
		Where("l.status = ? AND i.status IN ? AND i.due_date < ?", models.LoanStatusActive, payableStatuses, asOf.UTC()).
		Order("i.due_date ASC, i.id ASC").
		// A payment landing between this read and the sweep's write would otherwise be
		// overwritten. Only installment rows are locked; payments lock the loan first.
		Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "i"}}).
		Find(&installments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due installments: %w", mapPostgresError(err))
	}
	return installments, nil
}

func (q gormQueries) CreateTransaction(ctx context.Context, transaction *models.LoanTransaction) error {
	return q.create(ctx, tableLoanTransactions, transaction)
}

func (q gormQueries) GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.LoanTransaction, error) {
	var transactions []*models.LoanTransaction
	if err := q.table(ctx, tableLoanTransactions).Where("loan_id = ?", loanID).Order("timestamp ASC").Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, mapPostgresError(err))
	}
	return transactions, nil
}

func (q gormQueries) CreateApplication(ctx context.Context, app *models.CardApplication) error {
	return q.create(ctx, tableApplications, app)
}

func (q gormQueries) GetApplication(ctx context.Context, id uuid.UUID) (*models.CardApplication, error) {
	var app models.CardApplication
	if err := q.take(ctx, tableApplications, false, &app, models.ErrApplicationNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &app, nil
}

func (q gormQueries) LockApplication(ctx context.Context, id uuid.UUID) (*models.CardApplication, error) {
	var app models.CardApplication
	if err := q.take(ctx, tableApplications, true, &app, models.ErrApplicationNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &app, nil
}

func (q gormQueries) UpdateApplication(ctx context.Context, app *models.CardApplication) error {
	result := q.table(ctx, tableApplications).Where("id = ?", app.ID).Updates(map[string]any{
		"status":      app.Status,
		"reviewed_by": app.ReviewedBy,
		"reviewed_at": app.ReviewedAt,
		"remarks":     app.Remarks,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update application: %w", mapPostgresError(result.Error))
	}
	if result.RowsAffected == 0 {
		return models.ErrApplicationNotFound
	}
	return nil
}

func (q gormQueries) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	result := q.table(ctx, tableApplications).Where("id = ?", id).Delete(&models.CardApplication{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete application: %w", mapPostgresError(result.Error))
	}
	if result.RowsAffected == 0 {
		return models.ErrApplicationNotFound
	}
	return nil
}

func (q gormQueries) ListApplicationsByOwner(ctx context.Context, owner uuid.UUID) ([]*models.CardApplication, error) {
	var apps []*models.CardApplication
	if err := q.table(ctx, tableApplications).Where("owner_id = ?", owner).Order("applied_at DESC").Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", mapPostgresError(err))
	}
	return apps, nil
}

func (q gormQueries) ListApplicationsByStatus(ctx context.Context, status models.ApplicationStatus) ([]*models.CardApplication, error) {
	db := q.table(ctx, tableApplications)
	if status != "" {
		db = db.Where("status = ?", status)
	}
	var apps []*models.CardApplication
	if err := db.Order("applied_at DESC").Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", mapPostgresError(err))
	}
	return apps, nil
}

func (q gormQueries) PendingApplicationExists(ctx context.Context, owner uuid.UUID, cardType models.CardType) (bool, error) {
	return q.exists(ctx, tableApplications, "owner_id = ? AND card_type = ? AND status = ?", owner, cardType, models.ApplicationStatusPending)
}
