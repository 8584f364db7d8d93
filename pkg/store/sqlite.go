package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/fredBank/pkg/models"
	"go.uber.org/zap"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	sqliteQueries
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteQueries struct {
	q querier
}

type sqliteTx struct {
	sqliteQueries
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return mapSQLiteError(t.tx.Commit())
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// NewSQLiteStore opens the database and initializes the schema.
//
// Every transaction is started with BEGIN IMMEDIATE, so concurrent writers queue on the
// database write lock instead of reading stale balances.
func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withSQLiteDefaults(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{sqliteQueries: sqliteQueries{q: db}, db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.Info("database connection established and schema initialized",
		zap.String("driver", "sqlite3"),
	)
	return s, nil
}

func withSQLiteDefaults(dsn string) string {
	params := []string{"_txlock=immediate", "_busy_timeout=5000", "_foreign_keys=on", "_journal_mode=WAL"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range params {
		key := p[:strings.Index(p, "=")+1]
		if strings.Contains(dsn, key) {
			continue
		}
		dsn += sep + p
		sep = "&"
	}
	return dsn
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL UNIQUE,
		account_type TEXT NOT NULL,
		balance TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		from_account_id TEXT NOT NULL REFERENCES accounts(id),
		to_account_id TEXT NOT NULL REFERENCES accounts(id),
		to_user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		transfer_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference_number TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		transferred_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		counterpart_account_id TEXT,
		transfer_id TEXT REFERENCES transfers(id),
		description TEXT NOT NULL DEFAULT '',
		balance_after TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id, seq)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		loan_type TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		tenure_months INTEGER NOT NULL,
		monthly_emi TEXT NOT NULL,
		outstanding_balance TEXT NOT NULL,
		status TEXT NOT NULL,
		applied_at DATETIME NOT NULL,
		approved_at DATETIME,
		approved_by TEXT NOT NULL DEFAULT '',
		disbursed_at DATETIME,
		closed_at DATETIME,
		next_due_date DATETIME,
		remarks TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_owner ON loans(owner_id)`,
	`CREATE TABLE IF NOT EXISTS loan_installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		number INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		paid_date DATETIME,
		status TEXT NOT NULL,
		penalty TEXT NOT NULL DEFAULT '0',
		days_overdue INTEGER NOT NULL DEFAULT 0,
		UNIQUE(loan_id, number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loan_installments_due ON loan_installments(loan_id, status, due_date)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		installment_id TEXT,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS card_applications (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		card_type TEXT NOT NULL,
		card_name TEXT NOT NULL,
		annual_income TEXT NOT NULL,
		employment_status TEXT NOT NULL,
		credit_limit TEXT NOT NULL,
		status TEXT NOT NULL,
		applied_at DATETIME NOT NULL,
		reviewed_by TEXT NOT NULL DEFAULT '',
		reviewed_at DATETIME,
		remarks TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + pendingApplicationIndex + `
		ON card_applications(owner_id, card_type) WHERE status = 'pending'`,
}

// Begin starts a unit of work.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	return &sqliteTx{sqliteQueries: sqliteQueries{q: tx}, tx: tx}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapSQLiteError turns lock contention and unique-key races into models.ErrConcurrencyConflict.
func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", models.ErrConcurrencyConflict, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqliteErr.Error(), "users.email"):
			return fmt.Errorf("%w: %v", models.ErrDuplicateEmail, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqliteErr.Error(), "card_applications.owner_id"):
			return fmt.Errorf("%w: %v", models.ErrDuplicateApplication, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique, sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", models.ErrConcurrencyConflict, err)
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func parseNullUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// ─── Users ─────────────────────────────────────────────────────────────────

func (s sqliteQueries) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, email, first_name, last_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID.String(), user.Email, user.FirstName, user.LastName, user.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapSQLiteError(err))
	}
	return nil
}

func (s sqliteQueries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, email, first_name, last_name, created_at FROM users WHERE id = ?`, id.String())
}

func (s sqliteQueries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, email, first_name, last_name, created_at FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

func (s sqliteQueries) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var u models.User
	var idStr string
	err := s.q.QueryRowContext(ctx, query, arg).Scan(&idStr, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", mapSQLiteError(err))
	}
	u.ID = uuid.MustParse(idStr)
	return &u, nil
}

// ─── Accounts ──────────────────────────────────────────────────────────────

const accountColumns = `id, account_number, account_type, balance, currency, status, owner_id, version, created_at, updated_at`

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var idStr, ownerStr string
	if err := row.Scan(&idStr, &a.AccountNumber, &a.Type, &a.Balance, &a.Currency, &a.Status, &ownerStr, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = uuid.MustParse(idStr)
	a.OwnerID = uuid.MustParse(ownerStr)
	return &a, nil
}

func (s sqliteQueries) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.AccountNumber, a.Type, a.Balance, a.Currency, a.Status, a.OwnerID.String(), a.Version, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", mapSQLiteError(err))
	}
	return nil
}

func (s sqliteQueries) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", mapSQLiteError(err))
	}
	return a, nil
}

// LockAccount is a plain read: the enclosing BEGIN IMMEDIATE transaction already holds the
// database write lock.
func (s sqliteQueries) LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.GetAccount(ctx, id)
}

func (s sqliteQueries) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	a, err := scanAccount(s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = ?`, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by number: %w", mapSQLiteError(err))
	}
	return a, nil
}

func (s sqliteQueries) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts WHERE account_number = ?`, number).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check account number: %w", mapSQLiteError(err))
	}
	return n > 0, nil
}

func (s sqliteQueries) FindAccountByType(ctx context.Context, owner uuid.UUID, accountType models.AccountType) (*models.Account, error) {
	a, err := scanAccount(s.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = ? AND account_type = ? AND status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		owner.String(), accountType, models.AccountStatusActive,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", mapSQLiteError(err))
	}
	return a, nil
}

func (s sqliteQueries) ListAccounts(ctx context.Context, owner uuid.UUID) ([]*models.Account, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = ? ORDER BY created_at ASC`, owner.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return accounts, nil
}

func (s sqliteQueries) UpdateAccount(ctx context.Context, a *models.Account) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		a.Balance, a.Status, a.UpdatedAt.UTC(), a.ID.String(), a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", mapSQLiteError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account %s changed since it was read: %w", a.ID, models.ErrConcurrencyConflict)
	}
	a.Version++
	return nil
}

// ─── Ledger entries ────────────────────────────────────────────────────────

const entryColumns = `seq, id, account_id, kind, amount, counterpart_account_id, transfer_id, description, balance_after, status, created_at`

func (s sqliteQueries) CreateLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, account_id, kind, amount, counterpart_account_id, transfer_id, description, balance_after, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.AccountID.String(), e.Kind, e.Amount, nullableUUID(e.CounterpartAccountID), nullableUUID(e.TransferID), e.Description, e.BalanceAfter, e.Status, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", mapSQLiteError(err))
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read ledger sequence: %w", err)
	}
	e.Seq = seq
	return nil
}

func (s sqliteQueries) ListLedgerEntries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = ? ORDER BY seq ASC`, accountID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries for account %s: %w", accountID, mapSQLiteError(err))
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var idStr, accountStr string
		var counterpart, transfer sql.NullString
		if err := rows.Scan(&e.Seq, &idStr, &accountStr, &e.Kind, &e.Amount, &counterpart, &transfer, &e.Description, &e.BalanceAfter, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry row: %w", err)
		}
		e.ID = uuid.MustParse(idStr)
		e.AccountID = uuid.MustParse(accountStr)
		if e.CounterpartAccountID, err = parseNullUUID(counterpart); err != nil {
			return nil, fmt.Errorf("failed to parse counterpart account: %w", err)
		}
		if e.TransferID, err = parseNullUUID(transfer); err != nil {
			return nil, fmt.Errorf("failed to parse transfer id: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for ledger entries: %w", err)
	}
	return entries, nil
}

// ─── Transfers ─────────────────────────────────────────────────────────────

const transferColumns = `id, from_account_id, to_account_id, to_user_id, amount, transfer_type, description, reference_number, status, transferred_at`

func scanTransfer(row rowScanner) (*models.Transfer, error) {
	var t models.Transfer
	var idStr, fromStr, toStr, userStr string
	if err := row.Scan(&idStr, &fromStr, &toStr, &userStr, &t.Amount, &t.Type, &t.Description, &t.ReferenceNumber, &t.Status, &t.TransferredAt); err != nil {
		return nil, err
	}
	t.ID = uuid.MustParse(idStr)
	t.FromAccountID = uuid.MustParse(fromStr)
	t.ToAccountID = uuid.MustParse(toStr)
	t.ToUserID = uuid.MustParse(userStr)
	return &t, nil
}

func (s sqliteQueries) CreateTransfer(ctx context.Context, t *models.Transfer) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transfers (`+transferColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.FromAccountID.String(), t.ToAccountID.String(), t.ToUserID.String(), t.Amount, t.Type, t.Description, t.ReferenceNumber, t.Status, t.TransferredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", mapSQLiteError(err))
	}
	return nil
}

func (s sqliteQueries) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	t, err := scanTransfer(s.q.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transfer %s not found", id)
		}
		return nil, fmt.Errorf("failed to get transfer: %w", mapSQLiteError(err))
	}
	return t, nil
}

func (s sqliteQueries) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM transfers WHERE reference_number = ?`, reference).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check reference number: %w", mapSQLiteError(err))
	}
	return n > 0, nil
}

func (s sqliteQueries) ListTransfersForUser(ctx context.Context, userID uuid.UUID) ([]*models.Transfer, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers
		WHERE to_user_id = ? OR from_account_id IN (SELECT id FROM accounts WHERE owner_id = ?)
		ORDER BY transferred_at DESC`,
		userID.String(), userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer row: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return transfers, nil
}

// ─── Loans ─────────────────────────────────────────────────────────────────

const loanColumns = `id, owner_id, loan_type, principal, interest_rate, tenure_months, monthly_emi, outstanding_balance, status, applied_at, approved_at, approved_by, disbursed_at, closed_at, next_due_date, remarks, created_at, updated_at`

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, ownerStr string
	var approvedAt, disbursedAt, closedAt, nextDue sql.NullTime
	if err := row.Scan(&idStr, &ownerStr, &loan.Type, &loan.Principal, &loan.InterestRate, &loan.TenureMonths, &loan.MonthlyEMI, &loan.OutstandingBalance, &loan.Status,
		&loan.AppliedAt, &approvedAt, &loan.ApprovedBy, &disbursedAt, &closedAt, &nextDue, &loan.Remarks, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.OwnerID = uuid.MustParse(ownerStr)
	loan.ApprovedAt = timePtr(approvedAt)
	loan.DisbursedAt = timePtr(disbursedAt)
	loan.ClosedAt = timePtr(closedAt)
	loan.NextDueDate = timePtr(nextDue)
	return &loan, nil
}

// CreateLoan inserts a new loan into the database.
func (s sqliteQueries) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.OwnerID.String(), loan.Type, loan.Principal, loan.InterestRate, loan.TenureMonths, loan.MonthlyEMI, loan.OutstandingBalance, loan.Status,
		loan.AppliedAt.UTC(), nullableTime(loan.ApprovedAt), loan.ApprovedBy, nullableTime(loan.DisbursedAt), nullableTime(loan.ClosedAt), nullableTime(loan.NextDueDate),
		loan.Remarks, loan.CreatedAt.UTC(), loan.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", mapSQLiteError(err))
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s sqliteQueries) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", mapSQLiteError(err))
	}
	return loan, nil
}

func (s sqliteQueries) LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return s.GetLoan(ctx, id)
}

// UpdateLoan updates an existing loan in the database.
func (s sqliteQueries) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE loans SET outstanding_balance = ?, status = ?, approved_at = ?, approved_by = ?, disbursed_at = ?, closed_at = ?, next_due_date = ?, remarks = ?, updated_at = ? WHERE id = ?`,
		loan.OutstandingBalance, loan.Status, nullableTime(loan.ApprovedAt), loan.ApprovedBy, nullableTime(loan.DisbursedAt), nullableTime(loan.ClosedAt),
		nullableTime(loan.NextDueDate), loan.Remarks, loan.UpdatedAt.UTC(), loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", mapSQLiteError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrLoanNotFound
	}
	return nil
}

func (s sqliteQueries) ListLoansByOwner(ctx context.Context, owner uuid.UUID) ([]*models.Loan, error) {
	return s.listLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE owner_id = ? ORDER BY applied_at DESC`, owner.String())
}

func (s sqliteQueries) ListLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error) {
	if status == "" {
		return s.listLoans(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY applied_at DESC`)
	}
	return s.listLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY applied_at DESC`, status)
}

func (s sqliteQueries) listLoans(ctx context.Context, query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// ─── Installments ──────────────────────────────────────────────────────────

const installmentColumns = `id, loan_id, number, due_date, amount, paid_amount, paid_date, status, penalty, days_overdue`

func scanInstallment(row rowScanner) (*models.LoanInstallment, error) {
	var inst models.LoanInstallment
	var idStr, loanStr string
	var paidDate sql.NullTime
	if err := row.Scan(&idStr, &loanStr, &inst.Number, &inst.DueDate, &inst.Amount, &inst.PaidAmount, &paidDate, &inst.Status, &inst.Penalty, &inst.DaysOverdue); err != nil {
		return nil, err
	}
	inst.ID = uuid.MustParse(idStr)
	inst.LoanID = uuid.MustParse(loanStr)
	inst.PaidDate = timePtr(paidDate)
	return &inst, nil
}

func (s sqliteQueries) CreateInstallments(ctx context.Context, installments []*models.LoanInstallment) error {
	for _, inst := range installments {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO loan_installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID.String(), inst.LoanID.String(), inst.Number, inst.DueDate.UTC(), inst.Amount, inst.PaidAmount, nullableTime(inst.PaidDate), inst.Status, inst.Penalty, inst.DaysOverdue,
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Number, mapSQLiteError(err))
		}
	}
	return nil
}

func (s sqliteQueries) ListInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.LoanInstallment, error) {
	return s.listInstallments(ctx, `SELECT `+installmentColumns+` FROM loan_installments WHERE loan_id = ? ORDER BY due_date ASC, number ASC`, loanID.String())
}

func (s sqliteQueries) NextPayableInstallment(ctx context.Context, loanID uuid.UUID) (*models.LoanInstallment, error) {
	inst, err := scanInstallment(s.q.QueryRowContext(ctx,
		`SELECT `+installmentColumns+` FROM loan_installments
		WHERE loan_id = ? AND status IN ('pending', 'overdue')
		ORDER BY due_date ASC, number ASC LIMIT 1`,
		loanID.String(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNoPendingInstallments
		}
		return nil, fmt.Errorf("failed to get next installment: %w", mapSQLiteError(err))
	}
	return inst, nil
}

func (s sqliteQueries) UpdateInstallment(ctx context.Context, inst *models.LoanInstallment) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE loan_installments SET paid_amount = ?, paid_date = ?, status = ?, penalty = ?, days_overdue = ? WHERE id = ?`,
		inst.PaidAmount, nullableTime(inst.PaidDate), inst.Status, inst.Penalty, inst.DaysOverdue, inst.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", mapSQLiteError(err))
	}
	return nil
}

func (s sqliteQueries) ListInstallmentsDueBefore(ctx context.Context, asOf time.Time) ([]*models.LoanInstallment, error) {
	return s.listInstallments(ctx,
		`SELECT i.id, i.loan_id, i.number, i.due_date, i.amount, i.paid_amount, i.paid_date, i.status, i.penalty, i.days_overdue
		FROM loan_installments i JOIN loans l ON l.id = i.loan_id
		WHERE l.status = 'active' AND i.status IN ('pending', 'overdue') AND i.due_date < ?
		ORDER BY i.due_date ASC`,
		asOf.UTC(),
	)
}

func (s sqliteQueries) listInstallments(ctx context.Context, query string, args ...any) ([]*models.LoanInstallment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	var installments []*models.LoanInstallment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return installments, nil
}

// ─── Loan transactions ─────────────────────────────────────────────────────

// CreateTransaction inserts a new loan transaction into the database.
func (s sqliteQueries) CreateTransaction(ctx context.Context, transaction *models.LoanTransaction) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transactions (id, loan_id, installment_id, amount, type, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		transaction.ID.String(), transaction.LoanID.String(), nullableUUID(transaction.InstallmentID), transaction.Amount, transaction.Type, transaction.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", mapSQLiteError(err))
	}
	return nil
}

// GetTransactionsForLoan retrieves all transactions for a given loan ID.
func (s sqliteQueries) GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.LoanTransaction, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, loan_id, installment_id, amount, type, timestamp FROM transactions WHERE loan_id = ? ORDER BY timestamp ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, mapSQLiteError(err))
	}
	defer rows.Close()

	var transactions []*models.LoanTransaction
	for rows.Next() {
		var transaction models.LoanTransaction
		var txIDStr, loanIDStr string
		var installment sql.NullString
		if err := rows.Scan(&txIDStr, &loanIDStr, &installment, &transaction.Amount, &transaction.Type, &transaction.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transaction.ID = uuid.MustParse(txIDStr)
		transaction.LoanID = uuid.MustParse(loanIDStr)
		if transaction.InstallmentID, err = parseNullUUID(installment); err != nil {
			return nil, fmt.Errorf("failed to parse installment id: %w", err)
		}
		transactions = append(transactions, &transaction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return transactions, nil
}

// ─── Card applications ─────────────────────────────────────────────────────

const applicationColumns = `id, owner_id, card_type, card_name, annual_income, employment_status, credit_limit, status, applied_at, reviewed_by, reviewed_at, remarks`

func scanApplication(row rowScanner) (*models.CardApplication, error) {
	var app models.CardApplication
	var idStr, ownerStr string
	var reviewedAt sql.NullTime
	if err := row.Scan(&idStr, &ownerStr, &app.CardType, &app.CardName, &app.AnnualIncome, &app.EmploymentStatus, &app.CreditLimit, &app.Status, &app.AppliedAt, &app.ReviewedBy, &reviewedAt, &app.Remarks); err != nil {
		return nil, err
	}
	app.ID = uuid.MustParse(idStr)
	app.OwnerID = uuid.MustParse(ownerStr)
	app.ReviewedAt = timePtr(reviewedAt)
	return &app, nil
}

func (s sqliteQueries) CreateApplication(ctx context.Context, app *models.CardApplication) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO card_applications (`+applicationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID.String(), app.OwnerID.String(), app.CardType, app.CardName, app.AnnualIncome, app.EmploymentStatus, app.CreditLimit, app.Status,
		app.AppliedAt.UTC(), app.ReviewedBy, nullableTime(app.ReviewedAt), app.Remarks,
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", mapSQLiteError(err))
	}
	return nil
}

func (s sqliteQueries) GetApplication(ctx context.Context, id uuid.UUID) (*models.CardApplication, error) {
	app, err := scanApplication(s.q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM card_applications WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("failed to get application: %w", mapSQLiteError(err))
	}
	return app, nil
}

func (s sqliteQueries) LockApplication(ctx context.Context, id uuid.UUID) (*models.CardApplication, error) {
	return s.GetApplication(ctx, id)
}

func (s sqliteQueries) UpdateApplication(ctx context.Context, app *models.CardApplication) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE card_applications SET status = ?, reviewed_by = ?, reviewed_at = ?, remarks = ? WHERE id = ?`,
		app.Status, app.ReviewedBy, nullableTime(app.ReviewedAt), app.Remarks, app.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", mapSQLiteError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrApplicationNotFound
	}
	return nil
}

func (s sqliteQueries) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM card_applications WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete application: %w", mapSQLiteError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrApplicationNotFound
	}
	return nil
}

func (s sqliteQueries) ListApplicationsByOwner(ctx context.Context, owner uuid.UUID) ([]*models.CardApplication, error) {
	return s.listApplications(ctx, `SELECT `+applicationColumns+` FROM card_applications WHERE owner_id = ? ORDER BY applied_at DESC`, owner.String())
}

func (s sqliteQueries) ListApplicationsByStatus(ctx context.Context, status models.ApplicationStatus) ([]*models.CardApplication, error) {
	if status == "" {
		return s.listApplications(ctx, `SELECT `+applicationColumns+` FROM card_applications ORDER BY applied_at DESC`)
	}
	return s.listApplications(ctx, `SELECT `+applicationColumns+` FROM card_applications WHERE status = ? ORDER BY applied_at DESC`, status)
}

func (s sqliteQueries) listApplications(ctx context.Context, query string, args ...any) ([]*models.CardApplication, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	var apps []*models.CardApplication
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return apps, nil
}

func (s sqliteQueries) PendingApplicationExists(ctx context.Context, owner uuid.UUID, cardType models.CardType) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM card_applications WHERE owner_id = ? AND card_type = ? AND status = 'pending'`,
		owner.String(), cardType,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending applications: %w", mapSQLiteError(err))
	}
	return n > 0, nil
}
