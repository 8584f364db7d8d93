package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MoneyPlaces is the number of fraction digits kept for every monetary amount.
const MoneyPlaces = 2

// DefaultCurrency is assigned to accounts opened without an explicit currency.
const DefaultCurrency = "USD"

type AccountType string

const (
	AccountTypeSavings  AccountType = "savings"
	AccountTypeChecking AccountType = "checking"
	AccountTypeBusiness AccountType = "business"
)

// Valid reports whether t is one of the supported account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeSavings, AccountTypeChecking, AccountTypeBusiness:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// CanTransitionTo reports whether an account in status s may move to next.
// Frozen accounts can be reactivated; closed is terminal.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	switch s {
	case AccountStatusActive:
		return next == AccountStatusFrozen || next == AccountStatusClosed
	case AccountStatusFrozen:
		return next == AccountStatusActive || next == AccountStatusClosed
	}
	return false
}

type Account struct {
	ID            uuid.UUID       `json:"id"`
	AccountNumber string          `json:"account_number"`
	Type          AccountType     `json:"account_type"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Status        AccountStatus   `json:"status"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	Version       int64           `json:"version"` // Bumped on every balance or status write
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewAccount builds an active, zero-balance account with a freshly generated account number.
func NewAccount(owner uuid.UUID, accountType AccountType, currency string, now time.Time) (*Account, error) {
	if !accountType.Valid() {
		return nil, &ValidationError{Field: "account_type", Message: fmt.Sprintf("unsupported account type %q", accountType)}
	}
	currency, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:            uuid.New(),
		AccountNumber: GenerateAccountNumber(now),
		Type:          accountType,
		Balance:       decimal.Zero,
		Currency:      currency,
		Status:        AccountStatusActive,
		OwnerID:       owner,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NormalizeCurrency upper-cases an ISO 4217 code and rejects codes that are not recognised.
// An empty code means DefaultCurrency.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", &ValidationError{Field: "currency", Message: fmt.Sprintf("unknown ISO 4217 code %q", code)}
	}
	return unit.String(), nil
}

// GenerateAccountNumber returns ACC followed by the unix millisecond timestamp and three random digits.
func GenerateAccountNumber(now time.Time) string {
	return fmt.Sprintf("ACC%d%03d", now.UnixMilli(), mrand.IntN(1000))
}

type EntryKind string

const (
	EntryKindDeposit        EntryKind = "deposit"
	EntryKindWithdrawal     EntryKind = "withdrawal"
	EntryKindTransferDebit  EntryKind = "transfer-debit"
	EntryKindTransferCredit EntryKind = "transfer-credit"
)

// IsDebit reports whether entries of this kind reduce the account balance.
func (k EntryKind) IsDebit() bool {
	return k == EntryKindWithdrawal || k == EntryKindTransferDebit
}

const EntryStatusCompleted = "completed"

// LedgerEntry is one append-only line of an account's transaction log.
type LedgerEntry struct {
	ID                   uuid.UUID       `json:"id"`
	Seq                  int64           `json:"seq"` // Assigned by the store, strictly increasing
	AccountID            uuid.UUID       `json:"account_id"`
	Kind                 EntryKind       `json:"kind"`
	Amount               decimal.Decimal `json:"amount"`
	CounterpartAccountID *uuid.UUID      `json:"counterpart_account_id,omitempty"`
	TransferID           *uuid.UUID      `json:"transfer_id,omitempty"`
	Description          string          `json:"description"`
	BalanceAfter         decimal.Decimal `json:"balance_after"`
	Status               string          `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
}

// SignedAmount returns the entry amount with the sign it contributes to the balance.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Kind.IsDebit() {
		return e.Amount.Neg()
	}
	return e.Amount
}

type TransferType string

const (
	TransferTypeAccountToAccount TransferType = "account-to-account"
	TransferTypeUserToUser       TransferType = "user-to-user"
	TransferTypeExternal         TransferType = "external"
)

const TransferStatusCompleted = "completed"

type Transfer struct {
	ID              uuid.UUID       `json:"id"`
	FromAccountID   uuid.UUID       `json:"from_account_id"`
	ToAccountID     uuid.UUID       `json:"to_account_id"`
	ToUserID        uuid.UUID       `json:"to_user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Type            TransferType    `json:"transfer_type"`
	Description     string          `json:"description"`
	ReferenceNumber string          `json:"reference_number"`
	Status          string          `json:"status"`
	TransferredAt   time.Time       `json:"transferred_at"`
}

const referenceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateReference returns a transfer reference of the form TRF<unix millis><9 base36 chars>.
func GenerateReference(now time.Time) string {
	var b strings.Builder
	b.WriteString("TRF")
	b.WriteString(fmt.Sprint(now.UnixMilli()))
	limit := big.NewInt(int64(len(referenceAlphabet)))
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			b.WriteByte(referenceAlphabet[mrand.IntN(len(referenceAlphabet))])
			continue
		}
		b.WriteByte(referenceAlphabet[n.Int64()])
	}
	return b.String()
}

// User is the directory record used to resolve transfer recipients.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NewUser normalizes the email and stamps an id.
func NewUser(email, firstName, lastName string, now time.Time) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Field: "email", Message: "a valid email is required"}
	}
	return &User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		CreatedAt: now,
	}, nil
}

// NewLedgerEntry snapshots the account's current balance as the entry's BalanceAfter, so it must
// be called after the balance has been changed.
func NewLedgerEntry(account *Account, kind EntryKind, amount decimal.Decimal, description string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:           uuid.New(),
		AccountID:    account.ID,
		Kind:         kind,
		Amount:       amount,
		Description:  description,
		BalanceAfter: account.Balance,
		Status:       EntryStatusCompleted,
		CreatedAt:    now,
	}
}

// NewTransfer builds a completed transfer record carrying the given reference.
func NewTransfer(from, to *Account, toUser uuid.UUID, amount decimal.Decimal, transferType TransferType, description, reference string, now time.Time) *Transfer {
	return &Transfer{
		ID:              uuid.New(),
		FromAccountID:   from.ID,
		ToAccountID:     to.ID,
		ToUserID:        toUser,
		Amount:          amount,
		Type:            transferType,
		Description:     description,
		ReferenceNumber: reference,
		Status:          TransferStatusCompleted,
		TransferredAt:   now,
	}
}
