package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/config"
	"github.com/mcclellann/fredBank/pkg/loan"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/notify"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testAPI struct {
	t        *testing.T
	server   *Server
	handler  http.Handler
	store    *store.SQLiteStore
	notifier *notify.Recorder
}

func setupTestServer(t *testing.T, mutate ...func(*config.Config)) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.DatabaseDSN = filepath.Join(t.TempDir(), "api.db")
	for _, m := range mutate {
		m(cfg)
	}

	s, err := store.NewSQLiteStore(cfg.DatabaseDSN, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec := &notify.Recorder{}
	srv := NewServer(cfg, s, rec, observability.NewMetrics(), zap.NewNop())
	return &testAPI{t: t, server: srv, handler: srv.Router(), store: s, notifier: rec}
}

// customer registers a user and returns its ID with a bearer token.
func (a *testAPI) customer(email string) (uuid.UUID, string) {
	a.t.Helper()
	u := &models.User{ID: uuid.New(), Email: email, FirstName: "Test", LastName: "User", CreatedAt: time.Now().UTC()}
	require.NoError(a.t, a.store.CreateUser(context.Background(), u))
	token, err := a.server.gateway.Issue(models.Customer{ID: u.ID})
	require.NoError(a.t, err)
	return u.ID, token
}

func (a *testAPI) employee(role string) string {
	a.t.Helper()
	token, err := a.server.gateway.Issue(models.Employee{ID: uuid.New(), Role: role})
	require.NoError(a.t, err)
	return token
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (a *testAPI) openAccount(token string, accountType models.AccountType, deposit string) *models.Account {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/api/accounts", token, map[string]any{
		"account_type":    accountType,
		"initial_deposit": deposit,
	})
	require.Equal(a.t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[*models.Account](a.t, rr)
}

func TestAPI_AccountLifecycle(t *testing.T) {
	api := setupTestServer(t)
	_, token := api.customer("alice@example.com")

	acc := api.openAccount(token, models.AccountTypeSavings, "100")
	assert.Equal(t, "USD", acc.Currency)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(100)))

	rr := api.do(http.MethodPost, "/api/accounts/"+acc.ID.String()+"/deposit", token, map[string]any{"amount": "50.25", "description": "cash"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	entry := decode[*models.LedgerEntry](t, rr)
	assert.Equal(t, "150.25", entry.BalanceAfter.StringFixed(2))

	rr = api.do(http.MethodPost, "/api/accounts/"+acc.ID.String()+"/withdraw", token, map[string]any{"amount": "20", "description": "atm"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = api.do(http.MethodGet, "/api/accounts/"+acc.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "130.25", decode[*models.Account](t, rr).Balance.StringFixed(2))

	rr = api.do(http.MethodGet, "/api/accounts/"+acc.ID.String()+"/entries", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]*models.LedgerEntry](t, rr), 3)

	rr = api.do(http.MethodGet, "/api/accounts/"+acc.ID.String()+"/reconcile", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[map[string]any](t, rr)["balanced"].(bool))
}

func TestAPI_Currency(t *testing.T) {
	api := setupTestServer(t)
	_, token := api.customer("erin@example.com")
	usd := api.openAccount(token, models.AccountTypeChecking, "100")

	rr := api.do(http.MethodPost, "/api/accounts", token, map[string]any{"account_type": models.AccountTypeSavings, "currency": "XYZ"})
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	assert.Equal(t, "currency", decode[map[string]any](t, rr)["field"])

	rr = api.do(http.MethodPost, "/api/accounts", token, map[string]any{"account_type": models.AccountTypeSavings, "currency": "eur"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	eur := decode[*models.Account](t, rr)
	assert.Equal(t, "EUR", eur.Currency)

	rr = api.do(http.MethodPost, "/api/transfers/own-accounts", token, map[string]any{
		"from_account_id": usd.ID,
		"to_account_id":   eur.ID,
		"amount":          "10",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
}

func TestAPI_InsufficientFunds(t *testing.T) {
	api := setupTestServer(t)
	_, token := api.customer("bob@example.com")
	acc := api.openAccount(token, models.AccountTypeChecking, "10")

	rr := api.do(http.MethodPost, "/api/accounts/"+acc.ID.String()+"/withdraw", token, map[string]any{"amount": "10.01"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = api.do(http.MethodPost, "/api/accounts/"+acc.ID.String()+"/withdraw", token, map[string]any{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "amount", decode[errorResponse](t, rr).Field)
}

func TestAPI_AccountsAreOwnerScoped(t *testing.T) {
	api := setupTestServer(t)
	_, alice := api.customer("alice@example.com")
	_, mallory := api.customer("mallory@example.com")
	acc := api.openAccount(alice, models.AccountTypeSavings, "100")

	rr := api.do(http.MethodGet, "/api/accounts/"+acc.ID.String(), mallory, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = api.do(http.MethodPost, "/api/accounts/"+acc.ID.String()+"/withdraw", mallory, map[string]any{"amount": "1"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_Transfers(t *testing.T) {
	api := setupTestServer(t)
	_, alice := api.customer("alice@example.com")
	bobID, bob := api.customer("bob@example.com")

	savings := api.openAccount(alice, models.AccountTypeSavings, "500")
	checking := api.openAccount(alice, models.AccountTypeChecking, "0")
	bobSavings := api.openAccount(bob, models.AccountTypeSavings, "0")

	rr := api.do(http.MethodPost, "/api/transfers/own-accounts", alice, map[string]any{
		"from_account_id": savings.ID,
		"to_account_id":   checking.ID,
		"amount":          "100",
		"description":     "rent pot",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	own := decode[*models.Transfer](t, rr)
	assert.Equal(t, models.TransferTypeAccountToAccount, own.Type)
	assert.NotEmpty(t, own.ReferenceNumber)

	rr = api.do(http.MethodPost, "/api/transfers/to-user", alice, map[string]any{
		"from_account_id": savings.ID,
		"recipient_email": "BOB@example.com",
		"amount":          "75",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, bobID, decode[*models.Transfer](t, rr).ToUserID)

	rr = api.do(http.MethodPost, "/api/transfers/to-account", bob, map[string]any{
		"from_account_id":   bobSavings.ID,
		"to_account_number": checking.AccountNumber,
		"amount":            "25",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = api.do(http.MethodPost, "/api/transfers/to-user", alice, map[string]any{
		"from_account_id": savings.ID,
		"recipient_email": "nobody@example.com",
		"amount":          "1",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = api.do(http.MethodPost, "/api/transfers/own-accounts", alice, map[string]any{
		"from_account_id": savings.ID,
		"to_account_id":   checking.ID,
		"amount":          "1000",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = api.do(http.MethodGet, "/api/transfers", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]*models.Transfer](t, rr), 3)

	rr = api.do(http.MethodGet, "/api/accounts/"+savings.ID.String(), alice, nil)
	assert.Equal(t, "325.00", decode[*models.Account](t, rr).Balance.StringFixed(2))
	rr = api.do(http.MethodGet, "/api/accounts/"+checking.ID.String(), alice, nil)
	assert.Equal(t, "125.00", decode[*models.Account](t, rr).Balance.StringFixed(2))
}

func TestAPI_LoanLifecycle(t *testing.T) {
	api := setupTestServer(t)
	ownerID, token := api.customer("carol@example.com")
	manager := api.employee(models.RoleManager)

	rr := api.do(http.MethodGet, "/api/loans/quote?principal=12000&interest_rate=12&tenure_months=12", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "1066.19", decode[*loan.Quote](t, rr).MonthlyEMI.StringFixed(2))

	rr = api.do(http.MethodPost, "/api/loans", token, map[string]any{
		"loan_type":     models.LoanTypePersonal,
		"principal":     "12000",
		"tenure_months": 12,
		"interest_rate": "12",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	pending := decode[*models.Loan](t, rr)
	assert.Equal(t, models.LoanStatusPending, pending.Status)

	// Paying before approval is rejected.
	rr = api.do(http.MethodPost, "/api/loans/"+pending.ID.String()+"/payments", token, map[string]any{"amount": "1066.19"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = api.do(http.MethodGet, "/api/admin/loans?status=pending", manager, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]*models.Loan](t, rr), 1)

	rr = api.do(http.MethodPatch, "/api/admin/loans/"+pending.ID.String()+"/approve", manager, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.LoanStatusActive, decode[*models.Loan](t, rr).Status)

	rr = api.do(http.MethodPatch, "/api/admin/loans/"+pending.ID.String()+"/reject", manager, map[string]any{"remarks": "too late"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = api.do(http.MethodPost, "/api/loans/"+pending.ID.String()+"/payments", token, map[string]any{"amount": "1066.19"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	receipt := decode[*loan.PaymentReceipt](t, rr)
	assert.Equal(t, models.InstallmentStatusPaid, receipt.Installment.Status)
	assert.Equal(t, "10933.81", receipt.Loan.OutstandingBalance.StringFixed(2))

	rr = api.do(http.MethodGet, "/api/loans/"+pending.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var detail struct {
		Schedule     []*models.LoanInstallment `json:"schedule"`
		Transactions []*models.LoanTransaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	assert.Len(t, detail.Schedule, 12)
	assert.Len(t, detail.Transactions, 1)

	titles := []string{}
	for _, n := range api.notifier.For(ownerID) {
		titles = append(titles, n.Title)
	}
	assert.Contains(t, titles, "Loan Approved")
	assert.Contains(t, titles, "Loan Payment Received")
}

func TestAPI_LoanRejectRequiresRemarks(t *testing.T) {
	api := setupTestServer(t)
	_, token := api.customer("dave@example.com")
	admin := api.employee(models.RoleAdmin)

	rr := api.do(http.MethodPost, "/api/loans", token, map[string]any{
		"loan_type":     models.LoanTypeAuto,
		"principal":     "5000",
		"tenure_months": 24,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	l := decode[*models.Loan](t, rr)
	assert.True(t, l.InterestRate.Equal(decimal.RequireFromString("8.5")))

	rr = api.do(http.MethodPatch, "/api/admin/loans/"+l.ID.String()+"/reject", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(http.MethodPatch, "/api/admin/loans/"+l.ID.String()+"/reject", admin, map[string]any{"remarks": "insufficient history"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.LoanStatusRejected, decode[*models.Loan](t, rr).Status)
}

func TestAPI_LoanDisbursementEnabled(t *testing.T) {
	api := setupTestServer(t, func(c *config.Config) { c.LoanDisbursement = true })
	_, token := api.customer("erin@example.com")
	manager := api.employee(models.RoleManager)
	savings := api.openAccount(token, models.AccountTypeSavings, "0")

	rr := api.do(http.MethodPost, "/api/loans", token, map[string]any{
		"loan_type":     models.LoanTypeEducation,
		"principal":     "3000",
		"tenure_months": 6,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	l := decode[*models.Loan](t, rr)

	rr = api.do(http.MethodPatch, "/api/admin/loans/"+l.ID.String()+"/approve", manager, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = api.do(http.MethodGet, "/api/accounts/"+savings.ID.String(), token, nil)
	assert.Equal(t, "3000.00", decode[*models.Account](t, rr).Balance.StringFixed(2))
}

func TestAPI_CardApplications(t *testing.T) {
	api := setupTestServer(t)
	_, token := api.customer("frank@example.com")
	manager := api.employee(models.RoleManager)

	apply := map[string]any{
		"card_type":         models.CardTypeGold,
		"card_name":         "Gold Rewards",
		"annual_income":     "60000",
		"employment_status": models.EmploymentEmployed,
	}
	rr := api.do(http.MethodPost, "/api/cards", token, apply)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	app := decode[*models.CardApplication](t, rr)
	assert.Equal(t, "18000.00", app.CreditLimit.StringFixed(2))

	rr = api.do(http.MethodPost, "/api/cards", token, apply)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = api.do(http.MethodGet, "/api/admin/cards?status=pending", manager, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]*models.CardApplication](t, rr), 1)

	rr = api.do(http.MethodPatch, "/api/admin/cards/"+app.ID.String()+"/reject", manager, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rejected := decode[*models.CardApplication](t, rr)
	assert.Equal(t, models.ApplicationStatusRejected, rejected.Status)
	assert.Equal(t, "Rejected", rejected.Remarks)

	// A rejected application frees the card type for a new one, which can be withdrawn.
	rr = api.do(http.MethodPost, "/api/cards", token, apply)
	require.Equal(t, http.StatusCreated, rr.Code)
	again := decode[*models.CardApplication](t, rr)
	rr = api.do(http.MethodDelete, "/api/cards/"+again.ID.String(), token, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = api.do(http.MethodGet, "/api/cards", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]*models.CardApplication](t, rr), 1)
}

func TestAPI_Authorization(t *testing.T) {
	api := setupTestServer(t)
	_, customer := api.customer("gina@example.com")
	teller := api.employee(models.RoleTeller)
	manager := api.employee(models.RoleManager)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/accounts", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/accounts", "not-a-jwt", http.StatusUnauthorized},
		{"customer on admin route", http.MethodGet, "/api/admin/loans", customer, http.StatusForbidden},
		{"teller on admin route", http.MethodGet, "/api/admin/cards", teller, http.StatusForbidden},
		{"employee on customer route", http.MethodGet, "/api/accounts", manager, http.StatusForbidden},
		{"manager on admin route", http.MethodGet, "/api/admin/loans", manager, http.StatusOK},
		{"customer on own route", http.MethodGet, "/api/loans", customer, http.StatusOK},
		{"bad id", http.MethodGet, "/api/accounts/not-a-uuid", customer, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestAPI_SweepOverdue(t *testing.T) {
	api := setupTestServer(t)
	_, token := api.customer("hank@example.com")
	admin := api.employee(models.RoleAdmin)

	rr := api.do(http.MethodPost, "/api/loans", token, map[string]any{
		"loan_type":     models.LoanTypeHome,
		"principal":     "10000",
		"tenure_months": 6,
		"interest_rate": "10",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	l := decode[*models.Loan](t, rr)
	rr = api.do(http.MethodPatch, "/api/admin/loans/"+l.ID.String()+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	far := l.AppliedAt.AddDate(2, 0, 0).Format(time.DateOnly)
	rr = api.do(http.MethodPost, "/api/admin/loans/sweep-overdue?as_of="+far, admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 6, decode[map[string]any](t, rr)["marked"])

	rr = api.do(http.MethodPost, "/api/admin/loans/sweep-overdue?as_of=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	api := setupTestServer(t)

	rr := api.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])

	_, token := api.customer("ivy@example.com")
	api.openAccount(token, models.AccountTypeSavings, "1")

	rr = api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "open_account")
}
