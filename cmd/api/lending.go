package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/approval"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/shopspring/decimal"
)

type transferRequest struct {
	FromAccountID   uuid.UUID       `json:"from_account_id"`
	ToAccountID     uuid.UUID       `json:"to_account_id,omitempty"`
	RecipientEmail  string          `json:"recipient_email,omitempty"`
	ToAccountNumber string          `json:"to_account_number,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
}

func (s *Server) transferOwnHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.transfers.TransferOwnAccounts(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.Description, customerFrom(r).ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) transferToUserHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.transfers.TransferToUser(r.Context(), req.FromAccountID, req.RecipientEmail, req.Amount, req.Description, customerFrom(r).ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) transferToAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.transfers.TransferToAccountNumber(r.Context(), req.FromAccountID, req.ToAccountNumber, req.Amount, req.Description, customerFrom(r).ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTransfersHandler(w http.ResponseWriter, r *http.Request) {
	transfers, err := s.transfers.ListTransfers(r.Context(), customerFrom(r).ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

// Loans

func (s *Server) applyLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoanType     models.LoanType  `json:"loan_type"`
		Principal    decimal.Decimal  `json:"principal"`
		TenureMonths int              `json:"tenure_months"`
		InterestRate *decimal.Decimal `json:"interest_rate,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	l, err := s.loans.ApplyForLoan(r.Context(), customerFrom(r).ID, req.LoanType, req.Principal, req.TenureMonths, req.InterestRate)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	principal, err := decimal.NewFromString(q.Get("principal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal")
		return
	}
	tenure, err := strconv.Atoi(q.Get("tenure_months"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenure_months")
		return
	}
	var rate *decimal.Decimal
	if v := q.Get("interest_rate"); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid interest_rate")
			return
		}
		rate = &parsed
	}

	quote, err := s.loans.Quote(principal, rate, tenure)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.loans.ListLoans(r.Context(), customerFrom(r).ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

type loanDetail struct {
	*models.Loan
	Schedule     []*models.LoanInstallment `json:"schedule"`
	Transactions []*models.LoanTransaction `json:"transactions"`
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := s.loans.GetLoan(r.Context(), customerFrom(r).ID, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	schedule, err := s.loans.Schedule(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	txns, err := s.loans.Transactions(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanDetail{Loan: l, Schedule: schedule, Transactions: txns})
}

func (s *Server) loanPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	receipt, err := s.loans.ApplyPayment(r.Context(), id, req.Amount, customerFrom(r).ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

type reviewRequest struct {
	Remarks string `json:"remarks"`
}

func (s *Server) adminListLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.loans.ListByStatus(r.Context(), models.LoanStatus(r.URL.Query().Get("status")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	review(s, w, r, s.loanReviews.Approve)
}

func (s *Server) rejectLoanHandler(w http.ResponseWriter, r *http.Request) {
	review(s, w, r, s.loanReviews.Reject)
}

func (s *Server) sweepOverdueHandler(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	marked, err := s.loans.MarkOverdue(r.Context(), asOf)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": marked, "as_of": asOf})
}

// Cards

func (s *Server) applyCardHandler(w http.ResponseWriter, r *http.Request) {
	var req approval.CardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	app, err := s.cards.Apply(r.Context(), customerFrom(r).ID, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) listCardsHandler(w http.ResponseWriter, r *http.Request) {
	apps, err := s.cards.List(r.Context(), customerFrom(r).ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) getCardHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	app, err := s.cards.Get(r.Context(), customerFrom(r).ID, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) cancelCardHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.cards.Cancel(r.Context(), customerFrom(r).ID, id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adminListCardsHandler(w http.ResponseWriter, r *http.Request) {
	apps, err := s.cards.ListByStatus(r.Context(), models.ApplicationStatus(r.URL.Query().Get("status")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) approveCardHandler(w http.ResponseWriter, r *http.Request) {
	review(s, w, r, s.cardReviews.Approve)
}

func (s *Server) rejectCardHandler(w http.ResponseWriter, r *http.Request) {
	review(s, w, r, s.cardReviews.Reject)
}

// reviewFunc matches Workflow.Approve and Workflow.Reject for any subject.
type reviewFunc[T any] func(ctx context.Context, id uuid.UUID, reviewer models.Employee, remarks string) (T, error)

func review[T any](s *Server, w http.ResponseWriter, r *http.Request, decide reviewFunc[T]) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	subject, err := decide(r.Context(), id, employeeFrom(r), req.Remarks)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subject)
}
