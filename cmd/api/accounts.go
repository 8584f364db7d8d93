package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/shopspring/decimal"
)

func (s *Server) listAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.ListAccounts(r.Context(), customerFrom(r).ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) openAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountType    models.AccountType `json:"account_type"`
		Currency       string             `json:"currency"`
		InitialDeposit decimal.Decimal    `json:"initial_deposit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Currency == "" {
		req.Currency = s.currency
	}

	account, err := s.ledger.OpenAccount(r.Context(), customerFrom(r).ID, req.AccountType, req.Currency, req.InitialDeposit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	account, err := s.ledger.GetAccount(r.Context(), customerFrom(r).ID, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) entriesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := s.ledger.Entries(r.Context(), customerFrom(r).ID, id, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.ledger.GetAccount(r.Context(), customerFrom(r).ID, id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	rec, err := s.ledger.Reconcile(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type movementRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (s *Server) depositHandler(w http.ResponseWriter, r *http.Request) {
	s.movement(w, r, s.ledger.Credit)
}

func (s *Server) withdrawHandler(w http.ResponseWriter, r *http.Request) {
	s.movement(w, r, s.ledger.Debit)
}

type movementFunc func(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*models.LedgerEntry, error)

func (s *Server) movement(w http.ResponseWriter, r *http.Request, apply movementFunc) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := s.ledger.GetAccount(r.Context(), customerFrom(r).ID, id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	entry, err := apply(r.Context(), id, req.Amount, req.Description)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type statusRequest struct {
	Status models.AccountStatus `json:"status"`
}

func (s *Server) accountStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	owner := customerFrom(r).ID
	if _, err := s.ledger.GetAccount(r.Context(), owner, id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	account, err := s.ledger.SetStatus(r.Context(), id, req.Status, owner)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) adminAccountStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := s.ledger.SetStatus(r.Context(), id, req.Status, employeeFrom(r).ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
