package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CardType string

const (
	CardTypeClassic  CardType = "classic"
	CardTypeGold     CardType = "gold"
	CardTypePlatinum CardType = "platinum"
	CardTypeBusiness CardType = "business"
)

func (t CardType) Valid() bool {
	switch t {
	case CardTypeClassic, CardTypeGold, CardTypePlatinum, CardTypeBusiness:
		return true
	}
	return false
}

type EmploymentStatus string

const (
	EmploymentEmployed     EmploymentStatus = "employed"
	EmploymentSelfEmployed EmploymentStatus = "self-employed"
	EmploymentRetired      EmploymentStatus = "retired"
	EmploymentStudent      EmploymentStatus = "student"
)

func (s EmploymentStatus) Valid() bool {
	switch s {
	case EmploymentEmployed, EmploymentSelfEmployed, EmploymentRetired, EmploymentStudent:
		return true
	}
	return false
}

type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusApproved ApplicationStatus = "approved"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// CardApplication is a customer's request for a credit card.
type CardApplication struct {
	ID               uuid.UUID         `json:"id"`
	OwnerID          uuid.UUID         `json:"owner_id"`
	CardType         CardType          `json:"card_type"`
	CardName         string            `json:"card_name"`
	AnnualIncome     decimal.Decimal   `json:"annual_income"`
	EmploymentStatus EmploymentStatus  `json:"employment_status"`
	CreditLimit      decimal.Decimal   `json:"credit_limit"`
	Status           ApplicationStatus `json:"status"`
	AppliedAt        time.Time         `json:"applied_at"`
	ReviewedBy       string            `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time        `json:"reviewed_at,omitempty"`
	Remarks          string            `json:"remarks,omitempty"`
}

func (a *CardApplication) ReviewState() ReviewState {
	switch a.Status {
	case ApplicationStatusPending:
		return ReviewPending
	case ApplicationStatusApproved:
		return ReviewApproved
	}
	return ReviewRejected
}

func (a *CardApplication) ApplyReview(r Review) {
	if r.Outcome == ReviewApproved {
		a.Status = ApplicationStatusApproved
	} else {
		a.Status = ApplicationStatusRejected
	}
	at := r.ReviewedAt
	a.ReviewedAt = &at
	a.ReviewedBy = r.Reviewer.ID.String()
	a.Remarks = r.Remarks
}

type ReviewState string

const (
	ReviewPending  ReviewState = "pending"
	ReviewApproved ReviewState = "approved"
	ReviewRejected ReviewState = "rejected"
)

// Review is a reviewer's decision on a pending subject.
type Review struct {
	Outcome    ReviewState
	Reviewer   Employee
	ReviewedAt time.Time
	Remarks    string
}

// NewCardApplication builds a pending application with its credit limit already derived.
func NewCardApplication(owner uuid.UUID, cardType CardType, cardName string, income decimal.Decimal, employment EmploymentStatus, creditLimit decimal.Decimal, now time.Time) *CardApplication {
	return &CardApplication{
		ID:               uuid.New(),
		OwnerID:          owner,
		CardType:         cardType,
		CardName:         cardName,
		AnnualIncome:     income,
		EmploymentStatus: employment,
		CreditLimit:      creditLimit,
		Status:           ApplicationStatusPending,
		AppliedAt:        now,
	}
}
