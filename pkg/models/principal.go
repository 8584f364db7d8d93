package models

import "github.com/google/uuid"

// Principal is the authenticated actor behind a request. It is either a Customer or an
// Employee, resolved once at the authentication boundary.
type Principal interface {
	PrincipalID() uuid.UUID
	isPrincipal()
}

// Customer is a bank customer acting on their own accounts, loans and applications.
type Customer struct {
	ID uuid.UUID
}

func (c Customer) PrincipalID() uuid.UUID { return c.ID }
func (Customer) isPrincipal()             {}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleTeller  = "teller"
)

// Employee is bank staff. Only employees review applications.
type Employee struct {
	ID   uuid.UUID
	Role string
}

func (e Employee) PrincipalID() uuid.UUID { return e.ID }
func (Employee) isPrincipal()             {}

// CanReview reports whether the employee's role may approve or reject applications.
func (e Employee) CanReview() bool {
	return e.Role == RoleAdmin || e.Role == RoleManager
}
