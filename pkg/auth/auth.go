// Package auth resolves bearer tokens into principals.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/models"
)

const (
	KindCustomer = "customer"
	KindEmployee = "employee"
)

// ErrUnauthorized is returned for any token that does not resolve to a principal.
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the JWT claims fredbank issues and accepts.
type Claims struct {
	Kind string `json:"kind"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Gateway signs and verifies HS256 tokens.
type Gateway struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewGateway(secret string, ttl time.Duration) *Gateway {
	return &Gateway{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for p.
func (g *Gateway) Issue(p models.Principal) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.PrincipalID().String(),
			IssuedAt:  jwt.NewNumericDate(g.now()),
			ExpiresAt: jwt.NewNumericDate(g.now().Add(g.ttl)),
		},
	}
	switch v := p.(type) {
	case models.Customer:
		claims.Kind = KindCustomer
	case models.Employee:
		claims.Kind = KindEmployee
		claims.Role = v.Role
	default:
		return "", fmt.Errorf("unsupported principal %T", p)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies token and returns the principal it names.
func (g *Gateway) Resolve(token string) (models.Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrUnauthorized
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrUnauthorized)
	}

	switch claims.Kind {
	case KindCustomer:
		return models.Customer{ID: id}, nil
	case KindEmployee:
		return models.Employee{ID: id, Role: claims.Role}, nil
	}
	return nil, fmt.Errorf("%w: unknown principal kind %q", ErrUnauthorized, claims.Kind)
}
