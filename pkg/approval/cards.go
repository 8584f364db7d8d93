package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/audit"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	incomeShare       = decimal.RequireFromString("0.3")
	selfEmployedShare = decimal.RequireFromString("0.8")
	studentShare      = decimal.RequireFromString("0.5")
	maxCreditLimit    = decimal.NewFromInt(50_000)
)

// CreditLimit is 30% of annual income, reduced for self-employed applicants and students and
// capped at 50,000.
func CreditLimit(annualIncome decimal.Decimal, employment models.EmploymentStatus) decimal.Decimal {
	limit := annualIncome.Mul(incomeShare)
	switch employment {
	case models.EmploymentSelfEmployed:
		limit = limit.Mul(selfEmployedShare)
	case models.EmploymentStudent:
		limit = limit.Mul(studentShare)
	}
	return decimal.Min(limit, maxCreditLimit).Round(models.MoneyPlaces)
}

// CardRequest is a customer's credit card application before it is stored.
type CardRequest struct {
	CardType         models.CardType         `json:"card_type"`
	CardName         string                  `json:"card_name"`
	AnnualIncome     decimal.Decimal         `json:"annual_income"`
	EmploymentStatus models.EmploymentStatus `json:"employment_status"`
}

func (r CardRequest) validate() error {
	if !r.CardType.Valid() {
		return models.NewValidationError("card_type", fmt.Sprintf("unsupported card type %q", r.CardType))
	}
	if strings.TrimSpace(r.CardName) == "" {
		return models.NewValidationError("card_name", "is required")
	}
	if !r.AnnualIncome.IsPositive() {
		return models.NewValidationError("annual_income", "must be greater than zero")
	}
	if !r.EmploymentStatus.Valid() {
		return models.NewValidationError("employment_status", fmt.Sprintf("unsupported employment status %q", r.EmploymentStatus))
	}
	return nil
}

// Cards manages the customer side of credit card applications. Reviews go through the
// card Workflow.
type Cards struct {
	options
	storage store.Storage
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewCards(s store.Storage, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Cards {
	c := &Cards{
		options: options{
			auditor: audit.Nop{},
			retry:   store.DefaultRetryPolicy,
			now:     time.Now,
		},
		storage: s,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(&c.options)
	}
	return c
}

// Apply files a pending application. An owner may hold one pending application per card type.
func (c *Cards) Apply(ctx context.Context, owner uuid.UUID, req CardRequest) (app *models.CardApplication, err error) {
	ctx, span := tracer.Start(ctx, "Cards.Apply")
	start := time.Now()
	defer func() {
		c.metrics.ObserveOperation("card_apply", start, err)
		observability.EndSpan(span, err)
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}

	err = store.Atomically(ctx, c.storage, c.retry, func(tx store.Tx) error {
		pending, err := tx.PendingApplicationExists(ctx, owner, req.CardType)
		if err != nil {
			return err
		}
		if pending {
			return models.ErrDuplicateApplication
		}
		app = models.NewCardApplication(owner, req.CardType, strings.TrimSpace(req.CardName), req.AnnualIncome,
			req.EmploymentStatus, CreditLimit(req.AnnualIncome, req.EmploymentStatus), c.now().UTC())
		return tx.CreateApplication(ctx, app)
	}, func(err error, attempt int) {
		c.metrics.IncrConflictRetry("card_apply")
	})
	if err != nil {
		return nil, err
	}

	c.auditor.Record(ctx, audit.Record{
		EntityID:   app.ID,
		EntityType: CardPolicy.Title,
		Action:     audit.ActionCreate,
		After:      app,
		ActorID:    owner,
		At:         app.AppliedAt,
	})
	c.logger.Info("card application submitted",
		zap.String("application_id", app.ID.String()),
		zap.String("card_type", string(app.CardType)),
		zap.String("credit_limit", app.CreditLimit.StringFixed(models.MoneyPlaces)),
	)
	return app, nil
}

// Cancel deletes one of owner's pending applications.
func (c *Cards) Cancel(ctx context.Context, owner, id uuid.UUID) (err error) {
	ctx, span := tracer.Start(ctx, "Cards.Cancel")
	start := time.Now()
	defer func() {
		c.metrics.ObserveOperation("card_cancel", start, err)
		observability.EndSpan(span, err)
	}()

	var before *models.CardApplication
	err = store.Atomically(ctx, c.storage, c.retry, func(tx store.Tx) error {
		app, err := tx.LockApplication(ctx, id)
		if err != nil {
			return err
		}
		if app.OwnerID != owner {
			return models.ErrApplicationNotFound
		}
		if app.Status != models.ApplicationStatusPending {
			return models.ErrNotPending
		}
		before = app
		return tx.DeleteApplication(ctx, id)
	}, func(err error, attempt int) {
		c.metrics.IncrConflictRetry("card_cancel")
	})
	if err != nil {
		return err
	}

	c.auditor.Record(ctx, audit.Record{
		EntityID:   id,
		EntityType: CardPolicy.Title,
		Action:     audit.ActionDelete,
		Before:     before,
		ActorID:    owner,
		At:         c.now().UTC(),
	})
	return nil
}

// Get returns one of owner's applications.
func (c *Cards) Get(ctx context.Context, owner, id uuid.UUID) (*models.CardApplication, error) {
	app, err := c.storage.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.OwnerID != owner {
		return nil, models.ErrApplicationNotFound
	}
	return app, nil
}

// List returns owner's applications, newest first.
func (c *Cards) List(ctx context.Context, owner uuid.UUID) ([]*models.CardApplication, error) {
	return c.storage.ListApplicationsByOwner(ctx, owner)
}

// ListByStatus returns applications in status, or every application when status is empty.
func (c *Cards) ListByStatus(ctx context.Context, status models.ApplicationStatus) ([]*models.CardApplication, error) {
	return c.storage.ListApplicationsByStatus(ctx, status)
}
