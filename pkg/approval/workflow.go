// Package approval implements the one-way pending -> approved | rejected review shared by loans
// and credit card applications.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredBank/pkg/audit"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/mcclellann/fredBank/pkg/notify"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("approval")

// Subject is anything that can be reviewed once.
type Subject interface {
	ReviewState() models.ReviewState
	ApplyReview(models.Review)
}

// Repository loads and saves subjects inside a caller-owned unit of work.
type Repository[T Subject] interface {
	// Lock reads the subject and holds it against concurrent reviews until tx ends.
	Lock(ctx context.Context, tx store.Tx, id uuid.UUID) (T, error)
	Save(ctx context.Context, tx store.Tx, subject T) error
	// Identify returns the subject's id and the customer it belongs to.
	Identify(subject T) (id, owner uuid.UUID)
}

// Policy holds the per-subject wording and rules of a review.
type Policy struct {
	// Name labels metrics and spans, e.g. "loan".
	Name string
	// Title is the human readable subject used in notifications and audit records.
	Title          string
	NotifyKind     notify.Kind
	ApproveRemarks string
	RejectRemarks  string
	// RequireRejectRemarks makes an empty remark on Reject a validation error.
	RequireRejectRemarks bool
}

// Hook runs inside the review's unit of work. Returning an error aborts the review.
type Hook[T Subject] func(ctx context.Context, tx store.Tx, subject T) error

type options struct {
	notifier notify.Dispatcher
	auditor  audit.Recorder
	retry    store.RetryPolicy
	now      func() time.Time
}

type Option func(*options)

func WithNotifier(d notify.Dispatcher) Option {
	return func(o *options) { o.notifier = d }
}

func WithAuditor(r audit.Recorder) Option {
	return func(o *options) { o.auditor = r }
}

func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Workflow reviews subjects of type T.
type Workflow[T Subject] struct {
	options
	storage   store.Storage
	repo      Repository[T]
	policy    Policy
	metrics   *observability.Metrics
	logger    *zap.Logger
	onApprove Hook[T]
}

func NewWorkflow[T Subject](s store.Storage, repo Repository[T], policy Policy, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Workflow[T] {
	w := &Workflow[T]{
		options: options{
			notifier: notify.Nop{},
			auditor:  audit.Nop{},
			retry:    store.DefaultRetryPolicy,
			now:      time.Now,
		},
		storage: s,
		repo:    repo,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(&w.options)
	}
	return w
}

// OnApprove registers a hook that runs after the approval is applied and before it is saved.
func (w *Workflow[T]) OnApprove(h Hook[T]) *Workflow[T] {
	w.onApprove = h
	return w
}

// Approve moves a pending subject to approved.
func (w *Workflow[T]) Approve(ctx context.Context, id uuid.UUID, reviewer models.Employee, remarks string) (T, error) {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		remarks = w.policy.ApproveRemarks
	}
	return w.review(ctx, id, reviewer, models.ReviewApproved, remarks)
}

// Reject moves a pending subject to rejected.
func (w *Workflow[T]) Reject(ctx context.Context, id uuid.UUID, reviewer models.Employee, remarks string) (T, error) {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		if w.policy.RequireRejectRemarks {
			var zero T
			return zero, models.NewValidationError("remarks", "are required when rejecting")
		}
		remarks = w.policy.RejectRemarks
	}
	return w.review(ctx, id, reviewer, models.ReviewRejected, remarks)
}

func (w *Workflow[T]) review(ctx context.Context, id uuid.UUID, reviewer models.Employee, outcome models.ReviewState, remarks string) (subject T, err error) {
	op := w.policy.Name + "_" + verb(outcome)
	ctx, span := tracer.Start(ctx, "Workflow."+op)
	span.SetAttributes(
		attribute.String("subject_id", id.String()),
		attribute.String("reviewer_id", reviewer.ID.String()),
	)
	start := time.Now()
	defer func() {
		w.metrics.ObserveOperation(op, start, err)
		observability.EndSpan(span, err)
	}()

	var review models.Review
	err = store.Atomically(ctx, w.storage, w.retry, func(tx store.Tx) error {
		subject, err = w.repo.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if subject.ReviewState() != models.ReviewPending {
			return models.ErrNotPending
		}

		review = models.Review{
			Outcome:    outcome,
			Reviewer:   reviewer,
			ReviewedAt: w.now().UTC(),
			Remarks:    remarks,
		}
		subject.ApplyReview(review)
		if outcome == models.ReviewApproved && w.onApprove != nil {
			if err := w.onApprove(ctx, tx, subject); err != nil {
				return err
			}
		}
		return w.repo.Save(ctx, tx, subject)
	}, func(err error, attempt int) {
		w.metrics.IncrConflictRetry(op)
		w.logger.Debug("retrying review after conflict", zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		var zero T
		return zero, err
	}

	subjectID, owner := w.repo.Identify(subject)
	w.logger.Info(strings.ToLower(w.policy.Title)+" reviewed",
		zap.String("id", subjectID.String()),
		zap.String("outcome", string(outcome)),
		zap.String("reviewer_id", reviewer.ID.String()),
	)
	w.record(ctx, subjectID, owner, review, subject)
	return subject, nil
}

func (w *Workflow[T]) record(ctx context.Context, id, owner uuid.UUID, r models.Review, subject T) {
	action := audit.ActionApprove
	if r.Outcome == models.ReviewRejected {
		action = audit.ActionReject
	}
	w.auditor.Record(ctx, audit.Record{
		EntityID:   id,
		EntityType: w.policy.Title,
		Action:     action,
		Before:     map[string]string{"state": string(models.ReviewPending)},
		After:      subject,
		ActorID:    r.Reviewer.ID,
		At:         r.ReviewedAt,
	})
	w.notifier.Dispatch(ctx, notify.Notification{
		UserID:  owner,
		Kind:    w.policy.NotifyKind,
		Title:   w.policy.Title + " " + pastTense(r.Outcome),
		Message: fmt.Sprintf("Your %s has been %s. %s", strings.ToLower(w.policy.Title), r.Outcome, r.Remarks),
		Data:    map[string]string{"id": id.String(), "status": string(r.Outcome)},
		SentAt:  r.ReviewedAt,
	})
}

func verb(outcome models.ReviewState) string {
	if outcome == models.ReviewApproved {
		return "approve"
	}
	return "reject"
}

func pastTense(outcome models.ReviewState) string {
	if outcome == models.ReviewApproved {
		return "Approved"
	}
	return "Rejected"
}

type loanRepository struct{}

func (loanRepository) Lock(ctx context.Context, tx store.Tx, id uuid.UUID) (*models.Loan, error) {
	return tx.LockLoan(ctx, id)
}

func (loanRepository) Save(ctx context.Context, tx store.Tx, l *models.Loan) error {
	return tx.UpdateLoan(ctx, l)
}

func (loanRepository) Identify(l *models.Loan) (uuid.UUID, uuid.UUID) {
	return l.ID, l.OwnerID
}

// LoanPolicy approves loans into active. Rejections must say why.
var LoanPolicy = Policy{
	Name:                 "loan",
	Title:                "Loan",
	NotifyKind:           notify.KindLoan,
	ApproveRemarks:       "Approved by admin",
	RequireRejectRemarks: true,
}

// NewLoanWorkflow reviews pending loans.
func NewLoanWorkflow(s store.Storage, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Workflow[*models.Loan] {
	return NewWorkflow[*models.Loan](s, loanRepository{}, LoanPolicy, metrics, logger, opts...)
}

type cardRepository struct{}

func (cardRepository) Lock(ctx context.Context, tx store.Tx, id uuid.UUID) (*models.CardApplication, error) {
	return tx.LockApplication(ctx, id)
}

func (cardRepository) Save(ctx context.Context, tx store.Tx, a *models.CardApplication) error {
	return tx.UpdateApplication(ctx, a)
}

func (cardRepository) Identify(a *models.CardApplication) (uuid.UUID, uuid.UUID) {
	return a.ID, a.OwnerID
}

var CardPolicy = Policy{
	Name:           "card_application",
	Title:          "Card Application",
	NotifyKind:     notify.KindCard,
	ApproveRemarks: "Approved",
	RejectRemarks:  "Rejected",
}

// NewCardWorkflow reviews pending credit card applications.
func NewCardWorkflow(s store.Storage, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Workflow[*models.CardApplication] {
	return NewWorkflow[*models.CardApplication](s, cardRepository{}, CardPolicy, metrics, logger, opts...)
}
