package observability

import (
	"errors"
	"time"

	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics for the banking core.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	conflictRetries   *prometheus.CounterVec
	transferVolume    *prometheus.CounterVec
	overdueMarked     prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fredbank_operation_duration_seconds",
				Help:    "Duration of core operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fredbank_operations_total",
				Help: "Total core operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		conflictRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fredbank_conflict_retries_total",
				Help: "Units of work replayed after a concurrency conflict.",
			},
			[]string{"operation"},
		),
		transferVolume: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fredbank_transfer_volume_total",
				Help: "Sum of completed transfer amounts.",
			},
			[]string{"type"},
		),
		overdueMarked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fredbank_installments_marked_overdue_total",
				Help: "Installments moved to overdue by the sweep.",
			},
		),
	}
}

// Outcome classifies an operation result for the outcome label.
func Outcome(err error) string {
	var vErr *models.ValidationError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, models.ErrConcurrencyConflict):
		return OutcomeConflict
	case errors.As(err, &vErr),
		errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrAccountInactive),
		errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrRecipientNotFound),
		errors.Is(err, models.ErrSelfTransfer),
		errors.Is(err, models.ErrRecipientAccountUnavailable),
		errors.Is(err, models.ErrSameAccount),
		errors.Is(err, models.ErrLoanNotFound),
		errors.Is(err, models.ErrLoanNotActive),
		errors.Is(err, models.ErrNoPendingInstallments),
		errors.Is(err, models.ErrApplicationNotFound),
		errors.Is(err, models.ErrDuplicateApplication),
		errors.Is(err, models.ErrNotPending),
		errors.Is(err, models.ErrInvalidStatusTransition):
		return OutcomeRejected
	}
	return OutcomeError
}

// ObserveOperation records the duration and outcome of a core operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	m.operationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
}

// IncrConflictRetry increments the retry counter for operation.
func (m *Metrics) IncrConflictRetry(operation string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(operation).Inc()
}

// AddTransferVolume adds a completed transfer amount.
func (m *Metrics) AddTransferVolume(transferType models.TransferType, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.transferVolume.WithLabelValues(string(transferType)).Add(amount.InexactFloat64())
}

// AddOverdue counts installments marked overdue.
func (m *Metrics) AddOverdue(n int) {
	if m == nil {
		return
	}
	m.overdueMarked.Add(float64(n))
}

// OperationCount returns the current counter value for operation and outcome.
func (m *Metrics) OperationCount(operation, outcome string) float64 {
	return getCounterValue(m.operationsTotal.WithLabelValues(operation, outcome))
}

// ConflictRetries returns the number of replays recorded for operation.
func (m *Metrics) ConflictRetries(operation string) float64 {
	return getCounterValue(m.conflictRetries.WithLabelValues(operation))
}

// TransferVolume returns the summed amount for a transfer type.
func (m *Metrics) TransferVolume(transferType models.TransferType) float64 {
	return getCounterValue(m.transferVolume.WithLabelValues(string(transferType)))
}

// getCounterValue extracts the current float64 value from a counter.
func getCounterValue(counter prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
