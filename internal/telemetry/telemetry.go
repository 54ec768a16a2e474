// Package telemetry records intake operations as structured logs and Prometheus metrics.
package telemetry

import (
	"context"

	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Metrics groups the intake collectors.
type Metrics struct {
	Operations     *prometheus.CounterVec
	Submissions    *prometheus.CounterVec
	VerifiedClaims prometheus.Histogram
	LimitEdits     *prometheus.CounterVec
}

// NewMetrics registers the intake collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_operations_total",
			Help: "Intake session operations by operation and status",
		}, []string{"operation", "status"}),

		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Recorded account applications by account type",
		}, []string{"account_type"}),

		VerifiedClaims: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_verified_claims",
			Help:    "Distinct verified claims per started session",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		}),

		LimitEdits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_transaction_limit_edits_total",
			Help: "Transaction limit edits by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveLimitEdit counts one transaction-limit edit.
func (metrics *Metrics) ObserveLimitEdit(outcome intake.LimitEditOutcome) {
	if metrics != nil {
		metrics.LimitEdits.WithLabelValues(string(outcome)).Inc()
	}
}

// OperationLogger implements intake.OperationLogger with zap and Metrics.
type OperationLogger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewOperationLogger returns an OperationLogger. A nil logger is replaced with a no-op logger.
func NewOperationLogger(logger *zap.Logger, metrics *Metrics) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger, metrics: metrics}
}

// LogOperation implements intake.OperationLogger.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry intake.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("session_id", entry.SessionID.String()),
		zap.String("status", entry.Status),
	}
	if entry.VerifiedClaimCount > 0 {
		fields = append(fields, zap.Int("verified_claims", entry.VerifiedClaimCount))
	}
	if entry.TransactionLimitCeiling > 0 {
		fields = append(fields, zap.Int64("transaction_limit_ceiling", entry.TransactionLimitCeiling))
	}
	if entry.AccountType != "" {
		fields = append(fields, zap.String("account_type", entry.AccountType.String()))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("intake operation failed", append(fields, zap.Error(entry.Error))...)
	} else {
		operationLogger.logger.Info("intake operation", fields...)
	}
	if operationLogger.metrics == nil {
		return
	}
	operationLogger.metrics.Operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error != nil {
		return
	}
	switch entry.Operation {
	case intake.OperationStartSession:
		operationLogger.metrics.VerifiedClaims.Observe(float64(entry.VerifiedClaimCount))
	case intake.OperationSubmit:
		operationLogger.metrics.Submissions.WithLabelValues(entry.AccountType.String()).Inc()
	}
}
