package intake

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one session operation. It never carries profile values.
type OperationLog struct {
	Operation               string
	SessionID               SessionID
	VerifiedClaimCount      int
	TransactionLimitCeiling int64
	AccountType             AccountType
	Status                  string
	Error                   error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithReconciler replaces the default Reconciler.
func WithReconciler(reconciler *Reconciler) ServiceOption {
	return func(service *Service) {
		if reconciler != nil {
			service.reconciler = reconciler
		}
	}
}
