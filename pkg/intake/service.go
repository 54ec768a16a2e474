package intake

import (
	"context"
	"errors"
	"fmt"
)

// Service runs the intake flow over a SessionStore and an ApplicationRecorder.
type Service struct {
	sessions   SessionStore
	recorder   ApplicationRecorder
	reconciler *Reconciler
	logger     OperationLogger
}

// NewService wires a Service.
func NewService(sessions SessionStore, recorder ApplicationRecorder, options ...ServiceOption) (*Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("%w: session store dependency is nil", ErrInvalidServiceConfig)
	}
	if recorder == nil {
		return nil, fmt.Errorf("%w: application recorder dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{sessions: sessions, recorder: recorder, reconciler: NewReconciler()}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Reconciler returns the reconciler used for every profile.
func (service *Service) Reconciler() *Reconciler {
	return service.reconciler
}

// StartSession stores a freshly exchanged profile and returns its reconciliation.
func (service *Service) StartSession(ctx context.Context, sessionID SessionID, raw RawProfile) (Reconciliation, error) {
	var reconciliation Reconciliation
	operationError := func() error {
		if sessionID.IsZero() {
			return ErrInvalidSessionID
		}
		if raw == nil {
			return fmt.Errorf("%w: nil profile", ErrInvalidProfilePayload)
		}
		if err := service.sessions.Save(ctx, sessionID, raw); err != nil {
			return err
		}
		reconciliation = service.reconciler.Reconcile(raw)
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation:               OperationStartSession,
		SessionID:               sessionID,
		VerifiedClaimCount:      reconciliation.VerifiedClaimCount,
		TransactionLimitCeiling: reconciliation.TransactionLimitCeiling,
		Error:                   operationError,
	})
	if operationError != nil {
		return Reconciliation{}, operationError
	}
	return reconciliation, nil
}

// OpenForm loads the stored profile and seeds a new form from it. A stored
// profile that cannot be decoded is cleared and reported as absent.
func (service *Service) OpenForm(ctx context.Context, sessionID SessionID) (*Form, error) {
	raw, err := service.loadProfile(ctx, sessionID)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationOpenForm, SessionID: sessionID, Error: err})
		return nil, err
	}
	reconciliation := service.reconciler.Reconcile(raw)
	service.logOperation(ctx, OperationLog{
		Operation:               OperationOpenForm,
		SessionID:               sessionID,
		VerifiedClaimCount:      reconciliation.VerifiedClaimCount,
		TransactionLimitCeiling: reconciliation.TransactionLimitCeiling,
	})
	return NewForm(reconciliation), nil
}

// Submit records a valid form and discards the session profile so it cannot
// back a second submission.
func (service *Service) Submit(ctx context.Context, sessionID SessionID, form *Form) (ApplicationReceipt, error) {
	var (
		receipt     ApplicationReceipt
		accountType AccountType
	)
	operationError := func() error {
		if form == nil {
			return ErrFormIncomplete
		}
		submission, err := form.Submission()
		if err != nil {
			return err
		}
		accountType = submission.AccountType
		receipt, err = service.recorder.RecordApplication(ctx, sessionID, submission)
		if err != nil {
			return err
		}
		form.submitted = true
		if err := service.sessions.Clear(ctx, sessionID); err != nil {
			return WrapError(OperationSubmit, "session", "clear", err)
		}
		return nil
	}()
	logEntry := OperationLog{
		Operation:   OperationSubmit,
		SessionID:   sessionID,
		AccountType: accountType,
		Error:       operationError,
	}
	if form != nil {
		logEntry.VerifiedClaimCount = form.reconciliation.VerifiedClaimCount
		logEntry.TransactionLimitCeiling = form.reconciliation.TransactionLimitCeiling
	}
	service.logOperation(ctx, logEntry)
	return receipt, operationError
}

func (service *Service) loadProfile(ctx context.Context, sessionID SessionID) (RawProfile, error) {
	if sessionID.IsZero() {
		return nil, ErrInvalidSessionID
	}
	raw, err := service.sessions.Load(ctx, sessionID)
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, ErrCorruptSession) {
		return nil, err
	}
	clearError := service.sessions.Clear(ctx, sessionID)
	service.logOperation(ctx, OperationLog{Operation: OperationClearSession, SessionID: sessionID, Error: clearError})
	if clearError != nil {
		return nil, clearError
	}
	return nil, fmt.Errorf("%w: stored profile discarded", ErrProfileNotFound)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = OperationStatusError
		} else {
			entry.Status = OperationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
