package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorInvalidProfile     = "invalid_profile"
	errorInvalidRequest     = "invalid_request"
	errorInvalidAccountType = "invalid_account_type"

	fieldProfile = "profile"
)

var errInvalidRequest = errors.New("invalid request")

type evaluateRequest struct {
	Selections   intake.ApplicationSelections `json:"selections"`
	PersonalInfo intake.EditableOverlay       `json:"personal_info"`
}

type evaluateResponse struct {
	Evaluation intake.Evaluation `json:"evaluation"`
	State      intake.FormState  `json:"state"`
}

type reconcileResponse struct {
	Reconciliation intake.Reconciliation `json:"reconciliation"`
	Overview       intake.Overview       `json:"overview"`
}

type transactionLimitRequest struct {
	Current intake.TransactionLimitState `json:"current"`
	Input   string                       `json:"input"`
}

type transactionLimitResponse struct {
	TransactionLimit        intake.TransactionLimitState `json:"transaction_limit"`
	Outcome                 intake.LimitEditOutcome      `json:"outcome"`
	TransactionLimitCeiling int64                        `json:"transaction_limit_ceiling"`
}

// ProfileServer exposes profile reconciliation and form evaluation over gRPC.
// Every call is stateless; callers send the profile they hold.
type ProfileServer struct {
	reconciler *intake.Reconciler
}

// NewProfileServer constructs a gRPC server backed by reconciler.
func NewProfileServer(reconciler *intake.Reconciler) *ProfileServer {
	if reconciler == nil {
		reconciler = intake.NewReconciler()
	}
	return &ProfileServer{reconciler: reconciler}
}

// Reconcile expects {"profile": {...}} and returns the reconciliation with its overview.
func (server *ProfileServer) Reconcile(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	raw, err := profileFromRequest(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reconciliation := server.reconciler.Reconcile(raw)
	return encodeResponse(reconcileResponse{
		Reconciliation: reconciliation,
		Overview:       reconciliation.Overview(),
	})
}

// Evaluate expects {"selections": {...}, "personal_info": {...}} and reports the submission verdict.
func (server *ProfileServer) Evaluate(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	var decoded evaluateRequest
	if err := decodeRequest(request, &decoded); err != nil {
		return nil, mapToGRPCError(err)
	}
	if decoded.Selections.AccountType != "" && !decoded.Selections.AccountType.Valid() {
		return nil, mapToGRPCError(fmt.Errorf("%w: %q", intake.ErrInvalidAccountType, decoded.Selections.AccountType))
	}
	evaluation := intake.Evaluate(decoded.Selections, decoded.PersonalInfo)
	state := intake.FormStateIncomplete
	if evaluation.Submittable {
		state = intake.FormStateValid
	}
	return encodeResponse(evaluateResponse{Evaluation: evaluation, State: state})
}

// UpdateTransactionLimit expects {"profile": {...}, "current": {...}, "input": "..."} and
// applies the edit against the ceiling derived from the profile.
func (server *ProfileServer) UpdateTransactionLimit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	raw, err := profileFromRequest(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	var decoded transactionLimitRequest
	if err := decodeRequest(request, &decoded); err != nil {
		return nil, mapToGRPCError(err)
	}
	ceiling := intake.MaxTransactionLimit(intake.CountVerifiedClaims(raw))
	state, outcome := intake.UpdateTransactionLimit(decoded.Current, decoded.Input, ceiling)
	return encodeResponse(transactionLimitResponse{
		TransactionLimit:        state,
		Outcome:                 outcome,
		TransactionLimitCeiling: ceiling,
	})
}

func profileFromRequest(request *structpb.Struct) (intake.RawProfile, error) {
	value, ok := request.GetFields()[fieldProfile]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", intake.ErrInvalidProfilePayload, fieldProfile)
	}
	profile := value.GetStructValue()
	if profile == nil {
		return nil, fmt.Errorf("%w: %s is not an object", intake.ErrInvalidProfilePayload, fieldProfile)
	}
	return intake.RawProfile(profile.AsMap()), nil
}

func decodeRequest(request *structpb.Struct, target any) error {
	payload, err := protojson.Marshal(request)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

func encodeResponse(value any) (*structpb.Struct, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	response := &structpb.Struct{}
	if err := protojson.Unmarshal(payload, response); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func mapToGRPCError(source error) error {
	switch {
	case errors.Is(source, intake.ErrInvalidProfilePayload):
		return status.Error(codes.InvalidArgument, errorInvalidProfile)
	case errors.Is(source, intake.ErrInvalidAccountType):
		return status.Error(codes.InvalidArgument, errorInvalidAccountType)
	case errors.Is(source, errInvalidRequest):
		return status.Error(codes.InvalidArgument, errorInvalidRequest)
	default:
		return status.Error(codes.Internal, source.Error())
	}
}
