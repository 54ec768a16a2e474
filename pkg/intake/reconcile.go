package intake

import (
	"errors"

	"go.uber.org/zap"
)

// CountVerifiedClaims returns the number of distinct claim names carrying a
// non-null value across all verified-claim assertions.
func CountVerifiedClaims(raw RawProfile) int {
	assertions, ok := raw.VerifiedClaims()
	if !ok {
		return 0
	}
	distinct := make(map[string]struct{})
	for _, assertion := range assertions {
		for claimName, claimValue := range assertion.Claims {
			if claimValue == nil {
				continue
			}
			distinct[claimName] = struct{}{}
		}
	}
	return len(distinct)
}

// ResolveField picks the value of one field. The first verified-claim assertion
// carrying a truthy value wins over the self-asserted top-level value.
func ResolveField(raw RawProfile, fieldName string) ClaimDetail {
	detail := ClaimDetail{}
	if raw == nil {
		return detail
	}
	detail.Value = raw[fieldName]
	assertions, ok := raw.VerifiedClaims()
	if !ok {
		return detail
	}
	for _, assertion := range assertions {
		claimValue := assertion.Claims[fieldName]
		if !isTruthy(claimValue) {
			continue
		}
		detail.Value = claimValue
		detail.Verified = true
		break
	}
	return detail
}

// Reconciliation is the Reconciler output for one raw profile.
type Reconciliation struct {
	Profile                 ReconciledProfile `json:"profile"`
	VerifiedClaimCount      int               `json:"verified_claim_count"`
	TransactionLimitCeiling int64             `json:"transaction_limit_ceiling"`
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the logger used for malformed-input warnings.
func WithReconcilerLogger(logger *zap.Logger) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if logger != nil {
			reconciler.logger = logger
		}
	}
}

// Reconciler turns raw profiles into reconciled profiles.
type Reconciler struct {
	logger *zap.Logger
}

// NewReconciler builds a Reconciler that logs to a no-op logger unless configured otherwise.
func NewReconciler(options ...ReconcilerOption) *Reconciler {
	reconciler := &Reconciler{logger: zap.NewNop()}
	for _, option := range options {
		if option != nil {
			option(reconciler)
		}
	}
	return reconciler
}

// Reconcile resolves every tracked field and derives the transaction-limit ceiling.
func (reconciler *Reconciler) Reconcile(raw RawProfile) Reconciliation {
	address := ResolveField(raw, claimAddress)
	birthdate := ResolveField(raw, claimBirthdate)
	profile := ReconciledProfile{
		Name:        ResolveField(raw, claimName),
		GivenName:   ResolveField(raw, claimGivenName),
		FamilyName:  ResolveField(raw, claimFamilyName),
		Email:       ResolveField(raw, claimEmail),
		PhoneNumber: ResolveField(raw, claimPhoneNumber),
		Gender:      ResolveField(raw, claimGender),
		Address:     ClaimDetail{Value: FormatAddress(address.Value), Verified: address.Verified},
		Birthdate:   ClaimDetail{Value: reconciler.normalizeBirthdate(birthdate.Value), Verified: birthdate.Verified},
		Picture:     ResolveField(raw, claimPicture),
	}
	verifiedClaimCount := CountVerifiedClaims(raw)
	return Reconciliation{
		Profile:                 profile,
		VerifiedClaimCount:      verifiedClaimCount,
		TransactionLimitCeiling: MaxTransactionLimit(verifiedClaimCount),
	}
}

func (reconciler *Reconciler) normalizeBirthdate(value any) string {
	normalized, err := normalizeDate(value)
	if err == nil {
		return normalized
	}
	if errors.Is(err, errDateUnrecognized) {
		reconciler.logger.Warn("birthdate format not recognized", zap.Error(err))
	}
	return ""
}
