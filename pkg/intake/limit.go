package intake

import (
	"math"
	"regexp"

	"github.com/shopspring/decimal"
)

var transactionLimitPattern = regexp.MustCompile(`^\d+\.?\d{0,2}$`)

// LimitEditOutcome describes how UpdateTransactionLimit treated an edit.
type LimitEditOutcome string

const (
	LimitEditCleared     LimitEditOutcome = "cleared"
	LimitEditRejected    LimitEditOutcome = "rejected"
	LimitEditNotFinite   LimitEditOutcome = "not_finite"
	LimitEditAccepted    LimitEditOutcome = "accepted"
	LimitEditOverCeiling LimitEditOutcome = "over_ceiling"
)

// MaxTransactionLimit derives the ceiling from the verified claim count.
func MaxTransactionLimit(verifiedClaimCount int) int64 {
	if verifiedClaimCount < 1 {
		verifiedClaimCount = 1
	}
	return int64(verifiedClaimCount) * PerClaimLimitUnit
}

// UpdateTransactionLimit applies one edit of the transaction-limit input.
// Input that does not look like an amount with at most two fractional digits
// is dropped and the current state is returned untouched.
func UpdateTransactionLimit(current TransactionLimitState, rawInput string, ceiling int64) (TransactionLimitState, LimitEditOutcome) {
	if rawInput == "" {
		return TransactionLimitState{}, LimitEditCleared
	}
	if !transactionLimitPattern.MatchString(rawInput) {
		return current, LimitEditRejected
	}
	parsed, err := decimal.NewFromString(rawInput)
	if err != nil || math.IsInf(parsed.InexactFloat64(), 0) {
		current.HasError = true
		return current, LimitEditNotFinite
	}
	overCeiling := parsed.GreaterThan(decimal.NewFromInt(ceiling))
	next := TransactionLimitState{Value: rawInput, HasError: overCeiling}
	if overCeiling {
		return next, LimitEditOverCeiling
	}
	return next, LimitEditAccepted
}
