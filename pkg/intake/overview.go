package intake

// Overview is the summary shown before the applicant opens the form.
type Overview struct {
	DisplayName             string `json:"display_name"`
	VerifiedClaimCount      int    `json:"verified_claim_count"`
	HasVerifiedClaims       bool   `json:"has_verified_claims"`
	TransactionLimitCeiling int64  `json:"transaction_limit_ceiling"`
	AdvertisedLimit         int64  `json:"advertised_limit"`
}

// Overview summarizes a reconciliation. Applicants without verified claims are
// quoted MinimumTransactionLimit even though the form accepts up to the ceiling.
func (reconciliation Reconciliation) Overview() Overview {
	overview := Overview{
		DisplayName:             reconciliation.Profile.Name.SeedText(),
		VerifiedClaimCount:      reconciliation.VerifiedClaimCount,
		HasVerifiedClaims:       reconciliation.VerifiedClaimCount > 0,
		TransactionLimitCeiling: reconciliation.TransactionLimitCeiling,
		AdvertisedLimit:         MinimumTransactionLimit,
	}
	if overview.HasVerifiedClaims {
		overview.AdvertisedLimit = reconciliation.TransactionLimitCeiling
	}
	return overview
}
