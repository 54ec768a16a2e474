package intake

const (
	// PerClaimLimitUnit is the transaction-limit headroom granted per distinct verified claim.
	PerClaimLimitUnit int64 = 1000
	// MinimumTransactionLimit is the suggested floor shown alongside the ceiling.
	MinimumTransactionLimit int64 = 500

	claimKeyVerifiedClaims = "verified_claims"
	claimKeyClaims         = "claims"

	claimName        = "name"
	claimGivenName   = "given_name"
	claimFamilyName  = "family_name"
	claimEmail       = "email"
	claimPhoneNumber = "phone_number"
	claimGender      = "gender"
	claimAddress     = "address"
	claimBirthdate   = "birthdate"
	claimPicture     = "picture"

	// Operation names reported through OperationLogger.
	OperationStartSession = "start_session"
	OperationOpenForm     = "open_form"
	OperationSubmit       = "submit"
	OperationClearSession = "clear_session"

	// Operation statuses reported through OperationLogger.
	OperationStatusOK    = "ok"
	OperationStatusError = "error"
)
