package intake

import (
	"regexp"
	"strings"
)

// Field error codes reported by Evaluate.
const (
	FieldErrorRequired                  = "required"
	FieldErrorInvalidAccountType        = "invalid_account_type"
	FieldErrorOverLimit                 = "over_limit"
	FieldErrorConsentRequired           = "consent_required"
	FieldErrorChannelRequired           = "channel_required"
	FieldErrorPaymentCapabilityRequired = "payment_capability_required"

	errorKeyAccountType         = "account_type"
	errorKeyTransactionLimit    = "transaction_limit"
	errorKeyConsent             = "consent"
	errorKeyChannelAccess       = "channel_access"
	errorKeyPaymentCapabilities = "payment_capabilities"
)

var (
	phoneNumberPattern = regexp.MustCompile(`^[0-9+\-\s()]*$`)
	pinPattern         = regexp.MustCompile(`^\d*$`)
)

// requiredOverlayFields must be non-blank before a form can be submitted.
var requiredOverlayFields = []FormField{
	FieldName,
	FieldBirthdate,
	FieldEmail,
	FieldPIN,
	FieldCity,
	FieldGender,
	FieldPhoneNumber,
	FieldAddress,
}

// Evaluation is the aggregate verdict plus per-field error codes.
type Evaluation struct {
	Submittable bool              `json:"submittable"`
	FieldErrors map[string]string `json:"field_errors"`
}

// IsSubmittable reports whether every submission rule holds.
func IsSubmittable(selections ApplicationSelections, overlay EditableOverlay) bool {
	consentGiven := selections.Consent
	accountTypeChosen := selections.AccountType.Valid()
	limitUsable := !selections.TransactionLimit.HasError && selections.TransactionLimit.Value != ""
	overlayComplete := true
	for _, field := range requiredOverlayFields {
		if strings.TrimSpace(overlay.Get(field)) == "" {
			overlayComplete = false
		}
	}
	channelChosen := selections.InternetBanking || selections.MobileBanking || selections.ATMDebitCard
	paymentChosen := selections.DomesticTransactions || selections.InternationalTransactions
	return consentGiven && accountTypeChosen && limitUsable && overlayComplete && channelChosen && paymentChosen
}

// Evaluate reports the same verdict as IsSubmittable along with the failing rules.
func Evaluate(selections ApplicationSelections, overlay EditableOverlay) Evaluation {
	fieldErrors := make(map[string]string)
	if !selections.Consent {
		fieldErrors[errorKeyConsent] = FieldErrorConsentRequired
	}
	if selections.AccountType == "" {
		fieldErrors[errorKeyAccountType] = FieldErrorRequired
	} else if !selections.AccountType.Valid() {
		fieldErrors[errorKeyAccountType] = FieldErrorInvalidAccountType
	}
	switch {
	case selections.TransactionLimit.HasError:
		fieldErrors[errorKeyTransactionLimit] = FieldErrorOverLimit
	case selections.TransactionLimit.Value == "":
		fieldErrors[errorKeyTransactionLimit] = FieldErrorRequired
	}
	for _, field := range requiredOverlayFields {
		if strings.TrimSpace(overlay.Get(field)) == "" {
			fieldErrors[string(field)] = FieldErrorRequired
		}
	}
	if !selections.InternetBanking && !selections.MobileBanking && !selections.ATMDebitCard {
		fieldErrors[errorKeyChannelAccess] = FieldErrorChannelRequired
	}
	if !selections.DomesticTransactions && !selections.InternationalTransactions {
		fieldErrors[errorKeyPaymentCapabilities] = FieldErrorPaymentCapabilityRequired
	}
	return Evaluation{
		Submittable: len(fieldErrors) == 0,
		FieldErrors: fieldErrors,
	}
}

// AcceptsEdit reports whether a typed value may replace a field's content.
// Phone numbers allow digits, spaces, and + - ( ); PINs allow digits only.
func AcceptsEdit(field FormField, value string) bool {
	if value == "" {
		return true
	}
	switch field {
	case FieldPhoneNumber:
		return phoneNumberPattern.MatchString(value)
	case FieldPIN:
		return pinPattern.MatchString(value)
	default:
		return true
	}
}
