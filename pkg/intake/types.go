package intake

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RawProfile is an untrusted user-info document as returned by the identity provider.
type RawProfile map[string]any

// VerifiedClaimAssertion is one entry of the verified_claims sequence.
type VerifiedClaimAssertion struct {
	Claims map[string]any
}

// VerifiedClaims returns the typed assertion sequence. ok is false when the
// key is missing or does not hold a sequence.
func (raw RawProfile) VerifiedClaims() ([]VerifiedClaimAssertion, bool) {
	if raw == nil {
		return nil, false
	}
	entries, ok := raw[claimKeyVerifiedClaims].([]any)
	if !ok {
		return nil, false
	}
	assertions := make([]VerifiedClaimAssertion, 0, len(entries))
	for _, entry := range entries {
		envelope, isObject := entry.(map[string]any)
		if !isObject {
			assertions = append(assertions, VerifiedClaimAssertion{})
			continue
		}
		claims, _ := envelope[claimKeyClaims].(map[string]any)
		assertions = append(assertions, VerifiedClaimAssertion{Claims: claims})
	}
	return assertions, true
}

// ClaimDetail pairs a resolved value with its provenance.
type ClaimDetail struct {
	Value    any  `json:"value"`
	Verified bool `json:"verified"`
}

// Text renders the value for a text input; non-scalar values render empty.
func (detail ClaimDetail) Text() string {
	return scalarText(detail.Value)
}

// HasValue reports whether the detail pre-fills (and locks) a form input.
func (detail ClaimDetail) HasValue() bool {
	return isTruthy(detail.Value) && detail.Text() != ""
}

// SeedText is the overlay seed for the detail: its text when it has a value, empty otherwise.
func (detail ClaimDetail) SeedText() string {
	if !detail.HasValue() {
		return ""
	}
	return detail.Text()
}

// ReconciledProfile is the per-field view of a RawProfile.
type ReconciledProfile struct {
	Name        ClaimDetail `json:"name"`
	GivenName   ClaimDetail `json:"given_name"`
	FamilyName  ClaimDetail `json:"family_name"`
	Email       ClaimDetail `json:"email"`
	PhoneNumber ClaimDetail `json:"phone_number"`
	Gender      ClaimDetail `json:"gender"`
	Address     ClaimDetail `json:"address"`
	Birthdate   ClaimDetail `json:"birthdate"`
	Picture     ClaimDetail `json:"picture"`
}

// SessionID identifies one intake session.
type SessionID struct {
	value string
}

// NewSessionID validates and normalizes a session id.
func NewSessionID(raw string) (SessionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SessionID{}, fmt.Errorf("%w: empty value", ErrInvalidSessionID)
	}
	return SessionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id SessionID) String() string {
	return id.value
}

// IsZero reports whether the identifier was never set.
func (id SessionID) IsZero() bool {
	return id.value == ""
}

// AccountType enumerates the products a customer may open.
type AccountType string

const (
	AccountTypeSavings  AccountType = "savings_account"
	AccountTypeChecking AccountType = "checking_account"
	AccountTypeSalary   AccountType = "salary_account"
	AccountTypeStudent  AccountType = "student_account"
)

// AccountTypes lists the selectable account types in display order.
func AccountTypes() []AccountType {
	return []AccountType{AccountTypeSavings, AccountTypeChecking, AccountTypeSalary, AccountTypeStudent}
}

// ParseAccountType validates a raw account type.
func ParseAccountType(raw string) (AccountType, error) {
	candidate := AccountType(strings.TrimSpace(raw))
	if !candidate.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountType, raw)
	}
	return candidate, nil
}

// Valid reports whether the account type is one of the known values.
func (accountType AccountType) Valid() bool {
	switch accountType {
	case AccountTypeSavings, AccountTypeChecking, AccountTypeSalary, AccountTypeStudent:
		return true
	default:
		return false
	}
}

// String returns the wire value.
func (accountType AccountType) String() string {
	return string(accountType)
}

// FormField names an editable overlay input.
type FormField string

const (
	FieldName        FormField = "name"
	FieldEmail       FormField = "email"
	FieldPhoneNumber FormField = "phone_number"
	FieldGender      FormField = "gender"
	FieldBirthdate   FormField = "birthdate"
	FieldAddress     FormField = "address"
	FieldPIN         FormField = "pin"
	FieldCity        FormField = "city"
)

// FormFields lists the overlay inputs in form order.
func FormFields() []FormField {
	return []FormField{FieldName, FieldGender, FieldBirthdate, FieldEmail, FieldPhoneNumber, FieldAddress, FieldPIN, FieldCity}
}

// ParseFormField validates a raw field key.
func ParseFormField(raw string) (FormField, error) {
	candidate := FormField(strings.TrimSpace(raw))
	for _, field := range FormFields() {
		if field == candidate {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormField, raw)
}

// EditableOverlay is the user-mutable working copy of the personal details.
type EditableOverlay struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Gender      string `json:"gender"`
	Birthdate   string `json:"birthdate"`
	Address     string `json:"address"`
	PIN         string `json:"pin"`
	City        string `json:"city"`
}

// Get returns the current value of a field.
func (overlay EditableOverlay) Get(field FormField) string {
	switch field {
	case FieldName:
		return overlay.Name
	case FieldEmail:
		return overlay.Email
	case FieldPhoneNumber:
		return overlay.PhoneNumber
	case FieldGender:
		return overlay.Gender
	case FieldBirthdate:
		return overlay.Birthdate
	case FieldAddress:
		return overlay.Address
	case FieldPIN:
		return overlay.PIN
	case FieldCity:
		return overlay.City
	default:
		return ""
	}
}

// With returns a copy of the overlay with one field replaced.
func (overlay EditableOverlay) With(field FormField, value string) EditableOverlay {
	switch field {
	case FieldName:
		overlay.Name = value
	case FieldEmail:
		overlay.Email = value
	case FieldPhoneNumber:
		overlay.PhoneNumber = value
	case FieldGender:
		overlay.Gender = value
	case FieldBirthdate:
		overlay.Birthdate = value
	case FieldAddress:
		overlay.Address = value
	case FieldPIN:
		overlay.PIN = value
	case FieldCity:
		overlay.City = value
	}
	return overlay
}

// TransactionLimitState is the edit state of the transaction-limit input.
type TransactionLimitState struct {
	Value    string `json:"value"`
	HasError bool   `json:"has_error"`
}

// ApplicationSelections holds the non-personal choices of the application form.
type ApplicationSelections struct {
	AccountType               AccountType           `json:"account_type"`
	TransactionLimit          TransactionLimitState `json:"transaction_limit"`
	InternetBanking           bool                  `json:"internet_banking"`
	MobileBanking             bool                  `json:"mobile_banking"`
	ATMDebitCard              bool                  `json:"atm_debit_card"`
	DomesticTransactions      bool                  `json:"domestic_transactions"`
	InternationalTransactions bool                  `json:"international_transactions"`
	Consent                   bool                  `json:"consent"`
}

// ChannelAccess groups the channel toggles of a submission.
type ChannelAccess struct {
	InternetBanking bool `json:"internet_banking"`
	MobileBanking   bool `json:"mobile_banking"`
	ATMDebitCard    bool `json:"atm_debit_card"`
}

// PaymentCapabilities groups the payment toggles of a submission.
type PaymentCapabilities struct {
	DomesticTransactions      bool `json:"domestic_transactions"`
	InternationalTransactions bool `json:"international_transactions"`
}

// Submission is handed to the ApplicationRecorder once a form is valid.
type Submission struct {
	AccountType         AccountType         `json:"account_type"`
	TransactionLimit    string              `json:"transaction_limit"`
	PersonalInfo        EditableOverlay     `json:"personal_info"`
	ChannelAccess       ChannelAccess       `json:"channel_access"`
	PaymentCapabilities PaymentCapabilities `json:"payment_capabilities"`
}

// ApplicationReceipt identifies a recorded application.
type ApplicationReceipt struct {
	ApplicationID string    `json:"application_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// FormState is the lifecycle of an application form.
type FormState string

const (
	FormStateIncomplete FormState = "incomplete"
	FormStateValid      FormState = "valid"
	FormStateSubmitted  FormState = "submitted"
)

// isTruthy mirrors the loose truthiness the identity payload was designed around:
// nil, false, empty strings, zero and NaN are falsy; everything else is truthy.
func isTruthy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		return typed != ""
	case float64:
		return typed != 0 && !math.IsNaN(typed)
	case float32:
		return typed != 0 && !math.IsNaN(float64(typed))
	case int:
		return typed != 0
	case int64:
		return typed != 0
	case int32:
		return typed != 0
	case json.Number:
		parsed, err := typed.Float64()
		return err == nil && parsed != 0 && !math.IsNaN(parsed)
	default:
		return true
	}
}

func scalarText(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int32:
		return strconv.FormatInt(int64(typed), 10)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}
