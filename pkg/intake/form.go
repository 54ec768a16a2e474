package intake

import (
	"fmt"
	"strings"
)

// Toggle names a boolean input of the application form.
type Toggle string

const (
	ToggleInternetBanking           Toggle = "internet_banking"
	ToggleMobileBanking             Toggle = "mobile_banking"
	ToggleATMDebitCard              Toggle = "atm_debit_card"
	ToggleDomesticTransactions      Toggle = "domestic_transactions"
	ToggleInternationalTransactions Toggle = "international_transactions"
	ToggleConsent                   Toggle = "consent"
)

// Form is one in-progress application. It is owned by a single logical
// session and is not safe for concurrent use.
type Form struct {
	reconciliation Reconciliation
	overlay        EditableOverlay
	selections     ApplicationSelections
	submitted      bool
}

// NewForm seeds a form from a reconciliation.
func NewForm(reconciliation Reconciliation) *Form {
	profile := reconciliation.Profile
	return &Form{
		reconciliation: reconciliation,
		overlay: EditableOverlay{
			Name:        profile.Name.SeedText(),
			Email:       profile.Email.SeedText(),
			PhoneNumber: profile.PhoneNumber.SeedText(),
			Gender:      profile.Gender.SeedText(),
			Birthdate:   profile.Birthdate.SeedText(),
			Address:     profile.Address.SeedText(),
		},
	}
}

// Reconciliation returns the reconciled profile the form was seeded from.
func (form *Form) Reconciliation() Reconciliation {
	return form.reconciliation
}

// Overlay returns a copy of the editable fields.
func (form *Form) Overlay() EditableOverlay {
	return form.overlay
}

// Selections returns a copy of the non-personal choices.
func (form *Form) Selections() ApplicationSelections {
	return form.selections
}

// TransactionLimitCeiling returns the largest limit the form accepts.
func (form *Form) TransactionLimitCeiling() int64 {
	return form.reconciliation.TransactionLimitCeiling
}

// ReadOnly reports whether the identity provider already supplied the field.
func (form *Form) ReadOnly(field FormField) bool {
	detail, tracked := form.profileDetail(field)
	return tracked && detail.HasValue()
}

// ReadOnlyFields lists the locked fields in form order.
func (form *Form) ReadOnlyFields() []FormField {
	locked := make([]FormField, 0, len(FormFields()))
	for _, field := range FormFields() {
		if form.ReadOnly(field) {
			locked = append(locked, field)
		}
	}
	return locked
}

// SetField edits one overlay field.
func (form *Form) SetField(field FormField, value string) error {
	if form.submitted {
		return ErrFormSubmitted
	}
	if _, err := ParseFormField(string(field)); err != nil {
		return err
	}
	if form.ReadOnly(field) {
		return fmt.Errorf("%w: %s", ErrFieldReadOnly, field)
	}
	if !AcceptsEdit(field, value) {
		return fmt.Errorf("%w: %s", ErrEditRejected, field)
	}
	form.overlay = form.overlay.With(field, value)
	return nil
}

// SetAccountType selects the product; an empty value clears the selection.
func (form *Form) SetAccountType(raw string) error {
	if form.submitted {
		return ErrFormSubmitted
	}
	if strings.TrimSpace(raw) == "" {
		form.selections.AccountType = ""
		return nil
	}
	accountType, err := ParseAccountType(raw)
	if err != nil {
		return err
	}
	form.selections.AccountType = accountType
	return nil
}

// SetTransactionLimit feeds one edit of the limit input through UpdateTransactionLimit.
func (form *Form) SetTransactionLimit(rawInput string) (LimitEditOutcome, error) {
	if form.submitted {
		return LimitEditRejected, ErrFormSubmitted
	}
	next, outcome := UpdateTransactionLimit(form.selections.TransactionLimit, rawInput, form.TransactionLimitCeiling())
	form.selections.TransactionLimit = next
	return outcome, nil
}

// SetToggle flips one boolean input.
func (form *Form) SetToggle(toggle Toggle, enabled bool) error {
	if form.submitted {
		return ErrFormSubmitted
	}
	switch toggle {
	case ToggleInternetBanking:
		form.selections.InternetBanking = enabled
	case ToggleMobileBanking:
		form.selections.MobileBanking = enabled
	case ToggleATMDebitCard:
		form.selections.ATMDebitCard = enabled
	case ToggleDomesticTransactions:
		form.selections.DomesticTransactions = enabled
	case ToggleInternationalTransactions:
		form.selections.InternationalTransactions = enabled
	case ToggleConsent:
		form.selections.Consent = enabled
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormField, toggle)
	}
	return nil
}

// Evaluate re-runs the submission rules against the current state.
func (form *Form) Evaluate() Evaluation {
	return Evaluate(form.selections, form.overlay)
}

// State returns the lifecycle state; it is recomputed on every call.
func (form *Form) State() FormState {
	if form.submitted {
		return FormStateSubmitted
	}
	if IsSubmittable(form.selections, form.overlay) {
		return FormStateValid
	}
	return FormStateIncomplete
}

// Submission builds the output payload of a valid form.
func (form *Form) Submission() (Submission, error) {
	if form.submitted {
		return Submission{}, ErrFormSubmitted
	}
	if !IsSubmittable(form.selections, form.overlay) {
		return Submission{}, ErrFormIncomplete
	}
	return Submission{
		AccountType:      form.selections.AccountType,
		TransactionLimit: form.selections.TransactionLimit.Value,
		PersonalInfo:     form.overlay,
		ChannelAccess: ChannelAccess{
			InternetBanking: form.selections.InternetBanking,
			MobileBanking:   form.selections.MobileBanking,
			ATMDebitCard:    form.selections.ATMDebitCard,
		},
		PaymentCapabilities: PaymentCapabilities{
			DomesticTransactions:      form.selections.DomesticTransactions,
			InternationalTransactions: form.selections.InternationalTransactions,
		},
	}, nil
}

func (form *Form) profileDetail(field FormField) (ClaimDetail, bool) {
	profile := form.reconciliation.Profile
	switch field {
	case FieldName:
		return profile.Name, true
	case FieldEmail:
		return profile.Email, true
	case FieldPhoneNumber:
		return profile.PhoneNumber, true
	case FieldGender:
		return profile.Gender, true
	case FieldBirthdate:
		return profile.Birthdate, true
	case FieldAddress:
		return profile.Address, true
	default:
		return ClaimDetail{}, false
	}
}
