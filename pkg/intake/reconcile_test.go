package intake

import (
	"bytes"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestResolveFieldAbsentEverywhere(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		raw  RawProfile
	}{
		{name: "nil profile", raw: nil},
		{name: "empty profile", raw: RawProfile{}},
		{name: "other fields only", raw: RawProfile{"email": "a@example.com"}},
		{
			name: "assertions without field",
			raw: RawProfile{
				"verified_claims": []any{
					map[string]any{"claims": map[string]any{"email": "a@example.com"}},
				},
			},
		},
		{name: "malformed verified claims", raw: RawProfile{"verified_claims": "nope"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			detail := ResolveField(testCase.raw, "name")
			if detail.Value != nil || detail.Verified {
				test.Fatalf("expected {nil false}, got %+v", detail)
			}
		})
	}
}

func TestResolveFieldFirstVerifiedAssertionWins(test *testing.T) {
	test.Parallel()
	raw := RawProfile{
		"name": "Self Asserted",
		"verified_claims": []any{
			map[string]any{"claims": map[string]any{"email": "first@example.com"}},
			map[string]any{"claims": map[string]any{"name": "First Verified"}},
			map[string]any{"claims": map[string]any{"name": "Second Verified"}},
		},
	}
	detail := ResolveField(raw, "name")
	if !detail.Verified {
		test.Fatalf("expected verified detail")
	}
	if detail.Value != "First Verified" {
		test.Fatalf("expected first verified value, got %v", detail.Value)
	}
}

func TestResolveFieldTopLevelOnlyIsUnverified(test *testing.T) {
	test.Parallel()
	raw := RawProfile{"email": "self@example.com", "verified_claims": []any{}}
	detail := ResolveField(raw, "email")
	if detail.Verified || detail.Value != "self@example.com" {
		test.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestResolveFieldSkipsFalsyClaims(test *testing.T) {
	test.Parallel()
	raw := RawProfile{
		"phone_number": "+1 555",
		"verified_claims": []any{
			map[string]any{"claims": map[string]any{"phone_number": ""}},
			map[string]any{"claims": map[string]any{"phone_number": nil}},
			"not an object",
			map[string]any{"claims": "not a map"},
		},
	}
	detail := ResolveField(raw, "phone_number")
	if detail.Verified || detail.Value != "+1 555" {
		test.Fatalf("expected top-level unverified value, got %+v", detail)
	}
}

func TestCountVerifiedClaimsUsesSetSemantics(test *testing.T) {
	test.Parallel()
	forward := RawProfile{"verified_claims": []any{
		map[string]any{"claims": map[string]any{"a": 1.0}},
		map[string]any{"claims": map[string]any{"a": 2.0, "b": 3.0}},
	}}
	reversed := RawProfile{"verified_claims": []any{
		map[string]any{"claims": map[string]any{"a": 2.0, "b": 3.0}},
		map[string]any{"claims": map[string]any{"a": 1.0}},
	}}
	if count := CountVerifiedClaims(forward); count != 2 {
		test.Fatalf("expected 2, got %d", count)
	}
	if count := CountVerifiedClaims(reversed); count != 2 {
		test.Fatalf("expected 2 for reversed order, got %d", count)
	}
}

func TestCountVerifiedClaimsEdgeCases(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		raw  RawProfile
		want int
	}{
		{name: "nil profile", raw: nil, want: 0},
		{name: "missing key", raw: RawProfile{"name": "x"}, want: 0},
		{name: "not a sequence", raw: RawProfile{"verified_claims": map[string]any{"claims": map[string]any{"a": 1.0}}}, want: 0},
		{name: "null values ignored", raw: RawProfile{"verified_claims": []any{
			map[string]any{"claims": map[string]any{"a": nil, "b": ""}},
		}}, want: 1},
		{name: "falsy but present values count", raw: RawProfile{"verified_claims": []any{
			map[string]any{"claims": map[string]any{"a": false, "b": 0.0}},
		}}, want: 2},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := CountVerifiedClaims(testCase.raw); got != testCase.want {
				test.Fatalf("expected %d, got %d", testCase.want, got)
			}
		})
	}
}

func TestReconcileNormalizesAddressAndBirthdate(test *testing.T) {
	test.Parallel()
	raw := RawProfile{
		"name":      "Asha Rao",
		"birthdate": "15/03/1990",
		"address":   map[string]any{"city": "Pune", "postalCode": "411001", "country": "India"},
		"verified_claims": []any{
			map[string]any{"claims": map[string]any{"birthdate": "1990-3-15", "email": "asha@example.com"}},
		},
	}
	reconciliation := NewReconciler().Reconcile(raw)
	profile := reconciliation.Profile
	if profile.Birthdate.Value != "1990-03-15" || !profile.Birthdate.Verified {
		test.Fatalf("unexpected birthdate: %+v", profile.Birthdate)
	}
	if profile.Address.Value != "Pune, (411001), India" || profile.Address.Verified {
		test.Fatalf("unexpected address: %+v", profile.Address)
	}
	if profile.Name.Value != "Asha Rao" || profile.Name.Verified {
		test.Fatalf("unexpected name: %+v", profile.Name)
	}
	if reconciliation.VerifiedClaimCount != 2 {
		test.Fatalf("expected 2 verified claims, got %d", reconciliation.VerifiedClaimCount)
	}
	if reconciliation.TransactionLimitCeiling != 2000 {
		test.Fatalf("expected ceiling 2000, got %d", reconciliation.TransactionLimitCeiling)
	}
}

func TestReconcileLogsUnrecognizedBirthdate(test *testing.T) {
	test.Parallel()
	var buffer bytes.Buffer
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&buffer), zapcore.DebugLevel)
	reconciler := NewReconciler(WithReconcilerLogger(zap.New(core)))

	reconciliation := reconciler.Reconcile(RawProfile{"birthdate": "March 15th"})
	if reconciliation.Profile.Birthdate.Value != "" {
		test.Fatalf("expected empty birthdate, got %v", reconciliation.Profile.Birthdate.Value)
	}
	if !bytes.Contains(buffer.Bytes(), []byte("birthdate format not recognized")) {
		test.Fatalf("expected warning, got %q", buffer.String())
	}

	buffer.Reset()
	reconciler.Reconcile(RawProfile{})
	if buffer.Len() != 0 {
		test.Fatalf("expected no warning for absent birthdate, got %q", buffer.String())
	}
}

func TestReconcileEmptyProfileHasMinimumCeiling(test *testing.T) {
	test.Parallel()
	reconciliation := NewReconciler().Reconcile(nil)
	if reconciliation.VerifiedClaimCount != 0 || reconciliation.TransactionLimitCeiling != PerClaimLimitUnit {
		test.Fatalf("unexpected reconciliation: %+v", reconciliation)
	}
	if reconciliation.Profile.Address.Value != "" || reconciliation.Profile.Birthdate.Value != "" {
		test.Fatalf("expected empty normalized fields, got %+v", reconciliation.Profile)
	}
}
