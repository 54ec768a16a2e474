package intake

import "testing"

func TestNormalizeDate(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name  string
		input any
		want  string
	}{
		{name: "day first", input: "15-03-2024", want: "2024-03-15"},
		{name: "day first slashes", input: "5/3/2024", want: "2024-03-05"},
		{name: "year first unpadded", input: "2024-3-5", want: "2024-03-05"},
		{name: "year first slashes", input: "2024/12/01", want: "2024-12-01"},
		{name: "already iso", input: "2024-03-15", want: "2024-03-15"},
		{name: "surrounding whitespace", input: "  2024-03-15 ", want: "2024-03-15"},
		{name: "not a date", input: "not-a-date", want: ""},
		{name: "empty", input: "", want: ""},
		{name: "nil", input: nil, want: ""},
		{name: "number", input: 20240315.0, want: ""},
		{name: "three digit day", input: "150-03-2024", want: ""},
		{name: "no range validation", input: "99-99-2024", want: "2024-99-99"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := NormalizeDate(testCase.input); got != testCase.want {
				test.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}

func TestFormatAddress(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name  string
		input any
		want  string
	}{
		{name: "structured", input: map[string]any{"city": "Pune", "postalCode": "411001", "country": "India"}, want: "Pune, (411001), India"},
		{name: "nil", input: nil, want: ""},
		{name: "string", input: "123 Main St", want: "123 Main St"},
		{
			name: "ordering",
			input: map[string]any{
				"country":        "India",
				"formatted":      "Flat 4",
				"street_address": "MG Road",
				"addressLine1":   "Block A",
				"locality":       "Camp",
				"region":         "MH",
			},
			want: "Flat 4, MG Road, Block A, Camp, MH, India",
		},
		{name: "empty parts skipped", input: map[string]any{"city": "", "province": nil, "country": "India"}, want: "India"},
		{name: "numeric postal code", input: map[string]any{"postalCode": 411001.0}, want: "(411001)"},
		{name: "string map", input: map[string]string{"city": "Pune", "postalCode": "411001"}, want: "Pune, (411001)"},
		{name: "unsupported type", input: 42.0, want: ""},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := FormatAddress(testCase.input); got != testCase.want {
				test.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}
