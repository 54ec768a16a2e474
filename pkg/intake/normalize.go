package intake

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	errDateAbsent       = errors.New("date absent")
	errDateUnrecognized = errors.New("date format not recognized")

	isoDatePattern       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dayFirstDatePattern  = regexp.MustCompile(`^(\d{1,2})[-/](\d{1,2})[-/](\d{4})$`)
	yearFirstDatePattern = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)
)

// addressComponents lists structured-address keys in rendering order.
var addressComponents = []string{
	"formatted",
	"street_address",
	"addressLine1",
	"addressLine2",
	"addressLine3",
	"locality",
	"city",
	"province",
	"region",
	addressPostalCode,
	"country",
}

const (
	addressPostalCode = "postalCode"
	addressSeparator  = ", "
)

// NormalizeDate reshapes a date string into YYYY-MM-DD. Unrecognized input yields "".
func NormalizeDate(input any) string {
	normalized, _ := normalizeDate(input)
	return normalized
}

func normalizeDate(input any) (string, error) {
	raw, isString := input.(string)
	if !isString {
		if input == nil {
			return "", errDateAbsent
		}
		return "", fmt.Errorf("%w: %T", errDateUnrecognized, input)
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errDateAbsent
	}
	if isoDatePattern.MatchString(trimmed) {
		return trimmed, nil
	}
	if match := dayFirstDatePattern.FindStringSubmatch(trimmed); match != nil {
		return joinDate(match[3], match[2], match[1]), nil
	}
	if match := yearFirstDatePattern.FindStringSubmatch(trimmed); match != nil {
		return joinDate(match[1], match[2], match[3]), nil
	}
	return "", fmt.Errorf("%w: %q", errDateUnrecognized, trimmed)
}

func joinDate(year string, month string, day string) string {
	return year + "-" + padTwo(month) + "-" + padTwo(day)
}

func padTwo(value string) string {
	if len(value) < 2 {
		return "0" + value
	}
	return value
}

// FormatAddress renders a string or structured address as a single line.
func FormatAddress(input any) string {
	switch typed := input.(type) {
	case nil:
		return ""
	case string:
		return typed
	case map[string]any:
		return joinAddress(func(key string) any { return typed[key] })
	case map[string]string:
		return joinAddress(func(key string) any { return typed[key] })
	default:
		return ""
	}
}

func joinAddress(lookup func(key string) any) string {
	parts := make([]string, 0, len(addressComponents))
	for _, key := range addressComponents {
		value := lookup(key)
		if !isTruthy(value) {
			continue
		}
		text := scalarText(value)
		if text == "" {
			continue
		}
		if key == addressPostalCode {
			text = "(" + text + ")"
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, addressSeparator)
}
