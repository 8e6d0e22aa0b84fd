package domain

import "strings"

// Severity enumerates ticket urgency in normalized form.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// NormalizeSeverity maps arbitrary input to a Severity. It is total:
// unrecognized values fall back to MEDIUM. Known aliases from legacy data
// are folded into the canonical set.
func NormalizeSeverity(raw string) Severity {
	switch upperTrim(raw) {
	case "LOW", "MINOR", "L1":
		return SeverityLow
	case "MEDIUM", "MED", "NORMAL", "MODERATE":
		return SeverityMedium
	case "HIGH", "MAJOR":
		return SeverityHigh
	case "CRITICAL", "URGENT", "BLOCKER":
		return SeverityCritical
	}
	return SeverityMedium
}

// Display renders the severity in title case for email and UI output.
func (s Severity) Display() string {
	v := string(s)
	if v == "" {
		v = string(SeverityMedium)
	}
	return strings.ToUpper(v[:1]) + strings.ToLower(v[1:])
}

func upperTrim(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

func lowerTrim(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
