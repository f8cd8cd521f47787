package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultMaxRuleLength bounds the size of a rule sent to the engine.
const DefaultMaxRuleLength = 1024

// Record field names, in the order they are reported when missing.
const (
	FieldAge        = "age"
	FieldSalary     = "salary"
	FieldExperience = "experience"
	FieldDepartment = "department"
)

var recordFields = []string{FieldAge, FieldSalary, FieldExperience, FieldDepartment}

// NormalizeRule trims rule and checks it is usable as engine input.
// It is a pure function and never contacts the engine.
// maxLen <= 0 disables the length check.
func NormalizeRule(rule string, maxLen int) (string, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return "", ErrEmptyRule
	}
	if maxLen > 0 && utf8.RuneCountInString(rule) > maxLen {
		return "", fmt.Errorf("%w: %d characters, limit %d", ErrRuleTooLong, utf8.RuneCountInString(rule), maxLen)
	}
	return rule, nil
}

// ParseRecord builds a Record from raw form fields.
//
// All four fields must be present and non-blank; otherwise an
// *IncompleteDataError lists every missing field. Numeric fields are parsed
// as base-10 integers; the first one that fails yields an
// *InvalidNumericFieldError. No silent coercion happens.
func ParseRecord(fields map[string]string) (Record, error) {
	var missing []string
	for _, name := range recordFields {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Record{}, &IncompleteDataError{Missing: missing}
	}

	var rec Record
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{FieldAge, &rec.Age},
		{FieldSalary, &rec.Salary},
		{FieldExperience, &rec.Experience},
	} {
		raw := strings.TrimSpace(fields[f.name])
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Record{}, &InvalidNumericFieldError{Field: f.name, Value: raw, Err: err}
		}
		*f.dst = n
	}
	rec.Department = strings.TrimSpace(fields[FieldDepartment])
	return rec, nil
}
