package rules

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// NormalizeRule
// ---------------------------------------------------------------------------

func TestNormalizeRule(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxLen  int
		want    string
		wantErr error
	}{
		{name: "plain rule", input: "age > 30", want: "age > 30"},
		{name: "trims whitespace", input: "  age > 30 AND department = 'Sales'\n", want: "age > 30 AND department = 'Sales'"},
		{name: "empty", input: "", wantErr: ErrEmptyRule},
		{name: "whitespace only", input: " \t\n ", wantErr: ErrEmptyRule},
		{name: "at limit", input: "abcd", maxLen: 4, want: "abcd"},
		{name: "over limit", input: "abcde", maxLen: 4, wantErr: ErrRuleTooLong},
		{name: "limit disabled", input: strings.Repeat("x", 5000), maxLen: 0, want: strings.Repeat("x", 5000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRule(tt.input, tt.maxLen)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ParseRecord
// ---------------------------------------------------------------------------

func TestParseRecord_Success(t *testing.T) {
	rec, err := ParseRecord(map[string]string{
		"age":        "35",
		"salary":     " 50000 ",
		"experience": "5",
		"department": "Sales",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Record{Age: 35, Salary: 50000, Experience: 5, Department: "Sales"}
	if rec != want {
		t.Errorf("got %+v, want %+v", rec, want)
	}
}

func TestParseRecord_MissingFields(t *testing.T) {
	tests := []struct {
		name        string
		fields      map[string]string
		wantMissing []string
	}{
		{
			name:        "missing department",
			fields:      map[string]string{"age": "35", "salary": "50000", "experience": "5"},
			wantMissing: []string{"department"},
		},
		{
			name:        "blank salary",
			fields:      map[string]string{"age": "35", "salary": "  ", "experience": "5", "department": "Sales"},
			wantMissing: []string{"salary"},
		},
		{
			name:        "nothing supplied",
			fields:      nil,
			wantMissing: []string{"age", "salary", "experience", "department"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord(tt.fields)
			var incomplete *IncompleteDataError
			if !errors.As(err, &incomplete) {
				t.Fatalf("expected *IncompleteDataError, got %v", err)
			}
			if !reflect.DeepEqual(incomplete.Missing, tt.wantMissing) {
				t.Errorf("missing: got %v, want %v", incomplete.Missing, tt.wantMissing)
			}
		})
	}
}

func TestParseRecord_InvalidNumeric(t *testing.T) {
	_, err := ParseRecord(map[string]string{
		"age":        "35",
		"salary":     "fifty thousand",
		"experience": "5",
		"department": "Sales",
	})

	var invalid *InvalidNumericFieldError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidNumericFieldError, got %v", err)
	}
	if invalid.Field != "salary" {
		t.Errorf("field: got %q, want %q", invalid.Field, "salary")
	}
	if invalid.Value != "fifty thousand" {
		t.Errorf("value: got %q", invalid.Value)
	}
}

func TestParseRecord_IncompleteTakesPrecedence(t *testing.T) {
	// A blank department is reported even when a numeric field is also bad.
	_, err := ParseRecord(map[string]string{"age": "abc", "salary": "1", "experience": "1"})
	var incomplete *IncompleteDataError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected *IncompleteDataError, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestStaleCombinationMatchesMissing(t *testing.T) {
	if !errors.Is(ErrStaleCombination, ErrMissingCombination) {
		t.Error("ErrStaleCombination should match ErrMissingCombination")
	}
	if errors.Is(ErrMissingCombination, ErrStaleCombination) {
		t.Error("ErrMissingCombination should not match ErrStaleCombination")
	}
}

func TestEvaluationErrorCarriesStatusText(t *testing.T) {
	err := NewEvaluationError(500)
	if err.StatusText != "Internal Server Error" {
		t.Errorf("status text: got %q", err.StatusText)
	}
	if err.Error() != "Network response was not ok: Internal Server Error" {
		t.Errorf("message: got %q", err.Error())
	}
}

func TestNewDecisionLabel(t *testing.T) {
	if d := NewDecision(true, Record{}, nil, zeroTime); d.Label != Eligible {
		t.Errorf("true: got %q", d.Label)
	}
	if d := NewDecision(false, Record{}, nil, zeroTime); d.Label != NotEligible {
		t.Errorf("false: got %q", d.Label)
	}
}

var zeroTime = time.Time{}
