// Package rules holds the domain types shared by the rule-set client:
// rule text, the opaque ASTs produced by the rule engine, the data record
// a combined rule is evaluated against, and the error taxonomy.
package rules

import (
	"bytes"
	"encoding/json"
	"time"
)

// AST is an abstract syntax tree produced by the rule engine.
// The client never inspects its shape; it is stored and forwarded verbatim.
type AST = json.RawMessage

// Record holds the user attributes a combined rule is evaluated against.
type Record struct {
	Age        int    `json:"age"`
	Salary     int    `json:"salary"`
	Experience int    `json:"experience"`
	Department string `json:"department"`
}

// Decision wording shown to the user.
const (
	Eligible    = "Eligible"
	NotEligible = "Not Eligible"
)

// Decision is the outcome of one evaluate call.
type Decision struct {
	Result      bool            `json:"result"`
	Label       string          `json:"label"`
	Record      Record          `json:"record"`
	Payload     json.RawMessage `json:"payload,omitempty"` // full engine response body
	EvaluatedAt time.Time       `json:"evaluatedAt"`
}

// NewDecision builds a Decision with the user-facing label for result.
func NewDecision(result bool, record Record, payload json.RawMessage, at time.Time) Decision {
	label := NotEligible
	if result {
		label = Eligible
	}
	return Decision{
		Result:      result,
		Label:       label,
		Record:      record,
		Payload:     payload,
		EvaluatedAt: at,
	}
}

// Combined is a combined AST together with the rule-set state it was derived from.
type Combined struct {
	AST          AST       `json:"ast"`
	Serialized   string    `json:"-"`
	Rules        []string  `json:"rules"`
	RulesVersion uint64    `json:"rulesVersion"`
	Seq          uint64    `json:"seq"`
	CombinedAt   time.Time `json:"combinedAt"`
}

// NewCombined builds a Combined entry, keeping a compact serialized form of
// the AST for transport to the evaluator.
func NewCombined(ast AST, rules []string, version, seq uint64, at time.Time) Combined {
	snapshot := make([]string, len(rules))
	copy(snapshot, rules)

	serialized := string(ast)
	var buf bytes.Buffer
	if json.Compact(&buf, ast) == nil {
		serialized = buf.String()
	}
	return Combined{
		AST:          ast,
		Serialized:   serialized,
		Rules:        snapshot,
		RulesVersion: version,
		Seq:          seq,
		CombinedAt:   at,
	}
}
