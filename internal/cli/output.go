package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/rulekit/internal/rules"
	"github.com/TimurManjosov/rulekit/internal/session"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// CheckResult is the outcome of validating one rule from a rules file.
type CheckResult struct {
	Index int       `json:"index" yaml:"index"`
	Rule  string    `json:"rule" yaml:"rule"`
	OK    bool      `json:"ok" yaml:"ok"`
	Error string    `json:"error,omitempty" yaml:"error,omitempty"`
	AST   rules.AST `json:"ast,omitempty" yaml:"-"`
}

// PrintRules outputs the rule set in order
func PrintRules(w io.Writer, list []string, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string][]string{"rules": list})
	case FormatYAML:
		return printYAML(w, map[string][]string{"rules": list})
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("#", "Rule")
		for i, r := range list {
			table.Append(strconv.Itoa(i+1), r)
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintAST outputs an engine AST. Table format prints indented JSON, since
// the AST shape is owned by the engine.
func PrintAST(w io.Writer, ast rules.AST, format OutputFormat) error {
	switch format {
	case FormatYAML:
		v, err := decodeAST(ast)
		if err != nil {
			return err
		}
		return printYAML(w, v)
	case FormatJSON, FormatTable:
		return printJSON(w, ast)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintDecision outputs an evaluation decision
func PrintDecision(w io.Writer, d rules.Decision, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, d)
	case FormatYAML:
		return printYAML(w, map[string]any{
			"result":      d.Result,
			"label":       d.Label,
			"record":      d.Record,
			"evaluatedAt": d.EvaluatedAt,
		})
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Decision", "Age", "Salary", "Experience", "Department")
		table.Append(
			d.Label,
			strconv.Itoa(d.Record.Age),
			strconv.Itoa(d.Record.Salary),
			strconv.Itoa(d.Record.Experience),
			d.Record.Department,
		)
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintCheckResults outputs per-rule validation results
func PrintCheckResults(w io.Writer, results []CheckResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string][]CheckResult{"results": results})
	case FormatYAML:
		return printYAML(w, map[string][]CheckResult{"results": results})
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("#", "Rule", "Status", "Error")
		for _, r := range results {
			status := "ok"
			if !r.OK {
				status = "FAIL"
			}
			table.Append(strconv.Itoa(r.Index+1), truncate(r.Rule, 50), status, r.Error)
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintView outputs a session view (shell "show")
func PrintView(w io.Writer, v session.View, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, v)
	case FormatYAML:
		out := map[string]any{
			"rules":       v.Rules,
			"version":     v.Version,
			"fingerprint": v.Fingerprint,
		}
		if v.Combined != nil {
			ast, err := decodeAST(v.Combined.AST)
			if err != nil {
				return err
			}
			out["combined"] = map[string]any{"ast": ast, "stale": v.Combined.Stale}
		}
		if v.LastDecision != nil {
			out["decision"] = v.LastDecision.Label
		}
		if v.Warning != "" {
			out["warning"] = v.Warning
		}
		return printYAML(w, out)
	case FormatTable:
		if err := PrintRules(w, v.Rules, FormatTable); err != nil {
			return err
		}
		table := tablewriter.NewWriter(w)
		table.Header("Combined", "Stale", "Decision", "Warning")
		combined, stale, decision := "no", "-", "-"
		if v.Combined != nil {
			combined = humanize.Time(v.Combined.CombinedAt)
			stale = strconv.FormatBool(v.Combined.Stale)
		}
		if v.LastDecision != nil {
			decision = v.LastDecision.Label
		}
		table.Append(combined, stale, decision, v.Warning)
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func decodeAST(ast rules.AST) (any, error) {
	var v any
	if err := json.Unmarshal(ast, &v); err != nil {
		return nil, fmt.Errorf("failed to decode AST: %w", err)
	}
	return v, nil
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	// rules are full of comparison operators
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
