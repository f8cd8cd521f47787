package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/rulekit/internal/cli"
	"github.com/TimurManjosov/rulekit/internal/session"
)

var combineFile string

var combineCmd = &cobra.Command{
	Use:   "combine [rule...]",
	Short: "Combine rules into a single rule",
	Long: `Validate rules in order and ask the engine to combine them into one rule.
Rules come from arguments or from --file; argument rules are appended after file rules.

Examples:
  rulekit combine "age > 30" "department = 'Sales'"
  rulekit combine --file rules.yaml --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := collectRules(combineFile, args)
		if err != nil {
			return err
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := loadRules(cmd.Context(), s, list); err != nil {
			return err
		}

		combined, err := s.Combine(cmd.Context())
		if err != nil {
			return fmt.Errorf("combine failed: %w", err)
		}

		if !quiet {
			return cli.PrintAST(cmd.OutOrStdout(), combined.AST, outputFormat())
		}
		return nil
	},
}

// collectRules merges rules from an optional file with positional arguments.
func collectRules(file string, args []string) ([]string, error) {
	var list []string
	if file != "" {
		fromFile, err := cli.ReadRulesFile(file)
		if err != nil {
			return nil, err
		}
		list = append(list, fromFile...)
	}
	list = append(list, args...)
	if len(list) == 0 {
		return nil, errors.New("no rules given: pass rules as arguments or use --file")
	}
	return list, nil
}

// loadRules appends list to s in order, stopping at the first failure.
func loadRules(ctx context.Context, s *session.Session, list []string) error {
	for i, r := range list {
		if _, err := s.Append(ctx, r); err != nil {
			return fmt.Errorf("rule %d (%q): %w", i+1, r, err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(combineCmd)
	combineCmd.Flags().StringVarP(&combineFile, "file", "f", "", "Rules file (YAML, JSON or plain text)")
}
