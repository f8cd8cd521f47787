package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/rulekit/internal/cli"
	"github.com/TimurManjosov/rulekit/internal/rules"
	"github.com/TimurManjosov/rulekit/internal/session"
)

var (
	evalFile       string
	evalAge        string
	evalSalary     string
	evalExperience string
	evalDepartment string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [rule...]",
	Short: "Evaluate rules against a user record",
	Long: `Combine rules and evaluate the combined rule against one record.
All four record fields are required; numeric fields must be whole numbers.

Examples:
  rulekit evaluate --file rules.yaml --age 35 --salary 50000 --experience 5 --department Sales
  rulekit evaluate "age > 30" --age 35 --salary 0 --experience 0 --department HR`,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := collectRules(evalFile, args)
		if err != nil {
			return err
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		d, err := runEvaluate(cmd.Context(), s, list, map[string]string{
			rules.FieldAge:        evalAge,
			rules.FieldSalary:     evalSalary,
			rules.FieldExperience: evalExperience,
			rules.FieldDepartment: evalDepartment,
		})
		if err != nil {
			return err
		}

		if !quiet {
			return cli.PrintDecision(cmd.OutOrStdout(), d, outputFormat())
		}
		return nil
	},
}

// runEvaluate checks the record before any engine call, then loads list
// into s, combines and evaluates.
func runEvaluate(ctx context.Context, s *session.Session, list []string, fields map[string]string) (rules.Decision, error) {
	rec, err := rules.ParseRecord(fields)
	if err != nil {
		return rules.Decision{}, err
	}

	if err := loadRules(ctx, s, list); err != nil {
		return rules.Decision{}, err
	}
	if _, err := s.Combine(ctx); err != nil {
		return rules.Decision{}, fmt.Errorf("combine failed: %w", err)
	}
	return s.Evaluate(ctx, rec)
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&evalFile, "file", "f", "", "Rules file (YAML, JSON or plain text)")
	evaluateCmd.Flags().StringVar(&evalAge, "age", "", "Age (integer)")
	evaluateCmd.Flags().StringVar(&evalSalary, "salary", "", "Salary (integer)")
	evaluateCmd.Flags().StringVar(&evalExperience, "experience", "", "Experience in years (integer)")
	evaluateCmd.Flags().StringVar(&evalDepartment, "department", "", "Department")
}
