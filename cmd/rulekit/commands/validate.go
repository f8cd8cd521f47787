package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/rulekit/internal/cli"
	"github.com/TimurManjosov/rulekit/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate <rule>",
	Short: "Validate a rule and print its AST",
	Long: `Send one rule to the engine for parsing and print the resulting AST.

Examples:
  rulekit validate "age > 30"
  rulekit validate "age > 30 AND department = 'Sales'" --format yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := rules.NormalizeRule(strings.Join(args, " "), rules.DefaultMaxRuleLength)
		if err != nil {
			return err
		}

		c, err := newEngineClient(newLogger())
		if err != nil {
			return err
		}

		ast, err := c.Validate(cmd.Context(), rule, rules.FallbackAddMessage)
		if err != nil {
			return fmt.Errorf("invalid rule: %w", err)
		}

		if !quiet {
			return cli.PrintAST(cmd.OutOrStdout(), ast, outputFormat())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
