package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TimurManjosov/rulekit/internal/cli"
	"github.com/TimurManjosov/rulekit/internal/rules"
	"github.com/TimurManjosov/rulekit/internal/ruleset"
)

var checkConcurrency int

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate every rule in a rules file",
	Long: `Validate each rule of a rules file against the engine and report per-rule results.
Rules are checked independently and concurrently; the command fails if any rule is rejected.

Supported formats: YAML or JSON ({"rules": [...]}) and plain text (one rule per line).

Examples:
  rulekit check rules.yaml
  rulekit check rules.txt --concurrency 8 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := cli.ReadRulesFile(args[0])
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return fmt.Errorf("no rules found in %s", args[0])
		}

		c, err := newEngineClient(newLogger())
		if err != nil {
			return err
		}

		results, err := runCheck(cmd.Context(), c, list, checkConcurrency)
		if err != nil {
			return err
		}

		if !quiet {
			if err := cli.PrintCheckResults(cmd.OutOrStdout(), results, outputFormat()); err != nil {
				return err
			}
		}

		failed := 0
		for _, r := range results {
			if !r.OK {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d rules failed validation", failed, len(results))
		}
		return nil
	},
}

// runCheck validates each rule independently with at most n calls in flight.
// Engine rejections are reported per rule; only transport failures and
// cancellation abort the run.
func runCheck(ctx context.Context, v ruleset.Validator, list []string, n int) ([]cli.CheckResult, error) {
	if n < 1 {
		n = 1
	}
	results := make([]cli.CheckResult, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for i, raw := range list {
		g.Go(func() error {
			res := cli.CheckResult{Index: i, Rule: raw}
			rule, err := rules.NormalizeRule(raw, rules.DefaultMaxRuleLength)
			if err != nil {
				res.Error = err.Error()
				results[i] = res
				return nil
			}

			ast, err := v.Validate(gctx, rule, rules.FallbackAddMessage)
			switch {
			case err == nil:
				res.OK = true
				res.AST = ast
			case ruleset.IsRejection(err):
				res.Error = err.Error()
			default:
				return fmt.Errorf("rule %d: %w", i+1, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().IntVar(&checkConcurrency, "concurrency", 4, "Maximum concurrent engine calls")
}
