package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/rulekit/internal/cli"
	"github.com/TimurManjosov/rulekit/internal/session"
)

const shellHelp = `Commands:
  add <rule>          validate and append a rule
  update <rule>       validate and replace the last rule
  remove              remove the last rule
  list                list the rules in order
  combine             combine the rules into one rule
  clear               discard the combined rule
  eval k=v ...        evaluate the combined rule (age, salary, experience, department)
  show                show the full session state
  reset               clear everything
  save <file>         write the rules to a file
  load <file>         validate and append every rule of a file
  help                show this help
  quit                leave the shell`

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive rule editing session",
	Long: `Start an interactive session holding an ordered rule set.
Each line is one command; type "help" for the list.

Example:
  rulekit shell --profile staging`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		sh := newShell(s, cmd.OutOrStdout(), outputFormat())
		return sh.run(cmd.Context(), cmd.InOrStdin())
	},
}

// shell drives one session from line commands. Command errors are printed
// and the loop continues; only input errors end it.
type shell struct {
	s      *session.Session
	out    io.Writer
	format cli.OutputFormat
	prompt string
}

func newShell(s *session.Session, out io.Writer, format cli.OutputFormat) *shell {
	return &shell{s: s, out: out, format: format, prompt: "rulekit> "}
}

func (sh *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(sh.out, sh.prompt)
		if !scanner.Scan() {
			fmt.Fprintln(sh.out)
			return scanner.Err()
		}

		quit, err := sh.exec(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (sh *shell) exec(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(sh.out, shellHelp)
		return false, nil
	case "add":
		ast, err := sh.s.Append(ctx, rest)
		if err != nil {
			return false, err
		}
		return false, cli.PrintAST(sh.out, ast, sh.format)
	case "update":
		ast, err := sh.s.ReplaceLast(ctx, rest)
		if err != nil {
			return false, err
		}
		return false, cli.PrintAST(sh.out, ast, sh.format)
	case "remove":
		if err := sh.s.RemoveLast(); err != nil {
			return false, err
		}
		return false, cli.PrintRules(sh.out, sh.s.Rules(), sh.format)
	case "list":
		return false, cli.PrintRules(sh.out, sh.s.Rules(), sh.format)
	case "combine":
		combined, err := sh.s.Combine(ctx)
		if err != nil {
			return false, err
		}
		return false, cli.PrintAST(sh.out, combined.AST, sh.format)
	case "clear":
		sh.s.ClearCombination()
		fmt.Fprintln(sh.out, "combined rule cleared")
		return false, nil
	case "eval", "evaluate":
		fields, err := parseFields(rest)
		if err != nil {
			return false, err
		}
		d, err := sh.s.EvaluateFields(ctx, fields)
		if err != nil {
			return false, err
		}
		return false, cli.PrintDecision(sh.out, d, sh.format)
	case "show":
		return false, cli.PrintView(sh.out, sh.s.View(), sh.format)
	case "reset":
		sh.s.Reset()
		fmt.Fprintln(sh.out, "session reset")
		return false, nil
	case "save":
		if rest == "" {
			return false, errors.New("usage: save <file>")
		}
		list := sh.s.Rules()
		if err := cli.WriteRulesFile(rest, list); err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "saved %d rules to %s\n", len(list), rest)
		return false, nil
	case "load":
		if rest == "" {
			return false, errors.New("usage: load <file>")
		}
		list, err := cli.ReadRulesFile(rest)
		if err != nil {
			return false, err
		}
		if err := loadRules(ctx, sh.s, list); err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "loaded %d rules from %s\n", len(list), rest)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q, type \"help\" for the list", name)
	}
}

// parseFields reads key=value pairs; values may not contain spaces.
func parseFields(args string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, kv := range strings.Fields(args) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", kv)
		}
		fields[strings.ToLower(k)] = v
	}
	return fields, nil
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
