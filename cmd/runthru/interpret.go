package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"runthru/internal/interpreter"
	"runthru/internal/logging"
)

func newInterpretCommand(c *cli) *cobra.Command {
	var useLLM bool
	cmd := &cobra.Command{
		Use:   "interpret <instruction>...",
		Short: "Show the browser action each instruction resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var strategy interpreter.Strategy = interpreter.Heuristic{}
			if useLLM {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				_, completer := newLLM(cfg.LLM, logging.NewComponentLogger("LLM"))
				strategy = interpreter.NewLLMStrategy(completer, cfg.LLM.CacheSize, logging.NewComponentLogger("Interpreter"))
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			for _, instruction := range args {
				printResolution(cmd.OutOrStdout(), instruction, strategy.Resolve(ctx, instruction))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useLLM, "llm", false, "resolve with the configured language model")
	return cmd
}

func printResolution(out io.Writer, instruction string, res interpreter.Resolution) {
	bold := color.New(color.Bold)
	bold.Fprintf(out, "%q\n", instruction)
	fmt.Fprintf(out, "  -> %s\n", formatAction(res.Action))
	if rule := interpreter.RuleName(instruction); rule != "" {
		color.New(color.FgHiBlack).Fprintf(out, "     rule: %s\n", rule)
	}
	if res.Rationale != "" {
		color.New(color.FgHiBlack).Fprintf(out, "     model: %s\n", strings.TrimSpace(res.Rationale))
	}
}

func formatAction(a interpreter.Action) string {
	switch v := a.(type) {
	case interpreter.Navigate:
		return "navigate " + v.URL
	case interpreter.Click:
		return fmt.Sprintf("click %q", v.Target)
	case interpreter.Fill:
		return fmt.Sprintf("fill %q with %q", v.Target, v.Value)
	case interpreter.Scroll:
		return fmt.Sprintf("scroll %dpx", v.Pixels)
	case interpreter.Wait:
		return "wait " + v.Duration.String()
	case interpreter.Screenshot:
		return "screenshot"
	case interpreter.Unknown:
		return "unknown (" + v.Reason + ")"
	default:
		return string(a.Kind())
	}
}
