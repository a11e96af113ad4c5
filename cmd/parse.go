package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/payparse/internal/api"
	"github.com/JakeFAU/payparse/internal/parser"
)

// parseReport is the API response plus how the answer was found.
type parseReport struct {
	api.ParseResponse
	Tier     string `json:"tier,omitempty"`
	Selector string `json:"selector,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Raw      string `json:"raw,omitempty"`
}

func newParseReport(out parser.Outcome) parseReport {
	report := parseReport{ParseResponse: api.NewParseResponse(out.Result)}
	if !out.Cached {
		report.Tier = out.Tier.String()
	}
	if out.Raw != nil {
		report.Selector = out.Raw.SourceSelector
		report.Strategy = out.Raw.Strategy
		report.Raw = out.Raw.AmountText + " " + out.Raw.CurrencyToken
	}
	return report
}

func newParseCmd(rt *cliState) *cobra.Command {
	var dumpHTML string
	cmd := &cobra.Command{
		Use:   "parse <url>",
		Short: "Parse one checkout URL and print the result",
		Long: `Runs a single validate, render, extract and normalize pass without the HTTP
layer and prints the JSON result. --dump-html writes the rendered markup to a
file for selector tuning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rt.svc.Parse(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if dumpHTML != "" {
				if err := os.WriteFile(dumpHTML, []byte(out.HTML), 0o600); err != nil {
					return fmt.Errorf("dump html: %w", err)
				}
				rt.logger.Info("rendered html written", zap.String("path", dumpHTML), zap.Int("bytes", len(out.HTML)))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(newParseReport(out)); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dumpHTML, "dump-html", "", "write the rendered HTML to this file")
	return cmd
}
