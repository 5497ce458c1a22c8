package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/altocentral/backend/analytics/pkg/app"
	"github.com/altocentral/backend/analytics/pkg/service"
	"github.com/altocentral/backend/analytics/pkg/templates"
)

func newGenerateCmd(flags *rootFlags) *cobra.Command {
	var (
		skipTemplates bool
		skipAI        bool
		templateID    string
		params        []string
		outPath       string
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate a chart for a request, or render a template with --template",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" && templateID == "" {
				return errors.New("a prompt or --template is required")
			}
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				var resp service.Response
				if templateID != "" {
					resp = a.Service.GenerateFromTemplate(ctx, templateID, flags.site, parsed)
				} else {
					resp = a.Service.GenerateChart(ctx, service.Request{
						Prompt:        prompt,
						SiteID:        flags.site,
						Parameters:    parsed,
						SkipTemplates: skipTemplates,
						SkipAI:        skipAI,
					})
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), resp)
				}
				printResponse(cmd.OutOrStdout(), resp)
				if outPath != "" && resp.PlotlySpec != nil {
					if err := writeSpec(outPath, resp); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Plotly spec written to %s\n", outPath)
				}
				if resp.Error != nil {
					return errors.New(*resp.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipTemplates, "skip-templates", false, "go straight to the AI agent")
	cmd.Flags().BoolVar(&skipAI, "skip-ai", false, "only try saved templates")
	cmd.Flags().StringVarP(&templateID, "template", "t", "", "render this template instead of matching the prompt")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "template parameter as key=value (repeatable)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the plotly spec to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func newMatchCmd(flags *rootFlags) *cobra.Command {
	var minConfidence float64
	cmd := &cobra.Command{
		Use:   "match <prompt>",
		Short: "Show which templates a request matches and how closely",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				catalog, err := a.Catalog.ForSite(ctx, flags.site)
				if err != nil {
					return err
				}
				matches := templates.FindAllMatches(prompt, flags.site, catalog, minConfidence, 0)
				if len(matches) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No templates matched.")
					return nil
				}
				printMatches(cmd.OutOrStdout(), matches)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", templates.DefaultSuggestionMin, "lowest confidence to list")
	return cmd
}

// parseParams turns key=value pairs into template parameters. Numeric values
// become numbers; everything else stays a string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", p)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out, nil
}

func printResponse(w io.Writer, resp service.Response) {
	fmt.Fprintln(w, resp.Message)

	table := newTable(w)
	table.SetHeader([]string{"Field", "Value"})
	if resp.ChartID != "" {
		table.Append([]string{"Chart", resp.ChartID})
	}
	if resp.TemplateUsed != nil {
		tmpl := *resp.TemplateUsed
		if resp.TemplateMatchConfidence != nil {
			tmpl += fmt.Sprintf(" (%.2f)", *resp.TemplateMatchConfidence)
		}
		table.Append([]string{"Template", tmpl})
	}
	if resp.PlotlySpec != nil {
		types := make([]string, 0, len(resp.PlotlySpec.Data))
		for _, tr := range resp.PlotlySpec.Data {
			types = append(types, tr.Type)
		}
		table.Append([]string{"Traces", strings.Join(types, ", ")})
	}
	if len(resp.DataSources) > 0 {
		table.Append([]string{"Sources", strings.Join(resp.DataSources, ", ")})
	}
	if resp.QuerySummary != "" {
		table.Append([]string{"Data", resp.QuerySummary})
	}
	if len(resp.Suggestions) > 0 {
		table.Append([]string{"Did you mean", strings.Join(resp.Suggestions, "; ")})
	}
	if table.NumLines() > 0 {
		table.Render()
	}
}

func printMatches(w io.Writer, matches []templates.Match) {
	table := newTable(w)
	table.SetHeader([]string{"Template", "Title", "Category", "Confidence"})
	for _, m := range matches {
		table.Append([]string{
			m.Template.ID,
			m.Template.Metadata.Title,
			m.Template.Metadata.Category,
			fmt.Sprintf("%.2f", m.Confidence),
		})
	}
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	return table
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSpec(path string, resp service.Response) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := writeJSON(f, resp.PlotlySpec); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
