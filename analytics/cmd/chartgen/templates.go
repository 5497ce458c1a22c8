package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/altocentral/backend/analytics/pkg/app"
	"github.com/altocentral/backend/analytics/pkg/templates"
)

func newTemplatesCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect saved chart templates",
	}

	var category string
	list := &cobra.Command{
		Use:   "list",
		Short: "List templates, most used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				items, err := a.Service.ListTemplates(ctx, flags.site, category)
				if err != nil {
					return err
				}
				printTemplates(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
	list.Flags().StringVarP(&category, "category", "c", "", "only list this category")

	show := &cobra.Command{
		Use:   "show <template-id>",
		Short: "Print a template as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				t, err := a.Catalog.Get(ctx, args[0], flags.site)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(t); err != nil {
					return fmt.Errorf("failed to encode template: %w", err)
				}
				return enc.Close()
			})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func printTemplates(w io.Writer, items []templates.ListItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No templates.")
		return
	}
	table := newTable(w)
	table.SetHeader([]string{"Template", "Title", "Category", "Site", "Uses", "Tags"})
	for _, it := range items {
		site := it.Site
		if site == "" {
			site = "-"
		}
		table.Append([]string{
			it.TemplateID,
			it.Title,
			it.Category,
			site,
			strconv.Itoa(it.UsageCount),
			strings.Join(it.Tags, ", "),
		})
	}
	table.Render()
}
