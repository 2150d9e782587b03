package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"contour/internal/engine"
	"contour/internal/journey"
)

func mapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Manage journey maps",
		Long:  "A map is one journey dataset {moments, stages, comments, kpiConfig}. Full saves, imports and restores write a new version.",
	}
	cmd.AddCommand(mapListCmd())
	cmd.AddCommand(mapShowCmd())
	cmd.AddCommand(mapImportCmd())
	cmd.AddCommand(mapExportCmd())
	cmd.AddCommand(mapVersionsCmd())
	cmd.AddCommand(mapRestoreCmd())
	return cmd
}

func mapListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List maps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				maps, err := e.ListMaps(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(maps)
				}
				tw := newTable("Slug", "Moments", "Versions", "Updated")
				for _, m := range maps {
					tw.AppendRow(table.Row{m.Slug, m.Moments, m.Versions, m.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func mapShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the map document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.LoadMap(ctx, mapSlug())
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

func mapImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the map with a dataset file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.ImportMap(ctx, mapSlug(), data, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("imported %d moments into %s (version %d)\n", len(rec.Data.Moments), rec.Slug, rec.Version)
				return nil
			})
		},
	}
}

func mapExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the map dataset as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := e.ExportMap(ctx, mapSlug())
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = os.Stdout.Write(append(data, '\n'))
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func mapVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List map versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				versions, err := e.ListVersions(ctx, mapSlug())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(versions)
				}
				tw := newTable("Version", "Created")
				for _, v := range versions {
					tw.AppendRow(table.Row{v.Version, v.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func mapRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <version>",
		Short: "Restore a version as the current map",
		Long:  "Restoring writes the old dataset as a new version; history is never rewritten.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("version must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.RestoreVersion(ctx, mapSlug(), v, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("restored version %d of %s as version %d\n", v, rec.Slug, rec.Version)
				return nil
			})
		},
	}
}

func viewCmd() *cobra.Command {
	var query, layers, level, kpi string
	var heatmap bool
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show the derived journey view",
		Long:  "Moments filtered, sorted and grouped by stage. With --heatmap and --kpi each moment gets a heat score.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := journey.ViewOptions{
					Filter:  journey.FilterOptions{Query: query, DPLevel: level},
					Heatmap: heatmap || kpi != "",
					KpiKey:  kpi,
				}
				if layers != "" {
					opts.Filter.LayerVisibility = map[string]bool{}
					for _, l := range strings.Split(layers, ",") {
						opts.Filter.LayerVisibility[strings.TrimSpace(l)] = true
					}
				}
				v, err := e.View(ctx, mapSlug(), opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				tw := newTable("Stage", "Col", "Moment", "Layers", "Level", "Comments", "Heat")
				for _, g := range v.Groups {
					for _, m := range g.Moments {
						heat := ""
						if m.Heat != nil {
							heat = string(m.Heat.Tier)
							if m.Heat.OK {
								heat = fmt.Sprintf("%.2f %s", m.Heat.Score, m.Heat.Tier)
							}
						}
						tw.AppendRow(table.Row{
							g.Stage.DisplayLabel(), m.Column, m.Moment.Title,
							strings.Join(m.Moment.Layers, ","), m.Moment.Level(), m.Comments, heat,
						})
					}
				}
				tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d of %d visible", v.Visible, v.Total)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "text search")
	cmd.Flags().StringVar(&layers, "layers", "", "comma separated visible layers")
	cmd.Flags().StringVar(&level, "dp-level", "all", "tactical, integrated or all")
	cmd.Flags().StringVar(&kpi, "kpi", "", "KPI key to score")
	cmd.Flags().BoolVar(&heatmap, "heatmap", false, "score moments for --kpi")
	return cmd
}

func kpiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kpi",
		Short: "Inspect KPIs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List KPI keys used by the moments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.KpiSummary(ctx, mapSlug())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum.Keys)
				}
				for _, k := range sum.Keys {
					fmt.Println(k)
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "domains",
		Short: "Show observed KPI ranges and scoring config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.KpiSummary(ctx, mapSlug())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				tw := newTable("KPI", "Observed min", "Observed max", "Min", "Max", "Higher is better")
				for _, k := range sum.Keys {
					d := sum.Domains[k]
					c := sum.Config[k]
					tw.AppendRow(table.Row{k, d.Min, d.Max, floatOr(c.Min, "-"), floatOr(c.Max, "-"), boolOr(c.HigherIsBetter, "yes")})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func commentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Comment on moments",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <moment-id>",
		Short: "List comments, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Comments(ctx, mapSlug(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Author", "When", "Text")
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Author, c.TS, c.Text})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <moment-id> <text>",
		Short: "Add a comment as --actor-id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, mapSlug(), args[0], strings.Join(args[1:], " "), actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <moment-id> <comment-id>",
		Short: "Delete a comment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteComment(ctx, mapSlug(), args[0], args[1], actor())
			})
		},
	})
	return cmd
}

func floatOr(v *float64, fallback string) string {
	if v == nil {
		return fallback
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func boolOr(v *bool, fallback string) string {
	switch {
	case v == nil:
		return fallback
	case *v:
		return "yes"
	default:
		return "no"
	}
}
