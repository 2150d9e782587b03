package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"contour/internal/engine"
	"contour/internal/playbook"
)

func personaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Inspect persona sets",
		Long:  "Persona sets (teams) are saved through the API, usually from the generate webhook.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sets",
		Short: "List persona sets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sets, err := e.ListPersonaSets(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sets)
				}
				tw := newTable("ID", "Name", "Personas", "Tags", "Created")
				for _, s := range sets {
					tw.AppendRow(table.Row{s.ID, s.Name, s.PersonaCount, strings.Join(s.Tags, ","), s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <set-id>",
		Short: "Show a set and its personas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.GetPersonaSet(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				fmt.Printf("%s (%s)\n", detail.Set.Name, detail.Set.ID)
				if detail.Set.Context != "" {
					fmt.Println(detail.Set.Context)
				}
				tw := newTable("ID", "Name", "Role", "Tags")
				for _, p := range detail.Personas {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Role, strings.Join(p.Tags, ",")})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func playbookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Manage the playbook document",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the playbook outline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, updatedAt, err := e.Playbook(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				outline, err := playbook.ParseOutline(doc)
				if err != nil {
					return err
				}
				source := "built-in"
				if updatedAt != "" {
					source = "saved " + updatedAt
				}
				fmt.Printf("%s %s (%s)\n", outline.Title, outline.Version, source)
				tw := newTable("Section", "Step", "Title", "Output")
				for _, s := range outline.Sections {
					for _, st := range s.Steps {
						tw.AppendRow(table.Row{s.Title, st.ID, st.Title, st.Output})
					}
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the playbook with a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				updatedAt, err := e.SavePlaybook(ctx, data, actor())
				if err != nil {
					return err
				}
				fmt.Println("playbook saved", updatedAt)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Drop the saved playbook and serve the built-in one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ResetPlaybook(ctx, actor())
			})
		},
	})
	return cmd
}
