package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mklimuk/frontdesk/pkg/app"
	"github.com/mklimuk/frontdesk/pkg/passon"
)

func addNotes(topLevel *cobra.Command, ro *rootOptions) {
	all := false
	cmd := &cobra.Command{
		Use:     "notes",
		Aliases: []string{"note", "passon"},
		Short:   "List pass-on notes, most urgent first.",
		Example: `
frontdesk notes
frontdesk notes --all
frontdesk notes add "Boiler check at 9pm"
frontdesk notes urgency 3f2c high
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				tbl := newTable("ID", "URGENCY", "NOTE", "ADDED")
				for _, n := range a.Notes.Notes() {
					if n.Completed && !all {
						continue
					}
					text := n.Text
					if n.Completed {
						text = faint(text + " (done)")
					}
					tbl.AddRow(shortID(n.ID), urgency(n.Urgency), text, n.Timestamp.Local().Format("Jan 2 15:04"))
				}
				printTable(cmd.OutOrStdout(), "Pass-on notes", tbl)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include completed notes.")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <text>",
		Short: "Add a note with low urgency.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Notes.Add(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added note %s\n", shortID(n.ID))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "urgency <id> <low|medium|high>",
		Short: "Change the urgency of a note.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := passon.ParseUrgency(args[1])
			if err != nil {
				return err
			}
			return ro.withNote(cmd, args[0], func(a *app.App, id string) error {
				return a.Notes.SetUrgency(cmd.Context(), id, u)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "edit <id> <text>",
		Short: "Replace the text of a note.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.withNote(cmd, args[0], func(a *app.App, id string) error {
				return a.Notes.Edit(cmd.Context(), id, strings.Join(args[1:], " "))
			})
		},
	})
	for _, done := range []bool{true, false} {
		use, short := "done <id>", "Mark a note completed."
		if !done {
			use, short = "undone <id>", "Mark a note not completed."
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return ro.withNote(cmd, args[0], func(a *app.App, id string) error {
					return a.Notes.SetCompleted(cmd.Context(), id, done)
				})
			},
		})
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a note.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.withNote(cmd, args[0], func(a *app.App, id string) error {
				return a.Notes.Delete(cmd.Context(), id)
			})
		},
	})

	topLevel.AddCommand(cmd)
}

const shortIDLen = 8

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

// withNote resolves an id or unique id prefix before running fn.
func (ro *rootOptions) withNote(cmd *cobra.Command, prefix string, fn func(a *app.App, id string) error) error {
	return ro.withApp(cmd.Context(), func(a *app.App) error {
		id := prefix
		var matches []string
		for _, n := range a.Notes.Notes() {
			if strings.HasPrefix(n.ID, prefix) {
				matches = append(matches, n.ID)
			}
		}
		if len(matches) == 1 {
			id = matches[0]
		}
		if err := fn(a, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated note %s\n", shortID(id))
		return nil
	})
}
