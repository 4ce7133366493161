package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mklimuk/frontdesk/pkg/app"
)

func addSendUp(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "sendup [list]",
		Short: "Print send-up lists, or one list laid out in its columns.",
		Example: `
frontdesk sendup
frontdesk sendup tower
frontdesk sendup add tower 12B
frontdesk sendup rm tower 12B
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				if len(args) == 1 {
					return printGrid(cmd, a, args[0])
				}
				tbl := newTable("ID", "LIST", "UNITS")
				for _, l := range a.SendUp.Lists() {
					tbl.AddRow(l.ID, l.Name, strings.Join(a.SendUp.Labels(l.ID), " "))
				}
				printTable(cmd.OutOrStdout(), "Send-up lists", tbl)
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <list> <unit>...",
		Short: "Add units to a list.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				for _, label := range args[1:] {
					if err := a.SendUp.Add(cmd.Context(), args[0], label); err != nil {
						return err
					}
				}
				return printGrid(cmd, a, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "rm <list> <unit>...",
		Aliases: []string{"remove"},
		Short:   "Remove units from a list.",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				for _, label := range args[1:] {
					if err := a.SendUp.Remove(cmd.Context(), args[0], label); err != nil {
						return err
					}
				}
				return printGrid(cmd, a, args[0])
			})
		},
	})
	topLevel.AddCommand(cmd)
}

func printGrid(cmd *cobra.Command, a *app.App, id string) error {
	grid, err := a.SendUp.Grid(id)
	if err != nil {
		return err
	}
	title := id
	for _, l := range a.SendUp.Lists() {
		if l.ID == id {
			title = l.Name
		}
	}
	tbl := newTable()
	for _, row := range grid {
		cells := make([]interface{}, len(row))
		for i, c := range row {
			cells[i] = c
		}
		tbl.AddRow(cells...)
	}
	printTable(cmd.OutOrStdout(), fmt.Sprintf("%s (%d)", title, len(a.SendUp.Labels(id))), tbl)
	return nil
}
