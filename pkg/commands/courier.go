package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mklimuk/frontdesk/pkg/app"
	"github.com/mklimuk/frontdesk/pkg/courier"
)

func addCourier(topLevel *cobra.Command, ro *rootOptions) {
	direction := string(courier.Incoming)
	cmd := &cobra.Command{
		Use:     "courier",
		Aliases: []string{"packages"},
		Short:   "Show this week's package counts per courier and day.",
		Example: `
frontdesk courier
frontdesk courier --direction outgoing
frontdesk courier add ups 3
frontdesk courier add ups -- -1
frontdesk courier archive
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := courier.ParseDirection(direction)
			if err != nil {
				return err
			}
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				key, week, err := a.Courier.Current(cmd.Context())
				if err != nil {
					return err
				}
				printCounts(cmd, key, dir, week.Counts(dir))
				return nil
			})
		},
	}
	cmd.PersistentFlags().StringVarP(&direction, "direction", "d", string(courier.Incoming), "incoming or outgoing.")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <courier> [count]",
		Short: "Add to today's count of a courier. Negative counts subtract, never below zero.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := courier.ParseDirection(direction)
			if err != nil {
				return err
			}
			delta := 1
			if len(args) == 2 {
				if delta, err = strconv.Atoi(args[1]); err != nil {
					return fmt.Errorf("invalid count %q", args[1])
				}
			}
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Courier.Adjust(cmd.Context(), dir, args[0], delta); err != nil {
					return err
				}
				key, week, err := a.Courier.Current(cmd.Context())
				if err != nil {
					return err
				}
				printCounts(cmd, key, dir, week.Counts(dir))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "archive",
		Short: "Archive this week and start from zero.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Courier.Archive(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), green("Week archived."))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "archives [index]",
		Short: "List archived weeks, or show one of them.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := courier.ParseDirection(direction)
			if err != nil {
				return err
			}
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				if len(args) == 0 {
					tbl := newTable("#", "WEEK", "IN", "OUT")
					for i, w := range a.Courier.Archives() {
						tbl.AddRow(i, w.Label(), w.CountsIncoming.Total(), w.CountsOutgoing.Total())
					}
					printTable(cmd.OutOrStdout(), "Archived weeks", tbl)
					return nil
				}
				index, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid index %q", args[0])
				}
				w, err := a.Courier.Archived(index)
				if err != nil {
					return err
				}
				printCounts(cmd, w.WeekStart, dir, w.Week().Counts(dir))
				return nil
			})
		},
	})
	complete := false
	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Check for an archive that stopped before clearing its week.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				rec, err := a.Courier.RecoveryCheck(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if rec == nil {
					fmt.Fprintln(out, "Archives are consistent.")
					return nil
				}
				if !complete {
					fmt.Fprintf(out, "%s week %s is archived but still counted. Run with --complete to clear it.\n",
						yellow("Incomplete:"), courier.Label(rec.WeekKey))
					return nil
				}
				if err := a.Courier.CompleteArchive(cmd.Context(), rec.WeekKey); err != nil {
					return err
				}
				fmt.Fprintf(out, "Cleared week %s.\n", courier.Label(rec.WeekKey))
				return nil
			})
		},
	}
	recoverCmd.Flags().BoolVar(&complete, "complete", false, "Clear the counts of the incomplete archive.")
	cmd.AddCommand(recoverCmd)

	topLevel.AddCommand(cmd)
}

func printCounts(cmd *cobra.Command, weekKey string, dir courier.Direction, counts courier.Counts) {
	header := []interface{}{"COURIER"}
	for _, d := range courier.Days {
		header = append(header, d)
	}
	header = append(header, "TOTAL")
	tbl := newTable(header...)

	totals := counts.Totals()
	for _, c := range courier.Couriers {
		row := []interface{}{c.Name}
		for _, d := range courier.Days {
			row = append(row, counts[c.ID][d])
		}
		tbl.AddRow(append(row, bold(totals[c.ID]))...)
	}
	dayTotals := counts.DayTotals()
	row := []interface{}{bold("Total")}
	for _, d := range courier.Days {
		row = append(row, bold(dayTotals[d]))
	}
	tbl.AddRow(append(row, bold(counts.Total()))...)

	printTable(cmd.OutOrStdout(), fmt.Sprintf("%s, %s", courier.Label(weekKey), dir), tbl)
}
