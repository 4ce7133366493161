package commands

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mklimuk/frontdesk/pkg/app"
	"github.com/mklimuk/frontdesk/pkg/incident"
)

func addIncidents(topLevel *cobra.Command, ro *rootOptions) {
	limit := 20
	live := false
	cmd := &cobra.Command{
		Use:     "incidents",
		Aliases: []string{"incident"},
		Short:   "List logged incidents, newest first.",
		Example: `
frontdesk incidents --limit 5
frontdesk incidents log --start 2024-10-16T09:00 --description "Water leak" --location Lobby
frontdesk incidents stats
frontdesk incidents export --format xlsx
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				list := a.Incidents.All()
				if live {
					list = a.Incidents.Live()
				}
				if limit > 0 && len(list) > limit {
					list = list[:limit]
				}
				tbl := newTable("DATE", "CALLED", "RESPONSE", "LOCATION", "DESCRIPTION")
				for _, inc := range list {
					tbl.AddRow(inc.Date.Format("2006-01-02"), inc.TimeCalled, incident.ResponseTime(inc), inc.Location, inc.Description)
				}
				printTable(cmd.OutOrStdout(), "Incidents", tbl)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many incidents; 0 shows all.")
	cmd.Flags().BoolVar(&live, "live", false, "Leave out the historical log.")

	form := incident.Form{}
	suggest := false
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Log an incident.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				out := cmd.OutOrStdout()
				if suggest && form.Location == "" {
					s, err := a.Incidents.Suggest(cmd.Context(), form.Description)
					if err != nil {
						return err
					}
					form.Location, form.CustomLocation = s.Location, s.CustomLocation
					fmt.Fprintf(out, "Suggested location: %s\n", s.Suggested)
				}
				inc, err := a.Incidents.Add(cmd.Context(), form)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Logged incident %s at %s\n", shortID(inc.ID), inc.Location)
				return nil
			})
		},
	}
	logCmd.Flags().StringVar(&form.StartTime, "start", "", "When the call came in (2006-01-02T15:04).")
	logCmd.Flags().StringVar(&form.ArrivalTime, "arrival", "", "When someone arrived (2006-01-02T15:04).")
	logCmd.Flags().StringVar(&form.Description, "description", "", "What happened.")
	logCmd.Flags().StringVar(&form.Location, "location", "", "Where it happened; Custom takes --custom-location.")
	logCmd.Flags().StringVar(&form.CustomLocation, "custom-location", "", "Free-text location.")
	logCmd.Flags().StringVar(&form.ResolutionTime, "resolution-time", "", "When it was resolved (2006-01-02T15:04).")
	logCmd.Flags().StringVar(&form.ResolutionDescription, "resolution", "", "How it was resolved.")
	logCmd.Flags().BoolVar(&suggest, "suggest", false, "Ask the suggestion service for the location when none is given.")
	cmd.AddCommand(logCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show incident counts by month and the most frequent locations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				list := a.Incidents.All()
				now := time.Now()
				out := cmd.OutOrStdout()
				s := incident.Summarize(list, now)
				fmt.Fprintf(out, "%s %d  %s %d  %s %d\n\n", bold("Total"), s.Total, bold("This year"), s.ThisYear, bold("Last year"), s.LastYear)

				m := incident.Monthly(list, now)
				months := newTable("MONTH", m.CurrentYear, m.PreviousYear)
				for _, mc := range m.Months {
					months.AddRow(mc.Month, mc.Current, mc.Previous)
				}
				printTable(out, "By month", months)

				top := newTable("LOCATION", "INCIDENTS")
				for _, lc := range incident.TopLocations(list, 7) {
					top.AddRow(lc.Name, lc.Count)
				}
				printTable(out, "Top locations", top)
				return nil
			})
		},
	})

	format := "csv"
	output := ""
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the incident report as CSV or XLSX.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				list := a.Incidents.All()
				var buf bytes.Buffer
				switch format {
				case "csv":
					if err := incident.WriteCSV(&buf, list); err != nil {
						return err
					}
				case "xlsx":
					data, err := incident.XLSX(list)
					if err != nil {
						return err
					}
					buf.Write(data)
				default:
					return fmt.Errorf("unsupported format %q", format)
				}
				if output == "-" {
					_, err := cmd.OutOrStdout().Write(buf.Bytes())
					return err
				}
				path := output
				if path == "" {
					path = incident.ReportName(time.Now(), format)
				}
				if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d incidents to %s\n", len(list), path)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&format, "format", "f", "csv", "csv or xlsx.")
	export.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout. Defaults to a dated report name.")
	cmd.AddCommand(export)

	topLevel.AddCommand(cmd)
}
