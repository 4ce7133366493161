package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mklimuk/frontdesk/pkg/app"
)

func addJobs(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List scheduled jobs and their last runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.open(cmd.Context(), true, func(a *app.App) error {
				tbl := newTable("JOB", "SCHEDULE", "NEXT RUN")
				for _, j := range a.Jobs.Jobs() {
					next := "-"
					if j.NextRun != nil {
						next = j.NextRun.Local().Format("Mon Jan 2 15:04")
					}
					tbl.AddRow(j.Name, j.Schedule, next)
				}
				printTable(cmd.OutOrStdout(), "Jobs", tbl)

				runs, err := a.Repo.ListJobRuns(cmd.Context(), 10)
				if err != nil {
					return err
				}
				hist := newTable("JOB", "STARTED", "STATUS", "RESULT")
				for _, r := range runs {
					status := r.Status
					if status == "failed" {
						status = red(status)
					}
					hist.AddRow(r.Job, r.StartedAt.Local().Format("Jan 2 15:04"), status, r.Result)
				}
				printTable(cmd.OutOrStdout(), "Recent runs", hist)
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run <job>",
		Short: "Run a job now.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.open(cmd.Context(), true, func(a *app.App) error {
				result, err := a.Jobs.RunNow(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], result)
				return nil
			})
		},
	})
	topLevel.AddCommand(cmd)
}
