package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mklimuk/frontdesk/pkg/app"
	"github.com/mklimuk/frontdesk/pkg/shift"
)

func addShift(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Show the shift board.",
		Example: `
frontdesk shift
frontdesk shift member add team Ana
frontdesk shift assign "Tower Round" 0 Ana
frontdesk shift complete "Tower Round"
frontdesk shift team Swing
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withApp(cmd.Context(), func(a *app.App) error {
				printShift(cmd, a.Shift.Data())
				return nil
			})
		},
	}

	member := &cobra.Command{Use: "member", Short: "Manage the team and township rosters."}
	member.AddCommand(&cobra.Command{
		Use:   "add <team|township> <name>",
		Short: "Add a member to a roster.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.shiftAction(cmd, func(a *app.App) error {
				return a.Shift.AddMember(cmd.Context(), shift.Roster(args[0]), strings.Join(args[1:], " "))
			})
		},
	})
	member.AddCommand(&cobra.Command{
		Use:   "set <team|township> <index> [name]",
		Short: "Rename the member at index. Without a name the member is removed.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			return ro.shiftAction(cmd, func(a *app.App) error {
				return a.Shift.UpdateMember(cmd.Context(), shift.Roster(args[0]), index, strings.Join(args[2:], " "))
			})
		},
	})
	cmd.AddCommand(member)

	cmd.AddCommand(&cobra.Command{
		Use:       "team <Days|Swing|Grave>",
		Short:     "Select the team on shift.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(shift.Days), string(shift.Swing), string(shift.Grave)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.shiftAction(cmd, func(a *app.App) error {
				return a.Shift.SetTeam(cmd.Context(), shift.Team(args[0]))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "assign <task> <slot> [name]",
		Short: "Assign a task slot. Without a name the slot is cleared.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid slot %q", args[1])
			}
			return ro.shiftAction(cmd, func(a *app.App) error {
				return a.Shift.AssignTask(cmd.Context(), args[0], slot, strings.Join(args[2:], " "))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "complete <task>",
		Short: "Mark a task done now.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.shiftAction(cmd, func(a *app.App) error {
				return a.Shift.CompleteTask(cmd.Context(), args[0])
			})
		},
	})

	task := &cobra.Command{Use: "task", Short: "Edit the task list."}
	task.AddCommand(&cobra.Command{
		Use:   "add <category> <name>",
		Short: "Add a task, creating the category if needed.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.shiftAction(cmd, func(a *app.App) error {
				return a.Shift.AddTask(cmd.Context(), args[0], args[1])
			})
		},
	})
	task.AddCommand(&cobra.Command{
		Use:   "edit <name> <category> <new name>",
		Short: "Rename a task or move it to another category.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.shiftAction(cmd, func(a *app.App) error {
				return a.Shift.UpdateTask(cmd.Context(), args[0], args[1], args[2])
			})
		},
	})
	task.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a task.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ro.shiftAction(cmd, func(a *app.App) error {
				return a.Shift.DeleteTask(cmd.Context(), args[0])
			})
		},
	})
	cmd.AddCommand(task)

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Start a new shift: clear assignments and completion.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.shiftAction(cmd, func(a *app.App) error {
				return a.Shift.Reset(cmd.Context())
			})
		},
	})

	topLevel.AddCommand(cmd)
}

// shiftAction runs fn and prints the board after it.
func (ro *rootOptions) shiftAction(cmd *cobra.Command, fn func(a *app.App) error) error {
	return ro.withApp(cmd.Context(), func(a *app.App) error {
		if err := fn(a); err != nil {
			return err
		}
		printShift(cmd, a.Shift.Data())
		return nil
	})
}

func printShift(cmd *cobra.Command, d shift.Data) {
	w := cmd.OutOrStdout()
	roster := newTable("TEAM", "MEMBERS")
	roster.AddRow("On shift", string(d.SelectedTeam))
	roster.AddRow("Team", strings.Join(d.TeamMembers, ", "))
	roster.AddRow("Township", strings.Join(d.TownshipMembers, ", "))
	printTable(w, "Shift", roster)

	tbl := newTable("CATEGORY", "TASK", "ASSIGNED", "DONE")
	for _, category := range d.Categories() {
		for _, name := range d.Tasks[category] {
			st := d.TasksState[name]
			var assigned []string
			for _, a := range st.Assignments {
				if a != "" {
					assigned = append(assigned, a)
				}
			}
			done := st.Timestamp
			if st.Completed {
				done = green(done)
			}
			tbl.AddRow(category, name, strings.Join(assigned, ", "), done)
		}
	}
	printTable(w, "", tbl)
}
