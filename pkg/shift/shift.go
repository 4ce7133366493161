// Package shift keeps the shift task board: who is on shift, which rounds and
// audits are due, who took them and when they were done.
package shift

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/pipeline"
	"github.com/mklimuk/frontdesk/pkg/reconcile"
)

// Key is the store key holding the board.
const Key = "shiftNotesData"

// Unassigned is the assignee value that clears a slot.
const Unassigned = "unassigned"

// NotDone is the timestamp shown for tasks not yet completed.
const NotDone = "--:--"

type Team string

const (
	Days  Team = "Days"
	Swing Team = "Swing"
	Grave Team = "Grave"
)

var Teams = []Team{Days, Swing, Grave}

// DefaultCategories lists the built-in categories in display order.
var DefaultCategories = []string{"Operations", "Amenities", "Packages"}

// DefaultTasks returns a fresh copy of the built-in task list.
func DefaultTasks() map[string][]string {
	return map[string][]string{
		"Operations": {
			"Exterior Round with Intercom Check", "Podium Stairwell #6 Round", "Podium Round", "Tower Round",
			"41st & 42nd floor check #1", "41st & 42nd floor check #2", "Called 706 About Roof Inspection",
			"Down Reports", "Weekly P.E.",
		},
		"Amenities": {
			"Gym t.v. ON", "Gym t.v. OFF", "5th Floor Amenities Door OPEN", "5th Floor Amenities Door CLOSED",
			"5th Floor Amenities Round", "Amenities Reservations Completed/Processed",
		},
		"Packages": {
			"Key Audit", "Podium Package Audit #1", "Podium Package Audit #2", "Tower Package Audit #1",
			"Tower Package Audit #2", "Outgoing Package Audit", "Gym Audit",
		},
	}
}

type TaskState struct {
	Assignments []string `json:"assignments"`
	Timestamp   string   `json:"timestamp"`
	Completed   bool     `json:"completed"`
}

func newTaskState() TaskState {
	return TaskState{Assignments: []string{""}, Timestamp: NotDone}
}

type Data struct {
	TeamMembers     []string             `json:"teamMembers"`
	TownshipMembers []string             `json:"townshipMembers"`
	Tasks           map[string][]string  `json:"tasks"`
	TasksState      map[string]TaskState `json:"tasksState"`
	Notes           []json.RawMessage    `json:"notes"`
	SelectedTeam    Team                 `json:"selectedTeam"`
}

// Initial returns the board a new shift starts from.
func Initial() Data {
	d := Data{
		TeamMembers:     []string{},
		TownshipMembers: []string{},
		Tasks:           DefaultTasks(),
		Notes:           []json.RawMessage{},
		SelectedTeam:    Days,
	}
	d.TasksState = reconcile.KeyedBy(d.TaskNames(), nil, newTaskState)
	return d
}

// Categories returns the categories in display order: built-ins first, then
// the rest alphabetically.
func (d Data) Categories() []string {
	var out []string
	for _, c := range DefaultCategories {
		if _, ok := d.Tasks[c]; ok {
			out = append(out, c)
		}
	}
	var extra []string
	for c := range d.Tasks {
		if !contains(DefaultCategories, c) {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// TaskNames lists every task in category display order.
func (d Data) TaskNames() []string {
	var names []string
	for _, c := range d.Categories() {
		names = append(names, d.Tasks[c]...)
	}
	return names
}

// CategoryOf returns the category holding task.
func (d Data) CategoryOf(task string) (string, bool) {
	for c, tasks := range d.Tasks {
		if contains(tasks, task) {
			return c, true
		}
	}
	return "", false
}

// Decode reconciles a stored board. tasksState always ends up keyed by
// exactly the current task names.
func Decode(raw json.RawMessage) (Data, reconcile.Issues) {
	r := reconcile.Parse(raw)
	d := Data{
		TeamMembers:     uniqueNames(reconcile.Field(r, "teamMembers", func() []string { return []string{} })),
		TownshipMembers: uniqueNames(reconcile.Field(r, "townshipMembers", func() []string { return []string{} })),
		Notes:           reconcile.Field(r, "notes", func() []json.RawMessage { return []json.RawMessage{} }),
		SelectedTeam:    reconcile.Field(r, "selectedTeam", func() Team { return Days }, reconcile.OneOf(Teams...)),
	}

	tasks := reconcile.Map[[]string](r, "tasks")
	if r.IsObject("tasks") {
		d.Tasks = make(map[string][]string)
		seen := make(map[string]struct{})
		// Walk categories in a stable order so duplicate names resolve the
		// same way on every client.
		for _, c := range (Data{Tasks: tasks}).Categories() {
			var kept []string
			for _, name := range tasks[c] {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				kept = append(kept, name)
			}
			d.Tasks[c] = nonNil(kept)
		}
	} else {
		d.Tasks = DefaultTasks()
	}

	stored := reconcile.Map[TaskState](r, "tasksState")
	for name, st := range stored {
		if len(st.Assignments) == 0 {
			st.Assignments = []string{""}
		}
		if st.Timestamp == "" {
			st.Timestamp = NotDone
		}
		stored[name] = st
	}
	d.TasksState = reconcile.KeyedBy(d.TaskNames(), stored, newTaskState)
	return d, r.Issues()
}

// Board is the live shift board.
type Board struct {
	rec *pipeline.Record[Data]
	now func() time.Time
}

func Open(ctx context.Context, store keyed.Store, opts ...pipeline.Option) (*Board, error) {
	rec, err := pipeline.Open(ctx, store, Key, Decode, opts...)
	if err != nil {
		return nil, err
	}
	return &Board{rec: rec, now: time.Now}, nil
}

// Data returns the current board.
func (b *Board) Data() Data {
	return b.rec.State()
}

func (b *Board) Watch(fn func(Data)) func() {
	return b.rec.Watch(fn)
}

func (b *Board) Flush(ctx context.Context) error {
	return b.rec.Flush(ctx)
}

func (b *Board) Close() error {
	return b.rec.Close()
}

func uniqueNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
