package shift

import (
	"context"
	"strings"

	"github.com/mklimuk/frontdesk/pkg/pipeline"
)

// Roster selects one of the two member lists.
type Roster string

const (
	TeamRoster     Roster = "team"
	TownshipRoster Roster = "township"
)

func (r Roster) field() (string, error) {
	switch r {
	case TeamRoster:
		return "teamMembers", nil
	case TownshipRoster:
		return "townshipMembers", nil
	}
	return "", pipeline.Invalid("roster", "must be team or township, got %q", r)
}

func (r Roster) get(d Data) []string {
	if r == TownshipRoster {
		return d.TownshipMembers
	}
	return d.TeamMembers
}

func (r Roster) set(d *Data, members []string) {
	if r == TownshipRoster {
		d.TownshipMembers = members
		return
	}
	d.TeamMembers = members
}

// AddMember appends name to the roster.
func (b *Board) AddMember(ctx context.Context, roster Roster, name string) error {
	field, err := roster.field()
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return pipeline.Invalid("name", "member name is required")
	}
	return b.rec.Mutate(ctx, "add "+string(roster)+" member", func(d Data) (Data, pipeline.Delta, error) {
		members := roster.get(d)
		if contains(members, name) {
			return d, pipeline.None(), pipeline.Invalid("name", "%s is already listed", name)
		}
		next := append(append([]string(nil), members...), name)
		roster.set(&d, next)
		return d, pipeline.Field(field, next), nil
	})
}

// UpdateMember renames the member at index; an empty value removes it.
func (b *Board) UpdateMember(ctx context.Context, roster Roster, index int, value string) error {
	field, err := roster.field()
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	return b.rec.Mutate(ctx, "update "+string(roster)+" member", func(d Data) (Data, pipeline.Delta, error) {
		members := roster.get(d)
		if index < 0 || index >= len(members) {
			return d, pipeline.None(), pipeline.Invalid("index", "no member at position %d", index)
		}
		next := append([]string(nil), members...)
		if value == "" {
			next = append(next[:index], next[index+1:]...)
		} else {
			for i, m := range next {
				if i != index && m == value {
					return d, pipeline.None(), pipeline.Invalid("name", "%s is already listed", value)
				}
			}
			next[index] = value
		}
		roster.set(&d, next)
		return d, pipeline.Field(field, next), nil
	})
}

// SetTeam selects the team on shift.
func (b *Board) SetTeam(ctx context.Context, team Team) error {
	if !containsTeam(team) {
		return pipeline.Invalid("team", "must be Days, Swing or Grave, got %q", team)
	}
	return b.rec.Mutate(ctx, "select team", func(d Data) (Data, pipeline.Delta, error) {
		d.SelectedTeam = team
		return d, pipeline.Field("selectedTeam", team), nil
	})
}

// AssignTask sets slot of task to assignee. A slot equal to the number of
// existing slots adds one; "unassigned" clears the slot.
func (b *Board) AssignTask(ctx context.Context, task string, slot int, assignee string) error {
	if assignee == Unassigned {
		assignee = ""
	}
	return b.mutateTask(ctx, "assign task", task, func(st TaskState) (TaskState, error) {
		if slot < 0 || slot > len(st.Assignments) {
			return st, pipeline.Invalid("slot", "slot %d out of range", slot)
		}
		assignments := append([]string(nil), st.Assignments...)
		if slot == len(assignments) {
			assignments = append(assignments, assignee)
		} else {
			assignments[slot] = assignee
		}
		st.Assignments = assignments
		return st, nil
	})
}

// CompleteTask marks task done and stamps the local time as "03:04 PM".
func (b *Board) CompleteTask(ctx context.Context, task string) error {
	stamp := b.now().Format("03:04 PM")
	return b.mutateTask(ctx, "complete task", task, func(st TaskState) (TaskState, error) {
		st.Completed = true
		st.Timestamp = stamp
		return st, nil
	})
}

func (b *Board) mutateTask(ctx context.Context, action, task string, fn func(TaskState) (TaskState, error)) error {
	return b.rec.Mutate(ctx, action, func(d Data) (Data, pipeline.Delta, error) {
		st, ok := d.TasksState[task]
		if !ok {
			return d, pipeline.None(), pipeline.Invalid("task", "unknown task %q", task)
		}
		st, err := fn(st)
		if err != nil {
			return d, pipeline.None(), err
		}
		next := copyStates(d.TasksState)
		next[task] = st
		d.TasksState = next
		return d, pipeline.Field("tasksState", next), nil
	})
}

// AddTask appends name to category, creating the category if needed. Task
// names are unique across all categories.
func (b *Board) AddTask(ctx context.Context, category, name string) error {
	category, name = strings.TrimSpace(category), strings.TrimSpace(name)
	if category == "" {
		return pipeline.Invalid("category", "category is required")
	}
	if name == "" {
		return pipeline.Invalid("name", "task name cannot be empty")
	}
	return b.rec.Mutate(ctx, "add task", func(d Data) (Data, pipeline.Delta, error) {
		if _, exists := d.CategoryOf(name); exists {
			return d, pipeline.None(), pipeline.Invalid("name", "task %q already exists", name)
		}
		tasks := copyTasks(d.Tasks)
		tasks[category] = append(tasks[category], name)
		states := copyStates(d.TasksState)
		states[name] = newTaskState()
		d.Tasks, d.TasksState = tasks, states
		return d, pipeline.Fields(map[string]any{"tasks": tasks, "tasksState": states}), nil
	})
}

// UpdateTask renames and/or moves a task. Its assignments and completion
// carry over.
func (b *Board) UpdateTask(ctx context.Context, name, newCategory, newName string) error {
	newCategory, newName = strings.TrimSpace(newCategory), strings.TrimSpace(newName)
	if newCategory == "" {
		return pipeline.Invalid("category", "category is required")
	}
	if newName == "" {
		return pipeline.Invalid("name", "task name cannot be empty")
	}
	return b.rec.Mutate(ctx, "update task", func(d Data) (Data, pipeline.Delta, error) {
		category, ok := d.CategoryOf(name)
		if !ok {
			return d, pipeline.None(), pipeline.Invalid("task", "unknown task %q", name)
		}
		if newName != name {
			if _, taken := d.CategoryOf(newName); taken {
				return d, pipeline.None(), pipeline.Invalid("name", "task %q already exists", newName)
			}
		}
		tasks := copyTasks(d.Tasks)
		if category == newCategory {
			for i, t := range tasks[category] {
				if t == name {
					tasks[category][i] = newName
				}
			}
		} else {
			tasks[category] = remove(tasks[category], name)
			tasks[newCategory] = append(tasks[newCategory], newName)
		}
		states := copyStates(d.TasksState)
		if newName != name {
			states[newName] = states[name]
			delete(states, name)
		}
		d.Tasks, d.TasksState = tasks, states
		return d, pipeline.Fields(map[string]any{"tasks": tasks, "tasksState": states}), nil
	})
}

// DeleteTask removes a task and its state.
func (b *Board) DeleteTask(ctx context.Context, name string) error {
	return b.rec.Mutate(ctx, "delete task", func(d Data) (Data, pipeline.Delta, error) {
		category, ok := d.CategoryOf(name)
		if !ok {
			return d, pipeline.None(), pipeline.Invalid("task", "unknown task %q", name)
		}
		tasks := copyTasks(d.Tasks)
		tasks[category] = remove(tasks[category], name)
		states := copyStates(d.TasksState)
		delete(states, name)
		d.Tasks, d.TasksState = tasks, states
		return d, pipeline.Fields(map[string]any{"tasks": tasks, "tasksState": states}), nil
	})
}

// Reset replaces the whole board with the initial one.
func (b *Board) Reset(ctx context.Context) error {
	return b.rec.Mutate(ctx, "reset shift", func(Data) (Data, pipeline.Delta, error) {
		d := Initial()
		return d, pipeline.Replace(d), nil
	})
}

func containsTeam(team Team) bool {
	for _, t := range Teams {
		if t == team {
			return true
		}
	}
	return false
}

func copyTasks(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for c, tasks := range in {
		out[c] = append([]string{}, tasks...)
	}
	return out
}

func copyStates(in map[string]TaskState) map[string]TaskState {
	out := make(map[string]TaskState, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
