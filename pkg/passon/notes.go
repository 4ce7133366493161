// Package passon keeps the pass-on notes handed from one shift to the next.
package passon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/pipeline"
	"github.com/mklimuk/frontdesk/pkg/reconcile"
)

// Key is the store key holding the note list.
const Key = "passOnNotes"

// ErrNoteNotFound is returned for actions on an unknown note id.
var ErrNoteNotFound = errors.New("note not found")

type Urgency string

const (
	Low    Urgency = "low"
	Medium Urgency = "medium"
	High   Urgency = "high"
)

func (u Urgency) rank() int {
	switch u {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	}
	return 0
}

// ParseUrgency accepts low, medium or high in any case.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if u.rank() == 0 {
		return "", pipeline.Invalid("urgency", "must be low, medium or high, got %q", s)
	}
	return u, nil
}

type Note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Urgency   Urgency   `json:"urgency"`
	Timestamp time.Time `json:"timestamp"`
	Completed bool      `json:"completed"`
}

// Sort orders notes by urgency (high first), then newest first.
func Sort(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		ri, rj := notes[i].Urgency.rank(), notes[j].Urgency.rank()
		if ri != rj {
			return ri > rj
		}
		return notes[i].Timestamp.After(notes[j].Timestamp)
	})
}

// Decode reconciles a stored note list. Elements without an id or text are
// dropped; bad urgency falls back to low; timestamps are read either as RFC
// 3339 strings or as {seconds, nanoseconds} objects.
func Decode(raw json.RawMessage) ([]Note, reconcile.Issues) {
	elems, issues := reconcile.List[json.RawMessage](raw)
	notes := make([]Note, 0, len(elems))
	for i, elem := range elems {
		r := reconcile.Parse(elem)
		n := Note{
			ID:        reconcile.Field(r, "id", func() string { return "" }),
			Text:      reconcile.Field(r, "text", func() string { return "" }),
			Urgency:   reconcile.Field(r, "urgency", func() Urgency { return Low }, reconcile.OneOf(Low, Medium, High)),
			Timestamp: reconcile.Field(r, "timestamp", func() reconcile.Timestamp { return reconcile.Timestamp{} }).Time(),
			Completed: reconcile.Field(r, "completed", func() bool { return false }),
		}
		for _, issue := range r.Issues() {
			issue.Field = fmt.Sprintf("[%d].%s", i, issue.Field)
			issues = append(issues, issue)
		}
		if n.ID == "" || strings.TrimSpace(n.Text) == "" {
			issues = append(issues, reconcile.Issue{Field: fmt.Sprintf("[%d]", i), Reason: "note without id or text"})
			continue
		}
		notes = append(notes, n)
	}
	Sort(notes)
	return notes, issues
}

// Board is the live note list.
type Board struct {
	rec *pipeline.Record[[]Note]
	now func() time.Time
}

func Open(ctx context.Context, store keyed.Store, opts ...pipeline.Option) (*Board, error) {
	rec, err := pipeline.Open(ctx, store, Key, Decode, opts...)
	if err != nil {
		return nil, err
	}
	return &Board{rec: rec, now: time.Now}, nil
}

// Notes returns the notes sorted for display.
func (b *Board) Notes() []Note {
	return append([]Note(nil), b.rec.State()...)
}

// Add creates a low urgency note from text.
func (b *Board) Add(ctx context.Context, text string) (Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Note{}, pipeline.Invalid("text", "note text is required")
	}
	note := Note{
		ID:        uuid.NewString(),
		Text:      text,
		Urgency:   Low,
		Timestamp: b.now().UTC(),
	}
	err := b.rec.Mutate(ctx, "add note", func(notes []Note) ([]Note, pipeline.Delta, error) {
		next := append([]Note{note}, notes...)
		Sort(next)
		return next, pipeline.Replace(next), nil
	})
	return note, err
}

func (b *Board) SetUrgency(ctx context.Context, id string, u Urgency) error {
	if u.rank() == 0 {
		return pipeline.Invalid("urgency", "must be low, medium or high, got %q", u)
	}
	return b.update(ctx, "change urgency", id, func(n *Note) { n.Urgency = u })
}

func (b *Board) Edit(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return pipeline.Invalid("text", "note text is required")
	}
	return b.update(ctx, "edit note", id, func(n *Note) { n.Text = text })
}

func (b *Board) SetCompleted(ctx context.Context, id string, completed bool) error {
	return b.update(ctx, "complete note", id, func(n *Note) { n.Completed = completed })
}

func (b *Board) Delete(ctx context.Context, id string) error {
	return b.rec.Mutate(ctx, "delete note", func(notes []Note) ([]Note, pipeline.Delta, error) {
		next := make([]Note, 0, len(notes))
		for _, n := range notes {
			if n.ID != id {
				next = append(next, n)
			}
		}
		if len(next) == len(notes) {
			return nil, pipeline.None(), fmt.Errorf("%w: %s", ErrNoteNotFound, id)
		}
		return next, pipeline.Replace(next), nil
	})
}

func (b *Board) update(ctx context.Context, action, id string, fn func(*Note)) error {
	return b.rec.Mutate(ctx, action, func(notes []Note) ([]Note, pipeline.Delta, error) {
		next := append([]Note(nil), notes...)
		for i := range next {
			if next[i].ID == id {
				fn(&next[i])
				Sort(next)
				return next, pipeline.Replace(next), nil
			}
		}
		return nil, pipeline.None(), fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	})
}

// Watch calls fn with the sorted notes on every change.
func (b *Board) Watch(fn func([]Note)) func() {
	return b.rec.Watch(fn)
}

func (b *Board) Flush(ctx context.Context) error {
	return b.rec.Flush(ctx)
}

func (b *Board) Close() error {
	return b.rec.Close()
}
