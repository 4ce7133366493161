// Package sendup keeps the printable lists of units that deliveries are sent
// up to.
package sendup

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/pipeline"
	"github.com/mklimuk/frontdesk/pkg/reconcile"
)

// Key is the store key holding every list.
const Key = "sendUpLists"

// List defines one printable list.
type List struct {
	ID      string `json:"id" mapstructure:"id"`
	Name    string `json:"name" mapstructure:"name"`
	Columns int    `json:"columns" mapstructure:"columns"`
}

var BuiltIns = []List{
	{ID: "tower", Name: "Tower List", Columns: 8},
	{ID: "wee", Name: "Wee! List", Columns: 2},
	{ID: "podium", Name: "Podium List", Columns: 6},
	{ID: "goodeggs", Name: "Good Eggs List", Columns: 2},
}

// Data maps list id to its labels in natural order. It may hold lists this
// board is not configured to show.
type Data map[string][]string

// Sort orders labels naturally and case-insensitively, so "2B" comes before
// "10A".
func Sort(labels []string) {
	c := collate.New(language.Und, collate.Numeric, collate.Loose)
	sort.SliceStable(labels, func(i, j int) bool {
		return c.CompareString(labels[i], labels[j]) < 0
	})
}

// Decoder returns a decoder for the given lists. Labels are trimmed,
// deduplicated and sorted; non-string labels are dropped. Every configured
// list is present in the result. Lists configured elsewhere are carried
// through so writes from here do not erase them.
func Decoder(lists []List) pipeline.Decoder[Data] {
	ids := make([]string, len(lists))
	for i, l := range lists {
		ids[i] = l.ID
	}
	return func(raw json.RawMessage) (Data, reconcile.Issues) {
		r := reconcile.Parse(raw)
		foreign := r.Unknown()
		decoded := make(map[string][]string, len(ids)+len(foreign))
		var issues reconcile.Issues
		decodeList := func(id string) []string {
			field := reconcile.Field(r, id, func() json.RawMessage { return nil })
			labels, listIssues := reconcile.List[string](field)
			for _, is := range listIssues {
				is.Field = id + is.Field
				issues = append(issues, is)
			}
			return normalize(labels)
		}
		for _, id := range ids {
			decoded[id] = decodeList(id)
		}
		data := Data(reconcile.KeyedBy(ids, decoded, func() []string { return []string{} }))
		for _, id := range foreign {
			if contains(ids, id) || !r.Has(id) {
				continue
			}
			data[id] = decodeList(id)
		}
		return data, append(r.Issues(), issues...)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func normalize(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	Sort(out)
	return out
}

// Grid splits labels into rows of columns cells, padding the last row with
// empty cells.
func Grid(labels []string, columns int) [][]string {
	if columns < 1 {
		columns = 1
	}
	var rows [][]string
	for start := 0; start < len(labels); start += columns {
		row := make([]string, columns)
		copy(row, labels[start:min(start+columns, len(labels))])
		rows = append(rows, row)
	}
	return rows
}

// Board holds the lists.
type Board struct {
	lists []List
	rec   *pipeline.Record[Data]
}

// Open loads the lists. Extra lists are appended to BuiltIns; an extra list
// reusing a built-in id replaces it.
func Open(ctx context.Context, store keyed.Store, extra []List, opts ...pipeline.Option) (*Board, error) {
	lists := Merge(BuiltIns, extra)
	rec, err := pipeline.Open(ctx, store, Key, Decoder(lists), opts...)
	if err != nil {
		return nil, err
	}
	return &Board{lists: lists, rec: rec}, nil
}

// Merge combines list definitions; later ones win on equal ids. Definitions
// without an id are skipped and the column count is at least one.
func Merge(base, extra []List) []List {
	out := append([]List(nil), base...)
	for _, l := range extra {
		if l.ID == "" {
			continue
		}
		if l.Columns < 1 {
			l.Columns = 1
		}
		if l.Name == "" {
			l.Name = l.ID
		}
		replaced := false
		for i := range out {
			if out[i].ID == l.ID {
				out[i] = l
				replaced = true
			}
		}
		if !replaced {
			out = append(out, l)
		}
	}
	return out
}

// Lists returns the list definitions in display order.
func (b *Board) Lists() []List {
	return append([]List(nil), b.lists...)
}

func (b *Board) list(id string) (List, error) {
	for _, l := range b.lists {
		if l.ID == id {
			return l, nil
		}
	}
	return List{}, pipeline.Invalid("list", "unknown list %q", id)
}

// Labels returns the labels of list id.
func (b *Board) Labels(id string) []string {
	return append([]string(nil), b.rec.State()[id]...)
}

// Grid returns list id laid out for printing.
func (b *Board) Grid(id string) ([][]string, error) {
	l, err := b.list(id)
	if err != nil {
		return nil, err
	}
	return Grid(b.Labels(id), l.Columns), nil
}

// Add inserts label into list id keeping natural order. Adding a label that
// is already listed changes nothing.
func (b *Board) Add(ctx context.Context, id, label string) error {
	return b.modify(ctx, "add unit", id, label, func(labels []string, label string) ([]string, bool) {
		for _, l := range labels {
			if l == label {
				return labels, false
			}
		}
		next := append(append([]string(nil), labels...), label)
		Sort(next)
		return next, true
	})
}

// Remove deletes label from list id.
func (b *Board) Remove(ctx context.Context, id, label string) error {
	return b.modify(ctx, "remove unit", id, label, func(labels []string, label string) ([]string, bool) {
		next := make([]string, 0, len(labels))
		for _, l := range labels {
			if l != label {
				next = append(next, l)
			}
		}
		return next, len(next) != len(labels)
	})
}

func (b *Board) modify(ctx context.Context, action, id, label string, fn func([]string, string) ([]string, bool)) error {
	if _, err := b.list(id); err != nil {
		return err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return pipeline.Invalid("label", "unit is required")
	}
	return b.rec.Mutate(ctx, action, func(d Data) (Data, pipeline.Delta, error) {
		labels, changed := fn(d[id], label)
		if !changed {
			return d, pipeline.None(), nil
		}
		next := make(Data, len(d))
		for k, v := range d {
			next[k] = v
		}
		next[id] = labels
		return next, pipeline.Replace(next), nil
	})
}

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
