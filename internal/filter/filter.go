// Package filter is the view-mode state machine: either the aggregate view
// (status indicators for every item) or one person's view (checkboxes for
// that person's items).
package filter

import (
	"strings"

	"packlist/internal/model"
)

type Kind int

const (
	Aggregate Kind = iota
	PerPerson
)

func (k Kind) String() string {
	if k == PerPerson {
		return "person"
	}
	return "aggregate"
}

// State is a value; switching filters never touches reconciled state.
type State struct {
	Kind   Kind
	Person string
}

// Initial returns the starting state. mode "first" starts on the first roster
// person; anything else starts on the aggregate.
func Initial(mode string, roster []string) State {
	if strings.EqualFold(strings.TrimSpace(mode), "first") {
		for _, p := range roster {
			if model.ValidPerson(p) && !model.IsAggregate(p) {
				return State{Kind: PerPerson, Person: strings.TrimSpace(p)}
			}
		}
	}
	return State{Kind: Aggregate}
}

// Select moves to the state for a filter control. "all", "All" and empty
// select the aggregate.
func Select(name string) State {
	name = strings.TrimSpace(name)
	if name == "" || model.IsAggregate(name) {
		return State{Kind: Aggregate}
	}
	return State{Kind: PerPerson, Person: name}
}

// Key is the filter value used in URLs and buttons.
func (s State) Key() string {
	if s.Kind == PerPerson {
		return s.Person
	}
	return model.AggregatePerson
}

func (s State) Label() string {
	if s.Kind == PerPerson {
		return s.Person
	}
	return "All"
}

// Interactive reports whether rows accept input under this state.
func (s State) Interactive() bool { return s.Kind == PerPerson }

// Visible reports whether it is shown under the state. A person sees items
// naming them and items tagged for everyone.
func (s State) Visible(it model.Item) bool {
	if s.Kind == Aggregate {
		return true
	}
	return it.HasPerson(s.Person) || it.ForEveryone()
}

// Checked is the row value under this state: the person's own tick, or
// whether the item is complete in the aggregate view.
func (s State) Checked(snap model.Snapshot, it model.Item) bool {
	if s.Kind == PerPerson {
		return snap.Checked.IsChecked(s.Person, it.ID)
	}
	return snap.ItemStatus(it) == model.StatusComplete
}

type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Done * 100 / p.Total
}

// Progress counts visible items and how many of them are checked under the
// state's own definition of checked.
func (s State) Progress(snap model.Snapshot) Progress {
	var p Progress
	for _, it := range snap.Catalog.Items() {
		if !s.Visible(it) {
			continue
		}
		p.Total++
		if s.Checked(snap, it) {
			p.Done++
		}
	}
	return p
}

type Button struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

// Buttons lists the filter controls: the aggregate first, then one per known
// person (roster order, then persons first seen in the catalog).
func (s State) Buttons(snap model.Snapshot) []Button {
	out := []Button{{Key: model.AggregatePerson, Label: "All", Active: s.Kind == Aggregate}}
	for _, p := range snap.Persons() {
		out = append(out, Button{Key: p, Label: p, Active: s.Kind == PerPerson && s.Person == p})
	}
	return out
}
