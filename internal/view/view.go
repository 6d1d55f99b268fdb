// Package view projects reconciled state through a filter into a Page and
// renders it. Everything here is a pure function of its inputs.
package view

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"packlist/internal/filter"
	"packlist/internal/model"

	"github.com/dustin/go-humanize"
)

type Mode string

const (
	ModeCheckbox  Mode = "checkbox"
	ModeIndicator Mode = "indicator"
)

type Row struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Quantity    string       `json:"quantity,omitempty"`
	Persons     []string     `json:"persons,omitempty"`
	Category    string       `json:"category"`
	Mode        Mode         `json:"mode"`
	Checked     bool         `json:"checked"`
	Status      model.Status `json:"status"`
	Interactive bool         `json:"interactive"`
}

func (r Row) PersonsLabel() string { return strings.Join(r.Persons, ", ") }

type Section struct {
	Category model.Category `json:"category"`
	Title    string         `json:"title"`
	Rows     []Row          `json:"rows"`
}

// Page is everything a client needs to draw the checklist. Build fills the
// projection; callers may set the display-only fields (Title, Sync, ...).
type Page struct {
	Title     string          `json:"title,omitempty"`
	Filter    string          `json:"filter"`
	Person    string          `json:"person,omitempty"`
	Buttons   []filter.Button `json:"buttons"`
	Progress  filter.Progress `json:"progress"`
	Sections  []Section       `json:"sections"`
	Missing   []string        `json:"missing,omitempty"`
	Sync      string          `json:"sync,omitempty"`
	SyncError string          `json:"syncError,omitempty"`
	LastSync  string          `json:"lastSync,omitempty"`
	Countdown string          `json:"countdown,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// MissingTargetError reports a category in the catalog that has no section
// to render into. Its items are skipped.
type MissingTargetError struct {
	Category model.Category
}

func (e MissingTargetError) Error() string {
	return fmt.Sprintf("no render target for category %q", string(e.Category))
}

// Err joins a MissingTargetError per skipped category, or returns nil.
func (p Page) Err() error {
	var errs []error
	for _, c := range p.Missing {
		errs = append(errs, MissingTargetError{Category: model.Category(c)})
	}
	return errors.Join(errs...)
}

// Build projects snap through st. sections lists the categories that have a
// render target, in display order; nil means the known categories.
func Build(snap model.Snapshot, st filter.State, sections []model.Category) Page {
	if sections == nil {
		sections = model.Categories()
	}
	p := Page{
		Filter:   st.Key(),
		Buttons:  st.Buttons(snap),
		Progress: st.Progress(snap),
		Sections: make([]Section, 0, len(sections)),
	}
	if st.Kind == filter.PerPerson {
		p.Person = st.Person
	}

	target := map[model.Category]bool{}
	for _, cat := range sections {
		target[cat] = true
		sec := Section{Category: cat, Title: cat.Title(), Rows: []Row{}}
		for _, it := range snap.Catalog[cat] {
			if !st.Visible(it) {
				continue
			}
			sec.Rows = append(sec.Rows, buildRow(snap, st, it))
		}
		p.Sections = append(p.Sections, sec)
	}
	for _, cat := range snap.Catalog.Categories() {
		if !target[cat] && len(snap.Catalog[cat]) > 0 {
			p.Missing = append(p.Missing, string(cat))
		}
	}
	return p
}

func buildRow(snap model.Snapshot, st filter.State, it model.Item) Row {
	r := Row{
		ID:       it.ID,
		Name:     it.Name,
		Quantity: it.Quantity,
		Persons:  append([]string(nil), it.Persons...),
		Category: string(it.Category),
		Status:   snap.ItemStatus(it),
		Checked:  st.Checked(snap, it),
	}
	if st.Interactive() {
		r.Mode = ModeCheckbox
		r.Interactive = true
	} else {
		r.Mode = ModeIndicator
	}
	return r
}

// Countdown describes target relative to now, e.g. "3 weeks from now".
func Countdown(target, now time.Time) string {
	if target.IsZero() {
		return ""
	}
	return humanize.RelTime(target, now, "ago", "from now")
}

// Since describes a past instant, e.g. "2 minutes ago".
func Since(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Glyph is the status indicator used by text renderers.
func Glyph(s model.Status) string {
	switch s {
	case model.StatusComplete:
		return "✓"
	case model.StatusPartial:
		return "◐"
	default:
		return "○"
	}
}
