package model

import (
	"sort"
	"strings"
)

// AggregatePerson is the synthetic roster entry whose checked state is derived
// from the real responsible persons of an item.
const AggregatePerson = "all"

// EveryoneTag marks an item as belonging to everyone. It counts for visibility
// but is never a real responsible person.
const EveryoneTag = "All"

type Category string

const (
	CategoryShared   Category = "shared-items"
	CategoryPersonal Category = "personal-items"
)

// Categories lists the known categories in display order.
func Categories() []Category {
	return []Category{CategoryShared, CategoryPersonal}
}

func (c Category) Known() bool {
	return c == CategoryShared || c == CategoryPersonal
}

func (c Category) Title() string {
	switch c {
	case CategoryShared:
		return "Shared Gear"
	case CategoryPersonal:
		return "Personal Gear"
	default:
		return string(c)
	}
}

// ParseCategory accepts a wire id, a short name or a display title.
// Anything unrecognized falls back to the shared category.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "personal", "personal-items", "personal gear":
		return CategoryPersonal
	default:
		return CategoryShared
	}
}

type Item struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Quantity string   `json:"quantity,omitempty"`
	Persons  []string `json:"persons,omitempty"`
	Category Category `json:"category"`
}

// RealPersons returns the responsible persons without the everyone tag or the
// aggregate pseudo-person.
func (it Item) RealPersons() []string {
	out := make([]string, 0, len(it.Persons))
	for _, p := range it.Persons {
		if isPlaceholder(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (it Item) ForEveryone() bool {
	for _, p := range it.Persons {
		if IsAggregate(p) {
			return true
		}
	}
	return false
}

// Responsible returns the persons whose ticks decide the item's status. An
// item tagged for everyone answers to every person in everyone as well.
func (it Item) Responsible(everyone []string) []string {
	out := it.RealPersons()
	if !it.ForEveryone() {
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, p := range out {
		seen[p] = true
	}
	for _, p := range everyone {
		if seen[p] || IsAggregate(p) || !ValidPerson(p) {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func (it Item) HasPerson(person string) bool {
	for _, p := range it.Persons {
		if p == person {
			return true
		}
	}
	return false
}

func isPlaceholder(p string) bool {
	return IsAggregate(p)
}

// IsAggregate reports whether name refers to the aggregate pseudo-person.
func IsAggregate(name string) bool {
	n := strings.TrimSpace(name)
	return n == AggregatePerson || n == EveryoneTag
}

// Catalog maps a category to its ordered items.
type Catalog map[Category][]Item

func (c Catalog) Find(id string) (Item, bool) {
	for _, items := range c {
		for _, it := range items {
			if it.ID == id {
				return it, true
			}
		}
	}
	return Item{}, false
}

func (c Catalog) Append(it Item) {
	c[it.Category] = append(c[it.Category], it)
}

// Remove deletes the item with id from whichever category holds it.
func (c Catalog) Remove(id string) bool {
	for cat, items := range c {
		for i, it := range items {
			if it.ID != id {
				continue
			}
			out := make([]Item, 0, len(items)-1)
			out = append(out, items[:i]...)
			out = append(out, items[i+1:]...)
			c[cat] = out
			return true
		}
	}
	return false
}

// Categories returns known categories in display order followed by any
// unknown ones, sorted.
func (c Catalog) Categories() []Category {
	out := []Category{}
	for _, k := range Categories() {
		if _, ok := c[k]; ok {
			out = append(out, k)
		}
	}
	var unknown []Category
	for k := range c {
		if !k.Known() {
			unknown = append(unknown, k)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	return append(out, unknown...)
}

// Items returns all items in category display order.
func (c Catalog) Items() []Item {
	var out []Item
	for _, cat := range c.Categories() {
		out = append(out, c[cat]...)
	}
	return out
}

func (c Catalog) Len() int {
	n := 0
	for _, items := range c {
		n += len(items)
	}
	return n
}

func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for cat, items := range c {
		cp := make([]Item, len(items))
		for i, it := range items {
			it.Persons = append([]string(nil), it.Persons...)
			cp[i] = it
		}
		out[cat] = cp
	}
	return out
}

// CheckedMap maps person -> item id -> true. Absence means unchecked; false
// is never stored.
type CheckedMap map[string]map[string]bool

func (m CheckedMap) Ensure(person string) {
	if _, ok := m[person]; !ok {
		m[person] = map[string]bool{}
	}
}

func (m CheckedMap) IsChecked(person, itemID string) bool {
	return m[person][itemID]
}

func (m CheckedMap) Set(person, itemID string, checked bool) {
	if checked {
		m.Ensure(person)
		m[person][itemID] = true
		return
	}
	if b, ok := m[person]; ok {
		delete(b, itemID)
	}
}

// RemoveItem drops itemID from every bucket.
func (m CheckedMap) RemoveItem(itemID string) {
	for _, b := range m {
		delete(b, itemID)
	}
}

func (m CheckedMap) Persons() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m CheckedMap) Clone() CheckedMap {
	out := make(CheckedMap, len(m))
	for p, b := range m {
		cp := make(map[string]bool, len(b))
		for id, v := range b {
			if v {
				cp[id] = true
			}
		}
		out[p] = cp
	}
	return out
}

type Status int

const (
	StatusNone Status = iota
	StatusPartial
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusPartial:
		return "partial"
	case StatusComplete:
		return "complete"
	default:
		return "none"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
