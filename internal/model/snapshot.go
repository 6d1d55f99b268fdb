package model

// Snapshot is a detached copy of the reconciled state, safe to hand to
// renderers on other goroutines.
type Snapshot struct {
	Catalog Catalog
	Checked CheckedMap
	Roster  []string
}

// Status derives the aggregate status of an item from the checked map.
// Unknown items report StatusNone.
func (s Snapshot) Status(itemID string) Status {
	it, ok := s.Catalog.Find(itemID)
	if !ok {
		return StatusNone
	}
	return s.ItemStatus(it)
}

func (s Snapshot) ItemStatus(it Item) Status {
	return StatusOf(it, s.Checked, s.Persons())
}

// StatusOf counts the ticks of the item's responsible persons, with everyone
// standing in for the everyone tag. Items nobody is responsible for are
// complete iff the aggregate pseudo-person has checked them.
func StatusOf(it Item, checked CheckedMap, everyone []string) Status {
	persons := it.Responsible(everyone)
	if len(persons) == 0 {
		if checked.IsChecked(AggregatePerson, it.ID) {
			return StatusComplete
		}
		return StatusNone
	}
	n := 0
	for _, p := range persons {
		if checked.IsChecked(p, it.ID) {
			n++
		}
	}
	switch {
	case n == 0:
		return StatusNone
	case n == len(persons):
		return StatusComplete
	default:
		return StatusPartial
	}
}

// Persons lists every known person: roster order first, then persons named
// by items in catalog order. The aggregate and everyone tags are excluded.
func (s Snapshot) Persons() []string {
	return KnownPersons(s.Roster, s.Catalog)
}

func KnownPersons(roster []string, c Catalog) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !ValidPerson(p) || isPlaceholder(p) || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, p := range roster {
		add(p)
	}
	for _, it := range c.Items() {
		for _, p := range it.Persons {
			add(p)
		}
	}
	return out
}
