package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	// ErrNoSnapshot means the store holds nothing at the path yet.
	ErrNoSnapshot = errors.New("no snapshot")
	// ErrMalformedSnapshot means the value at the path does not have the expected shape.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
)

// WireItem is the transport form of an Item inside the items document.
type WireItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quantity   string `json:"quantity"`
	Persons    string `json:"persons"`
	PersonData string `json:"personData"`
}

func WireFromItem(it Item) WireItem {
	p := JoinPersons(it.Persons)
	return WireItem{
		ID:         it.ID,
		Name:       it.Name,
		Quantity:   it.Quantity,
		Persons:    p,
		PersonData: p,
	}
}

func (w WireItem) Item(cat Category) Item {
	persons := ParsePersons(w.Persons)
	if len(persons) == 0 {
		persons = ParsePersons(w.PersonData)
	}
	return Item{
		ID:       w.ID,
		Name:     w.Name,
		Quantity: w.Quantity,
		Persons:  persons,
		Category: cat,
	}
}

// ItemsDoc is the document stored at the "items" path.
type ItemsDoc map[string][]WireItem

func ItemsDocFromCatalog(c Catalog) ItemsDoc {
	doc := ItemsDoc{}
	for _, cat := range c.Categories() {
		items := c[cat]
		ws := make([]WireItem, 0, len(items))
		for _, it := range items {
			ws = append(ws, WireFromItem(it))
		}
		doc[string(cat)] = ws
	}
	return doc
}

func (d ItemsDoc) Catalog() Catalog {
	c := Catalog{}
	for cat, ws := range d {
		items := make([]Item, 0, len(ws))
		for _, w := range ws {
			if w.ID == "" {
				continue
			}
			items = append(items, w.Item(Category(cat)))
		}
		c[Category(cat)] = items
	}
	return c
}

// DecodeItemsDoc parses the items document. Stores that drop empty arrays or
// turn arrays into index-keyed objects are tolerated.
func DecodeItemsDoc(raw json.RawMessage) (ItemsDoc, error) {
	if isNull(raw) {
		return nil, ErrNoSnapshot
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: items: %v", ErrMalformedSnapshot, err)
	}
	doc := ItemsDoc{}
	for cat, v := range top {
		if isNull(v) {
			doc[cat] = []WireItem{}
			continue
		}
		items, err := decodeWireItems(v)
		if err != nil {
			return nil, fmt.Errorf("%w: items/%s: %v", ErrMalformedSnapshot, cat, err)
		}
		doc[cat] = items
	}
	return doc, nil
}

func decodeWireItems(raw json.RawMessage) ([]WireItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var xs []*WireItem
		if err := json.Unmarshal(raw, &xs); err != nil {
			return nil, err
		}
		out := make([]WireItem, 0, len(xs))
		for _, x := range xs {
			if x != nil {
				out = append(out, *x)
			}
		}
		return out, nil
	}
	var byIndex map[string]WireItem
	if err := json.Unmarshal(raw, &byIndex); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(byIndex))
	for k := range byIndex {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	out := make([]WireItem, 0, len(keys))
	for _, k := range keys {
		out = append(out, byIndex[k])
	}
	return out, nil
}

// ChecklistDoc is the document stored at the "checklist" path.
type ChecklistDoc struct {
	PersonChecked CheckedMap `json:"personChecked"`
	LastUpdated   string     `json:"lastUpdated"`
	UpdatedBy     string     `json:"updatedBy,omitempty"`
}

func DecodeChecklistDoc(raw json.RawMessage) (ChecklistDoc, error) {
	if isNull(raw) {
		return ChecklistDoc{}, ErrNoSnapshot
	}
	var probe struct {
		PersonChecked map[string]json.RawMessage `json:"personChecked"`
		LastUpdated   string                     `json:"lastUpdated"`
		UpdatedBy     string                     `json:"updatedBy"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ChecklistDoc{}, fmt.Errorf("%w: checklist: %v", ErrMalformedSnapshot, err)
	}
	if probe.PersonChecked == nil {
		return ChecklistDoc{}, fmt.Errorf("%w: checklist: missing personChecked", ErrMalformedSnapshot)
	}
	doc := ChecklistDoc{
		PersonChecked: CheckedMap{},
		LastUpdated:   probe.LastUpdated,
		UpdatedBy:     probe.UpdatedBy,
	}
	for person, v := range probe.PersonChecked {
		bucket := map[string]bool{}
		if !isNull(v) {
			var m map[string]bool
			if err := json.Unmarshal(v, &m); err != nil {
				return ChecklistDoc{}, fmt.Errorf("%w: checklist/%s: %v", ErrMalformedSnapshot, person, err)
			}
			for id, ok := range m {
				if ok {
					bucket[id] = true
				}
			}
		}
		doc.PersonChecked[person] = bucket
	}
	return doc, nil
}

type BackupCategory struct {
	Title string     `json:"title"`
	Items []WireItem `json:"items"`
}

// BackupDoc is the snapshot kept in local persistence.
type BackupDoc struct {
	Categories    map[string]BackupCategory `json:"categories"`
	PersonChecked CheckedMap                `json:"personChecked"`
	SavedAt       string                    `json:"savedAt,omitempty"`
}

func (b BackupDoc) Catalog() Catalog {
	c := Catalog{}
	for cat, bc := range b.Categories {
		items := make([]Item, 0, len(bc.Items))
		for _, w := range bc.Items {
			if w.ID == "" {
				continue
			}
			items = append(items, w.Item(Category(cat)))
		}
		c[Category(cat)] = items
	}
	return c
}

func BackupFrom(c Catalog, checked CheckedMap, savedAt string) BackupDoc {
	doc := BackupDoc{
		Categories:    map[string]BackupCategory{},
		PersonChecked: checked.Clone(),
		SavedAt:       savedAt,
	}
	for cat, ws := range ItemsDocFromCatalog(c) {
		doc.Categories[cat] = BackupCategory{Title: Category(cat).Title(), Items: ws}
	}
	return doc
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
