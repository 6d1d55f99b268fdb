// Package reconcile owns the checklist state: the item catalog and the
// per-person checked map. Reconciler holds the state and its operations;
// Session runs it on a single goroutine and connects it to the hub and the
// local backup.
package reconcile

import (
	"strings"
	"time"

	"packlist/internal/keys"
	"packlist/internal/model"
	"packlist/internal/store"
)

// Reconciler is not safe for concurrent use. Session serializes access.
type Reconciler struct {
	catalog model.Catalog
	checked model.CheckedMap
	roster  []string
	table   *keys.Table
	now     func() time.Time

	// Persons edited locally since the last checklist flush. Inbound merges
	// leave their buckets alone.
	dirty map[string]bool
}

type Options struct {
	Roster  []string
	Catalog model.Catalog
	Table   *keys.Table
	Now     func() time.Time
}

func New(opts Options) *Reconciler {
	r := &Reconciler{
		catalog: model.Catalog{},
		checked: model.CheckedMap{},
		table:   opts.Table,
		now:     opts.Now,
		dirty:   map[string]bool{},
	}
	if r.table == nil {
		r.table = keys.NewTable()
	}
	if r.now == nil {
		r.now = time.Now
	}
	for _, p := range opts.Roster {
		p = strings.TrimSpace(p)
		if model.ValidPerson(p) && !model.IsAggregate(p) {
			r.roster = append(r.roster, p)
		}
	}
	if opts.Catalog != nil {
		r.catalog = opts.Catalog.Clone()
	}
	r.reindex()
	return r
}

func (r *Reconciler) Table() *keys.Table { return r.table }

// SetChecked sets or clears checked[person][itemID]. For shared and
// everyone items with responsible persons the aggregate entry is re-derived
// afterwards.
func (r *Reconciler) SetChecked(person, itemID string, checked bool) error {
	person = strings.TrimSpace(person)
	if !model.ValidPerson(person) {
		return ErrInvalidPerson
	}
	it, ok := r.catalog.Find(itemID)
	if !ok {
		return NotFoundError{Kind: "item", ID: itemID}
	}
	if model.IsAggregate(person) {
		if len(it.Responsible(r.everyone())) > 0 {
			return ErrAggregateDerived
		}
		r.checked.Set(model.AggregatePerson, itemID, checked)
		r.dirty[model.AggregatePerson] = true
		return nil
	}
	r.checked.Ensure(person)
	r.checked.Set(person, itemID, checked)
	r.dirty[person] = true
	if r.deriveAggregate(it, r.everyone()) {
		r.dirty[model.AggregatePerson] = true
	}
	return nil
}

// everyone is the set an everyone-tagged item answers to.
func (r *Reconciler) everyone() []string {
	return model.KnownPersons(r.roster, r.catalog)
}

// deriveAggregate recomputes checked["all"][id] for shared items and
// everyone items that have responsible persons. It reports whether the
// entry changed.
func (r *Reconciler) deriveAggregate(it model.Item, everyone []string) bool {
	if it.Category != model.CategoryShared && !it.ForEveryone() {
		return false
	}
	persons := it.Responsible(everyone)
	if len(persons) == 0 {
		return false
	}
	all := true
	for _, p := range persons {
		if !r.checked.IsChecked(p, it.ID) {
			all = false
			break
		}
	}
	was := r.checked.IsChecked(model.AggregatePerson, it.ID)
	r.checked.Set(model.AggregatePerson, it.ID, all)
	return was != all
}

// deriveAll re-derives every aggregate entry and marks the aggregate bucket
// dirty when one changed. A new or removed person changes what everyone items
// answer to.
func (r *Reconciler) deriveAll() {
	everyone := r.everyone()
	for _, it := range r.catalog.Items() {
		if r.deriveAggregate(it, everyone) {
			r.dirty[model.AggregatePerson] = true
		}
	}
}

// AddItem appends a new item and creates buckets for the persons it names.
// Unknown categories fall back to shared.
func (r *Reconciler) AddItem(cat model.Category, name, quantity string, persons []string) (model.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Item{}, ErrEmptyName
	}
	if !cat.Known() {
		cat = model.CategoryShared
	}
	id, err := r.newID()
	if err != nil {
		return model.Item{}, err
	}
	it := model.Item{
		ID:       id,
		Name:     name,
		Quantity: strings.TrimSpace(quantity),
		Persons:  model.ParsePersons(model.JoinPersons(persons)),
		Category: cat,
	}
	r.catalog.Append(it)
	r.table.Learn(it.ID)
	for _, p := range it.Persons {
		r.table.Learn(p)
	}
	r.ensureBuckets()
	r.deriveAll()
	return it, nil
}

func (r *Reconciler) newID() (string, error) {
	for {
		id, err := store.NewItemID(r.now())
		if err != nil {
			return "", err
		}
		if _, taken := r.catalog.Find(id); !taken {
			return id, nil
		}
	}
}

// DeleteItem removes the item from the catalog and its id from every bucket.
// Callers confirm with the user before calling.
func (r *Reconciler) DeleteItem(itemID string) error {
	if !r.catalog.Remove(itemID) {
		return NotFoundError{Kind: "item", ID: itemID}
	}
	for p, b := range r.checked {
		if b[itemID] {
			r.dirty[p] = true
		}
	}
	r.checked.RemoveItem(itemID)
	r.deriveAll()
	return nil
}

// MergeCatalog replaces the local catalog with the remote one. Items the
// remote catalog dropped are cascaded out of every bucket, unflushed ones
// included.
func (r *Reconciler) MergeCatalog(doc model.ItemsDoc) {
	next := doc.Catalog()
	for _, it := range r.catalog.Items() {
		if _, ok := next.Find(it.ID); !ok {
			r.checked.RemoveItem(it.ID)
		}
	}
	r.catalog = next
	r.reindex()
}

// MergeChecklist merges a remote checked map person by person: each remote
// bucket replaces the local one, local persons missing remotely are kept, and
// dirty persons are skipped. It returns the persons it skipped.
func (r *Reconciler) MergeChecklist(doc model.ChecklistDoc) []string {
	remote := r.table.RestoreChecked(doc.PersonChecked)
	var skipped []string
	for _, p := range remote.Persons() {
		if r.dirty[p] {
			skipped = append(skipped, p)
			continue
		}
		bucket := map[string]bool{}
		for id, v := range remote[p] {
			if v {
				bucket[id] = true
			}
		}
		r.checked[p] = bucket
	}
	r.reindex()
	return skipped
}

// reindex re-establishes the bucket invariant and re-derives aggregates.
func (r *Reconciler) reindex() {
	for _, it := range r.catalog.Items() {
		r.table.Learn(it.ID)
		r.table.Learn(it.Persons...)
	}
	r.table.Learn(r.roster...)
	r.table.Learn(r.checked.Persons()...)
	r.ensureBuckets()
	everyone := r.everyone()
	for _, it := range r.catalog.Items() {
		r.deriveAggregate(it, everyone)
	}
}

func (r *Reconciler) ensureBuckets() {
	r.checked.Ensure(model.AggregatePerson)
	for _, p := range r.roster {
		r.checked.Ensure(p)
	}
	for _, it := range r.catalog.Items() {
		for _, p := range it.RealPersons() {
			r.checked.Ensure(p)
		}
	}
}

func (r *Reconciler) Status(itemID string) model.Status {
	it, ok := r.catalog.Find(itemID)
	if !ok {
		return model.StatusNone
	}
	return model.StatusOf(it, r.checked, r.everyone())
}

func (r *Reconciler) Snapshot() model.Snapshot {
	return model.Snapshot{
		Catalog: r.catalog.Clone(),
		Checked: r.checked.Clone(),
		Roster:  append([]string(nil), r.roster...),
	}
}

// Dirty reports whether any person has unflushed local edits.
func (r *Reconciler) Dirty() bool { return len(r.dirty) > 0 }

// MarkClean forgets unflushed edits; call it when the checklist is flushed.
func (r *Reconciler) MarkClean() {
	r.dirty = map[string]bool{}
}

func (r *Reconciler) ItemsDoc() model.ItemsDoc {
	doc := model.ItemsDocFromCatalog(r.catalog)
	for _, cat := range model.Categories() {
		if _, ok := doc[string(cat)]; !ok {
			doc[string(cat)] = []model.WireItem{}
		}
	}
	return doc
}

// ChecklistDoc is the outbound checklist document with sanitized keys.
func (r *Reconciler) ChecklistDoc(now time.Time, origin string) model.ChecklistDoc {
	return model.ChecklistDoc{
		PersonChecked: r.table.SanitizeChecked(r.checked),
		LastUpdated:   now.UTC().Format(time.RFC3339),
		UpdatedBy:     origin,
	}
}

func (r *Reconciler) BackupDoc(now time.Time) model.BackupDoc {
	return model.BackupFrom(r.catalog, r.checked, now.UTC().Format(time.RFC3339))
}

// LoadBackup replaces the state with a local snapshot.
func (r *Reconciler) LoadBackup(doc model.BackupDoc) {
	r.catalog = doc.Catalog()
	r.checked = model.CheckedMap{}
	for p, b := range doc.PersonChecked {
		bucket := map[string]bool{}
		for id, v := range b {
			if v {
				bucket[id] = true
			}
		}
		r.checked[p] = bucket
	}
	r.reindex()
}
