package reconcile

import (
	"errors"
	"strings"
	"testing"
	"time"

	"packlist/internal/model"

	"github.com/google/go-cmp/cmp"
)

func gearCatalog() model.Catalog {
	return model.Catalog{
		model.CategoryShared: {
			{ID: "gas-stove", Name: "Gas stove", Persons: []string{"Henry", "Jin"}, Category: model.CategoryShared},
			{ID: "tarp", Name: "Tarp", Quantity: "2", Persons: []string{"All"}, Category: model.CategoryShared},
		},
		model.CategoryPersonal: {
			{ID: "headlamp", Name: "Headlamp", Persons: []string{"Henry"}, Category: model.CategoryPersonal},
		},
	}
}

func newGear(t *testing.T) *Reconciler {
	t.Helper()
	return New(Options{
		Roster:  []string{"Henry", "Jin"},
		Catalog: gearCatalog(),
		Now:     func() time.Time { return time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC) },
	})
}

func TestSetChecked_GasStoveScenario(t *testing.T) {
	t.Parallel()
	r := newGear(t)

	if err := r.SetChecked("Henry", "gas-stove", true); err != nil {
		t.Fatalf("SetChecked Henry: %v", err)
	}
	if got := r.Status("gas-stove"); got != model.StatusPartial {
		t.Fatalf("after Henry: status = %v, want partial", got)
	}
	if r.checked.IsChecked(model.AggregatePerson, "gas-stove") {
		t.Fatalf("aggregate set after one of two persons")
	}

	if err := r.SetChecked("Jin", "gas-stove", true); err != nil {
		t.Fatalf("SetChecked Jin: %v", err)
	}
	if got := r.Status("gas-stove"); got != model.StatusComplete {
		t.Fatalf("after Jin: status = %v, want complete", got)
	}
	if !r.checked.IsChecked(model.AggregatePerson, "gas-stove") {
		t.Fatalf("aggregate not set after all persons checked")
	}

	if err := r.SetChecked("Jin", "gas-stove", false); err != nil {
		t.Fatalf("uncheck Jin: %v", err)
	}
	if r.checked.IsChecked(model.AggregatePerson, "gas-stove") {
		t.Fatalf("aggregate still set after uncheck")
	}
	if _, stored := r.checked["Jin"]["gas-stove"]; stored {
		t.Fatalf("unchecked value must be absent, not false")
	}
}

func TestSetChecked_AggregationInvariant(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ a, b bool }{{false, false}, {true, false}, {false, true}, {true, true}} {
		r := newGear(t)
		if err := r.SetChecked("Henry", "gas-stove", tc.a); err != nil {
			t.Fatal(err)
		}
		if err := r.SetChecked("Jin", "gas-stove", tc.b); err != nil {
			t.Fatal(err)
		}
		both := tc.a && tc.b
		if complete := r.Status("gas-stove") == model.StatusComplete; complete != both {
			t.Fatalf("%+v: complete=%v, want %v", tc, complete, both)
		}
		if agg := r.checked.IsChecked(model.AggregatePerson, "gas-stove"); agg != both {
			t.Fatalf("%+v: aggregate=%v, want %v", tc, agg, both)
		}
	}
}

func TestSetChecked_Errors(t *testing.T) {
	t.Parallel()
	r := newGear(t)

	var nf NotFoundError
	if err := r.SetChecked("Henry", "nope", true); !errors.As(err, &nf) || nf.ID != "nope" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if err := r.SetChecked("  ", "tarp", true); !errors.Is(err, ErrInvalidPerson) {
		t.Fatalf("expected ErrInvalidPerson, got %v", err)
	}
	if err := r.SetChecked("all", "gas-stove", true); !errors.Is(err, ErrAggregateDerived) {
		t.Fatalf("expected ErrAggregateDerived, got %v", err)
	}
}

func TestSetChecked_EveryoneItemAnswersToKnownPersons(t *testing.T) {
	t.Parallel()
	r := newGear(t)

	if got := r.Status("tarp"); got != model.StatusNone {
		t.Fatalf("initial status = %v", got)
	}
	if err := r.SetChecked("All", "tarp", true); !errors.Is(err, ErrAggregateDerived) {
		t.Fatalf("direct aggregate on everyone item: %v", err)
	}
	if err := r.SetChecked("Henry", "tarp", true); err != nil {
		t.Fatalf("SetChecked Henry: %v", err)
	}
	if got := r.Status("tarp"); got != model.StatusPartial {
		t.Fatalf("after Henry: status = %v, want partial", got)
	}
	if err := r.SetChecked("Jin", "tarp", true); err != nil {
		t.Fatalf("SetChecked Jin: %v", err)
	}
	if got := r.Status("tarp"); got != model.StatusComplete {
		t.Fatalf("after Jin: status = %v, want complete", got)
	}
	if !r.checked.IsChecked(model.AggregatePerson, "tarp") {
		t.Fatalf("aggregate not derived for everyone item")
	}

	snap := r.Snapshot()
	done := 0
	for _, it := range snap.Catalog.Items() {
		if snap.ItemStatus(it) == model.StatusComplete {
			done++
		}
	}
	if done != 1 {
		t.Fatalf("complete items = %d, want 1 (tarp)", done)
	}

	// A newly named person owes the tarp too.
	if _, err := r.AddItem(model.CategoryPersonal, "Lantern", "", []string{"Alex"}); err != nil {
		t.Fatal(err)
	}
	if got := r.Status("tarp"); got != model.StatusPartial {
		t.Fatalf("after Alex joined: status = %v, want partial", got)
	}
	if r.checked.IsChecked(model.AggregatePerson, "tarp") {
		t.Fatalf("aggregate still set after Alex joined")
	}
}

func TestSetChecked_AggregateOnUnownedItem(t *testing.T) {
	t.Parallel()
	r := New(Options{Catalog: model.Catalog{
		model.CategoryShared: {{ID: "map", Name: "Trail map", Category: model.CategoryShared}},
	}})

	if err := r.SetChecked("all", "map", true); err != nil {
		t.Fatalf("SetChecked all: %v", err)
	}
	if got := r.Status("map"); got != model.StatusComplete {
		t.Fatalf("status = %v, want complete", got)
	}
	if err := r.SetChecked("all", "map", false); err != nil {
		t.Fatal(err)
	}
	if got := r.Status("map"); got != model.StatusNone {
		t.Fatalf("status = %v, want none", got)
	}
}

func TestSetChecked_PersonalItemHasNoAggregateEntry(t *testing.T) {
	t.Parallel()
	r := newGear(t)
	if err := r.SetChecked("Henry", "headlamp", true); err != nil {
		t.Fatal(err)
	}
	if r.Status("headlamp") != model.StatusComplete {
		t.Fatalf("headlamp should be complete")
	}
	if r.checked.IsChecked(model.AggregatePerson, "headlamp") {
		t.Fatalf("aggregate entry written for personal item")
	}
}

func TestAddItem_LanternScenario(t *testing.T) {
	t.Parallel()
	r := newGear(t)
	before := r.catalog.Len()

	it, err := r.AddItem(model.ParseCategory(""), "Lantern", "", model.ParsePersons("Alex"))
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if r.catalog.Len() != before+1 {
		t.Fatalf("catalog len = %d, want %d", r.catalog.Len(), before+1)
	}
	if it.Category != model.CategoryShared {
		t.Fatalf("category = %q, want default shared", it.Category)
	}
	if !strings.HasPrefix(it.ID, "item-1751360400000-") {
		t.Fatalf("unexpected id %q", it.ID)
	}
	if _, ok := r.checked["Alex"]; !ok {
		t.Fatalf("bucket for Alex not created")
	}
	got, ok := r.catalog.Find(it.ID)
	if !ok {
		t.Fatalf("added item not in catalog")
	}
	if diff := cmp.Diff(it, got); diff != "" {
		t.Fatalf("catalog item mismatch (-want +got):\n%s", diff)
	}
}

func TestAddItem_Validation(t *testing.T) {
	t.Parallel()
	r := newGear(t)
	if _, err := r.AddItem(model.CategoryShared, "   ", "1", nil); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	it, err := r.AddItem(model.Category("snacks"), " Trail mix ", " 3 bags ", []string{" Peggy", "", "Peggy", "Tee "})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	want := model.Item{ID: it.ID, Name: "Trail mix", Quantity: "3 bags", Persons: []string{"Peggy", "Tee"}, Category: model.CategoryShared}
	if diff := cmp.Diff(want, it); diff != "" {
		t.Fatalf("item mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteItem_Cascade(t *testing.T) {
	t.Parallel()
	r := newGear(t)
	for _, p := range []string{"Henry", "Jin"} {
		if err := r.SetChecked(p, "gas-stove", true); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.DeleteItem("gas-stove"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, ok := r.catalog.Find("gas-stove"); ok {
		t.Fatalf("item still in catalog")
	}
	for p, b := range r.checked {
		if b["gas-stove"] {
			t.Fatalf("bucket %q still holds deleted item", p)
		}
	}
	var nf NotFoundError
	if err := r.DeleteItem("gas-stove"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError on second delete, got %v", err)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()
	r := newGear(t)

	items := model.ItemsDoc{
		"shared-items": {
			{ID: "gas-stove", Name: "Gas stove", Persons: "Henry,Jin"},
			{ID: "cooler", Name: "Cooler", Persons: "Shawn"},
		},
	}
	checklist := model.ChecklistDoc{PersonChecked: model.CheckedMap{
		"Henry": {"gas-stove": true},
		"Jin":   {"gas-stove": true},
		"Shawn": {},
	}}

	r.MergeCatalog(items)
	r.MergeChecklist(checklist)
	once := r.Snapshot()
	r.MergeCatalog(items)
	r.MergeChecklist(checklist)
	twice := r.Snapshot()

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second merge changed state (-once +twice):\n%s", diff)
	}
	if once.Status("gas-stove") != model.StatusComplete {
		t.Fatalf("merged status = %v", once.Status("gas-stove"))
	}
	if !once.Checked.IsChecked(model.AggregatePerson, "gas-stove") {
		t.Fatalf("aggregate not derived on merge")
	}
	if _, ok := once.Catalog.Find("headlamp"); ok {
		t.Fatalf("remote catalog must replace local wholesale")
	}
}

func TestMergeChecklist_PerPersonLastWriterWins(t *testing.T) {
	t.Parallel()
	r := newGear(t)
	if err := r.SetChecked("Henry", "headlamp", true); err != nil {
		t.Fatal(err)
	}
	r.MarkClean()

	r.MergeChecklist(model.ChecklistDoc{PersonChecked: model.CheckedMap{
		"Jin": {"tarp": true},
	}})
	if !r.checked.IsChecked("Henry", "headlamp") {
		t.Fatalf("local person absent from remote doc was dropped")
	}
	if !r.checked.IsChecked("Jin", "tarp") {
		t.Fatalf("remote bucket not applied")
	}

	r.MergeChecklist(model.ChecklistDoc{PersonChecked: model.CheckedMap{
		"Henry": {},
	}})
	if r.checked.IsChecked("Henry", "headlamp") {
		t.Fatalf("remote bucket must replace the local one")
	}
}

func TestMergeChecklist_SkipsDirtyPersons(t *testing.T) {
	t.Parallel()
	r := newGear(t)
	if err := r.SetChecked("Henry", "headlamp", true); err != nil {
		t.Fatal(err)
	}

	skipped := r.MergeChecklist(model.ChecklistDoc{PersonChecked: model.CheckedMap{
		"Henry": {},
		"Jin":   {"tarp": true},
	}})
	if diff := cmp.Diff([]string{"Henry"}, skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
	if !r.checked.IsChecked("Henry", "headlamp") {
		t.Fatalf("unflushed local edit overwritten")
	}
	if !r.checked.IsChecked("Jin", "tarp") {
		t.Fatalf("clean person not merged")
	}
}

func TestSanitizeRoundTrip(t *testing.T) {
	t.Parallel()
	r := New(Options{
		Roster: []string{"Dr. Who", "Jin"},
		Catalog: model.Catalog{model.CategoryShared: {
			{ID: "tent/poles", Name: "Tent poles", Persons: []string{"Dr. Who", "Jin"}, Category: model.CategoryShared},
		}},
	})
	if err := r.SetChecked("Dr. Who", "tent/poles", true); err != nil {
		t.Fatal(err)
	}

	out := r.ChecklistDoc(time.Now(), "test")
	if !out.PersonChecked["Dr_ Who"]["tent_poles"] {
		t.Fatalf("outbound keys not sanitized: %v", out.PersonChecked)
	}
	if _, ok := r.checked["Dr. Who"]; !ok {
		t.Fatalf("canonical local key was rewritten")
	}

	// A fresh reconciler that has only seen the catalog restores the originals.
	other := New(Options{Catalog: r.catalog})
	other.MergeChecklist(out)
	if !other.checked.IsChecked("Dr. Who", "tent/poles") {
		t.Fatalf("inbound keys not restored: %v", other.checked)
	}
	if _, ok := other.checked["Dr_ Who"]; ok {
		t.Fatalf("sanitized key leaked into local state")
	}
}

func TestBucketInvariant(t *testing.T) {
	t.Parallel()
	r := newGear(t)
	r.MergeCatalog(model.ItemsDoc{"personal-items": {{ID: "x", Name: "Mug", Persons: "Milli, All"}}})
	for _, p := range []string{"Henry", "Jin", "Milli", model.AggregatePerson} {
		if _, ok := r.checked[p]; !ok {
			t.Fatalf("missing bucket for %q", p)
		}
	}
	if _, ok := r.checked["All"]; ok {
		t.Fatalf("everyone tag must not get its own bucket")
	}
}

func TestBackupRoundTrip(t *testing.T) {
	t.Parallel()
	r := newGear(t)
	if err := r.SetChecked("Henry", "gas-stove", true); err != nil {
		t.Fatal(err)
	}
	doc := r.BackupDoc(time.Now())

	other := New(Options{Roster: []string{"Henry", "Jin"}})
	other.LoadBackup(doc)
	if diff := cmp.Diff(r.Snapshot(), other.Snapshot()); diff != "" {
		t.Fatalf("backup round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeCatalog_CascadesDroppedItemsFromDirtyBuckets(t *testing.T) {
	t.Parallel()
	r := newGear(t)
	for _, id := range []string{"gas-stove", "headlamp"} {
		if err := r.SetChecked("Henry", id, true); err != nil {
			t.Fatal(err)
		}
	}

	remote := gearCatalog()
	remote[model.CategoryShared] = remote[model.CategoryShared][1:]
	r.MergeCatalog(model.ItemsDocFromCatalog(remote))
	r.MergeChecklist(model.ChecklistDoc{PersonChecked: model.CheckedMap{"Henry": {}, "Jin": {}}})

	out := r.ChecklistDoc(time.Now(), "test").PersonChecked
	if diff := cmp.Diff(map[string]bool{"headlamp": true}, out["Henry"]); diff != "" {
		t.Fatalf("outbound Henry bucket (-want +got):\n%s", diff)
	}
	if out.IsChecked(model.AggregatePerson, "gas-stove") {
		t.Fatalf("aggregate kept a dropped item")
	}
}
