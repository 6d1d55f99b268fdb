package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"packlist/internal/model"
	"packlist/internal/reconcile"
	"packlist/internal/store"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	// Plain output and no background probing.
	lipgloss.SetColorProfile(termenv.Ascii)
	lipgloss.SetHasDarkBackground(false)
	goleak.VerifyTestMain(m)
}

func gear() model.Catalog {
	return model.Catalog{
		model.CategoryShared: {
			{ID: "stove", Name: "Gas stove", Persons: []string{"Henry", "Jin"}, Category: model.CategoryShared},
			{ID: "tarp", Name: "Tarp", Quantity: "2", Persons: []string{"All"}, Category: model.CategoryShared},
		},
		model.CategoryPersonal: {
			{ID: "lamp", Name: "Headlamp", Persons: []string{"Henry"}, Category: model.CategoryPersonal},
		},
	}
}

func startSession(t *testing.T) (*reconcile.Session, context.CancelFunc) {
	t.Helper()
	r := reconcile.New(reconcile.Options{Roster: []string{"Henry", "Jin"}, Catalog: gear()})
	s := reconcile.NewSession(r, reconcile.SessionOptions{
		Backup:   store.NewMemory(),
		Debounce: 20 * time.Millisecond,
		Log:      zaptest.NewLogger(t),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	<-s.Ready()
	return s, cancel
}

// newTestModel returns a loaded model over an offline session.
func newTestModel(t *testing.T, opts Options) (appModel, *reconcile.Session) {
	t.Helper()
	s, _ := startSession(t)
	ch, unsubscribe := s.Subscribe()
	t.Cleanup(unsubscribe)
	if opts.Title == "" {
		opts.Title = "Lakeside"
	}
	opts.Log = zaptest.NewLogger(t)
	m := newAppModel(context.Background(), s, ch, opts)
	m, _ = update(t, m, m.loadSnapshot()())
	return m, s
}

func update(t *testing.T, m appModel, msg tea.Msg) (appModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(appModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func reload(t *testing.T, m appModel) appModel {
	t.Helper()
	m, _ = update(t, m, m.loadSnapshot()())
	return m
}

func rowIDs(m appModel) []string {
	var ids []string
	for _, r := range m.rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestModel_InitialFilter(t *testing.T) {
	m, _ := newTestModel(t, Options{InitialFilter: "first"})
	if m.st.Person != "Henry" {
		t.Fatalf("expected Henry's view; got %+v", m.st)
	}
	if got := strings.Join(rowIDs(m), ","); got != "stove,tarp,lamp" {
		t.Fatalf("rows = %s", got)
	}

	m, _ = newTestModel(t, Options{Person: "Jin", InitialFilter: "first"})
	if m.st.Person != "Jin" {
		t.Fatalf("--person should win over the initial filter; got %+v", m.st)
	}
	if got := strings.Join(rowIDs(m), ","); got != "stove,tarp" {
		t.Fatalf("rows = %s", got)
	}
}

func TestModel_ToggleChecksForPerson(t *testing.T) {
	m, s := newTestModel(t, Options{Person: "Henry"})

	m, cmd := update(t, m, runes(" "))
	if cmd == nil {
		t.Fatalf("expected a toggle command")
	}
	if msg, ok := cmd().(opDoneMsg); !ok || msg.err != nil {
		t.Fatalf("toggle: %#v", msg)
	}
	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Checked.IsChecked("Henry", "stove") {
		t.Fatalf("expected Henry to have the stove checked")
	}
	if snap.Status("stove") != model.StatusPartial {
		t.Fatalf("stove status = %v", snap.Status("stove"))
	}

	m = reload(t, m)
	if row, _ := m.selected(); row.ID != "stove" || !row.Checked {
		t.Fatalf("cursor row = %+v", row)
	}

	// Second toggle unchecks.
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	cmd()
	snap, _ = s.Snapshot(context.Background())
	if snap.Checked.IsChecked("Henry", "stove") {
		t.Fatalf("expected the stove to be unchecked")
	}
}

func TestModel_AggregateIsReadOnly(t *testing.T) {
	m, s := newTestModel(t, Options{})
	if m.st.Interactive() {
		t.Fatalf("expected the aggregate view")
	}
	m, _ = update(t, m, runes(" "))
	if !strings.Contains(m.flash, "Pick a person") {
		t.Fatalf("flash = %q", m.flash)
	}
	snap, _ := s.Snapshot(context.Background())
	if snap.Checked.IsChecked(model.AggregatePerson, "stove") {
		t.Fatalf("aggregate toggle must not write")
	}
}

func TestModel_CycleFilter(t *testing.T) {
	m, _ := newTestModel(t, Options{})

	want := []string{"Henry", "Jin", "all"}
	for _, w := range want {
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
		if got := m.st.Key(); got != w {
			t.Fatalf("tab: got %q want %q", got, w)
		}
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if got := m.st.Key(); got != "Jin" {
		t.Fatalf("shift+tab: got %q", got)
	}
	m, _ = update(t, m, runes("1"))
	if got := m.st.Key(); got != "Henry" {
		t.Fatalf("1: got %q", got)
	}
	m, _ = update(t, m, runes("9"))
	if got := m.st.Key(); got != "Henry" {
		t.Fatalf("out-of-range digit should be ignored; got %q", got)
	}
}

func TestModel_CursorFollowsItemAcrossFilters(t *testing.T) {
	m, _ := newTestModel(t, Options{Person: "Henry"})
	m, _ = update(t, m, runes("j"))
	if row, _ := m.selected(); row.ID != "tarp" {
		t.Fatalf("selected %q", row.ID)
	}
	m, _ = update(t, m, runes("2"))
	if row, _ := m.selected(); row.ID != "tarp" {
		t.Fatalf("expected tarp to stay selected in Jin's view; got %q", row.ID)
	}
	m, _ = update(t, m, runes("G"))
	m, _ = update(t, m, runes("j"))
	if m.cursor != len(m.rows)-1 {
		t.Fatalf("cursor ran past the end: %d", m.cursor)
	}
}

func TestModel_EveryoneItemCompletesFromPersonViews(t *testing.T) {
	setGlyphs(glyphSetASCII)
	t.Cleanup(func() { setGlyphs(glyphSetUnicode) })

	m, s := newTestModel(t, Options{Person: "Henry"})
	m, _ = update(t, m, runes("j"))
	for _, key := range []string{"1", "2"} {
		m, _ = update(t, m, runes(key))
		if row, _ := m.selected(); row.ID != "tarp" {
			t.Fatalf("view %s: selected %q", key, row.ID)
		}
		var cmd tea.Cmd
		m, cmd = update(t, m, runes(" "))
		if msg, ok := cmd().(opDoneMsg); !ok || msg.err != nil {
			t.Fatalf("toggle in view %s: %#v", key, msg)
		}
		m = reload(t, m)
	}

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.Status("tarp"); got != model.StatusComplete {
		t.Fatalf("tarp status = %v", got)
	}
	m, _ = update(t, m, runes("0"))
	if out := m.View(); !strings.Contains(out, "(*) Tarp") || !strings.Contains(out, "1/3 packed") {
		t.Fatalf("aggregate view does not show the tarp packed:\n%s", out)
	}
}

func TestModel_AddItem(t *testing.T) {
	m, s := newTestModel(t, Options{Person: "Jin"})

	m, _ = update(t, m, runes("a"))
	if m.screen != screenAdd {
		t.Fatalf("expected the add form")
	}
	if got := m.add.inputs[fieldPersons].Value(); got != "Jin" {
		t.Fatalf("persons prefill = %q", got)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.screen != screenAdd || m.add.err == "" {
		t.Fatalf("empty name should keep the form open with an error")
	}

	m, _ = update(t, m, runes("Lantern"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	if m.add.category != model.CategoryPersonal {
		t.Fatalf("category = %q", m.add.category)
	}
	if !strings.Contains(m.View(), "Add item") {
		t.Fatalf("expected the add modal in the view")
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.screen != screenList || cmd == nil {
		t.Fatalf("enter should submit")
	}
	msg := cmd().(opDoneMsg)
	if msg.err != nil || msg.ok != "Added Lantern" {
		t.Fatalf("add: %#v", msg)
	}

	snap, _ := s.Snapshot(context.Background())
	var found bool
	for _, it := range snap.Catalog[model.CategoryPersonal] {
		if it.Name == "Lantern" {
			found = true
			if len(it.Persons) != 1 || it.Persons[0] != "Jin" {
				t.Fatalf("persons = %v", it.Persons)
			}
		}
	}
	if !found {
		t.Fatalf("Lantern not in the personal catalog")
	}
}

func TestModel_AddCancel(t *testing.T) {
	m, s := newTestModel(t, Options{})
	m, _ = update(t, m, runes("a"))
	m, _ = update(t, m, runes("Kayak"))
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.screen != screenList || cmd != nil {
		t.Fatalf("esc should close the form without a command")
	}
	snap, _ := s.Snapshot(context.Background())
	if snap.Catalog.Len() != 3 {
		t.Fatalf("catalog changed: %d items", snap.Catalog.Len())
	}
}

func TestModel_DeleteRequiresConfirmation(t *testing.T) {
	m, s := newTestModel(t, Options{})

	m, _ = update(t, m, runes("d"))
	if m.screen != screenConfirmDelete || m.del.id != "stove" {
		t.Fatalf("expected a confirmation for the stove; got %+v", m.del)
	}
	if !strings.Contains(m.View(), `Delete "Gas stove" for everyone?`) {
		t.Fatalf("confirm modal missing:\n%s", m.View())
	}

	// Focus starts on Cancel.
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.screen != screenList || cmd != nil {
		t.Fatalf("enter on cancel should not delete")
	}

	m, _ = update(t, m, runes("d"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected a delete command")
	}
	if msg := cmd().(opDoneMsg); msg.err != nil || msg.ok != "Deleted Gas stove" {
		t.Fatalf("delete: %#v", msg)
	}
	snap, _ := s.Snapshot(context.Background())
	if _, ok := snap.Catalog.Find("stove"); ok {
		t.Fatalf("stove still in catalog")
	}

	m = reload(t, m)
	if row, _ := m.selected(); row.ID != "tarp" {
		t.Fatalf("cursor should move to the next row; got %q", row.ID)
	}
}

func TestModel_SaveFlashes(t *testing.T) {
	m, _ := newTestModel(t, Options{})
	_, cmd := update(t, m, runes("s"))
	if cmd == nil {
		t.Fatalf("expected a save command")
	}
	msg := cmd().(opDoneMsg)
	if msg.err != nil {
		t.Fatalf("save: %v", msg.err)
	}
	m, _ = update(t, m, msg)
	if m.flash != "Saved" || m.flashErr {
		t.Fatalf("flash = %q err=%v", m.flash, m.flashErr)
	}
	m, _ = update(t, m, flashDoneMsg{seq: m.flashSeq - 1})
	if m.flash == "" {
		t.Fatalf("a stale flashDoneMsg must not clear the flash")
	}
	m, _ = update(t, m, flashDoneMsg{seq: m.flashSeq})
	if m.flash != "" {
		t.Fatalf("flash should clear")
	}
}

func TestModel_ViewIndicatorsASCII(t *testing.T) {
	setGlyphs(glyphSetASCII)
	t.Cleanup(func() { setGlyphs(glyphSetUnicode) })

	m, s := newTestModel(t, Options{Notes: "Bring **sunscreen**", Target: time.Now().Add(72 * time.Hour)})
	ctx := context.Background()
	for _, p := range []string{"Henry", "Jin"} {
		if err := s.SetChecked(ctx, p, "stove", true); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetChecked(ctx, "Henry", "lamp", true); err != nil {
		t.Fatal(err)
	}
	m = reload(t, m)

	out := m.View()
	for _, want := range []string{
		"Lakeside",
		"from now",
		"offline",
		"0 All",
		"1 Henry",
		"(*) Gas stove",
		"( ) Tarp ×2",
		"(*) Headlamp",
		"2/3 packed (66%)",
		"sunscreen",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("view missing %q:\n%s", want, out)
		}
	}

	m, _ = update(t, m, runes("n"))
	if strings.Contains(m.View(), "sunscreen") {
		t.Fatalf("n should hide the notes")
	}

	m, _ = update(t, m, runes("1"))
	out = m.View()
	if !strings.Contains(out, "[x] Gas stove") || !strings.Contains(out, "[ ] Tarp") {
		t.Fatalf("expected checkboxes in Henry's view:\n%s", out)
	}
}

func TestModel_ViewScrollsToCursor(t *testing.T) {
	m, _ := newTestModel(t, Options{Person: "Henry"})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 60, Height: 9})
	m, _ = update(t, m, runes("G"))
	out := m.View()
	if !strings.Contains(out, "Headlamp") {
		t.Fatalf("selected row scrolled out of view:\n%s", out)
	}
	if lines := strings.Count(out, "\n") + 1; lines > 9 {
		t.Fatalf("view is %d lines for a 9 line terminal", lines)
	}
}

func TestModel_FollowsSessionChanges(t *testing.T) {
	s, cancel := startSession(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()
	m := newAppModel(context.Background(), s, ch, Options{})

	if err := s.SetChecked(context.Background(), "Jin", "tarp", true); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.waitForChange()().(changedMsg); !ok {
		t.Fatalf("expected a change signal")
	}
	_, cmd := update(t, m, changedMsg{})
	if cmd == nil {
		t.Fatalf("a change should reload and resubscribe")
	}

	cancel()
	<-s.Done()
	for i := 0; i < 3; i++ {
		if _, ok := m.waitForChange()().(sessionDoneMsg); ok {
			return
		}
	}
	t.Fatalf("expected sessionDoneMsg after the session stopped")
}
