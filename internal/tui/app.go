package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"packlist/internal/filter"
	"packlist/internal/model"
	"packlist/internal/reconcile"
	"packlist/internal/view"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

type screen int

const (
	screenList screen = iota
	screenAdd
	screenConfirmDelete
)

const (
	flashTTL     = 4 * time.Second
	clockRefresh = 30 * time.Second
)

type snapshotMsg struct {
	snap model.Snapshot
	err  error
}

// changedMsg means the session state or sync status moved.
type changedMsg struct{}

type sessionDoneMsg struct{}

// opDoneMsg reports a mutation. ok is flashed on success.
type opDoneMsg struct {
	ok  string
	err error
}

type flashDoneMsg struct{ seq int }

type clockMsg struct{}

type deleteConfirm struct {
	id    string
	name  string
	focus confirmModalFocus
}

type appModel struct {
	ctx     context.Context
	session *reconcile.Session
	opts    Options
	log     *zap.Logger
	now     func() time.Time

	changes <-chan struct{}

	width  int
	height int

	snap   model.Snapshot
	loaded bool
	st     filter.State
	page   view.Page
	rows   []view.Row
	cursor int

	screen screen
	add    addForm
	del    deleteConfirm

	showNotes bool

	flash    string
	flashErr bool
	flashSeq int
}

func newAppModel(ctx context.Context, s *reconcile.Session, changes <-chan struct{}, opts Options) appModel {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := appModel{
		ctx:       ctx,
		session:   s,
		opts:      opts,
		log:       log,
		now:       time.Now,
		changes:   changes,
		showNotes: strings.TrimSpace(opts.Notes) != "",
	}
	if strings.TrimSpace(opts.Person) != "" {
		m.st = filter.Select(opts.Person)
	}
	return m
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(m.loadSnapshot(), m.waitForChange(), tickClock())
}

func (m appModel) loadSnapshot() tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		snap, err := s.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m appModel) waitForChange() tea.Cmd {
	ch, done := m.changes, m.session.Done()
	return func() tea.Msg {
		select {
		case _, ok := <-ch:
			if !ok {
				return sessionDoneMsg{}
			}
			return changedMsg{}
		case <-done:
			return sessionDoneMsg{}
		}
	}
}

func tickClock() tea.Cmd {
	return tea.Tick(clockRefresh, func(time.Time) tea.Msg { return clockMsg{} })
}

func (m *appModel) setFlash(msg string, isErr bool) tea.Cmd {
	m.flashSeq++
	m.flash = msg
	m.flashErr = isErr
	seq := m.flashSeq
	return tea.Tick(flashTTL, func(time.Time) tea.Msg { return flashDoneMsg{seq: seq} })
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		if msg.err != nil {
			return m, m.setFlash(msg.err.Error(), true)
		}
		first := !m.loaded
		m.snap = msg.snap
		m.loaded = true
		if first && strings.TrimSpace(m.opts.Person) == "" {
			m.st = filter.Initial(m.opts.InitialFilter, m.snap.Roster)
		}
		m.rebuild()
		return m, nil

	case changedMsg:
		return m, tea.Batch(m.loadSnapshot(), m.waitForChange())

	case sessionDoneMsg:
		return m, tea.Quit

	case opDoneMsg:
		if msg.err != nil {
			return m, m.setFlash(msg.err.Error(), true)
		}
		if msg.ok != "" {
			return m, m.setFlash(msg.ok, false)
		}
		return m, nil

	case flashDoneMsg:
		if msg.seq == m.flashSeq {
			m.flash = ""
			m.flashErr = false
		}
		return m, nil

	case clockMsg:
		return m, tickClock()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.screen {
		case screenAdd:
			return m.updateAdd(msg)
		case screenConfirmDelete:
			return m.updateConfirmDelete(msg)
		}
		return m.updateList(msg)
	}

	if m.screen == screenAdd {
		return m, m.add.update(msg)
	}
	return m, nil
}

func (m appModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if !m.loaded {
		if msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil
	}
	switch k := msg.String(); k {
	case "q":
		return m, tea.Quit
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = len(m.rows) - 1
		if m.cursor < 0 {
			m.cursor = 0
		}
	case "tab", "right", "l":
		m.cycleFilter(1)
	case "shift+tab", "left", "h":
		m.cycleFilter(-1)
	case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
		n, _ := strconv.Atoi(k)
		if n < len(m.page.Buttons) {
			m.selectFilter(m.page.Buttons[n].Key)
		}
	case " ", "enter", "x":
		return m.toggleSelected()
	case "a":
		m.add = newAddForm(m.st)
		m.screen = screenAdd
		return m, m.add.setFocus(fieldName)
	case "d":
		row, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.del = deleteConfirm{id: row.ID, name: row.Name, focus: confirmFocusCancel}
		m.screen = screenConfirmDelete
	case "s":
		ctx, s := m.ctx, m.session
		return m, func() tea.Msg {
			if err := s.Save(ctx); err != nil {
				return opDoneMsg{err: fmt.Errorf("save: %w", err)}
			}
			return opDoneMsg{ok: "Saved"}
		}
	case "n":
		m.showNotes = !m.showNotes
	}
	return m, nil
}

func (m appModel) updateAdd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+g":
		m.screen = screenList
		return m, nil
	case "tab", "down":
		return m, m.add.setFocus(m.add.focus + 1)
	case "shift+tab", "up":
		return m, m.add.setFocus(m.add.focus - 1)
	case "ctrl+t":
		m.add.toggleCategory()
		return m, nil
	case "enter":
		name := m.add.name()
		if name == "" {
			m.add.err = "Name is required"
			return m, m.add.setFocus(fieldName)
		}
		ctx, s := m.ctx, m.session
		cat, qty, persons := m.add.category, m.add.quantity(), m.add.persons()
		m.screen = screenList
		return m, func() tea.Msg {
			it, err := s.AddItem(ctx, cat, name, qty, persons)
			if err != nil {
				return opDoneMsg{err: fmt.Errorf("add: %w", err)}
			}
			return opDoneMsg{ok: "Added " + it.Name}
		}
	}
	m.add.err = ""
	return m, m.add.update(msg)
}

func (m appModel) updateConfirmDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	confirm := false
	switch msg.String() {
	case "esc", "ctrl+g", "n", "q":
		m.screen = screenList
		return m, nil
	case "tab", "shift+tab", "left", "right", "h", "l":
		if m.del.focus == confirmFocusConfirm {
			m.del.focus = confirmFocusCancel
		} else {
			m.del.focus = confirmFocusConfirm
		}
		return m, nil
	case "y":
		confirm = true
	case "enter":
		confirm = m.del.focus == confirmFocusConfirm
	default:
		return m, nil
	}
	m.screen = screenList
	if !confirm {
		return m, nil
	}
	ctx, s := m.ctx, m.session
	id, name := m.del.id, m.del.name
	return m, func() tea.Msg {
		if err := s.DeleteItem(ctx, id); err != nil {
			return opDoneMsg{err: fmt.Errorf("delete: %w", err)}
		}
		return opDoneMsg{ok: "Deleted " + name}
	}
}

func (m appModel) toggleSelected() (tea.Model, tea.Cmd) {
	row, ok := m.selected()
	if !ok {
		return m, nil
	}
	if !m.st.Interactive() {
		return m, m.setFlash("Pick a person (tab) to check items off", false)
	}
	ctx, s := m.ctx, m.session
	person, id, checked := m.st.Person, row.ID, !row.Checked
	return m, func() tea.Msg {
		return opDoneMsg{err: s.SetChecked(ctx, person, id, checked)}
	}
}

func (m appModel) selected() (view.Row, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return view.Row{}, false
	}
	return m.rows[m.cursor], true
}

func (m *appModel) moveCursor(delta int) {
	m.cursor += delta
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *appModel) cycleFilter(dir int) {
	btns := m.page.Buttons
	if len(btns) == 0 {
		return
	}
	cur := 0
	for i, b := range btns {
		if b.Active {
			cur = i
			break
		}
	}
	next := ((cur+dir)%len(btns) + len(btns)) % len(btns)
	m.selectFilter(btns[next].Key)
}

func (m *appModel) selectFilter(key string) {
	m.st = filter.Select(key)
	m.rebuild()
}

// rebuild reprojects the snapshot and keeps the cursor on the same item
// when it is still visible.
func (m *appModel) rebuild() {
	prev, hadPrev := m.selected()

	m.page = view.Build(m.snap, m.st, nil)
	if err := m.page.Err(); err != nil {
		m.log.Warn("skipping categories without a section", zap.Error(err))
	}
	var rows []view.Row
	for _, sec := range m.page.Sections {
		rows = append(rows, sec.Rows...)
	}
	m.rows = rows

	if hadPrev {
		for i, r := range m.rows {
			if r.ID == prev.ID {
				m.cursor = i
				return
			}
		}
	}
	m.moveCursor(0)
}

func (m appModel) View() string {
	if !m.loaded {
		return styleMuted().Render("Loading checklist…")
	}
	switch m.screen {
	case screenAdd:
		return m.placeCentered(m.add.view(m.width))
	case screenConfirmDelete:
		body := fmt.Sprintf("Delete %q for everyone?\nThis also clears every check mark for it.", m.del.name)
		return m.placeCentered(renderConfirmModal(m.width, "Delete item", body, "Delete", "Cancel", m.del.focus))
	}
	return m.viewList()
}

func (m appModel) placeCentered(s string) string {
	if m.width <= 0 || m.height <= 0 {
		return s
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, s)
}

func (m appModel) viewList() string {
	now := m.now()
	width := m.width
	if width <= 0 {
		width = 80
	}

	var head []string
	title := lipgloss.NewStyle().Bold(true).Render(m.opts.Title)
	if cd := view.Countdown(m.opts.Target, now); cd != "" {
		title += "  " + styleMuted().Render(cd)
	}
	head = append(head, title, m.viewSync(now), m.viewFilters())
	p := m.page.Progress
	head = append(head, styleChrome().Render(fmt.Sprintf("%d/%d packed (%d%%)", p.Done, p.Total, p.Percent())), "")

	var body []string
	cursorLine := 0
	idx := 0
	for _, sec := range m.page.Sections {
		body = append(body, lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Render(sec.Title))
		if len(sec.Rows) == 0 {
			body = append(body, styleMuted().Render("  nothing here"))
		}
		for _, r := range sec.Rows {
			if idx == m.cursor {
				cursorLine = len(body)
			}
			body = append(body, m.viewRow(r, idx == m.cursor, width))
			idx++
		}
		body = append(body, "")
	}

	var foot []string
	if m.showNotes {
		if notes := renderNotes(m.opts.Notes, width-2); notes != "" {
			foot = append(foot, styleMuted().Render(strings.Repeat(glyphHRule(), width)), notes)
		}
	}
	if m.flash != "" {
		st := lipgloss.NewStyle().Foreground(colorComplete)
		if m.flashErr {
			st = lipgloss.NewStyle().Foreground(colorError)
		}
		foot = append(foot, st.Render(m.flash))
	}
	foot = append(foot, styleMuted().Render("tab/←→ person  ↑↓ move  space check  a add  d delete  s save  n notes  q quit"))

	if m.height > 0 {
		avail := m.height - len(head) - len(foot)
		if avail < 3 {
			avail = 3
		}
		if len(body) > avail {
			start := cursorLine - avail/2
			if start < 0 {
				start = 0
			}
			if start+avail > len(body) {
				start = len(body) - avail
			}
			body = body[start : start+avail]
		}
	}

	return strings.Join(append(append(head, body...), foot...), "\n")
}

func (m appModel) viewSync(now time.Time) string {
	st := m.session.SyncStatus()
	color := colorPartial
	switch st.State {
	case reconcile.SyncConnected:
		color = colorComplete
	case reconcile.SyncOffline, reconcile.SyncError:
		color = colorError
	}
	parts := []string{lipgloss.NewStyle().Foreground(color).Render(string(st.State))}
	if st.Pending {
		parts = append(parts, "saving…")
	}
	if ago := view.Since(st.LastSync, now); ago != "" {
		parts = append(parts, "synced "+ago)
	}
	if st.Error != "" {
		parts = append(parts, st.Error)
	}
	return styleChrome().Render(strings.Join(parts, "  "))
}

func (m appModel) viewFilters() string {
	active := lipgloss.NewStyle().
		Padding(0, 1).
		Bold(true).
		Foreground(colorSelectedFg).
		Background(colorSelectedBg)
	idle := styleChrome().Padding(0, 1)

	out := make([]string, 0, len(m.page.Buttons))
	for i, b := range m.page.Buttons {
		label := b.Label
		if i < 10 {
			label = strconv.Itoa(i) + " " + label
		}
		if b.Active {
			out = append(out, active.Render(label))
		} else {
			out = append(out, idle.Render(label))
		}
	}
	return strings.Join(out, " ")
}

func (m appModel) viewRow(r view.Row, selected bool, width int) string {
	cursor := "  "
	if selected {
		cursor = glyphCursor() + " "
	}

	var mark string
	if r.Mode == view.ModeCheckbox {
		mark = glyphCheckbox(r.Checked)
		if r.Checked {
			mark = lipgloss.NewStyle().Foreground(colorComplete).Render(mark)
		}
	} else {
		mark = glyphStatus(r.Status)
		switch r.Status {
		case model.StatusComplete:
			mark = lipgloss.NewStyle().Foreground(colorComplete).Render(mark)
		case model.StatusPartial:
			mark = lipgloss.NewStyle().Foreground(colorPartial).Render(mark)
		default:
			mark = styleMuted().Render(mark)
		}
	}

	name := r.Name
	if r.Mode == view.ModeCheckbox && r.Checked {
		name = styleMuted().Strikethrough(true).Render(name)
	}
	line := cursor + mark + " " + name
	if r.Quantity != "" {
		line += styleMuted().Render(" ×" + r.Quantity)
	}
	if who := r.PersonsLabel(); who != "" {
		line += "  " + styleChrome().Render(who)
	}
	if selected {
		line = lipgloss.NewStyle().Background(colorSelectedBg).Width(width).Render(line)
	}
	return line
}
