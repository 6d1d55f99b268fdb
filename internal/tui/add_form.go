package tui

import (
	"strings"

	"packlist/internal/filter"
	"packlist/internal/model"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	fieldName = iota
	fieldQuantity
	fieldPersons
	fieldCount
)

var fieldLabels = [fieldCount]string{"Name", "Quantity", "Persons"}

// addForm is the "new item" modal.
type addForm struct {
	inputs   [fieldCount]textinput.Model
	focus    int
	category model.Category
	err      string
}

// newAddForm prefills the persons field with the person being viewed.
func newAddForm(st filter.State) addForm {
	f := addForm{category: model.CategoryShared}
	for i := range f.inputs {
		in := textinput.New()
		in.Prompt = ""
		in.CharLimit = 120
		f.inputs[i] = in
	}
	f.inputs[fieldName].Placeholder = "e.g. Water jug"
	f.inputs[fieldQuantity].Placeholder = "optional"
	f.inputs[fieldPersons].Placeholder = "comma-separated, or All"
	if st.Kind == filter.PerPerson {
		f.inputs[fieldPersons].SetValue(st.Person)
	}
	f.inputs[fieldName].Focus()
	return f
}

func (f *addForm) setFocus(i int) tea.Cmd {
	f.focus = (i%fieldCount + fieldCount) % fieldCount
	var cmd tea.Cmd
	for j := range f.inputs {
		if j == f.focus {
			cmd = f.inputs[j].Focus()
		} else {
			f.inputs[j].Blur()
		}
	}
	return cmd
}

func (f *addForm) toggleCategory() {
	if f.category == model.CategoryPersonal {
		f.category = model.CategoryShared
	} else {
		f.category = model.CategoryPersonal
	}
}

func (f *addForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f addForm) name() string     { return strings.TrimSpace(f.inputs[fieldName].Value()) }
func (f addForm) quantity() string { return strings.TrimSpace(f.inputs[fieldQuantity].Value()) }
func (f addForm) persons() []string {
	return model.ParsePersons(f.inputs[fieldPersons].Value())
}

func (f addForm) view(width int) string {
	bodyW := modalBodyWidth(width)
	for i := range f.inputs {
		f.inputs[i].Width = bodyW - 3
	}

	label := lipgloss.NewStyle().Bold(true)
	var b strings.Builder
	for i, in := range f.inputs {
		l := fieldLabels[i]
		if i == f.focus {
			l = glyphCursor() + " " + l
		} else {
			l = "  " + l
		}
		b.WriteString(label.Render(l))
		b.WriteString("\n")
		b.WriteString(renderInputLine(bodyW, in.View()))
		b.WriteString("\n\n")
	}

	cats := make([]string, 0, len(model.Categories()))
	for _, c := range model.Categories() {
		if c == f.category {
			cats = append(cats, lipgloss.NewStyle().
				Padding(0, 1).
				Bold(true).
				Foreground(colorAccentFg).
				Background(colorAccent).
				Render(c.Title()))
		} else {
			cats = append(cats, styleMuted().Padding(0, 1).Render(c.Title()))
		}
	}
	b.WriteString(label.Render("  Category"))
	b.WriteString("  ")
	b.WriteString(strings.Join(cats, " "))
	b.WriteString("\n")

	if f.err != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(colorError).Render(f.err))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(styleMuted().Width(bodyW).Render("tab: next field   ctrl+t: category   enter: add   esc: cancel"))
	return renderModalBox(width, "Add item", b.String())
}
