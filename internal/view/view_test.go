package view

import (
	"errors"
	"strings"
	"testing"
	"time"

	"packlist/internal/filter"
	"packlist/internal/model"

	"github.com/google/go-cmp/cmp"
)

func fixture() model.Snapshot {
	return model.Snapshot{
		Roster: []string{"Henry", "Jin"},
		Catalog: model.Catalog{
			model.CategoryShared: {
				{ID: "stove", Name: "Gas stove", Quantity: "1", Persons: []string{"Henry", "Jin"}, Category: model.CategoryShared},
				{ID: "tarp", Name: "Tarp", Persons: []string{"All"}, Category: model.CategoryShared},
			},
			model.CategoryPersonal: {
				{ID: "lamp", Name: "Headlamp", Persons: []string{"Henry"}, Category: model.CategoryPersonal},
			},
			"snacks": {
				{ID: "mix", Name: "Trail mix", Category: "snacks"},
			},
		},
		Checked: model.CheckedMap{
			"Henry": {"stove": true, "lamp": true},
			"Jin":   {},
			"all":   {},
		},
	}
}

func TestBuild_AggregateUsesIndicators(t *testing.T) {
	t.Parallel()
	p := Build(fixture(), filter.Select("all"), nil)

	if len(p.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(p.Sections))
	}
	stove := p.Sections[0].Rows[0]
	want := Row{
		ID: "stove", Name: "Gas stove", Quantity: "1", Persons: []string{"Henry", "Jin"},
		Category: "shared-items", Mode: ModeIndicator, Status: model.StatusPartial,
	}
	if diff := cmp.Diff(want, stove); diff != "" {
		t.Fatalf("stove row (-want +got):\n%s", diff)
	}
	if p.Progress != (filter.Progress{Done: 1, Total: 4}) {
		t.Fatalf("progress = %+v", p.Progress)
	}
}

func TestBuild_PersonUsesCheckboxes(t *testing.T) {
	t.Parallel()
	p := Build(fixture(), filter.Select("Jin"), nil)

	var ids []string
	for _, sec := range p.Sections {
		for _, r := range sec.Rows {
			if r.Mode != ModeCheckbox || !r.Interactive {
				t.Fatalf("row %s not interactive in person view", r.ID)
			}
			ids = append(ids, r.ID)
		}
	}
	if diff := cmp.Diff([]string{"stove", "tarp"}, ids); diff != "" {
		t.Fatalf("visible rows for Jin (-want +got):\n%s", diff)
	}
	if p.Sections[0].Rows[0].Checked {
		t.Fatalf("Jin's stove row should be unchecked")
	}
	if p.Person != "Jin" || p.Filter != "Jin" {
		t.Fatalf("filter fields = %q/%q", p.Filter, p.Person)
	}
}

func TestBuild_ReportsMissingTargets(t *testing.T) {
	t.Parallel()
	p := Build(fixture(), filter.Select("all"), nil)

	if diff := cmp.Diff([]string{"snacks"}, p.Missing); diff != "" {
		t.Fatalf("missing (-want +got):\n%s", diff)
	}
	var mt MissingTargetError
	if !errors.As(p.Err(), &mt) || mt.Category != "snacks" {
		t.Fatalf("expected MissingTargetError for snacks, got %v", p.Err())
	}

	only := Build(fixture(), filter.Select("all"), []model.Category{model.CategoryPersonal})
	if len(only.Sections) != 1 || len(only.Missing) != 2 {
		t.Fatalf("custom sections: %d sections, missing %v", len(only.Sections), only.Missing)
	}
}

func TestRenderHTML_Idempotent(t *testing.T) {
	t.Parallel()
	for _, who := range []string{"all", "Henry"} {
		a, err := RenderHTML(Build(fixture(), filter.Select(who), nil))
		if err != nil {
			t.Fatalf("RenderHTML: %v", err)
		}
		b, err := RenderHTML(Build(fixture(), filter.Select(who), nil))
		if err != nil {
			t.Fatalf("RenderHTML: %v", err)
		}
		if a != b {
			t.Fatalf("render for %q not idempotent", who)
		}
		if !strings.Contains(a, `id="`+MainID+`"`) {
			t.Fatalf("fragment lacks main id")
		}
	}
}

func TestRenderHTML_Modes(t *testing.T) {
	t.Parallel()
	agg, err := RenderHTML(Build(fixture(), filter.Select("all"), nil))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(agg, `type="checkbox"`) {
		t.Fatalf("aggregate view must not render checkboxes")
	}
	if !strings.Contains(agg, `class="indicator" title="partial"`) {
		t.Fatalf("aggregate view lacks partial indicator:\n%s", agg)
	}

	henry, err := RenderHTML(Build(fixture(), filter.Select("Henry"), nil))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(henry, `action="/items/stove/check"`) || !strings.Contains(henry, `name="person" value="Henry"`) {
		t.Fatalf("person view lacks check form:\n%s", henry)
	}
	if strings.Contains(henry, "Trail mix") {
		t.Fatalf("item without a render target was rendered")
	}
}

func TestRenderDocument(t *testing.T) {
	t.Parallel()
	p := Build(fixture(), filter.Select("all"), nil)
	p.Title = "Lakeside 2025"
	p.Notes = "Bring **bug spray** :mosquito:"
	doc, err := RenderDocument(p, "/events?person=all")
	if err != nil {
		t.Fatalf("RenderDocument: %v", err)
	}
	for _, want := range []string{"<title>Lakeside 2025</title>", "<strong>bug spray</strong>", `data-init="@get(`, `action="/items"`} {
		if !strings.Contains(doc, want) {
			t.Fatalf("document missing %q", want)
		}
	}
}

func TestRenderNotes_EscapesRawHTML(t *testing.T) {
	t.Parallel()
	got := string(RenderNotes("<script>alert(1)</script>\n\n- tent"))
	if strings.Contains(got, "<script>") {
		t.Fatalf("raw HTML passed through: %s", got)
	}
	if !strings.Contains(got, "<li>tent</li>") {
		t.Fatalf("list not rendered: %s", got)
	}
	if RenderNotes("   ") != "" {
		t.Fatalf("blank notes should render empty")
	}
}

func TestCountdown(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	if got := Countdown(now.Add(72*time.Hour), now); got != "3 days from now" {
		t.Fatalf("Countdown = %q", got)
	}
	if got := Since(now.Add(-2*time.Minute), now); got != "2 minutes ago" {
		t.Fatalf("Since = %q", got)
	}
	if Countdown(time.Time{}, now) != "" {
		t.Fatalf("zero target should be blank")
	}
}
