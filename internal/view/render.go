package view

import (
	"bytes"
	"embed"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/*.html
var templatesFS embed.FS

var tmpl = template.Must(template.New("view").Funcs(template.FuncMap{
	"glyph": Glyph,
	"notes": RenderNotes,
}).ParseFS(templatesFS, "templates/*.html"))

// MainID is the element id of the fragment RenderHTML produces; live updates
// replace it wholesale.
const MainID = "packlist-main"

// RenderHTML renders the page body fragment. Identical pages render to
// identical bytes.
func RenderHTML(p Page) (string, error) {
	return execute("main", p)
}

// RenderDocument renders a complete HTML document. streamURL, when set, is
// the SSE endpoint the page subscribes to for live updates.
func RenderDocument(p Page, streamURL string) (string, error) {
	return execute("document", struct {
		Page
		StreamURL string
	}{p, streamURL})
}

func execute(name string, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		emoji.Emoji,
	),
	goldmark.WithRendererOptions(
		// Raw HTML stays escaped.
		html.WithHardWraps(),
	),
)

// RenderNotes renders trip notes written in markdown.
func RenderNotes(src string) template.HTML {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	var b bytes.Buffer
	if err := markdown.Convert([]byte(src), &b); err != nil {
		return template.HTML("<pre>" + template.HTMLEscapeString(src) + "</pre>")
	}
	return template.HTML(b.String())
}
