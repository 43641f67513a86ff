// Package render turns answers into display form: citations reconciled and linked, then
// rendered for a terminal (glamour) or exported as HTML (goldmark).
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/wenhaiyang6/parenting/internal/citation"
	"github.com/wenhaiyang6/parenting/internal/models"
)

// Renderer renders answers for a terminal.
type Renderer struct {
	term  *glamour.TermRenderer
	cache *citation.Cache
}

// New returns a terminal renderer. style is a glamour standard style name or "auto";
// width <= 0 disables wrapping. cache may be nil.
func New(style string, width int, cache *citation.Cache) (*Renderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	switch style {
	case "", "auto":
		opts = append(opts, glamour.WithAutoStyle())
	default:
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	tr, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create terminal renderer: %w", err)
	}
	if cache == nil {
		cache = citation.NewCache(64)
	}
	return &Renderer{term: tr, cache: cache}, nil
}

// Answer renders one answer with its source list.
func (r *Renderer) Answer(answer string, sources []models.Source) (string, error) {
	return r.term.Render(Markdown(r.cache.Reconcile(answer, sources)))
}

// Conversation renders every turn of conv.
func (r *Renderer) Conversation(conv *models.Conversation) (string, error) {
	return r.term.Render(ConversationMarkdown(conv, r.cache))
}

// Markdown formats a reconciled answer followed by its cited and uncited sources.
func Markdown(res citation.Result) string {
	return res.Text + SourcesMarkdown(res)
}

// SourcesMarkdown formats only the source sections of a reconciled answer.
func SourcesMarkdown(res citation.Result) string {
	var b strings.Builder
	cited := res.CitedCount()
	if cited > 0 {
		b.WriteString("\n\n**Sources**\n\n")
		for i, ref := range res.Sources[:cited] {
			writeSource(&b, strconv.Itoa(i+1)+".", ref.Source)
		}
	}
	if rest := res.Sources[cited:]; len(rest) > 0 {
		b.WriteString("\n\n**Also consulted**\n\n")
		for _, ref := range rest {
			writeSource(&b, "-", ref.Source)
		}
	}
	return b.String()
}

func writeSource(b *strings.Builder, bullet string, s models.Source) {
	title := s.Title
	if title == "" {
		title = s.Link
	}
	fmt.Fprintf(b, "%s [%s](%s)", bullet, escapeBrackets(title), s.Link)
	if s.Date != nil {
		fmt.Fprintf(b, " (%s)", *s.Date)
	}
	b.WriteString("\n")
}

func escapeBrackets(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}

// ConversationMarkdown formats a whole conversation. cache may be nil.
func ConversationMarkdown(conv *models.Conversation, cache *citation.Cache) string {
	var b strings.Builder
	if conv.Title != "" {
		b.WriteString("# " + conv.Title + "\n\n")
	}
	for i, m := range conv.Messages {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		b.WriteString("## " + m.Text + "\n\n")
		var res citation.Result
		if cache != nil {
			res = cache.Reconcile(m.Answer, m.Sources)
		} else {
			res = citation.Reconcile(m.Answer, m.Sources)
		}
		b.WriteString(Markdown(res))
		if len(m.FollowUpQuestions) > 0 {
			b.WriteString("\n\n*Related questions*\n\n")
			for _, q := range m.FollowUpQuestions {
				b.WriteString("- " + q + "\n")
			}
		}
	}
	return b.String()
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// ExportHTML writes conv as a standalone HTML page. Raw HTML in answers is escaped.
func ExportHTML(w io.Writer, conv *models.Conversation, cache *citation.Cache) error {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)
	var buf bytes.Buffer
	if err := md.Convert([]byte(ConversationMarkdown(conv, cache)), &buf); err != nil {
		return fmt.Errorf("convert markdown: %w", err)
	}
	title := conv.Title
	if title == "" {
		title = "Conversation " + conv.ID
	}
	return page.Execute(w, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(buf.String())})
}
