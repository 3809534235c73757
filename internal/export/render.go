// ABOUTME: Renders transcripts as Markdown or as HTML via goldmark
// ABOUTME: Raw HTML in message content is not passed through

package export

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/agentworld/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

// RenderMarkdown writes t as a Markdown document.
func RenderMarkdown(w io.Writer, t *Transcript) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", t.ChatName)
	fmt.Fprintf(&b, "- World: %s\n", t.WorldName)
	fmt.Fprintf(&b, "- Chat: `%s`\n", t.ChatID)
	fmt.Fprintf(&b, "- Messages: %d\n", len(t.Entries))
	fmt.Fprintf(&b, "- Exported: %s\n", t.ExportedAt.UTC().Format(time.RFC3339))

	for _, e := range t.Entries {
		b.WriteString("\n---\n\n")
		fmt.Fprintf(&b, "### %s", speaker(e))
		if !e.CreatedAt.IsZero() {
			fmt.Fprintf(&b, " · %s", e.CreatedAt.UTC().Format(timeLayout))
		}
		b.WriteString("\n\n")
		if e.ReplyToMessageID != "" {
			fmt.Fprintf(&b, "> in reply to `%s`\n\n", e.ReplyToMessageID)
		}
		b.WriteString(strings.TrimSpace(e.Content))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func speaker(e Entry) string {
	name := e.Sender
	if name == "" {
		name = e.Role
	}
	if e.Role == store.RoleTool {
		return name + " (tool)"
	}
	return name
}

var htmlPage = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
hr { border: 0; border-top: 1px solid #ddd; margin: 1.5rem 0; }
code { background: #f4f4f4; padding: 0 .25rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML writes t as a standalone HTML page.
func RenderHTML(w io.Writer, t *Transcript) error {
	var md bytes.Buffer
	if err := RenderMarkdown(&md, t); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := markdown.Convert(md.Bytes(), &body); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}

	return htmlPage.Execute(w, struct {
		Title string
		Body  template.HTML
	}{
		Title: t.ChatName,
		Body:  template.HTML(body.String()),
	})
}
