package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/fstext/internal/store"
)

const (
	markOpen  = "<mark>"
	markClose = "</mark>"
)

// RenderHits writes search results for keyword to w. Paths are shown
// relative to root when they lie beneath it.
func RenderHits(w io.Writer, styles Styles, root, keyword string, hits []store.Hit) error {
	if len(hits) == 0 {
		_, err := fmt.Fprintf(w, "%s\n", styles.Dim.Render(fmt.Sprintf("No results for %q", keyword)))
		return err
	}

	header := fmt.Sprintf("%d result(s) for %q", len(hits), keyword)
	if _, err := fmt.Fprintf(w, "%s\n\n", styles.Header.Render(header)); err != nil {
		return err
	}

	for i, h := range hits {
		path := displayPath(root, h.Path)
		line := fmt.Sprintf("%2d. %s  %s",
			i+1,
			styles.Path.Render(path),
			styles.Score.Render(fmt.Sprintf("%.3f", h.Score)))
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if snippet := renderSnippet(styles, h.Snippet); snippet != "" {
			if _, err := fmt.Fprintf(w, "    %s\n", snippet); err != nil {
				return err
			}
		}
	}
	return nil
}

func displayPath(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// renderSnippet flattens the snippet to one line and swaps <mark> tags for
// the Match style.
func renderSnippet(styles Styles, snippet string) string {
	snippet = strings.Join(strings.Fields(snippet), " ")
	if snippet == "" {
		return ""
	}

	var b strings.Builder
	for {
		start := strings.Index(snippet, markOpen)
		if start < 0 {
			b.WriteString(styles.Snippet.Render(snippet))
			break
		}
		end := strings.Index(snippet[start:], markClose)
		if end < 0 {
			b.WriteString(styles.Snippet.Render(strings.Replace(snippet, markOpen, "", 1)))
			break
		}
		end += start
		if start > 0 {
			b.WriteString(styles.Snippet.Render(snippet[:start]))
		}
		b.WriteString(styles.Match.Render(snippet[start+len(markOpen) : end]))
		snippet = snippet[end+len(markClose):]
		if snippet == "" {
			break
		}
	}
	return b.String()
}
