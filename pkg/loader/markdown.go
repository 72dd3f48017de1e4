package loader

import (
	"bytes"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/schema"
	"github.com/yuin/goldmark"
)

// loadMarkdown renders Markdown to HTML and keeps the text of each top-level
// block, separated by blank lines so the chunker sees paragraph breaks.
func loadMarkdown(r io.Reader) ([]schema.Document, error) {
	source, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var html bytes.Buffer
	if err := goldmark.Convert(source, &html); err != nil {
		return nil, err
	}

	dom, err := goquery.NewDocumentFromReader(&html)
	if err != nil {
		return nil, err
	}

	var blocks []string
	dom.Find("body").Children().Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})

	return []schema.Document{{
		PageContent: strings.Join(blocks, "\n\n"),
		Metadata:    map[string]any{},
	}}, nil
}
