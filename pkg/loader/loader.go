// Package loader turns policy files into page text keyed by file extension.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
)

const DefaultMaxFileSize = 50 << 20

type LoaderConfig struct {
	MaxFileSize int64
	PDFPassword string
}

type Loader struct {
	config LoaderConfig
}

var _ types.Loader = (*Loader)(nil)

func NewWithConfig(config LoaderConfig) *Loader {
	if config.MaxFileSize == 0 {
		config.MaxFileSize = DefaultMaxFileSize
	}
	return &Loader{config: config}
}

// Load reads the file at path. PDFs yield one page per PDF page; text and
// Markdown files yield a single page.
func (l *Loader) Load(ctx context.Context, path string) (models.Document, []models.Page, error) {
	fileType, ok := models.FileTypeFromPath(path)
	if !ok {
		return models.Document{}, nil, fmt.Errorf("%w: %s", types.ErrUnsupportedFileType, filepath.Ext(path))
	}
	doc := models.Document{
		Name: filepath.Base(path),
		Type: fileType,
		Path: path,
	}

	f, err := os.Open(path)
	if err != nil {
		return doc, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return doc, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > l.config.MaxFileSize {
		return doc, nil, fmt.Errorf("%s is %d bytes, limit is %d", doc.Name, info.Size(), l.config.MaxFileSize)
	}

	var raw []schema.Document
	switch fileType {
	case models.FileTypePDF:
		var opts []documentloaders.PDFOptions
		if l.config.PDFPassword != "" {
			opts = append(opts, documentloaders.WithPassword(l.config.PDFPassword))
		}
		raw, err = documentloaders.NewPDF(f, info.Size(), opts...).Load(ctx)
	case models.FileTypeText:
		raw, err = documentloaders.NewText(f).Load(ctx)
	case models.FileTypeMarkdown:
		raw, err = loadMarkdown(f)
	}
	if err != nil {
		return doc, nil, fmt.Errorf("failed to load %s: %w", doc.Name, err)
	}

	pages := make([]models.Page, 0, len(raw))
	for _, r := range raw {
		metadata := make(map[string]interface{}, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		metadata["source_file"] = doc.Name
		metadata["file_type"] = string(doc.Type)

		pages = append(pages, models.Page{
			Text:     normalizeNewlines(r.PageContent),
			Metadata: metadata,
		})
	}

	return doc, pages, nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
