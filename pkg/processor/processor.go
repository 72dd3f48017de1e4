package processor

import (
	"fmt"
	"strings"

	"github.com/xhad/hrrag/internal/models"
)

const (
	DefaultChunkSize    = 700
	DefaultChunkOverlap = 100
)

// Boundary levels in priority order. Separators in one level are equivalent.
var boundaryLevels = [][][]rune{
	{[]rune("\n\n")},
	{[]rune("\n")},
	{[]rune(". "), []rune("! "), []rune("? ")},
	{[]rune(" ")},
}

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
		if config.ChunkOverlap == 0 {
			config.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if config.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", config.ChunkSize, config.ChunkOverlap)
	}

	return &Processor{config: config}, nil
}

func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// ChunkPages splits every page of a document and numbers the resulting chunks
// across the whole document in text order.
func (p *Processor) ChunkPages(doc models.Document, pages []models.Page) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range pages {
		for _, text := range p.Split(page.Text) {
			chunks = append(chunks, models.Chunk{
				Text: text,
				ChunkMetadata: models.ChunkMetadata{
					SourceFile:    doc.Name,
					FileType:      doc.Type,
					SequenceIndex: len(chunks),
				},
			})
		}
	}
	return chunks
}

// Split cuts text into spans of at most ChunkSize characters. Each span after
// the first starts ChunkOverlap characters before the end of the previous one.
// Whitespace-only spans are dropped. A whitespace run longer than ChunkOverlap
// can therefore separate two chunks that share no overlap.
func (p *Processor) Split(text string) []string {
	runes := []rune(text)
	size, overlap := p.config.ChunkSize, p.config.ChunkOverlap

	var chunks []string
	emit := func(span []rune) {
		s := string(span)
		if strings.TrimSpace(s) != "" {
			chunks = append(chunks, s)
		}
	}

	start := 0
	for start < len(runes) {
		if len(runes)-start <= size {
			emit(runes[start:])
			break
		}
		cut := p.boundary(runes, start)
		emit(runes[start:cut])
		// boundary guarantees cut-start > overlap, so the cursor never falls
		// back to or before the previous cut.
		start = cut - overlap
	}

	return chunks
}

// boundary returns the end (exclusive) of the chunk starting at start.
func (p *Processor) boundary(runes []rune, start int) int {
	limit := start + p.config.ChunkSize
	minCut := start + p.config.ChunkOverlap + 1

	for _, level := range boundaryLevels {
		for pos := limit; pos >= minCut; pos-- {
			for _, sep := range level {
				if endsWith(runes, start, pos, sep) {
					return pos
				}
			}
		}
	}
	return limit
}

func endsWith(runes []rune, start, pos int, sep []rune) bool {
	from := pos - len(sep)
	if from < start {
		return false
	}
	for i, r := range sep {
		if runes[from+i] != r {
			return false
		}
	}
	return true
}
