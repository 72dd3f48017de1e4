package models

import (
	"path/filepath"
	"strings"
	"time"
)

type FileType string

const (
	FileTypePDF      FileType = "pdf"
	FileTypeText     FileType = "txt"
	FileTypeMarkdown FileType = "md"
)

// FileTypeFromPath maps a file extension to its FileType. The second return
// value is false for extensions the loaders do not handle.
func FileTypeFromPath(path string) (FileType, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FileTypePDF, true
	case ".txt":
		return FileTypeText, true
	case ".md", ".markdown":
		return FileTypeMarkdown, true
	}
	return "", false
}

// Document is a source file. It is never updated in place; ingesting the
// same name twice produces a second set of chunks.
type Document struct {
	Name string
	Type FileType
	Path string
}

// Page is one unit of loader output: a PDF page or a whole text file.
type Page struct {
	Text     string
	Metadata map[string]interface{}
}

type ChunkMetadata struct {
	SourceFile    string   `json:"source_file"`
	FileType      FileType `json:"file_type"`
	SequenceIndex int      `json:"sequence_index"`
}

// Chunk is the canonical payload stored next to every vector.
type Chunk struct {
	Text string `json:"text"`
	ChunkMetadata
}

type IndexEntry struct {
	ID      string
	Vector  []float32
	Payload Chunk
}

type ScoredEntry struct {
	Entry    IndexEntry
	Distance float64
}

// Similarity converts a cosine distance into a similarity score.
func (s ScoredEntry) Similarity() float64 {
	return 1 - s.Distance
}

type DistanceMetric string

const DistanceCosine DistanceMetric = "cosine"

type IngestMode string

const (
	IngestAppend  IngestMode = "append"
	IngestRebuild IngestMode = "rebuild"
)

func ParseIngestMode(s string) (IngestMode, bool) {
	switch IngestMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", IngestAppend:
		return IngestAppend, true
	case IngestRebuild:
		return IngestRebuild, true
	}
	return "", false
}

// ChunkRecord is the provenance row written to the metadata store for every
// indexed chunk.
type ChunkRecord struct {
	ID            string    `json:"id"`
	Collection    string    `json:"collection"`
	SourceFile    string    `json:"source_file"`
	FileType      FileType  `json:"file_type"`
	SequenceIndex int       `json:"sequence_index"`
	IngestedAt    time.Time `json:"ingested_at"`
}

type IngestSummary struct {
	Pages   int `json:"pages"`
	Chunks  int `json:"chunks"`
	Vectors int `json:"vectors"`
}
