package ingestion

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultChunkSize    = 200
	defaultChunkOverlap = 30
)

// File is one uploaded document payload.
type File struct {
	Name string
	Data []byte
}

// Document is one normalized chunk of ingested text. SourceID names the
// originating file; Metadata carries the display title and chunk position.
type Document struct {
	SourceID string
	Text     string
	Metadata map[string]string
}

// Ingestor parses uploaded files by format and splits their text into
// paragraph chunks sized for embedding.
type Ingestor struct {
	chunkSize    int
	chunkOverlap int
	parsers      map[DocumentFormat]parser
}

func NewIngestor(chunkSize, chunkOverlap int) *Ingestor {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = defaultChunkOverlap
	}

	return &Ingestor{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		parsers: map[DocumentFormat]parser{
			FormatMarkdown: markdownParser{},
			FormatText:     textParser{},
			FormatPDF:      pdfParser{},
			FormatCSV:      csvParser{},
		},
	}
}

// Ingest parses every file and returns the combined chunk sequence. Unknown
// formats and files that yield no text fail the whole call: an upload that
// silently indexes nothing would produce a misleading fact sheet.
func (i *Ingestor) Ingest(files []File) ([]Document, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files supplied")
	}

	docs := make([]Document, 0, len(files))
	for _, file := range files {
		format := DetectFormat(file.Name)
		p, ok := i.parsers[format]
		if !ok {
			return nil, fmt.Errorf("unsupported document format for %q", file.Name)
		}

		result, err := p.Parse(file)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", file.Name, err)
		}

		chunks := ChunkText(result.Text, i.chunkSize, i.chunkOverlap)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("no text extracted from %q", file.Name)
		}

		for idx, text := range chunks {
			docs = append(docs, Document{
				SourceID: file.Name,
				Text:     text,
				Metadata: map[string]string{
					"title": result.Title,
					"chunk": strconv.Itoa(idx),
				},
			})
		}
	}

	return docs, nil
}

// ChunkText splits content into paragraph-aligned chunks of roughly target
// runes, carrying the last paragraph over as overlap between chunks.
func ChunkText(content string, target, overlap int) []string {
	clean := strings.ReplaceAll(content, "\r\n", "\n")
	paragraphs := strings.Split(clean, "\n\n")
	chunks := make([]string, 0)
	current := make([]string, 0)
	currentLen := 0

	for _, paragraph := range paragraphs {
		p := strings.TrimSpace(paragraph)
		if p == "" {
			continue
		}

		paragraphLen := len([]rune(p))
		if currentLen+paragraphLen > target && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			if overlap > 0 {
				last := current[len(current)-1]
				current = []string{last}
				currentLen = len([]rune(last))
			} else {
				current = current[:0]
				currentLen = 0
			}
		}

		current = append(current, p)
		currentLen += paragraphLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}

	return chunks
}
