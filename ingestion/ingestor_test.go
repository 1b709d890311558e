package ingestion_test

import (
	"strings"
	"testing"

	"github.com/fabfab/fund-agent/ingestion"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		want ingestion.DocumentFormat
	}{
		{"prospectus.md", ingestion.FormatMarkdown},
		{"notes.markdown", ingestion.FormatMarkdown},
		{"report.PDF", ingestion.FormatPDF},
		{"holdings.csv", ingestion.FormatCSV},
		{"summary.txt", ingestion.FormatText},
		{"archive.zip", ingestion.FormatUnknown},
		{"no-extension", ingestion.FormatUnknown},
	}

	for _, tc := range cases {
		if got := ingestion.DetectFormat(tc.name); got != tc.want {
			t.Errorf("DetectFormat(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestChunkTextSplitsOnParagraphs(t *testing.T) {
	first := strings.Repeat("a", 120)
	second := strings.Repeat("b", 120)
	third := strings.Repeat("c", 120)
	content := first + "\n\n" + second + "\n\n" + third

	chunks := ingestion.ChunkText(content, 200, 0)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != first || chunks[1] != second || chunks[2] != third {
		t.Fatal("paragraphs must not be split mid-text at this size")
	}
}

func TestChunkTextCarriesOverlap(t *testing.T) {
	first := strings.Repeat("a", 120)
	second := strings.Repeat("b", 120)
	content := first + "\n\n" + second

	chunks := ingestion.ChunkText(content, 200, 30)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[1], first) {
		t.Fatal("second chunk must carry the previous paragraph as overlap")
	}
	if !strings.Contains(chunks[1], second) {
		t.Fatal("second chunk must contain the new paragraph")
	}
}

func TestChunkTextSmallContent(t *testing.T) {
	chunks := ingestion.ChunkText("just one short paragraph", 200, 30)
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}

	if got := ingestion.ChunkText("   \n\n   ", 200, 30); len(got) != 0 {
		t.Fatalf("whitespace-only content must produce no chunks, got %v", got)
	}
}

func TestIngestMarkdown(t *testing.T) {
	ing := ingestion.NewIngestor(200, 30)

	docs, err := ing.Ingest([]ingestion.File{
		{Name: "fund.md", Data: []byte("# Alpha Growth Fund\n\nThe fund invests in growth equities.")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) == 0 {
		t.Fatal("expected at least one document")
	}

	doc := docs[0]
	if doc.SourceID != "fund.md" {
		t.Fatalf("unexpected source: %q", doc.SourceID)
	}
	if doc.Metadata["title"] != "Alpha Growth Fund" {
		t.Fatalf("title not extracted from heading: %q", doc.Metadata["title"])
	}
	if doc.Metadata["chunk"] != "0" {
		t.Fatalf("unexpected chunk index: %q", doc.Metadata["chunk"])
	}
}

func TestIngestCSVRowsBecomeText(t *testing.T) {
	ing := ingestion.NewIngestor(200, 30)

	docs, err := ing.Ingest([]ingestion.File{
		{Name: "holdings.csv", Data: []byte("ticker,weight\nAAPL,5.2\nMSFT,4.8\n")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var combined strings.Builder
	for _, doc := range docs {
		combined.WriteString(doc.Text)
		combined.WriteString("\n")
	}
	text := combined.String()
	if !strings.Contains(text, "ticker: AAPL") || !strings.Contains(text, "weight: 4.8") {
		t.Fatalf("csv rows must be rendered as header/value lines, got:\n%s", text)
	}
}

func TestIngestRejectsUnsupportedFormat(t *testing.T) {
	ing := ingestion.NewIngestor(200, 30)

	_, err := ing.Ingest([]ingestion.File{{Name: "fund.docx", Data: []byte("x")}})
	if err == nil {
		t.Fatal("expected an error for unsupported format")
	}
	if !strings.Contains(err.Error(), "fund.docx") {
		t.Fatalf("error must name the offending file: %v", err)
	}
}

func TestIngestRejectsEmptyUpload(t *testing.T) {
	ing := ingestion.NewIngestor(200, 30)

	if _, err := ing.Ingest(nil); err == nil {
		t.Fatal("expected an error for an empty upload")
	}
	if _, err := ing.Ingest([]ingestion.File{{Name: "empty.txt", Data: nil}}); err == nil {
		t.Fatal("expected an error for a file with no text")
	}
}
