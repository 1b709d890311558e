package ingestion

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// parsed is the intermediate result of a format parser: a display title and
// the document's full plain text.
type parsed struct {
	Title string
	Text  string
}

type parser interface {
	Parse(file File) (parsed, error)
}

type markdownParser struct{}

func (markdownParser) Parse(file File) (parsed, error) {
	content := normalizePlainText(string(file.Data))
	return parsed{
		Title: ExtractTitle(content, filepath.Base(file.Name)),
		Text:  content,
	}, nil
}

type textParser struct{}

func (textParser) Parse(file File) (parsed, error) {
	content := normalizePlainText(string(file.Data))
	title := firstNonEmptyLine(content)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(file.Name), filepath.Ext(file.Name))
	}
	return parsed{Title: title, Text: content}, nil
}

type pdfParser struct{}

func (pdfParser) Parse(file File) (parsed, error) {
	reader, err := pdf.NewReader(bytes.NewReader(file.Data), int64(len(file.Data)))
	if err != nil {
		return parsed{}, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return parsed{}, fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return parsed{}, fmt.Errorf("read pdf text: %w", err)
	}

	content := normalizePlainText(buf.String())
	title := firstNonEmptyLine(content)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(file.Name), filepath.Ext(file.Name))
	}

	return parsed{Title: title, Text: content}, nil
}

type csvParser struct{}

func (csvParser) Parse(file File) (parsed, error) {
	reader := csv.NewReader(bytes.NewReader(file.Data))
	records, err := reader.ReadAll()
	if err != nil {
		return parsed{}, fmt.Errorf("parse csv: %w", err)
	}

	title := strings.TrimSuffix(filepath.Base(file.Name), filepath.Ext(file.Name))
	if len(records) == 0 {
		return parsed{Title: title, Text: ""}, nil
	}

	headers := records[0]
	rows := records[1:]

	paragraphs := make([]string, 0, len(rows))
	for idx, row := range rows {
		paragraphs = append(paragraphs, formatCSVRow(headers, row, idx))
	}

	return parsed{Title: title, Text: strings.Join(paragraphs, "\n\n")}, nil
}

// ExtractTitle returns the first Markdown heading, or the fallback when the
// content has none.
func ExtractTitle(content, fallback string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return fallback
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	builder.WriteString(fmt.Sprintf("Row %d", idx+1))

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		value := strings.TrimSpace(row[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		builder.WriteString("\n")
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(value)
	}

	// Append any remaining values beyond the headers count.
	if len(row) > len(headers) {
		for i := len(headers); i < len(row); i++ {
			builder.WriteString("\n")
			builder.WriteString(fmt.Sprintf("Extra %d: %s", i+1, strings.TrimSpace(row[i])))
		}
	}

	return builder.String()
}
