package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/unidoc/unioffice/v2/document"

	"docqa/internal/rag/ragerr"
	"docqa/internal/rag/schema"
)

// DocxExtractor reads Word documents: body paragraphs in order with
// heading-style paragraphs as heading hints, then tables rendered as
// Markdown and marked as structural regions.
type DocxExtractor struct{}

func (e *DocxExtractor) Extract(ctx context.Context, data []byte) (*schema.ExtractedContent, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %v: %w", err, ragerr.ErrParseFailure)
	}

	content := &schema.ExtractedContent{}
	var builder strings.Builder
	offset := 0

	write := func(text string) {
		builder.WriteString(text)
		offset += utf8.RuneCountInString(text)
	}

	for _, para := range doc.Paragraphs() {
		var line strings.Builder
		for _, run := range para.Runs() {
			line.WriteString(run.Text())
		}
		text := strings.TrimSpace(line.String())
		if text == "" {
			continue
		}
		if style := paragraphStyle(para); strings.HasPrefix(style, "Heading") {
			content.Hints = append(content.Hints, schema.StructuralHint{
				Kind:  schema.HintHeading,
				Start: offset,
				End:   offset + utf8.RuneCountInString(text),
				Label: text,
			})
			if content.Title == "" {
				content.Title = text
			}
		}
		write(text)
		write("\n\n")
	}

	for _, table := range doc.Tables() {
		markdown := tableMarkdown(table)
		if markdown == "" {
			continue
		}
		content.Hints = append(content.Hints, schema.StructuralHint{
			Kind:  schema.HintTable,
			Start: offset,
			End:   offset + utf8.RuneCountInString(markdown),
		})
		write(markdown)
		write("\n")
	}

	content.Text = builder.String()
	if strings.TrimSpace(content.Text) == "" {
		return nil, fmt.Errorf("docx contains no extractable text: %w", ragerr.ErrParseFailure)
	}
	return content, nil
}

// paragraphStyle returns the paragraph's style id ("Heading1", "Normal")
// or empty when unstyled.
func paragraphStyle(para document.Paragraph) string {
	ct := para.X()
	if ct == nil || ct.PPr == nil || ct.PPr.PStyle == nil {
		return ""
	}
	return ct.PPr.PStyle.ValAttr
}

func tableMarkdown(table document.Table) string {
	var rows [][]string
	width := 0
	for _, row := range table.Rows() {
		var cells []string
		for _, cell := range row.Cells() {
			var cellText strings.Builder
			for _, para := range cell.Paragraphs() {
				for _, run := range para.Runs() {
					cellText.WriteString(run.Text())
				}
			}
			cells = append(cells, strings.TrimSpace(cellText.String()))
		}
		if len(cells) > width {
			width = len(cells)
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 || width == 0 {
		return ""
	}
	return renderMarkdownTable(rows, width)
}

// renderMarkdownTable renders rows as a pipe table, first row as header.
func renderMarkdownTable(rows [][]string, width int) string {
	var builder strings.Builder
	writeRow := func(cells []string) {
		builder.WriteString("|")
		for i := 0; i < width; i++ {
			value := ""
			if i < len(cells) {
				value = cells[i]
			}
			builder.WriteString(" " + value + " |")
		}
		builder.WriteString("\n")
	}

	writeRow(rows[0])
	builder.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return builder.String()
}
