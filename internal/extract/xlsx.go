package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"docqa/internal/rag/ragerr"
	"docqa/internal/rag/schema"
)

// XlsxExtractor reads workbooks sheet by sheet. Every sheet becomes a
// Markdown table marked as one structural region, so the chunker keeps
// rows of the same sheet together.
type XlsxExtractor struct{}

func (e *XlsxExtractor) Extract(ctx context.Context, data []byte) (*schema.ExtractedContent, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %v: %w", err, ragerr.ErrParseFailure)
	}
	defer workbook.Close()

	content := &schema.ExtractedContent{}
	var builder strings.Builder
	offset := 0
	sheets := 0

	write := func(text string) {
		builder.WriteString(text)
		offset += utf8.RuneCountInString(text)
	}

	for _, sheetName := range workbook.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := workbook.GetRows(sheetName)
		if err != nil || len(rows) == 0 {
			continue
		}
		width := 0
		for _, row := range rows {
			if len(row) > width {
				width = len(row)
			}
		}
		if width == 0 {
			continue
		}

		heading := "# " + sheetName + "\n"
		content.Hints = append(content.Hints, schema.StructuralHint{
			Kind:  schema.HintHeading,
			Start: offset,
			End:   offset + utf8.RuneCountInString(heading),
			Label: sheetName,
		})
		write(heading)

		markdown := renderMarkdownTable(rows, width)
		content.Hints = append(content.Hints, schema.StructuralHint{
			Kind:  schema.HintTable,
			Start: offset,
			End:   offset + utf8.RuneCountInString(markdown),
		})
		write(markdown)
		write("\n")
		sheets++
	}

	content.Text = builder.String()
	if strings.TrimSpace(content.Text) == "" {
		return nil, fmt.Errorf("workbook contains no data: %w", ragerr.ErrParseFailure)
	}
	content.Pages = sheets
	return content, nil
}
