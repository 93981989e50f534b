package extract

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docqa/internal/rag/ragerr"
	"docqa/internal/rag/schema"
)

// PDFExtractor reads PDF files page by page. Each page start becomes a page
// hint, so chunks can cite the page they came from.
type PDFExtractor struct{}

func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (*schema.ExtractedContent, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %v: %w", err, ragerr.ErrParseFailure)
	}

	content := &schema.ExtractedContent{Pages: reader.NumPage()}
	var builder strings.Builder
	offset := 0

	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// One unreadable page does not fail the document; the page
			// hint is simply absent.
			continue
		}
		text = normalizeNewlines(text)
		if strings.TrimSpace(text) == "" {
			continue
		}

		content.Hints = append(content.Hints, schema.StructuralHint{
			Kind:  schema.HintPage,
			Start: offset,
			End:   offset + utf8.RuneCountInString(text),
			Label: strconv.Itoa(i),
		})
		builder.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			builder.WriteString("\n")
			offset++
		}
		offset += utf8.RuneCountInString(text)
	}

	content.Text = builder.String()
	if strings.TrimSpace(content.Text) == "" {
		return nil, fmt.Errorf("pdf contains no extractable text: %w", ragerr.ErrParseFailure)
	}
	return content, nil
}
