package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"docqa/internal/rag/ragerr"
	"docqa/internal/rag/schema"
)

// TextExtractor handles plain text files.
type TextExtractor struct{}

func (e *TextExtractor) Extract(ctx context.Context, data []byte) (*schema.ExtractedContent, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("text file is not valid UTF-8: %w", ragerr.ErrParseFailure)
	}
	return &schema.ExtractedContent{Text: normalizeNewlines(string(data))}, nil
}

// MarkdownExtractor handles Markdown. The raw text is kept as-is; ATX
// headings become heading hints so chunks can carry their section, and
// pipe tables become table hints kept intact by the chunker.
type MarkdownExtractor struct{}

func (e *MarkdownExtractor) Extract(ctx context.Context, data []byte) (*schema.ExtractedContent, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("markdown file is not valid UTF-8: %w", ragerr.ErrParseFailure)
	}
	text := normalizeNewlines(string(data))
	content := &schema.ExtractedContent{Text: text}
	content.Hints = markdownHints(text)
	content.Title = firstHeading(content.Hints)
	return content, nil
}

// markdownHints scans line by line, tracking rune offsets, and emits
// heading hints for ATX headings and table hints for runs of pipe rows.
func markdownHints(text string) []schema.StructuralHint {
	var hints []schema.StructuralHint
	var tableStart = -1
	inFence := false
	offset := 0

	flushTable := func(end int) {
		if tableStart >= 0 {
			hints = append(hints, schema.StructuralHint{Kind: schema.HintTable, Start: tableStart, End: end})
			tableStart = -1
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineRunes := utf8.RuneCountInString(line)
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "```"):
			inFence = !inFence
			flushTable(offset)
		case inFence:
			// headings and pipes inside code fences are literal text
		case strings.HasPrefix(trimmed, "#"):
			flushTable(offset)
			if title := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); title != "" {
				hints = append(hints, schema.StructuralHint{
					Kind:  schema.HintHeading,
					Start: offset,
					End:   offset + lineRunes,
					Label: title,
				})
			}
		case strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|"):
			if tableStart < 0 {
				tableStart = offset
			}
		default:
			flushTable(offset)
		}
		offset += lineRunes
	}
	flushTable(offset)
	return hints
}

func firstHeading(hints []schema.StructuralHint) string {
	for _, h := range hints {
		if h.Kind == schema.HintHeading {
			return h.Label
		}
	}
	return ""
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
