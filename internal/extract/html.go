package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"docqa/internal/rag/ragerr"
	"docqa/internal/rag/schema"
)

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// HTMLExtractor converts HTML to Markdown and then reuses the Markdown
// hint scan, so headings and tables survive the conversion as structure.
type HTMLExtractor struct{}

func (e *HTMLExtractor) Extract(ctx context.Context, data []byte) (*schema.ExtractedContent, error) {
	markdown, err := htmltomarkdown.ConvertString(string(data))
	if err != nil {
		return nil, fmt.Errorf("convert html: %v: %w", err, ragerr.ErrParseFailure)
	}
	markdown = normalizeNewlines(markdown)
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("html contains no text content: %w", ragerr.ErrParseFailure)
	}

	content := &schema.ExtractedContent{Text: markdown}
	content.Hints = markdownHints(markdown)
	content.Title = htmlTitle(string(data))
	if content.Title == "" {
		content.Title = firstHeading(content.Hints)
	}
	return content, nil
}

func htmlTitle(raw string) string {
	match := titlePattern.FindStringSubmatch(raw)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}
