// Package extract turns uploaded file bytes into normalized text plus the
// structural hints the chunking engine splits around. One extractor per
// supported file type, dispatched through a registry that verifies the
// declared type against the actual content first.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"docqa/internal/models"
	"docqa/internal/rag/ragerr"
	"docqa/internal/rag/schema"
)

// Extractor parses one file format.
type Extractor interface {
	// Extract parses data into normalized content. Parse errors are
	// reported wrapped in ragerr.ErrParseFailure.
	Extract(ctx context.Context, data []byte) (*schema.ExtractedContent, error)
}

// Registry dispatches extraction by declared file type.
type Registry struct {
	extractors map[models.FileType]Extractor
}

// NewRegistry builds a registry covering every supported file type.
func NewRegistry() *Registry {
	return &Registry{extractors: map[models.FileType]Extractor{
		models.FileTypePDF:  &PDFExtractor{},
		models.FileTypeDocx: &DocxExtractor{},
		models.FileTypeXlsx: &XlsxExtractor{},
		models.FileTypeTxt:  &TextExtractor{},
		models.FileTypeMd:   &MarkdownExtractor{},
		models.FileTypeHTML: &HTMLExtractor{},
	}}
}

// Supported reports whether the registry can handle the file type.
func (r *Registry) Supported(fileType models.FileType) bool {
	_, ok := r.extractors[fileType]
	return ok
}

// Extract verifies the content matches the declared type, then parses it.
// A mismatch (a renamed executable, a PDF uploaded as .txt) is a parse
// failure, not a crash further down the pipeline.
func (r *Registry) Extract(ctx context.Context, fileType models.FileType, data []byte) (*schema.ExtractedContent, error) {
	extractor, ok := r.extractors[fileType]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q: %w", fileType, ragerr.ErrParseFailure)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file: %w", ragerr.ErrParseFailure)
	}
	if err := verifyContentType(fileType, data); err != nil {
		return nil, err
	}

	content, err := extractor.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	content.Words = len(strings.Fields(content.Text))
	return content, nil
}

// verifyContentType checks the sniffed MIME type against the declared one.
// Text-ish declarations accept any text MIME since sniffing cannot tell
// .txt from .md.
func verifyContentType(fileType models.FileType, data []byte) error {
	detected := mimetype.Detect(data)
	switch fileType {
	case models.FileTypePDF:
		if !detected.Is("application/pdf") {
			return mismatch(fileType, detected.String())
		}
	case models.FileTypeDocx:
		if !detected.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document") {
			return mismatch(fileType, detected.String())
		}
	case models.FileTypeXlsx:
		if !detected.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet") {
			return mismatch(fileType, detected.String())
		}
	case models.FileTypeTxt, models.FileTypeMd, models.FileTypeHTML:
		if !strings.HasPrefix(detected.String(), "text/") && !detected.Is("application/octet-stream") {
			return mismatch(fileType, detected.String())
		}
	}
	return nil
}

func mismatch(declared models.FileType, detected string) error {
	return fmt.Errorf("content type %s does not match declared type %q: %w", detected, declared, ragerr.ErrParseFailure)
}
