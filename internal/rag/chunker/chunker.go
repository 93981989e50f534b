package chunker

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"docqa/internal/rag/schema"
)

// Config bounds the chunking engine. Sizes and the overlap are measured in
// runes of the normalized text.
type Config struct {
	// TargetSize is the preferred chunk size; boundaries are searched for
	// inside the band [MinSize, MaxSize] around it.
	TargetSize int
	// MinSize is the lower bound of the boundary search band.
	MinSize int
	// MaxSize is the hard upper bound. Only structural regions exceed it.
	MaxSize int
	// Overlap is how many runes from the tail of a chunk are repeated at
	// the head of its successor.
	Overlap int
}

// Engine splits extracted document text into overlapping, semantically
// bounded chunks.
//
// Chunking is a pure function of (text, hints, config): identical inputs
// always produce identical chunk boundaries. Reprocessing relies on this to
// stay idempotent, so nothing here may consult time, randomness or global
// state.
type Engine struct {
	cfg Config
}

// New creates a chunking engine. The configuration is assumed validated.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// segment is a contiguous region of the source text, either plain prose or
// a structural region kept intact.
type segment struct {
	start, end int
	structural bool
}

// Chunk splits content into ordered chunks for documentID. Table regions
// from the structural hints are emitted intact as single structural chunks
// even when they exceed MaxSize. Plain regions are split preferring the
// strongest boundary available in the size band: paragraph break, then
// sentence end, then whitespace, then a forced cut at MaxSize.
func (e *Engine) Chunk(content schema.ExtractedContent, documentID string) []schema.Chunk {
	runes := []rune(content.Text)
	if len(strings.TrimSpace(content.Text)) == 0 {
		return nil
	}

	var chunks []schema.Chunk
	emit := func(start, end int, structural bool) {
		text := string(runes[start:end])
		if strings.TrimSpace(text) == "" {
			return
		}
		ordinal := len(chunks)
		chunk := schema.Chunk{
			ID:         fmt.Sprintf("%s:%d", documentID, ordinal),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       text,
			Structural: structural,
			PageLabel:  labelAt(content.Hints, schema.HintPage, start),
			Metadata: map[string]interface{}{
				schema.MetadataKeyDocumentID: documentID,
			},
		}
		if chunk.PageLabel != "" {
			chunk.Metadata[schema.MetadataKeyPageLabel] = chunk.PageLabel
		}
		if heading := labelAt(content.Hints, schema.HintHeading, start); heading != "" {
			chunk.Metadata[schema.MetadataKeyHeading] = heading
		}
		chunks = append(chunks, chunk)
	}

	for _, seg := range splitSegments(content.Hints, len(runes)) {
		if seg.structural {
			emit(seg.start, seg.end, true)
			continue
		}
		e.chunkPlain(runes, seg.start, seg.end, emit)
	}

	return chunks
}

// chunkPlain walks one prose segment, cutting at the strongest boundary in
// the band and starting each successor Overlap runes before the cut.
func (e *Engine) chunkPlain(runes []rune, start, end int, emit func(start, end int, structural bool)) {
	for start < end {
		if end-start <= e.cfg.MaxSize {
			emit(start, end, false)
			return
		}

		bandStart := start + e.cfg.MinSize
		bandEnd := start + e.cfg.MaxSize

		cut := lastParagraphBreak(runes, bandStart, bandEnd)
		if cut < 0 {
			cut = lastSentenceEnd(runes, bandStart, bandEnd)
		}
		if cut < 0 {
			cut = lastWhitespace(runes, bandStart, bandEnd)
		}
		if cut < 0 {
			// No boundary in the band: force the split at the maximum.
			cut = bandEnd
		}

		emit(start, cut, false)

		next := cut - e.cfg.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}
}

// splitSegments partitions [0, length) into plain and structural segments
// using the table hints, which are clamped and sorted for determinism.
func splitSegments(hints []schema.StructuralHint, length int) []segment {
	var tables []schema.StructuralHint
	for _, h := range hints {
		if h.Kind != schema.HintTable {
			continue
		}
		start, end := h.Start, h.End
		if start < 0 {
			start = 0
		}
		if end > length {
			end = length
		}
		if start >= end {
			continue
		}
		tables = append(tables, schema.StructuralHint{Kind: h.Kind, Start: start, End: end})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Start < tables[j].Start })

	var segments []segment
	pos := 0
	for _, t := range tables {
		if t.Start > pos {
			segments = append(segments, segment{start: pos, end: t.Start})
		}
		if t.End > pos {
			segments = append(segments, segment{start: max(pos, t.Start), end: t.End, structural: true})
			pos = t.End
		}
	}
	if pos < length {
		segments = append(segments, segment{start: pos, end: length})
	}
	return segments
}

// labelAt returns the label of the last hint of the given kind starting at
// or before offset.
func labelAt(hints []schema.StructuralHint, kind schema.HintKind, offset int) string {
	label := ""
	best := -1
	for _, h := range hints {
		if h.Kind == kind && h.Start <= offset && h.Start >= best {
			best = h.Start
			label = h.Label
		}
	}
	return label
}

// lastParagraphBreak finds the position just after the last blank-line
// paragraph break inside [from, to], or -1.
func lastParagraphBreak(runes []rune, from, to int) int {
	for i := min(to, len(runes)) - 1; i > from; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	return -1
}

// lastSentenceEnd finds the position just after the last sentence
// terminator followed by whitespace inside [from, to], or -1.
func lastSentenceEnd(runes []rune, from, to int) int {
	for i := min(to, len(runes)) - 1; i > from; i-- {
		if isSpace(runes[i]) && i > 0 && isSentenceEnd(runes[i-1]) {
			return i + 1
		}
	}
	return -1
}

// lastWhitespace finds the position just after the last whitespace rune
// inside [from, to], or -1.
func lastWhitespace(runes []rune, from, to int) int {
	for i := min(to, len(runes)) - 1; i > from; i-- {
		if isSpace(runes[i]) {
			return i + 1
		}
	}
	return -1
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r)
}
