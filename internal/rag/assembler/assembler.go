// Package assembler turns ranked search results into a bounded context
// window plus citations. It walks results in rank order, spends the budget
// greedily, deduplicates near-identical chunks and attributes every
// included block back to its source.
package assembler

import (
	"strings"

	"docqa/internal/config"
	"docqa/internal/rag/schema"
	"docqa/pkg/logger"
)

// Assembler is stateless; one instance serves all queries.
type Assembler struct {
	measurer Measurer
	cfg      config.AssemblerConfig
	log      *logger.Logger
}

// New creates an Assembler. A nil measurer falls back to rune counting.
func New(measurer Measurer, cfg config.AssemblerConfig, log *logger.Logger) *Assembler {
	if measurer == nil {
		measurer = CharMeasurer{}
	}
	return &Assembler{measurer: measurer, cfg: cfg, log: log}
}

// Context is the assembled output for one query.
type Context struct {
	Blocks    []schema.ContextBlock
	Citations []schema.Citation
	// Used is the budget actually spent, in measurer units.
	Used int
}

// Assemble walks results best first and packs them into the budget.
// A result that does not fit is skipped, not truncated, and the walk
// continues with later, smaller results. One exception: the first
// included chunk is truncated to the budget so a query never returns an
// empty context when results exist. That exception applies to structural
// chunks (tables, sheets) too; everywhere else they are skipped rather
// than cut. The budget is never exceeded. budget <= 0 falls back to the
// configured default.
func (a *Assembler) Assemble(results []schema.SearchResult, budget int) *Context {
	if budget <= 0 {
		budget = a.cfg.DefaultBudget
	}

	out := &Context{}
	var included []schema.Chunk
	remaining := budget

	for _, result := range results {
		chunk := result.Chunk
		if isDuplicate(chunk, included, a.cfg.DedupOverlap) {
			continue
		}

		cost := a.measurer.Measure(chunk.Text)
		text := chunk.Text
		truncated := false

		switch {
		case cost <= remaining:
			// fits whole
		case len(included) == 0:
			text = a.truncateTo(text, remaining)
			if text == "" {
				continue
			}
			cost = a.measurer.Measure(text)
			truncated = true
		default:
			continue
		}

		included = append(included, chunk)
		remaining -= cost
		out.Used += cost
		out.Blocks = append(out.Blocks, schema.ContextBlock{Text: text, Truncated: truncated})
		out.Citations = append(out.Citations, a.citation(result))

		if remaining <= 0 {
			break
		}
	}
	return out
}

// truncateTo cuts text down to at most budget measurer units, preferring a
// word boundary near the cut.
func (a *Assembler) truncateTo(text string, budget int) string {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	// The measure is monotone in length, binary search the largest prefix
	// that fits.
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if a.measurer.Measure(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	cut := string(runes[:lo])
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

func (a *Assembler) citation(result schema.SearchResult) schema.Citation {
	chunk := result.Chunk
	filename, _ := chunk.Metadata[schema.MetadataKeyFileName].(string)
	return schema.Citation{
		DocumentID: chunk.DocumentID,
		Filename:   filename,
		ChunkID:    chunk.ID,
		Ordinal:    chunk.Ordinal,
		PageLabel:  chunk.PageLabel,
		Score:      result.Score,
		Snippet:    snippet(chunk.Text, a.cfg.SnippetLength),
	}
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

// isDuplicate reports whether a chunk from the same document overlaps an
// already included chunk beyond the configured fraction. Results arrive
// sorted by score, so skipping the later of two duplicates keeps the
// higher-scored one.
func isDuplicate(chunk schema.Chunk, included []schema.Chunk, threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	for _, prev := range included {
		if prev.DocumentID != chunk.DocumentID {
			continue
		}
		if overlapFraction(prev.Text, chunk.Text) >= threshold {
			return true
		}
	}
	return false
}

// overlapFraction measures shared text between two chunks relative to the
// shorter one. Adjacent chunks overlap through the chunker's tail/head
// carryover, so suffix-prefix runs and full containment cover the cases
// that occur in practice.
func overlapFraction(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	shorter := len(ra)
	if len(rb) < shorter {
		shorter = len(rb)
	}
	if shorter == 0 {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1
	}
	overlap := suffixPrefixLen(ra, rb)
	if n := suffixPrefixLen(rb, ra); n > overlap {
		overlap = n
	}
	return float64(overlap) / float64(shorter)
}

// suffixPrefixLen returns the length of the longest suffix of a that is a
// prefix of b.
func suffixPrefixLen(a, b []rune) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for n := max; n > 0; n-- {
		if string(a[len(a)-n:]) == string(b[:n]) {
			return n
		}
	}
	return 0
}
