package schema

const (
	// MetadataKeyFileName is the key for the source file name.
	MetadataKeyFileName = "file_name"
	// MetadataKeyPageLabel is the key for the page number or label from the
	// source document.
	MetadataKeyPageLabel = "page_label"
	// MetadataKeyHeading is the key for the nearest preceding heading.
	MetadataKeyHeading = "heading"
	// MetadataKeyDocumentID is the key for the owning document's id.
	MetadataKeyDocumentID = "document_id"
)

// Chunk is a bounded, indexable segment of a document's extracted text. It
// is the primary data carrier through chunking, embedding and indexing.
// Chunks are immutable once created; reprocessing replaces a document's
// chunk set wholesale.
type Chunk struct {
	// ID is the unique identifier of this chunk, derived deterministically
	// from the document id and ordinal so reprocessing is idempotent.
	ID string

	// DocumentID is the owning document. A chunk never outlives it.
	DocumentID string

	// Ordinal is the zero-based position of the chunk within the document.
	Ordinal int

	// Text is the chunk's content.
	Text string

	// Structural marks a region (table, sheet) kept intact even beyond the
	// normal maximum size. The context assembler never truncates these.
	Structural bool

	// PageLabel is the page the chunk starts on, empty when unknown.
	PageLabel string

	// Embedding is the vector representation, populated by the embedding
	// coordinator before indexing.
	Embedding []float32

	// Metadata holds inherited document metadata plus position info.
	Metadata map[string]interface{}
}

// HintKind classifies a structural hint from the content extractor.
type HintKind string

const (
	HintPage    HintKind = "page"
	HintHeading HintKind = "heading"
	HintTable   HintKind = "table"
)

// StructuralHint marks a region of the normalized text. Offsets are rune
// positions into ExtractedContent.Text.
type StructuralHint struct {
	Kind  HintKind
	Start int
	End   int
	// Label carries the page number for HintPage or the heading text for
	// HintHeading.
	Label string
}

// ExtractedContent is the normalized output of a content extractor: plain
// text plus the structural hints the chunking engine splits around.
type ExtractedContent struct {
	Text  string
	Hints []StructuralHint

	Pages    int
	Words    int
	Title    string
	Author   string
	Language string
}

// Hit is a ranked index match for one half of a hybrid query.
type Hit struct {
	ChunkID string
	Score   float64
}

// SearchResult is one fused, ranked retrieval result. It is ephemeral and
// never persisted.
type SearchResult struct {
	Chunk Chunk
	// Score is the fused relevance score.
	Score float64
	// SemanticScore and KeywordScore are the raw component scores; a chunk
	// found by only one half carries zero for the other.
	SemanticScore float64
	KeywordScore  float64
}

// ContextBlock is one unit of assembled context text.
type ContextBlock struct {
	Text      string
	Truncated bool
}

// Citation attributes a context block back to its source.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkID    string  `json:"chunk_id"`
	Ordinal    int     `json:"ordinal"`
	PageLabel  string  `json:"page_label,omitempty"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}
