package models

// Chunk represents a retrievable span of source text from the regulation corpus
type Chunk struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
	Keywords []string      `json:"keywords"`
	Location ChunkLocation `json:"location"`
}

// ChunkMetadata holds provenance and position within the source document
type ChunkMetadata struct {
	Source        string `json:"source"`
	Title         string `json:"title"`
	ChunkIndex    int    `json:"chunkIndex"`
	StartPosition int    `json:"startPosition"`
	EndPosition   int    `json:"endPosition"`
	PageNumber    int    `json:"pageNumber,omitempty"`
}

// ChunkLocation describes structural placement inside a document
type ChunkLocation struct {
	Document   string `json:"document"`
	Section    string `json:"section,omitempty"`
	Subsection string `json:"subsection,omitempty"`
}

// ScoredChunk carries the transient relevance score assigned during one
// selection pass. The score is never persisted with the chunk.
type ScoredChunk struct {
	Chunk
	RelevanceScore float64 `json:"relevanceScore"`
}

// CorpusArtifact is the precomputed corpus document consumed at startup.
// It is produced offline by cmd/preprocess.
type CorpusArtifact struct {
	CompressedText string         `json:"compressedText"`
	FullText       string         `json:"fullText"`
	Chunks         []Chunk        `json:"chunks"`
	Metadata       CorpusMetadata `json:"metadata"`
}

// CorpusMetadata describes the preprocessing run that built the artifact
type CorpusMetadata struct {
	OriginalSize     int      `json:"originalSize"`
	CompressedSize   int      `json:"compressedSize"`
	CompressionRatio float64  `json:"compressionRatio"`
	ChunkCount       int      `json:"chunkCount"`
	EstimatedTokens  int      `json:"estimatedTokens"`
	QualityScore     int      `json:"qualityScore"`
	LastUpdated      string   `json:"lastUpdated"`
	SourceDocuments  []string `json:"sourceDocuments"`
	Version          string   `json:"version"`
}
