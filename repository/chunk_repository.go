package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ggawoos-bot/chat5M/models"
	"github.com/ggawoos-bot/chat5M/storage"
)

// ChunkRepository holds the regulation corpus in memory. It is loaded once at
// startup from the preprocessed artifact, falling back to chunking raw source
// files, falling back to a minimal built-in corpus. Load never brings the
// server down.
type ChunkRepository struct {
	store       storage.Storage
	artifactKey string
	sourceDir   string

	mu       sync.RWMutex
	chunks   []models.Chunk
	metadata models.CorpusMetadata
	loaded   bool
}

// NewChunkRepository creates a chunk repository backed by the given storage
func NewChunkRepository(store storage.Storage, artifactKey, sourceDir string) *ChunkRepository {
	return &ChunkRepository{
		store:       store,
		artifactKey: artifactKey,
		sourceDir:   sourceDir,
	}
}

// Load populates the corpus. Subsequent calls are no-ops; use Reload to force
// a refresh. Any failure falls through to the next source, so the returned
// error is only the context error.
func (r *ChunkRepository) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.loadArtifact(ctx); err != nil {
		log.Printf("Corpus artifact unavailable (%v), chunking source files", err)
		if err := r.loadSources(); err != nil {
			log.Printf("Source files unavailable (%v), using built-in fallback corpus", err)
			r.loadFallback()
		}
	}

	r.loaded = true
	log.Printf("Corpus loaded: %d chunks from %d documents", len(r.chunks), len(r.metadata.SourceDocuments))
	return nil
}

// Reload discards the current corpus and loads again from storage
func (r *ChunkRepository) Reload(ctx context.Context) error {
	r.mu.Lock()
	r.loaded = false
	r.chunks = nil
	r.metadata = models.CorpusMetadata{}
	r.mu.Unlock()
	return r.Load(ctx)
}

// Chunks returns the loaded corpus. The slice header is shared; callers must
// not mutate the elements.
func (r *ChunkRepository) Chunks() []models.Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunks
}

// Metadata returns corpus provenance for the status endpoint
func (r *ChunkRepository) Metadata() models.CorpusMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata
}

// SetChunks replaces the corpus directly, bypassing storage
func (r *ChunkRepository) SetChunks(chunks []models.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = chunks
	r.metadata = models.CorpusMetadata{
		ChunkCount:  len(chunks),
		LastUpdated: time.Now().Format(time.RFC3339),
	}
	r.loaded = true
}

func (r *ChunkRepository) loadArtifact(ctx context.Context) error {
	body, err := r.store.Fetch(ctx, r.artifactKey)
	if err != nil {
		return err
	}
	defer body.Close()

	var artifact models.CorpusArtifact
	if err := json.NewDecoder(body).Decode(&artifact); err != nil {
		return fmt.Errorf("failed to decode corpus artifact: %w", err)
	}
	if len(artifact.Chunks) == 0 {
		return errors.New("corpus artifact contains no chunks")
	}

	r.chunks = artifact.Chunks
	r.metadata = artifact.Metadata
	return nil
}

func (r *ChunkRepository) loadSources() error {
	entries, err := os.ReadDir(r.sourceDir)
	if err != nil {
		return err
	}

	var chunks []models.Chunk
	var docs []string
	var totalSize int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.sourceDir, entry.Name()))
		if err != nil {
			log.Printf("Skipping source file %s: %v", entry.Name(), err)
			continue
		}
		doc := strings.TrimSuffix(entry.Name(), ".txt")
		chunks = append(chunks, SplitIntoChunks(string(data), doc)...)
		docs = append(docs, doc)
		totalSize += len(data)
	}

	if len(chunks) == 0 {
		return errors.New("no usable source files found")
	}

	r.chunks = chunks
	r.metadata = models.CorpusMetadata{
		OriginalSize:    totalSize,
		ChunkCount:      len(chunks),
		EstimatedTokens: totalSize / 4,
		LastUpdated:     time.Now().Format(time.RFC3339),
		SourceDocuments: docs,
		Version:         "source-files",
	}
	return nil
}

// loadFallback seeds a minimal corpus so the service can still answer the
// most common questions when no corpus data is deployed at all.
func (r *ChunkRepository) loadFallback() {
	fallback := []models.Chunk{
		{
			ID:      "fallback-chunk-0000",
			Content: "국민건강증진법에 따라 어린이집, 유치원, 학교 등은 금연구역으로 지정되어 있으며, 금연구역에서 흡연 시 과태료가 부과됩니다.",
			Metadata: models.ChunkMetadata{
				Source:     "기본 안내",
				Title:      "기본 안내",
				ChunkIndex: 0,
			},
			Keywords: []string{"금연구역", "국민건강증진법", "과태료", "어린이집", "유치원", "학교"},
			Location: models.ChunkLocation{Document: "기본 안내"},
		},
		{
			ID:      "fallback-chunk-0001",
			Content: "금연구역 지정 및 관리는 관할 보건소에서 담당하며, 금연구역 표지판 설치 기준과 단속 절차는 업무지침을 따릅니다.",
			Metadata: models.ChunkMetadata{
				Source:     "기본 안내",
				Title:      "기본 안내",
				ChunkIndex: 1,
			},
			Keywords: []string{"금연구역", "보건소", "표지판", "단속", "업무지침"},
			Location: models.ChunkLocation{Document: "기본 안내"},
		},
	}

	r.chunks = fallback
	r.metadata = models.CorpusMetadata{
		ChunkCount:      len(fallback),
		LastUpdated:     time.Now().Format(time.RFC3339),
		SourceDocuments: []string{"기본 안내"},
		Version:         "fallback",
	}
}
