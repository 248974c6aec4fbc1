package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ggawoos-bot/chat5M/models"
	"github.com/ggawoos-bot/chat5M/repository"
	"github.com/ggawoos-bot/chat5M/storage"
)

var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// preprocess reads the extracted regulation text files, chunks them, and
// writes the corpus artifact the server loads at startup.
func main() {
	srcDir := flag.String("src", "./data/sources", "directory of extracted .txt source files")
	outKey := flag.String("out", "processed-pdfs.json", "artifact key to write")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}

	artifactStorage, err := storage.NewStorageFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	entries, err := os.ReadDir(*srcDir)
	if err != nil {
		log.Fatalf("Failed to read source directory %s: %v", *srcDir, err)
	}

	var chunks []models.Chunk
	var docs []string
	var fullText strings.Builder
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(*srcDir, entry.Name()))
		if err != nil {
			log.Fatalf("Failed to read %s: %v", entry.Name(), err)
		}

		doc := strings.TrimSuffix(entry.Name(), ".txt")
		docChunks := repository.SplitIntoChunks(string(data), doc)
		chunks = append(chunks, docChunks...)
		docs = append(docs, doc)
		fullText.Write(data)
		fullText.WriteString("\n")
		log.Printf("Chunked %s: %d chunks", doc, len(docChunks))
	}

	if len(chunks) == 0 {
		log.Fatalf("No .txt source files found in %s", *srcDir)
	}

	full := fullText.String()
	compressed := compressText(full)

	artifact := models.CorpusArtifact{
		CompressedText: compressed,
		FullText:       full,
		Chunks:         chunks,
		Metadata: models.CorpusMetadata{
			OriginalSize:     len(full),
			CompressedSize:   len(compressed),
			CompressionRatio: float64(len(compressed)) / float64(len(full)),
			ChunkCount:       len(chunks),
			EstimatedTokens:  len(compressed) / 4,
			QualityScore:     qualityScore(chunks),
			LastUpdated:      time.Now().Format(time.RFC3339),
			SourceDocuments:  docs,
			Version:          "1.0",
		},
	}

	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode artifact: %v", err)
	}

	if err := artifactStorage.Store(context.Background(), *outKey, bytes.NewReader(payload)); err != nil {
		log.Fatalf("Failed to store artifact: %v", err)
	}

	log.Printf("Artifact written to %s: %d chunks from %d documents, %d bytes",
		*outKey, len(chunks), len(docs), len(payload))
}

// compressText collapses horizontal whitespace runs and blank lines, which
// is where PDF text extraction wastes most of its bytes.
func compressText(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	return strings.Join(kept, "\n")
}

// qualityScore is the percentage of chunks that carry at least one domain
// keyword. A low score usually means the source extraction is garbled.
func qualityScore(chunks []models.Chunk) int {
	tagged := 0
	for _, chunk := range chunks {
		if len(chunk.Keywords) > 0 {
			tagged++
		}
	}
	return tagged * 100 / len(chunks)
}
