package service

import (
	"sort"
	"strings"

	"github.com/ggawoos-bot/chat5M/models"
	"github.com/ggawoos-bot/chat5M/repository"
)

// Scoring weights for one chunk against one question analysis
const (
	keywordWeight    = 2.0
	synonymWeight    = 1.5
	entityWeight     = 3.0
	partialWeight    = 0.5
	categoryWeight   = 2.0
	complexityWeight = 1.0
)

// synonymTable expands question keywords into domain synonyms so a chunk
// using different wording still scores.
var synonymTable = map[string][]string{
	"금연":   {"흡연금지", "담배끊기", "금연구역"},
	"흡연":   {"담배", "끽연"},
	"과태료":  {"벌금", "범칙금", "제재금"},
	"단속":   {"점검", "적발", "감시"},
	"지정":   {"고시", "공고", "설정"},
	"표지판":  {"표지", "안내판", "표시"},
	"어린이집": {"보육시설", "유아시설"},
	"학교":   {"교육기관", "학교시설"},
	"절차":   {"방법", "단계", "순서"},
	"신고":   {"민원", "제보"},
}

// categoryMarkers are terms whose presence in a chunk signals it matches the
// question's category.
var categoryMarkers = map[models.Category][]string{
	models.CategoryDefinition: {"정의", "의미"},
	models.CategoryProcedure:  {"절차", "방법", "단계"},
	models.CategoryRegulation: {"규정", "법령", "조항"},
}

// ContextService selects the corpus chunks most relevant to an analyzed
// question. Selection is a pure function of the corpus and the analysis, so
// the same question always yields the same context.
type ContextService struct {
	chunks    *repository.ChunkRepository
	maxChunks int
}

// NewContextService creates a selector over the loaded corpus
func NewContextService(chunks *repository.ChunkRepository, maxChunks int) *ContextService {
	return &ContextService{chunks: chunks, maxChunks: maxChunks}
}

// Select returns the top chunks for the analysis with scores stripped
func (s *ContextService) Select(analysis models.QuestionAnalysis) []models.Chunk {
	scored := s.SelectScored(analysis)
	chunks := make([]models.Chunk, len(scored))
	for i, sc := range scored {
		chunks[i] = sc.Chunk
	}
	return chunks
}

// SelectScored returns the top chunks with their relevance scores attached.
// Corpus order breaks ties, and the result always fills up to maxChunks even
// when trailing chunks scored zero.
func (s *ContextService) SelectScored(analysis models.QuestionAnalysis) []models.ScoredChunk {
	corpus := s.chunks.Chunks()
	if len(corpus) == 0 {
		return []models.ScoredChunk{}
	}

	scored := make([]models.ScoredChunk, len(corpus))
	for i, chunk := range corpus {
		scored[i] = models.ScoredChunk{
			Chunk:          chunk,
			RelevanceScore: scoreChunk(chunk, analysis),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})

	if len(scored) > s.maxChunks {
		scored = scored[:s.maxChunks]
	}
	return scored
}

// scoreChunk accumulates the weighted evidence that a chunk answers the
// analyzed question. Keyword, synonym and partial signals are independent
// and each distinct synonym term scores on its own, so a chunk covering
// several related terms outranks a single direct hit.
func scoreChunk(chunk models.Chunk, analysis models.QuestionAnalysis) float64 {
	content := strings.ToLower(chunk.Content)
	tags := make([]string, len(chunk.Keywords))
	for i, kw := range chunk.Keywords {
		tags[i] = strings.ToLower(kw)
	}

	// Keywords and synonyms match case-insensitively; Latin-script terms
	// from remote analysis arrive in arbitrary casing.
	matchesFold := func(term string) bool {
		term = strings.ToLower(term)
		if strings.Contains(content, term) {
			return true
		}
		for _, tag := range tags {
			if tag == term {
				return true
			}
		}
		return false
	}

	score := 0.0
	for _, keyword := range analysis.Keywords {
		if matchesFold(keyword) {
			score += keywordWeight
		}
		for _, syn := range synonymTable[keyword] {
			if matchesFold(syn) {
				score += synonymWeight
			}
		}
		// A shared two-rune prefix catches inflected forms of the
		// same Korean stem
		if prefix := keywordPrefix(keyword); prefix != "" && strings.Contains(content, prefix) {
			score += partialWeight
		}
	}

	// Entities are proper names and match exactly
	for _, entity := range analysis.Entities {
		if chunkContains(chunk, entity) {
			score += entityWeight
		}
	}

	for _, marker := range categoryMarkers[analysis.Category] {
		if strings.Contains(chunk.Content, marker) {
			score += categoryWeight
			break
		}
	}

	// Flat bias for complex questions: ranking is unchanged, the larger
	// selection quota does the work
	if analysis.Complexity == models.ComplexityComplex {
		score += complexityWeight
	}

	return score
}

func chunkContains(chunk models.Chunk, term string) bool {
	if strings.Contains(chunk.Content, term) {
		return true
	}
	for _, kw := range chunk.Keywords {
		if kw == term {
			return true
		}
	}
	return false
}

func keywordPrefix(keyword string) string {
	runes := []rune(strings.ToLower(keyword))
	if len(runes) < 2 {
		return ""
	}
	return string(runes[:2])
}
