package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/ggawoos-bot/chat5M/models"
	"github.com/ggawoos-bot/chat5M/repository"
)

// AnalyzerService extracts intent, keywords, category, complexity and
// entities from a user question. It asks Gemini first and falls back to a
// deterministic local analysis when the API is unavailable, so retrieval
// always has an analysis to work with.
type AnalyzerService struct {
	keyring    *KeyringService
	model      string
	maxRetries int
	retryDelay time.Duration
}

// NewAnalyzerService creates a question analyzer over the shared keyring
func NewAnalyzerService(keyring *KeyringService, model string, maxRetries int, retryDelay time.Duration) *AnalyzerService {
	return &AnalyzerService{
		keyring:    keyring,
		model:      model,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

const analysisPrompt = `다음 질문을 분석하여 JSON으로만 응답하세요. 다른 텍스트는 포함하지 마세요.

질문: %s

응답 형식:
{
  "intent": "질문의 의도 요약",
  "keywords": ["핵심", "키워드"],
  "category": "definition|procedure|regulation|comparison|analysis|general",
  "complexity": "simple|medium|complex",
  "entities": ["기관명", "법령명", "시설명"],
  "context": "질문의 배경 맥락"
}`

// Analyze returns the structured analysis of a question. Remote analysis
// failures of any kind degrade to the local analyzer rather than erroring.
func (s *AnalyzerService) Analyze(ctx context.Context, question string) models.QuestionAnalysis {
	analysis, err := s.analyzeRemote(ctx, question)
	if err != nil {
		log.Printf("Remote question analysis failed (%v), using local analysis", err)
		return s.AnalyzeLocally(question)
	}
	return analysis
}

func (s *AnalyzerService) analyzeRemote(ctx context.Context, question string) (models.QuestionAnalysis, error) {
	op := func(ctx context.Context) (models.QuestionAnalysis, error) {
		issued, err := s.keyring.NextKey(ctx)
		if err != nil {
			return models.QuestionAnalysis{}, err
		}

		client, err := newGeminiClient(ctx, issued.Key)
		if err != nil {
			return models.QuestionAnalysis{}, err
		}
		defer client.Close()

		model := client.GenerativeModel(s.model)
		resp, err := model.GenerateContent(ctx, genai.Text(fmt.Sprintf(analysisPrompt, question)))
		if err != nil {
			s.keyring.RecordFailure(ctx, issued, err)
			return models.QuestionAnalysis{}, err
		}

		allowed, err := s.keyring.RecordUsage(ctx, issued)
		if err != nil {
			return models.QuestionAnalysis{}, err
		}
		if !allowed {
			return models.QuestionAnalysis{}, ErrNoCapacity
		}

		return parseAnalysisResponse(responseText(resp))
	}

	failover := func(err error) bool {
		// A different key may succeed; parse errors will not improve
		return !errors.Is(err, ErrNoCredentials) && !errors.Is(err, errUnparsableAnalysis)
	}

	return ExecuteWithRetry(ctx, op, s.maxRetries, s.retryDelay, failover)
}

var errUnparsableAnalysis = errors.New("analysis response is not valid JSON")

// parseAnalysisResponse decodes the model's JSON reply, tolerating markdown
// code fences around it. Anything that does not decode into a valid analysis
// is rejected so the local fallback takes over.
func parseAnalysisResponse(text string) (models.QuestionAnalysis, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return models.QuestionAnalysis{}, errUnparsableAnalysis
	}

	var analysis models.QuestionAnalysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &analysis); err != nil {
		return models.QuestionAnalysis{}, fmt.Errorf("%w: %v", errUnparsableAnalysis, err)
	}
	if analysis.Keywords == nil {
		analysis.Keywords = []string{}
	}
	if analysis.Entities == nil {
		analysis.Entities = []string{}
	}
	if !analysis.Valid() {
		return models.QuestionAnalysis{}, errUnparsableAnalysis
	}
	return analysis, nil
}

var stopwords = map[string]bool{
	"은": true, "는": true, "이": true, "가": true, "을": true, "를": true,
	"에": true, "에서": true, "으로": true, "로": true, "와": true, "과": true,
	"의": true, "도": true, "만": true, "에게": true, "한테": true,
	"그리고": true, "또는": true, "하지만": true, "그런데": true,
	"무엇인가요": true, "인가요": true, "있나요": true, "하나요": true,
	"합니까": true, "됩니까": true, "어떤": true, "어떻게": true,
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "what": true, "how": true, "why": true,
	"when": true, "where": true, "who": true, "which": true,
	"and": true, "or": true, "but": true, "of": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "with": true,
	"about": true, "it": true, "this": true, "that": true,
}

// tokenSplitRe splits a question on every run of characters that is not
// Hangul, Latin or a digit, so punctuation never glues tokens together.
var tokenSplitRe = regexp.MustCompile(`[^a-z0-9가-힣]+`)

var (
	orgEntityRe     = regexp.MustCompile(`[가-힣]+(?:청|부|원|소|센터|기관|단체|협회)`)
	lawEntityRe     = regexp.MustCompile(`[가-힣]+(?:법|령|규칙|지침|가이드라인|매뉴얼)`)
	measureEntityRe = regexp.MustCompile(`\d+(?:m|km|미터|킬로미터|%|퍼센트|원|만원|억원)`)
	complexTermRe   = regexp.MustCompile(`법령|규정|절차|기준|요건|조건`)
)

var namedFacilities = []string{
	"어린이집", "유치원", "학교", "금연구역", "흡연구역",
	"공동주택", "아파트", "버스정류장", "지하철역", "병원", "도서관",
}

// AnalyzeLocally is the deterministic fallback analyzer. It never fails and
// never consumes API quota.
func (s *AnalyzerService) AnalyzeLocally(question string) models.QuestionAnalysis {
	keywords := extractQuestionKeywords(question)

	intent := "일반 문의"
	if len(keywords) > 0 {
		top := keywords
		if len(top) > 3 {
			top = top[:3]
		}
		intent = strings.Join(top, ", ") + "에 대한 문의"
	}

	return models.QuestionAnalysis{
		Intent:     intent,
		Keywords:   keywords,
		Category:   classifyCategory(question),
		Complexity: classifyComplexity(question),
		Entities:   extractEntities(question),
		Context:    question,
	}
}

func extractQuestionKeywords(question string) []string {
	seen := map[string]bool{}
	keywords := []string{}

	for _, token := range tokenSplitRe.Split(strings.ToLower(question), -1) {
		if len([]rune(token)) < 2 || stopwords[token] || seen[token] {
			continue
		}
		seen[token] = true
		keywords = append(keywords, token)
	}

	for _, term := range repository.DomainVocabulary {
		if strings.Contains(question, term) && !seen[term] {
			seen[term] = true
			keywords = append(keywords, term)
		}
	}

	return keywords
}

// classifyCategory applies first-match rules in a fixed priority order
func classifyCategory(question string) models.Category {
	switch {
	case containsAny(question, "무엇", "정의", "의미"):
		return models.CategoryDefinition
	case containsAny(question, "어떻게", "절차", "방법"):
		return models.CategoryProcedure
	case containsAny(question, "규정", "법령", "조항"):
		return models.CategoryRegulation
	case containsAny(question, "비교", "차이", "vs"):
		return models.CategoryComparison
	case containsAny(question, "분석", "검토", "평가"):
		return models.CategoryAnalysis
	default:
		return models.CategoryGeneral
	}
}

func classifyComplexity(question string) models.Complexity {
	wordCount := len(strings.Fields(question))
	switch {
	case wordCount > 20 || strings.Count(question, "?") > 1 || complexTermRe.MatchString(question):
		return models.ComplexityComplex
	case wordCount > 10:
		return models.ComplexityMedium
	default:
		return models.ComplexitySimple
	}
}

func extractEntities(question string) []string {
	seen := map[string]bool{}
	entities := []string{}

	add := func(matches []string) {
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				entities = append(entities, m)
			}
		}
	}

	add(orgEntityRe.FindAllString(question, -1))
	add(lawEntityRe.FindAllString(question, -1))
	add(measureEntityRe.FindAllString(question, -1))

	for _, facility := range namedFacilities {
		if strings.Contains(question, facility) && !seen[facility] {
			seen[facility] = true
			entities = append(entities, facility)
		}
	}

	return entities
}

func containsAny(s string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
