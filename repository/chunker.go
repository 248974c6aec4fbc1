package repository

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ggawoos-bot/chat5M/models"
)

// Chunking parameters. Window and overlap are rune counts; the window end is
// snapped back to the nearest sentence boundary within snapWindow runes.
const (
	chunkWindow  = 1500
	chunkOverlap = 200
	snapWindow   = 200
)

// DomainVocabulary is the fixed list of smoking-cessation regulation terms
// used both to tag chunks during preprocessing and to extract question
// keywords in the local analyzer fallback.
var DomainVocabulary = []string{
	"금연", "흡연", "금연구역", "흡연구역", "담배", "전자담배",
	"과태료", "벌금", "단속", "점검", "신고",
	"지정", "고시", "표지", "표지판", "안내판",
	"어린이집", "유치원", "학교", "교육청", "보건소",
	"공동주택", "다중이용시설", "공중이용시설", "경계",
	"국민건강증진법", "시행령", "시행규칙", "업무지침", "가이드라인", "매뉴얼",
	"금연지원서비스", "금연상담", "금연치료",
}

var (
	pageMarkerRe = regexp.MustCompile(`\[PAGE_(\d+)\]`)
	sectionRe    = regexp.MustCompile(`제\s?\d+\s?장[^\n]*`)
)

// SplitIntoChunks is the canonical chunking routine: fixed window with
// overlap, snapped to sentence boundaries, with [PAGE_N] markers preserved in
// the content so the model can cite page numbers. Positions are rune offsets
// into the document text.
func SplitIntoChunks(text, document string) []models.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []models.Chunk
	start := 0
	index := 0
	for start < len(runes) {
		end := start + chunkWindow
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToSentence(runes, start, end)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, models.Chunk{
				ID:      fmt.Sprintf("%s-chunk-%04d", slugify(document), index),
				Content: content,
				Metadata: models.ChunkMetadata{
					Source:        document,
					Title:         document,
					ChunkIndex:    index,
					StartPosition: start,
					EndPosition:   end,
					PageNumber:    pageAt(string(runes[:start])),
				},
				Keywords: extractChunkKeywords(content),
				Location: models.ChunkLocation{
					Document: document,
					Section:  sectionAt(string(runes[:end])),
				},
			})
			index++
		}

		if end == len(runes) {
			break
		}
		next := end - chunkOverlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// snapToSentence walks back from the tentative end to the last sentence
// boundary, so a chunk does not cut a sentence in half. Falls back to the
// hard cut when no boundary exists within snapWindow runes.
func snapToSentence(runes []rune, start, end int) int {
	limit := end - snapWindow
	if limit < start+1 {
		limit = start + 1
	}
	for i := end - 1; i >= limit; i-- {
		switch runes[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return end
}

// pageAt returns the page of the last [PAGE_N] marker preceding the chunk
func pageAt(prefix string) int {
	matches := pageMarkerRe.FindAllStringSubmatch(prefix, -1)
	if len(matches) == 0 {
		return 0
	}
	last := matches[len(matches)-1]
	var page int
	fmt.Sscanf(last[1], "%d", &page)
	return page
}

// sectionAt returns the last 제N장 heading seen before the chunk end
func sectionAt(prefix string) string {
	matches := sectionRe.FindAllString(prefix, -1)
	if len(matches) == 0 {
		return ""
	}
	heading := strings.TrimSpace(matches[len(matches)-1])
	if r := []rune(heading); len(r) > 40 {
		heading = string(r[:40])
	}
	return heading
}

func extractChunkKeywords(content string) []string {
	var keywords []string
	for _, term := range DomainVocabulary {
		if strings.Contains(content, term) {
			keywords = append(keywords, term)
		}
	}
	return keywords
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "/", "-")
	return slug
}
