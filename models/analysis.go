package models

// Category classifies what kind of answer a question is asking for
type Category string

const (
	CategoryDefinition Category = "definition"
	CategoryProcedure  Category = "procedure"
	CategoryRegulation Category = "regulation"
	CategoryComparison Category = "comparison"
	CategoryAnalysis   Category = "analysis"
	CategoryGeneral    Category = "general"
)

// Complexity grades how much context a question is likely to need
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// QuestionAnalysis is the structured interpretation of a user question.
// One is built per incoming question and consumed by the context selector.
type QuestionAnalysis struct {
	Intent     string     `json:"intent"`
	Keywords   []string   `json:"keywords"`
	Category   Category   `json:"category"`
	Complexity Complexity `json:"complexity"`
	Entities   []string   `json:"entities"`
	Context    string     `json:"context"`
}

// Valid reports whether the analysis carries all required fields with
// category and complexity inside their enumerated sets. A partially filled
// model response must not pass this check.
func (a *QuestionAnalysis) Valid() bool {
	if a == nil || a.Intent == "" {
		return false
	}
	switch a.Category {
	case CategoryDefinition, CategoryProcedure, CategoryRegulation,
		CategoryComparison, CategoryAnalysis, CategoryGeneral:
	default:
		return false
	}
	switch a.Complexity {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
	default:
		return false
	}
	return a.Keywords != nil && a.Entities != nil
}
