package objective

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decision records a choice, the reasoning behind it and what was expected to follow.
type Decision struct {
	ID                     string    `json:"id" yaml:"id"`
	CreatedAt              time.Time `json:"created_at" yaml:"created_at"`
	Decision               string    `json:"decision" yaml:"decision"`
	Why                    string    `json:"why" yaml:"why"`
	Context                string    `json:"context" yaml:"context"`
	AlternativesConsidered []string  `json:"alternatives_considered" yaml:"alternatives_considered"`
	ExpectedOutcome        string    `json:"expected_outcome" yaml:"expected_outcome"`
	ActualOutcome          string    `json:"actual_outcome,omitempty" yaml:"actual_outcome,omitempty"`
	Tags                   []string  `json:"tags" yaml:"tags"`
	SourceObjectiveID      string    `json:"source_objective_id,omitempty" yaml:"source_objective_id,omitempty"`
}

// NewDecision returns a decision with a fresh id and creation time.
func NewDecision() *Decision {
	return &Decision{
		ID:                     uuid.NewString(),
		CreatedAt:              time.Now().UTC(),
		AlternativesConsidered: []string{},
		Tags:                   []string{},
	}
}

// EmbeddingText returns the text used to embed the decision.
func (d *Decision) EmbeddingText() string {
	parts := []string{d.Decision, d.Why}
	if d.Context != "" {
		parts = append(parts, d.Context)
	}
	return strings.Join(parts, " ")
}

// Validate checks if the Decision has valid field values.
func (d *Decision) Validate() error {
	if _, err := uuid.Parse(d.ID); err != nil {
		return fmt.Errorf("invalid decision ID: not a valid UUID")
	}
	if strings.TrimSpace(d.Decision) == "" {
		return fmt.Errorf("decision cannot be empty")
	}
	if strings.TrimSpace(d.Why) == "" {
		return fmt.Errorf("decision why cannot be empty")
	}
	return nil
}

// LearningCategory classifies a captured learning.
type LearningCategory string

const (
	CategoryInsight LearningCategory = "insight"
	CategoryMistake LearningCategory = "mistake"
	CategorySuccess LearningCategory = "success"
	CategoryPattern LearningCategory = "pattern"
	CategoryTool    LearningCategory = "tool"
	CategoryProcess LearningCategory = "process"
)

// Validate checks if the LearningCategory is a valid enum value.
func (c LearningCategory) Validate() error {
	switch c {
	case CategoryInsight, CategoryMistake, CategorySuccess, CategoryPattern, CategoryTool, CategoryProcess:
		return nil
	default:
		return fmt.Errorf("unknown learning category: %q", c)
	}
}

// ParseLearningCategory is lenient: blank or unknown input becomes insight.
func ParseLearningCategory(s string) LearningCategory {
	c := LearningCategory(strings.ToLower(strings.TrimSpace(s)))
	if c.Validate() != nil {
		return CategoryInsight
	}
	return c
}

// Learning is a piece of knowledge worth keeping, optionally tied to the objective it came from.
type Learning struct {
	ID                string           `json:"id" yaml:"id"`
	CreatedAt         time.Time        `json:"created_at" yaml:"created_at"`
	Content           string           `json:"content" yaml:"content"`
	Category          LearningCategory `json:"category" yaml:"category"`
	Tags              []string         `json:"tags" yaml:"tags"`
	SourceObjectiveID string           `json:"source_objective_id,omitempty" yaml:"source_objective_id,omitempty"`
	Confidence        float64          `json:"confidence" yaml:"confidence"`
}

// NewLearning returns an insight with a fresh id, creation time and full confidence.
func NewLearning() *Learning {
	return &Learning{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Category:   CategoryInsight,
		Tags:       []string{},
		Confidence: 1.0,
	}
}

// EmbeddingText returns the text used to embed the learning.
func (l *Learning) EmbeddingText() string {
	if len(l.Tags) == 0 {
		return l.Content
	}
	return l.Content + " " + strings.Join(l.Tags, " ")
}

// Validate checks if the Learning has valid field values.
func (l *Learning) Validate() error {
	if _, err := uuid.Parse(l.ID); err != nil {
		return fmt.Errorf("invalid learning ID: not a valid UUID")
	}
	if strings.TrimSpace(l.Content) == "" {
		return fmt.Errorf("learning content cannot be empty")
	}
	if err := l.Category.Validate(); err != nil {
		return fmt.Errorf("invalid category: %w", err)
	}
	if l.Confidence < 0 || l.Confidence > 1 {
		return fmt.Errorf("invalid confidence: must be within 0-1, got %v", l.Confidence)
	}
	return nil
}
