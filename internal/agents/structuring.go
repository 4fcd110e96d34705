package agents

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/dyluth/drey/internal/embedding"
	"github.com/dyluth/drey/pkg/objective"
)

var (
	sentenceSplit = regexp.MustCompile(`[.!?\n]+\s*`)
	whyMarker     = regexp.MustCompile(`(?i)\b(because|so that|in order to)\b\s+`)
	outputMarker  = regexp.MustCompile(`(?i)\b(deliverable|output|result|outcome)\s*:\s*`)
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "from": {},
	"want": {}, "need": {}, "have": {}, "will": {}, "would": {}, "should": {}, "could": {},
	"into": {}, "about": {}, "because": {}, "order": {}, "some": {}, "more": {}, "than": {},
	"then": {}, "them": {}, "they": {}, "their": {}, "there": {}, "what": {}, "when": {},
	"which": {}, "while": {}, "your": {}, "our": {}, "just": {}, "also": {}, "like": {},
	"make": {}, "sure": {}, "next": {}, "week": {}, "done": {},
}

// RuleBasedStructurer extracts an objective from free text with sentence and keyword heuristics.
type RuleBasedStructurer struct{}

// NewRuleBasedStructurer returns a structuring agent that needs no external service.
func NewRuleBasedStructurer() *RuleBasedStructurer {
	return &RuleBasedStructurer{}
}

// Structure splits rawText into the objective fields:
//   - what: the first sentence, with any trailing motivation clause removed
//   - why: the clause introduced by "because", "so that" or "in order to", if any
//   - context: the remaining sentences, or the whole input when there are none
//   - expected_output: text after an explicit "deliverable:"/"output:" marker, or a
//     completion statement derived from what
//   - tags: the most frequent significant words
func (s *RuleBasedStructurer) Structure(ctx context.Context, rawText string) (*objective.Objective, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil, fmt.Errorf("cannot structure empty input")
	}

	expectedOutput := ""
	if loc := outputMarker.FindStringIndex(text); loc != nil {
		expectedOutput = firstSentence(text[loc[1]:])
		text = strings.TrimSpace(text[:loc[0]] + " " + restAfterFirstSentence(text[loc[1]:]))
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	// background keeps the original formatting so step lists survive for the planner
	background := ""
	if loc := sentenceSplit.FindStringIndex(text); loc != nil {
		background = strings.TrimSpace(text[loc[1]:])
	}

	what := strings.TrimRight(sentences[0], " :,;")
	why := ""
	if loc := whyMarker.FindStringIndex(what); loc != nil {
		why = strings.TrimSpace(what[loc[1]:])
		what = strings.TrimSpace(strings.TrimRight(what[:loc[0]], " ,;"))
	}
	if why == "" {
		for _, sentence := range sentences[1:] {
			if loc := whyMarker.FindStringIndex(sentence); loc != nil {
				why = strings.TrimSpace(sentence[loc[1]:])
				break
			}
		}
	}
	if what == "" {
		what = sentences[0]
	}
	what = truncate(what, maxWhatLength)

	if background == "" {
		background = strings.TrimSpace(rawText)
	}

	if expectedOutput == "" {
		expectedOutput = "Completed: " + what
	}

	obj := &objective.Objective{
		What:           what,
		Why:            why,
		Context:        background,
		ExpectedOutput: expectedOutput,
		Tags:           extractTags(rawText),
	}

	log.Printf("[Structurer] Structured input (%d chars): what=%q tags=%v", len(rawText), truncate(what, 60), obj.Tags)
	return obj, nil
}

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	return sentences[0]
}

func restAfterFirstSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return ""
	}
	return strings.Join(sentences[1:], ". ")
}

// extractTags returns up to maxTags significant words ordered by frequency, then by first
// appearance. Words shorter than four letters and stop words are ignored.
func extractTags(text string) []string {
	counts := map[string]int{}
	first := map[string]int{}
	for i, tok := range embedding.Tokenize(text) {
		if len(tok) < 4 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, seen := first[tok]; !seen {
			first[tok] = i
		}
		counts[tok]++
	}

	tags := make([]string, 0, len(counts))
	for tok := range counts {
		tags = append(tags, tok)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return first[tags[i]] < first[tags[j]]
	})

	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
