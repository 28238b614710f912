package classifier

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/unclebandit/inboxintel-backend/internal/model"
)

// keywordClassifier is an offline fallback that matches phrases. It never
// calls out and is deterministic, which makes it handy for local runs.
type keywordClassifier struct {
	patterns []keywordPattern
}

type keywordPattern struct {
	re         *regexp.Regexp
	category   model.Category
	confidence float64
	summary    string
}

func buildKeywordPatterns() []keywordPattern {
	return []keywordPattern{
		{regexp.MustCompile(`(?i)(early\s+check[\s-]?in|check[\s-]?in\s+early|arrive\s+early|arrive\s+before|check\s+in\s+at\s+\d{1,2}(:\d{2})?\s*(am)?\b)`), model.CategoryEarlyCheckin, 0.8, "Guest asks for an early check-in"},
		{regexp.MustCompile(`(?i)(late\s+check[\s-]?out|check[\s-]?out\s+late|leave\s+later|stay\s+(a\s+bit\s+)?longer)`), model.CategoryLateCheckout, 0.8, "Guest asks for a late check-out"},
		{regexp.MustCompile(`(?i)(broken|not\s+working|doesn'?t\s+work|leak|no\s+hot\s+water|no\s+wi-?fi|power\s+(is\s+)?out|clogged)`), model.CategoryMaintenanceIssue, 0.75, "Guest reports a maintenance issue"},
		{regexp.MustCompile(`(?i)(crib|extra\s+(towels|bed|pillows|blankets)|high\s*chair|parking|birthday|anniversary|flowers|champagne)`), model.CategorySpecialRequest, 0.7, "Guest has a special request"},
	}
}

func newKeywordClassifier(string, Options) (Classifier, error) {
	return &keywordClassifier{patterns: buildKeywordPatterns()}, nil
}

func (k *keywordClassifier) Classify(ctx context.Context, text string) (model.Classification, error) {
	if err := ctx.Err(); err != nil {
		return model.Classification{}, err
	}
	t := strings.TrimSpace(text)
	for _, p := range k.patterns {
		if loc := p.re.FindStringIndex(t); loc != nil {
			return model.Classification{
				Category:   p.category,
				Confidence: p.confidence,
				Summary:    p.summary + ": " + excerpt(t[loc[0]:loc[1]]),
			}, nil
		}
	}
	return model.Classification{
		Category:   model.CategoryGeneralQuestion,
		Confidence: 0.5,
		Summary:    "General question: " + excerpt(t),
	}, nil
}

func excerpt(s string) string {
	const max = 60
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
