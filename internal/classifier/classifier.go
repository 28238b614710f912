// Package classifier turns guest message text into a category, a confidence
// score and a one-line summary.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/unclebandit/inboxintel-backend/internal/model"
)

// Classifier is a classification backend. Implementations do not validate
// the category or confidence range; callers do.
type Classifier interface {
	Classify(ctx context.Context, text string) (model.Classification, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, text string) (model.Classification, error)

func (f Func) Classify(ctx context.Context, text string) (model.Classification, error) {
	return f(ctx, text)
}

type rawResult struct {
	Category   string          `json:"category"`
	Confidence json.RawMessage `json:"confidence"`
	Summary    string          `json:"summary"`
}

// ParseResult decodes a model reply of the form
// {"category": ..., "confidence": ..., "summary": ...}. Markdown code fences
// around the JSON are tolerated, and confidence may be a number or a numeric
// string.
func ParseResult(reply string) (model.Classification, error) {
	body := stripFences(reply)
	if body == "" {
		return model.Classification{}, fmt.Errorf("empty classifier reply")
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return model.Classification{}, fmt.Errorf("decode classifier reply: %w", err)
	}
	confidence, err := parseConfidence(raw.Confidence)
	if err != nil {
		return model.Classification{}, err
	}
	return model.Classification{
		Category:   model.Category(strings.ToUpper(strings.TrimSpace(raw.Category))),
		Confidence: confidence,
		Summary:    strings.TrimSpace(raw.Summary),
	}, nil
}

func parseConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("classifier reply has no confidence")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("confidence %s is not a number", string(raw))
	}
	var parsed float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &parsed); err != nil {
		return 0, fmt.Errorf("confidence %q is not a number", s)
	}
	return parsed, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
