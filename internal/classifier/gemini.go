package classifier

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/unclebandit/inboxintel-backend/internal/model"
)

const defaultGeminiModel = "gemini-2.0-flash"

type geminiClassifier struct {
	client    *genai.Client
	modelName string
	prompts   PromptSource
}

func newGeminiClassifier(modelName string, opts Options) (Classifier, error) {
	if opts.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini classifier requires GEMINI_API_KEY")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     opts.GeminiAPIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiClassifier{client: client, modelName: modelName, prompts: opts.Prompts}, nil
}

func classificationSchema() *genai.Schema {
	categories := make([]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		categories = append(categories, string(c))
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"category": {
				Type: genai.TypeString,
				Enum: categories,
			},
			"confidence": {
				Type:        genai.TypeNumber,
				Description: "Confidence between 0 and 1",
			},
			"summary": {
				Type:        genai.TypeString,
				Description: "One short sentence describing the request",
			},
		},
		Required: []string{"category", "confidence", "summary"},
	}
}

func (g *geminiClassifier) Classify(ctx context.Context, text string) (model.Classification, error) {
	temp := float32(0.2)
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.modelName,
		genai.Text(RenderPrompt(g.prompts, text)),
		&genai.GenerateContentConfig{
			Temperature:      &temp,
			ResponseMIMEType: "application/json",
			ResponseSchema:   classificationSchema(),
			MaxOutputTokens:  200,
		},
	)
	if err != nil {
		return model.Classification{}, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.Classification{}, fmt.Errorf("empty response from gemini")
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			reply.WriteString(part.Text)
		}
	}
	return ParseResult(reply.String())
}
