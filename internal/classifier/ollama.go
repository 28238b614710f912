package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/unclebandit/inboxintel-backend/internal/model"
)

const defaultOllamaModel = "llama3"

type ollamaClassifier struct {
	baseURL    string
	modelName  string
	prompts    PromptSource
	httpClient *http.Client
}

func newOllamaClassifier(modelName string, opts Options) (Classifier, error) {
	if modelName == "" {
		modelName = defaultOllamaModel
	}
	baseURL := strings.TrimRight(opts.OllamaURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &ollamaClassifier{baseURL: baseURL, modelName: modelName, prompts: opts.Prompts, httpClient: opts.HTTPClient}, nil
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (o *ollamaClassifier) Classify(ctx context.Context, text string) (model.Classification, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:   o.modelName,
		Prompt:  RenderPrompt(o.prompts, text),
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0.2},
	})
	if err != nil {
		return model.Classification{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return model.Classification{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return model.Classification{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.Classification{}, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.Classification{}, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out ollamaResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return model.Classification{}, fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Error != "" {
		return model.Classification{}, fmt.Errorf("ollama: %s", out.Error)
	}
	return ParseResult(out.Response)
}
