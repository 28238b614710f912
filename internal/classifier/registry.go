package classifier

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
)

// Options carries the settings every provider factory may draw on.
type Options struct {
	GeminiAPIKey string
	OllamaURL    string
	Prompts      PromptSource
	HTTPClient   *http.Client
}

// Factory builds a classifier for the model part of "provider:model".
type Factory func(modelName string, opts Options) (Classifier, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

func Register(provider string, factory Factory) {
	provider = normalizeProvider(provider)
	if provider == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[provider] = factory
}

func lookup(provider string) (Factory, bool) {
	provider = normalizeProvider(provider)
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.factories[provider]
	return factory, ok
}

// Providers lists the registered provider names.
func Providers() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves a "provider:model" string such as "gemini:gemini-2.0-flash".
func Build(name string, opts Options) (Classifier, error) {
	provider, modelName, _ := strings.Cut(strings.TrimSpace(name), ":")
	factory, ok := lookup(provider)
	if !ok {
		return nil, fmt.Errorf("%w: classifier %q (known: %s)", appErrors.ErrUnknownProvider, provider, strings.Join(Providers(), ", "))
	}
	if opts.Prompts == nil {
		opts.Prompts = StaticPrompt(DefaultPrompt)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return factory(strings.TrimSpace(modelName), opts)
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func init() {
	Register("gemini", newGeminiClassifier)
	Register("ollama", newOllamaClassifier)
	Register("keyword", newKeywordClassifier)
}
