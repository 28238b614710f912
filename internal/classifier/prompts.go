package classifier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/unclebandit/inboxintel-backend/internal/logging"
)

// DefaultPrompt is used when no prompts file is configured.
const DefaultPrompt = `You are a classifier for guest messages sent to a short-term rental host.

Classify the message into exactly one category:
- EARLY_CHECKIN: the guest asks to arrive before the standard check-in time
- LATE_CHECKOUT: the guest asks to leave after the standard check-out time
- SPECIAL_REQUEST: extra items or arrangements (crib, extra towels, parking, celebration)
- MAINTENANCE_ISSUE: something in the property is broken or not working
- GENERAL_QUESTION: anything else

Message:
"""
{message_text}
"""

Reply with JSON only:
{"category": "<CATEGORY>", "confidence": <0.0-1.0>, "summary": "<one short sentence>"}`

const messagePlaceholder = "{message_text}"

// PromptSource yields the current classification prompt template.
type PromptSource interface {
	Template() string
}

// StaticPrompt is a fixed template.
type StaticPrompt string

func (p StaticPrompt) Template() string { return string(p) }

// RenderPrompt substitutes the message text into a template.
func RenderPrompt(src PromptSource, text string) string {
	return strings.ReplaceAll(src.Template(), messagePlaceholder, text)
}

type promptsFile struct {
	Classification struct {
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"classification"`
}

// LoadPrompts reads classification.system_prompt from a YAML file.
func LoadPrompts(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var pf promptsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	prompt := strings.TrimSpace(pf.Classification.SystemPrompt)
	if prompt == "" {
		return "", fmt.Errorf("%s has no classification.system_prompt", path)
	}
	if !strings.Contains(prompt, messagePlaceholder) {
		return "", fmt.Errorf("%s prompt lacks %s placeholder", path, messagePlaceholder)
	}
	return prompt, nil
}

// PromptWatcher holds the prompt from a YAML file and reloads it when the
// file changes. A reload that fails keeps the previous prompt.
type PromptWatcher struct {
	path    string
	mu      sync.RWMutex
	current string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchPrompts loads path and starts watching it. When path does not exist
// the default prompt is served and no watcher is started.
func WatchPrompts(path string) (*PromptWatcher, error) {
	log := logging.Module("classifier").WithField("path", path)
	pw := &PromptWatcher{path: path, current: DefaultPrompt, done: make(chan struct{})}

	if path == "" {
		return pw, nil
	}
	prompt, err := LoadPrompts(path)
	if os.IsNotExist(err) {
		log.Warn("prompts file not found, using built-in prompt")
		return pw, nil
	}
	if err != nil {
		return nil, err
	}
	pw.current = prompt

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Editors often replace files on save, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	pw.watcher = w
	go pw.loop()
	log.Info("watching prompts file")
	return pw, nil
}

func (pw *PromptWatcher) loop() {
	log := logging.Module("classifier").WithField("path", pw.path)
	target := filepath.Clean(pw.path)
	for {
		select {
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			prompt, err := LoadPrompts(pw.path)
			if err != nil {
				log.WithError(err).Warn("prompt reload failed, keeping previous prompt")
				continue
			}
			pw.mu.Lock()
			pw.current = prompt
			pw.mu.Unlock()
			log.Info("prompt reloaded")
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("prompt watcher error")
		case <-pw.done:
			return
		}
	}
}

func (pw *PromptWatcher) Template() string {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.current
}

func (pw *PromptWatcher) Close() error {
	if pw.watcher == nil {
		return nil
	}
	close(pw.done)
	return pw.watcher.Close()
}
