// Package configstore resolves named model configurations and agent
// templates. Jobs reference configuration by name; an unknown name is a
// lookup error, never a silent default.
package configstore

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when a named configuration does not exist.
var ErrConfigNotFound = errors.New("configuration not found")

// ModelConfig describes one backend model a job can run against.
type ModelConfig struct {
	Name        string        `yaml:"name"`
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AgentTemplate is the prompt and tuning for one agent role.
type AgentTemplate struct {
	Name         string `yaml:"name"`
	AgentType    string `yaml:"agent_type"`
	SystemPrompt string `yaml:"system_prompt"`
	// ModelConfig optionally overrides the job's model for this role.
	ModelConfig string        `yaml:"model_config"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type fileFormat struct {
	Models    []ModelConfig   `yaml:"models"`
	Templates []AgentTemplate `yaml:"templates"`
}

// Store holds named configurations. Safe for concurrent lookups.
type Store struct {
	mu        sync.RWMutex
	models    map[string]ModelConfig
	templates map[string]AgentTemplate
}

// Load reads a models file and merges it over the built-in defaults, so a
// partial file only overrides what it names.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}

	s := Default()
	for _, m := range f.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("models file %s: model entry without a name", path)
		}
		s.models[m.Name] = withModelDefaults(m)
	}
	for _, t := range f.Templates {
		if t.Name == "" {
			return nil, fmt.Errorf("models file %s: template entry without a name", path)
		}
		s.templates[t.Name] = withTemplateDefaults(t)
	}
	return s, nil
}

// LoadOrDefault behaves like Load but falls back to the built-in defaults
// when the file does not exist.
func LoadOrDefault(path string) (*Store, error) {
	s, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return s, err
}

// Model resolves a model configuration by name.
func (s *Store) Model(name string) (ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[name]
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: model %q", ErrConfigNotFound, name)
	}
	return m, nil
}

// Template resolves an agent template by name.
func (s *Store) Template(name string) (AgentTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	if !ok {
		return AgentTemplate{}, fmt.Errorf("%w: template %q", ErrConfigNotFound, name)
	}
	return t, nil
}

// Models lists all model configurations.
func (s *Store) Models() []ModelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModelConfig, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	return out
}

// Templates lists all agent templates.
func (s *Store) Templates() []AgentTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	return out
}

func withModelDefaults(m ModelConfig) ModelConfig {
	if m.Provider == "" {
		m.Provider = "anthropic"
	}
	if m.APIKeyEnv == "" {
		m.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if m.Temperature == 0 {
		m.Temperature = 0.7
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = 4096
	}
	if m.Timeout == 0 {
		m.Timeout = 60 * time.Second
	}
	return m
}

func withTemplateDefaults(t AgentTemplate) AgentTemplate {
	if t.Temperature == 0 {
		t.Temperature = 0.7
	}
	if t.MaxTokens == 0 {
		t.MaxTokens = 4096
	}
	if t.Timeout == 0 {
		t.Timeout = 60 * time.Second
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 2
	}
	return t
}
