package model

import (
	"fmt"
	"sync"

	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/logging"
)

// Registry manages producer backends and resolves names to instances.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Producer
	fallback  string
	log       *logging.Logger
}

// NewRegistry creates an empty producer registry.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		producers: make(map[string]Producer),
		log:       log.Sub("model.registry"),
	}
}

// Register adds a producer under the given backend name.
func (r *Registry) Register(name string, p Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[name] = p
	r.log.Info().Str("backend", name).Msg("registered producer")
}

// SetFallback sets the default backend used when no name matches.
func (r *Registry) SetFallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// Resolve returns the producer for a backend name, falling back to the
// default when the name is unknown or empty.
func (r *Registry) Resolve(name string) (Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.producers[name]; ok {
		return p, nil
	}
	if r.fallback != "" {
		if p, ok := r.producers[r.fallback]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no producer backend for %q", name)
}

// List returns all registered backend names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.producers))
	for n := range r.producers {
		names = append(names, n)
	}
	return names
}

// NewRegistryFromConfig builds a registry from producer config. The scripted
// backend is always registered so dev setups work with no API key; remote
// backends register only when a key is present. The configured backend
// becomes the fallback.
func NewRegistryFromConfig(cfg config.ProducerConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)
	reg.Register("scripted", NewScripted())

	if cfg.APIKey != "" {
		switch cfg.Backend {
		case "gemini":
			reg.Register("gemini", NewGemini(GeminiOptions{
				APIKey:      cfg.APIKey,
				Model:       cfg.Model,
				BaseURL:     cfg.BaseURL,
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
			}, log))
		case "anthropic":
			reg.Register("anthropic", NewAnthropic(AnthropicOptions{
				APIKey:      cfg.APIKey,
				Model:       cfg.Model,
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
			}, log))
		}
	}

	backend := cfg.Backend
	if backend == "" {
		backend = "scripted"
	}
	if _, ok := reg.producers[backend]; !ok {
		return nil, fmt.Errorf("producer backend %q not available (missing api key?)", backend)
	}
	reg.SetFallback(backend)
	return reg, nil
}

// FromConfig resolves the single configured producer.
func FromConfig(cfg config.ProducerConfig, log *logging.Logger) (Producer, error) {
	reg, err := NewRegistryFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	return reg.Resolve(cfg.Backend)
}
