package provider

import (
	"fmt"
	"sync"

	"github.com/bladecode/blade/pkg/types"
)

// Registry holds the configured chat services.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ChatService
	defaultID string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]ChatService)}
}

// Register adds a provider. The first registered provider becomes the
// default unless SetDefault is called.
func (r *Registry) Register(p ChatService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaultID == "" {
		r.defaultID = p.ID()
	}
}

// SetDefault selects the default provider.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("provider not registered: %s", id)
	}
	r.defaultID = id
	return nil
}

// Get returns a provider by id; an empty id returns the default.
func (r *Registry) Get(id string) (ChatService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id == "" {
		id = r.defaultID
	}
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", id)
	}
	return p, nil
}

// IDs returns the registered provider ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}

// GetModel resolves a model by provider and model id.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	for _, m := range p.Models() {
		if m.ID == modelID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// FromConfig builds a registry from user configuration. Provider entries
// with unknown kinds or missing credentials are skipped, not fatal.
func FromConfig(cfg *types.Config) (*Registry, []error) {
	reg := NewRegistry()
	var errs []error

	register := func(id string, pc types.ProviderConfig) {
		if pc.Disabled {
			return
		}
		switch pc.Kind {
		case "anthropic":
			svc, err := NewAnthropicService(AnthropicConfig{
				ID:        id,
				APIKey:    pc.APIKey,
				BaseURL:   pc.BaseURL,
				Model:     pc.Model,
				MaxTokens: pc.MaxTokens,
			})
			if err != nil {
				errs = append(errs, err)
				return
			}
			reg.Register(svc)
		case "openai", "":
			svc, err := NewOpenAIService(OpenAIConfig{
				ID:      id,
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
			})
			if err != nil {
				errs = append(errs, err)
				return
			}
			reg.Register(svc)
		default:
			errs = append(errs, fmt.Errorf("unknown provider kind %q for %s", pc.Kind, id))
		}
	}

	for id, pc := range cfg.Providers {
		register(id, pc)
	}

	// Top-level shorthand: provider/baseUrl/apiKey/model select the default.
	if cfg.Provider != "" {
		if _, ok := cfg.Providers[cfg.Provider]; !ok {
			kind := "openai"
			if cfg.Provider == "anthropic" {
				kind = "anthropic"
			}
			register(cfg.Provider, types.ProviderConfig{
				Kind:    kind,
				BaseURL: cfg.BaseURL,
				APIKey:  cfg.APIKey,
				Model:   cfg.Model,
			})
		}
		if err := reg.SetDefault(cfg.Provider); err != nil {
			errs = append(errs, err)
		}
	}

	return reg, errs
}
