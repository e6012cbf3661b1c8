// Package models holds the static model reference data: which model
// configurations exist, which provider serves them, and which one is the
// default for each usage kind.
package models

import (
	"github.com/jotlabs/memochat/chat/apperr"
)

// Usage is a kind of work a model can be selected for.
type Usage string

const (
	UsageChat  Usage = "chat"
	UsageTitle Usage = "title"
)

// ModelConfig describes one selectable model.
type ModelConfig struct {
	// ID is the catalog-unique identifier stored in session overrides.
	ID string

	// DisplayName is the human-readable label.
	DisplayName string

	// Provider names the upstream provider ("google", "openrouter", ...).
	Provider string

	// ProviderModelID is the identifier the provider's API expects.
	ProviderModelID string

	// Usages lists the kinds of work this model supports.
	Usages []Usage

	// DefaultFor marks this model as the default for the listed usages.
	DefaultFor []Usage
}

// SupportsUsage reports whether the model is usable for the given kind.
func (m *ModelConfig) SupportsUsage(usage Usage) bool {
	for _, u := range m.Usages {
		if u == usage {
			return true
		}
	}
	return false
}

func (m *ModelConfig) isDefaultFor(usage Usage) bool {
	for _, u := range m.DefaultFor {
		if u == usage {
			return true
		}
	}
	return false
}

// Catalog is the immutable set of available models. Constructed once at
// startup and injected wherever model resolution happens.
type Catalog struct {
	models []*ModelConfig
	byID   map[string]*ModelConfig
}

// NewCatalog builds a catalog from the given configs.
func NewCatalog(configs []*ModelConfig) *Catalog {
	byID := make(map[string]*ModelConfig, len(configs))
	for _, config := range configs {
		byID[config.ID] = config
	}
	return &Catalog{models: configs, byID: byID}
}

// ByID resolves a model configuration. Lookup is total: a missing config is
// a configuration error surfaced at request time, never a silent fallback,
// so a broken request is never sent upstream.
func (c *Catalog) ByID(id string) (*ModelConfig, error) {
	if config, ok := c.byID[id]; ok {
		return config, nil
	}
	return nil, apperr.Newf(apperr.KindConfiguration, "unknown model id %q", id)
}

// DefaultFor returns the default model for a usage kind: the explicitly
// marked default, or the first model supporting the usage when none is
// marked.
func (c *Catalog) DefaultFor(usage Usage) (*ModelConfig, error) {
	for _, config := range c.models {
		if config.isDefaultFor(usage) {
			return config, nil
		}
	}
	for _, config := range c.models {
		if config.SupportsUsage(usage) {
			return config, nil
		}
	}
	return nil, apperr.Newf(apperr.KindConfiguration, "no model supports usage %q", usage)
}

// ListFor returns all models supporting a usage kind, in catalog order.
func (c *Catalog) ListFor(usage Usage) []*ModelConfig {
	list := make([]*ModelConfig, 0)
	for _, config := range c.models {
		if config.SupportsUsage(usage) {
			list = append(list, config)
		}
	}
	return list
}

// All returns every model in catalog order.
func (c *Catalog) All() []*ModelConfig {
	return c.models
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return NewCatalog([]*ModelConfig{
		{
			ID:              "google/gemini-1.5-flash",
			DisplayName:     "Gemini 1.5 Flash (Google)",
			Provider:        "google",
			ProviderModelID: "models/gemini-1.5-flash-latest",
			Usages:          []Usage{UsageChat, UsageTitle},
			DefaultFor:      []Usage{UsageChat},
		},
		{
			ID:              "google/gemini-1.5-pro",
			DisplayName:     "Gemini 1.5 Pro (Google)",
			Provider:        "google",
			ProviderModelID: "models/gemini-1.5-pro-latest",
			Usages:          []Usage{UsageChat, UsageTitle},
		},
		{
			ID:              "google/gemini-2.0-flash",
			DisplayName:     "Gemini 2.0 Flash (Google)",
			Provider:        "google",
			ProviderModelID: "models/gemini-2.0-flash",
			Usages:          []Usage{UsageChat, UsageTitle},
		},
		{
			ID:              "openrouter/deepseek-prover-v2",
			DisplayName:     "DeepSeek Prover V2 (OpenRouter)",
			Provider:        "openrouter",
			ProviderModelID: "deepseek/deepseek-prover-v2:free",
			Usages:          []Usage{UsageChat, UsageTitle},
			DefaultFor:      []Usage{UsageTitle},
		},
		{
			ID:              "openrouter/llama-3.3-70b-instruct",
			DisplayName:     "Llama 3.3 70B Instruct (OpenRouter)",
			Provider:        "openrouter",
			ProviderModelID: "meta-llama/llama-3.3-70b-instruct:free",
			Usages:          []Usage{UsageChat, UsageTitle},
		},
		{
			ID:              "openrouter/qwen3-30b-a3b",
			DisplayName:     "Qwen3 30B A3B (OpenRouter)",
			Provider:        "openrouter",
			ProviderModelID: "qwen/qwen3-30b-a3b:free",
			Usages:          []Usage{UsageChat, UsageTitle},
		},
	})
}
