package provider

import (
	"context"

	"github.com/rs/zerolog/log"
)

type OllamaFactory struct {
	name     string
	endpoint string
}

func NewOllamaFactory(name string, endpoint string) *OllamaFactory {
	return &OllamaFactory{
		name:     name,
		endpoint: endpoint,
	}
}

func (f *OllamaFactory) Name() string { return f.name }

func (f *OllamaFactory) Create(model string, opts Options) Provider {
	return NewOllamaWithTemp(f.name, f.endpoint, model, opts.Temperature)
}

// GeminiFactory creates GeminiProvider instances bound to a single API key.
type GeminiFactory struct {
	name   string
	apiKey string
}

func NewGeminiFactory(name, apiKey string) *GeminiFactory {
	return &GeminiFactory{name: name, apiKey: apiKey}
}

func (f *GeminiFactory) Name() string { return f.name }

func (f *GeminiFactory) Create(model string, opts Options) Provider {
	p, err := NewGemini(context.Background(), f.name, f.apiKey, model, opts.Temperature)
	if err != nil {
		log.Error().Err(err).Str("name", f.name).Msg("GeminiFactory.Create: failed to construct client")
		return nil
	}
	return p
}
