package transport

import (
	"net/http"
	"time"

	"github.com/af-corp/conduit/internal/config"
)

// BuildFromConfig builds a registry of provider clients from the providers
// config.
func BuildFromConfig(provCfg *config.ProvidersConfig) *Registry {
	registry := NewRegistry()
	for name, c := range ClientsFromConfig(provCfg) {
		registry.Register(name, c)
	}
	return registry
}

// ClientsFromConfig builds the client set alone, for feeding an existing
// registry via Replace on config reload.
func ClientsFromConfig(provCfg *config.ProvidersConfig) map[string]Client {
	clients := make(map[string]Client, len(provCfg.Providers))
	for name, cfg := range provCfg.Providers {
		client := &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConcurrent,
				MaxIdleConnsPerHost: cfg.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		var c Client
		switch cfg.Type {
		case "anthropic":
			c = NewAnthropicClient(cfg, client)
		case "openai":
			c = NewOpenAIClient(cfg, client)
		default:
			// Fall back to OpenAI-compatible for unknown types
			c = NewOpenAIClient(cfg, client)
		}
		clients[name] = c
	}
	return clients
}
