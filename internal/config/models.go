package config

// ModelsConfig maps caller-facing model names to provider routes and
// carries per-model pricing used for cost accounting.
type ModelsConfig struct {
	Models  map[string]ModelRoute `yaml:"models"`
	Pricing map[string]PriceEntry `yaml:"pricing"`
}

type ModelRoute struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// PriceEntry is USD per million tokens.
type PriceEntry struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Route resolves a caller-facing model name to its provider route.
func (m *ModelsConfig) Route(model string) (ModelRoute, bool) {
	r, ok := m.Models[model]
	return r, ok
}

// Cost computes the USD cost of a call from token counts. Unknown models
// cost zero.
func (m *ModelsConfig) Cost(model string, promptTokens, completionTokens int) float64 {
	p, ok := m.Pricing[model]
	if !ok {
		return 0
	}
	return (float64(promptTokens)*p.Input + float64(completionTokens)*p.Output) / 1e6
}
