// Package llm wraps the Gemini models used for swing analysis and coaching chat.
package llm

// ModelTier selects a model by capability rather than by name.
type ModelTier string

const (
	// TierLite handles short conversational replies.
	TierLite ModelTier = "lite"
	// TierStandard handles chat with analysis context.
	TierStandard ModelTier = "standard"
	// TierAdvanced handles multimodal frame analysis.
	TierAdvanced ModelTier = "advanced"
)

// Config maps tiers to concrete model names.
type Config struct {
	Models map[ModelTier]string
	// Temperature applied to every request.
	Temperature float32
	// MaxOutputTokens caps the response; zero leaves the model default.
	MaxOutputTokens int32
}

// DefaultConfig returns the Gemini model lineup.
func DefaultConfig() *Config {
	return &Config{
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Temperature:     0.4,
		MaxOutputTokens: 2048,
	}
}

// GetModel returns the model for tier, falling back to standard then lite.
func (c *Config) GetModel(tier ModelTier) string {
	for _, t := range []ModelTier{tier, TierStandard, TierLite} {
		if model, ok := c.Models[t]; ok && model != "" {
			return model
		}
	}
	return ""
}

// WithModel returns a copy of c with tier mapped to model.
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	next := *c
	next.Models = make(map[ModelTier]string, len(c.Models)+1)
	for k, v := range c.Models {
		next.Models[k] = v
	}
	next.Models[tier] = model
	return &next
}

// ParseTier accepts a tier name or falls back to TierAdvanced.
func ParseTier(s string) ModelTier {
	switch ModelTier(s) {
	case TierLite, TierStandard, TierAdvanced:
		return ModelTier(s)
	default:
		return TierAdvanced
	}
}
