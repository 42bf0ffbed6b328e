package llm

import (
	"os"
	"strings"

	"github.com/fractary/faber/internal/errors"
)

// ParseModelSpec splits a "provider:model" specifier. A bare model name
// defaults to the anthropic provider.
func ParseModelSpec(spec string) (provider, model string) {
	if i := strings.Index(spec, ":"); i >= 0 {
		return strings.ToLower(spec[:i]), spec[i+1:]
	}
	return "anthropic", spec
}

// New builds a client for a "provider:model" specifier. API keys come from
// ANTHROPIC_API_KEY and OPENAI_API_KEY.
func New(spec string) (Client, error) {
	provider, model := ParseModelSpec(spec)
	switch provider {
	case "anthropic":
		return NewAnthropicClient(os.Getenv("ANTHROPIC_API_KEY"), model)
	case "openai":
		return NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), model)
	default:
		// google is recognized but has no adapter yet.
		return nil, errors.ErrProviderUnsupported(provider)
	}
}
