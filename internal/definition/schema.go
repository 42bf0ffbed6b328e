// Package definition provides declarative agent and tool definitions
// loaded from YAML files under .fractary/.
package definition

import (
	"fmt"
	"strings"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
)

// ImplementationType identifies a tool implementation variant.
type ImplementationType string

const (
	ImplementationShell    ImplementationType = "shell"
	ImplementationFunction ImplementationType = "function"
	ImplementationHTTP     ImplementationType = "http"
)

// CacheSourceType identifies where a cached context block comes from.
type CacheSourceType string

const (
	CacheSourceFile   CacheSourceType = "file"
	CacheSourceGlob   CacheSourceType = "glob"
	CacheSourceInline CacheSourceType = "inline"
	CacheSourceCodex  CacheSourceType = "codex"
)

// Parameter types accepted by tool definitions.
var parameterTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// LLMConfig selects the model an agent runs on.
type LLMConfig struct {
	Provider    Provider `yaml:"provider" json:"provider"`
	Model       string   `yaml:"model" json:"model"`
	Temperature float64  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// Validate checks provider, temperature and token bounds. A zero MaxTokens
// is replaced by the default of 4096.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle:
	case "":
		return fmt.Errorf("llm.provider is required")
	default:
		return fmt.Errorf("llm.provider must be one of: anthropic, openai, google (got %q)", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be in [0, 1] (got %g)", c.Temperature)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.MaxTokens < 1 || c.MaxTokens > 200000 {
		return fmt.Errorf("llm.max_tokens must be in [1, 200000] (got %d)", c.MaxTokens)
	}
	return nil
}

// CachingSource is one block of agent context eligible for provider-side
// prompt caching.
type CachingSource struct {
	Type    CacheSourceType `yaml:"type" json:"type"`
	Label   string          `yaml:"label,omitempty" json:"label,omitempty"`
	Path    string          `yaml:"path,omitempty" json:"path,omitempty"`
	Pattern string          `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Content string          `yaml:"content,omitempty" json:"content,omitempty"`
	URI     string          `yaml:"uri,omitempty" json:"uri,omitempty"`
}

// Validate enforces the per-type required field.
func (s *CachingSource) Validate() error {
	switch s.Type {
	case CacheSourceFile:
		if s.Path == "" {
			return fmt.Errorf("caching source of type 'file' requires 'path'")
		}
	case CacheSourceGlob:
		if s.Pattern == "" {
			return fmt.Errorf("caching source of type 'glob' requires 'pattern'")
		}
	case CacheSourceInline:
		if s.Content == "" {
			return fmt.Errorf("caching source of type 'inline' requires 'content'")
		}
	case CacheSourceCodex:
		if !strings.HasPrefix(s.URI, "codex://") {
			return fmt.Errorf("caching source of type 'codex' requires a 'codex://' uri")
		}
	default:
		return fmt.Errorf("caching source type must be one of: file, glob, inline, codex (got %q)", s.Type)
	}
	return nil
}

// CachingConfig enables prompt caching for an agent's context sources.
type CachingConfig struct {
	Enabled bool            `yaml:"enabled" json:"enabled"`
	Sources []CachingSource `yaml:"sources,omitempty" json:"sources,omitempty"`
}

// Validate validates every source.
func (c *CachingConfig) Validate() error {
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return fmt.Errorf("caching.sources[%d]: %w", i, err)
		}
	}
	return nil
}

// Parameter describes one typed tool parameter.
type Parameter struct {
	Type        string               `yaml:"type" json:"type"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool                 `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any                  `yaml:"default,omitempty" json:"default,omitempty"`
	Enum        []any                `yaml:"enum,omitempty" json:"enum,omitempty"`
	Properties  map[string]Parameter `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Validate checks the parameter type and nested properties.
func (p *Parameter) Validate() error {
	if !parameterTypes[p.Type] {
		return fmt.Errorf("parameter type must be one of: string, integer, number, boolean, object, array (got %q)", p.Type)
	}
	for name, nested := range p.Properties {
		if err := nested.Validate(); err != nil {
			return fmt.Errorf("properties.%s: %w", name, err)
		}
	}
	return nil
}

// SandboxPolicy constrains shell tool execution.
type SandboxPolicy struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	AllowedCommands  []string `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`
	EnvVars          []string `yaml:"env_vars,omitempty" json:"env_vars,omitempty"`
	MaxExecutionTime int      `yaml:"max_execution_time,omitempty" json:"max_execution_time,omitempty"`
	MaxOutputSize    int      `yaml:"max_output_size,omitempty" json:"max_output_size,omitempty"`
}

// Sandbox defaults.
const (
	DefaultMaxExecutionTime = 300             // seconds
	DefaultMaxOutputSize    = 1 * 1024 * 1024 // bytes
)

// DefaultAllowedCommands is the sandbox allowlist applied when a shell tool
// enables sandboxing without naming commands of its own.
var DefaultAllowedCommands = []string{"echo", "cat", "grep", "find"}

// DefaultSandbox returns the sandbox policy applied when a shell tool omits one.
func DefaultSandbox() SandboxPolicy {
	return SandboxPolicy{
		Enabled:          true,
		AllowedCommands:  append([]string(nil), DefaultAllowedCommands...),
		MaxExecutionTime: DefaultMaxExecutionTime,
		MaxOutputSize:    DefaultMaxOutputSize,
	}
}

// Implementation is the tagged implementation variant of a tool. The Type
// field selects which of the variant field groups is meaningful; Validate
// rejects definitions whose populated fields disagree with the type.
type Implementation struct {
	Type ImplementationType `yaml:"type" json:"type"`

	// shell
	Command string         `yaml:"command,omitempty" json:"command,omitempty"`
	Sandbox *SandboxPolicy `yaml:"sandbox,omitempty" json:"sandbox,omitempty"`

	// function
	Module         string `yaml:"module,omitempty" json:"module,omitempty"`
	Function       string `yaml:"function,omitempty" json:"function,omitempty"`
	TimeoutSeconds int    `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// http
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty" json:"body,omitempty"`
}

var httpMethods = map[string]bool{"GET": true, "POST": true, "PUT": true, "DELETE": true}

// Validate enforces type consistency across the variant field groups.
func (im *Implementation) Validate() error {
	switch im.Type {
	case ImplementationShell:
		if im.Command == "" {
			return fmt.Errorf("shell implementation requires 'command'")
		}
		if im.Module != "" || im.Function != "" || im.URL != "" {
			return fmt.Errorf("shell implementation must not set function or http fields")
		}
	case ImplementationFunction:
		if im.Module == "" || im.Function == "" {
			return fmt.Errorf("function implementation requires 'module' and 'function'")
		}
		if im.Command != "" || im.URL != "" {
			return fmt.Errorf("function implementation must not set shell or http fields")
		}
	case ImplementationHTTP:
		if im.URL == "" {
			return fmt.Errorf("http implementation requires 'url'")
		}
		if im.Method == "" {
			im.Method = "GET"
		}
		if !httpMethods[im.Method] {
			return fmt.Errorf("http method must be one of: GET, POST, PUT, DELETE (got %q)", im.Method)
		}
		if im.Command != "" || im.Module != "" {
			return fmt.Errorf("http implementation must not set shell or function fields")
		}
	default:
		return fmt.Errorf("implementation type must be one of: shell, function, http (got %q)", im.Type)
	}
	return nil
}

// Tool is a declarative tool definition.
type Tool struct {
	Name           string               `yaml:"name" json:"name"`
	Description    string               `yaml:"description" json:"description"`
	Version        string               `yaml:"version,omitempty" json:"version,omitempty"`
	Tags           []string             `yaml:"tags,omitempty" json:"tags,omitempty"`
	Parameters     map[string]Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Implementation Implementation       `yaml:"implementation" json:"implementation"`
}

// Validate checks name, parameters and implementation. Defaults the version
// to "1.0".
func (t *Tool) Validate() error {
	if err := validateName(t.Name); err != nil {
		return err
	}
	if t.Description == "" {
		return fmt.Errorf("description is required")
	}
	if t.Version == "" {
		t.Version = "1.0"
	}
	for name, p := range t.Parameters {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("parameters.%s: %w", name, err)
		}
		t.Parameters[name] = p
	}
	if err := t.Implementation.Validate(); err != nil {
		return fmt.Errorf("implementation: %w", err)
	}
	return nil
}

// Agent is a declarative agent definition.
type Agent struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Version     string         `yaml:"version,omitempty" json:"version,omitempty"`
	Tags        []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	LLM         LLMConfig      `yaml:"llm" json:"llm"`
	Prompt      string         `yaml:"prompt" json:"prompt"`
	Tools       []string       `yaml:"tools,omitempty" json:"tools,omitempty"`
	Caching     *CachingConfig `yaml:"caching,omitempty" json:"caching,omitempty"`
	CustomTools []Tool         `yaml:"custom_tools,omitempty" json:"custom_tools,omitempty"`
}

// Validate checks name, llm selector, caching sources and inline tools.
func (a *Agent) Validate() error {
	if err := validateName(a.Name); err != nil {
		return err
	}
	if a.Description == "" {
		return fmt.Errorf("description is required")
	}
	if a.Version == "" {
		a.Version = "1.0"
	}
	if err := a.LLM.Validate(); err != nil {
		return err
	}
	if a.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if a.Caching != nil {
		if err := a.Caching.Validate(); err != nil {
			return err
		}
	}
	for i := range a.CustomTools {
		if err := a.CustomTools[i].Validate(); err != nil {
			return fmt.Errorf("custom_tools[%d]: %w", i, err)
		}
	}
	return nil
}

// validateName enforces the shared naming rule: non-empty, at most 100
// characters, alphanumerics plus hyphen, underscore and colon.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("name must be at most 100 characters (got %d)", len(name))
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == ':' {
			continue
		}
		return fmt.Errorf("name %q contains invalid character %q", name, r)
	}
	return nil
}
