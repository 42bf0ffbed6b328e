package definition

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fractary/faber/internal/errors"
)

// Registry discovers and indexes agent/tool definitions from a project's
// .fractary/agents/ and .fractary/tools/ directories.
//
// Readers may query concurrently with a reload; they observe either the
// pre- or post-reload index, never a partially populated one.
type Registry struct {
	projectRoot string
	agentsDir   string
	toolsDir    string
	logger      *slog.Logger

	mu       sync.RWMutex
	agents   map[string]*Agent
	tools    map[string]*Tool
	builtins map[string]*Tool
}

// NewRegistry builds a registry rooted at projectRoot (the current working
// directory when empty) and performs an initial discovery scan.
func NewRegistry(projectRoot string, logger *slog.Logger) (*Registry, error) {
	if projectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
		projectRoot = wd
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		projectRoot: projectRoot,
		agentsDir:   filepath.Join(projectRoot, ".fractary", "agents"),
		toolsDir:    filepath.Join(projectRoot, ".fractary", "tools"),
		logger:      logger,
		agents:      make(map[string]*Agent),
		tools:       make(map[string]*Tool),
		builtins:    make(map[string]*Tool),
	}
	r.Reload()
	return r, nil
}

// ProjectRoot returns the directory the registry scans under.
func (r *Registry) ProjectRoot() string {
	return r.projectRoot
}

// Reload discards the in-memory index and re-scans both directories.
// The swap is atomic with respect to readers.
func (r *Registry) Reload() {
	agents := make(map[string]*Agent)
	tools := make(map[string]*Tool)

	for _, path := range yamlFiles(r.agentsDir) {
		agent, err := loadAgentFile(path)
		if err != nil {
			r.logger.Warn("skipping agent definition", "path", path, "error", err)
			continue
		}
		agents[agent.Name] = agent
		r.logger.Debug("loaded agent", "name", agent.Name, "path", path)
	}
	for _, path := range yamlFiles(r.toolsDir) {
		tool, err := loadToolFile(path)
		if err != nil {
			r.logger.Warn("skipping tool definition", "path", path, "error", err)
			continue
		}
		tools[tool.Name] = tool
		r.logger.Debug("loaded tool", "name", tool.Name, "path", path)
	}

	r.mu.Lock()
	r.agents = agents
	r.tools = tools
	r.mu.Unlock()
}

// GetAgent returns the named agent, or nil when unknown.
func (r *Registry) GetAgent(name string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[name]
}

// GetAgentOrError returns the named agent or a definition-not-found error
// listing all known agent names.
func (r *Registry) GetAgentOrError(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.agents[name]; ok {
		return a, nil
	}
	return nil, errors.ErrAgentNotFound(name, joinNames(agentNames(r.agents)))
}

// RegisterBuiltinTool adds a tool definition that lives in code rather than
// a YAML file. Builtins survive Reload; a file definition with the same
// name shadows the builtin.
func (r *Registry) RegisterBuiltinTool(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return errors.ErrDefinitionInvalid(tool.Name, err.Error())
	}
	r.mu.Lock()
	r.builtins[tool.Name] = tool
	r.mu.Unlock()
	return nil
}

// GetTool returns the named tool, or nil when unknown.
func (r *Registry) GetTool(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t
	}
	return r.builtins[name]
}

// GetToolOrError returns the named tool or a definition-not-found error
// listing all known tool names.
func (r *Registry) GetToolOrError(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t, nil
	}
	if t, ok := r.builtins[name]; ok {
		return t, nil
	}
	names := append(toolNames(r.tools), toolNames(r.builtins)...)
	return nil, errors.ErrToolNotFound(name, joinNames(names))
}

// ListAgents returns all agents sorted by name, optionally filtered by
// tags (an agent matches when it carries any of the given tags).
func (r *Registry) ListAgents(tags []string) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if matchesTags(a.Tags, tags) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListTools returns all tools sorted by name, optionally filtered by tags.
// File definitions shadow builtins of the same name.
func (r *Registry) ListTools(tags []string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools)+len(r.builtins))
	for name, t := range r.builtins {
		if _, shadowed := r.tools[name]; shadowed {
			continue
		}
		if matchesTags(t.Tags, tags) {
			out = append(out, t)
		}
	}
	for _, t := range r.tools {
		if matchesTags(t.Tags, tags) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SaveAgent persists the agent to .fractary/agents/<name>.yaml and updates
// the index.
func (r *Registry) SaveAgent(agent *Agent) (string, error) {
	if err := agent.Validate(); err != nil {
		return "", errors.ErrDefinitionInvalid(agent.Name, err.Error())
	}
	path := filepath.Join(r.agentsDir, agent.Name+".yaml")
	if err := writeYAML(path, agent); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.agents[agent.Name] = agent
	r.mu.Unlock()
	r.logger.Info("saved agent", "name", agent.Name, "path", path)
	return path, nil
}

// SaveTool persists the tool to .fractary/tools/<name>.yaml and updates
// the index.
func (r *Registry) SaveTool(tool *Tool) (string, error) {
	if err := tool.Validate(); err != nil {
		return "", errors.ErrDefinitionInvalid(tool.Name, err.Error())
	}
	path := filepath.Join(r.toolsDir, tool.Name+".yaml")
	if err := writeYAML(path, tool); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.tools[tool.Name] = tool
	r.mu.Unlock()
	r.logger.Info("saved tool", "name", tool.Name, "path", path)
	return path, nil
}

// DeleteAgent removes the agent file and index entry. Returns false when
// the agent is unknown.
func (r *Registry) DeleteAgent(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; !ok {
		return false, nil
	}
	path := filepath.Join(r.agentsDir, name+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("delete agent %s: %w", name, err)
	}
	delete(r.agents, name)
	r.logger.Info("deleted agent", "name", name)
	return true, nil
}

// DeleteTool removes the tool file and index entry. Returns false when
// the tool is unknown.
func (r *Registry) DeleteTool(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false, nil
	}
	path := filepath.Join(r.toolsDir, name+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("delete tool %s: %w", name, err)
	}
	delete(r.tools, name)
	r.logger.Info("deleted tool", "name", name)
	return true, nil
}

// --- helpers ---

func yamlFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths
}

func loadAgentFile(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.ErrDefinitionInvalid(path, "empty YAML file")
	}
	var agent Agent
	if err := yaml.Unmarshal(data, &agent); err != nil {
		return nil, errors.ErrDefinitionInvalid(path, err.Error())
	}
	if err := agent.Validate(); err != nil {
		return nil, errors.ErrDefinitionInvalid(path, err.Error())
	}
	return &agent, nil
}

func loadToolFile(path string) (*Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.ErrDefinitionInvalid(path, "empty YAML file")
	}
	var tool Tool
	if err := yaml.Unmarshal(data, &tool); err != nil {
		return nil, errors.ErrDefinitionInvalid(path, err.Error())
	}
	if err := tool.Validate(); err != nil {
		return nil, errors.ErrDefinitionInvalid(path, err.Error())
	}
	return &tool, nil
}

func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func matchesTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func agentNames(m map[string]*Agent) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	return names
}

func toolNames(m map[string]*Tool) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	return names
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
