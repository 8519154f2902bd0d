// Package config loads pampax configuration: hardcoded defaults, the
// user file under XDG config, the project's .pampax.yaml, then
// PAMPAX_* environment overrides, in increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectType is the detected flavor of the repository being indexed.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config is the merged pampax configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Contextual ContextualConfig `yaml:"contextual" json:"contextual"`
	Submodules SubmoduleConfig  `yaml:"submodules" json:"submodules"`
}

// PathsConfig selects which paths the indexer visits.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// SearchConfig tunes hybrid retrieval. Weights and the RRF constant
// can come from the user file, the project file, or PAMPAX_BM25_WEIGHT
// / PAMPAX_SEMANTIC_WEIGHT / PAMPAX_RRF_CONSTANT.
type SearchConfig struct {
	// BM25Weight and SemanticWeight split the hybrid score and must
	// sum to 1.0.
	BM25Weight     float64 `yaml:"bm25_weight" json:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// RRFConstant is the k in reciprocal-rank fusion. 60 is the value
	// most engines ship with.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// BM25Backend picks the lexical index: "sqlite" (FTS5, handles
	// concurrent processes) or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`

	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxResults   int `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of openai, cohere, ollama, mlx, static, llama;
	// empty means auto-detect from configured credentials.
	Provider             string        `yaml:"provider" json:"provider"`
	Model                string        `yaml:"model" json:"model"`
	Dimensions           int           `yaml:"dimensions" json:"dimensions"`
	BatchSize            int           `yaml:"batch_size" json:"batch_size"`
	ModelDownloadTimeout time.Duration `yaml:"model_download_timeout" json:"model_download_timeout"`

	// MLXEndpoint and MLXModel configure the local MLX daemon.
	MLXEndpoint string `yaml:"mlx_endpoint" json:"mlx_endpoint"`
	MLXModel    string `yaml:"mlx_model" json:"mlx_model"`

	// OllamaHost overrides the default http://localhost:11434.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// SubmoduleConfig controls git submodule discovery.
type SubmoduleConfig struct {
	// Enabled turns discovery on; off by default.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Recursive also descends into nested submodules.
	Recursive bool `yaml:"recursive" json:"recursive"`
	// Include limits discovery to these submodules; empty means all.
	Include []string `yaml:"include" json:"include"`
	// Exclude removes submodules from discovery.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ContextualConfig controls LLM-generated chunk descriptions at index
// time.
type ContextualConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Model is the local model used for description generation.
	Model string `yaml:"model" json:"model"`
	// Timeout bounds each chunk's generation.
	Timeout string `yaml:"timeout" json:"timeout"`
	// BatchSize groups chunks per prompt for cache reuse.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// FallbackOnly skips the LLM and uses pattern-derived context.
	FallbackOnly bool `yaml:"fallback_only" json:"fallback_only"`
	// CodeChunks extends generation to code chunks; off by default
	// since small models describe prose better than code.
	CodeChunks bool `yaml:"code_chunks" json:"code_chunks"`
}

// defaultExcludePatterns are excluded on every run.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig returns the hardcoded defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Search: SearchConfig{
			BM25Weight:     0.65,
			SemanticWeight: 0.35,
			RRFConstant:    60,
			BM25Backend:    "sqlite",
			ChunkSize:      1500,
			ChunkOverlap:   200,
			MaxResults:     20,
		},
		Embeddings: EmbeddingsConfig{
			Provider:             "", // auto-detect
			Model:                "qwen3-embedding:8b",
			Dimensions:           0, // take the embedder's word for it
			BatchSize:            32,
			ModelDownloadTimeout: 10 * time.Minute,
		},
		Submodules: SubmoduleConfig{
			Enabled:   false,
			Recursive: true,
		},
		Contextual: ContextualConfig{
			Enabled:      true,
			Model:        "qwen3:0.6b",
			Timeout:      "5s",
			BatchSize:    8,
			FallbackOnly: false,
			CodeChunks:   false,
		},
	}
}

// GetUserConfigPath returns the user config path per the XDG spec:
// $XDG_CONFIG_HOME/pampax/config.yaml, else ~/.config/pampax/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pampax", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "pampax", "config.yaml")
	}
	return filepath.Join(home, ".config", "pampax", "config.yaml")
}

// GetUserConfigDir returns the directory holding the user config.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether a user config file is present.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the effective configuration for a project directory:
// defaults, then user config, then .pampax.yaml, then environment.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile reads .pampax.yaml, falling back to .pampax.yml. A
// missing file just means defaults.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".pampax.yaml", ".pampax.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays other's explicitly set (non-zero) values onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// User excludes extend the defaults rather than replacing
		// them; losing the node_modules exclude is never intended.
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Search.BM25Weight != 0 {
		c.Search.BM25Weight = other.Search.BM25Weight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.BM25Backend != "" {
		c.Search.BM25Backend = other.Search.BM25Backend
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.ModelDownloadTimeout != 0 {
		c.Embeddings.ModelDownloadTimeout = other.Embeddings.ModelDownloadTimeout
	}
	if other.Embeddings.MLXEndpoint != "" {
		c.Embeddings.MLXEndpoint = other.Embeddings.MLXEndpoint
	}
	if other.Embeddings.MLXModel != "" {
		c.Embeddings.MLXModel = other.Embeddings.MLXModel
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	if other.Submodules.Enabled {
		c.Submodules.Enabled = true
	}
	// Recursive defaults true and yaml can't distinguish "absent"
	// from "false", so only take it when other submodule settings
	// show the section was actually written.
	if other.Submodules.Enabled || len(other.Submodules.Include) > 0 || len(other.Submodules.Exclude) > 0 {
		c.Submodules.Recursive = other.Submodules.Recursive
	}
	if len(other.Submodules.Include) > 0 {
		c.Submodules.Include = other.Submodules.Include
	}
	if len(other.Submodules.Exclude) > 0 {
		c.Submodules.Exclude = other.Submodules.Exclude
	}

	if other.Contextual.Model != "" {
		c.Contextual.Model = other.Contextual.Model
	}
	if other.Contextual.Timeout != "" {
		c.Contextual.Timeout = other.Contextual.Timeout
	}
	if other.Contextual.BatchSize != 0 {
		c.Contextual.BatchSize = other.Contextual.BatchSize
	}
	if other.Contextual.FallbackOnly {
		c.Contextual.FallbackOnly = true
	}
	if other.Contextual.CodeChunks {
		c.Contextual.CodeChunks = true
	}
}

// applyEnvOverrides applies PAMPAX_* variables, the highest-precedence
// layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PAMPAX_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("PAMPAX_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("PAMPAX_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}

	if v := os.Getenv("PAMPAX_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// PAMPAX_EMBEDDER is the short alias.
	if v := os.Getenv("PAMPAX_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("PAMPAX_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("PAMPAX_DIMENSIONS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Embeddings.Dimensions = d
		}
	}
	if v := os.Getenv("PAMPAX_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// DetectProjectType sniffs marker files: go.mod, then package.json,
// then Python project files.
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

// FindProjectRoot walks up from startDir looking for .git or a
// .pampax.yaml; without either, startDir itself is the root.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	dir := absDir
	for {
		if dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		if fileExists(filepath.Join(dir, ".pampax.yaml")) ||
			fileExists(filepath.Join(dir, ".pampax.yml")) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

// DiscoverSourceDirs lists the conventional source directories that
// exist under dir.
func DiscoverSourceDirs(dir string) []string {
	var found []string
	for _, d := range []string{"src", "lib", "pkg", "internal", "cmd"} {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	// Next.js keeps sources in app/ and pages/.
	if isNextJS(dir) {
		for _, d := range []string{"app", "pages"} {
			if dirExists(filepath.Join(dir, d)) {
				found = append(found, d)
			}
		}
	}
	return found
}

// DiscoverDocsDirs lists documentation locations under dir.
func DiscoverDocsDirs(dir string) []string {
	var found []string
	for _, d := range []string{"docs", "doc"} {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}
	for _, f := range []string{"README.md", "readme.md", "README.markdown"} {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break
		}
	}
	return found
}

func isNextJS(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return false
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}

	_, hasNext := pkg.Dependencies["next"]
	_, hasNextDev := pkg.DevDependencies["next"]
	return hasNext || hasNextDev
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (p ProjectType) String() string {
	return string(p)
}

// IsKnown reports whether detection produced a concrete type.
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("bm25_weight must be between 0 and 1, got %f", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	if sum := c.Search.BM25Weight + c.Search.SemanticWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("bm25_weight + semantic_weight must equal 1.0, got %.2f", sum)
	}

	if c.Search.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Search.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be non-negative, got %d", c.Search.ChunkSize)
	}

	if c.Embeddings.Provider != "" { // empty means auto-detect
		valid := map[string]bool{
			"openai": true, "cohere": true, "ollama": true,
			"mlx": true, "static": true, "llama": true,
		}
		if !valid[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'openai', 'cohere', 'ollama', 'mlx', 'static', 'llama', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	return nil
}

// WriteYAML serializes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads just the user config file; nil without error
// when it doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults fills fields that older config files predate,
// returning the dotted names of everything it added.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.BM25Weight == 0 {
		c.Search.BM25Weight = defaults.Search.BM25Weight
		added = append(added, "search.bm25_weight")
	}
	if c.Search.SemanticWeight == 0 {
		c.Search.SemanticWeight = defaults.Search.SemanticWeight
		added = append(added, "search.semantic_weight")
	}
	if c.Search.RRFConstant == 0 {
		c.Search.RRFConstant = defaults.Search.RRFConstant
		added = append(added, "search.rrf_constant")
	}
	if c.Search.BM25Backend == "" {
		c.Search.BM25Backend = defaults.Search.BM25Backend
		added = append(added, "search.bm25_backend")
	}

	return added
}
