package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/mars/errors"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user and per-project settings directory.
const DirName = ".mars"

const (
	DefaultMaxToolIterations = 25
	DefaultMaxTokens         = 4096
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type Retry struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

type Search struct {
	TierTimeout    time.Duration `yaml:"tier_timeout"`
	GrepBatchSize  int           `yaml:"grep_batch_size"`
	MaxDepth       int           `yaml:"max_depth"`
	TreeLineBudget int           `yaml:"tree_line_budget"`
	MaxResults     int           `yaml:"max_results"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type ModelPricing struct {
	Input      float64  `yaml:"input"`
	Output     float64  `yaml:"output"`
	CacheRead  *float64 `yaml:"cache_read"`
	CacheWrite *float64 `yaml:"cache_write"`
}

// CustomModel adds a model to a built-in provider's catalog.
type CustomModel struct {
	Provider      string       `yaml:"provider"`
	ID            string       `yaml:"id"`
	Name          string       `yaml:"name"`
	ContextWindow int          `yaml:"context_window"`
	Pricing       ModelPricing `yaml:"pricing"`
}

type Config struct {
	LLMClient            string           `yaml:"llm"`
	Model                string           `yaml:"model"`
	MaxTokens            int              `yaml:"max_tokens"`
	MaxToolIterations    int              `yaml:"max_tool_iterations"`
	SystemPrompt         string           `yaml:"system_prompt"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
	Retry                Retry            `yaml:"retry"`
	Search               Search           `yaml:"search"`
	Logging              Logging          `yaml:"logging"`
	Models               []CustomModel    `yaml:"models"`
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	home, _ := os.UserHomeDir()
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	return Load(home, wd)
}

// Load reads <home>/.mars/config.yaml then <project>/.mars/config.yaml and
// fills defaults for anything left unset. Either directory may be empty.
func Load(home, project string) (*Config, error) {
	cfg := &Config{}

	// The settings directory itself is never visible to tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, DirName, DirName+"/**")

	if home != "" {
		if err := loadIfExists(filepath.Join(home, DirName, "config.yaml"), cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading user config")
		}
	}
	if project != "" {
		if err := loadIfExists(filepath.Join(project, DirName, "config.yaml"), cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyDefaults(home)
	return cfg, nil
}

func loadIfExists(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	// Fields present in the later file replace those from the earlier one.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyDefaults(home string) {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = DefaultMaxToolIterations
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 2 * time.Second
	}
	if c.Search.TierTimeout <= 0 {
		c.Search.TierTimeout = 30 * time.Second
	}
	if c.Search.GrepBatchSize <= 0 {
		c.Search.GrepBatchSize = 300
	}
	if c.Search.MaxDepth <= 0 {
		c.Search.MaxDepth = 10
	}
	if c.Search.TreeLineBudget <= 0 {
		c.Search.TreeLineBudget = 100
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 500
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.File == "" && home != "" {
		c.Logging.File = filepath.Join(home, DirName, "mars.log")
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. A missing
// "default" toolset yields nil, meaning every registered tool.
func (c *Config) GetToolset(name string) *Toolset {
	if name == "" {
		name = "default"
	}
	for i := range c.Toolsets {
		if c.Toolsets[i].Name == name {
			return &c.Toolsets[i]
		}
	}
	if name == "default" {
		return nil
	}
	return c.GetToolset("default")
}
