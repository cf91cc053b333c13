package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/sessiontail/sessiontail/internal/retry"
)

// Duration unmarshals from a Go duration string ("250ms", "2s") or a bare
// number of milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// RetryConfig shapes the backoff applied to transient file read failures.
type RetryConfig struct {
	MaxAttempts  uint64   `json:"maxAttempts,omitempty" yaml:"maxAttempts"`
	InitialDelay Duration `json:"initialDelay,omitempty" yaml:"initialDelay"`
	MaxDelay     Duration `json:"maxDelay,omitempty" yaml:"maxDelay"`
	Multiplier   float64  `json:"multiplier,omitempty" yaml:"multiplier"`
}

// Config is the resolved sessiontail configuration.
type Config struct {
	// ClaudeDir is the root of the session logs, normally ~/.claude.
	ClaudeDir string `json:"claudeDir,omitempty" yaml:"claudeDir"`
	// StateDir holds persisted cursors and the session index.
	StateDir      string      `json:"stateDir,omitempty" yaml:"stateDir"`
	CacheCapacity int         `json:"cacheCapacity,omitempty" yaml:"cacheCapacity"`
	GraceTimeout  Duration    `json:"graceTimeout,omitempty" yaml:"graceTimeout"`
	LogLevel      string      `json:"logLevel,omitempty" yaml:"logLevel"`
	Port          int         `json:"port,omitempty" yaml:"port"`
	Retry         RetryConfig `json:"retry,omitempty" yaml:"retry"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home := os.Getenv("HOME")
	return &Config{
		ClaudeDir:     filepath.Join(home, ".claude"),
		StateDir:      GetPaths().State,
		CacheCapacity: 200,
		GraceTimeout:  Duration(5 * time.Second),
		LogLevel:      "info",
		Port:          4517,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration(100 * time.Millisecond),
			MaxDelay:     Duration(2 * time.Second),
			Multiplier:   2.0,
		},
	}
}

// RetryPolicy converts the retry section into a policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: time.Duration(c.Retry.InitialDelay),
		MaxDelay:     time.Duration(c.Retry.MaxDelay),
		Multiplier:   c.Retry.Multiplier,
	}
}

// Load resolves configuration from multiple sources (priority order):
//  1. Built-in defaults
//  2. Global config (~/.config/sessiontail/)
//  3. Project config (<directory>/.sessiontail/)
//  4. SESSIONTAIL_CONFIG file
//  5. SESSIONTAIL_* environment variables
func Load(directory string) (*Config, error) {
	config := Default()

	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	globalPath := GetPaths().Config
	for _, name := range configNames() {
		loadOnce(filepath.Join(globalPath, name), globalPath)
	}

	if directory != "" {
		projectDir := filepath.Join(directory, ".sessiontail")
		for _, name := range configNames() {
			loadOnce(filepath.Join(projectDir, name), projectDir)
		}
	}

	if configPath := os.Getenv("SESSIONTAIL_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	applyEnvOverrides(config)

	return config, nil
}

func configNames() []string {
	return []string{
		"sessiontail.json",
		"sessiontail.jsonc",
		"sessiontail.yaml",
		"sessiontail.yml",
	}
}

// loadConfigFile loads one config file, chosen by extension, with
// interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileConfig Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data = interpolate(data, baseDir)
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	default:
		data = jsonc.ToJSON(data)
		data = interpolate(data, baseDir)
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}

		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig overlays source's set fields onto target.
func mergeConfig(target, source *Config) {
	if source.ClaudeDir != "" {
		target.ClaudeDir = source.ClaudeDir
	}
	if source.StateDir != "" {
		target.StateDir = source.StateDir
	}
	if source.CacheCapacity != 0 {
		target.CacheCapacity = source.CacheCapacity
	}
	if source.GraceTimeout != 0 {
		target.GraceTimeout = source.GraceTimeout
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.Port != 0 {
		target.Port = source.Port
	}
	if source.Retry.MaxAttempts != 0 {
		target.Retry.MaxAttempts = source.Retry.MaxAttempts
	}
	if source.Retry.InitialDelay != 0 {
		target.Retry.InitialDelay = source.Retry.InitialDelay
	}
	if source.Retry.MaxDelay != 0 {
		target.Retry.MaxDelay = source.Retry.MaxDelay
	}
	if source.Retry.Multiplier != 0 {
		target.Retry.Multiplier = source.Retry.Multiplier
	}
}

// applyEnvOverrides applies SESSIONTAIL_* environment variables, the
// highest-priority source.
func applyEnvOverrides(config *Config) {
	if dir := os.Getenv("SESSIONTAIL_CLAUDE_DIR"); dir != "" {
		config.ClaudeDir = dir
	}
	if dir := os.Getenv("SESSIONTAIL_STATE_DIR"); dir != "" {
		config.StateDir = dir
	}
	if level := os.Getenv("SESSIONTAIL_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if port := os.Getenv("SESSIONTAIL_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil && p > 0 {
			config.Port = p
		}
	}
	if capacity := os.Getenv("SESSIONTAIL_CACHE_CAPACITY"); capacity != "" {
		var n int
		if _, err := fmt.Sscanf(capacity, "%d", &n); err == nil && n > 0 {
			config.CacheCapacity = n
		}
	}
	if grace := os.Getenv("SESSIONTAIL_GRACE_TIMEOUT"); grace != "" {
		if d, err := time.ParseDuration(grace); err == nil {
			config.GraceTimeout = Duration(d)
		}
	}
}

// Save writes the configuration to a file as JSON.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
