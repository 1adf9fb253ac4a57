// Package config loads the gateway's YAML configuration file, the same
// load/apply-defaults/validate shape as an earlier node-migration tool's
// internal/config/config.go, but using gopkg.in/yaml.v3 directly to
// decode it instead of the earlier tool's hand-rolled mini-YAML reader in
// internal/config/parser.go (the earlier tool already lists yaml.v3 in its
// go.mod without ever calling it — this repo actually uses it).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the gateway needs to boot and run.
//
// MaxAttempts is defaulted, validated and shown by PrettySummary; the
// router does not read it and always uses router.MaxAttempts (16).
type Config struct {
	Seeds    []string `yaml:"seeds"`
	Password string   `yaml:"password"`
	TLS      bool     `yaml:"tls"`

	DialTimeout        time.Duration `yaml:"dialTimeout"`
	RefreshInterval    time.Duration `yaml:"refreshInterval"`
	RefreshMinInterval time.Duration `yaml:"refreshMinInterval"`
	MaxAttempts        int           `yaml:"maxAttempts"`

	Log LogConfig `yaml:"log"`

	path string
}

// LogConfig mirrors the earlier tool's Log section shape.
type LogConfig struct {
	Dir     string `yaml:"dir"`
	Level   string `yaml:"level"`
	Console *bool  `yaml:"console"`
}

// ConsoleEnabledValue reports whether console mirroring is on,
// defaulting to true when unset.
func (l LogConfig) ConsoleEnabledValue() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}

// ValidationError collects configuration issues, same aggregate-then-
// report shape as the earlier tool's ValidationError.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("配置校验失败:")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	for _, err := range e.Errors {
		b.WriteString("\n - ")
		b.WriteString(err)
	}
	return b.String()
}

// Load reads, decodes, defaults, and validates a gateway config file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("配置文件路径为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("无法打开配置文件 %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.path = absPath
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with the gateway's operating
// defaults ( suggested refresh cadence and 's
// MAX_ATTEMPTS).
func (c *Config) ApplyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.RefreshMinInterval <= 0 {
		c.RefreshMinInterval = 100 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 16
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Seeds) == 0 {
		errs = append(errs, "seeds 必填，至少一个种子节点地址")
	}
	for i, seed := range c.Seeds {
		if _, _, err := splitHostPort(seed); err != nil {
			errs = append(errs, fmt.Sprintf("seeds[%d]=%q 不是合法的 host:port 地址", i, seed))
		}
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, "dialTimeout 必须 > 0")
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, "refreshInterval 必须 > 0")
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, "maxAttempts 必须 > 0")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level=%q 不支持，仅支持 debug/info/warn/error", c.Log.Level))
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx <= 0 || idx == len(addr)-1 {
		return "", "", fmt.Errorf("missing port in address %q", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

// ResolvePath returns an absolute path based on the config file's
// location, same helper shape as the earlier tool's Config.ResolvePath.
func (c *Config) ResolvePath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(c.path), path))
}

// ConfigDir returns the directory the config file lives in.
func (c *Config) ConfigDir() string {
	return filepath.Dir(c.path)
}

// PrettySummary renders a short multi-line overview for startup logs,
// same role as the earlier tool's Config.PrettySummary.
func (c *Config) PrettySummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "  🌱 seeds       : %s\n", strings.Join(c.Seeds, ", "))
	fmt.Fprintf(&b, "  ⏱️ dialTimeout : %s\n", c.DialTimeout)
	fmt.Fprintf(&b, "  🔄 refresh     : every %s (min gap %s)\n", c.RefreshInterval, c.RefreshMinInterval)
	fmt.Fprintf(&b, "  🔁 maxAttempts : %d\n", c.MaxAttempts)
	fmt.Fprintf(&b, "  📂 log.dir     : %s\n", c.Log.Dir)
	fmt.Fprintf(&b, "  📝 log.level   : %s", c.Log.Level)
	return b.String()
}
