package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level neetlink config.
	WorkspaceDirName = ".neetlink"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the neetlink companion.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logger   LoggerConfig   `yaml:"logger"`
	Browser  BrowserConfig  `yaml:"browser"`
	Site     SiteConfig     `yaml:"site"`
	Probe    ProbeConfig    `yaml:"probe"`
	Widget   WidgetConfig   `yaml:"widget"`
	Mangle   MangleConfig   `yaml:"mangle"`
	Recorder RecorderConfig `yaml:"recorder"`
	MCP      MCPConfig      `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	// debug | info | warn | error
	Level string `yaml:"level"`
	// console | json
	Format      string `yaml:"format"`
	AddSource   bool   `yaml:"add_source"`
	ServiceName string `yaml:"service_name"`
	// Optional JSON log file, rotated by lumberjack.
	LogFile    string `yaml:"log_file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: false, the
	// companion augments a browser somebody is looking at).
	Headless *bool `yaml:"headless"`
	// Timeout for a single CDP evaluation against a tab (e.g., "5s").
	EvalTimeout string `yaml:"eval_timeout"`
	// Interval between drains of the in-page widget event buffer (e.g., "50ms").
	EventPollInterval string `yaml:"event_poll_interval"`
	// Open this URL in a fresh tab once connected (optional).
	StartURL string `yaml:"start_url"`
}

// SiteConfig names the host site and the solution site.
type SiteConfig struct {
	// Prefix identifying a problem page on the host site.
	ProblemPrefix string `yaml:"problem_prefix"`
	// Origin of the host site; the page controller only runs on this origin.
	HostOrigin string `yaml:"host_origin"`
	// Base URL the slug is appended to.
	SolutionBase string `yaml:"solution_base"`
}

// ProbeConfig tunes the outbound existence probe.
type ProbeConfig struct {
	// Empty means "rely on the transport", which is the default behaviour.
	Timeout string `yaml:"timeout"`
	// Outbound probes per second; 0 disables the limiter.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	UserAgent     string  `yaml:"user_agent"`
}

// WidgetConfig customises the injected button.
type WidgetConfig struct {
	Label string `yaml:"label"`
	// Optional image URL for the icon; an emoji icon is used when empty.
	LogoURL string `yaml:"logo_url"`
	Top     int    `yaml:"top"`
	Right   int    `yaml:"right"`
}

// MangleConfig controls the embedded diagnostics engine.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// Optional extra rules loaded on top of the built-in schema.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls the JSONL flight recorder.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
}

type MCPConfig struct {
	// When set, serves MCP over SSE on this port instead of stdio.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "neetlink",
			Version: "0.3.0",
		},
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "neetlink",
			MaxSize:     10,
			MaxBackups:  3,
			MaxAge:      7,
		},
		Browser: BrowserConfig{
			EvalTimeout:       "5s",
			EventPollInterval: "50ms",
		},
		Site: SiteConfig{
			ProblemPrefix: "https://leetcode.com/problems/",
			HostOrigin:    "https://leetcode.com/",
			SolutionBase:  "https://neetcode.io/solutions/",
		},
		Probe: ProbeConfig{
			RatePerSecond: 5,
			Burst:         5,
			UserAgent:     "neetlink/0.3",
		},
		Widget: WidgetConfig{
			Label: "View NeetCode Solution",
			Top:   10,
			Right: 10,
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		Recorder: RecorderConfig{
			Enable: false,
			Dir:    "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .neetlink/config.yaml file.
// Returns the workspace root directory (parent of .neetlink/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .neetlink/config.yaml <- explicit --config
//
// CLI flags and NEETLINK_* environment variables are applied by the caller.
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .neetlink/ directory with a template config at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "data")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# neetlink project-level configuration
# Values here override defaults but are overridden by --config, NEETLINK_* env and flags.

# browser:
#   debugger_url: "ws://127.0.0.1:9222/devtools/browser/<id>"
#   # or launch a fresh Chrome:
#   launch: ["google-chrome", "--window-size=1280,900"]
#   headless: false

# probe:
#   timeout: "10s"
#   rate_per_second: 5

# recorder:
#   enable: true
#   dir: "data/traces"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("data/\n"), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Logger.LogFile = resolve(cfg.Logger.LogFile)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	return cfg
}

// Validate ensures required fields exist so the companion can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Site.SolutionBase == "" {
		return errors.New("site.solution_base is required")
	}
	if !strings.HasSuffix(c.Site.SolutionBase, "/") {
		return errors.New("site.solution_base must end with '/'")
	}
	if c.Site.ProblemPrefix == "" {
		return errors.New("site.problem_prefix is required")
	}
	if c.Probe.RatePerSecond < 0 {
		return errors.New("probe.rate_per_second must not be negative")
	}
	return nil
}

// RequireBrowser reports whether enough is configured to reach Chrome.
func (b BrowserConfig) RequireBrowser() error {
	if b.DebuggerURL == "" && len(b.Launch) == 0 {
		return errors.New("browser.debugger_url or browser.launch must be provided")
	}
	return nil
}

// IsHeadless returns whether Chrome should run in headless mode (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// EvalTimeoutDuration returns the parsed evaluation timeout with a sane default.
func (b BrowserConfig) EvalTimeoutDuration() time.Duration {
	return parseDuration(b.EvalTimeout, 5*time.Second)
}

// PollInterval returns the widget event drain interval with a sane default.
func (b BrowserConfig) PollInterval() time.Duration {
	return parseDuration(b.EventPollInterval, 50*time.Millisecond)
}

// TimeoutDuration returns the probe timeout; zero means no explicit timeout.
func (p ProbeConfig) TimeoutDuration() time.Duration {
	return parseDuration(p.Timeout, 0)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
