package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"neetlink/internal/browser"
	"neetlink/internal/companion"
	"neetlink/internal/config"
	"neetlink/internal/observability"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries what every subcommand needs once the root pre-run has loaded it.
type app struct {
	v       *viper.Viper
	cfgFile string
	ws      config.WorkspaceOptions

	cfg    config.Config
	wsDir  string
	logger *zap.Logger
}

// overrideFlags maps config keys to the persistent flags that override them.
// The same keys are read from NEETLINK_* variables, e.g. NEETLINK_BROWSER_DEBUGGER_URL.
var overrideFlags = map[string]string{
	"logger.level":         "log-level",
	"logger.format":        "log-format",
	"logger.log_file":      "log-file",
	"browser.debugger_url": "debugger-url",
	"browser.headless":     "headless",
	"browser.start_url":    "start-url",
	"site.solution_base":   "solution-base",
	"probe.timeout":        "probe-timeout",
	"recorder.enable":      "record",
	"recorder.dir":         "record-dir",
}

// newRootCmd builds a fresh command tree with its own viper instance.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: viper.New(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:          "neetlink",
		Short:        "Adds a NeetCode solution button to LeetCode problem pages.",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (applied over .neetlink/config.yaml)")
	pf.StringVar(&a.ws.ExplicitDir, "workspace-dir", "", "use this directory as the workspace root instead of searching upward")
	pf.BoolVar(&a.ws.Disable, "no-workspace", false, "skip .neetlink workspace discovery")
	pf.String("log-level", "", "debug | info | warn | error")
	pf.String("log-format", "", "console | json")
	pf.String("log-file", "", "also write JSON logs to this rotated file")
	pf.String("debugger-url", "", "attach to a running Chrome at this DevTools URL instead of launching one")
	pf.Bool("headless", false, "launch Chrome headless")
	pf.String("start-url", "", "open this URL once connected")
	pf.String("solution-base", "", "solution site prefix the slug is appended to")
	pf.String("probe-timeout", "", "timeout for one existence probe (e.g. 10s)")
	pf.Bool("record", false, "record bus traffic to a JSONL trace")
	pf.String("record-dir", "", "directory for JSONL traces")

	for key, name := range overrideFlags {
		_ = a.v.BindPFlag(key, pf.Lookup(name))
	}
	a.v.SetEnvPrefix("NEETLINK")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newRunCmd(a),
		newCheckCmd(a),
		newOpenCmd(a),
		newServeMCPCmd(a),
		newInitCmd(a),
		newVersionCmd(),
	)
	return root, a
}

// load merges defaults, workspace config, --config, NEETLINK_* and flags, then
// sets up logging.
func (a *app) load(cmd *cobra.Command) error {
	cfg, wsDir, err := config.LoadWithWorkspace(a.cfgFile, a.ws)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyOverrides(a.v, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.cfg = cfg
	a.wsDir = wsDir

	observability.Initialize(cfg.Logger, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("workspace", wsDir),
		zap.String("version", Version))
	return nil
}

// applyOverrides copies every key set by a flag or environment variable onto cfg.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setString("logger.level", &cfg.Logger.Level)
	setString("logger.format", &cfg.Logger.Format)
	setString("logger.log_file", &cfg.Logger.LogFile)
	setString("browser.debugger_url", &cfg.Browser.DebuggerURL)
	setString("browser.start_url", &cfg.Browser.StartURL)
	setString("site.solution_base", &cfg.Site.SolutionBase)
	setString("probe.timeout", &cfg.Probe.Timeout)
	setString("recorder.dir", &cfg.Recorder.Dir)

	if v.IsSet("browser.headless") {
		headless := v.GetBool("browser.headless")
		cfg.Browser.Headless = &headless
	}
	if v.IsSet("recorder.enable") {
		cfg.Recorder.Enable = v.GetBool("recorder.enable")
	}
	if v.IsSet("mcp.sse_port") {
		cfg.MCP.SSEPort = v.GetInt("mcp.sse_port")
	}
}

// withCompanion connects to Chrome, builds the companion and hands both to fn.
// Everything is released when fn returns.
func (a *app) withCompanion(ctx context.Context, fn func(context.Context, *companion.Companion, *browser.SessionManager) error) error {
	sessions := browser.NewSessionManager(a.logger, a.cfg.Browser)
	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("connecting to browser: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Browser shutdown failed", zap.Error(err))
		}
	}()

	c, err := companion.New(a.logger, a.cfg, companion.NewRodRuntime(sessions), companion.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			a.logger.Warn("Companion close failed", zap.Error(err))
		}
	}()

	return fn(ctx, c, sessions)
}
