package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"neetlink/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by operations that need a live browser.
var ErrNotConnected = errors.New("browser not connected")

// TabInfo is the public metadata of a tracked page target.
type TabInfo struct {
	TabID    string    `json:"tab_id"`
	URL      string    `json:"url"`
	Title    string    `json:"title,omitempty"`
	Attached bool      `json:"attached"`
	LastSeen time.Time `json:"last_seen"`
}

type tabRecord struct {
	info TabInfo
	page *rod.Page
}

// SessionManager owns the Chrome connection and the set of known tabs.
type SessionManager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	tabs       map[string]*tabRecord
}

// NewSessionManager creates a manager; Start connects it.
func NewSessionManager(logger *zap.Logger, cfg config.BrowserConfig) *SessionManager {
	return &SessionManager{
		logger: logger.Named("browser"),
		cfg:    cfg,
		tabs:   make(map[string]*tabRecord),
	}
}

// Start attaches to DebuggerURL or launches Chrome from the Launch command.
// A healthy existing connection is reused.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("Stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.tabs = make(map[string]*tabRecord)
	}

	if err := m.cfg.RequireBrowser(); err != nil {
		return err
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		u, err := m.launch(ctx)
		if err != nil {
			return err
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = b
	m.controlURL = controlURL
	m.logger.Info("Browser connected", zap.String("control_url", controlURL))
	return nil
}

func (m *SessionManager) launch(ctx context.Context) (string, error) {
	bin := m.cfg.Launch[0]
	l := launcher.New().Context(ctx).Bin(bin).Headless(m.cfg.IsHeadless())
	for _, f := range parseLaunchFlags(m.cfg.Launch[1:]) {
		if f.value == "" {
			l = l.Set(flags.Flag(f.name))
		} else {
			l = l.Set(flags.Flag(f.name), f.value)
		}
	}

	u, err := l.Launch()
	if err == nil {
		return u, nil
	}

	// Retry with rod's defaults in case a flag was rejected.
	fallback := launcher.New().Context(ctx).Bin(bin).Headless(m.cfg.IsHeadless())
	alt, altErr := fallback.Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	m.logger.Warn("Chrome rejected launch flags, started with defaults", zap.Error(err))
	return alt, nil
}

type launchFlag struct {
	name  string
	value string
}

// parseLaunchFlags turns "--flag=value" and "--flag" strings into launcher flags.
func parseLaunchFlags(raw []string) []launchFlag {
	out := make([]launchFlag, 0, len(raw))
	for _, r := range raw {
		s := strings.TrimLeft(strings.TrimSpace(r), "-")
		if s == "" {
			continue
		}
		name, val, _ := strings.Cut(s, "=")
		out = append(out, launchFlag{name: name, value: val})
	}
	return out
}

// ControlURL returns the DevTools WebSocket URL of the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected reports whether Start succeeded and Shutdown has not run.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown detaches from all tabs. A launched browser is closed; an attached
// one is left running for the user.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tabs = make(map[string]*tabRecord)
	if m.browser == nil {
		return nil
	}

	var err error
	if m.cfg.DebuggerURL == "" {
		err = m.browser.Context(ctx).Close()
	}
	m.browser = nil
	m.controlURL = ""
	m.logger.Info("Browser shutdown complete")
	return err
}

// Tabs lists the tracked page targets.
func (m *SessionManager) Tabs() []TabInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TabInfo, 0, len(m.tabs))
	for _, rec := range m.tabs {
		info := rec.info
		info.Attached = rec.page != nil
		out = append(out, info)
	}
	return out
}

// OpenTab opens url in a new tab.
func (m *SessionManager) OpenTab(ctx context.Context, url string) error {
	b, err := m.connected()
	if err != nil {
		return err
	}
	if _, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: url}); err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	m.logger.Debug("Opened tab", zap.String("url", url))
	return nil
}

// Attach returns the page of a tab, attaching to it on first use.
func (m *SessionManager) Attach(tabID string) (*rod.Page, error) {
	b, err := m.connected()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	rec, ok := m.tabs[tabID]
	if ok && rec.page != nil {
		p := rec.page
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	p, err := b.PageFromTarget(proto.TargetTargetID(tabID))
	if err != nil {
		return nil, fmt.Errorf("attach to %s: %w", tabID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok = m.tabs[tabID]
	if !ok {
		rec = &tabRecord{info: TabInfo{TabID: tabID, LastSeen: time.Now().UTC()}}
		m.tabs[tabID] = rec
	}
	rec.page = p
	return p, nil
}

// Page returns the attached page of a tab.
func (m *SessionManager) Page(tabID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tabs[tabID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

func (m *SessionManager) connected() (*rod.Browser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.browser == nil {
		return nil, ErrNotConnected
	}
	return m.browser, nil
}

// track records the latest target info for Tabs.
func (m *SessionManager) track(info *proto.TargetTargetInfo) {
	id := string(info.TargetID)
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tabs[id]
	if !ok {
		rec = &tabRecord{}
		m.tabs[id] = rec
	}
	rec.info.TabID = id
	rec.info.URL = info.URL
	rec.info.Title = info.Title
	rec.info.LastSeen = now
}

func (m *SessionManager) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tabs, id)
}

func isPageTarget(info *proto.TargetTargetInfo) bool {
	return info != nil && info.Type == proto.TargetTargetInfoTypePage
}

const activeJS = `() => document.visibilityState === "visible" && document.hasFocus()`

// ActiveTab returns the tab whose document is visible and focused. Headless
// browsers usually have none.
func (m *SessionManager) ActiveTab(ctx context.Context) (string, bool, error) {
	if _, err := m.connected(); err != nil {
		return "", false, err
	}

	tabs := m.Tabs()
	sort.Slice(tabs, func(i, j int) bool {
		return tabs[i].LastSeen.After(tabs[j].LastSeen)
	})

	for _, tab := range tabs {
		page, err := m.Attach(tab.TabID)
		if err != nil {
			m.logger.Debug("Skipping tab for focus check", zap.String("tab", tab.TabID), zap.Error(err))
			continue
		}
		evalCtx, cancel := context.WithTimeout(ctx, m.cfg.EvalTimeoutDuration())
		res, err := page.Context(evalCtx).Evaluate(rod.Eval(activeJS))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			continue
		}
		if res.Value.Bool() {
			return tab.TabID, true, nil
		}
	}
	return "", false, nil
}

// OnLoad calls fn after every document load in the tab. The returned wait
// blocks until ctx ends.
func (m *SessionManager) OnLoad(ctx context.Context, tabID string, fn func()) (wait func(), err error) {
	page, err := m.Attach(tabID)
	if err != nil {
		return nil, err
	}
	return page.Context(ctx).EachEvent(func(e *proto.PageLoadEventFired) {
		fn()
	}), nil
}

// Surface returns the DOM surface of a tab.
func (m *SessionManager) Surface(tabID string) (*Surface, error) {
	page, err := m.Attach(tabID)
	if err != nil {
		return nil, err
	}
	return NewSurface(m.logger, page, m.cfg.EvalTimeoutDuration()), nil
}
