package companion

import (
	"context"

	"neetlink/internal/browser"
	"neetlink/internal/page"
)

// TabSurface is what the companion needs from one tab's document.
type TabSurface interface {
	page.Surface
	browser.Drainer
}

// Runtime is the browser the companion augments.
type Runtime interface {
	Events(ctx context.Context) (<-chan browser.TabEvent, error)
	ActiveTab(ctx context.Context) (string, bool, error)
	OpenTab(ctx context.Context, url string) error
	Tabs() []browser.TabInfo
	Attach(ctx context.Context, tabID string) (TabSurface, error)
	// OnLoad calls fn after every document load; wait blocks until ctx ends.
	OnLoad(ctx context.Context, tabID string, fn func()) (wait func(), err error)
}

type rodRuntime struct {
	*browser.SessionManager
}

// NewRodRuntime adapts a connected session manager.
func NewRodRuntime(sessions *browser.SessionManager) Runtime {
	return rodRuntime{SessionManager: sessions}
}

func (r rodRuntime) Attach(ctx context.Context, tabID string) (TabSurface, error) {
	s, err := r.SessionManager.Surface(tabID)
	if err != nil {
		return nil, err
	}
	return s, nil
}
