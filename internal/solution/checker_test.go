package solution

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"neetlink/internal/bus"
	"neetlink/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// solutionSite serves HEAD requests for the slugs in known and 404 otherwise.
type solutionSite struct {
	mu      sync.Mutex
	methods []string
	agents  []string
	known   map[string]int
}

func (s *solutionSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.methods = append(s.methods, r.Method)
	s.agents = append(s.agents, r.UserAgent())
	s.mu.Unlock()

	slug := r.URL.Path[len("/solutions/"):]
	if status, ok := s.known[slug]; ok {
		w.WriteHeader(status)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *solutionSite) requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.methods)
}

func newSite(t *testing.T, known map[string]int) (*solutionSite, *httptest.Server) {
	t.Helper()
	site := &solutionSite{known: known}
	mux := http.NewServeMux()
	mux.Handle("/solutions/", site)
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/solutions/two-sum", http.StatusMovedPermanently)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return site, srv
}

func newTestChecker(t *testing.T, base string) *Checker {
	t.Helper()
	return NewChecker(zaptest.NewLogger(t), Options{
		Base:      base,
		UserAgent: "neetlink-test",
		Timeout:   2 * time.Second,
	})
}

func TestTargetURL(t *testing.T) {
	assert.Equal(t, "https://neetcode.io/solutions/two-sum", TargetURL(DefaultBase, "two-sum"))
	// No escaping.
	assert.Equal(t, "https://neetcode.io/solutions/a b", TargetURL(DefaultBase, "a b"))
}

func TestValidateSlug(t *testing.T) {
	assert.NoError(t, ValidateSlug("two-sum"))
	err := ValidateSlug("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSlug))
	assert.Equal(t, "Invalid problem slug provided. Expected a non-empty string.", err.Error())
}

func TestProbe(t *testing.T) {
	site, srv := newSite(t, map[string]int{
		"two-sum":      http.StatusOK,
		"no-content":   http.StatusNoContent,
		"server-error": http.StatusInternalServerError,
	})
	c := newTestChecker(t, srv.URL+"/solutions/")

	tests := []struct {
		slug   string
		exists bool
		status int
	}{
		{"two-sum", true, http.StatusOK},
		{"no-content", true, http.StatusNoContent},
		{"alien-dictionary", false, http.StatusNotFound},
		{"server-error", false, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			res := c.Probe(context.Background(), tt.slug)
			require.NoError(t, res.Err)
			assert.Equal(t, tt.exists, res.Exists)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, srv.URL+"/solutions/"+tt.slug, res.URL)
		})
	}

	site.mu.Lock()
	defer site.mu.Unlock()
	for i := range site.methods {
		assert.Equal(t, http.MethodHead, site.methods[i])
		assert.Equal(t, "neetlink-test", site.agents[i])
	}
}

func TestProbe_FollowsRedirect(t *testing.T) {
	_, srv := newSite(t, map[string]int{"two-sum": http.StatusOK})
	c := newTestChecker(t, srv.URL+"/")

	res := c.Probe(context.Background(), "moved")
	require.NoError(t, res.Err)
	assert.True(t, res.Exists)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestProbe_EmptySlugSkipsNetwork(t *testing.T) {
	site, srv := newSite(t, nil)
	c := newTestChecker(t, srv.URL+"/solutions/")

	res := c.Probe(context.Background(), "")
	assert.ErrorIs(t, res.Err, ErrInvalidSlug)
	assert.False(t, res.Exists)
	assert.Zero(t, site.requests())
}

func TestProbe_TransportError(t *testing.T) {
	_, srv := newSite(t, nil)
	base := srv.URL + "/solutions/"
	srv.Close()

	c := newTestChecker(t, base)
	res := c.Probe(context.Background(), "two-sum")
	require.Error(t, res.Err)
	assert.False(t, res.Exists)
	assert.Zero(t, res.StatusCode)
}

func TestHandle(t *testing.T) {
	_, srv := newSite(t, map[string]int{"two-sum": http.StatusOK})
	c := newTestChecker(t, srv.URL+"/solutions/")
	ctx := context.Background()

	assert.Equal(t, bus.CheckResponse{Exists: true}, c.Handle(ctx, bus.NewCheckRequest("two-sum")))
	assert.Equal(t, bus.CheckResponse{Exists: false}, c.Handle(ctx, bus.NewCheckRequest("missing")))
	assert.Equal(t,
		bus.CheckResponse{Exists: false, Error: "Invalid problem slug provided. Expected a non-empty string."},
		c.Handle(ctx, bus.NewCheckRequest("")))
}

func TestHandle_TransportErrorCarriesMessage(t *testing.T) {
	_, srv := newSite(t, nil)
	base := srv.URL + "/solutions/"
	srv.Close()

	resp := newTestChecker(t, base).Handle(context.Background(), bus.NewCheckRequest("two-sum"))
	assert.False(t, resp.Exists)
	assert.NotEmpty(t, resp.Error)
}

func TestHandle_ThroughBus(t *testing.T) {
	_, srv := newSite(t, map[string]int{"two-sum": http.StatusOK})
	c := newTestChecker(t, srv.URL+"/solutions/")

	b := bus.New(zaptest.NewLogger(t), 1)
	defer b.Shutdown()
	b.HandleCheck(c.Handle)

	resp := <-b.RequestCheck(context.Background(), bus.NewCheckRequest("two-sum"))
	assert.True(t, resp.Exists)
}

func TestProbe_RateLimited(t *testing.T) {
	_, srv := newSite(t, map[string]int{"two-sum": http.StatusOK})
	c := NewChecker(zaptest.NewLogger(t), Options{
		Base:          srv.URL + "/solutions/",
		RatePerSecond: 0.001,
		Burst:         1,
	})

	require.NoError(t, c.Probe(context.Background(), "two-sum").Err)

	// The second probe would wait far beyond the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := c.Probe(ctx, "two-sum")
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "waiting for probe slot")
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Probe.Timeout = "3s"

	opts := OptionsFromConfig(cfg.Site, cfg.Probe)
	assert.Equal(t, cfg.Site.SolutionBase, opts.Base)
	assert.Equal(t, 3*time.Second, opts.Timeout)
	assert.Equal(t, cfg.Probe.UserAgent, opts.UserAgent)

	c := NewChecker(zaptest.NewLogger(t), Options{})
	assert.Equal(t, DefaultBase, c.Base())
	assert.Equal(t, DefaultBase+"x", c.URLFor("x"))
}
