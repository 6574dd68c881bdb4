package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"neetlink/internal/mangle"
	"neetlink/internal/navigation"
	"neetlink/internal/solution"
)

// CheckSolutionTool probes the solution site for a slug.
type CheckSolutionTool struct {
	checker Prober
}

func (t *CheckSolutionTool) Name() string { return "check-solution" }
func (t *CheckSolutionTool) Description() string {
	return "Check whether a NeetCode solution page exists for a LeetCode problem slug (e.g. two-sum)."
}
func (t *CheckSolutionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"slug": map[string]interface{}{
				"type":        "string",
				"description": "Problem slug as it appears in the LeetCode URL",
			},
		},
		"required": []string{"slug"},
	}
}
func (t *CheckSolutionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	slug := getStringArg(args, "slug")
	if err := solution.ValidateSlug(slug); err != nil {
		return nil, err
	}

	res := t.checker.Probe(ctx, slug)
	out := map[string]interface{}{
		"slug":        res.Slug,
		"url":         res.URL,
		"exists":      res.Exists,
		"status_code": res.StatusCode,
		"latency_ms":  res.Latency.Milliseconds(),
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return out, nil
}

// OpenSolutionTool opens a solution in a new tab, either for a slug or for the
// problem page URL the way the context menu does.
type OpenSolutionTool struct {
	checker Prober
	menu    MenuOpener
	opener  TabOpener
}

func (t *OpenSolutionTool) Name() string { return "open-solution" }
func (t *OpenSolutionTool) Description() string {
	return "Open the NeetCode solution in a new browser tab. Pass slug, or tab_url of a LeetCode problem page. " +
		"Set verify=true to skip opening when no solution exists."
}
func (t *OpenSolutionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"slug": map[string]interface{}{
				"type":        "string",
				"description": "Problem slug",
			},
			"tab_url": map[string]interface{}{
				"type":        "string",
				"description": "URL of a LeetCode problem page; the slug is read from it",
			},
			"verify": map[string]interface{}{
				"type":        "boolean",
				"description": "Check existence first (default: false)",
			},
		},
	}
}
func (t *OpenSolutionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	slug := getStringArg(args, "slug")
	tabURL := getStringArg(args, "tab_url")
	verify := getBoolArg(args, "verify", false)

	if slug == "" && tabURL == "" {
		return nil, errors.New("slug or tab_url is required")
	}

	if slug == "" && !verify {
		url, err := t.menu.OpenFromMenu(ctx, tabURL)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"opened": true, "url": url}, nil
	}

	if slug == "" {
		slug = solution.SlugFromMenuURL(tabURL)
		if slug == "" {
			return nil, fmt.Errorf("%w: %s", navigation.ErrNotProblemPage, tabURL)
		}
	}
	if err := solution.ValidateSlug(slug); err != nil {
		return nil, err
	}

	url := t.checker.URLFor(slug)
	if verify {
		res := t.checker.Probe(ctx, slug)
		if !res.Exists {
			out := map[string]interface{}{"opened": false, "slug": slug, "url": url, "status_code": res.StatusCode}
			if res.Err != nil {
				out["error"] = res.Err.Error()
			}
			return out, nil
		}
	}

	if err := t.opener.OpenTab(ctx, url); err != nil {
		return nil, fmt.Errorf("opening %s: %w", url, err)
	}
	return map[string]interface{}{"opened": true, "slug": slug, "url": url}, nil
}

// ListTabsTool lists tracked tabs, marking problem pages with their slug.
type ListTabsTool struct {
	tabs   TabLister
	prefix string
}

func (t *ListTabsTool) Name() string { return "list-tabs" }
func (t *ListTabsTool) Description() string {
	return "List browser tabs seen by the companion. Problem pages include their slug."
}
func (t *ListTabsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"problems_only": map[string]interface{}{
				"type":        "boolean",
				"description": "Only return LeetCode problem pages",
			},
		},
	}
}
func (t *ListTabsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	problemsOnly := getBoolArg(args, "problems_only", false)
	prefix := t.prefix
	if prefix == "" {
		prefix = solution.DefaultProblemPrefix
	}

	tabs := t.tabs.Tabs()
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].TabID < tabs[j].TabID })

	out := make([]map[string]interface{}, 0, len(tabs))
	for _, tab := range tabs {
		isProblem := solution.IsProblemPage(tab.URL, prefix)
		if problemsOnly && !isProblem {
			continue
		}
		entry := map[string]interface{}{
			"tab_id":   tab.TabID,
			"url":      tab.URL,
			"title":    tab.Title,
			"attached": tab.Attached,
		}
		if isProblem {
			entry["slug"] = solution.SlugFromURL(tab.URL)
		}
		out = append(out, entry)
	}
	return map[string]interface{}{"count": len(out), "tabs": out}, nil
}

// ReadFactsTool reads diagnostics facts. With query it runs a Mangle query;
// with predicate it evaluates that predicate, derived ones included.
type ReadFactsTool struct {
	facts FactReader
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return "Read diagnostics facts (solution_check, solution_missing, navigation_event, widget_mounted, solution_opened) " +
		"or derived predicates such as unresolved_problem. Optional query runs a Mangle query like unresolved_problem(S)."
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to evaluate",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle query; takes precedence over predicate",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum results (default 50)",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", 50)
	if limit <= 0 {
		limit = 50
	}

	if q := getStringArg(args, "query"); q != "" {
		results, err := t.facts.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(results) > limit {
			results = results[:limit]
		}
		return map[string]interface{}{"query": q, "count": len(results), "results": results}, nil
	}

	var facts []mangle.Fact
	predicate := getStringArg(args, "predicate")
	if predicate != "" {
		var err error
		facts, err = t.facts.Evaluate(ctx, predicate)
		if err != nil {
			return nil, err
		}
	} else {
		facts = t.facts.Facts()
	}
	facts = lastN(facts, limit)
	return map[string]interface{}{"predicate": predicate, "count": len(facts), "facts": facts}, nil
}

func lastN(facts []mangle.Fact, n int) []mangle.Fact {
	if len(facts) <= n {
		return facts
	}
	return facts[len(facts)-n:]
}
