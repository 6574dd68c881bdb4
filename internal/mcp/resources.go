package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"neetlink/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"neetlink://about",
			"neetlink About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and the site URLs the companion uses."),
		),
		s.handleAboutResource,
	)

	if s.deps.Facts == nil {
		return
	}
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"neetlink://facts/{predicate}{?slug,limit}",
			"Diagnostics Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Recent facts of one predicate, optionally filtered by problem slug."),
		),
		s.handleFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":           s.cfg.Server.Name,
		"version":        s.cfg.Server.Version,
		"problem_prefix": s.cfg.Site.ProblemPrefix,
		"solution_base":  s.cfg.Site.SolutionBase,
		"tools":          s.toolNames(),
		"timestamp_ms":   time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	predicate := argString(request.Params.Arguments["predicate"])
	if predicate == "" {
		return nil, fmt.Errorf("missing predicate")
	}
	slug := argString(request.Params.Arguments["slug"])
	limit := 25
	if n, err := parseLimit(argString(request.Params.Arguments["limit"])); err == nil {
		limit = n
	}
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := selectRecentFacts(s.deps.Facts.FactsByPredicate(predicate), slug, limit)
	payload := map[string]interface{}{
		"predicate": predicate,
		"slug":      slug,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	}
	return jsonContents(request.Params.URI, payload)
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func parseLimit(raw string) (int, error) {
	var n int
	_, err := fmt.Sscanf(raw, "%d", &n)
	return n, err
}

// selectRecentFacts returns up to limit of the newest facts, oldest first.
// A non-empty slug keeps facts that carry it as any argument.
func selectRecentFacts(source []mangle.Fact, slug string, limit int) []mangle.Fact {
	if limit <= 0 {
		return []mangle.Fact{}
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if slug != "" && !hasArg(f, slug) {
			continue
		}
		out = append(out, f)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func hasArg(f mangle.Fact, want string) bool {
	for _, a := range f.Args {
		if fmt.Sprintf("%v", a) == want {
			return true
		}
	}
	return false
}

func (s *Server) toolNames() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
