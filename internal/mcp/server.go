package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"neetlink/internal/browser"
	"neetlink/internal/config"
	"neetlink/internal/mangle"
	"neetlink/internal/solution"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Prober checks whether a solution page exists.
type Prober interface {
	Probe(ctx context.Context, slug string) solution.Result
	URLFor(slug string) string
}

// MenuOpener opens the solution for a problem page URL.
type MenuOpener interface {
	OpenFromMenu(ctx context.Context, tabURL string) (string, error)
}

// TabOpener opens a URL in a new tab.
type TabOpener interface {
	OpenTab(ctx context.Context, url string) error
}

// TabLister reports the tabs the companion knows about.
type TabLister interface {
	Tabs() []browser.TabInfo
}

// FactReader is the read side of the diagnostics engine.
type FactReader interface {
	Facts() []mangle.Fact
	FactsByPredicate(predicate string) []mangle.Fact
	Query(ctx context.Context, query string) ([]mangle.QueryResult, error)
	Evaluate(ctx context.Context, predicate string) ([]mangle.Fact, error)
}

// Deps are the companion components exposed as tools. Tabs and Facts may be
// nil, in which case their tools are not registered.
type Deps struct {
	Checker Prober
	Menu    MenuOpener
	Opener  TabOpener
	Tabs    TabLister
	Facts   FactReader
}

// Server wires the MCP runtime to the companion.
type Server struct {
	cfg       config.Config
	logger    *zap.Logger
	deps      Deps
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the neetlink MCP server and registers its tools.
func NewServer(logger *zap.Logger, cfg config.Config, deps Deps) (*Server, error) {
	if deps.Checker == nil {
		return nil, fmt.Errorf("mcp server requires a checker")
	}
	if deps.Menu == nil || deps.Opener == nil {
		return nil, fmt.Errorf("mcp server requires a tab opener")
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		logger:    logger.Named("mcp"),
		deps:      deps,
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves over stdio until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("MCP SSE server listening", zap.Int("port", port))

	select {
	case <-ctx.Done():
		s.logger.Info("SSE server shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by the CLI and tests).
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	s.registerTool(&CheckSolutionTool{checker: s.deps.Checker})
	s.registerTool(&OpenSolutionTool{checker: s.deps.Checker, menu: s.deps.Menu, opener: s.deps.Opener})
	if s.deps.Tabs != nil {
		s.registerTool(&ListTabsTool{tabs: s.deps.Tabs, prefix: s.cfg.Site.ProblemPrefix})
	}
	if s.deps.Facts != nil {
		s.registerTool(&ReadFactsTool{facts: s.deps.Facts})
	}
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			s.logger.Debug("Tool failed", zap.String("tool", tool.Name()), zap.Error(err))
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
