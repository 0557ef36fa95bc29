package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
	"github.com/Aman-CERP/fstext/internal/pipeline"
	"github.com/Aman-CERP/fstext/internal/queue"
	"github.com/Aman-CERP/fstext/internal/store"
	"github.com/Aman-CERP/fstext/pkg/version"
)

// ServerName is reported to clients during initialization.
const ServerName = "fstext"

// Source is what the server needs from the running pipeline.
type Source interface {
	Root() string
	Index() store.TextIndex
	SearchLimit() int
	MaxFileSize() int64
	Status(ctx context.Context) pipeline.Status
	PathState(ctx context.Context, path string) (queue.PathState, error)
}

// Server is the MCP server for fstext.
type Server struct {
	mcp    *mcp.Server
	source Source
	logger *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

const (
	searchIndexDescription = "Keyword search over the indexed files under the watch root. Returns matching file paths with a highlighted snippet and a relevance score, best match first."
	loadFileDescription    = "Load the current content of a file under the watch root. Relative paths resolve against the root."
	indexStatusDescription = "Report indexing progress, document count, queued operations and per-stage counters. Pass a path to see whether it is indexed or pending."
)

// SearchIndexInput defines the input schema for the search_index tool.
type SearchIndexInput struct {
	Keyword string `json:"keyword" jsonschema:"keyword or words to search for"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results, default from server config"`
}

// SearchIndexOutput defines the output schema for the search_index tool.
type SearchIndexOutput struct {
	Results []SearchResult `json:"results" jsonschema:"matching documents, best first"`
	Count   int            `json:"count" jsonschema:"number of results"`
}

// SearchResult is a single search_index hit.
type SearchResult struct {
	Path    string  `json:"path" jsonschema:"absolute path of the matching file"`
	Snippet string  `json:"snippet" jsonschema:"excerpt around the match, terms wrapped in <mark>"`
	Score   float64 `json:"score" jsonschema:"relevance score, higher is better"`
}

// LoadFileInput defines the input schema for the load_file tool.
type LoadFileInput struct {
	FilePath string `json:"file_path" jsonschema:"absolute path, or path relative to the watch root"`
}

// LoadFileOutput defines the output schema for the load_file tool.
type LoadFileOutput struct {
	Path     string `json:"path" jsonschema:"resolved absolute path"`
	Content  string `json:"content" jsonschema:"raw file content"`
	Size     int64  `json:"size" jsonschema:"file size in bytes"`
	MIMEType string `json:"mime_type" jsonschema:"guessed MIME type"`
}

// IndexStatusInput defines the input schema for the index_status tool.
type IndexStatusInput struct {
	Path string `json:"path,omitempty" jsonschema:"optional file path to report the state of"`
}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Status    pipeline.Status `json:"status" jsonschema:"pipeline state"`
	PathState string          `json:"path_state,omitempty" jsonschema:"absent, indexed, pending_upsert or pending_delete"`
}

// NewServer creates a new MCP server over src.
func NewServer(src Source) (*Server, error) {
	if src == nil {
		return nil, errors.New("pipeline is required")
	}

	s := &Server{
		source: src,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "search_index", Description: searchIndexDescription},
		{Name: "load_file", Description: loadFileDescription},
		{Name: "index_status", Description: indexStatusDescription},
	}
}

// CallTool invokes a tool by name with JSON-style arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_index":
		var in SearchIndexInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.searchIndex(ctx, in)
	case "load_file":
		var in LoadFileInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.loadFile(ctx, in)
	case "index_status":
		var in IndexStatusInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.indexStatus(ctx, in)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) searchIndex(ctx context.Context, in SearchIndexInput) (*SearchIndexOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	keyword := strings.TrimSpace(in.Keyword)
	if keyword == "" {
		return nil, NewInvalidParamsError("keyword parameter is required and must be a non-empty string")
	}

	limit := in.Limit
	if limit <= 0 {
		limit = s.source.SearchLimit()
	}

	s.logger.Info("search_index started",
		slog.String("request_id", requestID),
		slog.String("keyword", keyword),
		slog.Int("limit", limit))

	idx := s.source.Index()
	if idx == nil {
		return nil, MapError(fserrors.IndexUnavailableError("index is not open", nil))
	}

	hits, err := idx.Search(ctx, keyword, limit)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search_index failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	out := &SearchIndexOutput{Results: make([]SearchResult, 0, len(hits))}
	for _, h := range hits {
		out.Results = append(out.Results, SearchResult{Path: h.Path, Snippet: h.Snippet, Score: h.Score})
	}
	out.Count = len(out.Results)

	s.logger.Info("search_index completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", out.Count))

	return out, nil
}

func (s *Server) loadFile(ctx context.Context, in LoadFileInput) (*LoadFileOutput, error) {
	requestID := generateRequestID()

	if strings.TrimSpace(in.FilePath) == "" {
		return nil, NewInvalidParamsError("file_path parameter is required and must be a non-empty string")
	}

	out, err := readWithinRoot(ctx, s.source.Root(), in.FilePath, s.source.MaxFileSize())
	if err != nil {
		s.logger.Debug("load_file failed",
			slog.String("request_id", requestID),
			slog.String("file_path", in.FilePath),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("load_file completed",
		slog.String("request_id", requestID),
		slog.String("path", out.Path),
		slog.Int64("size", out.Size))

	return out, nil
}

func (s *Server) indexStatus(ctx context.Context, in IndexStatusInput) (*IndexStatusOutput, error) {
	requestID := generateRequestID()

	out := &IndexStatusOutput{Status: s.source.Status(ctx)}
	if in.Path != "" {
		state, err := s.source.PathState(ctx, in.Path)
		if err != nil {
			return nil, MapError(err)
		}
		out.PathState = state.String()
	}

	s.logger.Debug("index_status completed",
		slog.String("request_id", requestID),
		slog.String("stage", string(out.Status.Progress.Stage)),
		slog.Int("documents", out.Status.Documents))

	return out, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_index",
		Description: searchIndexDescription,
	}, s.mcpSearchIndexHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "load_file",
		Description: loadFileDescription,
	}, s.mcpLoadFileHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: indexStatusDescription,
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", 3))
}

func (s *Server) mcpSearchIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchIndexInput) (
	*mcp.CallToolResult,
	*SearchIndexOutput,
	error,
) {
	out, err := s.searchIndex(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) mcpLoadFileHandler(ctx context.Context, _ *mcp.CallToolRequest, input LoadFileInput) (
	*mcp.CallToolResult,
	*LoadFileOutput,
	error,
) {
	out, err := s.loadFile(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.indexStatus(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// Serve runs the server on stdio until ctx is canceled or the client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Run runs the server on transport.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("Starting MCP server", slog.String("root", s.source.Root()))

	err := s.mcp.Run(ctx, transport)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
