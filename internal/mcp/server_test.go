package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fstext/internal/config"
	"github.com/Aman-CERP/fstext/internal/pipeline"
	"github.com/Aman-CERP/fstext/internal/queue"
	"github.com/Aman-CERP/fstext/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// loadedServer indexes root once and returns a server over the result.
func loadedServer(t *testing.T, root string) (*Server, *pipeline.Pipeline) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Watch.Dir = root

	p, err := pipeline.New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Load(context.Background()))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	srv, err := NewServer(p)
	require.NoError(t, err)
	return srv, p
}

// stubSource serves a fixed index and status.
type stubSource struct {
	root   string
	idx    store.TextIndex
	status pipeline.Status
	state  queue.PathState
	err    error
}

func (s *stubSource) Root() string           { return s.root }
func (s *stubSource) Index() store.TextIndex { return s.idx }
func (s *stubSource) SearchLimit() int       { return 2 }
func (s *stubSource) MaxFileSize() int64     { return 16 }
func (s *stubSource) Status(context.Context) pipeline.Status {
	return s.status
}
func (s *stubSource) PathState(context.Context, string) (queue.PathState, error) {
	return s.state, s.err
}

var _ Source = (*stubSource)(nil)
var _ Source = (*pipeline.Pipeline)(nil)

func TestNewServer_RequiresSource(t *testing.T) {
	_, err := NewServer(nil)
	require.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	srv, err := NewServer(&stubSource{})
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{"search_index", "load_file", "index_status"}, names)
}

func TestServer_UnknownTool(t *testing.T) {
	srv, err := NewServer(&stubSource{})
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), "search", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestSearchIndex_ReturnsRankedHits(t *testing.T) {
	// Given: two files mention the keyword, one more often
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello world")
	writeFile(t, filepath.Join(root, "b.md"), "hello hello hello there")
	writeFile(t, filepath.Join(root, "c.txt"), "nothing relevant")
	srv, p := loadedServer(t, root)

	// When: searching for the keyword
	res, err := srv.CallTool(context.Background(), "search_index", map[string]any{"keyword": "hello"})
	require.NoError(t, err)

	// Then: both files come back, best first, with snippets
	out := res.(*SearchIndexOutput)
	require.Equal(t, 2, out.Count)
	assert.Equal(t, filepath.Join(p.Root(), "b.md"), out.Results[0].Path)
	assert.Equal(t, filepath.Join(p.Root(), "a.txt"), out.Results[1].Path)
	assert.GreaterOrEqual(t, out.Results[0].Score, out.Results[1].Score)
	for _, r := range out.Results {
		assert.Contains(t, r.Snippet, "hello")
	}
}

func TestSearchIndex_NoMatchesIsEmptyNotError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello world")
	srv, _ := loadedServer(t, root)

	res, err := srv.CallTool(context.Background(), "search_index", map[string]any{"keyword": "absent"})
	require.NoError(t, err)

	out := res.(*SearchIndexOutput)
	assert.Equal(t, 0, out.Count)
	assert.NotNil(t, out.Results)
}

func TestSearchIndex_EmptyKeywordIsInvalidParams(t *testing.T) {
	srv, err := NewServer(&stubSource{})
	require.NoError(t, err)

	for _, kw := range []string{"", "   "} {
		_, err := srv.CallTool(context.Background(), "search_index", map[string]any{"keyword": kw})

		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	}
}

func TestSearchIndex_UnavailableIndex(t *testing.T) {
	// Given: an index that has been closed
	idx, err := store.Open(store.BackendBleve, "")
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	srv, err := NewServer(&stubSource{idx: idx})
	require.NoError(t, err)

	// When: searching
	_, err = srv.CallTool(context.Background(), "search_index", map[string]any{"keyword": "hello"})

	// Then: the tool reports the index as unavailable
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexUnavailable, mcpErr.Code)
}

func TestSearchIndex_NilIndexIsUnavailable(t *testing.T) {
	srv, err := NewServer(&stubSource{})
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), "search_index", map[string]any{"keyword": "hello"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexUnavailable, mcpErr.Code)
}

func TestSearchIndex_DefaultLimitFromSource(t *testing.T) {
	// Given: three matching documents and a source limit of 2
	idx, err := store.Open(store.BackendBleve, "")
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()
	for _, name := range []string{"/r/a.txt", "/r/b.txt", "/r/c.txt"} {
		require.NoError(t, idx.Upsert(ctx, store.Document{Path: name, Content: "shared term"}))
	}
	require.NoError(t, idx.Commit(ctx))
	srv, err := NewServer(&stubSource{root: "/r", idx: idx})
	require.NoError(t, err)

	// When: searching without a limit, then with one
	res, err := srv.CallTool(ctx, "search_index", map[string]any{"keyword": "shared"})
	require.NoError(t, err)
	more, err := srv.CallTool(ctx, "search_index", map[string]any{"keyword": "shared", "limit": 3})
	require.NoError(t, err)

	// Then: the source limit applies by default
	assert.Equal(t, 2, res.(*SearchIndexOutput).Count)
	assert.Equal(t, 3, more.(*SearchIndexOutput).Count)
}

func TestLoadFile_RelativeAndAbsolute(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "docs", "guide.md"), "# Guide\n")
	srv, p := loadedServer(t, root)
	want := filepath.Join(p.Root(), "docs", "guide.md")

	for _, name := range []string{"docs/guide.md", want} {
		res, err := srv.CallTool(context.Background(), "load_file", map[string]any{"file_path": name})
		require.NoError(t, err)

		out := res.(*LoadFileOutput)
		assert.Equal(t, want, out.Path)
		assert.Equal(t, "# Guide\n", out.Content)
		assert.Equal(t, int64(8), out.Size)
		assert.Equal(t, "text/markdown", out.MIMEType)
	}
}

func TestLoadFile_ReturnsFilesTheIndexSkips(t *testing.T) {
	// Given: a file with an extension outside the allow-list
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main")
	srv, _ := loadedServer(t, root)

	// When: loading it
	res, err := srv.CallTool(context.Background(), "load_file", map[string]any{"file_path": "main.go"})

	// Then: the raw content is still returned
	require.NoError(t, err)
	assert.Equal(t, "package main", res.(*LoadFileOutput).Content)
}

func TestLoadFile_NotFoundCases(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret.txt"), "nope")
	writeFile(t, filepath.Join(root, "dir", "x.txt"), "x")
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")))
	srv, _ := loadedServer(t, root)

	tests := []struct {
		name string
		path string
	}{
		{"missing", "missing.txt"},
		{"directory", "dir"},
		{"traversal", "../" + filepath.Base(outside) + "/secret.txt"},
		{"absolute outside", filepath.Join(outside, "secret.txt")},
		{"symlink escaping root", "link.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.CallTool(context.Background(), "load_file", map[string]any{"file_path": tt.path})

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeFileNotFound, mcpErr.Code)
		})
	}
}

func TestLoadFile_TooLarge(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "big.txt"), "this is more than sixteen bytes")
	srv, err := NewServer(&stubSource{root: root})
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), "load_file", map[string]any{"file_path": "big.txt"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeFileTooLarge, mcpErr.Code)
}

func TestLoadFile_EmptyPathIsInvalidParams(t *testing.T) {
	srv, err := NewServer(&stubSource{root: t.TempDir()})
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), "load_file", map[string]any{"file_path": ""})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestIndexStatus_ReportsPipelineAndPathState(t *testing.T) {
	// Given: a loaded root with one indexed file
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	srv, _ := loadedServer(t, root)

	// When: asking for status with a path
	res, err := srv.CallTool(context.Background(), "index_status", map[string]any{"path": "a.txt"})
	require.NoError(t, err)

	// Then: the document count and path state are reported
	out := res.(*IndexStatusOutput)
	assert.Equal(t, 1, out.Status.Documents)
	assert.Equal(t, "ready", out.Status.Progress.Status)
	assert.Equal(t, "indexed", out.PathState)
}

func TestIndexStatus_PathStateError(t *testing.T) {
	srv, err := NewServer(&stubSource{err: store.ErrIndexClosed})
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), "index_status", map[string]any{"path": "a.txt"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexUnavailable, mcpErr.Code)
}

func TestServer_OverSDKSession(t *testing.T) {
	// Given: a server connected to an in-memory client
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello world")
	srv, _ := loadedServer(t, root)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	// When: listing tools and calling search_index
	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search_index",
		Arguments: map[string]any{"keyword": "hello"},
	})
	require.NoError(t, err)
	empty, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search_index",
		Arguments: map[string]any{"keyword": ""},
	})
	require.NoError(t, err)

	// Then: all three tools are listed and the call succeeds
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	assert.True(t, names["search_index"])
	assert.True(t, names["load_file"])
	assert.True(t, names["index_status"])

	assert.False(t, result.IsError)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "a.txt")

	// Then: an empty keyword surfaces as a tool error
	assert.True(t, empty.IsError)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv, err := NewServer(&stubSource{root: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, serverTransport := mcp.NewInMemoryTransports()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, serverTransport) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
