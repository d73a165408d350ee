package cmd

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/docsearch/internal/auth"
	"github.com/knoguchi/docsearch/internal/config"
	"github.com/knoguchi/docsearch/internal/output"
	"github.com/knoguchi/docsearch/internal/retrieval"
	"github.com/knoguchi/docsearch/internal/service"
)

// isolate runs commands in an empty working directory with a private
// settings directory and no index names from the environment.
func isolate(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, k := range []string{"DENSE_INDEX_NAME", "SPARSE_INDEX_NAME", "JWT_SECRET", "CONFIG_DIR", "LOG_LEVEL", "DATABASE_URL"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	return t.TempDir()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func loadState(t *testing.T, dir string) *config.State {
	t.Helper()
	s, err := config.NewStore(dir)
	require.NoError(t, err)
	st, err := s.Load()
	require.NoError(t, err)
	return st
}

func TestRootCmd_HasCommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"connect", "setup-owner", "index", "refresh", "watch", "search", "status", "serve", "token"} {
		assert.Contains(t, names, want)
	}
}

func TestConnect_SavesConnection(t *testing.T) {
	dir := isolate(t)

	out, err := execute(t, "--config-dir", dir, "--no-color", "connect", "-d", "team-dense", "-s", "team-sparse", "--no-verify")
	require.NoError(t, err)
	assert.Contains(t, out, "Setup Complete")

	st := loadState(t, dir)
	assert.Equal(t, config.ModeConnected, st.Mode)
	dense, sparse, err := st.IndexNames()
	require.NoError(t, err)
	assert.Equal(t, "team-dense", dense)
	assert.Equal(t, "team-sparse", sparse)
}

func TestConnect_NamesFromEnvironment(t *testing.T) {
	dir := isolate(t)
	t.Setenv("DENSE_INDEX_NAME", "env-dense")
	t.Setenv("SPARSE_INDEX_NAME", "env-sparse")

	_, err := execute(t, "--config-dir", dir, "connect", "--no-verify")
	require.NoError(t, err)
	dense, sparse, err := loadState(t, dir).IndexNames()
	require.NoError(t, err)
	assert.Equal(t, "env-dense", dense)
	assert.Equal(t, "env-sparse", sparse)
}

func TestConnect_RequiresNames(t *testing.T) {
	dir := isolate(t)

	_, err := execute(t, "--config-dir", dir, "connect", "-d", "only-dense", "--no-verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sparse index name not found")
}

func TestSetupOwner(t *testing.T) {
	dir := isolate(t)
	root := t.TempDir()

	_, err := execute(t, "--config-dir", dir, "setup-owner", "--root", root,
		"-d", "docs-dense", "-s", "docs-sparse", "--chunk-size", "300", "--no-verify")
	require.NoError(t, err)

	st := loadState(t, dir)
	require.True(t, st.IsOwner())
	assert.Equal(t, root, st.Owner.SourceRoot)
	assert.Equal(t, 300, st.Settings.ChunkSize)
	assert.Equal(t, 75, st.Settings.ChunkOverlap)
}

func TestSetupOwner_RejectsMissingRoot(t *testing.T) {
	dir := isolate(t)

	_, err := execute(t, "--config-dir", dir, "setup-owner", "--root", filepath.Join(dir, "nope"),
		"-d", "a", "-s", "b", "--no-verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	_, err = execute(t, "--config-dir", dir, "setup-owner", "-d", "a", "-s", "b")
	assert.Error(t, err)
}

func TestOwnerCommands_RejectConnectedMode(t *testing.T) {
	dir := isolate(t)
	_, err := execute(t, "--config-dir", dir, "connect", "-d", "a", "-s", "b", "--no-verify")
	require.NoError(t, err)

	for _, c := range []string{"index", "refresh", "watch"} {
		_, err := execute(t, "--config-dir", dir, c)
		assert.ErrorIs(t, err, errOwnerOnly, c)
	}
}

func TestCommands_RequireConfiguration(t *testing.T) {
	dir := isolate(t)

	_, err := execute(t, "--config-dir", dir, "search", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrNotConfigured)
	assert.Contains(t, err.Error(), "docsearch connect")

	_, err = execute(t, "--config-dir", dir, "status")
	assert.ErrorIs(t, err, config.ErrNotConfigured)
}

func TestSearch_ValidatesFlags(t *testing.T) {
	dir := isolate(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"search", "q", "--limit", "101"}, "between 1 and 100"},
		{[]string{"search", "q", "--limit", "0"}, "between 1 and 100"},
		{[]string{"search", "q", "--format", "xml"}, "invalid format"},
		{[]string{"search", "q", "--file-types", "exe"}, "invalid file type"},
		{[]string{"refresh", "--since", "yesterday"}, "YYYY-MM-DD"},
		{[]string{"index", "--limit=-2"}, "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			_, err := execute(t, append([]string{"--config-dir", dir}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := execute(t, "--config-dir", dir, "search")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	dir := isolate(t)

	_, err := execute(t, "--config-dir", dir, "token", "--subject", "ci")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	out, err := execute(t, "--config-dir", dir, "token", "--subject", "ci", "--admin")
	require.NoError(t, err)

	m := auth.NewJWTManager(auth.DefaultJWTConfig("s3cret"))
	claims, err := m.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.True(t, claims.HasScope(auth.ScopeAdmin))
}

type fakeSearcher struct {
	resp *service.SearchResponse
	err  error
}

func (f fakeSearcher) Search(context.Context, service.SearchRequest) (*service.SearchResponse, error) {
	return f.resp, f.err
}

func TestRunSearch(t *testing.T) {
	resp := &service.SearchResponse{
		Query: "q",
		Results: []retrieval.RankedResult{
			{ID: "a#0", Score: 0.7, Metadata: map[string]any{"file_name": "a.md", "text": "alpha"}},
			{ID: "b#2", Score: 0.4, Metadata: map[string]any{"file_name": "b.md", "text": "beta"}},
		},
	}

	var buf bytes.Buffer
	p := output.NewPrinter(&buf, output.FormatText, true)
	require.NoError(t, runSearch(context.Background(), p, fakeSearcher{resp: resp}, service.SearchRequest{Query: "q"}, false))
	assert.Contains(t, buf.String(), "Found 2 results")

	buf.Reset()
	require.NoError(t, runSearch(context.Background(), p, fakeSearcher{resp: resp}, service.SearchRequest{Query: "q"}, true))
	assert.Contains(t, buf.String(), "Result 2 Details")

	boom := errors.New("boom")
	assert.ErrorIs(t, runSearch(context.Background(), p, fakeSearcher{err: boom}, service.SearchRequest{}, false), boom)
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = parseLevel("loud")
	assert.Error(t, err)

	_, err = execute(t, "--log-level", "loud", "status")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	require.NoError(t, setupLogging(&buf, "info", true))
	slog.Info("ready", "port", 8080)
	slog.Debug("hidden")
	assert.Contains(t, buf.String(), `"msg":"ready"`)
	assert.Contains(t, buf.String(), `"port":8080`)
	assert.NotContains(t, buf.String(), "hidden")

	buf.Reset()
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, setupLogging(&buf, "", false))
	slog.Info("quiet")
	slog.Warn("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "msg=loud")
}
