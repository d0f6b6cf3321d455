package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuScriptHub/Neon-RAG/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestQueryCmd_RequiresExactlyOneArg(t *testing.T) {
	_, err := execute(t, "query", "--corpus", "docs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestQueryCmd_Flags(t *testing.T) {
	flag := queryCmd.Flags().Lookup("top-k")
	require.NotNil(t, flag)
	assert.Equal(t, "k", flag.Shorthand)
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, queryCmd.Flags().Lookup("fallback-model"))
}

func TestEmbedPendingCmd_DefaultLimit(t *testing.T) {
	flag := embedPendingCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestChunksCmd_Subcommands(t *testing.T) {
	names := make([]string, 0, len(chunksCmd.Commands()))
	for _, c := range chunksCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"get", "delete"}, names)
}

func TestMCPServeCmd_HasPortFlag(t *testing.T) {
	flag := mcpServeCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "p", flag.Shorthand)
}

func TestFileTypeOf(t *testing.T) {
	tests := map[string]string{
		"report.PDF":  "pdf",
		"notes.docx":  "docx",
		"page.htm":    "html",
		"data.json":   "json",
		"rows.csv":    "csv",
		"readme.md":   "md",
		"plain.txt":   "text",
		"no-ext-file": "text",
	}
	for path, want := range tests {
		assert.Equal(t, want, fileTypeOf(path), path)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestTokenCmd_SignsValidToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := execute(t, "token", "user-7")
	require.NoError(t, err)

	claims, err := auth.NewJWTManager(auth.DefaultJWTConfig("cli-secret")).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.UserID)
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := execute(t, "token", "user-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestChunkCmd_PreviewWithMemoryStore(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("EMBEDDING_FALLBACK", "none")
	t.Setenv("RERANKER", "none")

	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("one two three four five"), 0o600))

	out, err := execute(t, "chunk", path, "--mode", "fixed", "--size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `"content": "one two"`)
	assert.Contains(t, out, `"content": "five"`)
}
