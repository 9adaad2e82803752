package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sca/pkg/types"
)

func TestWireErrorCode(t *testing.T) {
	assert.Equal(t, "ERR_VECTOR_INVALID_FILTER_EXPR", WireErrorCode(types.CodeInvalidFilterExpr))
	assert.Equal(t, "ERR_CORE_CANCELLED", WireErrorCode(types.CodeCancelled))
	assert.Equal(t, "ERR_CONFIG_MISSING_INDEX", WireErrorCode(types.CodeMissingIndex))
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitCancelled, ExitCode(types.Cancelled("stop")))
	assert.Equal(t, ExitBadUsage, ExitCode(types.Expected(types.CodeInvalidValue, "bad")))
	assert.Equal(t, ExitBadUsage, ExitCode(types.Expected(types.CodeInvalidFilterExpr, "bad")))
	assert.Equal(t, ExitFailure, ExitCode(types.Unexpected(types.CodeIO, "io", types.Retriable)))
}

func TestPrinterFailureJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	p := NewPrinter(OutputJSON, &stdout, &stderr)

	exit := p.Failure(types.Expected(types.CodeInvalidFilterExpr, "invalid filter expression").
		WithMeta("apiKey", "secret"))
	assert.Equal(t, ExitBadUsage, exit)

	var body map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &body))
	assert.Equal(t, false, body["ok"])

	errBody := body["error"].(map[string]any)
	assert.Equal(t, "ERR_VECTOR_INVALID_FILTER_EXPR", errBody["code"])
	assert.Equal(t, "EXPECTED", errBody["kind"])
	assert.Nil(t, errBody["class"])

	meta := errBody["meta"].(map[string]any)
	assert.Equal(t, "[REDACTED]", meta["apiKey"])

	// The stderr line is structured and single.
	assert.Contains(t, stderr.String(), "vector:invalid_filter_expr")
}

func TestPrinterSuccessTextMode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	p := NewPrinter(OutputText, &stdout, &stderr)

	require.NoError(t, p.Success(map[string]int{"n": 1}, func(w io.Writer) {
		_, _ = w.Write([]byte("done\n"))
	}))
	assert.Equal(t, "done\n", stdout.String())
}

func runCLI(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	c := New(&stdout, &stderr)
	code := c.Execute(append(args, "--codebase", dir))
	return code, stdout.String(), stderr.String()
}

func TestInitIndexSearchFlow(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.rs"), []byte("fn main() {}\n"), 0o644))

	code, _, _ := runCLI(t, root, "init")
	require.Equal(t, ExitOK, code)

	code, _, _ = runCLI(t, root, "index")
	require.Equal(t, ExitOK, code)

	code, stdout, _ := runCLI(t, root, "search", "--query", "main function", "--output", "json")
	require.Equal(t, ExitOK, code)

	var body struct {
		OK   bool `json:"ok"`
		Data []struct {
			ChunkID      string  `json:"chunkId"`
			RelativePath string  `json:"relativePath"`
			StartLine    int     `json:"startLine"`
			EndLine      int     `json:"endLine"`
			Language     string  `json:"language"`
			Score        float32 `json:"score"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.True(t, body.OK)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "src/main.rs", body.Data[0].RelativePath)
	assert.Equal(t, 1, body.Data[0].StartLine)
	assert.Equal(t, 1, body.Data[0].EndLine)
	assert.Equal(t, "rust", body.Data[0].Language)
	assert.GreaterOrEqual(t, body.Data[0].Score, float32(0))
}

func TestSearchInvalidFilterExitsBadUsage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	code, _, _ := runCLI(t, root, "index")
	require.Equal(t, ExitOK, code)

	code, stdout, _ := runCLI(t, root,
		"search", "--query", "x",
		"--filter-expr", "language=='rust' && startLine > 10",
		"--output", "json")
	assert.Equal(t, ExitBadUsage, code)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "ERR_VECTOR_INVALID_FILTER_EXPR", errBody["code"])
	assert.Equal(t, "EXPECTED", errBody["kind"])
}

func TestSearchWithoutIndex(t *testing.T) {
	root := t.TempDir()

	code, stdout, _ := runCLI(t, root, "search", "--query", "anything", "--output", "json")
	assert.Equal(t, ExitFailure, code)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "ERR_CONFIG_MISSING_INDEX", errBody["code"])
}

func TestClearRemovesIndex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	code, _, _ := runCLI(t, root, "index")
	require.Equal(t, ExitOK, code)

	code, _, _ = runCLI(t, root, "clear")
	require.Equal(t, ExitOK, code)

	code, stdout, _ := runCLI(t, root, "status", "--output", "json")
	require.Equal(t, ExitOK, code)

	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.Equal(t, false, body.Data["indexed"])
}

func TestStatusAfterIndex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	code, _, _ := runCLI(t, root, "index")
	require.Equal(t, ExitOK, code)

	code, stdout, _ := runCLI(t, root, "status", "--output", "json")
	require.Equal(t, ExitOK, code)

	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.Equal(t, true, body.Data["indexed"])
	assert.Equal(t, float64(1), body.Data["vectors"])
	assert.NotEmpty(t, body.Data["rootHash"])
}

func TestReindexReportsChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	mainPath := filepath.Join(root, "src", "main.rs")
	require.NoError(t, os.WriteFile(mainPath, []byte("fn main() {}\n"), 0o644))

	code, _, _ := runCLI(t, root, "index")
	require.Equal(t, ExitOK, code)

	// Modify one file, add another.
	require.NoError(t, os.WriteFile(mainPath, []byte("fn main() {\n    println!(\"hi\");\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "lib.rs"), []byte("pub fn lib() {}\n"), 0o644))

	code, stdout, _ := runCLI(t, root, "reindex", "--output", "json")
	require.Equal(t, ExitOK, code)

	var body struct {
		Data struct {
			Added    int `json:"added"`
			Modified int `json:"modified"`
			Removed  int `json:"removed"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.Equal(t, 1, body.Data.Added)
	assert.Equal(t, 1, body.Data.Modified)
	assert.Equal(t, 0, body.Data.Removed)
}

func TestConfigValidate(t *testing.T) {
	root := t.TempDir()
	code, _, _ := runCLI(t, root, "config", "validate")
	assert.Equal(t, ExitOK, code)

	// A broken config is a validation failure.
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".context"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".context", "config.toml"),
		[]byte("version = 7\n"), 0o644))
	code, _, _ = runCLI(t, root, "config", "validate")
	assert.Equal(t, ExitBadUsage, code)
}

func TestAgentModeForcesNDJSON(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	code, _, _ := runCLI(t, root, "index")
	require.Equal(t, ExitOK, code)

	code, stdout, _ := runCLI(t, root, "search", "--query", "main", "--agent")
	require.Equal(t, ExitOK, code)

	// NDJSON: one JSON object on a single line.
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.Equal(t, true, body["ok"])
}

func TestInfo(t *testing.T) {
	code, stdout, _ := runCLI(t, t.TempDir(), "info", "--output", "json")
	require.Equal(t, ExitOK, code)

	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.Equal(t, Version, body.Data["version"])
}
