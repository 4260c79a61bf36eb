package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/fedrun/cli/config"
	"github.com/justapithecus/fedrun/cli/reader"
	"github.com/justapithecus/fedrun/runtime"
	"github.com/justapithecus/fedrun/types"
)

const sharedLua = `
exports.ids = { "shared" }
exports.modules = {
  ["./src/shared"] = function(module, exports, require)
    exports.greet = function(name) return "hello " .. name end
    exports.add = function(a, b) return a + b end
  end,
}
`

// newTestApp builds the fedrun command tree writing to out. Exit errors
// are returned instead of terminating the test binary.
func newTestApp(out *bytes.Buffer) *cli.App {
	return &cli.App{
		Name:           "fedrun",
		Writer:         out,
		ErrWriter:      out,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			ImportCommand(),
			RemotesCommand(),
			InspectCommand(),
			HistoryCommand(),
			VersionCommand(types.Version, "test"),
		},
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newTestApp(&out).RunContext(t.Context(), append([]string{"fedrun"}, args...))
	return out.String(), err
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return exitError
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeConfig lays out a path-based remote under a temp output dir and
// returns the config path.
func writeConfig(t *testing.T, journalDir string) string {
	t.Helper()
	dir := t.TempDir()
	dist := filepath.Join(dir, "dist")
	writeFile(t, filepath.Join(dist, "app2", "shared.lua"), sharedLua)

	cfg := "name: app1\n" +
		"output_dir: " + dist + "\n" +
		"log_level: error\n" +
		"remotes:\n" +
		"  app2:\n" +
		"    location: app2\n" +
		"    exposes:\n" +
		"      ./shared: { module: ./src/shared, chunk: shared }\n" +
		"  cdn:\n" +
		"    location: cdn@http://cdn.local/\n" +
		"    fallbacks: [http://backup.local/]\n"
	if journalDir != "" {
		cfg += "journal:\n  backend: fs\n  path: " + journalDir + "\n"
	}

	path := filepath.Join(dir, "fedrun.yaml")
	writeFile(t, path, cfg)
	return path
}

func TestSharedFlags_IncludesTUIAndConfig(t *testing.T) {
	var names []string
	for _, f := range SharedFlags() {
		names = append(names, f.Names()[0])
	}
	for _, want := range []string{"config", "format", "no-color", "tui"} {
		if !slices.Contains(names, want) {
			t.Errorf("SharedFlags missing --%s", want)
		}
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// This test documents the function exists and can be called.
	// Actual TTY behavior depends on runtime environment.
	_ = isStderrTTY()
}

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"fed", `"quoted"`, "42", "true", `[1,"a"]`, `{"k":"v"}`, "not json{"})
	want := []any{"fed", "quoted", float64(42), true, []any{float64(1), "a"}, map[string]any{"k": "v"}, "not json{"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEventType(t *testing.T) {
	if got, err := parseEventType("chunk_failed"); err != nil || got != types.LoadEventChunkFailed {
		t.Errorf("parseEventType(chunk_failed) = %q, %v", got, err)
	}
	if _, err := parseEventType("run_started"); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestRemotes_JSON(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := run(t, "remotes", "--config", cfg, "--format", "json")
	if err != nil {
		t.Fatalf("remotes: %v", err)
	}

	var items []reader.RemoteListItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	want := []reader.RemoteListItem{
		{Name: "app2", Kind: "path", Location: "app2", ShareScope: "default", Exposes: 1},
		{Name: "cdn", Kind: "url", Location: "http://cdn.local/", ShareScope: "default", Fallbacks: 1},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("remotes mismatch (-want +got):\n%s", diff)
	}
}

func TestRemotes_TUIRejected(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, "remotes", "--config", cfg, "--tui")
	if got := exitCode(err); got != exitUsage {
		t.Errorf("exit code = %d, want %d", got, exitUsage)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := run(t, "remotes", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	if got := exitCode(err); got != exitUsage {
		t.Errorf("exit code = %d, want %d", got, exitUsage)
	}
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, "import", "--config", cfg, "--log-level", "loud", "app2", "./shared")
	if got := exitCode(err); got != exitUsage {
		t.Errorf("exit code = %d, want %d", got, exitUsage)
	}
}

func TestImport_CallAndHistory(t *testing.T) {
	journal := t.TempDir()
	cfg := writeConfig(t, journal)

	out, err := run(t, "import",
		"--config", cfg, "--format", "json",
		"--call", "greet", "--arg", "fed",
		"app2", "./shared")
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	var result reader.ImportResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	want := reader.ImportResult{
		Remote:  "app2",
		Expose:  "./shared",
		Module:  "./src/shared",
		Kind:    "lua",
		Exports: []string{"add", "greet"},
		Call:    "greet",
		Results: []any{"hello fed"},
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("import mismatch (-want +got):\n%s", diff)
	}

	out, err = run(t, "history", "--config", cfg, "--format", "json", "--remote", "app2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var items []reader.HistoryItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	var gotTypes []string
	for _, it := range items {
		gotTypes = append(gotTypes, it.Type)
		if it.Remote != "app2" {
			t.Errorf("history item remote = %q, want app2", it.Remote)
		}
	}
	if !slices.Contains(gotTypes, string(types.LoadEventChunkInstalled)) {
		t.Errorf("history types = %v, want a chunk_installed event", gotTypes)
	}
	if !slices.Contains(gotTypes, string(types.LoadEventModuleImported)) {
		t.Errorf("history types = %v, want a module_imported event", gotTypes)
	}

	out, err = run(t, "history", "--config", cfg, "--format", "json", "--type", "chunk_installed", "--limit", "1")
	if err != nil {
		t.Fatalf("history --type: %v", err)
	}
	items = nil
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(items) != 1 || items[0].Chunk != "app2/shared" {
		t.Errorf("history --type chunk_installed = %+v, want one app2/shared event", items)
	}
}

func TestImport_NumericArgs(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := run(t, "import",
		"--config", cfg, "--format", "json",
		"--call", "add", "--arg", "2", "--arg", "3",
		"app2", "shared")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	var result reader.ImportResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if diff := cmp.Diff([]any{float64(5)}, result.Results); diff != "" {
		t.Errorf("add results mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_UsageErrors(t *testing.T) {
	cfg := writeConfig(t, "")
	tests := []struct {
		name string
		args []string
	}{
		{"missing path", []string{"import", "--config", cfg, "app2"}},
		{"tui without stats", []string{"import", "--config", cfg, "--tui", "app2", "./shared"}},
		{"arg without call", []string{"import", "--config", cfg, "--arg", "x", "app2", "./shared"}},
		{"bad format", []string{"import", "--config", cfg, "--format", "xml", "app2", "./shared"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if got := exitCode(err); got != exitUsage {
				t.Errorf("exit code = %d, want %d (err=%v)", got, exitUsage, err)
			}
		})
	}
}

func TestImport_UnknownRemoteFails(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, "import", "--config", cfg, "nope", "./shared")
	if got := exitCode(err); got != exitError {
		t.Errorf("exit code = %d, want %d", got, exitError)
	}
}

func TestInspectRemote_JSON(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := run(t, "inspect", "remote", "--config", cfg, "--format", "json",
		"--public-path", "http://cdn.local/", "app2")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	var resp reader.InspectRemoteResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if resp.Name != "app2" || resp.Kind != "path" {
		t.Errorf("inspect = %s/%s, want app2/path", resp.Name, resp.Kind)
	}
	if len(resp.Exposes) != 1 {
		t.Fatalf("exposes = %d, want 1", len(resp.Exposes))
	}
	e := resp.Exposes[0]
	if e.Chunk != "shared" || e.State != "unloaded" {
		t.Errorf("expose = %+v, want chunk shared unloaded", e)
	}
	if diff := cmp.Diff([]string{"http://cdn.local/app2/shared.lua"}, e.URLs); diff != "" {
		t.Errorf("urls mismatch (-want +got):\n%s", diff)
	}
}

func TestInspectRemote_Unknown(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, "inspect", "remote", "--config", cfg, "nope")
	if got := exitCode(err); got != exitUsage {
		t.Errorf("exit code = %d, want %d", got, exitUsage)
	}
}

func TestHistory_RequiresJournal(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, "history", "--config", cfg)
	if got := exitCode(err); got != exitUsage {
		t.Errorf("exit code = %d, want %d", got, exitUsage)
	}
}

func TestHistory_EmptyJournal(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	out, err := run(t, "history", "--config", cfg, "--format", "json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var items []reader.HistoryItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(items) != 0 {
		t.Errorf("history = %d items, want 0", len(items))
	}
}

func TestVersion_JSON(t *testing.T) {
	out, err := run(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	want := VersionResponse{Version: types.Version, ContractVersion: types.ContractVersion, Commit: "test"}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("version mismatch (-want +got):\n%s", diff)
	}
}

func TestVersion_TUIRejected(t *testing.T) {
	_, err := run(t, "version", "--tui")
	if got := exitCode(err); got != exitUsage {
		t.Errorf("exit code = %d, want %d", got, exitUsage)
	}
}

func TestBuildAdapter(t *testing.T) {
	retries := 0
	tests := []struct {
		name    string
		cfg     config.AdapterConfig
		wantErr bool
	}{
		{"webhook", config.AdapterConfig{Type: "webhook", URL: "http://hooks.local/installed"}, false},
		{"webhook msgpack", config.AdapterConfig{Type: "webhook", URL: "http://hooks.local/installed", Encoding: "msgpack", Retries: &retries}, false},
		{"redis", config.AdapterConfig{Type: "redis", URL: "redis://localhost:6379/0", Channel: "loads"}, false},
		{"unknown type", config.AdapterConfig{Type: "sns", URL: "http://x"}, true},
		{"bad encoding", config.AdapterConfig{Type: "webhook", URL: "http://x", Encoding: "xml"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := buildAdapter(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildAdapter: %v", err)
			}
			if err := a.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}

func TestJournalFactory(t *testing.T) {
	if _, err := journalFactory(t.Context(), config.JournalConfig{Backend: "fs", Path: t.TempDir()}); err != nil {
		t.Errorf("fs backend: %v", err)
	}
	if _, err := journalFactory(t.Context(), config.JournalConfig{Backend: "s3", Path: ""}); err == nil {
		t.Error("expected error for s3 backend without bucket")
	}
	if _, err := journalFactory(t.Context(), config.JournalConfig{Backend: "gcs", Path: "x"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestImport_InvalidRemoteTableIsUsageError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fedrun.yaml")
	writeFile(t, path, "remotes:\n  app2:\n    location: app2\n    fallbacks: [not-a-url]\n")

	_, err := run(t, "import", "--config", path, "app2", "./shared")
	if got := exitCode(err); got != exitUsage {
		t.Errorf("exit code = %d, want %d (err=%v)", got, exitUsage, err)
	}
}

func TestImport_RuntimeStartFailureIsError(t *testing.T) {
	orig := newRuntime
	t.Cleanup(func() { newRuntime = orig })
	newRuntime = func(context.Context, runtime.Config) (*runtime.Runtime, error) {
		return nil, errors.New("sandbox: open lua state: out of memory")
	}

	cfg := writeConfig(t, "")
	_, err := run(t, "import", "--config", cfg, "app2", "./shared")
	if got := exitCode(err); got != exitError {
		t.Errorf("exit code = %d, want %d (err=%v)", got, exitError, err)
	}
}
