package cli

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockyard/internal/config"
	"blockyard/internal/domain"
	"blockyard/internal/resolver"
	"blockyard/internal/service"
	"blockyard/internal/ui"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cfgFile, outputPath, force, dryRun, debug = "", "", false, false, false
	archivePath, checkOnly = "", false
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	return rootCmd.Execute()
}

func writeConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.WorkingDir = filepath.Join(tmp, "server")
	cfg.Paths.Logs = filepath.Join(tmp, "logs")
	cfg.Logging.FileEnabled = false
	cfg.Logging.ConsoleEnabled = false
	require.NoError(t, os.MkdirAll(cfg.Server.WorkingDir, 0o750))
	path := filepath.Join(tmp, "config.toml")
	require.NoError(t, cfg.SaveConfig(path))
	return path, cfg
}

func TestInitConfigCreatesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, execute(t, "init-config", "-o", out))

	cfg, err := config.LoadConfig(out)
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Server.ServerType)
}

func TestInitConfigKeepsExisting(t *testing.T) {
	out := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(out, []byte("debug = true\n"), 0o600))

	require.NoError(t, execute(t, "init-config", "-o", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "debug = true\n", string(data))

	require.NoError(t, execute(t, "init-config", "-o", out, "--force"))
	data, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[server]")
}

func TestServerFlagsCommand(t *testing.T) {
	path, _ := writeConfig(t)
	assert.NoError(t, execute(t, "-c", path, "server", "flags"))
}

func TestPluginsListEmpty(t *testing.T) {
	path, _ := writeConfig(t)
	assert.NoError(t, execute(t, "-c", path, "plugins", "list"))
}

func TestPluginsRemoveUnknown(t *testing.T) {
	path, _ := writeConfig(t)
	assert.Error(t, execute(t, "-c", path, "plugins", "remove", "luckperms"))
}

func TestPluginsPlanRejectsBadArgs(t *testing.T) {
	path, _ := writeConfig(t)
	assert.ErrorContains(t, execute(t, "-c", path, "plugins", "plan", "vault:nowhere"), "unknown source")
}

func TestPluginsUpdateNothingInstalled(t *testing.T) {
	path, _ := writeConfig(t)
	assert.NoError(t, execute(t, "-c", path, "plugins", "update", "--check"))
	assert.ErrorContains(t, execute(t, "-c", path, "plugins", "update", "vault"), "vault is not installed")
}

func TestPluginsInstallFile(t *testing.T) {
	path, cfg := writeConfig(t)
	archive := filepath.Join(t.TempDir(), "Hello.jar")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("plugin.yml")
	require.NoError(t, err)
	_, err = w.Write([]byte("name: Hello\nversion: 1.0.0\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o600))

	assert.Error(t, execute(t, "-c", path, "plugins", "install", "--file", archive, "extra"))
	require.NoError(t, execute(t, "-c", path, "plugins", "install", "--file", archive))
	assert.FileExists(t, filepath.Join(cfg.PluginsDir(), "Hello.jar"))
	assert.Error(t, execute(t, "-c", path, "plugins", "install"))
}

func TestParseRequested(t *testing.T) {
	tests := []struct {
		arg     string
		want    resolver.Requested
		wantErr bool
	}{
		{arg: "LuckPerms", want: resolver.Requested{Name: "LuckPerms"}},
		{arg: "vault@1.7.3", want: resolver.Requested{Name: "vault", Version: "1.7.3"}},
		{arg: "essentialsx:Hangar", want: resolver.Requested{Name: "essentialsx", Source: "hangar"}},
		{arg: "worldedit@7.3.0:modrinth", want: resolver.Requested{Name: "worldedit", Version: "7.3.0", Source: "modrinth"}},
		{arg: "@1.0", wantErr: true},
		{arg: "vault@", wantErr: true},
		{arg: "vault:bukkitdev", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseRequested(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeServer struct {
	service.ServerManager
	sent     []string
	restarts int
	status   domain.ServerStatus
	lines    []domain.LogLine
}

func (f *fakeServer) SendCommand(text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeServer) Restart(context.Context) error {
	f.restarts++
	return nil
}

func (f *fakeServer) Status(context.Context) domain.ServerStatus { return f.status }

func (f *fakeServer) Tail(n int) []domain.LogLine {
	return f.lines[max(len(f.lines)-n, 0):]
}

type fakeNotifier struct {
	service.Notifier
	warned int
	errs   []string
}

func (f *fakeNotifier) SendRestartWarnings(context.Context, service.Broadcaster) error {
	f.warned++
	return nil
}
func (f *fakeNotifier) SendSuccess(context.Context, string) error { return nil }
func (f *fakeNotifier) SendError(_ context.Context, msg string) error {
	f.errs = append(f.errs, msg)
	return nil
}

func newConsole(warn bool) (*console, *fakeServer, *fakeNotifier, *bytes.Buffer) {
	out := &bytes.Buffer{}
	srv := &fakeServer{
		status: domain.ServerStatus{State: domain.StateRunning, PID: 99},
		lines: []domain.LogLine{
			{Text: "one"}, {Text: "two"}, {Text: "three"},
		},
	}
	n := &fakeNotifier{}
	return &console{server: srv, notifier: n, term: ui.NewTerminalWithWriter(out, out, false), stopCmd: "stop", warn: warn}, srv, n, out
}

func TestConsoleForwardsCommands(t *testing.T) {
	c, srv, _, _ := newConsole(false)
	ctx := context.Background()
	require.NoError(t, c.handle(ctx, "say hi"))
	require.NoError(t, c.handle(ctx, "   "))
	assert.Equal(t, []string{"say hi"}, srv.sent)
}

func TestConsoleLocalVerbs(t *testing.T) {
	c, srv, n, out := newConsole(true)
	ctx := context.Background()

	require.NoError(t, c.handle(ctx, ":status"))
	assert.Contains(t, out.String(), "running")
	assert.Contains(t, out.String(), "99")

	out.Reset()
	require.NoError(t, c.handle(ctx, ":tail 2"))
	assert.Equal(t, "two\nthree\n", out.String())

	out.Reset()
	require.NoError(t, c.handle(ctx, ":tail x"))
	assert.Contains(t, out.String(), "usage")

	require.NoError(t, c.handle(ctx, ":restart"))
	assert.Equal(t, 1, srv.restarts)
	assert.Equal(t, 1, n.warned)

	require.NoError(t, c.handle(ctx, ":bogus"))
	assert.Empty(t, srv.sent)
}

func TestConsoleStop(t *testing.T) {
	c, srv, _, _ := newConsole(false)
	ctx := context.Background()
	assert.ErrorIs(t, c.handle(ctx, ":stop"), errStopRequested)
	assert.ErrorIs(t, c.handle(ctx, "stop"), errStopRequested)
	assert.Empty(t, srv.sent)
}

func TestConsoleRunEndsOnStopOrContext(t *testing.T) {
	c, srv, _, _ := newConsole(false)
	lines := make(chan string, 3)
	lines <- "list"
	lines <- ":stop"
	lines <- "never"
	assert.ErrorIs(t, c.run(context.Background(), lines), errStopRequested)
	assert.Equal(t, []string{"list"}, srv.sent)

	closed := make(chan string)
	close(closed)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.run(ctx, closed))
}

func TestDisplayHealthSummary(t *testing.T) {
	out := &bytes.Buffer{}
	a := &AppContainer{Terminal: ui.NewTerminalWithWriter(out, out, false)}

	require.NoError(t, displayHealthSummary(a, []domain.HealthCheck{{Status: domain.StatusOK}, {Status: domain.StatusWarn}}))
	assert.Contains(t, out.String(), "1 warnings, 1 passed")

	assert.EqualError(t, displayHealthSummary(a, []domain.HealthCheck{{Status: domain.StatusError}}), "1 health checks failed")
}
