package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blockyard/internal/domain"
	"blockyard/internal/jvm"
	"blockyard/internal/metrics"
	"blockyard/internal/service"
	"blockyard/internal/ui"
)

const defaultTailLines = 20

var warnBeforeRestart bool

var errStopRequested = errors.New("stop requested")

// serverCmd groups all lifecycle-related commands
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Minecraft server management",
}

// serverRunCmd supervises the server in the foreground until it is stopped
var serverRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Minecraft server in the foreground",
	Long: `Run the Minecraft server in the foreground.

Lines typed on stdin are sent to the server console. Lines starting with a
colon are handled locally:

  :status     show state, resources and players
  :tail N     print the last N captured lines
  :restart    restart the server (with --warn, announce it first)
  :stop       stop the server and exit

SIGINT and SIGTERM stop the server gracefully.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := App(cmd)
		srv, err := a.Server()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, a, srv, os.Stdin)
	},
}

// serverFlagsCmd prints the synthesized launch command
var serverFlagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Print the JVM launch command",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := App(cmd)
		sc := a.Config.ServerConfig()
		args, err := jvm.LaunchArgs(sc)
		if err != nil {
			return err
		}
		a.Terminal.Section(fmt.Sprintf("Launch command (%s profile)", a.Config.Server.FlagProfile))
		a.Terminal.Println(strings.Join(append([]string{sc.RuntimePath}, args...), " "))
		if req := jvm.RequiredRuntime(sc.GameVersion); req > sc.RuntimeVersion {
			a.Terminal.Warning(fmt.Sprintf("Minecraft %s needs Java %d, runtime_version is %d",
				sc.GameVersion, req, sc.RuntimeVersion))
		}
		if rec := jvm.Recommend(sc); rec != sc.FlagProfile {
			a.Terminal.Info(fmt.Sprintf("%s profile recommended for %d MB on Java %d (flag_profile = %q)",
				rec, sc.RAMMB, sc.RuntimeVersion, sc.FlagProfile))
		}
		return nil
	},
}

// runServer starts srv, relays console input and blocks until a stop is
// requested, ctx is cancelled or the server crashes.
func runServer(ctx context.Context, a *AppContainer, srv *service.Server, stdin io.Reader) error {
	a.Terminal.Banner("blockyard")
	a.Terminal.Info(fmt.Sprintf("Starting %s %s...", a.Config.Server.ServerType, a.Config.Server.GameVersion))

	logs := srv.Supervisor().Subscribe(1024)
	followDone := make(chan struct{})
	go func() {
		defer close(followDone)
		for line := range logs.C {
			a.Terminal.LogLine(line)
		}
	}()
	defer func() {
		logs.Close()
		<-followDone
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if a.Metrics != nil {
		g.Go(func() error { return serveMetrics(gctx, a) })
	}

	if err := srv.Start(ctx); err != nil {
		a.Terminal.Error(fmt.Sprintf("Failed to start server: %v", err))
		if nerr := a.Notification.SendError(context.WithoutCancel(ctx), fmt.Sprintf("Server failed to start: %v", err)); nerr != nil {
			a.Logger.Warn("Failed to send notification", zap.Error(nerr))
		}
		cancel()
		_ = g.Wait()
		return err
	}
	if a.Config.DryRun {
		a.Terminal.Info("Dry run: server not launched")
		cancel()
		return g.Wait()
	}

	a.Terminal.Success("Server is ready")
	if err := a.Notification.SendSuccess(ctx, "Server started"); err != nil {
		a.Logger.Warn("Failed to send notification", zap.Error(err))
	}

	con := &console{
		server:   srv,
		notifier: a.Notification,
		term:     a.Terminal,
		stopCmd:  a.Config.Server.StopCommand,
		warn:     warnBeforeRestart,
	}
	lines := readLines(stdin)
	g.Go(func() error { return con.run(gctx, lines) })
	g.Go(func() error { return watchCrash(gctx, a, srv) })

	runErr := g.Wait()
	if errors.Is(runErr, errStopRequested) {
		runErr = nil
	}
	if srv.Supervisor().State().Active() {
		a.Terminal.Info("Stopping server...")
		outcome, err := srv.Stop(context.WithoutCancel(ctx))
		if err != nil {
			a.Terminal.Error(fmt.Sprintf("Failed to stop server: %v", err))
			return errors.Join(runErr, err)
		}
		a.Terminal.Success(fmt.Sprintf("Server stopped (%s)", outcome))
	}
	return runErr
}

// readLines forwards stdin lines until EOF, then closes the channel.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// watchCrash reports an unexpected exit and ends the run with an error.
func watchCrash(ctx context.Context, a *AppContainer, srv *service.Server) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-srv.Events():
			if st != domain.StateCrashed {
				continue
			}
			status := srv.Status(ctx)
			a.Terminal.Error(fmt.Sprintf("Server crashed: %s", status.LastError))
			if err := a.Notification.SendCrash(context.WithoutCancel(ctx), status); err != nil {
				a.Logger.Warn("Failed to send crash notification", zap.Error(err))
			}
			return fmt.Errorf("server crashed: %s", status.LastError)
		}
	}
}

// serveMetrics exposes /metrics on the configured address until ctx ends.
func serveMetrics(ctx context.Context, a *AppContainer) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := a.Metrics.Register(reg); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	hs := &http.Server{Addr: a.Config.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	a.Logger.Info("Serving metrics", zap.String("addr", a.Config.Metrics.Listen))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics endpoint: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}

// console dispatches stdin lines to the server or to local verbs.
type console struct {
	server   service.ServerManager
	notifier service.Notifier
	term     *ui.Terminal
	stopCmd  string
	warn     bool
}

func (c *console) run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := c.handle(ctx, line); err != nil {
				return err
			}
		}
	}
}

// handle runs one console line. The server's own stop command is treated as
// :stop so the exit is not reported as a crash.
func (c *console) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if c.stopCmd != "" && line == c.stopCmd {
		line = ":stop"
	}
	if !strings.HasPrefix(line, ":") {
		if err := c.server.SendCommand(line); err != nil {
			c.term.Error(fmt.Sprintf("Command not sent: %v", err))
		}
		return nil
	}

	verb, arg, _ := strings.Cut(line[1:], " ")
	switch verb {
	case "status":
		c.term.StatusPanel(c.server.Status(ctx))
	case "tail":
		n := defaultTailLines
		if arg = strings.TrimSpace(arg); arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v <= 0 {
				c.term.Warning("usage: :tail N")
				return nil
			}
			n = v
		}
		for _, l := range c.server.Tail(n) {
			c.term.LogLine(l)
		}
	case "restart":
		c.restart(ctx)
	case "stop":
		return errStopRequested
	case "help":
		c.term.Println(":status  :tail N  :restart  :stop")
	default:
		c.term.Warning(fmt.Sprintf("Unknown console verb %q, try :help", verb))
	}
	return nil
}

func (c *console) restart(ctx context.Context) {
	if c.warn {
		c.term.Info("Sending restart warnings...")
		if err := c.notifier.SendRestartWarnings(ctx, c.server); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.term.Warning(fmt.Sprintf("Restart warnings failed: %v", err))
		}
	}
	c.term.Info("Restarting server...")
	if err := c.server.Restart(ctx); err != nil {
		c.term.Error(fmt.Sprintf("Failed to restart: %v", err))
		_ = c.notifier.SendError(ctx, fmt.Sprintf("Server restart failed: %v", err))
		return
	}
	c.term.Success("Server restarted")
	_ = c.notifier.SendSuccess(ctx, "Server restarted")
}
