package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"blockyard/internal/config"
	"blockyard/internal/domain"
	"blockyard/internal/jvm"
	"blockyard/internal/logstream"
	"blockyard/internal/metrics"
	"blockyard/internal/supervisor"
	"blockyard/internal/util"
)

// ServerLogFile is the captured console output inside paths.logs.
const ServerLogFile = "server.log"

const stateEventBuffer = 16

// ServerOptions carries optional collaborators of Server.
type ServerOptions struct {
	Metrics *metrics.Metrics
	// Command replaces the JVM launch, used by tests to run a fake server.
	Command supervisor.CommandFunc
}

// Server implements ServerManager on top of a supervisor.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	sup    *supervisor.Supervisor
	sink   io.WriteCloser
	events chan domain.State
}

var _ ServerManager = (*Server)(nil)

// NewServer creates a server service for cfg. Console output is mirrored to a
// rotating file when file logging is enabled.
func NewServer(cfg *config.Config, opts ServerOptions, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ready, err := regexp.Compile(cfg.Server.ReadyPattern)
	if err != nil {
		return nil, &domain.ConfigError{Field: "server.ready_pattern", Message: err.Error(), Err: err}
	}

	s := &Server{cfg: cfg, logger: logger, events: make(chan domain.State, stateEventBuffer)}
	if cfg.Logging.FileEnabled && cfg.Paths.Logs != "" {
		sink, err := logstream.RotatingFile(filepath.Join(cfg.Paths.Logs, ServerLogFile),
			cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays)
		if err != nil {
			return nil, fmt.Errorf("open server log: %w", err)
		}
		s.sink = sink
	}

	supOpts := supervisor.Options{
		StopCommand:    cfg.Server.StopCommand,
		StartupTimeout: cfg.StartupTimeout(),
		ReadyPattern:   ready,
		LogCapacity:    cfg.Server.LogBufferLines,
		Metrics:        opts.Metrics,
		OnStateChange:  s.publish,
		Command:        opts.Command,
	}
	if cfg.Server.SampleIntervalMS != 0 {
		supOpts.SampleInterval = time.Duration(cfg.Server.SampleIntervalMS) * time.Millisecond
	}
	if s.sink != nil {
		supOpts.LogSink = s.sink
	}
	s.sup = supervisor.New(cfg.ServerConfig(), supOpts, logger)
	return s, nil
}

// publish forwards a transition without blocking the supervisor.
func (s *Server) publish(_, to domain.State) {
	select {
	case s.events <- to:
	default:
		s.logger.Debug("State event dropped", zap.String("state", string(to)))
	}
}

// Events delivers every state the server enters. Slow readers miss events.
func (s *Server) Events() <-chan domain.State { return s.events }

// Supervisor exposes the underlying supervisor.
func (s *Server) Supervisor() *supervisor.Supervisor { return s.sup }

// Start launches the server and waits for readiness.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.DryRun {
		args, err := jvm.LaunchArgs(s.cfg.ServerConfig())
		if err != nil {
			return err
		}
		s.logger.Info("Dry run: would start server",
			zap.String("runtime", s.cfg.Server.RuntimePath), zap.Strings("args", args))
		return nil
	}
	jar := filepath.Join(s.cfg.Server.WorkingDir, s.cfg.Server.JarName)
	if _, err := os.Stat(jar); err != nil {
		return domain.NewServiceError("server", "start", fmt.Errorf("%w: %s", domain.ErrServerJarNotFound, jar))
	}
	return s.sup.Start(ctx)
}

// Stop stops the server within the configured grace period.
func (s *Server) Stop(ctx context.Context) (domain.StopOutcome, error) {
	if s.cfg.DryRun {
		s.logger.Info("Dry run: would stop server")
		return domain.StopNotRunning, nil
	}
	return s.sup.Stop(ctx, s.cfg.StopGrace())
}

// Restart stops and starts the server.
func (s *Server) Restart(ctx context.Context) error {
	if s.cfg.DryRun {
		s.logger.Info("Dry run: would restart server")
		return nil
	}
	return s.sup.Restart(ctx, s.cfg.StopGrace())
}

// Status samples the server.
func (s *Server) Status(ctx context.Context) domain.ServerStatus {
	return s.sup.Status(ctx)
}

// SendCommand relays a console command.
func (s *Server) SendCommand(text string) error {
	return s.sup.SendCommand(text)
}

// Tail returns the most recent console lines.
func (s *Server) Tail(n int) []domain.LogLine {
	return s.sup.Tail(n)
}

// Close releases the console log file. The server must be stopped.
func (s *Server) Close() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Close()
}

// HealthCheck verifies everything a launch needs.
func (s *Server) HealthCheck(ctx context.Context) []domain.HealthCheck {
	required := max(s.cfg.Server.RuntimeVersion, jvm.RequiredRuntime(s.cfg.Server.GameVersion))
	return []domain.HealthCheck{
		domain.CheckPath("Server directory", s.cfg.Server.WorkingDir),
		s.checkServerJAR(),
		s.checkFlags(),
		util.CheckJava(ctx, s.cfg.Server.RuntimePath, required),
		util.CheckDiskSpace(ctx, s.cfg.Server.WorkingDir),
	}
}

func (s *Server) checkServerJAR() domain.HealthCheck {
	jar := filepath.Join(s.cfg.Server.WorkingDir, s.cfg.Server.JarName)
	if info, err := os.Stat(jar); err == nil && !info.IsDir() {
		return domain.HealthCheck{
			Name:    "Server JAR",
			Status:  domain.StatusOK,
			Message: fmt.Sprintf("Found (%s)", humanize.IBytes(uint64(info.Size()))), //nolint:gosec // size is non-negative
		}
	}
	return domain.HealthCheck{
		Name:    "Server JAR",
		Status:  domain.StatusError,
		Message: "Not found: " + s.cfg.Server.JarName,
	}
}

func (s *Server) checkFlags() domain.HealthCheck {
	const name = "JVM flags"
	flags, err := jvm.Synthesize(s.cfg.ServerConfig())
	if err != nil {
		return domain.HealthCheck{Name: name, Status: domain.StatusError, Message: err.Error()}
	}
	check := domain.HealthCheck{
		Name:    name,
		Status:  domain.StatusOK,
		Message: fmt.Sprintf("%s profile, %d flags, -Xmx%dM", s.cfg.Server.FlagProfile, len(flags), jvm.MaxHeapFlag(flags)),
	}
	if rec := jvm.Recommend(s.cfg.ServerConfig()); rec != s.cfg.Server.FlagProfile {
		check.Status = domain.StatusWarn
		check.Message += fmt.Sprintf(" (%s recommended for %d MB)", rec, s.cfg.Server.RAMMB)
	}
	return check
}
