// Package supervisor runs a single game server process: it launches the JVM,
// drains its output into a bounded log buffer, detects readiness, relays
// console commands and escalates a graceful stop into a forced kill.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"blockyard/internal/domain"
	"blockyard/internal/jvm"
	"blockyard/internal/logstream"
	"blockyard/internal/metrics"
)

const (
	defaultStopCommand    = "stop"
	defaultStartupTimeout = 120 * time.Second
	defaultSampleInterval = 250 * time.Millisecond
	killWait              = 10 * time.Second
	readySubscriberSize   = 4096
)

// CommandFunc builds the command for a launch. args are the JVM arguments
// including the jar and, for game servers, nogui.
type CommandFunc func(cfg domain.ServerConfig, args []string) *exec.Cmd

// Options tunes a Supervisor. Zero values select defaults.
type Options struct {
	StopCommand    string
	StartupTimeout time.Duration
	ReadyPattern   *regexp.Regexp
	LogCapacity    int
	// SampleInterval is the CPU measurement window of Status. A negative
	// value reports the lifetime average without waiting.
	SampleInterval time.Duration

	// LogSink receives every captured line, typically a rotating file.
	LogSink io.Writer
	Metrics *metrics.Metrics

	// OnStateChange is called synchronously on every transition. It must
	// not block or call back into the Supervisor.
	OnStateChange func(from, to domain.State)

	Command CommandFunc
}

// Supervisor owns at most one server process at a time.
type Supervisor struct {
	cfg    domain.ServerConfig
	opts   Options
	logger *zap.Logger
	logs   *logstream.Buffer
	reader *logstream.Reader

	mu      sync.Mutex
	state   domain.State
	proc    *process
	lastErr error

	stdinMu sync.Mutex

	eventsMu sync.Mutex
	players  map[string]struct{}
	tps      float64
}

type process struct {
	cmd       *exec.Cmd
	pid       int
	stdin     io.WriteCloser
	startedAt time.Time
	lock      *dirLock
	done      chan struct{}
	exitErr   error
}

// New creates a stopped supervisor for cfg.
func New(cfg domain.ServerConfig, opts Options, logger *zap.Logger) *Supervisor {
	if opts.StopCommand == "" {
		opts.StopCommand = defaultStopCommand
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultStartupTimeout
	}
	if opts.ReadyPattern == nil {
		opts.ReadyPattern = regexp.MustCompile(domain.DefaultReadyPattern)
	}
	if opts.SampleInterval == 0 {
		opts.SampleInterval = defaultSampleInterval
	}
	if opts.Command == nil {
		opts.Command = javaCommand
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	buf := logstream.NewBuffer(opts.LogCapacity)
	return &Supervisor{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		logs:    buf,
		reader:  logstream.NewReader(buf, opts.LogSink, logger),
		state:   domain.StateStopped,
		players: make(map[string]struct{}),
	}
}

func javaCommand(cfg domain.ServerConfig, args []string) *exec.Cmd {
	runtime := cfg.RuntimePath
	if runtime == "" {
		runtime = "java"
	}
	return exec.Command(runtime, args...)
}

// Config returns the server configuration this supervisor launches.
func (s *Supervisor) Config() domain.ServerConfig { return s.cfg }

// Logs returns the captured output buffer.
func (s *Supervisor) Logs() *logstream.Buffer { return s.logs }

// State returns the current lifecycle state.
func (s *Supervisor) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tail returns up to n most recent output lines, oldest first.
func (s *Supervisor) Tail(n int) []domain.LogLine { return s.logs.Tail(n) }

// Subscribe follows output lines captured from now on. Callers must Close it.
func (s *Supervisor) Subscribe(size int) *logstream.Subscription { return s.logs.Subscribe(size) }

// Start launches the server and blocks until it is ready, it exits, the
// startup timeout elapses or ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return domain.NewServiceError("supervisor", "start", domain.ErrAlreadyRunning)
	}

	p, readySub, err := s.launch()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.proc = p
	s.lastErr = nil
	s.setState(domain.StateStarting)
	s.mu.Unlock()

	s.logger.Info("Server process launched",
		zap.Int("pid", p.pid),
		zap.String("type", string(s.cfg.Type)),
		zap.String("dir", s.cfg.WorkingDir))

	return s.awaitReady(ctx, p, readySub)
}

// launch starts the process. Caller holds s.mu.
func (s *Supervisor) launch() (*process, *logstream.Subscription, error) {
	args, err := jvm.LaunchArgs(s.cfg)
	if err != nil {
		return nil, nil, err
	}
	if info, err := os.Stat(s.cfg.WorkingDir); err != nil || !info.IsDir() {
		return nil, nil, domain.NewServiceError("supervisor", "start",
			fmt.Errorf("working directory %s is not usable", s.cfg.WorkingDir))
	}

	lock, err := acquireLock(s.cfg.WorkingDir)
	if err != nil {
		return nil, nil, domain.NewServiceError("supervisor", "start", err)
	}

	cmd := s.opts.Command(s.cfg, args)
	cmd.Dir = s.cfg.WorkingDir
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		lock.release()
		return nil, nil, domain.NewServiceError("supervisor", "start", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		lock.release()
		return nil, nil, domain.NewServiceError("supervisor", "start", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		lock.release()
		return nil, nil, domain.NewServiceError("supervisor", "start", err)
	}

	readySub := s.logs.Subscribe(readySubscriberSize)
	eventSub := s.logs.Subscribe(0)
	if err := cmd.Start(); err != nil {
		readySub.Close()
		eventSub.Close()
		lock.release()
		return nil, nil, domain.NewServiceError("supervisor", "start", err)
	}

	p := &process{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		stdin:     stdin,
		startedAt: time.Now(),
		lock:      lock,
		done:      make(chan struct{}),
	}

	s.eventsMu.Lock()
	clear(s.players)
	s.tps = 0
	s.eventsMu.Unlock()
	s.opts.Metrics.SetPlayers(0)

	go s.monitor(p, stdout, stderr)
	go s.watchEvents(p, eventSub)
	return p, readySub, nil
}

func (s *Supervisor) awaitReady(ctx context.Context, p *process, sub *logstream.Subscription) error {
	defer sub.Close()

	timer := time.NewTimer(s.opts.StartupTimeout)
	defer timer.Stop()

	for {
		select {
		case line := <-sub.C:
			if !s.opts.ReadyPattern.MatchString(line.Text) {
				continue
			}
			s.mu.Lock()
			ready := s.proc == p && s.state == domain.StateStarting
			if ready {
				s.setState(domain.StateRunning)
			}
			s.mu.Unlock()
			if !ready {
				<-p.done
				return domain.NewServiceError("supervisor", "start",
					fmt.Errorf("%w right after becoming ready: %v", domain.ErrCrashed, exitText(p.exitErr)))
			}
			elapsed := time.Since(p.startedAt)
			s.opts.Metrics.ObserveStart(elapsed.Seconds())
			s.logger.Info("Server is ready", zap.Duration("elapsed", elapsed))
			return nil

		case <-p.done:
			return domain.NewServiceError("supervisor", "start",
				fmt.Errorf("%w before becoming ready: %v", domain.ErrCrashed, exitText(p.exitErr)))

		case <-timer.C:
			s.abortStart(p, domain.ErrStartupTimeout, domain.StateCrashed)
			return domain.NewServiceError("supervisor", "start",
				fmt.Errorf("%w after %s", domain.ErrStartupTimeout, s.opts.StartupTimeout))

		case <-ctx.Done():
			s.abortStart(p, ctx.Err(), domain.StateStopping)
			return domain.NewServiceError("supervisor", "start", ctx.Err())
		}
	}
}

// abortStart kills a process that did not become ready and waits for it. A
// timed out start ends Crashed; a cancelled one ends Stopped.
func (s *Supervisor) abortStart(p *process, cause error, to domain.State) {
	s.mu.Lock()
	if s.proc == p && s.state == domain.StateStarting {
		if to == domain.StateCrashed {
			s.lastErr = cause
		}
		s.setState(to)
	}
	s.mu.Unlock()

	s.logger.Warn("Server failed to start, killing process group",
		zap.Int("pid", p.pid), zap.Error(cause))
	killGroup(p)
	select {
	case <-p.done:
	case <-time.After(killWait):
		s.logger.Error("Server process did not exit after kill", zap.Int("pid", p.pid))
	}
}

// monitor drains both streams, reaps the process and records the final state.
func (s *Supervisor) monitor(p *process, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	for stream, r := range map[domain.Stream]io.Reader{domain.Stdout: stdout, domain.Stderr: stderr} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.reader.Drain(r, stream); err != nil {
				s.logger.Debug("Output stream closed with error",
					zap.String("stream", string(stream)), zap.Error(err))
			}
		}()
	}
	wg.Wait()

	p.exitErr = p.cmd.Wait()
	p.lock.release()

	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
		switch s.state {
		case domain.StateStopping:
			s.setState(domain.StateStopped)
		case domain.StateStarting, domain.StateRunning:
			s.lastErr = fmt.Errorf("%w: %s", domain.ErrCrashed, exitText(p.exitErr))
			s.setState(domain.StateCrashed)
			s.logger.Error("Server process exited unexpectedly",
				zap.Int("pid", p.pid), zap.String("exit", exitText(p.exitErr)))
		}
	}
	s.mu.Unlock()
	close(p.done)
}

func (s *Supervisor) watchEvents(p *process, sub *logstream.Subscription) {
	defer sub.Close()
	for {
		select {
		case line := <-sub.C:
			s.observe(line)
		case <-p.done:
			return
		}
	}
}

func (s *Supervisor) observe(line domain.LogLine) {
	s.opts.Metrics.IncLogLine(line.Severity)

	ev := logstream.ParseEvent(line.Text)
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	switch ev.Type {
	case logstream.EventJoin:
		s.players[ev.Player] = struct{}{}
	case logstream.EventLeave:
		delete(s.players, ev.Player)
	case logstream.EventTPS:
		s.tps = ev.Value
		s.opts.Metrics.SetTPS(ev.Value)
		return
	default:
		return
	}
	s.opts.Metrics.SetPlayers(len(s.players))
}

// Stop asks the server to shut down with the stop command and waits up to
// grace before killing the whole process group.
func (s *Supervisor) Stop(ctx context.Context, grace time.Duration) (domain.StopOutcome, error) {
	s.mu.Lock()
	switch s.state {
	case domain.StateStopped, domain.StateCrashed:
		s.mu.Unlock()
		return domain.StopNotRunning, nil
	case domain.StateStarting, domain.StateStopping:
		st := s.state
		s.mu.Unlock()
		return "", domain.NewServiceError("supervisor", "stop",
			fmt.Errorf("%w: server is %s", domain.ErrInvalidState, st))
	}
	p := s.proc
	s.setState(domain.StateStopping)
	s.mu.Unlock()

	s.logger.Info("Stopping server", zap.Int("pid", p.pid), zap.Duration("grace", grace))
	if err := s.writeLine(p, s.opts.StopCommand); err != nil {
		s.logger.Warn("Failed to send stop command", zap.Error(err))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		s.logger.Info("Server stopped gracefully")
		return domain.StopGraceful, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn("Server did not stop in time, killing process group", zap.Int("pid", p.pid))
	killGroup(p)
	select {
	case <-p.done:
	case <-time.After(killWait):
		s.logger.Error("Server process did not exit after kill", zap.Int("pid", p.pid))
		s.mu.Lock()
		if s.proc == p {
			s.proc = nil
			s.setState(domain.StateStopped)
		}
		s.mu.Unlock()
	}
	return domain.StopForced, nil
}

// Restart stops a running server and starts it again. A stopped or crashed
// server is simply started.
func (s *Supervisor) Restart(ctx context.Context, grace time.Duration) error {
	outcome, err := s.Stop(ctx, grace)
	if err != nil {
		return err
	}
	s.logger.Info("Restarting server", zap.String("stop", string(outcome)))
	return s.Start(ctx)
}

// SendCommand writes one console command to the server's stdin.
func (s *Supervisor) SendCommand(text string) error {
	s.mu.Lock()
	p, st := s.proc, s.state
	s.mu.Unlock()
	if st != domain.StateRunning || p == nil {
		return domain.NewServiceError("supervisor", "send_command", domain.ErrNotRunning)
	}
	text = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(text))
	if text == "" {
		return nil
	}
	if err := s.writeLine(p, text); err != nil {
		return domain.NewServiceError("supervisor", "send_command", err)
	}
	return nil
}

func (s *Supervisor) writeLine(p *process, text string) error {
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	_, err := io.WriteString(p.stdin, text+"\n")
	return err
}

// Status samples the process and the working directory. Resource fields are
// zero when no process is alive.
func (s *Supervisor) Status(ctx context.Context) domain.ServerStatus {
	s.mu.Lock()
	st, p, lastErr := s.state, s.proc, s.lastErr
	s.mu.Unlock()

	status := domain.ServerStatus{State: st, CheckedAt: time.Now()}
	if lastErr != nil && st == domain.StateCrashed {
		status.LastError = lastErr.Error()
	}
	if p != nil && st.Active() {
		status.PID = p.pid
		status.StartedAt = p.startedAt
		status.Uptime = time.Since(p.startedAt).Truncate(time.Second)
		res, err := sampleProcess(ctx, p.pid, s.opts.SampleInterval)
		if err != nil {
			s.logger.Debug("Failed to sample server process", zap.Int("pid", p.pid), zap.Error(err))
		}
		status.Resources = res

		s.eventsMu.Lock()
		for name := range s.players {
			status.Players = append(status.Players, name)
		}
		status.TPS = s.tps
		s.eventsMu.Unlock()
		sort.Strings(status.Players)
	}
	status.Resources.DiskBytes = dirSize(s.cfg.WorkingDir)
	s.opts.Metrics.ObserveResources(status.Resources)
	return status
}

// setState records a transition. Caller holds s.mu.
func (s *Supervisor) setState(to domain.State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Debug("Server state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	s.opts.Metrics.RecordTransition(from, to)
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(from, to)
	}
}

func exitText(err error) string {
	if err == nil {
		return "exit status 0"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.String()
	}
	return err.Error()
}
