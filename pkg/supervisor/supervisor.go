package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-panel/pkg/broadcast"
	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
	"github.com/core-tools/hsu-panel/pkg/process"
	"github.com/core-tools/hsu-panel/pkg/processfile"
)

const outputChunkSize = 4096

// run is one spawned child. done is closed exactly once, when the run is
// finished: exit observed, launch failed or termination forced.
type run struct {
	instance  string
	child     *process.Child
	done      chan struct{}
	startedAt time.Time
}

// Supervisor owns the single game-server child process. Every phase
// transition happens under mutex; spawning, signalling and waiting happen
// outside it. Lifecycle events are published under mutex so observers see
// them in transition order, which means observers must never call back
// into the supervisor from Notify.
type Supervisor struct {
	options   Options
	signal    syscall.Signal
	publisher broadcast.Publisher
	logger    logging.Logger

	phase          Phase
	instance       string
	current        *run
	stopRequested  bool
	restartPending bool
	restartCancel  chan struct{}

	mutex      sync.Mutex
	inputMutex sync.Mutex
}

func NewSupervisor(options Options, publisher broadcast.Publisher, logger logging.Logger) (*Supervisor, error) {
	options.Config.setDefaults()

	if options.RootDir == "" {
		return nil, errors.NewValidationError("root directory is required", nil)
	}
	// Children run with their instance directory as working directory
	rootDir, err := filepath.Abs(options.RootDir)
	if err != nil {
		return nil, errors.NewValidationError("invalid root directory", err).WithContext("root_dir", options.RootDir)
	}
	options.RootDir = rootDir

	signal, err := process.ParseSignal(options.TerminationSignal)
	if err != nil {
		return nil, err
	}

	if options.Launch == nil {
		options.Launch = process.NewStdLaunchCmd(logger)
	}
	if options.Sweep == nil {
		options.Sweep = process.NewPkillSweeper(options.SweepTimeout, logger)
	}
	if options.RunRecordID == "" {
		options.RunRecordID = DefaultRunRecordID
	}

	return &Supervisor{
		options:   options,
		signal:    signal,
		publisher: publisher,
		logger:    logger,
		phase:     PhaseIdle,
	}, nil
}

func (s *Supervisor) Status() Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	status := Status{Phase: s.phase, Instance: s.instance}
	if s.current != nil {
		status.StartedAt = s.current.startedAt
		if s.current.child != nil {
			status.PID = s.current.child.Pid()
		}
	}
	return status
}

// IsActive reports whether name is the instance occupying the supervisor,
// in any phase other than idle
func (s *Supervisor) IsActive(name string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.phase != PhaseIdle && s.instance == name
}

// Start launches the launch script of instance name. It fails with
// AlreadyRunning unless the supervisor is idle; nothing is queued.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	return s.startInternal(ctx, name, false)
}

func (s *Supervisor) startInternal(ctx context.Context, name string, fromRestart bool) error {
	r, err := s.planStart(name, fromRestart)
	if err != nil {
		return err
	}

	dir := filepath.Join(s.options.RootDir, name)
	if _, err := os.Stat(filepath.Join(dir, s.options.LaunchScript)); err != nil {
		s.abortStart(r, "")
		return errors.NewNotFoundError(fmt.Sprintf("launch script for server '%s' not found", name), err).WithContext("instance", name)
	}

	s.logger.Infof("Starting server, instance: %s, dir: %s", name, dir)

	child, err := s.options.Launch(ctx, process.LaunchSpec{
		Shell:            s.options.Shell,
		Script:           s.options.LaunchScript,
		WorkingDirectory: dir,
	})
	if err != nil {
		s.logger.Errorf("Failed to launch server, instance: %s, error: %v", name, err)
		s.abortStart(r, fmt.Sprintf("Failed to start server '%s': %v", name, err))
		return errors.NewLaunchError(fmt.Sprintf("failed to start server '%s'", name), err).WithContext("instance", name)
	}

	killNow := s.confirmStart(r, child)

	if s.options.RunRecords != nil {
		if err := s.options.RunRecords.WriteRunRecord(s.options.RunRecordID, processfile.RunRecord{PID: child.Pid(), Instance: name}); err != nil {
			s.logger.Warnf("Failed to record running server, instance: %s, error: %v", name, err)
		}
	}

	go s.watch(r)

	if killNow {
		s.logger.Infof("Stop requested during startup, killing server, instance: %s, pid: %d", name, child.Pid())
		if err := process.KillProcessGroup(child.Pid()); err != nil {
			s.logger.Warnf("Failed to kill server, pid: %d, error: %v", child.Pid(), err)
		}
	}

	return nil
}

func (s *Supervisor) planStart(name string, fromRestart bool) (*run, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if fromRestart {
		if s.phase != PhaseRestarting || !s.restartPending {
			return nil, errors.NewCancelledError("restart cancelled", nil).WithContext("instance", name)
		}
		s.restartPending = false
		s.restartCancel = nil
	} else if s.phase != PhaseIdle {
		return nil, errors.NewAlreadyRunningError(
			fmt.Sprintf("a server is already running (%s)", s.instance), nil).
			WithContext("instance", s.instance).WithContext("phase", string(s.phase))
	}

	r := &run{instance: name, done: make(chan struct{})}
	s.current = r
	s.instance = name
	s.phase = PhaseStarting
	s.stopRequested = false
	s.logger.Debugf("State transition: -> starting, instance: %s", name)
	return r, nil
}

// abortStart returns to idle after a start that never produced a child.
// A non-empty reason is published along with the stopped event.
func (s *Supervisor) abortStart(r *run, reason string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.current == r {
		s.current = nil
		s.instance = ""
		s.phase = PhaseIdle
		s.stopRequested = false
		s.logger.Debugf("State transition: starting -> idle, instance: %s", r.instance)
	}
	close(r.done)

	if reason != "" {
		s.publisher.Publish(broadcast.SystemOutput(reason))
		s.publisher.Publish(broadcast.StoppedEvent(r.instance))
	}
}

// confirmStart records the spawned child and reports whether a stop
// arrived while it was being spawned
func (s *Supervisor) confirmStart(r *run, child *process.Child) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r.child = child
	r.startedAt = time.Now()

	killNow := s.stopRequested
	if killNow {
		s.phase = PhaseStopping
	} else {
		s.phase = PhaseRunning
	}
	s.logger.Debugf("State transition: starting -> %s, instance: %s, pid: %d", s.phase, r.instance, child.Pid())

	s.publisher.Publish(broadcast.StartedEvent(r.instance))
	return killNow
}

// watch pumps the child's output and finishes the run when it exits
func (s *Supervisor) watch(r *run) {
	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(&pumps, r.child.Stdout, broadcast.StreamStdout)
	go s.pump(&pumps, r.child.Stderr, broadcast.StreamStderr)

	code, err := r.child.Wait()
	if err != nil {
		s.logger.Warnf("Wait failed, instance: %s, pid: %d, error: %v", r.instance, r.child.Pid(), err)
	}

	// Output written just before exit is still in the pipes. A grandchild
	// holding them open must not delay the stopped event forever.
	drained := make(chan struct{})
	go func() {
		pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.options.OutputDrainTimeout):
		s.logger.Warnf("Output still open after exit, instance: %s", r.instance)
	}
	r.child.CloseStreams()

	var message string
	if code < 0 {
		message = fmt.Sprintf("Server '%s' was terminated", r.instance)
	} else {
		message = fmt.Sprintf("Server '%s' exited with code %d", r.instance, code)
	}
	s.finishRun(r, message)
}

func (s *Supervisor) pump(wg *sync.WaitGroup, reader io.Reader, stream broadcast.Stream) {
	defer wg.Done()
	buf := make([]byte, outputChunkSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			s.publisher.Publish(broadcast.OutputEvent(stream, string(buf[:n])))
		}
		if err != nil {
			return
		}
	}
}

// finishRun moves the supervisor out of r. Only the first call for a run
// has any effect, so the stopped event is published once per run.
func (s *Supervisor) finishRun(r *run, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.current != r {
		return
	}
	s.current = nil
	s.stopRequested = false
	if s.restartPending {
		s.phase = PhaseRestarting
	} else {
		s.phase = PhaseIdle
		s.instance = ""
	}
	close(r.done)
	s.logger.Infof("%s, state: %s", message, s.phase)

	if s.options.RunRecords != nil {
		if err := s.options.RunRecords.RemovePIDFile(s.options.RunRecordID); err != nil {
			s.logger.Warnf("Failed to clear run record, error: %v", err)
		}
	}

	s.publisher.Publish(broadcast.SystemOutput(message))
	s.publisher.Publish(broadcast.StoppedEvent(r.instance))
}

type stopAction int

const (
	stopNone stopAction = iota
	stopWait
	stopTerminate
)

// Stop stops the running server. It is idempotent: on an idle supervisor
// it succeeds at once. onStopped, when set, runs after the supervisor has
// left the run, including in the idle case.
func (s *Supervisor) Stop(ctx context.Context, onStopped func()) error {
	action, r := s.planStop()

	switch action {
	case stopWait:
		select {
		case <-r.done:
		case <-ctx.Done():
			return errors.NewCancelledError("stop wait cancelled", ctx.Err())
		}
	case stopTerminate:
		s.terminate(ctx, r)
	}

	if onStopped != nil {
		onStopped()
	}
	return nil
}

func (s *Supervisor) planStop() (stopAction, *run) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// An explicit stop always wins over a pending restart
	s.cancelRestartLocked()

	switch s.phase {
	case PhaseIdle:
		s.logger.Debugf("Stop requested while idle")
		return stopNone, nil
	case PhaseRestarting:
		s.logger.Infof("Pending restart cancelled, instance: %s", s.instance)
		s.phase = PhaseIdle
		s.instance = ""
		s.publisher.Publish(broadcast.SystemOutput("Pending restart cancelled"))
		return stopNone, nil
	case PhaseStarting:
		s.stopRequested = true
		return stopWait, s.current
	case PhaseStopping:
		return stopWait, s.current
	}

	s.phase = PhaseStopping
	s.logger.Debugf("State transition: running -> stopping, instance: %s", s.instance)
	return stopTerminate, s.current
}

func (s *Supervisor) cancelRestartLocked() {
	s.restartPending = false
	if s.restartCancel != nil {
		close(s.restartCancel)
		s.restartCancel = nil
	}
}

// terminate escalates from the stop command to SIGKILL until r finishes.
// If even SIGKILL is not observed within the kill timeout, the run is
// abandoned so the supervisor cannot wedge.
func (s *Supervisor) terminate(ctx context.Context, r *run) {
	pid := r.child.Pid()

	if s.options.StopCommand != "" {
		s.logger.Infof("Sending stop command, instance: %s, pid: %d", r.instance, pid)
		if err := s.writeInput(r.child, s.options.StopCommand); err != nil {
			s.logger.Warnf("Failed to send stop command, pid: %d, error: %v", pid, err)
		} else if s.waitDone(ctx, r, s.options.StopCommandTimeout) {
			return
		}
	}

	s.logger.Infof("Sending termination signal, instance: %s, pid: %d, signal: %v", r.instance, pid, s.signal)
	if err := process.SendTerminationSignal(pid, s.signal); err != nil {
		s.logger.Warnf("Failed to send termination signal, pid: %d, error: %v", pid, err)
	}

	// Best effort: catch server processes that left the process group
	if err := s.options.Sweep(ctx, s.options.SweepPatterns); err != nil {
		s.logger.Warnf("Orphan sweep failed, error: %v", err)
	}

	if s.waitDone(ctx, r, s.options.GracefulTimeout) {
		s.logger.Infof("Server terminated gracefully, instance: %s, pid: %d", r.instance, pid)
		return
	}

	s.logger.Warnf("Force killing server, instance: %s, pid: %d", r.instance, pid)
	if err := process.KillProcessGroup(pid); err != nil {
		s.logger.Warnf("Failed to kill server, pid: %d, error: %v", pid, err)
	}

	select {
	case <-r.done:
		return
	case <-time.After(s.options.KillTimeout):
	}

	s.logger.Errorf("Server did not exit after kill, abandoning, instance: %s, pid: %d", r.instance, pid)
	s.finishRun(r, fmt.Sprintf("Server '%s' did not exit after kill, abandoned", r.instance))
}

func (s *Supervisor) waitDone(ctx context.Context, r *run, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	return false
}

// Restart stops the running server and starts the same instance again
// once its exit is confirmed and the quiescence delay has passed. It fails
// with NotRunning unless a server is running. The sequence is detached
// from ctx: if ctx ends first Restart returns and the restart continues.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mutex.Lock()
	if s.phase != PhaseRunning {
		phase := s.phase
		s.mutex.Unlock()
		return errors.NewNotRunningError("no server is running", nil).WithContext("phase", string(phase))
	}
	r := s.current
	name := s.instance
	cancel := make(chan struct{})
	s.restartPending = true
	s.restartCancel = cancel
	s.phase = PhaseStopping
	s.logger.Infof("Restarting server, instance: %s", name)
	s.publisher.Publish(broadcast.SystemOutput(fmt.Sprintf("Restarting server '%s'", name)))
	s.mutex.Unlock()

	result := make(chan error, 1)
	go func() {
		result <- s.restartSequence(r, name, cancel)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return errors.NewCancelledError("stopped waiting for restart", ctx.Err()).WithContext("instance", name)
	}
}

func (s *Supervisor) restartSequence(r *run, name string, cancel chan struct{}) error {
	stopped := make(chan struct{})
	go func() {
		s.terminate(context.Background(), r)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(s.options.RestartTimeout):
		s.logger.Errorf("Restart timed out waiting for exit, forcing, instance: %s", name)
		if err := process.KillProcessGroup(r.child.Pid()); err != nil {
			s.logger.Warnf("Failed to kill server, error: %v", err)
		}
		s.finishRun(r, fmt.Sprintf("Server '%s' did not stop in time for restart", name))
	}

	if s.options.QuiescenceDelay > 0 {
		timer := time.NewTimer(s.options.QuiescenceDelay)
		select {
		case <-timer.C:
		case <-cancel:
			timer.Stop()
			return errors.NewCancelledError("restart cancelled", nil).WithContext("instance", name)
		}
	}

	if err := s.startInternal(context.Background(), name, true); err != nil {
		if !errors.IsCancelledError(err) {
			s.publisher.Publish(broadcast.SystemOutput(fmt.Sprintf("Restart of server '%s' failed: %v", name, err)))
		}
		return err
	}
	return nil
}

// SendInput writes text and a newline to the running server's console
func (s *Supervisor) SendInput(text string) error {
	s.mutex.Lock()
	if s.phase != PhaseRunning || s.current == nil || s.current.child == nil {
		s.mutex.Unlock()
		return errors.NewNotRunningError("no server is running", nil)
	}
	child := s.current.child
	s.mutex.Unlock()

	if err := s.writeInput(child, text); err != nil {
		return errors.NewIOError("failed to write to server console", err)
	}
	return nil
}

func (s *Supervisor) writeInput(child *process.Child, text string) error {
	s.inputMutex.Lock()
	defer s.inputMutex.Unlock()
	_, err := io.WriteString(child.Stdin, text+"\n")
	return err
}

// Shutdown stops any running server and cancels a pending restart. Used
// when the panel itself exits.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.logger.Infof("Shutting down supervisor")
	return s.Stop(ctx, nil)
}
