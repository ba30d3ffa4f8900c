package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
)

// LaunchSpec describes how to run an instance's launch script
type LaunchSpec struct {
	// Shell interprets Script. When empty the script is executed directly.
	Shell            string   `yaml:"shell,omitempty"`
	Script           string   `yaml:"script"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"working_directory"`
}

// Child is a spawned process together with its standard streams. The
// process runs in its own process group so it can be signalled as a whole.
type Child struct {
	Process *os.Process
	Stdin   io.WriteCloser
	Stdout  io.ReadCloser
	Stderr  io.ReadCloser
}

func (c *Child) Pid() int {
	return c.Process.Pid
}

// Wait blocks until the process exits and returns its exit code, -1 when it
// was terminated by a signal.
func (c *Child) Wait() (int, error) {
	state, err := c.Process.Wait()
	if err != nil {
		return -1, err
	}
	return state.ExitCode(), nil
}

// CloseStreams releases the parent's ends of all pipes
func (c *Child) CloseStreams() {
	for _, closer := range []io.Closer{c.Stdin, c.Stdout, c.Stderr} {
		if closer != nil {
			closer.Close()
		}
	}
}

type LaunchCmd func(ctx context.Context, spec LaunchSpec) (*Child, error)

// NewStdLaunchCmd returns a LaunchCmd backed by os/exec. The child is not
// bound to ctx: a request context ending must not kill the server it started.
func NewStdLaunchCmd(logger logging.Logger) LaunchCmd {
	return func(ctx context.Context, spec LaunchSpec) (*Child, error) {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelledError("launch cancelled", err)
		}

		if err := ValidateLaunchSpec(spec); err != nil {
			logger.Errorf("Launch spec validation failed, spec: %+v, error: %v", spec, err)
			return nil, err
		}

		scriptPath := filepath.Join(spec.WorkingDirectory, spec.Script)

		var cmd *exec.Cmd
		if spec.Shell == "" {
			if err := ensureExecutable(scriptPath); err != nil {
				return nil, errors.NewLaunchError("failed to ensure script is executable", err).WithContext("script", scriptPath)
			}
			cmd = exec.Command(scriptPath, spec.Args...)
		} else {
			cmd = exec.Command(spec.Shell, append([]string{spec.Script}, spec.Args...)...)
		}
		cmd.Dir = spec.WorkingDirectory
		cmd.Env = append(os.Environ(), spec.Environment...)

		setupProcessAttributes(cmd)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, errors.NewLaunchError("failed to create stdin pipe", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, errors.NewLaunchError("failed to create stdout pipe", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			stdin.Close()
			stdout.Close()
			return nil, errors.NewLaunchError("failed to create stderr pipe", err)
		}

		logger.Debugf("Starting process, shell: '%s', script: '%s', args: %v, working directory: '%s'",
			spec.Shell, spec.Script, spec.Args, spec.WorkingDirectory)

		if err := cmd.Start(); err != nil {
			stdin.Close()
			stdout.Close()
			stderr.Close()
			return nil, errors.NewLaunchError("failed to start the process", err).WithContext("script", scriptPath)
		}

		logger.Infof("Started process, script: '%s', PID: %d", scriptPath, cmd.Process.Pid)

		return &Child{
			Process: cmd.Process,
			Stdin:   stdin,
			Stdout:  stdout,
			Stderr:  stderr,
		}, nil
	}
}

// ensureExecutable sets the execute bits on path when none are set
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}

	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewIOError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}
