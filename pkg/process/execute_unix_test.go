//go:build !windows

package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "start.sh"), []byte(body), 0644))
}

func TestLaunch_EchoesStdinAndExitCode(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "read line\necho \"got $line\"\necho oops >&2\nexit 3\n")

	launch := NewStdLaunchCmd(logging.NewNopLogger())
	child, err := launch(context.Background(), LaunchSpec{Shell: "/bin/sh", Script: "start.sh", WorkingDirectory: dir})
	require.NoError(t, err)
	assert.Greater(t, child.Pid(), 0)

	_, err = io.WriteString(child.Stdin, "hello\n")
	require.NoError(t, err)

	stdout, err := io.ReadAll(child.Stdout)
	require.NoError(t, err)
	stderr, err := io.ReadAll(child.Stderr)
	require.NoError(t, err)

	code, err := child.Wait()
	require.NoError(t, err)
	child.CloseStreams()

	assert.Equal(t, "got hello\n", string(stdout))
	assert.Equal(t, "oops\n", string(stderr))
	assert.Equal(t, 3, code)
}

func TestLaunch_RunsScriptDirectlyWithoutShell(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "#!/bin/sh\npwd\n")

	launch := NewStdLaunchCmd(logging.NewNopLogger())
	child, err := launch(context.Background(), LaunchSpec{Script: "start.sh", WorkingDirectory: dir})
	require.NoError(t, err)

	out, err := io.ReadAll(child.Stdout)
	require.NoError(t, err)
	_, err = child.Wait()
	require.NoError(t, err)
	child.CloseStreams()

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, strings.TrimSpace(string(out)))

	info, err := os.Stat(filepath.Join(dir, "start.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0111)
}

func TestLaunch_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 0\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStdLaunchCmd(logging.NewNopLogger())(ctx, LaunchSpec{Shell: "/bin/sh", Script: "start.sh", WorkingDirectory: dir})
	assert.True(t, errors.IsCancelledError(err))
}

func TestLaunch_MissingShell(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 0\n")

	_, err := NewStdLaunchCmd(logging.NewNopLogger())(context.Background(),
		LaunchSpec{Shell: filepath.Join(dir, "no-such-shell"), Script: "start.sh", WorkingDirectory: dir})
	assert.True(t, errors.IsLaunchError(err))
}

func TestSendTerminationSignal_ReachesProcessGroup(t *testing.T) {
	dir := t.TempDir()
	// The grandchild prints its pid, then both wait on sleep.
	writeScript(t, dir, "sleep 30 &\necho $!\nwait\n")

	child, err := NewStdLaunchCmd(logging.NewNopLogger())(context.Background(),
		LaunchSpec{Shell: "/bin/sh", Script: "start.sh", WorkingDirectory: dir})
	require.NoError(t, err)
	defer child.CloseStreams()

	line, err := bufio.NewReader(child.Stdout).ReadString('\n')
	require.NoError(t, err)
	grandchild, err := ValidatePID(strings.TrimSpace(line))
	require.NoError(t, err)

	require.NoError(t, SendTerminationSignal(child.Pid(), syscall.SIGTERM))

	done := make(chan int, 1)
	go func() {
		code, _ := child.Wait()
		done <- code
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		KillProcessGroup(child.Pid())
		t.Fatal("child did not exit after SIGTERM")
	}

	// The grandchild was in the same group. Once reparented it may linger
	// as a zombie if nothing reaps it, which also counts as gone.
	assert.Eventually(t, func() bool {
		return !stillAlive(grandchild)
	}, 5*time.Second, 20*time.Millisecond)
}

// stillAlive reports whether pid exists and is not a zombie
func stillAlive(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return false
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	// Format: pid (comm) state ...
	fields := strings.Fields(string(stat[strings.LastIndex(string(stat), ")")+1:]))
	return len(fields) == 0 || fields[0] != "Z"
}

func TestSendTerminationSignal_GoneGroupIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 0\n")

	child, err := NewStdLaunchCmd(logging.NewNopLogger())(context.Background(),
		LaunchSpec{Shell: "/bin/sh", Script: "start.sh", WorkingDirectory: dir})
	require.NoError(t, err)
	_, err = child.Wait()
	require.NoError(t, err)
	child.CloseStreams()

	assert.NoError(t, KillProcessGroup(child.Pid()))
}
