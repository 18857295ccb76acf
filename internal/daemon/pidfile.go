package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// writePIDFile writes the current process ID to path. An empty path is a no-op.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}

	if old, err := ReadPIDFile(path); err == nil && old != os.Getpid() && syscall.Kill(old, 0) == nil {
		return fmt.Errorf("daemon already running with PID %d (%s)", old, path)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}
	slog.Debug("PID file written", "path", path, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func removePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	slog.Debug("PID file removed", "path", path)
	return nil
}

// ReadPIDFile returns the process ID recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}

// Shutdown sends SIGTERM to the daemon recorded in pidFile and waits up
// to timeout for the PID file to disappear.
func Shutdown(pidFile string, timeout time.Duration) error {
	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pidFile); os.IsNotExist(err) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon %d did not exit within %s", pid, timeout)
}
