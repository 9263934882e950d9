//go:build linux

package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/turbo-run/turbo/api/internal/types"
)

// Sandbox manages the manager cgroup and per-job child cgroups under
// /sys/fs/cgroup/turbo_executor, and runs commands inside them with
// namespace unsharing, credential drop, and resource accounting.
type Sandbox struct {
	logger *logrus.Entry
}

// New creates a sandbox engine. The manager cgroup is created lazily on
// the first Init call.
func New(logger *logrus.Logger) *Sandbox {
	return &Sandbox{logger: logger.WithField("component", "sandbox")}
}

func (s *Sandbox) managerPath() string {
	return filepath.Join(cgroupRoot, managerName)
}

func (s *Sandbox) jobPath(id string) string {
	return filepath.Join(s.managerPath(), jobCgroupName(id))
}

func writeCgroupFile(path, value string) error {
	return os.WriteFile(path, []byte(value), 0644)
}

func readCgroupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Init ensures the manager cgroup exists with +cpu +memory +pids enabled,
// then creates this job's child cgroup with default limits.
func (s *Sandbox) Init(id string) error {
	if err := os.MkdirAll(s.managerPath(), 0755); err != nil {
		return wrapInit(fmt.Errorf("create manager cgroup: %w", err))
	}

	subtreeControl := filepath.Join(s.managerPath(), "cgroup.subtree_control")
	if err := writeCgroupFile(subtreeControl, "+cpu +memory +pids"); err != nil {
		s.logger.WithError(err).Warn("failed to enable cgroup controllers, continuing")
	}

	jobPath := s.jobPath(id)
	if err := os.MkdirAll(jobPath, 0755); err != nil {
		return wrapInit(fmt.Errorf("create job cgroup %s: %w", jobPath, err))
	}

	defaults := types.DefaultExecutionLimits()
	if err := writeCgroupFile(filepath.Join(jobPath, "memory.max"), strconv.FormatInt(defaults.MemoryLimitBytes, 10)); err != nil {
		s.logger.WithError(err).Warn("failed to set default memory.max")
	}
	if err := writeCgroupFile(filepath.Join(jobPath, "memory.swap.max"), "0"); err != nil {
		s.logger.WithError(err).Warn("failed to set default memory.swap.max")
	}
	if err := writeCgroupFile(filepath.Join(jobPath, "pids.max"), strconv.FormatInt(defaults.PidLimit, 10)); err != nil {
		s.logger.WithError(err).Warn("failed to set default pids.max")
	}

	return nil
}

// Run spawns cmd under the job cgroup, applies the requested limits,
// races its completion against the timeout, and returns a classified
// StageResult.
func (s *Sandbox) Run(ctx context.Context, id string, command Command, limits types.ExecutionLimits) (types.StageResult, error) {
	jobPath := s.jobPath(id)

	if err := writeCgroupFile(filepath.Join(jobPath, "memory.max"), strconv.FormatInt(limits.MemoryLimitBytes, 10)); err != nil {
		s.logger.WithError(err).Warn("failed to apply memory.max")
	}
	if err := writeCgroupFile(filepath.Join(jobPath, "memory.swap.max"), "0"); err != nil {
		s.logger.WithError(err).Warn("failed to apply memory.swap.max")
	}
	if err := writeCgroupFile(filepath.Join(jobPath, "pids.max"), strconv.FormatInt(limits.PidLimit, 10)); err != nil {
		s.logger.WithError(err).Warn("failed to apply pids.max")
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Env = command.Env
	cmd.Dir = command.Dir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return types.StageResult{}, wrapRun(err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return types.StageResult{}, wrapRun(err)
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWIPC | unix.CLONE_NEWUTS,
	}
	if limits.GID != nil || limits.UID != nil {
		cred := &syscall.Credential{}
		if limits.GID != nil {
			cred.Gid = uint32(*limits.GID)
		}
		if limits.UID != nil {
			cred.Uid = uint32(*limits.UID)
		}
		cmd.SysProcAttr.Credential = cred
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return types.StageResult{}, wrapRun(fmt.Errorf("spawn: %w", err))
	}

	pid := cmd.Process.Pid
	if err := writeCgroupFile(filepath.Join(jobPath, "cgroup.procs"), strconv.Itoa(pid)); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return types.StageResult{}, wrapRun(fmt.Errorf("attach to job cgroup: %w", err))
	}
	if limits.FileLimit > 0 {
		rlim := unix.Rlimit{Cur: uint64(limits.FileLimit), Max: uint64(limits.FileLimit)}
		if err := unix.Prlimit(pid, unix.RLIMIT_NOFILE, &rlim, nil); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return types.StageResult{}, wrapRun(fmt.Errorf("set RLIMIT_NOFILE: %w", err))
		}
	}

	outCh := make(chan string, 1)
	errCh := make(chan string, 1)
	go func() { outCh <- readCapped(stdoutPipe, limits.OutputLimitBytes) }()
	go func() { errCh <- readCapped(stderrPipe, limits.OutputLimitBytes) }()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timeout := time.Duration(limits.TimeoutMs) * time.Millisecond
	var (
		status   types.StageStatus
		exitCode *int
		signal   string
		waitErr  error
	)

	select {
	case waitErr = <-waitCh:
		status, exitCode, signal = classifyExit(waitErr)
	case <-time.After(timeout):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		if err := writeCgroupFile(filepath.Join(jobPath, "cgroup.kill"), "1"); err != nil {
			s.logger.WithError(err).Warn("failed to write cgroup.kill on timeout")
		}
		<-waitCh
		status = types.StatusTimeLimitExceeded
		signal = "SIGKILL"
		exitCode = nil
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = writeCgroupFile(filepath.Join(jobPath, "cgroup.kill"), "1")
		<-waitCh
		status = types.StatusRuntimeError
		signal = "SIGKILL"
	}

	execTime := time.Since(start)
	stdout := <-outCh
	stderr := <-errCh

	memUsage, cpuTime := s.readAccounting(jobPath)

	return types.StageResult{
		Status:        status,
		Stdout:        stdout,
		Stderr:        stderr,
		ExitCode:      exitCode,
		Signal:        signal,
		MemoryUsage:   memUsage,
		CPUTime:       cpuTime,
		ExecutionTime: execTime,
	}, nil
}

func classifyExit(waitErr error) (types.StageStatus, *int, string) {
	if waitErr == nil {
		code := 0
		return types.StatusSuccess, &code, ""
	}

	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return types.StatusRuntimeError, nil, ""
	}

	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		code := exitErr.ExitCode()
		return types.StatusRuntimeError, &code, ""
	}

	if ws.Signaled() {
		sig := ws.Signal()
		if sig == syscall.SIGKILL {
			return types.StatusMemoryLimitExceeded, nil, "SIGKILL"
		}
		return types.StatusRuntimeError, nil, signalToString(int(sig))
	}

	code := ws.ExitStatus()
	return types.StatusRuntimeError, &code, ""
}

// readAccounting reads memory.current and cpu.stat's usage_usec line from
// the job cgroup after the process has terminated.
func (s *Sandbox) readAccounting(jobPath string) (int64, time.Duration) {
	var memUsage int64
	if raw, err := readCgroupFile(filepath.Join(jobPath, "memory.current")); err == nil {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			memUsage = v
		}
	}

	var cpuTime time.Duration
	if f, err := os.Open(filepath.Join(jobPath, "cpu.stat")); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "usage_usec ") {
				if v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "usage_usec")), 10, 64); err == nil {
					cpuTime = time.Duration(v) * time.Microsecond
				}
				break
			}
		}
	}

	return memUsage, cpuTime
}

// Cleanup removes the job cgroup, forcing descendants out via cgroup.kill
// and retrying once if the directory was non-empty.
func (s *Sandbox) Cleanup(id string) error {
	jobPath := s.jobPath(id)

	if err := os.Remove(jobPath); err == nil {
		return nil
	}

	if err := writeCgroupFile(filepath.Join(jobPath, "cgroup.kill"), "1"); err != nil {
		s.logger.WithError(err).Warn("failed to write cgroup.kill during cleanup")
	}
	time.Sleep(50 * time.Millisecond)

	if err := os.Remove(jobPath); err != nil {
		s.logger.WithError(err).Warnf("failed to remove job cgroup %s after retry", jobPath)
	}
	return nil
}

// signalToString converts a signal number to its conventional SIG name.
func signalToString(sig int) string {
	names := map[int]string{
		1: "SIGHUP", 2: "SIGINT", 3: "SIGQUIT", 4: "SIGILL", 5: "SIGTRAP",
		6: "SIGABRT", 7: "SIGBUS", 8: "SIGFPE", 9: "SIGKILL", 10: "SIGUSR1",
		11: "SIGSEGV", 12: "SIGUSR2", 13: "SIGPIPE", 14: "SIGALRM", 15: "SIGTERM",
	}
	if name, ok := names[sig]; ok {
		return name
	}
	return fmt.Sprintf("SIG%d", sig)
}

// readCapped drains r to EOF (so the child never blocks on a full pipe)
// but keeps only the first capBytes of output; truncation is silent.
func readCapped(r io.Reader, capBytes int) string {
	if capBytes <= 0 {
		_, _ = io.Copy(io.Discard, r)
		return ""
	}

	buf := make([]byte, 0, capBytes)
	limited := io.LimitReader(r, int64(capBytes))
	data, _ := io.ReadAll(limited)
	buf = append(buf, data...)

	// Drain anything beyond the cap so the process doesn't block.
	_, _ = io.Copy(io.Discard, r)

	return string(buf)
}
