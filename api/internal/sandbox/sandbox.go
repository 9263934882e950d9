// Package sandbox implements the per-job execution engine: a cgroup v2
// hierarchy plus Linux namespace unsharing, credential drop, output
// capture, and timeout-based exit classification.
//
// Go's os/exec has no equivalent of a generic pre-exec hook (unlike a
// fork+exec language runtime that can run arbitrary code between fork and
// exec). The steps that a hook would otherwise perform in the child are
// instead split across syscall.SysProcAttr fields applied at clone(2) time
// (namespace unshare, credential drop) and parent-side calls issued
// immediately after Start() (RLIMIT_NOFILE via unix.Prlimit, cgroup
// attachment by writing the observed pid to cgroup.procs). See DESIGN.md
// for the full rationale.
package sandbox

import (
	"errors"
	"fmt"
)

// ErrSandboxInit is returned when the manager or job cgroup cannot be
// created (commonly: cgroup v2 unavailable, or the caller is not root).
var ErrSandboxInit = errors.New("sandbox init failed")

// ErrSandboxRun is returned when spawning or supervising the sandboxed
// process fails for a reason unrelated to the program's own exit status.
var ErrSandboxRun = errors.New("sandbox run failed")

func wrapInit(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrSandboxInit, err)
}

func wrapRun(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrSandboxRun, err)
}

// Command describes a single invocation to run inside a job's sandbox.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

const (
	cgroupRoot  = "/sys/fs/cgroup"
	managerName = "turbo_executor"
)

func jobCgroupName(id string) string {
	return "turbo-box-" + id
}
