//go:build !linux

package sandbox

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/turbo-run/turbo/api/internal/types"
)

// Sandbox is the non-Linux stub: cgroup v2 and namespace unsharing are
// Linux-only kernel facilities, so Init and Run always fail.
type Sandbox struct {
	logger *logrus.Entry
}

func New(logger *logrus.Logger) *Sandbox {
	return &Sandbox{logger: logger.WithField("component", "sandbox")}
}

func (s *Sandbox) Init(id string) error {
	return wrapInit(fmt.Errorf("cgroup v2 sandboxing is only supported on linux"))
}

func (s *Sandbox) Run(ctx context.Context, id string, command Command, limits types.ExecutionLimits) (types.StageResult, error) {
	return types.StageResult{}, wrapRun(fmt.Errorf("cgroup v2 sandboxing is only supported on linux"))
}

func (s *Sandbox) Cleanup(id string) error {
	return nil
}
