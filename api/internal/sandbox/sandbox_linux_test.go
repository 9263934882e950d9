//go:build linux

package sandbox

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbo-run/turbo/api/internal/types"
)

func TestReadCappedTruncatesSilently(t *testing.T) {
	r := strings.NewReader(strings.Repeat("a", 4096))
	out := readCapped(r, 16)
	assert.Equal(t, 16, len(out))
	assert.Equal(t, strings.Repeat("a", 16), out)
}

func TestReadCappedZeroLimit(t *testing.T) {
	r := strings.NewReader("hello world")
	out := readCapped(r, 0)
	assert.Equal(t, "", out)
}

func TestReadCappedUnderLimit(t *testing.T) {
	r := strings.NewReader("short")
	out := readCapped(r, 1024)
	assert.Equal(t, "short", out)
}

func TestClassifyExitSuccess(t *testing.T) {
	cmd := exec.Command("true")
	waitErr := cmd.Run()

	status, code, signal := classifyExit(waitErr)
	assert.Equal(t, types.StatusSuccess, status)
	require.NotNil(t, code)
	assert.Equal(t, 0, *code)
	assert.Empty(t, signal)
}

func TestClassifyExitNonZeroCode(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 7")
	waitErr := cmd.Run()

	status, code, signal := classifyExit(waitErr)
	assert.Equal(t, types.StatusRuntimeError, status)
	require.NotNil(t, code)
	assert.Equal(t, 7, *code)
	assert.Empty(t, signal)
}

func TestClassifyExitSigkillUpgradesToMemoryLimitExceeded(t *testing.T) {
	cmd := exec.Command("sh", "-c", "kill -KILL $$")
	waitErr := cmd.Run()

	status, code, signal := classifyExit(waitErr)
	assert.Equal(t, types.StatusMemoryLimitExceeded, status)
	assert.Nil(t, code)
	assert.Equal(t, "SIGKILL", signal)
}

func TestClassifyExitOtherSignal(t *testing.T) {
	cmd := exec.Command("sh", "-c", "kill -TERM $$")
	waitErr := cmd.Run()

	status, code, signal := classifyExit(waitErr)
	assert.Equal(t, types.StatusRuntimeError, status)
	assert.Nil(t, code)
	assert.Equal(t, "SIGTERM", signal)
}
