package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageResultMarshalUsesDocumentedUnits(t *testing.T) {
	code := 0
	sr := StageResult{
		Status:        StatusSuccess,
		Stdout:        "hi",
		MemoryUsage:   1024,
		CPUTime:       2500 * time.Microsecond,
		ExecutionTime: 150 * time.Millisecond,
		ExitCode:      &code,
	}

	data, err := json.Marshal(sr)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, float64(2500), wire["cpu_time"], "cpu_time must serialize in microseconds")
	assert.Equal(t, float64(150), wire["execution_time"], "execution_time must serialize in milliseconds")
	assert.Equal(t, "SUCCESS", wire["status"])
}

func TestStageResultRoundTrip(t *testing.T) {
	code := 1
	original := StageResult{
		Status:        StatusTimeLimitExceeded,
		Stdout:        "partial",
		Stderr:        "err",
		Signal:        "SIGKILL",
		MemoryUsage:   4096,
		CPUTime:       1234 * time.Microsecond,
		ExecutionTime: 1500 * time.Millisecond,
		ExitCode:      &code,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var roundTripped StageResult
	require.NoError(t, json.Unmarshal(data, &roundTripped))

	assert.Equal(t, original, roundTripped)
}

func TestStageResultStringAutoScalesUnits(t *testing.T) {
	sr := StageResult{
		Status:        StatusSuccess,
		MemoryUsage:   5 * 1024 * 1024,
		CPUTime:       2 * time.Second,
		ExecutionTime: 1500 * time.Millisecond,
	}

	out := sr.String()
	assert.Contains(t, out, "5.00 MB")
	assert.Contains(t, out, "2.00 s")
	assert.Contains(t, out, "1.50 s")
	assert.Contains(t, out, "-") // nil exit code and empty signal render as "-"
}

func TestStageResultStringSubSecondUnits(t *testing.T) {
	sr := StageResult{
		Status:        StatusRuntimeError,
		MemoryUsage:   512,
		CPUTime:       800 * time.Microsecond,
		ExecutionTime: 250 * time.Millisecond,
	}

	out := sr.String()
	assert.Contains(t, out, "512 B")
	assert.Contains(t, out, "800 us")
	assert.Contains(t, out, "250 ms")
}

func TestDefaultExecutionLimits(t *testing.T) {
	limits := DefaultExecutionLimits()
	assert.Equal(t, int64(512*1024*1024), limits.MemoryLimitBytes)
	assert.Equal(t, int64(256), limits.PidLimit)
	assert.Equal(t, int64(2048), limits.FileLimit)
	assert.Equal(t, int64(3000), limits.TimeoutMs)
	assert.Equal(t, 1024, limits.OutputLimitBytes)
}

func TestJobRequestRoundTrip(t *testing.T) {
	timeout := 500
	memLimit := int64(1024 * 1024)
	req := JobRequest{
		Language: "python",
		Version:  "3.12.0",
		Files: []CodeFile{
			{Name: "main.py", Content: "print(1)"},
		},
		Testcases: []Testcase{
			{ID: "1", Input: "a", ExpectedOutput: "b"},
		},
		Args:           []string{"--flag"},
		Stdin:          "input",
		RunTimeout:     &timeout,
		RunMemoryLimit: &memLimit,
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var roundTripped JobRequest
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	assert.Equal(t, req, roundTripped)
}

func TestCodeFileDefaultsNameToMainAtWriteTime(t *testing.T) {
	// The "main" default is assigned at write time (worker package),
	// not at decode time; an omitted name round-trips as empty here.
	data, err := json.Marshal(CodeFile{Content: "x"})
	require.NoError(t, err)

	var f CodeFile
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, "", f.Name)
}
