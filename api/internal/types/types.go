package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// StageStatus is the closed set of terminal (and in-flight) states a
// compile or run stage can report. The wire representation is
// SCREAMING_SNAKE_CASE; unknown values must be rejected, not coerced.
type StageStatus string

const (
	StatusPending             StageStatus = "PENDING"
	StatusRunning             StageStatus = "RUNNING"
	StatusSuccess             StageStatus = "SUCCESS"
	StatusRuntimeError        StageStatus = "RUNTIME_ERROR"
	StatusCompilationError    StageStatus = "COMPILATION_ERROR"
	StatusTimeLimitExceeded   StageStatus = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded StageStatus = "MEMORY_LIMIT_EXCEEDED"
	StatusOutputLimitExceeded StageStatus = "OUTPUT_LIMIT_EXCEEDED"
)

// CodeFile is a single submitted source file.
type CodeFile struct {
	Name     string `json:"name,omitempty"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// Testcase is one input/expected-output pair in a batch submission.
type Testcase struct {
	ID             string `json:"id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output,omitempty"`
}

// JobRequest is the submitted unit of work.
type JobRequest struct {
	Language           string     `json:"language" validate:"required"`
	Version            string     `json:"version,omitempty"`
	Files              []CodeFile `json:"files" validate:"required,dive"`
	Testcases          []Testcase `json:"testcases,omitempty"`
	Args               []string   `json:"args,omitempty"`
	Stdin              string     `json:"stdin,omitempty"`
	CompileMemoryLimit *int64     `json:"compile_memory_limit,omitempty"`
	RunMemoryLimit     *int64     `json:"run_memory_limit,omitempty"`
	RunTimeout         *int       `json:"run_timeout,omitempty"`
	CompileTimeout     *int       `json:"compile_timeout,omitempty"`
}

// Job is the queued envelope around a JobRequest.
type Job struct {
	ID      string     `json:"id"`
	Request JobRequest `json:"request"`
}

// ExecutionLimits is what the sandbox enforces for a single stage.
type ExecutionLimits struct {
	MemoryLimitBytes int64 `json:"memory_limit_bytes"`
	PidLimit         int64 `json:"pid_limit"`
	FileLimit        int64 `json:"file_limit"`
	TimeoutMs        int64 `json:"timeout_ms"`
	OutputLimitBytes int   `json:"output_limit_bytes"`
	UID              *int  `json:"uid,omitempty"`
	GID              *int  `json:"gid,omitempty"`
}

// DefaultExecutionLimits returns the limits applied when a request does
// not override them.
func DefaultExecutionLimits() ExecutionLimits {
	return ExecutionLimits{
		MemoryLimitBytes: 512 * 1024 * 1024,
		PidLimit:         256,
		FileLimit:        2048,
		TimeoutMs:        3000,
		OutputLimitBytes: 1024,
	}
}

// StageResult is the outcome of one compile or run invocation.
type StageResult struct {
	Status        StageStatus   `json:"status"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	ExitCode      *int          `json:"exit_code"`
	Signal        string        `json:"signal,omitempty"`
	MemoryUsage   int64         `json:"memory_usage"`
	CPUTime       time.Duration `json:"cpu_time"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// stageResultWire is StageResult's on-the-wire shape: cpu_time in
// microseconds and execution_time in milliseconds, rather than
// time.Duration's default nanosecond JSON encoding.
type stageResultWire struct {
	Status        StageStatus `json:"status"`
	Stdout        string      `json:"stdout"`
	Stderr        string      `json:"stderr"`
	ExitCode      *int        `json:"exit_code"`
	Signal        string      `json:"signal,omitempty"`
	MemoryUsage   int64       `json:"memory_usage"`
	CPUTime       int64       `json:"cpu_time"`
	ExecutionTime int64       `json:"execution_time"`
}

// MarshalJSON renders CPUTime in microseconds and ExecutionTime in
// milliseconds.
func (s StageResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(stageResultWire{
		Status:        s.Status,
		Stdout:        s.Stdout,
		Stderr:        s.Stderr,
		ExitCode:      s.ExitCode,
		Signal:        s.Signal,
		MemoryUsage:   s.MemoryUsage,
		CPUTime:       s.CPUTime.Microseconds(),
		ExecutionTime: s.ExecutionTime.Milliseconds(),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *StageResult) UnmarshalJSON(data []byte) error {
	var wire stageResultWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.Status = wire.Status
	s.Stdout = wire.Stdout
	s.Stderr = wire.Stderr
	s.ExitCode = wire.ExitCode
	s.Signal = wire.Signal
	s.MemoryUsage = wire.MemoryUsage
	s.CPUTime = time.Duration(wire.CPUTime) * time.Microsecond
	s.ExecutionTime = time.Duration(wire.ExecutionTime) * time.Millisecond
	return nil
}

// String renders a human-readable multi-line summary for CLI consumers,
// auto-scaling memory, CPU time, and wall time to the most readable unit.
func (s StageResult) String() string {
	return fmt.Sprintf(
		"status: %s\nexit code: %s\nsignal: %s\nmemory: %s\ncpu time: %s\nwall time: %s\n--- stdout ---\n%s\n--- stderr ---\n%s",
		s.Status,
		formatExitCode(s.ExitCode),
		orDash(s.Signal),
		formatBytes(s.MemoryUsage),
		formatMicros(s.CPUTime),
		formatMillis(s.ExecutionTime),
		s.Stdout,
		s.Stderr,
	)
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatBytes(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(gb))
	case n >= mb:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(mb))
	case n >= kb:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(kb))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func formatMicros(d time.Duration) string {
	us := d.Microseconds()
	switch {
	case us >= 1_000_000:
		return fmt.Sprintf("%.2f s", d.Seconds())
	case us >= 1_000:
		return fmt.Sprintf("%.2f ms", float64(us)/1000)
	default:
		return fmt.Sprintf("%d us", us)
	}
}

func formatMillis(d time.Duration) string {
	ms := d.Milliseconds()
	if ms >= 1000 {
		return fmt.Sprintf("%.2f s", d.Seconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// TestcaseResult is the outcome of running a program against one testcase.
type TestcaseResult struct {
	ID           string      `json:"id"`
	Passed       bool        `json:"passed"`
	ActualOutput string      `json:"actual_output"`
	RunDetails   StageResult `json:"run_details"`
}

// JobResult is published once a job reaches a terminal state.
type JobResult struct {
	Language  string           `json:"language"`
	Version   string           `json:"version"`
	Compile   *StageResult     `json:"compile,omitempty"`
	Run       *StageResult     `json:"run,omitempty"`
	Testcases []TestcaseResult `json:"testcases,omitempty"`
}

// PackageYaml is the parsed contents of a runtime's package.yaml.
type PackageYaml struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty"`
	Compiled    bool     `yaml:"compiled,omitempty"`
}

// PackageDefinition pairs an on-disk location with its parsed manifest.
type PackageDefinition struct {
	Path string
	Yaml PackageYaml
}

// Runtime describes a resolved, installed language toolchain.
type Runtime struct {
	Language string          `json:"language"`
	Version  *semver.Version `json:"version"`
	Aliases  []string        `json:"aliases"`
	PkgDir   string          `json:"pkgdir"`
	Runtime  string          `json:"runtime,omitempty"`
}

// RuntimeInfo is the HTTP-facing projection of a Runtime.
type RuntimeInfo struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases"`
	Runtime  string   `json:"runtime,omitempty"`
}

// PackageInfo is the HTTP-facing projection of package install state.
type PackageInfo struct {
	Language        string `json:"language"`
	LanguageVersion string `json:"language_version"`
	Installed       bool   `json:"installed"`
}

// ErrorResponse is the shape of every non-2xx JSON body.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
