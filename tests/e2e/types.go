package e2e

// API Response Types

type PackageInfo struct {
	Language        string `json:"language"`
	LanguageVersion string `json:"language_version"`
	Installed       bool   `json:"installed"`
}

type Runtime struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases"`
	Runtime  string   `json:"runtime"`
}

type Testcase struct {
	ID             string `json:"id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output,omitempty"`
}

type ExecutionRequest struct {
	Language           string     `json:"language"`
	Version            string     `json:"version,omitempty"`
	Files              []File     `json:"files"`
	Testcases          []Testcase `json:"testcases,omitempty"`
	Args               []string   `json:"args,omitempty"`
	Stdin              string     `json:"stdin,omitempty"`
	CompileMemoryLimit *int64     `json:"compile_memory_limit,omitempty"`
	RunMemoryLimit     *int64     `json:"run_memory_limit,omitempty"`
	RunTimeout         *int       `json:"run_timeout,omitempty"`
	CompileTimeout     *int       `json:"compile_timeout,omitempty"`
}

type File struct {
	Name     string `json:"name,omitempty"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

type ExecutionResult struct {
	Language  string           `json:"language"`
	Version   string           `json:"version"`
	Compile   *RunResult       `json:"compile,omitempty"`
	Run       *RunResult       `json:"run,omitempty"`
	Testcases []TestcaseResult `json:"testcases,omitempty"`
}

type TestcaseResult struct {
	ID           string    `json:"id"`
	Passed       bool      `json:"passed"`
	ActualOutput string    `json:"actual_output"`
	RunDetails   RunResult `json:"run_details"`
}

type RunResult struct {
	Status        string `json:"status"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExitCode      *int   `json:"exit_code"`
	Signal        string `json:"signal,omitempty"`
	MemoryUsage   int64  `json:"memory_usage"`
	CPUTime       int64  `json:"cpu_time"`
	ExecutionTime int64  `json:"execution_time"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
