// Package worker implements the dequeue-compile-run-publish loop: N
// concurrent workers each own a job for its full lifetime, from temp
// directory creation through sandbox cleanup.
package worker

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/turbo-run/turbo/api/internal/cache"
	"github.com/turbo-run/turbo/api/internal/sandbox"
	"github.com/turbo-run/turbo/api/internal/types"
)

const (
	defaultRunTimeoutMs     = 3000
	defaultCompileTimeoutMs = 10000
	defaultRunMemoryBytes   = 512 * 1024 * 1024
	defaultCompileMemBytes  = 512 * 1024 * 1024
	popBackoffOnQueueErr    = 1 * time.Second
)

// Queue is the subset of the broker contract a worker consumes.
type Queue interface {
	PopJob(ctx context.Context) (*types.Job, error)
	PublishResult(ctx context.Context, jobID string, result types.JobResult) error
}

// Repository resolves a (language, version?) pair to an installed runtime.
type Repository interface {
	Resolve(name, version string) (*types.PackageDefinition, error)
}

// Sandbox is the per-job execution engine contract, satisfied by
// *sandbox.Sandbox (and by fakes in tests).
type Sandbox interface {
	Init(id string) error
	Run(ctx context.Context, id string, command sandbox.Command, limits types.ExecutionLimits) (types.StageResult, error)
	Cleanup(id string) error
}

// Pool runs a fixed number of worker goroutines pulling from a shared
// queue. Each dequeued job is exclusively owned by one goroutine for its
// entire lifetime.
type Pool struct {
	size        int
	queue       Queue
	repo        Repository
	box         Sandbox
	cache       *cache.Cache
	scratchRoot string
	baseLimits  types.ExecutionLimits
	logger      *logrus.Entry
}

// New creates a worker pool of the given size.
func New(size int, queue Queue, repo Repository, box Sandbox, c *cache.Cache, scratchRoot string, baseLimits types.ExecutionLimits, logger *logrus.Logger) *Pool {
	return &Pool{
		size:        size,
		queue:       queue,
		repo:        repo,
		box:         box,
		cache:       c,
		scratchRoot: scratchRoot,
		baseLimits:  baseLimits,
		logger:      logger.WithField("component", "worker"),
	}
}

// Run starts the pool's goroutines and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, p.size)
	for i := 0; i < p.size; i++ {
		go func(idx int) {
			p.loop(ctx, idx)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < p.size; i++ {
		<-done
	}
}

func (p *Pool) loop(ctx context.Context, idx int) {
	log := p.logger.WithField("worker", idx)
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.PopJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("failed to pop job, backing off")
			select {
			case <-time.After(popBackoffOnQueueErr):
			case <-ctx.Done():
				return
			}
			continue
		}

		result := p.process(ctx, job)
		if err := p.queue.PublishResult(ctx, job.ID, result); err != nil {
			log.WithError(err).WithField("job_id", job.ID).Error("failed to publish result")
		}
	}
}

// process runs one job end to end, never returning an error: every
// failure becomes a terminal JobResult with the error message in stderr.
func (p *Pool) process(ctx context.Context, job *types.Job) types.JobResult {
	log := p.logger.WithField("job_id", job.ID)
	req := job.Request

	tempDir := filepath.Join(p.scratchRoot, job.ID)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return failResult(req.Language, req.Version, fmt.Errorf("failed to create scratch directory: %w", err))
	}
	defer os.RemoveAll(tempDir)

	names, cacheFiles, err := writeFiles(tempDir, req.Files)
	if err != nil {
		return failResult(req.Language, req.Version, err)
	}

	pd, err := p.repo.Resolve(req.Language, req.Version)
	if err != nil {
		return failResult(req.Language, req.Version, fmt.Errorf("%s-%s runtime is unknown: %w", req.Language, req.Version, err))
	}
	language, version := pd.Yaml.Name, pd.Yaml.Version

	if err := p.box.Init(job.ID); err != nil {
		return failResult(language, version, err)
	}
	defer func() {
		if err := p.box.Cleanup(job.ID); err != nil {
			log.WithError(err).Warn("sandbox cleanup failed")
		}
	}()

	var compileResult *types.StageResult
	compileScriptPath := filepath.Join(pd.Path, "compile.sh")
	if script, err := os.ReadFile(compileScriptPath); err == nil {
		result, cached, runErr := p.compile(ctx, job.ID, tempDir, compileScriptPath, script, names, cacheFiles, req)
		if runErr != nil {
			return failResult(language, version, runErr)
		}
		if !cached && result.Status != types.StatusSuccess {
			result.Status = types.StatusCompilationError
			return types.JobResult{Language: language, Version: version, Compile: &result}
		}
		compileResult = &result
		if !cached {
			key := cache.Key(req.Language, req.Version, script, cacheFiles)
			if err := p.cache.Store(key, tempDir); err != nil {
				log.WithError(err).Warn("failed to store compile cache entry")
			}
		}
	}

	runScriptPath := filepath.Join(pd.Path, "run.sh")
	if _, err := os.Stat(runScriptPath); err != nil {
		result := failResult(language, version, fmt.Errorf("run.sh not found for %s-%s", language, version))
		result.Compile = compileResult
		return result
	}

	runLimits := resolveLimits(p.baseLimits, req.RunTimeout, defaultRunTimeoutMs, req.RunMemoryLimit, defaultRunMemoryBytes)

	if len(req.Testcases) > 0 {
		testcases := make([]types.TestcaseResult, 0, len(req.Testcases))
		for _, tc := range req.Testcases {
			inputPath := filepath.Join(tempDir, fmt.Sprintf("input_%s.txt", tc.ID))
			if err := os.WriteFile(inputPath, []byte(tc.Input), 0644); err != nil {
				return failResult(language, version, fmt.Errorf("failed to write testcase input: %w", err))
			}

			stageResult, err := p.runScript(ctx, job.ID, tempDir, runScriptPath, inputPath, req.Args, runLimits)
			if err != nil {
				return failResult(language, version, err)
			}

			var passed bool
			if tc.ExpectedOutput != "" {
				passed = strings.TrimSpace(stageResult.Stdout) == strings.TrimSpace(tc.ExpectedOutput)
			} else {
				passed = stageResult.Status == types.StatusSuccess
			}

			testcases = append(testcases, types.TestcaseResult{
				ID:           tc.ID,
				Passed:       passed,
				ActualOutput: stageResult.Stdout,
				RunDetails:   stageResult,
			})
		}
		return types.JobResult{Language: language, Version: version, Compile: compileResult, Testcases: testcases}
	}

	inputPath := filepath.Join(tempDir, "input.txt")
	if err := os.WriteFile(inputPath, []byte(req.Stdin), 0644); err != nil {
		return failResult(language, version, fmt.Errorf("failed to write stdin: %w", err))
	}

	runResult, err := p.runScript(ctx, job.ID, tempDir, runScriptPath, inputPath, req.Args, runLimits)
	if err != nil {
		return failResult(language, version, err)
	}

	return types.JobResult{Language: language, Version: version, Compile: compileResult, Run: &runResult}
}

// compile returns (result, cacheHit, error). On a cache hit the result is
// synthesized with a fixed "Restored from cache" message. The
// cache key is computed from the request's own language/version fields, not
// the repository's resolved runtime, so that two submissions which both ask
// for the same unresolved version (e.g. an omitted version, or "latest")
// share a key regardless of which concrete version that resolves to at
// request time.
func (p *Pool) compile(ctx context.Context, jobID, tempDir, scriptPath string, script []byte, names []string, cacheFiles []cache.File, req types.JobRequest) (types.StageResult, bool, error) {
	key := cache.Key(req.Language, req.Version, script, cacheFiles)

	if p.cache.Has(key) {
		if err := p.cache.Restore(key, tempDir); err == nil {
			return types.StageResult{Status: types.StatusSuccess, Stdout: "Restored from cache"}, true, nil
		}
		// Fall through to a real compile: a half-evicted entry should not
		// fail the job.
	}

	limits := resolveLimits(p.baseLimits, req.CompileTimeout, defaultCompileTimeoutMs, req.CompileMemoryLimit, defaultCompileMemBytes)
	cmdline := fmt.Sprintf("cd %s && %s %s", shellQuote(tempDir), shellQuote(scriptPath), strings.Join(quoteAll(names), " "))
	command := sandbox.Command{Path: "sh", Args: []string{"-c", cmdline}, Env: os.Environ(), Dir: tempDir}

	result, err := p.box.Run(ctx, jobID, command, limits)
	if err != nil {
		return types.StageResult{}, false, err
	}
	return result, false, nil
}

func (p *Pool) runScript(ctx context.Context, jobID, tempDir, scriptPath, inputPath string, args []string, limits types.ExecutionLimits) (types.StageResult, error) {
	cmdline := fmt.Sprintf("cd %s && %s < %s", shellQuote(tempDir), shellQuote(scriptPath), shellQuote(inputPath))
	if len(args) > 0 {
		cmdline += " " + strings.Join(quoteAll(args), " ")
	}
	command := sandbox.Command{Path: "sh", Args: []string{"-c", cmdline}, Env: os.Environ(), Dir: tempDir}
	return p.box.Run(ctx, jobID, command, limits)
}

// writeFiles decodes and writes each submitted file into dir, returning
// the on-disk names (in submission order, "main" substituted for an
// absent name) and the decoded content paired for cache-key computation.
func writeFiles(dir string, files []types.CodeFile) ([]string, []cache.File, error) {
	names := make([]string, 0, len(files))
	cacheFiles := make([]cache.File, 0, len(files))

	for _, f := range files {
		name := f.Name
		if name == "" {
			name = "main"
		}

		content, err := decode(f.Content, f.Encoding)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode file %s: %w", name, err)
		}

		dest := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(dest, content, 0644); err != nil {
			return nil, nil, fmt.Errorf("failed to write file %s: %w", name, err)
		}

		names = append(names, name)
		cacheFiles = append(cacheFiles, cache.File{Name: name, Content: content})
	}

	return names, cacheFiles, nil
}

func decode(content, encoding string) ([]byte, error) {
	switch encoding {
	case "", "utf8":
		return []byte(content), nil
	case "base64":
		return base64.StdEncoding.DecodeString(content)
	case "hex":
		return hex.DecodeString(content)
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}

func resolveLimits(base types.ExecutionLimits, timeoutMs *int, defaultTimeoutMs int64, memBytes *int64, defaultMemBytes int64) types.ExecutionLimits {
	l := base
	l.TimeoutMs = defaultTimeoutMs
	if timeoutMs != nil {
		l.TimeoutMs = int64(*timeoutMs)
	}
	l.MemoryLimitBytes = defaultMemBytes
	if memBytes != nil {
		l.MemoryLimitBytes = *memBytes
	}
	return l
}

func failResult(language, version string, err error) types.JobResult {
	return types.JobResult{
		Language: language,
		Version:  version,
		Run: &types.StageResult{
			Status: types.StatusRuntimeError,
			Stderr: err.Error(),
		},
	}
}

// shellQuote wraps a path in single quotes for safe embedding in an
// `sh -c` command line, escaping any single quotes it contains.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = shellQuote(s)
	}
	return out
}
