package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"facet/internal/backend"
	"facet/internal/extract"
	"facet/internal/gitdiff"
	"facet/internal/rubric"
)

// State tracks a task through its lifecycle. Pending tasks have not been
// scheduled; invoking and extracting are transient; succeeded, recovered,
// and failed are terminal.
type State string

const (
	StatePending    State = "pending"
	StateInvoking   State = "invoking"
	StateExtracting State = "extracting"
	StateSucceeded  State = "succeeded"
	StateRecovered  State = "recovered"
	StateFailed     State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateRecovered || s == StateFailed
}

// Task is one unit of work: a single mode dispatched to a single backend.
type Task struct {
	Mode    rubric.Mode
	Backend string
	Model   string
	WorkDir string
}

// ID identifies a task within a run. Two tasks in the same run never
// share an ID.
func (t Task) ID() string {
	return string(t.Mode) + ":" + t.Backend
}

// TaskResult is the per-task record stored in the manifest.
type TaskResult struct {
	Mode        rubric.Mode `json:"mode"`
	Backend     string      `json:"backend"`
	Model       string      `json:"model,omitempty"`
	State       State       `json:"state"`
	FailureKind string      `json:"failureKind,omitempty"`
	Error       string      `json:"error,omitempty"`
	WriteError  string      `json:"writeError,omitempty"`
	Status      string      `json:"extractionStatus,omitempty"`
	Confidence  float64     `json:"confidence,omitempty"`
	PromptPath  string      `json:"promptPath,omitempty"`
	RawPath     string      `json:"rawPath,omitempty"`
	ResultPath  string      `json:"resultPath,omitempty"`
	DurationMS  int64       `json:"durationMs"`
}

// Run statuses. Success means every task produced a usable result (valid
// or recovered), failed means none did, partial is everything in between.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Manifest describes a completed run: what was compared, which tasks ran,
// and how each of them ended.
type Manifest struct {
	RunID       string                `json:"runId"`
	StartedAt   time.Time             `json:"startedAt"`
	FinishedAt  time.Time             `json:"finishedAt"`
	AppID       string                `json:"appId,omitempty"`
	RepoRoot    string                `json:"repoRoot"`
	Base        gitdiff.BranchRef     `json:"base"`
	Target      gitdiff.BranchRef     `json:"target"`
	BaseRefUsed string                `json:"baseRefUsed"`
	MergeBase   string                `json:"mergeBase"`
	Tasks       map[string]TaskResult `json:"tasks"`
	Status      string                `json:"status"`
}

// Runner executes a batch of tasks against a prepared run directory.
type Runner struct {
	// RunDir is the directory all run artifacts are written into. It is
	// created if missing.
	RunDir string

	// Timeout bounds each task's backend invocation. Zero means no
	// per-task deadline beyond the caller's context.
	Timeout time.Duration

	// NewInvoker constructs the backend for a task. Defaults to
	// backend.New; tests substitute stubs here.
	NewInvoker func(name string) (backend.Invoker, error)

	Log *zap.Logger
}

// NewRunner returns a Runner backed by the real backend registry.
func NewRunner(runDir string, timeout time.Duration, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		RunDir:     runDir,
		Timeout:    timeout,
		NewInvoker: backend.New,
		Log:        log,
	}
}

// RunDirName returns the conventional run directory name for a run
// starting at t.
func RunDirName(t time.Time) string {
	return "review-" + t.Format("20060102-150405")
}

// Run dispatches every task concurrently and blocks until all of them
// reach a terminal state, then writes manifest.json into the run
// directory. Task failures are recorded in the manifest, never returned
// as an error; the returned error covers run-level problems only (the
// run directory or a prompt file cannot be created, or the manifest
// cannot be written). Cancelling ctx aborts all in-flight backends.
func (r *Runner) Run(ctx context.Context, bundle *gitdiff.Bundle, meta rubric.Meta, tasks []Task, prompts map[rubric.Mode]string) (*Manifest, error) {
	started := time.Now()
	man := &Manifest{
		RunID:       uuid.NewString(),
		StartedAt:   started,
		AppID:       meta.AppID,
		RepoRoot:    meta.RepoRoot,
		Base:        bundle.Base,
		Target:      bundle.Target,
		BaseRefUsed: bundle.BaseRefUsed,
		MergeBase:   bundle.MergeBase,
		Tasks:       make(map[string]TaskResult, len(tasks)),
	}

	if err := os.MkdirAll(r.RunDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	promptPaths := make(map[rubric.Mode]string, len(prompts))
	for mode, prompt := range prompts {
		p := filepath.Join(r.RunDir, "prompt_"+string(mode)+".txt")
		if err := os.WriteFile(p, []byte(prompt), 0o644); err != nil {
			return nil, fmt.Errorf("write prompt for %s: %w", mode, err)
		}
		promptPaths[mode] = p
	}

	// When two backends run the same mode their result files need
	// distinct names; the common single-backend case keeps the plain
	// conventional filename.
	modeCount := make(map[rubric.Mode]int, len(tasks))
	for _, t := range tasks {
		modeCount[t.Mode]++
	}

	results := make([]TaskResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			resultName := rubric.ResultFilename(task.Mode)
			if modeCount[task.Mode] > 1 {
				resultName = task.Backend + "_" + resultName
			}
			results[i] = r.runTask(gctx, task, prompts[task.Mode], promptPaths[task.Mode], resultName)
			return nil
		})
	}
	// Task goroutines always return nil; failures live in results.
	_ = g.Wait()

	for i, task := range tasks {
		man.Tasks[task.ID()] = results[i]
	}
	man.FinishedAt = time.Now()
	man.Status = runStatus(results)

	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return man, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.RunDir, "manifest.json"), data, 0o644); err != nil {
		return man, fmt.Errorf("write manifest: %w", err)
	}

	r.Log.Info("run finished",
		zap.String("runId", man.RunID),
		zap.String("status", man.Status),
		zap.Int("tasks", len(tasks)),
		zap.Duration("elapsed", man.FinishedAt.Sub(started)))
	return man, nil
}

func (r *Runner) runTask(ctx context.Context, task Task, prompt, promptPath, resultName string) TaskResult {
	res := TaskResult{
		Mode:       task.Mode,
		Backend:    task.Backend,
		Model:      task.Model,
		State:      StateInvoking,
		PromptPath: promptPath,
	}
	log := r.Log.With(zap.String("task", task.ID()))

	inv, err := r.NewInvoker(task.Backend)
	if err != nil {
		res.State = StateFailed
		res.FailureKind = string(backend.KindOf(err))
		res.Error = err.Error()
		log.Warn("backend unavailable", zap.Error(err))
		return res
	}

	tctx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	log.Info("invoking backend", zap.String("model", task.Model))
	out, err := inv.Invoke(tctx, backend.Request{
		Prompt:  prompt,
		WorkDir: task.WorkDir,
		Model:   task.Model,
	})
	res.DurationMS = out.Duration.Milliseconds()
	if err != nil {
		res.State = StateFailed
		res.FailureKind = string(backend.KindOf(err))
		res.Error = err.Error()
		log.Warn("backend invocation failed",
			zap.String("kind", res.FailureKind), zap.Error(err))
		return res
	}

	rawPath := filepath.Join(r.RunDir, "raw_"+string(task.Mode)+"_"+task.Backend+".txt")
	if werr := os.WriteFile(rawPath, []byte(out.Output), 0o644); werr != nil {
		res.WriteError = werr.Error()
		log.Warn("could not persist raw output", zap.Error(werr))
	} else {
		res.RawPath = rawPath
	}

	res.State = StateExtracting
	ext := extract.Extract(task.Mode, out.Output)
	res.Status = string(ext.Status)
	res.Confidence = ext.Confidence
	switch ext.Status {
	case extract.StatusValid:
		res.State = StateSucceeded
	case extract.StatusRecovered:
		res.State = StateRecovered
		res.Error = ext.Note
	default:
		res.State = StateFailed
		res.FailureKind = "unrecoverable_output"
		res.Error = ext.Note
		log.Warn("no JSON object in backend output")
		return res
	}

	data, err := json.MarshalIndent(ext.Payload, "", "  ")
	if err != nil {
		res.WriteError = err.Error()
		return res
	}
	resultPath := filepath.Join(r.RunDir, resultName)
	if werr := os.WriteFile(resultPath, data, 0o644); werr != nil {
		res.WriteError = werr.Error()
		log.Warn("could not persist result", zap.Error(werr))
		return res
	}
	res.ResultPath = resultPath
	log.Info("task finished", zap.String("state", string(res.State)),
		zap.Float64("confidence", res.Confidence))
	return res
}

func runStatus(results []TaskResult) string {
	failed := 0
	for _, res := range results {
		if res.State == StateFailed {
			failed++
		}
	}
	switch failed {
	case 0:
		return StatusSuccess
	case len(results):
		return StatusFailed
	default:
		return StatusPartial
	}
}
