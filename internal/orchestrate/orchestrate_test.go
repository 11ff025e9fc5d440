package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"facet/internal/backend"
	"facet/internal/extract"
	"facet/internal/gitdiff"
	"facet/internal/rubric"
)

const validReview = `{"findings": [], "overall_correctness": "patch is correct", "overall_confidence_score": 0.9}`

const validAnalyze = `{"change_summary": "renamed the widget", "file_changes": []}`

// stubInvoker is a scriptable backend for exercising the runner without
// spawning processes.
type stubInvoker struct {
	name   string
	output string
	err    error
	hang   bool
}

func (s *stubInvoker) Name() string { return s.name }

func (s *stubInvoker) Invoke(ctx context.Context, _ backend.Request) (backend.Result, error) {
	if s.hang {
		<-ctx.Done()
		return backend.Result{}, &backend.Error{Backend: s.name, Kind: backend.KindTimeout, Err: ctx.Err()}
	}
	if s.err != nil {
		return backend.Result{}, s.err
	}
	return backend.Result{Output: s.output, Duration: time.Millisecond}, nil
}

func newTestRunner(t *testing.T, timeout time.Duration, stubs map[string]*stubInvoker) *Runner {
	t.Helper()
	r := NewRunner(filepath.Join(t.TempDir(), "review-20260102-030405"), timeout, zap.NewNop())
	r.NewInvoker = func(name string) (backend.Invoker, error) {
		s, ok := stubs[name]
		if !ok {
			return nil, fmt.Errorf("unknown backend %q", name)
		}
		return s, nil
	}
	return r
}

func testBundle() *gitdiff.Bundle {
	return &gitdiff.Bundle{
		Base:        gitdiff.BranchRef{Name: "main", Commit: "aaaa"},
		Target:      gitdiff.BranchRef{Name: "feature", Commit: "bbbb"},
		BaseRefUsed: "origin/main",
		MergeBase:   "cccc",
		NameStatus:  gitdiff.Section{Text: "M\tmain.go"},
		Diff:        gitdiff.Section{Text: "diff --git a/main.go b/main.go"},
	}
}

func testMeta() rubric.Meta {
	return rubric.Meta{AppID: "billing", RepoRoot: "/src/billing", BaseBranch: "main", TargetBranch: "feature"}
}

func TestRunAllTasksValid(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", output: validReview},
	}
	r := newTestRunner(t, 0, stubs)
	tasks := []Task{{Mode: rubric.ModeReview, Backend: "claude", WorkDir: "/src/billing"}}
	prompts := map[rubric.Mode]string{rubric.ModeReview: "review prompt"}

	man, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, man.Status)
	assert.NotEmpty(t, man.RunID)
	assert.Equal(t, "/src/billing", man.RepoRoot)
	assert.Equal(t, "origin/main", man.BaseRefUsed)

	res, ok := man.Tasks["review:claude"]
	require.True(t, ok, "manifest keyed by mode:backend")
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, string(extract.StatusValid), res.Status)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)

	data, err := os.ReadFile(filepath.Join(r.RunDir, "review_result.json"))
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "patch is correct", payload["overall_correctness"])
}

func TestRunWritesPromptAndRawFiles(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", output: validAnalyze},
	}
	r := newTestRunner(t, 0, stubs)
	tasks := []Task{{Mode: rubric.ModeAnalyze, Backend: "claude"}}
	prompts := map[rubric.Mode]string{rubric.ModeAnalyze: "analyze this"}

	man, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)

	prompt, err := os.ReadFile(filepath.Join(r.RunDir, "prompt_analyze.txt"))
	require.NoError(t, err)
	assert.Equal(t, "analyze this", string(prompt))

	res := man.Tasks["analyze:claude"]
	require.NotEmpty(t, res.RawPath)
	raw, err := os.ReadFile(res.RawPath)
	require.NoError(t, err)
	assert.Equal(t, validAnalyze, string(raw))

	assert.FileExists(t, filepath.Join(r.RunDir, "manifest.json"))
}

func TestRunPartialWhenSomeTasksFail(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", output: validReview},
		"codex": {name: "codex", err: &backend.Error{
			Backend: "codex", Kind: backend.KindExit, ExitCode: 2, Stderr: "rate limited",
		}},
	}
	r := newTestRunner(t, 0, stubs)
	tasks := []Task{
		{Mode: rubric.ModeReview, Backend: "claude"},
		{Mode: rubric.ModeAnalyze, Backend: "codex"},
	}
	prompts := map[rubric.Mode]string{
		rubric.ModeReview:  "review",
		rubric.ModeAnalyze: "analyze",
	}

	man, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, man.Status)
	assert.Equal(t, StateSucceeded, man.Tasks["review:claude"].State)

	failed := man.Tasks["analyze:codex"]
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, string(backend.KindExit), failed.FailureKind)
	assert.Contains(t, failed.Error, "rate limited")
	assert.NoFileExists(t, filepath.Join(r.RunDir, "change_analysis.json"))
}

func TestRunFailedWhenAllTasksFail(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", err: &backend.Error{Backend: "claude", Kind: backend.KindNotInstalled}},
	}
	r := newTestRunner(t, 0, stubs)
	tasks := []Task{{Mode: rubric.ModeReview, Backend: "claude"}}
	prompts := map[rubric.Mode]string{rubric.ModeReview: "review"}

	man, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, man.Status)
	assert.Equal(t, string(backend.KindNotInstalled), man.Tasks["review:claude"].FailureKind)
}

func TestRunHungTaskDoesNotBlockOthers(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", output: validReview},
		"codex":  {name: "codex", hang: true},
	}
	r := newTestRunner(t, 200*time.Millisecond, stubs)
	tasks := []Task{
		{Mode: rubric.ModeReview, Backend: "claude"},
		{Mode: rubric.ModeAnalyze, Backend: "codex"},
	}
	prompts := map[rubric.Mode]string{
		rubric.ModeReview:  "review",
		rubric.ModeAnalyze: "analyze",
	}

	start := time.Now()
	man, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "per-task timeout should bound the run")

	assert.Equal(t, StatusPartial, man.Status)
	assert.Equal(t, StateSucceeded, man.Tasks["review:claude"].State)

	hung := man.Tasks["analyze:codex"]
	assert.Equal(t, StateFailed, hung.State)
	assert.Equal(t, string(backend.KindTimeout), hung.FailureKind)
}

func TestRunRecoveredOutputCountsAsUsable(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", output: `Sure! Here you go: {"wrong": "shape"}`},
	}
	r := newTestRunner(t, 0, stubs)
	tasks := []Task{{Mode: rubric.ModeReview, Backend: "claude"}}
	prompts := map[rubric.Mode]string{rubric.ModeReview: "review"}

	man, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, man.Status, "recovered results keep the run successful")
	res := man.Tasks["review:claude"]
	assert.Equal(t, StateRecovered, res.State)
	assert.NotEmpty(t, res.ResultPath)

	data, err := os.ReadFile(res.ResultPath)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Contains(t, payload, "overall_correctness")
}

func TestRunUnrecoverableOutputFailsTask(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", output: "no json here at all"},
	}
	r := newTestRunner(t, 0, stubs)
	tasks := []Task{{Mode: rubric.ModeReview, Backend: "claude"}}
	prompts := map[rubric.Mode]string{rubric.ModeReview: "review"}

	man, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)

	res := man.Tasks["review:claude"]
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "unrecoverable_output", res.FailureKind)
	assert.NotEmpty(t, res.RawPath, "raw output is kept even when extraction fails")
	assert.Empty(t, res.ResultPath)
}

func TestRunUnknownBackendFailsOnlyThatTask(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", output: validReview},
	}
	r := newTestRunner(t, 0, stubs)
	tasks := []Task{
		{Mode: rubric.ModeReview, Backend: "claude"},
		{Mode: rubric.ModeAnalyze, Backend: "nope"},
	}
	prompts := map[rubric.Mode]string{
		rubric.ModeReview:  "review",
		rubric.ModeAnalyze: "analyze",
	}

	man, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, man.Status)
	assert.Equal(t, StateFailed, man.Tasks["analyze:nope"].State)
}

func TestRunSharedModeUsesDistinctResultFiles(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", output: validReview},
		"codex":  {name: "codex", output: validReview},
	}
	r := newTestRunner(t, 0, stubs)
	tasks := []Task{
		{Mode: rubric.ModeReview, Backend: "claude"},
		{Mode: rubric.ModeReview, Backend: "codex"},
	}
	prompts := map[rubric.Mode]string{rubric.ModeReview: "review"}

	man, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)
	require.Len(t, man.Tasks, 2)

	a := man.Tasks["review:claude"]
	b := man.Tasks["review:codex"]
	assert.NotEqual(t, a.ResultPath, b.ResultPath)
	assert.FileExists(t, a.ResultPath)
	assert.FileExists(t, b.ResultPath)
}

func TestRunManifestRoundTrips(t *testing.T) {
	stubs := map[string]*stubInvoker{
		"claude": {name: "claude", output: validReview},
	}
	r := newTestRunner(t, 0, stubs)
	tasks := []Task{{Mode: rubric.ModeReview, Backend: "claude", Model: "opus"}}
	prompts := map[rubric.Mode]string{rubric.ModeReview: "review"}

	want, err := r.Run(context.Background(), testBundle(), testMeta(), tasks, prompts)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(r.RunDir, "manifest.json"))
	require.NoError(t, err)
	var got Manifest
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, "opus", got.Tasks["review:claude"].Model)
	assert.Equal(t, "cccc", got.MergeBase)
}

func TestRunDirName(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "review-20260102-030405", RunDirName(ts))
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateRecovered.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateInvoking.Terminal())
	assert.False(t, StateExtracting.Terminal())
}
