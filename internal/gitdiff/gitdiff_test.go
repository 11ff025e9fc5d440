package gitdiff

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate_NoOpUnderCeiling(t *testing.T) {
	in := strings.Repeat("x", 100)
	out, truncated := Truncate(in, 200)
	if truncated {
		t.Error("input under ceiling should not be truncated")
	}
	if out != in {
		t.Error("input under ceiling should pass through unchanged")
	}
}

func TestTruncate_NoOpAtCeiling(t *testing.T) {
	in := strings.Repeat("x", 200)
	out, truncated := Truncate(in, 200)
	if truncated {
		t.Error("input exactly at ceiling should not be truncated")
	}
	if out != in {
		t.Error("input exactly at ceiling should pass through unchanged")
	}
}

func TestTruncate_HeadAndTailSlices(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&b, "line %04d\n", i)
	}
	in := b.String()
	max := 501 // odd ceiling: head = 250, tail = 251

	out, truncated := Truncate(in, max)
	if !truncated {
		t.Fatal("input over ceiling should be truncated")
	}

	head := max / 2
	tail := max - head
	marker := truncationMarker(len(in) - max)

	if got, want := out[:head], in[:head]; got != want {
		t.Errorf("head slice = %q, want %q", got, want)
	}
	if got, want := out[len(out)-tail:], in[len(in)-tail:]; got != want {
		t.Errorf("tail slice = %q, want %q", got, want)
	}
	if got, want := out[head:len(out)-tail], marker; got != want {
		t.Errorf("marker = %q, want %q", got, want)
	}
	if len(out) != max+len(marker) {
		t.Errorf("output length = %d, want %d", len(out), max+len(marker))
	}
}

func TestTruncate_Deterministic(t *testing.T) {
	in := strings.Repeat("abcdef\n", 10_000)
	first, _ := Truncate(in, 1234)
	for i := 0; i < 5; i++ {
		again, _ := Truncate(in, 1234)
		if again != first {
			t.Fatal("truncation must produce identical bytes across calls")
		}
	}
}

func TestTruncate_ZeroCeilingDisables(t *testing.T) {
	in := strings.Repeat("x", 1000)
	out, truncated := Truncate(in, 0)
	if truncated || out != in {
		t.Error("zero ceiling should disable truncation")
	}
}

// gitRun executes a git command inside dir with a fixed identity.
func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@test.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func writeAndCommit(t *testing.T, dir, name, content, msg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	gitRun(t, dir, "add", "-A")
	gitRun(t, dir, "commit", "-m", msg)
}

func setupRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	gitRun(t, dir, "init")
	gitRun(t, dir, "checkout", "-b", "main")
	writeAndCommit(t, dir, "a.go", "package a\n", "init")
	return dir
}

func TestResolveRef_Unknown(t *testing.T) {
	dir := setupRepo(t)
	r := NewResolver(dir, nil)

	_, err := r.ResolveRef("no-such-branch")
	var unknownErr *UnknownRefError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "no-such-branch", unknownErr.Name)
}

func TestResolve_MergeBaseExcludesBaseOnlyCommits(t *testing.T) {
	dir := setupRepo(t)

	gitRun(t, dir, "checkout", "-b", "topic")
	writeAndCommit(t, dir, "feature.go", "package a // feature\n", "topic change")

	// Advance main past the branch point. These changes must not appear
	// in the topic diff.
	gitRun(t, dir, "checkout", "main")
	writeAndCommit(t, dir, "mainonly.go", "package a // main only\n", "main advanced")

	r := NewResolver(dir, nil)
	bundle, err := r.Resolve("main", "topic", DefaultLimits())
	require.NoError(t, err)

	assert.Contains(t, bundle.Diff.Text, "feature.go")
	assert.NotContains(t, bundle.Diff.Text, "mainonly.go")
	assert.Contains(t, bundle.NameStatus.Text, "feature.go")
	assert.NotContains(t, bundle.NameStatus.Text, "mainonly.go")

	// Merge-base is the branch point, not the advanced main tip.
	assert.NotEqual(t, bundle.Base.Commit, bundle.MergeBase)
	assert.Equal(t, "main", bundle.BaseRefUsed)
	assert.False(t, bundle.Diff.Truncated)
	assert.False(t, bundle.NameStatus.Truncated)
}

func TestResolve_UpstreamAheadSubstitutesEffectiveBase(t *testing.T) {
	origin := setupRepo(t)

	// Clone and set up a local main tracking origin/main.
	clone := t.TempDir()
	gitRun(t, filepath.Dir(clone), "clone", origin, clone)
	gitRun(t, clone, "checkout", "main")

	// Local topic branch off the current main.
	gitRun(t, clone, "checkout", "-b", "topic")
	writeAndCommit(t, clone, "feature.go", "package a // feature\n", "topic change")
	gitRun(t, clone, "checkout", "main")

	// Advance the origin main, then fetch (without merging) so the
	// upstream is strictly ahead of the local base.
	writeAndCommit(t, origin, "remote.go", "package a // remote\n", "remote advanced")
	gitRun(t, clone, "fetch", "origin")

	r := NewResolver(clone, nil)
	bundle, err := r.Resolve("main", "topic", DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, "origin/main", bundle.BaseRefUsed)
	remoteSHA := gitRun(t, clone, "rev-parse", "origin/main")
	assert.Equal(t, remoteSHA, bundle.Base.Commit)

	// The diff still only contains topic-side changes: merge-base
	// against the upstream is the original branch point.
	assert.Contains(t, bundle.Diff.Text, "feature.go")
	assert.NotContains(t, bundle.Diff.Text, "remote.go")
}

func TestResolve_UnknownTargetFailsBeforeDiff(t *testing.T) {
	dir := setupRepo(t)
	r := NewResolver(dir, nil)

	_, err := r.Resolve("main", "missing", DefaultLimits())
	var unknownErr *UnknownRefError
	require.ErrorAs(t, err, &unknownErr)
}

func TestGit_NonZeroExitIsGitError(t *testing.T) {
	dir := setupRepo(t)
	r := NewResolver(dir, nil)

	_, err := r.git("merge-base", "deadbeef", "deadbeef")
	var gitErr *GitError
	require.True(t, errors.As(err, &gitErr))
	assert.Equal(t, "merge-base", gitErr.Args[0])
}

func TestResolve_TruncatesLargeDiff(t *testing.T) {
	dir := setupRepo(t)

	gitRun(t, dir, "checkout", "-b", "big")
	var b strings.Builder
	for i := 0; i < 2000; i++ {
		fmt.Fprintf(&b, "// filler line %d\n", i)
	}
	writeAndCommit(t, dir, "big.go", "package a\n"+b.String(), "big change")

	r := NewResolver(dir, nil)
	bundle, err := r.Resolve("main", "big", Limits{NameStatusMax: DefaultNameStatusMax, DiffMax: 500})
	require.NoError(t, err)

	assert.True(t, bundle.Diff.Truncated)
	assert.Contains(t, bundle.Diff.Text, "chars truncated")
	assert.Greater(t, bundle.Diff.TotalBytes, 500)
	marker := truncationMarker(bundle.Diff.TotalBytes - 500)
	assert.Len(t, bundle.Diff.Text, 500+len(marker))
	assert.False(t, bundle.NameStatus.Truncated)

	// The applied ceilings travel with the sections, so downstream
	// consumers report the real limit rather than the default.
	assert.Equal(t, 500, bundle.Diff.Limit)
	assert.Equal(t, DefaultNameStatusMax, bundle.NameStatus.Limit)
}
