package gitdiff

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Byte ceilings for the two diff texts.
const (
	DefaultNameStatusMax = 200_000
	DefaultDiffMax       = 400_000
)

// Limits holds the truncation ceilings for a diff bundle.
type Limits struct {
	NameStatusMax int
	DiffMax       int
}

// DefaultLimits returns the standard ceilings.
func DefaultLimits() Limits {
	return Limits{
		NameStatusMax: DefaultNameStatusMax,
		DiffMax:       DefaultDiffMax,
	}
}

// BranchRef is a branch name resolved to a commit.
type BranchRef struct {
	Name   string `json:"name"`
	Commit string `json:"commit"`
}

// Section is one text output of the bundle with truncation metadata.
// TotalLines and TotalBytes describe the text before truncation; Limit is
// the byte ceiling that was applied to it.
type Section struct {
	Text       string `json:"-"`
	Truncated  bool   `json:"truncated"`
	Limit      int    `json:"limit"`
	TotalLines int    `json:"totalLines"`
	TotalBytes int    `json:"totalBytes"`
}

// Bundle is the immutable result of resolving a branch comparison.
// It is shared read-only by every downstream task.
type Bundle struct {
	Base        BranchRef `json:"base"`
	Target      BranchRef `json:"target"`
	BaseRefUsed string    `json:"baseRefUsed"`
	MergeBase   string    `json:"mergeBase"`
	NameStatus  Section   `json:"nameStatus"`
	Diff        Section   `json:"diff"`
}

// UnknownRefError reports a branch name that could not be resolved to a
// commit, locally or on origin.
type UnknownRefError struct {
	Name string
}

func (e *UnknownRefError) Error() string {
	return fmt.Sprintf("cannot resolve ref %q", e.Name)
}

// GitError reports a git invocation that exited non-zero.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *GitError) Unwrap() error { return e.Err }

// Resolver computes diff bundles for a single repository.
type Resolver struct {
	RepoRoot string
	Log      *zap.Logger
}

// NewResolver creates a resolver rooted at repoRoot. A nil logger is
// replaced with a no-op logger.
func NewResolver(repoRoot string, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{RepoRoot: repoRoot, Log: log}
}

func (r *Resolver) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.RepoRoot
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return "", &GitError{Args: args, Stderr: stderr, Err: err}
	}
	return string(out), nil
}

// ResolveRef resolves a branch name or ref to a commit SHA. Local refs are
// tried first, then origin/<name> and remotes/origin/<name>, so a branch
// that only exists on the remote still resolves.
func (r *Resolver) ResolveRef(name string) (string, error) {
	for _, candidate := range []string{name, "origin/" + name, "remotes/origin/" + name} {
		out, err := r.git("rev-parse", "--verify", candidate)
		if err == nil {
			return strings.TrimSpace(out), nil
		}
	}
	return "", &UnknownRefError{Name: name}
}

// upstreamAhead reports the base branch's configured upstream ref and
// whether the upstream has commits the local branch does not.
func (r *Resolver) upstreamAhead(base string) (string, bool) {
	out, err := r.git("rev-parse", "--abbrev-ref", "--symbolic-full-name", base+"@{upstream}")
	if err != nil {
		return "", false
	}
	upstream := strings.TrimSpace(out)
	if upstream == "" {
		return "", false
	}

	counts, err := r.git("rev-list", "--left-right", "--count", base+"..."+upstream)
	if err != nil {
		return upstream, false
	}
	fields := strings.Fields(strings.TrimSpace(counts))
	if len(fields) < 2 {
		return upstream, false
	}
	ahead, err := strconv.Atoi(fields[1])
	if err != nil {
		return upstream, false
	}
	return upstream, ahead > 0
}

// Resolve computes the full diff bundle for base..target.
func (r *Resolver) Resolve(baseBranch, targetBranch string, limits Limits) (*Bundle, error) {
	baseSHA, err := r.ResolveRef(baseBranch)
	if err != nil {
		return nil, err
	}
	baseRefUsed := baseBranch

	// Prefer the upstream commit when the remote base is ahead of the
	// local checkout, so the diff basis is not stale.
	if upstream, ahead := r.upstreamAhead(baseBranch); ahead {
		if sha, err := r.ResolveRef(upstream); err == nil {
			r.Log.Info("base branch upstream is ahead; using upstream as effective base",
				zap.String("base", baseBranch),
				zap.String("upstream", upstream))
			baseRefUsed = upstream
			baseSHA = sha
		}
	}

	targetSHA, err := r.ResolveRef(targetBranch)
	if err != nil {
		return nil, err
	}

	mergeBaseOut, err := r.git("merge-base", targetSHA, baseSHA)
	if err != nil {
		return nil, err
	}
	mergeBase := strings.TrimSpace(mergeBaseOut)

	rangeSpec := mergeBase + ".." + targetSHA

	nameStatus, err := r.git("diff", "--name-status", "--no-color", rangeSpec)
	if err != nil {
		return nil, err
	}
	diff, err := r.git("diff", "--no-color", rangeSpec)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Base:        BranchRef{Name: baseBranch, Commit: baseSHA},
		Target:      BranchRef{Name: targetBranch, Commit: targetSHA},
		BaseRefUsed: baseRefUsed,
		MergeBase:   mergeBase,
		NameStatus:  newSection(nameStatus, limits.NameStatusMax),
		Diff:        newSection(diff, limits.DiffMax),
	}, nil
}

func newSection(text string, max int) Section {
	truncated, wasTruncated := Truncate(text, max)
	return Section{
		Text:       truncated,
		Truncated:  wasTruncated,
		Limit:      max,
		TotalLines: strings.Count(text, "\n"),
		TotalBytes: len(text),
	}
}

// Truncate bounds s to roughly max bytes by keeping a head slice of max/2
// bytes and a tail slice of max-max/2 bytes with a sentinel marker spliced
// between them. Inputs at or under the ceiling pass through unchanged.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	head := max / 2
	tail := max - head
	removed := len(s) - max
	return s[:head] + truncationMarker(removed) + s[len(s)-tail:], true
}

func truncationMarker(removed int) string {
	return fmt.Sprintf("…%d chars truncated…", removed)
}
