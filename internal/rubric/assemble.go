package rubric

import (
	"fmt"
	"strings"

	"facet/internal/gitdiff"
)

// Meta carries run identity for the prompt metadata block.
type Meta struct {
	AppID        string
	RepoRoot     string
	BaseBranch   string
	TargetBranch string
	WithContext  bool
}

// Assemble composes the final prompt for one mode: rubric text, a header,
// the run metadata block, the name-status summary, and the fenced unified
// diff. An empty rubric is allowed; assembly proceeds with the diff
// sections alone.
func Assemble(r *Rubric, bundle *gitdiff.Bundle, meta Meta) string {
	var b strings.Builder

	if r != nil && r.Text != "" {
		b.WriteString(r.Text)
		b.WriteString("\n\n-----\n\n")
		b.WriteString("The merge request diff to work on follows.\n\n")
	}

	if meta.WithContext {
		b.WriteString("You are running inside the target repository; the working directory is the repo root.\n")
		b.WriteString("You may read files, search the code, and run git commands to understand context\n")
		b.WriteString("beyond the diff: implementations of changed functions, their callers, and tests.\n\n")
	} else {
		b.WriteString("Work only from the information provided below.\n\n")
	}

	b.WriteString("Run metadata:\n")
	fmt.Fprintf(&b, "- appId: %s\n", meta.AppID)
	fmt.Fprintf(&b, "- repoRoot: %s\n", meta.RepoRoot)
	fmt.Fprintf(&b, "- baseBranch: %s\n", meta.BaseBranch)
	fmt.Fprintf(&b, "- targetBranch: %s\n", meta.TargetBranch)
	fmt.Fprintf(&b, "- baseRefUsed: %s\n", bundle.BaseRefUsed)
	fmt.Fprintf(&b, "- baseSha: %s\n", bundle.Base.Commit)
	fmt.Fprintf(&b, "- targetSha: %s\n", bundle.Target.Commit)
	fmt.Fprintf(&b, "- mergeBaseSha: %s\n\n", bundle.MergeBase)

	b.WriteString("To reproduce the diff locally:\n")
	fmt.Fprintf(&b, "- git merge-base %s %s\n", bundle.Base.Commit, bundle.Target.Commit)
	fmt.Fprintf(&b, "- git diff --name-status --no-color %s..%s\n", bundle.MergeBase, bundle.Target.Commit)
	fmt.Fprintf(&b, "- git diff --no-color %s..%s\n\n", bundle.MergeBase, bundle.Target.Commit)

	b.WriteString("Changed files (git diff --name-status):\n")
	b.WriteString(strings.TrimSpace(bundle.NameStatus.Text))
	if bundle.NameStatus.Truncated {
		fmt.Fprintf(&b, "\n[note] name-status output truncated (limit=%d bytes, originalLines=%d).\n",
			bundle.NameStatus.Limit, bundle.NameStatus.TotalLines)
	}
	b.WriteString("\n\n")

	b.WriteString("Unified diff (git diff, possibly truncated):\n")
	b.WriteString("```diff\n")
	b.WriteString(bundle.Diff.Text)
	if !strings.HasSuffix(bundle.Diff.Text, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	if bundle.Diff.Truncated {
		fmt.Fprintf(&b, "[note] diff output truncated (limit=%d bytes, originalLines=%d).\n",
			bundle.Diff.Limit, bundle.Diff.TotalLines)
		if meta.WithContext {
			b.WriteString("Read the full files or run the git commands above for the complete diff.\n")
		} else {
			b.WriteString("Prioritize high-risk issues visible in the diff shown; the git commands above reproduce the full diff.\n")
		}
	}

	return b.String()
}
