// Package gitdiff computes the diff bundle between two branches of a git
// repository by shelling out to git.
//
// Branch names are resolved to commits with remote fallbacks (origin/<name>,
// remotes/origin/<name>). When the base branch has an upstream that is ahead
// of the local checkout, the upstream commit is substituted as the effective
// base so the review does not run against a stale local branch. The actual
// diff origin is the merge-base of the effective base and the target, which
// keeps base-only history out of the diff.
//
// Both diff texts (name-status summary and full unified diff) are truncated
// to configurable byte ceilings by keeping a head and a tail slice around a
// sentinel marker; truncation is deterministic.
package gitdiff
