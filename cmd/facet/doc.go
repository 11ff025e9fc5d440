// Facet is a CLI that reviews branch diffs with coding-agent backends.
//
// It resolves a repository (by path or by app.id lookup), diffs a target
// branch against a base branch from their merge base, assembles one prompt
// per analysis mode, and dispatches the prompts in parallel to agent CLIs
// such as claude, codex, and copilot. Each run produces a timestamped
// directory of prompts, raw backend output, extracted JSON results, and a
// manifest, with deterministic exit codes suitable for CI gating.
//
// Usage:
//
//	facet run --repo . -b main -t feature          # review a branch
//	facet run --appid billing --mode analyze       # locate repo by app.id
//	facet run --repo . --mode review --mode priority --backend codex
//	facet run --repo . --prompt-only               # save prompts, skip dispatch
//	facet backends list                            # show installed backends
package main
