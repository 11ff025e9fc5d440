// Package redact removes secrets from diff text before it is embedded in a
// prompt and sent to an external backend CLI.
//
// Detection uses regex heuristics covering common secret shapes: API keys,
// JWTs, private keys, AWS access key IDs and secret access keys, bearer
// tokens, and provider-specific tokens (Anthropic, OpenAI, GitHub, GitLab,
// Slack). Patterns never span lines, so redacted diffs keep their unified
// diff structure.
package redact
