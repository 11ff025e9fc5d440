package backend

import "context"

// Codex invokes the OpenAI Codex CLI. exec --full-auto skips confirmation
// prompts; -o /dev/stdout emits only the final message, so stdout looks
// like claude's print mode. The trailing "-" reads the prompt from stdin.
type Codex struct{}

func (c *Codex) Name() string { return "codex" }

func (c *Codex) Invoke(ctx context.Context, req Request) (Result, error) {
	args := []string{"exec", "--full-auto", "-o", "/dev/stdout"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, "-")
	return run(ctx, c.Name(), "codex", args, req.Prompt, req.WorkDir)
}
