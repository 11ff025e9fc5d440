package backend

import "context"

// Claude invokes the Claude Code CLI in non-interactive print mode with the
// prompt on stdin.
type Claude struct{}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Invoke(ctx context.Context, req Request) (Result, error) {
	args := []string{"-p", "-"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	return run(ctx, c.Name(), "claude", args, req.Prompt, req.WorkDir)
}
