package backend

import "context"

// copilotModels maps shorthand model names to the identifiers the copilot
// CLI expects. Names not in the table pass through unchanged, so full
// identifiers (claude-sonnet-4.5, gpt-5.1-codex, gpt-5.1-codex-mini,
// gpt-5-mini, gpt-4.1, gemini-3-pro-preview, ...) work as-is.
var copilotModels = map[string]string{
	"sonnet": "claude-sonnet-4.5",
	"haiku":  "claude-haiku-4.5",
	"opus":   "claude-opus-4.5",
}

func resolveCopilotModel(model string) string {
	if mapped, ok := copilotModels[model]; ok {
		return mapped
	}
	return model
}

// Copilot invokes the GitHub Copilot CLI. Unlike the other backends the
// prompt is passed as an argument; -s silences everything but the agent
// response.
type Copilot struct{}

func (c *Copilot) Name() string { return "copilot" }

func (c *Copilot) Invoke(ctx context.Context, req Request) (Result, error) {
	args := []string{"-p", req.Prompt, "-s", "--allow-all-tools"}
	if req.Model != "" {
		args = append(args, "--model", resolveCopilotModel(req.Model))
	}
	return run(ctx, c.Name(), "copilot", args, "", req.WorkDir)
}
