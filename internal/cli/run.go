package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"facet/internal/backend"
	"facet/internal/config"
	"facet/internal/gitdiff"
	"facet/internal/orchestrate"
	"facet/internal/redact"
	"facet/internal/repofind"
	"facet/internal/rubric"
)

// Run flags
var (
	flagRepo          string
	flagAppID         string
	flagSearchRoot    string
	flagBase          string
	flagTarget        string
	flagModes         []string
	flagBackend       string
	flagModel         string
	flagNoContext     bool
	flagTimeout       int
	flagOut           string
	flagNameStatusMax int
	flagDiffMax       int
	flagPromptOnly    bool
	flagNoRedact      bool
	flagVerbose       bool
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagRepo, "repo", "", "Path inside the repository to review")
	cmd.Flags().StringVar(&flagAppID, "appid", "", "Locate the repository by app.id in an app.properties file")
	cmd.Flags().StringVar(&flagSearchRoot, "search-root", "", "Directory to search for --appid (default: current directory)")
	cmd.Flags().StringVarP(&flagBase, "base", "b", "", "Base branch to diff against (default: main)")
	cmd.Flags().StringVarP(&flagTarget, "target", "t", "", "Target branch to review (default: HEAD)")
	cmd.Flags().StringSliceVar(&flagModes, "mode", nil, "Analysis modes to run (review, analyze, priority, all; repeatable)")
	cmd.Flags().StringVar(&flagBackend, "backend", "", "Coding-agent CLI to dispatch to (claude, codex, copilot)")
	cmd.Flags().StringVar(&flagModel, "model", "", "Model name passed to the backend")
	cmd.Flags().BoolVar(&flagNoContext, "no-context", false, "Tell the backend to work from the diff alone, without exploring the repo")
	cmd.Flags().IntVar(&flagTimeout, "timeout", 0, "Per-task timeout in seconds")
	cmd.Flags().StringVar(&flagOut, "out", "", "Directory to create the run directory in (default: current directory)")
	cmd.Flags().IntVar(&flagNameStatusMax, "max-name-status-bytes", 0, "Truncation ceiling for the name-status summary")
	cmd.Flags().IntVar(&flagDiffMax, "max-diff-bytes", 0, "Truncation ceiling for the unified diff")
	cmd.Flags().BoolVar(&flagPromptOnly, "prompt-only", false, "Assemble and save prompts, skip backend dispatch")
	cmd.Flags().BoolVar(&flagNoRedact, "no-redact", false, "Disable secret redaction (use with caution)")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
}

func buildOverrides() map[string]string {
	m := make(map[string]string)
	if flagBackend != "" {
		m["backend"] = flagBackend
	}
	if flagModel != "" {
		m["model"] = flagModel
	}
	if flagSearchRoot != "" {
		m["searchRoot"] = flagSearchRoot
	}
	if flagBase != "" {
		m["baseBranch"] = flagBase
	}
	if len(flagModes) > 0 {
		m["modes"] = strings.Join(flagModes, ",")
	}
	if flagOut != "" {
		m["out"] = flagOut
	}
	if flagTimeout > 0 {
		m["taskTimeoutSeconds"] = fmt.Sprintf("%d", flagTimeout)
	}
	if flagNameStatusMax > 0 {
		m["nameStatusMaxBytes"] = fmt.Sprintf("%d", flagNameStatusMax)
	}
	if flagDiffMax > 0 {
		m["diffMaxBytes"] = fmt.Sprintf("%d", flagDiffMax)
	}
	return m
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return c.Build()
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Diff two branches and dispatch review tasks",
	Long: `Run resolves the repository, diffs the target branch against the base
branch from their merge base, assembles one prompt per mode, and dispatches
each prompt to the configured backend CLI. Results land in a timestamped
run directory alongside the raw output and a manifest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(buildOverrides())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		if flagNoRedact {
			cfg.Privacy.RedactSecrets = false
			fmt.Fprintln(os.Stderr, "WARNING: secret redaction is disabled")
		}
		if flagNoContext {
			cfg.WithContext = false
		}

		if (flagRepo == "") == (flagAppID == "") {
			fmt.Fprintln(os.Stderr, "Error: exactly one of --repo or --appid is required")
			exitCode = ExitUsageError
			return nil
		}
		if !slices.Contains(backend.Names(), cfg.Backend) {
			fmt.Fprintf(os.Stderr, "Error: unknown backend %q (known: %s)\n",
				cfg.Backend, strings.Join(backend.Names(), ", "))
			exitCode = ExitUsageError
			return nil
		}

		modes := make([]rubric.Mode, 0, len(cfg.Modes))
		for _, s := range cfg.Modes {
			if s == "all" {
				modes = rubric.AllModes()
				break
			}
			m, err := rubric.ParseMode(s)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				exitCode = ExitUsageError
				return nil
			}
			if !slices.Contains(modes, m) {
				modes = append(modes, m)
			}
		}

		log, err := newLogger(flagVerbose)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		repoRoot, err := resolveRepoRoot(cfg, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		log.Info("repository resolved", zap.String("root", repoRoot))

		target := flagTarget
		if target == "" {
			target = "HEAD"
		}
		resolver := gitdiff.NewResolver(repoRoot, log)
		bundle, err := resolver.Resolve(cfg.BaseBranch, target, gitdiff.Limits{
			NameStatusMax: cfg.NameStatusMaxBytes,
			DiffMax:       cfg.DiffMaxBytes,
		})
		if err != nil {
			var unknown *gitdiff.UnknownRefError
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if errors.As(err, &unknown) {
				exitCode = ExitUsageError
			} else {
				exitCode = ExitRuntimeError
			}
			return nil
		}

		if cfg.Privacy.RedactSecrets {
			bundle.NameStatus.Text = redact.Secrets(bundle.NameStatus.Text)
			bundle.Diff.Text = redact.Secrets(bundle.Diff.Text)
		}

		meta := rubric.Meta{
			AppID:        flagAppID,
			RepoRoot:     repoRoot,
			BaseBranch:   cfg.BaseBranch,
			TargetBranch: target,
			WithContext:  cfg.WithContext,
		}

		loader := rubric.DefaultLoader(repoRoot)
		prompts := make(map[rubric.Mode]string, len(modes))
		for _, m := range modes {
			r, err := loader.Load(m)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				exitCode = ExitRuntimeError
				return nil
			}
			prompts[m] = rubric.Assemble(r, bundle, meta)
		}

		outDir := cfg.OutputDir
		if outDir == "" {
			outDir = "."
		}
		runDir := filepath.Join(outDir, orchestrate.RunDirName(time.Now()))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		if err := writeRunMeta(runDir, cfg, bundle, meta, modes); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}

		if flagPromptOnly {
			for _, m := range modes {
				p := filepath.Join(runDir, "prompt_"+string(m)+".txt")
				if err := os.WriteFile(p, []byte(prompts[m]), 0o644); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					exitCode = ExitRuntimeError
					return nil
				}
				fmt.Fprintf(os.Stdout, "Prompt saved: %s\n", p)
			}
			return nil
		}

		// Context access is granted by running the agent inside the repo;
		// without it the backend keeps a neutral working directory.
		workDir := ""
		if cfg.WithContext {
			workDir = repoRoot
		}
		tasks := make([]orchestrate.Task, 0, len(modes))
		for _, m := range modes {
			tasks = append(tasks, orchestrate.Task{
				Mode:    m,
				Backend: cfg.Backend,
				Model:   cfg.Model,
				WorkDir: workDir,
			})
		}

		runner := orchestrate.NewRunner(runDir, cfg.TaskTimeout, log)
		man, err := runner.Run(ctx, bundle, meta, tasks, prompts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}

		printRunSummary(man, runDir)
		switch man.Status {
		case orchestrate.StatusSuccess:
			exitCode = ExitSuccess
		case orchestrate.StatusPartial:
			exitCode = ExitPartial
		default:
			exitCode = ExitFailed
		}
		return nil
	},
}

func resolveRepoRoot(cfg config.Config, log *zap.Logger) (string, error) {
	if flagRepo != "" {
		abs, err := filepath.Abs(flagRepo)
		if err != nil {
			return "", err
		}
		root, ok := repofind.FindGitRoot(abs)
		if !ok {
			return "", fmt.Errorf("%s is not inside a git repository", abs)
		}
		return root, nil
	}

	searchRoot := cfg.SearchRoot
	if searchRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		searchRoot = wd
	}
	return repofind.Locate(searchRoot, flagAppID, log)
}

func writeRunMeta(runDir string, cfg config.Config, bundle *gitdiff.Bundle, meta rubric.Meta, modes []rubric.Mode) error {
	var b strings.Builder
	if meta.AppID != "" {
		fmt.Fprintf(&b, "appId: %s\n", meta.AppID)
	}
	fmt.Fprintf(&b, "repoRoot: %s\n", meta.RepoRoot)
	fmt.Fprintf(&b, "baseBranch: %s\n", bundle.Base.Name)
	fmt.Fprintf(&b, "baseRefUsed: %s\n", bundle.BaseRefUsed)
	fmt.Fprintf(&b, "baseSha: %s\n", bundle.Base.Commit)
	fmt.Fprintf(&b, "targetBranch: %s\n", bundle.Target.Name)
	fmt.Fprintf(&b, "targetSha: %s\n", bundle.Target.Commit)
	fmt.Fprintf(&b, "mergeBase: %s\n", bundle.MergeBase)
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	fmt.Fprintf(&b, "modes: %s\n", strings.Join(names, ","))
	fmt.Fprintf(&b, "backend: %s\n", cfg.Backend)
	if cfg.Model != "" {
		fmt.Fprintf(&b, "model: %s\n", cfg.Model)
	}
	fmt.Fprintf(&b, "createdAt: %s\n", time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(runDir, "meta.txt"), []byte(b.String()), 0o644)
}

func printRunSummary(man *orchestrate.Manifest, runDir string) {
	fmt.Fprintf(os.Stdout, "Run %s: %s (%d tasks) -> %s\n",
		man.RunID, man.Status, len(man.Tasks), runDir)
	ids := make([]string, 0, len(man.Tasks))
	for id := range man.Tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		res := man.Tasks[id]
		switch res.State {
		case orchestrate.StateFailed:
			fmt.Fprintf(os.Stderr, "  FAILED %s: %s (%s)\n", id, res.Error, res.FailureKind)
		case orchestrate.StateRecovered:
			fmt.Fprintf(os.Stdout, "  recovered %s -> %s\n", id, res.ResultPath)
		default:
			fmt.Fprintf(os.Stdout, "  ok %s -> %s\n", id, res.ResultPath)
		}
	}
}

func init() {
	addRunFlags(runCmd)
}
