package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ferdiu/latex-server/internal/config"
	"github.com/ferdiu/latex-server/internal/log"
	"github.com/ferdiu/latex-server/internal/runner"
	"github.com/ferdiu/latex-server/internal/workspace"
)

// Compiler orchestrates multi-pass typesetting runs: stage a workspace, run
// the engine under timeout control, inspect the output to decide whether the
// bibliography tool or another pass is needed, then extract the artifact.
//
// Compile only returns a non-nil error for infrastructure problems (invalid
// path, workspace I/O). Every document-level result, including total failure
// to produce an artifact, is a normal Outcome.
type Compiler struct {
	cfg        config.CompilerConfig
	workspaces *workspace.Manager
	runner     *runner.Runner
	logger     *slog.Logger
}

// New creates a Compiler bound to an immutable configuration snapshot.
func New(cfg config.CompilerConfig, workspaces *workspace.Manager) *Compiler {
	return &Compiler{
		cfg:        cfg,
		workspaces: workspaces,
		runner:     runner.New(),
		logger:     log.WithComponent("compiler"),
	}
}

// Compile runs the full pass loop for one request. runID names the workspace
// directory and must be unique per concurrent run.
func (c *Compiler) Compile(ctx context.Context, runID string, req Request) (Outcome, error) {
	runLogger := log.WithJob(runID)

	files := make(map[string][]byte, len(req.Files)+1)
	files[MainFilename] = []byte(req.Main)
	// An explicit files entry for the entry filename overrides Main, matching
	// the original service's precedence.
	for name, entry := range req.Files {
		files[name] = entry.Content
	}

	ws, err := c.workspaces.Stage(ctx, runID, files)
	if err != nil {
		if errors.Is(err, workspace.ErrInvalidPath) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("stage workspace: %w", err)
	}
	defer func() {
		if err := c.workspaces.Release(ws); err != nil {
			runLogger.Error("failed to release workspace", "error", err)
		}
	}()
	runLogger.Info("workspace staged", "dir", ws.Dir, "files", len(files))

	out := Outcome{}
	var logParts []string

	appendPass := func(header string, rec runner.PassRecord) {
		out.Records = append(out.Records, rec)
		text := rec.CombinedOutput
		if rec.TimedOut {
			text += "\nCommand timed out"
		}
		logParts = append(logParts, header, text)
	}

	runEngine := func(header string) runner.PassRecord {
		args := append(append([]string{}, c.cfg.LatexArgs...), MainFilename)
		rec := c.runner.Run(ctx, runner.Command{
			Name:    c.cfg.LatexCommand,
			Args:    args,
			Dir:     ws.Dir,
			Timeout: c.cfg.CommandTimeout,
		})
		appendPass(header, rec)
		return rec
	}

	// First compilation pass.
	rec := runEngine("=== Initial LaTeX compilation ===")
	out.EnginePasses = 1
	if rec.ExitCode != 0 {
		runLogger.Warn("first compilation failed, but continuing", "exit_code", rec.ExitCode)
	}

	// Bibliography runs at most once per request, and forces exactly one
	// rerun regardless of what the bibliography tool's own output says.
	bibliographyForced := false
	if Analyze(rec.CombinedOutput).NeedsBibliography {
		bibRec := c.runner.Run(ctx, runner.Command{
			Name:    c.cfg.BibtexCommand,
			Args:    []string{strings.TrimSuffix(MainFilename, ".tex")},
			Dir:     ws.Dir,
			Timeout: c.cfg.CommandTimeout,
		})
		appendPass("\n=== BibTeX compilation ===", bibRec)
		out.BibliographyRuns = 1
		bibliographyForced = true
		if bibRec.ExitCode == 0 {
			runLogger.Info("bibliography compilation successful")
		} else {
			runLogger.Warn("bibliography compilation had issues", "exit_code", bibRec.ExitCode)
		}
	}

	// Additional passes until the latest output stops asking for one or the
	// pass budget runs out. The budget is hard: a rerun marker on the final
	// allowed pass does not buy another. Exhausting it is best-effort
	// termination, not failure.
	last := out.Records[len(out.Records)-1]
	for out.EnginePasses < c.cfg.MaxPasses {
		needsRerun := Analyze(last.CombinedOutput).NeedsRerun
		if bibliographyForced {
			needsRerun = true
			bibliographyForced = false
		}
		if !needsRerun {
			break
		}

		out.EnginePasses++
		last = runEngine(fmt.Sprintf("\n=== LaTeX compilation pass %d ===", out.EnginePasses))
		if last.ExitCode != 0 {
			runLogger.Warn("compilation pass had issues", "pass", out.EnginePasses, "exit_code", last.ExitCode)
		}
	}

	artifact, err := c.extractArtifact(ws)
	if err != nil {
		return Outcome{}, err
	}
	if artifact == nil {
		runLogger.Error("artifact was not generated", "passes", out.EnginePasses)
		logParts = append(logParts, "\n=== ERROR: PDF file was not generated ===")
	} else {
		runLogger.Info("artifact generated", "bytes", len(artifact), "passes", out.EnginePasses)
	}
	out.Artifact = artifact
	out.Log = strings.Join(logParts, "\n")

	return out, nil
}

// extractArtifact reads the expected output file. A missing or empty file is
// an explicit "no artifact" (nil), never conflated with success; any other
// read failure is an infrastructure error.
func (c *Compiler) extractArtifact(ws workspace.Workspace) ([]byte, error) {
	data, err := c.workspaces.ReadFile(ws, ArtifactFilename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
