package doctor

import (
	"testing"

	"github.com/ferdiu/latex-server/internal/config"
)

func TestRunFindsShellTools(t *testing.T) {
	cfg := config.Defaults()
	// Stand-ins that exist on any test machine.
	cfg.Compiler.LatexCommand = "sh"
	cfg.Compiler.BibtexCommand = "true"

	checks := Run(cfg)
	if len(checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(checks))
	}
	if !Healthy(checks) {
		t.Fatalf("expected healthy checks, got %+v", checks)
	}
	for _, c := range checks {
		if c.Detail == "" {
			t.Fatalf("check %q has no resolved path", c.Name)
		}
	}
}

func TestRunReportsMissingEngine(t *testing.T) {
	cfg := config.Defaults()
	cfg.Compiler.LatexCommand = "definitely-not-a-real-engine-xyz"
	cfg.Compiler.BibtexCommand = "true"

	checks := Run(cfg)
	if Healthy(checks) {
		t.Fatalf("expected unhealthy result, got %+v", checks)
	}

	var found bool
	for _, c := range checks {
		if c.Name == "latex engine" && !c.OK {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing engine was not flagged: %+v", checks)
	}
}
