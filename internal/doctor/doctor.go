package doctor

import (
	"fmt"
	"os/exec"

	"github.com/ferdiu/latex-server/internal/config"
)

// Check is one environment probe result.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Run probes the environment a server needs: the typesetting engine and the
// bibliography tool must both be resolvable on PATH.
func Run(cfg *config.Config) []Check {
	checks := make([]Check, 0, 2)
	checks = append(checks, lookPath("latex engine", cfg.Compiler.LatexCommand))
	checks = append(checks, lookPath("bibliography tool", cfg.Compiler.BibtexCommand))
	return checks
}

// Healthy reports whether every check passed.
func Healthy(checks []Check) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func lookPath(name, command string) Check {
	path, err := exec.LookPath(command)
	if err != nil {
		return Check{Name: name, OK: false, Detail: fmt.Sprintf("%s not found on PATH", command)}
	}
	return Check{Name: name, OK: true, Detail: path}
}
