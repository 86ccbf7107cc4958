// Package hook runs the commands configured before and after a mail merge.
package hook

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/oarkflow/mailmerge/internal/config"
	"github.com/oarkflow/mailmerge/internal/tmpl"
)

// Runner executes hooks. Commands, conditions and env values may use
// {{name}} placeholders resolved against the runner variables.
type Runner struct {
	vars    map[string]string
	workDir string

	// Stdout and Stderr receive the output of hooks with output enabled
	Stdout io.Writer
	Stderr io.Writer
}

// NewRunner creates a new hook runner
func NewRunner(vars map[string]string, workDir string) *Runner {
	return &Runner{
		vars:    vars,
		workDir: workDir,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

func (r *Runner) apply(s string) string {
	return tmpl.New(r.vars, tmpl.Options{}).Apply(s)
}

// Run executes a hook
func (r *Runner) Run(ctx context.Context, hook config.Hook) error {
	// Check condition
	if hook.If != "" {
		condition := strings.TrimSpace(r.apply(hook.If))
		if condition != "true" && condition != "1" {
			log.Debug("Skipping hook due to condition", "condition", hook.If)
			return nil
		}
	}

	cmd := strings.TrimSpace(r.apply(hook.Cmd))
	if cmd == "" {
		return nil
	}

	log.Info("Running hook", "cmd", cmd)

	var c *exec.Cmd
	if hook.Shell {
		shellPath := os.Getenv("SHELL")
		if shellPath == "" {
			if runtime.GOOS == "windows" {
				shellPath = "powershell.exe"
			} else {
				shellPath = "/bin/sh"
			}
		}
		if runtime.GOOS == "windows" {
			c = exec.CommandContext(ctx, shellPath, "-Command", cmd)
		} else {
			c = exec.CommandContext(ctx, shellPath, "-c", cmd)
		}
	} else {
		parts := strings.Fields(cmd)
		c = exec.CommandContext(ctx, parts[0], parts[1:]...)
	}

	c.Dir = r.workDir
	if hook.Dir != "" {
		c.Dir = hook.Dir
	}

	c.Env = os.Environ()
	for key, value := range hook.Env {
		c.Env = append(c.Env, fmt.Sprintf("%s=%s", key, r.apply(value)))
	}

	if hook.Output {
		c.Stdout = r.Stdout
		c.Stderr = r.Stderr
	}

	if err := c.Run(); err != nil {
		if hook.FailFast {
			return fmt.Errorf("hook %q failed: %w", cmd, err)
		}
		log.Warn("Hook failed but continuing", "cmd", cmd, "error", err)
	}

	return nil
}

// RunHooks executes hooks in order, stopping at the first fail-fast error
func (r *Runner) RunHooks(ctx context.Context, hooks []config.Hook) error {
	for _, hook := range hooks {
		if err := r.Run(ctx, hook); err != nil {
			return err
		}
	}
	return nil
}
