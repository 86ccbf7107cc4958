package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	completionCmd := &cobra.Command{
		Use:   "completion [shell]",
		Short: "Generate shell completions",
		Long: `Generate shell completion scripts for various shells.

The completion script must be sourced in your shell's configuration file.

Bash:
  Add the following to ~/.bashrc:
    source <(mailmerge completion bash)

  Or save to a file:
    mailmerge completion bash > /etc/bash_completion.d/mailmerge

Zsh:
  Add the following to ~/.zshrc:
    source <(mailmerge completion zsh)

  Or save to completion directory:
    mailmerge completion zsh > "${fpath[1]}/_mailmerge"

Fish:
  Add the following to ~/.config/fish/config.fish:
    mailmerge completion fish | source

  Or save to completion directory:
    mailmerge completion fish > ~/.config/fish/completions/mailmerge.fish

PowerShell:
  Add the following to your PowerShell profile:
    mailmerge completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             shells,
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return genCompletion(cmd.Root(), args[0], cmd.OutOrStdout())
		},
	}

	completionInstallCmd := &cobra.Command{
		Use:   "install [shell]",
		Short: "Install shell completions",
		Long: `Install shell completion scripts to the appropriate location.

Examples:
  mailmerge completion install bash
  mailmerge completion install zsh
  mailmerge completion install fish
  mailmerge completion install powershell
`,
		ValidArgs: shells,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return installCompletion(cmd.Root(), args[0], cmd.OutOrStdout())
		},
	}

	completionCmd.AddCommand(completionInstallCmd)
	return completionCmd
}

var shells = []string{"bash", "zsh", "fish", "powershell"}

func genCompletion(rootCmd *cobra.Command, shell string, w io.Writer) error {
	switch shell {
	case "bash":
		return rootCmd.GenBashCompletion(w)
	case "zsh":
		return rootCmd.GenZshCompletion(w)
	case "fish":
		return rootCmd.GenFishCompletion(w, true)
	case "powershell":
		return rootCmd.GenPowerShellCompletionWithDesc(w)
	}
	return fmt.Errorf("unsupported shell: %s", shell)
}

// completionPaths lists candidate install locations per shell, preferred first
func completionPaths(shell string) []string {
	home, _ := os.UserHomeDir()
	switch shell {
	case "bash":
		return []string{
			filepath.Join(home, ".local/share/bash-completion/completions/mailmerge"),
			filepath.Join(home, ".bash_completion.d/mailmerge"),
		}
	case "zsh":
		return []string{
			filepath.Join(home, ".zsh/completions/_mailmerge"),
			filepath.Join(home, ".local/share/zsh/site-functions/_mailmerge"),
		}
	case "fish":
		return []string{filepath.Join(home, ".config/fish/completions/mailmerge.fish")}
	case "powershell":
		return []string{
			filepath.Join(home, ".config/powershell/mailmerge.ps1"),
			filepath.Join(home, "Documents", "PowerShell", "mailmerge.ps1"),
		}
	}
	return nil
}

// installCompletion writes the completion script for shell to the first
// usable location
func installCompletion(rootCmd *cobra.Command, shell string, w io.Writer) error {
	var content bytes.Buffer
	if err := genCompletion(rootCmd, shell, &content); err != nil {
		return err
	}

	candidates := completionPaths(shell)
	path := candidates[0]
	for _, loc := range candidates {
		if _, err := os.Stat(filepath.Dir(loc)); err == nil {
			path = loc
			break
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create completion directory: %w", err)
	}
	if err := os.WriteFile(path, content.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write completion file: %w", err)
	}

	fmt.Fprintf(w, "Completion script installed to: %s\n", path)

	// Print additional instructions
	switch shell {
	case "bash":
		fmt.Fprintln(w, "\nTo enable completions, add to ~/.bashrc:")
		fmt.Fprintf(w, "  source %s\n", path)
	case "zsh":
		fmt.Fprintln(w, "\nTo enable completions, add to ~/.zshrc:")
		fmt.Fprintf(w, "  fpath=(%s $fpath)\n", filepath.Dir(path))
		fmt.Fprintln(w, "  autoload -Uz compinit && compinit")
	case "fish":
		fmt.Fprintln(w, "\nFish completions are automatically loaded.")
	case "powershell":
		fmt.Fprintln(w, "\nTo enable completions, add to your PowerShell profile:")
		fmt.Fprintf(w, "  . %s\n", path)
	}

	return nil
}
