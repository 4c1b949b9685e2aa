package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/accessgate/internal/config"
)

var (
	resetIncludeAudit bool
	resetForce        bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset access-gate to a clean state",
	Long: `Reset access-gate by removing persistent state files.

By default only state.json and its backup are removed. This clears every
policy created through the admin API when the memory store is in use. On
next start the policy set is seeded again from the config file.

Optional flags:
  --include-audit   Also remove the audit log directory
  --force           Skip confirmation prompt

Examples:
  access-gate reset
  access-gate reset --include-audit --force`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeAudit, "include-audit", false, "Also remove audit log files")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

type resetTarget struct {
	path string
	desc string
}

func runReset(cmd *cobra.Command, args []string) error {
	// Config errors are not fatal here: defaults still name the usual paths.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	targets := resetTargets(cfg, resolveStatePath(cfg), resetIncludeAudit)
	stderr := cmd.ErrOrStderr()

	var existing []resetTarget
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(stderr, "Nothing to reset, no state files found.")
		return nil
	}

	fmt.Fprintln(stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce && !confirm(cmd.InOrStdin(), stderr) {
		fmt.Fprintln(stderr, "Aborted.")
		return nil
	}

	statePath := targets[0].path
	if err := state.NewFileStateStore(statePath, slog.New(slog.DiscardHandler)).Reset(); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	_ = os.Remove(statePath + ".lock")
	fmt.Fprintf(stderr, "  Cleared state at %s\n", statePath)

	failed := 0
	for _, t := range existing[stateTargetCount(existing, statePath):] {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(stderr, "  ERROR removing %s: %v\n", t.path, err)
			failed++
		} else {
			fmt.Fprintf(stderr, "  Removed %s\n", t.path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d path(s) could not be removed", failed)
	}

	fmt.Fprintln(stderr, "\nReset complete. access-gate will start fresh on next launch.")
	return nil
}

// resetTargets lists the paths reset removes, existing or not.
func resetTargets(cfg *config.Config, statePath string, includeAudit bool) []resetTarget {
	targets := []resetTarget{
		{statePath, "state file"},
		{statePath + ".bak", "state backup"},
	}
	if includeAudit && cfg.Audit.Output == config.OutputFile && cfg.Audit.Dir != "" {
		targets = append(targets, resetTarget{cfg.Audit.Dir, "audit directory"})
	}
	return targets
}

// stateTargetCount returns how many leading entries of existing are the
// state file or its backup; those are removed under the state file lock.
func stateTargetCount(existing []resetTarget, statePath string) int {
	n := 0
	for _, t := range existing {
		if t.path != statePath && t.path != statePath+".bak" {
			break
		}
		n++
	}
	return n
}

func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "\nProceed? [y/N] ")
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.TrimSpace(answer)
	return answer == "y" || answer == "Y"
}

// resolveStatePath prefers --state over store.state_path.
func resolveStatePath(cfg *config.Config) string {
	if stateFilePath != "" {
		return stateFilePath
	}
	if cfg.Store.StatePath != "" {
		return cfg.Store.StatePath
	}
	return "./state.json"
}
