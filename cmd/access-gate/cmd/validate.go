package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
	"github.com/Sentinel-Gate/accessgate/internal/service"
)

var validateTimezone string

var validateCmd = &cobra.Command{
	Use:   "validate <policy-file>",
	Short: "Check a policy file",
	Long: `Check that every policy in a YAML policy file is well formed and that
all of its conditions compile. Problems are listed per policy; the command
fails if any are found.

Example:
  access-gate validate policies.yaml --timezone Europe/Berlin`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateTimezone, "timezone", "UTC", "reference timezone for time_range conditions")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	policies, err := loadPolicySet(args[0])
	if err != nil {
		return err
	}
	decisions, _, err := newOfflineDecisions(policies, offlineFlags{defaultAction: "deny", timezone: validateTimezone}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	problems := checkPolicies(policies, decisions)
	out := cmd.OutOrStdout()
	for _, p := range problems {
		fmt.Fprintln(out, p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %d problem(s) found", args[0], len(problems))
	}
	fmt.Fprintf(out, "%s: %d policies OK\n", args[0], len(policies))
	return nil
}

// checkPolicies reports duplicate IDs, invalid fields and conditions
// that do not compile, in file order.
func checkPolicies(policies []policy.Policy, decisions *service.DecisionService) []string {
	var problems []string
	seen := make(map[string]bool, len(policies))
	for _, p := range policies {
		label := fmt.Sprintf("%s (%s)", p.ID, p.Name)
		if seen[p.ID] {
			problems = append(problems, label+": duplicate id")
		}
		seen[p.ID] = true

		if err := p.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		for _, issue := range policy.Compile(p, decisions.Registry()).Issues() {
			problems = append(problems, fmt.Sprintf("%s: condition %s: %s", label, issue.Type, issue.Message))
		}
	}
	return problems
}
