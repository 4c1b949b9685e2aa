package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/accessgate/internal/service"
)

var (
	evalPoliciesPath string
	evalRequest      string
	evalExplain      bool
	evalExitCode     bool
	evalFlags        offlineFlags
)

// errNotAllowed is returned by evaluate --exit-code for non-allow decisions.
var errNotAllowed = errors.New("access not allowed")

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one request against a policy file",
	Long: `Evaluate an access request against the policies in a YAML policy file
and print the decision as JSON. Nothing is persisted or audited.

The request is a JSON object in the admin API's decide format. Pass it
inline, as @path to read a file, or as - to read stdin.

Examples:
  access-gate evaluate --policies policies.yaml \
    --request '{"principal_id":"alice","groups":["eng"],"object":"repo/main"}'

  access-gate evaluate --policies policies.yaml --request @req.json --explain

  # Fail in CI unless the request is allowed
  access-gate evaluate --policies policies.yaml --request - --exit-code < req.json`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalPoliciesPath, "policies", "", "policy file (YAML)")
	evaluateCmd.Flags().StringVar(&evalRequest, "request", "", "request JSON, @file, or - for stdin")
	evaluateCmd.Flags().BoolVar(&evalExplain, "explain", false, "include a per-policy trace")
	evaluateCmd.Flags().BoolVar(&evalExitCode, "exit-code", false, "exit non-zero unless the decision is allow")
	evaluateCmd.Flags().StringVar(&evalFlags.defaultAction, "default-action", "deny", "action when no policy matches")
	evaluateCmd.Flags().StringVar(&evalFlags.timezone, "timezone", "UTC", "reference timezone for time_range conditions")
	_ = evaluateCmd.MarkFlagRequired("policies")
	_ = evaluateCmd.MarkFlagRequired("request")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	raw, err := readRequestArg(evalRequest, cmd.InOrStdin())
	if err != nil {
		return err
	}
	req, err := parseDecisionRequest(raw)
	if err != nil {
		return err
	}

	policies, err := loadPolicySet(evalPoliciesPath)
	if err != nil {
		return err
	}
	decisions, store, err := newOfflineDecisions(policies, evalFlags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	eval := service.NewPolicyEvaluationService(decisions, store, nil, slog.New(slog.DiscardHandler))

	var resp *service.DecisionResponse
	if evalExplain {
		resp = eval.Explain(context.Background(), req)
	} else {
		resp = eval.Evaluate(context.Background(), req)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if evalExitCode && !resp.Allowed {
		return fmt.Errorf("%w: %s (%s)", errNotAllowed, resp.Action, resp.Reason)
	}
	return nil
}

// readRequestArg resolves the --request value.
func readRequestArg(arg string, stdin io.Reader) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("read request file: %w", err)
		}
		return data, nil
	default:
		return []byte(arg), nil
	}
}

// parseDecisionRequest decodes a request strictly and requires an object.
func parseDecisionRequest(raw []byte) (service.DecisionRequest, error) {
	var req service.DecisionRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request JSON: %w", err)
	}
	if strings.TrimSpace(req.Object) == "" {
		return req, errors.New("invalid request: object is required")
	}
	return req, nil
}
