package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/policy"
)

var (
	checkOp      string
	checkID      string
	checkPayload string
)

var checkCmd = &cobra.Command{
	Use:   "check <resource>",
	Short: "Dry-run validation rules without calling the backend",
	Long: `Check what verdict a mutation would receive from the validation
rules without sending it. Useful for testing and debugging rules and
Rego policies.`,
	Example: `  adminsync check coupons -c adminsync.yaml --op create --payload '{"code":"spring 10"}'
  adminsync check vendors -c adminsync.yaml --op delete --id ven-3`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkOp, "op", "", "operation to check: create, update, or delete")
	checkCmd.Flags().StringVar(&checkID, "id", "", "target id (for update and delete)")
	checkCmd.Flags().StringVar(&checkPayload, "payload", "", "JSON payload")
	_ = checkCmd.MarkFlagRequired("op")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig("check")
	if err != nil {
		return err
	}
	if _, ok := cfg.Resource(args[0]); !ok {
		return fmt.Errorf("unknown resource %q", args[0])
	}
	switch api.MutationKind(checkOp) {
	case api.MutationCreate, api.MutationUpdate, api.MutationDelete:
	default:
		return fmt.Errorf("invalid --op %q: want create, update, or delete", checkOp)
	}

	engine, err := cfg.Validator()
	if err != nil {
		return fmt.Errorf("creating validator: %w", err)
	}

	input := &policy.EvalInput{
		Resource:  args[0],
		Operation: checkOp,
		TargetID:  checkID,
	}
	if checkPayload != "" {
		if err := json.Unmarshal([]byte(checkPayload), &input.Payload); err != nil {
			return fmt.Errorf("invalid --payload: %w", err)
		}
	}

	result, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		return fmt.Errorf("evaluation error: %w", err)
	}

	output := struct {
		Verdict string `json:"verdict"`
		Rule    string `json:"rule"`
		Message string `json:"message,omitempty"`
	}{
		Verdict: string(result.Verdict),
		Rule:    result.Rule,
		Message: result.Message,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
