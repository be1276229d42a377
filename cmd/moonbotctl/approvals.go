package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonbotio/moonbot/internal/config"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

func approvalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and resolve pending tool-execution approvals",
	}
	cmd.AddCommand(approvalsListCmd())
	cmd.AddCommand(approvalsResolveCmd("approve", true))
	cmd.AddCommand(approvalsResolveCmd("deny", false))
	return cmd
}

func approvalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List approvals awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := connectForCommand()
			if err != nil {
				return err
			}
			defer client.Close()

			var pending []map[string]any
			if err := client.Call(protocol.MethodApprovalList, nil, 5*time.Second, &pending); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(pending)
				return nil
			}
			if len(pending) == 0 {
				fmt.Println("no pending approvals")
				return nil
			}
			for _, p := range pending {
				fmt.Printf("%-40v %-20v %v\n", p["id"], p["toolId"], p["status"])
			}
			return nil
		},
	}
}

func approvalsResolveCmd(name string, approved bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <requestId>",
		Short: fmt.Sprintf("%s a pending approval request", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := connectForCommand()
			if err != nil {
				return err
			}
			defer client.Close()

			var result map[string]any
			err = client.Call(protocol.MethodApprovalRespond, map[string]any{
				"requestId": args[0],
				"approved":  approved,
			}, 5*time.Second, &result)
			if err != nil {
				return err
			}
			verb := "approved"
			if !approved {
				verb = "denied"
			}
			printResult(fmt.Sprintf("approval %s: %s", args[0], verb))
			return nil
		},
	}
}

// connectForCommand loads config and dials the gateway, the common
// preamble shared by every subcommand that issues RPCs.
func connectForCommand() (*config.Config, *rpcClient, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, errFailure("load config: %v", err)
	}
	client, err := dialGateway(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, client, nil
}
