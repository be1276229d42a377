package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pairingCmd exists for §6 CLI-surface completeness only: this module has
// no device-pairing/onboarding flow (the token-based Gateway handshake in
// connect covers authentication), so every subcommand reports a clear
// unsupported result rather than silently no-op'ing.
func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Device pairing (not applicable to this deployment)",
	}
	cmd.AddCommand(pairingStubCmd("status"))
	cmd.AddCommand(pairingStubCmd("approve"))
	cmd.AddCommand(pairingStubCmd("revoke"))
	return cmd
}

func pairingStubCmd(use string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "Not supported: this deployment authenticates via gateway token, not device pairing",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := "pairing is not supported in this deployment; authenticate clients with the gateway token instead"
			if jsonOutput {
				printJSON(map[string]any{"ok": false, "error": msg})
			} else {
				fmt.Println(msg)
			}
			return errFailure("%s", msg)
		},
	}
}
