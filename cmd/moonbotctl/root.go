package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moonbotio/moonbot/internal/config"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

// Exit codes per the CLI surface (§6): 0 success, 1 handled failure, 2
// usage error, 3 gateway unreachable.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitUnreachable = 3
)

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "moonbotctl",
	Short: "moonbotctl — operator CLI for a running moonbotd gateway",
	Long:  "moonbotctl drives a local moonbotd over its WebSocket JSON-RPC gateway: lifecycle control, ad-hoc RPC calls, approvals, channel bindings, config management, and log inspection.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.json (default: ~/.moonbot/config.json or $MOONBOT_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose diagnostics")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(pairingCmd())
	rootCmd.AddCommand(approvalsCmd())
	rootCmd.AddCommand(channelCmd())
	rootCmd.AddCommand(configCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("moonbotctl %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("MOONBOT_CONFIG"); v != "" {
		return v
	}
	return config.DefaultConfigPath()
}

// Execute runs the root cobra command, translating a returned *cliError
// into the matching process exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if ce, ok := err.(*cliError); ok {
			if !jsonOutput {
				fmt.Fprintln(os.Stderr, ce.Error())
			} else {
				printJSON(map[string]any{"ok": false, "error": ce.Error()})
			}
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
}

// cliError carries the exit code a failure should produce, distinct from
// cobra's own usage-error exit(1) default.
type cliError struct {
	code int
	msg  string
}

func (e *cliError) Error() string { return e.msg }

func errFailure(format string, args ...any) *cliError {
	return &cliError{code: exitFailure, msg: fmt.Sprintf(format, args...)}
}

func errUsage(format string, args ...any) *cliError {
	return &cliError{code: exitUsage, msg: fmt.Sprintf(format, args...)}
}

func errUnreachable(format string, args ...any) *cliError {
	return &cliError{code: exitUnreachable, msg: fmt.Sprintf(format, args...)}
}
