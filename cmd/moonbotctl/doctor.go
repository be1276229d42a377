package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/moonbotio/moonbot/internal/config"
)

func doctorCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check local environment and configuration health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(fix)
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "create missing directories and a default config where safe to do so")
	return cmd
}

// runDoctor walks the same checks moonbotd needs at startup: config
// loadable, workspace/sessions/logs directories present, gateway
// reachable. Grounded on the teacher's doctorCmd, trimmed of the
// provider/channel/migration checks this module has no equivalent of.
func runDoctor(fix bool) error {
	fmt.Println("moonbotctl doctor")
	fmt.Printf("  OS:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:     %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config: %s", cfgPath)
	_, statErr := os.Stat(cfgPath)
	switch {
	case statErr == nil:
		fmt.Println(" (OK)")
	case fix:
		fmt.Println(" (NOT FOUND, creating default)")
		if err := config.Save(cfgPath, config.Default()); err != nil {
			fmt.Printf("    failed to create: %v\n", err)
		}
	default:
		fmt.Println(" (NOT FOUND — run with --fix to create)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return errFailure("config load error: %v", err)
	}

	fmt.Println()
	fmt.Println("  Directories:")
	checkDir("  Sessions:", config.ExpandHome(cfg.Sessions.Storage), fix)
	checkDir("  Logs:", config.ExpandHome(cfg.Logs.Path), fix)
	checkDir("  Workspace:", config.ExpandHome("~/.moonbot/workspace"), fix)

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-12s %s\n", "Mode:", cfg.Database.Mode)

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s\n", "Address:", gatewayAddr(cfg))
	if httpHealthy(cfg) {
		fmt.Printf("    %-12s reachable\n", "Status:")
	} else {
		fmt.Printf("    %-12s unreachable (is moonbotd running?)\n", "Status:")
	}
	return nil
}

func checkDir(label, path string, fix bool) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("    %-12s %s (OK)\n", label, path)
		return
	}
	if fix {
		if err := os.MkdirAll(path, 0o755); err == nil {
			fmt.Printf("    %-12s %s (created)\n", label, path)
			return
		}
	}
	fmt.Printf("    %-12s %s (MISSING)\n", label, path)
}
