package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moonbotio/moonbot/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or transfer moonbotd's system configuration",
	}
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configExportCmd())
	cmd.AddCommand(configImportCmd())
	return cmd
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path in effect",
		Run: func(cmd *cobra.Command, args []string) {
			printResult(resolveConfigPath())
		},
	}
}

func configExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the resolved config (defaults + overlay) to a file or stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return errFailure("load config: %v", err)
			}
			if outPath == "" || outPath == "-" {
				printJSON(cfg)
				return nil
			}
			if err := config.Save(outPath, cfg); err != nil {
				return errFailure("export config: %v", err)
			}
			printResult(fmt.Sprintf("config exported to %s", outPath))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "destination file (default: stdout)")
	return cmd
}

func configImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the active config with the contents of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return errFailure("read %s: %v", args[0], err)
			}
			cfg, err := config.Load(args[0])
			if err != nil {
				return errFailure("parse %s: %v", args[0], err)
			}
			dest := resolveConfigPath()
			if err := config.Save(dest, cfg); err != nil {
				return errFailure("write %s: %v", dest, err)
			}
			printResult(fmt.Sprintf("config imported from %s into %s", args[0], dest))
			return nil
		},
	}
}
