package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonbotio/moonbot/internal/config"
)

func gatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Control the moonbotd gateway process",
	}
	cmd.AddCommand(gatewayStatusCmd())
	cmd.AddCommand(gatewayStartCmd())
	cmd.AddCommand(gatewayStopCmd())
	cmd.AddCommand(gatewayRestartCmd())
	return cmd
}

func readPid() (int, error) {
	data, err := os.ReadFile(config.DefaultPidPath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pidfile: %w", err)
	}
	return pid, nil
}

// processAlive reports whether pid names a live process, using signal 0
// (no-op delivery used purely as a liveness probe on POSIX systems).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func gatewayStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the gateway is running and reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return errFailure("load config: %v", err)
			}

			pid, pidErr := readPid()
			running := pidErr == nil && processAlive(pid)
			healthy := httpHealthy(cfg)

			status := map[string]any{
				"pid":     pid,
				"running": running,
				"healthy": healthy,
				"address": gatewayAddr(cfg),
			}
			if jsonOutput {
				printJSON(status)
			} else if running && healthy {
				fmt.Printf("moonbotd running (pid %d), gateway healthy at %s\n", pid, gatewayAddr(cfg))
			} else if running {
				fmt.Printf("moonbotd running (pid %d), but gateway is not answering at %s\n", pid, gatewayAddr(cfg))
			} else {
				fmt.Println("moonbotd is not running")
			}
			if !running {
				return errUnreachable("moonbotd is not running")
			}
			if !healthy {
				return errUnreachable("moonbotd is running but the gateway is unreachable")
			}
			return nil
		},
	}
}

func gatewayStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start moonbotd as a detached background process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid, err := readPid(); err == nil && processAlive(pid) {
				return errFailure("moonbotd already running (pid %d)", pid)
			}

			bin, err := exec.LookPath("moonbotd")
			if err != nil {
				return errFailure("moonbotd binary not found on PATH: %v", err)
			}

			daemonArgs := []string{}
			if cfgFile != "" {
				daemonArgs = append(daemonArgs, "--config", cfgFile)
			}
			proc := exec.Command(bin, daemonArgs...)
			proc.Stdout = nil
			proc.Stderr = nil
			proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			if err := proc.Start(); err != nil {
				return errFailure("start moonbotd: %v", err)
			}
			_ = proc.Process.Release()

			printResult(fmt.Sprintf("moonbotd started (pid %d)", proc.Process.Pid))
			return nil
		},
	}
}

func gatewayStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running moonbotd",
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopGateway()
		},
	}
}

func stopGateway() error {
	pid, err := readPid()
	if err != nil {
		return errFailure("no pidfile: %v", err)
	}
	if !processAlive(pid) {
		return errFailure("moonbotd (pid %d) is not running", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errFailure("find process %d: %v", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return errFailure("signal moonbotd (pid %d): %v", pid, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			printResult(fmt.Sprintf("moonbotd (pid %d) stopped", pid))
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errFailure("moonbotd (pid %d) did not stop within 10s", pid)
}

func gatewayRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop then start moonbotd",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid, err := readPid(); err == nil && processAlive(pid) {
				if err := stopGateway(); err != nil {
					return err
				}
			}
			return gatewayStartCmd().RunE(cmd, args)
		},
	}
}
