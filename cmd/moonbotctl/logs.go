package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonbotio/moonbot/internal/config"
)

func logsCmd() *cobra.Command {
	var follow bool
	var lines int
	var errorsOnly bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show moonbotd's most recent log lines",
		Long:  "Tails the current day's log file under the configured logs directory (§6 persisted state layout).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return errFailure("load config: %v", err)
			}
			path, err := currentLogFile(cfg)
			if err != nil {
				return errFailure("%v", err)
			}
			return tailLogFile(path, lines, errorsOnly, follow)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines as they are appended")
	cmd.Flags().IntVarP(&lines, "lines", "l", 50, "number of trailing lines to print")
	cmd.Flags().BoolVarP(&errorsOnly, "errors", "e", false, "only print lines that look like error-level records")
	return cmd
}

// currentLogFile resolves the newest moonbot-YYYY-MM-DD.log under the
// configured logs directory, falling back to scanning the directory if
// today's file hasn't been created yet (e.g. moonbotd started on a
// previous day and is still writing to that day's file near midnight).
func currentLogFile(cfg *config.Config) (string, error) {
	dir := config.ExpandHome(cfg.Logs.Path)
	today := filepath.Join(dir, fmt.Sprintf("moonbot-%s.log", time.Now().UTC().Format("2006-01-02")))
	if _, err := os.Stat(today); err == nil {
		return today, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read logs dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "moonbot-") && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no log files found in %s (is moonbotd running?)", dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

func tailLogFile(path string, n int, errorsOnly, follow bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if errorsOnly && !looksLikeError(line) {
			continue
		}
		buf = append(buf, line)
		if len(buf) > n {
			buf = buf[1:]
		}
	}
	for _, line := range buf {
		fmt.Println(line)
	}

	if !follow {
		return nil
	}
	// Poll for growth: the simplest way to follow a live-appended file
	// without a filesystem-notification dependency. A fresh Scanner is
	// built on each poll since bufio.Scanner has no way to resume past
	// an EOF it has already returned.
	for {
		for scanner.Scan() {
			line := scanner.Text()
			if !errorsOnly || looksLikeError(line) {
				fmt.Println(line)
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		time.Sleep(500 * time.Millisecond)
		scanner = bufio.NewScanner(f)
	}
}

func looksLikeError(line string) bool {
	return strings.Contains(line, `"level":"ERROR"`)
}
