package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonbotio/moonbot/internal/config"
)

func callCmd() *cobra.Command {
	var timeoutMs int
	var rawParams string

	cmd := &cobra.Command{
		Use:   "call <method> [key=value ...]",
		Short: "Issue a single JSON-RPC call against the running gateway",
		Long: "Issue a single JSON-RPC call against the running gateway. Positional " +
			"args are key=value pairs assembled into the params object (values are " +
			"parsed as JSON when possible, otherwise kept as strings); --params " +
			"overrides them with a raw JSON object.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := args[0]

			params, err := buildCallParams(rawParams, args[1:])
			if err != nil {
				return errUsage("%v", err)
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return errFailure("load config: %v", err)
			}
			client, err := dialGateway(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			var result any
			if err := client.Call(method, params, time.Duration(timeoutMs)*time.Millisecond, &result); err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutMs, "timeout", 5000, "call timeout in milliseconds")
	cmd.Flags().StringVar(&rawParams, "params", "", "raw JSON object to use as params, overriding key=value args")
	return cmd
}

func buildCallParams(rawParams string, kvArgs []string) (any, error) {
	if rawParams != "" {
		var v any
		if err := json.Unmarshal([]byte(rawParams), &v); err != nil {
			return nil, fmt.Errorf("--params is not valid JSON: %w", err)
		}
		return v, nil
	}

	params := make(map[string]any, len(kvArgs))
	for _, kv := range kvArgs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q is not in key=value form", kv)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			params[key] = parsed
		} else {
			params[key] = value
		}
	}
	return params, nil
}
