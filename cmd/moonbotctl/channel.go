package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonbotio/moonbot/pkg/protocol"
)

func channelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage channel bindings (surface <-> channel id)",
	}
	cmd.AddCommand(channelListCmd())
	cmd.AddCommand(channelAddCmd())
	cmd.AddCommand(channelRemoveCmd())
	cmd.AddCommand(channelSetEnabledCmd("enable", protocol.MethodChannelEnable))
	cmd.AddCommand(channelSetEnabledCmd("disable", protocol.MethodChannelDisable))
	return cmd
}

func channelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured channel bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := connectForCommand()
			if err != nil {
				return err
			}
			defer client.Close()

			var bindings []map[string]any
			if err := client.Call(protocol.MethodChannelList, nil, 5*time.Second, &bindings); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(bindings)
				return nil
			}
			if len(bindings) == 0 {
				fmt.Println("no channel bindings")
				return nil
			}
			for _, b := range bindings {
				state := "enabled"
				if en, ok := b["enabled"].(bool); ok && !en {
					state = "disabled"
				}
				fmt.Printf("%-20v %-12v %-20v %s\n", b["id"], b["surface"], b["channelId"], state)
			}
			return nil
		},
	}
}

func channelAddCmd() *cobra.Command {
	var surface string
	cmd := &cobra.Command{
		Use:   "add <id> <channelId>",
		Short: "Register a new channel binding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := connectForCommand()
			if err != nil {
				return err
			}
			defer client.Close()

			var result map[string]any
			err = client.Call(protocol.MethodChannelAdd, map[string]any{
				"id":        args[0],
				"surface":   surface,
				"channelId": args[1],
			}, 5*time.Second, &result)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&surface, "surface", "", "surface type this binding serves (e.g. discord, slack)")
	return cmd
}

func channelRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a channel binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := connectForCommand()
			if err != nil {
				return err
			}
			defer client.Close()

			var result map[string]any
			if err := client.Call(protocol.MethodChannelRemove, map[string]any{"id": args[0]}, 5*time.Second, &result); err != nil {
				return err
			}
			printResult(fmt.Sprintf("channel %s removed", args[0]))
			return nil
		},
	}
}

func channelSetEnabledCmd(use, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("%s a channel binding", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := connectForCommand()
			if err != nil {
				return err
			}
			defer client.Close()

			var result map[string]any
			if err := client.Call(method, map[string]any{"id": args[0]}, 5*time.Second, &result); err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}
