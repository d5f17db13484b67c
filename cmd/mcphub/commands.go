package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jg-phare/mcphub/pkg/protocol"
	"github.com/jg-phare/mcphub/pkg/router"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// serversCmd prints the configured servers, groups, and active set without
// spawning anything.
func serversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured servers and groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub()
			if err != nil {
				return err
			}

			fmt.Println("Servers:")
			for _, name := range h.cfg.ActiveServers {
				identity, err := h.cfg.ServerParams(name)
				if err != nil {
					return err
				}
				fmt.Printf("  %s: %s %s\n", name, identity.Command, strings.Join(identity.Args, " "))
			}

			fmt.Println("Groups:")
			for name, group := range h.cfg.Groups {
				fmt.Printf("  %s: %s\n", name, strings.Join(group.Servers, ", "))
				if group.Description != "" {
					fmt.Printf("    %s\n", group.Description)
				}
			}
			return nil
		},
	}
}

// sendCmd routes one command to a single server, a group, or every
// connection, and prints the aggregated outcome.
func sendCmd() *cobra.Command {
	var (
		target string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Send a command to one server, a group, or all servers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub()
			if err != nil {
				return err
			}
			defer h.close()

			ctx := cmd.Context()
			switch router.TargetType(target) {
			case router.TargetSingle:
				if name == "" {
					return errors.New("single target requires --name")
				}
				if err := h.connectOne(ctx, name); err != nil {
					return err
				}
			case router.TargetGroup:
				if name == "" {
					return errors.New("group target requires --name")
				}
				if err := h.connectGroup(ctx, name); err != nil {
					return err
				}
			default:
				if err := h.connectAll(ctx); err != nil {
					return err
				}
			}

			resp := h.commands.Send(ctx, strings.Join(args, " "), router.TargetType(target), name, viper.GetDuration("timeout"))
			if err := printJSON(resp); err != nil {
				return err
			}
			if !resp.Success {
				if resp.Error != "" {
					return errors.New(resp.Error)
				}
				return errors.New("command failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", string(router.TargetBroadcast), "target type: single, group, or broadcast")
	cmd.Flags().StringVar(&name, "name", "", "server or group name for single/group targets")
	return cmd
}

// toolsCmd discovers and prints the tools advertised by one server or all of
// them.
func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools [server]",
		Short: "Discover and list advertised tools",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub()
			if err != nil {
				return err
			}
			defer h.close()

			ctx := cmd.Context()
			if len(args) == 1 {
				if err := h.connectOne(ctx, args[0]); err != nil {
					return err
				}
				schemas, err := h.discovery.Discover(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(schemas)
			}

			if err := h.connectAll(ctx); err != nil {
				return err
			}
			return printJSON(h.discovery.DiscoverAll(ctx))
		},
	}
}

// callCmd invokes one tool by its qualified id and prints the raw result.
func callCmd() *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "call <server.tool>",
		Short: "Call a tool on its owning server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolID := args[0]
			serverName, _, ok := strings.Cut(toolID, ".")
			if !ok {
				return fmt.Errorf("tool id must be server.tool, got %q", toolID)
			}

			var callArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			h, err := newHub()
			if err != nil {
				return err
			}
			defer h.close()

			ctx := cmd.Context()
			if err := h.connectOne(ctx, serverName); err != nil {
				return err
			}
			if _, err := h.discovery.Discover(ctx, serverName); err != nil {
				return err
			}

			if !h.tools.Validate(toolID, callArgs) {
				h.logger.Warn("arguments do not match the advertised schema", "tool", toolID)
			}

			result, err := h.tools.Call(ctx, toolID, callArgs)
			if err != nil {
				return err
			}
			fmt.Println(string(result))
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	return cmd
}

// schemaCmd prints the combined JSON document for every discovered tool.
func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the aggregate schema of all discovered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub()
			if err != nil {
				return err
			}
			defer h.close()

			ctx := cmd.Context()
			if err := h.connectAll(ctx); err != nil {
				return err
			}
			h.discovery.DiscoverAll(ctx)
			return printJSON(h.registry.Document())
		},
	}
}

// runCmd keeps the hub up: all active servers connected, tools discovered,
// server notifications logged, and the configuration file watched for
// changes until interrupted.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the hub until interrupted, reloading configuration on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub()
			if err != nil {
				return err
			}
			defer h.close()

			ctx := cmd.Context()
			if err := h.connectAll(ctx); err != nil {
				return err
			}
			h.discovery.DiscoverAll(ctx)

			pumped := make(map[string]bool)
			h.pumpNotifications(pumped)

			go func() {
				err := h.watchConfig(ctx, pumped)
				if err != nil && !errors.Is(err, context.Canceled) {
					h.logger.Error("config watch stopped", "error", err)
				}
			}()

			h.logger.Info("hub running", "servers", len(h.manager.All()), "tools", len(h.registry.IDs()))
			<-ctx.Done()
			return nil
		},
	}
}

// pumpNotifications starts one drain goroutine per connection not already
// pumped, logging everything the server pushes outside a request.
func (h *hub) pumpNotifications(pumped map[string]bool) {
	for _, conn := range h.manager.All() {
		if pumped[conn.Name] {
			continue
		}
		pumped[conn.Name] = true
		go func(name string, msgs <-chan protocol.Message) {
			for msg := range msgs {
				h.logger.Info("server notification",
					"server", name, "method", msg.Method, "params", string(msg.Params))
			}
		}(conn.Name, conn.Transport.Messages())
	}
}
