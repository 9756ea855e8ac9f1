package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tturner/cipadapter/internal/app"
	"github.com/tturner/cipadapter/internal/config"
	"github.com/tturner/cipadapter/internal/server"
)

func newValidateConfigCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate an adapter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath == "" {
				cfgPath = "cipadapter.yaml"
			}
			cfg, err := app.PrepareConfig(app.AdapterOptions{ConfigPath: cfgPath})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config OK: %s (%s, %d assemblies)\n",
				cfgPath, cfg.Server.Name, len(cfg.Assemblies))
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Adapter config file path (default \"cipadapter.yaml\")")
	return cmd
}

func newPrintDefaultConfigCmd() *cobra.Command {
	var format, preset, mode string
	cmd := &cobra.Command{
		Use:   "print-default-config",
		Short: "Print a default adapter config",
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != "yaml" && format != "toml" {
				return fmt.Errorf("unknown format %q; must be yaml or toml", format)
			}
			cfg := config.CreateDefaultAdapterConfig()
			if preset != "" {
				if err := server.ApplyPreset(cfg, preset); err != nil {
					return err
				}
			}
			if mode != "" {
				if err := app.ApplyMode(cfg, mode); err != nil {
					return err
				}
			}
			out, err := config.Marshal(cfg, format)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml|toml")
	cmd.Flags().StringVar(&preset, "preset", "", "Device preset name")
	cmd.Flags().StringVar(&mode, "mode", "", "Mode preset: baseline|diagnostic|perf")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List available device presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available presets:")
			for _, p := range server.AvailablePresets() {
				fmt.Fprintf(out, "  %-12s %s\n", p.Name, p.Description)
			}
			return nil
		},
	}
}
