package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/remoteide/internal/config"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the client configuration",
	}
	cmd.AddCommand(newConfigInitCmd(flags))
	cmd.AddCommand(newConfigShowCmd(flags))
	return cmd
}

func newConfigInitCmd(flags *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Default()
			if err != nil {
				return err
			}
			if flags.configPath != "" {
				cfg.ConfigPath = flags.configPath
			}
			if flags.serverURL != "" {
				cfg.ServerURL = flags.serverURL
			}
			if flags.token != "" {
				cfg.Token = flags.token
			}
			if flags.logLevel != "" {
				cfg.LogLevel = flags.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if _, err := os.Stat(cfg.ConfigPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", cfg.ConfigPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfg.ConfigPath)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			token := ""
			if cfg.Token != "" {
				token = "(set)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:          %s\n", cfg.ConfigPath)
			fmt.Fprintf(out, "server_url:      %s\n", cfg.ServerURL)
			fmt.Fprintf(out, "token:           %s\n", token)
			fmt.Fprintf(out, "request_timeout: %s\n", cfg.RequestTimeout)
			fmt.Fprintf(out, "change_debounce: %s\n", cfg.ChangeDebounce)
			fmt.Fprintf(out, "search_debounce: %s\n", cfg.SearchDebounce)
			fmt.Fprintf(out, "terminal:        %dx%d\n", cfg.TerminalCols, cfg.TerminalRows)
			fmt.Fprintf(out, "correlation:     %s\n", cfg.Correlation)
			fmt.Fprintf(out, "state_path:      %s\n", cfg.StatePath)
			fmt.Fprintf(out, "log_level:       %s\n", cfg.LogLevel)
			return nil
		},
	}
}
