package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write proxy settings",
	}
	cmd.AddCommand(
		newSettingsGetPortCmd(),
		newSettingsSetPortCmd(),
		newSettingsRestartCmd(),
	)
	return cmd
}

func newSettingsGetPortCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "get-port",
		Short: "Print the currently configured listen port",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			port, err := s.GetPortSetting(context.Background(), 8008)
			if err != nil {
				return err
			}
			fmt.Println(port)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func newSettingsSetPortCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "set-port PORT",
		Short: "Persist a new listen port (does not restart the proxy)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}

			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := s.SavePortSetting(context.Background(), port); err != nil {
				return err
			}
			fmt.Println("Port saved. Run 'ocular settings restart' or restart the proxy process to apply it.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func newSettingsRestartCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the running proxy on its saved port",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			return s.RestartProxy(context.Background())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}
