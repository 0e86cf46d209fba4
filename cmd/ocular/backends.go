package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/greyhawk/ocular/pkg/models"
	"github.com/spf13/cobra"
)

func newBackendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "Manage proxied backends",
	}
	cmd.AddCommand(
		newBackendsListCmd(),
		newBackendsAddCmd(),
		newBackendsToggleCmd(),
		newBackendsDeleteCmd(),
	)
	return cmd
}

func newBackendsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all registered backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			routes, err := s.GetBackends(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatBackends(routes))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func newBackendsAddCmd() *cobra.Command {
	var (
		configPath        string
		baseURL           string
		dlpEnabled        bool
		rateLimitRequests int
		rateLimitMinutes  int
		upstreamAPIKey    string
	)
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a custom backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			id, err := s.AddCustomBackend(context.Background(), args[0], baseURL, models.BackendSettings{
				DLPEnabled:        dlpEnabled,
				RateLimitRequests: rateLimitRequests,
				RateLimitMinutes:  rateLimitMinutes,
				UpstreamAPIKey:    upstreamAPIKey,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Added backend %d.\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "upstream base URL")
	cmd.Flags().BoolVar(&dlpEnabled, "dlp", true, "enable DLP scanning for this backend")
	cmd.Flags().IntVar(&rateLimitRequests, "rate-limit-requests", 0, "requests allowed per window (0 disables)")
	cmd.Flags().IntVar(&rateLimitMinutes, "rate-limit-minutes", 1, "rate limit window, in minutes")
	cmd.Flags().StringVar(&upstreamAPIKey, "upstream-api-key", "", "credential substituted in for this backend's Authorization header")
	_ = cmd.MarkFlagRequired("base-url")
	return cmd
}

func newBackendsToggleCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "toggle ID true|false",
		Short: "Enable or disable a backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid backend id %q: %w", args[0], err)
			}
			enabled, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid enabled value %q: %w", args[1], err)
			}

			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			return s.ToggleCustomBackend(context.Background(), id, enabled)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func newBackendsDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a custom backend (built-ins can only be toggled)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid backend id %q: %w", args[0], err)
			}

			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			return s.DeleteCustomBackend(context.Background(), id)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func formatBackends(routes []models.BackendRoute) string {
	if len(routes) == 0 {
		return "No backends found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-12s %-12s %-40s %-8s %s\n", "ID", "NAME", "PREFIX", "UPSTREAM", "ENABLED", "BUILTIN")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, r := range routes {
		fmt.Fprintf(&b, "%-6d %-12s %-12s %-40s %-8t %t\n", r.ID, r.Name, r.PathPrefix, r.UpstreamBaseURL, r.Enabled, r.Builtin)
	}
	return b.String()
}
