package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/greyhawk/ocular/pkg/models"
	"github.com/spf13/cobra"
)

func newPatternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Manage DLP detection patterns",
	}
	cmd.AddCommand(
		newPatternsListCmd(),
		newPatternsAddCmd(),
		newPatternsToggleCmd(),
		newPatternsDeleteCmd(),
		newPatternsBuiltinCmd(),
	)
	return cmd
}

func newPatternsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List DLP patterns and built-in group toggles",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			patterns, groups, err := s.GetDLPSettings(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatPatterns(patterns))
			fmt.Println()
			fmt.Print(formatBuiltinGroups(groups))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func newPatternsAddCmd() *cobra.Command {
	var (
		configPath string
		kind       string
		body       string
		negatives  string
		action     string
	)
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a custom DLP pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			var negs []string
			if negatives != "" {
				negs = strings.Split(negatives, ",")
			}

			id, err := s.AddDLPPattern(context.Background(), args[0], models.PatternKind(kind), body, negs, models.PatternAction(action))
			if err != nil {
				return err
			}
			fmt.Printf("Added pattern %d.\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	cmd.Flags().StringVar(&kind, "kind", "regex", "pattern kind: regex or keyword")
	cmd.Flags().StringVar(&body, "body", "", "pattern body")
	cmd.Flags().StringVar(&negatives, "negatives", "", "comma-separated negative-context patterns")
	cmd.Flags().StringVar(&action, "action", "redact", "action on match: redact or block")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func newPatternsToggleCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "toggle ID true|false",
		Short: "Enable or disable a single DLP pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pattern id %q: %w", args[0], err)
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

			return s.ToggleDLPPattern(context.Background(), id, enabled)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func newPatternsDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a custom DLP pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pattern id %q: %w", args[0], err)
			}

			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			return s.DeleteDLPPattern(context.Background(), id)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func newPatternsBuiltinCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "builtin GROUP true|false",
		Short: "Enable or disable an entire built-in pattern group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid enabled value %q: %w", args[1], err)
			}

			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			return s.SetDLPBuiltin(context.Background(), args[0], enabled)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func formatPatterns(patterns []models.Pattern) string {
	if len(patterns) == 0 {
		return "No DLP patterns found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-28s %-8s %-8s %-8s %s\n", "ID", "NAME", "KIND", "ACTION", "ENABLED", "GROUP")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, p := range patterns {
		fmt.Fprintf(&b, "%-6d %-28s %-8s %-8s %-8t %s\n", p.ID, p.Name, p.Kind, p.Action, p.Enabled, p.BuiltinGroup)
	}
	return b.String()
}

func formatBuiltinGroups(groups map[string]bool) string {
	var b strings.Builder
	b.WriteString("Built-in groups:\n")
	for g, enabled := range groups {
		fmt.Fprintf(&b, "  %-16s %t\n", g, enabled)
	}
	return b.String()
}
