package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/greyhawk/ocular/pkg/models"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the request log",
	}
	cmd.AddCommand(
		newLogsSearchCmd(),
		newLogsStatsCmd(),
		newLogsCleanupCmd(),
	)
	return cmd
}

func newLogsSearchCmd() *cobra.Command {
	var (
		configPath string
		backend    string
		rangeFlag  string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search request log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			recs, err := s.GetMessageLogs(context.Background(), models.DetectionStatsRange(rangeFlag), backend)
			if err != nil {
				return err
			}
			fmt.Print(formatRequestLogs(recs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	cmd.Flags().StringVar(&backend, "backend", "", "filter by backend name")
	cmd.Flags().StringVar(&rangeFlag, "range", "1d", "lookback window: 1h, 6h, 1d, or 7d")
	return cmd
}

func newLogsStatsCmd() *cobra.Command {
	var (
		configPath string
		rangeFlag  string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show DLP detection statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := s.GetDLPDetectionStats(context.Background(), models.DetectionStatsRange(rangeFlag))
			if err != nil {
				return err
			}
			fmt.Print(formatDetectionStats(stats))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	cmd.Flags().StringVar(&rangeFlag, "range", "1d", "lookback window: 1h, 6h, 1d, or 7d")
	return cmd
}

func newLogsCleanupCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete request log entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openSurface(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := s.CleanupLogs(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d request log entries.\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ocular config file")
	return cmd
}

func formatRequestLogs(recs []models.RequestLogRecord) string {
	if len(recs) == 0 {
		return "No request log entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-10s %-20s %6s %6s %8s %8s %-14s\n",
		"REQUEST ID", "BACKEND", "MODEL", "STATUS", "MS", "IN", "OUT", "AGE")
	b.WriteString(strings.Repeat("-", 120) + "\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%-38s %-10s %-20s %6d %6d %8d %8d %-14s\n",
			r.RequestID, r.Backend, r.Model, r.StatusCode, r.LatencyMS, r.InputTokens, r.OutputTokens,
			humanize.Time(r.Timestamp))
	}
	return b.String()
}

func formatDetectionStats(stats models.DetectionStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total detections: %d\n\n", stats.TotalDetections)
	fmt.Fprintf(&b, "%-28s %s\n", "PATTERN", "COUNT")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	for name, count := range stats.DetectionsByPattern {
		fmt.Fprintf(&b, "%-28s %d\n", name, count)
	}
	return b.String()
}
