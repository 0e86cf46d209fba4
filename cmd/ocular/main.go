package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "ocular",
		Short:   "Ocular — local DLP reverse proxy for coding-agent LLM traffic",
		Version: version,
	}

	root.AddCommand(
		newProxyCmd(),
		newPatternsCmd(),
		newBackendsCmd(),
		newLogsCmd(),
		newSettingsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
