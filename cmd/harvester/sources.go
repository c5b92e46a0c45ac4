package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"harvester/pkg/auth"
	"harvester/pkg/config"
	"harvester/pkg/ui"
)

// sourcesCmd lists adapters and their configuration state
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List sources and whether they are enabled",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}

		registered := make(map[string]bool)
		for _, name := range newRegistry().Names() {
			registered[name] = true
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-12s %-9s %-6s %s\n", "SOURCE", "STATE", "LOGIN", "TARGETS")
		for _, name := range config.SourceNames {
			sc, _ := cfg.Source(name)

			state := ui.Dim("disabled")
			switch {
			case !registered[name]:
				state = ui.Red("missing ")
			case sc.Enabled:
				state = ui.Green("enabled ")
			}

			login := "-"
			if _, ok := auth.Fields(name); ok {
				login = "yes"
			}

			targets := make([]string, 0, len(sc.Targets))
			for _, t := range sc.Targets {
				targets = append(targets, t.Name)
			}
			fmt.Fprintf(out, "%-12s %s  %-6s %s\n", name, state, login, strings.Join(targets, ", "))
		}
		return nil
	},
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "harvester %s (commit: %s, built: %s)\n", version, gitCommit, buildDate)
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(versionCmd)
}
