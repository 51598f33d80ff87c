package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "linkscout",
		Short:         "Find internal linking opportunities on a website",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(analyzeCmd())
	root.AddCommand(opportunitiesCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func analyzeCmd() *cobra.Command {
	var (
		project    string
		site       string
		name       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Crawl a site and compute link opportunities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(project, site, name, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project ID")
	cmd.Flags().StringVar(&site, "site", "", "site root URL")
	cmd.Flags().StringVar(&name, "name", "", "analysis name")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("site")
	return cmd
}

func opportunitiesCmd() *cobra.Command {
	var (
		project    string
		run        string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "opportunities",
		Short: "Show link opportunities of the latest completed analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpportunities(project, run, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project ID")
	cmd.Flags().StringVar(&run, "run", "", "analysis ID (default: latest completed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max opportunities to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.MarkFlagRequired("project")
	return cmd
}

func runsCmd() *cobra.Command {
	var (
		project    string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List analysis runs of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(project, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.MarkFlagRequired("project")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		project string
		out     string
		format  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export link opportunities to a spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(project, out, format, limit)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project ID")
	cmd.Flags().StringVar(&out, "out", "", "output file")
	cmd.Flags().StringVar(&format, "format", "xlsx", "xlsx or csv")
	cmd.Flags().IntVar(&limit, "limit", 1000, "max opportunities to export")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("out")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
