package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/slackagent/internal/config"
)

// buildServeCmd creates the "serve" command that connects to Slack.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Slack and answer mentions",
		Long: `Connect to Slack over Socket Mode and answer mentions until interrupted.

The server will:
1. Load configuration from the given file, .env files and the environment
2. Warm the media cache from files already uploaded to the model API
3. Expose Prometheus metrics when observability.metrics_addr is set
4. Handle each mention, one turn at a time per thread

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with tokens from the environment
  slackagent serve

  # Start with a config file and debug logging
  slackagent serve --config /etc/slackagent/config.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}

// buildToolsCmd lists the tools declared to the model.
func buildToolsCmd() *cobra.Command {
	var schemas bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := buildRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if schemas {
				for _, tool := range registry.List() {
					fmt.Fprintf(out, "%s\n%s\n\n", tool.Name(), tool.Schema())
				}
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, tool := range registry.List() {
				fmt.Fprintf(w, "%s\t%s\n", tool.Name(), tool.Description())
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&schemas, "schemas", false, "Print each tool's argument schema")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok (model %s, %d tool iterations max)\n",
				cfg.Model.Name, cfg.Model.MaxToolIterations)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	cmd.AddCommand(schemaCmd, validateCmd)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "slackagent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
