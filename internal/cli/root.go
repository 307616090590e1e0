package cli

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRootCmd собирает корневую команду pipeflow.
//
// Локальные команды (exec, validate, capabilities, operations) работают
// без сервера, группы pipeline, run и schedule обращаются к API.
func NewRootCmd(version string) *cobra.Command {
	var apiURL string
	var jsonOutput bool
	opts := &LocalOptions{}

	rootCmd := &cobra.Command{
		Use:           "pipeflow",
		Short:         "Pipeflow CLI — declarative pipeline runner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&apiURL, "api-url", envOr("PIPEFLOW_API_URL", "http://localhost:8080"), "API server URL")
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.StringVar(&opts.PipelineDir, "pipeline-dir", "", "Directory with named sub-pipelines for local runs")
	flags.StringVar(&opts.Permissions, "permissions", os.Getenv("PIPEFLOW_PERMISSIONS"), "Granted capability scopes, comma separated (* for all)")
	flags.IntVar(&opts.MaxDepth, "max-depth", envInt("PIPELINE_MAX_DEPTH", 0), "Maximum step nesting depth")
	flags.IntVar(&opts.MaxParallel, "max-parallel", envInt("PIPELINE_MAX_PARALLEL", 0), "Maximum concurrent parallel branches")

	clientFn := func() *Client { return NewClient(apiURL) }
	outputFn := func() *Output {
		return NewOutputTo(jsonOutput, rootCmd.OutOrStdout(), rootCmd.ErrOrStderr())
	}

	rootCmd.AddCommand(
		NewExecCmd(opts, outputFn),
		NewValidateCmd(opts, outputFn),
		NewCapabilitiesCmd(outputFn),
		NewOperationsCmd(outputFn),
		NewPipelineCmd(clientFn, outputFn),
		NewRunCmd(clientFn, outputFn),
		NewScheduleCmd(clientFn, outputFn),
	)

	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
