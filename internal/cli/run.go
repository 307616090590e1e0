package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "PIPELINE_ID", "VERSION", "STATUS", "CREATED"}

func runRow(r *RunResponse) []string {
	return []string{r.ID, r.PipelineID, strconv.Itoa(r.Version), r.Status, r.CreatedAt}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipelineID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), ListRunsOpts{
				PipelineID: pipelineID,
				Status:     status,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i := range runs {
				rows[i] = runRow(&runs[i])
			}

			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineID, "pipeline-id", "", "Filter by pipeline ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int
	var inputs []string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "start PIPELINE_ID",
		Short: "Start a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			req := CreateRunRequest{
				Inputs:         parsed,
				IdempotencyKey: idempotencyKey,
			}
			if cmd.Flags().Changed("version") {
				req.Version = &version
			}

			run, err := clientFn().CreateRun(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Pipeline version (latest if not specified)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Return the existing run for a repeated key")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(run)
				return nil
			}

			pairs := [][2]string{
				{"ID", run.ID},
				{"Pipeline", run.PipelineID},
				{"Version", strconv.Itoa(run.Version)},
				{"Status", run.Status},
				{"Started", run.StartedAt},
				{"Finished", run.FinishedAt},
				{"Error", run.Error.String()},
			}
			if run.DurationMs > 0 {
				pairs = append(pairs, [2]string{"Duration", fmt.Sprintf("%dms", run.DurationMs)})
			}
			out.KeyValues(pairs)

			if run.Result != nil {
				out.JSON(run.Result)
			}
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run that has not started yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().CancelRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			return nil
		},
	}
}
