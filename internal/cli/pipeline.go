package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для управления pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage stored pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineCreateCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineUpdateCmd(clientFn, outputFn),
		newPipelineDeleteCmd(clientFn, outputFn),
		newPipelineVersionsCmd(clientFn, outputFn),
		newPipelinePublishCmd(clientFn, outputFn),
		newPipelineSpecCmd(clientFn, outputFn),
	)

	return cmd
}

var pipelineHeaders = []string{"ID", "NAME", "ACTIVE", "CREATED"}

func pipelineRow(p *PipelineResponse) []string {
	return []string{p.ID, p.Name, strconv.FormatBool(p.IsActive), p.CreatedAt}
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelines, err := clientFn().ListPipelines(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, len(pipelines))
			for i := range pipelines {
				rows[i] = pipelineRow(&pipelines[i])
			}

			outputFn().Print(pipelineHeaders, rows, pipelines)
			return nil
		},
	}
}

func newPipelineCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var specFile string
	var inactive bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new pipeline, optionally with its first version",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			req := CreatePipelineRequest{Name: name}
			if inactive {
				active := false
				req.IsActive = &active
			}
			if specFile != "" {
				spec, err := readSpecFile(specFile)
				if err != nil {
					return err
				}
				if req.Spec, err = specJSON(spec); err != nil {
					return err
				}
			}

			pipeline, err := clientFn().CreatePipeline(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline created: %s", pipeline.ID))
			out.Print(pipelineHeaders, [][]string{pipelineRow(pipeline)}, pipeline)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Pipeline name (required)")
	cmd.Flags().StringVarP(&specFile, "file", "f", "", "Pipeline definition (JSON or YAML) stored as version 1")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the pipeline disabled for schedules")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show pipeline details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := clientFn().GetPipeline(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			outputFn().Print(pipelineHeaders, [][]string{pipelineRow(pipeline)}, pipeline)
			return nil
		},
	}
}

func newPipelineUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var active string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			req := UpdatePipelineRequest{}
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("active") {
				b, err := strconv.ParseBool(active)
				if err != nil {
					return fmt.Errorf("invalid value for --active: %s", active)
				}
				req.IsActive = &b
			}

			pipeline, err := clientFn().UpdatePipeline(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			out.Success("Pipeline updated")
			out.Print(pipelineHeaders, [][]string{pipelineRow(pipeline)}, pipeline)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New pipeline name")
	cmd.Flags().StringVar(&active, "active", "", "Set active status (true/false)")

	return cmd
}

func newPipelineDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeletePipeline(cmd.Context(), args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Pipeline deleted: %s", args[0]))
			return nil
		},
	}
}

func newPipelineVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions PIPELINE_ID",
		Short: "List pipeline versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := clientFn().ListVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			headers := []string{"PIPELINE_ID", "VERSION", "STEPS", "CREATED"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.PipelineID, strconv.Itoa(v.Version), strconv.Itoa(stepCount(v.Spec)), v.CreatedAt}
			}

			outputFn().Print(headers, rows, versions)
			return nil
		},
	}
}

func newPipelinePublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "publish PIPELINE_ID",
		Short: "Publish a new pipeline version from a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			// Разбираем локально, чтобы синтаксические ошибки не уходили на сервер
			spec, err := readSpecFile(specFile)
			if err != nil {
				return err
			}
			raw, err := specJSON(spec)
			if err != nil {
				return err
			}

			version, err := clientFn().CreateVersion(cmd.Context(), args[0], raw, "")
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Version %d published for pipeline %s", version.Version, version.PipelineID))
			out.Print(
				[]string{"PIPELINE_ID", "VERSION", "STEPS", "CREATED"},
				[][]string{{version.PipelineID, strconv.Itoa(version.Version), strconv.Itoa(stepCount(version.Spec)), version.CreatedAt}},
				version,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "", "Path to pipeline definition (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newPipelineSpecCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "spec PIPELINE_ID",
		Short: "Print the stored definition of a pipeline version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()

			var v *PipelineVersionResponse
			var err error
			if cmd.Flags().Changed("version") {
				v, err = client.GetVersion(cmd.Context(), args[0], version)
			} else {
				var versions []PipelineVersionResponse
				versions, err = client.ListVersions(cmd.Context(), args[0])
				if err == nil && len(versions) == 0 {
					err = fmt.Errorf("pipeline %s has no versions", args[0])
				}
				if err == nil {
					// Версии отсортированы от новой к старой
					v = &versions[0]
				}
			}
			if err != nil {
				return err
			}

			// Определение всегда выводится в JSON
			outputFn().JSON(v.Spec)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Pipeline version (latest if not specified)")

	return cmd
}

func stepCount(spec map[string]any) int {
	steps, _ := spec["steps"].([]any)
	return len(steps)
}
