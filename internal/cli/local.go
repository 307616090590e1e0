package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/domain"
	"github.com/shaiso/Pipeflow/internal/engine"
	"github.com/shaiso/Pipeflow/internal/runner"
	"github.com/shaiso/Pipeflow/internal/steps"
	"github.com/shaiso/Pipeflow/internal/telemetry"
	"github.com/shaiso/Pipeflow/internal/transform"
)

// ErrPipelineFailed — локальное выполнение завершилось ошибкой.
var ErrPipelineFailed = errors.New("pipeline failed")

// ExecResult — итог локального выполнения (вывод --json).
type ExecResult struct {
	Status     string           `json:"status"`
	Result     any              `json:"result,omitempty"`
	Error      *domain.RunError `json:"error,omitempty"`
	Variables  map[string]any   `json:"variables,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

// LocalOptions — общие параметры локального выполнения.
type LocalOptions struct {
	// PipelineDir — каталог для sub_pipeline по имени: <dir>/<name>.{json,yaml,yml}.
	PipelineDir string

	// Permissions — выданные права, через запятую; пусто — без ограничений.
	Permissions string

	MaxDepth    int
	MaxParallel int
}

// NewExecCmd создаёт команду локального выполнения pipeline.
func NewExecCmd(opts *LocalOptions, outputFn func() *Output) *cobra.Command {
	var file string
	var inputs []string
	var varFile string
	var timeout time.Duration
	var showVars bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute a pipeline file locally",
		Long: `Execute a pipeline definition (JSON or YAML) in-process.

Inputs are available to steps as $name and $inputs.name. Variables from
--var-file are merged first, --input values override them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			spec, err := readSpecFile(file)
			if err != nil {
				return err
			}

			values, err := collectInputs(varFile, inputs)
			if err != nil {
				return err
			}

			applied, err := spec.ApplyInputs(values)
			if err != nil {
				return err
			}

			executor := opts.executor()
			if err := executor.Validate(spec.Steps); err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			level := telemetry.LogLevel()
			if verbose {
				level = slog.LevelDebug
			}
			ctx = telemetry.WithLogger(ctx, telemetry.NewLogger(cmd.ErrOrStderr(), level, "text"))
			if opts.Permissions != "" {
				ctx = capability.WithPermissions(ctx, capability.ParsePermissions(opts.Permissions))
			}

			vars := engine.NewContext(runner.Variables(applied))

			start := time.Now()
			result, runErr := executor.Run(ctx, vars, spec.Steps)

			res := ExecResult{
				Status:     string(domain.RunStatusSucceeded),
				Result:     result,
				DurationMs: time.Since(start).Milliseconds(),
			}
			if runErr != nil {
				res.Status = string(domain.RunStatusFailed)
				res.Result = nil
				res.Error = runner.NewRunError(runErr)
			}
			if showVars || out.JSONMode() {
				res.Variables = vars.Variables()
			}

			printExecResult(out, res)

			if res.Error != nil {
				return fmt.Errorf("%w: %s", ErrPipelineFailed, res.Error.Error())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Pipeline definition (JSON or YAML, required)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&varFile, "var-file", "", "JSON or YAML file with input values")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Cancel the pipeline after this duration")
	cmd.Flags().BoolVar(&showVars, "show-vars", false, "Print the final variable context")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log step execution to stderr")
	cmd.MarkFlagRequired("file")

	return cmd
}

func printExecResult(out *Output, res ExecResult) {
	if out.JSONMode() {
		out.JSON(res)
		return
	}

	var errText string
	if res.Error != nil {
		errText = res.Error.Error()
		if res.Error.Code != "" {
			errText = res.Error.Code + ": " + errText
		}
	}
	out.KeyValues([][2]string{
		{"Status", res.Status},
		{"Duration", fmt.Sprintf("%dms", res.DurationMs)},
		{"Error", errText},
	})

	if res.Result != nil {
		out.JSON(res.Result)
	}
	if res.Variables != nil {
		out.JSON(res.Variables)
	}
}

// NewValidateCmd создаёт команду статической проверки pipeline.
func NewValidateCmd(opts *LocalOptions, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline file without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			spec, err := readSpecFile(file)
			if err != nil {
				return err
			}

			verr := opts.executor().Validate(spec.Steps)
			if out.JSONMode() {
				res := map[string]any{"valid": verr == nil, "steps": len(spec.Steps)}
				if verr != nil {
					res["error"] = verr.Error()
				}
				out.JSON(res)
			}
			if verr != nil {
				return verr
			}

			if !out.JSONMode() {
				out.Success(fmt.Sprintf("%s: valid (%d top-level steps)", file, len(spec.Steps)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Pipeline definition (JSON or YAML, required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

// NewCapabilitiesCmd создаёт команду вывода встроенных capabilities.
func NewCapabilitiesCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List built-in capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			caps := capability.DefaultRegistry().List()

			type item struct {
				Name        string            `json:"name"`
				Description string            `json:"description,omitempty"`
				Input       capability.Schema `json:"input"`
				Output      capability.Schema `json:"output"`
			}

			items := make([]item, len(caps))
			rows := make([][]string, len(caps))
			for i, c := range caps {
				items[i] = item{c.Name(), c.Description(), c.InputSchema(), c.OutputSchema()}
				rows[i] = []string{c.Name(), strings.Join(c.InputSchema().Required, ","), c.Description()}
			}

			outputFn().Print([]string{"NAME", "REQUIRED", "DESCRIPTION"}, rows, items)
			return nil
		},
	}
}

// NewOperationsCmd создаёт команду вывода операций transform.
func NewOperationsCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List transform operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := transform.DefaultRegistry().Names()

			rows := make([][]string, len(names))
			for i, name := range names {
				rows[i] = []string{name}
			}

			outputFn().Print([]string{"OPERATION"}, rows, names)
			return nil
		},
	}
}

func (o *LocalOptions) executor() *steps.Executor {
	var loader steps.DefinitionLoader
	if o.PipelineDir != "" {
		loader = DirLoader(o.PipelineDir)
	}

	return steps.NewExecutor(steps.Options{
		Capabilities: capability.DefaultRegistry(),
		Transforms:   transform.DefaultRegistry(),
		Loader:       loader,
		MaxDepth:     o.MaxDepth,
		MaxParallel:  o.MaxParallel,
	})
}

// DirLoader загружает именованные sub-pipelines из каталога.
type DirLoader string

// LoadSteps ищет <dir>/<name>.json, .yaml или .yml.
func (d DirLoader) LoadSteps(_ context.Context, name string) ([]steps.Config, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid pipeline name %q", name)
	}

	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(string(d), name+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		spec, err := readSpecFile(path)
		if err != nil {
			return nil, err
		}
		return spec.Steps, nil
	}

	return nil, fmt.Errorf("pipeline %q not found in %s: %w", name, string(d), os.ErrNotExist)
}
