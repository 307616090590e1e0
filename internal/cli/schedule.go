package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для управления schedules.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage pipeline schedules",
		Long: `Manage schedules that start pipeline runs by cron expression or interval.

A schedule has exactly one timing: --cron or --every. Setting one of them
on update replaces the other.`,
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleShowCmd(clientFn, outputFn),
		newScheduleUpdateCmd(clientFn, outputFn),
		newScheduleSetEnabledCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

var scheduleHeaders = []string{"ID", "PIPELINE_ID", "NAME", "TIMING", "ENABLED", "NEXT_DUE", "LAST_RUN"}

func scheduleRow(s *ScheduleResponse) []string {
	return []string{
		s.ID, s.PipelineID, s.Name, scheduleTiming(s),
		strconv.FormatBool(s.Enabled), s.NextDueAt, s.LastRunAt,
	}
}

// scheduleTiming — "cron 0 9 * * * (Europe/Moscow)" или "every 1m0s".
func scheduleTiming(s *ScheduleResponse) string {
	var timing string
	switch {
	case s.CronExpr != "":
		timing = "cron " + s.CronExpr
	case s.IntervalSec > 0:
		timing = "every " + (time.Duration(s.IntervalSec) * time.Second).String()
	default:
		return ""
	}
	if s.Timezone != "" && s.Timezone != "UTC" {
		timing += " (" + s.Timezone + ")"
	}
	return timing
}

// printSchedule выводит schedule целиком, включая входные параметры.
func printSchedule(out *Output, s *ScheduleResponse) {
	if out.JSONMode() {
		out.JSON(s)
		return
	}

	out.KeyValues([][2]string{
		{"ID", s.ID},
		{"Pipeline", s.PipelineID},
		{"Name", s.Name},
		{"Timing", scheduleTiming(s)},
		{"Enabled", strconv.FormatBool(s.Enabled)},
		{"Next due", s.NextDueAt},
		{"Last run", s.LastRunID},
		{"Last run at", s.LastRunAt},
		{"Updated", s.UpdatedAt},
	})

	if len(s.Inputs) > 0 {
		data, err := json.MarshalIndent(s.Inputs, "", "  ")
		if err == nil {
			fmt.Fprintf(out.w, "Inputs:\n%s\n", data)
		}
	}
}

// intervalSeconds переводит --every в секунды.
func intervalSeconds(every time.Duration) (int, error) {
	if every < time.Second || every%time.Second != 0 {
		return 0, fmt.Errorf("--every must be a whole number of seconds, got %s", every)
	}
	return int(every / time.Second), nil
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipelineID string
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			schedules, err := clientFn().ListSchedules(cmd.Context(), pipelineID)
			if err != nil {
				return err
			}

			if enabledOnly {
				active := schedules[:0]
				for _, s := range schedules {
					if s.Enabled {
						active = append(active, s)
					}
				}
				schedules = active
			}

			rows := make([][]string, len(schedules))
			for i := range schedules {
				rows[i] = scheduleRow(&schedules[i])
			}
			out.Print(scheduleHeaders, rows, schedules)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineID, "pipeline-id", "", "Filter by pipeline ID")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Show only enabled schedules")

	return cmd
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		name     string
		cronExpr string
		every    time.Duration
		timezone string
		inputs   []string
		varFile  string
		paused   bool
	)

	cmd := &cobra.Command{
		Use:   "create PIPELINE_ID",
		Short: "Schedule runs of a pipeline",
		Example: `  pipeflow schedule create 3f2a... --name nightly --cron "0 3 * * *" --timezone Europe/Moscow
  pipeflow schedule create 3f2a... --name poll --every 5m --input source=api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			if (cronExpr == "") == (every == 0) {
				return fmt.Errorf("exactly one of --cron or --every is required")
			}

			req := CreateScheduleRequest{
				Name:     name,
				CronExpr: cronExpr,
				Timezone: timezone,
				Enabled:  !paused,
			}
			if every != 0 {
				sec, err := intervalSeconds(every)
				if err != nil {
					return err
				}
				req.IntervalSec = sec
			}

			values, err := collectInputs(varFile, inputs)
			if err != nil {
				return err
			}
			req.Inputs = values

			schedule, err := clientFn().CreateSchedule(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule created: %s", schedule.ID))
			printSchedule(out, schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Schedule name (required)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression, e.g. '0 * * * *'")
	cmd.Flags().DurationVar(&every, "every", 0, "Run interval, e.g. 30s or 1h")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for cron, default UTC")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Run input as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&varFile, "var-file", "", "JSON or YAML file with run inputs")
	cmd.Flags().BoolVar(&paused, "paused", false, "Create the schedule disabled")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newScheduleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := clientFn().GetSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			printSchedule(outputFn(), schedule)
			return nil
		},
	}
}

func newScheduleUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		name     string
		cronExpr string
		every    time.Duration
		timezone string
		inputs   []string
		varFile  string
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a schedule",
		Long: `Update a schedule. Only the given flags change.

--input and --var-file replace the stored inputs as a whole.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			flags := cmd.Flags()

			if flags.Changed("cron") && flags.Changed("every") {
				return fmt.Errorf("--cron and --every are mutually exclusive")
			}

			req := UpdateScheduleRequest{}
			if flags.Changed("name") {
				req.Name = &name
			}
			if flags.Changed("timezone") {
				req.Timezone = &timezone
			}

			// Смена вида расписания сбрасывает другой вид
			switch {
			case flags.Changed("cron"):
				noInterval := 0
				req.CronExpr = &cronExpr
				req.IntervalSec = &noInterval
			case flags.Changed("every"):
				sec, err := intervalSeconds(every)
				if err != nil {
					return err
				}
				noCron := ""
				req.IntervalSec = &sec
				req.CronExpr = &noCron
			}

			if flags.Changed("input") || flags.Changed("var-file") {
				values, err := collectInputs(varFile, inputs)
				if err != nil {
					return err
				}
				if values == nil {
					values = map[string]any{}
				}
				req.Inputs = &values
			}

			schedule, err := clientFn().UpdateSchedule(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			out.Success("Schedule updated")
			printSchedule(out, schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New schedule name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Switch to a cron expression")
	cmd.Flags().DurationVar(&every, "every", 0, "Switch to a run interval")
	cmd.Flags().StringVar(&timezone, "timezone", "", "New timezone")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Run input as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&varFile, "var-file", "", "JSON or YAML file with run inputs")

	return cmd
}

func newScheduleSetEnabledCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "set-enabled ID true|false",
		Short: "Enable or pause a schedule",
		Long: `Enable or pause a schedule.

Re-enabling computes the next due time from now: runs missed while
the schedule was paused are not started.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			enabled, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid enabled value %q, expected true or false", args[1])
			}

			schedule, err := clientFn().SetScheduleEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}

			if enabled {
				out.Success(fmt.Sprintf("Schedule enabled, next run at %s", schedule.NextDueAt))
			} else {
				out.Success("Schedule paused")
			}
			printSchedule(out, schedule)
			return nil
		},
	}
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}
