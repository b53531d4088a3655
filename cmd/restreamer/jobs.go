package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gwlsn/restreamer/internal/api"
	"github.com/gwlsn/restreamer/internal/jobs"
)

func defaultServerURL() string {
	if u := os.Getenv("RESTREAMER_SERVER"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newJobsCmd() *cobra.Command {
	var server string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage jobs on a running server",
	}
	cmd.PersistentFlags().StringVar(&server, "server", defaultServerURL(), "Server base URL")
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print raw JSON")

	client := func() *api.Client { return api.NewClient(server) }

	printJob := func(w io.Writer, job *jobs.Job) error {
		if asJSON {
			return writeJSONOut(w, job)
		}
		printJobTable(w, []*jobs.Job{job})
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			list, err := client().List(c.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSONOut(c.OutOrStdout(), list)
			}
			printJobTable(c.OutOrStdout(), list)
			return nil
		},
	})

	cmd.AddCommand(newJobsAddCmd(client, printJob))

	for _, op := range []struct {
		use   string
		short string
		run   func(*api.Client, context.Context, string) (*jobs.Job, error)
	}{
		{"start", "Start a job's encoder", (*api.Client).Start},
		{"stop", "Stop a job's encoder", (*api.Client).Stop},
		{"get", "Show one job", (*api.Client).Get},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   op.use + " <id>",
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				job, err := op.run(client(), c.Context(), args[0])
				if err != nil {
					return err
				}
				return printJob(c.OutOrStdout(), job)
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Stop a job if live and delete it",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := client().Delete(c.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), "deleted", args[0])
			return nil
		},
	})

	return cmd
}

func newJobsAddCmd(client func() *api.Client, printJob func(io.Writer, *jobs.Job) error) *cobra.Command {
	var in jobs.Input
	var duration time.Duration
	var until, timezone string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a job",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			sched, err := scheduleFromFlags(duration, until, timezone)
			if err != nil {
				return err
			}
			in.Schedule = sched

			job, err := client().Add(c.Context(), in)
			if err != nil {
				return err
			}
			return printJob(c.OutOrStdout(), job)
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "Display name")
	f.StringVar(&in.SourcePath, "source", "", "Local video file to loop")
	f.StringVar(&in.DestinationKey, "key", "", "Stream key appended to the ingest URL")
	f.BoolVar(&in.StartImmediately, "start", false, "Start right after creating")
	f.DurationVar(&duration, "duration", 0, "Stop automatically after this long (e.g. 1h30m)")
	f.StringVar(&until, "until", "", "Stop automatically at YYYY-MM-DDTHH:MM")
	f.StringVar(&timezone, "timezone", "UTC", "IANA time zone for --until")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("key")
	cmd.MarkFlagsMutuallyExclusive("duration", "until")
	return cmd
}

// scheduleFromFlags builds a schedule from the add flags. No flags means manual.
func scheduleFromFlags(d time.Duration, until, timezone string) (jobs.Schedule, error) {
	switch {
	case d > 0:
		total := uint64(d / time.Second)
		if total == 0 {
			return jobs.Schedule{}, fmt.Errorf("--duration must be at least 1s")
		}
		return jobs.Schedule{
			Type: jobs.ScheduleDuration,
			Duration: &jobs.Duration{
				Hours:   total / 3600,
				Minutes: total % 3600 / 60,
				Seconds: total % 60,
			},
		}, nil
	case d < 0:
		return jobs.Schedule{}, fmt.Errorf("--duration must be positive")
	case until != "":
		return jobs.Schedule{
			Type:     jobs.ScheduleAbsolute,
			Absolute: &jobs.Absolute{Datetime: until, Timezone: timezone},
		}, nil
	default:
		return jobs.ManualSchedule(), nil
	}
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobTable(w io.Writer, list []*jobs.Job) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSCHEDULE\tELAPSED\tENCODER")
	for _, j := range list {
		elapsed := "-"
		if j.ElapsedSeconds != nil {
			elapsed = (time.Duration(*j.ElapsedSeconds) * time.Second).String()
		}
		encoder := j.Encoder
		if encoder == "" {
			encoder = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.Name, j.Status, j.Schedule.Type, elapsed, encoder)
	}
	tw.Flush()
}
