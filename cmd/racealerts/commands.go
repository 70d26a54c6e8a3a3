package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/albapepper/race-alerts/internal/api/handler"
	"github.com/albapepper/race-alerts/internal/db"
	"github.com/albapepper/race-alerts/internal/notifications"
)

// runBody is what `schedule` prints: the run message in the same
// {statusCode, body} envelope dispatch results use.
type runBody struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// --------------------------------------------------------------------------
// schedule command
// --------------------------------------------------------------------------

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run one scheduling pass and start delayed executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// runSchedule always reports a count. Failures before the run starts (bad
// config, unreachable backend) are logged and reported as zero scheduled;
// only a failed write to w is returned.
func runSchedule(ctx context.Context, w io.Writer) error {
	var result notifications.RunResult
	if err := scheduleOnce(ctx, &result); err != nil {
		logger.Error("Scheduling run could not start", "error", err)
	}
	for _, e := range result.Errors {
		logger.Error("schedule error", "error", e)
	}
	return writeJSON(w, runBody{StatusCode: http.StatusOK, Body: result.Message()})
}

func scheduleOnce(ctx context.Context, result *notifications.RunResult) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := connectBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	source, _ := newSource(cfg)
	scheduler := notifications.NewScheduler(source, b.starter, policyFrom(cfg), nil, logger)
	*result = scheduler.Run(ctx)
	return nil
}

// --------------------------------------------------------------------------
// dispatch command
// --------------------------------------------------------------------------

func dispatchCmd() *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send the notification for one stored payload (stdin or --payload)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			raw := []byte(payload)
			if payload == "" {
				raw, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
			}

			result := newDispatcher(cfg, nil).Dispatch(cmd.Context(), raw)
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.OK() {
				return fmt.Errorf("dispatch failed with status %d", result.StatusCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "Payload JSON (default: read from stdin)")
	return cmd
}

// --------------------------------------------------------------------------
// preview command
// --------------------------------------------------------------------------

func previewCmd() *cobra.Command {
	var all, asJSON bool
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what a scheduling run would do, without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			source, drivers := newSource(cfg)
			scheduler := notifications.NewScheduler(source, nil, policyFrom(cfg), nil, logger)
			evals, races, err := scheduler.Plan(ctx)
			if err != nil {
				return err
			}
			preview := handler.NewPreview(evals, races, time.Now())

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), preview)
			}

			driverCounts := map[string]string{}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "START (UTC)\tEVENT\tCIRCUIT\tLAPS\tDRIVERS\tSTATUS\tNOTIFY AT\tWAIT")
			for _, ev := range preview.Events {
				if !all && ev.Status == string(notifications.SkipStarted) {
					continue
				}
				laps := "-"
				if ev.Laps != nil {
					laps = strconv.Itoa(*ev.Laps)
				}
				count, ok := driverCounts[ev.RaceID]
				if !ok {
					count = "-"
					if drivers != nil {
						if n, err := drivers.DriverCount(ctx, ev.RaceID); err == nil && n > 0 {
							count = strconv.Itoa(n)
						}
					}
					driverCounts[ev.RaceID] = count
				}
				wait := "-"
				if ev.Status == "eligible" {
					wait = (time.Duration(ev.WaitSeconds) * time.Second).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					ev.StartTime, ev.Event, ev.Circuit, laps, count, ev.Status, orDash(ev.NotifyAt), wait)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d races, %d eligible events\n", preview.Races, preview.Eligible)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include events that have already started")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the preview as JSON")
	return cmd
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the delayed_executions table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			start := time.Now()
			if err := db.Migrate(cmd.Context(), cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Migration complete", "duration", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
