package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/chronobot/internal/app"
	"github.com/aatumaykin/chronobot/internal/scheduler"
)

var tickPlan bool

// tickCmd runs one scheduler tick for operational debugging.
var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run exactly one scheduler tick",
	Long: `Run one scheduler tick against the configured storage and Telegram bot,
then print the tick report. With --plan nothing is sent: every enabled item
is evaluated and its verdict printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		cfg.Logging.Output = "stderr"
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		a := app.New(cfg, log, appOptions...)
		defer func() { _ = a.Shutdown() }()
		if err := a.Initialize(cmd.Context()); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if tickPlan {
			evals, tenants, err := a.Scheduler().Plan(cmd.Context())
			printPlan(out, evals, tenants)
			return err
		}

		report := a.Scheduler().Tick(cmd.Context())
		printReport(out, report)
		if report.Failed() {
			return fmt.Errorf("tick %s had failures", report.TickID)
		}
		return nil
	},
}

func printPlan(out io.Writer, evals []scheduler.Evaluation, tenants int) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tLOCAL TIME\tMESSAGES\tDUE\tREASON")
	for _, ev := range evals {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
			ev.Key, ev.Local.Instant.Format("2006-01-02 15:04 MST"), ev.MessagesSince, ev.Verdict.Due, ev.Verdict.Reason)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "%d tenants, %d items evaluated\n", tenants, len(evals))
}

func printReport(out io.Writer, r scheduler.TickReport) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	rows := []struct {
		name  string
		value any
	}{
		{"tick", r.TickID},
		{"duration", r.Duration},
		{"tenants", r.Tenants},
		{"tenant errors", r.TenantErrors},
		{"evaluated", r.Evaluated},
		{"due", r.Due},
		{"dispatched", r.Dispatched},
		{"broadcast failures", r.BroadcastFailures},
		{"skipped in flight", r.SkippedInFlight},
		{"expiries popped", r.ExpiriesPopped},
		{"expired", r.Expired},
		{"expiry failures", r.ExpiryFailures},
		{"overrun", r.Overrun},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%v\n", row.name, row.value)
	}
	_ = w.Flush()
}

func init() {
	tickCmd.Flags().BoolVar(&tickPlan, "plan", false, "Evaluate items without dispatching anything")
}
