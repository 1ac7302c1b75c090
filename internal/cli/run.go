package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/ksched/internal/logging"
	"github.com/me/ksched/internal/store"
	"github.com/me/ksched/internal/workload"
	"github.com/me/ksched/pkg/model"
)

func newRunCmd() *cobra.Command {
	var (
		policy  model.Policy
		clock   string
		noStore bool
		trace   bool
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario on a fresh kernel and print its report",
		Long: `Boot a simulated kernel, run the scenario's units to completion and print
their output, exit statuses and the kernel statistics. The run and its trace
are recorded in the run database unless --no-store is given.

The policy is taken from --policy, then from the scenario, then from the
config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := workload.Load(args[0])
			if err != nil {
				return err
			}

			cfg := simCfg
			cfg.Policy = workload.ResolvePolicy(policy, sc, simCfg.Policy)
			if cmd.Flags().Changed("clock") {
				cfg.Clock = clock
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			rep, runErr := workload.Run(ctx, sc, cfg.KernelConfig(), logger, workload.Options{
				Clock:  cfg.NewClock(),
				Tracer: logging.NewEventLogger(logger),
			})

			if !noStore {
				st, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close()
				if err := workload.Archive(context.WithoutCancel(ctx), st, rep); err != nil {
					return fmt.Errorf("record run: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return fmt.Errorf("encode report: %w", err)
				}
			} else {
				printReport(out, rep)
				if trace {
					fmt.Fprintln(out, "Trace:")
					printEvents(out, rep.Events)
				}
			}

			if runErr != nil {
				return fmt.Errorf("scenario %s: %w", sc.Name, runErr)
			}
			return nil
		},
	}

	cmd.Flags().Var(newPolicyValue(&policy), "policy", "Scheduling policy (priority, mlfqs); overrides the scenario")
	cmd.Flags().Var(clockValue{c: &clock}, "clock", "Timer source (virtual, wall)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not record the run")
	cmd.Flags().BoolVar(&trace, "trace", false, "Print the full scheduler trace")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Halt the kernel after this much real time (0 = no limit)")

	return cmd
}

// openStore opens and migrates the run database selected by the config.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	path, err := simCfg.ResolveDBPath()
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", path)
	return st, nil
}

func printReport(w io.Writer, rep *workload.Report) {
	fmt.Fprintf(w, "Scenario: %s (%s)\n", rep.Scenario, rep.Policy)
	fmt.Fprintf(w, "Run:      %s\n", rep.RunID)
	if rep.Err != nil {
		fmt.Fprintf(w, "Halted:   %v\n", rep.Err)
	}

	if len(rep.Output) > 0 {
		fmt.Fprintln(w, "Output:")
		for _, line := range rep.Output {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}

	if len(rep.Results) > 0 {
		fmt.Fprintln(w, "Units:")
		fmt.Fprintf(w, "  %-16s  %5s  %5s  %s\n", "NAME", "TID", "EXIT", "ERROR")
		for _, r := range rep.Results {
			fmt.Fprintf(w, "  %-16s  %5d  %5d  %s\n", r.Name, r.TID, r.ExitStatus, r.Error)
		}
	}

	printStats(w, rep.Stats)
}

func printStats(w io.Writer, st model.Stats) {
	fmt.Fprintf(w, "Ticks:    %s (%s idle, %s kernel), %s simulated\n",
		humanize.Comma(st.Ticks), humanize.Comma(st.IdleTicks), humanize.Comma(st.KernelTicks),
		simulated(st.Ticks))
	fmt.Fprintf(w, "Threads:  %s created, %s exited, %s context switches\n",
		humanize.Comma(st.Created), humanize.Comma(st.Exited), humanize.Comma(st.Switches))
	if st.Policy == model.PolicyMLFQS {
		fmt.Fprintf(w, "Load avg: %s\n", hundredths(st.LoadAvg))
	}
}

func printEvents(w io.Writer, events []model.Event) {
	for _, ev := range events {
		fmt.Fprintf(w, "  %8s  %-8s  %-16s  tid=%-4d pri=%-2d  %s\n",
			humanize.Comma(ev.Tick), ev.Kind, ev.Name, ev.TID, ev.Priority, ev.Detail)
	}
}

// simulated renders a tick count as simulated time at the kernel's timer frequency.
func simulated(ticks int64) string {
	return (time.Duration(ticks) * time.Second / model.TimerFreq).String()
}

// hundredths renders a 100x fixed value such as load_avg.
func hundredths(v int) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
