package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/ksched/pkg/model"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse recorded runs in the run database",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd(), newRunsEventsCmd(), newRunsDeleteCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	opts := model.DefaultListOptions()

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			opts.Clamp()
			runs, total, err := st.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%-40s  %-16s  %-8s  %10s  %-16s  %s\n", "ID", "SCENARIO", "POLICY", "TICKS", "STARTED", "ERROR")
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s  %-16s  %-8s  %10s  %-16s  %s\n", "--", "--------", "------", "-----", "-------", "-----")
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s  %-16s  %-8s  %10s  %-16s  %s\n",
					r.ID, r.Scenario, r.Policy, humanize.Comma(r.Ticks), humanize.Time(r.StartedAt), r.Error)
			}
			if opts.Offset+len(runs) < total {
				fmt.Fprintf(cmd.OutOrStdout(), "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}

	cmd.Flags().Var(newPolicyValue(&opts.Policy), "policy", "Only runs with this policy")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "Only runs of this scenario")
	cmd.Flags().IntVar(&opts.Limit, "limit", opts.Limit, "Maximum runs to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Runs to skip")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return model.NewNotFoundError("run", args[0])
			}
			printRun(cmd.OutOrStdout(), run)

			logs, _, err := st.ListEvents(cmd.Context(), run.ID, model.EventListOptions{Kind: model.EventLog, Limit: 10000})
			if err != nil {
				return fmt.Errorf("list output: %w", err)
			}
			if len(logs) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Output:")
				for _, ev := range logs {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", ev.Detail)
				}
			}
			return nil
		},
	}
}

func printRun(w io.Writer, run *model.Run) {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Scenario: %s (%s)\n", run.Scenario, run.Policy)
	fmt.Fprintf(w, "Started:  %s (%s)\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Ticks:    %s (%s simulated), %s context switches\n",
		humanize.Comma(run.Ticks), simulated(run.Ticks), humanize.Comma(run.Switches))
	if run.Policy == model.PolicyMLFQS {
		fmt.Fprintf(w, "Load avg: %s\n", hundredths(run.LoadAvg))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.Error)
	}
}

func newRunsEventsCmd() *cobra.Command {
	var (
		opts model.EventListOptions
		kind string
		tid  int
	)

	cmd := &cobra.Command{
		Use:   "events <run_id>",
		Short: "Print the recorded trace of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return model.NewNotFoundError("run", args[0])
			}

			opts.Kind = model.EventKind(kind)
			opts.TID = model.TID(tid)
			opts.Clamp()
			events, total, err := st.ListEvents(cmd.Context(), run.ID, opts)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			printEvents(cmd.OutOrStdout(), events)
			if opts.Offset+len(events) < total {
				fmt.Fprintf(cmd.OutOrStdout(), "\n(%d of %d shown)\n", len(events), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only events of this kind (create, switch, donate, log, ...)")
	cmd.Flags().IntVar(&tid, "tid", 0, "Only events of this unit")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "Only events after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 500, "Maximum events to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Events to skip")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run_id>",
		Short: "Delete a recorded run and its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteRun(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
