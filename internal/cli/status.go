package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/me/ksched/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show a run on a ksched monitor, with its units if it is still running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := getRemoteRun(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printRemoteRun(out, run)
			if len(run.Threads) > 0 {
				fmt.Fprintln(out, "Threads:")
				printThreads(out, run.Threads)
			}
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run_id>",
		Short: "Halt a run in progress on a ksched monitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			resp, err := client.Put("/api/v1/runs/" + url.PathEscape(id) + "/cancel")
			if err != nil {
				return fmt.Errorf("cancel run: %w", err)
			}
			var run remoteRun
			if err := json.Unmarshal(resp.Data, &run); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s halted at tick %d: %s\n", run.ID, run.Ticks, run.Error)
			return nil
		},
	}
}

func newThreadsCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List the units of a live kernel on a ksched monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/kernel/threads"
			if runID != "" {
				path += "?run=" + url.QueryEscape(runID)
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list threads: %w", err)
			}
			var threads []model.ThreadInfo
			if err := json.Unmarshal(resp.Data, &threads); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printThreads(cmd.OutOrStdout(), threads)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run to inspect (default: the latest)")
	return cmd
}

func printThreads(w io.Writer, threads []model.ThreadInfo) {
	fmt.Fprintf(w, "  %4s  %-16s  %-8s  %4s  %4s  %4s  %8s  %-12s  %s\n",
		"TID", "NAME", "STATE", "PRI", "BASE", "NICE", "RECENT", "WAITING ON", "DONORS")
	for _, th := range threads {
		donors := ""
		for i, d := range th.Donors {
			if i > 0 {
				donors += ","
			}
			donors += fmt.Sprint(d)
		}
		fmt.Fprintf(w, "  %4d  %-16s  %-8s  %4d  %4d  %4d  %8s  %-12s  %s\n",
			th.TID, th.Name, th.State, th.Priority, th.BasePriority, th.Nice,
			hundredths(th.RecentCPU), th.WaitingOn, donors)
	}
}
