package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/ksched/internal/workload"
	"github.com/me/ksched/pkg/model"
)

// remoteRun is the run view served by the monitor API.
type remoteRun struct {
	model.Run
	Running bool                    `json:"running"`
	Output  []string                `json:"output"`
	Results []workload.ThreadResult `json:"results"`
	Threads []model.ThreadInfo      `json:"threads"`
}

func getRemoteRun(id string) (*remoteRun, error) {
	resp, err := client.Get("/api/v1/runs/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	var run remoteRun
	if err := json.Unmarshal(resp.Data, &run); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &run, nil
}

func newSubmitCmd() *cobra.Command {
	var (
		policy model.Policy
		wait   bool
		poll   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <scenario.yaml>",
		Short: "Run a scenario on a ksched monitor",
		Long:  "Validate a scenario locally, then post it to the monitor given by --server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			sc, err := workload.Load(path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read scenario: %w", err)
			}

			q := url.Values{}
			q.Set("name", sc.Name)
			if policy != "" {
				q.Set("policy", string(policy))
			}
			resp, err := client.PostYAML("/api/v1/runs?"+q.Encode(), data)
			if err != nil {
				return fmt.Errorf("submit scenario: %w", err)
			}
			var started remoteRun
			if err := json.Unmarshal(resp.Data, &started); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run started: %s (%s, %s)\n", started.ID, started.Scenario, started.Policy)
			if !wait {
				return nil
			}

			for {
				run, err := getRemoteRun(started.ID)
				if err != nil {
					return err
				}
				if !run.Running {
					printRemoteRun(out, run)
					if run.Error != "" {
						return fmt.Errorf("run %s halted: %s", run.ID, run.Error)
					}
					return nil
				}
				logger.Debug("waiting for run", "run_id", run.ID, "ticks", run.Ticks)
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(poll):
				}
			}
		},
	}

	cmd.Flags().Var(newPolicyValue(&policy), "policy", "Scheduling policy (priority, mlfqs); overrides the scenario")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run to finish and print its report")
	cmd.Flags().DurationVar(&poll, "poll", 200*time.Millisecond, "Polling interval for --wait")
	return cmd
}

func printRemoteRun(w io.Writer, run *remoteRun) {
	state := "finished"
	if run.Running {
		state = "running"
	}
	fmt.Fprintf(w, "Run:      %s (%s)\n", run.ID, state)
	fmt.Fprintf(w, "Scenario: %s (%s)\n", run.Scenario, run.Policy)
	fmt.Fprintf(w, "Ticks:    %s (%s simulated), %s context switches\n",
		humanize.Comma(run.Ticks), simulated(run.Ticks), humanize.Comma(run.Switches))
	if run.Policy == model.PolicyMLFQS {
		fmt.Fprintf(w, "Load avg: %s\n", hundredths(run.LoadAvg))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.Error)
	}
	if len(run.Output) > 0 {
		fmt.Fprintln(w, "Output:")
		for _, line := range run.Output {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if len(run.Results) > 0 {
		fmt.Fprintln(w, "Units:")
		fmt.Fprintf(w, "  %-16s  %5s  %5s  %s\n", "NAME", "TID", "EXIT", "ERROR")
		for _, r := range run.Results {
			fmt.Fprintf(w, "  %-16s  %5d  %5d  %s\n", r.Name, r.TID, r.ExitStatus, r.Error)
		}
	}
}
