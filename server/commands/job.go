package commands

import (
	"fmt"
	"github.com/spf13/cobra"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"strconv"
)

func (c *cli) jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Lists pending jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd.Context(), func(eng *workflow.Engine) error {
				jobs, err := eng.ListJobs(cmd.Context(), workflow.JobFilter{ProcessInstanceID: c.flags.ProcessID})
				if err != nil {
					return fmt.Errorf("list jobs: %w", err)
				}
				c.out.OutputJobs(jobs)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&c.flags.ProcessID, "process", "p", "", "only jobs of this process instance")
	return cmd
}

func (c *cli) retriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retries <job id> <retries>",
		Short: "Sets the retries left on a job, making a failed job runnable again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("retries %q: %w", args[1], err)
			}
			return c.withEngine(cmd.Context(), func(eng *workflow.Engine) error {
				if err := eng.SetJobRetries(cmd.Context(), args[0], n); err != nil {
					return fmt.Errorf("set retries: %w", err)
				}
				c.out.OutputDone("retries set", args[0])
				return nil
			})
		},
	}
}
