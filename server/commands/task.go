package commands

import (
	"fmt"
	"github.com/spf13/cobra"
	"gitlab.com/shar-workflow/bpmnrt/common/valueparsing"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
)

func (c *cli) tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Lists open user tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd.Context(), func(eng *workflow.Engine) error {
				tasks, err := eng.ListTasks(cmd.Context(), workflow.TaskFilter{ProcessInstanceID: c.flags.ProcessID, Assignee: c.flags.Assignee})
				if err != nil {
					return fmt.Errorf("list tasks: %w", err)
				}
				c.out.OutputTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&c.flags.ProcessID, "process", "p", "", "only tasks of this process instance")
	cmd.Flags().StringVarP(&c.flags.Assignee, "assignee", "a", "", "only tasks assigned to this user")
	return cmd
}

func (c *cli) completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `complete <task id> ["name":type(value)]...`,
		Short: "Completes a user task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := valueparsing.Parse(args[1:])
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(eng *workflow.Engine) error {
				if err := eng.CompleteUserTask(cmd.Context(), args[0], vars); err != nil {
					return fmt.Errorf("complete task: %w", err)
				}
				c.out.OutputDone("completed", args[0])
				return nil
			})
		},
	}
}
