package commands

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gitlab.com/shar-workflow/bpmnrt/common/valueparsing"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
)

func (c *cli) signalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   `signal <name> ["name":type(value)]...`,
		Short: "Broadcasts a signal to every subscription, or to one execution",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := valueparsing.Parse(args[1:])
			if err != nil {
				return err
			}
			target, err := c.targetExecution()
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(eng *workflow.Engine) error {
				n, err := eng.SignalEventReceived(cmd.Context(), args[0], target, vars)
				if err != nil {
					return fmt.Errorf("signal %s: %w", args[0], err)
				}
				c.out.OutputSignaled(args[0], n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&c.flags.ExecutionID, "execution", "e", "", "only signal this execution")
	return cmd
}

func (c *cli) messageCmd() *cobra.Command {
	var start bool
	cmd := &cobra.Command{
		Use:   `message <name> ["name":type(value)]...`,
		Short: "Delivers a message to the execution waiting for it, or starts a process with --start",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := valueparsing.Parse(args[1:])
			if err != nil {
				return err
			}
			target, err := c.targetExecution()
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(eng *workflow.Engine) error {
				if start {
					pid, err := eng.StartProcessInstanceByMessage(cmd.Context(), args[0], vars, c.flags.BusinessKey)
					if err != nil {
						return fmt.Errorf("start by message %s: %w", args[0], err)
					}
					c.out.OutputStarted(pid.String(), "")
					return nil
				}
				if err := eng.MessageEventReceived(cmd.Context(), args[0], target, vars); err != nil {
					return fmt.Errorf("message %s: %w", args[0], err)
				}
				c.out.OutputDone("delivered", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&c.flags.ExecutionID, "execution", "e", "", "deliver to this execution")
	cmd.Flags().BoolVar(&start, "start", false, "start the process whose message start event awaits the message")
	cmd.Flags().StringVarP(&c.flags.BusinessKey, "business-key", "b", "", "business key of a started process instance")
	return cmd
}

func (c *cli) targetExecution() (uuid.UUID, error) {
	if c.flags.ExecutionID == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(c.flags.ExecutionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("execution id %q: %w", c.flags.ExecutionID, err)
	}
	return id, nil
}
