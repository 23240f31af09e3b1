package commands

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gitlab.com/shar-workflow/bpmnrt/common/valueparsing"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"os"
	"path/filepath"
	"strings"
)

func (c *cli) deployCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "deploy <file.bpmn>...",
		Short: "Deploys BPMN documents as new process definition versions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resources := make([]workflow.Resource, 0, len(args))
			for _, path := range args {
				b, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				resources = append(resources, workflow.Resource{Name: filepath.Base(path), Data: b})
			}
			if name == "" {
				name = strings.TrimSuffix(resources[0].Name, filepath.Ext(resources[0].Name))
			}
			return c.withEngine(cmd.Context(), func(eng *workflow.Engine) error {
				d, err := eng.Deploy(cmd.Context(), name, resources...)
				if err != nil {
					return fmt.Errorf("deploy: %w", err)
				}
				c.out.OutputDeployment(d)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "deployment name, the first file name by default")
	return cmd
}

func (c *cli) definitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "definitions",
		Short: "Lists deployed process definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd.Context(), func(eng *workflow.Engine) error {
				defs, err := eng.ListDefinitions(cmd.Context())
				if err != nil {
					return fmt.Errorf("list definitions: %w", err)
				}
				c.out.OutputDefinitions(defs)
				return nil
			})
		},
	}
}

func (c *cli) startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   `start <process key> ["name":type(value)]...`,
		Short: "Starts the latest version of a process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := valueparsing.Parse(args[1:])
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(eng *workflow.Engine) error {
				pid, err := eng.StartProcessInstanceByKey(cmd.Context(), args[0], vars, c.flags.BusinessKey)
				if err != nil {
					return fmt.Errorf("start %s: %w", args[0], err)
				}
				c.out.OutputStarted(pid.String(), args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&c.flags.BusinessKey, "business-key", "b", "", "business key of the new process instance")
	return cmd
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <process instance id>",
		Short: "Cancels a running process instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.onExecution(cmd.Context(), args[0], func(eng *workflow.Engine, id uuid.UUID) error {
				if err := eng.CancelProcessInstance(cmd.Context(), id); err != nil {
					return fmt.Errorf("cancel: %w", err)
				}
				c.out.OutputDone("cancelled", id.String())
				return nil
			})
		},
	}
}

func (c *cli) variablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   `vars <execution id> ["name":type(value)]...`,
		Short: "Shows the variables visible to an execution, setting any given first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := valueparsing.Parse(args[1:])
			if err != nil {
				return err
			}
			return c.onExecution(cmd.Context(), args[0], func(eng *workflow.Engine, id uuid.UUID) error {
				if len(vars) > 0 {
					if err := eng.SetVariables(cmd.Context(), id, vars, c.flags.Local); err != nil {
						return fmt.Errorf("set variables: %w", err)
					}
				}
				got, err := eng.GetVariables(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("get variables: %w", err)
				}
				c.out.OutputVariables(id.String(), got)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&c.flags.Local, "local", false, "set variables on the execution itself instead of where they are already defined")
	return cmd
}

func (c *cli) onExecution(ctx context.Context, arg string, fn func(eng *workflow.Engine, id uuid.UUID) error) error {
	id, err := uuid.Parse(arg)
	if err != nil {
		return fmt.Errorf("execution id %q: %w", arg, err)
	}
	return c.withEngine(ctx, func(eng *workflow.Engine) error {
		return fn(eng, id)
	})
}
