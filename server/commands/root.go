// Package commands is the bpmnrt command line.
package commands

import (
	"context"
	"fmt"
	"github.com/spf13/cobra"
	"gitlab.com/shar-workflow/bpmnrt/cli/output"
	"gitlab.com/shar-workflow/bpmnrt/client/parser"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/server/config"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"os"
)

type flags struct {
	ConfigFile  string
	Json        bool
	BusinessKey string
	ProcessID   string
	ExecutionID string
	Assignee    string
	Local       bool
}

// cli is the state shared by the commands of one root command.
type cli struct {
	flags flags
	cfg   *config.Settings
	out   output.Method
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "bpmnrt",
		Short:         "BPMN process engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.GetEnvironment(c.flags.ConfigFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			lev, addSource := logx.ParseLevel(cfg.LogLevel)
			logx.SetDefault(cfg.LogHandler, lev, addSource, "bpmnrt")
			c.out = output.New(cmd.OutOrStdout(), c.flags.Json)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.flags.ConfigFile, "config", "", "path to a YAML settings file; environment variables take precedence")
	root.PersistentFlags().BoolVarP(&c.flags.Json, "json", "j", false, "sets the output to json")
	root.AddCommand(
		c.serveCmd(),
		c.traceCmd(),
		c.migrateCmd(),
		c.deployCmd(),
		c.definitionsCmd(),
		c.startCmd(),
		c.cancelCmd(),
		c.variablesCmd(),
		c.tasksCmd(),
		c.completeCmd(),
		c.signalCmd(),
		c.messageCmd(),
		c.jobsCmd(),
		c.retriesCmd(),
	)
	return root
}

// Execute adds all child commands to the root command and sets flag appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withEngine runs fn against an engine on the configured store. The engine runs no jobs itself;
// jobs it creates are left for a running server.
func (c *cli) withEngine(ctx context.Context, fn func(eng *workflow.Engine) error) error {
	store, err := storage.Open(ctx, c.cfg.DBDriver, c.cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	eng, err := workflow.New(store, parser.Loader{}, workflow.WithNotifier(workflow.LogNotifier{}))
	if err != nil {
		return fmt.Errorf("create workflow engine: %w", err)
	}
	return fn(eng)
}
