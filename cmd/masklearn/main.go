package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tlanc/masklearn/checkpoints"
	"github.com/tlanc/masklearn/config"
)

var (
	configPath string
	resumePath string
	testOnly   bool
	verbose    bool
)

func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "masklearn",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(configPath)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "masklearn",
		Short:         "Learn measurement masks and weights via bi-level meta-optimization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the outer optimization loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			learner, err := config.Build(cfg, logger)
			if err != nil {
				return err
			}

			if resumePath != "" {
				snap, err := checkpoints.Load(resumePath)
				if err != nil {
					return err
				}
				if err := learner.RestoreSnapshot(snap); err != nil {
					return err
				}
				logger.Info("resumed from snapshot", "path", resumePath, "iteration", learner.Iteration())
			}

			if testOnly {
				// Skip training, evaluate the current hyperparameter as-is.
				learner.Config.Iterations = learner.Iteration()
			}

			if cfg.Checkpoint.Dir != "" {
				if err := os.MkdirAll(cfg.Checkpoint.Dir, 0o755); err != nil {
					return err
				}
				if err := cfg.Save(cfg.Checkpoint.Dir + "/run.yaml"); err != nil {
					logger.Warn("could not persist run configuration", "err", err)
				}
			}

			return learner.Run()
		},
	}
	run.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML run configuration")
	run.Flags().StringVar(&resumePath, "resume", "", "snapshot to resume from")
	run.Flags().BoolVar(&testOnly, "test", false, "skip training and run the test pass only")

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "masklearn.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	root.AddCommand(run, initCmd)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("run failed", "err", err)
		os.Exit(1)
	}
}
