package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"wprecur/internal/app"
	"wprecur/internal/config"
)

type rootOptions struct {
	config string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "wprecur",
		Short:         "Recurring work packages for OpenProject",
		Long:          "wprecur evaluates template work packages and creates their next occurrence once, linked to the template as a duplicate.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.config, "config", "c", "", "path to config (json or yaml); empty reads the environment only")

	cmd.AddCommand(
		newRunCommand(opts),
		newServeCommand(opts),
		newHistoryCommand(opts),
		newCheckConfigCommand(opts),
	)
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(opts.config, app.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.RunOnce(cmd.Context())
			printSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate and print decisions without writing")
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run passes on schedule.spec until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(opts.config, app.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "never write to OpenProject")
	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent passes from the run journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("--limit must be > 0")
			}
			a, err := app.New(opts.config, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()
			runs, err := a.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs")
	return cmd
}

func newCheckConfigCommand(opts *rootOptions) *cobra.Command {
	var serve bool
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := config.NewManager(opts.config)
			cfg, err := m.Parse()
			if err != nil {
				return err
			}
			if err := config.Validate(cfg, serve); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", true, "also check the schedule")
	return cmd
}
