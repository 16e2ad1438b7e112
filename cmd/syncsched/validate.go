package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cosi-lab/syncsched/internal/catalogue"
	"github.com/cosi-lab/syncsched/internal/config"
	"github.com/cosi-lab/syncsched/internal/syncscheduler"
)

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the catalogue and print a schedule summary without starting any workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *configPath == "" {
				return fmt.Errorf("validate requires --config")
			}
			return runValidate(cmd, *configPath)
		},
	}
}

func runValidate(cmd *cobra.Command, configPath string) error {
	cfg, records, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load catalogue: %w", err)
	}
	cat := catalogue.Build(records)

	// syncscheduler.New builds and verifies the Schedule; a nil JobStarter
	// is fine here since validate never calls StartSync.
	sched, err := syncscheduler.New(cat, nilJobStarter{}, cfg.DryRun)
	if err != nil {
		return fmt.Errorf("build schedule: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "projects: %d\n", len(cat))
	for _, name := range cat.Names() {
		d := cat.Get(name)
		fmt.Fprintf(out, "  %-20s %-8s syncs/day=%d commands=%d\n", name, d.Method, d.SyncsPerDay, len(d.Commands))
	}
	fmt.Fprintf(out, "lcm: %d\n", sched.Schedule().LCM)
	fmt.Fprintf(out, "interval length: %s\n", sched.Schedule().IntervalLength())
	fmt.Fprintf(out, "manual sync port: %d\n", cfg.ManualSync.Port)
	fmt.Fprintf(out, "dry run: %t\n", cfg.DryRun)
	return nil
}

// nilJobStarter satisfies syncscheduler.JobStarter for validate, which
// never fires a sync; any call would be a programming error.
type nilJobStarter struct{}

func (nilJobStarter) StartJob(jobName string, argv []string, passwordFile string, cmdIndex int) bool {
	return false
}
