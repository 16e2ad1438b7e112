// Package syncscheduler is the top-level orchestrator: it holds the
// catalogue and the built Schedule, drives the main tick loop that fires
// batches at their scheduled time, and services manual-sync requests on a
// side TCP channel.
package syncscheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cosi-lab/syncsched/internal/catalogue"
	"github.com/cosi-lab/syncsched/internal/schedule"
)

// JobStarter is the subset of *jobmanager.Manager the scheduler depends on;
// tests substitute a fake to observe StartSync calls without forking.
type JobStarter interface {
	StartJob(jobName string, argv []string, passwordFile string, cmdIndex int) bool
}

// Scheduler owns the catalogue and Schedule; workers are given handles to
// it directly rather than reaching through package-level globals.
type Scheduler struct {
	cat    catalogue.Catalogue
	sched  *schedule.Schedule
	jobs   JobStarter
	dryRun bool
}

// ErrEmptyCatalogue signals that a catalogue with no usable projects cannot
// build a Schedule at all.
var ErrEmptyCatalogue = fmt.Errorf("syncscheduler: catalogue is empty")

// New builds a Scheduler from an already-loaded catalogue. A catalogue that
// contains no projects (after static/malformed entries were skipped) is
// fatal.
func New(cat catalogue.Catalogue, jobs JobStarter, dryRun bool) (*Scheduler, error) {
	if len(cat) == 0 {
		return nil, ErrEmptyCatalogue
	}
	sched, err := schedule.Build(cat)
	if err != nil {
		return nil, fmt.Errorf("syncscheduler: build schedule: %w", err)
	}
	return &Scheduler{cat: cat, sched: sched, jobs: jobs, dryRun: dryRun}, nil
}

// Schedule exposes the built Schedule (used by the CLI's validate command).
func (s *Scheduler) Schedule() *schedule.Schedule { return s.sched }

// Catalogue exposes the loaded catalogue.
func (s *Scheduler) Catalogue() catalogue.Catalogue { return s.cat }

// StartSync fires every command of project name. In dry-run mode it logs
// and returns true without spawning anything. The returned bool reflects
// whether every sub-command's StartJob call succeeded.
func (s *Scheduler) StartSync(name string) bool {
	details := s.cat.Get(name)
	if details == nil {
		slog.Warn("start_sync: unknown project", "project", name)
		return false
	}

	if s.dryRun {
		slog.Info("dry run: skipping sync", "project", name)
		return true
	}

	ok := true
	for i, argv := range details.Commands {
		jobName := name
		if i > 0 {
			jobName = fmt.Sprintf("%s_part_%d", name, i)
		}
		if !s.jobs.StartJob(jobName, argv, details.PasswordFile, i) {
			ok = false
		}
	}
	return ok
}

// StartAll fires start_sync for every catalogued project, in deterministic
// (sorted) name order. Used by the "all_projects" manual-sync sentinel.
// Returns true only if every project started successfully.
func (s *Scheduler) StartAll() bool {
	ok := true
	for _, name := range s.cat.Names() {
		if !s.StartSync(name) {
			ok = false
		}
	}
	return ok
}

// Run is the main tick worker: it blocks until each batch's fire time, then
// fires start_sync for every project in that batch, in sorted name order
// for reproducible logging. It returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, clock Clock) error {
	if clock == nil {
		clock = realClock{}
	}
	for {
		fireTime, projects := s.sched.NextBatch(clock.Now())
		if err := clock.SleepUntil(ctx, fireTime); err != nil {
			return err
		}
		for _, name := range projects {
			s.StartSync(name)
		}
	}
}

// manualSyncAllSentinel is the special project name that fires every
// catalogued project.
const manualSyncAllSentinel = "all_projects"

// HandleManualSync processes one manual-sync request payload and returns
// the UTF-8 reply payload.
func (s *Scheduler) HandleManualSync(name string) string {
	switch {
	case name == manualSyncAllSentinel:
		if s.StartAll() {
			return "SUCCESS: started sync for all_projects"
		}
		return "FAILURE: one or more projects failed to start"
	case s.cat.Get(name) != nil:
		if s.StartSync(name) {
			return fmt.Sprintf("SUCCESS: started sync for %s", name)
		}
		return fmt.Sprintf("FAILURE: could not start sync for %s", name)
	default:
		return fmt.Sprintf("FAILURE: Project %s not found!", name)
	}
}
