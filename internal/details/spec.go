// Package details builds the immutable per-project sync record (SyncDetails)
// from a pre-parsed project record, as consumed by the schedule and job
// manager packages.
package details

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// SyncMethod identifies how a project is synced.
type SyncMethod string

const (
	MethodRsync  SyncMethod = "rsync"
	MethodScript SyncMethod = "script"
)

// ErrStaticProject signals that a project is marked static and should be
// skipped without failing the whole catalogue load.
var ErrStaticProject = errors.New("project uses a static sync")

// MalformedError wraps a catalogue record that could not be turned into a
// SyncDetails (missing sync type, invalid syncs_per_day, empty rsync options).
type MalformedError struct {
	Project string
	Reason  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("project %q is malformed: %s", e.Project, e.Reason)
}

// SyncDetails is the immutable record for one catalogued project.
type SyncDetails struct {
	Name         string
	SyncsPerDay  int
	Method       SyncMethod
	Commands     [][]string // argv vectors, in order
	PasswordFile string     // optional; its first whitespace-delimited token is exported as RSYNC_PASSWORD
}

// Record is the opaque, pre-parsed project record consumed by New. It mirrors
// the shape decoded from the catalogue file by internal/config: a tagged map
// with either an "rsync" or "script" sub-record.
type Record struct {
	Name         string
	Static       bool
	PasswordFile string
	Rsync        *RsyncRecord
	Script       *ScriptRecord
}

// RsyncRecord is the rsync-specific sub-record.
type RsyncRecord struct {
	SyncsPerDay int
	// Options holds one entry per command to emit: a single options string
	// produces one command, multiple entries (e.g. primary/second/third
	// mirror paths) produce one command each.
	Options []string
	User    string
	Host    string
	Src     string
	Dest    string
}

// ScriptRecord is the script-specific sub-record.
type ScriptRecord struct {
	SyncsPerDay int
	Command     string
	Arguments   []string
}

const rsyncBinary = "/usr/bin/rsync"

// New constructs a SyncDetails from a pre-parsed record.
//
// Returns ErrStaticProject (wrapped) when the record is marked static: the
// caller treats this as "not catalogued" without aborting the whole load.
// Returns a *MalformedError for any other construction failure.
func New(rec Record) (*SyncDetails, error) {
	if rec.Static {
		return nil, fmt.Errorf("%w: %s", ErrStaticProject, rec.Name)
	}

	hasRsync := rec.Rsync != nil
	hasScript := rec.Script != nil
	if hasRsync == hasScript {
		// neither, or (invalid input) both
		return nil, &MalformedError{Project: rec.Name, Reason: "missing or ambiguous sync type (need exactly one of rsync/script)"}
	}

	var (
		method      SyncMethod
		syncsPerDay int
		commands    [][]string
		err         error
	)
	if hasRsync {
		method = MethodRsync
		syncsPerDay = rec.Rsync.SyncsPerDay
		commands, err = buildRsyncCommands(rec.Name, rec.Rsync)
	} else {
		method = MethodScript
		syncsPerDay = rec.Script.SyncsPerDay
		commands = [][]string{buildScriptCommand(rec.Script)}
	}
	if err != nil {
		return nil, err
	}

	if syncsPerDay <= 0 || syncsPerDay > 24 {
		return nil, &MalformedError{
			Project: rec.Name,
			Reason:  fmt.Sprintf("syncs_per_day must be in [1, 24], got %d", syncsPerDay),
		}
	}

	return &SyncDetails{
		Name:         rec.Name,
		SyncsPerDay:  syncsPerDay,
		Method:       method,
		Commands:     commands,
		PasswordFile: rec.PasswordFile,
	}, nil
}

func buildRsyncCommands(name string, r *RsyncRecord) ([][]string, error) {
	if len(r.Options) == 0 {
		return nil, &MalformedError{Project: name, Reason: "rsync section requires at least one options entry"}
	}
	source := r.Host + "::" + r.Src
	if strings.TrimSpace(r.User) != "" {
		source = r.User + "@" + r.Host + "::" + r.Src
	}
	cmds := make([][]string, 0, len(r.Options))
	for _, opts := range r.Options {
		argv := []string{rsyncBinary}
		argv = append(argv, strings.Fields(opts)...)
		argv = append(argv, source, r.Dest)
		cmds = append(cmds, argv)
	}
	return cmds, nil
}

func buildScriptCommand(s *ScriptRecord) []string {
	parts := append([]string{s.Command}, s.Arguments...)
	line := strings.Join(parts, " ")
	return []string{"/bin/sh", "-c", line}
}

// BuildCmd constructs an *exec.Cmd for the given argv vector. Index 0 is the
// executable path; BuildCmd never invokes an implicit shell beyond what the
// command composition already decided (script commands are pre-wrapped in
// /bin/sh -c by buildScriptCommand).
func BuildCmd(argv []string) *exec.Cmd {
	if len(argv) == 0 {
		// #nosec G204 -- deliberately inert; callers should never pass an empty argv.
		return exec.Command("/bin/true")
	}
	// #nosec G204 -- argv is derived from the catalogue, not free-form user input.
	return exec.Command(argv[0], argv[1:]...)
}
