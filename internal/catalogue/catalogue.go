// Package catalogue holds the loaded set of sync projects and exposes them
// for deterministic, sorted iteration by the schedule builder.
package catalogue

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/cosi-lab/syncsched/internal/details"
)

// Catalogue is a name-keyed set of constructed SyncDetails.
type Catalogue map[string]*details.SyncDetails

// Build turns a set of raw per-project records into a Catalogue. Records
// that are static or malformed are skipped and logged, not fatal — a bad
// project entry never aborts the whole load. The caller decides whether an
// empty result is fatal.
func Build(records []details.Record) Catalogue {
	cat := make(Catalogue, len(records))
	for _, rec := range records {
		sd, err := details.New(rec)
		if err != nil {
			var malformed *details.MalformedError
			switch {
			case errors.Is(err, details.ErrStaticProject):
				slog.Info("skipping static project", "project", rec.Name)
			case errors.As(err, &malformed):
				slog.Warn("skipping malformed project", "project", rec.Name, "reason", malformed.Reason)
			default:
				slog.Warn("skipping project", "project", rec.Name, "error", err)
			}
			continue
		}
		cat[sd.Name] = sd
	}
	return cat
}

// Names returns the catalogue's project names in sorted order, giving every
// caller (Schedule construction, validate CLI output) a deterministic
// iteration order.
func (c Catalogue) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the SyncDetails for name, or nil if not catalogued.
func (c Catalogue) Get(name string) *details.SyncDetails {
	return c[name]
}
