// Package config loads the catalogue file: a viper-backed document
// carrying service-level settings (dry_run, manual_sync port, logging,
// history) plus the per-project records that internal/catalogue turns into
// SyncDetails. The loader does not interpret rsync/script/static semantics
// itself — it decodes the raw project map and hands it to details.New,
// keeping configuration parsing separate from the scheduling core.
package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/cosi-lab/syncsched/internal/details"
	"github.com/cosi-lab/syncsched/internal/logger"
)

// ManualSyncConfig configures the manual-sync reply socket.
type ManualSyncConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures rotated (lumberjack-backed) capture of each sync
// job's stdout/stderr.
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// HistoryConfig toggles and points at the durable sync-attempt log (C6).
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// rawProject is the shape decoded straight off the catalogue document for
// one project entry, before details.New interprets it.
type rawProject struct {
	Static       bool           `mapstructure:"static"`
	PasswordFile string         `mapstructure:"password_file"`
	Rsync        map[string]any `mapstructure:"rsync"`
	Script       map[string]any `mapstructure:"script"`
}

// Config is the fully decoded catalogue document.
type Config struct {
	DryRun     bool                  `mapstructure:"dry_run"`
	ManualSync ManualSyncConfig      `mapstructure:"manual_sync"`
	Log        LogConfig             `mapstructure:"log"`
	History    HistoryConfig         `mapstructure:"history"`
	Projects   map[string]rawProject `mapstructure:"projects"`
}

const defaultManualSyncPort = 9281

// Load reads the catalogue file at path (TOML, YAML, or JSON, extension
// driven) and returns the decoded Config plus the ordered list of raw
// per-project records ready for catalogue.Build. Records are returned in
// sorted-by-name order for deterministic logging.
func Load(path string) (*Config, []details.Record, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("manual_sync.port", defaultManualSyncPort)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read catalogue file %s: %w", path, err)
	}

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, nil, fmt.Errorf("decode catalogue file %s: %w", path, err)
	}

	names := make([]string, 0, len(cfg.Projects))
	for name := range cfg.Projects {
		names = append(names, name)
	}
	sort.Strings(names)

	records := make([]details.Record, 0, len(names))
	for _, name := range names {
		raw := cfg.Projects[name]
		rec := details.Record{
			Name:         name,
			Static:       raw.Static,
			PasswordFile: raw.PasswordFile,
		}
		if raw.Rsync != nil {
			r, err := decodeRsync(raw.Rsync)
			if err != nil {
				slog.Warn("skipping malformed project", "project", name, "error", err)
				continue
			}
			rec.Rsync = r
		}
		if raw.Script != nil {
			s, err := decodeScript(raw.Script)
			if err != nil {
				slog.Warn("skipping malformed project", "project", name, "error", err)
				continue
			}
			rec.Script = s
		}
		records = append(records, rec)
	}

	return &cfg, records, nil
}

// decodeRsync turns the catalogue's free-form "options" field (a single
// string, a list of strings, or a list of lists of strings) into the
// one-entry-per-command shape RsyncRecord.Options expects.
func decodeRsync(m map[string]any) (*details.RsyncRecord, error) {
	type wire struct {
		SyncsPerDay int    `mapstructure:"syncs_per_day"`
		User        string `mapstructure:"user"`
		Host        string `mapstructure:"host"`
		Src         string `mapstructure:"src"`
		Dest        string `mapstructure:"dest"`
		Options     any    `mapstructure:"options"`
	}
	var w wire
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", WeaklyTypedInput: true, Result: &w})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode rsync section: %w", err)
	}

	opts, err := normalizeOptions(w.Options)
	if err != nil {
		return nil, err
	}

	return &details.RsyncRecord{
		SyncsPerDay: w.SyncsPerDay,
		Options:     opts,
		User:        w.User,
		Host:        w.Host,
		Src:         w.Src,
		Dest:        w.Dest,
	}, nil
}

// normalizeOptions accepts a single options string, a list of option
// strings, or a list of option-token lists, and always returns one string
// per command to emit.
func normalizeOptions(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, entry := range t {
			switch e := entry.(type) {
			case string:
				out = append(out, e)
			case []any:
				toks := make([]string, 0, len(e))
				for _, tok := range e {
					s, ok := tok.(string)
					if !ok {
						return nil, fmt.Errorf("rsync options: expected string token, got %T", tok)
					}
					toks = append(toks, s)
				}
				out = append(out, strings.Join(toks, " "))
			default:
				return nil, fmt.Errorf("rsync options: unsupported entry type %T", entry)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("rsync options: unsupported type %T", v)
	}
}

func decodeScript(m map[string]any) (*details.ScriptRecord, error) {
	type wire struct {
		SyncsPerDay int      `mapstructure:"syncs_per_day"`
		Command     string   `mapstructure:"command"`
		Arguments   []string `mapstructure:"arguments"`
	}
	var w wire
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", WeaklyTypedInput: true, Result: &w})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode script section: %w", err)
	}
	return &details.ScriptRecord{
		SyncsPerDay: w.SyncsPerDay,
		Command:     w.Command,
		Arguments:   w.Arguments,
	}, nil
}
