// Copyright 2017, Kerby Shedden and the Muscato contributors.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable named in the CLI surface of spec §6, plus
// the file names derived from Prefix.
type Config struct {

	// The reference database: either a FASTA file (optionally
	// gzipped) or a previously persisted opaque index.
	DatabasePath string

	// The query FASTA file (optionally gzipped).
	QueryFile string

	// Emit the TSV output alongside the primary output.
	TSV bool

	// Emit the binning output.
	Binning bool

	// Zero out exact-match intersection entries before computing hit
	// probabilities.
	SkipExactMatches bool

	// Skip the single-exact-match confidence override (report raw
	// computed confidences even for unambiguous hits).
	RawConfidence bool

	// Build (and persist) the index, then exit without classifying.
	OnlyDB bool

	// Classify using a previously persisted index; fail fast if one
	// is not present.
	SkipDB bool

	// Remove checkpoint, progress file, and generated index on
	// successful completion.
	Clean bool

	// Ignore any existing checkpoint and start fresh, overwriting
	// outputs.
	Redo bool

	// Number of worker goroutines. Defaults to runtime.NumCPU().
	Threads int

	// Pin is accepted from flags and config files and stored here; no
	// code reads it, and workers are not pinned to cores.
	Pin bool

	// Prefix governing the primary, TSV, binning, and log file names.
	Prefix string

	// LogDir is where the per-run log file and build banner are
	// written. Derived, not user-facing.
	LogDir string
}

// Derived file names, built from Prefix.
func (c *Config) ResultsFileName() string {
	if filepath.Ext(c.Prefix) != "" {
		return c.Prefix
	}
	return c.Prefix + ".out"
}

func (c *Config) TSVFileName() string        { return c.Prefix + ".tsv" }
func (c *Config) BinningFileName() string    { return c.Prefix + "_binning.tsv" }
func (c *Config) LogFileName() string        { return c.Prefix + ".log" }
func (c *Config) CheckpointFileName() string { return c.Prefix + ".checkpoint.json" }
func (c *Config) ProgressFileName() string   { return c.Prefix + ".progress" }
func (c *Config) IndexFileName() string      { return c.DatabasePath + ".idx" }

// ReadConfig loads a JSON configuration file, in the same spirit as
// the teacher's utils.ReadConfig: a flat struct decoded directly from
// disk.
func ReadConfig(path string) (*Config, error) {
	fid, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer fid.Close()

	dec := json.NewDecoder(fid)
	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// ReadConfigTOML loads a human-editable TOML configuration file, an
// alternate form of the same flat Config alongside ReadConfig's JSON,
// in the spirit of the teacher's own tests.toml fixture convention.
func ReadConfigTOML(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields the same way the
// teacher's checkArgs does, logging each default it picks.
func (c *Config) ApplyDefaults(warn func(string)) {
	if c.Threads == 0 {
		c.Threads = runtime.NumCPU()
		warn(fmt.Sprintf("Threads not provided, defaulting to %d\n", c.Threads))
	}
	if c.Prefix == "" {
		c.Prefix = "taxassign_out"
		warn(fmt.Sprintf("Prefix not provided, defaulting to %q\n", c.Prefix))
	}
}

// Validate checks that the required fields are present, mirroring the
// teacher's checkArgs hard-failure checks.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabasePath == "" {
		missing = append(missing, "DatabasePath")
	}
	if c.QueryFile == "" && !c.OnlyDB {
		missing = append(missing, "QueryFile")
	}
	if c.OnlyDB && c.SkipDB {
		return fmt.Errorf("config: --only-db and --skip-db are mutually exclusive")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
