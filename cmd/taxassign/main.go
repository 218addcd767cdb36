// Copyright 2017, Kerby Shedden and the Muscato contributors.
//
// taxassign is a non-Bayesian taxonomic classifier for DNA barcode
// queries: given a reference FASTA annotated with `tax=...;` lineage
// tags and a query FASTA, it emits, per query, a ranked list of
// candidate lineages with per-rank confidence values and two
// whole-query signal scores.
//
// taxassign can be invoked either using a configuration file in JSON
// format, or using command-line flags; flag values override a loaded
// config file field-by-field, mirroring muscato's handleArgs. A
// typical invocation:
//
//	taxassign --database-path=refs.fasta --query-file=queries.fasta --tsv --prefix=run1
//
// To build and exit without classifying:
//
//	taxassign --database-path=refs.fasta --only-db
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/profile"

	"github.com/kshedden/taxassign/internal/buildinfo"
	"github.com/kshedden/taxassign/internal/checkpoint"
	"github.com/kshedden/taxassign/internal/config"
	"github.com/kshedden/taxassign/internal/dispatch"
	"github.com/kshedden/taxassign/internal/errs"
	"github.com/kshedden/taxassign/internal/fastaio"
	"github.com/kshedden/taxassign/internal/persist"
	"github.com/kshedden/taxassign/internal/refindex"
)

// sysexits, per spec §6.
const (
	exOK        = 0
	exNoInput   = 66
	exCantCreat = 73
	exIOErr     = 74
	exOSErr     = 71
	exTempFail  = 75
)

var logger *log.Logger

func main() {
	cfg, cpuProfile := handleArgs()

	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("[ERROR] %v\n", err))
		os.Exit(exNoInput)
	}
	cfg.ApplyDefaults(func(msg string) { os.Stderr.WriteString("[WARN] " + msg) })

	if err := setupLogDir(cfg); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("[ERROR] %v\n", err))
		os.Exit(exCantCreat)
	}
	setupLog(cfg)

	logger.Print(buildinfo.Banner("taxassign", os.Args[1:]))

	var prof interface{ Stop() }
	if cpuProfile {
		prof = profile.Start(profile.ProfilePath(cfg.LogDir))
	}

	code := run(cfg)
	// os.Exit skips deferred calls, so the profile is stopped here.
	if prof != nil {
		prof.Stop()
	}
	os.Exit(code)
}

// handleArgs merges flag values over an optional JSON config file,
// exactly as muscato's handleArgs merges flags over utils.Config.
func handleArgs() (*config.Config, bool) {
	configFileName := flag.String("config-file", "", "JSON file containing configuration parameters")
	databasePath := flag.String("database-path", "", "Reference FASTA or previously persisted index")
	queryFile := flag.String("query-file", "", "Query FASTA file")
	tsv := flag.Bool("tsv", false, "Emit a TSV-formatted secondary output")
	binning := flag.Bool("binning", false, "Emit the binning report")
	skipExactMatches := flag.Bool("skip-exact-matches", false, "Zero out exact-match entries before scoring")
	rawConfidence := flag.Bool("raw-confidence", false, "Disable the single-exact-match confidence override")
	onlyDB := flag.Bool("only-db", false, "Build (and persist) the index, then exit")
	skipDB := flag.Bool("skip-db", false, "Require a previously persisted index; never parse FASTA")
	clean := flag.Bool("clean", false, "Remove checkpoint/progress/index on success")
	redo := flag.Bool("redo", false, "Ignore any existing checkpoint and start fresh")
	threads := flag.Int("threads", 0, "Number of worker goroutines (default: all cores)")
	pin := flag.Bool("pin", false, "Accepted and stored; workers are not pinned to cores")
	prefix := flag.String("prefix", "", "Prefix governing the primary, TSV, binning, and log file names")
	cpuProfile := flag.Bool("cpuprofile", false, "Capture CPU profile data into the log directory")

	flag.Parse()

	var cfg *config.Config
	if *configFileName != "" {
		var loaded *config.Config
		var err error
		if strings.HasSuffix(*configFileName, ".toml") {
			loaded, err = config.ReadConfigTOML(*configFileName)
		} else {
			loaded, err = config.ReadConfig(*configFileName)
		}
		if err != nil {
			os.Stderr.WriteString(fmt.Sprintf("[ERROR] %v\n", err))
			os.Exit(exNoInput)
		}
		cfg = loaded
	} else {
		cfg = new(config.Config)
	}

	if *databasePath != "" {
		cfg.DatabasePath = *databasePath
	}
	if *queryFile != "" {
		cfg.QueryFile = *queryFile
	}
	if *tsv {
		cfg.TSV = true
	}
	if *binning {
		cfg.Binning = true
	}
	if *skipExactMatches {
		cfg.SkipExactMatches = true
	}
	if *rawConfidence {
		cfg.RawConfidence = true
	}
	if *onlyDB {
		cfg.OnlyDB = true
	}
	if *skipDB {
		cfg.SkipDB = true
	}
	if *clean {
		cfg.Clean = true
	}
	if *redo {
		cfg.Redo = true
	}
	if *threads != 0 {
		cfg.Threads = *threads
	}
	if *pin {
		cfg.Pin = true
	}
	if *prefix != "" {
		cfg.Prefix = *prefix
	}

	return cfg, *cpuProfile
}

// setupLogDir creates a unique, uuid-named log directory, exactly as
// muscato's makeTemp names its temp/log directories.
func setupLogDir(cfg *config.Config) error {
	xuid, err := uuid.NewUUID()
	if err != nil {
		return &errs.ResourceError{Context: "main: generating run id", Err: err}
	}
	base := cfg.LogDir
	if base == "" {
		base = "taxassign_logs"
	}
	cfg.LogDir = path.Join(base, xuid.String())
	if err := os.MkdirAll(cfg.LogDir, 0770); err != nil {
		return &errs.IOError{Context: "main: creating log directory " + cfg.LogDir, Err: err}
	}
	return nil
}

func setupLog(cfg *config.Config) {
	logname := path.Join(cfg.LogDir, cfg.LogFileName())
	fid, err := os.Create(logname)
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("[ERROR] creating %s: %v\n", logname, err))
		os.Exit(exCantCreat)
	}
	logger = log.New(fid, "", log.Ltime)
}

// run performs the index load-or-build step, the checkpoint/resume
// protocol, and (unless --only-db) the query dispatch, returning a
// sysexits-style process exit code.
func run(cfg *config.Config) int {
	idx, err := loadOrBuildIndex(cfg)
	if err != nil {
		logger.Printf("[ERROR] %v", err)
		os.Stderr.WriteString(fmt.Sprintf("[ERROR] %v\n", err))
		return exitCodeFor(err)
	}

	if cfg.OnlyDB {
		logger.Print("index built, exiting (--only-db)")
		return exOK
	}

	queries, err := readQueries(cfg)
	if err != nil {
		logger.Printf("[ERROR] %v", err)
		os.Stderr.WriteString(fmt.Sprintf("[ERROR] %v\n", err))
		return exitCodeFor(err)
	}

	done, err := resumeIfPossible(cfg)
	if err != nil {
		logger.Printf("[ERROR] %v", err)
		os.Stderr.WriteString(fmt.Sprintf("[ERROR] %v\n", err))
		return exitCodeFor(err)
	}

	warned, err := dispatchAll(cfg, idx, queries, done)
	if err != nil {
		logger.Printf("[ERROR] %v", err)
		os.Stderr.WriteString(fmt.Sprintf("[ERROR] %v\n", err))
		return exitCodeFor(err)
	}
	if warned {
		logger.Print("[WARNING] one or more queries had divergent exact-match lineages; see per-query warnings above")
	}

	if cfg.Clean {
		cleanup(cfg)
	}

	logger.Print("all done")
	return exOK
}

func loadOrBuildIndex(cfg *config.Config) (*refindex.Index, error) {
	idxPath := cfg.IndexFileName()

	// DatabasePath may itself name a persisted index; a FASTA file fails
	// to decode here and falls through to the checks below.
	if idx, err := persist.Load(cfg.DatabasePath); err == nil {
		logger.Printf("loading persisted index from %s", cfg.DatabasePath)
		return idx, nil
	}

	if cfg.SkipDB {
		if !persist.Exists(idxPath) {
			return nil, &errs.ResourceError{Context: "main: --skip-db set but no persisted index at " + idxPath, Err: os.ErrNotExist}
		}
		logger.Printf("loading persisted index from %s", idxPath)
		return persist.Load(idxPath)
	}

	if persist.Exists(idxPath) {
		logger.Printf("loading persisted index from %s", idxPath)
		return persist.Load(idxPath)
	}

	logger.Printf("parsing reference FASTA %s", cfg.DatabasePath)
	r, err := fastaio.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	refRows, err := fastaio.ReadReferences(r)
	if err != nil {
		return nil, err
	}

	rows := make([]refindex.Row, len(refRows))
	for i, rr := range refRows {
		rows[i] = refindex.Row{Lineage: rr.Lineage, BinID: rr.BinID, Seq: rr.Seq}
	}

	idx, err := refindex.Build(rows)
	if err != nil {
		return nil, &errs.ParseError{Context: "main: building reference index", Err: err}
	}

	logger.Printf("built index: %d references", idx.NumTips)

	if err := persist.Save(idxPath, idx); err != nil {
		logger.Printf("[WARN] failed to persist index to %s: %v", idxPath, err)
	}

	return idx, nil
}

func readQueries(cfg *config.Config) ([]dispatch.Query, error) {
	r, err := fastaio.Open(cfg.QueryFile)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	recs, err := fastaio.ReadQueries(r)
	if err != nil {
		return nil, err
	}

	queries := make([]dispatch.Query, len(recs))
	for i, rec := range recs {
		queries[i] = dispatch.Query{Label: rec.Label, Seq: rec.Seq}
	}
	return queries, nil
}

// resumeIfPossible implements spec §4.6's resume protocol: if a
// checkpoint exists and its output-affecting flags match this run's,
// reuse its progress and truncate the existing outputs to match.
func resumeIfPossible(cfg *config.Config) (map[string]bool, error) {
	if cfg.Redo {
		// Start fresh: empty any outputs and progress left by an earlier run.
		for _, name := range []string{cfg.ResultsFileName(), cfg.TSVFileName(), cfg.BinningFileName(), cfg.ProgressFileName()} {
			if err := os.Truncate(name, 0); err != nil && !os.IsNotExist(err) {
				return nil, &errs.IOError{Context: "main: truncating " + name, Err: err}
			}
		}
		return map[string]bool{}, nil
	}

	cpPath := cfg.CheckpointFileName()
	cp, err := checkpoint.Load(cpPath)
	if err != nil {
		logger.Printf("no usable checkpoint at %s, starting fresh: %v", cpPath, err)
		return map[string]bool{}, nil
	}
	if !cp.OutputFlagsEqual(cfg.RawConfidence, cfg.SkipExactMatches, cfg.TSV) {
		logger.Print("checkpoint output flags differ from this run, starting fresh")
		return map[string]bool{}, nil
	}

	done, err := checkpoint.ReadDone(cp.ProgressFile)
	if err != nil {
		return nil, err
	}
	logger.Printf("resuming: %d queries already completed", len(done))

	if err := checkpoint.TruncateToCompleted(cfg.ResultsFileName(), done); err != nil {
		return nil, err
	}
	if cfg.TSV {
		if err := checkpoint.TruncateToCompleted(cfg.TSVFileName(), done); err != nil {
			return nil, err
		}
	}
	return done, nil
}

func dispatchAll(cfg *config.Config, idx *refindex.Index, queries []dispatch.Query, done map[string]bool) (bool, error) {
	primary, err := openAppend(cfg.ResultsFileName())
	if err != nil {
		return false, err
	}
	defer primary.Close()

	var tsvFile *os.File
	if cfg.TSV {
		tsvFile, err = openAppend(cfg.TSVFileName())
		if err != nil {
			return false, err
		}
		defer tsvFile.Close()
	}

	var binningFile *os.File
	if cfg.Binning {
		binningFile, err = openAppend(cfg.BinningFileName())
		if err != nil {
			return false, err
		}
		defer binningFile.Close()
	}

	progress, err := checkpoint.OpenProgress(cfg.ProgressFileName())
	if err != nil {
		return false, err
	}
	defer progress.Close()

	sink := dispatch.Sink{
		Primary:  dispatch.NewLineWriter(primary),
		Progress: progress,
	}
	if tsvFile != nil {
		sink.TSV = dispatch.NewLineWriter(tsvFile)
	}
	if binningFile != nil {
		sink.Binning = dispatch.NewLineWriter(binningFile)
	}

	opts := dispatch.Options{
		SkipExactMatches: cfg.SkipExactMatches,
		RawConfidence:    cfg.RawConfidence,
		TSV:              cfg.TSV,
		Binning:          cfg.Binning,
		Threads:          cfg.Threads,
	}

	fp, err := persist.Stat(cfg.DatabasePath)
	if err == nil {
		cp := &checkpoint.Checkpoint{
			CheckpointFile:   cfg.CheckpointFileName(),
			ProgressFile:     cfg.ProgressFileName(),
			DBFingerprint:    fp,
			RawConfidence:    cfg.RawConfidence,
			SkipExactMatches: cfg.SkipExactMatches,
			TSV:              cfg.TSV,
		}
		if err := checkpoint.Save(cp.CheckpointFile, cp); err != nil {
			logger.Printf("[WARN] failed to save checkpoint: %v", err)
		}
	}

	return dispatch.Run(idx, queries, opts, sink, done, logger)
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &errs.IOError{Context: "main: opening " + path, Err: err}
	}
	return f, nil
}

func cleanup(cfg *config.Config) {
	_ = checkpoint.Remove(cfg.CheckpointFileName())
	_ = os.Remove(cfg.ProgressFileName())
	if !cfg.SkipDB {
		_ = os.Remove(cfg.IndexFileName())
	}
}

func exitCodeFor(err error) int {
	var parseErr *errs.ParseError
	var ioErr *errs.IOError
	var ckErr *errs.CheckpointError
	var resErr *errs.ResourceError
	switch {
	case errors.As(err, &parseErr):
		return exNoInput
	case errors.As(err, &ioErr):
		if strings.Contains(ioErr.Context, "creating") {
			return exCantCreat
		}
		return exIOErr
	case errors.As(err, &ckErr):
		return exTempFail
	case errors.As(err, &resErr):
		return exOSErr
	default:
		return exIOErr
	}
}
