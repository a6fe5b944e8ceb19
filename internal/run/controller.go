// Package run wires the nomenclature tree, profile store, assignment
// engine, and history ledger together into a single batch-assignment
// operation: load state, place every new, QC-passing key in the batch,
// save state, emit a change log, and record the run.
package run

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cdc-pulsenet/allelecodes/internal/assign"
	"github.com/cdc-pulsenet/allelecodes/internal/batchio"
	"github.com/cdc-pulsenet/allelecodes/internal/changelog"
	"github.com/cdc-pulsenet/allelecodes/internal/config"
	"github.com/cdc-pulsenet/allelecodes/internal/history"
	"github.com/cdc-pulsenet/allelecodes/internal/nomenclature"
	"github.com/cdc-pulsenet/allelecodes/internal/profiles"
	"github.com/cdc-pulsenet/allelecodes/internal/render"
)

// saveEvery controls how often the controller checkpoints the tree and
// profile store to disk during a long batch, so a crash mid-run loses at
// most this many placements.
const saveEvery = 1000

// Summary reports what an Assign call did.
type Summary struct {
	RowsInBatch  int
	Placed       int
	BelowQC      int
	AlreadyNamed int
	Changed      int
	Changes      []changelog.Change
	Results      []RowResult
}

// RowResult is the outcome for a single batch row, in file order.
type RowResult struct {
	Key    string
	Code   string // empty if Status is "below_qc"
	Status string // "placed", "already_named", or "below_qc"
}

// Controller owns the on-disk layout for one organism's data directory:
// <dataDir>/<prefix>_nomenclature_srcfiles (tree + allele-call state + the
// lock file), <dataDir>/<prefix>_nomenclature_logs (change log), and the
// shared run-history database at <dataDir>/history.db.
type Controller struct {
	cfg config.RunConfig
	hdb *history.DB
}

// New creates a controller for cfg, opening (and migrating) the shared
// history database under cfg.DataDir.
func New(cfg config.RunConfig) (*Controller, error) {
	hdb, err := history.Open(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("run: opening history database: %w", err)
	}
	return &Controller{cfg: cfg, hdb: hdb}, nil
}

// Close releases the controller's history database handle.
func (c *Controller) Close() error {
	return c.hdb.Close()
}

func (c *Controller) orgSrcDir() string {
	return orgSrcDir(c.cfg.DataDir, string(c.cfg.Prefix))
}

func (c *Controller) orgLogsDir() string {
	return orgLogsDir(c.cfg.DataDir, string(c.cfg.Prefix))
}

func (c *Controller) treeDir() string {
	return treeDir(c.cfg.DataDir, string(c.cfg.Prefix))
}

func (c *Controller) treeCurrentDir() string {
	return treeCurrentDir(c.cfg.DataDir, string(c.cfg.Prefix))
}

func (c *Controller) profilesDir() string {
	return profilesCurrentDir(c.cfg.DataDir, string(c.cfg.Prefix))
}

func (c *Controller) lockPath() string {
	return lockFilePath(c.cfg.DataDir, string(c.cfg.Prefix))
}

func (c *Controller) defaultChangeLogPath() string {
	day := time.Now().UTC().Format("2006-01-02")
	return filepath.Join(changeLogDir(c.cfg.DataDir, string(c.cfg.Prefix)), day+".tsv")
}

// Assign runs one batch through the full load -> place -> save -> log ->
// record pipeline, returning a summary of what happened. batchPath and
// coreLociPath locate the input files; excludedCodesPath and changeLogPath
// may be empty (changeLogPath then defaults to today's daily log under the
// organism's logs directory).
//
// The advisory lock is released only once assignLocked returns without
// error; on any failure it is left in place, so a later invocation can tell
// a prior crash from a clean idle state, matching the original assignment
// script's try/except/else shape.
func (c *Controller) Assign(batchPath, coreLociPath, excludedCodesPath, changeLogPath string) (Summary, error) {
	if err := os.MkdirAll(c.orgSrcDir(), 0o755); err != nil {
		return Summary{}, fmt.Errorf("run: creating organism directory: %w", err)
	}

	lock, err := AcquireLock(c.lockPath())
	if err != nil {
		return Summary{}, err
	}

	coreLoci, err := batchio.ReadCoreLoci(coreLociPath, string(c.cfg.Prefix))
	if err != nil {
		return Summary{}, err
	}
	rows, err := batchio.ReadBatch(batchPath, coreLoci)
	if err != nil {
		return Summary{}, err
	}

	if err := c.backupTree(); err != nil {
		return Summary{}, err
	}

	if changeLogPath == "" {
		changeLogPath = c.defaultChangeLogPath()
	}

	startedAt := time.Now().UTC().Format(time.RFC3339)
	runID, startErr := c.hdb.StartRun(string(c.cfg.Prefix), c.cfg.Version, batchPath, startedAt, len(rows))
	if startErr != nil {
		log.Printf("run: failed to record run start: %v", startErr)
	}

	summary, err := c.assignLocked(rows, excludedCodesPath, changeLogPath)
	finishedAt := time.Now().UTC().Format(time.RFC3339)
	if runID != 0 {
		if err != nil {
			if ferr := c.hdb.FailRun(runID, finishedAt, err.Error()); ferr != nil {
				log.Printf("run: failed to record run failure: %v", ferr)
			}
		} else {
			if ferr := c.hdb.FinishRun(runID, finishedAt, summary.Placed, summary.BelowQC, summary.AlreadyNamed, summary.Changed); ferr != nil {
				log.Printf("run: failed to record run completion: %v", ferr)
			}
		}
	}

	if err != nil {
		log.Printf("run: assignment failed, retaining lock %s: %v", c.lockPath(), err)
		return summary, err
	}
	if relErr := lock.Release(); relErr != nil {
		log.Printf("run: failed to release lock %s: %v", c.lockPath(), relErr)
	}
	return summary, nil
}

func (c *Controller) assignLocked(rows []batchio.Row, excludedCodesPath, changeLogPath string) (Summary, error) {
	tree, err := c.loadOrCreateTree()
	if err != nil {
		return Summary{}, err
	}
	store, err := c.loadOrCreateStore()
	if err != nil {
		return Summary{}, err
	}
	if err := checkIntegrity(tree, store); err != nil {
		return Summary{}, err
	}

	excluded, err := batchio.ReadExcludedCodes(excludedCodesPath)
	if err != nil {
		return Summary{}, err
	}

	oldCodes := snapshotBareCodes(tree, excluded)

	engineCfg := assign.Config{Thresholds: c.cfg.Thresholds, MinPresent: c.cfg.MinPresent}
	summary := Summary{RowsInBatch: len(rows)}

	sinceSave := 0
	for _, row := range rows {
		switch {
		case tree.HasName(row.Key):
			summary.AlreadyNamed++
			summary.Results = append(summary.Results, RowResult{Key: row.Key, Status: "already_named"})
			continue
		case !assign.PassesQC(row.Profile, c.cfg.MinPresent):
			summary.BelowQC++
			summary.Results = append(summary.Results, RowResult{Key: row.Key, Status: "below_qc"})
			continue
		}

		if err := store.Add(row.Key, row.Profile); err != nil {
			return Summary{}, fmt.Errorf("run: storing profile %q: %w", row.Key, err)
		}
		if _, err := assign.Place(tree, store, row.Key, row.Profile, engineCfg); err != nil {
			return Summary{}, fmt.Errorf("run: placing %q: %w", row.Key, err)
		}
		summary.Placed++
		summary.Results = append(summary.Results, RowResult{Key: row.Key, Status: "placed"})

		sinceSave++
		if !c.cfg.NoSave && sinceSave >= saveEvery {
			if err := c.save(tree, store); err != nil {
				return Summary{}, err
			}
			sinceSave = 0
		}
		if c.cfg.Verbose {
			log.Printf("run: placed %s", row.Key)
		}
	}

	if !c.cfg.NoSave {
		if err := c.save(tree, store); err != nil {
			return Summary{}, err
		}
	}

	newCodes := snapshotBareCodes(tree, excluded)
	summary.Changes = diffCodes(oldCodes, newCodes)
	summary.Changed = len(summary.Changes)

	for i := range summary.Results {
		if summary.Results[i].Status != "below_qc" {
			if bare, ok := newCodes[summary.Results[i].Key]; ok {
				summary.Results[i].Code = fmt.Sprintf("%s%s - %s", c.cfg.Prefix, c.cfg.Version, bare)
			}
		}
	}

	if changeLogPath != "" && len(summary.Changes) > 0 {
		if err := writeChangeLog(changeLogPath, summary.Changes); err != nil {
			return Summary{}, err
		}
	}

	return summary, nil
}

// backupTree copies the current tree file one level up, before this run
// touches it, mirroring the original assignment script's pre-run backup of
// the "current" tree file into the organism's parent directory.
func (c *Controller) backupTree() error {
	dir := c.treeCurrentDir()
	name, err := latestTreeFile(dir)
	if err != nil {
		return fmt.Errorf("run: listing tree directory for backup: %w", err)
	}
	if name == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("run: reading tree for backup: %w", err)
	}
	if err := os.MkdirAll(c.treeDir(), 0o755); err != nil {
		return fmt.Errorf("run: creating tree backup directory: %w", err)
	}
	dst := filepath.Join(c.treeDir(), name)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("run: writing tree backup: %w", err)
	}
	return nil
}

func (c *Controller) save(tree *nomenclature.Tree, store *profiles.Store) error {
	if err := c.saveTree(tree); err != nil {
		return err
	}
	if err := store.Save(c.profilesDir()); err != nil {
		return fmt.Errorf("run: saving profile store: %w", err)
	}
	return nil
}

func (c *Controller) loadOrCreateTree() (*nomenclature.Tree, error) {
	dir := c.treeCurrentDir()
	name, err := latestTreeFile(dir)
	if err != nil {
		return nil, fmt.Errorf("run: listing tree directory: %w", err)
	}
	if name == "" {
		return nomenclature.New(c.cfg.Depth()), nil
	}

	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("run: opening tree file: %w", err)
	}
	defer f.Close()
	tree, err := nomenclature.Load(f, c.cfg.Depth())
	if err != nil {
		return nil, fmt.Errorf("run: loading tree: %w", err)
	}
	return tree, nil
}

// saveTree writes the tree to a new timestamped file in the "current"
// directory, fsyncs it, and only then removes the previous current file —
// a new file is always durable on disk before the old one disappears, per
// spec.md §5's atomicity requirement.
func (c *Controller) saveTree(tree *nomenclature.Tree) error {
	dir := c.treeCurrentDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("run: creating tree directory: %w", err)
	}

	old, err := latestTreeFile(dir)
	if err != nil {
		return fmt.Errorf("run: listing tree directory: %w", err)
	}

	name := treeFileName(time.Now())
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("run: creating tree file: %w", err)
	}
	if err := tree.Save(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("run: writing tree: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("run: syncing tree file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("run: closing tree file: %w", err)
	}

	if old != "" && old != name {
		if err := os.Remove(filepath.Join(dir, old)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("run: removing prior tree file: %w", err)
		}
	}
	return nil
}

const (
	treeFilePrefix = "tree_"
	treeFileSuffix = ".json"
)

func treeFileName(t time.Time) string {
	return treeFilePrefix + t.UTC().Format("20060102T150405.000000000") + treeFileSuffix
}

// latestTreeFile returns the lexicographically greatest tree_*.json entry in
// dir (the timestamp format sorts chronologically), or "" if dir doesn't
// exist yet or holds no tree file.
func latestTreeFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var latest string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, treeFilePrefix) && strings.HasSuffix(name, treeFileSuffix) && name > latest {
			latest = name
		}
	}
	return latest, nil
}

func (c *Controller) loadOrCreateStore() (*profiles.Store, error) {
	dir := c.profilesDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return profiles.New(dir), nil
	}
	store, err := profiles.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("run: loading profile store: %w", err)
	}
	return store, nil
}

// snapshotBareCodes renders every currently named key's bare dotted code
// (without the organism-prefix/version label), for change classification
// against the post-run state.
func snapshotBareCodes(tree *nomenclature.Tree, excluded []string) map[string]string {
	out := make(map[string]string, tree.Count())
	for _, entry := range tree.FinalizeCodes() {
		out[entry.Key] = render.BareCode(entry.Code, excluded)
	}
	return out
}

func diffCodes(oldCodes, newCodes map[string]string) []changelog.Change {
	var changes []changelog.Change
	for key, newCode := range newCodes {
		oldCode := oldCodes[key]
		if change, changed := changelog.Classify(key, oldCode, newCode); changed {
			changes = append(changes, change)
		}
	}
	return changes
}

// writeChangeLog appends changes to path, writing the header only if the
// file doesn't already exist yet, so a day's worth of runs accumulate in a
// single daily file instead of overwriting each other.
func writeChangeLog(path string, changes []changelog.Change) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("run: creating change log directory: %w", err)
	}

	_, statErr := os.Stat(path)
	needsHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("run: opening change log: %w", err)
	}
	defer f.Close()

	if needsHeader {
		if _, err := fmt.Fprintln(f, "Key\tOld\tNew\tType"); err != nil {
			return fmt.Errorf("run: writing change log: %w", err)
		}
	}
	for _, ch := range changes {
		if _, err := fmt.Fprintf(f, "%s\t%s\t%s\t%s\n", ch.Key, ch.Old, ch.New, ch.Type); err != nil {
			return fmt.Errorf("run: writing change log: %w", err)
		}
	}
	return nil
}
