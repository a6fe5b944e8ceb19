package run

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout mirrors spec.md's mandated on-disk tree exactly: everything for one
// organism prefix lives under two sibling directories inside the data
// directory, `<PREFIX>_nomenclature_srcfiles` (tree + allele-call state plus
// the lock file) and `<PREFIX>_nomenclature_logs` (change log + cosmetic
// excluded-codes table).

func orgSrcDir(dataDir, prefix string) string {
	return filepath.Join(dataDir, prefix+"_nomenclature_srcfiles")
}

func orgLogsDir(dataDir, prefix string) string {
	return filepath.Join(dataDir, prefix+"_nomenclature_logs")
}

func treeDir(dataDir, prefix string) string {
	return filepath.Join(orgSrcDir(dataDir, prefix), "tree")
}

func treeCurrentDir(dataDir, prefix string) string {
	return filepath.Join(treeDir(dataDir, prefix), "current")
}

func profilesCurrentDir(dataDir, prefix string) string {
	return filepath.Join(orgSrcDir(dataDir, prefix), "allele_calls", "current")
}

func lockFilePath(dataDir, prefix string) string {
	return filepath.Join(orgSrcDir(dataDir, prefix), "nomenclature.lock")
}

func changeLogDir(dataDir, prefix string) string {
	return filepath.Join(orgLogsDir(dataDir, prefix), "change_log")
}

func xcodesDir(dataDir, prefix string) string {
	return filepath.Join(orgLogsDir(dataDir, prefix), "Xcodes")
}

// Scaffold creates the full directory tree for one organism prefix ahead of
// a first run, so `init` can hand an operator a ready-to-use data directory.
func Scaffold(dataDir, prefix string) error {
	dirs := []string{
		treeCurrentDir(dataDir, prefix),
		profilesCurrentDir(dataDir, prefix),
		changeLogDir(dataDir, prefix),
		xcodesDir(dataDir, prefix),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("run: scaffolding %s: %w", dir, err)
		}
	}
	return nil
}
