package run

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cdc-pulsenet/allelecodes/internal/config"
	"github.com/cdc-pulsenet/allelecodes/internal/profiles"
)

func treeBackupCount(t *testing.T, ctrl *Controller) int {
	t.Helper()
	entries, err := os.ReadDir(ctrl.treeDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("ReadDir: %v", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// treeFileCount returns how many tree_*.json files exist in dir (0 if dir
// doesn't exist yet).
func treeFileCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("ReadDir: %v", err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "tree_") && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}

func testConfig(dataDir string) config.RunConfig {
	return config.RunConfig{
		Prefix:     config.CAMP,
		Version:    "2.1",
		CoreLoci:   nil,
		Thresholds: []float64{50, 10},
		MinPresent: 0.6,
		DataDir:    dataDir,
	}
}

func TestAssignPlacesNewKeysAndPersists(t *testing.T) {
	dataDir := t.TempDir()
	lociPath := filepath.Join(dataDir, "loci.txt")
	writeFile(t, lociPath, "CAMP_0001\nCAMP_0002\nCAMP_0003\n")

	batchPath := filepath.Join(dataDir, "batch.csv")
	writeFile(t, batchPath, "Key,CAMP_0001,CAMP_0002,CAMP_0003\nK1,1,1,1\nK2,1,1,2\n")

	ctrl, err := New(testConfig(dataDir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	summary, err := ctrl.Assign(batchPath, lociPath, "", "")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if summary.Placed != 2 {
		t.Fatalf("Placed = %d, want 2", summary.Placed)
	}
	if summary.RowsInBatch != 2 {
		t.Fatalf("RowsInBatch = %d, want 2", summary.RowsInBatch)
	}

	if n := treeFileCount(t, ctrl.treeCurrentDir()); n != 1 {
		t.Errorf("expected one tree file saved, found %d", n)
	}

	last, err := ctrl.hdb.LastRun("CAMP")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last == nil || last.Status != "completed" {
		t.Fatalf("last run = %+v", last)
	}
	if last.PlacedCount != 2 {
		t.Errorf("PlacedCount = %d, want 2", last.PlacedCount)
	}
}

func TestAssignBacksUpPreviousTreeBeforeOverwriting(t *testing.T) {
	dataDir := t.TempDir()
	lociPath := filepath.Join(dataDir, "loci.txt")
	writeFile(t, lociPath, "CAMP_0001\nCAMP_0002\nCAMP_0003\n")
	batchPath := filepath.Join(dataDir, "batch.csv")
	writeFile(t, batchPath, "Key,CAMP_0001,CAMP_0002,CAMP_0003\nK1,1,1,1\n")

	ctrl, err := New(testConfig(dataDir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if _, err := ctrl.Assign(batchPath, lociPath, "", ""); err != nil {
		t.Fatalf("first Assign: %v", err)
	}

	if n := treeBackupCount(t, ctrl); n != 0 {
		t.Fatalf("no backup should exist before any prior tree was saved, found %d", n)
	}

	batchPath2 := filepath.Join(dataDir, "batch2.csv")
	writeFile(t, batchPath2, "Key,CAMP_0001,CAMP_0002,CAMP_0003\nK2,1,1,2\n")
	if _, err := ctrl.Assign(batchPath2, lociPath, "", ""); err != nil {
		t.Fatalf("second Assign: %v", err)
	}
	if n := treeBackupCount(t, ctrl); n != 1 {
		t.Fatalf("expected exactly one tree backup after a second run, found %d", n)
	}
}

func TestAssignSkipsAlreadyNamedKeysOnSecondRun(t *testing.T) {
	dataDir := t.TempDir()
	lociPath := filepath.Join(dataDir, "loci.txt")
	writeFile(t, lociPath, "CAMP_0001\nCAMP_0002\nCAMP_0003\n")
	batchPath := filepath.Join(dataDir, "batch.csv")
	writeFile(t, batchPath, "Key,CAMP_0001,CAMP_0002,CAMP_0003\nK1,1,1,1\n")

	ctrl, err := New(testConfig(dataDir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if _, err := ctrl.Assign(batchPath, lociPath, "", ""); err != nil {
		t.Fatalf("first Assign: %v", err)
	}

	summary, err := ctrl.Assign(batchPath, lociPath, "", "")
	if err != nil {
		t.Fatalf("second Assign: %v", err)
	}
	if summary.AlreadyNamed != 1 || summary.Placed != 0 {
		t.Fatalf("second run summary = %+v, want AlreadyNamed=1 Placed=0", summary)
	}
}

func TestAssignTracksBelowQCSeparately(t *testing.T) {
	dataDir := t.TempDir()
	lociPath := filepath.Join(dataDir, "loci.txt")
	writeFile(t, lociPath, "CAMP_0001\nCAMP_0002\nCAMP_0003\nCAMP_0004\nCAMP_0005\n")
	batchPath := filepath.Join(dataDir, "batch.csv")
	writeFile(t, batchPath, "Key,CAMP_0001,CAMP_0002,CAMP_0003,CAMP_0004,CAMP_0005\nK1,1,1,,,\n")

	ctrl, err := New(testConfig(dataDir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	summary, err := ctrl.Assign(batchPath, lociPath, "", "")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if summary.BelowQC != 1 || summary.Placed != 0 {
		t.Fatalf("summary = %+v, want BelowQC=1 Placed=0", summary)
	}
}

func TestAssignWritesChangeLogOnMerge(t *testing.T) {
	dataDir := t.TempDir()
	lociPath := filepath.Join(dataDir, "loci.txt")
	writeFile(t, lociPath, "CAMP_0001\nCAMP_0002\nCAMP_0003\nCAMP_0004\nCAMP_0005\nCAMP_0006\n")
	batchPath := filepath.Join(dataDir, "batch.csv")
	writeFile(t, batchPath, "Key,CAMP_0001,CAMP_0002,CAMP_0003,CAMP_0004,CAMP_0005,CAMP_0006\n"+
		"Ka,1,1,1,1,1,1\nKb,1,1,1,2,2,2\n")
	changeLogPath := filepath.Join(dataDir, "changelog.tsv")

	cfg := testConfig(dataDir)
	cfg.Thresholds = []float64{75, 40}
	ctrl, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if _, err := ctrl.Assign(batchPath, lociPath, "", changeLogPath); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	batchPath2 := filepath.Join(dataDir, "batch2.csv")
	writeFile(t, batchPath2, "Key,CAMP_0001,CAMP_0002,CAMP_0003,CAMP_0004,CAMP_0005,CAMP_0006\n"+
		"Kx,1,1,1,1,2,2\n")
	summary, err := ctrl.Assign(batchPath2, lociPath, "", changeLogPath)
	if err != nil {
		t.Fatalf("second Assign: %v", err)
	}
	if summary.Placed != 1 {
		t.Fatalf("Placed = %d, want 1", summary.Placed)
	}
	if summary.Changed == 0 {
		t.Fatalf("expected at least one change from the merge, got 0")
	}

	data, err := os.ReadFile(changeLogPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(data), "Key\tOld\tNew\tType\n") {
		t.Fatalf("change log missing header: %q", data)
	}
}

func TestAssignFailsWithoutLociMatch(t *testing.T) {
	dataDir := t.TempDir()
	lociPath := filepath.Join(dataDir, "loci.txt")
	writeFile(t, lociPath, "LMO_0001\n")
	batchPath := filepath.Join(dataDir, "batch.csv")
	writeFile(t, batchPath, "Key,LMO_0001\nK1,1\n")

	ctrl, err := New(testConfig(dataDir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if _, err := ctrl.Assign(batchPath, lociPath, "", ""); err == nil {
		t.Fatalf("expected error for prefix mismatch")
	}

	last, err := ctrl.hdb.LastRun("CAMP")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last != nil {
		t.Fatalf("no run should be recorded when core-loci loading fails before StartRun, got %+v", last)
	}
}

func TestAssignRetainsLockOnFailure(t *testing.T) {
	dataDir := t.TempDir()
	batchPath := filepath.Join(dataDir, "batch.csv")
	writeFile(t, batchPath, "Key,CAMP_0001\nK1,1\n")

	ctrl, err := New(testConfig(dataDir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	missingLoci := filepath.Join(dataDir, "does-not-exist.txt")
	if _, err := ctrl.Assign(batchPath, missingLoci, "", ""); err == nil {
		t.Fatalf("expected error for missing core-loci file")
	}

	if _, err := os.Stat(ctrl.lockPath()); err != nil {
		t.Fatalf("expected lock to survive a failed run: %v", err)
	}
}

func TestAssignFailsOnTreeStoreKeysetMismatch(t *testing.T) {
	dataDir := t.TempDir()
	lociPath := filepath.Join(dataDir, "loci.txt")
	writeFile(t, lociPath, "CAMP_0001\nCAMP_0002\nCAMP_0003\n")
	batchPath := filepath.Join(dataDir, "batch.csv")
	writeFile(t, batchPath, "Key,CAMP_0001,CAMP_0002,CAMP_0003\nK1,1,1,1\n")

	ctrl, err := New(testConfig(dataDir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if _, err := ctrl.Assign(batchPath, lociPath, "", ""); err != nil {
		t.Fatalf("first Assign: %v", err)
	}

	store, err := profiles.Load(ctrl.profilesDir())
	if err != nil {
		t.Fatalf("profiles.Load: %v", err)
	}
	if err := store.Add("Kghost", []int{1, 1, 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Save(ctrl.profilesDir()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	batchPath2 := filepath.Join(dataDir, "batch2.csv")
	writeFile(t, batchPath2, "Key,CAMP_0001,CAMP_0002,CAMP_0003\nK2,1,1,2\n")

	_, err = ctrl.Assign(batchPath2, lociPath, "", "")
	if err == nil {
		t.Fatalf("expected an integrity error")
	}
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("error = %v, want *IntegrityError", err)
	}
	if len(integrityErr.StoreExcess) != 1 || integrityErr.StoreExcess[0] != "Kghost" {
		t.Fatalf("StoreExcess = %v, want [Kghost]", integrityErr.StoreExcess)
	}
	if len(integrityErr.TreeExcess) != 0 {
		t.Fatalf("TreeExcess = %v, want empty", integrityErr.TreeExcess)
	}
}
