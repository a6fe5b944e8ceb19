package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/cdc-pulsenet/allelecodes/internal/batchio"
	"github.com/cdc-pulsenet/allelecodes/internal/config"
	"github.com/cdc-pulsenet/allelecodes/internal/history"
	"github.com/cdc-pulsenet/allelecodes/internal/run"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose    bool
	prefixFlag string
	dataDir    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "allelecodes",
	Short:   "Hierarchical allele-code assignment",
	Long:    "allelecodes assigns hierarchical dotted-integer nomenclature codes to cgMLST allele profiles, merging clusters as new isolates arrive.",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "datadir", "d", config.DataDir(), "Directory holding per-organism trees and profile stores")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}

var initPrefixFlag string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold an organism's data directory tree and write an editable thresholds file",
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, err := config.ParsePrefix(initPrefixFlag)
		if err != nil {
			return err
		}

		if err := run.Scaffold(dataDir, string(prefix)); err != nil {
			return err
		}

		target := filepath.Join(config.ConfigDir(), "thresholds.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Thresholds file already exists: %s\n", target)
		} else {
			if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.WriteFile(target, config.DefaultThresholdsYAML, 0o644); err != nil {
				return fmt.Errorf("writing thresholds file: %w", err)
			}
			fmt.Printf("Created editable thresholds file: %s\n", target)
		}

		fmt.Printf("Scaffolded %s_nomenclature_srcfiles and %s_nomenclature_logs under %s\n", prefix, prefix, dataDir)
		fmt.Println("Pass the thresholds file to 'assign' with --thresholds to override the built-in table.")
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&initPrefixFlag, "prefix", "p", "", "Organism prefix (CAMP, EC, LMO, SALM)")
	initCmd.MarkFlagRequired("prefix")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("allelecodes", version)
	},
}

// --- assign command ---

var (
	allelesPath       string
	coreLociPath      string
	thresholdsPath    string
	excludedCodesPath string
	outputPath        string
	changeLogPath     string
	noSave            bool
	minPresent        float64
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign allele codes to a batch of profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		batchPath := allelesPath

		prefix, err := config.ParsePrefix(prefixFlag)
		if err != nil {
			return err
		}

		thresholds, err := loadThresholdsFor(prefix)
		if err != nil {
			return err
		}

		cfg := config.RunConfig{
			Prefix:     prefix,
			Version:    config.Version,
			Thresholds: thresholds,
			MinPresent: minPresent,
			DataDir:    dataDir,
			NoSave:     noSave,
			Verbose:    verbose,
		}

		ctrl, err := run.New(cfg)
		if err != nil {
			return err
		}
		defer ctrl.Close()

		summary, err := ctrl.Assign(batchPath, coreLociPath, excludedCodesPath, changeLogPath)
		if err != nil {
			return err
		}

		fmt.Printf("Rows in batch: %d\n", summary.RowsInBatch)
		fmt.Printf("  Placed:        %d\n", summary.Placed)
		fmt.Printf("  Already named: %d\n", summary.AlreadyNamed)
		fmt.Printf("  Below QC:      %d\n", summary.BelowQC)
		fmt.Printf("  Changed codes: %d\n", summary.Changed)

		if outputPath != "" {
			rows := make([]batchio.ResultRow, 0, len(summary.Results))
			for _, r := range summary.Results {
				value := r.Code
				if r.Status == "below_qc" {
					value = "Below QC"
				}
				rows = append(rows, batchio.ResultRow{Key: r.Key, Value: value})
			}
			if err := batchio.WriteResults(outputPath, rows); err != nil {
				return err
			}
			fmt.Printf("Results written to %s\n", outputPath)
		}
		if changeLogPath != "" && summary.Changed > 0 {
			fmt.Printf("Change log written to %s\n", changeLogPath)
		}
		return nil
	},
}

func init() {
	assignCmd.Flags().StringVarP(&prefixFlag, "prefix", "p", "", "Organism prefix (CAMP, EC, LMO, SALM)")
	assignCmd.Flags().StringVarP(&allelesPath, "alleles", "a", "", "Path to the batch file of allele-call profiles (csv/tsv)")
	assignCmd.Flags().StringVarP(&coreLociPath, "config", "c", "", "Path to the core-loci configuration file")
	assignCmd.Flags().StringVar(&thresholdsPath, "thresholds", "", "Path to a thresholds YAML override (defaults to the embedded table)")
	assignCmd.Flags().StringVar(&excludedCodesPath, "excluded", "", "Path to the excluded-codes cosmetic renaming table")
	assignCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to write the Key/Allele_code result table")
	assignCmd.Flags().StringVar(&changeLogPath, "changelog", "", "Path to write the change log for any recoded keys (defaults to today's daily log)")
	assignCmd.Flags().BoolVar(&noSave, "nosave", false, "Do not persist tree/profile updates (dry run)")
	assignCmd.Flags().Float64Var(&minPresent, "min-present", config.DefaultMinPresent, "Minimum fraction of core loci that must be called")
	assignCmd.MarkFlagRequired("prefix")
	assignCmd.MarkFlagRequired("alleles")
	assignCmd.MarkFlagRequired("config")
}

func loadThresholdsFor(prefix config.Prefix) ([]float64, error) {
	if thresholdsPath == "" {
		th, err := config.DefaultThresholds()
		if err != nil {
			return nil, err
		}
		return th.For(prefix)
	}
	data, err := os.ReadFile(thresholdsPath)
	if err != nil {
		return nil, fmt.Errorf("reading thresholds override: %w", err)
	}
	th, err := config.LoadThresholds(data)
	if err != nil {
		return nil, err
	}
	return th.For(prefix)
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded run for each organism",
	RunE: func(cmd *cobra.Command, args []string) error {
		hdb, err := history.Open(filepath.Join(dataDir, "history.db"))
		if err != nil {
			return err
		}
		defer hdb.Close()

		for _, prefix := range []config.Prefix{config.CAMP, config.EC, config.LMO, config.SALM} {
			last, err := hdb.LastRun(string(prefix))
			if err != nil {
				return fmt.Errorf("looking up last run for %s: %w", prefix, err)
			}
			if last == nil {
				fmt.Printf("%s: no runs recorded\n", prefix)
				continue
			}
			fmt.Printf("%s: run #%d %s, started %s, %d placed, %d below QC\n",
				prefix, last.ID, last.Status, last.StartedAt, last.PlacedCount, last.BelowQCCount)
		}
		return nil
	},
}

// --- history command ---

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent assignment runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		hdb, err := history.Open(filepath.Join(dataDir, "history.db"))
		if err != nil {
			return err
		}
		defer hdb.Close()

		var runs []history.Run
		if prefixFlag != "" {
			prefix, err := config.ParsePrefix(prefixFlag)
			if err != nil {
				return err
			}
			runs, err = hdb.RunsForPrefix(string(prefix), historyLimit)
			if err != nil {
				return err
			}
		} else {
			runs, err = hdb.RecentRuns(historyLimit)
			if err != nil {
				return err
			}
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("#%d  %s  %-9s  %-9s  placed=%d belowQC=%d changed=%d  %s\n",
				r.ID, r.Prefix, r.Status, r.StartedAt, r.PlacedCount, r.BelowQCCount, r.ChangedCount, r.BatchPath)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVarP(&prefixFlag, "prefix", "p", "", "Restrict to one organism prefix")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show (0 for all)")
}
