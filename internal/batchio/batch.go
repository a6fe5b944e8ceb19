// Package batchio implements the input/output file collaborators spec'd as
// out-of-scope "hard parts": reading the core-loci configuration, reading a
// CSV/TSV batch of allele calls into core-loci column order, writing the
// result table, and reading the excluded-codes table.
package batchio

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Row is one profile read from a batch file, in file order.
type Row struct {
	Key     string
	Profile []int
}

// ReadCoreLoci reads a newline-delimited core-loci configuration file and
// returns the locus names beginning with prefix, in file order.
func ReadCoreLoci(path string, prefix string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading core loci config: %w", err)
	}

	var loci []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, prefix) {
			loci = append(loci, line)
		}
	}
	if len(loci) == 0 {
		return nil, fmt.Errorf("reading core loci config: no locus names with prefix %q found in %s", prefix, path)
	}
	return loci, nil
}

func delimiterForPath(path string) (rune, error) {
	switch {
	case strings.HasSuffix(path, ".tsv"):
		return '\t', nil
	case strings.HasSuffix(path, ".csv"):
		return ',', nil
	default:
		return 0, fmt.Errorf("unsupported batch file extension (want .csv or .tsv): %s", path)
	}
}

// ReadBatch parses a CSV/TSV batch file whose first column is the isolate
// key and whose header names the remaining columns by locus. Profiles are
// built in coreLoci order, with 0 filling any locus missing from the file or
// blank for a given row. Rows are returned in file order, since placement
// order is observable (later keys see the tree as earlier keys left it).
func ReadBatch(path string, coreLoci []string) ([]Row, error) {
	delim, err := delimiterForPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening batch file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = delim
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing batch file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("batch file %s has no rows", path)
	}

	header := records[0]
	colForLocus := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			continue
		}
		colForLocus[strings.TrimSpace(name)] = i
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) == 0 {
			continue
		}
		key := strings.TrimSpace(rec[0])
		profile := make([]int, len(coreLoci))
		for j, locus := range coreLoci {
			col, ok := colForLocus[locus]
			if !ok || col >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[col])
			if v == "" {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("batch file %s, row %d: allele value %q for locus %q is not an integer: %w",
					path, i+2, v, locus, err)
			}
			profile[j] = n
		}
		rows = append(rows, Row{Key: key, Profile: profile})
	}
	return rows, nil
}

// ResultRow is one line of the assign-result table.
type ResultRow struct {
	Key   string
	Value string
}

// WriteResults writes the Key/Allele_code result table. The delimiter
// follows the output path's extension (.tsv -> tab, otherwise comma).
func WriteResults(path string, rows []ResultRow) error {
	delim := ","
	if strings.HasSuffix(path, ".tsv") {
		delim = "\t"
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintf(w, "Key%sAllele_code\n", delim); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%s%s%s\n", row.Key, delim, row.Value); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
	}
	return w.Flush()
}

// ReadExcludedCodes reads the excluded-codes cosmetic-renaming table: one
// dotted code per line (optionally tab-followed by commentary, which is
// ignored). A missing file is not an error — an empty run simply has no
// excluded codes configured.
func ReadExcludedCodes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading excluded codes: %w", err)
	}
	defer f.Close()

	var codes []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		field := strings.SplitN(line, "\t", 2)[0]
		if !strings.Contains(field, ".") {
			continue // header row or stray commentary, not a dotted code
		}
		codes = append(codes, field)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading excluded codes: %w", err)
	}
	return codes, nil
}
