// Package pilot extracts a reproducible random subset of the raw corpus for
// independent double-coding.
package pilot

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/sklog"
)

const (
	// DefaultFraction is the share of the corpus extracted for the pilot.
	DefaultFraction = 0.15

	// DefaultSeed keeps pilot extraction reproducible across machines.
	DefaultSeed = 42
)

// Pilot artifact filenames, written under the output directory.
const (
	Coder1File = "pilot_coder1.csv"
	Coder2File = "pilot_coder2.csv"
	MasterFile = "pilot_master.csv"
)

// Sample selects floor(len(records)*fraction) records via a seeded
// permutation and returns them in their original corpus order. The same seed
// and input order always yield the same subset.
func Sample(records []types.Record, fraction float64, seed int64) ([]types.Record, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, skerr.Fmt("fraction must be in (0, 1], got %v", fraction)
	}
	n := int(float64(len(records)) * fraction)
	perm := rand.New(rand.NewSource(seed)).Perm(len(records))
	indices := append([]int{}, perm[:n]...)
	sort.Ints(indices)
	sample := make([]types.Record, 0, n)
	for _, i := range indices {
		sample = append(sample, records[i])
	}
	return sample, nil
}

// WriteArtifacts writes the three pilot files under outDir: a blank coding
// sheet per coder and the master sheet carrying both coders' columns. The
// coder sheets omit author ids and metadata so coding stays blind.
func WriteArtifacts(outDir string, sample []types.Record) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return skerr.Wrap(err)
	}
	coderRows := make([]types.CoderRow, 0, len(sample))
	masterRows := make([]types.PilotRecord, 0, len(sample))
	for _, r := range sample {
		coderRows = append(coderRows, types.CoderRow{
			Source:    r.Source,
			DataID:    r.DataID,
			Timestamp: r.Timestamp,
			RawText:   r.RawText,
			URL:       r.URL,
		})
		masterRows = append(masterRows, types.PilotRecord{
			Source:    r.Source,
			DataID:    r.DataID,
			Timestamp: r.Timestamp,
			RawText:   r.RawText,
			URL:       r.URL,
		})
	}
	for _, name := range []string{Coder1File, Coder2File} {
		if err := types.WriteCoderRows(filepath.Join(outDir, name), coderRows); err != nil {
			return skerr.Wrap(err)
		}
	}
	if err := types.WritePilotRecords(filepath.Join(outDir, MasterFile), masterRows); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}

// Run reads the raw corpus at inputPath, samples it, and writes the pilot
// artifacts under outDir. Returns the sampled records.
func Run(inputPath, outDir string, fraction float64, seed int64) ([]types.Record, error) {
	records, err := types.ReadRecords(inputPath)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading %s", inputPath)
	}
	sample, err := Sample(records, fraction, seed)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if len(sample) == 0 {
		sklog.Warningf("Pilot sample of %d records is empty; writing headers only.", len(records))
	}
	if err := WriteArtifacts(outDir, sample); err != nil {
		return nil, skerr.Wrap(err)
	}
	sklog.Infof("Pilot sample: %d of %d records (fraction %v, seed %d) written to %s.", len(sample), len(records), fraction, seed, outDir)
	return sample, nil
}
