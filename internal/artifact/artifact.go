// Package artifact writes the pipeline's tabular outputs. Every run produces
// the full artifact set under a staging directory; the production file is
// only ever replaced by an explicit promote step, never written in place.
package artifact

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baybio/biodex/internal/model"
)

// Staged artifact file names.
const (
	ProductionFile = "companies.csv"
	WorkingFile    = "companies_working.csv"
	ReviewFile     = "review_queue.csv"
	ConflictsFile  = "domain_reuse.csv"
	AuditFile      = "geofence_audit.csv"
)

// productionColumns is the fixed column order of the production artifact.
// Working columns are deliberately absent here.
var productionColumns = []string{
	"Company Name",
	"Website",
	"City",
	"Address",
	"Company Stage",
	"Focus Areas",
}

// Set is one run's complete output.
type Set struct {
	Promoted  []model.CompanyRecord
	Working   []model.CompanyRecord
	Review    []model.ReviewItem
	Conflicts []model.Conflict
	Excluded  []model.CompanyRecord
}

// WriteStaging writes the full artifact set under dir, creating it if needed.
// All files are written even when empty so a partial failure upstream still
// yields a complete, inspectable set.
func WriteStaging(dir string, set Set) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "artifact: create staging dir %s", dir)
	}

	if err := WriteProduction(filepath.Join(dir, ProductionFile), set.Promoted); err != nil {
		return err
	}
	if err := WriteWorking(filepath.Join(dir, WorkingFile), set.Working); err != nil {
		return err
	}
	if err := WriteReviewQueue(filepath.Join(dir, ReviewFile), set.Review); err != nil {
		return err
	}
	if err := WriteConflicts(filepath.Join(dir, ConflictsFile), set.Conflicts); err != nil {
		return err
	}
	if err := WriteAudit(filepath.Join(dir, AuditFile), set.Excluded); err != nil {
		return err
	}

	zap.L().Info("staging artifacts written",
		zap.String("dir", dir),
		zap.Int("promoted", len(set.Promoted)),
		zap.Int("review", len(set.Review)),
		zap.Int("conflicts", len(set.Conflicts)),
		zap.Int("excluded", len(set.Excluded)),
	)
	return nil
}

// WriteProduction writes the promoted records with the fixed column order.
func WriteProduction(path string, records []model.CompanyRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "artifact: create production file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(productionColumns); err != nil {
		return eris.Wrap(err, "artifact: write production header")
	}
	for _, rec := range records {
		row := []string{
			rec.Name,
			rec.Website,
			rec.City,
			rec.Address,
			string(rec.Stage),
			rec.FocusArea,
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "artifact: write production row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "artifact: flush production file")
}

// workingRow carries the production columns plus the working-only columns.
type workingRow struct {
	Name             string `csv:"Company Name"`
	Website          string `csv:"Website"`
	City             string `csv:"City"`
	Address          string `csv:"Address"`
	Stage            string `csv:"Company Stage"`
	FocusArea        string `csv:"Focus Areas"`
	Confidence       string `csv:"Confidence"`
	ValidationSource string `csv:"Validation Source"`
	PlaceID          string `csv:"Place ID"`
	LastVerified     string `csv:"Last Verified"`
	Sources          string `csv:"Sources"`
}

// WriteWorking writes the full enriched set with working columns retained.
func WriteWorking(path string, records []model.CompanyRecord) error {
	rows := make([]workingRow, 0, len(records))
	for _, rec := range records {
		row := workingRow{
			Name:             rec.Name,
			Website:          rec.Website,
			City:             rec.City,
			Address:          rec.Address,
			Stage:            string(rec.Stage),
			FocusArea:        rec.FocusArea,
			ValidationSource: rec.ValidationReason,
			PlaceID:          rec.PlaceID,
			Sources:          strings.Join(rec.Sources, "|"),
		}
		if rec.Confidence != nil {
			row.Confidence = strconv.FormatFloat(*rec.Confidence, 'f', 2, 64)
		}
		if rec.LastVerified != nil {
			row.LastVerified = rec.LastVerified.Format(time.RFC3339)
		}
		rows = append(rows, row)
	}
	return writeCSVUtil(path, rows, "working")
}

// reviewRow is one manual-review entry; the reason column joins every
// failing check.
type reviewRow struct {
	Name    string `csv:"Company Name"`
	Website string `csv:"Website"`
	City    string `csv:"City"`
	Address string `csv:"Address"`
	Reason  string `csv:"Reason"`
}

// WriteReviewQueue writes the manual-review queue.
func WriteReviewQueue(path string, items []model.ReviewItem) error {
	rows := make([]reviewRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, reviewRow{
			Name:    item.Record.Name,
			Website: item.Record.Website,
			City:    item.Record.City,
			Address: item.Record.Address,
			Reason:  strings.Join(item.Reasons, "; "),
		})
	}
	return writeCSVUtil(path, rows, "review queue")
}

// conflictRow is one domain-reuse report entry.
type conflictRow struct {
	DomainKey string `csv:"Domain Key"`
	RecordIDs string `csv:"Record IDs"`
	Names     string `csv:"Company Names"`
}

// WriteConflicts writes the domain-reuse report.
func WriteConflicts(path string, conflicts []model.Conflict) error {
	rows := make([]conflictRow, 0, len(conflicts))
	for _, c := range conflicts {
		rows = append(rows, conflictRow{
			DomainKey: c.DomainKey,
			RecordIDs: strings.Join(c.RecordIDs, "|"),
			Names:     strings.Join(c.Names, "|"),
		})
	}
	return writeCSVUtil(path, rows, "domain reuse")
}

// auditRow is one geofence exclusion.
type auditRow struct {
	Name   string `csv:"Company Name"`
	City   string `csv:"City"`
	Reason string `csv:"Reason"`
}

// WriteAudit writes the geofence exclusion audit list.
func WriteAudit(path string, excluded []model.CompanyRecord) error {
	rows := make([]auditRow, 0, len(excluded))
	for _, rec := range excluded {
		rows = append(rows, auditRow{
			Name:   rec.Name,
			City:   rec.City,
			Reason: rec.OutOfScopeReason,
		})
	}
	return writeCSVUtil(path, rows, "audit")
}

// Promote copies the staged production file over the production path via a
// temp file and rename, so a crash mid-promote never leaves a truncated
// production artifact.
func Promote(stagingDir, productionPath string) error {
	src := filepath.Join(stagingDir, ProductionFile)
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "artifact: open staged production file %s", src)
	}
	defer in.Close()

	if dir := filepath.Dir(productionPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "artifact: create production dir %s", dir)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(productionPath), ".promote-*")
	if err != nil {
		return eris.Wrap(err, "artifact: create temp file")
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "artifact: copy staged file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "artifact: close temp file")
	}
	if err := os.Rename(tmpName, productionPath); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "artifact: replace production file")
	}

	zap.L().Info("production artifact promoted", zap.String("path", productionPath))
	return nil
}

// writeCSVUtil marshals rows with header derived from struct tags.
func writeCSVUtil[T any](path string, rows []T, what string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: create %s file", what)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	if len(rows) == 0 {
		// Header-only file: encode the header from the row type.
		var zero T
		if err := enc.EncodeHeader(zero); err != nil {
			return eris.Wrapf(err, "artifact: write %s header", what)
		}
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return eris.Wrapf(err, "artifact: write %s row", what)
		}
	}
	w.Flush()
	return eris.Wrapf(w.Error(), "artifact: flush %s file", what)
}
