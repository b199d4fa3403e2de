// Package ingest parses heterogeneous source files into canonical
// CompanyRecords via per-source column mappings. Malformed rows and fields
// are recovered locally: a field that cannot be parsed is left absent, never
// surfaced as an error to the caller.
package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baybio/biodex/internal/model"
	"github.com/baybio/biodex/internal/normalize"
)

// Canonical field names usable as column-mapping keys.
const (
	FieldName        = "name"
	FieldWebsite     = "website"
	FieldAddress     = "address"
	FieldCity        = "city"
	FieldState       = "state"
	FieldStage       = "stage"
	FieldFocusArea   = "focus_area"
	FieldDescription = "description"
)

// Source describes one input file and how its columns map onto the canonical
// record schema.
type Source struct {
	// Name is the provenance tag recorded on every ingested record.
	Name string `yaml:"name" mapstructure:"name"`

	// Path to the input file.
	Path string `yaml:"path" mapstructure:"path"`

	// Format is "csv" or "xlsx". Defaults to csv.
	Format string `yaml:"format" mapstructure:"format"`

	// Sheet selects the XLSX sheet by name; empty means the first sheet.
	Sheet string `yaml:"sheet" mapstructure:"sheet"`

	// Priority orders sources for dedupe survivor tiebreaks; higher wins.
	Priority int `yaml:"priority" mapstructure:"priority"`

	// Columns maps canonical field names to this source's column headers.
	Columns map[string]string `yaml:"columns" mapstructure:"columns"`
}

// Load reads one source file and returns its rows as CompanyRecords, one per
// row. Rows with an empty name are skipped with a debug log; they carry no
// matching signal at all.
func Load(ctx context.Context, src Source) ([]model.CompanyRecord, error) {
	var rows [][]string
	var header []string
	var err error

	switch strings.ToLower(src.Format) {
	case "", "csv":
		header, rows, err = readCSV(ctx, src.Path)
	case "xlsx":
		header, rows, err = readXLSX(src.Path, src.Sheet)
	default:
		return nil, eris.Errorf("ingest: source %s: unsupported format %q", src.Name, src.Format)
	}
	if err != nil {
		return nil, err
	}

	colIdx := mapColumns(header, src.Columns)
	if _, ok := colIdx[FieldName]; !ok {
		return nil, eris.Errorf("ingest: source %s: name column %q not found in header", src.Name, src.Columns[FieldName])
	}

	log := zap.L().With(zap.String("source", src.Name))
	records := make([]model.CompanyRecord, 0, len(rows))
	skipped := 0

	for _, row := range rows {
		rec := rowToRecord(row, colIdx, src.Name)
		if rec.Name == "" {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	log.Info("ingest: source loaded",
		zap.Int("records", len(records)),
		zap.Int("skipped", skipped),
	)
	return records, nil
}

// LoadAll ingests every source in order and returns the combined record set.
func LoadAll(ctx context.Context, sources []Source) ([]model.CompanyRecord, error) {
	var all []model.CompanyRecord
	for _, src := range sources {
		records, err := Load(ctx, src)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// mapColumns resolves canonical field names to column indexes in the header.
// Header matching is case-insensitive and whitespace-trimmed. Unmapped or
// missing columns are simply absent from the result.
func mapColumns(header []string, columns map[string]string) map[string]int {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}

	idx := make(map[string]int, len(columns))
	for field, col := range columns {
		if i, ok := byName[strings.ToLower(strings.TrimSpace(col))]; ok {
			idx[field] = i
		}
	}
	return idx
}

// rowToRecord builds a CompanyRecord from one source row. Individual field
// failures (bad URL, unknown stage text) degrade to absence.
func rowToRecord(row []string, colIdx map[string]int, source string) model.CompanyRecord {
	get := func(field string) string {
		i, ok := colIdx[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := model.CompanyRecord{
		ID:          uuid.New().String(),
		Name:        get(FieldName),
		Website:     get(FieldWebsite),
		Address:     get(FieldAddress),
		City:        get(FieldCity),
		State:       get(FieldState),
		FocusArea:   get(FieldFocusArea),
		Description: get(FieldDescription),
		Stage:       model.StageUnknown,
	}
	rec.AddSource(source)

	rec.NormalizedName = normalize.Name(rec.Name)
	rec.DomainKey = normalize.Domain(rec.Website)

	// Stage only survives ingestion when the source value is already a member
	// of the closed set; anything else defaults to Unknown for the rule-table
	// classifier to decide.
	if s := model.Stage(get(FieldStage)); s.Valid() {
		rec.Stage = s
	}

	// Derive city from the address tail when the source has no city column.
	if rec.City == "" && rec.Address != "" {
		rec.City = CityFromAddress(rec.Address)
	}

	return rec
}

// readCSV reads the whole file, returning the header row and data rows.
func readCSV(ctx context.Context, path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // allow ragged rows
	reader.LazyQuotes = true

	var header []string
	var rows [][]string
	first := true

	for {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrap(ctx.Err(), "ingest: context cancelled")
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed row: recover locally, keep reading.
			zap.L().Debug("ingest: skipping malformed csv row", zap.String("path", path), zap.Error(err))
			continue
		}

		if first {
			header = row
			first = false
			continue
		}
		rows = append(rows, row)
	}

	return header, rows, nil
}
