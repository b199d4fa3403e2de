package artifact

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baybio/biodex/internal/model"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func sample() model.CompanyRecord {
	conf := 0.92
	verified := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return model.CompanyRecord{
		Name:             "Acme Bio",
		Website:          "https://acmebio.com",
		City:             "Berkeley",
		Address:          "1 Main St, Berkeley, CA 94710",
		Stage:            model.StagePreclinical,
		FocusArea:        "Gene therapy",
		Confidence:       &conf,
		ValidationReason: "score 0.92: name match",
		PlaceID:          "p-acme",
		LastVerified:     &verified,
		Sources:          []string{"curated", "scraped"},
	}
}

func TestWriteProduction_ColumnOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companies.csv")
	require.NoError(t, WriteProduction(path, []model.CompanyRecord{sample()}))

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Company Name", "Website", "City", "Address", "Company Stage", "Focus Areas"}, rows[0])
	assert.Equal(t, []string{"Acme Bio", "https://acmebio.com", "Berkeley", "1 Main St, Berkeley, CA 94710", "Preclinical", "Gene therapy"}, rows[1])
}

func TestWriteWorking_CarriesWorkingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "working.csv")
	require.NoError(t, WriteWorking(path, []model.CompanyRecord{sample()}))

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	header, row := rows[0], rows[1]
	assert.Contains(t, header, "Confidence")
	assert.Contains(t, header, "Place ID")
	assert.Contains(t, header, "Last Verified")

	byCol := map[string]string{}
	for i, name := range header {
		byCol[name] = row[i]
	}
	assert.Equal(t, "0.92", byCol["Confidence"])
	assert.Equal(t, "p-acme", byCol["Place ID"])
	assert.Equal(t, "2026-08-01T12:00:00Z", byCol["Last Verified"])
	assert.Equal(t, "curated|scraped", byCol["Sources"])
}

func TestWriteReviewQueue_JoinsAllReasons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.csv")
	items := []model.ReviewItem{{
		Record:  sample(),
		Reasons: []string{"no candidate met acceptance threshold", "region: city not in whitelist"},
	}}
	require.NoError(t, WriteReviewQueue(path, items))

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "no candidate met acceptance threshold; region: city not in whitelist", rows[1][len(rows[1])-1])
}

func TestWriteConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflicts.csv")
	conflicts := []model.Conflict{{
		DomainKey: "sharedlabs.com",
		RecordIDs: []string{"a", "b"},
		Names:     []string{"Acme Bio", "Zephyr Diagnostics"},
	}}
	require.NoError(t, WriteConflicts(path, conflicts))

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"sharedlabs.com", "a|b", "Acme Bio|Zephyr Diagnostics"}, rows[1])
}

func TestWriteStaging_AllFilesEvenWhenEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	require.NoError(t, WriteStaging(dir, Set{}))

	for _, name := range []string{ProductionFile, WorkingFile, ReviewFile, ConflictsFile, AuditFile} {
		rows := readCSV(t, filepath.Join(dir, name))
		require.Len(t, rows, 1, "%s has a header even with no rows", name)
	}
}

func TestPromote_ReplacesProductionAtomically(t *testing.T) {
	tmp := t.TempDir()
	staging := filepath.Join(tmp, "staging")
	production := filepath.Join(tmp, "out", "companies.csv")

	require.NoError(t, WriteStaging(staging, Set{Promoted: []model.CompanyRecord{sample()}}))
	require.NoError(t, Promote(staging, production))

	rows := readCSV(t, production)
	require.Len(t, rows, 2)
	assert.Equal(t, "Acme Bio", rows[1][0])

	// Promoting a new staging set replaces the file wholesale.
	next := sample()
	next.Name = "Zephyr Diagnostics"
	require.NoError(t, WriteStaging(staging, Set{Promoted: []model.CompanyRecord{next}}))
	require.NoError(t, Promote(staging, production))

	rows = readCSV(t, production)
	require.Len(t, rows, 2)
	assert.Equal(t, "Zephyr Diagnostics", rows[1][0])
}

func TestPromote_MissingStagedFile(t *testing.T) {
	err := Promote(filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "companies.csv"))
	assert.Error(t, err)
}

func TestWriteAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.csv")
	rec := sample()
	rec.OutOfScope = true
	rec.OutOfScopeReason = "explicitly denylisted"
	require.NoError(t, WriteAudit(path, []model.CompanyRecord{rec}))

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Acme Bio", "Berkeley", "explicitly denylisted"}, rows[1])
}
