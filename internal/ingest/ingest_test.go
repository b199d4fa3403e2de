package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baybio/biodex/internal/model"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ColumnMapping(t *testing.T) {
	path := writeCSV(t, "Company,URL,HQ City,About\n"+
		"Acme Bio Inc.,https://www.acmebio.com/about,Berkeley,Gene therapy platform\n"+
		"Beta Therapeutics,,Emeryville,Preclinical oncology\n")

	src := Source{
		Name:   "scraped_directory",
		Path:   path,
		Format: "csv",
		Columns: map[string]string{
			FieldName:        "Company",
			FieldWebsite:     "URL",
			FieldCity:        "HQ City",
			FieldDescription: "About",
		},
	}

	records, err := Load(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, records, 2)

	acme := records[0]
	assert.Equal(t, "Acme Bio Inc.", acme.Name)
	assert.Equal(t, "acme bio", acme.NormalizedName)
	assert.Equal(t, "acmebio.com", acme.DomainKey)
	assert.Equal(t, "Berkeley", acme.City)
	assert.Equal(t, model.StageUnknown, acme.Stage)
	assert.Equal(t, []string{"scraped_directory"}, acme.Sources)
	assert.NotEmpty(t, acme.ID)

	beta := records[1]
	assert.Empty(t, beta.Website)
	assert.Empty(t, beta.DomainKey, "absent website yields absent domain key")
}

func TestLoad_SkipsNamelessRows(t *testing.T) {
	path := writeCSV(t, "Company,City\n,Berkeley\nAcme Bio,Berkeley\n")
	src := Source{
		Name:    "curated",
		Path:    path,
		Columns: map[string]string{FieldName: "Company", FieldCity: "City"},
	}

	records, err := Load(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestLoad_MissingNameColumnFatal(t *testing.T) {
	path := writeCSV(t, "Firm,City\nAcme,Berkeley\n")
	src := Source{
		Name:    "curated",
		Path:    path,
		Columns: map[string]string{FieldName: "Company"},
	}

	_, err := Load(context.Background(), src)
	assert.Error(t, err)
}

func TestLoad_StageOnlyFromClosedSet(t *testing.T) {
	path := writeCSV(t, "Company,Stage\nAcme,Phase II\nBeta,Series B\n")
	src := Source{
		Name:    "curated",
		Path:    path,
		Columns: map[string]string{FieldName: "Company", FieldStage: "Stage"},
	}

	records, err := Load(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.StagePhaseII, records[0].Stage)
	assert.Equal(t, model.StageUnknown, records[1].Stage, "free-text stage degrades to Unknown")
}

func TestLoad_DerivesCityFromAddress(t *testing.T) {
	path := writeCSV(t, "Company,Street\nAcme,\"1 Main St, Berkeley, CA 94710\"\n")
	src := Source{
		Name:    "curated",
		Path:    path,
		Columns: map[string]string{FieldName: "Company", FieldAddress: "Street"},
	}

	records, err := Load(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Berkeley", records[0].City)
}

func TestCityFromAddress(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"1 Main St, Berkeley, CA 94710", "Berkeley"},
		{"1 Main St, Berkeley, CA", "Berkeley"},
		{"2929 7th St, Suite 100, Berkeley, CA 94710-2753, USA", "Berkeley"},
		{"1 Main St", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CityFromAddress(tt.address), "address %q", tt.address)
	}
}

func TestCityMatchesAddress(t *testing.T) {
	assert.True(t, CityMatchesAddress("1 Main St, Berkeley, CA 94710", "berkeley"))
	assert.False(t, CityMatchesAddress("1 Main St, Berkeley, CA 94710", "Oakland"))
	assert.True(t, CityMatchesAddress("1 Main St", "Oakland"), "unparsable address is not a conflict")
}
