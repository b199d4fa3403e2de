package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baybio/biodex/internal/ingest"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Enrich.Workers)
	assert.Equal(t, "biotech", cfg.Enrich.QueryQualifier)
	assert.Equal(t, 3, cfg.Enrich.RetryAttempts)
	assert.Equal(t, 8, cfg.Reasoner.MaxRounds)
	assert.Equal(t, 30, cfg.Cache.TTLDays)
	assert.Equal(t, "out/staging", cfg.Artifacts.StagingDir)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BIODEX_LOG_LEVEL", "debug")
	t.Setenv("BIODEX_ENRICH_WORKERS", "9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9, cfg.Enrich.Workers)
}

func validConfig() *Config {
	return &Config{
		Region: RegionConfig{
			Name:          "East Bay",
			CityWhitelist: []string{"Berkeley", "Oakland"},
			PlaceDenylist: []string{"Davis"},
		},
		Sources: []ingest.Source{{Name: "curated", Path: "data/curated.csv", Format: "csv"}},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_EmptyWhitelistFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Region.CityWhitelist = nil
	assert.Error(t, cfg.Validate())
}

func TestValidate_BlankDenylistEntryFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Region.PlaceDenylist = []string{" "}
	assert.Error(t, cfg.Validate())
}

func TestValidate_NoSourcesFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = nil
	assert.Error(t, cfg.Validate())
}

func TestValidate_SourceMissingPathFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Sources[0].Path = ""
	assert.Error(t, cfg.Validate())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
