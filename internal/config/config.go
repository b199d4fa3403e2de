// Package config loads the application configuration from file and
// environment and owns the global logger. Region misconfiguration is fatal by
// design: an empty whitelist or malformed denylist would misclassify every
// record, so the run aborts before any record is touched.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/baybio/biodex/internal/ingest"
)

// Config holds the full application configuration.
type Config struct {
	Region    RegionConfig    `yaml:"region" mapstructure:"region"`
	Sources   []ingest.Source `yaml:"sources" mapstructure:"sources"`
	Places    PlacesConfig    `yaml:"places" mapstructure:"places"`
	Reasoner  ReasonerConfig  `yaml:"reasoner" mapstructure:"reasoner"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Stage     StageConfig     `yaml:"stage" mapstructure:"stage"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Artifacts ArtifactsConfig `yaml:"artifacts" mapstructure:"artifacts"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// RegionConfig defines the target region.
type RegionConfig struct {
	Name          string   `yaml:"name" mapstructure:"name"`
	CityWhitelist []string `yaml:"city_whitelist" mapstructure:"city_whitelist"`
	PlaceDenylist []string `yaml:"place_denylist" mapstructure:"place_denylist"`
	ReferenceLat  float64  `yaml:"reference_lat" mapstructure:"reference_lat"`
	ReferenceLng  float64  `yaml:"reference_lng" mapstructure:"reference_lng"`
	RadiusKM      float64  `yaml:"radius_km" mapstructure:"radius_km"`
}

// PlacesConfig holds place lookup API settings.
type PlacesConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ReasonerConfig holds reasoning collaborator settings.
type ReasonerConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxRounds int    `yaml:"max_rounds" mapstructure:"max_rounds"`
}

// EnrichConfig tunes the enrichment engine.
type EnrichConfig struct {
	Workers              int      `yaml:"workers" mapstructure:"workers"`
	RequestsPerSecond    float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	QueryQualifier       string   `yaml:"query_qualifier" mapstructure:"query_qualifier"`
	MultiTenantAddresses []string `yaml:"multi_tenant_addresses" mapstructure:"multi_tenant_addresses"`
	RetryAttempts        int      `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// StageConfig points at an optional external rule table.
type StageConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// CacheConfig configures the SQLite store.
type CacheConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	TTLDays int    `yaml:"ttl_days" mapstructure:"ttl_days"`
}

// ArtifactsConfig configures output locations.
type ArtifactsConfig struct {
	StagingDir      string   `yaml:"staging_dir" mapstructure:"staging_dir"`
	ProductionPath  string   `yaml:"production_path" mapstructure:"production_path"`
	DomainAllowlist []string `yaml:"domain_allowlist" mapstructure:"domain_allowlist"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BIODEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("enrich.workers", 4)
	v.SetDefault("enrich.requests_per_second", 5)
	v.SetDefault("enrich.query_qualifier", "biotech")
	v.SetDefault("enrich.retry_attempts", 3)
	v.SetDefault("reasoner.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("reasoner.max_rounds", 8)
	v.SetDefault("cache.path", "biodex.db")
	v.SetDefault("cache.ttl_days", 30)
	v.SetDefault("artifacts.staging_dir", "out/staging")
	v.SetDefault("artifacts.production_path", "out/companies.csv")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks for configuration errors that would systematically
// misclassify records. These abort the run.
func (c *Config) Validate() error {
	if len(c.Region.CityWhitelist) == 0 {
		return eris.New("config: region.city_whitelist is empty")
	}
	for _, city := range c.Region.CityWhitelist {
		if strings.TrimSpace(city) == "" {
			return eris.New("config: region.city_whitelist has a blank entry")
		}
	}
	for _, place := range c.Region.PlaceDenylist {
		if strings.TrimSpace(place) == "" {
			return eris.New("config: region.place_denylist has a blank entry")
		}
	}
	if len(c.Sources) == 0 {
		return eris.New("config: no input sources configured")
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			return eris.Errorf("config: sources[%d] has no name", i)
		}
		if src.Path == "" {
			return eris.Errorf("config: source %s has no path", src.Name)
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
