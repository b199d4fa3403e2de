package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/baybio/biodex/internal/artifact"
	"github.com/baybio/biodex/internal/dedupe"
	"github.com/baybio/biodex/internal/enrich"
	"github.com/baybio/biodex/internal/gate"
	"github.com/baybio/biodex/internal/geofence"
	"github.com/baybio/biodex/internal/ingest"
	"github.com/baybio/biodex/internal/model"
	"github.com/baybio/biodex/internal/resilience"
	"github.com/baybio/biodex/internal/stage"
	"github.com/baybio/biodex/internal/store"
	"github.com/baybio/biodex/pkg/places"
	"github.com/baybio/biodex/pkg/reasoner"
)

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "Run the full curation pipeline into the staging directory",
	Long:  "Ingest, dedupe, geofence, enrich, and validate; write the artifact set to staging. Production is untouched until an explicit promote.",
	RunE:  runCurate,
}

func init() {
	rootCmd.AddCommand(curateCmd)
}

func runCurate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := cfg.Validate(); err != nil {
		return err
	}

	fence, err := geofence.New(geofence.Config{
		CityWhitelist: cfg.Region.CityWhitelist,
		PlaceDenylist: cfg.Region.PlaceDenylist,
		Reference:     geom.Coord{cfg.Region.ReferenceLng, cfg.Region.ReferenceLat},
		RadiusKM:      cfg.Region.RadiusKM,
	})
	if err != nil {
		return err
	}

	rules := stage.Default()
	if cfg.Stage.RulesPath != "" {
		if rules, err = stage.Load(cfg.Stage.RulesPath); err != nil {
			return err
		}
	}

	db, err := store.Open(cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	if pruned, err := db.PruneExpired(ctx); err != nil {
		return err
	} else if pruned > 0 {
		zap.L().Debug("pruned stale lookups", zap.Int("count", pruned))
	}

	runID, err := db.StartRun(ctx)
	if err != nil {
		return err
	}
	log := zap.L().With(zap.String("run_id", runID))

	lookup := places.NewClient(cfg.Places.Key, placesOptions()...)
	discover := reasoner.NewClient(cfg.Reasoner.Key, lookup,
		reasoner.WithModel(cfg.Reasoner.Model),
		reasoner.WithMaxRounds(cfg.Reasoner.MaxRounds),
	)

	engine := enrich.New(lookup, discover, fence, db, enrich.Config{
		Workers:              cfg.Enrich.Workers,
		RequestsPerSecond:    cfg.Enrich.RequestsPerSecond,
		QueryQualifier:       cfg.Enrich.QueryQualifier,
		Region:               cfg.Region.Name,
		MultiTenantAddresses: cfg.Enrich.MultiTenantAddresses,
		CacheTTL:             time.Duration(cfg.Cache.TTLDays) * 24 * time.Hour,
		Retry:                resilience.Policy{Attempts: cfg.Enrich.RetryAttempts},
	})

	set, err := runPipeline(ctx, cfg.Sources, rules, fence, engine)
	if err != nil {
		_ = db.FinishRun(ctx, runID, "failed", err.Error())
		return err
	}

	if err := artifact.WriteStaging(cfg.Artifacts.StagingDir, *set); err != nil {
		_ = db.FinishRun(ctx, runID, "failed", err.Error())
		return err
	}

	summary := fmt.Sprintf("promoted=%d review=%d conflicts=%d excluded=%d",
		len(set.Promoted), len(set.Review), len(set.Conflicts), len(set.Excluded))
	if err := db.FinishRun(ctx, runID, "complete", summary); err != nil {
		return err
	}
	if err := db.ClearCheckpoints(ctx); err != nil {
		return err
	}

	log.Info("curation run complete", zap.String("summary", summary))
	cmd.Printf("staged %s to %s; run `biodex promote` to publish\n", summary, cfg.Artifacts.StagingDir)
	return nil
}

// runPipeline executes the stages in order with hard barriers between them:
// no record enters the gate until every enrichment attempt has finished or
// exhausted its retries.
func runPipeline(ctx context.Context, sources []ingest.Source, rules *stage.Table, fence *geofence.Fence, engine *enrich.Engine) (*artifact.Set, error) {
	records, err := ingest.LoadAll(ctx, sources)
	if err != nil {
		return nil, err
	}

	priority := make(map[string]int, len(sources))
	for _, src := range sources {
		priority[src.Name] = src.Priority
	}

	merged, conflicts := dedupe.Merge(records, priority)
	inScope, excluded := geofence.Filter(fence, merged)

	enriched, review, err := engine.Run(ctx, inScope)
	if err != nil {
		return nil, err
	}

	rules.Apply(enriched)

	reviewed := make(map[string]bool, len(review))
	for _, item := range review {
		reviewed[item.Record.ID] = true
	}
	var accepted []model.CompanyRecord
	for _, rec := range enriched {
		if !reviewed[rec.ID] {
			accepted = append(accepted, rec)
		}
	}

	promoted, rejected := gate.Validate(accepted, conflicts, cfg.Artifacts.DomainAllowlist, fence)
	review = append(review, rejected...)

	return &artifact.Set{
		Promoted:  promoted,
		Working:   enriched,
		Review:    review,
		Conflicts: conflicts,
		Excluded:  excluded,
	}, nil
}

func placesOptions() []places.Option {
	var opts []places.Option
	if cfg.Places.BaseURL != "" {
		opts = append(opts, places.WithBaseURL(cfg.Places.BaseURL))
	}
	return opts
}
