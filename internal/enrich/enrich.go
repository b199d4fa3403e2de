// Package enrich is the algorithmic core of the pipeline: it routes each
// in-scope record down one of two paths and produces a scored, validated
// candidate or a manual-review entry. Path A cross-validates a known website
// against a deterministic place lookup; Path B asks a reasoning collaborator
// to discover the company through the same lookup tools.
package enrich

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/baybio/biodex/internal/geofence"
	"github.com/baybio/biodex/internal/model"
	"github.com/baybio/biodex/internal/normalize"
	"github.com/baybio/biodex/internal/resilience"
	"github.com/baybio/biodex/internal/store"
	"github.com/baybio/biodex/pkg/places"
	"github.com/baybio/biodex/pkg/reasoner"
)

// Manual-review reasons.
const (
	ReasonNoAcceptedCandidate = "no candidate met acceptance threshold"
	ReasonLookupUnavailable   = "lookup unavailable"
	ReasonMultiTenant         = "multi-tenant match insufficient"
)

const checkpointPhase = "enrich"

// maxCandidates bounds how many ranked search results Path A scores.
const maxCandidates = 5

// Cache is the persistence surface the engine needs: lookup memoization and
// per-record checkpoints. The SQLite store satisfies it.
type Cache interface {
	CachedLookup(ctx context.Context, key string) ([]byte, bool, error)
	PutLookup(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	GetCheckpoint(ctx context.Context, recordID, phase string) (*model.Checkpoint, error)
}

// Config tunes the engine.
type Config struct {
	// Workers bounds concurrent record enrichment. Default 4.
	Workers int

	// RequestsPerSecond limits calls to the lookup collaborator. Default 5.
	RequestsPerSecond float64

	// QueryQualifier is appended to Path A search queries, e.g. "biotech".
	QueryQualifier string

	// Region names the target area for the reasoning collaborator.
	Region string

	// MultiTenantAddresses lists known incubator and shared-lab buildings by
	// street line. Candidates at these addresses face the strict gate.
	MultiTenantAddresses []string

	// CacheTTL is how long lookups stay fresh. Zero means the store default.
	CacheTTL time.Duration

	// Retry is the schedule for lookup failures.
	Retry resilience.Policy
}

// Engine enriches records.
type Engine struct {
	lookup          places.Client
	discover        reasoner.Client
	fence           *geofence.Fence
	cache           Cache
	limiter         *rate.Limiter
	workers         int
	qualifier       string
	region          string
	multiTenantKeys []string
	cacheTTL        time.Duration
	retry           resilience.Policy
	now             func() time.Time
}

// New builds an engine. The cache may be nil, in which case every lookup goes
// to the collaborator and interrupted runs restart from scratch.
func New(lookup places.Client, discover reasoner.Client, fence *geofence.Fence, cache Cache, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}

	keys := make([]string, 0, len(cfg.MultiTenantAddresses))
	for _, a := range cfg.MultiTenantAddresses {
		if key := streetLineKey(a); key != "" {
			keys = append(keys, key)
		}
	}

	return &Engine{
		lookup:          lookup,
		discover:        discover,
		fence:           fence,
		cache:           cache,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		workers:         cfg.Workers,
		qualifier:       cfg.QueryQualifier,
		region:          cfg.Region,
		multiTenantKeys: keys,
		cacheTTL:        cfg.CacheTTL,
		retry:           cfg.Retry,
	}
}

// outcome is the result of enriching one record.
type outcome struct {
	Record       model.CompanyRecord `json:"record"`
	Accepted     bool                `json:"accepted"`
	Path         string              `json:"path"`
	ReviewReason string              `json:"review_reason,omitempty"`
}

// Run enriches every record. It returns the full enriched set (accepted or
// not) plus the manual-review queue, and blocks until every record has either
// finished or exhausted its retries. Review routing is not an error; Run
// fails only on cancellation or checkpoint persistence problems.
func (e *Engine) Run(ctx context.Context, records []model.CompanyRecord) ([]model.CompanyRecord, []model.ReviewItem, error) {
	outcomes := make([]outcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range records {
		i := i
		g.Go(func() error {
			out, err := e.enrichOne(gctx, records[i])
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	enriched := make([]model.CompanyRecord, 0, len(records))
	var review []model.ReviewItem
	accepted := 0
	for _, out := range outcomes {
		enriched = append(enriched, out.Record)
		if out.Accepted {
			accepted++
			continue
		}
		review = append(review, model.ReviewItem{
			Record:  out.Record,
			Reasons: []string{out.ReviewReason},
		})
	}

	zap.L().Info("enrichment complete",
		zap.Int("records", len(records)),
		zap.Int("accepted", accepted),
		zap.Int("review", len(review)),
	)
	return enriched, review, nil
}

func (e *Engine) enrichOne(ctx context.Context, rec model.CompanyRecord) (outcome, error) {
	if prior, ok, err := e.restore(ctx, rec.ID); err != nil {
		return outcome{}, err
	} else if ok {
		return prior, nil
	}

	var out outcome
	if e.routePathA(rec) {
		out = e.pathA(ctx, rec)
	} else {
		out = e.pathB(ctx, rec)
	}

	// A cancelled run must not checkpoint a transient failure as a final
	// outcome; the record re-runs on resume.
	if ctx.Err() != nil {
		return outcome{}, ctx.Err()
	}

	if err := e.checkpoint(ctx, out); err != nil {
		return outcome{}, err
	}
	return out, nil
}

// routePathA decides the deterministic path: a usable ground-truth website.
// Aggregator domains are not ground truth and force Path B.
func (e *Engine) routePathA(rec model.CompanyRecord) bool {
	return rec.Website != "" && rec.DomainKey != "" && !normalize.IsAggregator(rec.DomainKey)
}

func (e *Engine) restore(ctx context.Context, recordID string) (outcome, bool, error) {
	if e.cache == nil {
		return outcome{}, false, nil
	}
	cp, err := e.cache.GetCheckpoint(ctx, recordID, checkpointPhase)
	if err != nil {
		return outcome{}, false, err
	}
	if cp == nil {
		return outcome{}, false, nil
	}

	var out outcome
	if err := json.Unmarshal(cp.Data, &out); err != nil {
		// A corrupt checkpoint re-enriches the record rather than failing
		// the run.
		zap.L().Warn("discarding unreadable checkpoint", zap.String("record_id", recordID), zap.Error(err))
		return outcome{}, false, nil
	}
	return out, true, nil
}

func (e *Engine) checkpoint(ctx context.Context, out outcome) error {
	if e.cache == nil {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return eris.Wrap(err, "enrich: marshal checkpoint")
	}
	return e.cache.SaveCheckpoint(ctx, model.Checkpoint{
		RecordID: out.Record.ID,
		Phase:    checkpointPhase,
		Data:     data,
	})
}

// search queries the lookup collaborator through the cache, the rate limiter,
// and the retry schedule, in that order.
func (e *Engine) search(ctx context.Context, query string, bias *places.LatLng) ([]places.Candidate, error) {
	key := cacheKeyFor("text_search", query)
	if e.cache != nil {
		if payload, hit, err := e.cache.CachedLookup(ctx, key); err != nil {
			return nil, err
		} else if hit {
			var candidates []places.Candidate
			if err := json.Unmarshal(payload, &candidates); err == nil {
				return candidates, nil
			}
		}
	}

	candidates, err := resilience.Lookup(ctx, e.retry, "text_search", func(ctx context.Context) ([]places.Candidate, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return e.lookup.TextSearch(ctx, query, bias)
	})
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if payload, err := json.Marshal(candidates); err == nil {
			if err := e.cache.PutLookup(ctx, key, payload, e.cacheTTL); err != nil {
				zap.L().Warn("lookup cache write failed", zap.Error(err))
			}
		}
	}
	return candidates, nil
}

// cacheKeyFor hashes the operation and argument into the store's key space.
func cacheKeyFor(op, arg string) string {
	return store.CacheKey(op, arg)
}

func candPoint(cand places.Candidate) *geom.Coord {
	if cand.Location == nil {
		return nil
	}
	return &geom.Coord{cand.Location.Longitude, cand.Location.Latitude}
}

// sortByScore orders scorecards best-first, stable on candidate order for
// equal scores.
func sortByScore(cards []scorecard) {
	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].total > cards[j].total
	})
}
