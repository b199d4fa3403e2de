package enrich

import (
	"context"
	"strings"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"

	"github.com/baybio/biodex/internal/ingest"
	"github.com/baybio/biodex/internal/model"
	"github.com/baybio/biodex/internal/normalize"
	"github.com/baybio/biodex/internal/resilience"
	"github.com/baybio/biodex/pkg/reasoner"
)

// pathB asks the reasoning collaborator to discover the company. The
// collaborator's self-report is never trusted on its own: every hard gate is
// re-applied here before acceptance.
func (e *Engine) pathB(ctx context.Context, rec model.CompanyRecord) outcome {
	log := zap.L().With(zap.String("record_id", rec.ID), zap.String("path", "B"))

	result, err := resilience.Lookup(ctx, e.retry, "discover", func(ctx context.Context) (*reasoner.DiscoverResult, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return e.discover.Discover(ctx, reasoner.DiscoverRequest{
			CompanyName: rec.Name,
			CityHint:    bestCity(rec),
			Region:      e.region,
		})
	})
	if err != nil {
		return e.lookupFailed(log, rec, "B", err)
	}

	if failures := e.hardGates(rec, result); len(failures) > 0 || result.Confidence < acceptThreshold {
		rec.SetConfidence(0)
		log.Debug("discovery rejected",
			zap.Float64("confidence", result.Confidence),
			zap.Strings("gate_failures", failures),
		)
		return outcome{Record: rec, Path: "B", ReviewReason: ReasonNoAcceptedCandidate}
	}

	rec.Website = result.Website
	rec.DomainKey = normalize.Domain(result.Website)
	rec.Address = result.Address
	if result.City != "" {
		rec.City = result.City
	} else if rec.City == "" {
		rec.City = ingest.CityFromAddress(result.Address)
	}
	rec.SetConfidence(result.Confidence)
	rec.ValidationReason = "discovery: " + result.Validation.Reasoning
	now := e.timeNow()
	rec.LastVerified = &now

	e.resolvePlaceID(ctx, &rec, log)

	return outcome{Record: rec, Accepted: true, Path: "B"}
}

// hardGates re-checks the collaborator's self-report: region membership,
// aggregator rejection, and business-type rejection. Every failing gate is
// named so the log shows the full picture.
func (e *Engine) hardGates(rec model.CompanyRecord, result *reasoner.DiscoverResult) []string {
	var failures []string

	city := result.City
	if city == "" {
		city = ingest.CityFromAddress(result.Address)
	}
	if ok, reason := e.fence.CheckCity(city); !ok && !rec.GeofenceOverride {
		failures = append(failures, "region: "+reason)
	}
	if !result.Validation.InRegion {
		failures = append(failures, "region: collaborator reports out of region")
	}

	if domain := normalize.Domain(result.Website); domain != "" && normalize.IsAggregator(domain) {
		failures = append(failures, "website: aggregator domain "+domain)
	}

	if !result.Validation.IsBusiness {
		failures = append(failures, "business: not an operating business")
	}
	if !result.Validation.BrandMatches {
		failures = append(failures, "brand: name does not match")
	}

	return failures
}

// resolvePlaceID backfills the place ID for an accepted discovery with one
// confirming search. Promotion requires a place ID for lookup-sourced
// addresses; when no confirming place is found the address is kept but marked
// as collaborator-sourced so the gate does not treat it as verified.
func (e *Engine) resolvePlaceID(ctx context.Context, rec *model.CompanyRecord, log *zap.Logger) {
	query := strings.TrimSpace(rec.Name + " " + rec.City)
	candidates, err := e.search(ctx, query, nil)
	if err != nil {
		log.Debug("place ID confirmation failed", zap.Error(err))
		rec.AddressFromLookup = false
		return
	}

	for _, cand := range candidates {
		if levenshtein.Similarity(rec.NormalizedName, normalize.Name(cand.Name), nil) < highNameSim {
			continue
		}
		if ok, _ := e.fence.CheckCandidate(ingest.CityFromAddress(cand.FormattedAddress), candPoint(cand)); !ok {
			continue
		}
		rec.PlaceID = cand.PlaceID
		if cand.FormattedAddress != "" {
			rec.Address = cand.FormattedAddress
		}
		rec.AddressFromLookup = true
		return
	}

	rec.AddressFromLookup = false
}
