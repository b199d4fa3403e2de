package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baybio/biodex/internal/ingest"
	"github.com/baybio/biodex/internal/model"
	"github.com/baybio/biodex/internal/normalize"
	"github.com/baybio/biodex/internal/resilience"
)

// pathA cross-validates the record's ground-truth website against the place
// lookup. The website itself is never overwritten; only address, place ID,
// and confidence come from the accepted candidate.
func (e *Engine) pathA(ctx context.Context, rec model.CompanyRecord) outcome {
	log := zap.L().With(zap.String("record_id", rec.ID), zap.String("path", "A"))

	query := e.buildQuery(rec)
	candidates, err := e.search(ctx, query, nil)
	if err != nil {
		return e.lookupFailed(log, rec, "A", err)
	}
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	cards := make([]scorecard, 0, len(candidates))
	for _, cand := range candidates {
		cards = append(cards, e.scoreCandidate(rec.NormalizedName, rec.DomainKey, cand))
	}
	sortByScore(cards)

	sawMultiTenant := false
	for _, sc := range cards {
		ok, strict := e.accepted(sc)
		if strict {
			sawMultiTenant = true
		}
		if !ok {
			continue
		}

		e.fill(&rec, sc)
		log.Debug("candidate accepted",
			zap.String("place_id", sc.candidate.PlaceID),
			zap.Float64("score", sc.total),
		)
		return outcome{Record: rec, Accepted: true, Path: "A"}
	}

	rec.SetConfidence(0)
	reason := ReasonNoAcceptedCandidate
	if sawMultiTenant {
		reason = ReasonMultiTenant
	}
	log.Debug("no candidate accepted", zap.Int("candidates", len(cards)), zap.String("reason", reason))
	return outcome{Record: rec, Path: "A", ReviewReason: reason}
}

// buildQuery composes the Path A search text from the brand token, the best
// city signal, and the configured qualifier.
func (e *Engine) buildQuery(rec model.CompanyRecord) string {
	parts := []string{normalize.BrandToken(rec.DomainKey)}
	if city := bestCity(rec); city != "" {
		parts = append(parts, city)
	}
	if e.qualifier != "" {
		parts = append(parts, e.qualifier)
	}
	return strings.Join(parts, " ")
}

// fill applies an accepted Path A candidate to the record. The aggregate
// score becomes the confidence even for strict-gate acceptances, so a
// multi-tenant accept with weak aggregate evidence stays visibly weak.
func (e *Engine) fill(rec *model.CompanyRecord, sc scorecard) {
	rec.Address = sc.candidate.FormattedAddress
	rec.PlaceID = sc.candidate.PlaceID
	rec.AddressFromLookup = true
	rec.SetConfidence(sc.total)
	rec.ValidationReason = sc.justification()
	now := e.timeNow()
	rec.LastVerified = &now

	if rec.City == "" {
		rec.City = ingest.CityFromAddress(rec.Address)
	}
}

// lookupFailed routes a record to manual review after lookup errors. Retry
// exhaustion and permanent collaborator failures land here alike; a record is
// never defaulted to accepted. Cancellation aborts instead of routing.
func (e *Engine) lookupFailed(log *zap.Logger, rec model.CompanyRecord, path string, err error) outcome {
	if eris.Is(err, context.Canceled) || eris.Is(err, context.DeadlineExceeded) {
		// Surfaced by Run via the errgroup context; the record stays
		// checkpoint-free and re-runs next time.
		return outcome{Record: rec, Path: path, ReviewReason: ReasonLookupUnavailable}
	}

	log.Warn("lookup failed",
		zap.Bool("retries_exhausted", eris.Is(err, resilience.ErrExhausted)),
		zap.Error(err),
	)
	rec.SetConfidence(0)
	return outcome{Record: rec, Path: path, ReviewReason: ReasonLookupUnavailable}
}

func bestCity(rec model.CompanyRecord) string {
	if rec.City != "" {
		return rec.City
	}
	return ingest.CityFromAddress(rec.Address)
}

func (e *Engine) timeNow() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now().UTC()
}
