// Package gate is the final barrier before promotion. Every check runs
// independently over the full enriched set and reports its own failure
// reason; a record is promoted only when every check passes, and a failing
// record carries every reason, not just the first.
package gate

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/baybio/biodex/internal/geofence"
	"github.com/baybio/biodex/internal/ingest"
	"github.com/baybio/biodex/internal/model"
	"github.com/baybio/biodex/internal/normalize"
)

// Validate partitions records into promoted survivors and rejections with
// reasons. The dedupe conflict report and the domain allow-list feed the
// uniqueness check; the fence re-checks region membership because enrichment
// may have changed address and city.
func Validate(records []model.CompanyRecord, conflicts []model.Conflict, allowlist []string, fence *geofence.Fence) ([]model.CompanyRecord, []model.ReviewItem) {
	allowed := make(map[string]bool, len(allowlist))
	for _, key := range allowlist {
		allowed[strings.ToLower(strings.TrimSpace(key))] = true
	}

	contested := contestedKeys(records, conflicts, allowed)

	var promoted []model.CompanyRecord
	var rejected []model.ReviewItem
	for _, rec := range records {
		reasons := checkRecord(rec, contested, fence)
		if len(reasons) == 0 {
			promoted = append(promoted, rec)
			continue
		}
		rejected = append(rejected, model.ReviewItem{Record: rec, Reasons: reasons})
	}

	zap.L().Info("validation gate complete",
		zap.Int("records", len(records)),
		zap.Int("promoted", len(promoted)),
		zap.Int("rejected", len(rejected)),
	)
	return promoted, rejected
}

// contestedKeys collects domain keys claimed by more than one record, or
// flagged by the dedupe conflict report, excluding allow-listed keys.
func contestedKeys(records []model.CompanyRecord, conflicts []model.Conflict, allowed map[string]bool) map[string]bool {
	claims := make(map[string]int)
	for _, rec := range records {
		if rec.DomainKey != "" {
			claims[rec.DomainKey]++
		}
	}

	contested := make(map[string]bool)
	for key, n := range claims {
		if n > 1 && !allowed[key] {
			contested[key] = true
		}
	}
	for _, c := range conflicts {
		if !allowed[c.DomainKey] {
			contested[c.DomainKey] = true
		}
	}
	return contested
}

func checkRecord(rec model.CompanyRecord, contested map[string]bool, fence *geofence.Fence) []string {
	var reasons []string

	if r := checkWebsite(rec); r != "" {
		reasons = append(reasons, r)
	}
	if ok, why := fence.Check(&rec); !ok {
		reasons = append(reasons, "region: "+why)
	}
	if rec.DomainKey != "" && contested[rec.DomainKey] {
		reasons = append(reasons, fmt.Sprintf("domain uniqueness: %s claimed by multiple records", rec.DomainKey))
	}
	if rec.AddressFromLookup && rec.Address != "" && rec.PlaceID == "" {
		reasons = append(reasons, "address verification: lookup-sourced address without place ID")
	}
	if rec.City != "" && rec.Address != "" && !ingest.CityMatchesAddress(rec.Address, rec.City) {
		reasons = append(reasons, fmt.Sprintf("city consistency: address is in %q but record says %q",
			ingest.CityFromAddress(rec.Address), rec.City))
	}
	if !rec.Stage.Valid() {
		reasons = append(reasons, fmt.Sprintf("stage: %q is not a recognized stage", rec.Stage))
	}

	return reasons
}

// checkWebsite validates URL shape. An aggregator domain surviving to the
// gate means the router failed upstream, so it is a hard failure here rather
// than a reroute.
func checkWebsite(rec model.CompanyRecord) string {
	if rec.Website == "" {
		return ""
	}

	domain := normalize.Domain(rec.Website)
	if domain == "" {
		return fmt.Sprintf("website: %q is not a valid URL", rec.Website)
	}
	if normalize.IsAggregator(domain) {
		return fmt.Sprintf("website: aggregator domain %s", domain)
	}
	// Only HTTPS (or a bare domain with no scheme) is promotable.
	if scheme := urlScheme(rec.Website); scheme != "" && scheme != "https" {
		return fmt.Sprintf("website: unsupported scheme %s", scheme)
	}
	return ""
}

func urlScheme(raw string) string {
	if i := strings.Index(raw, "://"); i > 0 {
		return strings.ToLower(raw[:i])
	}
	return ""
}
