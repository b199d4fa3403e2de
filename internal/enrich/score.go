package enrich

import (
	"fmt"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/baybio/biodex/internal/ingest"
	"github.com/baybio/biodex/internal/normalize"
	"github.com/baybio/biodex/pkg/places"
)

// Acceptance thresholds.
const (
	acceptThreshold = 0.75

	// strictNameSim is the name-similarity floor for candidates at
	// multi-tenant buildings, where aggregate score alone is not enough
	// evidence.
	strictNameSim = 0.9

	// highNameSim is the similarity floor that earns the name weight.
	highNameSim = 0.8
)

// Rubric weights.
const (
	weightName        = 0.4
	weightDomainMatch = 0.3
	weightNoWebsite   = 0.1
	penaltyDomainDiff = -0.2
	weightGeofence    = 0.2
	weightBusiness    = 0.1
)

// disallowedTypes are place categories that never count as an operating
// biotech business location.
var disallowedTypes = []string{
	"lodging",
	"real_estate_agency",
	"premise",
	"subpremise",
}

// scorecard is one candidate's rubric evaluation.
type scorecard struct {
	candidate   places.Candidate
	total       float64
	nameSim     float64
	domainMatch bool
	reasons     []string
}

// scoreCandidate applies the fixed weighted rubric to one candidate.
func (e *Engine) scoreCandidate(normName, domainKey string, cand places.Candidate) scorecard {
	sc := scorecard{candidate: cand}

	sc.nameSim = levenshtein.Similarity(normName, normalize.Name(cand.Name), nil)
	if sc.nameSim >= highNameSim {
		sc.total += weightName
		sc.reasons = append(sc.reasons, fmt.Sprintf("name match %.2f", sc.nameSim))
	}

	candDomain := normalize.Domain(cand.Website)
	switch {
	case candDomain == "" && cand.Website == "":
		sc.total += weightNoWebsite
		sc.reasons = append(sc.reasons, "candidate has no website")
	case candDomain == domainKey && domainKey != "":
		sc.total += weightDomainMatch
		sc.domainMatch = true
		sc.reasons = append(sc.reasons, "domain match "+candDomain)
	case candDomain != "":
		sc.total += penaltyDomainDiff
		sc.reasons = append(sc.reasons, "domain mismatch "+candDomain)
	}

	if ok, _ := e.fence.CheckCandidate(ingest.CityFromAddress(cand.FormattedAddress), candPoint(cand)); ok {
		sc.total += weightGeofence
		sc.reasons = append(sc.reasons, "address in region")
	}

	if cand.Operational() && !cand.HasType(disallowedTypes...) {
		sc.total += weightBusiness
		sc.reasons = append(sc.reasons, "operational business")
	}

	return sc
}

// accepted applies the acceptance rule: the aggregate threshold normally, or
// the strict narrow gate when the candidate sits at a multi-tenant building.
func (e *Engine) accepted(sc scorecard) (bool, bool) {
	if e.multiTenant(sc.candidate.FormattedAddress) {
		return sc.nameSim >= strictNameSim || sc.domainMatch, true
	}
	return sc.total >= acceptThreshold, false
}

// multiTenant reports whether an address belongs to a known shared building.
// Matching is on the normalized street line only, so suite numbers and
// formatting differences do not defeat it.
func (e *Engine) multiTenant(address string) bool {
	key := streetLineKey(address)
	if key == "" {
		return false
	}
	for _, mt := range e.multiTenantKeys {
		if key == mt {
			return true
		}
	}
	return false
}

// streetLineKey normalizes the part of an address before the first comma.
func streetLineKey(address string) string {
	if i := strings.Index(address, ","); i >= 0 {
		address = address[:i]
	}
	key := strings.ToLower(strings.TrimSpace(address))
	key = strings.ReplaceAll(key, ".", "")
	key = strings.Join(strings.Fields(key), " ")
	return key
}

func (sc scorecard) justification() string {
	return fmt.Sprintf("score %.2f: %s", sc.total, strings.Join(sc.reasons, "; "))
}
